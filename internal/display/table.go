package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

const fallbackTerminalWidth = 120

// Table is a simple ASCII table: headers, rows, a separator line after the
// header. Cells wider than the terminal allows are truncated with an
// ellipsis.
type Table struct {
	headers []string
	rows    [][]string
	width   int
}

// NewTable creates a table with the given headers. Width is detected from the
// terminal when stdout is one.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, width: terminalWidth()}
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallbackTerminalWidth
}

// AddRow appends one row. Short rows are padded with empty cells.
func (t *Table) AddRow(cells ...string) {
	for len(cells) < len(t.headers) {
		cells = append(cells, "")
	}
	t.rows = append(t.rows, cells)
}

// Render writes the table to w.
func (t *Table) Render(w io.Writer) {
	widths := t.columnWidths()

	t.renderRow(w, t.headers, widths)
	separator := make([]string, len(t.headers))
	for i, width := range widths {
		separator[i] = strings.Repeat("-", width)
	}
	t.renderRow(w, separator, widths)
	for _, row := range t.rows {
		t.renderRow(w, row, widths)
	}
}

func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && utf8.RuneCountInString(cell) > widths[i] {
				widths[i] = utf8.RuneCountInString(cell)
			}
		}
	}

	// Shrink the widest column until the table fits the terminal.
	for t.totalWidth(widths) > t.width {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 8 {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	return total
}

func (t *Table) renderRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(widths))
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = truncate(cells[i], widths[i])
		}
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	runes := []rune(s)
	return string(runes[:width-1]) + "…"
}
