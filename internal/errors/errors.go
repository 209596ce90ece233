// Package errors provides transient-failure retry and coordinated shutdown
// for the engine's long-running operations. The domain error taxonomy lives
// in internal/backup; this package only decides whether a failure is worth
// retrying and how long to wait between attempts.
package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// transientMySQLCodes are server errors that routinely clear on their own:
// connection saturation, lock waits, deadlocks, and dropped connections.
var transientMySQLCodes = map[uint16]bool{
	1040: true, // too many connections
	1205: true, // lock wait timeout exceeded
	1213: true, // deadlock found
	2003: true, // can't connect to server
	2006: true, // server has gone away
	2013: true, // lost connection during query
}

// Transient reports whether err is worth retrying: a dropped or saturated
// database connection, a network timeout, or interrupted network I/O.
// Context cancellation and domain errors are never transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return transientMySQLCodes[mysqlErr.Number]
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig makes three attempts with exponential backoff capped at
// thirty seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler re-runs operations that fail transiently.
type RetryHandler struct {
	config RetryConfig
}

// NewRetryHandler creates a retry handler with the given bounds.
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryHandler{config: config}
}

// NewDefaultRetryHandler creates a retry handler with the default bounds.
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry runs operation, re-running it after a backoff delay while it fails
// with a transient error and attempts remain. The last error is returned
// unchanged so callers keep their own wrapping.
func (h *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil || !Transient(err) {
			return err
		}
		if attempt >= h.config.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.delay(attempt)):
		}
	}
}

// delay computes the backoff before the attempt following `attempt`.
func (h *RetryHandler) delay(attempt int) time.Duration {
	d := float64(h.config.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= h.config.Multiplier
	}
	if limit := float64(h.config.MaxDelay); h.config.MaxDelay > 0 && d > limit {
		d = limit
	}
	return time.Duration(d)
}

// GracefulShutdownHandler runs registered cleanup functions, most recently
// registered first, when the process receives SIGINT or SIGTERM.
type GracefulShutdownHandler struct {
	mu      sync.Mutex
	funcs   []func() error
	signals chan os.Signal
	done    chan struct{}
}

// NewGracefulShutdownHandler creates an idle shutdown handler; Start attaches
// it to the process signals.
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		signals: make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
}

// RegisterShutdownFunc adds fn to the cleanup list. Functions run in reverse
// registration order, mirroring defer.
func (h *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	h.mu.Lock()
	h.funcs = append(h.funcs, fn)
	h.mu.Unlock()
}

// Start begins listening for termination signals.
func (h *GracefulShutdownHandler) Start() {
	signal.Notify(h.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-h.signals; ok {
			h.runShutdown()
		}
	}()
}

// Stop detaches the signal listener without running the cleanup functions.
func (h *GracefulShutdownHandler) Stop() {
	signal.Stop(h.signals)
	close(h.signals)
}

// WaitForShutdown blocks until a signal arrived and the cleanup functions
// have run.
func (h *GracefulShutdownHandler) WaitForShutdown() {
	<-h.done
}

func (h *GracefulShutdownHandler) runShutdown() {
	defer close(h.done)

	h.mu.Lock()
	funcs := h.funcs
	h.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}
}
