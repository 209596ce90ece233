package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"backup-orchestrator/internal/backup"
)

// manifestName is the fixed manifest entry name inside the container.
const manifestName = "manifest.json"

// manifestVersion is bumped when the container layout changes.
const manifestVersion = 1

// Manifest describes the contents of a backup artifact.
type Manifest struct {
	Version     int                      `json:"version"`
	Code        string                   `json:"code"`
	OrgID       string                   `json:"org_id"`
	CreatedAt   time.Time                `json:"created_at"`
	Compression CompressionType          `json:"compression"`
	Categories  map[string]CategoryEntry `json:"categories"`
}

// CategoryEntry records where one category's payload lives and how big it is.
type CategoryEntry struct {
	File           string `json:"file"`
	Count          int    `json:"count"`
	OriginalSize   int64  `json:"original_size"`
	CompressedSize int64  `json:"compressed_size"`
}

// Builder assembles backup artifacts. Category payloads are compressed with
// the configured algorithm before being stored, so the zip itself uses Store
// entries rather than double-compressing.
type Builder struct {
	compression CompressionType
	level       int
	manager     *CompressionManager
	encryptor   *Encryptor
}

// NewBuilder creates an artifact builder. A nil encryptor produces plaintext
// artifacts.
func NewBuilder(compression CompressionType, level int, encryptor *Encryptor) *Builder {
	return &Builder{
		compression: compression,
		level:       level,
		manager:     NewCompressionManager(),
		encryptor:   encryptor,
	}
}

// Build serializes the dataset into an artifact and returns its bytes with
// the manifest that was embedded.
func (b *Builder) Build(code, orgID string, dataset map[string][]backup.Entity) ([]byte, *Manifest, error) {
	manifest := &Manifest{
		Version:     manifestVersion,
		Code:        code,
		OrgID:       orgID,
		CreatedAt:   time.Now().UTC(),
		Compression: b.compression,
		Categories:  make(map[string]CategoryEntry, len(dataset)),
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	// Deterministic entry order keeps artifacts reproducible for a given
	// dataset snapshot.
	categories := make([]string, 0, len(dataset))
	for category := range dataset {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		payload, err := json.Marshal(dataset[category])
		if err != nil {
			return nil, nil, backup.NewStorageError(fmt.Sprintf("failed to encode category %s", category), err)
		}

		compressed, stats, err := b.manager.Compress(payload, b.compression, b.level)
		if err != nil {
			return nil, nil, err
		}

		entryName := categoryEntryName(category, b.compression)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   entryName,
			Method: zip.Store,
		})
		if err != nil {
			return nil, nil, backup.NewStorageError(fmt.Sprintf("failed to create archive entry for %s", category), err)
		}
		if _, err := w.Write(compressed); err != nil {
			return nil, nil, backup.NewStorageError(fmt.Sprintf("failed to write archive entry for %s", category), err)
		}

		manifest.Categories[category] = CategoryEntry{
			File:           entryName,
			Count:          len(dataset[category]),
			OriginalSize:   stats.OriginalSize,
			CompressedSize: stats.CompressedSize,
		}
	}

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, nil, backup.NewStorageError("failed to encode manifest", err)
	}
	w, err := zw.Create(manifestName)
	if err != nil {
		return nil, nil, backup.NewStorageError("failed to create manifest entry", err)
	}
	if _, err := w.Write(manifestBytes); err != nil {
		return nil, nil, backup.NewStorageError("failed to write manifest entry", err)
	}

	if err := zw.Close(); err != nil {
		return nil, nil, backup.NewStorageError("failed to finalize archive", err)
	}

	artifact := buf.Bytes()
	if b.encryptor != nil {
		artifact, err = b.encryptor.Encrypt(artifact)
		if err != nil {
			return nil, nil, err
		}
	}

	return artifact, manifest, nil
}

func categoryEntryName(category string, compression CompressionType) string {
	name := "data/" + category + ".json"
	switch compression {
	case CompressionTypeGzip:
		return name + ".gz"
	case CompressionTypeLZ4:
		return name + ".lz4"
	case CompressionTypeZstd:
		return name + ".zst"
	}
	return name
}

// Reader provides access to an opened backup artifact.
type Reader struct {
	manifest *Manifest
	zr       *zip.Reader
	manager  *CompressionManager
}

// Open parses an artifact. The encryptor must match how the artifact was
// built: non-nil for encrypted artifacts, nil otherwise.
func Open(data []byte, encryptor *Encryptor) (*Reader, error) {
	var err error
	if encryptor != nil {
		data, err = encryptor.Decrypt(data)
		if err != nil {
			return nil, err
		}
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, backup.NewCorruptionError("artifact is not a valid archive", err)
	}

	r := &Reader{zr: zr, manager: NewCompressionManager()}

	manifestFile, err := zr.Open(manifestName)
	if err != nil {
		return nil, backup.NewCorruptionError("artifact has no manifest", err)
	}
	defer manifestFile.Close()

	manifestBytes, err := io.ReadAll(manifestFile)
	if err != nil {
		return nil, backup.NewCorruptionError("failed to read manifest", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, backup.NewCorruptionError("failed to parse manifest", err)
	}
	if manifest.Version != manifestVersion {
		return nil, backup.NewCorruptionError(
			fmt.Sprintf("unsupported manifest version %d", manifest.Version), nil)
	}
	r.manifest = &manifest

	return r, nil
}

// Manifest returns the artifact's manifest.
func (r *Reader) Manifest() *Manifest {
	return r.manifest
}

// Categories returns the category names present in the artifact, sorted.
func (r *Reader) Categories() []string {
	categories := make([]string, 0, len(r.manifest.Categories))
	for category := range r.manifest.Categories {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// Category reads and decodes one category's entities.
func (r *Reader) Category(name string) ([]backup.Entity, error) {
	entry, ok := r.manifest.Categories[name]
	if !ok {
		return nil, backup.NewNotFoundError(fmt.Sprintf("category %s not present in artifact", name), nil)
	}

	f, err := r.zr.Open(entry.File)
	if err != nil {
		return nil, backup.NewCorruptionError(fmt.Sprintf("failed to open payload for category %s", name), err)
	}
	defer f.Close()

	compressed, err := io.ReadAll(f)
	if err != nil {
		return nil, backup.NewCorruptionError(fmt.Sprintf("failed to read payload for category %s", name), err)
	}

	payload, err := r.manager.Decompress(compressed, r.manifest.Compression)
	if err != nil {
		return nil, err
	}

	var entities []backup.Entity
	if err := json.Unmarshal(payload, &entities); err != nil {
		return nil, backup.NewCorruptionError(fmt.Sprintf("failed to decode entities for category %s", name), err)
	}

	return entities, nil
}
