package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrCorruptDocument is returned when the cache document cannot be decoded
var ErrCorruptDocument = errors.New("corrupt cache document")

const documentVersion = 1

type document[V any] struct {
	Version int                 `json:"version"`
	SavedAt time.Time           `json:"saved_at"`
	Entries map[string]Entry[V] `json:"entries"`
}

// FilePersister stores every entry in a single JSON document on disk.
type FilePersister[V any] struct {
	path string
}

// NewFilePersister creates a persister writing to path
func NewFilePersister[V any](path string) *FilePersister[V] {
	return &FilePersister[V]{path: path}
}

// Path returns the document location
func (p *FilePersister[V]) Path() string {
	return p.path
}

// Load reads the document. A missing file yields an empty map and no error.
func (p *FilePersister[V]) Load(_ context.Context) (map[string]Entry[V], error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Entry[V]{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file %s: %w", p.path, err)
	}

	var doc document[V]
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptDocument, p.path, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorruptDocument, p.path, doc.Version)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]Entry[V]{}
	}
	return doc.Entries, nil
}

// Save rewrites the document atomically through a temporary file in the same directory
func (p *FilePersister[V]) Save(ctx context.Context, entries map[string]Entry[V]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(document[V]{
		Version: documentVersion,
		SavedAt: time.Now().UTC(),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache document: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("failed to replace cache file %s: %w", p.path, err)
	}
	return nil
}
