package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/weatherdash/internal/cache"
)

// ExportDocument is the document written by the Exporter
type ExportDocument struct {
	ID         string                                  `json:"id"`
	ExportedAt time.Time                               `json:"exported_at"`
	Summary    Summary                                 `json:"summary"`
	Payloads   map[string]cache.Entry[json.RawMessage] `json:"payloads"`
}

// Exporter writes the cached weather payloads and the service summary to a
// JSON file
type Exporter struct {
	dir     string
	summary func() Summary
	store   *cache.Store[json.RawMessage]
	now     func() time.Time
	logger  *slog.Logger
}

// NewExporter creates an Exporter writing into dir
func NewExporter(dir string, summary func() Summary, store *cache.Store[json.RawMessage], logger *slog.Logger) *Exporter {
	return &Exporter{
		dir:     dir,
		summary: summary,
		store:   store,
		now:     time.Now,
		logger:  logger.With("component", "export"),
	}
}

// Dir returns the export directory
func (e *Exporter) Dir() string {
	return e.dir
}

// Export writes one export file and returns its path
func (e *Exporter) Export(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	doc := ExportDocument{
		ID:         uuid.New().String(),
		ExportedAt: e.now().UTC(),
		Summary:    e.summary(),
		Payloads:   map[string]cache.Entry[json.RawMessage]{},
	}
	if e.store != nil {
		doc.Payloads = e.store.Snapshot()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode export: %w", err)
	}

	path := filepath.Join(e.dir, "export-"+doc.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}

	e.logger.Info("export written", "path", path, "payloads", len(doc.Payloads))
	return path, nil
}
