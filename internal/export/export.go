// Package export writes deterministic JSON snapshots of the record store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonathan/publication-pipeline/internal/schemas"
	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/types"
	exportschemas "github.com/jonathan/publication-pipeline/schemas"
)

// Indent is the per-level indentation of exported JSON.
const Indent = "    "

// Options selects what to export and where.
type Options struct {
	// Path of the output file. Parent directories are created.
	Path string
	// Source restricts the export to one source; empty exports everything.
	Source types.Source
	// Enriched exports the fact table instead of raw records.
	Enriched bool
	// Uploader, when set, receives a gzip copy of the snapshot.
	Uploader Uploader
	// SkipValidation disables the per-record schema check.
	SkipValidation bool
}

// Result describes a written snapshot.
type Result struct {
	Path     string        `json:"path"`
	Records  int           `json:"records"`
	Skipped  int           `json:"skipped,omitempty"`
	Bytes    int           `json:"bytes"`
	Upload   *UploadResult `json:"upload,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Error represents a failed export step.
type Error struct {
	Step    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("export %s: %s: %v", e.Step, e.Message, e.Cause)
	}
	return fmt.Sprintf("export %s: %s", e.Step, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// enrichedRow is the exported shape of a fact row; the ETL timestamp is internal.
type enrichedRow struct {
	types.PublicationRecord
	Quartile          string   `json:"quartile"`
	Country           string   `json:"country"`
	ImpactScore       float64  `json:"impact_score"`
	Citations         int      `json:"citations"`
	GeneratedKeywords []string `json:"generated_keywords"`
}

// Export reads the selected records from s in store order and writes them to
// opts.Path as a JSON array without internal ids. Records that do not match the
// export schema are logged and skipped. An empty selection writes "[]" and logs
// a warning.
func Export(ctx context.Context, s store.Store, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Path == "" {
		return nil, &Error{Step: "prepare", Message: "output path is empty"}
	}
	filter := store.Filter{Source: opts.Source}

	var rows []any
	schema := exportschemas.PublicationExport

	if opts.Enriched {
		facts, err := s.ListEnriched(ctx, filter)
		if err != nil {
			return nil, &Error{Step: "read", Message: "failed to read fact table", Cause: err}
		}
		rows = make([]any, len(facts))
		for i, f := range facts {
			if f.GeneratedKeywords == nil {
				f.GeneratedKeywords = []string{}
			}
			rows[i] = enrichedRow{
				PublicationRecord: f.PublicationRecord,
				Quartile:          f.Quartile,
				Country:           f.Country,
				ImpactScore:       f.ImpactScore,
				Citations:         f.Citations,
				GeneratedKeywords: f.GeneratedKeywords,
			}
		}
		schema = exportschemas.EnrichedExport
	} else {
		stored, err := s.List(ctx, filter)
		if err != nil {
			return nil, &Error{Step: "read", Message: "failed to read records", Cause: err}
		}
		rows = make([]any, len(stored))
		for i, r := range stored {
			rows[i] = r.PublicationRecord
		}
	}

	var skipped int
	if !opts.SkipValidation {
		var err error
		rows, skipped, err = validRows(schema, rows)
		if err != nil {
			return nil, &Error{Step: "validate", Message: "failed to check snapshot", Cause: err}
		}
	}
	count := len(rows)

	if count == 0 {
		slog.Warn("export selection is empty, writing empty array", "path", opts.Path, "source", opts.Source, "enriched", opts.Enriched)
	}

	data, err := Marshal(rows)
	if err != nil {
		return nil, &Error{Step: "encode", Message: "failed to encode records", Cause: err}
	}

	if err := WriteFileAtomic(opts.Path, data); err != nil {
		return nil, &Error{Step: "write", Message: "failed to write snapshot", Cause: err}
	}

	result := &Result{Path: opts.Path, Records: count, Skipped: skipped, Bytes: len(data)}

	if opts.Uploader != nil {
		name := filepath.Base(opts.Path)
		upload, err := opts.Uploader.Upload(ctx, name, data, start)
		if err != nil {
			// The local snapshot is already written; the upload is best effort.
			slog.Error("snapshot upload failed", "error", err)
		} else {
			result.Upload = upload
		}
	}

	result.Duration = time.Since(start)
	slog.Info("export complete", "path", opts.Path, "records", count, "skipped", skipped, "bytes", len(data))
	return result, nil
}

// validRows returns the rows that match schema. The whole selection is checked
// first; only when it fails is each row checked on its own, so one legacy row
// costs that row and not the snapshot.
func validRows(schema []byte, rows []any) ([]any, int, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := schemas.Validate(schema, data); err == nil {
		return rows, 0, nil
	} else if !errors.As(err, new(*schemas.ValidationError)) {
		return nil, 0, err
	}

	kept := make([]any, 0, len(rows))
	for i, row := range rows {
		one, err := json.Marshal([]any{row})
		if err != nil {
			return nil, 0, err
		}
		if err := schemas.Validate(schema, one); err != nil {
			slog.Warn("skipping record that does not match export schema", "index", i, "error", err)
			continue
		}
		kept = append(kept, row)
	}
	return kept, len(rows) - len(kept), nil
}

// Marshal encodes v as indented UTF-8 JSON with non-ASCII and HTML characters
// left unescaped and a trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", Indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFileAtomic writes data to a temp file next to path and renames it into
// place, so readers never observe a partially written snapshot.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}
