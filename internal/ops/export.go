package ops

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/pulse/internal/config"
	"github.com/hpungsan/pulse/internal/db"
	"github.com/hpungsan/pulse/internal/errors"
	"github.com/hpungsan/pulse/internal/prefs"
)

// SchemaVersion of the JSONL export format.
const SchemaVersion = "1.0"

// Record kinds in an export file.
const (
	KindScore   = "score"
	KindTrigger = "trigger"
	KindEvent   = "event"
)

// ExportHeader is the first line of an export file.
type ExportHeader struct {
	PulseExport   bool   `json:"_pulse_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// ExportRecord is one data line. Score is set for score and trigger
// records, Event for event records.
type ExportRecord struct {
	Kind      string       `json:"kind"`
	VariantID string       `json:"variant_id,omitempty"`
	Score     *prefs.Score `json:"score,omitempty"`
	Event     *prefs.Event `json:"event,omitempty"`
}

// ExportInput contains parameters for Export.
type ExportInput struct {
	Path string `json:"path,omitempty"` // default: <base>/exports/pulse-<timestamp>.jsonl
}

// ExportOutput contains the result of Export.
type ExportOutput struct {
	Path       string `json:"path"`
	Scores     int    `json:"scores"`
	Events     int    `json:"events"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes the preference model and the feedback history to a JSONL
// file. The file is written to a temporary name and renamed into place.
func Export(ctx context.Context, database *sql.DB, cfg *config.Config, baseDir string, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	exportsDir := ExportsDir(baseDir)

	path := input.Path
	if path == "" {
		path = filepath.Join(exportsDir, "pulse-"+now.UTC().Format("20060102-150405")+".jsonl")
	}
	if err := ValidatePath(path, PathCheckWrite, cfg, exportsDir); err != nil {
		return nil, err
	}

	m, err := db.LoadPreferences(ctx, database)
	if err != nil {
		return nil, err
	}
	events, err := db.ListEvents(ctx, database, 0, false)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tmp := path + "." + hex.EncodeToString(suffix) + ".tmp"
	f, err := createNoFollow(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmp)
		}
	}()

	enc := json.NewEncoder(f)
	if err := enc.Encode(ExportHeader{PulseExport: true, SchemaVersion: SchemaVersion, ExportedAt: now.Unix()}); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to write header: %w", err))
	}

	for _, id := range m.VariantIDs() {
		sc := m.Scores[id]
		if err := enc.Encode(ExportRecord{Kind: KindScore, VariantID: id, Score: &sc}); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to write score: %w", err))
		}
	}
	trigger := m.Trigger
	if err := enc.Encode(ExportRecord{Kind: KindTrigger, Score: &trigger}); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to write trigger score: %w", err))
	}
	for i := range events {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := enc.Encode(ExportRecord{Kind: KindEvent, Event: &events[i]}); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("failed to write event: %w", err))
		}
	}

	if err := f.Sync(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to sync export file: %w", err))
	}
	if err := f.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	if runtime.GOOS == "windows" {
		os.Remove(path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		committed = true
		return nil, errors.NewInternal(fmt.Errorf("failed to move export into place: %w", err))
	}
	committed = true

	return &ExportOutput{
		Path:       path,
		Scores:     len(m.Scores),
		Events:     len(events),
		ExportedAt: now.Unix(),
	}, nil
}
