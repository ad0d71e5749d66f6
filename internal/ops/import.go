package ops

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hpungsan/pulse/internal/config"
	"github.com/hpungsan/pulse/internal/db"
	"github.com/hpungsan/pulse/internal/errors"
	"github.com/hpungsan/pulse/internal/prefs"
)

// ImportMode controls how imported scores meet the stored model.
type ImportMode string

const (
	// ImportReplace swaps the stored model for the imported one.
	ImportReplace ImportMode = "replace"
	// ImportMerge combines stored and imported scores by try count.
	ImportMerge ImportMode = "merge"
)

// maxLineBytes bounds a single JSONL line.
const maxLineBytes = 1 << 20

// ImportInput contains parameters for Import.
type ImportInput struct {
	Path string     `json:"path"`
	Mode ImportMode `json:"mode,omitempty"` // default: replace
}

// ImportError describes a rejected line.
type ImportError struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ImportOutput contains the result of Import. When Errors is non-empty
// nothing was written.
type ImportOutput struct {
	Scores int           `json:"scores"`
	Events int           `json:"events"`
	Errors []ImportError `json:"errors,omitempty"`
}

// Import loads an export file. Events are upserted by id, so importing the
// same file twice leaves one copy of each event. The import is all or
// nothing. Do not run it against a database a live machine is using; the
// machine keeps its own copy of the model.
func Import(ctx context.Context, database *sql.DB, cfg *config.Config, baseDir string, input ImportInput) (*ImportOutput, error) {
	mode := input.Mode
	if mode == "" {
		mode = ImportReplace
	}
	if mode != ImportReplace && mode != ImportMerge {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("mode must be %q or %q", ImportReplace, ImportMerge))
	}
	if err := ValidatePath(input.Path, PathCheckRead, cfg, ExportsDir(baseDir)); err != nil {
		return nil, err
	}

	f, err := openNoFollow(input.Path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) || errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer f.Close()

	imported, events, lineErrs := parseExport(bufio.NewScanner(f))
	if len(lineErrs) > 0 {
		return &ImportOutput{Errors: lineErrs}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := imported
	if mode == ImportMerge {
		stored, err := db.LoadPreferences(ctx, database)
		if err != nil {
			return nil, err
		}
		model = stored.Merge(imported)
	}
	if err := db.Import(ctx, database, model, events); err != nil {
		return nil, err
	}
	return &ImportOutput{Scores: len(imported.Scores), Events: len(events)}, nil
}

func parseExport(sc *bufio.Scanner) (prefs.Model, []prefs.Event, []ImportError) {
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var (
		m      = prefs.NewModel()
		events []prefs.Event
		errs   []ImportError
		line   int
		header bool
	)
	fail := func(code, msg string) {
		errs = append(errs, ImportError{Line: line, Code: code, Message: msg})
	}

	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		if !header {
			var h ExportHeader
			if err := json.Unmarshal([]byte(text), &h); err != nil || !h.PulseExport {
				fail("INVALID_HEADER", "first line must be a pulse export header")
				return m, nil, errs
			}
			if h.SchemaVersion != SchemaVersion {
				fail("UNSUPPORTED_VERSION", fmt.Sprintf("schema version %q is not supported", h.SchemaVersion))
				return m, nil, errs
			}
			header = true
			continue
		}

		var r ExportRecord
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			fail("PARSE_ERROR", err.Error())
			continue
		}
		switch r.Kind {
		case KindScore:
			if r.VariantID == "" || r.Score == nil {
				fail("INVALID_RECORD", "score record needs variant_id and score")
				continue
			}
			m.Scores[r.VariantID] = *r.Score
		case KindTrigger:
			if r.Score == nil {
				fail("INVALID_RECORD", "trigger record needs score")
				continue
			}
			m.Trigger = *r.Score
		case KindEvent:
			e, err := checkEvent(r.Event)
			if err != nil {
				fail("INVALID_RECORD", err.Error())
				continue
			}
			events = append(events, e)
		default:
			fail("INVALID_RECORD", fmt.Sprintf("unknown record kind %q", r.Kind))
		}
	}
	if err := sc.Err(); err != nil {
		fail("READ_ERROR", fmt.Sprintf("failed to read file: %v", err))
	}
	if !header && len(errs) == 0 {
		fail("INVALID_HEADER", "file is empty")
	}

	if _, dropped := m.Sanitize(); dropped > 0 {
		fail("INVALID_RECORD", fmt.Sprintf("%d scores have negative tries or non-finite means", dropped))
	}
	return m, events, errs
}

func checkEvent(e *prefs.Event) (prefs.Event, error) {
	if e == nil {
		return prefs.Event{}, fmt.Errorf("event record needs event")
	}
	if e.ID == "" || e.VariantID == "" {
		return prefs.Event{}, fmt.Errorf("event needs id and variant_id")
	}
	o, err := prefs.ParseOutcome(string(e.Outcome))
	if err != nil {
		return prefs.Event{}, err
	}
	s, err := prefs.ParseSentiment(string(e.Sentiment))
	if err != nil {
		return prefs.Event{}, err
	}
	if e.OccurredAt.IsZero() {
		return prefs.Event{}, fmt.Errorf("event needs occurred_at")
	}
	out := *e
	out.Outcome = o
	out.Sentiment = s
	return out, nil
}
