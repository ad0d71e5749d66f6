package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/pulse/internal/breaks"
	"github.com/hpungsan/pulse/internal/clock"
	"github.com/hpungsan/pulse/internal/coach"
	"github.com/hpungsan/pulse/internal/config"
	"github.com/hpungsan/pulse/internal/cooldown"
	"github.com/hpungsan/pulse/internal/db"
	"github.com/hpungsan/pulse/internal/errors"
	"github.com/hpungsan/pulse/internal/mcp"
	"github.com/hpungsan/pulse/internal/ops"
	"github.com/hpungsan/pulse/internal/prefs"
	"github.com/hpungsan/pulse/internal/sensor"
	"github.com/hpungsan/pulse/internal/session"
	pulsesignal "github.com/hpungsan/pulse/internal/signal"
	"github.com/hpungsan/pulse/internal/telemetry"
	"github.com/hpungsan/pulse/internal/web"
)

// env is what every command runs against.
type env struct {
	baseDir string
	db      *sql.DB
	cfg     *config.Config
	logger  *zap.Logger
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "pulse",
		Usage:   "Stress-aware break companion",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(e),
			mcpCmd(e),
			simulateCmd(e),
			statusCmd(e),
			prefsCmd(e),
			historyCmd(e),
			resetCmd(e),
			exportCmd(e),
			importCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// machineOptions controls how buildMachine wires a Machine.
type machineOptions struct {
	persist bool // write state changes to the database
	restore bool // start from persisted preferences, cooldown and rotation
	live    bool // use the Gemini coach when a key is configured
	clock   clock.Clock
	rand    *rand.Rand
	metrics *telemetry.Recorder
}

// loadCatalog returns the configured catalog, or the built-in one.
func loadCatalog(cfg *config.Config) (*breaks.Catalog, error) {
	if cfg.CatalogPath == "" {
		return breaks.Default(), nil
	}
	return breaks.LoadCatalog(cfg.CatalogPath)
}

func buildMachine(ctx context.Context, e *env, o machineOptions) (*session.Machine, error) {
	catalog, err := loadCatalog(e.cfg)
	if err != nil {
		return nil, err
	}

	deps := session.Deps{
		Config:  e.cfg,
		Catalog: catalog,
		Clock:   o.clock,
		Rand:    o.rand,
		Logger:  e.logger,
		Metrics: o.metrics,
	}

	store := db.NewStore(e.db)
	if o.restore {
		snap, err := store.Load(ctx)
		if err != nil {
			e.logger.Warn("could not restore persisted state, continuing with what loaded", zap.Error(err))
		}
		deps.Prefs = snap.Prefs
		deps.Cooldown = snap.Cooldown
		deps.RecentActivities = snap.RecentActivities
	}
	if o.persist {
		deps.Store = store
	}

	if o.live {
		if key := e.cfg.GenAIKey(); key != "" {
			g, err := coach.NewGemini(ctx, key, e.cfg.GenAI.Model, e.logger)
			if err != nil {
				e.logger.Warn("gemini coach unavailable, using built-in messages", zap.Error(err))
			} else {
				deps.Coach = g
				deps.Chat = g
			}
		}
	}

	return session.New(deps)
}

// serveCmd creates the serve command.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web UI and, optionally, poll a stress sensor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8787, Usage: "Port to listen on"},
			&cli.StringFlag{Name: "sensor-url", Usage: "URL returning {stressLevel, faceDetected} JSON, polled every sample interval"},
			&cli.DurationFlag{Name: "sensor-timeout", Value: 2 * time.Second, Usage: "Timeout for each sensor request"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics, shutdown, err := telemetry.Setup(ctx, e.cfg.Metrics, Version)
			if err != nil {
				return outputError(err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					e.logger.Warn("metrics shutdown failed", zap.Error(err))
				}
			}()

			m, err := buildMachine(ctx, e, machineOptions{persist: true, restore: true, live: true, metrics: metrics})
			if err != nil {
				return outputError(err)
			}
			defer m.Close()

			svc := ops.NewService(m, e.db)
			srv, err := web.NewServer(svc, Version, c.String("bind"), c.Int("port"), e.logger)
			if err != nil {
				return outputError(err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return web.Run(gctx, srv, e.logger)
			})
			if url := c.String("sensor-url"); url != "" {
				src := sensor.NewHTTPSource(url, c.Duration("sensor-timeout"), clock.System{})
				g.Go(func() error {
					return sensor.Loop(gctx, src, e.cfg.SampleInterval(), func(s pulsesignal.Sample) {
						m.Ingest(s)
					}, e.logger)
				})
			}
			return g.Wait()
		},
	}
}

// mcpCmd creates the mcp command. Running pulse with piped stdin and no
// arguments does the same.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the break tools over MCP on stdio",
		Action: func(c *cli.Context) error {
			if err := runMCP(e); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

func runMCP(e *env) error {
	ctx := context.Background()
	metrics, shutdown, err := telemetry.Setup(ctx, e.cfg.Metrics, Version)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(ctx) }()

	m, err := buildMachine(ctx, e, machineOptions{persist: true, restore: true, live: true, metrics: metrics})
	if err != nil {
		return err
	}
	defer m.Close()

	return mcp.Run(ops.NewService(m, e.db), e.cfg, Version)
}

// transition is one line of simulate output.
type transition struct {
	Sample   int           `json:"sample"`
	At       time.Time     `json:"at"`
	Raw      float64       `json:"raw"`
	Present  bool          `json:"present"`
	Smoothed float64       `json:"smoothed"`
	State    session.State `json:"state"`
	Variant  string        `json:"variant,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// simulateSummary is the last line of simulate output.
type simulateSummary struct {
	Samples     int                `json:"samples"`
	Suggestions int                `json:"suggestions"`
	Variants    []session.Estimate `json:"variants"`
}

// simulateCmd creates the simulate command.
func simulateCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Replay \"raw[,present]\" readings from stdin and print state transitions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "respond", Value: "none", Usage: "What the simulated user does with a suggestion: none|complete|skip|dismiss"},
			&cli.StringFlag{Name: "sentiment", Usage: "Sentiment reported when responding with complete or skip"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "Random seed for variant selection"},
		},
		Action: func(c *cli.Context) error {
			respond := c.String("respond")
			switch respond {
			case "none", "complete", "skip", "dismiss":
			default:
				return outputError(errors.NewInvalidRequest("respond must be one of none|complete|skip|dismiss"))
			}
			sentiment, err := prefs.ParseSentiment(c.String("sentiment"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			clk := clock.NewManual(time.Now().UTC().Truncate(time.Second))
			seed := c.Uint64("seed")
			m, err := buildMachine(c.Context, e, machineOptions{clock: clk, rand: rand.New(rand.NewPCG(seed, seed))})
			if err != nil {
				return outputError(err)
			}
			defer m.Close()

			out := json.NewEncoder(c.App.Writer)
			src := sensor.NewLineSource(c.App.Reader, clk)
			step := e.cfg.SampleInterval()

			var summary simulateSummary
			last := m.State()
			for {
				clk.Advance(step)
				s, err := src.Read(c.Context)
				if stderrors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				summary.Samples++
				if m.Ingest(s) {
					summary.Suggestions++
				}
				m.Wait()

				snap := m.Snapshot()
				if snap.State != last {
					if err := out.Encode(newTransition(summary.Samples, s, snap)); err != nil {
						return err
					}
					last = snap.State
				}

				if snap.State == session.Suggesting && respond != "none" {
					respondTo(m, respond, sentiment)
					snap = m.Snapshot()
					if err := out.Encode(newTransition(summary.Samples, s, snap)); err != nil {
						return err
					}
					last = snap.State
				}
			}

			summary.Variants = m.Estimates()
			return out.Encode(summary)
		},
	}
}

func newTransition(n int, s pulsesignal.Sample, snap session.Snapshot) transition {
	t := transition{
		Sample:   n,
		At:       s.ObservedAt,
		Raw:      s.Raw,
		Present:  s.UserPresent,
		Smoothed: snap.Smoothed,
		State:    snap.State,
		Message:  snap.Message,
	}
	if snap.SuggestedVariant != nil {
		t.Variant = snap.SuggestedVariant.ID
	}
	return t
}

// respondTo plays a suggestion through to Idle the way a user would.
func respondTo(m *session.Machine, respond string, sentiment prefs.Sentiment) {
	if respond == "dismiss" {
		m.Dismiss(nil)
		return
	}
	m.Accept()
	if _, err := m.Choose(""); err != nil {
		return
	}
	if respond == "complete" {
		m.Complete(sentiment)
	} else {
		m.Skip(sentiment)
	}
	m.CloseFeedback()
}

// statusOutput is printed by the status command.
type statusOutput struct {
	Preferences      prefs.Model    `json:"preferences"`
	Cooldown         cooldown.State `json:"cooldown"`
	CanSuggest       bool           `json:"can_suggest"`
	RecentActivities []string       `json:"recent_activities"`
}

// statusCmd creates the status command.
func statusCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show stored preferences and cooldown",
		Action: func(c *cli.Context) error {
			snap, err := db.NewStore(e.db).Load(c.Context)
			if err != nil {
				return outputError(err)
			}
			p := cooldown.New(e.cfg.MinInterval(), e.cfg.DismissCooldown(), snap.Cooldown)
			recent := snap.RecentActivities
			if recent == nil {
				recent = []string{}
			}
			return outputJSON(c.App.Writer, statusOutput{
				Preferences:      snap.Prefs,
				Cooldown:         snap.Cooldown,
				CanSuggest:       p.CanEvaluate(time.Now()),
				RecentActivities: recent,
			})
		},
	}
}

// prefsCmd creates the prefs command.
func prefsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "prefs",
		Usage: "Show the learned score and selection estimate of each variant",
		Action: func(c *cli.Context) error {
			m, err := buildMachine(c.Context, e, machineOptions{restore: true})
			if err != nil {
				return outputError(err)
			}
			defer m.Close()
			return outputJSON(c.App.Writer, ops.NewService(m, e.db).Preferences())
		},
	}
}

// historyCmd creates the history command.
func historyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List finished break sessions, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum sessions to return"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.History(c.Context, e.db, ops.HistoryInput{Limit: c.Int("limit")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// resetCmd creates the reset command.
func resetCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Forget learned preferences, cooldown, feedback and session history",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm the reset"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return outputError(errors.NewInvalidRequest("reset deletes all learned data; pass --yes to confirm"))
			}
			if err := db.Reset(c.Context, e.db); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return outputJSON(c.App.Writer, map[string]bool{"reset": true})
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export preferences and feedback history to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.pulse/exports/pulse-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, e.db, e.cfg, e.baseDir, ops.ExportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// importCmd creates the import command. It writes to the database
// directly, so it must not run while serve or mcp is running.
func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import preferences and feedback history from a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "replace", Usage: "replace|merge"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, e.db, e.cfg, e.baseDir, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(c.App.Writer, output); err != nil {
				return err
			}
			if len(output.Errors) > 0 {
				return cli.Exit(fmt.Sprintf("import rejected: %d invalid line(s), nothing was written", len(output.Errors)), 1)
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the CLI.
func outputError(err error) error {
	var pErr *errors.PulseError
	if stderrors.As(err, &pErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", pErr.Code, pErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
