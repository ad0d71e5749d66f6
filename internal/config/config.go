package config

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	perrors "github.com/hpungsan/pulse/internal/errors"
)

// Config holds application configuration.
type Config struct {
	// Alpha is the EMA weight given to each new raw sample. Must be in (0,1].
	Alpha float64 `json:"alpha"`

	// SeedSmoother starts the running estimate at SmootherSeed so the first
	// sample is blended against it. When false the first sample initializes
	// the estimate directly.
	SeedSmoother bool    `json:"seed_smoother"`
	SmootherSeed float64 `json:"smoother_seed"`

	// HighThreshold is the smoothed stress level above which a suggestion is raised.
	HighThreshold float64 `json:"high_threshold"`

	// MinIntervalSeconds is the global minimum spacing after any session ends.
	MinIntervalSeconds int `json:"min_interval_seconds"`

	// DismissCooldownSeconds is the cooldown a dismissal requests when the
	// caller does not pass one. It is layered on top of MinIntervalSeconds.
	DismissCooldownSeconds int `json:"dismiss_cooldown_seconds"`

	// Epsilon is the exploration probability of the break selector. Must be in [0,1].
	Epsilon float64 `json:"epsilon"`

	// OptimisticScore is the estimate used for variants with zero tries.
	OptimisticScore float64 `json:"optimistic_score"`

	Rewards              Rewards              `json:"rewards"`
	SentimentMultipliers SentimentMultipliers `json:"sentiment_multipliers"`

	// SampleIntervalMs is the sensor polling cadence for pull-based sources.
	SampleIntervalMs int `json:"sample_interval_ms"`

	// CoachTimeoutSeconds bounds the coaching message fetch while Evaluating.
	CoachTimeoutSeconds int `json:"coach_timeout_seconds"`

	// FeedbackTimeoutSeconds closes an idle feedback exchange. 0 disables the timeout.
	FeedbackTimeoutSeconds int `json:"feedback_timeout_seconds"`

	// CatalogPath optionally points at a YAML break catalog replacing the built-in one.
	CatalogPath string `json:"catalog_path,omitempty"`

	// RecentActivityWindow is how many recent activities are avoided when drawing a new one.
	RecentActivityWindow int `json:"recent_activity_window"`

	GenAI   GenAIConfig   `json:"genai"`
	Metrics MetricsConfig `json:"metrics"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// AllowedPaths is an allowlist of directories for preference import/export.
	// Paths outside <base>/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// Rewards maps break outcomes to bandit rewards.
type Rewards struct {
	Completed float64 `json:"completed"`
	Skipped   float64 `json:"skipped"`
	Dismissed float64 `json:"dismissed"`
}

// SentimentMultipliers scale Completed/Skipped rewards by feedback sentiment.
type SentimentMultipliers struct {
	Positive float64 `json:"positive"`
	Neutral  float64 `json:"neutral"`
	Negative float64 `json:"negative"`
}

// GenAIConfig configures the Gemini-backed coaching and feedback chat.
// When the key env var is empty the static fallback coach is used.
type GenAIConfig struct {
	APIKeyEnv string `json:"api_key_env"`
	Model     string `json:"model"`
}

// MetricsConfig configures the OTLP metrics exporter.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"`
	Insecure bool   `json:"insecure,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Alpha:                  0.1,
		SeedSmoother:           true,
		SmootherSeed:           0,
		HighThreshold:          21,
		MinIntervalSeconds:     15 * 60,
		DismissCooldownSeconds: 5 * 60,
		Epsilon:                0.2,
		OptimisticScore:        1.0,
		Rewards: Rewards{
			Completed: 1,
			Skipped:   -0.5,
			Dismissed: 0,
		},
		SentimentMultipliers: SentimentMultipliers{
			Positive: 1.5,
			Neutral:  1,
			Negative: 0.5,
		},
		SampleIntervalMs:       2000,
		CoachTimeoutSeconds:    10,
		FeedbackTimeoutSeconds: 120,
		RecentActivityWindow:   3,
		GenAI: GenAIConfig{
			APIKeyEnv: "GEMINI_API_KEY",
			Model:     "gemini-2.5-flash",
		},
		LogLevel: "info",
	}
}

// Load loads configuration from baseDir/config.json and validates it.
// Returns default config if the file doesn't exist. Fields absent from the
// file keep their defaults; explicit zero values (e.g. "epsilon": 0) are honored.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.pulse.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the file at configPath onto the defaults.
func loadFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.AllowedPaths = cleanStringSlice(cfg.AllowedPaths)
	cfg.DisabledTools = cleanStringSlice(cfg.DisabledTools)

	return cfg, nil
}

// Validate rejects configurations that would silently produce wrong behavior.
// These are programmer errors, so callers fail fast at startup.
func (c *Config) Validate() error {
	switch {
	case !finite(c.Alpha) || c.Alpha <= 0 || c.Alpha > 1:
		return perrors.NewInvalidConfig("alpha", "must be in (0,1]")
	case !finite(c.SmootherSeed):
		return perrors.NewInvalidConfig("smoother_seed", "must be a finite number")
	case !finite(c.HighThreshold) || c.HighThreshold <= 0:
		return perrors.NewInvalidConfig("high_threshold", "must be > 0")
	case c.MinIntervalSeconds < 0:
		return perrors.NewInvalidConfig("min_interval_seconds", "must be >= 0")
	case c.DismissCooldownSeconds < 0:
		return perrors.NewInvalidConfig("dismiss_cooldown_seconds", "must be >= 0")
	case !finite(c.Epsilon) || c.Epsilon < 0 || c.Epsilon > 1:
		return perrors.NewInvalidConfig("epsilon", "must be in [0,1]")
	case !finite(c.OptimisticScore):
		return perrors.NewInvalidConfig("optimistic_score", "must be a finite number")
	case !finite(c.Rewards.Completed) || !finite(c.Rewards.Skipped) || !finite(c.Rewards.Dismissed):
		return perrors.NewInvalidConfig("rewards", "must be finite numbers")
	case !nonNegative(c.SentimentMultipliers.Positive) ||
		!nonNegative(c.SentimentMultipliers.Neutral) ||
		!nonNegative(c.SentimentMultipliers.Negative):
		return perrors.NewInvalidConfig("sentiment_multipliers", "must be finite and >= 0")
	case c.SampleIntervalMs <= 0:
		return perrors.NewInvalidConfig("sample_interval_ms", "must be > 0")
	case c.CoachTimeoutSeconds <= 0:
		return perrors.NewInvalidConfig("coach_timeout_seconds", "must be > 0")
	case c.FeedbackTimeoutSeconds < 0:
		return perrors.NewInvalidConfig("feedback_timeout_seconds", "must be >= 0")
	case c.RecentActivityWindow < 0:
		return perrors.NewInvalidConfig("recent_activity_window", "must be >= 0")
	}
	return nil
}

// MinInterval returns the global minimum inter-suggestion interval.
func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

// DismissCooldown returns the default cooldown requested by a dismissal.
func (c *Config) DismissCooldown() time.Duration {
	return time.Duration(c.DismissCooldownSeconds) * time.Second
}

// SampleInterval returns the sensor polling cadence.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMs) * time.Millisecond
}

// CoachTimeout returns the coaching fetch deadline.
func (c *Config) CoachTimeout() time.Duration {
	return time.Duration(c.CoachTimeoutSeconds) * time.Second
}

// FeedbackTimeout returns the idle feedback exchange timeout (0 = never).
func (c *Config) FeedbackTimeout() time.Duration {
	return time.Duration(c.FeedbackTimeoutSeconds) * time.Second
}

// GenAIKey reads the Gemini API key from the configured environment variable.
func (c *Config) GenAIKey() string {
	if c.GenAI.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.GenAI.APIKeyEnv))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func nonNegative(f float64) bool {
	return finite(f) && f >= 0
}

// cleanStringSlice trims whitespace and removes empty and duplicate entries.
func cleanStringSlice(a []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
