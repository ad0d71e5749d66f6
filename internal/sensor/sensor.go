// Package sensor feeds stress samples into the break companion. A Source
// produces one reading per call; Loop polls a Source on a fixed cadence.
package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/pulse/internal/clock"
	"github.com/hpungsan/pulse/internal/signal"
)

// Source produces stress samples. Read returns io.EOF when no more
// samples will come.
type Source interface {
	Read(ctx context.Context) (signal.Sample, error)
}

// ParseLine parses "raw" or "raw,present". present accepts the usual
// boolean spellings plus 1/0 and yes/no; it defaults to true.
func ParseLine(line string) (signal.Sample, error) {
	raw, present, hasPresent := strings.Cut(strings.TrimSpace(line), ",")

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return signal.Sample{}, fmt.Errorf("stress value %q: %w", raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return signal.Sample{}, fmt.Errorf("stress value %q is not finite", raw)
	}

	s := signal.Sample{Raw: v, UserPresent: true}
	if hasPresent {
		switch strings.ToLower(strings.TrimSpace(present)) {
		case "1", "t", "true", "yes", "y":
		case "0", "f", "false", "no", "n":
			s.UserPresent = false
		default:
			return signal.Sample{}, fmt.Errorf("presence value %q is not a boolean", present)
		}
	}
	return s, nil
}

// LineSource reads samples from text, one per line. Blank lines and lines
// starting with # are skipped.
type LineSource struct {
	sc    *bufio.Scanner
	clock clock.Clock
	line  int
}

// NewLineSource reads from r and stamps samples with clk.
func NewLineSource(r io.Reader, clk clock.Clock) *LineSource {
	if clk == nil {
		clk = clock.System{}
	}
	return &LineSource{sc: bufio.NewScanner(r), clock: clk}
}

// Read returns the next sample. A malformed line is reported and skipped
// on the next call.
func (l *LineSource) Read(ctx context.Context) (signal.Sample, error) {
	for l.sc.Scan() {
		if err := ctx.Err(); err != nil {
			return signal.Sample{}, err
		}
		l.line++
		text := strings.TrimSpace(l.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		s, err := ParseLine(text)
		if err != nil {
			return signal.Sample{}, fmt.Errorf("line %d: %w", l.line, err)
		}
		s.ObservedAt = l.clock.Now()
		return s, nil
	}
	if err := l.sc.Err(); err != nil {
		return signal.Sample{}, err
	}
	return signal.Sample{}, io.EOF
}

// Reading is the payload served by the vision endpoint.
type Reading struct {
	StressLevel  *float64 `json:"stressLevel"`
	FaceDetected *bool    `json:"faceDetected"`
}

// HTTPSource polls a URL that answers GET with a Reading.
type HTTPSource struct {
	url    string
	client *http.Client
	clock  clock.Clock
}

// NewHTTPSource polls url with the given per-request timeout.
func NewHTTPSource(url string, timeout time.Duration, clk clock.Clock) *HTTPSource {
	if clk == nil {
		clk = clock.System{}
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
		clock:  clk,
	}
}

// Read fetches one reading. A missing faceDetected counts as present.
func (h *HTTPSource) Read(ctx context.Context) (signal.Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return signal.Sample{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return signal.Sample{}, fmt.Errorf("sensor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return signal.Sample{}, fmt.Errorf("sensor returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r Reading
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&r); err != nil {
		return signal.Sample{}, fmt.Errorf("failed to decode reading: %w", err)
	}
	if r.StressLevel == nil {
		return signal.Sample{}, errors.New("reading has no stressLevel")
	}

	s := signal.Sample{Raw: *r.StressLevel, UserPresent: true, ObservedAt: h.clock.Now()}
	if r.FaceDetected != nil {
		s.UserPresent = *r.FaceDetected
	}
	return s, nil
}

// Loop reads from src every interval and hands samples to sink. Read
// errors are logged and the loop carries on. It returns nil when ctx is
// done or src reports io.EOF.
func Loop(ctx context.Context, src Source, interval time.Duration, sink func(signal.Sample), logger *zap.Logger) error {
	if interval <= 0 {
		return fmt.Errorf("sensor interval must be positive, got %v", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s, err := src.Read(ctx)
		switch {
		case errors.Is(err, io.EOF):
			logger.Info("sensor source exhausted")
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("sensor read failed", zap.Error(err))
			continue
		}
		sink(s)
	}
}
