// Package session implements the suggestion state machine: it consumes
// stress samples and user commands, raises break suggestions, and feeds
// outcomes back into the preference model.
package session

import (
	"context"
	crand "crypto/rand"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/pulse/internal/breaks"
	"github.com/hpungsan/pulse/internal/clock"
	"github.com/hpungsan/pulse/internal/coach"
	"github.com/hpungsan/pulse/internal/config"
	"github.com/hpungsan/pulse/internal/cooldown"
	perrors "github.com/hpungsan/pulse/internal/errors"
	"github.com/hpungsan/pulse/internal/prefs"
	"github.com/hpungsan/pulse/internal/selector"
	"github.com/hpungsan/pulse/internal/signal"
	"github.com/hpungsan/pulse/internal/telemetry"
)

// Deps wires a Machine. Config and Catalog are required; everything else
// has a usable default.
type Deps struct {
	Config  *config.Config
	Catalog *breaks.Catalog

	// Restored state.
	Prefs            prefs.Model
	Cooldown         cooldown.State
	RecentActivities []string

	Coach   coach.Coach
	Chat    coach.Chat
	Store   Store
	Clock   clock.Clock
	Rand    *rand.Rand
	Logger  *zap.Logger
	Metrics *telemetry.Recorder
}

// Machine is the suggestion state machine. All methods are safe for
// concurrent use; mutations are serialized by a single mutex.
type Machine struct {
	mu sync.Mutex

	threshold       float64
	coachTimeout    time.Duration
	feedbackTimeout time.Duration

	smoother *signal.Smoother
	policy   *cooldown.Policy
	selector *selector.Selector
	agg      *prefs.Aggregator
	catalog  *breaks.Catalog
	rotation *breaks.Rotation
	rng      *rand.Rand
	entropy  io.Reader
	model    prefs.Model

	coach   coach.Coach
	chat    coach.Chat
	store   Store
	clock   clock.Clock
	logger  *zap.Logger
	metrics *telemetry.Recorder

	state State
	cur   *live

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// live is the session in progress. It is nil whenever the machine is Idle.
type live struct {
	id        string
	trigger   string
	stress    float64
	raisedAt  time.Time
	suggested breaks.Variant
	chosen    *breaks.Variant
	activity  breaks.Activity
	message   string
	cancel    context.CancelFunc

	outcome      prefs.Outcome
	sentiment    prefs.Sentiment
	pending      *prefs.Event
	history      []coach.ChatMessage
	lastActivity time.Time
}

func (l *live) variant() breaks.Variant {
	if l.chosen != nil {
		return *l.chosen
	}
	return l.suggested
}

// New creates a Machine in Idle.
func New(d Deps) (*Machine, error) {
	if d.Config == nil {
		return nil, errors.New("session: config is required")
	}
	if err := d.Config.Validate(); err != nil {
		return nil, err
	}
	if d.Catalog == nil || d.Catalog.Len() == 0 {
		return nil, errors.New("session: catalog is required")
	}
	cfg := d.Config

	var (
		sm  *signal.Smoother
		err error
	)
	if cfg.SeedSmoother {
		sm, err = signal.NewSeeded(cfg.Alpha, cfg.SmootherSeed)
	} else {
		sm, err = signal.New(cfg.Alpha)
	}
	if err != nil {
		return nil, perrors.NewInvalidConfig("alpha", err.Error())
	}

	if d.Coach == nil {
		d.Coach = coach.Static{}
	}
	if d.Chat == nil {
		d.Chat = coach.Static{}
	}
	if d.Store == nil {
		d.Store = nopStore{}
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.Noop()
	}

	model := d.Prefs
	if model.Scores == nil {
		model = prefs.NewModel()
	}
	model, dropped := model.Sanitize()
	if dropped > 0 {
		d.Logger.Warn("dropped invalid preference entries", zap.Int("dropped", dropped))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		threshold:       cfg.HighThreshold,
		coachTimeout:    cfg.CoachTimeout(),
		feedbackTimeout: cfg.FeedbackTimeout(),
		smoother:        sm,
		policy:          cooldown.New(cfg.MinInterval(), cfg.DismissCooldown(), d.Cooldown),
		selector:        selector.New(cfg.Epsilon, cfg.OptimisticScore, d.Rand),
		agg: prefs.NewAggregator(
			prefs.Rewards{
				Completed: cfg.Rewards.Completed,
				Skipped:   cfg.Rewards.Skipped,
				Dismissed: cfg.Rewards.Dismissed,
			},
			prefs.Multipliers{
				Positive: cfg.SentimentMultipliers.Positive,
				Neutral:  cfg.SentimentMultipliers.Neutral,
				Negative: cfg.SentimentMultipliers.Negative,
			},
		),
		catalog:  d.Catalog,
		rotation: breaks.NewRotation(cfg.RecentActivityWindow, d.RecentActivities),
		rng:      d.Rand,
		entropy:  ulid.Monotonic(crand.Reader, 0),
		model:    model,
		coach:    d.Coach,
		chat:     d.Chat,
		store:    d.Store,
		clock:    d.Clock,
		logger:   d.Logger.Named("session"),
		metrics:  d.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Ingest folds a sample into the smoothed signal and raises a suggestion
// when the machine is Idle, the user is present, the smoothed value is
// above the threshold, and the cooldown allows it. It reports whether a
// suggestion was raised. Non-finite readings are dropped before smoothing.
func (m *Machine) Ingest(s signal.Sample) bool {
	if math.IsNaN(s.Raw) || math.IsInf(s.Raw, 0) {
		m.logger.Debug("dropping non-finite sample", zap.Float64("raw", s.Raw))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.expireFeedback(now)

	at := s.ObservedAt
	if at.IsZero() {
		at = now
	}
	v := m.smoother.Update(s.Raw, at)
	m.metrics.SmoothedStress(m.ctx, v)

	if m.closed || m.state != Idle || !s.UserPresent {
		return false
	}
	if v <= m.threshold || !m.policy.CanEvaluate(now) {
		return false
	}

	m.startEvaluating(now, TriggerThreshold, v)
	return true
}

// Force raises a suggestion immediately, bypassing the threshold and the
// cooldown. It is a no-op unless the machine is Idle.
func (m *Machine) Force() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.expireFeedback(now)

	if m.closed || m.state != Idle {
		return false
	}
	m.startEvaluating(now, TriggerForce, m.smoother.Value())
	return true
}

// startEvaluating selects a variant and starts the coaching fetch.
// Caller holds m.mu.
func (m *Machine) startEvaluating(now time.Time, trigger string, stress float64) {
	v := m.selector.Choose(m.catalog.Variants(), m.model)
	a := m.rotation.Pick(v, m.rng)
	m.persistRecent()

	ctx, cancel := context.WithTimeout(m.ctx, m.coachTimeout)
	m.cur = &live{
		id:        m.newID(now),
		trigger:   trigger,
		stress:    stress,
		raisedAt:  now,
		suggested: v,
		activity:  a,
		cancel:    cancel,
	}
	m.state = Evaluating
	m.metrics.Suggestion(m.ctx, trigger)
	m.logger.Info("suggestion raised",
		zap.String("session_id", m.cur.id),
		zap.String("trigger", trigger),
		zap.Float64("smoothed", stress),
		zap.String("variant", v.ID),
		zap.String("activity", a.Title),
	)

	req := coach.Request{StressLevel: stress, Variant: v, Activity: a}
	m.wg.Add(1)
	go m.fetchMessage(ctx, cancel, m.cur.id, req)
}

func (m *Machine) fetchMessage(ctx context.Context, cancel context.CancelFunc, id string, req coach.Request) {
	defer m.wg.Done()
	defer cancel()

	msg, err := m.coach.Message(ctx, req)
	reason := ""
	switch {
	case err != nil:
		reason = "error"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		msg = coach.FailureMessage(req.Variant, req.Activity)
	case strings.TrimSpace(msg) == "":
		reason = "empty"
		msg = coach.EmptyMessage(req.Activity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state != Evaluating || m.cur == nil || m.cur.id != id {
		m.logger.Debug("discarding stale coaching message", zap.String("session_id", id))
		return
	}
	if reason != "" {
		m.metrics.CoachFallback(m.ctx, reason)
		m.logger.Warn("coaching message unavailable, using fallback",
			zap.String("session_id", id),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}

	m.cur.message = strings.TrimSpace(msg)
	m.cur.cancel = nil
	m.state = Suggesting
	m.logger.Debug("suggestion ready", zap.String("session_id", id))
}

// Accept moves a shown suggestion to AwaitingChoice.
func (m *Machine) Accept() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state != Suggesting {
		return false
	}
	m.state = AwaitingChoice
	m.logger.Debug("suggestion accepted", zap.String("session_id", m.cur.id))
	return true
}

// Choose binds the variant the user will perform and starts the break.
// An empty id keeps the suggested variant. An id missing from the catalog
// returns UNKNOWN_VARIANT and leaves the machine unchanged.
func (m *Machine) Choose(variantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state != AwaitingChoice {
		return false, nil
	}

	variantID = strings.TrimSpace(variantID)
	if variantID != "" && variantID != m.cur.suggested.ID {
		v, ok := m.catalog.Get(variantID)
		if !ok {
			return false, perrors.NewUnknownVariant(variantID)
		}
		m.cur.chosen = &v
		m.cur.activity = m.rotation.Pick(v, m.rng)
		m.persistRecent()
	}

	m.state = BreakActive
	m.logger.Info("break started",
		zap.String("session_id", m.cur.id),
		zap.String("variant", m.cur.variant().ID),
		zap.String("activity", m.cur.activity.Title),
	)
	return true, nil
}

// Dismiss ends a pending or shown suggestion without a break. cooldown
// overrides the default dismissal cooldown; the global minimum interval
// still applies.
func (m *Machine) Dismiss(cooldown *time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || (m.state != Evaluating && m.state != Suggesting) {
		return false
	}

	now := m.clock.Now()
	if m.cur.cancel != nil {
		m.cur.cancel()
	}

	e := prefs.Event{
		ID:         m.newID(now),
		SessionID:  m.cur.id,
		VariantID:  m.cur.suggested.ID,
		Outcome:    prefs.Dismissed,
		OccurredAt: now,
	}
	m.cur.outcome = prefs.Dismissed
	m.apply(e)
	m.metrics.Outcome(m.ctx, string(prefs.Dismissed), e.VariantID)

	m.policy.OnDismissed(now, cooldown)
	m.persistCooldown()

	m.finish(now)
	return true
}

// Complete ends an active break as completed.
func (m *Machine) Complete(s prefs.Sentiment) bool {
	return m.endBreak(prefs.Completed, s)
}

// Skip ends an active break as skipped.
func (m *Machine) Skip(s prefs.Sentiment) bool {
	return m.endBreak(prefs.Skipped, s)
}

// endBreak records the outcome and moves to AwaitingFeedback. A sentiment
// given with the command is applied at once; otherwise the update waits
// for the feedback exchange.
func (m *Machine) endBreak(o prefs.Outcome, s prefs.Sentiment) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state != BreakActive {
		return false
	}

	now := m.clock.Now()
	e := prefs.Event{
		ID:         m.newID(now),
		SessionID:  m.cur.id,
		VariantID:  m.cur.variant().ID,
		Outcome:    o,
		Sentiment:  s,
		OccurredAt: now,
	}
	m.cur.outcome = o
	m.metrics.Outcome(m.ctx, string(o), e.VariantID)

	if s != prefs.SentimentNone {
		m.apply(e)
	} else {
		m.cur.pending = &e
		m.recordEvent(e)
	}

	m.policy.OnSessionEnded(now, nil)
	m.persistCooldown()

	m.cur.lastActivity = now
	m.state = AwaitingFeedback
	m.logger.Info("break ended",
		zap.String("session_id", m.cur.id),
		zap.String("outcome", string(o)),
		zap.String("variant", e.VariantID),
		zap.String("sentiment", string(s)),
	)
	return true
}

// Feedback sends free text to the chat collaborator while AwaitingFeedback.
// The first sentiment the chat derives settles a pending preference update.
// applied is false when the machine was not (or is no longer) awaiting
// feedback for the same session.
func (m *Machine) Feedback(ctx context.Context, text string) (reply coach.Reply, applied bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return coach.Reply{}, false, perrors.NewInvalidRequest("feedback text is required")
	}

	m.mu.Lock()
	now := m.clock.Now()
	m.expireFeedback(now)
	if m.closed || m.state != AwaitingFeedback {
		m.mu.Unlock()
		return coach.Reply{}, false, nil
	}
	id := m.cur.id
	m.cur.history = append(m.cur.history, coach.ChatMessage{Role: coach.RoleUser, Content: text})
	m.cur.lastActivity = now
	history := append([]coach.ChatMessage(nil), m.cur.history...)
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.coachTimeout)
	reply, err = m.chat.Reply(cctx, history)
	cancel()
	if err != nil {
		m.logger.Warn("feedback chat unavailable, using default reply",
			zap.String("session_id", id),
			zap.Error(err),
		)
		reply = coach.Reply{Text: coach.DefaultReply}
	}
	if strings.TrimSpace(reply.Text) == "" {
		reply.Text = coach.DefaultReply
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state != AwaitingFeedback || m.cur == nil || m.cur.id != id {
		return reply, false, nil
	}

	m.cur.history = append(m.cur.history, coach.ChatMessage{
		Role:    coach.RoleAssistant,
		Content: coach.WithResources(reply),
	})
	m.cur.lastActivity = m.clock.Now()
	if reply.Distress {
		m.logger.Warn("feedback indicates distress", zap.String("session_id", id))
	}

	if p := m.cur.pending; p != nil && reply.Sentiment != prefs.SentimentNone {
		p.Sentiment = reply.Sentiment
		m.cur.pending = nil
		m.apply(*p)
	}
	return reply, true, nil
}

// CloseFeedback ends the feedback exchange and returns to Idle.
func (m *Machine) CloseFeedback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state != AwaitingFeedback {
		return false
	}
	m.closeFeedback(m.clock.Now())
	return true
}

// expireFeedback closes a feedback exchange idle for longer than the
// feedback timeout. Caller holds m.mu.
func (m *Machine) expireFeedback(now time.Time) {
	if m.state != AwaitingFeedback || m.feedbackTimeout <= 0 {
		return
	}
	if now.Sub(m.cur.lastActivity) < m.feedbackTimeout {
		return
	}
	m.logger.Debug("feedback timed out", zap.String("session_id", m.cur.id))
	m.closeFeedback(now)
}

func (m *Machine) closeFeedback(now time.Time) {
	if p := m.cur.pending; p != nil {
		m.cur.pending = nil
		m.apply(*p)
	}
	m.finish(now)
}

// apply folds e into the model and persists both. Caller holds m.mu.
func (m *Machine) apply(e prefs.Event) {
	m.model = m.agg.Record(e, m.model)
	m.cur.sentiment = e.Sentiment
	m.recordEvent(e)
	if err := m.store.SavePreferences(context.Background(), m.model); err != nil {
		m.logger.Error("save preferences failed", zap.Error(err))
	}
	m.logger.Debug("preferences updated",
		zap.String("variant", e.VariantID),
		zap.String("outcome", string(e.Outcome)),
		zap.String("sentiment", string(e.Sentiment)),
		zap.Float64("reward", m.agg.Reward(e)),
	)
}

// finish logs the session and returns to Idle. Caller holds m.mu.
func (m *Machine) finish(now time.Time) {
	l := m.cur
	r := Record{
		ID:               l.id,
		Trigger:          l.trigger,
		StressAtTrigger:  l.stress,
		SuggestedVariant: l.suggested.ID,
		Activity:         l.activity.Title,
		Message:          l.message,
		Outcome:          l.outcome,
		Sentiment:        l.sentiment,
		RaisedAt:         l.raisedAt,
		EndedAt:          now,
	}
	if l.chosen != nil || l.outcome != prefs.Dismissed {
		r.ChosenVariant = l.variant().ID
	}
	if err := m.store.RecordSession(context.Background(), r); err != nil {
		m.logger.Error("record session failed", zap.String("session_id", l.id), zap.Error(err))
	}

	m.cur = nil
	m.state = Idle
	m.logger.Info("session ended",
		zap.String("session_id", l.id),
		zap.String("outcome", string(l.outcome)),
	)
}

func (m *Machine) recordEvent(e prefs.Event) {
	if err := m.store.RecordEvent(context.Background(), e); err != nil {
		m.logger.Error("record feedback event failed", zap.String("event_id", e.ID), zap.Error(err))
	}
}

func (m *Machine) persistCooldown() {
	if err := m.store.SaveCooldown(context.Background(), m.policy.State()); err != nil {
		m.logger.Error("save cooldown failed", zap.Error(err))
	}
}

func (m *Machine) persistRecent() {
	if err := m.store.SaveRecentActivities(context.Background(), m.rotation.Recent()); err != nil {
		m.logger.Error("save recent activities failed", zap.Error(err))
	}
}

func (m *Machine) newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), m.entropy).String()
}

// Wait blocks until in-flight coaching fetches have finished.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// Close cancels in-flight fetches and waits for them. After Close every
// command is a no-op that reports false; samples still update the smoothed
// signal.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}
