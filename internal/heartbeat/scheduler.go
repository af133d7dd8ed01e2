// Package heartbeat runs the gate's proactive checks on a fixed interval:
// the daily briefings, burnout and stale message reminders, the reply
// integrity audit and security alert reconciliation.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/crewgate/internal/anomaly"
	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/gate"
	"github.com/fyrsmithlabs/crewgate/internal/replyscan"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

const (
	// DefaultInterval is the time between heartbeat cycles.
	DefaultInterval = 30 * time.Minute

	// DefaultNotifyRate and DefaultNotifyBurst bound how fast the heartbeat
	// may message the human.
	DefaultNotifyRate  = rate.Limit(0.2)
	DefaultNotifyBurst = 5

	tickTimeout = 10 * time.Minute
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler is already running")
	// ErrUnknownCheck is returned for a check type the heartbeat cannot run.
	ErrUnknownCheck = errors.New("unknown heartbeat check")
	// ErrInvalidChecks indicates a malformed check list.
	ErrInvalidChecks = errors.New("invalid heartbeat checks")
	// ErrRateLimited is returned when a notification exceeds the send rate.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrCheckPanicked wraps a recovered panic from a single check.
	ErrCheckPanicked = errors.New("heartbeat check panicked")
)

// Gate is the part of the gate the heartbeat drives.
type Gate interface {
	CompileBriefing(ctx context.Context, kind gate.BriefingKind) (*gate.Briefing, error)
	AssessHumanState(ctx context.Context) (*gate.HumanStateReport, error)
}

// Security logs integrity violations and retries undelivered alerts.
type Security interface {
	LogEvent(ctx context.Context, req anomaly.EventRequest) (int64, error)
	Reconcile(ctx context.Context) (int, error)
}

var _ Security = (*anomaly.Scanner)(nil)

// Collaborators is the store surface the heartbeat reads and writes.
type Collaborators interface {
	store.Agents
	store.Messages
	store.Config
}

// Config identifies the gate and the human it serves.
type Config struct {
	GateID  int64
	HumanID int64
}

// Scheduler runs the heartbeat checks in the background.
//
// All public methods are safe for concurrent use.
type Scheduler struct {
	gate     Gate
	store    Collaborators
	state    store.Config
	security Security
	replies  *replyscan.Scanner
	cfg      Config

	interval time.Duration
	checks   []CheckSpec
	now      func() time.Time
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *zap.Logger

	// mu protects running, stopCh and done.
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between cycles. Defaults to DefaultInterval.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// WithChecks fixes the check list. Without it every cycle reads the
// ChecksConfigKey override and falls back to DefaultChecks.
func WithChecks(checks ...CheckSpec) Option {
	return func(s *Scheduler) {
		s.checks = checks
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStateStore keeps the briefing markers somewhere other than the main
// store, such as redis.
func WithStateStore(c store.Config) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.state = c
		}
	}
}

// WithSecurity enables the integrity audit and security reconcile checks.
func WithSecurity(sec Security) Option {
	return func(s *Scheduler) {
		s.security = sec
	}
}

// WithReplyScanner sets the scanner used by the integrity audit.
func WithReplyScanner(r *replyscan.Scanner) Option {
	return func(s *Scheduler) {
		s.replies = r
	}
}

// WithNotifyLimit bounds the notification rate.
func WithNotifyLimit(limit rate.Limit, burst int) Option {
	return func(s *Scheduler) {
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a Scheduler. It does not start it.
func New(g Gate, st Collaborators, cfg Config, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if g == nil {
		return nil, fmt.Errorf("gate cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.GateID <= 0 || cfg.HumanID <= 0 {
		return nil, fmt.Errorf("gate and human ids are required")
	}

	s := &Scheduler{
		gate:     g,
		store:    st,
		state:    st,
		cfg:      cfg,
		interval: DefaultInterval,
		now:      time.Now,
		limiter:  rate.NewLimiter(DefaultNotifyRate, DefaultNotifyBurst),
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", s.interval)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s, nil
}

// Start runs one cycle immediately and then one per interval until Stop is
// called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("heartbeat started", zap.Duration("interval", s.interval))
	go s.run(ctx, s.stopCh, s.done)
	return nil
}

// Stop signals the loop and waits for the current cycle to finish. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Debug("heartbeat stop called but not running")
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("heartbeat stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("heartbeat goroutine panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			s.markStopped(stop)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.safeTick(ctx)
	for {
		select {
		case <-ticker.C:
			s.safeTick(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			s.logger.Debug("heartbeat context done")
			s.markStopped(stop)
			return
		}
	}
}

// markStopped clears running unless a newer Start owns the scheduler.
func (s *Scheduler) markStopped(stop <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.stopCh == stop {
		s.running = false
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("heartbeat cycle panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	tctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()
	s.RunOnce(tctx)
}

// RunOnce runs every enabled check in order and acts on the results. A
// failing check is logged and counted; the remaining checks still run.
func (s *Scheduler) RunOnce(ctx context.Context) []Result {
	s.metrics.Ticks.Inc()

	checks := s.resolveChecks(ctx)
	results := make([]Result, 0, len(checks))
	for _, spec := range checks {
		if !spec.IsEnabled() {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		results = append(results, s.safeRunCheck(ctx, spec))
	}
	return results
}

func (s *Scheduler) resolveChecks(ctx context.Context) []CheckSpec {
	if s.checks != nil {
		return s.checks
	}
	raw, err := s.store.GetConfig(ctx, ChecksConfigKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read heartbeat checks, using defaults", zap.Error(err))
		}
		return DefaultChecks()
	}
	if raw == "" {
		return DefaultChecks()
	}
	checks, err := ParseChecks(raw)
	if err != nil {
		s.logger.Warn("invalid heartbeat checks, using defaults", zap.Error(err))
		return DefaultChecks()
	}
	return checks
}

func (s *Scheduler) safeRunCheck(ctx context.Context, spec CheckSpec) (res Result) {
	check := string(spec.Type)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("heartbeat check panicked, continuing",
				zap.String("check", check),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			s.metrics.Checks.WithLabelValues(check, outcomeError).Inc()
			res = Result{Check: spec.Type, Err: fmt.Errorf("%w: %v", ErrCheckPanicked, r)}
		}
	}()

	res, err := s.runCheck(ctx, spec)
	res.Check = spec.Type
	if err == nil && res.ActionNeeded {
		err = s.execute(ctx, res)
	}
	if err != nil {
		s.logger.Error("heartbeat check failed", zap.String("check", check), zap.Error(err))
		s.metrics.Checks.WithLabelValues(check, outcomeError).Inc()
		res.Err = err
		return res
	}

	outcome := outcomeIdle
	if res.ActionNeeded {
		outcome = outcomeAction
	}
	s.metrics.Checks.WithLabelValues(check, outcome).Inc()
	return res
}

// execute sends the notification a check asked for. The result's marker is
// written only after the send succeeds so a failed notification is retried
// on the next cycle.
func (s *Scheduler) execute(ctx context.Context, res Result) error {
	req, err := notification(res)
	if err != nil {
		return err
	}
	if err := s.notify(ctx, res.Type, req); err != nil {
		return err
	}
	if res.ConfigKey == "" {
		return nil
	}
	if err := s.state.SetConfig(ctx, res.ConfigKey, res.configValue); err != nil {
		return fmt.Errorf("record %s: %w", res.ConfigKey, err)
	}
	return nil
}

func notification(res Result) (store.SendRequest, error) {
	switch res.Type {
	case ActionMorningBriefing, ActionEveningBriefing:
		b, ok := res.Data.(*gate.Briefing)
		if !ok {
			return store.SendRequest{}, fmt.Errorf("%s: unexpected data %T", res.Type, res.Data)
		}
		return store.SendRequest{
			Type:     crew.MessageBriefing,
			Subject:  b.Subject,
			Body:     b.BodyPlain,
			Priority: b.Priority,
		}, nil

	case ActionBurnoutAlert:
		st, ok := res.Data.(*gate.HumanStateReport)
		if !ok {
			return store.SendRequest{}, fmt.Errorf("%s: unexpected data %T", res.Type, res.Data)
		}
		return store.SendRequest{
			Type:    crew.MessageAlert,
			Subject: "Burnout check-in",
			Body: fmt.Sprintf("Hey, your energy seems low (burnout: %d/10). Maybe take a break? "+
				"I'll keep things running. Current load recommendation: %s.", st.BurnoutScore, st.RecommendedLoad),
			Priority: crew.PriorityNormal,
		}, nil

	case ActionStaleReminder:
		msgs, ok := res.Data.([]crew.Message)
		if !ok {
			return store.SendRequest{}, fmt.Errorf("%s: unexpected data %T", res.Type, res.Data)
		}
		return store.SendRequest{
			Type:     crew.MessageAlert,
			Subject:  fmt.Sprintf("%d message(s) waiting for your attention", len(msgs)),
			Body:     "You have stale messages that need a look. Want me to summarize them for you?",
			Priority: crew.PriorityNormal,
		}, nil

	default:
		return store.SendRequest{}, fmt.Errorf("%w: action %q", ErrUnknownCheck, res.Type)
	}
}

// notify sends a message from the gate to the human, subject to the rate
// limit.
func (s *Scheduler) notify(ctx context.Context, action ActionType, req store.SendRequest) error {
	if !s.limiter.Allow() {
		s.metrics.Notifications.WithLabelValues(string(action), notifyRateLimited).Inc()
		return fmt.Errorf("%s: %w", action, ErrRateLimited)
	}

	req.FromID = s.cfg.GateID
	req.ToID = s.cfg.HumanID
	id, err := s.store.SendMessage(ctx, req)
	if err != nil {
		s.metrics.Notifications.WithLabelValues(string(action), notifyFailed).Inc()
		return fmt.Errorf("send %s: %w", action, err)
	}
	s.metrics.Notifications.WithLabelValues(string(action), notifySent).Inc()
	s.logger.Info("heartbeat notification sent",
		zap.String("action", string(action)),
		zap.Int64("message_id", id),
	)
	return nil
}
