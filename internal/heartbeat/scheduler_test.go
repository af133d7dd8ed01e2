package heartbeat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/crewgate/internal/anomaly"
	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/gate"
	"github.com/fyrsmithlabs/crewgate/internal/logging"
	"github.com/fyrsmithlabs/crewgate/internal/patterns"
	"github.com/fyrsmithlabs/crewgate/internal/replyscan"
	"github.com/fyrsmithlabs/crewgate/internal/store"
	"github.com/fyrsmithlabs/crewgate/internal/store/redisstate"
)

var testMatcher = patterns.MustCompileDefault(patterns.WithoutCredentialScan())

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

type fixture struct {
	store    *store.Memory
	gate     *gate.Gate
	security *anomaly.Scanner
	metrics  *Metrics
	clock    *testClock
	logs     *observer.ObservedLogs

	human, boss, sentinel, runner int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	st := store.NewMemory(store.WithClock(clock.Now))

	add := func(name string, typ crew.AgentType) int64 {
		id, err := st.UpsertAgent(ctx, crew.Agent{Name: name, Type: typ, Active: true})
		require.NoError(t, err)
		return id
	}
	f := &fixture{store: st, clock: clock, metrics: NewMetrics(prometheus.NewRegistry())}
	f.human = add("Ada", crew.AgentHuman)
	f.boss = add("Boss", crew.AgentRightHand)
	f.sentinel = add("Sentinel", crew.AgentSecurity)
	f.runner = add("Runner", crew.AgentWorker)

	g, err := gate.New(ctx, st, gate.Config{GateID: f.boss, HumanID: f.human}, testMatcher, logging.NewNop(),
		gate.WithClock(clock.Now))
	require.NoError(t, err)
	f.gate = g

	sec, err := anomaly.New(ctx, st, anomaly.Config{ScannerID: f.sentinel, GateID: f.boss}, logging.NewNop(),
		anomaly.WithClock(clock.Now))
	require.NoError(t, err)
	f.security = sec
	return f
}

func (f *fixture) scheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	base := []Option{
		WithClock(f.clock.Now),
		WithMetrics(f.metrics),
		WithSecurity(f.security),
		WithReplyScanner(replyscan.New(testMatcher)),
	}
	s, err := New(f.gate, f.store, Config{GateID: f.boss, HumanID: f.human}, zap.New(core), append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func (f *fixture) at(hour, minute int) {
	f.clock.t = time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

// inbox returns the messages the gate sent the human.
func (f *fixture) inbox(t *testing.T) []crew.Message {
	t.Helper()
	msgs, err := f.store.QueryMessages(context.Background(), store.MessageFilter{
		FromID: f.boss,
		ToIDs:  []int64{f.human},
	})
	require.NoError(t, err)
	return msgs
}

func only(types ...CheckType) Option {
	specs := make([]CheckSpec, len(types))
	for i, typ := range types {
		specs[i] = CheckSpec{Type: typ}
	}
	return WithChecks(specs...)
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)
	cfg := Config{GateID: f.boss, HumanID: f.human}
	logger := zap.NewNop()

	tests := []struct {
		name    string
		g       Gate
		st      Collaborators
		cfg     Config
		logger  *zap.Logger
		opts    []Option
		wantErr string
	}{
		{"nil gate", nil, f.store, cfg, logger, nil, "gate cannot be nil"},
		{"nil store", f.gate, nil, cfg, logger, nil, "store cannot be nil"},
		{"nil logger", f.gate, f.store, cfg, nil, nil, "logger cannot be nil"},
		{"missing ids", f.gate, f.store, Config{GateID: f.boss}, logger, nil, "ids are required"},
		{"zero interval", f.gate, f.store, cfg, logger, []Option{WithInterval(0)}, "interval must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.g, tt.st, tt.cfg, tt.logger, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	s, err := New(f.gate, f.store, cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.interval)
	assert.False(t, s.Running())
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, WithInterval(time.Hour), only(CheckBurnout))
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)

	s.Stop()
	assert.False(t, s.Running())
	s.Stop()

	// The first cycle runs on start.
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Ticks))

	require.NoError(t, s.Start(ctx), "a stopped scheduler can be restarted")
	s.Stop()
}

func TestScheduler_StopsWithContext(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, WithInterval(time.Hour), only(CheckBurnout))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestRunOnce_MorningBriefing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.scheduler(t, only(CheckMorningBriefing, CheckEveningSummary))

	f.at(7, 59)
	s.RunOnce(ctx)
	assert.Empty(t, f.inbox(t), "not the briefing hour")

	f.at(8, 15)
	results := s.RunOnce(ctx)
	require.Len(t, results, 2)
	assert.True(t, results[0].ActionNeeded)
	assert.Equal(t, ActionMorningBriefing, results[0].Type)
	assert.NoError(t, results[0].Err)
	assert.False(t, results[1].ActionNeeded)

	inbox := f.inbox(t)
	require.Len(t, inbox, 1)
	assert.Equal(t, crew.MessageBriefing, inbox[0].Type)
	assert.True(t, strings.HasPrefix(inbox[0].Subject, "[Morning Brief] Tuesday Mar 10"), inbox[0].Subject)
	assert.True(t, strings.HasPrefix(inbox[0].Body, "Good morning, Ada."), inbox[0].Body)

	last, err := f.store.GetConfig(ctx, "last_morning_briefing")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", last)

	// Once per day.
	f.at(8, 45)
	results = s.RunOnce(ctx)
	assert.False(t, results[0].ActionNeeded)
	assert.Len(t, f.inbox(t), 1)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Checks.WithLabelValues("morning_briefing", "action")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Notifications.WithLabelValues("morning_briefing", "sent")))
}

func TestRunOnce_BriefingHourOverride(t *testing.T) {
	f := newFixture(t)
	hour := 19
	s := f.scheduler(t, WithChecks(CheckSpec{Type: CheckEveningSummary, Hour: &hour}))

	f.at(18, 0)
	s.RunOnce(context.Background())
	assert.Empty(t, f.inbox(t))

	f.at(19, 0)
	s.RunOnce(context.Background())
	inbox := f.inbox(t)
	require.Len(t, inbox, 1)
	assert.True(t, strings.HasPrefix(inbox[0].Subject, "[Evening Summary]"), inbox[0].Subject)
}

func TestRunOnce_RateLimitedBriefingRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.at(8, 0)

	s := f.scheduler(t, only(CheckMorningBriefing), WithNotifyLimit(0, 0))
	results := s.RunOnce(ctx)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrRateLimited)
	assert.Empty(t, f.inbox(t))

	_, err := f.store.GetConfig(ctx, "last_morning_briefing")
	assert.ErrorIs(t, err, store.ErrNotFound, "marker is only set after a send")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Notifications.WithLabelValues("morning_briefing", "rate_limited")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Checks.WithLabelValues("morning_briefing", "error")))

	s = f.scheduler(t, only(CheckMorningBriefing))
	s.RunOnce(ctx)
	assert.Len(t, f.inbox(t), 1)
}

func TestRunOnce_BriefingMarkersInRedis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := f.scheduler(t, only(CheckEveningSummary), WithStateStore(redisstate.NewConfigStore(rdb, "")))
	f.at(18, 30)
	s.RunOnce(ctx)
	s.RunOnce(ctx)

	assert.Len(t, f.inbox(t), 1)
	got, err := mr.Get(redisstate.DefaultKeyPrefix + "last_evening_briefing")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", got)

	_, err = f.store.GetConfig(ctx, "last_evening_briefing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunOnce_Burnout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.scheduler(t, only(CheckBurnout))

	s.RunOnce(ctx)
	assert.Empty(t, f.inbox(t), "default burnout is 5")

	require.NoError(t, f.store.SetBurnoutScore(ctx, f.human, 7))
	results := s.RunOnce(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, ActionBurnoutAlert, results[0].Type)

	inbox := f.inbox(t)
	require.Len(t, inbox, 1)
	assert.Equal(t, crew.MessageAlert, inbox[0].Type)
	assert.Equal(t, crew.PriorityNormal, inbox[0].Priority)
	assert.Equal(t, "Burnout check-in", inbox[0].Subject)
	assert.Equal(t, "Hey, your energy seems low (burnout: 7/10). Maybe take a break? "+
		"I'll keep things running. Current load recommendation: minimal.", inbox[0].Body)
}

func TestRunOnce_StaleMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := f.clock.t
	f.clock.t = now.Add(-30 * time.Hour)
	for range 2 {
		_, err := f.store.SendMessage(ctx, store.SendRequest{
			FromID: f.runner, ToID: f.human, Type: crew.MessageReport, Subject: "old", Priority: crew.PriorityLow,
		})
		require.NoError(t, err)
	}
	f.clock.t = now

	s := f.scheduler(t, WithChecks(CheckSpec{Type: CheckStaleMessages, MaxHours: 48}))
	s.RunOnce(ctx)
	assert.Empty(t, f.inbox(t))

	s = f.scheduler(t, only(CheckStaleMessages))
	results := s.RunOnce(ctx)
	require.Len(t, results, 1)
	assert.Len(t, results[0].Data, 2)

	inbox := f.inbox(t)
	require.Len(t, inbox, 1)
	assert.Equal(t, "2 message(s) waiting for your attention", inbox[0].Subject)
	assert.Equal(t, "You have stale messages that need a look. Want me to summarize them for you?", inbox[0].Body)
}

func TestRunOnce_RemindersCoolDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetBurnoutScore(ctx, f.human, 8))

	now := f.clock.t
	f.clock.t = now.Add(-30 * time.Hour)
	_, err := f.store.SendMessage(ctx, store.SendRequest{
		FromID: f.runner, ToID: f.human, Type: crew.MessageReport, Subject: "old", Priority: crew.PriorityLow,
	})
	require.NoError(t, err)
	f.clock.t = now

	s := f.scheduler(t, WithInterval(time.Minute), only(CheckBurnout, CheckStaleMessages))
	for range 3 {
		s.RunOnce(ctx)
		f.clock.t = f.clock.t.Add(time.Minute)
	}
	assert.Len(t, f.inbox(t), 2, "one burnout alert and one stale reminder")

	marker, err := f.store.GetConfig(ctx, "last_burnout_alert")
	require.NoError(t, err)
	assert.Equal(t, now.Format(time.RFC3339), marker)
	_, err = f.store.GetConfig(ctx, "last_stale_reminder")
	require.NoError(t, err)

	f.clock.t = now.Add(reminderCooldown)
	results := s.RunOnce(ctx)
	require.Len(t, results, 2)
	assert.True(t, results[0].ActionNeeded)
	assert.True(t, results[1].ActionNeeded)
	assert.Len(t, f.inbox(t), 4, "reminders repeat once the cooldown has passed")
}

func TestRunOnce_ReminderMarkerNotWrittenWhenRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetBurnoutScore(ctx, f.human, 8))

	s := f.scheduler(t, WithNotifyLimit(0, 0), only(CheckBurnout))
	results := s.RunOnce(ctx)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrRateLimited)

	_, err := f.store.GetConfig(ctx, "last_burnout_alert")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunOnce_IntegrityAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	send := func(from int64, body string) int64 {
		id, err := f.store.SendMessage(ctx, store.SendRequest{
			FromID: from, ToID: f.human, Type: crew.MessageReport, Subject: "reply", Body: body, Priority: crew.PriorityNormal,
		})
		require.NoError(t, err)
		return id
	}

	now := f.clock.t
	f.clock.t = now.Add(-time.Hour)
	send(f.runner, "calm down")
	f.clock.t = now

	workerMsg := send(f.runner, "Just checking in. Calm down, it's fine.")
	send(f.boss, "Just checking in on the launch.")
	send(f.runner, "")
	send(f.runner, "Deployed v2 to staging. Tests green.")

	s := f.scheduler(t, only(CheckIntegrityAudit))
	results := s.RunOnce(ctx)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.False(t, results[0].ActionNeeded)

	found, ok := results[0].Data.([]IntegrityViolation)
	require.True(t, ok)
	require.Len(t, found, 2)
	for _, v := range found {
		assert.Equal(t, workerMsg, v.MessageID)
		assert.Equal(t, "Runner", v.AgentName)
		assert.NotZero(t, v.EventID)
	}

	events, err := f.store.QuerySecurityEvents(ctx, store.SecurityEventFilter{Domain: crew.DomainIntegrity})
	require.NoError(t, err)
	require.Len(t, events, 2)

	byTitle := make(map[string]crew.SecurityEvent)
	for _, ev := range events {
		byTitle[ev.Title] = ev
	}
	integrity, ok := byTitle["Integrity violation: dismissive by Runner"]
	require.True(t, ok, "titles: %v", byTitle)
	assert.Equal(t, crew.SeverityHigh, integrity.Severity)
	assert.Equal(t, "Review agent response and retrain if needed", integrity.RecommendedAction)
	assert.Equal(t, f.sentinel, integrity.ReporterID)
	assert.Equal(t, "integrity", integrity.Details["source"])

	charter, ok := byTitle["Charter violation: needy_checkin by Runner"]
	require.True(t, ok, "titles: %v", byTitle)
	assert.Equal(t, crew.SeverityMedium, charter.Severity)
	assert.Equal(t, "Warn agent; second violation = firing protocol", charter.RecommendedAction)
	assert.Equal(t, "charter", charter.Details["source"])
	assert.Equal(t, "needy_checkin", charter.Details["violation_type"])
}

func TestRunOnce_IntegrityAuditScansEachReplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	send := func(body string) int64 {
		id, err := f.store.SendMessage(ctx, store.SendRequest{
			FromID: f.runner, ToID: f.human, Type: crew.MessageReport, Subject: "reply", Body: body, Priority: crew.PriorityNormal,
		})
		require.NoError(t, err)
		return id
	}
	integrityEvents := func() []crew.SecurityEvent {
		events, err := f.store.QuerySecurityEvents(ctx, store.SecurityEventFilter{Domain: crew.DomainIntegrity})
		require.NoError(t, err)
		return events
	}
	gateAlerts := func() int {
		n, err := f.store.CountMessages(ctx, store.MessageFilter{FromID: f.sentinel, ToIDs: []int64{f.boss}})
		require.NoError(t, err)
		return n
	}

	first := send("Just checking in. Calm down, it's fine.")
	s := f.scheduler(t, WithInterval(time.Minute), only(CheckIntegrityAudit))

	for tick := range 3 {
		results := s.RunOnce(ctx)
		require.Len(t, results, 1)
		require.NoError(t, results[0].Err)
		found, _ := results[0].Data.([]IntegrityViolation)
		if tick == 0 {
			assert.Len(t, found, 2)
		} else {
			assert.Empty(t, found, "tick %d rescanned an audited reply", tick)
		}
		f.clock.t = f.clock.t.Add(time.Minute)
	}
	assert.Len(t, integrityEvents(), 2)
	assert.Equal(t, 2, gateAlerts())

	cursor, err := f.store.GetConfig(ctx, "last_integrity_audit_message")
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(first, 10), cursor)

	second := send("Calm down, you're overreacting.")
	results := s.RunOnce(ctx)
	require.Len(t, results, 1)
	found, _ := results[0].Data.([]IntegrityViolation)
	require.NotEmpty(t, found)
	for _, v := range found {
		assert.Equal(t, second, v.MessageID)
	}
	assert.Len(t, integrityEvents(), 2+len(found))
}

func TestRunOnce_IntegrityAuditMalformedCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetConfig(ctx, "last_integrity_audit_message", "not-a-number"))
	_, err := f.store.SendMessage(ctx, store.SendRequest{
		FromID: f.runner, ToID: f.human, Type: crew.MessageReport, Subject: "reply",
		Body: "Calm down, it's fine.", Priority: crew.PriorityNormal,
	})
	require.NoError(t, err)

	s := f.scheduler(t, only(CheckIntegrityAudit))
	results := s.RunOnce(ctx)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	found, _ := results[0].Data.([]IntegrityViolation)
	assert.NotEmpty(t, found)
	assert.Equal(t, 1, f.logs.FilterMessage("ignoring malformed audit cursor").Len())
}

func TestRunOnce_IntegrityAuditNotConfigured(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.gate, f.store, Config{GateID: f.boss, HumanID: f.human}, zap.NewNop(), only(CheckIntegrityAudit, CheckSecurityReconcile))
	require.NoError(t, err)

	results := s.RunOnce(context.Background())
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Nil(t, r.Data)
	}
}

func TestRunOnce_SecurityReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.LogSecurityEvent(ctx, crew.SecurityEvent{
		ReporterID: f.sentinel, Domain: crew.DomainDigital, Severity: crew.SeverityHigh, Title: "Port scan",
	})
	require.NoError(t, err)

	s := f.scheduler(t, only(CheckSecurityReconcile))
	results := s.RunOnce(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Data)

	undelivered, err := f.security.Undelivered(ctx)
	require.NoError(t, err)
	assert.Empty(t, undelivered)

	alerts, err := f.store.QueryMessages(ctx, store.MessageFilter{ToIDs: []int64{f.boss}})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "[SECURITY HIGH] Port scan", alerts[0].Subject)
}

func TestRunOnce_ChecksFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("override", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.SetConfig(ctx, ChecksConfigKey,
			`[{"type":"burnout_check","enabled":false},{"type":"stale_messages","max_hours":1}]`))
		s := f.scheduler(t)

		results := s.RunOnce(ctx)
		require.Len(t, results, 1)
		assert.Equal(t, CheckStaleMessages, results[0].Check)
	})

	t.Run("invalid JSON falls back to defaults", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.SetConfig(ctx, ChecksConfigKey, `{not json`))
		s := f.scheduler(t)

		results := s.RunOnce(ctx)
		require.Len(t, results, len(DefaultChecks()))
		assert.Equal(t, 1, f.logs.FilterMessage("invalid heartbeat checks, using defaults").Len())
	})

	t.Run("missing key uses defaults", func(t *testing.T) {
		f := newFixture(t)
		s := f.scheduler(t)

		results := s.RunOnce(ctx)
		require.Len(t, results, len(DefaultChecks()))
		for i, spec := range DefaultChecks() {
			assert.Equal(t, spec.Type, results[i].Check)
		}
	})
}

func TestRunOnce_FailingCheckContinues(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetBurnoutScore(context.Background(), f.human, 9))
	s := f.scheduler(t, WithChecks(CheckSpec{Type: "relationship_nudge"}, CheckSpec{Type: CheckBurnout}))

	results := s.RunOnce(context.Background())
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, ErrUnknownCheck)
	assert.NoError(t, results[1].Err)
	assert.Len(t, f.inbox(t), 1)

	failed := f.logs.FilterMessage("heartbeat check failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "relationship_nudge", failed[0].ContextMap()["check"])
}

type panickingGate struct{ Gate }

func (panickingGate) AssessHumanState(context.Context) (*gate.HumanStateReport, error) {
	panic("state unavailable")
}

type failingGate struct{ Gate }

func (failingGate) CompileBriefing(context.Context, gate.BriefingKind) (*gate.Briefing, error) {
	return nil, errors.New("store offline")
}

func TestRunOnce_RecoversPanickingCheck(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.DebugLevel)
	f.at(8, 0)

	s, err := New(panickingGate{f.gate}, f.store, Config{GateID: f.boss, HumanID: f.human}, zap.New(core),
		WithClock(f.clock.Now), WithMetrics(f.metrics), only(CheckBurnout, CheckMorningBriefing))
	require.NoError(t, err)

	results := s.RunOnce(context.Background())
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, ErrCheckPanicked)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, logs.FilterMessage("heartbeat check panicked, continuing").Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Checks.WithLabelValues("burnout_check", "error")))
	assert.Len(t, f.inbox(t), 1, "the briefing still went out")
}

func TestRunOnce_BriefingCompileError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.at(8, 0)

	s, err := New(failingGate{f.gate}, f.store, Config{GateID: f.boss, HumanID: f.human}, zap.NewNop(),
		WithClock(f.clock.Now), only(CheckMorningBriefing))
	require.NoError(t, err)

	results := s.RunOnce(ctx)
	require.Len(t, results, 1)
	assert.EqualError(t, results[0].Err, "store offline")
	_, err = f.store.GetConfig(ctx, "last_morning_briefing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestParseChecks(t *testing.T) {
	checks, err := ParseChecks(`[{"type":"morning_briefing","hour":7},{"type":"burnout_check","enabled":false}]`)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, 7, checks[0].hourOr(defaultMorningHour))
	assert.True(t, checks[0].IsEnabled())
	assert.False(t, checks[1].IsEnabled())
	assert.Equal(t, defaultMorningHour, checks[1].hourOr(defaultMorningHour))

	_, err = ParseChecks(`[{"hour":7}]`)
	assert.ErrorIs(t, err, ErrInvalidChecks)
	_, err = ParseChecks(`nope`)
	assert.ErrorIs(t, err, ErrInvalidChecks)
}
