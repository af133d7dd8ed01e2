package anomaly

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

type recordingPublisher struct {
	events []crew.SecurityEvent
	err    error
}

func (p *recordingPublisher) PublishSecurityEvent(_ context.Context, ev crew.SecurityEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func (f *fixture) alerts(t *testing.T) []crew.Message {
	t.Helper()
	msgs, err := f.store.QueryMessages(context.Background(), store.MessageFilter{
		ToIDs: []int64{f.gate},
		Types: []crew.MessageType{crew.MessageAlert},
	})
	require.NoError(t, err)
	return msgs
}

func TestLogEvent_AlertsGate(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, WithPublisher(pub))
	ctx := context.Background()

	id, err := f.scanner.LogEvent(ctx, EventRequest{
		Domain:            crew.DomainMutiny,
		Severity:          crew.SeverityHigh,
		Title:             "Rogue worker",
		Details:           map[string]any{"agent_id": f.runner},
		RecommendedAction: "Quarantine Runner",
	})
	require.NoError(t, err)

	alerts := f.alerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, f.sentinel, alerts[0].FromID)
	assert.Equal(t, "[SECURITY HIGH] Rogue worker", alerts[0].Subject)
	assert.Equal(t, crew.PriorityCritical, alerts[0].Priority)
	assert.Contains(t, alerts[0].Body, "Recommended Action: Quarantine Runner\n")

	events, err := f.store.QuerySecurityEvents(ctx, store.SecurityEventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, f.sentinel, events[0].ReporterID)
	assert.True(t, events[0].DeliveredToGate)

	require.Len(t, pub.events, 1)
	assert.Equal(t, id, pub.events[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Events.WithLabelValues("high")))
}

func TestLogEvent_SeverityRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scanner.LogEvent(ctx, EventRequest{Domain: crew.DomainDigital, Severity: crew.SeverityLow, Title: "Port scan"})
	require.NoError(t, err)
	assert.Empty(t, f.alerts(t), "low severity is not pushed")

	_, err = f.scanner.LogEvent(ctx, EventRequest{Domain: crew.DomainDigital, Severity: crew.SeverityMedium, Title: "Odd login"})
	require.NoError(t, err)
	alerts := f.alerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, crew.PriorityHigh, alerts[0].Priority)
	assert.Equal(t, "[SECURITY MEDIUM] Odd login", alerts[0].Subject)
	assert.NotContains(t, alerts[0].Body, "Recommended Action")
}

func TestLogEvent_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []EventRequest{
		{Domain: "weather", Severity: crew.SeverityHigh, Title: "x"},
		{Domain: crew.DomainLegal, Severity: "urgent", Title: "x"},
		{Domain: crew.DomainLegal, Severity: crew.SeverityHigh, Title: "   "},
	} {
		_, err := f.scanner.LogEvent(ctx, req)
		assert.ErrorIs(t, err, store.ErrInvalidRecord)
	}
	events, err := f.store.QuerySecurityEvents(ctx, store.SecurityEventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLogEvent_PublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("stream down")}
	f := newFixture(t, WithPublisher(pub))

	_, err := f.scanner.LogEvent(context.Background(), EventRequest{
		Domain: crew.DomainPhysical, Severity: crew.SeverityCritical, Title: "Door forced",
	})
	require.NoError(t, err)
	assert.Len(t, f.alerts(t), 1)
	f.logger.AssertLogged(t, zapcore.WarnLevel, "failed to publish security event")
}

func TestLogEvent_UndeliveredAndReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Point the scanner at a gate that does not exist yet.
	s, err := New(ctx, f.store, Config{ScannerID: f.sentinel, GateID: 99}, f.logger.Logger,
		WithClock(f.clock.Now), WithMetrics(f.metrics))
	require.NoError(t, err)

	id, err := s.LogEvent(ctx, EventRequest{Domain: crew.DomainFinancial, Severity: crew.SeverityHigh, Title: "Wire fraud"})
	require.NoError(t, err, "notification failures are swallowed")
	_, err = s.LogEvent(ctx, EventRequest{Domain: crew.DomainFinancial, Severity: crew.SeverityLow, Title: "Small refund"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FailedNotifications))
	f.logger.AssertLogged(t, zapcore.WarnLevel, "failed to alert gate")

	pending, err := s.Undelivered(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	delivered, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.FailedNotifications))

	_, err = f.store.UpsertAgent(ctx, crew.Agent{ID: 99, Name: "Backup Boss", Type: crew.AgentRightHand, Active: true})
	require.NoError(t, err)

	delivered, err = s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	pending, err = s.Undelivered(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUndelivered_SkipsResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.LogSecurityEvent(ctx, crew.SecurityEvent{
		ReporterID: f.sentinel, Domain: crew.DomainLegal, Severity: crew.SeverityCritical, Title: "Subpoena",
	})
	require.NoError(t, err)

	pending, err := f.scanner.Undelivered(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, f.store.ResolveSecurityEvent(ctx, id, "handled by counsel"))
	pending, err = f.scanner.Undelivered(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.audit(t, f.runner, "route_blocked", nil)
	f.audit(t, f.runner, "permission_denied", nil)

	_, err := f.scanner.LogEvent(ctx, EventRequest{Domain: crew.DomainMutiny, Severity: crew.SeverityCritical, Title: "Takeover attempt"})
	require.NoError(t, err)
	_, err = f.scanner.LogEvent(ctx, EventRequest{
		Domain: crew.DomainDigital, Severity: crew.SeverityHigh, Title: "Leaked token", RecommendedAction: "Rotate keys",
	})
	require.NoError(t, err)
	resolved, err := f.scanner.LogEvent(ctx, EventRequest{Domain: crew.DomainDigital, Severity: crew.SeverityHigh, Title: "Old issue"})
	require.NoError(t, err)
	require.NoError(t, f.store.ResolveSecurityEvent(ctx, resolved, "fixed"))
	_, err = f.scanner.LogEvent(ctx, EventRequest{Domain: crew.DomainDigital, Severity: crew.SeverityInfo, Title: "Heartbeat"})
	require.NoError(t, err)

	sum, err := f.scanner.Summary(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Sentinel", sum.ScannerName)
	// The human and the scanner are skipped.
	assert.Equal(t, 3, sum.AgentScan.TotalScanned)
	assert.Equal(t, map[crew.ThreatLevel]int{
		crew.ThreatNone: 2, crew.ThreatLow: 0, crew.ThreatMedium: 1, crew.ThreatHigh: 0,
	}, sum.AgentScan.ThreatCounts)
	require.Len(t, sum.AgentScan.Flagged, 1)
	assert.Equal(t, "Runner", sum.AgentScan.Flagged[0].AgentName)
	assert.Equal(t, 2, sum.AgentScan.Flagged[0].FindingCount)

	assert.Equal(t, 4, sum.RecentEvents.Total)
	assert.Equal(t, map[crew.Severity]int{
		crew.SeverityInfo: 1, crew.SeverityLow: 0, crew.SeverityMedium: 0, crew.SeverityHigh: 2, crew.SeverityCritical: 1,
	}, sum.RecentEvents.SeverityCounts)
	assert.Len(t, sum.Unresolved, 3)

	require.Len(t, sum.Recommendations, 3)
	assert.Equal(t, "[MEDIUM] Agent 'Runner': Multiple anomalies detected for 'Runner': routing_violation, "+
		"failed_permission. Recommend increased monitoring and review by the gate.", sum.Recommendations[0])
	// Unresolved events are newest first.
	assert.Equal(t, "[HIGH] Unresolved: Leaked token: Rotate keys", sum.Recommendations[1])
	assert.Equal(t, "[CRITICAL] Unresolved: Takeover attempt: review needed", sum.Recommendations[2])
}

func TestPlaceholders(t *testing.T) {
	f := newFixture(t)

	rep := f.scanner.CheckReputation("Ada", []string{"Ada Labs"})
	assert.Equal(t, StatusPlaceholder, rep.Status)
	assert.Equal(t, []string{"Ada", "Ada Labs"}, rep.Subject)
	assert.Zero(t, rep.ThreatsFound)
	assert.NotNil(t, rep.Alerts)

	fin := f.scanner.CheckFinancial([]Transaction{{Amount: 12.5, Counterparty: "ACME"}, {Amount: 3}})
	assert.Equal(t, StatusPlaceholder, fin.Status)
	assert.Equal(t, 2, fin.Analyzed)
	assert.Equal(t, f.clock.t, fin.ScannedAt)
}
