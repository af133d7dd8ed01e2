package gate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

func (f *fixture) message(t *testing.T, from, to int64, p crew.Priority, subject, body string) int64 {
	t.Helper()
	id, err := f.store.SendMessage(context.Background(), store.SendRequest{
		FromID: from, ToID: to, Type: crew.MessageReport, Subject: subject, Body: body, Priority: p,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) recordDecision(t *testing.T, typ crew.DecisionType, subject, action string) {
	t.Helper()
	_, err := f.store.RecordDecision(context.Background(), crew.Decision{
		GateID: f.boss, HumanID: f.human, Type: typ, Action: action,
		Context: crew.DecisionContext{Subject: subject},
	})
	require.NoError(t, err)
}

func TestCompileBriefing_Morning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setTrust(t, 8)

	// Older than the overnight window.
	now := f.clock.t
	f.clock.t = now.Add(-13 * time.Hour)
	f.message(t, f.runner, f.boss, crew.PriorityHigh, "Stale alarm", "")
	f.clock.t = now

	f.message(t, f.runner, f.boss, crew.PriorityNormal, "Weekly report", "")
	f.message(t, f.runner, f.boss, crew.PriorityHigh, "Server down", "line1\nline2\nline3")
	f.message(t, f.boss, f.human, crew.PriorityNormal, "Review budget", "")
	_, err := f.gate.HandleEscalation(ctx, crew.Message{Type: crew.MessageEscalation, Subject: "Vendor call"})
	require.NoError(t, err)

	b, err := f.gate.CompileBriefing(ctx, BriefingMorning)
	require.NoError(t, err)

	assert.Equal(t, BriefingMorning, b.Kind)
	assert.Equal(t, "[Morning Brief] Tuesday Mar 10 - 3 items for your review", b.Subject)
	assert.Equal(t, crew.PriorityHigh, b.Priority)
	assert.Equal(t, 3, b.ItemCount)
	assert.Equal(t, 5, b.Burnout)
	assert.Equal(t, "Ada", b.HumanName)
	assert.Equal(t, "Boss", b.GateName)
	assert.Len(t, b.Sections.PriorityItems, 1)
	assert.Len(t, b.Sections.Overnight, 2)
	assert.Len(t, b.Sections.Queued, 1)
	assert.Len(t, b.Sections.AutoHandled, 1)

	want := strings.Join([]string{
		"Good morning, Ada. Here's your rundown.",
		"",
		"PRIORITY ITEMS:",
		"  ACTION: [HIGH] Server down (from Runner)",
		"    line1",
		"    line2",
		"",
		"OVERNIGHT ACTIVITY (2 messages):",
		"  * Weekly report (from Runner, report)",
		"",
		"QUEUED FOR YOUR REVIEW (1):",
		"  * Review budget (from Boss)",
		"",
		"HANDLED AUTONOMOUSLY (1 decisions):",
		"  * [handle] Vendor call -> High trust autonomous handling (trust=8)",
		"",
		"Best,",
		"Boss",
		"",
		"Trust level: 8/10 | Decisions today: 1 | Override rate: 0%",
	}, "\n")
	assert.Equal(t, want, b.BodyPlain)

	assert.True(t, strings.HasPrefix(b.BodyHTML, "<h1>[Morning Brief] Tuesday Mar 10 - 3 items for your review</h1>"), b.BodyHTML)
	assert.Equal(t, 7, strings.Count(b.BodyHTML, "<p>"))
	f.tel.AssertSpanAttribute(t, "gate.compile_briefing", "briefing_kind", "morning")
}

func TestCompileBriefing_MorningTone(t *testing.T) {
	tests := []struct {
		burnout  int
		messages int
		greeting string
		label    string
	}{
		{8, 1, "Light day ahead, Ada. Only the essentials.", "Just one thing to look at"},
		{7, 2, "Light day ahead, Ada. Only the essentials.", "Only 2 items need attention"},
		{4, 2, "Good morning, Ada. Here's your rundown.", "2 items for your review"},
		{3, 0, "Productive day ahead, Ada. Here's your full rundown.", "0 items ready for you"},
	}
	for _, tt := range tests {
		f := newFixture(t)
		f.setBurnout(t, tt.burnout)
		for range tt.messages {
			f.message(t, f.runner, f.boss, crew.PriorityLow, "fyi", "")
		}

		b, err := f.gate.CompileBriefing(context.Background(), BriefingMorning)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(b.BodyPlain, tt.greeting+"\n"), "burnout %d: %s", tt.burnout, b.BodyPlain)
		assert.True(t, strings.HasSuffix(b.Subject, " - "+tt.label), b.Subject)
		assert.Equal(t, crew.PriorityNormal, b.Priority)
	}
}

func TestCompileBriefing_Evening(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setTrust(t, 5)
	f.setBurnout(t, 8)

	now := f.clock.t
	f.clock.t = now.Add(-13 * time.Hour)
	f.recordDecision(t, crew.DecisionEscalate, "Yesterday", "Low trust - delivering to human")
	f.message(t, f.runner, f.boss, crew.PriorityNormal, "old", "")
	f.clock.t = now

	f.recordDecision(t, crew.DecisionHandle, "Vendor call", "Handled")
	f.recordDecision(t, crew.DecisionEscalate, "Hire contractor", "Mid-trust, novel situation - delivering to human")
	f.recordDecision(t, crew.DecisionDeliver, "Status", "Delivered")
	f.message(t, f.runner, f.boss, crew.PriorityNormal, "in", "")
	f.message(t, f.boss, f.human, crew.PriorityNormal, "out", "")

	b, err := f.gate.CompileBriefing(ctx, BriefingEvening)
	require.NoError(t, err)

	assert.Equal(t, "[Evening Summary] Tuesday Mar 10 - 1 items pending", b.Subject)
	assert.Equal(t, crew.PriorityNormal, b.Priority)
	assert.Equal(t, 3, b.ItemCount)
	want := strings.Join([]string{
		"Quick wrap-up, Ada. Rest up tonight.",
		"",
		"HANDLED TODAY (1):",
		"  * Vendor call -> Handled",
		"",
		"NEEDS YOUR DECISION TOMORROW (1):",
		"  ACTION: Hire contractor",
		"",
		"STATS: 2 messages processed, 3 decisions made",
		"",
		"Best,",
		"Boss",
		"",
		"Trust level: 5/10 | Decisions today: 3 | Override rate: 0%",
	}, "\n")
	assert.Equal(t, want, b.BodyPlain)
}

func TestCompileBriefing_EveningAllClear(t *testing.T) {
	f := newFixture(t)

	b, err := f.gate.CompileBriefing(context.Background(), BriefingEvening)
	require.NoError(t, err)
	assert.Equal(t, "[Evening Summary] Tuesday Mar 10 - All clear", b.Subject)
	assert.True(t, strings.HasPrefix(b.BodyPlain, "End of day summary, Ada.\n\nSTATS: 0 messages processed, 0 decisions made\n"))
}

func TestCompileBriefing_Urgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.gate.CompileBriefing(ctx, BriefingUrgent)
	require.NoError(t, err)
	assert.Equal(t, "[URGENT] 0 critical item(s) require attention", b.Subject)
	assert.Equal(t, "Ada - urgent items requiring immediate attention:\n\n  No critical items at this time.\n- Boss", b.BodyPlain)
	assert.Equal(t, crew.PriorityCritical, b.Priority)

	f.message(t, f.sentinel, f.human, crew.PriorityCritical, "Breach", "a\nb\nc\nd")
	delivered := f.message(t, f.sentinel, f.boss, crew.PriorityCritical, "Handled", "")
	require.NoError(t, f.store.MarkDelivered(ctx, delivered))
	f.message(t, f.runner, f.boss, crew.PriorityHigh, "Not critical", "")

	b, err = f.gate.CompileBriefing(ctx, BriefingUrgent)
	require.NoError(t, err)
	assert.Equal(t, "[URGENT] 1 critical item(s) require attention", b.Subject)
	assert.Equal(t, strings.Join([]string{
		"Ada - urgent items requiring immediate attention:",
		"",
		"  [CRITICAL] Breach (from Sentinel)",
		"    a",
		"    b",
		"    c",
		"",
		"- Boss",
	}, "\n"), b.BodyPlain)
	assert.Equal(t, 1, b.ItemCount)
}

func TestCompileBriefing_UnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.CompileBriefing(context.Background(), "weekly")
	assert.ErrorIs(t, err, ErrUnknownBriefing)
}

func TestRenderHTML_Sanitizes(t *testing.T) {
	html, err := renderHTML(`<script>alert(1)</script>`, "Hello <b onclick=\"x()\">there</b>\nsecond line\n\nnext block")
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "<b onclick")
	assert.Equal(t, 2, strings.Count(html, "<p>"))
	assert.Contains(t, html, "next block")
}
