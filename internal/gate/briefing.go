package gate

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

// BriefingKind selects a briefing.
type BriefingKind string

const (
	BriefingMorning BriefingKind = "morning"
	BriefingEvening BriefingKind = "evening"
	BriefingUrgent  BriefingKind = "urgent"
)

// Valid reports whether k is a known briefing kind.
func (k BriefingKind) Valid() bool {
	switch k {
	case BriefingMorning, BriefingEvening, BriefingUrgent:
		return true
	}
	return false
}

const (
	overnightWindow = 12 * time.Hour
	dayWindow       = 24 * time.Hour
	briefingDate    = "Monday Jan 02"
)

// BriefingSections carries the records a briefing was built from.
type BriefingSections struct {
	PriorityItems []crew.Message  `json:"priority_items,omitempty"`
	Overnight     []crew.Message  `json:"overnight,omitempty"`
	Queued        []crew.Message  `json:"queued,omitempty"`
	AutoHandled   []crew.Decision `json:"auto_handled,omitempty"`
	NeedsInput    []crew.Decision `json:"needs_input,omitempty"`
	Critical      []crew.Message  `json:"critical,omitempty"`
}

// Briefing is a compiled briefing for the human.
type Briefing struct {
	Kind      BriefingKind     `json:"briefing_type"`
	Subject   string           `json:"subject"`
	BodyPlain string           `json:"body_plain"`
	BodyHTML  string           `json:"body_html"`
	Priority  crew.Priority    `json:"priority"`
	ItemCount int              `json:"item_count"`
	Burnout   int              `json:"burnout"`
	HumanName string           `json:"human_name"`
	GateName  string           `json:"rh_name"`
	Sections  BriefingSections `json:"sections"`
}

// CompileBriefing builds the morning, evening or urgent briefing. The tone
// of morning and evening briefings follows the human's burnout score.
func (g *Gate) CompileBriefing(ctx context.Context, kind BriefingKind) (b *Briefing, err error) {
	ctx, span := g.startSpan(ctx, "gate.compile_briefing")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("briefing_kind", string(kind)))

	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBriefing, kind)
	}
	snap, err := g.refresh(ctx)
	if err != nil {
		return nil, err
	}
	names, err := g.agentNames(ctx)
	if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	switch kind {
	case BriefingMorning:
		b, err = g.compileMorning(ctx, now, snap, names)
	case BriefingEvening:
		b, err = g.compileEvening(ctx, now, snap)
	default:
		b, err = g.compileUrgent(ctx, snap, names)
	}
	if err != nil {
		return nil, err
	}
	b.Kind = kind
	b.Burnout = snap.burnout()
	b.HumanName = snap.human.Name
	b.GateName = snap.gate.Name
	b.BodyHTML, err = renderHTML(b.Subject, b.BodyPlain)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("item_count", b.ItemCount))
	return b, nil
}

func (g *Gate) compileMorning(ctx context.Context, now time.Time, snap snapshot, names agentNames) (*Briefing, error) {
	inbox, err := g.store.QueryMessages(ctx, store.MessageFilter{
		ToIDs: []int64{g.cfg.GateID},
		Since: now.Add(-overnightWindow),
		Order: store.PriorityFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	queued, err := g.store.QueryMessages(ctx, store.MessageFilter{
		ToIDs:    []int64{g.cfg.HumanID},
		Statuses: []crew.MessageStatus{crew.StatusQueued},
		Order:    store.PriorityFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("query queued: %w", err)
	}
	decisions, err := g.decisionsSince(ctx, now.Add(-dayWindow))
	if err != nil {
		return nil, err
	}
	autonomy, err := g.autonomy(ctx, snap)
	if err != nil {
		return nil, err
	}

	handled := autoHandled(decisions)
	itemCount := len(inbox) + len(queued)
	human := snap.human.Name

	var greeting, label string
	switch b := snap.burnout(); {
	case b >= crew.BurnoutHigh:
		greeting = fmt.Sprintf("Light day ahead, %s. Only the essentials.", human)
		label = fmt.Sprintf("Only %d items need attention", itemCount)
		if itemCount <= 1 {
			label = "Just one thing to look at"
		}
	case b >= 4:
		greeting = fmt.Sprintf("Good morning, %s. Here's your rundown.", human)
		label = fmt.Sprintf("%d items for your review", itemCount)
	default:
		greeting = fmt.Sprintf("Productive day ahead, %s. Here's your full rundown.", human)
		label = fmt.Sprintf("%d items ready for you", itemCount)
	}

	var priority []crew.Message
	for _, m := range inbox {
		if m.Priority.Rank() >= crew.PriorityHigh.Rank() {
			priority = append(priority, m)
		}
	}

	lines := []string{greeting, ""}
	if len(priority) > 0 {
		lines = append(lines, "PRIORITY ITEMS:")
		for _, m := range priority {
			lines = append(lines, fmt.Sprintf("  ACTION: [%s] %s (from %s)",
				strings.ToUpper(string(m.Priority)), m.Subject, names.of(m.FromID)))
			lines = append(lines, bodyLines(m.Body, 2)...)
		}
		lines = append(lines, "")
	}
	if len(inbox) > 0 {
		lines = append(lines, fmt.Sprintf("OVERNIGHT ACTIVITY (%d messages):", len(inbox)))
		for _, m := range inbox {
			if m.Priority.Rank() < crew.PriorityHigh.Rank() {
				lines = append(lines, fmt.Sprintf("  * %s (from %s, %s)", m.Subject, names.of(m.FromID), m.Type))
			}
		}
		lines = append(lines, "")
	}
	if len(queued) > 0 {
		lines = append(lines, fmt.Sprintf("QUEUED FOR YOUR REVIEW (%d):", len(queued)))
		for _, m := range queued {
			lines = append(lines, fmt.Sprintf("  * %s (from %s)", m.Subject, names.of(m.FromID)))
		}
		lines = append(lines, "")
	}
	if len(handled) > 0 {
		lines = append(lines, fmt.Sprintf("HANDLED AUTONOMOUSLY (%d decisions):", len(handled)))
		for _, d := range handled {
			lines = append(lines, fmt.Sprintf("  * [%s] %s -> %s", d.Type, subjectOf(d), d.Action))
		}
		lines = append(lines, "")
	}
	lines = append(lines, signature(snap.gate.Name, autonomy, len(decisions))...)

	b := &Briefing{
		Subject:   fmt.Sprintf("[Morning Brief] %s - %s", now.Format(briefingDate), label),
		BodyPlain: strings.Join(lines, "\n"),
		Priority:  crew.PriorityNormal,
		ItemCount: itemCount,
		Sections: BriefingSections{
			PriorityItems: priority,
			Overnight:     inbox,
			Queued:        queued,
			AutoHandled:   handled,
		},
	}
	if len(priority) > 0 {
		b.Priority = crew.PriorityHigh
	}
	return b, nil
}

func (g *Gate) compileEvening(ctx context.Context, now time.Time, snap snapshot) (*Briefing, error) {
	since := now.Add(-overnightWindow)
	decisions, err := g.decisionsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	received, err := g.store.CountMessages(ctx, store.MessageFilter{ToIDs: []int64{g.cfg.GateID}, Since: since})
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	sent, err := g.store.CountMessages(ctx, store.MessageFilter{FromID: g.cfg.GateID, Since: since})
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	autonomy, err := g.autonomy(ctx, snap)
	if err != nil {
		return nil, err
	}

	handled := autoHandled(decisions)
	var needsInput []crew.Decision
	for _, d := range decisions {
		if d.Type == crew.DecisionEscalate {
			needsInput = append(needsInput, d)
		}
	}

	greeting := fmt.Sprintf("End of day summary, %s.", snap.human.Name)
	if snap.burnout() >= crew.BurnoutHigh {
		greeting = fmt.Sprintf("Quick wrap-up, %s. Rest up tonight.", snap.human.Name)
	}

	lines := []string{greeting, ""}
	if len(handled) > 0 {
		lines = append(lines, fmt.Sprintf("HANDLED TODAY (%d):", len(handled)))
		for _, d := range handled {
			lines = append(lines, fmt.Sprintf("  * %s -> %s", subjectOf(d), d.Action))
		}
		lines = append(lines, "")
	}
	if len(needsInput) > 0 {
		lines = append(lines, fmt.Sprintf("NEEDS YOUR DECISION TOMORROW (%d):", len(needsInput)))
		for _, d := range needsInput {
			lines = append(lines, "  ACTION: "+subjectOf(d))
		}
		lines = append(lines, "")
	}
	lines = append(lines, fmt.Sprintf("STATS: %d messages processed, %d decisions made", received+sent, len(decisions)), "")
	lines = append(lines, signature(snap.gate.Name, autonomy, len(decisions))...)

	status := "All clear"
	if len(needsInput) > 0 {
		status = fmt.Sprintf("%d items pending", len(needsInput))
	}
	return &Briefing{
		Subject:   fmt.Sprintf("[Evening Summary] %s - %s", now.Format(briefingDate), status),
		BodyPlain: strings.Join(lines, "\n"),
		Priority:  crew.PriorityNormal,
		ItemCount: len(decisions),
		Sections:  BriefingSections{AutoHandled: handled, NeedsInput: needsInput},
	}, nil
}

func (g *Gate) compileUrgent(ctx context.Context, snap snapshot, names agentNames) (*Briefing, error) {
	critical, err := g.store.QueryMessages(ctx, store.MessageFilter{
		ToIDs:      []int64{g.cfg.GateID, g.cfg.HumanID},
		Priorities: []crew.Priority{crew.PriorityCritical},
		Statuses:   []crew.MessageStatus{crew.StatusQueued},
		Order:      store.NewestFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("query critical: %w", err)
	}

	lines := []string{snap.human.Name + " - urgent items requiring immediate attention:", ""}
	for _, m := range critical {
		lines = append(lines, fmt.Sprintf("  [CRITICAL] %s (from %s)", m.Subject, names.of(m.FromID)))
		lines = append(lines, bodyLines(m.Body, 3)...)
		lines = append(lines, "")
	}
	if len(critical) == 0 {
		lines = append(lines, "  No critical items at this time.")
	}
	lines = append(lines, "- "+snap.gate.Name)

	return &Briefing{
		Subject:   fmt.Sprintf("[URGENT] %d critical item(s) require attention", len(critical)),
		BodyPlain: strings.Join(lines, "\n"),
		Priority:  crew.PriorityCritical,
		ItemCount: len(critical),
		Sections:  BriefingSections{Critical: critical},
	}, nil
}

// decisionsSince returns the gate's decisions since t, oldest first.
func (g *Gate) decisionsSince(ctx context.Context, t time.Time) ([]crew.Decision, error) {
	decisions, err := g.store.QueryDecisions(ctx, store.DecisionFilter{GateID: g.cfg.GateID, Since: t})
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	slices.Reverse(decisions)
	return decisions, nil
}

func autoHandled(decisions []crew.Decision) []crew.Decision {
	var out []crew.Decision
	for _, d := range decisions {
		if d.Type == crew.DecisionHandle || d.Type == crew.DecisionFilter {
			out = append(out, d)
		}
	}
	return out
}

func subjectOf(d crew.Decision) string {
	if d.Context.Subject == "" {
		return "N/A"
	}
	return d.Context.Subject
}

func bodyLines(body string, n int) []string {
	if body == "" {
		return nil
	}
	parts := strings.Split(body, "\n")
	if len(parts) > n {
		parts = parts[:n]
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = "    " + p
	}
	return out
}

func signature(gateName string, a *AutonomyReport, decisions int) []string {
	return []string{
		"Best,",
		gateName,
		"",
		fmt.Sprintf("Trust level: %d/10 | Decisions today: %d | Override rate: %.0f%%",
			a.TrustScore, decisions, a.OverrideRatePct),
	}
}

type agentNames map[int64]string

func (n agentNames) of(id int64) string {
	if name, ok := n[id]; ok {
		return name
	}
	return fmt.Sprintf("agent %d", id)
}

func (g *Gate) agentNames(ctx context.Context) (agentNames, error) {
	agents, err := g.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	names := make(agentNames, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}
	return names, nil
}

var briefingTemplate = template.Must(template.New("briefing").Parse(
	`<h1>{{.Subject}}</h1>
{{range .Blocks}}<p>{{range $i, $line := .}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p>
{{end}}`))

// htmlPolicy is safe for concurrent use once built.
var htmlPolicy = bluemonday.UGCPolicy()

// renderHTML turns a plain briefing into sanitized HTML: one paragraph per
// blank-line separated block, line breaks kept.
func renderHTML(subject, plain string) (string, error) {
	var blocks [][]string
	for _, block := range strings.Split(plain, "\n\n") {
		block = strings.Trim(block, "\n")
		if block == "" {
			continue
		}
		blocks = append(blocks, strings.Split(block, "\n"))
	}
	var buf bytes.Buffer
	err := briefingTemplate.Execute(&buf, struct {
		Subject string
		Blocks  [][]string
	}{subject, blocks})
	if err != nil {
		return "", fmt.Errorf("render briefing html: %w", err)
	}
	return htmlPolicy.Sanitize(buf.String()), nil
}
