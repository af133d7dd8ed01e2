package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

// Finding categories.
const (
	CategoryMessageVolume       = "message_volume"
	CategoryRoutingViolation    = "routing_violation"
	CategoryUnusualMessageType  = "unusual_message_type"
	CategoryFailedPermission    = "failed_permission"
	CategoryDirectHumanContact  = "direct_human_contact"
	CategoryBlockedHumanContact = "blocked_human_contact_attempt"
	CategoryScanError           = "scan_error"
)

// Finding is one anomaly detected for an agent.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Subject is the agent and window under scan.
type Subject struct {
	Agent  crew.Agent
	Since  time.Time
	Window time.Duration
}

// Check is one behavioral test run against a subject.
type Check interface {
	Name() string
	Run(ctx context.Context, s Subject) ([]Finding, error)
}

// DefaultChecks returns the five standard checks in scan order.
func DefaultChecks(st Collaborators) []Check {
	return []Check{
		volumeCheck{st},
		auditCheck{
			st:       st,
			name:     CategoryRoutingViolation,
			markers:  []string{"blocked", "violation"},
			describe: "Found %d routing violation(s) or blocked attempt(s) in audit log",
		},
		unusualTypeCheck{st},
		auditCheck{
			st:       st,
			name:     CategoryFailedPermission,
			markers:  []string{"denied", "permission"},
			describe: "Found %d failed permission attempt(s) in audit log",
		},
		humanContactCheck{st},
	}
}

type volumeCheck struct{ st Collaborators }

func (volumeCheck) Name() string { return CategoryMessageVolume }

func (c volumeCheck) Run(ctx context.Context, s Subject) ([]Finding, error) {
	role := s.Agent.Role()
	limit, ok := role.VolumeThreshold()
	if !ok {
		return nil, nil
	}
	n, err := c.st.CountMessages(ctx, store.MessageFilter{FromID: s.Agent.ID, Since: s.Since})
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if n <= limit {
		return nil, nil
	}
	return []Finding{{
		Category:    CategoryMessageVolume,
		Description: fmt.Sprintf("Sent %d messages in %s (threshold: %d for role '%s')", n, formatWindow(s.Window), limit, role),
		Count:       n,
	}}, nil
}

// auditCheck counts audit entries whose event type contains any marker.
type auditCheck struct {
	st       Collaborators
	name     string
	markers  []string
	describe string
}

func (c auditCheck) Name() string { return c.name }

func (c auditCheck) Run(ctx context.Context, s Subject) ([]Finding, error) {
	entries, err := c.st.QueryAudit(ctx, s.Agent.ID, s.Since)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	n := 0
	for _, e := range entries {
		if eventTypeHas(e.EventType, c.markers...) {
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}
	return []Finding{{Category: c.name, Description: fmt.Sprintf(c.describe, n), Count: n}}, nil
}

type unusualTypeCheck struct{ st Collaborators }

func (unusualTypeCheck) Name() string { return CategoryUnusualMessageType }

func (c unusualTypeCheck) Run(ctx context.Context, s Subject) ([]Finding, error) {
	role := s.Agent.Role()
	types := role.UnusualMessageTypes()
	if len(types) == 0 {
		return nil, nil
	}
	n, err := c.st.CountMessages(ctx, store.MessageFilter{FromID: s.Agent.ID, Since: s.Since, Types: types})
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	desc := fmt.Sprintf("Sent %d message(s) of type(s) %s, unusual for role '%s'", n, strings.Join(names, ", "), role)
	return []Finding{{Category: CategoryUnusualMessageType, Description: desc, Count: n}}, nil
}

// humanContactCheck looks for agents bypassing the gate to reach the human,
// both delivered messages and blocked attempts in the audit trail.
type humanContactCheck struct{ st Collaborators }

func (humanContactCheck) Name() string { return CategoryDirectHumanContact }

func (c humanContactCheck) Run(ctx context.Context, s Subject) ([]Finding, error) {
	if s.Agent.Role().MayContactHuman() {
		return nil, nil
	}
	agents, err := c.st.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	var humans []int64
	for _, a := range agents {
		if a.Type == crew.AgentHuman {
			humans = append(humans, a.ID)
		}
	}
	if len(humans) == 0 {
		return nil, nil
	}

	var findings []Finding
	n, err := c.st.CountMessages(ctx, store.MessageFilter{FromID: s.Agent.ID, Since: s.Since, ToIDs: humans})
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if n > 0 {
		findings = append(findings, Finding{
			Category:    CategoryDirectHumanContact,
			Description: fmt.Sprintf("Sent %d message(s) directly to human; should route through the gate", n),
			Count:       n,
		})
	}

	entries, err := c.st.QueryAudit(ctx, s.Agent.ID, s.Since)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	attempts := 0
	for _, e := range entries {
		if eventTypeHas(e.EventType, "blocked", "violation") && referencesAny(e.Details, humans) {
			attempts++
		}
	}
	if attempts > 0 {
		findings = append(findings, Finding{
			Category:    CategoryBlockedHumanContact,
			Description: fmt.Sprintf("Found %d blocked attempt(s) to contact human directly", attempts),
			Count:       attempts,
		})
	}
	return findings, nil
}

func eventTypeHas(eventType string, markers ...string) bool {
	lower := strings.ToLower(eventType)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// referencesAny reports whether any value in the JSON details equals one of
// the ids, as a number or a decimal string.
func referencesAny(details json.RawMessage, ids []int64) bool {
	if len(details) == 0 {
		return false
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(string(details)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return false
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[strconv.FormatInt(id, 10)] = true
	}
	return walkValues(v, func(s string) bool { return want[s] })
}

func walkValues(v any, match func(string) bool) bool {
	switch t := v.(type) {
	case json.Number:
		return match(t.String())
	case string:
		return match(strings.TrimSpace(t))
	case map[string]any:
		for _, e := range t {
			if walkValues(e, match) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if walkValues(e, match) {
				return true
			}
		}
	}
	return false
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	}
	return d.String()
}
