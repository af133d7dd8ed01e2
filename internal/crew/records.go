package crew

import (
	"encoding/json"
	"time"
)

// Trust and burnout scores live in [MinScore, MaxScore].
const (
	MinScore = 1
	MaxScore = 10
)

// BurnoutHigh is the burnout score from which the gate protects the human.
const BurnoutHigh = 7

// Agent is one member of the hierarchy.
type Agent struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Type         AgentType   `json:"agent_type"`
	Status       AgentStatus `json:"status"`
	Active       bool        `json:"active"`
	ParentID     int64       `json:"parent_id,omitempty"`
	TrustScore   int         `json:"trust_score"`
	BurnoutScore int         `json:"burnout_score"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Role derives the agent's role from its type.
func (a *Agent) Role() Role {
	return a.Type.Role()
}

// Message travels between agents.
type Message struct {
	ID          int64         `json:"id"`
	FromID      int64         `json:"from_id"`
	ToID        int64         `json:"to_id"`
	Type        MessageType   `json:"message_type"`
	Subject     string        `json:"subject"`
	Body        string        `json:"body"`
	Priority    Priority      `json:"priority"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
}

// DecisionContext is the snapshot stored with a decision.
type DecisionContext struct {
	MessageID   int64             `json:"message_id,omitempty"`
	MessageType MessageType       `json:"message_type,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Priority    Priority          `json:"priority,omitempty"`
	FromID      int64             `json:"from_id,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Decision is one gate verdict, optionally with human feedback.
type Decision struct {
	ID            int64           `json:"id"`
	GateID        int64           `json:"gate_id"`
	HumanID       int64           `json:"human_id"`
	Type          DecisionType    `json:"decision_type"`
	Context       DecisionContext `json:"context"`
	Action        string          `json:"action"`
	Reasoning     string          `json:"reasoning"`
	Tags          []string        `json:"tags,omitempty"`
	HumanOverride *bool           `json:"human_override,omitempty"`
	HumanAction   string          `json:"human_action,omitempty"`
	FeedbackNote  string          `json:"feedback_note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Overridden reports whether the human overrode this decision.
func (d *Decision) Overridden() bool {
	return d.HumanOverride != nil && *d.HumanOverride
}

// SecurityEvent is a logged threat.
type SecurityEvent struct {
	ID                int64          `json:"id"`
	ReporterID        int64          `json:"reporter_id"`
	Domain            ThreatDomain   `json:"threat_domain"`
	Severity          Severity       `json:"severity"`
	Title             string         `json:"title"`
	Details           map[string]any `json:"details,omitempty"`
	RecommendedAction string         `json:"recommended_action,omitempty"`
	DeliveredToGate   bool           `json:"delivered_to_gate"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	Resolution        string         `json:"resolution,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Resolved reports whether the event has been resolved.
func (e *SecurityEvent) Resolved() bool {
	return e.ResolvedAt != nil
}

// AuditEntry is one line of an agent's audit trail. Details is free-form
// JSON as written by the recording component.
type AuditEntry struct {
	ID        int64           `json:"id"`
	AgentID   int64           `json:"agent_id"`
	EventType string          `json:"event_type"`
	Details   json.RawMessage `json:"details,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// KnowledgeEntry is a piece of remembered context.
type KnowledgeEntry struct {
	ID        int64             `json:"id"`
	AgentID   int64             `json:"agent_id"`
	Category  KnowledgeCategory `json:"category"`
	Subject   string            `json:"subject"`
	Content   string            `json:"content"`
	Tags      []string          `json:"tags,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SkillRegistryEntry records a vetting decision for one skill version.
type SkillRegistryEntry struct {
	Name        string     `json:"skill_name"`
	ContentHash string     `json:"content_hash"`
	Status      VetStatus  `json:"vet_status"`
	Source      string     `json:"source,omitempty"`
	Author      string     `json:"author,omitempty"`
	RiskScore   int        `json:"risk_score"`
	RiskFlags   []string   `json:"risk_flags,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	VettedBy    string     `json:"vetted_by,omitempty"`
	VettedAt    *time.Time `json:"vetted_at,omitempty"`
}

// HumanState is the human's wellbeing snapshot.
type HumanState struct {
	BurnoutScore        int        `json:"burnout_score"`
	Energy              string     `json:"energy_level"`
	Activity            string     `json:"current_activity"`
	Mood                string     `json:"mood_indicator"`
	ConsecutiveWorkDays int        `json:"consecutive_work_days"`
	LastSocialActivity  *time.Time `json:"last_social_activity,omitempty"`
}

// DefaultHumanState is used when the store has no row for the human.
func DefaultHumanState() HumanState {
	return HumanState{
		BurnoutScore: 5,
		Energy:       "medium",
		Activity:     "working",
		Mood:         "neutral",
	}
}

// WithDefaults fills empty fields from DefaultHumanState.
func (s HumanState) WithDefaults() HumanState {
	d := DefaultHumanState()
	if s.BurnoutScore == 0 {
		s.BurnoutScore = d.BurnoutScore
	}
	if s.Energy == "" {
		s.Energy = d.Energy
	}
	if s.Activity == "" {
		s.Activity = d.Activity
	}
	if s.Mood == "" {
		s.Mood = d.Mood
	}
	return s
}

// HumanProfile holds the human's communication preferences.
type HumanProfile struct {
	Formality string `json:"formality"`
	Timezone  string `json:"timezone,omitempty"`
}

// FormalityOrDefault returns the formality, "casual" when unset.
func (p HumanProfile) FormalityOrDefault() string {
	if p.Formality == "" {
		return "casual"
	}
	return p.Formality
}

// TimingVerdict is the store's answer to "may this be delivered now?".
type TimingVerdict struct {
	Deliver    bool       `json:"deliver"`
	Reason     string     `json:"reason"`
	DelayUntil *time.Time `json:"delay_until,omitempty"`
}
