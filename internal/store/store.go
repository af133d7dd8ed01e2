// Package store defines the persistence collaborators consumed by the gate,
// the anomaly scanner and the vetting pipeline, plus an in-memory
// implementation. A gorm-backed implementation lives in store/sqlstore and
// the redis adapters in store/redisstate.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrFeedbackAlreadyRecorded is returned when a decision already carries
	// human feedback. Feedback is write-once.
	ErrFeedbackAlreadyRecorded = errors.New("feedback already recorded")

	// ErrInvalidRecord indicates a record failed validation before writing.
	ErrInvalidRecord = errors.New("invalid record")
)

// MessageOrder selects the ordering of QueryMessages results.
type MessageOrder int

const (
	// NewestFirst orders by creation time, most recent first.
	NewestFirst MessageOrder = iota
	// PriorityFirst orders critical before high before normal before low,
	// then newest first.
	PriorityFirst
	// OldestFirst orders by creation time, then id, ascending.
	OldestFirst
)

// MessageFilter narrows message queries. Zero values match everything.
// AfterID keeps only messages with a larger id.
type MessageFilter struct {
	FromID     int64
	ToIDs      []int64
	Types      []crew.MessageType
	Priorities []crew.Priority
	Statuses   []crew.MessageStatus
	Since      time.Time
	Before     time.Time
	AfterID    int64
	Limit      int
	Order      MessageOrder
}

// SendRequest is a new message.
type SendRequest struct {
	FromID   int64
	ToID     int64
	Type     crew.MessageType
	Subject  string
	Body     string
	Priority crew.Priority
}

// Validate checks the enums of the request.
func (r SendRequest) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: invalid message type %q", ErrInvalidRecord, r.Type)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrInvalidRecord, r.Priority)
	}
	return nil
}

// SecurityEventFilter narrows security event queries. Results are newest
// first.
type SecurityEventFilter struct {
	Severity        crew.Severity
	MinSeverity     crew.Severity
	Domain          crew.ThreatDomain
	UnresolvedOnly  bool
	UndeliveredOnly bool
	Limit           int
}

// DecisionFilter narrows decision queries. Results are newest first.
type DecisionFilter struct {
	GateID  int64
	HumanID int64
	Types   []crew.DecisionType
	Since   time.Time
	Limit   int
}

// DecisionStats summarizes the feedback on a gate's decisions.
type DecisionStats struct {
	Total        int `json:"total"`
	WithFeedback int `json:"with_feedback"`
	Overrides    int `json:"overrides"`
}

// Rejection is a previously rejected idea.
type Rejection struct {
	ID        int64     `json:"id"`
	HumanID   int64     `json:"human_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Agents reads the hierarchy.
type Agents interface {
	GetAgent(ctx context.Context, id int64) (*crew.Agent, error)
	ListAgents(ctx context.Context) ([]crew.Agent, error)
}

// Messages reads and writes the message bus.
type Messages interface {
	QueryMessages(ctx context.Context, f MessageFilter) ([]crew.Message, error)
	CountMessages(ctx context.Context, f MessageFilter) (int, error)
	SendMessage(ctx context.Context, req SendRequest) (int64, error)
	MarkDelivered(ctx context.Context, id int64) error
}

// Audit is the append-only audit trail.
type Audit interface {
	QueryAudit(ctx context.Context, agentID int64, since time.Time) ([]crew.AuditEntry, error)
	RecordAudit(ctx context.Context, entry crew.AuditEntry) (int64, error)
}

// SecurityEvents persists threats reported by the security agent.
type SecurityEvents interface {
	LogSecurityEvent(ctx context.Context, ev crew.SecurityEvent) (int64, error)
	MarkSecurityDelivered(ctx context.Context, id int64) error
	QuerySecurityEvents(ctx context.Context, f SecurityEventFilter) ([]crew.SecurityEvent, error)
	ResolveSecurityEvent(ctx context.Context, id int64, resolution string) error
}

// Knowledge is the shared knowledge store. Search matches the query as a
// case-insensitive substring of subject, content or tags.
type Knowledge interface {
	SearchKnowledge(ctx context.Context, query string, category crew.KnowledgeCategory, limit int) ([]crew.KnowledgeEntry, error)
	StoreKnowledge(ctx context.Context, entry crew.KnowledgeEntry) (int64, error)
}

// Decisions is the gate's decision log.
type Decisions interface {
	RecordDecision(ctx context.Context, d crew.Decision) (int64, error)
	GetDecision(ctx context.Context, id int64) (*crew.Decision, error)
	RecordFeedback(ctx context.Context, id int64, override bool, action, note string) (*crew.Decision, error)
	QueryDecisions(ctx context.Context, f DecisionFilter) ([]crew.Decision, error)
	DecisionStats(ctx context.Context, gateID int64) (DecisionStats, error)
}

// Timing answers whether a message of the given priority may reach the
// human now.
type Timing interface {
	EvaluateTiming(ctx context.Context, humanID int64, priority crew.Priority) (crew.TimingVerdict, error)
}

// HumanStates reads the human's wellbeing and preferences. Missing rows
// yield defaults.
type HumanStates interface {
	GetHumanState(ctx context.Context, humanID int64) (crew.HumanState, error)
	GetHumanProfile(ctx context.Context, humanID int64) (crew.HumanProfile, error)
}

// SkillRegistry records vetting decisions and installs skills.
type SkillRegistry interface {
	GetSkillRegistryEntry(ctx context.Context, name, hash string) (*crew.SkillRegistryEntry, error)
	UpsertSkillRegistryEntry(ctx context.Context, entry crew.SkillRegistryEntry) error
	AddAgentSkill(ctx context.Context, agentID int64, name, content string) error
}

// Config is a small string key/value store.
type Config interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// Rejections searches the human's rejected ideas. A rejection matches when
// any of the words occurs in its subject or body.
type Rejections interface {
	SearchRejections(ctx context.Context, humanID int64, words []string) ([]Rejection, error)
}

// Store is the union of all collaborators.
type Store interface {
	Agents
	Messages
	Audit
	SecurityEvents
	Knowledge
	Decisions
	Timing
	HumanStates
	SkillRegistry
	Config
	Rejections
}

// EventPublisher fans security events out to an external stream.
type EventPublisher interface {
	PublishSecurityEvent(ctx context.Context, ev crew.SecurityEvent) error
}
