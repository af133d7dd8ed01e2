package sqlstore

import (
	"time"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

// Agent is a row of the agents table.
type Agent struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Name         string `gorm:"size:128;not null;uniqueIndex"`
	AgentType    string `gorm:"size:32;not null;index"`
	Status       string `gorm:"size:16;not null;default:active"`
	Active       bool   `gorm:"not null;default:true"`
	ParentID     int64
	TrustScore   int `gorm:"not null;default:1"`
	BurnoutScore int `gorm:"not null;default:5"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a row of the messages table.
type Message struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	FromID      int64     `gorm:"not null;index"`
	ToID        int64     `gorm:"not null;index:idx_messages_to_status"`
	MessageType string    `gorm:"size:16;not null"`
	Subject     string    `gorm:"size:512"`
	Body        string    `gorm:"type:text"`
	Priority    string    `gorm:"size:16;not null"`
	Status      string    `gorm:"size:16;not null;index:idx_messages_to_status"`
	CreatedAt   time.Time `gorm:"index"`
	DeliveredAt *time.Time
}

// AuditEntry is a row of the audit_log table.
type AuditEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	AgentID   int64     `gorm:"not null;index:idx_audit_agent_time"`
	EventType string    `gorm:"size:64;not null"`
	Details   []byte    `gorm:"type:json"`
	Timestamp time.Time `gorm:"not null;index:idx_audit_agent_time"`
}

// SecurityEvent is a row of the security_events table.
type SecurityEvent struct {
	ID                int64          `gorm:"primaryKey;autoIncrement"`
	ReporterID        int64          `gorm:"not null"`
	ThreatDomain      string         `gorm:"size:16;not null"`
	Severity          string         `gorm:"size:16;not null;index"`
	Title             string         `gorm:"size:512;not null"`
	Details           map[string]any `gorm:"serializer:json;type:json"`
	RecommendedAction string         `gorm:"size:512"`
	DeliveredToGate   bool           `gorm:"not null;default:false;index"`
	ResolvedAt        *time.Time
	Resolution        string `gorm:"type:text"`
	CreatedAt         time.Time
}

// KnowledgeEntry is a row of the knowledge table.
type KnowledgeEntry struct {
	ID        int64    `gorm:"primaryKey;autoIncrement"`
	AgentID   int64    `gorm:"index"`
	Category  string   `gorm:"size:32;index"`
	Subject   string   `gorm:"size:512;not null"`
	Content   string   `gorm:"type:text"`
	Tags      []string `gorm:"serializer:json;type:json"`
	UpdatedAt time.Time
}

// Decision is a row of the decision_log table.
type Decision struct {
	ID            int64                `gorm:"primaryKey;autoIncrement"`
	GateID        int64                `gorm:"not null;index"`
	HumanID       int64                `gorm:"not null"`
	DecisionType  string               `gorm:"size:32;not null"`
	Context       crew.DecisionContext `gorm:"serializer:json;type:json"`
	Action        string               `gorm:"size:64"`
	Reasoning     string               `gorm:"type:text"`
	Tags          []string             `gorm:"serializer:json;type:json"`
	HumanOverride *bool
	HumanAction   string    `gorm:"size:128"`
	FeedbackNote  string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"index"`
}

// Rejection is a row of the rejection_log table.
type Rejection struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	HumanID   int64  `gorm:"not null;index"`
	Subject   string `gorm:"size:512;not null"`
	Body      string `gorm:"type:text"`
	Reason    string `gorm:"type:text"`
	CreatedAt time.Time
}

// HumanState is a row of the human_state table.
type HumanState struct {
	HumanID             int64  `gorm:"primaryKey;autoIncrement:false"`
	BurnoutScore        int    `gorm:"not null;default:5"`
	Energy              string `gorm:"size:16"`
	Activity            string `gorm:"size:32"`
	Mood                string `gorm:"size:16"`
	ConsecutiveWorkDays int
	LastSocialActivity  *time.Time
	UpdatedAt           time.Time
}

// HumanProfile is a row of the human_profile table.
type HumanProfile struct {
	HumanID   int64  `gorm:"primaryKey;autoIncrement:false"`
	Formality string `gorm:"size:16"`
	Timezone  string `gorm:"size:64"`
}

// TimingRule is a row of the timing_rules table.
type TimingRule struct {
	HumanID   int64             `gorm:"primaryKey;autoIncrement:false"`
	Rules     store.TimingRules `gorm:"serializer:json;type:json"`
	UpdatedAt time.Time
}

// SkillRegistryEntry is a row of the skill_registry table.
type SkillRegistryEntry struct {
	Name        string   `gorm:"primaryKey;size:128"`
	ContentHash string   `gorm:"primaryKey;size:64"`
	Status      string   `gorm:"size:16;not null;index"`
	Source      string   `gorm:"size:64"`
	Author      string   `gorm:"size:128"`
	RiskScore   int      `gorm:"not null;default:0"`
	RiskFlags   []string `gorm:"serializer:json;type:json"`
	Reason      string   `gorm:"type:text"`
	VettedBy    string   `gorm:"size:64"`
	VettedAt    *time.Time
}

// AgentSkill is a row of the agent_skills table.
type AgentSkill struct {
	AgentID   int64  `gorm:"primaryKey;autoIncrement:false"`
	SkillName string `gorm:"primaryKey;size:128"`
	Content   string `gorm:"type:mediumtext"`
	CreatedAt time.Time
}

// ConfigEntry is a row of the crew_config table.
type ConfigEntry struct {
	Key       string `gorm:"primaryKey;size:128;column:config_key"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (AuditEntry) TableName() string         { return "audit_log" }
func (KnowledgeEntry) TableName() string     { return "knowledge" }
func (Decision) TableName() string           { return "decision_log" }
func (Rejection) TableName() string          { return "rejection_log" }
func (HumanState) TableName() string         { return "human_state" }
func (HumanProfile) TableName() string       { return "human_profile" }
func (SkillRegistryEntry) TableName() string { return "skill_registry" }
func (ConfigEntry) TableName() string        { return "crew_config" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&Agent{}, &Message{}, &AuditEntry{}, &SecurityEvent{},
		&KnowledgeEntry{}, &Decision{}, &Rejection{}, &HumanState{},
		&HumanProfile{}, &TimingRule{}, &SkillRegistryEntry{},
		&AgentSkill{}, &ConfigEntry{},
	}
}

func agentFromRow(r Agent) crew.Agent {
	return crew.Agent{
		ID:           r.ID,
		Name:         r.Name,
		Type:         crew.AgentType(r.AgentType),
		Status:       crew.AgentStatus(r.Status),
		Active:       r.Active,
		ParentID:     r.ParentID,
		TrustScore:   r.TrustScore,
		BurnoutScore: r.BurnoutScore,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func agentToRow(a crew.Agent) Agent {
	return Agent{
		ID:           a.ID,
		Name:         a.Name,
		AgentType:    string(a.Type),
		Status:       string(a.Status),
		Active:       a.Active,
		ParentID:     a.ParentID,
		TrustScore:   a.TrustScore,
		BurnoutScore: a.BurnoutScore,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func messageFromRow(r Message) crew.Message {
	return crew.Message{
		ID:          r.ID,
		FromID:      r.FromID,
		ToID:        r.ToID,
		Type:        crew.MessageType(r.MessageType),
		Subject:     r.Subject,
		Body:        r.Body,
		Priority:    crew.Priority(r.Priority),
		Status:      crew.MessageStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		DeliveredAt: r.DeliveredAt,
	}
}

func auditFromRow(r AuditEntry) crew.AuditEntry {
	return crew.AuditEntry{
		ID:        r.ID,
		AgentID:   r.AgentID,
		EventType: r.EventType,
		Details:   r.Details,
		Timestamp: r.Timestamp,
	}
}

func eventFromRow(r SecurityEvent) crew.SecurityEvent {
	return crew.SecurityEvent{
		ID:                r.ID,
		ReporterID:        r.ReporterID,
		Domain:            crew.ThreatDomain(r.ThreatDomain),
		Severity:          crew.Severity(r.Severity),
		Title:             r.Title,
		Details:           r.Details,
		RecommendedAction: r.RecommendedAction,
		DeliveredToGate:   r.DeliveredToGate,
		ResolvedAt:        r.ResolvedAt,
		Resolution:        r.Resolution,
		CreatedAt:         r.CreatedAt,
	}
}

func knowledgeFromRow(r KnowledgeEntry) crew.KnowledgeEntry {
	return crew.KnowledgeEntry{
		ID:        r.ID,
		AgentID:   r.AgentID,
		Category:  crew.KnowledgeCategory(r.Category),
		Subject:   r.Subject,
		Content:   r.Content,
		Tags:      r.Tags,
		UpdatedAt: r.UpdatedAt,
	}
}

func decisionFromRow(r Decision) crew.Decision {
	return crew.Decision{
		ID:            r.ID,
		GateID:        r.GateID,
		HumanID:       r.HumanID,
		Type:          crew.DecisionType(r.DecisionType),
		Context:       r.Context,
		Action:        r.Action,
		Reasoning:     r.Reasoning,
		Tags:          r.Tags,
		HumanOverride: r.HumanOverride,
		HumanAction:   r.HumanAction,
		FeedbackNote:  r.FeedbackNote,
		CreatedAt:     r.CreatedAt,
	}
}

func rejectionFromRow(r Rejection) store.Rejection {
	return store.Rejection{
		ID:        r.ID,
		HumanID:   r.HumanID,
		Subject:   r.Subject,
		Body:      r.Body,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt,
	}
}

func humanStateFromRow(r HumanState) crew.HumanState {
	return crew.HumanState{
		BurnoutScore:        r.BurnoutScore,
		Energy:              r.Energy,
		Activity:            r.Activity,
		Mood:                r.Mood,
		ConsecutiveWorkDays: r.ConsecutiveWorkDays,
		LastSocialActivity:  r.LastSocialActivity,
	}
}

func registryFromRow(r SkillRegistryEntry) crew.SkillRegistryEntry {
	return crew.SkillRegistryEntry{
		Name:        r.Name,
		ContentHash: r.ContentHash,
		Status:      crew.VetStatus(r.Status),
		Source:      r.Source,
		Author:      r.Author,
		RiskScore:   r.RiskScore,
		RiskFlags:   r.RiskFlags,
		Reason:      r.Reason,
		VettedBy:    r.VettedBy,
		VettedAt:    r.VettedAt,
	}
}

func registryToRow(e crew.SkillRegistryEntry) SkillRegistryEntry {
	return SkillRegistryEntry{
		Name:        e.Name,
		ContentHash: e.ContentHash,
		Status:      string(e.Status),
		Source:      e.Source,
		Author:      e.Author,
		RiskScore:   e.RiskScore,
		RiskFlags:   e.RiskFlags,
		Reason:      e.Reason,
		VettedBy:    e.VettedBy,
		VettedAt:    e.VettedAt,
	}
}
