// Package crew defines the agent hierarchy data model shared by the gate,
// the anomaly scanner, and the vetting pipeline.
//
// Enumerations are closed string types. Tables keyed by them are switch
// functions rather than package maps so they cannot be mutated at runtime.
package crew

import "fmt"

// AgentType is the kind of agent as stored in the hierarchy.
type AgentType string

const (
	AgentHuman          AgentType = "human"
	AgentRightHand      AgentType = "right_hand"
	AgentGuardian       AgentType = "guardian"
	AgentSecurity       AgentType = "security"
	AgentStrategy       AgentType = "strategy"
	AgentWellness       AgentType = "wellness"
	AgentFinancial      AgentType = "financial"
	AgentLegal          AgentType = "legal"
	AgentKnowledge      AgentType = "knowledge"
	AgentCommunications AgentType = "communications"
	AgentManager        AgentType = "manager"
	AgentWorker         AgentType = "worker"
	AgentSpecialist     AgentType = "specialist"
	AgentHelp           AgentType = "help"
)

// AgentTypes lists every valid AgentType.
func AgentTypes() []AgentType {
	return []AgentType{
		AgentHuman, AgentRightHand, AgentGuardian, AgentSecurity,
		AgentStrategy, AgentWellness, AgentFinancial, AgentLegal,
		AgentKnowledge, AgentCommunications, AgentManager, AgentWorker,
		AgentSpecialist, AgentHelp,
	}
}

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	switch t {
	case AgentHuman, AgentRightHand, AgentGuardian, AgentSecurity,
		AgentStrategy, AgentWellness, AgentFinancial, AgentLegal,
		AgentKnowledge, AgentCommunications, AgentManager, AgentWorker,
		AgentSpecialist, AgentHelp:
		return true
	}
	return false
}

// IsCoreCrew reports whether t is one of the six core crew types.
func (t AgentType) IsCoreCrew() bool {
	switch t {
	case AgentStrategy, AgentWellness, AgentFinancial, AgentLegal, AgentKnowledge, AgentCommunications:
		return true
	}
	return false
}

// Role derives the hierarchy role from the agent type.
func (t AgentType) Role() Role {
	switch {
	case t == AgentHuman:
		return RoleHuman
	case t == AgentRightHand:
		return RoleRightHand
	case t == AgentGuardian || t == AgentSecurity:
		return RoleSecurity
	case t.IsCoreCrew():
		return RoleCoreCrew
	case t == AgentManager:
		return RoleManager
	case t == AgentSpecialist:
		return RoleSpecialist
	default:
		return RoleWorker
	}
}

// Role is an agent's position in the hierarchy.
type Role string

const (
	RoleHuman      Role = "human"
	RoleRightHand  Role = "right_hand"
	RoleSecurity   Role = "security"
	RoleCoreCrew   Role = "core_crew"
	RoleManager    Role = "manager"
	RoleWorker     Role = "worker"
	RoleSpecialist Role = "specialist"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleHuman, RoleRightHand, RoleSecurity, RoleCoreCrew, RoleManager, RoleWorker, RoleSpecialist:
		return true
	}
	return false
}

// VolumeThreshold is the most messages the role may send inside one scan
// window before the volume check fires. ok is false for the human, who is
// unbounded.
func (r Role) VolumeThreshold() (limit int, ok bool) {
	switch r {
	case RoleHuman:
		return 0, false
	case RoleRightHand:
		return 100, true
	case RoleManager, RoleCoreCrew, RoleSecurity:
		return 50, true
	default:
		return 20, true
	}
}

// UnusualMessageTypes are message types the role is not expected to send.
func (r Role) UnusualMessageTypes() []MessageType {
	switch r {
	case RoleWorker:
		return []MessageType{MessageBriefing, MessageEscalation}
	case RoleSpecialist:
		return []MessageType{MessageBriefing}
	default:
		return nil
	}
}

// MayContactHuman reports whether the role is allowed to message the human
// directly.
func (r Role) MayContactHuman() bool {
	switch r {
	case RoleHuman, RoleRightHand, RoleSecurity:
		return true
	}
	return false
}

// MessageType classifies a message.
type MessageType string

const (
	MessageReport     MessageType = "report"
	MessageTask       MessageType = "task"
	MessageAlert      MessageType = "alert"
	MessageEscalation MessageType = "escalation"
	MessageIdea       MessageType = "idea"
	MessageBriefing   MessageType = "briefing"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageReport, MessageTask, MessageAlert, MessageEscalation, MessageIdea, MessageBriefing:
		return true
	}
	return false
}

// Priority orders messages. The zero value is invalid.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Rank maps priorities to 1 (low) .. 4 (critical), 0 for unknown values.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// MessageStatus tracks delivery.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusArchived  MessageStatus = "archived"
)

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusDelivered, StatusRead, StatusArchived:
		return true
	}
	return false
}

// DecisionType is what the gate did with an item.
type DecisionType string

const (
	DecisionDeliver           DecisionType = "deliver"
	DecisionFilter            DecisionType = "filter"
	DecisionQueue             DecisionType = "queue"
	DecisionEscalate          DecisionType = "escalate"
	DecisionHandle            DecisionType = "handle"
	DecisionBlock             DecisionType = "block"
	DecisionReputationProtect DecisionType = "reputation_protect"
)

// Valid reports whether d is a known decision type.
func (d DecisionType) Valid() bool {
	switch d {
	case DecisionDeliver, DecisionFilter, DecisionQueue, DecisionEscalate,
		DecisionHandle, DecisionBlock, DecisionReputationProtect:
		return true
	}
	return false
}

// Severity grades security events and findings.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists severities from least to most severe.
func Severities() []Severity {
	return []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return -1
}

// ThreatDomain is the area a security event concerns.
type ThreatDomain string

const (
	DomainPhysical     ThreatDomain = "physical"
	DomainDigital      ThreatDomain = "digital"
	DomainFinancial    ThreatDomain = "financial"
	DomainLegal        ThreatDomain = "legal"
	DomainReputation   ThreatDomain = "reputation"
	DomainMutiny       ThreatDomain = "mutiny"
	DomainRelationship ThreatDomain = "relationship"
	DomainIntegrity    ThreatDomain = "integrity"
)

// Valid reports whether d is a known domain.
func (d ThreatDomain) Valid() bool {
	switch d {
	case DomainPhysical, DomainDigital, DomainFinancial, DomainLegal,
		DomainReputation, DomainMutiny, DomainRelationship, DomainIntegrity:
		return true
	}
	return false
}

// VetStatus is a skill's standing in the registry.
type VetStatus string

const (
	VetVetted  VetStatus = "vetted"
	VetBlocked VetStatus = "blocked"
	VetUnknown VetStatus = "unknown"
)

// AgentStatus is an agent's lifecycle state.
type AgentStatus string

const (
	AgentActive      AgentStatus = "active"
	AgentQuarantined AgentStatus = "quarantined"
	AgentTerminated  AgentStatus = "terminated"
)

// ThreatLevel aggregates anomaly findings.
type ThreatLevel string

const (
	ThreatNone   ThreatLevel = "none"
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// ThreatLevelFor maps a finding count to a level: 0 none, 1 low, 2 medium,
// 3 or more high.
func ThreatLevelFor(findings int) ThreatLevel {
	switch {
	case findings <= 0:
		return ThreatNone
	case findings == 1:
		return ThreatLow
	case findings == 2:
		return ThreatMedium
	default:
		return ThreatHigh
	}
}

// Order sorts levels most severe first: high 0, medium 1, low 2, none 3.
func (l ThreatLevel) Order() int {
	switch l {
	case ThreatHigh:
		return 0
	case ThreatMedium:
		return 1
	case ThreatLow:
		return 2
	default:
		return 3
	}
}

// KnowledgeCategory groups knowledge entries.
type KnowledgeCategory string

const (
	KnowledgeDecision   KnowledgeCategory = "decision"
	KnowledgeContact    KnowledgeCategory = "contact"
	KnowledgeLesson     KnowledgeCategory = "lesson"
	KnowledgePreference KnowledgeCategory = "preference"
	KnowledgeRejection  KnowledgeCategory = "rejection"
)

// ParseEnum validates s against valid and returns the typed value.
func ParseEnum[T ~string](s string, valid func(T) bool, what string) (T, error) {
	v := T(s)
	if !valid(v) {
		return "", fmt.Errorf("invalid %s %q", what, s)
	}
	return v, nil
}
