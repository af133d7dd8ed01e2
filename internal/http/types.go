package http

import (
	"github.com/fyrsmithlabs/crewgate/internal/anomaly"
	"github.com/fyrsmithlabs/crewgate/internal/crew"
)

// ContentRequest is the request body for the hash and scan endpoints.
type ContentRequest struct {
	Content string `json:"content"`
}

// HashResponse is the response body for POST /api/v1/vetting/hash.
type HashResponse struct {
	ContentHash string `json:"content_hash"`
}

// VetRequest is the request body for POST /api/v1/vetting/vet.
type VetRequest struct {
	Name    string `json:"skill_name"`
	Content string `json:"content"`
}

// InstallRequest is the request body for POST /api/v1/skills/:name/install.
// HumanOverride requires an operator bearer token; AddedBy then defaults to
// the token subject.
type InstallRequest struct {
	AgentID       int64  `json:"agent_id"`
	Content       string `json:"skill_config"`
	AddedBy       string `json:"added_by"`
	HumanOverride bool   `json:"human_override"`
}

// RegisterRequest is the request body for the operator registry routes.
type RegisterRequest struct {
	Name    string `json:"skill_name"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
	Author  string `json:"author,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ReplyRequest is the request body for the reply scan endpoints.
type ReplyRequest struct {
	Text string `json:"text"`
}

// FeedbackRequest is the request body for POST /api/v1/gate/feedback.
type FeedbackRequest struct {
	DecisionID  int64  `json:"decision_id"`
	Approved    bool   `json:"approved"`
	HumanAction string `json:"human_action,omitempty"`
	Note        string `json:"note,omitempty"`
}

// ScanAllResponse is the response body for POST /api/v1/scan.
type ScanAllResponse struct {
	Reports []anomaly.Report `json:"reports"`
	Count   int              `json:"count"`
}

// EventsResponse lists security events.
type EventsResponse struct {
	Events []crew.SecurityEvent `json:"events"`
	Count  int                  `json:"count"`
}

// LogEventResponse is the response body for POST /api/v1/security/events.
type LogEventResponse struct {
	EventID int64 `json:"event_id"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version,omitempty"`
	Patterns PatternsStatus `json:"patterns"`
	Counts   StatusCounts   `json:"counts"`
}

// PatternsStatus identifies the loaded pattern table.
type PatternsStatus struct {
	Version     string `json:"version"`
	Fingerprint string `json:"fingerprint"`
}

// StatusCounts contains count information for various resources. A count
// that could not be read is -1.
type StatusCounts struct {
	Agents             int `json:"agents"`
	QueuedForHuman     int `json:"queued_for_human"`
	UndeliveredEvents  int `json:"undelivered_events"`
	UnresolvedCritical int `json:"unresolved_critical"`
}
