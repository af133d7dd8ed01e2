package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

// recentEventLimit bounds the event lists read by Summary.
const recentEventLimit = 50

// EventRequest is a security event to log.
type EventRequest struct {
	Domain            crew.ThreatDomain `json:"threat_domain"`
	Severity          crew.Severity     `json:"severity"`
	Title             string            `json:"title"`
	Details           map[string]any    `json:"details,omitempty"`
	RecommendedAction string            `json:"recommended_action,omitempty"`
}

// LogEvent validates and persists a security event, publishes it to the
// event stream when one is configured, and alerts the gate for medium
// severity and above. Publishing and alerting are best effort: their
// failures are logged and counted, never returned.
func (s *Scanner) LogEvent(ctx context.Context, req EventRequest) (int64, error) {
	ev := crew.SecurityEvent{
		ReporterID:        s.cfg.ScannerID,
		Domain:            req.Domain,
		Severity:          req.Severity,
		Title:             strings.TrimSpace(req.Title),
		Details:           req.Details,
		RecommendedAction: req.RecommendedAction,
	}
	if err := store.ValidateSecurityEvent(ev); err != nil {
		return 0, err
	}
	id, err := s.store.LogSecurityEvent(ctx, ev)
	if err != nil {
		return 0, fmt.Errorf("log security event: %w", err)
	}
	ev.ID = id
	ev.CreatedAt = s.now().UTC()
	s.metrics.Events.WithLabelValues(string(ev.Severity)).Inc()

	s.logger.Info(ctx, "security event logged",
		zap.Int64("event_id", id),
		zap.String("threat_domain", string(ev.Domain)),
		zap.String("severity", string(ev.Severity)),
	)

	if s.publisher != nil {
		if err := s.publisher.PublishSecurityEvent(ctx, ev); err != nil {
			s.logger.Warn(ctx, "failed to publish security event", zap.Int64("event_id", id), zap.Error(err))
		}
	}

	if ev.Severity.AtLeast(crew.SeverityMedium) {
		s.notify(ctx, ev)
	}
	return id, nil
}

// notify alerts the gate and marks the event delivered. It reports whether
// both steps succeeded.
func (s *Scanner) notify(ctx context.Context, ev crew.SecurityEvent) bool {
	priority := crew.PriorityCritical
	if ev.Severity == crew.SeverityMedium {
		priority = crew.PriorityHigh
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Security Event #%d\n", ev.ID)
	fmt.Fprintf(&body, "Domain: %s\n", ev.Domain)
	fmt.Fprintf(&body, "Severity: %s\n", ev.Severity)
	fmt.Fprintf(&body, "Title: %s\n", ev.Title)
	if ev.RecommendedAction != "" {
		fmt.Fprintf(&body, "Recommended Action: %s\n", ev.RecommendedAction)
	}

	_, err := s.store.SendMessage(ctx, store.SendRequest{
		FromID:   s.cfg.ScannerID,
		ToID:     s.cfg.GateID,
		Type:     crew.MessageAlert,
		Subject:  fmt.Sprintf("[SECURITY %s] %s", strings.ToUpper(string(ev.Severity)), ev.Title),
		Body:     body.String(),
		Priority: priority,
	})
	if err != nil {
		s.metrics.FailedNotifications.Inc()
		s.logger.Warn(ctx, "failed to alert gate", zap.Int64("event_id", ev.ID), zap.Error(err))
		return false
	}
	if err := s.store.MarkSecurityDelivered(ctx, ev.ID); err != nil {
		s.metrics.FailedNotifications.Inc()
		s.logger.Warn(ctx, "failed to mark security event delivered", zap.Int64("event_id", ev.ID), zap.Error(err))
		return false
	}
	return true
}

// Undelivered lists unresolved medium+ events the gate was never alerted
// about, newest first.
func (s *Scanner) Undelivered(ctx context.Context) ([]crew.SecurityEvent, error) {
	events, err := s.store.QuerySecurityEvents(ctx, store.SecurityEventFilter{
		MinSeverity:     crew.SeverityMedium,
		UnresolvedOnly:  true,
		UndeliveredOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query undelivered events: %w", err)
	}
	return events, nil
}

// Reconcile retries the gate alert for every undelivered event, oldest
// first, and returns how many were delivered.
func (s *Scanner) Reconcile(ctx context.Context) (int, error) {
	events, err := s.Undelivered(ctx)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for i := len(events) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if s.notify(ctx, events[i]) {
			delivered++
		}
	}
	if len(events) > 0 {
		s.logger.Info(ctx, "security events reconciled",
			zap.Int("pending", len(events)),
			zap.Int("delivered", delivered),
		)
	}
	return delivered, nil
}

// FlaggedAgent is a medium or high threat agent in a Summary.
type FlaggedAgent struct {
	AgentID        int64            `json:"agent_id"`
	AgentName      string           `json:"agent_name"`
	ThreatLevel    crew.ThreatLevel `json:"threat_level"`
	FindingCount   int              `json:"anomaly_count"`
	Recommendation string           `json:"recommendation"`
}

// AgentScanSummary aggregates a full scan.
type AgentScanSummary struct {
	TotalScanned int                      `json:"total_scanned"`
	ThreatCounts map[crew.ThreatLevel]int `json:"threat_counts"`
	Flagged      []FlaggedAgent           `json:"flagged_agents"`
}

// EventSummary aggregates recent security events.
type EventSummary struct {
	Total          int                   `json:"total"`
	SeverityCounts map[crew.Severity]int `json:"severity_counts"`
}

// Summary is the consolidated security overview.
type Summary struct {
	ScannerName     string               `json:"security_agent"`
	GeneratedAt     time.Time            `json:"generated_at"`
	AgentScan       AgentScanSummary     `json:"agent_scan"`
	RecentEvents    EventSummary         `json:"recent_events"`
	Unresolved      []crew.SecurityEvent `json:"unresolved_events"`
	Recommendations []string             `json:"recommendations"`
}

// Summary runs a fresh ScanAll and combines it with recent and unresolved
// events. Recommendations list flagged agents first, then unresolved high
// and critical events.
func (s *Scanner) Summary(ctx context.Context) (*Summary, error) {
	reports, err := s.ScanAll(ctx)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		ScannerName: s.name,
		GeneratedAt: s.now().UTC(),
		AgentScan: AgentScanSummary{
			TotalScanned: len(reports),
			ThreatCounts: map[crew.ThreatLevel]int{
				crew.ThreatNone: 0, crew.ThreatLow: 0, crew.ThreatMedium: 0, crew.ThreatHigh: 0,
			},
			Flagged: []FlaggedAgent{},
		},
		RecentEvents:    EventSummary{SeverityCounts: map[crew.Severity]int{}},
		Recommendations: []string{},
	}
	for _, sev := range crew.Severities() {
		sum.RecentEvents.SeverityCounts[sev] = 0
	}

	for _, r := range reports {
		sum.AgentScan.ThreatCounts[r.ThreatLevel]++
		if r.ThreatLevel != crew.ThreatMedium && r.ThreatLevel != crew.ThreatHigh {
			continue
		}
		sum.AgentScan.Flagged = append(sum.AgentScan.Flagged, FlaggedAgent{
			AgentID:        r.AgentID,
			AgentName:      r.AgentName,
			ThreatLevel:    r.ThreatLevel,
			FindingCount:   len(r.Findings),
			Recommendation: r.Recommendation,
		})
		sum.Recommendations = append(sum.Recommendations, fmt.Sprintf("[%s] Agent '%s': %s",
			strings.ToUpper(string(r.ThreatLevel)), r.AgentName, r.Recommendation))
	}

	recent, err := s.store.QuerySecurityEvents(ctx, store.SecurityEventFilter{Limit: recentEventLimit})
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	sum.RecentEvents.Total = len(recent)
	for _, ev := range recent {
		sum.RecentEvents.SeverityCounts[ev.Severity]++
	}

	unresolved, err := s.store.QuerySecurityEvents(ctx, store.SecurityEventFilter{UnresolvedOnly: true, Limit: recentEventLimit})
	if err != nil {
		return nil, fmt.Errorf("query unresolved events: %w", err)
	}
	sum.Unresolved = append([]crew.SecurityEvent{}, unresolved...)
	for _, ev := range unresolved {
		if !ev.Severity.AtLeast(crew.SeverityHigh) {
			continue
		}
		action := ev.RecommendedAction
		if action == "" {
			action = "review needed"
		}
		sum.Recommendations = append(sum.Recommendations, fmt.Sprintf("[%s] Unresolved: %s: %s",
			strings.ToUpper(string(ev.Severity)), ev.Title, action))
	}
	return sum, nil
}

// PlaceholderReport is returned by threat checks that have no external
// integration yet.
type PlaceholderReport struct {
	Status       string    `json:"status"`
	Subject      []string  `json:"subject,omitempty"`
	Analyzed     int       `json:"analyzed"`
	ThreatsFound int       `json:"threats_found"`
	Alerts       []string  `json:"alerts"`
	ScannedAt    time.Time `json:"scanned_at"`
	Note         string    `json:"note"`
}

// StatusPlaceholder marks a report from an unconnected check.
const StatusPlaceholder = "placeholder"

// Transaction is a financial transaction submitted for analysis.
type Transaction struct {
	Amount       float64   `json:"amount"`
	Counterparty string    `json:"counterparty"`
	Date         time.Time `json:"date"`
	Description  string    `json:"description,omitempty"`
}

// CheckReputation would scan external sources for threats to the human's
// or their businesses' reputation. No source is connected yet.
func (s *Scanner) CheckReputation(humanName string, businesses []string) PlaceholderReport {
	subject := append([]string{humanName}, businesses...)
	return PlaceholderReport{
		Status:    StatusPlaceholder,
		Subject:   subject,
		Analyzed:  len(subject),
		Alerts:    []string{},
		ScannedAt: s.now().UTC(),
		Note:      "Reputation monitoring is not connected to an external source yet.",
	}
}

// CheckFinancial would analyze transactions for unusual amounts,
// counterparties or timing. No analysis is connected yet.
func (s *Scanner) CheckFinancial(transactions []Transaction) PlaceholderReport {
	return PlaceholderReport{
		Status:    StatusPlaceholder,
		Analyzed:  len(transactions),
		Alerts:    []string{},
		ScannedAt: s.now().UTC(),
		Note:      "Financial threat detection is not connected to transaction monitoring yet.",
	}
}
