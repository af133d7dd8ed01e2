// Package anomaly watches the hierarchy for agents acting outside their
// role: message floods, routing violations, unusual message types, failed
// permission attempts and agents reaching the human without going through
// the gate. It also logs security events and alerts the gate about them.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/logging"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/crewgate/internal/anomaly"

// DefaultWindow is the look-back window of a scan.
const DefaultWindow = 24 * time.Hour

// Sentinel errors for the scanner.
var (
	// ErrNotSecurityAgent is returned by New when the scanner identity is
	// not a security or guardian agent.
	ErrNotSecurityAgent = errors.New("scanner agent is not a security agent")

	// ErrInvalidConfig indicates missing scanner or gate ids.
	ErrInvalidConfig = errors.New("invalid scanner config")
)

// Collaborators is what the scanner needs from the store.
type Collaborators interface {
	store.Agents
	store.Messages
	store.Audit
	store.SecurityEvents
}

// Config identifies the scanner and the agent it reports to.
type Config struct {
	ScannerID int64
	GateID    int64
}

// Report is the result of scanning one agent.
type Report struct {
	AgentID        int64            `json:"agent_id"`
	AgentName      string           `json:"agent_name"`
	AgentType      crew.AgentType   `json:"agent_type"`
	Role           crew.Role        `json:"role"`
	ThreatLevel    crew.ThreatLevel `json:"threat_level"`
	Findings       []Finding        `json:"anomalies"`
	Recommendation string           `json:"recommendation"`
	ScannedAt      time.Time        `json:"scanned_at"`
	Window         time.Duration    `json:"-"`
	WindowHours    float64          `json:"time_window_hours"`
}

// Categories lists the finding categories in order.
func (r *Report) Categories() []string {
	out := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		out[i] = f.Category
	}
	return out
}

// Scanner runs behavior checks and handles security events.
type Scanner struct {
	store     Collaborators
	cfg       Config
	name      string
	logger    *logging.Logger
	publisher store.EventPublisher
	metrics   *Metrics
	checks    []Check
	now       func() time.Time
	tracer    trace.Tracer
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPublisher fans logged events out to an external stream.
func WithPublisher(p store.EventPublisher) Option {
	return func(s *Scanner) { s.publisher = p }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Scanner) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithChecks replaces the default checks.
func WithChecks(checks ...Check) Option {
	return func(s *Scanner) { s.checks = checks }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracer sets the tracer used for scan spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scanner) { s.tracer = t }
}

// New creates a Scanner acting as cfg.ScannerID. The scanner agent must
// exist and have the security role.
func New(ctx context.Context, st Collaborators, cfg Config, logger *logging.Logger, opts ...Option) (*Scanner, error) {
	if cfg.ScannerID <= 0 || cfg.GateID <= 0 {
		return nil, fmt.Errorf("%w: scanner id %d, gate id %d", ErrInvalidConfig, cfg.ScannerID, cfg.GateID)
	}
	agent, err := st.GetAgent(ctx, cfg.ScannerID)
	if err != nil {
		return nil, fmt.Errorf("load scanner agent: %w", err)
	}
	if agent.Role() != crew.RoleSecurity {
		return nil, fmt.Errorf("%w: agent %d is type %q", ErrNotSecurityAgent, agent.ID, agent.Type)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Scanner{
		store:   st,
		cfg:     cfg,
		name:    agent.Name,
		logger:  logger.Named("anomaly"),
		metrics: NewMetrics(nil),
		now:     time.Now,
		tracer:  otel.Tracer(instrumentationName),
	}
	s.checks = DefaultChecks(st)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name is the scanner agent's name.
func (s *Scanner) Name() string { return s.name }

// ScanAgent runs every check against the agent's activity inside the
// window. A non-positive window means DefaultWindow. A failing check fails
// the scan.
func (s *Scanner) ScanAgent(ctx context.Context, agentID int64, window time.Duration) (*Report, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	ctx, span := s.tracer.Start(ctx, "anomaly.scan_agent")
	defer span.End()
	span.SetAttributes(attribute.Int64("agent_id", agentID))

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load agent %d: %w", agentID, err)
	}

	now := s.now().UTC()
	subject := Subject{Agent: *agent, Since: now.Add(-window), Window: window}
	findings := []Finding{}
	for _, c := range s.checks {
		got, err := c.Run(ctx, subject)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("check %s: %w", c.Name(), err)
		}
		findings = append(findings, got...)
	}

	r := &Report{
		AgentID:     agent.ID,
		AgentName:   agent.Name,
		AgentType:   agent.Type,
		Role:        agent.Role(),
		ThreatLevel: crew.ThreatLevelFor(len(findings)),
		Findings:    findings,
		ScannedAt:   now,
		Window:      window,
		WindowHours: window.Hours(),
	}
	r.Recommendation = recommend(r)

	span.SetAttributes(
		attribute.String("threat_level", string(r.ThreatLevel)),
		attribute.Int("finding_count", len(findings)),
	)
	s.metrics.Scans.WithLabelValues(string(r.ThreatLevel)).Inc()
	if r.ThreatLevel != crew.ThreatNone {
		s.logger.Info(logging.WithAgentID(ctx, agent.ID), "anomalies detected",
			zap.String("threat_level", string(r.ThreatLevel)),
			zap.Strings("categories", r.Categories()),
		)
	}
	return r, nil
}

// ScanAll scans every active agent except humans and the scanner itself.
// An agent that cannot be scanned yields a low scan_error report. Reports
// are ordered high, medium, low, none, keeping store order within a level.
func (s *Scanner) ScanAll(ctx context.Context) ([]Report, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	var reports []Report
	for _, a := range agents {
		if a.Type == crew.AgentHuman || a.ID == s.cfg.ScannerID || !a.Active {
			continue
		}
		r, err := s.ScanAgent(ctx, a.ID, DefaultWindow)
		if err != nil {
			s.logger.Warn(logging.WithAgentID(ctx, a.ID), "agent scan failed", zap.Error(err))
			r = s.scanErrorReport(a, err)
		}
		reports = append(reports, *r)
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].ThreatLevel.Order() < reports[j].ThreatLevel.Order()
	})
	return reports, nil
}

func (s *Scanner) scanErrorReport(a crew.Agent, err error) *Report {
	s.metrics.Scans.WithLabelValues(string(crew.ThreatLow)).Inc()
	return &Report{
		AgentID:     a.ID,
		AgentName:   a.Name,
		AgentType:   a.Type,
		Role:        a.Role(),
		ThreatLevel: crew.ThreatLow,
		Findings: []Finding{{
			Category:    CategoryScanError,
			Description: fmt.Sprintf("Failed to scan agent: %v", err),
			Count:       1,
		}},
		Recommendation: "Manual review recommended: scan failed.",
		ScannedAt:      s.now().UTC(),
		Window:         DefaultWindow,
		WindowHours:    DefaultWindow.Hours(),
	}
}

func recommend(r *Report) string {
	switch r.ThreatLevel {
	case crew.ThreatNone:
		return fmt.Sprintf("No anomalies detected for '%s'. All clear.", r.AgentName)
	case crew.ThreatLow:
		return fmt.Sprintf("Minor anomaly detected for '%s' (%s). Monitor only, no action needed.",
			r.AgentName, r.Findings[0].Category)
	case crew.ThreatMedium:
		return fmt.Sprintf("Multiple anomalies detected for '%s': %s. Recommend increased monitoring and review by the gate.",
			r.AgentName, strings.Join(r.Categories(), ", "))
	}

	categories := r.Categories()
	rec := fmt.Sprintf("HIGH THREAT for '%s' (%s): %d anomalies detected (%s). Immediate review required.",
		r.AgentName, r.Role, len(r.Findings), strings.Join(categories, ", "))
	for _, c := range categories {
		if strings.Contains(c, "human_contact") {
			return rec + " Consider quarantine."
		}
	}
	return rec
}
