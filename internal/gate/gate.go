// Package gate implements the autonomy gate: the right-hand agent that
// sits between the crew and the human. It decides what reaches the human
// and when, handles escalations according to its trust score, reviews
// outbound messages, compiles briefings and learns from human feedback.
//
// The gate's trust score and the human's burnout score are re-read from
// the store at the start of every public operation. The gate never changes
// trust itself; Autonomy only suggests adjustments.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/logging"
	"github.com/fyrsmithlabs/crewgate/internal/patterns"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/crewgate/internal/gate"

// Sentinel errors for gate operations.
var (
	// ErrInvalidConfig is returned by New when the gate or human agent is
	// missing or of the wrong type.
	ErrInvalidConfig = errors.New("invalid gate config")

	// ErrUnknownBriefing is returned for a briefing kind other than
	// morning, evening or urgent.
	ErrUnknownBriefing = errors.New("unknown briefing kind")
)

// Collaborators is what the gate needs from the store.
type Collaborators interface {
	store.Agents
	store.Messages
	store.Audit
	store.SecurityEvents
	store.Knowledge
	store.Decisions
	store.Timing
	store.HumanStates
	store.Rejections
}

// Config identifies the gate agent and the human it protects.
type Config struct {
	GateID  int64
	HumanID int64
}

// Gate is the autonomy gate.
type Gate struct {
	store    Collaborators
	cfg      Config
	patterns patterns.Provider
	logger   *logging.Logger
	now      func() time.Time
	tracer   trace.Tracer

	decisions metric.Int64Counter
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithTracer sets the tracer for gate spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) { g.tracer = t }
}

// WithMeter sets the meter for gate metrics.
func WithMeter(m metric.Meter) Option {
	return func(g *Gate) { g.initMetrics(m) }
}

// New creates a Gate. The gate agent must be a right_hand and the human
// agent a human.
func New(ctx context.Context, st Collaborators, cfg Config, p patterns.Provider, logger *logging.Logger, opts ...Option) (*Gate, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if p == nil {
		return nil, fmt.Errorf("%w: pattern provider is required", ErrInvalidConfig)
	}
	gate, err := st.GetAgent(ctx, cfg.GateID)
	if err != nil {
		return nil, fmt.Errorf("load gate agent: %w", err)
	}
	if gate.Type != crew.AgentRightHand {
		return nil, fmt.Errorf("%w: agent %d is type %q, not right_hand", ErrInvalidConfig, gate.ID, gate.Type)
	}
	human, err := st.GetAgent(ctx, cfg.HumanID)
	if err != nil {
		return nil, fmt.Errorf("load human agent: %w", err)
	}
	if human.Type != crew.AgentHuman {
		return nil, fmt.Errorf("%w: agent %d is type %q, not human", ErrInvalidConfig, human.ID, human.Type)
	}

	g := &Gate{
		store:    st,
		cfg:      cfg,
		patterns: p,
		logger:   logger.Named("gate"),
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
	}
	g.initMetrics(otel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gate) initMetrics(m metric.Meter) {
	var err error
	g.decisions, err = m.Int64Counter(
		"crewgate.gate.decisions_total",
		metric.WithDescription("Gate decisions by type"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		g.logger.Warn(context.Background(), "failed to create decision counter", zap.Error(err))
	}
}

// snapshot is the state re-read at the start of each operation.
type snapshot struct {
	gate  crew.Agent
	human crew.Agent
}

func (s snapshot) trust() int   { return s.gate.TrustScore }
func (s snapshot) burnout() int { return s.human.BurnoutScore }

func (g *Gate) refresh(ctx context.Context) (snapshot, error) {
	gate, err := g.store.GetAgent(ctx, g.cfg.GateID)
	if err != nil {
		return snapshot{}, fmt.Errorf("load gate agent: %w", err)
	}
	human, err := g.store.GetAgent(ctx, g.cfg.HumanID)
	if err != nil {
		return snapshot{}, fmt.Errorf("load human agent: %w", err)
	}
	return snapshot{gate: *gate, human: *human}, nil
}

// record appends to the decision log and counts the decision.
func (g *Gate) record(ctx context.Context, typ crew.DecisionType, dctx crew.DecisionContext, action, reasoning string, tags ...string) (int64, error) {
	id, err := g.store.RecordDecision(ctx, crew.Decision{
		GateID:    g.cfg.GateID,
		HumanID:   g.cfg.HumanID,
		Type:      typ,
		Context:   dctx,
		Action:    action,
		Reasoning: reasoning,
		Tags:      tags,
	})
	if err != nil {
		return 0, fmt.Errorf("record %s decision: %w", typ, err)
	}
	if g.decisions != nil {
		g.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision_type", string(typ))))
	}
	g.logger.Debug(ctx, "decision recorded",
		zap.Int64("decision_id", id),
		zap.String("decision_type", string(typ)),
		zap.String("action", action),
	)
	return id, nil
}

func messageContext(msg crew.Message) crew.DecisionContext {
	return crew.DecisionContext{
		MessageID:   msg.ID,
		MessageType: msg.Type,
		Subject:     msg.Subject,
		Priority:    msg.Priority,
		FromID:      msg.FromID,
	}
}

// normalizeMessage fills the defaults of an incoming message: normal
// priority and report type.
func normalizeMessage(msg crew.Message) crew.Message {
	if msg.Priority == "" {
		msg.Priority = crew.PriorityNormal
	}
	if msg.Type == "" {
		msg.Type = crew.MessageReport
	}
	return msg
}

func (g *Gate) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return g.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// PendingSecurityEvents lists unresolved medium+ security events the gate
// was never alerted about, newest first.
func (g *Gate) PendingSecurityEvents(ctx context.Context) ([]crew.SecurityEvent, error) {
	events, err := g.store.QuerySecurityEvents(ctx, store.SecurityEventFilter{
		MinSeverity:     crew.SeverityMedium,
		UnresolvedOnly:  true,
		UndeliveredOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query pending security events: %w", err)
	}
	return events, nil
}

// HumanID is the human the gate serves.
func (g *Gate) HumanID() int64 { return g.cfg.HumanID }
