package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
)

// minDecisionsForRecommendation is how many decisions Autonomy needs before
// it suggests a trust change.
const minDecisionsForRecommendation = 20

// FeedbackResult summarizes recorded human feedback.
type FeedbackResult struct {
	DecisionID    int64  `json:"decision_id"`
	HumanApproved bool   `json:"human_approved"`
	Override      bool   `json:"override"`
	HumanAction   string `json:"human_action,omitempty"`
	Note          string `json:"note,omitempty"`
	Feedback      string `json:"feedback"`
}

// LearnFromFeedback records whether the human agreed with a decision.
// Feedback is write-once. When the human overrides an idea filter, the
// idea is remembered as a rejection so similar ideas are matched later, and
// an approved escalation is remembered as a precedent for HandleEscalation.
// Trust is never changed here. Once the feedback is stored the call
// succeeds; audit and rejection write failures are only logged.
func (g *Gate) LearnFromFeedback(ctx context.Context, decisionID int64, approved bool, action, note string) (res *FeedbackResult, err error) {
	ctx, span := g.startSpan(ctx, "gate.learn_from_feedback")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("decision_id", decisionID), attribute.Bool("approved", approved))

	override := !approved
	d, err := g.store.RecordFeedback(ctx, decisionID, override, action, note)
	if err != nil {
		return nil, fmt.Errorf("record feedback: %w", err)
	}

	details, err := json.Marshal(map[string]any{
		"decision_id":  decisionID,
		"override":     override,
		"human_action": action,
		"note":         note,
	})
	if err != nil {
		return nil, fmt.Errorf("encode audit details: %w", err)
	}
	if _, err := g.store.RecordAudit(ctx, crew.AuditEntry{
		AgentID:   d.HumanID,
		EventType: "human_feedback_recorded",
		Details:   details,
	}); err != nil {
		g.logger.Warn(ctx, "failed to audit human feedback",
			zap.Int64("decision_id", decisionID),
			zap.Error(err),
		)
	}

	if override && d.Type == crew.DecisionFilter && d.Context.MessageType == crew.MessageIdea {
		if err := g.rememberRejection(ctx, d, action); err != nil {
			g.logger.Warn(ctx, "failed to remember rejected filter",
				zap.Int64("decision_id", decisionID),
				zap.Error(err),
			)
		}
	}
	if approved && isEscalation(d.Type) && strings.TrimSpace(d.Context.Subject) != "" {
		if err := g.rememberPrecedent(ctx, d); err != nil {
			g.logger.Warn(ctx, "failed to remember precedent",
				zap.Int64("decision_id", decisionID),
				zap.Error(err),
			)
		}
	}

	res = &FeedbackResult{
		DecisionID:    decisionID,
		HumanApproved: approved,
		Override:      override,
		HumanAction:   action,
		Note:          note,
		Feedback:      "Confirmed",
	}
	if override {
		res.Feedback = "Pattern stored for future matching"
	}
	g.logger.Info(ctx, "human feedback recorded",
		zap.Int64("decision_id", decisionID),
		zap.Bool("override", override),
	)
	return res, nil
}

func (g *Gate) rememberRejection(ctx context.Context, d *crew.Decision, action string) error {
	subject := d.Context.Subject
	if subject == "" {
		subject = "unknown"
	}
	content, err := json.Marshal(struct {
		DecisionID  int64                `json:"decision_id"`
		Context     crew.DecisionContext `json:"context"`
		HumanAction string               `json:"human_action,omitempty"`
	}{d.ID, d.Context, action})
	if err != nil {
		return fmt.Errorf("encode rejection: %w", err)
	}
	if _, err := g.store.StoreKnowledge(ctx, crew.KnowledgeEntry{
		AgentID:  d.GateID,
		Category: crew.KnowledgeRejection,
		Subject:  "Human overrode filter on idea: " + subject,
		Content:  string(content),
	}); err != nil {
		return fmt.Errorf("store rejection: %w", err)
	}
	return nil
}

func isEscalation(t crew.DecisionType) bool {
	return t == crew.DecisionEscalate || t == crew.DecisionHandle
}

func (g *Gate) rememberPrecedent(ctx context.Context, d *crew.Decision) error {
	content, err := json.Marshal(struct {
		DecisionID int64                `json:"decision_id"`
		Type       crew.DecisionType    `json:"decision_type"`
		Context    crew.DecisionContext `json:"context"`
	}{d.ID, d.Type, d.Context})
	if err != nil {
		return fmt.Errorf("encode precedent: %w", err)
	}
	if _, err := g.store.StoreKnowledge(ctx, crew.KnowledgeEntry{
		AgentID:  d.GateID,
		Category: crew.KnowledgeDecision,
		Subject:  "Human approved escalation: " + d.Context.Subject,
		Content:  string(content),
	}); err != nil {
		return fmt.Errorf("store precedent: %w", err)
	}
	return nil
}

// Level is the gate's autonomy level, derived from its trust score.
type Level string

const (
	LevelObserver     Level = "observer"
	LevelAssistant    Level = "assistant"
	LevelOperator     Level = "operator"
	LevelChiefOfStaff Level = "chief_of_staff"
)

// Abilities lists what the gate may do at a level.
type Abilities struct {
	DeliverAllMessages bool `json:"deliver_all_messages"`
	MakeDecisions      bool `json:"make_decisions"`
	RespondOnBehalf    bool `json:"respond_on_behalf"`
	FilterIdeas        bool `json:"filter_ideas"`
	HandleEscalations  bool `json:"handle_escalations"`
	SendCommunications bool `json:"send_communications"`
	ManageBudget       bool `json:"manage_budget"`
}

// AutonomyReport is the gate's current autonomy and track record.
type AutonomyReport struct {
	GateName            string    `json:"right_hand"`
	TrustScore          int       `json:"trust_score"`
	Level               Level     `json:"level"`
	Description         string    `json:"description"`
	Abilities           Abilities `json:"abilities"`
	TotalDecisions      int       `json:"total_decisions"`
	Overrides           int       `json:"overrides"`
	AccuracyPct         float64   `json:"accuracy_pct"`
	OverrideRatePct     float64   `json:"override_rate_pct"`
	TrustRecommendation string    `json:"trust_recommendation,omitempty"`
}

// Autonomy reports the gate's level and, once enough decisions exist, a
// suggested trust change. The suggestion is never applied.
func (g *Gate) Autonomy(ctx context.Context) (*AutonomyReport, error) {
	snap, err := g.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return g.autonomy(ctx, snap)
}

func (g *Gate) autonomy(ctx context.Context, snap snapshot) (*AutonomyReport, error) {
	stats, err := g.store.DecisionStats(ctx, g.cfg.GateID)
	if err != nil {
		return nil, fmt.Errorf("decision stats: %w", err)
	}

	trust := snap.trust()
	r := &AutonomyReport{
		GateName:       snap.gate.Name,
		TrustScore:     trust,
		TotalDecisions: stats.Total,
		Overrides:      stats.Overrides,
	}
	r.Level, r.Description, r.Abilities = levelFor(trust)

	var accuracy float64
	if stats.Total > 0 {
		accuracy = float64(stats.Total-stats.Overrides) / float64(stats.Total) * 100
		r.OverrideRatePct = round1(float64(stats.Overrides) / float64(stats.Total) * 100)
	}
	r.AccuracyPct = round1(accuracy)

	if stats.Total >= minDecisionsForRecommendation {
		switch {
		case accuracy >= 95 && trust < crew.MaxScore:
			r.TrustRecommendation = fmt.Sprintf("Consider increasing trust to %d: %.0f%% accuracy over %d decisions",
				trust+1, accuracy, stats.Total)
		case accuracy < 70 && trust > crew.MinScore:
			r.TrustRecommendation = fmt.Sprintf("Consider decreasing trust to %d: %.0f%% accuracy over %d decisions",
				trust-1, accuracy, stats.Total)
		}
	}
	return r, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func levelFor(trust int) (Level, string, Abilities) {
	switch {
	case trust <= 3:
		return LevelObserver,
			"New relationship. Delivers everything to human. Cannot make decisions.",
			Abilities{DeliverAllMessages: true}
	case trust <= 6:
		return LevelAssistant,
			"Building trust. Handles routine, escalates novel situations.",
			Abilities{DeliverAllMessages: true, MakeDecisions: true, FilterIdeas: true, HandleEscalations: true}
	case trust <= 8:
		return LevelOperator,
			"Trusted operator. Makes operational decisions, drafts communications.",
			Abilities{
				DeliverAllMessages: true,
				MakeDecisions:      true,
				RespondOnBehalf:    true,
				FilterIdeas:        true,
				HandleEscalations:  true,
				SendCommunications: true,
				ManageBudget:       true,
			}
	default:
		return LevelChiefOfStaff,
			"Full autonomy. Human gets briefings only. Handles everything.",
			Abilities{
				MakeDecisions:      true,
				RespondOnBehalf:    true,
				FilterIdeas:        true,
				HandleEscalations:  true,
				SendCommunications: true,
				ManageBudget:       true,
			}
	}
}
