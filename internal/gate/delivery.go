package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
)

// similarRejectionsToFilter is how many similar past rejections filter an
// idea outright.
const similarRejectionsToFilter = 2

// rejectionsPerWord caps the knowledge-store rejections read per keyword.
const rejectionsPerWord = 5

// precedentLimit caps the past decisions looked up for an escalation.
const precedentLimit = 3

// Delivery is the verdict on a message bound for the human.
type Delivery struct {
	Deliver    bool              `json:"deliver"`
	Reason     string            `json:"reason"`
	DelayUntil *time.Time        `json:"delay_until,omitempty"`
	Decision   crew.DecisionType `json:"decision_type"`
	DecisionID int64             `json:"decision_id"`
}

// IdeaAction is the outcome of FilterIdea.
type IdeaAction string

const (
	IdeaPass   IdeaAction = "pass"
	IdeaFilter IdeaAction = "filter"
	IdeaQueue  IdeaAction = "queue"
)

// IdeaVerdict is the idea filter's answer.
type IdeaVerdict struct {
	Action            IdeaAction `json:"action"`
	Reason            string     `json:"reason"`
	SimilarRejections int        `json:"similar_rejections,omitempty"`
}

// AssessDelivery decides whether msg may reach the human now. Critical
// messages and escalations always deliver. Ideas pass through the idea
// filter, then every message is checked against the timing rules. Each
// outcome is recorded as a decision.
func (g *Gate) AssessDelivery(ctx context.Context, msg crew.Message) (d Delivery, err error) {
	ctx, span := g.startSpan(ctx, "gate.assess_delivery")
	defer func() {
		span.SetAttributes(attribute.String("decision_type", string(d.Decision)))
		endSpan(span, err)
	}()

	snap, err := g.refresh(ctx)
	if err != nil {
		return Delivery{}, err
	}
	msg = normalizeMessage(msg)
	dctx := messageContext(msg)

	if msg.Priority == crew.PriorityCritical || msg.Type == crew.MessageEscalation {
		d = Delivery{Deliver: true, Reason: "Critical/safety - immediate delivery", Decision: crew.DecisionDeliver}
		d.DecisionID, err = g.record(ctx, crew.DecisionDeliver, dctx, "Immediate: "+d.Reason, "")
		return d, err
	}

	if msg.Type == crew.MessageIdea {
		idea, err := g.filterIdea(ctx, snap, msg)
		if err != nil {
			return Delivery{}, err
		}
		switch idea.Action {
		case IdeaFilter:
			d = Delivery{Reason: idea.Reason, Decision: crew.DecisionFilter}
			d.DecisionID, err = g.record(ctx, crew.DecisionFilter, dctx, "Filtered idea: "+idea.Reason, "")
			return d, err
		case IdeaQueue:
			d = Delivery{Reason: idea.Reason, Decision: crew.DecisionQueue}
			d.DecisionID, err = g.record(ctx, crew.DecisionQueue, dctx, "Queued idea: "+idea.Reason, "")
			return d, err
		}
	}

	timing, err := g.store.EvaluateTiming(ctx, g.cfg.HumanID, msg.Priority)
	if err != nil {
		return Delivery{}, fmt.Errorf("evaluate timing: %w", err)
	}
	if !timing.Deliver {
		d = Delivery{Reason: timing.Reason, DelayUntil: timing.DelayUntil, Decision: crew.DecisionQueue}
		d.DecisionID, err = g.record(ctx, crew.DecisionQueue, dctx, "Timing: "+timing.Reason, "")
		return d, err
	}

	d = Delivery{Deliver: true, Reason: "All checks passed - delivering to human", Decision: crew.DecisionDeliver}
	d.DecisionID, err = g.record(ctx, crew.DecisionDeliver, dctx, "Delivered", "")
	return d, err
}

// FilterIdea checks an idea against the human's past rejections and
// current burnout. It records nothing.
func (g *Gate) FilterIdea(ctx context.Context, msg crew.Message) (IdeaVerdict, error) {
	snap, err := g.refresh(ctx)
	if err != nil {
		return IdeaVerdict{}, err
	}
	return g.filterIdea(ctx, snap, msg)
}

func (g *Gate) filterIdea(ctx context.Context, snap snapshot, msg crew.Message) (IdeaVerdict, error) {
	words := keywords(msg.Subject)

	similar := 0
	if len(words) > 0 {
		rejections, err := g.store.SearchRejections(ctx, g.cfg.HumanID, words)
		if err != nil {
			return IdeaVerdict{}, fmt.Errorf("search rejections: %w", err)
		}
		similar += len(rejections)

		seen := make(map[int64]bool)
		for _, w := range words {
			entries, err := g.store.SearchKnowledge(ctx, w, crew.KnowledgeRejection, rejectionsPerWord)
			if err != nil {
				return IdeaVerdict{}, fmt.Errorf("search knowledge: %w", err)
			}
			for _, e := range entries {
				if !seen[e.ID] {
					seen[e.ID] = true
					similar++
				}
			}
		}
	}

	if similar >= similarRejectionsToFilter {
		return IdeaVerdict{
			Action:            IdeaFilter,
			Reason:            fmt.Sprintf("Found %d similar past rejections. Filtering idea.", similar),
			SimilarRejections: similar,
		}, nil
	}
	if b := snap.burnout(); b >= crew.BurnoutHigh {
		return IdeaVerdict{
			Action: IdeaQueue,
			Reason: fmt.Sprintf("Human burnout is %d/10. Queuing for lower-burnout moment.", b),
		}, nil
	}
	return IdeaVerdict{Action: IdeaPass, Reason: "Novel idea, no similar rejections found. Passing to human."}, nil
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "for": true, "and": true, "or": true,
	"in": true, "of": true, "to": true, "with": true, "from": true,
}

// keywords returns the significant words of a subject: punctuation
// trimmed, longer than three characters, not a stop word.
func keywords(subject string) []string {
	var out []string
	for _, w := range strings.Fields(subject) {
		w = strings.Trim(w, ".,!?;:")
		if len([]rune(w)) > 3 && !stopWords[strings.ToLower(w)] {
			out = append(out, w)
		}
	}
	return out
}

// EscalationAction is how the gate handles an escalation.
type EscalationAction string

const (
	DeliverToHuman     EscalationAction = "deliver_to_human"
	HandleAutonomously EscalationAction = "handle_autonomously"
)

// Escalation is the gate's answer to an escalation.
type Escalation struct {
	Action     EscalationAction `json:"action"`
	Response   string           `json:"response,omitempty"`
	DecisionID int64            `json:"decision_id"`
}

// HandleEscalation decides by trust score whether the gate handles an
// escalation itself. Trust 1-3 always delivers; 4-6 handles only when
// past decisions cover a similar subject; 7-10 handles everything except
// critical priority. An escalation without a subject has no precedent.
func (g *Gate) HandleEscalation(ctx context.Context, msg crew.Message) (e Escalation, err error) {
	ctx, span := g.startSpan(ctx, "gate.handle_escalation")
	defer func() {
		span.SetAttributes(attribute.String("action", string(e.Action)))
		endSpan(span, err)
	}()

	snap, err := g.refresh(ctx)
	if err != nil {
		return Escalation{}, err
	}
	msg = normalizeMessage(msg)
	dctx := messageContext(msg)
	trust := snap.trust()
	span.SetAttributes(attribute.Int("trust_score", trust))

	deliver := func(reason string) (Escalation, error) {
		id, err := g.record(ctx, crew.DecisionEscalate, dctx, reason, "")
		return Escalation{Action: DeliverToHuman, DecisionID: id}, err
	}
	handle := func(response, reason string) (Escalation, error) {
		id, err := g.record(ctx, crew.DecisionHandle, dctx, reason, "")
		return Escalation{Action: HandleAutonomously, Response: response, DecisionID: id}, err
	}

	switch {
	case trust <= 3:
		return deliver("Low trust - delivering to human")
	case trust <= 6:
		if strings.TrimSpace(msg.Subject) == "" {
			return deliver("Mid-trust, novel situation - delivering to human")
		}
		similar, err := g.store.SearchKnowledge(ctx, msg.Subject, crew.KnowledgeDecision, precedentLimit)
		if err != nil {
			return Escalation{}, fmt.Errorf("search precedents: %w", err)
		}
		if len(similar) == 0 {
			return deliver("Mid-trust, novel situation - delivering to human")
		}
		return handle(
			fmt.Sprintf("Handled based on precedent (similar to %d past decisions). Will include in evening summary.", len(similar)),
			fmt.Sprintf("Mid-trust autonomous: %d precedents found", len(similar)),
		)
	case msg.Priority == crew.PriorityCritical:
		return deliver("High trust but critical priority - delivering to human")
	default:
		return handle(
			fmt.Sprintf("Handled autonomously at trust level %d. Will include in evening summary.", trust),
			fmt.Sprintf("High trust autonomous handling (trust=%d)", trust),
		)
	}
}
