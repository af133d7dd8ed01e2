package gate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/patterns"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

// casualBodyLimit is the body length, in characters, above which a
// message is longer than the human's casual style.
const casualBodyLimit = 500

// OutboundMessage is a message the human is about to send.
type OutboundMessage struct {
	To       string        `json:"to,omitempty"`
	Subject  string        `json:"subject"`
	Body     string        `json:"body"`
	Priority crew.Priority `json:"priority,omitempty"`
}

// ReviewAction is the reputation review's recommendation.
type ReviewAction string

const (
	ReviewApprove       ReviewAction = "approve"
	ReviewFlagForReview ReviewAction = "flag_for_review"
	ReviewSuggestEdit   ReviewAction = "suggest_edit"
)

// ReputationReview is the result of ProtectReputation.
type ReputationReview struct {
	Action     ReviewAction `json:"action"`
	Concerns   []string     `json:"concerns"`
	DecisionID int64        `json:"decision_id"`
}

// ProtectReputation reviews an outbound message for burnout, quiet hours,
// frustration, overpromising and style before it leaves.
func (g *Gate) ProtectReputation(ctx context.Context, out OutboundMessage) (r ReputationReview, err error) {
	ctx, span := g.startSpan(ctx, "gate.protect_reputation")
	defer func() {
		span.SetAttributes(
			attribute.String("action", string(r.Action)),
			attribute.Int("concerns", len(r.Concerns)),
		)
		endSpan(span, err)
	}()

	snap, err := g.refresh(ctx)
	if err != nil {
		return ReputationReview{}, err
	}

	concerns := []string{}
	if b := snap.burnout(); b >= crew.BurnoutHigh {
		concerns = append(concerns, fmt.Sprintf("Written during high burnout (score %d/10). Flag for morning review.", b))
	}

	timing, err := g.store.EvaluateTiming(ctx, g.cfg.HumanID, crew.PriorityNormal)
	if err != nil {
		return ReputationReview{}, fmt.Errorf("evaluate timing: %w", err)
	}
	if !timing.Deliver && strings.Contains(strings.ToLower(timing.Reason), "quiet") {
		concerns = append(concerns, "Written during quiet hours. Delay send until morning.")
	}

	m := g.patterns.Matcher()
	if words := m.Words(patterns.CatalogAnger, out.Body); len(words) > 0 {
		concerns = append(concerns, fmt.Sprintf("Potential frustration language detected: %s. Review before sending.", strings.Join(words, ", ")))
	}
	if words := m.Words(patterns.CatalogPromise, out.Body); len(words) > 0 {
		concerns = append(concerns, fmt.Sprintf("Potential overpromising: %s. Verify commitments.", strings.Join(words, ", ")))
	}

	profile, err := g.store.GetHumanProfile(ctx, g.cfg.HumanID)
	if err != nil {
		return ReputationReview{}, fmt.Errorf("load human profile: %w", err)
	}
	if profile.FormalityOrDefault() == "casual" && len([]rune(out.Body)) > casualBodyLimit {
		concerns = append(concerns, "Message is longer than typical casual style.")
	}

	r = ReputationReview{Action: reviewAction(concerns), Concerns: concerns}
	r.DecisionID, err = g.record(ctx, crew.DecisionReputationProtect,
		crew.DecisionContext{
			Subject: out.Subject,
			Extra:   map[string]string{"concerns_count": strconv.Itoa(len(concerns))},
		},
		string(r.Action),
		"Reputation protection check on outbound message",
		"outbound", "reputation",
	)
	return r, err
}

func reviewAction(concerns []string) ReviewAction {
	if len(concerns) == 0 {
		return ReviewApprove
	}
	for _, c := range concerns {
		if strings.Contains(c, "morning review") || strings.Contains(c, "frustration") {
			return ReviewFlagForReview
		}
	}
	return ReviewSuggestEdit
}

// Load is the cognitive load the human can take right now.
type Load string

const (
	LoadEmergencyOnly Load = "emergency_only"
	LoadMinimal       Load = "minimal"
	LoadLight         Load = "light"
	LoadFull          Load = "full"
)

// HumanStateReport combines the human's stored state with today's
// activity and a recommended load.
type HumanStateReport struct {
	BurnoutScore        int    `json:"burnout_score"`
	Energy              string `json:"energy"`
	Activity            string `json:"activity"`
	Mood                string `json:"mood"`
	ConsecutiveWorkDays int    `json:"consecutive_work_days"`
	SocialIsolationDays int    `json:"social_isolation_days"`
	MessagesToday       int    `json:"messages_received_today"`
	DecisionsToday      int    `json:"decisions_made_today"`
	RecommendedLoad     Load   `json:"recommended_load"`
}

// AssessHumanState reports the human's state. "Today" starts at UTC
// midnight.
func (g *Gate) AssessHumanState(ctx context.Context) (*HumanStateReport, error) {
	ctx, span := g.startSpan(ctx, "gate.assess_human_state")
	var err error
	defer func() { endSpan(span, err) }()

	state, err := g.store.GetHumanState(ctx, g.cfg.HumanID)
	if err != nil {
		return nil, fmt.Errorf("load human state: %w", err)
	}
	state = state.WithDefaults()

	now := g.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	msgs, err := g.store.CountMessages(ctx, store.MessageFilter{ToIDs: []int64{g.cfg.HumanID}, Since: midnight})
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	decisions, err := g.store.QueryDecisions(ctx, store.DecisionFilter{HumanID: g.cfg.HumanID, Since: midnight})
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}

	isolation := 0
	if state.LastSocialActivity != nil && now.After(*state.LastSocialActivity) {
		isolation = int(now.Sub(*state.LastSocialActivity).Hours() / 24)
	}

	report := &HumanStateReport{
		BurnoutScore:        state.BurnoutScore,
		Energy:              state.Energy,
		Activity:            state.Activity,
		Mood:                state.Mood,
		ConsecutiveWorkDays: state.ConsecutiveWorkDays,
		SocialIsolationDays: isolation,
		MessagesToday:       msgs,
		DecisionsToday:      len(decisions),
		RecommendedLoad:     recommendedLoad(state),
	}
	span.SetAttributes(attribute.String("recommended_load", string(report.RecommendedLoad)))
	return report, nil
}

// recommendedLoad applies the load rules; the first match wins.
func recommendedLoad(s crew.HumanState) Load {
	switch {
	case s.BurnoutScore >= 8 || s.Activity == "driving" || s.Activity == "unavailable":
		return LoadEmergencyOnly
	case s.BurnoutScore >= 6 || s.Activity == "resting" || s.Activity == "family_time":
		return LoadMinimal
	case s.BurnoutScore >= 4 || s.Energy == "low":
		return LoadLight
	default:
		return LoadFull
	}
}
