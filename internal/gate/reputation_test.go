package gate

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

func TestProtectReputation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		setup    func(t *testing.T, f *fixture)
		body     string
		want     ReviewAction
		concerns []string
	}{
		{
			name: "clean message",
			body: "Thanks for the update, talk soon.",
			want: ReviewApprove,
		},
		{
			name: "frustration",
			body: "This is unacceptable and I demand a refund.",
			want: ReviewFlagForReview,
			concerns: []string{
				"Potential frustration language detected: unacceptable, demand. Review before sending.",
			},
		},
		{
			name: "overpromising only",
			body: "We guarantee delivery, it's easy.",
			want: ReviewSuggestEdit,
			concerns: []string{
				"Potential overpromising: guarantee, easy. Verify commitments.",
			},
		},
		{
			name:  "high burnout",
			setup: func(t *testing.T, f *fixture) { f.setBurnout(t, 7) },
			body:  "Sounds good.",
			want:  ReviewFlagForReview,
			concerns: []string{
				"Written during high burnout (score 7/10). Flag for morning review.",
			},
		},
		{
			name: "quiet hours",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.SetTimingRules(ctx, f.human, store.TimingRules{
					QuietHours: &store.QuietHours{Start: "11:00", End: "13:00"},
				}))
			},
			body: "Sounds good.",
			want: ReviewSuggestEdit,
			concerns: []string{
				"Written during quiet hours. Delay send until morning.",
			},
		},
		{
			name: "long casual message",
			body: strings.Repeat("x", casualBodyLimit+1),
			want: ReviewSuggestEdit,
			concerns: []string{
				"Message is longer than typical casual style.",
			},
		},
		{
			name: "long formal message",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.SetHumanProfile(ctx, f.human, crew.HumanProfile{Formality: "formal"}))
			},
			body: strings.Repeat("x", casualBodyLimit+1),
			want: ReviewApprove,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}

			r, err := f.gate.ProtectReputation(ctx, OutboundMessage{To: "client@example.com", Subject: "Re: order", Body: tt.body})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Action)
			if tt.concerns == nil {
				assert.Empty(t, r.Concerns)
			} else {
				assert.Equal(t, tt.concerns, r.Concerns)
			}

			rec := f.decision(t, r.DecisionID)
			assert.Equal(t, crew.DecisionReputationProtect, rec.Type)
			assert.Equal(t, string(tt.want), rec.Action)
			assert.Equal(t, "Re: order", rec.Context.Subject)
			assert.Equal(t, map[string]string{"concerns_count": strconv.Itoa(len(tt.concerns))}, rec.Context.Extra)
			assert.Equal(t, []string{"outbound", "reputation"}, rec.Tags)
		})
	}
}

func TestProtectReputation_ConcernOrder(t *testing.T) {
	f := newFixture(t)
	f.setBurnout(t, 9)

	r, err := f.gate.ProtectReputation(context.Background(), OutboundMessage{
		Subject: "Vendor",
		Body:    "Your work is useless. I'll definitely fix it myself. " + strings.Repeat("!", casualBodyLimit),
	})
	require.NoError(t, err)
	require.Len(t, r.Concerns, 4)
	assert.Contains(t, r.Concerns[0], "high burnout")
	assert.Contains(t, r.Concerns[1], "frustration language detected: useless.")
	assert.Contains(t, r.Concerns[2], "overpromising: definitely.")
	assert.Contains(t, r.Concerns[3], "longer than typical")
	assert.Equal(t, ReviewFlagForReview, r.Action)
}

func TestAssessHumanState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lastSocial := f.clock.t.Add(-75 * time.Hour)
	require.NoError(t, f.store.SetHumanState(ctx, f.human, crew.HumanState{
		BurnoutScore:        6,
		Energy:              "high",
		ConsecutiveWorkDays: 9,
		LastSocialActivity:  &lastSocial,
	}))

	// Yesterday's traffic is not counted.
	now := f.clock.t
	f.clock.t = now.Add(-13 * time.Hour)
	_, err := f.store.SendMessage(ctx, store.SendRequest{
		FromID: f.boss, ToID: f.human, Type: crew.MessageReport, Subject: "late", Priority: crew.PriorityNormal,
	})
	require.NoError(t, err)
	_, err = f.gate.AssessDelivery(ctx, crew.Message{Subject: "late"})
	require.NoError(t, err)
	f.clock.t = now

	for range 2 {
		_, err = f.store.SendMessage(ctx, store.SendRequest{
			FromID: f.boss, ToID: f.human, Type: crew.MessageReport, Subject: "today", Priority: crew.PriorityNormal,
		})
		require.NoError(t, err)
	}
	_, err = f.gate.AssessDelivery(ctx, crew.Message{Subject: "today"})
	require.NoError(t, err)

	s, err := f.gate.AssessHumanState(ctx)
	require.NoError(t, err)
	assert.Equal(t, &HumanStateReport{
		BurnoutScore:        6,
		Energy:              "high",
		Activity:            "working",
		Mood:                "neutral",
		ConsecutiveWorkDays: 9,
		SocialIsolationDays: 3,
		MessagesToday:       2,
		DecisionsToday:      1,
		RecommendedLoad:     LoadMinimal,
	}, s)
	f.tel.AssertSpanAttribute(t, "gate.assess_human_state", "recommended_load", "minimal")
}

func TestRecommendedLoad(t *testing.T) {
	tests := []struct {
		state crew.HumanState
		want  Load
	}{
		{crew.HumanState{BurnoutScore: 8, Energy: "high", Activity: "working"}, LoadEmergencyOnly},
		{crew.HumanState{BurnoutScore: 2, Energy: "high", Activity: "driving"}, LoadEmergencyOnly},
		{crew.HumanState{BurnoutScore: 2, Energy: "high", Activity: "unavailable"}, LoadEmergencyOnly},
		{crew.HumanState{BurnoutScore: 6, Energy: "high", Activity: "working"}, LoadMinimal},
		{crew.HumanState{BurnoutScore: 2, Energy: "high", Activity: "family_time"}, LoadMinimal},
		{crew.HumanState{BurnoutScore: 4, Energy: "high", Activity: "working"}, LoadLight},
		{crew.HumanState{BurnoutScore: 2, Energy: "low", Activity: "working"}, LoadLight},
		{crew.HumanState{BurnoutScore: 3, Energy: "medium", Activity: "working"}, LoadFull},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, recommendedLoad(tt.state), "%+v", tt.state)
	}
}
