package replyscan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crewgate/internal/patterns"
)

func newTestScanner() *Scanner {
	return New(patterns.MustCompileDefault(patterns.WithoutCredentialScan()))
}

func TestIntegrity(t *testing.T) {
	s := newTestScanner()

	tests := []struct {
		name     string
		text     string
		types    []string
		snippets []string
	}{
		{
			name: "clean",
			text: "Here is the report you asked for.",
		},
		{
			name:     "denial and dismissal",
			text:     "You never told me that, calm down.",
			types:    []string{"gaslight_denial", "dismissive"},
			snippets: []string{"You never told me that, calm down.", "never told me that, calm down."},
		},
		{
			name:     "markup does not split a phrase",
			text:     "Please calm <i>down</i>",
			types:    []string{"dismissive"},
			snippets: []string{"Please calm down"},
		},
		{
			name:     "blame shift",
			text:     "Honestly that's your problem now",
			types:    []string{"blame_shift"},
			snippets: []string{"Honestly that's your problem now"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := s.Integrity(tt.text)
			if tt.types == nil {
				assert.True(t, v.Clean)
				assert.NotNil(t, v.Violations)
				assert.Empty(t, v.Violations)
				return
			}
			assert.False(t, v.Clean)
			assert.Equal(t, tt.types, v.Types())
			require.Len(t, v.Violations, len(tt.snippets))
			for i, want := range tt.snippets {
				assert.Equal(t, want, v.Violations[i].Snippet)
			}
		})
	}
}

func TestIntegrity_OneViolationPerPattern(t *testing.T) {
	s := newTestScanner()
	v := s.Integrity("calm down, you're being dramatic. Calm down!")

	require.Len(t, v.Violations, 2)
	assert.Equal(t, []string{"dismissive"}, v.Types())
	assert.Equal(t, `calm\s+down`, v.Violations[0].Pattern)
	assert.Equal(t, `you'?re\s+being\s+(dramatic|too\s+sensitive|paranoid)`, v.Violations[1].Pattern)
}

func TestCharter(t *testing.T) {
	s := newTestScanner()

	v := s.Charter("Just checking in! Are you still there?")
	assert.False(t, v.Clean)
	assert.Len(t, v.Violations, 2)
	assert.Equal(t, []string{"needy_checkin"}, v.Types())

	v = s.Charter("Between you and me, I'll handle everything.")
	assert.Equal(t, []string{"manipulative", "scope_overreach"}, v.Types())

	v = s.Charter("Deployed v2 to staging. Tests green.")
	assert.True(t, v.Clean)

	// Charter rules do not include integrity patterns.
	assert.True(t, s.Charter("calm down").Clean)
}

func TestSnippetContext(t *testing.T) {
	s := newTestScanner()
	text := strings.Repeat("x", 30) + " calm down " + strings.Repeat("y", 30)

	v := s.Integrity(text)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, strings.Repeat("x", 19)+" calm down "+strings.Repeat("y", 19), v.Violations[0].Snippet)
}

func TestSnippet_MultibyteBoundaries(t *testing.T) {
	text := "ééééé calm down ñ"
	start := strings.Index(text, "calm")
	assert.Equal(t, text, snippet(text, start, start+len("calm down")))

	assert.Equal(t, "", snippet(text, 5, len(text)+1))
	assert.Equal(t, "", snippet(text, -1, 3))
}
