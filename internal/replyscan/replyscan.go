// Package replyscan checks agent replies to the human for integrity
// violations (gaslighting, dismissiveness, blame shifting) and subordinate
// replies for charter violations (neediness, toxicity, manipulation).
package replyscan

import (
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/crewgate/internal/patterns"
)

// snippetContext is how many characters of context surround a match.
const snippetContext = 20

// Violation is one matching pattern.
type Violation struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
	Snippet string `json:"snippet"`
}

// Verdict is the result of scanning one reply.
type Verdict struct {
	Clean      bool        `json:"clean"`
	Violations []Violation `json:"violations"`
}

// Types returns the distinct violation types in order.
func (v Verdict) Types() []string {
	var out []string
	seen := make(map[string]bool)
	for _, viol := range v.Violations {
		if !seen[viol.Type] {
			seen[viol.Type] = true
			out = append(out, viol.Type)
		}
	}
	return out
}

// Scanner runs the integrity and charter catalogs.
type Scanner struct {
	patterns patterns.Provider
}

// New creates a Scanner.
func New(p patterns.Provider) *Scanner {
	return &Scanner{patterns: p}
}

// Integrity scans a reply from any agent.
func (s *Scanner) Integrity(text string) Verdict {
	return s.scan(patterns.CatalogIntegrity, text)
}

// Charter scans a reply from a subordinate agent.
func (s *Scanner) Charter(text string) Verdict {
	return s.scan(patterns.CatalogCharter, text)
}

func (s *Scanner) scan(catalog patterns.Catalog, text string) Verdict {
	m := s.patterns.Matcher()
	findings := m.Match(catalog, text)

	v := Verdict{Violations: make([]Violation, 0, len(findings))}
	var normalized string
	for _, f := range findings {
		src := text
		if f.Normalized {
			if normalized == "" {
				normalized = m.Normalize(text)
			}
			src = normalized
		}
		v.Violations = append(v.Violations, Violation{
			Type:    f.Pattern,
			Pattern: f.Expression,
			Snippet: snippet(src, f.Start, f.End),
		})
	}
	v.Clean = len(v.Violations) == 0
	return v
}

// snippet returns text[start:end] with up to snippetContext runes either
// side, trimmed.
func snippet(text string, start, end int) string {
	if start < 0 || end > len(text) || start > end {
		return ""
	}
	from := start
	for i := 0; i < snippetContext && from > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:from])
		from -= size
	}
	to := end
	for i := 0; i < snippetContext && to < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[to:])
		to += size
	}
	return strings.TrimSpace(text[from:to])
}
