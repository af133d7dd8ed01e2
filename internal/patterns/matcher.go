package patterns

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/OneOfOne/xxhash"
	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/microcosm-cc/bluemonday"
)

// maxMatchedRunes bounds Finding.Matched.
const maxMatchedRunes = 80

// CredentialPattern is the pattern name credential hits are reported under.
const CredentialPattern = "embedded_credential"

// Finding is one pattern hit.
type Finding struct {
	Pattern  string        `json:"pattern"`
	Catalog  Catalog       `json:"catalog"`
	Severity crew.Severity `json:"severity"`
	Weight   int           `json:"weight"`
	Matched  string        `json:"matched"`
	// Expression is the regular expression that fired, empty for
	// credential rule hits.
	Expression string `json:"expression,omitempty"`
	// Start and End are byte offsets into the scanned text, or into its
	// markup-stripped form when Normalized is set.
	Start      int  `json:"start"`
	End        int  `json:"end"`
	Normalized bool `json:"normalized,omitempty"`
}

type compiled struct {
	Pattern
	re *regexp.Regexp
}

// Matcher is a compiled Table. It is immutable and safe for concurrent use.
type Matcher struct {
	version     string
	fingerprint string
	byCatalog   map[Catalog][]compiled
	credentials credentialScanner
	strip       *bluemonday.Policy
}

// Provider hands out the current Matcher. *Matcher provides itself; a
// Source provides whatever table was loaded last.
type Provider interface {
	Matcher() *Matcher
}

type compileOptions struct {
	skipCredentials bool
}

// CompileOption configures Compile.
type CompileOption func(*compileOptions)

// WithoutCredentialScan disables the gitleaks pass over injection text.
func WithoutCredentialScan() CompileOption {
	return func(o *compileOptions) { o.skipCredentials = true }
}

// Compile validates the table and compiles every expression
// case-insensitively.
func (t *Table) Compile(opts ...CompileOption) (*Matcher, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var o compileOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := &Matcher{
		version:   t.Version,
		byCatalog: make(map[Catalog][]compiled),
		strip:     bluemonday.StrictPolicy(),
	}

	h := xxhash.New64()
	fmt.Fprintf(h, "%s\x00", t.Version)
	for i, p := range t.Patterns {
		re, err := regexp.Compile("(?i)" + p.Expression)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %d (%s): %v", ErrInvalidTable, i, p.Name, err)
		}
		if p.Weight == 0 {
			p.Weight = DefaultWeight(p.Severity)
		}
		m.byCatalog[p.Catalog] = append(m.byCatalog[p.Catalog], compiled{Pattern: p, re: re})
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\x00", p.Name, p.Catalog, p.Severity, p.Expression, p.Weight)
	}
	fmt.Fprintf(h, "credentials=%t", !o.skipCredentials)
	m.fingerprint = strconv.FormatUint(h.Sum64(), 16)

	if !o.skipCredentials {
		scanner, err := defaultCredentialScanner()
		if err != nil {
			return nil, fmt.Errorf("loading credential rules: %w", err)
		}
		m.credentials = scanner
	}
	return m, nil
}

// MustCompileDefault compiles the embedded table, panicking on error.
func MustCompileDefault(opts ...CompileOption) *Matcher {
	m, err := Default().Compile(opts...)
	if err != nil {
		panic("patterns: " + err.Error())
	}
	return m
}

// Matcher implements Provider.
func (m *Matcher) Matcher() *Matcher { return m }

// Version is the table's declared version.
func (m *Matcher) Version() string { return m.version }

// Fingerprint identifies the compiled table contents. Two matchers with
// the same fingerprint give identical verdicts.
func (m *Matcher) Fingerprint() string { return m.fingerprint }

// Len returns the number of patterns in catalog.
func (m *Matcher) Len(catalog Catalog) int { return len(m.byCatalog[catalog]) }

// Normalize strips HTML markup so tags cannot split a phrase.
func (m *Matcher) Normalize(text string) string {
	if !strings.ContainsRune(text, '<') {
		return text
	}
	return html.UnescapeString(m.strip.Sanitize(text))
}

// Match runs every pattern of catalog over text and returns one finding per
// matching pattern, in table order. Text containing markup is matched both
// raw and with markup stripped; a pattern is reported once, raw hits first.
func (m *Matcher) Match(catalog Catalog, text string) []Finding {
	var findings []Finding

	normalized := m.Normalize(text)
	for _, c := range m.byCatalog[catalog] {
		if f, ok := find(c, text, false); ok {
			findings = append(findings, f)
		} else if normalized != text {
			if f, ok := find(c, normalized, true); ok {
				findings = append(findings, f)
			}
		}
	}

	if catalog == CatalogInjection && m.credentials != nil {
		findings = append(findings, m.credentialFindings(text, findings)...)
	}
	return findings
}

// Words returns the names of catalog patterns matching text, de-duplicated
// in table order. Used for word lists such as anger and promise.
func (m *Matcher) Words(catalog Catalog, text string) []string {
	var words []string
	seen := make(map[string]bool)
	for _, f := range m.Match(catalog, text) {
		if !seen[f.Pattern] {
			seen[f.Pattern] = true
			words = append(words, f.Pattern)
		}
	}
	return words
}

func find(c compiled, text string, normalized bool) (Finding, bool) {
	loc := c.re.FindStringIndex(text)
	if loc == nil {
		return Finding{}, false
	}
	return Finding{
		Pattern:    c.Name,
		Catalog:    c.Catalog,
		Severity:   c.Severity,
		Weight:     c.Weight,
		Matched:    truncateRunes(text[loc[0]:loc[1]], maxMatchedRunes),
		Expression: c.Expression,
		Start:      loc[0],
		End:        loc[1],
		Normalized: normalized,
	}, true
}

// credentialFindings reports gitleaks hits not already covered by a regex
// credential finding.
func (m *Matcher) credentialFindings(text string, existing []Finding) []Finding {
	var out []Finding
	for _, hit := range m.credentials.scan(text) {
		start := strings.Index(text, hit.secret)
		if start < 0 {
			continue
		}
		end := start + len(hit.secret)
		if overlapsCredential(existing, start, end) || overlapsCredential(out, start, end) {
			continue
		}
		out = append(out, Finding{
			Pattern:  CredentialPattern,
			Catalog:  CatalogInjection,
			Severity: crew.SeverityLow,
			Weight:   WeightLow,
			Matched:  hit.rule + ": " + maskSecret(hit.secret),
			Start:    start,
			End:      end,
		})
	}
	return out
}

// credentialGap is how far a "key =" hit may end before a secret and still
// describe the same credential (quotes and spaces).
const credentialGap = 4

// overlapsCredential reports whether a raw credential finding overlaps
// [start, end) or ends just before it.
func overlapsCredential(findings []Finding, start, end int) bool {
	for _, f := range findings {
		if f.Pattern != CredentialPattern || f.Normalized {
			continue
		}
		if f.Start < end && start < f.End+credentialGap {
			return true
		}
	}
	return false
}

// maskSecret keeps the first four characters so an operator can tell
// which credential leaked without the finding leaking it again.
func maskSecret(s string) string {
	if utf8.RuneCountInString(s) <= 4 {
		return "****"
	}
	return truncateRunes(s, 4) + "****"
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
