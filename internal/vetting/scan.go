package vetting

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/patterns"
)

const (
	// MaxRiskScore caps the summed flag weights.
	MaxRiskScore = 10
	// MaxSafeRiskScore is the highest risk score still considered safe.
	MaxSafeRiskScore = 5

	malformedRiskScore = 3
	malformedExcerpt   = 100
)

// Pattern names the scanner reports on its own.
const (
	PatternMalformedJSON = "malformed_json"
)

// rawField is the field name of flags found only in the raw text of a
// commented document.
const rawField = "$raw"

const rootField = "root"

// Flag is one finding in a scanned document.
type Flag struct {
	Severity    crew.Severity `json:"severity"`
	PatternName string        `json:"pattern_name"`
	MatchedText string        `json:"matched_text"`
	Field       string        `json:"field"`
	weight      int
}

// ScanResult is the verdict on a piece of skill content.
type ScanResult struct {
	Safe               bool           `json:"safe"`
	RiskScore          int            `json:"risk_score"`
	Flags              []Flag         `json:"flags"`
	Recommendation     string         `json:"recommendation"`
	ScanFields         map[string]int `json:"scan_fields"`
	PatternVersion     string         `json:"pattern_version"`
	PatternFingerprint string         `json:"pattern_fingerprint"`
}

// FlagNames returns the distinct pattern names of the flags in order of
// first appearance.
func (r *ScanResult) FlagNames() []string {
	return flagNames(r.Flags, nil)
}

// HasCritical reports whether any flag is critical.
func (r *ScanResult) HasCritical() bool {
	for _, f := range r.Flags {
		if f.Severity == crew.SeverityCritical {
			return true
		}
	}
	return false
}

// Scanner risk-scores content against the injection catalog.
type Scanner struct {
	patterns patterns.Provider
}

// NewScanner creates a scanner over the current pattern table.
func NewScanner(p patterns.Provider) *Scanner {
	return &Scanner{patterns: p}
}

type field struct {
	path string
	text string
}

// ScanContent scans every string leaf of a JSON document. It never fails:
// malformed input becomes a malformed_json flag.
func (s *Scanner) ScanContent(content string) ScanResult {
	m := s.patterns.Matcher()
	res := ScanResult{
		Flags:              []Flag{},
		ScanFields:         map[string]int{},
		PatternVersion:     m.Version(),
		PatternFingerprint: m.Fingerprint(),
	}

	strict := true
	doc, err := decodeJSON([]byte(content))
	if err != nil {
		strict = false
		doc, err = decodeJSONC(content)
	}
	if err != nil {
		res.RiskScore = malformedRiskScore
		res.Flags = []Flag{{
			Severity:    crew.SeverityMedium,
			PatternName: PatternMalformedJSON,
			MatchedText: truncate(content, malformedExcerpt),
			Field:       rootField,
			weight:      malformedRiskScore,
		}}
		res.Recommendation = "BLOCKED: skill config is not valid JSON. Cannot verify safety."
		return res
	}

	fields := extractFields(doc, "", nil)
	if len(fields) == 0 && strict {
		res.Safe = true
		res.Recommendation = "Config contains no text to scan."
		return res
	}

	for _, f := range fields {
		res.ScanFields[f.path] = utf8.RuneCountInString(f.text)
		for _, finding := range m.Match(patterns.CatalogInjection, f.text) {
			res.Flags = append(res.Flags, flagFrom(finding, f.path))
		}
	}

	// Comments are dropped by parsing but still reach whoever reads the
	// raw config, so a commented document is also scanned whole.
	if !strict {
		res.ScanFields[rawField] = utf8.RuneCountInString(content)
		seen := make(map[string]bool, len(res.Flags))
		for _, f := range res.Flags {
			seen[f.PatternName+"\x00"+f.MatchedText] = true
		}
		for _, finding := range m.Match(patterns.CatalogInjection, content) {
			fl := flagFrom(finding, rawField)
			if !seen[fl.PatternName+"\x00"+fl.MatchedText] {
				res.Flags = append(res.Flags, fl)
			}
		}
	}

	total := 0
	for _, f := range res.Flags {
		total += f.weight
	}
	res.RiskScore = min(total, MaxRiskScore)
	res.Safe = !res.HasCritical() && res.RiskScore <= MaxSafeRiskScore
	res.Recommendation = recommend(&res)
	return res
}

func flagFrom(f patterns.Finding, path string) Flag {
	return Flag{
		Severity:    f.Severity,
		PatternName: f.Pattern,
		MatchedText: f.Matched,
		Field:       path,
		weight:      f.Weight,
	}
}

// extractFields collects string leaves depth first. Map keys are visited in
// sorted order; a top-level string is reported as "root".
func extractFields(v any, prefix string, out []field) []field {
	switch t := v.(type) {
	case string:
		path := prefix
		if path == "" {
			path = rootField
		}
		out = append(out, field{path: path, text: t})
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			out = extractFields(t[k], path, out)
		}
	case []any:
		for i, e := range t {
			out = extractFields(e, fmt.Sprintf("%s[%d]", prefix, i), out)
		}
	}
	return out
}

func recommend(r *ScanResult) string {
	switch {
	case len(r.Flags) == 0:
		return "No safety issues detected. Skill looks clean."
	case r.HasCritical():
		critical := func(f Flag) bool { return f.Severity == crew.SeverityCritical }
		return fmt.Sprintf("BLOCKED: critical safety violation detected: %s. "+
			"This skill contains patterns commonly used in prompt injection attacks.",
			strings.Join(flagNames(r.Flags, critical), ", "))
	case r.RiskScore > MaxSafeRiskScore:
		return fmt.Sprintf("BLOCKED: risk score %d/%d exceeds safe threshold. Flagged patterns: %s.",
			r.RiskScore, MaxRiskScore, strings.Join(r.FlagNames(), ", "))
	default:
		return fmt.Sprintf("Minor flags detected (%s) but within safe range (risk %d/%d). Human approval recommended.",
			strings.Join(r.FlagNames(), ", "), r.RiskScore, MaxRiskScore)
	}
}

func flagNames(flags []Flag, keep func(Flag) bool) []string {
	var names []string
	seen := make(map[string]bool)
	for _, f := range flags {
		if keep != nil && !keep(f) {
			continue
		}
		if !seen[f.PatternName] {
			seen[f.PatternName] = true
			names = append(names, f.PatternName)
		}
	}
	return names
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
