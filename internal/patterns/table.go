// Package patterns holds the versioned pattern table every crewgate
// heuristic runs on: skill injection vetting, reply integrity and charter
// checks, and outbound message review.
//
// A Table is data (TOML). Compile turns it into an immutable Matcher that
// is safe for concurrent use. A Source keeps the current Matcher and swaps
// it atomically when the backing file changes.
package patterns

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/sanitize"
)

//go:embed default_patterns.toml
var defaultTable []byte

var (
	// ErrInvalidTable wraps every table validation failure.
	ErrInvalidTable = errors.New("invalid pattern table")
)

// Catalog names a family of patterns.
type Catalog string

const (
	CatalogInjection Catalog = "injection"
	CatalogIntegrity Catalog = "integrity"
	CatalogCharter   Catalog = "charter"
	CatalogAnger     Catalog = "anger"
	CatalogPromise   Catalog = "promise"
)

// Valid reports whether c is a known catalog.
func (c Catalog) Valid() bool {
	switch c {
	case CatalogInjection, CatalogIntegrity, CatalogCharter, CatalogAnger, CatalogPromise:
		return true
	}
	return false
}

// Risk weights by severity.
const (
	WeightCritical = 10
	WeightHigh     = 6
	WeightMedium   = 3
	WeightLow      = 1
)

// DefaultWeight returns the risk weight for a finding severity, 0 for
// severities findings cannot have.
func DefaultWeight(s crew.Severity) int {
	switch s {
	case crew.SeverityCritical:
		return WeightCritical
	case crew.SeverityHigh:
		return WeightHigh
	case crew.SeverityMedium:
		return WeightMedium
	case crew.SeverityLow:
		return WeightLow
	}
	return 0
}

// Pattern is one rule in the table.
type Pattern struct {
	Name        string        `toml:"name"`
	Catalog     Catalog       `toml:"catalog"`
	Expression  string        `toml:"expression"`
	Severity    crew.Severity `toml:"severity"`
	Weight      int           `toml:"weight"`
	Description string        `toml:"description"`
}

// Table is a versioned list of patterns. Order is significant: findings
// are reported in table order.
type Table struct {
	Version  string    `toml:"version"`
	Patterns []Pattern `toml:"pattern"`
}

// Parse decodes a TOML table. It does not compile expressions.
func Parse(data []byte) (*Table, error) {
	var t Table
	md, err := toml.Decode(string(data), &t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidTable, undecoded)
	}
	return &t, nil
}

// LoadFile reads and parses a table from path.
func LoadFile(path string) (*Table, error) {
	path, err := sanitize.FilePath(path)
	if err != nil {
		return nil, fmt.Errorf("pattern table path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern table: %w", err)
	}
	return Parse(data)
}

// Default returns the table embedded in the binary.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic("patterns: embedded default table is invalid: " + err.Error())
	}
	return t
}

// Validate checks every pattern without compiling expressions.
func (t *Table) Validate() error {
	if t.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidTable)
	}
	if len(t.Patterns) == 0 {
		return fmt.Errorf("%w: no patterns", ErrInvalidTable)
	}
	for i, p := range t.Patterns {
		if p.Name == "" {
			return fmt.Errorf("%w: pattern %d has no name", ErrInvalidTable, i)
		}
		if !p.Catalog.Valid() {
			return fmt.Errorf("%w: pattern %d (%s): unknown catalog %q", ErrInvalidTable, i, p.Name, p.Catalog)
		}
		if DefaultWeight(p.Severity) == 0 {
			return fmt.Errorf("%w: pattern %d (%s): severity must be critical, high, medium or low, got %q", ErrInvalidTable, i, p.Name, p.Severity)
		}
		if p.Weight < 0 {
			return fmt.Errorf("%w: pattern %d (%s): negative weight", ErrInvalidTable, i, p.Name)
		}
		if p.Expression == "" {
			return fmt.Errorf("%w: pattern %d (%s): empty expression", ErrInvalidTable, i, p.Name)
		}
	}
	return nil
}
