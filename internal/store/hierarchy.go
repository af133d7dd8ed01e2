package store

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/sanitize"
)

// Hierarchy is the YAML description of a crew used to seed a store.
//
//	hierarchy:
//	  human:
//	    name: Alex
//	    timezone: Europe/Berlin
//	    quiet_hours: {start: "22:00", end: "07:00"}
//	    communication: {formality: casual}
//	  right_hand: {name: Boss, trust_score: 5}
//	  core_crew:
//	    security: {name: Guard}
//	    wellness: {name: Calm}
//	  departments:
//	    - name: Ops
//	      manager: {name: Ops Lead}
//	      workers: [{name: Runner}]
type Hierarchy struct {
	Hierarchy struct {
		Human       HumanDef            `yaml:"human"`
		RightHand   AgentDef            `yaml:"right_hand"`
		CoreCrew    map[string]AgentDef `yaml:"core_crew"`
		Departments []DepartmentDef     `yaml:"departments"`
	} `yaml:"hierarchy"`
}

// HumanDef describes the human principal.
type HumanDef struct {
	Name          string      `yaml:"name"`
	Timezone      string      `yaml:"timezone"`
	BurnoutScore  int         `yaml:"burnout_score"`
	QuietHours    *QuietHours `yaml:"quiet_hours"`
	Communication struct {
		Formality string `yaml:"formality"`
	} `yaml:"communication"`
}

// AgentDef describes one agent. Type defaults from context.
type AgentDef struct {
	Name       string         `yaml:"name"`
	Type       crew.AgentType `yaml:"agent_type"`
	TrustScore int            `yaml:"trust_score"`
	Active     *bool          `yaml:"active"`
}

// DepartmentDef is a manager and its workers.
type DepartmentDef struct {
	Name    string     `yaml:"name"`
	Manager AgentDef   `yaml:"manager"`
	Workers []AgentDef `yaml:"workers"`
}

// Seeder is implemented by stores that can be seeded from a Hierarchy.
type Seeder interface {
	UpsertAgent(ctx context.Context, a crew.Agent) (int64, error)
	SetHumanState(ctx context.Context, humanID int64, s crew.HumanState) error
	SetHumanProfile(ctx context.Context, humanID int64, p crew.HumanProfile) error
	SetTimingRules(ctx context.Context, humanID int64, rules TimingRules) error
}

// SeedResult lists the agents registered by Seed.
type SeedResult struct {
	HumanID     int64
	RightHandID int64
	SecurityID  int64
	Agents      []string
}

// ParseHierarchy decodes a hierarchy document.
func ParseHierarchy(r io.Reader) (*Hierarchy, error) {
	var h Hierarchy
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding hierarchy: %w", err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// LoadHierarchyFile reads and parses a hierarchy file.
func LoadHierarchyFile(path string) (*Hierarchy, error) {
	path, err := sanitize.FilePath(path)
	if err != nil {
		return nil, fmt.Errorf("hierarchy path: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hierarchy: %w", err)
	}
	defer f.Close()
	return ParseHierarchy(f)
}

//go:embed default_hierarchy.yaml
var defaultHierarchy []byte

// DefaultHierarchy returns the bundled crew: a human, a right hand and a
// security, wellness and knowledge agent.
func DefaultHierarchy() *Hierarchy {
	h, err := ParseHierarchy(bytes.NewReader(defaultHierarchy))
	if err != nil {
		panic(fmt.Sprintf("bundled hierarchy: %v", err))
	}
	return h
}

// Validate checks required names and agent types.
func (h *Hierarchy) Validate() error {
	hier := h.Hierarchy
	if hier.Human.Name == "" {
		return fmt.Errorf("%w: hierarchy.human.name is required", ErrInvalidRecord)
	}
	if hier.RightHand.Name == "" {
		return fmt.Errorf("%w: hierarchy.right_hand.name is required", ErrInvalidRecord)
	}
	if hier.Human.QuietHours != nil {
		q := *hier.Human.QuietHours
		if q.Timezone == "" {
			q.Timezone = hier.Human.Timezone
		}
		if err := q.Validate(); err != nil {
			return err
		}
	}
	for key, def := range hier.CoreCrew {
		if def.Name == "" {
			return fmt.Errorf("%w: core_crew.%s.name is required", ErrInvalidRecord, key)
		}
		if t := coreType(key, def); !t.Valid() {
			return fmt.Errorf("%w: core_crew.%s has invalid agent type %q", ErrInvalidRecord, key, t)
		}
	}
	for _, d := range hier.Departments {
		if d.Manager.Name == "" {
			return fmt.Errorf("%w: department %q needs a manager", ErrInvalidRecord, d.Name)
		}
		for _, w := range d.Workers {
			if w.Name == "" {
				return fmt.Errorf("%w: department %q has an unnamed worker", ErrInvalidRecord, d.Name)
			}
			if w.Type != "" && !w.Type.Valid() {
				return fmt.Errorf("%w: worker %q has invalid agent type %q", ErrInvalidRecord, w.Name, w.Type)
			}
		}
	}
	return nil
}

func coreType(key string, def AgentDef) crew.AgentType {
	if def.Type != "" {
		return def.Type
	}
	return crew.AgentType(key)
}

// Seed registers the hierarchy in registration order: human, right hand,
// security agent, the rest of the core crew by key, then departments. On
// an empty store this yields IDs 1, 2 and 3 for the first three.
func Seed(ctx context.Context, s Seeder, h *Hierarchy) (*SeedResult, error) {
	hier := h.Hierarchy
	res := &SeedResult{}

	add := func(a crew.Agent) (int64, error) {
		id, err := s.UpsertAgent(ctx, a)
		if err != nil {
			return 0, fmt.Errorf("seeding agent %q: %w", a.Name, err)
		}
		res.Agents = append(res.Agents, a.Name)
		return id, nil
	}

	burnout := hier.Human.BurnoutScore
	if burnout == 0 {
		burnout = 5
	}
	var err error
	if res.HumanID, err = add(crew.Agent{
		Name: hier.Human.Name, Type: crew.AgentHuman, Active: true,
		TrustScore: crew.MaxScore, BurnoutScore: burnout,
	}); err != nil {
		return nil, err
	}

	state := crew.DefaultHumanState()
	state.BurnoutScore = burnout
	if err := s.SetHumanState(ctx, res.HumanID, state); err != nil {
		return nil, err
	}
	if err := s.SetHumanProfile(ctx, res.HumanID, crew.HumanProfile{
		Formality: hier.Human.Communication.Formality,
		Timezone:  hier.Human.Timezone,
	}); err != nil {
		return nil, err
	}
	if q := hier.Human.QuietHours; q != nil {
		rules := *q
		if rules.Timezone == "" {
			rules.Timezone = hier.Human.Timezone
		}
		if err := s.SetTimingRules(ctx, res.HumanID, TimingRules{QuietHours: &rules}); err != nil {
			return nil, err
		}
	}

	if res.RightHandID, err = add(agentFrom(hier.RightHand, crew.AgentRightHand, res.HumanID)); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(hier.CoreCrew))
	for k := range hier.CoreCrew {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if def, ok := hier.CoreCrew["security"]; ok {
		if res.SecurityID, err = add(agentFrom(def, coreType("security", def), res.RightHandID)); err != nil {
			return nil, err
		}
	}
	for _, k := range keys {
		if k == "security" {
			continue
		}
		def := hier.CoreCrew[k]
		if _, err := add(agentFrom(def, coreType(k, def), res.RightHandID)); err != nil {
			return nil, err
		}
	}

	for _, d := range hier.Departments {
		mgrID, err := add(agentFrom(d.Manager, crew.AgentManager, res.RightHandID))
		if err != nil {
			return nil, err
		}
		for _, w := range d.Workers {
			if _, err := add(agentFrom(w, crew.AgentWorker, mgrID)); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

func agentFrom(def AgentDef, fallback crew.AgentType, parent int64) crew.Agent {
	t := def.Type
	if t == "" {
		t = fallback
	}
	return crew.Agent{
		Name:       def.Name,
		Type:       t,
		Status:     crew.AgentActive,
		Active:     def.Active == nil || *def.Active,
		ParentID:   parent,
		TrustScore: def.TrustScore,
	}
}
