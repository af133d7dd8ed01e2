package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
)

// Memory is a mutex-guarded in-memory Store. It backs tests and the
// single-process daemon mode. Records are copied on the way in and out.
type Memory struct {
	mu sync.RWMutex

	now func() time.Time

	nextID      int64
	agents      map[int64]crew.Agent
	messages    []crew.Message
	audit       []crew.AuditEntry
	events      []crew.SecurityEvent
	knowledge   []crew.KnowledgeEntry
	decisions   []crew.Decision
	rejections  []Rejection
	states      map[int64]crew.HumanState
	profiles    map[int64]crew.HumanProfile
	timing      map[int64]TimingRules
	registry    map[registryKey]crew.SkillRegistryEntry
	agentSkills map[int64]map[string]string
	config      map[string]string
}

type registryKey struct {
	name string
	hash string
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:         time.Now,
		agents:      make(map[int64]crew.Agent),
		states:      make(map[int64]crew.HumanState),
		profiles:    make(map[int64]crew.HumanProfile),
		timing:      make(map[int64]TimingRules),
		registry:    make(map[registryKey]crew.SkillRegistryEntry),
		agentSkills: make(map[int64]map[string]string),
		config:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Store = (*Memory)(nil)

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// --- agents ---

// UpsertAgent inserts an agent, or updates the agent with the same name.
// A zero ID on insert is assigned from the store's sequence.
func (m *Memory) UpsertAgent(_ context.Context, a crew.Agent) (int64, error) {
	if a.Name == "" {
		return 0, fmt.Errorf("%w: agent name is required", ErrInvalidRecord)
	}
	if !a.Type.Valid() {
		return 0, fmt.Errorf("%w: invalid agent type %q", ErrInvalidRecord, a.Type)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	for id, existing := range m.agents {
		if existing.Name == a.Name {
			a.ID = id
			a.CreatedAt = existing.CreatedAt
			a.UpdatedAt = now
			m.agents[id] = normalizeAgent(a)
			return id, nil
		}
	}
	if a.ID == 0 {
		a.ID = m.id()
	} else if a.ID > m.nextID {
		m.nextID = a.ID
	}
	a.CreatedAt, a.UpdatedAt = now, now
	m.agents[a.ID] = normalizeAgent(a)
	return a.ID, nil
}

func normalizeAgent(a crew.Agent) crew.Agent {
	if a.Status == "" {
		a.Status = crew.AgentActive
	}
	if a.TrustScore == 0 {
		a.TrustScore = crew.MinScore
	}
	if a.BurnoutScore == 0 {
		a.BurnoutScore = 5
	}
	return a
}

// SetTrustScore sets an agent's trust score, clamped to [1,10].
func (m *Memory) SetTrustScore(_ context.Context, id int64, score int) error {
	return m.updateAgent(id, func(a *crew.Agent) { a.TrustScore = clampScore(score) })
}

// SetBurnoutScore sets an agent's burnout score, clamped to [1,10].
func (m *Memory) SetBurnoutScore(_ context.Context, id int64, score int) error {
	return m.updateAgent(id, func(a *crew.Agent) { a.BurnoutScore = clampScore(score) })
}

func (m *Memory) updateAgent(id int64, fn func(*crew.Agent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	fn(&a)
	a.UpdatedAt = m.now().UTC()
	m.agents[id] = a
	return nil
}

func clampScore(s int) int {
	return max(crew.MinScore, min(crew.MaxScore, s))
}

func (m *Memory) GetAgent(_ context.Context, id int64) (*crew.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (m *Memory) ListAgents(_ context.Context) ([]crew.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crew.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- messages ---

func (m *Memory) SendMessage(_ context.Context, req SendRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[req.FromID]; !ok {
		return 0, fmt.Errorf("sender %d: %w", req.FromID, ErrNotFound)
	}
	if _, ok := m.agents[req.ToID]; !ok {
		return 0, fmt.Errorf("recipient %d: %w", req.ToID, ErrNotFound)
	}
	msg := crew.Message{
		ID:        m.id(),
		FromID:    req.FromID,
		ToID:      req.ToID,
		Type:      req.Type,
		Subject:   req.Subject,
		Body:      req.Body,
		Priority:  req.Priority,
		Status:    crew.StatusQueued,
		CreatedAt: m.now().UTC(),
	}
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

// MarkDelivered moves a queued message to delivered. Messages in any other
// status are left unchanged.
func (m *Memory) MarkDelivered(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID != id {
			continue
		}
		if m.messages[i].Status == crew.StatusQueued {
			now := m.now().UTC()
			m.messages[i].Status = crew.StatusDelivered
			m.messages[i].DeliveredAt = &now
		}
		return nil
	}
	return fmt.Errorf("message %d: %w", id, ErrNotFound)
}

func (m *Memory) QueryMessages(_ context.Context, f MessageFilter) ([]crew.Message, error) {
	m.mu.RLock()
	out := m.filterMessages(f)
	m.mu.RUnlock()

	SortMessages(out, f.Order)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CountMessages(_ context.Context, f MessageFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filterMessages(f)), nil
}

func (m *Memory) filterMessages(f MessageFilter) []crew.Message {
	var out []crew.Message
	for _, msg := range m.messages {
		if MatchMessage(f, msg) {
			out = append(out, msg)
		}
	}
	return out
}

// MatchMessage reports whether msg satisfies the filter. Limit and Order
// are ignored.
func MatchMessage(f MessageFilter, msg crew.Message) bool {
	if f.FromID != 0 && msg.FromID != f.FromID {
		return false
	}
	if len(f.ToIDs) > 0 && !slices.Contains(f.ToIDs, msg.ToID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, msg.Type) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, msg.Priority) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, msg.Status) {
		return false
	}
	if !f.Since.IsZero() && msg.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Before.IsZero() && !msg.CreatedAt.Before(f.Before) {
		return false
	}
	if f.AfterID != 0 && msg.ID <= f.AfterID {
		return false
	}
	return true
}

// SortMessages orders msgs in place.
func SortMessages(msgs []crew.Message, order MessageOrder) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if order == PriorityFirst && a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if order == OldestFirst {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// --- audit ---

func (m *Memory) RecordAudit(_ context.Context, e crew.AuditEntry) (int64, error) {
	if e.EventType == "" {
		return 0, fmt.Errorf("%w: audit event type is required", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.id()
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now().UTC()
	}
	m.audit = append(m.audit, e)
	return e.ID, nil
}

func (m *Memory) QueryAudit(_ context.Context, agentID int64, since time.Time) ([]crew.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []crew.AuditEntry
	for _, e := range m.audit {
		if e.AgentID == agentID && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- security events ---

func (m *Memory) LogSecurityEvent(_ context.Context, ev crew.SecurityEvent) (int64, error) {
	if err := ValidateSecurityEvent(ev); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = m.id()
	ev.CreatedAt = m.now().UTC()
	ev.DeliveredToGate = false
	ev.ResolvedAt = nil
	m.events = append(m.events, ev)
	return ev.ID, nil
}

// ValidateSecurityEvent checks the enums and title of an event.
func ValidateSecurityEvent(ev crew.SecurityEvent) error {
	if !ev.Domain.Valid() {
		return fmt.Errorf("%w: invalid threat domain %q", ErrInvalidRecord, ev.Domain)
	}
	if !ev.Severity.Valid() {
		return fmt.Errorf("%w: invalid severity %q", ErrInvalidRecord, ev.Severity)
	}
	if strings.TrimSpace(ev.Title) == "" {
		return fmt.Errorf("%w: event title is required", ErrInvalidRecord)
	}
	return nil
}

func (m *Memory) MarkSecurityDelivered(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].DeliveredToGate = true
			return nil
		}
	}
	return fmt.Errorf("security event %d: %w", id, ErrNotFound)
}

func (m *Memory) ResolveSecurityEvent(_ context.Context, id int64, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			now := m.now().UTC()
			m.events[i].ResolvedAt = &now
			m.events[i].Resolution = resolution
			return nil
		}
	}
	return fmt.Errorf("security event %d: %w", id, ErrNotFound)
}

func (m *Memory) QuerySecurityEvents(_ context.Context, f SecurityEventFilter) ([]crew.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []crew.SecurityEvent
	// Newest first.
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if !MatchSecurityEvent(f, ev) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// MatchSecurityEvent reports whether ev satisfies the filter. Limit is
// ignored.
func MatchSecurityEvent(f SecurityEventFilter, ev crew.SecurityEvent) bool {
	if f.Severity != "" && ev.Severity != f.Severity {
		return false
	}
	if f.MinSeverity != "" && !ev.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	if f.Domain != "" && ev.Domain != f.Domain {
		return false
	}
	if f.UnresolvedOnly && ev.Resolved() {
		return false
	}
	if f.UndeliveredOnly && ev.DeliveredToGate {
		return false
	}
	return true
}

// --- knowledge ---

func (m *Memory) StoreKnowledge(_ context.Context, e crew.KnowledgeEntry) (int64, error) {
	if e.Subject == "" {
		return 0, fmt.Errorf("%w: knowledge subject is required", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.id()
	e.UpdatedAt = m.now().UTC()
	e.Tags = slices.Clone(e.Tags)
	m.knowledge = append(m.knowledge, e)
	return e.ID, nil
}

func (m *Memory) SearchKnowledge(_ context.Context, query string, category crew.KnowledgeCategory, limit int) ([]crew.KnowledgeEntry, error) {
	q := strings.ToLower(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []crew.KnowledgeEntry
	for i := len(m.knowledge) - 1; i >= 0; i-- {
		e := m.knowledge[i]
		if category != "" && e.Category != category {
			continue
		}
		if !containsFold(q, e.Subject, e.Content, strings.Join(e.Tags, ",")) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// containsFold reports whether any field contains the lowercased needle.
func containsFold(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// --- rejections ---

// LogRejection records a rejected idea.
func (m *Memory) LogRejection(_ context.Context, r Rejection) (int64, error) {
	if r.Subject == "" {
		return 0, fmt.Errorf("%w: rejection subject is required", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	r.CreatedAt = m.now().UTC()
	m.rejections = append(m.rejections, r)
	return r.ID, nil
}

// rejectionsPerWord caps the matches collected for a single word.
const rejectionsPerWord = 5

func (m *Memory) SearchRejections(_ context.Context, humanID int64, words []string) ([]Rejection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int64]bool)
	var out []Rejection
	for _, w := range words {
		w = strings.ToLower(w)
		if w == "" {
			continue
		}
		n := 0
		for i := len(m.rejections) - 1; i >= 0 && n < rejectionsPerWord; i-- {
			r := m.rejections[i]
			if r.HumanID != humanID || !containsFold(w, r.Subject, r.Body) {
				continue
			}
			n++
			if !seen[r.ID] {
				seen[r.ID] = true
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// --- decisions ---

func (m *Memory) RecordDecision(_ context.Context, d crew.Decision) (int64, error) {
	if !d.Type.Valid() {
		return 0, fmt.Errorf("%w: invalid decision type %q", ErrInvalidRecord, d.Type)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.id()
	d.CreatedAt = m.now().UTC()
	d.HumanOverride = nil
	d.Tags = slices.Clone(d.Tags)
	m.decisions = append(m.decisions, d)
	return d.ID, nil
}

func (m *Memory) GetDecision(_ context.Context, id int64) (*crew.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.decisions {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("decision %d: %w", id, ErrNotFound)
}

func (m *Memory) RecordFeedback(_ context.Context, id int64, override bool, action, note string) (*crew.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.decisions {
		d := &m.decisions[i]
		if d.ID != id {
			continue
		}
		if d.HumanOverride != nil {
			return nil, fmt.Errorf("decision %d: %w", id, ErrFeedbackAlreadyRecorded)
		}
		o := override
		d.HumanOverride = &o
		d.HumanAction = action
		d.FeedbackNote = note
		out := *d
		return &out, nil
	}
	return nil, fmt.Errorf("decision %d: %w", id, ErrNotFound)
}

func (m *Memory) QueryDecisions(_ context.Context, f DecisionFilter) ([]crew.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []crew.Decision
	for i := len(m.decisions) - 1; i >= 0; i-- {
		d := m.decisions[i]
		if !MatchDecision(f, d) {
			continue
		}
		out = append(out, d)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// MatchDecision reports whether d satisfies the filter. Limit is ignored.
func MatchDecision(f DecisionFilter, d crew.Decision) bool {
	if f.GateID != 0 && d.GateID != f.GateID {
		return false
	}
	if f.HumanID != 0 && d.HumanID != f.HumanID {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, d.Type) {
		return false
	}
	if !f.Since.IsZero() && d.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func (m *Memory) DecisionStats(_ context.Context, gateID int64) (DecisionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s DecisionStats
	for _, d := range m.decisions {
		if d.GateID != gateID {
			continue
		}
		s.Total++
		if d.HumanOverride != nil {
			s.WithFeedback++
			if *d.HumanOverride {
				s.Overrides++
			}
		}
	}
	return s, nil
}

// --- human state and timing ---

// SetHumanState stores the human's wellbeing snapshot.
func (m *Memory) SetHumanState(_ context.Context, humanID int64, s crew.HumanState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[humanID] = s
	return nil
}

// SetHumanProfile stores the human's preferences.
func (m *Memory) SetHumanProfile(_ context.Context, humanID int64, p crew.HumanProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[humanID] = p
	return nil
}

// SetTimingRules replaces the human's delivery rules.
func (m *Memory) SetTimingRules(_ context.Context, humanID int64, rules TimingRules) error {
	if rules.QuietHours != nil {
		if err := rules.QuietHours.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timing[humanID] = rules
	return nil
}

// GetHumanState returns the stored state with defaults filled in. Without
// a stored state the burnout score comes from the human's agent record.
func (m *Memory) GetHumanState(_ context.Context, humanID int64) (crew.HumanState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[humanID]; ok {
		return s.WithDefaults(), nil
	}
	s := crew.DefaultHumanState()
	if a, ok := m.agents[humanID]; ok && a.BurnoutScore > 0 {
		s.BurnoutScore = a.BurnoutScore
	}
	return s, nil
}

func (m *Memory) GetHumanProfile(_ context.Context, humanID int64) (crew.HumanProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profiles[humanID], nil
}

func (m *Memory) EvaluateTiming(_ context.Context, humanID int64, p crew.Priority) (crew.TimingVerdict, error) {
	if p == crew.PriorityCritical {
		return EvaluateTiming(m.now(), 0, p, TimingRules{}), nil
	}
	m.mu.RLock()
	human, ok := m.agents[humanID]
	rules := m.timing[humanID]
	m.mu.RUnlock()
	if !ok {
		return crew.TimingVerdict{}, fmt.Errorf("agent %d: %w", humanID, ErrNotFound)
	}
	return EvaluateTiming(m.now(), human.BurnoutScore, p, rules), nil
}

// --- skill registry ---

func (m *Memory) GetSkillRegistryEntry(_ context.Context, name, hash string) (*crew.SkillRegistryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.registry[registryKey{name, hash}]
	if !ok {
		return nil, fmt.Errorf("skill %q (%s): %w", name, hash, ErrNotFound)
	}
	e.RiskFlags = slices.Clone(e.RiskFlags)
	return &e, nil
}

func (m *Memory) UpsertSkillRegistryEntry(_ context.Context, e crew.SkillRegistryEntry) error {
	if e.Name == "" || e.ContentHash == "" {
		return fmt.Errorf("%w: skill name and content hash are required", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.VettedAt == nil {
		now := m.now().UTC()
		e.VettedAt = &now
	}
	e.RiskFlags = slices.Clone(e.RiskFlags)
	m.registry[registryKey{e.Name, e.ContentHash}] = e
	return nil
}

// SkillRegistry lists registry entries, optionally filtered by status,
// ordered by name.
func (m *Memory) SkillRegistry(_ context.Context, status crew.VetStatus) ([]crew.SkillRegistryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []crew.SkillRegistryEntry
	for _, e := range m.registry {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ContentHash < out[j].ContentHash
	})
	return out, nil
}

func (m *Memory) AddAgentSkill(_ context.Context, agentID int64, name, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agentID]; !ok {
		return fmt.Errorf("agent %d: %w", agentID, ErrNotFound)
	}
	skills := m.agentSkills[agentID]
	if skills == nil {
		skills = make(map[string]string)
		m.agentSkills[agentID] = skills
	}
	skills[name] = content
	return nil
}

// AgentSkills returns the skills installed on an agent, keyed by name.
func (m *Memory) AgentSkills(_ context.Context, agentID int64) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.agentSkills[agentID]))
	for k, v := range m.agentSkills[agentID] {
		out[k] = v
	}
	return out, nil
}

// --- config ---

func (m *Memory) GetConfig(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.config[key]
	if !ok {
		return "", fmt.Errorf("config %q: %w", key, ErrNotFound)
	}
	return v, nil
}

func (m *Memory) SetConfig(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}
