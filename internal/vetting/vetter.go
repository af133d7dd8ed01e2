package vetting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/logging"
	"github.com/fyrsmithlabs/crewgate/internal/sanitize"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/crewgate/internal/vetting"

// Sentinel errors for vetting operations.
var (
	// ErrInvalidSkill indicates a missing or malformed skill name.
	ErrInvalidSkill = errors.New("invalid skill")

	// ErrContentTooLarge is returned when content exceeds the configured
	// limit. Oversized content is never scanned.
	ErrContentTooLarge = errors.New("skill content too large")

	// ErrSkillBlocked is returned when a blocked skill version is
	// registered as vetted. Blocks are never downgraded.
	ErrSkillBlocked = errors.New("skill version is blocked")
)

// Audit event types written by the vetter.
const (
	AuditSkillAdded           = "skill_added"
	AuditSkillBlocked         = "skill_blocked"
	AuditSkillPendingApproval = "skill_pending_approval"
)

// VetResult is the vetting verdict for one skill version.
type VetResult struct {
	Name             string         `json:"skill_name"`
	ContentHash      string         `json:"content_hash"`
	RegistryStatus   crew.VetStatus `json:"registry_status"`
	Scan             ScanResult     `json:"scan_result"`
	CanAdd           bool           `json:"can_add"`
	RequiresApproval bool           `json:"requires_approval"`
	Reason           string         `json:"reason"`
}

// AddRequest asks to install a skill on an agent.
type AddRequest struct {
	AgentID       int64  `json:"agent_id"`
	Name          string `json:"skill_name"`
	Content       string `json:"skill_config"`
	AddedBy       string `json:"added_by"`
	HumanOverride bool   `json:"human_override"`
}

// AddOutcome is the result class of AddToAgent.
type AddOutcome string

const (
	AddInstalled     AddOutcome = "installed"
	AddBlocked       AddOutcome = "blocked"
	AddNeedsApproval AddOutcome = "needs_approval"
)

// AddResult reports what AddToAgent did.
type AddResult struct {
	Outcome AddOutcome `json:"outcome"`
	Message string     `json:"message"`
	Vet     VetResult  `json:"vet"`
}

// Installed reports whether the skill was added.
func (r *AddResult) Installed() bool { return r.Outcome == AddInstalled }

// Collaborators is what the Vetter needs from the store.
type Collaborators interface {
	store.SkillRegistry
	store.Audit
}

// Vetter runs the registry and scanner pipeline.
type Vetter struct {
	scanner  *Scanner
	store    Collaborators
	logger   *logging.Logger
	maxBytes int

	verdicts metric.Int64Counter
	risk     metric.Int64Histogram
}

// Option configures a Vetter.
type Option func(*Vetter)

// WithMeter sets the meter used for vetting metrics.
func WithMeter(m metric.Meter) Option {
	return func(v *Vetter) { v.initMetrics(m) }
}

// WithMaxContentBytes bounds the content size. Zero disables the limit.
func WithMaxContentBytes(n int) Option {
	return func(v *Vetter) { v.maxBytes = n }
}

// NewVetter creates a Vetter.
func NewVetter(scanner *Scanner, st Collaborators, logger *logging.Logger, opts ...Option) *Vetter {
	if logger == nil {
		logger = logging.NewNop()
	}
	v := &Vetter{scanner: scanner, store: st, logger: logger.Named("vetting")}
	v.initMetrics(otel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Vetter) initMetrics(m metric.Meter) {
	var err error
	v.verdicts, err = m.Int64Counter(
		"crewgate.vetting.verdicts_total",
		metric.WithDescription("Vetting verdicts by outcome"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		v.logger.Warn(context.Background(), "failed to create verdict counter", zap.Error(err))
	}
	v.risk, err = m.Int64Histogram(
		"crewgate.vetting.risk_score",
		metric.WithDescription("Risk scores of scanned skill content"),
		metric.WithExplicitBucketBoundaries(0, 1, 3, 5, 6, 10),
	)
	if err != nil {
		v.logger.Warn(context.Background(), "failed to create risk histogram", zap.Error(err))
	}
}

// Scanner returns the underlying content scanner.
func (v *Vetter) Scanner() *Scanner { return v.scanner }

// Scan runs the content scanner alone, subject to the size limit.
func (v *Vetter) Scan(ctx context.Context, content string) (ScanResult, error) {
	if err := v.checkSize(content); err != nil {
		return ScanResult{}, err
	}
	res := v.scanner.ScanContent(content)
	v.recordRisk(ctx, res.RiskScore)
	return res, nil
}

func (v *Vetter) checkSize(content string) error {
	if v.maxBytes > 0 && len(content) > v.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrContentTooLarge, len(content), v.maxBytes)
	}
	return nil
}

func skillName(name string) (string, error) {
	name, err := sanitize.SkillName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSkill, err)
	}
	return name, nil
}

// Vet looks the skill up in the registry by (name, hash) and scans it.
// Vetting is pure analysis; nothing is installed.
func (v *Vetter) Vet(ctx context.Context, name, content string) (VetResult, error) {
	name, err := skillName(name)
	if err != nil {
		return VetResult{}, err
	}
	if err := v.checkSize(content); err != nil {
		return VetResult{}, err
	}

	res := VetResult{
		Name:           name,
		ContentHash:    ComputeHash(content),
		RegistryStatus: crew.VetUnknown,
		Scan:           v.scanner.ScanContent(content),
	}
	v.recordRisk(ctx, res.Scan.RiskScore)

	entry, err := v.store.GetSkillRegistryEntry(ctx, name, res.ContentHash)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return VetResult{}, fmt.Errorf("registry lookup for %q: %w", name, err)
	case entry.Status == crew.VetVetted:
		res.RegistryStatus = crew.VetVetted
		res.CanAdd = true
		res.Reason = "Skill is in the trusted registry. Auto-approved."
		v.recordVerdict(ctx, "vetted")
		return res, nil
	case entry.Status == crew.VetBlocked:
		res.RegistryStatus = crew.VetBlocked
		res.Reason = "Skill is blocked in the safety registry."
		v.recordVerdict(ctx, "blocked")
		return res, nil
	}

	res.Reason = res.Scan.Recommendation
	if !res.Scan.Safe {
		v.recordVerdict(ctx, "unsafe")
		return res, nil
	}
	res.CanAdd = true
	res.RequiresApproval = true
	v.recordVerdict(ctx, "needs_approval")
	return res, nil
}

// AddToAgent vets a skill and installs it on an agent. Blocked and unsafe
// skills are rejected even with HumanOverride; clean unknown skills need
// HumanOverride and are then registered as vetted by the human.
func (v *Vetter) AddToAgent(ctx context.Context, req AddRequest) (AddResult, error) {
	if req.AddedBy == "" {
		req.AddedBy = "human"
	}
	vet, err := v.Vet(ctx, req.Name, req.Content)
	if err != nil {
		return AddResult{}, err
	}
	req.Name = vet.Name
	ctx = logging.WithAgentID(ctx, req.AgentID)

	if !vet.CanAdd {
		if err := v.audit(ctx, req.AgentID, AuditSkillBlocked, map[string]any{
			"skill_name": req.Name,
			"reason":     vet.Reason,
			"risk_score": vet.Scan.RiskScore,
			"flags":      vet.Scan.FlagNames(),
		}); err != nil {
			return AddResult{}, err
		}
		v.logger.Warn(ctx, "skill blocked",
			zap.String("skill", req.Name),
			zap.Int("risk_score", vet.Scan.RiskScore),
			zap.Strings("flags", vet.Scan.FlagNames()))
		return AddResult{Outcome: AddBlocked, Message: "Skill blocked: " + vet.Reason, Vet: vet}, nil
	}

	if vet.RequiresApproval && !req.HumanOverride {
		if err := v.audit(ctx, req.AgentID, AuditSkillPendingApproval, map[string]any{
			"skill_name": req.Name,
			"reason":     vet.Reason,
			"risk_score": vet.Scan.RiskScore,
		}); err != nil {
			return AddResult{}, err
		}
		return AddResult{Outcome: AddNeedsApproval, Message: vet.Reason, Vet: vet}, nil
	}

	if err := v.store.AddAgentSkill(ctx, req.AgentID, req.Name, req.Content); err != nil {
		return AddResult{}, fmt.Errorf("installing skill %q: %w", req.Name, err)
	}
	if err := v.audit(ctx, req.AgentID, AuditSkillAdded, map[string]any{
		"skill_name":     req.Name,
		"added_by":       req.AddedBy,
		"vet_status":     vet.RegistryStatus,
		"human_override": req.HumanOverride,
		"risk_score":     vet.Scan.RiskScore,
	}); err != nil {
		return AddResult{}, err
	}

	if req.HumanOverride && vet.RegistryStatus == crew.VetUnknown {
		if _, err := v.register(ctx, req.Name, req.Content, "local", req.AddedBy, "human"); err != nil {
			return AddResult{}, err
		}
	}
	v.logger.Info(ctx, "skill installed",
		zap.String("skill", req.Name),
		zap.String("vet_status", string(vet.RegistryStatus)))
	return AddResult{
		Outcome: AddInstalled,
		Message: fmt.Sprintf("Skill '%s' added to agent %d", req.Name, req.AgentID),
		Vet:     vet,
	}, nil
}

// RegisterVetted records the skill as vetted by an operator. A version that
// is already blocked is refused with ErrSkillBlocked.
func (v *Vetter) RegisterVetted(ctx context.Context, name, content, source, author string) (crew.SkillRegistryEntry, error) {
	name, err := skillName(name)
	if err != nil {
		return crew.SkillRegistryEntry{}, err
	}
	if err := v.checkSize(content); err != nil {
		return crew.SkillRegistryEntry{}, err
	}
	if source == "" {
		source = "local"
	}

	hash := ComputeHash(content)
	existing, err := v.store.GetSkillRegistryEntry(ctx, name, hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return crew.SkillRegistryEntry{}, fmt.Errorf("registry lookup for %q: %w", name, err)
	case existing.Status == crew.VetBlocked:
		v.logger.Warn(ctx, "refusing to vet blocked skill",
			zap.String("skill", name),
			zap.String("hash", hash))
		return crew.SkillRegistryEntry{}, fmt.Errorf("%w: %s@%s", ErrSkillBlocked, name, hash[:12])
	}
	return v.register(ctx, name, content, source, author, "operator")
}

func (v *Vetter) register(ctx context.Context, name, content, source, author, vettedBy string) (crew.SkillRegistryEntry, error) {
	scan := v.scanner.ScanContent(content)
	entry := crew.SkillRegistryEntry{
		Name:        name,
		ContentHash: ComputeHash(content),
		Status:      crew.VetVetted,
		Source:      source,
		Author:      author,
		RiskScore:   scan.RiskScore,
		RiskFlags:   scan.FlagNames(),
		VettedBy:    vettedBy,
	}
	if err := v.store.UpsertSkillRegistryEntry(ctx, entry); err != nil {
		return crew.SkillRegistryEntry{}, fmt.Errorf("registering skill %q: %w", name, err)
	}
	v.logger.Info(ctx, "skill registered as vetted",
		zap.String("skill", name),
		zap.String("hash", entry.ContentHash),
		zap.String("vetted_by", vettedBy))
	return entry, nil
}

// Block marks the skill version as blocked, whatever its previous status.
func (v *Vetter) Block(ctx context.Context, name, content, reason string) (crew.SkillRegistryEntry, error) {
	name, err := skillName(name)
	if err != nil {
		return crew.SkillRegistryEntry{}, err
	}
	if err := v.checkSize(content); err != nil {
		return crew.SkillRegistryEntry{}, err
	}
	scan := v.scanner.ScanContent(content)
	flags := scan.FlagNames()
	if reason != "" {
		flags = append(flags, reason)
	} else if len(flags) == 0 {
		flags = []string{"manually_blocked"}
	}
	entry := crew.SkillRegistryEntry{
		Name:        name,
		ContentHash: ComputeHash(content),
		Status:      crew.VetBlocked,
		Source:      "local",
		RiskScore:   scan.RiskScore,
		RiskFlags:   flags,
		Reason:      reason,
		VettedBy:    "operator",
	}
	if err := v.store.UpsertSkillRegistryEntry(ctx, entry); err != nil {
		return crew.SkillRegistryEntry{}, fmt.Errorf("blocking skill %q: %w", name, err)
	}
	v.logger.Warn(ctx, "skill blocked in registry",
		zap.String("skill", name),
		zap.String("hash", entry.ContentHash),
		zap.String("reason", reason))
	return entry, nil
}

func (v *Vetter) audit(ctx context.Context, agentID int64, event string, details map[string]any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}
	if _, err := v.store.RecordAudit(ctx, crew.AuditEntry{AgentID: agentID, EventType: event, Details: raw}); err != nil {
		return fmt.Errorf("recording %s: %w", event, err)
	}
	return nil
}

func (v *Vetter) recordVerdict(ctx context.Context, outcome string) {
	if v.verdicts != nil {
		v.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (v *Vetter) recordRisk(ctx context.Context, score int) {
	if v.risk != nil {
		v.risk.Record(ctx, int64(score))
	}
}
