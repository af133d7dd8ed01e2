package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/anomaly"
	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/gate"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

// ChecksConfigKey holds a JSON list of CheckSpec overriding DefaultChecks.
const ChecksConfigKey = "heartbeat_checks"

const (
	defaultMorningHour = 8
	defaultEveningHour = 18
	defaultStaleHours  = 24

	// auditWindow and auditLimit bound the replies read by integrity_audit.
	auditWindow = 30 * time.Minute
	auditLimit  = 50

	// reminderCooldown is the minimum gap between two burnout or stale
	// reminders.
	reminderCooldown = 4 * time.Hour

	dateLayout = "2006-01-02"
)

// State keys written by the checks.
const (
	auditCursorKey   = "last_integrity_audit_message"
	burnoutAlertKey  = "last_burnout_alert"
	staleReminderKey = "last_stale_reminder"
)

// CheckType names a heartbeat check.
type CheckType string

const (
	CheckMorningBriefing   CheckType = "morning_briefing"
	CheckEveningSummary    CheckType = "evening_summary"
	CheckBurnout           CheckType = "burnout_check"
	CheckStaleMessages     CheckType = "stale_messages"
	CheckIntegrityAudit    CheckType = "integrity_audit"
	CheckSecurityReconcile CheckType = "security_reconcile"
)

// CheckSpec configures one check. Enabled defaults to true; Hour applies
// to the briefings and MaxHours to stale_messages.
type CheckSpec struct {
	Type     CheckType `json:"type"`
	Enabled  *bool     `json:"enabled,omitempty"`
	Hour     *int      `json:"hour,omitempty"`
	MaxHours int       `json:"max_hours,omitempty"`
}

// IsEnabled reports whether the check runs.
func (c CheckSpec) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c CheckSpec) hourOr(def int) int {
	if c.Hour == nil {
		return def
	}
	return *c.Hour
}

func (c CheckSpec) maxAge() time.Duration {
	if c.MaxHours <= 0 {
		return defaultStaleHours * time.Hour
	}
	return time.Duration(c.MaxHours) * time.Hour
}

// DefaultChecks returns the checks run when no override is configured.
func DefaultChecks() []CheckSpec {
	morning, evening := defaultMorningHour, defaultEveningHour
	return []CheckSpec{
		{Type: CheckMorningBriefing, Hour: &morning},
		{Type: CheckEveningSummary, Hour: &evening},
		{Type: CheckBurnout},
		{Type: CheckStaleMessages, MaxHours: defaultStaleHours},
		{Type: CheckIntegrityAudit},
		{Type: CheckSecurityReconcile},
	}
}

// ParseChecks decodes a JSON check list.
func ParseChecks(raw string) ([]CheckSpec, error) {
	var checks []CheckSpec
	if err := json.Unmarshal([]byte(raw), &checks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChecks, err)
	}
	for _, c := range checks {
		if c.Type == "" {
			return nil, fmt.Errorf("%w: check without type", ErrInvalidChecks)
		}
	}
	return checks, nil
}

// ActionType is the follow-up a check asks for.
type ActionType string

const (
	ActionMorningBriefing ActionType = "morning_briefing"
	ActionEveningBriefing ActionType = "evening_briefing"
	ActionBurnoutAlert    ActionType = "burnout_alert"
	ActionStaleReminder   ActionType = "stale_reminder"
)

// Result is the outcome of one check. Data holds a *gate.Briefing for the
// briefings, a *gate.HumanStateReport for burnout_alert, the stale
// []crew.Message for stale_reminder, the []IntegrityViolation found by
// integrity_audit and the delivered count for security_reconcile.
// ConfigKey is recorded in the scheduler state once the action is sent.
type Result struct {
	Check        CheckType  `json:"check"`
	ActionNeeded bool       `json:"action_needed"`
	Type         ActionType `json:"type,omitempty"`
	Data         any        `json:"data,omitempty"`
	ConfigKey    string     `json:"config_key,omitempty"`
	Err          error      `json:"-"`

	configValue string
}

// IntegrityViolation is one violation found in a recent reply.
type IntegrityViolation struct {
	MessageID     int64         `json:"message_id"`
	AgentID       int64         `json:"agent_id"`
	AgentName     string        `json:"agent_name"`
	ViolationType string        `json:"violation_type"`
	Snippet       string        `json:"snippet"`
	Severity      crew.Severity `json:"severity"`
	Source        string        `json:"source"`
	EventID       int64         `json:"event_id,omitempty"`
}

const (
	sourceIntegrity = "integrity"
	sourceCharter   = "charter"
)

func (s *Scheduler) runCheck(ctx context.Context, spec CheckSpec) (Result, error) {
	switch spec.Type {
	case CheckMorningBriefing:
		return s.checkBriefing(ctx, spec, gate.BriefingMorning, ActionMorningBriefing, defaultMorningHour)
	case CheckEveningSummary:
		return s.checkBriefing(ctx, spec, gate.BriefingEvening, ActionEveningBriefing, defaultEveningHour)
	case CheckBurnout:
		return s.checkBurnout(ctx)
	case CheckStaleMessages:
		return s.checkStale(ctx, spec)
	case CheckIntegrityAudit:
		return s.checkIntegrity(ctx)
	case CheckSecurityReconcile:
		return s.checkReconcile(ctx)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCheck, spec.Type)
	}
}

func briefingKey(kind gate.BriefingKind) string {
	return "last_" + string(kind) + "_briefing"
}

// checkBriefing fires once per UTC day at the configured hour.
func (s *Scheduler) checkBriefing(ctx context.Context, spec CheckSpec, kind gate.BriefingKind, action ActionType, defaultHour int) (Result, error) {
	now := s.now().UTC()
	if now.Hour() != spec.hourOr(defaultHour) {
		return Result{}, nil
	}

	key := briefingKey(kind)
	today := now.Format(dateLayout)
	last, err := s.state.GetConfig(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("read %s: %w", key, err)
	}
	if last == today {
		return Result{}, nil
	}

	b, err := s.gate.CompileBriefing(ctx, kind)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ActionNeeded: true,
		Type:         action,
		Data:         b,
		ConfigKey:    key,
		configValue:  today,
	}, nil
}

// coolingDown reports whether the reminder marked under key was sent less
// than reminderCooldown ago. An unreadable marker counts as absent.
func (s *Scheduler) coolingDown(ctx context.Context, key string) (bool, error) {
	raw, err := s.state.GetConfig(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.logger.Warn("ignoring malformed reminder marker", zap.String("key", key), zap.String("value", raw))
		return false, nil
	}
	return s.now().Sub(last) < reminderCooldown, nil
}

func (s *Scheduler) checkBurnout(ctx context.Context) (Result, error) {
	state, err := s.gate.AssessHumanState(ctx)
	if err != nil {
		return Result{}, err
	}
	if state.BurnoutScore < crew.BurnoutHigh {
		return Result{}, nil
	}
	cooling, err := s.coolingDown(ctx, burnoutAlertKey)
	if err != nil || cooling {
		return Result{}, err
	}
	return Result{
		ActionNeeded: true,
		Type:         ActionBurnoutAlert,
		Data:         state,
		ConfigKey:    burnoutAlertKey,
		configValue:  s.now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Scheduler) checkStale(ctx context.Context, spec CheckSpec) (Result, error) {
	cooling, err := s.coolingDown(ctx, staleReminderKey)
	if err != nil || cooling {
		return Result{}, err
	}
	msgs, err := s.store.QueryMessages(ctx, store.MessageFilter{
		ToIDs:    []int64{s.cfg.HumanID},
		Statuses: []crew.MessageStatus{crew.StatusQueued},
		Before:   s.now().Add(-spec.maxAge()),
	})
	if err != nil {
		return Result{}, fmt.Errorf("query stale messages: %w", err)
	}
	if len(msgs) == 0 {
		return Result{}, nil
	}
	return Result{
		ActionNeeded: true,
		Type:         ActionStaleReminder,
		Data:         msgs,
		ConfigKey:    staleReminderKey,
		configValue:  s.now().UTC().Format(time.RFC3339),
	}, nil
}

// auditCursor returns the id of the last message integrity_audit scanned.
func (s *Scheduler) auditCursor(ctx context.Context) (int64, error) {
	raw, err := s.state.GetConfig(ctx, auditCursorKey)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", auditCursorKey, err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("ignoring malformed audit cursor", zap.String("value", raw))
		return 0, nil
	}
	return id, nil
}

// checkIntegrity scans the human's inbound replies newer than the audit
// cursor and logs every violation as an integrity security event. Charter
// checks skip the human and the gate.
func (s *Scheduler) checkIntegrity(ctx context.Context) (Result, error) {
	if s.replies == nil || s.security == nil {
		s.logger.Debug("integrity audit not configured, skipping")
		return Result{}, nil
	}

	cursor, err := s.auditCursor(ctx)
	if err != nil {
		return Result{}, err
	}
	msgs, err := s.store.QueryMessages(ctx, store.MessageFilter{
		ToIDs:   []int64{s.cfg.HumanID},
		Since:   s.now().Add(-auditWindow),
		AfterID: cursor,
		Limit:   auditLimit,
		Order:   store.OldestFirst,
	})
	if err != nil {
		return Result{}, fmt.Errorf("query recent replies: %w", err)
	}

	agents := make(map[int64]*crew.Agent)
	var found []IntegrityViolation
	for _, m := range msgs {
		if m.Body == "" {
			continue
		}
		a, ok := agents[m.FromID]
		if !ok {
			a, err = s.store.GetAgent(ctx, m.FromID)
			if err != nil {
				return Result{}, err
			}
			agents[m.FromID] = a
		}
		if a.Type == crew.AgentHuman {
			continue
		}

		for _, v := range s.replies.Integrity(m.Body).Violations {
			found = append(found, IntegrityViolation{
				MessageID: m.ID, AgentID: a.ID, AgentName: a.Name,
				ViolationType: v.Type, Snippet: v.Snippet,
				Severity: crew.SeverityHigh, Source: sourceIntegrity,
			})
		}
		if a.Type == crew.AgentRightHand {
			continue
		}
		for _, v := range s.replies.Charter(m.Body).Violations {
			found = append(found, IntegrityViolation{
				MessageID: m.ID, AgentID: a.ID, AgentName: a.Name,
				ViolationType: v.Type, Snippet: v.Snippet,
				Severity: crew.SeverityMedium, Source: sourceCharter,
			})
		}
	}

	for i := range found {
		found[i].EventID = s.logViolation(ctx, found[i])
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1].ID
		if err := s.state.SetConfig(ctx, auditCursorKey, strconv.FormatInt(last, 10)); err != nil {
			s.logger.Warn("failed to advance audit cursor", zap.Int64("message_id", last), zap.Error(err))
		}
	}
	return Result{Data: found}, nil
}

// logViolation records one violation. A logging failure does not stop the
// audit of the remaining violations.
func (s *Scheduler) logViolation(ctx context.Context, v IntegrityViolation) int64 {
	label, action := "Integrity", "Review agent response and retrain if needed"
	if v.Source == sourceCharter {
		label, action = "Charter", "Warn agent; second violation = firing protocol"
	}
	id, err := s.security.LogEvent(ctx, anomaly.EventRequest{
		Domain:   crew.DomainIntegrity,
		Severity: v.Severity,
		Title:    fmt.Sprintf("%s violation: %s by %s", label, v.ViolationType, v.AgentName),
		Details: map[string]any{
			"message_id":     v.MessageID,
			"agent_id":       v.AgentID,
			"agent_name":     v.AgentName,
			"violation_type": v.ViolationType,
			"snippet":        v.Snippet,
			"source":         v.Source,
		},
		RecommendedAction: action,
	})
	if err != nil {
		s.logger.Warn("failed to log integrity violation",
			zap.Int64("message_id", v.MessageID),
			zap.String("violation_type", v.ViolationType),
			zap.Error(err),
		)
		return 0
	}
	s.logger.Info("integrity violation logged",
		zap.String("source", v.Source),
		zap.String("violation_type", v.ViolationType),
		zap.String("agent_name", v.AgentName),
		zap.Int64("event_id", id),
	)
	return id
}

func (s *Scheduler) checkReconcile(ctx context.Context) (Result, error) {
	if s.security == nil {
		s.logger.Debug("security reconcile not configured, skipping")
		return Result{}, nil
	}
	n, err := s.security.Reconcile(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile security events: %w", err)
	}
	return Result{Data: n}, nil
}
