// Package sqlstore implements store.Store on MySQL through gorm.
//
// Records are mapped to gorm models (models.go); JSON-shaped fields use
// gorm's json serializer. The timing rule evaluator and the filter
// semantics are shared with the in-memory store so both behave the same.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/logging"
	"github.com/fyrsmithlabs/crewgate/internal/store"
)

// rejectionsPerWord caps the matches collected for a single word.
const rejectionsPerWord = 5

// Store is a gorm-backed store.Store.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger *logging.Logger
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for the store and for gorm itself.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to MySQL. parseTime and utf8mb4 are added to the DSN when
// missing.
func Open(dsn string, opts ...Option) (*Store, error) {
	s := newStore(nil, opts)
	db, err := gorm.Open(mysql.Open(NormalizeDSN(dsn)), &gorm.Config{
		Logger:  newGormLogger(s.logger),
		NowFunc: func() time.Time { return s.now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening mysql: %w", err)
	}
	s.db = db
	return s, nil
}

// New wraps an existing gorm connection.
func New(db *gorm.DB, opts ...Option) *Store {
	return newStore(db, opts)
}

func newStore(db *gorm.DB, opts []Option) *Store {
	s := &Store{db: db, now: time.Now, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("sqlstore")
	return s
}

// NormalizeDSN adds parseTime=true and a utf8mb4 charset to dsn unless
// already present.
func NormalizeDSN(dsn string) string {
	dsn = ensureParam(dsn, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
		dsn = ensureParam(dsn, "collation", "utf8mb4_unicode_ci")
	}
	return dsn
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	s.logger.Info(ctx, "schema migrated", zap.Int("tables", len(Models())))
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *Store) utcNow() time.Time {
	return s.now().UTC()
}

// notFound maps gorm's not-found error to store.ErrNotFound.
func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, store.ErrNotFound)
	}
	return fmt.Errorf("loading %s %v: %w", what, id, err)
}

// --- agents ---

// UpsertAgent inserts an agent, or updates the agent with the same name.
func (s *Store) UpsertAgent(ctx context.Context, a crew.Agent) (int64, error) {
	if a.Name == "" {
		return 0, fmt.Errorf("%w: agent name is required", store.ErrInvalidRecord)
	}
	if !a.Type.Valid() {
		return 0, fmt.Errorf("%w: invalid agent type %q", store.ErrInvalidRecord, a.Type)
	}
	if a.Status == "" {
		a.Status = crew.AgentActive
	}
	if a.TrustScore == 0 {
		a.TrustScore = crew.MinScore
	}
	if a.BurnoutScore == 0 {
		a.BurnoutScore = 5
	}

	var id int64
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Agent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("name = ?", a.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := agentToRow(a)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
			return nil
		case err != nil:
			return err
		}
		row := agentToRow(a)
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		id = existing.ID
		return tx.Save(&row).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upserting agent %q: %w", a.Name, err)
	}
	return id, nil
}

// SetTrustScore sets an agent's trust score, clamped to [1,10].
func (s *Store) SetTrustScore(ctx context.Context, id int64, score int) error {
	return s.updateAgent(ctx, id, "trust_score", clampScore(score))
}

// SetBurnoutScore sets an agent's burnout score, clamped to [1,10].
func (s *Store) SetBurnoutScore(ctx context.Context, id int64, score int) error {
	return s.updateAgent(ctx, id, "burnout_score", clampScore(score))
}

func (s *Store) updateAgent(ctx context.Context, id int64, column string, value any) error {
	res := s.conn(ctx).Model(&Agent{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("updating agent %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("agent %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func clampScore(v int) int {
	return max(crew.MinScore, min(crew.MaxScore, v))
}

func (s *Store) GetAgent(ctx context.Context, id int64) (*crew.Agent, error) {
	var row Agent
	if err := s.conn(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "agent", id)
	}
	a := agentFromRow(row)
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]crew.Agent, error) {
	var rows []Agent
	if err := s.conn(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	out := make([]crew.Agent, 0, len(rows))
	for _, r := range rows {
		out = append(out, agentFromRow(r))
	}
	return out, nil
}

// --- messages ---

func (s *Store) SendMessage(ctx context.Context, req store.SendRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	var n int64
	if err := s.conn(ctx).Model(&Agent{}).Where("id IN ?", []int64{req.FromID, req.ToID}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("checking message parties: %w", err)
	}
	want := int64(2)
	if req.FromID == req.ToID {
		want = 1
	}
	if n < want {
		return 0, fmt.Errorf("message parties %d -> %d: %w", req.FromID, req.ToID, store.ErrNotFound)
	}

	row := Message{
		FromID:      req.FromID,
		ToID:        req.ToID,
		MessageType: string(req.Type),
		Subject:     req.Subject,
		Body:        req.Body,
		Priority:    string(req.Priority),
		Status:      string(crew.StatusQueued),
		CreatedAt:   s.utcNow(),
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("sending message: %w", err)
	}
	return row.ID, nil
}

// MarkDelivered moves a queued message to delivered. Messages in any other
// status are left unchanged.
func (s *Store) MarkDelivered(ctx context.Context, id int64) error {
	now := s.utcNow()
	res := s.conn(ctx).Model(&Message{}).
		Where("id = ? AND status = ?", id, crew.StatusQueued).
		Updates(map[string]any{"status": string(crew.StatusDelivered), "delivered_at": now})
	if res.Error != nil {
		return fmt.Errorf("marking message %d delivered: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var row Message
	if err := s.conn(ctx).Select("id").First(&row, id).Error; err != nil {
		return notFound(err, "message", id)
	}
	return nil
}

func (s *Store) QueryMessages(ctx context.Context, f store.MessageFilter) ([]crew.Message, error) {
	var rows []Message
	q := orderMessages(messageQuery(s.conn(ctx), f), f.Order)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	out := make([]crew.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, messageFromRow(r))
	}
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, f store.MessageFilter) (int, error) {
	var n int64
	if err := messageQuery(s.conn(ctx), f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return int(n), nil
}

// messageQuery translates a filter into WHERE clauses. It mirrors
// store.MatchMessage.
func messageQuery(db *gorm.DB, f store.MessageFilter) *gorm.DB {
	q := db.Model(&Message{})
	if f.FromID != 0 {
		q = q.Where("from_id = ?", f.FromID)
	}
	if len(f.ToIDs) > 0 {
		q = q.Where("to_id IN ?", f.ToIDs)
	}
	if len(f.Types) > 0 {
		q = q.Where("message_type IN ?", f.Types)
	}
	if len(f.Priorities) > 0 {
		q = q.Where("priority IN ?", f.Priorities)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if !f.Before.IsZero() {
		q = q.Where("created_at < ?", f.Before.UTC())
	}
	if f.AfterID != 0 {
		q = q.Where("id > ?", f.AfterID)
	}
	return q
}

func orderMessages(q *gorm.DB, order store.MessageOrder) *gorm.DB {
	if order == store.OldestFirst {
		return q.Order("created_at ASC").Order("id ASC")
	}
	if order == store.PriorityFirst {
		q = q.Order("FIELD(priority, 'critical', 'high', 'normal', 'low')")
	}
	return q.Order("created_at DESC").Order("id DESC")
}

// --- audit ---

func (s *Store) RecordAudit(ctx context.Context, e crew.AuditEntry) (int64, error) {
	if e.EventType == "" {
		return 0, fmt.Errorf("%w: audit event type is required", store.ErrInvalidRecord)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.utcNow()
	}
	row := AuditEntry{AgentID: e.AgentID, EventType: e.EventType, Details: e.Details, Timestamp: ts.UTC()}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("recording audit %s: %w", e.EventType, err)
	}
	return row.ID, nil
}

func (s *Store) QueryAudit(ctx context.Context, agentID int64, since time.Time) ([]crew.AuditEntry, error) {
	var rows []AuditEntry
	err := s.conn(ctx).
		Where("agent_id = ? AND timestamp >= ?", agentID, since.UTC()).
		Order("timestamp").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying audit for agent %d: %w", agentID, err)
	}
	out := make([]crew.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, auditFromRow(r))
	}
	return out, nil
}

// --- security events ---

func (s *Store) LogSecurityEvent(ctx context.Context, ev crew.SecurityEvent) (int64, error) {
	if err := store.ValidateSecurityEvent(ev); err != nil {
		return 0, err
	}
	row := SecurityEvent{
		ReporterID:        ev.ReporterID,
		ThreatDomain:      string(ev.Domain),
		Severity:          string(ev.Severity),
		Title:             ev.Title,
		Details:           ev.Details,
		RecommendedAction: ev.RecommendedAction,
		CreatedAt:         s.utcNow(),
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("logging security event: %w", err)
	}
	return row.ID, nil
}

func (s *Store) MarkSecurityDelivered(ctx context.Context, id int64) error {
	return s.updateEvent(ctx, id, map[string]any{"delivered_to_gate": true})
}

func (s *Store) ResolveSecurityEvent(ctx context.Context, id int64, resolution string) error {
	return s.updateEvent(ctx, id, map[string]any{"resolved_at": s.utcNow(), "resolution": resolution})
}

func (s *Store) updateEvent(ctx context.Context, id int64, fields map[string]any) error {
	res := s.conn(ctx).Model(&SecurityEvent{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("updating security event %d: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when nothing changed.
	var row SecurityEvent
	if err := s.conn(ctx).Select("id").First(&row, id).Error; err != nil {
		return notFound(err, "security event", id)
	}
	return nil
}

func (s *Store) QuerySecurityEvents(ctx context.Context, f store.SecurityEventFilter) ([]crew.SecurityEvent, error) {
	var rows []SecurityEvent
	q := eventQuery(s.conn(ctx), f).Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying security events: %w", err)
	}
	out := make([]crew.SecurityEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, eventFromRow(r))
	}
	return out, nil
}

// eventQuery mirrors store.MatchSecurityEvent.
func eventQuery(db *gorm.DB, f store.SecurityEventFilter) *gorm.DB {
	q := db.Model(&SecurityEvent{})
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.MinSeverity != "" {
		var allowed []crew.Severity
		for _, sev := range crew.Severities() {
			if sev.AtLeast(f.MinSeverity) {
				allowed = append(allowed, sev)
			}
		}
		q = q.Where("severity IN ?", allowed)
	}
	if f.Domain != "" {
		q = q.Where("threat_domain = ?", f.Domain)
	}
	if f.UnresolvedOnly {
		q = q.Where("resolved_at IS NULL")
	}
	if f.UndeliveredOnly {
		q = q.Where("delivered_to_gate = ?", false)
	}
	return q
}

// --- knowledge ---

func (s *Store) StoreKnowledge(ctx context.Context, e crew.KnowledgeEntry) (int64, error) {
	if e.Subject == "" {
		return 0, fmt.Errorf("%w: knowledge subject is required", store.ErrInvalidRecord)
	}
	row := KnowledgeEntry{
		AgentID:   e.AgentID,
		Category:  string(e.Category),
		Subject:   e.Subject,
		Content:   e.Content,
		Tags:      e.Tags,
		UpdatedAt: s.utcNow(),
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("storing knowledge: %w", err)
	}
	return row.ID, nil
}

func (s *Store) SearchKnowledge(ctx context.Context, query string, category crew.KnowledgeCategory, limit int) ([]crew.KnowledgeEntry, error) {
	var rows []KnowledgeEntry
	q := knowledgeQuery(s.conn(ctx), query, category).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("searching knowledge: %w", err)
	}
	out := make([]crew.KnowledgeEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, knowledgeFromRow(r))
	}
	return out, nil
}

func knowledgeQuery(db *gorm.DB, query string, category crew.KnowledgeCategory) *gorm.DB {
	q := db.Model(&KnowledgeEntry{})
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if query != "" {
		like := likePattern(query)
		q = q.Where("(LOWER(subject) LIKE ? OR LOWER(content) LIKE ? OR LOWER(tags) LIKE ?)", like, like, like)
	}
	return q
}

// likePattern builds a case-insensitive substring LIKE pattern, escaping
// the LIKE metacharacters.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

// --- rejections ---

// LogRejection records a rejected idea.
func (s *Store) LogRejection(ctx context.Context, r store.Rejection) (int64, error) {
	if r.Subject == "" {
		return 0, fmt.Errorf("%w: rejection subject is required", store.ErrInvalidRecord)
	}
	row := Rejection{HumanID: r.HumanID, Subject: r.Subject, Body: r.Body, Reason: r.Reason, CreatedAt: s.utcNow()}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("logging rejection: %w", err)
	}
	return row.ID, nil
}

func (s *Store) SearchRejections(ctx context.Context, humanID int64, words []string) ([]store.Rejection, error) {
	seen := make(map[int64]bool)
	var out []store.Rejection
	for _, w := range words {
		if w == "" {
			continue
		}
		like := likePattern(w)
		var rows []Rejection
		err := s.conn(ctx).
			Where("human_id = ? AND (LOWER(subject) LIKE ? OR LOWER(body) LIKE ?)", humanID, like, like).
			Order("id DESC").Limit(rejectionsPerWord).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("searching rejections for %q: %w", w, err)
		}
		for _, r := range rows {
			if !seen[r.ID] {
				seen[r.ID] = true
				out = append(out, rejectionFromRow(r))
			}
		}
	}
	return out, nil
}

// --- decisions ---

func (s *Store) RecordDecision(ctx context.Context, d crew.Decision) (int64, error) {
	if !d.Type.Valid() {
		return 0, fmt.Errorf("%w: invalid decision type %q", store.ErrInvalidRecord, d.Type)
	}
	row := Decision{
		GateID:       d.GateID,
		HumanID:      d.HumanID,
		DecisionType: string(d.Type),
		Context:      d.Context,
		Action:       d.Action,
		Reasoning:    d.Reasoning,
		Tags:         d.Tags,
		CreatedAt:    s.utcNow(),
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("recording decision: %w", err)
	}
	return row.ID, nil
}

func (s *Store) GetDecision(ctx context.Context, id int64) (*crew.Decision, error) {
	var row Decision
	if err := s.conn(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "decision", id)
	}
	d := decisionFromRow(row)
	return &d, nil
}

// RecordFeedback stores the human's verdict once. The conditional update
// makes concurrent feedback on the same decision write-once.
func (s *Store) RecordFeedback(ctx context.Context, id int64, override bool, action, note string) (*crew.Decision, error) {
	res := s.conn(ctx).Model(&Decision{}).
		Where("id = ? AND human_override IS NULL", id).
		Updates(map[string]any{"human_override": override, "human_action": action, "feedback_note": note})
	if res.Error != nil {
		return nil, fmt.Errorf("recording feedback on decision %d: %w", id, res.Error)
	}
	d, err := s.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("decision %d: %w", id, store.ErrFeedbackAlreadyRecorded)
	}
	return d, nil
}

func (s *Store) QueryDecisions(ctx context.Context, f store.DecisionFilter) ([]crew.Decision, error) {
	var rows []Decision
	q := decisionQuery(s.conn(ctx), f).Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	out := make([]crew.Decision, 0, len(rows))
	for _, r := range rows {
		out = append(out, decisionFromRow(r))
	}
	return out, nil
}

// decisionQuery mirrors store.MatchDecision.
func decisionQuery(db *gorm.DB, f store.DecisionFilter) *gorm.DB {
	q := db.Model(&Decision{})
	if f.GateID != 0 {
		q = q.Where("gate_id = ?", f.GateID)
	}
	if f.HumanID != 0 {
		q = q.Where("human_id = ?", f.HumanID)
	}
	if len(f.Types) > 0 {
		q = q.Where("decision_type IN ?", f.Types)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	return q
}

func (s *Store) DecisionStats(ctx context.Context, gateID int64) (store.DecisionStats, error) {
	var agg struct {
		Total        int
		WithFeedback int
		Overrides    int
	}
	err := s.conn(ctx).Model(&Decision{}).
		Select("COUNT(*) AS total, "+
			"COALESCE(SUM(CASE WHEN human_override IS NOT NULL THEN 1 ELSE 0 END), 0) AS with_feedback, "+
			"COALESCE(SUM(CASE WHEN human_override = TRUE THEN 1 ELSE 0 END), 0) AS overrides").
		Where("gate_id = ?", gateID).
		Scan(&agg).Error
	if err != nil {
		return store.DecisionStats{}, fmt.Errorf("decision stats for gate %d: %w", gateID, err)
	}
	return store.DecisionStats{Total: agg.Total, WithFeedback: agg.WithFeedback, Overrides: agg.Overrides}, nil
}

// --- human state and timing ---

// SetHumanState stores the human's wellbeing snapshot.
func (s *Store) SetHumanState(ctx context.Context, humanID int64, st crew.HumanState) error {
	row := HumanState{
		HumanID:             humanID,
		BurnoutScore:        st.BurnoutScore,
		Energy:              st.Energy,
		Activity:            st.Activity,
		Mood:                st.Mood,
		ConsecutiveWorkDays: st.ConsecutiveWorkDays,
		LastSocialActivity:  st.LastSocialActivity,
		UpdatedAt:           s.utcNow(),
	}
	if err := s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("storing human state %d: %w", humanID, err)
	}
	return nil
}

// SetHumanProfile stores the human's preferences.
func (s *Store) SetHumanProfile(ctx context.Context, humanID int64, p crew.HumanProfile) error {
	row := HumanProfile{HumanID: humanID, Formality: p.Formality, Timezone: p.Timezone}
	if err := s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("storing human profile %d: %w", humanID, err)
	}
	return nil
}

// SetTimingRules replaces the human's delivery rules.
func (s *Store) SetTimingRules(ctx context.Context, humanID int64, rules store.TimingRules) error {
	if rules.QuietHours != nil {
		if err := rules.QuietHours.Validate(); err != nil {
			return err
		}
	}
	row := TimingRule{HumanID: humanID, Rules: rules, UpdatedAt: s.utcNow()}
	if err := s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("storing timing rules %d: %w", humanID, err)
	}
	return nil
}

// GetHumanState returns the stored state with defaults filled in. Without
// a stored state the burnout score comes from the human's agent record.
func (s *Store) GetHumanState(ctx context.Context, humanID int64) (crew.HumanState, error) {
	var row HumanState
	err := s.conn(ctx).First(&row, "human_id = ?", humanID).Error
	if err == nil {
		return humanStateFromRow(row).WithDefaults(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return crew.HumanState{}, fmt.Errorf("loading human state %d: %w", humanID, err)
	}
	st := crew.DefaultHumanState()
	a, err := s.GetAgent(ctx, humanID)
	switch {
	case err == nil && a.BurnoutScore > 0:
		st.BurnoutScore = a.BurnoutScore
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return crew.HumanState{}, err
	}
	return st, nil
}

func (s *Store) GetHumanProfile(ctx context.Context, humanID int64) (crew.HumanProfile, error) {
	var row HumanProfile
	err := s.conn(ctx).First(&row, "human_id = ?", humanID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return crew.HumanProfile{}, nil
	case err != nil:
		return crew.HumanProfile{}, fmt.Errorf("loading human profile %d: %w", humanID, err)
	}
	return crew.HumanProfile{Formality: row.Formality, Timezone: row.Timezone}, nil
}

func (s *Store) EvaluateTiming(ctx context.Context, humanID int64, p crew.Priority) (crew.TimingVerdict, error) {
	if p == crew.PriorityCritical {
		return store.EvaluateTiming(s.now(), 0, p, store.TimingRules{}), nil
	}
	human, err := s.GetAgent(ctx, humanID)
	if err != nil {
		return crew.TimingVerdict{}, err
	}
	var row TimingRule
	err = s.conn(ctx).First(&row, "human_id = ?", humanID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return crew.TimingVerdict{}, fmt.Errorf("loading timing rules %d: %w", humanID, err)
	}
	return store.EvaluateTiming(s.now(), human.BurnoutScore, p, row.Rules), nil
}

// --- skill registry ---

func (s *Store) GetSkillRegistryEntry(ctx context.Context, name, hash string) (*crew.SkillRegistryEntry, error) {
	var row SkillRegistryEntry
	err := s.conn(ctx).First(&row, "name = ? AND content_hash = ?", name, hash).Error
	if err != nil {
		return nil, notFound(err, "skill", fmt.Sprintf("%q (%s)", name, hash))
	}
	e := registryFromRow(row)
	return &e, nil
}

func (s *Store) UpsertSkillRegistryEntry(ctx context.Context, e crew.SkillRegistryEntry) error {
	if e.Name == "" || e.ContentHash == "" {
		return fmt.Errorf("%w: skill name and content hash are required", store.ErrInvalidRecord)
	}
	if e.VettedAt == nil {
		now := s.utcNow()
		e.VettedAt = &now
	}
	row := registryToRow(e)
	if err := s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("upserting skill %q: %w", e.Name, err)
	}
	return nil
}

// SkillRegistry lists registry entries, optionally filtered by status,
// ordered by name.
func (s *Store) SkillRegistry(ctx context.Context, status crew.VetStatus) ([]crew.SkillRegistryEntry, error) {
	var rows []SkillRegistryEntry
	q := s.conn(ctx).Order("name").Order("content_hash")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing skill registry: %w", err)
	}
	out := make([]crew.SkillRegistryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, registryFromRow(r))
	}
	return out, nil
}

func (s *Store) AddAgentSkill(ctx context.Context, agentID int64, name, content string) error {
	if _, err := s.GetAgent(ctx, agentID); err != nil {
		return err
	}
	row := AgentSkill{AgentID: agentID, SkillName: name, Content: content, CreatedAt: s.utcNow()}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"content"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("adding skill %q to agent %d: %w", name, agentID, err)
	}
	return nil
}

// AgentSkills returns the skills installed on an agent, keyed by name.
func (s *Store) AgentSkills(ctx context.Context, agentID int64) (map[string]string, error) {
	var rows []AgentSkill
	if err := s.conn(ctx).Where("agent_id = ?", agentID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing skills of agent %d: %w", agentID, err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.SkillName] = r.Content
	}
	return out, nil
}

// --- config ---

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var row ConfigEntry
	if err := s.conn(ctx).First(&row, "config_key = ?", key).Error; err != nil {
		return "", notFound(err, "config", fmt.Sprintf("%q", key))
	}
	return row.Value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	row := ConfigEntry{Key: key, Value: value, UpdatedAt: s.utcNow()}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("setting config %q: %w", key, err)
	}
	return nil
}
