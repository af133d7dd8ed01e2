package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/anomaly"
	"github.com/fyrsmithlabs/crewgate/internal/crew"
	"github.com/fyrsmithlabs/crewgate/internal/gate"
	"github.com/fyrsmithlabs/crewgate/internal/store"
	"github.com/fyrsmithlabs/crewgate/internal/vetting"
)

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func (s *Server) handleStatus(c echo.Context) error {
	m := s.svc.Patterns.Matcher()
	return c.JSON(http.StatusOK, StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Patterns: PatternsStatus{
			Version:     m.Version(),
			Fingerprint: m.Fingerprint(),
		},
		Counts: CountStatus(c.Request().Context(), s.svc.Store, s.svc.Gate.HumanID()),
	})
}

// --- vetting ---

func (s *Server) handleHash(c echo.Context) error {
	var req ContentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, HashResponse{ContentHash: vetting.ComputeHash(req.Content)})
}

func (s *Server) handleScan(c echo.Context) error {
	var req ContentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}
	res, err := s.svc.Vetter.Scan(c.Request().Context(), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleVet(c echo.Context) error {
	var req VetRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.Vetter.Vet(c.Request().Context(), req.Name, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleInstall(c echo.Context) error {
	var req InstallRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.AgentID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}
	// An override registers the skill as vetted, so it is an operator act.
	if req.HumanOverride {
		if err := s.auth.authorize(c); err != nil {
			return err
		}
		if req.AddedBy == "" {
			req.AddedBy, _ = c.Get("operator").(string)
		}
	}
	res, err := s.svc.Vetter.AddToAgent(c.Request().Context(), vetting.AddRequest{
		AgentID:       req.AgentID,
		Name:          c.Param("name"),
		Content:       req.Content,
		AddedBy:       req.AddedBy,
		HumanOverride: req.HumanOverride,
	})
	if err != nil {
		return err
	}

	status := http.StatusOK
	switch res.Outcome {
	case vetting.AddBlocked:
		status = http.StatusForbidden
	case vetting.AddNeedsApproval:
		status = http.StatusAccepted
	}
	return c.JSON(status, res)
}

func (s *Server) handleRegisterVetted(c echo.Context) error {
	var req RegisterRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	author := req.Author
	if author == "" {
		author, _ = c.Get("operator").(string)
	}
	entry, err := s.svc.Vetter.RegisterVetted(c.Request().Context(), req.Name, req.Content, req.Source, author)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleBlock(c echo.Context) error {
	var req RegisterRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	entry, err := s.svc.Vetter.Block(c.Request().Context(), req.Name, req.Content, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, entry)
}

// --- replies ---

func (s *Server) handleIntegrity(c echo.Context) error {
	var req ReplyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.svc.Replies.Integrity(req.Text))
}

func (s *Server) handleCharter(c echo.Context) error {
	var req ReplyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.svc.Replies.Charter(req.Text))
}

// --- security ---

func (s *Server) handleScanAgent(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid agent id")
	}
	var window time.Duration
	if w := c.QueryParam("window"); w != "" {
		window, err = time.ParseDuration(w)
		if err != nil || window <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid window")
		}
	}
	r, err := s.svc.Anomaly.ScanAgent(c.Request().Context(), id, window)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleScanAll(c echo.Context) error {
	reports, err := s.svc.Anomaly.ScanAll(c.Request().Context())
	if err != nil {
		return err
	}
	if reports == nil {
		reports = []anomaly.Report{}
	}
	return c.JSON(http.StatusOK, ScanAllResponse{Reports: reports, Count: len(reports)})
}

func (s *Server) handleListEvents(c echo.Context) error {
	f := store.SecurityEventFilter{
		Severity: crew.Severity(c.QueryParam("severity")),
		Domain:   crew.ThreatDomain(c.QueryParam("domain")),
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid severity")
	}
	if f.Domain != "" && !f.Domain.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid threat domain")
	}
	if v := c.QueryParam("unresolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid unresolved flag")
		}
		f.UnresolvedOnly = b
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		f.Limit = n
	}

	events, err := s.svc.Store.QuerySecurityEvents(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, eventsResponse(events))
}

func (s *Server) handleLogEvent(c echo.Context) error {
	var req anomaly.EventRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := s.svc.Anomaly.LogEvent(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, LogEventResponse{EventID: id})
}

func (s *Server) handleSecuritySummary(c echo.Context) error {
	sum, err := s.svc.Anomaly.Summary(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) handleUndelivered(c echo.Context) error {
	events, err := s.svc.Anomaly.Undelivered(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, eventsResponse(events))
}

func eventsResponse(events []crew.SecurityEvent) EventsResponse {
	if events == nil {
		events = []crew.SecurityEvent{}
	}
	return EventsResponse{Events: events, Count: len(events)}
}

// --- gate ---

func (s *Server) handleDelivery(c echo.Context) error {
	var msg crew.Message
	if err := bind(c, &msg); err != nil {
		return err
	}
	d, err := s.svc.Gate.AssessDelivery(c.Request().Context(), msg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleEscalation(c echo.Context) error {
	var msg crew.Message
	if err := bind(c, &msg); err != nil {
		return err
	}
	e, err := s.svc.Gate.HandleEscalation(c.Request().Context(), msg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleReputation(c echo.Context) error {
	var out gate.OutboundMessage
	if err := bind(c, &out); err != nil {
		return err
	}
	if strings.TrimSpace(out.Body) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body field is required")
	}
	r, err := s.svc.Gate.ProtectReputation(c.Request().Context(), out)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleHumanState(c echo.Context) error {
	st, err := s.svc.Gate.AssessHumanState(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.DecisionID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "decision_id is required")
	}
	res, err := s.svc.Gate.LearnFromFeedback(c.Request().Context(), req.DecisionID, req.Approved, req.HumanAction, req.Note)
	if err != nil {
		return err
	}
	s.logger.Debug("feedback recorded via api",
		zap.Int64("decision_id", req.DecisionID),
		zap.Bool("override", res.Override),
	)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleBriefing(c echo.Context) error {
	b, err := s.svc.Gate.CompileBriefing(c.Request().Context(), gate.BriefingKind(c.Param("kind")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (s *Server) handleAutonomy(c echo.Context) error {
	r, err := s.svc.Gate.Autonomy(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}
