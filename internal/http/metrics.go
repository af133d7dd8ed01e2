package http

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/crewgate/internal/http"

// Operator authentication outcomes, recorded per API area.
const (
	authGranted      = "granted"
	authMissing      = "missing_token"
	authInvalid      = "invalid_token"
	authUnconfigured = "unconfigured"
)

// Areas group routes by the crewgate component they front.
const (
	areaVetting   = "vetting"
	areaSkills    = "skills"
	areaRegistry  = "registry"
	areaReplies   = "replies"
	areaSecurity  = "security"
	areaGate      = "gate"
	areaSystem    = "system"
	areaUnmatched = "unmatched"
)

// requestMetrics records request counts, latency and in-flight requests
// labelled by API area, plus every operator authentication decision.
type requestMetrics struct {
	logger   *zap.Logger
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
	auth     metric.Int64Counter
}

func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *requestMetrics {
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &requestMetrics{logger: logger}

	var err error
	m.requests, err = meter.Int64Counter(
		"crewgate.http.requests_total",
		metric.WithDescription("HTTP requests by API area (vetting, skills, registry, replies, security, gate), route and status."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"crewgate.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by API area and route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.inflight, err = meter.Int64UpDownCounter(
		"crewgate.http.active_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create active requests gauge", zap.Error(err))
	}

	m.auth, err = meter.Int64Counter(
		"crewgate.http.operator_auth_total",
		metric.WithDescription("Operator token checks by API area and outcome (granted, missing_token, invalid_token, unconfigured)."),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		logger.Warn("failed to create operator auth counter", zap.Error(err))
	}
	return m
}

// middleware records one request. It must run inside the router so that
// c.Path() holds the route pattern rather than the raw URL.
func (m *requestMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if m.inflight != nil {
			m.inflight.Add(ctx, 1)
			defer m.inflight.Add(ctx, -1)
		}
		start := time.Now()
		err := next(c)

		area := routeArea(c.Path())
		endpoint := c.Path()
		if area == areaUnmatched {
			endpoint = areaUnmatched
		}
		status := c.Response().Status
		if err != nil && !c.Response().Committed {
			// The error handler has not written the response yet.
			var he *echo.HTTPError
			if !errors.As(err, &he) {
				he = statusFor(err)
			}
			status = he.Code
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request().Method),
			attribute.String("area", area),
			attribute.String("endpoint", endpoint),
			attribute.Int("status", status),
		)
		if m.requests != nil {
			m.requests.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		return err
	}
}

func (m *requestMetrics) recordAuth(ctx context.Context, path, outcome string) {
	if m == nil || m.auth == nil {
		return
	}
	m.auth.Add(ctx, 1, metric.WithAttributes(
		attribute.String("area", routeArea(path)),
		attribute.String("outcome", outcome),
	))
}

// routeArea maps a route pattern to the API area it belongs to. Unknown
// paths collapse to "unmatched" so raw URLs never become label values.
func routeArea(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		if path == "/health" || path == "/metrics" {
			return areaSystem
		}
		return areaUnmatched
	}
	first, _, _ := strings.Cut(rest, "/")
	switch first {
	case areaVetting, areaSkills, areaRegistry, areaReplies, areaSecurity, areaGate:
		return first
	case "agents", "scan":
		return areaSecurity
	case "status":
		return areaSystem
	}
	return areaUnmatched
}
