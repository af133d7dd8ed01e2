package heartbeat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check outcomes.
const (
	outcomeIdle   = "idle"
	outcomeAction = "action"
	outcomeError  = "error"
)

// Notification results.
const (
	notifySent        = "sent"
	notifyFailed      = "failed"
	notifyRateLimited = "rate_limited"
)

// Metrics holds the heartbeat's Prometheus collectors.
type Metrics struct {
	// Ticks counts heartbeat cycles.
	Ticks prometheus.Counter

	// Checks counts check runs.
	// Labels: check, outcome (idle, action, error)
	Checks *prometheus.CounterVec

	// Notifications counts messages the heartbeat tried to send the human.
	// Labels: action, result (sent, failed, rate_limited)
	Notifications *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "crewgate",
				Subsystem: "heartbeat",
				Name:      "ticks_total",
				Help:      "Total number of heartbeat cycles",
			},
		),
		Checks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crewgate",
				Subsystem: "heartbeat",
				Name:      "checks_total",
				Help:      "Total number of heartbeat check runs by check and outcome",
			},
			[]string{"check", "outcome"},
		),
		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crewgate",
				Subsystem: "heartbeat",
				Name:      "notifications_total",
				Help:      "Total number of heartbeat notifications by action and result",
			},
			[]string{"action", "result"},
		),
	}
}
