package anomaly

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scanner's Prometheus collectors.
type Metrics struct {
	// Scans counts agent scans.
	// Labels: threat_level (none, low, medium, high)
	Scans *prometheus.CounterVec

	// Events counts logged security events.
	// Labels: severity (info, low, medium, high, critical)
	Events *prometheus.CounterVec

	// FailedNotifications counts alerts that could not be sent to the gate.
	FailedNotifications prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scans: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crewgate",
				Subsystem: "anomaly",
				Name:      "scans_total",
				Help:      "Total number of agent behavior scans by resulting threat level",
			},
			[]string{"threat_level"},
		),
		Events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crewgate",
				Subsystem: "anomaly",
				Name:      "security_events_total",
				Help:      "Total number of security events logged by severity",
			},
			[]string{"severity"},
		),
		FailedNotifications: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "crewgate",
				Subsystem: "anomaly",
				Name:      "failed_notifications_total",
				Help:      "Total number of security alerts that could not be delivered to the gate",
			},
		),
	}
}
