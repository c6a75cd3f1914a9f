// Package metrics holds the Prometheus instrumentation of the outbound CRM calls.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels of a CRM call.
const (
	OutcomeSuccess     = "success"
	OutcomeStatus      = "unexpected_status"
	OutcomeUnreachable = "unreachable"
)

// CRMMetrics exposes counters and histograms for calls against the CRM API. A nil *CRMMetrics is
// valid and records nothing.
type CRMMetrics struct {
	callsTotal  *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
}

// NewCRMMetrics creates the collectors and registers them with reg, or with the default registerer
// if reg is nil.
func NewCRMMetrics(reg prometheus.Registerer) *CRMMetrics {
	m := &CRMMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contacts_proxy",
			Subsystem: "hubspot",
			Name:      "calls_total",
			Help:      "Total outbound calls to the HubSpot contacts API",
		}, []string{"operation", "outcome", "status"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contacts_proxy",
			Subsystem: "hubspot",
			Name:      "call_duration_seconds",
			Help:      "Latency of outbound calls to the HubSpot contacts API",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal, m.callLatency)
	return m
}

// ObserveCall records one finished call. Status is 0 when the CRM could not be reached.
func (m *CRMMetrics) ObserveCall(operation, outcome string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(operation, outcome, strconv.Itoa(status)).Inc()
	m.callLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}
