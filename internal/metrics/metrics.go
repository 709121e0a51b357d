// Package metrics exposes lifecycle counters to prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bluez_lifecycle"

// Metrics holds the engine's collectors.
type Metrics struct {
	bonding  *prometheus.CounterVec
	browse   *prometheus.CounterVec
	auth     *prometheus.CounterVec
	setup    *prometheus.CounterVec
	sessions prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bonding: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonding_results_total",
			Help:      "Completed bonding procedures by result.",
		}, []string{"result"}),
		browse: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browse_results_total",
			Help:      "Completed service discoveries by result.",
		}, []string{"result"}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_requests_total",
			Help:      "Authentication requests dispatched to agents by kind.",
		}, []string{"kind"}),
		setup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bnep_setup_responses_total",
			Help:      "Setup connection responses sent by code.",
		}, []string{"code"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bnep_sessions_active",
			Help:      "Established network sessions.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.bonding, m.browse, m.auth, m.setup, m.sessions)
	}

	return m
}

// BondingResult records a finished bonding.
func (m *Metrics) BondingResult(result string) {
	if m == nil {
		return
	}

	m.bonding.WithLabelValues(result).Inc()
}

// BrowseResult records a finished service discovery.
func (m *Metrics) BrowseResult(result string) {
	if m == nil {
		return
	}

	m.browse.WithLabelValues(result).Inc()
}

// AuthRequest records an authentication request.
func (m *Metrics) AuthRequest(kind string) {
	if m == nil {
		return
	}

	m.auth.WithLabelValues(kind).Inc()
}

// SetupResponse records a setup connection response.
func (m *Metrics) SetupResponse(code string) {
	if m == nil {
		return
	}

	m.setup.WithLabelValues(code).Inc()
}

// SessionAdded increments the active session gauge.
func (m *Metrics) SessionAdded() {
	if m == nil {
		return
	}

	m.sessions.Inc()
}

// SessionRemoved decrements the active session gauge.
func (m *Metrics) SessionRemoved() {
	if m == nil {
		return
	}

	m.sessions.Dec()
}
