// Package metrics counts engine activity for operational visibility.
//
// The engine reports through the Sink interface so tests and embedders
// that don't scrape metrics pay nothing (Nop). The Prometheus sink is
// the production implementation; `graft test` registers it and serves
// /metrics when --metrics is set or metrics.enabled is configured.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Resolution statuses reported to Sink.Resolution.
const (
	StatusResolved = "resolved"
	StatusPending  = "pending"
	StatusError    = "error"
)

// Gate transition directions reported to Sink.GateTransition.
const (
	DirectionOpened = "opened"
	DirectionClosed = "closed"
)

// Sink receives engine activity counts. Implementations must be safe to
// call from the dispatch loop; all methods are fire-and-forget.
type Sink interface {
	// SessionOpened is called once per successful Attach.
	SessionOpened()
	// SessionClosed is called once per Close, including engine shutdown.
	SessionClosed()
	// Resolution is called after every source resolution attempt with
	// one of the Status constants.
	Resolution(status string)
	// Propagated is called for every value pushed to a target.
	Propagated()
	// DebounceFired is called when a quiet window elapses and the
	// coalesced propagation runs.
	DebounceFired()
	// GateTransition is called when a type gate changes state, with one
	// of the Direction constants.
	GateTransition(direction string)
}

// Nop discards all counts. It is the engine default.
type Nop struct{}

func (Nop) SessionOpened()        {}
func (Nop) SessionClosed()        {}
func (Nop) Resolution(string)     {}
func (Nop) Propagated()           {}
func (Nop) DebounceFired()        {}
func (Nop) GateTransition(string) {}

// Prometheus implements Sink on prometheus counters.
type Prometheus struct {
	resolutions     *prometheus.CounterVec
	propagations    prometheus.Counter
	debounceFired   prometheus.Counter
	gateTransitions *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// NewPrometheus creates a sink registered on reg. A nil reg uses the
// default registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Prometheus{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graft_resolutions_total",
				Help: "Total source resolution attempts by outcome status.",
			},
			[]string{"status"},
		),
		propagations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "graft_propagations_total",
				Help: "Total values pushed to binding targets.",
			},
		),
		debounceFired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "graft_debounce_fired_total",
				Help: "Total debounce windows that elapsed and fired.",
			},
		),
		gateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graft_gate_transitions_total",
				Help: "Total type gate state changes by direction.",
			},
			[]string{"direction"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "graft_active_sessions",
				Help: "Binding sessions currently open.",
			},
		),
	}

	reg.MustRegister(
		p.resolutions,
		p.propagations,
		p.debounceFired,
		p.gateTransitions,
		p.activeSessions,
	)
	return p
}

func (p *Prometheus) SessionOpened() { p.activeSessions.Inc() }
func (p *Prometheus) SessionClosed() { p.activeSessions.Dec() }

func (p *Prometheus) Resolution(status string) {
	p.resolutions.WithLabelValues(status).Inc()
}

func (p *Prometheus) Propagated()    { p.propagations.Inc() }
func (p *Prometheus) DebounceFired() { p.debounceFired.Inc() }

func (p *Prometheus) GateTransition(direction string) {
	p.gateTransitions.WithLabelValues(direction).Inc()
}
