// Package metrics provides Prometheus metrics for the workflow engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	ExamsAnalyzed       prometheus.Counter
	RoutingDecisions    *prometheus.CounterVec
	UrgentFindings      prometheus.Counter
	WorkflowTransitions *prometheus.CounterVec
	InvalidTransitions  prometheus.Counter
	BusDeliveries       prometheus.Counter
	BusFailures         prometheus.Counter
	RoutingDuration     prometheus.Histogram
	ActiveTreatments    prometheus.Gauge
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		ExamsAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exams_analyzed_total",
			Help: "Total completed exams analyzed",
		}),
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Post-exam routing decisions by destination",
		}, []string{"next_step", "urgency"}),
		UrgentFindings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "urgent_findings_total",
			Help: "Exams with urgent clinical findings",
		}),
		WorkflowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Treatment workflow transitions by event type",
		}, []string{"event_type"}),
		InvalidTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_invalid_transitions_total",
			Help: "Rejected workflow transition attempts",
		}),
		BusDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Cross-role notifications delivered",
		}),
		BusFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Cross-role notification deliveries that failed",
		}),
		RoutingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "routing_duration_seconds",
			Help:    "Exam analysis and routing duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActiveTreatments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "treatments_active",
			Help: "Treatment workflows not yet in a terminal status",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.ExamsAnalyzed,
		m.RoutingDecisions,
		m.UrgentFindings,
		m.WorkflowTransitions,
		m.InvalidTransitions,
		m.BusDeliveries,
		m.BusFailures,
		m.RoutingDuration,
		m.ActiveTreatments,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
