// Package metrics holds the Prometheus collectors for the engines and the
// execution pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "adpilot"

// Metrics groups every collector the services report to.
type Metrics struct {
	changesExecuted   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	reviews           *prometheus.CounterVec
	bidChanges        *prometheus.CounterVec
	keywordsHarvested *prometheus.CounterVec
	proposalsCreated  *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		changesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "changes_total",
			Help:      "Changes executed by the pipeline, by change type and outcome.",
		}, []string{"change_type", "outcome"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "execution_duration_seconds",
			Help:      "Time spent executing one change against the platform.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"command_kind"}),
		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approvals",
			Name:      "reviews_total",
			Help:      "Change records moved by review, by action.",
		}, []string{"action"}),
		bidChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "bid_changes_total",
			Help:      "Bid changes emitted by the optimizer, by direction.",
		}, []string{"direction"}),
		keywordsHarvested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "keywords_total",
			Help:      "Keywords promoted by the harvest engine, by target mode.",
		}, []string{"mode"}),
		proposalsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approvals",
			Name:      "proposals_total",
			Help:      "Change records created, by source.",
		}, []string{"source"}),
	}
}

// ObserveExecution records one executed change.
func (m *Metrics) ObserveExecution(changeType, kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.changesExecuted.WithLabelValues(changeType, outcome).Inc()
	m.executionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveReviews records n records moved by a review action.
func (m *Metrics) ObserveReviews(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reviews.WithLabelValues(action).Add(float64(n))
}

// ObserveBidChange records one emitted bid change.
func (m *Metrics) ObserveBidChange(direction string) {
	if m == nil {
		return
	}
	m.bidChanges.WithLabelValues(direction).Inc()
}

// ObserveHarvest records keywords promoted in one harvest run.
func (m *Metrics) ObserveHarvest(mode string, keywords int) {
	if m == nil || keywords <= 0 {
		return
	}
	m.keywordsHarvested.WithLabelValues(mode).Add(float64(keywords))
}

// ObserveProposals records change records created from one source.
func (m *Metrics) ObserveProposals(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.proposalsCreated.WithLabelValues(source).Add(float64(n))
}
