// Package metrics exports Prometheus metrics for matching runs and reviews.
package metrics

import (
	"net/http"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/reconciler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recon"

// Recorder implements reconciler.Metrics on its own registry so several
// services (and tests) never collide on registration.
type Recorder struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	entries         prometheus.Counter
	matches         *prometheus.CounterVec
	passMatches     *prometheus.CounterVec
	duplicateGroups prometheus.Counter
	reviews         *prometheus.CounterVec
	lastRun         prometheus.Gauge
}

var _ reconciler.Metrics = (*Recorder)(nil)

// New creates a recorder. Process and Go runtime collectors are included
// when withRuntime is set.
func New(withRuntime bool) *Recorder {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "runs_total",
			Help:      "Total scope matching runs by outcome.",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "run_duration_seconds",
			Help:      "Duration of scope matching runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		entries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "entries_considered_total",
			Help:      "Total unmatched entries fed into matching runs.",
		}),
		matches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "matches_total",
			Help:      "Total matches persisted by match type and resulting status.",
		}, []string{"match_type", "status"}),
		passMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "pass_matches_total",
			Help:      "Total matches per matching pass.",
		}, []string{"pass"}),
		duplicateGroups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "duplicate_groups_total",
			Help:      "Total possible duplicate posting groups seen during runs.",
		}),
		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "decisions_total",
			Help:      "Total review decisions by action and outcome.",
		}, []string{"action", "outcome"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last successful matching run.",
		}),
	}
}

// ObserveRun records one scope run.
func (r *Recorder) ObserveRun(_ models.Scope, result *reconciler.RunResult, err error) {
	if err != nil {
		r.runs.WithLabelValues("error").Inc()
		return
	}
	r.runs.WithLabelValues("ok").Inc()
	if result == nil {
		return
	}
	r.runDuration.Observe(result.Duration.Seconds())
	r.entries.Add(float64(result.Considered))
	for _, m := range result.Results {
		r.matches.WithLabelValues(string(m.Type), string(m.Status())).Inc()
	}
	for pass, n := range result.ByPass {
		r.passMatches.WithLabelValues(string(pass)).Add(float64(n))
	}
	r.duplicateGroups.Add(float64(len(result.Duplicates)))
	r.lastRun.Set(float64(result.StartedAt.Add(result.Duration).Unix()))
}

// ObserveReview records an accept or reject decision.
func (r *Recorder) ObserveReview(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.reviews.WithLabelValues(action, outcome).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
