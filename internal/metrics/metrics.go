package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storyloom/internal/pipeline"
)

const namespace = "storyloom"

// Collector records run and slot outcomes.
type Collector struct {
	registry *prometheus.Registry

	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	slots         *prometheus.CounterVec
	slotDuration  *prometheus.HistogramVec
	activeRuns    prometheus.Gauge
	combineTotals *prometheus.CounterVec
}

// New registers the collectors on a fresh registry. Go runtime and process
// collectors are included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Story runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Story runs finished, by outcome and failing stage.",
		}, []string{"outcome", "stage"}),
		slots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_total",
			Help:      "Generated asset slots, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		slotDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_duration_seconds",
			Help:      "Time to fill one asset slot.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"stage"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently generating.",
		}),
		combineTotals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "combines_total",
			Help:      "Video concatenations, by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.runsStarted,
		c.runsFinished,
		c.slots,
		c.slotDuration,
		c.activeRuns,
		c.combineTotals,
	)
	return c
}

var _ pipeline.Observer = (*Collector)(nil)

// Observe implements pipeline.Observer.
func (c *Collector) Observe(_ context.Context, ev pipeline.Event) {
	switch ev.Type {
	case pipeline.EventRunStarted:
		c.runsStarted.Inc()
		c.activeRuns.Inc()
	case pipeline.EventRunCompleted:
		c.runsFinished.WithLabelValues("completed", "").Inc()
		c.activeRuns.Dec()
	case pipeline.EventRunFailed:
		c.runsFinished.WithLabelValues("failed", string(ev.Stage)).Inc()
		c.activeRuns.Dec()
	case pipeline.EventSlotFilled:
		c.slots.WithLabelValues(string(ev.Stage), "filled").Inc()
		if ev.Duration > 0 {
			c.slotDuration.WithLabelValues(string(ev.Stage)).Observe(ev.Duration.Seconds())
		}
	case pipeline.EventSlotFailed:
		if ev.Stage == pipeline.StageCombine {
			c.combineTotals.WithLabelValues("failed").Inc()
			return
		}
		c.slots.WithLabelValues(string(ev.Stage), "failed").Inc()
	case pipeline.EventCombined:
		c.combineTotals.WithLabelValues("succeeded").Inc()
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
