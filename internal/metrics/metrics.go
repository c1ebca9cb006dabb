// Package metrics exposes herald's Prometheus collectors. They are fed from
// the event bus so the delivery path never touches them directly.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"herald/internal/dispatch"
	"herald/internal/eventbus"
	"herald/internal/reconcile"
	"herald/internal/task/engine"
)

const namespace = "herald"

type Metrics struct {
	Registry *prometheus.Registry

	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	queueDelay   prometheus.Histogram
	dispatches   *prometheus.CounterVec
	dispatchDur  *prometheus.HistogramVec
	reconciles   prometheus.Counter
	reconcileOut *prometheus.CounterVec
	lastRecon    prometheus.Gauge
	jobs         *prometheus.GaugeVec
}

// New builds a private registry with the Go and process collectors plus
// herald's own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Task engine runs by kind and result",
		}, []string{"kind", "result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task run time",
			Buckets:   []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		queueDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_queue_delay_seconds",
			Help:      "Time between enqueue and start",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30},
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Message sends by transport and status",
		}, []string{"transport", "status"}),
		dispatchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time to render and send one message",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		}, []string{"transport"}),
		reconciles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Calendar reconciliation passes",
		}),
		reconcileOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_entries_total",
			Help:      "Calendar entries checked by outcome",
		}, []string{"outcome"}),
		lastRecon: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_last_run_timestamp_seconds",
			Help:      "Unix time of the last reconciliation pass",
		}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_jobs",
			Help:      "Jobs currently armed by origin",
		}, []string{"origin"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasks,
		m.taskDuration,
		m.queueDelay,
		m.dispatches,
		m.dispatchDur,
		m.reconciles,
		m.reconcileOut,
		m.lastRecon,
		m.jobs,
	)
	return m
}

// SetJobs replaces the armed-job gauge.
func (m *Metrics) SetJobs(byOrigin map[string]int) {
	m.jobs.Reset()
	for origin, n := range byOrigin {
		m.jobs.WithLabelValues(origin).Set(float64(n))
	}
}

// Observe records one bus event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case engine.EventFinished, engine.EventFailed, engine.EventSkipped, engine.EventDropped:
		ev, _ := e.Data.(engine.TaskEvent)
		kind := taskKind(ev.Name)
		result := strings.TrimPrefix(e.Type, "task.")
		m.tasks.WithLabelValues(kind, result).Inc()
		if e.Type == engine.EventFinished || e.Type == engine.EventFailed {
			m.taskDuration.WithLabelValues(kind).Observe(ev.Duration.Seconds())
			m.queueDelay.Observe(ev.QueueDelay.Seconds())
		}
	case eventbus.DispatchSent, eventbus.DispatchFailed:
		out, _ := e.Data.(dispatch.Outcome)
		status := "sent"
		if e.Type == eventbus.DispatchFailed {
			status = "failed"
		}
		tr := string(out.Transport)
		if tr == "" {
			tr = "unknown"
		}
		m.dispatches.WithLabelValues(tr, status).Inc()
		m.dispatchDur.WithLabelValues(tr).Observe(out.Took.Seconds())
	case eventbus.ReconcileFinished:
		sum, _ := e.Data.(reconcile.Summary)
		m.reconciles.Inc()
		m.reconcileOut.WithLabelValues("scheduled").Add(float64(sum.Scheduled))
		m.reconcileOut.WithLabelValues("already_tracked").Add(float64(sum.AlreadyTracked))
		m.reconcileOut.WithLabelValues("not_ready").Add(float64(sum.NotReady))
		m.reconcileOut.WithLabelValues("failed").Add(float64(sum.Failed))
		at := e.Time
		if at.IsZero() {
			at = time.Now()
		}
		m.lastRecon.Set(float64(at.Unix()))
	}
}

// Run consumes the bus until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// taskKind maps "job:message_0_x" to "job" so labels stay bounded.
func taskKind(name string) string {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	if name == "" {
		return "unknown"
	}
	return name
}
