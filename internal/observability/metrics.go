package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry so tests can build as many as they like.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string
	window    *runStageWindow

	SessionEvents       *prometheus.CounterVec
	EndpointAllocations *prometheus.CounterVec
	TaskEvents          *prometheus.CounterVec
	TaskFailures        *prometheus.CounterVec
	TaskSteps           prometheus.Counter
	RunningTasks        prometheus.Gauge
	TaskDuration        prometheus.Histogram
	StreamSubscribers   prometheus.Gauge
	ArchiveWrites       *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		namespace: namespace,
		window:    newRunStageWindow(256),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		EndpointAllocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_allocations_total",
			Help:      "Sessions allocated per browser endpoint.",
		}, []string{"endpoint"}),
		TaskEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by name.",
		}, []string{"event"}),
		TaskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed task runs by failure kind.",
		}, []string{"kind"}),
		TaskSteps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_steps_total",
			Help:      "Agent steps reported across all tasks.",
		}),
		RunningTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_tasks",
			Help:      "Tasks currently executing on a browser.",
		}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time from task start to terminal status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		StreamSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Open SSE and websocket task stream subscribers.",
		}),
		ArchiveWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_writes_total",
			Help:      "Terminal task archive writes by result.",
		}, []string{"result"}),
	}
}

// TrackActiveSessions exports the live session count, read at scrape time.
func (m *Metrics) TrackActiveSessions(count func() int) {
	if m == nil || count == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "active_sessions",
		Help:      "Number of active browser sessions.",
	}, func() float64 { return float64(count()) })
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveAllocation(endpointID string) {
	if m == nil {
		return
	}
	m.EndpointAllocations.WithLabelValues(endpointID).Inc()
}

func (m *Metrics) ObserveTaskEvent(event string) {
	if m == nil {
		return
	}
	m.TaskEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTaskFailure(kind string) {
	if m == nil {
		return
	}
	m.TaskFailures.WithLabelValues(kind).Inc()
	m.window.ObserveIndicator("failure_" + kind)
}

func (m *Metrics) ObserveStep() {
	if m == nil {
		return
	}
	m.TaskSteps.Inc()
}

// ObserveStage records a task phase latency (queue_wait, run_total,
// step_interval) in the rolling window served by the stats endpoint.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	if stage == "run_total" {
		m.TaskDuration.Observe(d.Seconds())
	}
	m.window.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) RunSnapshot() RunStageSnapshot {
	if m == nil {
		return RunStageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.Snapshot()
}

func (m *Metrics) ObserveArchive(result string) {
	if m == nil {
		return
	}
	m.ArchiveWrites.WithLabelValues(result).Inc()
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
