package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pca"

// WorkerMetrics observes the analysis worker pool.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	taskTotal    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	taskInFlight prometheus.Gauge
	queueLag     *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	retriesTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	taskTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "analysis_attempts_total",
			Help:      "Total analysis attempts by status.",
		},
		[]string{"service", "status"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "analysis_duration_seconds",
			Help:      "Analysis attempt duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	taskInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "analysis_in_flight",
			Help:      "Number of analyses currently running.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between task creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the priority queue.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "retries_total",
			Help:      "Total analysis retries scheduled.",
		},
		[]string{"service"},
	)

	registry.MustRegister(taskTotal, taskDuration, taskInFlight, queueLag, queueDepth, retriesTotal)

	return &WorkerMetrics{
		registry:     registry,
		service:      service,
		taskTotal:    taskTotal,
		taskDuration: taskDuration,
		taskInFlight: taskInFlight,
		queueLag:     queueLag,
		queueDepth:   queueDepth,
		retriesTotal: retriesTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry lets the API process expose worker and HTTP series on one endpoint.
func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) StartTask() {
	m.taskInFlight.Inc()
}

func (m *WorkerMetrics) FinishTask(duration time.Duration, err error) {
	m.taskInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.taskTotal.WithLabelValues(m.service, status).Inc()
	m.taskDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveRetry() {
	m.retriesTotal.WithLabelValues(m.service).Inc()
}

func (m *WorkerMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}
