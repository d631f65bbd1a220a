package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/autograde/internal/domain"
	"github.com/timmy/autograde/internal/logger"
)

// Recorder exports grading task events as Prometheus metrics.
// It implements service.Hook.
type Recorder struct {
	registry *prometheus.Registry

	inProgress prometheus.Gauge
	finished   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	pairs      prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autograde_tasks_in_progress",
			Help: "Number of grading tasks currently held by a worker.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autograde_tasks_total",
			Help: "Total grading tasks finished by terminal status.",
		}, []string{"status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autograde_task_retries_total",
			Help: "Total scoring retries by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autograde_task_duration_seconds",
			Help:    "Wall time of a grading task including retries.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		pairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autograde_similarity_pairs",
			Help: "Number of pairs at or above the threshold in the last similarity analysis.",
		}),
	}

	registry.MustRegister(r.inProgress)
	registry.MustRegister(r.finished)
	registry.MustRegister(r.retries)
	registry.MustRegister(r.duration)
	registry.MustRegister(r.pairs)

	return r
}

// Registry returns the Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// TaskStarted records a task handed to a worker.
func (r *Recorder) TaskStarted(studentID string) {
	r.inProgress.Inc()
	logger.Debug("Metrics: task %s started", studentID)
}

// TaskRetried records a retry scheduled after a failed attempt.
func (r *Recorder) TaskRetried(studentID string, attempt int, kind domain.ErrorKind) {
	r.retries.WithLabelValues(string(kind)).Inc()
	logger.Debug("Metrics: task %s retry after attempt %d (%s)", studentID, attempt, kind)
}

// TaskFinished records the end of a task. Abandoned tasks report in_progress.
func (r *Recorder) TaskFinished(studentID string, status domain.ProgressStatus, elapsed time.Duration) {
	r.inProgress.Dec()
	r.finished.WithLabelValues(string(status)).Inc()
	r.duration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	logger.Debug("Metrics: task %s finished as %s in %s", studentID, status, elapsed)
}

// SimilarityAnalyzed records the outcome of a similarity analysis.
func (r *Recorder) SimilarityAnalyzed(pairs int) {
	r.pairs.Set(float64(pairs))
}
