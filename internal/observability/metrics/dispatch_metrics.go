package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DispatchJobReasonDeadlineExceeded = "deadline_exceeded"
	DispatchJobReasonRemote           = "remote"
	DispatchJobReasonBusinessRule     = "business_rule"
	DispatchJobReasonDB               = "db"
	DispatchJobReasonUnknown          = "unknown"
)

const (
	LockResourceSendJobs = "send_jobs_for_work"
	LockResourceSequence = "sequence_counter"
)

// Config carries static labels for dispatch metrics.
type Config struct {
	ServiceName string
	Environment string
}

// DispatchMetrics captures send-queue health signals.
type DispatchMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	stateChanges   *prometheus.CounterVec
	dbLockWait     *prometheus.HistogramVec

	service string
	env     string
}

var (
	dispatchOnce sync.Once
	dispatch     *DispatchMetrics
	dispatchMu   sync.Mutex
)

// Dispatch returns the singleton dispatch metrics registry.
func Dispatch() *DispatchMetrics {
	dispatchOnce.Do(func() {
		dispatch = newDispatchMetrics(Config{ServiceName: "dte", Environment: "dev"}, prometheus.DefaultRegisterer)
	})
	return dispatch
}

// DispatchWithConfig initializes the singleton with explicit labels.
func DispatchWithConfig(cfg Config) *DispatchMetrics {
	dispatchMu.Lock()
	defer dispatchMu.Unlock()
	dispatchOnce.Do(func() {
		dispatch = newDispatchMetrics(cfg, prometheus.DefaultRegisterer)
	})
	return dispatch
}

// ResetDispatchMetricsForTest clears the singleton so tests can use a fresh registry.
func ResetDispatchMetricsForTest() {
	dispatchMu.Lock()
	defer dispatchMu.Unlock()
	dispatchOnce = sync.Once{}
	dispatch = nil
}

func newDispatchMetrics(cfg Config, reg prometheus.Registerer) *DispatchMetrics {
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"service": cfg.ServiceName, "env": cfg.Environment}
	return &DispatchMetrics{
		service: cfg.ServiceName,
		env:     cfg.Environment,
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dte_dispatch_job_runs_total",
			Help:        "Number of dispatch job executions per kind.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "dte_dispatch_job_duration_seconds",
			Help:        "Dispatch job execution duration.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"job"}),
		jobTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dte_dispatch_job_timeouts_total",
			Help:        "Dispatch jobs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dte_dispatch_job_errors_total",
			Help:        "Dispatch job errors grouped by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dte_dispatch_batch_processed_total",
			Help:        "Queue entries processed per job kind.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dte_document_state_changes_total",
			Help:        "Document lifecycle transitions.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		dbLockWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "dte_db_lock_wait_seconds",
			Help:        "Time spent waiting on row locks.",
			ConstLabels: constLabels,
			Buckets:     []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"resource"}),
	}
}

func (m *DispatchMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *DispatchMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *DispatchMetrics) IncJobTimeout(job string) {
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *DispatchMetrics) IncJobError(job string, err error) {
	m.jobErrors.WithLabelValues(job, classifyError(err)).Inc()
}

func (m *DispatchMetrics) AddBatchProcessed(job string, n int) {
	if n <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(n))
}

func (m *DispatchMetrics) IncStateChange(state string) {
	m.stateChanges.WithLabelValues(state).Inc()
}

func (m *DispatchMetrics) ObserveDBLockWait(resource string, d time.Duration) {
	m.dbLockWait.WithLabelValues(resource).Observe(d.Seconds())
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return DispatchJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return DispatchJobReasonDeadlineExceeded
	default:
		return DispatchJobReasonUnknown
	}
}
