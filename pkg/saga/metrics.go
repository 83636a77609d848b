package saga

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics saga 引擎指标集合。
type Metrics struct {
	started      *prometheus.CounterVec
	completed    *prometheus.CounterVec
	compensating *prometheus.CounterVec
	compensated  *prometheus.CounterVec
	failed       *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewMetrics 创建并注册 saga 指标。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		started: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: "saga",
			Name: "started_total", Help: "Sagas started",
		}, []string{"saga"}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: "saga",
			Name: "completed_total", Help: "Sagas completed successfully",
		}, []string{"saga"}),
		compensating: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: "saga",
			Name: "compensating_total", Help: "Sagas entering compensation",
		}, []string{"saga"}),
		compensated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: "saga",
			Name: "compensated_total", Help: "Sagas fully compensated",
		}, []string{"saga"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore", Subsystem: "saga",
			Name: "failed_total", Help: "Sagas failed without compensation (validation)",
		}, []string{"saga"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledgercore", Subsystem: "saga",
			Name: "step_duration_seconds", Help: "Saga step execution duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"saga", "step", "success"}),
	}
}

func (m *Metrics) Started(saga string)      { m.started.WithLabelValues(saga).Inc() }
func (m *Metrics) Completed(saga string)    { m.completed.WithLabelValues(saga).Inc() }
func (m *Metrics) Compensating(saga string) { m.compensating.WithLabelValues(saga).Inc() }
func (m *Metrics) Compensated(saga string)  { m.compensated.WithLabelValues(saga).Inc() }
func (m *Metrics) Failed(saga string)       { m.failed.WithLabelValues(saga).Inc() }

func (m *Metrics) StepDuration(saga, step string, d time.Duration, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	m.stepDuration.WithLabelValues(saga, step, label).Observe(d.Seconds())
}
