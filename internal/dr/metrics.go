package dr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the DR engine
type Metrics struct {
	FailoverCounter *prometheus.CounterVec
	RecoveryCounter *prometheus.CounterVec
	BackupCounter   *prometheus.CounterVec
	PlanTestCounter *prometheus.CounterVec
	PlanGauge       prometheus.Gauge
	JobGauge        prometheus.Gauge
	EventDuration   *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		FailoverCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "continuity_failovers_total",
				Help: "Total number of failover executions",
			},
			[]string{"status"},
		),
		RecoveryCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "continuity_recoveries_total",
				Help: "Total number of recovery executions",
			},
			[]string{"status"},
		),
		BackupCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "continuity_backups_total",
				Help: "Total number of backups by outcome",
			},
			[]string{"status"},
		),
		PlanTestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "continuity_plan_tests_total",
				Help: "Total number of plan dry runs",
			},
			[]string{"result"},
		),
		PlanGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "continuity_recovery_plans",
				Help: "Number of registered recovery plans",
			},
		),
		JobGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "continuity_backup_jobs",
				Help: "Number of scheduled backup jobs",
			},
		),
		EventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "continuity_event_duration_seconds",
				Help:    "Workflow execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"kind"},
		),
		registry: registry,
	}

	registry.MustRegister(m.FailoverCounter)
	registry.MustRegister(m.RecoveryCounter)
	registry.MustRegister(m.BackupCounter)
	registry.MustRegister(m.PlanTestCounter)
	registry.MustRegister(m.PlanGauge)
	registry.MustRegister(m.JobGauge)
	registry.MustRegister(m.EventDuration)

	return m
}

// Registry exposes the private registry for the metrics endpoint
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFailover records a failover outcome and duration
func (m *Metrics) RecordFailover(status string, d time.Duration) {
	m.FailoverCounter.WithLabelValues(status).Inc()
	m.EventDuration.WithLabelValues("failover").Observe(d.Seconds())
}

// RecordRecovery records a recovery outcome and duration
func (m *Metrics) RecordRecovery(status string, d time.Duration) {
	m.RecoveryCounter.WithLabelValues(status).Inc()
	m.EventDuration.WithLabelValues("recovery").Observe(d.Seconds())
}

// RecordBackup records a backup outcome
func (m *Metrics) RecordBackup(status string) {
	m.BackupCounter.WithLabelValues(status).Inc()
}

// RecordPlanTest records a dry-run result
func (m *Metrics) RecordPlanTest(passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	m.PlanTestCounter.WithLabelValues(result).Inc()
}

// SetGauges updates the plan and job gauges
func (m *Metrics) SetGauges(plans, jobs int) {
	m.PlanGauge.Set(float64(plans))
	m.JobGauge.Set(float64(jobs))
}
