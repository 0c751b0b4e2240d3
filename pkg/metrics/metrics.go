// Package metrics exposes prometheus metrics for goal tracking and the
// transport.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teslashibe/go-franka/pkg/motion"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
	transportOnce sync.Once
)

// Metrics holds Prometheus metrics for the motion supervisor. It implements
// motion.Observer.
type Metrics struct {
	TasksStarted  prometheus.Counter
	TasksFinished *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec
	ActiveTasks   prometheus.Gauge

	Searches       *prometheus.CounterVec
	SearchDuration prometheus.Histogram

	OverrunsTotal prometheus.Counter
}

var _ motion.Observer = (*Metrics)(nil)

// NewMetrics creates and registers the metrics on the default registry.
// Registration happens once per process.
//
// Metrics:
//   - franka_tasks_started_total
//   - franka_tasks_finished_total{outcome}
//   - franka_task_duration_seconds{outcome}
//   - franka_tasks_active
//   - franka_searches_total{result}
//   - franka_search_duration_seconds
//   - franka_control_overruns_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TasksStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "franka_tasks_started_total",
				Help: "Total number of goal tasks admitted",
			}),
			TasksFinished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "franka_tasks_finished_total",
					Help: "Total number of goal tasks finished",
				},
				[]string{"outcome"}, // completed, cancelled, failed
			),
			TaskDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "franka_task_duration_seconds",
					Help:    "Duration of goal tasks in seconds",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
				},
				[]string{"outcome"},
			),
			ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "franka_tasks_active",
				Help: "Number of goal tasks currently running",
			}),
			Searches: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "franka_searches_total",
					Help: "Total number of contact searches",
				},
				[]string{"result"}, // success, timeout
			),
			SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "franka_search_duration_seconds",
				Help:    "Duration of contact searches in seconds",
				Buckets: prometheus.LinearBuckets(1, 3, 11), // 1s to 31s
			}),
			OverrunsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "franka_control_overruns_total",
				Help: "Control ticks that missed their deadline",
			}),
		}
	})

	return globalMetrics
}

// TaskStarted records an admitted task.
func (m *Metrics) TaskStarted() {
	m.TasksStarted.Inc()
	m.ActiveTasks.Inc()
}

// TaskFinished records a finished task with its outcome.
func (m *Metrics) TaskFinished(outcome string, elapsed time.Duration) {
	m.ActiveTasks.Dec()
	m.TasksFinished.WithLabelValues(outcome).Inc()
	m.TaskDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// SearchFinished records a contact search.
func (m *Metrics) SearchFinished(success bool, elapsed time.Duration) {
	result := "timeout"
	if success {
		result = "success"
	}
	m.Searches.WithLabelValues(result).Inc()
	m.SearchDuration.Observe(elapsed.Seconds())
}

// Overruns adds missed control deadlines.
func (m *Metrics) Overruns(n int) {
	if n > 0 {
		m.OverrunsTotal.Add(float64(n))
	}
}

// TransportFuncs read transport counters at scrape time.
type TransportFuncs struct {
	Connected      func() bool
	MessagesSent   func() int64
	Received       func() int64
	Reconnects     func() int64
	DecodeErrors   func() int64
	GoalsPublished func() uint64
}

// RegisterTransport registers scrape-time collectors for the transport.
// Only the first call has an effect.
func RegisterTransport(f TransportFuncs) {
	transportOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "franka_transport_connected",
			Help: "1 when the transport is connected",
		}, func() float64 {
			if f.Connected != nil && f.Connected() {
				return 1
			}
			return 0
		})
		counter := func(name, help string, fn func() float64) {
			promauto.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, fn)
		}
		counter("franka_transport_messages_sent_total", "Messages published on the bus", int64Func(f.MessagesSent))
		counter("franka_transport_messages_received_total", "Messages received from the bus", int64Func(f.Received))
		counter("franka_transport_reconnects_total", "Transport reconnects", int64Func(f.Reconnects))
		counter("franka_transport_decode_errors_total", "Malformed feedback messages dropped", int64Func(f.DecodeErrors))
		counter("franka_goals_published_total", "Equilibrium poses published", func() float64 {
			if f.GoalsPublished == nil {
				return 0
			}
			return float64(f.GoalsPublished())
		})
	})
}

func int64Func(fn func() int64) func() float64 {
	return func() float64 {
		if fn == nil {
			return 0
		}
		return float64(fn())
	}
}
