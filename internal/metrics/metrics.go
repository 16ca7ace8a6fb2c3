// Package metrics holds the Prometheus collectors exported by statusd.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommandsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statusd_commands_submitted_total",
		Help: "Commands accepted by the dispatcher, by kind and disposition.",
	}, []string{"kind", "disposition"})

	CommandsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statusd_commands_executed_total",
		Help: "Command executions, by kind and result (ok|failed).",
	}, []string{"kind", "result"})

	CommandsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statusd_commands_retried_total",
		Help: "Failed commands pushed onto the retry queue.",
	}, []string{"kind"})

	CommandsAbandoned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statusd_commands_abandoned_total",
		Help: "Commands dropped after exhausting their retry budget.",
	}, []string{"kind"})

	QueueFull = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statusd_queue_full_total",
		Help: "Commands dropped because a queue was at capacity.",
	}, []string{"queue"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "statusd_queue_depth",
		Help: "Current number of commands per queue.",
	}, []string{"queue"})

	ExecutorRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "statusd_executor_running",
		Help: "1 while the executor is draining the main queue.",
	})

	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statusd_command_duration_seconds",
		Help:    "Wall time of one command execution.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	NewItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statusd_new_items_total",
		Help: "Items added by timeline refreshes.",
	}, []string{"timeline"})

	Listeners = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "statusd_listeners",
		Help: "Currently registered listeners.",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommandsSubmitted, CommandsExecuted, CommandsRetried, CommandsAbandoned,
		QueueFull, QueueDepth, ExecutorRunning, ExecutionDuration,
		NewItems, Listeners,
	}
}

// Register adds every collector to reg. Collectors that are already
// registered are skipped, so Register may be called more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
