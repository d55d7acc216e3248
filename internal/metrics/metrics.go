package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MonitorsProcessedTotal tracks monitors picked up by the controller trigger loop
	MonitorsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinela_monitors_processed_total",
			Help: "Total number of monitors processed by the controller trigger loop",
		},
		[]string{"status"},
	)

	// ControllerLoopDuration tracks the duration of the last controller tick
	ControllerLoopDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinela_controller_loop_duration_seconds",
			Help: "Duration of the last controller trigger loop tick",
		},
	)

	// ProceduresTotal tracks controller procedure runs
	ProceduresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinela_procedures_total",
			Help: "Total number of controller procedure runs",
		},
		[]string{"procedure", "status"},
	)

	// MessagesProcessedTotal tracks queue messages handled by executor workers
	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinela_messages_processed_total",
			Help: "Total number of queue messages processed by executor workers",
		},
		[]string{"type", "status"},
	)

	// MonitorExecutionsTotal tracks monitor routine outcomes
	MonitorExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinela_monitor_executions_total",
			Help: "Total number of monitor executions",
		},
		[]string{"monitor", "status"},
	)

	// MonitorExecutionDuration tracks how long monitor executions take
	MonitorExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinela_monitor_execution_duration_seconds",
			Help:    "Duration of monitor executions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"monitor"},
	)

	// IssuesCreatedTotal tracks issues created by search routines
	IssuesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinela_issues_created_total",
			Help: "Total number of issues created by search routines",
		},
		[]string{"monitor"},
	)

	// EventsEmittedTotal tracks emitted domain events
	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinela_events_emitted_total",
			Help: "Total number of emitted domain events",
		},
		[]string{"event"},
	)

	// QueuePendingMessages tracks messages waiting in the internal queue
	QueuePendingMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinela_queue_pending_messages",
			Help: "Number of messages waiting in the internal queue",
		},
	)

	// HeartbeatAverageTime tracks the mean interval between application heartbeats
	HeartbeatAverageTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinela_heartbeat_average_time_seconds",
			Help: "Average time between application heartbeats",
		},
	)

	// RegistryReadyTimeoutsTotal counts timeouts waiting for monitors to be ready
	RegistryReadyTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinela_registry_ready_timeouts_total",
			Help: "Count of times the application timed out waiting for monitors to be ready",
		},
	)

	// MonitorsNotRegisteredTotal counts lookups of monitors missing from the registry
	MonitorsNotRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinela_monitors_not_registered_total",
			Help: "Count of times a monitor was not registered after a load attempt",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MonitorsProcessedTotal,
		ControllerLoopDuration,
		ProceduresTotal,
		MessagesProcessedTotal,
		MonitorExecutionsTotal,
		MonitorExecutionDuration,
		IssuesCreatedTotal,
		EventsEmittedTotal,
		QueuePendingMessages,
		HeartbeatAverageTime,
		RegistryReadyTimeoutsTotal,
		MonitorsNotRegisteredTotal,
	)
}

// RecordMonitorProcessed records a controller trigger loop decision for one monitor
func RecordMonitorProcessed(status string) {
	MonitorsProcessedTotal.WithLabelValues(status).Inc()
}

// RecordProcedure records a controller procedure run
func RecordProcedure(procedure, status string) {
	ProceduresTotal.WithLabelValues(procedure, status).Inc()
}

// RecordMessageProcessed records a queue message handled by an executor worker
func RecordMessageProcessed(messageType, status string) {
	MessagesProcessedTotal.WithLabelValues(messageType, status).Inc()
}

// RecordMonitorExecution records a monitor execution outcome and its duration
func RecordMonitorExecution(monitor, status string, seconds float64) {
	MonitorExecutionsTotal.WithLabelValues(monitor, status).Inc()
	MonitorExecutionDuration.WithLabelValues(monitor).Observe(seconds)
}

// RecordIssuesCreated records issues created by a search routine
func RecordIssuesCreated(monitor string, count int) {
	IssuesCreatedTotal.WithLabelValues(monitor).Add(float64(count))
}

// RecordEventEmitted records one emitted domain event
func RecordEventEmitted(event string) {
	EventsEmittedTotal.WithLabelValues(event).Inc()
}

// SetQueuePending updates the internal queue depth gauge
func SetQueuePending(count int) {
	QueuePendingMessages.Set(float64(count))
}

// SetHeartbeatAverage updates the mean heartbeat interval gauge
func SetHeartbeatAverage(seconds float64) {
	HeartbeatAverageTime.Set(seconds)
}

// RecordRegistryReadyTimeout counts a timeout waiting for the registry to be ready
func RecordRegistryReadyTimeout() {
	RegistryReadyTimeoutsTotal.Inc()
}

// RecordMonitorNotRegistered counts a failed registry lookup after a load attempt
func RecordMonitorNotRegistered() {
	MonitorsNotRegisteredTotal.Inc()
}
