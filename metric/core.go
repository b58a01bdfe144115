package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all router-level metrics (not processor-specific)
type Metrics struct {
	// Graph metrics
	GraphStatus     *prometheus.GaugeVec
	PacketsIngress  *prometheus.CounterVec
	PacketsEgress   *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	ProcessorFaults *prometheus.CounterVec

	// Link metrics
	QueueDepth    *prometheus.GaugeVec
	QueueCapacity *prometheus.GaugeVec

	// Scheduler metrics
	TaskPolls    *prometheus.CounterVec
	TaskParks    *prometheus.CounterVec
	PollDuration *prometheus.HistogramVec
	TasksLive    prometheus.Gauge
	WorkersBusy  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all router metrics
func NewMetrics() *Metrics {
	return &Metrics{
		GraphStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "routekit",
				Subsystem: "graph",
				Name:      "status",
				Help:      "Graph status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"graph"},
		),

		PacketsIngress: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routekit",
				Subsystem: "packets",
				Name:      "ingress_total",
				Help:      "Total packets accepted at ingress processors",
			},
			[]string{"processor"},
		),

		PacketsEgress: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routekit",
				Subsystem: "packets",
				Name:      "egress_total",
				Help:      "Total packets delivered by egress processors",
			},
			[]string{"processor"},
		),

		PacketsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routekit",
				Subsystem: "packets",
				Name:      "dropped_total",
				Help:      "Total packets dropped, by processor and reason",
			},
			[]string{"processor", "reason"},
		),

		ProcessorFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routekit",
				Subsystem: "processors",
				Name:      "faults_total",
				Help:      "Total isolated processor faults",
			},
			[]string{"processor"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "routekit",
				Subsystem: "links",
				Name:      "queue_depth",
				Help:      "Current number of packets queued on a link",
			},
			[]string{"link"},
		),

		QueueCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "routekit",
				Subsystem: "links",
				Name:      "queue_capacity",
				Help:      "Configured capacity of a link queue",
			},
			[]string{"link"},
		),

		TaskPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routekit",
				Subsystem: "scheduler",
				Name:      "task_polls_total",
				Help:      "Total task polls executed by the scheduler",
			},
			[]string{"task"},
		),

		TaskParks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routekit",
				Subsystem: "scheduler",
				Name:      "task_parks_total",
				Help:      "Total task suspensions, by reason (empty, full, external)",
			},
			[]string{"task", "reason"},
		),

		PollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "routekit",
				Subsystem: "scheduler",
				Name:      "poll_duration_seconds",
				Help:      "Duration of individual task polls",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
			},
			[]string{"task"},
		),

		TasksLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "routekit",
				Subsystem: "scheduler",
				Name:      "tasks_live",
				Help:      "Number of tasks that have not yet terminated",
			},
		),

		WorkersBusy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "routekit",
				Subsystem: "scheduler",
				Name:      "workers_busy",
				Help:      "Number of workers currently polling a task",
			},
		),
	}
}

// RecordGraphStatus updates graph status metric
func (m *Metrics) RecordGraphStatus(graph string, status int) {
	m.GraphStatus.WithLabelValues(graph).Set(float64(status))
}

// RecordIngress increments the ingress packet counter
func (m *Metrics) RecordIngress(processor string) {
	m.PacketsIngress.WithLabelValues(processor).Inc()
}

// RecordEgress increments the egress packet counter
func (m *Metrics) RecordEgress(processor string) {
	m.PacketsEgress.WithLabelValues(processor).Inc()
}

// RecordDrop increments the drop counter for a processor and reason
func (m *Metrics) RecordDrop(processor, reason string) {
	m.PacketsDropped.WithLabelValues(processor, reason).Inc()
}

// RecordDrops adds n drops for a processor and reason
func (m *Metrics) RecordDrops(processor, reason string, n int) {
	if n > 0 {
		m.PacketsDropped.WithLabelValues(processor, reason).Add(float64(n))
	}
}

// RecordFault increments the processor fault counter
func (m *Metrics) RecordFault(processor string) {
	m.ProcessorFaults.WithLabelValues(processor).Inc()
}

// RecordQueueDepth updates the queue depth gauge for a link
func (m *Metrics) RecordQueueDepth(link string, depth, capacity int) {
	m.QueueDepth.WithLabelValues(link).Set(float64(depth))
	m.QueueCapacity.WithLabelValues(link).Set(float64(capacity))
}

// RecordPoll records one task poll and its duration
func (m *Metrics) RecordPoll(task string, duration time.Duration) {
	m.TaskPolls.WithLabelValues(task).Inc()
	m.PollDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordPark increments the task suspension counter
func (m *Metrics) RecordPark(task, reason string) {
	m.TaskParks.WithLabelValues(task, reason).Inc()
}
