// Package metrics exposes Prometheus counters for the fleet plus the
// health/metrics HTTP listener. Counters are fed through a viewport bridge
// decorator so the actors stay metrics-unaware.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fleet daemon.
type Metrics struct {
	GraphsSubmitted prometheus.Counter
	GraphsCompleted prometheus.Counter
	GraphTasks      prometheus.Histogram

	TaskStatusChanges prometheus.CounterVec

	AgentsSpawned   prometheus.Counter
	AgentsDespawned prometheus.Counter

	RuntimeRuns        prometheus.Counter
	RuntimeExits       prometheus.CounterVec
	RuntimeOutputLines prometheus.Counter
}

// New creates the fleet metrics on the given registerer. Pass
// prometheus.DefaultRegisterer for the daemon, a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GraphsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "warren_graphs_submitted_total",
			Help: "Total number of task graphs accepted",
		}),
		GraphsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "warren_graphs_completed_total",
			Help: "Total number of task graphs that reached completion",
		}),
		GraphTasks: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "warren_graph_tasks",
			Help:    "Number of task nodes per completed graph, decomposition included",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128 nodes
		}),
		TaskStatusChanges: *factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warren_task_status_changes_total",
			Help: "Total task node status transitions by resulting status",
		}, []string{"status"}),
		AgentsSpawned: factory.NewCounter(prometheus.CounterOpts{
			Name: "warren_agents_spawned_total",
			Help: "Total number of agents spawned",
		}),
		AgentsDespawned: factory.NewCounter(prometheus.CounterOpts{
			Name: "warren_agents_despawned_total",
			Help: "Total number of agents terminated",
		}),
		RuntimeRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "warren_runtime_runs_total",
			Help: "Total runtime executions started",
		}),
		RuntimeExits: *factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warren_runtime_exits_total",
			Help: "Total runtime executions finished, by outcome",
		}, []string{"outcome"}),
		RuntimeOutputLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "warren_runtime_output_lines_total",
			Help: "Total runtime output lines streamed",
		}),
	}
}
