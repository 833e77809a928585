package dispatcher

import "github.com/prometheus/client_golang/prometheus"

// metrics mirrors the teacher's pkg/consensus/prometheus.go pattern: plain
// package-level collectors, registered once via an explicit Init function,
// never from an init() side effect.
var (
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "calls_total",
			Help:      "Number of Execute/Call invocations routed to a runtime.",
		},
		[]string{"outcome"},
	)
	deploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "artifact_deploys_total",
			Help:      "Number of deploy_artifact attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	registersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "artifact_registers_total",
			Help:      "Number of register_artifact attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	instancesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "instances_running",
			Help:      "Number of service instances currently in the runtime lookup.",
		},
	)
)

// InitMetrics registers the dispatcher's Prometheus collectors. Call once,
// at node startup.
func InitMetrics() {
	prometheus.MustRegister(callsTotal, deploysTotal, registersTotal, instancesRunning)
}
