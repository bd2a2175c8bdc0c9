// Package metrics wires flowmesh's runtime counters and gauges through
// prometheus/client_golang exactly as the teacher's ping-counter example
// does (Chapter13/prom_http/main.go), generalized from one counter to the
// handful of series a Leader/Worker process actually wants to expose.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every series flowmesh exports. Counters only ever
// increase; FramesInFlight is the one gauge. The Leader and Worker update
// JobsScheduled, JobsReady, JobsExecuting and JobsFailed. FramesSent,
// FramesReceived, PushersInstalled and FramesInFlight are registered but
// no component in this module updates them, so they stay at zero.
type Registry struct {
	FramesSent       *prometheus.CounterVec
	FramesReceived   *prometheus.CounterVec
	PushersInstalled prometheus.Counter
	JobsScheduled    prometheus.Counter
	JobsReady        prometheus.Counter
	JobsExecuting    prometheus.Counter
	JobsFailed       prometheus.Counter
	FramesInFlight   prometheus.Gauge
}

// NewRegistry registers every series with reg and returns the Registry
// wrapping them. Passing prometheus.NewRegistry() keeps test instances
// isolated from the global DefaultRegisterer; the "leader"/"worker" command
// in cmd/flowmesh passes prometheus.DefaultRegisterer instead.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "frames_sent_total",
			Help:      "Total number of data-plane frames sent, labeled by stream id.",
		}, []string{"stream"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "frames_received_total",
			Help:      "Total number of data-plane frames received, labeled by stream id.",
		}, []string{"stream"}),
		PushersInstalled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "pushers_installed_total",
			Help:      "Total number of Pushers installed on a WorkerConnection's DataReceiver.",
		}),
		JobsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "jobs_scheduled_total",
			Help:      "Total number of Jobs the Leader has assigned to a Worker.",
		}),
		JobsReady: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "jobs_ready_total",
			Help:      "Total number of JobReady reports received by the Leader.",
		}),
		JobsExecuting: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "jobs_executing_total",
			Help:      "Total number of operator executors spawned by a Worker.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "jobs_failed_total",
			Help:      "Total number of JobFailed reports received by the Leader.",
		}),
		FramesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Name:      "frames_in_flight",
			Help:      "Frames enqueued on a WorkerConnection's sender but not yet written to the wire.",
		}),
	}
}
