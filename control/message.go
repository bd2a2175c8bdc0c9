// Package control implements the Leader<->Worker control-plane wire
// vocabulary and framing (spec.md §4.7, §6 "Control-plane wire
// vocabulary"), transported over the same length-prefixed framing as the
// data plane (spec.md §4.1) rather than gRPC: the spec mandates a plain
// framed TCP protocol for both planes.
package control

import (
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/id"
)

// Kind tags which variant of the control vocabulary a Message carries.
type Kind uint8

const (
	// Worker -> Leader
	KindInitialized Kind = iota
	KindSubmitGraph
	KindJobReady
	KindWorkerShutdown
	// KindJobFailed is the control-plane extension reserved by spec.md
	// §4.9 ("Failure"): a Worker reports a panicked operator upward. Not
	// specified to trigger Leader recovery in this spec (spec.md §1
	// Non-goals); the Leader only logs it and counts it in
	// Metrics.JobsFailed.
	KindJobFailed

	// Leader -> Worker
	KindScheduleJob
	KindExecuteGraph
	KindLeaderShutdown
)

func (k Kind) String() string {
	switch k {
	case KindInitialized:
		return "Initialized"
	case KindSubmitGraph:
		return "SubmitGraph"
	case KindJobReady:
		return "JobReady"
	case KindJobFailed:
		return "JobFailed"
	case KindWorkerShutdown:
		return "Shutdown(worker)"
	case KindScheduleJob:
		return "ScheduleJob"
	case KindExecuteGraph:
		return "ExecuteGraph"
	case KindLeaderShutdown:
		return "Shutdown(leader)"
	default:
		return "Unknown"
	}
}

// WorkerState describes a registered Worker (spec.md §3 "WorkerState").
type WorkerState struct {
	ID            id.WorkerID
	DataPlaneAddr string
	Resources     int
}

// Initialized registers/attaches a Worker with the Leader.
type Initialized struct {
	State WorkerState
}

// SubmitGraph hands the Leader a compiled graph's wire-safe projection.
type SubmitGraph struct {
	GraphID  id.JobGraphID
	Abstract *dataflow.AbstractJobGraph
}

// JobReady announces that every stream referenced by Job has been
// materialized on the sending Worker (spec.md §4.8).
type JobReady struct {
	GraphID id.JobGraphID
	Job     dataflow.Job
}

// JobFailed reports that Job panicked during execution (spec.md §4.9
// "Failure"). Reserved control-plane extension; the Leader does not
// reschedule on receipt (spec.md §1 Non-goals).
type JobFailed struct {
	GraphID id.JobGraphID
	Job     dataflow.Job
	Reason  string
}

// ScheduleJob assigns Job to the receiving Worker, along with the
// addresses of every Worker hosting a source/destination Job of every
// stream this Job touches (spec.md §4.7).
type ScheduleJob struct {
	GraphID         id.JobGraphID
	Job             dataflow.Job
	WorkerAddresses map[dataflow.Job]string

	// TraceContext carries an injected opentracing.SpanContext (see
	// tracing.Inject/tracing.StartChildFromCarrier), letting a Worker's
	// per-Job span nest under the Leader's scheduling span. Nil when
	// tracing is disabled.
	TraceContext map[string]string
}

// ExecuteGraph signals every Job of GraphID has reported JobReady.
type ExecuteGraph struct {
	GraphID id.JobGraphID
}

// Message is the envelope carried by one control-plane frame. Exactly one
// of the pointer fields named by Kind is populated, mirroring the
// teacher's oneof-shaped MasterPayload/WorkerPayload without requiring
// protobuf oneof codegen.
type Message struct {
	Kind Kind

	Initialized  *Initialized
	SubmitGraph  *SubmitGraph
	JobReady     *JobReady
	JobFailed    *JobFailed
	ScheduleJob  *ScheduleJob
	ExecuteGraph *ExecuteGraph
}
