package dataflow

import "context"

// StreamManagerHandle is the opaque capability a RunnerFactory closure is
// given to materialize an operator's ReadStreams/WriteStreams (spec.md §9
// "Closures as runner factories"). dataflow deliberately does not know its
// concrete shape: the streammanager package produces handles satisfying it
// and the executor package consumes them. Keeping the seam untyped here
// avoids an import cycle between dataflow, streammanager and executor.
type StreamManagerHandle interface{}

// OperatorExecutor is the minimal surface the worker supervisor needs to
// drive an operator once scheduled (spec.md §4.9).
type OperatorExecutor interface {
	Run(ctx context.Context) error
}

// RunnerFactory instantiates an operator's executor given the Worker's
// stream-manager handle. It must survive the owning JobGraph being
// serialized to the Leader: the Leader only ever sees AbstractJobGraph
// (no closures); RunnerFactory stays local to the Worker that built the
// graph (spec.md §9).
type RunnerFactory func(StreamManagerHandle) OperatorExecutor
