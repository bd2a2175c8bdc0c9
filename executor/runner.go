package executor

import (
	"context"

	"github.com/mkungla/flowmesh/message"
)

// SourceRunner is the user callback surface for a Source operator variant
// (spec.md §3 "AbstractOperator" variant tag; §4.9 "Sources have no
// ReadStreams; their run is invoked on a dedicated task and may produce
// messages freely"). Run is responsible for closing out, which it does by
// returning; the executor propagates Top on its behalf.
type SourceRunner[O any] interface {
	Run(ctx context.Context, out WriteStream[O]) error
}

// OperatorRunner is the single-input, no-output callback surface for a
// Sink operator variant, and doubles as the hand-authored gomock test seam
// named in SPEC_FULL.md's ambient stack (no mockgen invocation is
// available in this environment, so mocks/mock_operator_runner.go
// implements this interface by hand for a concrete instantiation).
type OperatorRunner[I any] interface {
	// OnData handles one data message at ts. Returning an error aborts
	// the owning Job (spec.md §4.9 "Failure").
	OnData(ctx context.Context, ts message.Timestamp, data I) error

	// OnWatermark observes a watermark at ts, once every data event at a
	// timestamp <= ts on this stream has completed (spec.md §4.9).
	OnWatermark(ctx context.Context, ts message.Timestamp) error
}

// OneInOneOutRunner is the callback surface for OneInOneOut/ParallelOneInOneOut.
type OneInOneOutRunner[I, O any] interface {
	OnData(ctx context.Context, ts message.Timestamp, data I, out WriteStream[O]) error
	OnWatermark(ctx context.Context, ts message.Timestamp, out WriteStream[O]) error
}

// TwoInOneOutRunner is the callback surface for TwoInOneOut/ParallelTwoInOneOut.
// OnData0/OnData1 handle the first/second read stream respectively;
// OnWatermark receives the top-level watermark formed once both input
// streams have advanced past ts (spec.md §4.9 "A top-level watermark
// across all input streams at t depends on every earlier event").
type TwoInOneOutRunner[I0, I1, O any] interface {
	OnData0(ctx context.Context, ts message.Timestamp, data I0, out WriteStream[O]) error
	OnData1(ctx context.Context, ts message.Timestamp, data I1, out WriteStream[O]) error
	OnWatermark(ctx context.Context, ts message.Timestamp, out WriteStream[O]) error
}

// OneInTwoOutRunner is the callback surface for OneInTwoOut/ParallelOneInTwoOut.
type OneInTwoOutRunner[I, O0, O1 any] interface {
	OnData(ctx context.Context, ts message.Timestamp, data I, out0 WriteStream[O0], out1 WriteStream[O1]) error
	OnWatermark(ctx context.Context, ts message.Timestamp, out0 WriteStream[O0], out1 WriteStream[O1]) error
}

// JobFailed is the control-plane extension reserved by spec.md §4.9
// ("Failure"). No executor in this package constructs it: an executor
// reports a failure, including a recovered panic (errs.ErrUserPanic), as
// the error its Run returns, and the worker supervisor turns that error
// into a control-plane JobFailed message.
type JobFailed struct {
	Err error
}
