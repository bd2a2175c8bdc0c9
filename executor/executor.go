package executor

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/message"
)

// SourceExecutor drives a Source operator: no ReadStreams, produces freely
// on a dedicated task (spec.md §4.9).
type SourceExecutor[O any] struct {
	Runner SourceRunner[O]
	Write  WriteStream[O]
}

func (e *SourceExecutor[O]) Run(ctx context.Context) error {
	err := e.Runner.Run(ctx, e.Write)
	if cerr := e.Write.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return xerrors.Errorf("source: %w", err)
	}
	return nil
}

// SinkExecutor drives a Sink/ParallelSink operator over its single
// ReadStream, dispatching OnData/OnWatermark through a gate that enforces
// spec.md §4.9's ordering (watermarks wait for every preceding data event).
type SinkExecutor[I any] struct {
	Runner   OperatorRunner[I]
	Read     ReadStream[I]
	Parallel bool
}

func (e *SinkExecutor[I]) Run(ctx context.Context) error {
	g := newGate(e.Parallel)
	for {
		m, err := e.Read.Read()
		if Closed(err) {
			return g.barrier()
		}
		if err != nil {
			_ = g.barrier()
			return xerrors.Errorf("sink: reading input: %w", err)
		}

		switch m.Kind {
		case message.KindData:
			data := m.Data
			ts := m.Timestamp
			g.dispatch(func() error { return e.Runner.OnData(ctx, ts, data) })
		case message.KindWatermark:
			if err := g.barrier(); err != nil {
				return xerrors.Errorf("sink: %w", err)
			}
			if err := e.Runner.OnWatermark(ctx, m.Timestamp); err != nil {
				return xerrors.Errorf("sink: OnWatermark(%s): %w", m.Timestamp, err)
			}
			if m.IsTop() {
				return nil
			}
		}
	}
}

// OneInOneOutExecutor drives a OneInOneOut/ParallelOneInOneOut operator.
type OneInOneOutExecutor[I, O any] struct {
	Runner   OneInOneOutRunner[I, O]
	Read     ReadStream[I]
	Write    WriteStream[O]
	Parallel bool
}

func (e *OneInOneOutExecutor[I, O]) Run(ctx context.Context) error {
	g := newGate(e.Parallel)
	for {
		m, err := e.Read.Read()
		if Closed(err) {
			berr := g.barrier()
			if cerr := e.Write.Close(); cerr != nil && berr == nil {
				berr = cerr
			}
			return berr
		}
		if err != nil {
			_ = g.barrier()
			_ = e.Write.Close()
			return xerrors.Errorf("one-in-one-out: reading input: %w", err)
		}

		switch m.Kind {
		case message.KindData:
			data := m.Data
			ts := m.Timestamp
			g.dispatch(func() error { return e.Runner.OnData(ctx, ts, data, e.Write) })
		case message.KindWatermark:
			if err := g.barrier(); err != nil {
				_ = e.Write.Close()
				return xerrors.Errorf("one-in-one-out: %w", err)
			}
			if err := e.Runner.OnWatermark(ctx, m.Timestamp, e.Write); err != nil {
				_ = e.Write.Close()
				return xerrors.Errorf("one-in-one-out: OnWatermark(%s): %w", m.Timestamp, err)
			}
			if m.IsTop() {
				return e.Write.Close()
			}
		}
	}
}

// OneInTwoOutExecutor drives a OneInTwoOut/ParallelOneInTwoOut operator.
type OneInTwoOutExecutor[I, O0, O1 any] struct {
	Runner   OneInTwoOutRunner[I, O0, O1]
	Read     ReadStream[I]
	Write0   WriteStream[O0]
	Write1   WriteStream[O1]
	Parallel bool
}

func (e *OneInTwoOutExecutor[I, O0, O1]) Run(ctx context.Context) error {
	g := newGate(e.Parallel)
	closeOuts := func() error {
		err0 := e.Write0.Close()
		err1 := e.Write1.Close()
		if err0 != nil {
			return err0
		}
		return err1
	}
	for {
		m, err := e.Read.Read()
		if Closed(err) {
			berr := g.barrier()
			if cerr := closeOuts(); cerr != nil && berr == nil {
				berr = cerr
			}
			return berr
		}
		if err != nil {
			_ = g.barrier()
			_ = closeOuts()
			return xerrors.Errorf("one-in-two-out: reading input: %w", err)
		}

		switch m.Kind {
		case message.KindData:
			data := m.Data
			ts := m.Timestamp
			g.dispatch(func() error { return e.Runner.OnData(ctx, ts, data, e.Write0, e.Write1) })
		case message.KindWatermark:
			if err := g.barrier(); err != nil {
				_ = closeOuts()
				return xerrors.Errorf("one-in-two-out: %w", err)
			}
			if err := e.Runner.OnWatermark(ctx, m.Timestamp, e.Write0, e.Write1); err != nil {
				_ = closeOuts()
				return xerrors.Errorf("one-in-two-out: OnWatermark(%s): %w", m.Timestamp, err)
			}
			if m.IsTop() {
				return closeOuts()
			}
		}
	}
}

// twoInEvent is what each of TwoInOneOutExecutor's two reader pumps feeds
// into the shared, ordered event channel: enough to drive the gate and
// watermark-merge logic below without the channel itself needing to carry
// the two streams' distinct payload types.
type twoInEvent struct {
	idx    int // 0 or 1: which ReadStream this event came from
	kind   message.Kind
	ts     message.Timestamp
	onData func() error // set only for KindData
	err    error
}

// TwoInOneOutExecutor drives a TwoInOneOut/ParallelTwoInOneOut operator.
// Its two ReadStreams are pumped concurrently; OnWatermark only fires once
// both streams have advanced past a given timestamp (spec.md §4.9:
// "A top-level watermark across all input streams at t depends on every
// earlier event").
type TwoInOneOutExecutor[I0, I1, O any] struct {
	Runner   TwoInOneOutRunner[I0, I1, O]
	Read0    ReadStream[I0]
	Read1    ReadStream[I1]
	Write    WriteStream[O]
	Parallel bool
}

func (e *TwoInOneOutExecutor[I0, I1, O]) pump(idx int, ch chan<- twoInEvent, read func() (message.Kind, message.Timestamp, func() error, error)) {
	for {
		kind, ts, onData, err := read()
		if err != nil {
			ch <- twoInEvent{idx: idx, err: err}
			return
		}
		ch <- twoInEvent{idx: idx, kind: kind, ts: ts, onData: onData}
		if kind == message.KindWatermark && message.IsTop(ts) {
			return
		}
	}
}

func (e *TwoInOneOutExecutor[I0, I1, O]) readStream0(ctx context.Context) func() (message.Kind, message.Timestamp, func() error, error) {
	return func() (message.Kind, message.Timestamp, func() error, error) {
		m, err := e.Read0.Read()
		if err != nil {
			return 0, nil, nil, err
		}
		if m.Kind == message.KindData {
			data := m.Data
			return m.Kind, m.Timestamp, func() error { return e.Runner.OnData0(ctx, m.Timestamp, data, e.Write) }, nil
		}
		return m.Kind, m.Timestamp, nil, nil
	}
}

func (e *TwoInOneOutExecutor[I0, I1, O]) readStream1(ctx context.Context) func() (message.Kind, message.Timestamp, func() error, error) {
	return func() (message.Kind, message.Timestamp, func() error, error) {
		m, err := e.Read1.Read()
		if err != nil {
			return 0, nil, nil, err
		}
		if m.Kind == message.KindData {
			data := m.Data
			return m.Kind, m.Timestamp, func() error { return e.Runner.OnData1(ctx, m.Timestamp, data, e.Write) }, nil
		}
		return m.Kind, m.Timestamp, nil, nil
	}
}

func (e *TwoInOneOutExecutor[I0, I1, O]) Run(ctx context.Context) error {
	ch := make(chan twoInEvent, 4)
	go e.pump(0, ch, e.readStream0(ctx))
	go e.pump(1, ch, e.readStream1(ctx))

	g := newGate(e.Parallel)
	var wm [2]message.Timestamp
	var forwarded message.Timestamp
	streamClosed := [2]bool{}

	fail := func(err error) error {
		_ = g.barrier()
		_ = e.Write.Close()
		return err
	}

	for !streamClosed[0] || !streamClosed[1] {
		ev := <-ch
		if ev.err != nil {
			if Closed(ev.err) {
				streamClosed[ev.idx] = true
				continue
			}
			return fail(xerrors.Errorf("two-in-one-out: reading stream %d: %w", ev.idx, ev.err))
		}

		switch ev.kind {
		case message.KindData:
			g.dispatch(ev.onData)
		case message.KindWatermark:
			if err := g.barrier(); err != nil {
				return fail(xerrors.Errorf("two-in-one-out: %w", err))
			}
			wm[ev.idx] = ev.ts
			if message.IsTop(ev.ts) {
				streamClosed[ev.idx] = true
			}
			if wm[0] == nil || wm[1] == nil {
				continue
			}
			agg := wm[0]
			if wm[1].Less(agg) {
				agg = wm[1]
			}
			if forwarded != nil && agg.LessOrEqual(forwarded) {
				continue
			}
			forwarded = agg
			if err := e.Runner.OnWatermark(ctx, agg, e.Write); err != nil {
				return fail(xerrors.Errorf("two-in-one-out: OnWatermark(%s): %w", agg, err))
			}
			if message.IsTop(agg) {
				_ = g.barrier()
				return e.Write.Close()
			}
		}
	}
	berr := g.barrier()
	if cerr := e.Write.Close(); cerr != nil && berr == nil {
		berr = cerr
	}
	return berr
}
