package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/executor"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/leader"
	"github.com/mkungla/flowmesh/message"
	"github.com/mkungla/flowmesh/streammanager"
	"github.com/mkungla/flowmesh/worker"
)

// countingSource implements executor.SourceRunner[int], emitting 0..n-1 each
// under its own watermark before closing (mirrors scenario S1, spec.md §8).
type countingSource struct{ n int }

func (s countingSource) Run(_ context.Context, out executor.WriteStream[int]) error {
	for i := 0; i < s.n; i++ {
		ts := message.Timestamp{uint64(i)}
		if err := out.EmitData(ts, i); err != nil {
			return err
		}
		if err := out.EmitWatermark(ts); err != nil {
			return err
		}
	}
	return nil
}

// collectingSink implements executor.OperatorRunner[int], recording every
// value it observes.
type collectingSink struct {
	mu   sync.Mutex
	got  []int
	done chan struct{}
}

func newCollectingSink() *collectingSink {
	return &collectingSink{done: make(chan struct{})}
}

func (s *collectingSink) OnData(_ context.Context, _ message.Timestamp, data int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, data)
	return nil
}

func (s *collectingSink) OnWatermark(_ context.Context, ts message.Timestamp) error {
	if message.IsTop(ts) {
		close(s.done)
	}
	return nil
}

func (s *collectingSink) snapshot() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.got))
	copy(out, s.got)
	return out
}

// TestSingleWorkerSourceSinkGraphRunsEndToEnd exercises the full
// register/submit/schedule/ready/execute handshake between a real Leader and
// a single worker.Supervisor over an in-thread stream (spec.md §8 scenario
// S1), checking that data produced by the Source operator reaches the Sink
// in order.
func TestSingleWorkerSourceSinkGraphRunsEndToEnd(t *testing.T) {
	l, err := leader.New(leader.Config{ListenAddress: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new leader: %v", err)
	}
	leaderAddr, err := l.Start()
	if err != nil {
		t.Fatalf("start leader: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	sv, err := worker.New(worker.Config{LeaderAddress: leaderAddr, Resources: 1})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	go func() { _ = sv.Run(ctx) }()

	g := dataflow.NewGraph("worker-test")
	streamID, err := streammanager.DeclareStream[int](g, "nums", "int")
	if err != nil {
		t.Fatalf("declare stream: %v", err)
	}

	sink := newCollectingSink()

	// sinkJob is not known until AddOperator("sink", ...) returns, but the
	// sink's own RunnerFactory closure (below) needs it to take the right
	// ReadStream. The closure only runs once ExecuteGraph arrives, long
	// after sinkJob is assigned, so capturing it by reference is safe.
	var sinkJob dataflow.Job

	_, err = g.AddOperator("source", nil, dataflow.VariantSource, nil, []id.StreamID{streamID},
		func(h dataflow.StreamManagerHandle) dataflow.OperatorExecutor {
			sm := h.(*streammanager.StreamManager)
			sends, err := streammanager.TakeSendEndpoints[int](sm, streamID)
			if err != nil {
				panic(err)
			}
			return &executor.SourceExecutor[int]{
				Runner: countingSource{n: 3},
				Write:  executor.NewWriteStream[int](sends),
			}
		})
	if err != nil {
		t.Fatalf("add source: %v", err)
	}

	sinkID, err := g.AddOperator("sink", nil, dataflow.VariantSink, []id.StreamID{streamID}, nil,
		func(h dataflow.StreamManagerHandle) dataflow.OperatorExecutor {
			sm := h.(*streammanager.StreamManager)
			recv, err := streammanager.TakeReadStream[int](sm, streamID, sinkJob)
			if err != nil {
				panic(err)
			}
			return &executor.SinkExecutor[int]{
				Runner: sink,
				Read:   executor.NewReadStream[int](recv),
			}
		})
	if err != nil {
		t.Fatalf("add sink: %v", err)
	}
	sinkJob = dataflow.OperatorJob(sinkID)

	jg, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if err := sv.RegisterGraph(jg); err != nil {
		t.Fatalf("register graph: %v", err)
	}
	if err := sv.SubmitGraph(jg.ID); err != nil {
		t.Fatalf("submit graph: %v", err)
	}

	select {
	case <-sink.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sink to observe Top watermark")
	}

	got := sink.snapshot()
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("unexpected sequence: %v", got)
	}
}
