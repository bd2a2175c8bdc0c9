package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/executor"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/leader"
	"github.com/mkungla/flowmesh/streammanager"
	"github.com/mkungla/flowmesh/worker"
)

// TestSourceMulticastsToTwoSinksWithoutDuplicates exercises spec.md §8
// scenario S3: one Source, one stream with two destinations, both Sinks
// scheduled on the same Worker. Each Sink must observe the full sequence
// exactly once; neither may see the other's copy or a duplicate.
func TestSourceMulticastsToTwoSinksWithoutDuplicates(t *testing.T) {
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

	g := dataflow.NewGraph("multicast-test")
	streamID, err := streammanager.DeclareStream[int](g, "nums", "int")
	if err != nil {
		t.Fatalf("declare stream: %v", err)
	}

	sinkA := newCollectingSink()
	sinkB := newCollectingSink()
	var sinkAJob, sinkBJob dataflow.Job

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

	sinkAID, err := g.AddOperator("sinkA", nil, dataflow.VariantParallelSink, []id.StreamID{streamID}, nil,
		func(h dataflow.StreamManagerHandle) dataflow.OperatorExecutor {
			sm := h.(*streammanager.StreamManager)
			recv, err := streammanager.TakeReadStream[int](sm, streamID, sinkAJob)
			if err != nil {
				panic(err)
			}
			return &executor.SinkExecutor[int]{
				Runner: sinkA,
				Read:   executor.NewReadStream[int](recv),
			}
		})
	if err != nil {
		t.Fatalf("add sinkA: %v", err)
	}
	sinkAJob = dataflow.OperatorJob(sinkAID)

	sinkBID, err := g.AddOperator("sinkB", nil, dataflow.VariantParallelSink, []id.StreamID{streamID}, nil,
		func(h dataflow.StreamManagerHandle) dataflow.OperatorExecutor {
			sm := h.(*streammanager.StreamManager)
			recv, err := streammanager.TakeReadStream[int](sm, streamID, sinkBJob)
			if err != nil {
				panic(err)
			}
			return &executor.SinkExecutor[int]{
				Runner: sinkB,
				Read:   executor.NewReadStream[int](recv),
			}
		})
	if err != nil {
		t.Fatalf("add sinkB: %v", err)
	}
	sinkBJob = dataflow.OperatorJob(sinkBID)

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

	timeout := time.After(5 * time.Second)
	for _, done := range []chan struct{}{sinkA.done, sinkB.done} {
		select {
		case <-done:
		case <-timeout:
			t.Fatal("timed out waiting for a sink to observe Top watermark")
		}
	}

	for _, sink := range []*collectingSink{sinkA, sinkB} {
		got := sink.snapshot()
		if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
			t.Fatalf("unexpected sequence: %v", got)
		}
	}
}
