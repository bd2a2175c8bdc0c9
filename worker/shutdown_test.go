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

// TestShutdownBeforeExecuteGraphExitsCleanly exercises spec.md §8 scenario
// S6: a Driver calls Shutdown right after submitting a graph, racing the
// Leader's scheduling handshake so ExecuteGraph may or may not have been
// sent yet. Either way, the Worker must forward WorkerShutdown to the
// Leader, Run must return with no error (process exit code 0, spec.md
// §4.8 "Shutdown — emit Shutdown to Leader, join data plane, exit"), and
// the Leader's own Run must not hang either.
func TestShutdownBeforeExecuteGraphExitsCleanly(t *testing.T) {
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

	leaderRunErr := make(chan error, 1)
	go func() { leaderRunErr <- l.Run(ctx) }()

	sv, err := worker.New(worker.Config{LeaderAddress: leaderAddr, Resources: 1})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	workerRunErr := make(chan error, 1)
	go func() { workerRunErr <- sv.Run(ctx) }()

	g := dataflow.NewGraph("shutdown-test")
	streamID, err := streammanager.DeclareStream[int](g, "nums", "int")
	if err != nil {
		t.Fatalf("declare stream: %v", err)
	}

	sink := newCollectingSink()
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

	// No wait for readiness or execution: Shutdown races the handshake,
	// exactly as spec.md §8 S6 describes.
	if err := sv.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-workerRunErr:
		if err != nil {
			t.Fatalf("worker Run returned an error on clean shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker Run never returned after Shutdown")
	}

	cancel()
	select {
	case <-leaderRunErr:
	case <-time.After(5 * time.Second):
		t.Fatal("leader Run never returned after context cancellation")
	}
}
