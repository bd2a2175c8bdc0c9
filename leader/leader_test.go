package leader_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mkungla/flowmesh/control"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/leader"
)

func dialWorker(t *testing.T, addr string) *control.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial leader: %v", err)
	}
	return control.NewConn(nc)
}

func recvWithin(t *testing.T, conn *control.Conn, d time.Duration) control.Message {
	t.Helper()
	select {
	case m := <-conn.RecvChan():
		return m
	case <-time.After(d):
		t.Fatal("timed out waiting for message from leader")
		return control.Message{}
	}
}

// TestLeaderSchedulesAndExecutesSingleWorkerGraph exercises the
// register -> submit -> schedule -> ready -> execute handshake of spec.md
// §4.7/§8 testable property 5/6 with a single-Worker Source->Sink graph.
func TestLeaderSchedulesAndExecutesSingleWorkerGraph(t *testing.T) {
	l, err := leader.New(leader.Config{ListenAddress: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new leader: %v", err)
	}
	addr, err := l.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	conn := dialWorker(t, addr)
	go func() { _ = conn.HandleSendRecv(ctx) }()

	workerID := id.NewWorkerID()
	conn.SendChan() <- control.Message{
		Kind: control.KindInitialized,
		Initialized: &control.Initialized{
			State: control.WorkerState{ID: workerID, DataPlaneAddr: "127.0.0.1:9999", Resources: 1},
		},
	}

	g := dataflow.NewGraph("leader-test")
	streamID := g.AddStream("out", "int")
	sourceID, err := g.AddOperator("source", nil, dataflow.VariantSource, nil, []id.StreamID{streamID}, nil)
	if err != nil {
		t.Fatalf("add source: %v", err)
	}
	sinkID, err := g.AddOperator("sink", nil, dataflow.VariantSink, []id.StreamID{streamID}, nil, nil)
	if err != nil {
		t.Fatalf("add sink: %v", err)
	}
	jg, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	conn.SendChan() <- control.Message{
		Kind: control.KindSubmitGraph,
		SubmitGraph: &control.SubmitGraph{
			GraphID:  jg.ID,
			Abstract: jg.Abstract(),
		},
	}

	sourceJob := dataflow.OperatorJob(sourceID)
	sinkJob := dataflow.OperatorJob(sinkID)
	seenSchedule := map[dataflow.Job]bool{}
	for i := 0; i < 2; i++ {
		m := recvWithin(t, conn, 2*time.Second)
		if m.Kind != control.KindScheduleJob {
			t.Fatalf("want ScheduleJob, got %s", m.Kind)
		}
		seenSchedule[m.ScheduleJob.Job] = true
	}
	if !seenSchedule[sourceJob] || !seenSchedule[sinkJob] {
		t.Fatalf("did not receive ScheduleJob for both operators: %+v", seenSchedule)
	}

	conn.SendChan() <- control.Message{Kind: control.KindJobReady, JobReady: &control.JobReady{GraphID: jg.ID, Job: sourceJob}}
	conn.SendChan() <- control.Message{Kind: control.KindJobReady, JobReady: &control.JobReady{GraphID: jg.ID, Job: sinkJob}}

	m := recvWithin(t, conn, 2*time.Second)
	if m.Kind != control.KindExecuteGraph || m.ExecuteGraph.GraphID != jg.ID {
		t.Fatalf("want ExecuteGraph(%s), got %+v", jg.ID, m)
	}
}
