package dataplane_test

import (
	"context"
	"testing"
	"time"

	"github.com/mkungla/flowmesh/codec"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/dataplane"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/message"
)

// TestPlaneDeliversFramesInOrder mirrors scenario S2 (spec.md §8): a
// source Worker sends a sequence of data and watermark frames to a sink
// Worker over one stream, which must arrive in order over the wire.
func TestPlaneDeliversFramesInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serializer := codec.NewGobSerializer("int")
	streamID := id.NewStreamID("plane-test", 0)
	sinkJob := dataflow.OperatorJob(id.NewOperatorID("plane-test", 1))

	aID, bID := id.NewWorkerID(), id.NewWorkerID()

	registryB := dataplane.NewPusherRegistry()
	planeB := dataplane.New(dataplane.Config{SelfID: bID, Registry: registryB, Serializer: serializer})
	addr, err := planeB.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer planeB.Close()

	sendEP, recvEP := dataplane.NewInProcessPair[int]()
	pusher := dataplane.NewPusher[int](streamID, serializer)
	if err := pusher.AddEndpoint(sinkJob, sendEP); err != nil {
		t.Fatalf("add endpoint: %v", err)
	}
	registryB.GetOrCreate(streamID, func() dataplane.Pusher { return pusher })

	updated := make(chan id.StreamID, 1)
	planeB.SetOnPusherUpdated(func(s id.StreamID) { updated <- s })

	planeA := dataplane.New(dataplane.Config{SelfID: aID, Serializer: serializer})
	wcA, err := planeA.DialPeer(ctx, bID, addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer planeA.Close()

	var wcB *dataplane.WorkerConnection
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if wc, ok := planeB.Connection(aID); ok {
			wcB = wc
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if wcB == nil {
		t.Fatal("worker B never observed the inbound connection")
	}

	wcB.NotifyPusher(dataplane.PusherUpdate{StreamID: streamID, Pusher: pusher})
	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("pusher update was never applied")
	}

	send := dataplane.NewInterWorkerSend[int](streamID, aID, serializer, wcA)
	want := []message.Message[int]{
		message.NewData(message.Timestamp{0}, 0),
		message.NewWatermark[int](message.Timestamp{0}),
		message.NewData(message.Timestamp{1}, 1),
		message.NewWatermark[int](message.Timestamp{1}),
		message.NewTop[int](),
	}
	for _, m := range want {
		if err := send.Send(m); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	for i, wantM := range want {
		select {
		case got := <-drainOne(t, recvEP):
			if got.Kind != wantM.Kind || got.Timestamp.Compare(wantM.Timestamp) != 0 || got.Data != wantM.Data {
				t.Fatalf("message %d: want %+v, got %+v", i, wantM, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never arrived", i)
		}
	}
}

func drainOne(t *testing.T, ep dataplane.RecvEndpoint[int]) <-chan message.Message[int] {
	t.Helper()
	ch := make(chan message.Message[int], 1)
	go func() {
		m, err := ep.Recv()
		if err != nil {
			t.Error(err)
			return
		}
		ch <- m
	}()
	return ch
}
