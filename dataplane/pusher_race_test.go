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

// TestPusherUpdateRaceLosesNothingForEarlierSink exercises spec.md §8
// scenario S4: Sink A is scheduled first and starts receiving frames for
// stream s; Sink B is scheduled on the same Worker for s once data is
// already flowing. A must not lose a single frame, and B must pick up
// cleanly from the next frame after its endpoint is installed, with no
// duplicates for A.
func TestPusherUpdateRaceLosesNothingForEarlierSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serializer := codec.NewGobSerializer("int")
	streamID := id.NewStreamID("pusher-race-test", 0)
	sinkAJob := dataflow.OperatorJob(id.NewOperatorID("pusher-race-test", 1))
	sinkBJob := dataflow.OperatorJob(id.NewOperatorID("pusher-race-test", 2))

	aID, bID := id.NewWorkerID(), id.NewWorkerID()

	registryB := dataplane.NewPusherRegistry()
	planeB := dataplane.New(dataplane.Config{SelfID: bID, Registry: registryB, Serializer: serializer})
	addr, err := planeB.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer planeB.Close()

	sendEPA, recvEPA := dataplane.NewInProcessPair[int]()
	pusher := dataplane.NewPusher[int](streamID, serializer)
	if err := pusher.AddEndpoint(sinkAJob, sendEPA); err != nil {
		t.Fatalf("add endpoint A: %v", err)
	}
	registryB.GetOrCreate(streamID, func() dataplane.Pusher { return pusher })

	updated := make(chan id.StreamID, 8)
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
		t.Fatal("initial pusher install was never applied")
	}

	send := dataplane.NewInterWorkerSend[int](streamID, aID, serializer, wcA)

	// First two data items flow to A alone.
	for i := 0; i < 2; i++ {
		if err := send.Send(message.NewData(message.Timestamp{uint64(i)}, i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case got := <-drainOne(t, recvEPA):
			if got.Data != i {
				t.Fatalf("A: message %d: want data %d, got %+v", i, i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("A: message %d never arrived", i)
		}
	}

	// Sink B is scheduled mid-flight: its endpoint is appended to the
	// already-installed pusher (spec.md §4.2 "append; idempotent"), then
	// the Worker re-sends that pusher over the same InstallPusher path
	// used for a brand new pusher and waits for its acknowledgment.
	sendEPB, recvEPB := dataplane.NewInProcessPair[int]()
	if err := pusher.AddEndpoint(sinkBJob, sendEPB); err != nil {
		t.Fatalf("add endpoint B: %v", err)
	}
	wcB.NotifyPusher(dataplane.PusherUpdate{StreamID: streamID, Pusher: pusher})
	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("mid-flight pusher update was never applied")
	}

	// Remaining items flow to both A and B.
	for i := 2; i < 4; i++ {
		if err := send.Send(message.NewData(message.Timestamp{uint64(i)}, i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	for i := 2; i < 4; i++ {
		select {
		case got := <-drainOne(t, recvEPA):
			if got.Data != i {
				t.Fatalf("A: message %d: want data %d, got %+v", i, i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("A: message %d never arrived", i)
		}
	}

	for i := 2; i < 4; i++ {
		select {
		case got := <-drainOne(t, recvEPB):
			if got.Data != i {
				t.Fatalf("B: message %d: want data %d, got %+v", i, i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("B: message %d never arrived", i)
		}
	}

	select {
	case got := <-drainOne(t, recvEPB):
		t.Fatalf("B observed an unexpected extra message: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}
