package dataplane_test

import (
	"context"
	"testing"
	"time"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/codec"
	"github.com/mkungla/flowmesh/dataplane"
	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/id"
)

// TestPeerDisconnectTerminatesConnectionWithTransport exercises the
// connection-teardown half of spec.md §8 scenario S5: when one Worker's
// control/data-plane process dies mid-run, the surviving Worker's
// WorkerConnection to it must terminate with errs.ErrTransport and drop
// out of the Plane's peer registry, rather than hanging or retrying
// silently.
func TestPeerDisconnectTerminatesConnectionWithTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serializer := codec.NewGobSerializer("int")
	aID, bID := id.NewWorkerID(), id.NewWorkerID()

	planeB := dataplane.New(dataplane.Config{SelfID: bID, Serializer: serializer})
	addr, err := planeB.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer planeB.Close()

	planeA := dataplane.New(dataplane.Config{SelfID: aID, Serializer: serializer})
	if _, err := planeA.DialPeer(ctx, bID, addr); err != nil {
		t.Fatalf("dial: %v", err)
	}

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

	failed := make(chan error, 1)
	wcB.SetOnDisconnect(func(err error) { failed <- err })

	// Kill Worker A's side, simulating a crashed peer process.
	planeA.Close()

	select {
	case err := <-failed:
		if !xerrors.Is(err, errs.ErrTransport) {
			t.Fatalf("want errs.ErrTransport, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker B's connection never observed the disconnect")
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := planeB.Connection(aID); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("worker B's plane never removed the dead peer from its registry")
}
