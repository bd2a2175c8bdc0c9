package control_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mkungla/flowmesh/control"
	"github.com/mkungla/flowmesh/id"
)

func TestConnExchangesMessages(t *testing.T) {
	client, server := net.Pipe()
	leaderSide := control.NewConn(server)
	workerSide := control.NewConn(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- leaderSide.HandleSendRecv(ctx) }()
	go func() { errCh <- workerSide.HandleSendRecv(ctx) }()

	wID := id.NewWorkerID()
	want := control.Message{
		Kind: control.KindInitialized,
		Initialized: &control.Initialized{
			State: control.WorkerState{ID: wID, DataPlaneAddr: "127.0.0.1:9000", Resources: 2},
		},
	}

	select {
	case workerSide.SendChan() <- want:
	case <-time.After(time.Second):
		t.Fatal("timed out sending on worker side")
	}

	select {
	case got := <-leaderSide.RecvChan():
		if got.Kind != control.KindInitialized || got.Initialized.State.ID != wID {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for leader side to receive")
	}

	leaderSide.Close(nil)
	workerSide.Close(nil)
}

func TestConnDisconnectCallbackFires(t *testing.T) {
	client, server := net.Pipe()
	leaderSide := control.NewConn(server)
	workerSide := control.NewConn(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go leaderSide.HandleSendRecv(ctx)
	go workerSide.HandleSendRecv(ctx)

	disconnected := make(chan struct{})
	leaderSide.SetDisconnectCallback(func() { close(disconnected) })

	workerSide.Close(nil)

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}
}
