package queue_test

import (
	"testing"
	"time"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/internal/queue"
)

func TestFIFOOrder(t *testing.T) {
	q := queue.New[int]()
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		got, err := q.Recv()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if got != i {
			t.Fatalf("want %d, got %d", i, got)
		}
	}
}

func TestRecvBlocksUntilEnqueue(t *testing.T) {
	q := queue.New[string]()
	done := make(chan string, 1)
	go func() {
		v, err := q.Recv()
		if err != nil {
			t.Error(err)
			return
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Enqueue("hello"); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-done:
		if v != "hello" {
			t.Fatalf("want hello, got %s", v)
		}
	case <-time.After(time.Second):
		t.Fatal("recv never unblocked")
	}
}

func TestCloseDrainsThenDisconnects(t *testing.T) {
	q := queue.New[int]()
	q.Enqueue(1)
	q.Close()

	v, err := q.Recv()
	if err != nil || v != 1 {
		t.Fatalf("expected drained item 1, got %d err=%v", v, err)
	}

	_, err = q.Recv()
	if !xerrors.Is(err, errs.ErrDisconnected) {
		t.Fatalf("want ErrDisconnected, got %v", err)
	}

	if err := q.Enqueue(2); !xerrors.Is(err, errs.ErrDisconnected) {
		t.Fatalf("enqueue after close: want ErrDisconnected, got %v", err)
	}
}
