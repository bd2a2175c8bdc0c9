package dialer_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/internal/dialer"
)

func TestRetryingDialerWithFakeClock(t *testing.T) {
	doneCh := make(chan struct{})
	defer close(doneCh)
	clk := testclock.NewClock(time.Now())
	go func() {
		for {
			select {
			case <-doneCh:
				return
			default:
				clk.Advance(time.Minute)
			}
		}
	}()

	// Nothing listens here; every dial attempt must fail.
	d := dialer.New(clk, net.Dial, 5, nil)
	_, err := d.Dial(context.Background(), "tcp", "127.0.0.1:1")
	if !xerrors.Is(err, dialer.ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}
}

func TestRetryingDialerAbortsOnContextCancel(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	d := dialer.New(clk, net.Dial, 31, nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Dial(ctx, "tcp", "127.0.0.1:1")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !xerrors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never observed cancellation")
	}
}
