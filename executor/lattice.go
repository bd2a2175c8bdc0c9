package executor

import (
	"sync"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/errs"
)

// gate enforces the ordering dependencies of spec.md §4.9's event lattice
// for a single operator instance:
//
//   - data events at the same timestamp are mutually independent: when the
//     operator is parallel they may be dispatched concurrently, otherwise
//     each blocks the next (spec.md §4.9, §5 "Ordering guarantees").
//   - a watermark event at t depends on every data event at a timestamp
//     <= t on the stream(s) that feed it; gate.barrier blocks until every
//     dispatched data event has completed, which is a sound (if slightly
//     conservative) way to honor that dependency given FIFO per-stream
//     delivery.
//
// A panic inside a dispatched callback is recovered and turned into an
// errs.ErrUserPanic and recorded as the gate's first failure, which
// barrier returns (spec.md §4.9 "Failure": "a panic in user code terminates that
// operator").
type gate struct {
	parallel bool
	wg       sync.WaitGroup

	mu      sync.Mutex
	failure error
}

func newGate(parallel bool) *gate {
	return &gate{parallel: parallel}
}

// dispatch runs fn, either inline (serialized operators) or on its own
// goroutine tracked by the gate's WaitGroup (parallel operators).
func (g *gate) dispatch(fn func() error) {
	if !g.parallel {
		g.run(fn)
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.run(fn)
	}()
}

func (g *gate) run(fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			g.record(xerrors.Errorf("%w: %v", errs.ErrUserPanic, r))
		}
	}()
	if err := fn(); err != nil {
		g.record(err)
	}
}

func (g *gate) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failure == nil {
		g.failure = err
	}
}

// barrier blocks until every dispatched-but-unfinished data event has
// completed, then returns the first recorded failure, if any. Called
// before forwarding a watermark (spec.md §4.9).
func (g *gate) barrier() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failure
}
