package dataplane

import (
	"context"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/codec"
	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/internal/queue"
)

// PusherUpdate is an in-process notification sent to a WorkerConnection's
// DataReceiver, the "InstallPusher"/"UpdatePusher" pair of spec.md §4.5. A
// nil Pusher means UpdatePusher: re-read the shared registry. A non-nil
// Pusher means InstallPusher: adopt it directly into the snapshot.
type PusherUpdate struct {
	StreamID id.StreamID
	Pusher   Pusher
}

// WorkerConnection is the per-peer pair of long-lived tasks of spec.md
// §4.5: DataSender (drains outQueue, writes frames) and DataReceiver
// (reads frames, dispatches through the pusher registry), grounded on the
// teacher's remoteWorkerStream/remoteMasterStream
// (Chapter12/dbspgraph/stream.go) but built over a raw net.Conn instead of
// a gRPC bidi stream.
type WorkerConnection struct {
	PeerID      id.WorkerID
	InitiatedBy id.WorkerID // spec.md §4.6 tiebreak bookkeeping

	conn       net.Conn
	selfID     id.WorkerID
	registry   *PusherRegistry
	serializer codec.Serializer
	log        *logrus.Entry

	outQueue *queue.Queue[[]byte]
	updateCh chan PusherUpdate

	onPusherUpdated func(id.StreamID)
	onDisconnect    func(error)

	mu           sync.Mutex
	disconnected bool
}

// NewWorkerConnection wraps conn for peer peerID, initiated by
// initiatedBy (selfID if we dialed out, peerID if we accepted the dial).
func NewWorkerConnection(conn net.Conn, selfID, peerID, initiatedBy id.WorkerID, registry *PusherRegistry, serializer codec.Serializer, log *logrus.Entry) *WorkerConnection {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &WorkerConnection{
		PeerID:      peerID,
		InitiatedBy: initiatedBy,
		conn:        conn,
		selfID:      selfID,
		registry:    registry,
		serializer:  serializer,
		log:         log.WithField("peer", peerID.String()),
		outQueue:    queue.New[[]byte](),
		updateCh:    make(chan PusherUpdate, 16),
	}
}

// SetOnPusherUpdated registers the callback invoked every time the
// DataReceiver applies an update (spec.md §4.5 "PusherUpdated"); the
// Worker supervisor wires this to its pending-stream bookkeeping (spec.md
// §4.8 item 3).
func (c *WorkerConnection) SetOnPusherUpdated(fn func(id.StreamID)) { c.onPusherUpdated = fn }

// SetOnDisconnect registers a callback invoked once, the first time the
// connection fails (spec.md §7 "Transport"). Callbacks registered earlier
// stay in place and run first, in registration order.
func (c *WorkerConnection) SetOnDisconnect(fn func(error)) {
	prev := c.onDisconnect
	if prev == nil {
		c.onDisconnect = fn
		return
	}
	c.onDisconnect = func(err error) { prev(err); fn(err) }
}

// NotifyPusher enqueues an install/update notification for the
// DataReceiver to apply before dispatching its next frame (spec.md §4.4
// operation 3, §4.5).
func (c *WorkerConnection) NotifyPusher(u PusherUpdate) {
	c.updateCh <- u
}

// EnqueueFrame hands an already-encoded data frame to the DataSender
// task's outbound queue (used by SendEndpoint::InterWorker).
func (c *WorkerConnection) EnqueueFrame(payload []byte) error {
	return c.outQueue.Enqueue(payload)
}

// Run drives both the DataSender and DataReceiver tasks until the
// connection fails or ctx is cancelled. Blocks until both exit.
func (c *WorkerConnection) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.runSender(ctx) }()
	go func() { defer wg.Done(); c.runReceiver(ctx); cancel() }()
	wg.Wait()
}

func (c *WorkerConnection) runSender(ctx context.Context) {
	for {
		payload, err := c.outQueue.Recv()
		if err != nil {
			// errs.ErrDisconnected: our own side closed the queue (shutdown).
			return
		}
		if err := codec.WriteFrame(c.conn, payload); err != nil {
			c.fail(xerrors.Errorf("%w: writing data frame to %s: %v", errs.ErrTransport, c.PeerID, err))
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *WorkerConnection) runReceiver(ctx context.Context) {
	frameCh := make(chan []byte)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			payload, err := codec.ReadFrame(c.conn)
			if err != nil {
				readErrCh <- err
				return
			}
			select {
			case frameCh <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	snapshot := make(map[id.StreamID]Pusher)
	applyUpdate := func(u PusherUpdate) {
		if u.Pusher != nil {
			snapshot[u.StreamID] = u.Pusher
		} else if p, ok := c.registry.Get(u.StreamID); ok {
			snapshot[u.StreamID] = p
		}
		if c.onPusherUpdated != nil {
			c.onPusherUpdated(u.StreamID)
		}
	}

	for {
		select {
		case u := <-c.updateCh:
			applyUpdate(u)
		case payload := <-frameCh:
			if len(payload) == 0 {
				continue
			}
			meta, envelope, err := codec.DecodeDataFrame(payload)
			if err != nil {
				c.log.WithError(err).Warn("dropping undecodable data frame")
				continue
			}
			p, ok := snapshot[meta.StreamID]
			if !ok {
				// Race window between an UpdatePusher notification and
				// this frame (spec.md §4.2): fall back to the shared
				// registry under lock before declaring a protocol error.
				if p, ok = c.registry.Get(meta.StreamID); ok {
					snapshot[meta.StreamID] = p
				}
			}
			if !ok {
				c.fail(xerrors.Errorf("%w: frame for stream %s arrived before its pusher was installed", errs.ErrProtocol, meta.StreamID))
				return
			}
			if err := p.SendFromBytes(envelope); err != nil {
				c.log.WithError(err).Warn("pusher failed to dispatch frame")
			}
		case err := <-readErrCh:
			c.fail(xerrors.Errorf("%w: reading from %s: %v", errs.ErrTransport, c.PeerID, err))
			return
		case <-ctx.Done():
			return
		}
	}
}

// fail tears the connection down and invokes onDisconnect exactly once.
func (c *WorkerConnection) fail(err error) {
	c.mu.Lock()
	already := c.disconnected
	c.disconnected = true
	c.mu.Unlock()
	if already {
		return
	}
	c.log.WithError(err).Warn("data-plane connection failed")
	c.outQueue.Close()
	_ = c.conn.Close()
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// Close shuts the connection down cleanly (spec.md §5 "Shutdown is
// cooperative").
func (c *WorkerConnection) Close() {
	c.mu.Lock()
	already := c.disconnected
	c.disconnected = true
	c.mu.Unlock()
	if already {
		return
	}
	c.outQueue.Close()
	_ = c.conn.Close()
}
