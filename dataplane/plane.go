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
	"github.com/mkungla/flowmesh/internal/dialer"
)

// ErrAlreadyConnected names the case of a just-established connection that
// lost the tiebreak against an existing one for the same peer (spec.md
// §4.6). Plane does not return it: Dial and adopt close the losing
// connection and hand back the existing one instead.
var ErrAlreadyConnected = xerrors.New("flowmesh: already connected to peer, losing side of tiebreak")

// Plane is the per-Worker data plane: a listening acceptor plus the
// registry of WorkerConnections to every peer, and the ability to dial
// out when a schedule requires a peer not yet connected (spec.md §4.6
// "DataPlane"). Grounded on the teacher's master/worker connection
// bookkeeping in Chapter12/dbspgraph/worker_pool.go, generalized from a
// single Leader connection to an all-to-all peer mesh.
type Plane struct {
	SelfID id.WorkerID

	registry   *PusherRegistry
	serializer codec.Serializer
	log        *logrus.Entry
	dial       *dialer.RetryingDialer

	mu       sync.Mutex
	listener net.Listener
	conns    map[id.WorkerID]*WorkerConnection

	onPusherUpdated func(id.StreamID)
}

// Config configures a Plane.
type Config struct {
	SelfID     id.WorkerID
	Registry   *PusherRegistry
	Serializer codec.Serializer
	Dialer     *dialer.RetryingDialer
	Log        *logrus.Entry
}

// New constructs a Plane that has not yet started listening.
func New(cfg Config) *Plane {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewPusherRegistry()
	}
	return &Plane{
		SelfID:     cfg.SelfID,
		registry:   registry,
		serializer: cfg.Serializer,
		log:        log.WithField("component", "dataplane"),
		dial:       cfg.Dialer,
		conns:      make(map[id.WorkerID]*WorkerConnection),
	}
}

// Registry exposes the pusher registry so the streammanager package can
// install/look up pushers without the two packages importing each other's
// connection bookkeeping.
func (p *Plane) Registry() *PusherRegistry { return p.registry }

// SetOnPusherUpdated registers the callback applied to every
// WorkerConnection this Plane creates (spec.md §4.5 "PusherUpdated").
func (p *Plane) SetOnPusherUpdated(fn func(id.StreamID)) { p.onPusherUpdated = fn }

// Listen binds addr (may end in ":0" for an OS-assigned port) and starts
// the accept loop. Returns the bound address.
func (p *Plane) Listen(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", xerrors.Errorf("%w: binding data-plane listener: %v", errs.ErrTransport, err)
	}
	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()

	go p.acceptLoop(ctx, ln)
	return ln.Addr().String(), nil
}

func (p *Plane) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			p.log.WithError(err).Warn("data-plane accept failed")
			return
		}
		go p.handleAccept(ctx, conn)
	}
}

func (p *Plane) handleAccept(ctx context.Context, conn net.Conn) {
	peerID, err := recvEhlo(conn)
	if err != nil {
		p.log.WithError(err).Warn("rejecting inbound data-plane connection: bad ehlo")
		_ = conn.Close()
		return
	}
	if err := sendEhlo(conn, p.SelfID); err != nil {
		p.log.WithError(err).Warn("rejecting inbound data-plane connection: ehlo reply failed")
		_ = conn.Close()
		return
	}
	wc := NewWorkerConnection(conn, p.SelfID, peerID, peerID, p.registry, p.serializer, p.log)
	p.adopt(ctx, wc)
}

// Dial connects out to a peer's data-plane address and performs the Ehlo
// handshake symmetrically with handleAccept's: it sends its own id, then
// reads the peer's id back, so the caller need not already know the
// remote WorkerId (spec.md §4.6: ScheduleJob's worker_addresses map only
// carries addresses, never WorkerIds). Registers the resulting
// WorkerConnection, applying the same tiebreak an inbound accept would
// (spec.md §4.6, SPEC_FULL.md supplemented feature 1).
func (p *Plane) Dial(ctx context.Context, addr string) (*WorkerConnection, error) {
	var (
		conn net.Conn
		err  error
	)
	if p.dial != nil {
		conn, err = p.dial.Dial(ctx, "tcp", addr)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, xerrors.Errorf("%w: dialing %s: %v", errs.ErrTransport, addr, err)
	}
	if err := sendEhlo(conn, p.SelfID); err != nil {
		_ = conn.Close()
		return nil, err
	}
	peerID, err := recvEhlo(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if existing, ok := p.get(peerID); ok {
		_ = conn.Close()
		return existing, nil
	}

	wc := NewWorkerConnection(conn, p.SelfID, peerID, p.SelfID, p.registry, p.serializer, p.log)
	return p.adopt(ctx, wc), nil
}

// DialPeer is a convenience for callers (tests, mostly) that already know
// the peer's WorkerId and only want the resulting connection keyed that
// way; it still performs the full symmetric handshake and verifies the
// discovered id matches.
func (p *Plane) DialPeer(ctx context.Context, peerID id.WorkerID, addr string) (*WorkerConnection, error) {
	if existing, ok := p.get(peerID); ok {
		return existing, nil
	}
	wc, err := p.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if wc.PeerID != peerID {
		return nil, xerrors.Errorf("%w: dialed %s but peer identified itself as %s", errs.ErrProtocol, peerID, wc.PeerID)
	}
	return wc, nil
}

func (p *Plane) get(peerID id.WorkerID) (*WorkerConnection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wc, ok := p.conns[peerID]
	return wc, ok
}

// adopt registers wc, resolving the spec.md §4.6 tiebreak if a connection
// to the same peer already exists: the connection initiated by the lower
// WorkerID wins; the loser is closed without being run.
func (p *Plane) adopt(ctx context.Context, wc *WorkerConnection) *WorkerConnection {
	p.mu.Lock()
	existing, ok := p.conns[wc.PeerID]
	if !ok {
		p.conns[wc.PeerID] = wc
		p.mu.Unlock()
		p.startConn(ctx, wc)
		return wc
	}
	if wc.InitiatedBy.Less(existing.InitiatedBy) {
		p.conns[wc.PeerID] = wc
		p.mu.Unlock()
		existing.Close()
		p.startConn(ctx, wc)
		return wc
	}
	p.mu.Unlock()
	p.log.WithField("peer", wc.PeerID.String()).Info("dropping losing side of concurrent-dial tiebreak")
	wc.Close()
	return existing
}

func (p *Plane) startConn(ctx context.Context, wc *WorkerConnection) {
	wc.SetOnPusherUpdated(p.onPusherUpdated)
	wc.SetOnDisconnect(func(err error) {
		p.mu.Lock()
		if p.conns[wc.PeerID] == wc {
			delete(p.conns, wc.PeerID)
		}
		p.mu.Unlock()
	})
	go wc.Run(ctx)
}

// Connection returns the current connection to peerID, if any.
func (p *Plane) Connection(peerID id.WorkerID) (*WorkerConnection, bool) {
	return p.get(peerID)
}

// Close shuts down the listener and every peer connection.
func (p *Plane) Close() error {
	p.mu.Lock()
	if p.listener != nil {
		_ = p.listener.Close()
	}
	conns := make([]*WorkerConnection, 0, len(p.conns))
	for _, wc := range p.conns {
		conns = append(conns, wc)
	}
	p.conns = make(map[id.WorkerID]*WorkerConnection)
	p.mu.Unlock()

	for _, wc := range conns {
		wc.Close()
	}
	return nil
}
