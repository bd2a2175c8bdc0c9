// Package leader implements the single coordinating task of spec.md §4.7
// "Leader": Worker membership, submitted job graphs, per-job scheduling
// decisions, and the readiness -> execute handshake. Grounded on the
// teacher's Master (Chapter12/dbspgraph/master.go) but generalized from a
// single bulk-synchronous job run to many concurrently scheduled
// JobGraphs, and built over control.Conn's framed TCP instead of gRPC.
package leader

import (
	"context"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/control"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/metrics"
)

// workerEntry is the Leader's membership record for one attached Worker
// (spec.md §3 "WorkerState").
type workerEntry struct {
	id        id.WorkerID
	addr      string
	resources int
	transport control.Transport
}

// graphState tracks one submitted JobGraph's scheduling and readiness
// progress (spec.md §4.7 "assignments", "ready_jobs").
type graphState struct {
	abstract    *dataflow.AbstractJobGraph
	submitter   id.WorkerID
	assignments map[dataflow.Job]id.WorkerID
	ready       map[dataflow.Job]struct{}
	executed    bool
}

// inboundMsg fans every attached Worker's control messages into the
// Leader's single event loop (spec.md §5 "task-parallel cooperative":
// the Leader is one task; connections only forward into it).
type inboundMsg struct {
	conn control.Transport
	msg  control.Message
}

type disconnectMsg struct {
	conn control.Transport
}

type jobStatusesReq struct {
	done chan []metrics.JobStatus
}

// Leader is the single task described in spec.md §4.7. All mutable state
// is owned by the goroutine running Run; Start's accept loop and each
// connection's receive loop only ever send into events.
type Leader struct {
	cfg Config

	events chan interface{}

	mu       sync.Mutex
	listener net.Listener

	// Owned exclusively by Run's goroutine once started.
	workers     map[id.WorkerID]*workerEntry
	connToID    map[control.Transport]id.WorkerID
	nextRR      int
	graphs      map[id.JobGraphID]*graphState
	graphByName map[string]id.JobGraphID
}

// New constructs a Leader that has not yet started listening.
func New(cfg Config) (*Leader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("leader config validation failed: %w", err)
	}
	return &Leader{
		cfg:         cfg,
		events:      make(chan interface{}, 64),
		workers:     make(map[id.WorkerID]*workerEntry),
		connToID:    make(map[control.Transport]id.WorkerID),
		graphs:      make(map[id.JobGraphID]*graphState),
		graphByName: make(map[string]id.JobGraphID),
	}, nil
}

// Start binds the control-plane listener and begins accepting Worker
// connections. Non-blocking; call Run to drive the event loop.
func (l *Leader) Start() (string, error) {
	ln, err := net.Listen("tcp", l.cfg.ListenAddress)
	if err != nil {
		return "", xerrors.Errorf("%w: leader: binding control listener: %v", errs.ErrTransport, err)
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
	return ln.Addr().String(), nil
}

// Run drives the accept loop and the single-goroutine event loop until ctx
// is cancelled or Close is called. Blocks until then.
func (l *Leader) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return xerrors.Errorf("leader: Run called before Start")
	}

	go l.acceptLoop(ctx, ln)

	for {
		select {
		case ev := <-l.events:
			l.handle(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Leader) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.cfg.Logger.WithError(err).Warn("leader: accept failed")
			return
		}
		conn := control.NewConn(nc)
		go func() { _ = conn.HandleSendRecv(ctx) }()
		conn.SetDisconnectCallback(func() {
			select {
			case l.events <- disconnectMsg{conn: conn}:
			case <-ctx.Done():
			}
		})
		go l.pump(ctx, conn)
	}
}

func (l *Leader) pump(ctx context.Context, conn control.Transport) {
	for {
		select {
		case m, ok := <-conn.RecvChan():
			if !ok {
				return
			}
			select {
			case l.events <- inboundMsg{conn: conn, msg: m}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (l *Leader) handle(ev interface{}) {
	switch e := ev.(type) {
	case inboundMsg:
		l.handleMessage(e.conn, e.msg)
	case disconnectMsg:
		l.handleDisconnect(e.conn)
	case jobStatusesReq:
		e.done <- l.jobStatuses()
	}
}

func (l *Leader) handleMessage(conn control.Transport, m control.Message) {
	switch m.Kind {
	case control.KindInitialized:
		l.handleInitialized(conn, m.Initialized)
	case control.KindSubmitGraph:
		l.handleSubmitGraph(conn, m.SubmitGraph)
	case control.KindJobReady:
		l.handleJobReady(conn, m.JobReady)
	case control.KindJobFailed:
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.JobsFailed.Inc()
		}
		l.cfg.Logger.WithFields(logrus.Fields{
			"graph_id": m.JobFailed.GraphID,
			"job":      m.JobFailed.Job,
		}).Warn("worker reported job failure")
	case control.KindWorkerShutdown:
		l.handleDisconnect(conn)
	}
}

func (l *Leader) handleInitialized(conn control.Transport, msg *control.Initialized) {
	if msg == nil {
		return
	}
	we := &workerEntry{
		id:        msg.State.ID,
		addr:      msg.State.DataPlaneAddr,
		resources: msg.State.Resources,
		transport: conn,
	}
	l.workers[we.id] = we
	l.connToID[conn] = we.id
	l.cfg.Logger.WithFields(logrus.Fields{
		"worker_id": we.id.String(),
		"addr":      we.addr,
	}).Info("worker attached")
}

func (l *Leader) handleDisconnect(conn control.Transport) {
	workerID, ok := l.connToID[conn]
	if !ok {
		return
	}
	delete(l.connToID, conn)
	delete(l.workers, workerID)
	l.cfg.Logger.WithField("worker_id", workerID.String()).Warn("worker control connection lost")

	// spec.md §4.7 "Failure semantics": the Leader abandons every graph
	// with a Job assigned to this Worker and broadcasts Shutdown for it
	// to the remaining Workers (no rescheduling in this spec).
	for graphID, gs := range l.graphs {
		affected := false
		for _, assigned := range gs.assignments {
			if assigned == workerID {
				affected = true
				break
			}
		}
		if !affected {
			continue
		}
		l.cfg.Logger.WithField("graph_id", graphID.String()).Warn("abandoning graph after worker loss")
		l.broadcastShutdown(graphID, gs)
		delete(l.graphs, graphID)
	}
}

func (l *Leader) broadcastShutdown(graphID id.JobGraphID, gs *graphState) {
	sent := make(map[id.WorkerID]struct{})
	for _, wID := range gs.assignments {
		if _, done := sent[wID]; done {
			continue
		}
		sent[wID] = struct{}{}
		we, ok := l.workers[wID]
		if !ok {
			continue
		}
		we.transport.SendChan() <- control.Message{Kind: control.KindLeaderShutdown}
	}
}

// JobStatuses implements metrics.JobStatusProvider, rendering each tracked
// graph's per-Job assignment/readiness state for the "/debug/jobs" surface.
// Called from outside Run's goroutine, so it round-trips through the event
// loop rather than reading l.graphs directly.
func (l *Leader) JobStatuses() []metrics.JobStatus {
	req := jobStatusesReq{done: make(chan []metrics.JobStatus, 1)}
	l.events <- req
	return <-req.done
}

func (l *Leader) jobStatuses() []metrics.JobStatus {
	var rows []metrics.JobStatus
	for graphID, gs := range l.graphs {
		for job, wID := range gs.assignments {
			state := "Scheduled"
			if _, ready := gs.ready[job]; ready {
				state = "Ready"
			}
			if gs.executed {
				state = "Executing"
			}
			rows = append(rows, metrics.JobStatus{
				GraphID: graphID.String(),
				Job:     job.String() + "@" + wID.String(),
				State:   state,
			})
		}
	}
	return rows
}

// Close shuts down the listener. It does not close the transports of
// Workers that are already attached.
func (l *Leader) Close() error {
	l.mu.Lock()
	ln := l.listener
	l.listener = nil
	l.mu.Unlock()

	var result error
	if ln != nil {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
