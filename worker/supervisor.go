// Package worker implements the Worker supervisor state machine of
// spec.md §4.8: the long-lived loop that selects over Leader messages,
// Driver messages and data-plane notifications, materializing streams and
// spawning operator executors. Grounded on the teacher's worker-side
// dbspgraph.worker (Chapter12/dbspgraph/worker.go), generalized from one
// bulk-synchronous job at a time to many concurrently scheduled JobGraphs
// and rebuilt over control.Conn/dataplane.Plane instead of gRPC.
package worker

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/control"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/dataplane"
	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/metrics"
	"github.com/mkungla/flowmesh/streammanager"
)

// JobState is the per-(graph,job) state of spec.md §3 "JobState": monotonic,
// no back-edges.
type JobState uint8

const (
	JobScheduled JobState = iota
	JobReadyState
	JobExecuting
	JobShutdownState
)

func (s JobState) String() string {
	switch s {
	case JobScheduled:
		return "Scheduled"
	case JobReadyState:
		return "Ready"
	case JobExecuting:
		return "Executing"
	case JobShutdownState:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

type jobKey struct {
	graphID id.JobGraphID
	job     dataflow.Job
}

// jobRecord tracks one scheduled Job's pending-stream set and state
// (spec.md §3 "Pending-stream map").
type jobRecord struct {
	state     JobState
	pending   map[id.StreamID]struct{}
	ready     bool
	updatedAt time.Time

	// span, if tracing is configured, covers this Job from ScheduleJob
	// receipt through its operator executor's exit (spec.md §4.7/§4.8
	// extended with tracing).
	span opentracing.Span
}

// setState transitions rec to next and stamps the transition with the
// Supervisor's clock (juju/clock, defaulting to clock.WallClock), so the
// "/debug/jobs" surface can report how long a Job has sat in its current
// state.
func (s *Supervisor) setState(rec *jobRecord, next JobState) {
	rec.state = next
	rec.updatedAt = s.cfg.Clock.Now()
}

// Supervisor is the single long-lived task of spec.md §4.8. All mutable
// state below is owned exclusively by the goroutine running Run.
type Supervisor struct {
	cfg Config

	plane *dataplane.Plane
	sm    *streammanager.StreamManager

	leaderConn control.Transport
	dataAddr   string

	events chan interface{}

	mu sync.Mutex

	graphs          map[id.JobGraphID]*dataflow.JobGraph
	jobs            map[jobKey]*jobRecord
	pendingByStream map[id.StreamID][]jobKey
	connCache       map[string]*dataplane.WorkerConnection
}

// New constructs a Supervisor that has not yet dialed the Leader or
// started listening on the data plane.
func New(cfg Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("worker config validation failed: %w", err)
	}
	registry := dataplane.NewPusherRegistry()
	plane := dataplane.New(dataplane.Config{
		SelfID:     cfg.ID,
		Registry:   registry,
		Serializer: cfg.Serializer,
		Dialer:     cfg.Dialer,
		Log:        cfg.Logger,
	})
	return &Supervisor{
		cfg:             cfg,
		plane:           plane,
		sm:              streammanager.New(registry, cfg.Serializer, cfg.Logger),
		events:          make(chan interface{}, 64),
		graphs:          make(map[id.JobGraphID]*dataflow.JobGraph),
		jobs:            make(map[jobKey]*jobRecord),
		pendingByStream: make(map[id.StreamID][]jobKey),
		connCache:       make(map[string]*dataplane.WorkerConnection),
	}, nil
}

// ID returns this Worker's id.
func (s *Supervisor) ID() id.WorkerID { return s.cfg.ID }

// DataPlaneAddress returns the bound data-plane address. Only meaningful
// once Run has started.
func (s *Supervisor) DataPlaneAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataAddr
}

// Run binds the data plane, attaches to the Leader, and drives the
// supervisor's event loop until ctx is cancelled, a Leader Shutdown
// arrives, or a Driver-initiated shutdown completes. Blocks until then.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dataAddr, err := s.plane.Listen(ctx, s.cfg.DataPlaneAddress)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.dataAddr = dataAddr
	s.mu.Unlock()
	s.plane.SetOnPusherUpdated(func(sid id.StreamID) {
		select {
		case s.events <- streamReadyMsg{streamID: sid}:
		case <-ctx.Done():
		}
	})

	nc, err := net.Dial("tcp", s.cfg.LeaderAddress)
	if err != nil {
		return xerrors.Errorf("%w: worker: dialing leader at %s: %v", errs.ErrTransport, s.cfg.LeaderAddress, err)
	}
	conn := control.NewConn(nc)
	s.leaderConn = conn
	go func() { _ = conn.HandleSendRecv(ctx) }()
	conn.SetDisconnectCallback(func() {
		select {
		case s.events <- leaderDisconnectMsg{}:
		case <-ctx.Done():
		}
	})
	go s.pumpLeader(ctx, conn)

	conn.SendChan() <- control.Message{
		Kind: control.KindInitialized,
		Initialized: &control.Initialized{
			State: control.WorkerState{ID: s.cfg.ID, DataPlaneAddr: dataAddr, Resources: s.cfg.Resources},
		},
	}

	for {
		select {
		case ev := <-s.events:
			if done := s.handle(ctx, ev); done {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Supervisor) pumpLeader(ctx context.Context, conn control.Transport) {
	for {
		select {
		case m, ok := <-conn.RecvChan():
			if !ok {
				return
			}
			select {
			case s.events <- leaderMsg{msg: m}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// leaderMsg/leaderDisconnectMsg/streamReadyMsg fan Leader and data-plane
// events into the supervisor's single event loop (spec.md §4.8 "Top-level
// loop selects on three sources").
type leaderMsg struct{ msg control.Message }
type leaderDisconnectMsg struct{}
type streamReadyMsg struct{ streamID id.StreamID }

// registerGraphReq/submitGraphReq/shutdownReq are the Driver-facing
// request/response pairs: RegisterGraph, SubmitGraph and Shutdown below
// enqueue one of these and block on its done channel, letting Driver code
// call them synchronously from any goroutine while all supervisor state
// stays owned by Run's goroutine.
type registerGraphReq struct {
	jg   *dataflow.JobGraph
	done chan error
}
type submitGraphReq struct {
	graphID id.JobGraphID
	done    chan error
}
type shutdownReq struct {
	done chan error
}
type jobStatusesReq struct {
	done chan []metrics.JobStatus
}

// RegisterGraph stores jg locally so this Worker can serve ScheduleJob and
// ExecuteGraph for any of its Jobs (spec.md §4.8 "RegisterGraph(JobGraph)
// — store locally"). Every Worker that may host part of a graph must call
// this with an identical JobGraph before the graph is submitted (spec.md
// §9 "Closures as runner factories").
func (s *Supervisor) RegisterGraph(jg *dataflow.JobGraph) error {
	req := registerGraphReq{jg: jg, done: make(chan error, 1)}
	s.events <- req
	return <-req.done
}

// SubmitGraph forwards graphID's abstract projection to the Leader
// (spec.md §4.8 "SubmitGraph(JobGraphId) — forward an abstract version to
// the Leader").
func (s *Supervisor) SubmitGraph(graphID id.JobGraphID) error {
	req := submitGraphReq{graphID: graphID, done: make(chan error, 1)}
	s.events <- req
	return <-req.done
}

// Shutdown emits Shutdown to the Leader, joins the data plane, and returns
// once Run's loop has exited (spec.md §4.8 "Shutdown — emit Shutdown to
// Leader, join data plane, exit").
func (s *Supervisor) Shutdown() error {
	req := shutdownReq{done: make(chan error, 1)}
	s.events <- req
	return <-req.done
}

// JobStatuses implements metrics.JobStatusProvider, rendering this Worker's
// own view of each scheduled Job's state for the "/debug/jobs" surface. Like
// RegisterGraph/SubmitGraph/Shutdown, it is called from outside Run's
// goroutine, so it must round-trip through the event loop rather than read
// s.jobs directly.
func (s *Supervisor) JobStatuses() []metrics.JobStatus {
	req := jobStatusesReq{done: make(chan []metrics.JobStatus, 1)}
	s.events <- req
	return <-req.done
}

// StreamManager exposes the underlying stream manager so Driver code can
// take ingest/extract endpoints for the Driver Job directly (the Driver is
// not an operator executor and has no RunnerFactory of its own).
func (s *Supervisor) StreamManager() *streammanager.StreamManager { return s.sm }

func (s *Supervisor) handle(ctx context.Context, ev interface{}) (shutdown bool) {
	switch e := ev.(type) {
	case leaderMsg:
		return s.handleLeaderMessage(ctx, e.msg)
	case leaderDisconnectMsg:
		s.cfg.Logger.Warn("worker: lost control connection to leader")
		return true
	case streamReadyMsg:
		s.handleStreamReady(e.streamID)
		return false
	case operatorDoneMsg:
		s.handleOperatorDone(e)
		return false
	case registerGraphReq:
		s.graphs[e.jg.ID] = e.jg
		e.done <- nil
		return false
	case submitGraphReq:
		e.done <- s.doSubmitGraph(e.graphID)
		return false
	case shutdownReq:
		s.doShutdown()
		e.done <- nil
		return true
	case jobStatusesReq:
		rows := make([]metrics.JobStatus, 0, len(s.jobs))
		for key, rec := range s.jobs {
			rows = append(rows, metrics.JobStatus{
				GraphID:   key.graphID.String(),
				Job:       key.job.String() + "@" + s.cfg.ID.String(),
				State:     rec.state.String(),
				UpdatedAt: rec.updatedAt,
			})
		}
		e.done <- rows
		return false
	default:
		return false
	}
}

func (s *Supervisor) handleLeaderMessage(ctx context.Context, m control.Message) bool {
	switch m.Kind {
	case control.KindScheduleJob:
		s.handleScheduleJob(ctx, m.ScheduleJob)
	case control.KindExecuteGraph:
		s.handleExecuteGraph(ctx, m.ExecuteGraph)
	case control.KindLeaderShutdown:
		s.cfg.Logger.Info("worker: leader requested shutdown")
		s.doShutdown()
		return true
	}
	return false
}

func (s *Supervisor) doSubmitGraph(graphID id.JobGraphID) error {
	jg, ok := s.graphs[graphID]
	if !ok {
		return xerrors.Errorf("worker: cannot submit unregistered graph %s", graphID)
	}
	s.leaderConn.SendChan() <- control.Message{
		Kind: control.KindSubmitGraph,
		SubmitGraph: &control.SubmitGraph{
			GraphID:  graphID,
			Abstract: jg.Abstract(),
		},
	}
	return nil
}

func (s *Supervisor) doShutdown() {
	if s.leaderConn != nil {
		func() {
			defer func() { recover() }() // leaderConn may already be torn down
			s.leaderConn.SendChan() <- control.Message{Kind: control.KindWorkerShutdown}
		}()
	}
	_ = s.plane.Close()
}

// isLocal reports whether addr names this Worker's own data-plane listener
// (spec.md §4.8: "may be inter-thread if source is on this Worker").
func (s *Supervisor) isLocal(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addr == s.dataAddr
}

// connectPeer returns the (possibly cached) WorkerConnection to addr,
// dialing if this Worker has not yet connected there.
func (s *Supervisor) connectPeer(ctx context.Context, addr string) (*dataplane.WorkerConnection, error) {
	s.mu.Lock()
	wc, ok := s.connCache[addr]
	s.mu.Unlock()
	if ok {
		return wc, nil
	}
	wc, err := s.plane.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.connCache[addr] = wc
	s.mu.Unlock()
	return wc, nil
}

