package worker

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/control"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/streammanager"
	"github.com/mkungla/flowmesh/tracing"
)

// handleScheduleJob materializes every stream touching msg.Job, seeding
// and then draining its pending-stream set (spec.md §4.8 "ScheduleJob(g,j,
// addrs)"). Only one side of an in-thread stream ever calls
// RegisterInterThread/RegisterInterWorkerSend — the stream's source Job's
// own ScheduleJob handling does, looping over its destinations — so a
// destination Job whose source is local just marks the stream resolved
// without touching the stream manager; by the time this graph's Jobs are
// all Ready (a prerequisite for ExecuteGraph), the source side is
// guaranteed to have run too.
func (s *Supervisor) handleScheduleJob(ctx context.Context, msg *control.ScheduleJob) {
	if msg == nil {
		return
	}
	key := jobKey{graphID: msg.GraphID, job: msg.Job}
	if _, exists := s.jobs[key]; exists {
		return
	}

	jg, ok := s.graphs[msg.GraphID]
	if !ok {
		s.reportFailure(msg.GraphID, msg.Job, xerrors.Errorf("%w: graph %s not registered on this worker", errs.ErrProtocol, msg.GraphID))
		return
	}

	rec := &jobRecord{state: JobScheduled, pending: make(map[id.StreamID]struct{}), updatedAt: s.cfg.Clock.Now()}
	if s.cfg.Tracer != nil {
		rec.span = tracing.StartChildFromCarrier(s.cfg.Tracer, "worker_job", msg.TraceContext)
		rec.span.SetTag("graph_id", msg.GraphID.String())
		rec.span.SetTag("job", msg.Job.String())
	}
	s.jobs[key] = rec

	abstract := jg.Abstract()
	for _, sid := range abstract.StreamsTouchingJob(msg.Job) {
		stream, ok := jg.Streams[sid]
		if !ok {
			continue
		}
		capability, ok := stream.Capability().(streammanager.StreamCapability)
		if !ok {
			s.reportFailure(msg.GraphID, msg.Job, xerrors.Errorf("%w: stream %s has no registered capability", errs.ErrProtocol, sid))
			return
		}

		if stream.HasSource() && stream.Source() == msg.Job {
			if err := s.resolveWriteSide(ctx, capability, sid, stream.Destinations(), msg.WorkerAddresses); err != nil {
				s.reportFailure(msg.GraphID, msg.Job, err)
				return
			}
		}

		isDest := false
		for _, d := range stream.Destinations() {
			if d == msg.Job {
				isDest = true
				break
			}
		}
		if isDest {
			if err := s.resolveReadSide(ctx, key, capability, sid, stream.Source(), msg.WorkerAddresses); err != nil {
				s.reportFailure(msg.GraphID, msg.Job, err)
				return
			}
		}
	}

	if len(rec.pending) == 0 {
		s.markJobReady(key)
	}
}

// resolveWriteSide allocates this Job's outbound SendEndpoints for stream
// sid, one per destination (spec.md §4.4 operations 1/2). Always
// synchronous: no confirmation wait is required on the sending side.
func (s *Supervisor) resolveWriteSide(ctx context.Context, capability streammanager.StreamCapability, sid id.StreamID, destinations []dataflow.Job, addrs map[dataflow.Job]string) error {
	for _, dest := range destinations {
		addr := addrs[dest]
		if s.isLocal(addr) {
			if err := capability.RegisterInterThread(s.sm, sid, dest); err != nil {
				return xerrors.Errorf("registering in-thread send for stream %s: %w", sid, err)
			}
			continue
		}
		peerConn, err := s.connectPeer(ctx, addr)
		if err != nil {
			return xerrors.Errorf("dialing destination of stream %s: %w", sid, err)
		}
		if err := capability.RegisterInterWorkerSend(s.sm, sid, dest, peerConn, s.cfg.ID); err != nil {
			return xerrors.Errorf("registering inter-worker send for stream %s: %w", sid, err)
		}
	}
	return nil
}

// resolveReadSide allocates this Job's ReadStream for stream sid (spec.md
// §4.4 operations 1/3). A local source resolves immediately; a remote
// source requires the async PusherUpdated confirmation of spec.md §9
// "Pusher update ordering" before the stream counts as materialized.
func (s *Supervisor) resolveReadSide(ctx context.Context, key jobKey, capability streammanager.StreamCapability, sid id.StreamID, source dataflow.Job, addrs map[dataflow.Job]string) error {
	rec := s.jobs[key]
	rec.pending[sid] = struct{}{}

	addr := addrs[source]
	if s.isLocal(addr) {
		// The source Job's own ScheduleJob handling performs the actual
		// RegisterInterThread call; nothing to do here but resolve.
		s.markStreamResolved(key, sid)
		return nil
	}

	peerConn, err := s.connectPeer(ctx, addr)
	if err != nil {
		return xerrors.Errorf("dialing source of stream %s: %w", sid, err)
	}
	if err := capability.RegisterInterWorkerRecv(s.sm, sid, key.job, peerConn); err != nil {
		return xerrors.Errorf("registering inter-worker recv for stream %s: %w", sid, err)
	}
	s.pendingByStream[sid] = append(s.pendingByStream[sid], key)
	return nil
}

// markStreamResolved removes sid from key's pending set and, once empty,
// transitions the Job to Ready and reports JobReady to the Leader exactly
// once (spec.md §4.8 invariant, §3 "Pending-stream map").
func (s *Supervisor) markStreamResolved(key jobKey, sid id.StreamID) {
	rec, ok := s.jobs[key]
	if !ok {
		return
	}
	delete(rec.pending, sid)
	if len(rec.pending) == 0 {
		s.markJobReady(key)
	}
}

func (s *Supervisor) markJobReady(key jobKey) {
	rec, ok := s.jobs[key]
	if !ok || rec.state != JobScheduled {
		return
	}
	s.setState(rec, JobReadyState)
	s.leaderConn.SendChan() <- control.Message{
		Kind:     control.KindJobReady,
		JobReady: &control.JobReady{GraphID: key.graphID, Job: key.job},
	}
}

// handleStreamReady applies a data-plane PusherUpdated notification,
// resolving every Job waiting on sid (spec.md §4.8 "Data-plane
// notifications").
func (s *Supervisor) handleStreamReady(sid id.StreamID) {
	keys := s.pendingByStream[sid]
	delete(s.pendingByStream, sid)
	for _, key := range keys {
		s.markStreamResolved(key, sid)
	}
}

// reportFailure logs and notifies the Leader that Job cannot proceed
// (spec.md §4.9 "Failure" extension). No recovery is attempted: graph
// failure recovery is an explicit non-goal (spec.md §9 open question (c)).
func (s *Supervisor) reportFailure(graphID id.JobGraphID, job dataflow.Job, err error) {
	s.cfg.Logger.WithError(err).WithField("job", job.String()).Error("worker: job failed")
	if rec, ok := s.jobs[jobKey{graphID: graphID, job: job}]; ok && rec.span != nil {
		rec.span.SetTag("error", true)
		rec.span.LogKV("event", "error", "message", err.Error())
		rec.span.Finish()
		rec.span = nil
	}
	if s.leaderConn != nil {
		s.leaderConn.SendChan() <- control.Message{
			Kind: control.KindJobFailed,
			JobFailed: &control.JobFailed{GraphID: graphID, Job: job, Reason: err.Error()},
		}
	}
}
