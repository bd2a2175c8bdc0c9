package leader

import (
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/control"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/tracing"
)

// handleSubmitGraph registers a newly submitted graph and immediately
// schedules it (spec.md §4.7 "SubmitGraph"). The submitting Worker is
// recorded as the host of the Driver Job (spec.md §2: "a Worker acting as
// graph submitter").
func (l *Leader) handleSubmitGraph(conn control.Transport, msg *control.SubmitGraph) {
	if msg == nil {
		return
	}
	submitterID, ok := l.connToID[conn]
	if !ok {
		l.cfg.Logger.Warn("leader: SubmitGraph from an unregistered connection, dropping")
		return
	}

	gs := &graphState{
		abstract:    msg.Abstract,
		submitter:   submitterID,
		assignments: make(map[dataflow.Job]id.WorkerID),
		ready:       make(map[dataflow.Job]struct{}),
	}
	l.graphs[msg.GraphID] = gs

	if err := l.schedule(msg.GraphID, gs); err != nil {
		l.cfg.Logger.WithError(err).WithField("graph_id", msg.GraphID.String()).Error("leader: scheduling failed")
		delete(l.graphs, msg.GraphID)
	}
}

// schedule assigns every Job in the graph to a Worker (spec.md §4.7
// "Scheduling policy") and emits ScheduleJob to each owning Worker.
// Assignments are immutable once made (spec.md §4.7): schedule is only
// ever called once per graph, from handleSubmitGraph.
func (l *Leader) schedule(graphID id.JobGraphID, gs *graphState) error {
	jobs := gs.abstract.JobsOf()

	for _, j := range jobs {
		if j.IsDriver() {
			gs.assignments[j] = gs.submitter
			continue
		}
		op, ok := gs.abstract.Operator(j)
		if !ok {
			return xerrors.Errorf("graph %s: job %s has no operator definition", graphID, j)
		}
		wID, err := l.pickWorker(op)
		if err != nil {
			return xerrors.Errorf("graph %s: %w", graphID, err)
		}
		gs.assignments[j] = wID
	}

	for _, j := range jobs {
		wID := gs.assignments[j]
		we, ok := l.workers[wID]
		if !ok {
			return xerrors.Errorf("graph %s: job %s assigned to unknown worker %s", graphID, j, wID)
		}
		addrs := l.workerAddresses(gs, j)
		var traceCtx map[string]string
		if l.cfg.Tracer != nil {
			span := l.cfg.Tracer.StartSpan("schedule_job")
			span.SetTag("graph_id", graphID.String())
			span.SetTag("job", j.String())
			span.SetTag("worker_id", wID.String())
			traceCtx = tracing.Inject(l.cfg.Tracer, span)
			span.Finish()
		}
		we.transport.SendChan() <- control.Message{
			Kind: control.KindScheduleJob,
			ScheduleJob: &control.ScheduleJob{
				GraphID:         graphID,
				Job:             j,
				WorkerAddresses: addrs,
				TraceContext:    traceCtx,
			},
		}
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.JobsScheduled.Inc()
		}
	}

	l.cfg.Logger.WithFields(logrus.Fields{
		"graph_id": graphID.String(),
		"jobs":     len(jobs),
	}).Info("leader: graph scheduled")
	return nil
}

// pickWorker implements spec.md §4.7's minimum-viable scheduling policy:
// honor an operator config's pinned Worker if present, else round-robin
// over Workers with non-zero resources, tie-broken by Worker id.
func (l *Leader) pickWorker(op *dataflow.AbstractOperator) (id.WorkerID, error) {
	if pinner, ok := op.Config.(dataflow.WorkerPinner); ok {
		if wID, pinned := pinner.PinnedWorker(); pinned {
			if _, ok := l.workers[wID]; !ok {
				return id.WorkerID{}, xerrors.Errorf("operator %s: pinned worker %s is not attached", op.Name, wID)
			}
			return wID, nil
		}
	}

	candidates := make([]*workerEntry, 0, len(l.workers))
	for _, we := range l.workers {
		if we.resources > 0 {
			candidates = append(candidates, we)
		}
	}
	if len(candidates) == 0 {
		return id.WorkerID{}, xerrors.Errorf("operator %s: no worker with available resources", op.Name)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id.Less(candidates[j].id) })

	picked := candidates[l.nextRR%len(candidates)]
	l.nextRR++
	return picked.id, nil
}

// workerAddresses resolves the data-plane address of every source and
// destination Job of every stream j touches (spec.md §4.7 "ScheduleJob").
// Every Job, the Driver's included, resolves to the data-plane address its
// hosting Worker reported on attach. A Job's own entry in the map is
// included too, which is harmless (the Worker never dials itself: a
// same-Worker stream is wired in-process by the stream manager).
func (l *Leader) workerAddresses(gs *graphState, j dataflow.Job) map[dataflow.Job]string {
	addrs := make(map[dataflow.Job]string)
	for _, sid := range gs.abstract.StreamsTouchingJob(j) {
		s := gs.abstract.Streams[sid]
		touching := append([]dataflow.Job{s.Source()}, s.Destinations()...)
		for _, tj := range touching {
			wID, ok := gs.assignments[tj]
			if !ok {
				continue
			}
			we, ok := l.workers[wID]
			if !ok {
				continue
			}
			addrs[tj] = we.addr
		}
	}
	return addrs
}

// handleJobReady marks j Ready and, once every assigned Job of the graph
// has reported Ready, emits ExecuteGraph exactly once (spec.md §4.7
// "at-most-one ExecuteGraph", testable property 6).
func (l *Leader) handleJobReady(conn control.Transport, msg *control.JobReady) {
	if msg == nil {
		return
	}
	gs, ok := l.graphs[msg.GraphID]
	if !ok {
		l.cfg.Logger.WithField("graph_id", msg.GraphID.String()).Warn("leader: JobReady for unknown graph")
		return
	}
	gs.ready[msg.Job] = struct{}{}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.JobsReady.Inc()
	}

	if gs.executed || len(gs.ready) < len(gs.assignments) {
		return
	}
	gs.executed = true

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
		we.transport.SendChan() <- control.Message{
			Kind:         control.KindExecuteGraph,
			ExecuteGraph: &control.ExecuteGraph{GraphID: msg.GraphID},
		}
	}
	l.cfg.Logger.WithField("graph_id", msg.GraphID.String()).Info("leader: all jobs ready, executing graph")
}
