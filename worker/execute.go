package worker

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/control"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/errs"
)

// handleExecuteGraph spawns every Ready Job of msg.GraphID assigned to this
// Worker (spec.md §4.8 "ExecuteGraph(g): for every Job assigned here, call
// the JobGraph's runner factory with the shared stream-manager handle,
// producing an operator executor; spawn it").
func (s *Supervisor) handleExecuteGraph(ctx context.Context, msg *control.ExecuteGraph) {
	if msg == nil {
		return
	}
	jg, ok := s.graphs[msg.GraphID]
	if !ok {
		return
	}

	for key, rec := range s.jobs {
		if key.graphID != msg.GraphID || rec.state != JobReadyState {
			continue
		}
		s.setState(rec, JobExecuting)

		if key.job.IsDriver() {
			// The Driver Job has no operator executor: its streams are
			// consumed directly by Driver code through StreamManager(), so
			// its span (if any) ends here rather than in handleOperatorDone.
			if rec.span != nil {
				rec.span.Finish()
				rec.span = nil
			}
			continue
		}

		factory, ok := jg.Runners[key.job.Operator]
		if !ok {
			s.reportFailure(key.graphID, key.job, xerrors.Errorf("%w: operator %s has no runner factory", errs.ErrProtocol, key.job))
			continue
		}
		exec := factory(s.sm)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.JobsExecuting.Inc()
		}
		go s.runOperator(ctx, key, exec)
	}
}

// operatorDoneMsg reports an operator executor's exit back into the
// supervisor's single event loop: s.jobs is only ever touched by that
// goroutine, so the spawned executor goroutine must not write to it
// directly.
type operatorDoneMsg struct {
	key jobKey
	err error
}

func (s *Supervisor) runOperator(ctx context.Context, key jobKey, exec dataflow.OperatorExecutor) {
	err := exec.Run(ctx)
	select {
	case s.events <- operatorDoneMsg{key: key, err: err}:
	case <-ctx.Done():
	}
}

func (s *Supervisor) handleOperatorDone(e operatorDoneMsg) {
	if e.err != nil {
		s.reportFailure(e.key.graphID, e.key.job, e.err)
	}
	if rec, ok := s.jobs[e.key]; ok {
		s.setState(rec, JobShutdownState)
		if rec.span != nil {
			rec.span.Finish()
			rec.span = nil
		}
	}
}
