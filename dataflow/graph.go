package dataflow

import (
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/id"
)

// JobGraph is the immutable, compiled graph (spec.md §3 "JobGraph").
// Once Compile succeeds, operators, streams and runner factories never
// change for the lifetime of the graph.
type JobGraph struct {
	ID        id.JobGraphID
	Name      string
	Operators map[id.OperatorID]*AbstractOperator
	Streams   map[id.StreamID]*AbstractStream
	Runners   map[id.OperatorID]RunnerFactory
}

// AbstractJobGraph is the subset of JobGraph the Leader is allowed to see:
// the structure, without runner closures (spec.md §9). It is what crosses
// the control-plane wire in SubmitGraph.
type AbstractJobGraph struct {
	ID        id.JobGraphID
	Name      string
	Operators map[id.OperatorID]*AbstractOperator
	Streams   map[id.StreamID]*AbstractStream
}

// Abstract strips the runner closures, producing the wire-safe projection
// handed to the Leader.
func (g *JobGraph) Abstract() *AbstractJobGraph {
	return &AbstractJobGraph{
		ID:        g.ID,
		Name:      g.Name,
		Operators: g.Operators,
		Streams:   g.Streams,
	}
}

// Operator looks up an operator by Job, returning ok=false for the driver
// Job or an unknown operator id.
func (g *AbstractJobGraph) Operator(j Job) (*AbstractOperator, bool) {
	if j.IsDriver() {
		return nil, false
	}
	op, ok := g.Operators[j.Operator]
	return op, ok
}

// StreamsTouchingJob returns every stream id where j is the source or one
// of the destinations — the set the Leader must resolve worker addresses
// for when scheduling j (spec.md §4.7 "ScheduleJob").
func (g *AbstractJobGraph) StreamsTouchingJob(j Job) []id.StreamID {
	var out []id.StreamID
	for sid, s := range g.Streams {
		if !s.HasSource() {
			continue
		}
		if s.Source() == j {
			out = append(out, sid)
			continue
		}
		for _, d := range s.Destinations() {
			if d == j {
				out = append(out, sid)
				break
			}
		}
	}
	return out
}

// JobsOf returns every Job (operator or driver) referenced anywhere in the
// graph: every operator plus Driver if any stream touches it.
func (g *AbstractJobGraph) JobsOf() []Job {
	seen := make(map[Job]struct{})
	var out []Job
	add := func(j Job) {
		if _, ok := seen[j]; !ok {
			seen[j] = struct{}{}
			out = append(out, j)
		}
	}
	for opID := range g.Operators {
		add(OperatorJob(opID))
	}
	for _, s := range g.Streams {
		if s.HasSource() && s.Source().IsDriver() {
			add(DriverJob)
		}
		for _, d := range s.Destinations() {
			if d.IsDriver() {
				add(DriverJob)
			}
		}
	}
	return out
}

// validate checks the JobGraph invariants from spec.md §3:
//   - every stream's source and destinations reference registered
//     operators or Driver
//   - no cycle unless introduced by an explicit loop stream
//   - read/write-stream arities match operator variants
func (g *JobGraph) validate() error {
	for _, op := range g.Operators {
		if err := op.ValidateArity(); err != nil {
			return err
		}
		for _, sid := range op.ReadStreams {
			if _, ok := g.Streams[sid]; !ok {
				return xerrors.Errorf("operator %s: unknown read stream %s", op.Name, sid)
			}
		}
		for _, sid := range op.WriteStreams {
			if _, ok := g.Streams[sid]; !ok {
				return xerrors.Errorf("operator %s: unknown write stream %s", op.Name, sid)
			}
		}
	}

	for sid, s := range g.Streams {
		if !s.HasSource() {
			return xerrors.Errorf("stream %s has no source", sid)
		}
		if err := g.checkJobKnown(s.Source()); err != nil {
			return xerrors.Errorf("stream %s source: %w", sid, err)
		}
		seen := make(map[Job]struct{})
		for _, d := range s.Destinations() {
			if err := g.checkJobKnown(d); err != nil {
				return xerrors.Errorf("stream %s destination: %w", sid, err)
			}
			if _, dup := seen[d]; dup {
				return xerrors.Errorf("stream %s: duplicate destination %s", sid, d)
			}
			seen[d] = struct{}{}
		}
	}

	return g.checkAcyclic()
}

func (g *JobGraph) checkJobKnown(j Job) error {
	if j.IsDriver() {
		return nil
	}
	if _, ok := g.Operators[j.Operator]; !ok {
		return xerrors.Errorf("unknown operator %s", j.Operator)
	}
	return nil
}

// checkAcyclic walks operator->operator edges induced by non-loop streams
// and rejects any cycle. Loop streams (AbstractStream.IsLoop) are excluded
// from the graph used for the check (SPEC_FULL.md supplemented feature 3).
func (g *JobGraph) checkAcyclic() error {
	adj := make(map[id.OperatorID][]id.OperatorID)
	for _, s := range g.Streams {
		if s.IsLoop() {
			continue
		}
		src := s.Source()
		if src.IsDriver() {
			continue
		}
		for _, d := range s.Destinations() {
			if d.IsDriver() {
				continue
			}
			adj[src.Operator] = append(adj[src.Operator], d.Operator)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[id.OperatorID]int)
	var visit func(id.OperatorID) error
	visit = func(n id.OperatorID) error {
		color[n] = gray
		for _, next := range adj[n] {
			switch color[next] {
			case gray:
				return xerrors.Errorf("cycle detected at operator %s (introduce a loop stream to allow feedback)", next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[n] = black
		return nil
	}

	for opID := range g.Operators {
		if color[opID] == white {
			if err := visit(opID); err != nil {
				return err
			}
		}
	}
	return nil
}
