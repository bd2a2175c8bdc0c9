package dataflow

import (
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/id"
)

// Graph is the mutable builder a Driver uses to describe a computation
// before compiling it to an immutable JobGraph (spec.md §2 "the Driver
// builds a Graph"). There is no hidden process-wide default graph
// (spec.md §9 "Global default graph"): callers construct one explicitly
// and thread it through their program.
type Graph struct {
	name          string
	operators     map[id.OperatorID]*AbstractOperator
	streams       map[id.StreamID]*AbstractStream
	runners       map[id.OperatorID]RunnerFactory
	streamOrdinal int
	opOrdinal     int
}

// NewGraph creates an empty, named Graph builder.
func NewGraph(name string) *Graph {
	return &Graph{
		name:      name,
		operators: make(map[id.OperatorID]*AbstractOperator),
		streams:   make(map[id.StreamID]*AbstractStream),
		runners:   make(map[id.OperatorID]RunnerFactory),
	}
}

// AddStream declares a new, as-yet-unconnected stream named typeName
// (informational: the payload type tag) and returns its id.
func (g *Graph) AddStream(name, typeName string) id.StreamID {
	sid := id.NewStreamID(g.name, g.streamOrdinal)
	g.streamOrdinal++
	g.streams[sid] = newAbstractStream(sid, name, typeName)
	return sid
}

// AddLoopStream declares a stream explicitly flagged as a feedback loop,
// exempting it from the acyclic check (SPEC_FULL.md supplemented feature 3).
func (g *Graph) AddLoopStream(name, typeName string) id.StreamID {
	sid := g.AddStream(name, typeName)
	g.streams[sid].MarkLoop()
	return sid
}

// AddIngestStream declares a stream whose source is the Driver, letting
// code outside any operator push messages directly onto it
// (SPEC_FULL.md supplemented feature 4).
func (g *Graph) AddIngestStream(name, typeName string) (id.StreamID, error) {
	sid := g.AddStream(name, typeName)
	if err := g.streams[sid].RegisterSource(DriverJob); err != nil {
		return id.StreamID{}, err
	}
	return sid, nil
}

// SetCapability attaches a type-erased stream registration trait to sid
// (spec.md §9), built by streammanager.DeclareStream. Kept on the Graph
// builder rather than folded into AddStream because a capability requires
// knowing D, and AddStream's own signature must stay D-free: dataflow must
// not import streammanager (streammanager already imports dataflow).
func (g *Graph) SetCapability(sid id.StreamID, cap interface{}) error {
	s, ok := g.streams[sid]
	if !ok {
		return xerrors.Errorf("stream %s not declared", sid)
	}
	s.SetCapability(cap)
	return nil
}

// AddOperator registers an operator with the given name, config, variant,
// reads, writes and runner factory, wiring each read/write stream's
// destination/source accordingly. Returns the operator's id.
func (g *Graph) AddOperator(
	name string,
	cfg interface{},
	variant OperatorVariant,
	reads, writes []id.StreamID,
	runner RunnerFactory,
) (id.OperatorID, error) {
	opID := id.NewOperatorID(g.name, g.opOrdinal)
	g.opOrdinal++

	op := &AbstractOperator{
		ID:           opID,
		Name:         name,
		Config:       cfg,
		ReadStreams:  append([]id.StreamID(nil), reads...),
		WriteStreams: append([]id.StreamID(nil), writes...),
		Variant:      variant,
	}
	if err := op.ValidateArity(); err != nil {
		return id.OperatorID{}, err
	}

	job := OperatorJob(opID)
	for _, sid := range reads {
		s, ok := g.streams[sid]
		if !ok {
			return id.OperatorID{}, xerrors.Errorf("operator %s: read stream %s not declared", name, sid)
		}
		if err := s.AddDestination(job); err != nil {
			return id.OperatorID{}, err
		}
	}
	for _, sid := range writes {
		s, ok := g.streams[sid]
		if !ok {
			return id.OperatorID{}, xerrors.Errorf("operator %s: write stream %s not declared", name, sid)
		}
		if err := s.RegisterSource(job); err != nil {
			return id.OperatorID{}, err
		}
	}

	g.operators[opID] = op
	if runner != nil {
		g.runners[opID] = runner
	}
	return opID, nil
}

// ConnectToDriver registers the Driver as an additional destination of
// stream sid, letting driver code consume it directly (the "extract
// stream" shape from the original implementation).
func (g *Graph) ConnectToDriver(sid id.StreamID) error {
	s, ok := g.streams[sid]
	if !ok {
		return xerrors.Errorf("stream %s not declared", sid)
	}
	return s.AddDestination(DriverJob)
}

// Compile validates the builder's accumulated operators and streams and
// freezes them into an immutable JobGraph (spec.md §3 "JobGraph").
func (g *Graph) Compile() (*JobGraph, error) {
	jg := &JobGraph{
		ID:        id.NewJobGraphID(g.name),
		Name:      g.name,
		Operators: g.operators,
		Streams:   g.streams,
		Runners:   g.runners,
	}
	if err := jg.validate(); err != nil {
		return nil, xerrors.Errorf("compiling graph %q: %w", g.name, err)
	}
	return jg, nil
}
