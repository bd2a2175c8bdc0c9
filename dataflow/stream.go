package dataflow

import (
	"bytes"
	"encoding/gob"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/id"
)

// AbstractStream carries a stream's identity and endpoint bookkeeping at
// graph-build time, independent of its payload type D (spec.md §3
// "AbstractStream<D>"). The payload type itself is carried only by the
// capability attached through Graph.SetCapability (see
// streammanager.DeclareStream); AbstractStream is what gets stored in the
// compiled JobGraph and shipped to the Leader.
type AbstractStream struct {
	ID           id.StreamID
	Name         string
	TypeName     string // human-readable payload type tag, informational only
	source       *Job
	destinations []Job
	isLoop       bool

	// capability is the type-erased per-payload registration trait of
	// spec.md §9 ("Type-erased heterogeneous containers"): built by Driver
	// code at graph-construction time (the only place D is known
	// statically) and downcast by the Worker supervisor when it handles
	// ScheduleJob. It never crosses the wire: the Leader's
	// AbstractJobGraph copy carries a nil capability on every stream, and
	// has no use for one.
	capability interface{}
}

// SetCapability attaches the stream's type-erased registration trait.
func (s *AbstractStream) SetCapability(c interface{}) { s.capability = c }

// Capability returns whatever was attached by SetCapability, or nil.
func (s *AbstractStream) Capability() interface{} { return s.capability }

// newAbstractStream creates an unattached stream (no source, no
// destinations yet).
func newAbstractStream(streamID id.StreamID, name, typeName string) *AbstractStream {
	return &AbstractStream{ID: streamID, Name: name, TypeName: typeName}
}

// RegisterSource sets the stream's single source Job. It is an error to
// call this more than once (spec.md invariant: exactly one source).
func (s *AbstractStream) RegisterSource(j Job) error {
	if s.source != nil {
		return xerrors.Errorf("stream %s: source already registered as %s", s.ID, *s.source)
	}
	s.source = &j
	return nil
}

// Source returns the stream's source Job. Panics if no source has been
// registered yet; callers must only call this after graph compilation,
// which validates every stream has one.
func (s *AbstractStream) Source() Job {
	if s.source == nil {
		panic("dataflow: stream " + s.ID.String() + " has no registered source")
	}
	return *s.source
}

// HasSource reports whether a source has been registered.
func (s *AbstractStream) HasSource() bool { return s.source != nil }

// AddDestination appends a destination Job. It is an error to add the same
// Job twice (spec.md invariant: all destinations distinct).
func (s *AbstractStream) AddDestination(j Job) error {
	for _, existing := range s.destinations {
		if existing == j {
			return xerrors.Errorf("stream %s: destination %s already registered", s.ID, j)
		}
	}
	s.destinations = append(s.destinations, j)
	return nil
}

// Destinations returns the ordered list of destination Jobs.
func (s *AbstractStream) Destinations() []Job {
	out := make([]Job, len(s.destinations))
	copy(out, s.destinations)
	return out
}

// MarkLoop flags the stream as an explicit feedback (loop) stream, which
// exempts it from the JobGraph's acyclic check (spec.md §4.9 design notes,
// SPEC_FULL.md supplemented feature 3).
func (s *AbstractStream) MarkLoop() { s.isLoop = true }

// IsLoop reports whether the stream was declared as a loop stream.
func (s *AbstractStream) IsLoop() bool { return s.isLoop }

// gobAbstractStream mirrors AbstractStream with every field exported, so
// that gob.Encode/Decode (used to round-trip a SubmitGraph control message
// across the wire) does not silently drop the unexported source/
// destinations/isLoop bookkeeping.
type gobAbstractStream struct {
	ID           id.StreamID
	Name         string
	TypeName     string
	Source       *Job
	Destinations []Job
	IsLoop       bool
}

// GobEncode implements gob.GobEncoder.
func (s *AbstractStream) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(gobAbstractStream{
		ID:           s.ID,
		Name:         s.Name,
		TypeName:     s.TypeName,
		Source:       s.source,
		Destinations: s.destinations,
		IsLoop:       s.isLoop,
	})
	if err != nil {
		return nil, xerrors.Errorf("encoding abstract stream %s: %w", s.ID, err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (s *AbstractStream) GobDecode(data []byte) error {
	var g gobAbstractStream
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return xerrors.Errorf("decoding abstract stream: %w", err)
	}
	s.ID = g.ID
	s.Name = g.Name
	s.TypeName = g.TypeName
	s.source = g.Source
	s.destinations = g.Destinations
	s.isLoop = g.IsLoop
	return nil
}
