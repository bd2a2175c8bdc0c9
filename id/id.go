// Package id defines the opaque 128-bit identifiers used to name streams,
// operators, job graphs and workers (spec.md §3 "Identifiers").
package id

import (
	"bytes"
	"strconv"

	"github.com/google/uuid"
)

// StreamID names a stream. It is content-deterministic inside one process
// run: the same (graph name, ordinal) pair always yields the same id.
type StreamID uuid.UUID

// OperatorID names an operator. Content-deterministic like StreamID.
type OperatorID uuid.UUID

// JobGraphID names a compiled JobGraph. Content-deterministic like StreamID.
type JobGraphID uuid.UUID

// WorkerID names a Worker process. The Worker supplies its own id (random
// by default, see NewWorkerID) and reports it to the Leader on attach; the
// Leader does not assign ids. It is not content-deterministic.
type WorkerID uuid.UUID

// graphNamespace roots the deterministic UUIDv5 derivations below. Using a
// fixed namespace (rather than uuid.Nil) keeps stream/operator/job-graph ids
// from colliding with identifiers minted by unrelated UUIDv5 producers.
var graphNamespace = uuid.MustParse("6f6e8b8a-6e9e-4c9b-9a8c-8d2a2f6c9b10")

func deterministic(kind, graphName string, ordinal int) uuid.UUID {
	return uuid.NewSHA1(graphNamespace, []byte(kind+":"+graphName+":"+strconv.Itoa(ordinal)))
}

// NewStreamID derives a deterministic StreamID for the ordinal-th stream
// declared while building the named graph.
func NewStreamID(graphName string, ordinal int) StreamID {
	return StreamID(deterministic("stream", graphName, ordinal))
}

// NewOperatorID derives a deterministic OperatorID for the ordinal-th
// operator declared while building the named graph.
func NewOperatorID(graphName string, ordinal int) OperatorID {
	return OperatorID(deterministic("operator", graphName, ordinal))
}

// NewJobGraphID derives a deterministic JobGraphID for the named graph.
func NewJobGraphID(graphName string) JobGraphID {
	return JobGraphID(deterministic("jobgraph", graphName, 0))
}

// NewWorkerID mints a fresh, random WorkerID. worker.Config.Validate calls
// it when a Worker is configured without an id.
func NewWorkerID() WorkerID {
	return WorkerID(uuid.New())
}

// WorkerIDFromUint32 derives a deterministic WorkerID from the operator-
// assigned --id flag (spec.md §6), so restarting a Worker process with the
// same flag reproduces the same WorkerID rather than minting a fresh random
// one. Zero is reserved for "mint a random one" (see
// worker.Config.Validate).
func WorkerIDFromUint32(n uint32) WorkerID {
	return WorkerID(uuid.NewSHA1(graphNamespace, []byte("worker:"+strconv.FormatUint(uint64(n), 10))))
}

func (s StreamID) String() string     { return uuid.UUID(s).String() }
func (o OperatorID) String() string   { return uuid.UUID(o).String() }
func (j JobGraphID) String() string   { return uuid.UUID(j).String() }
func (w WorkerID) String() string     { return uuid.UUID(w).String() }
func (s StreamID) IsZero() bool       { return s == StreamID{} }
func (o OperatorID) IsZero() bool     { return o == OperatorID{} }
func (j JobGraphID) IsZero() bool     { return j == JobGraphID{} }
func (w WorkerID) IsZero() bool       { return w == WorkerID{} }
func (s StreamID) MarshalBinary() ([]byte, error)   { u := uuid.UUID(s); return u[:], nil }
func (o OperatorID) MarshalBinary() ([]byte, error) { u := uuid.UUID(o); return u[:], nil }
func (j JobGraphID) MarshalBinary() ([]byte, error) { u := uuid.UUID(j); return u[:], nil }
func (w WorkerID) MarshalBinary() ([]byte, error)   { u := uuid.UUID(w); return u[:], nil }

func (s *StreamID) UnmarshalBinary(b []byte) error   { return unmarshal((*uuid.UUID)(s), b) }
func (o *OperatorID) UnmarshalBinary(b []byte) error { return unmarshal((*uuid.UUID)(o), b) }
func (j *JobGraphID) UnmarshalBinary(b []byte) error { return unmarshal((*uuid.UUID)(j), b) }
func (w *WorkerID) UnmarshalBinary(b []byte) error   { return unmarshal((*uuid.UUID)(w), b) }

// Less orders two WorkerIDs by their raw bytes. Used by the data plane's
// tiebreak on concurrent dials between the same pair of Workers (spec.md
// §4.6: "tiebreak on concurrent dials by keeping the connection initiated
// by the lower WorkerId").
func (w WorkerID) Less(other WorkerID) bool {
	a, b := uuid.UUID(w), uuid.UUID(other)
	return bytes.Compare(a[:], b[:]) < 0
}

func unmarshal(dst *uuid.UUID, b []byte) error {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return err
	}
	*dst = u
	return nil
}
