package dataflow

import (
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/id"
)

// OperatorVariant is the arity/shape tag for an AbstractOperator (spec.md
// §3 "AbstractOperator"), mirroring the teacher's AbstractOperatorType.
type OperatorVariant uint8

const (
	VariantSource OperatorVariant = iota
	VariantSink
	VariantOneInOneOut
	VariantTwoInOneOut
	VariantOneInTwoOut
	VariantParallelSink
	VariantParallelOneInOneOut
	VariantParallelTwoInOneOut
	VariantParallelOneInTwoOut
)

// IsParallel reports whether the variant is one of the "Parallel"
// counterparts (spec.md §3), which permits the executor to dispatch
// same-timestamp data events concurrently (spec.md §4.9).
func (v OperatorVariant) IsParallel() bool {
	switch v {
	case VariantParallelSink, VariantParallelOneInOneOut, VariantParallelTwoInOneOut, VariantParallelOneInTwoOut:
		return true
	default:
		return false
	}
}

// arity returns the expected (reads, writes) stream counts for the variant.
func (v OperatorVariant) arity() (reads, writes int) {
	switch v {
	case VariantSource:
		return 0, 1
	case VariantSink, VariantParallelSink:
		return 1, 0
	case VariantOneInOneOut, VariantParallelOneInOneOut:
		return 1, 1
	case VariantTwoInOneOut, VariantParallelTwoInOneOut:
		return 2, 1
	case VariantOneInTwoOut, VariantParallelOneInTwoOut:
		return 1, 2
	default:
		return -1, -1
	}
}

// WorkerPinner is implemented by an operator's Config value when it wants
// to pin that operator to a specific Worker rather than leave it to the
// Leader's round-robin policy (spec.md §4.7 "choose the Worker named by
// operator config if any").
type WorkerPinner interface {
	PinnedWorker() (id.WorkerID, bool)
}

// AbstractOperator is the graph-build-time representation of an operator
// (spec.md §3 "AbstractOperator").
type AbstractOperator struct {
	ID   id.OperatorID
	Name string
	// Config is opaque user data round-tripped across the control plane
	// inside a SubmitGraph message. Concrete config types must be
	// registered with gob.Register before a graph carrying them is
	// submitted, the same way callers of encoding/gob always must for
	// interface-typed fields.
	Config       interface{}
	ReadStreams  []id.StreamID
	WriteStreams []id.StreamID
	Variant      OperatorVariant
}

// ValidateArity checks that the lengths of ReadStreams/WriteStreams match
// the operator's variant (spec.md §3 invariant).
func (op *AbstractOperator) ValidateArity() error {
	wantReads, wantWrites := op.Variant.arity()
	if wantReads < 0 {
		return xerrors.Errorf("operator %s: unknown variant %d", op.Name, op.Variant)
	}
	if len(op.ReadStreams) != wantReads {
		return xerrors.Errorf("operator %s: variant expects %d read streams, got %d", op.Name, wantReads, len(op.ReadStreams))
	}
	if len(op.WriteStreams) != wantWrites {
		return xerrors.Errorf("operator %s: variant expects %d write streams, got %d", op.Name, wantWrites, len(op.WriteStreams))
	}
	return nil
}
