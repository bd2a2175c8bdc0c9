// Package executor implements the operator-executor scheduling core of
// spec.md §4.9: per-operator event lattice enforcing message/watermark
// ordering over an operator's ReadStreams and WriteStreams, grounded on the
// teacher's callback-driven bspgraph.Executor (Chapter08/bspgraph/executor.go)
// but driven by the stream event lattice instead of bulk-synchronous
// supersteps.
package executor

import (
	"github.com/hashicorp/go-multierror"

	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/dataplane"
	"github.com/mkungla/flowmesh/message"
)

// WriteStream wraps the destination-job-keyed SendEndpoint map an operator
// owns for one write stream. Emit broadcasts to every destination; order
// across destinations is unspecified, order within one (source,
// destination) pair is FIFO (spec.md §4.3 "Policy").
type WriteStream[D any] struct {
	sends map[dataflow.Job]dataplane.SendEndpoint[D]
}

// NewWriteStream wraps a destination map handed out by
// streammanager.TakeSendEndpoints.
func NewWriteStream[D any](sends map[dataflow.Job]dataplane.SendEndpoint[D]) WriteStream[D] {
	return WriteStream[D]{sends: sends}
}

// Emit broadcasts m to every destination endpoint.
func (w WriteStream[D]) Emit(m message.Message[D]) error {
	var result error
	for _, se := range w.sends {
		if err := se.Send(m); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// EmitData is a convenience wrapper around Emit(message.NewData(...)).
func (w WriteStream[D]) EmitData(ts message.Timestamp, data D) error {
	return w.Emit(message.NewData(ts, data))
}

// EmitWatermark is a convenience wrapper around Emit(message.NewWatermark(...)).
func (w WriteStream[D]) EmitWatermark(ts message.Timestamp) error {
	return w.Emit(message.NewWatermark[D](ts))
}

// Close propagates Top and releases every destination endpoint (spec.md
// §4.9: "Top watermark propagation closes the write streams'
// destinations, which eventually drops all SendEndpoints, and yields
// Closed from ReadStream::read on downstream").
func (w WriteStream[D]) Close() error {
	var result error
	if err := w.Emit(message.NewTop[D]()); err != nil {
		result = multierror.Append(result, err)
	}
	for _, se := range w.sends {
		se.Close()
	}
	return result
}
