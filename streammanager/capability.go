package streammanager

import (
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/dataplane"
	"github.com/mkungla/flowmesh/id"
)

// StreamCapability is the concrete, per-payload-type registration trait
// described in spec.md §9 ("a capability trait ({ name, build-endpoints,
// produce-pusher, add-receiver-with-pusher }) with per-payload
// implementations and a downcast-on-take path"). A Driver builds one per
// stream with NewStreamCapability[D], at the point where D is known
// statically, and attaches it to the stream with Graph.SetCapability. The
// Worker supervisor later downcasts dataflow.AbstractStream.Capability()
// back to StreamCapability and calls its fields without ever needing to
// know D itself.
type StreamCapability struct {
	// RegisterInterThread wires an in-process endpoint pair for a local
	// destination job (spec.md §4.4 operation 1).
	RegisterInterThread func(sm *StreamManager, streamID id.StreamID, consumerJob dataflow.Job) error

	// RegisterInterWorkerSend wires an outbound endpoint to a destination
	// job on a remote peer (spec.md §4.4 operation 2).
	RegisterInterWorkerSend func(sm *StreamManager, streamID id.StreamID, destJob dataflow.Job, peerConn *dataplane.WorkerConnection, senderID id.WorkerID) error

	// RegisterInterWorkerRecv installs a pusher and in-process receive pair
	// for a job reading a stream whose source is a remote peer (spec.md
	// §4.4 operation 3).
	RegisterInterWorkerRecv func(sm *StreamManager, streamID id.StreamID, receivingJob dataflow.Job, peerConn *dataplane.WorkerConnection) error
}

// NewStreamCapability builds the StreamCapability for payload type D,
// closing over the package-level generic Register* functions so the
// Worker supervisor's dispatch stays entirely type-erased.
func NewStreamCapability[D any]() StreamCapability {
	return StreamCapability{
		RegisterInterThread: func(sm *StreamManager, streamID id.StreamID, consumerJob dataflow.Job) error {
			return RegisterInterThread[D](sm, streamID, consumerJob)
		},
		RegisterInterWorkerSend: func(sm *StreamManager, streamID id.StreamID, destJob dataflow.Job, peerConn *dataplane.WorkerConnection, senderID id.WorkerID) error {
			return RegisterInterWorkerSend[D](sm, streamID, destJob, peerConn, senderID)
		},
		RegisterInterWorkerRecv: func(sm *StreamManager, streamID id.StreamID, receivingJob dataflow.Job, peerConn *dataplane.WorkerConnection) error {
			return RegisterInterWorkerRecv[D](sm, streamID, receivingJob, peerConn)
		},
	}
}

// DeclareStream is a Driver-facing convenience that declares a stream on g
// carrying payload type D and immediately attaches its capability, so
// call sites don't have to thread NewStreamCapability through by hand.
func DeclareStream[D any](g *dataflow.Graph, name, typeName string) (id.StreamID, error) {
	sid := g.AddStream(name, typeName)
	if err := g.SetCapability(sid, NewStreamCapability[D]()); err != nil {
		return id.StreamID{}, err
	}
	return sid, nil
}

// DeclareIngestStream is DeclareStream's counterpart for Driver-sourced
// streams (SPEC_FULL.md supplemented feature 4).
func DeclareIngestStream[D any](g *dataflow.Graph, name, typeName string) (id.StreamID, error) {
	sid, err := g.AddIngestStream(name, typeName)
	if err != nil {
		return id.StreamID{}, err
	}
	if err := g.SetCapability(sid, NewStreamCapability[D]()); err != nil {
		return id.StreamID{}, err
	}
	return sid, nil
}
