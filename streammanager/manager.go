// Package streammanager implements the per-Worker stream manager of
// spec.md §3 "StreamEndpoints<D>" and §4.4 "Stream manager": the registry
// that mediates endpoint creation and hands endpoints to operators,
// exactly once per stream/job, as either in-thread or inter-Worker pairs.
//
// The registry stores stream endpoints of arbitrary payload types under a
// single id.StreamID key. Per spec.md §9 ("Type-erased heterogeneous
// containers") this uses a capability-object strategy: streamEndpoints[D]
// is stored behind interface{} and downcast back to its concrete type by
// the generic free functions below, one per payload type D a caller asks
// for — methods cannot add type parameters beyond their receiver's own, so
// the operations are package-level generic functions taking *StreamManager
// rather than StreamManager methods.
package streammanager

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/codec"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/dataplane"
	"github.com/mkungla/flowmesh/id"
)

// StreamManager is single-writer from the Worker supervisor but handed to
// operator executors as a read-mostly handle (spec.md §5 "Shared state"),
// satisfying dataflow.StreamManagerHandle.
type StreamManager struct {
	mu         sync.Mutex
	streams    map[id.StreamID]interface{}
	registry   *dataplane.PusherRegistry
	serializer codec.Serializer
	log        *logrus.Entry
}

// New constructs a StreamManager backed by registry (the Worker's data
// plane pusher registry) and serializer (used to build pushers and
// InterWorker send endpoints).
func New(registry *dataplane.PusherRegistry, serializer codec.Serializer, log *logrus.Entry) *StreamManager {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &StreamManager{
		streams:    make(map[id.StreamID]interface{}),
		registry:   registry,
		serializer: serializer,
		log:        log.WithField("component", "streammanager"),
	}
}

type streamEndpoints[D any] struct {
	mu         sync.Mutex
	sends      map[dataflow.Job]dataplane.SendEndpoint[D]
	recvs      map[dataflow.Job]dataplane.RecvEndpoint[D]
	takenRecv  map[dataflow.Job]bool
	sendsTaken bool
}

func newStreamEndpoints[D any]() *streamEndpoints[D] {
	return &streamEndpoints[D]{
		sends:     make(map[dataflow.Job]dataplane.SendEndpoint[D]),
		recvs:     make(map[dataflow.Job]dataplane.RecvEndpoint[D]),
		takenRecv: make(map[dataflow.Job]bool),
	}
}

// getOrCreate returns the streamEndpoints[D] for streamID, creating one if
// absent. A stream already registered under a different payload type is a
// programmer error (a stream's D is fixed at graph-build time).
func getOrCreate[D any](sm *StreamManager, streamID id.StreamID) (*streamEndpoints[D], error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	raw, ok := sm.streams[streamID]
	if !ok {
		se := newStreamEndpoints[D]()
		sm.streams[streamID] = se
		return se, nil
	}
	se, ok := raw.(*streamEndpoints[D])
	if !ok {
		return nil, xerrors.Errorf("streammanager: stream %s registered with a different payload type", streamID)
	}
	return se, nil
}

// RegisterInterThread creates or reuses the stream's endpoints and
// allocates an in-process Send/Recv pair for consumerJob, storing Send and
// Recv under the same key (spec.md §4.4 operation 1).
func RegisterInterThread[D any](sm *StreamManager, streamID id.StreamID, consumerJob dataflow.Job) error {
	se, err := getOrCreate[D](sm, streamID)
	if err != nil {
		return err
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	if _, exists := se.recvs[consumerJob]; exists {
		return xerrors.Errorf("streammanager: stream %s: recv endpoint for %s already registered", streamID, consumerJob)
	}
	sendEP, recvEP := dataplane.NewInProcessPair[D]()
	se.sends[consumerJob] = sendEP
	se.recvs[consumerJob] = recvEP
	return nil
}

// RegisterInterWorkerSend creates or reuses the stream's endpoints and adds
// an InterWorker Send keyed by destJob, bound to peerConn's DataSender
// (spec.md §4.4 operation 2).
func RegisterInterWorkerSend[D any](sm *StreamManager, streamID id.StreamID, destJob dataflow.Job, peerConn *dataplane.WorkerConnection, senderID id.WorkerID) error {
	se, err := getOrCreate[D](sm, streamID)
	if err != nil {
		return err
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	if _, exists := se.sends[destJob]; exists {
		return nil // idempotent, mirroring Pusher.AddEndpoint
	}
	se.sends[destJob] = dataplane.NewInterWorkerSend[D](streamID, senderID, sm.serializer, peerConn)
	return nil
}

// RegisterInterWorkerRecv creates the stream's endpoints and its pusher if
// absent, installs the pusher on peerConn's DataReceiver, adds a fresh
// in-process pair (local Recv into StreamEndpoints, local Send into the
// pusher under receivingJob), and notifies peerConn that its pusher has
// been updated (spec.md §4.4 operation 3, §4.5).
func RegisterInterWorkerRecv[D any](sm *StreamManager, streamID id.StreamID, receivingJob dataflow.Job, peerConn *dataplane.WorkerConnection) error {
	se, err := getOrCreate[D](sm, streamID)
	if err != nil {
		return err
	}

	se.mu.Lock()
	if _, exists := se.recvs[receivingJob]; exists {
		se.mu.Unlock()
		return xerrors.Errorf("streammanager: stream %s: recv endpoint for %s already registered", streamID, receivingJob)
	}
	se.mu.Unlock()

	pusher := sm.registry.GetOrCreate(streamID, func() dataplane.Pusher {
		return dataplane.NewPusher[D](streamID, sm.serializer)
	})

	sendEP, recvEP := dataplane.NewInProcessPair[D]()
	if err := pusher.AddEndpoint(receivingJob, sendEP); err != nil {
		return xerrors.Errorf("streammanager: installing local receiver for stream %s: %w", streamID, err)
	}

	se.mu.Lock()
	se.recvs[receivingJob] = recvEP
	se.mu.Unlock()

	peerConn.NotifyPusher(dataplane.PusherUpdate{StreamID: streamID, Pusher: pusher})
	return nil
}

// TakeReadStream hands the Recv endpoint for (streamID, consumerJob) to an
// operator executor, exactly once (spec.md §4.4 operation 4, invariant
// "the stream manager enforces single-take").
func TakeReadStream[D any](sm *StreamManager, streamID id.StreamID, consumerJob dataflow.Job) (dataplane.RecvEndpoint[D], error) {
	se, err := getOrCreate[D](sm, streamID)
	if err != nil {
		return nil, err
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.takenRecv[consumerJob] {
		return nil, xerrors.Errorf("streammanager: stream %s: read stream for %s already taken", streamID, consumerJob)
	}
	ep, ok := se.recvs[consumerJob]
	if !ok {
		return nil, xerrors.Errorf("streammanager: stream %s: no recv endpoint registered for %s", streamID, consumerJob)
	}
	se.takenRecv[consumerJob] = true
	delete(se.recvs, consumerJob)
	return ep, nil
}

// TakeSendEndpoints hands the full destination-job-to-SendEndpoint map for
// streamID to the operator executor that owns the write stream, exactly
// once.
func TakeSendEndpoints[D any](sm *StreamManager, streamID id.StreamID) (map[dataflow.Job]dataplane.SendEndpoint[D], error) {
	se, err := getOrCreate[D](sm, streamID)
	if err != nil {
		return nil, err
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.sendsTaken {
		return nil, xerrors.Errorf("streammanager: stream %s: send endpoints already taken", streamID)
	}
	se.sendsTaken = true
	out := se.sends
	se.sends = nil
	return out, nil
}
