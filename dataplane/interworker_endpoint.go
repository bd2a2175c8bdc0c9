package dataplane

import (
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/codec"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/message"
)

// interWorkerSend is the "SendEndpoint::InterWorker" variant of spec.md
// §4.3: serializing lazily at the DataSender boundary and enqueuing onto
// the destination peer's WorkerConnection outbound queue.
type interWorkerSend[D any] struct {
	streamID   id.StreamID
	senderID   id.WorkerID
	serializer codec.Serializer
	conn       *WorkerConnection
}

// NewInterWorkerSend builds a SendEndpoint[D] that forwards messages to
// conn's DataSender task (spec.md §4.4 operation 2,
// "register_inter_worker_send").
func NewInterWorkerSend[D any](streamID id.StreamID, senderID id.WorkerID, serializer codec.Serializer, conn *WorkerConnection) SendEndpoint[D] {
	return &interWorkerSend[D]{streamID: streamID, senderID: senderID, serializer: serializer, conn: conn}
}

func (s *interWorkerSend[D]) Send(m message.Message[D]) error {
	envelope, err := s.serializer.Serialize(m)
	if err != nil {
		return xerrors.Errorf("serializing message for stream %s: %w", s.streamID, err)
	}
	payload, err := codec.EncodeDataFrame(codec.DataMetadata{StreamID: s.streamID, SenderWorkerID: s.senderID}, envelope)
	if err != nil {
		return xerrors.Errorf("encoding data frame for stream %s: %w", s.streamID, err)
	}
	return s.conn.EnqueueFrame(payload)
}

// Close is a no-op: the connection's lifetime belongs to the Plane, not to
// any one stream's endpoint.
func (s *interWorkerSend[D]) Close() {}
