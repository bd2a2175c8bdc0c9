// Package dataplane implements the per-peer inter-Worker transport: framed
// data-frame sender/receiver tasks, the pusher install/update protocol, and
// the connection registry that accepts and dials out peer connections
// (spec.md §4.3-§4.6), grounded on the teacher's gRPC-based
// remoteWorkerStream/remoteMasterStream shape (Chapter12/dbspgraph/stream.go)
// reimplemented over raw net.Conn sockets and the codec package's framing.
package dataplane

import (
	"github.com/mkungla/flowmesh/internal/queue"
	"github.com/mkungla/flowmesh/message"
)

// SendEndpoint is the write half of a stream endpoint pair (spec.md §4.3).
type SendEndpoint[D any] interface {
	Send(m message.Message[D]) error
	// Close releases the endpoint. Further Sends fail with
	// errs.ErrDisconnected. Only InProcess endpoints need this; InterWorker
	// endpoints share the connection's lifetime.
	Close()
}

// RecvEndpoint is the read half of a stream endpoint pair (spec.md §4.3).
type RecvEndpoint[D any] interface {
	// Recv awaits the next message, returning errs.ErrDisconnected once
	// every sender has dropped (spec.md §4.3 "RecvEndpoint::InProcess").
	Recv() (message.Message[D], error)
}

// inProcessSend/inProcessRecv share one unbounded internal/queue.Queue, the
// non-blocking, unbounded "InProcess" variant of spec.md §4.3.
type inProcessSend[D any] struct {
	q *queue.Queue[message.Message[D]]
}

func (s *inProcessSend[D]) Send(m message.Message[D]) error { return s.q.Enqueue(m) }
func (s *inProcessSend[D]) Close()                          { s.q.Close() }

type inProcessRecv[D any] struct {
	q *queue.Queue[message.Message[D]]
}

func (r *inProcessRecv[D]) Recv() (message.Message[D], error) { return r.q.Recv() }

// NewInProcessPair allocates an in-process Send/Recv endpoint pair
// (spec.md §4.4 operation 1, "register_inter_thread").
func NewInProcessPair[D any]() (SendEndpoint[D], RecvEndpoint[D]) {
	q := queue.New[message.Message[D]]()
	return &inProcessSend[D]{q: q}, &inProcessRecv[D]{q: q}
}
