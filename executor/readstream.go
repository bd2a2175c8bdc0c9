package executor

import (
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/dataplane"
	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/message"
)

// ReadStream wraps the RecvEndpoint an operator owns for one read stream,
// the handle a runner factory hands to a concrete OperatorExecutor after
// streammanager.TakeReadStream (spec.md §4.4 operation 4). Read returns
// errs.ErrDisconnected once the upstream Job's WriteStream has closed
// (spec.md §4.9: "yields Closed from ReadStream::read on downstream").
type ReadStream[D any] struct {
	recv dataplane.RecvEndpoint[D]
}

// NewReadStream wraps a RecvEndpoint handed out by streammanager.TakeReadStream.
func NewReadStream[D any](recv dataplane.RecvEndpoint[D]) ReadStream[D] {
	return ReadStream[D]{recv: recv}
}

// Read awaits the next message on the stream.
func (r ReadStream[D]) Read() (message.Message[D], error) {
	return r.recv.Recv()
}

// Closed reports whether err is the sentinel returned by Read once every
// upstream sender has dropped (spec.md §7 "Disconnected").
func Closed(err error) bool {
	return err != nil && xerrors.Is(err, errs.ErrDisconnected)
}
