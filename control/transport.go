package control

// Transport is the seam Conn satisfies, letting leader.Leader and
// worker.Supervisor depend on an interface rather than the concrete framed
// TCP connection type. mocks.MockTransport hand-authors a gomock double
// against this interface for unit tests that don't want a real socket
// (SPEC_FULL.md ambient stack "Test tooling").
type Transport interface {
	// SendChan returns the channel to enqueue outbound messages on.
	SendChan() chan<- Message

	// RecvChan returns the channel of inbound messages.
	RecvChan() <-chan Message

	// SetDisconnectCallback registers cb to run when the peer
	// disconnects, immediately if it already has.
	SetDisconnectCallback(cb func())

	// Close terminates the transport. If err is non-nil, the transport's
	// driving loop (HandleSendRecv) returns it to its caller.
	Close(err error) error
}

var _ Transport = (*Conn)(nil)
