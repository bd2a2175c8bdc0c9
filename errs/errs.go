// Package errs names the five error kinds of spec.md §7 ("Error handling
// design") as xerrors sentinels plus a Kind enum, so callers across
// control, dataplane, streammanager and executor can classify a failure
// with xerrors.Is/Kind() the way the teacher's gRPC code classified
// failures with codes.Aborted/codes.Unavailable, without requiring gRPC.
package errs

import "golang.org/x/xerrors"

// Kind classifies a flowmesh error per spec.md §7.
type Kind uint8

const (
	KindProtocol Kind = iota
	KindTransport
	KindDisconnected
	KindSerialization
	KindUserPanic
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "Protocol"
	case KindTransport:
		return "Transport"
	case KindDisconnected:
		return "Disconnected"
	case KindSerialization:
		return "Serialization"
	case KindUserPanic:
		return "UserPanic"
	default:
		return "Unknown"
	}
}

// Sentinels for xerrors.Is against a wrapped error's root cause.
var (
	// ErrProtocol: malformed frame, unexpected message in current state,
	// missing pusher. Terminates the offending connection; in the Leader
	// or supervisor, abandons the graph.
	ErrProtocol = xerrors.New("flowmesh: protocol error")

	// ErrTransport: TCP reset, accept failure. The affected connection is
	// closed; peers are removed from the DataPlane registry; any operator
	// depending on their streams is torn down.
	ErrTransport = xerrors.New("flowmesh: transport error")

	// ErrDisconnected: an in-process queue closed because its other end
	// dropped. Treated as clean EOF at the stream boundary.
	ErrDisconnected = xerrors.New("flowmesh: disconnected")

	// ErrSerialization: a single frame cannot be decoded. Logged, frame
	// dropped, connection continues.
	ErrSerialization = xerrors.New("flowmesh: serialization error")

	// ErrUserPanic: a user operator panicked. The task aborts; the
	// supervisor emits JobFailed.
	ErrUserPanic = xerrors.New("flowmesh: user operator panic")
)

// Of returns the sentinel for k, for construction sites that pick a kind
// dynamically (e.g. DataPlane classifying a net.Error).
func Of(k Kind) error {
	switch k {
	case KindProtocol:
		return ErrProtocol
	case KindTransport:
		return ErrTransport
	case KindDisconnected:
		return ErrDisconnected
	case KindSerialization:
		return ErrSerialization
	case KindUserPanic:
		return ErrUserPanic
	default:
		return ErrProtocol
	}
}
