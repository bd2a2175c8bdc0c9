package dataplane

import (
	"bytes"
	"encoding/gob"
	"net"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/codec"
	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/id"
)

// ehlo is the single-message handshake of spec.md §4.5/§6: "Ehlo{sender_worker_id}".
type ehlo struct {
	WorkerID id.WorkerID
}

// sendEhlo writes the handshake frame identifying self to the peer at the
// other end of conn.
func sendEhlo(conn net.Conn, self id.WorkerID) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ehlo{WorkerID: self}); err != nil {
		return xerrors.Errorf("encoding ehlo: %w", err)
	}
	return codec.WriteFrame(conn, buf.Bytes())
}

// recvEhlo reads the handshake frame and returns the peer's WorkerID.
func recvEhlo(conn net.Conn) (id.WorkerID, error) {
	payload, err := codec.ReadFrame(conn)
	if err != nil {
		return id.WorkerID{}, xerrors.Errorf("%w: reading ehlo: %v", errs.ErrTransport, err)
	}
	var e ehlo
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
		return id.WorkerID{}, xerrors.Errorf("%w: decoding ehlo: %v", errs.ErrProtocol, err)
	}
	return e.WorkerID, nil
}
