// Package codec implements the length-prefixed framing shared by the
// control and data planes (spec.md §4.1 "Framing codec") plus the
// pluggable Serializer used to turn user payloads into frame bodies.
package codec

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/errs"
)

// MaxFrameLength is the largest payload a frame may carry (spec.md §4.1).
const MaxFrameLength = 64 << 20 // 64 MiB

// ErrProtocol is returned for malformed frames: a length prefix exceeding
// MaxFrameLength, or any read error partway through a frame body
// (spec.md §7 "Protocol" error kind).
var ErrProtocol = errs.ErrProtocol

// WriteFrame writes a 4-byte big-endian length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLength {
		return xerrors.Errorf("%w: frame of %d bytes exceeds max %d", ErrProtocol, len(payload), MaxFrameLength)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return xerrors.Errorf("writing frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return xerrors.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r: a 4-byte big-endian length prefix
// followed by that many bytes of payload. A length exceeding
// MaxFrameLength or a short read terminates with ErrProtocol.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if xerrors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, xerrors.Errorf("%w: reading frame header: %v", ErrProtocol, err)
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameLength {
		return nil, xerrors.Errorf("%w: frame length %d exceeds max %d", ErrProtocol, length, MaxFrameLength)
	}
	if length == 0 {
		return nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, xerrors.Errorf("%w: reading frame body: %v", ErrProtocol, err)
	}
	return payload, nil
}
