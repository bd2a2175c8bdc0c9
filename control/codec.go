package control

import (
	"bytes"
	"encoding/gob"
	"io"

	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/codec"
)

// WriteMessage frames and writes one control message (spec.md §4.1
// "Control codec": payload is a serialization of a tagged variant).
func WriteMessage(w io.Writer, m Message) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return xerrors.Errorf("encoding control message %s: %w", m.Kind, err)
	}
	return codec.WriteFrame(w, buf.Bytes())
}

// ReadMessage reads and decodes one control message. Returns io.EOF when
// the peer closed the connection cleanly between frames.
func ReadMessage(r io.Reader) (Message, error) {
	payload, err := codec.ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	var m Message
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&m); err != nil {
		return Message{}, xerrors.Errorf("%w: decoding control message: %v", codec.ErrProtocol, err)
	}
	return m, nil
}
