package codec

import (
	"bytes"
	"encoding/gob"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/id"
)

// DataMetadata is the fixed-size header on every data-plane frame
// (spec.md §4.1: "metadata = { stream_id, sender_worker_id }").
type DataMetadata struct {
	StreamID       id.StreamID
	SenderWorkerID id.WorkerID
}

// wireDataFrame is the on-wire shape of a Serialized data frame: metadata
// plus the Serializer-produced envelope for the message body (spec.md
// §4.1 "Serialized — metadata + raw bytes, the on-wire form"). The
// envelope's TypeUrl/Value pair is carried as plain fields rather than by
// embedding the generated any.Any struct by value, since that type carries
// unexported protobuf runtime state not meant to be copied wholesale.
type wireDataFrame struct {
	Meta    DataMetadata
	TypeURL string
	Value   []byte
}

// EncodeDataFrame serializes meta+envelope into the bytes WriteFrame will
// length-prefix onto the wire.
func EncodeDataFrame(meta DataMetadata, envelope *any.Any) ([]byte, error) {
	var buf bytes.Buffer
	w := wireDataFrame{Meta: meta}
	if envelope != nil {
		w.TypeURL = envelope.TypeUrl
		w.Value = envelope.Value
	}
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, xerrors.Errorf("encoding data frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDataFrame is the inverse of EncodeDataFrame. A malformed payload is
// a Serialization error (spec.md §7): the caller decides whether to drop
// the frame or escalate to Protocol.
func DecodeDataFrame(payload []byte) (DataMetadata, *any.Any, error) {
	var w wireDataFrame
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&w); err != nil {
		return DataMetadata{}, nil, xerrors.Errorf("%w: decoding data frame: %v", ErrSerialization, err)
	}
	return w.Meta, &any.Any{TypeUrl: w.TypeURL, Value: w.Value}, nil
}

// ErrSerialization marks a single frame that could not be decoded
// (spec.md §7 "Serialization" error kind): logged, frame dropped,
// connection continues.
var ErrSerialization = errs.ErrSerialization
