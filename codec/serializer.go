package codec

import (
	"bytes"
	"encoding/gob"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"
)

// Serializer is implemented by types that can turn a user payload into the
// wire envelope carried by a data frame's body and back (spec.md §4.1:
// "body is the operator's serialized message"). Modeled on the teacher's
// dbspgraph.Serializer, but the envelope is the well-known, already
// compiled protobuf Any type rather than a project-specific one: it gives
// every payload a type tag (TypeUrl) for free without requiring any
// protoc-generated message types, which this environment cannot produce.
type Serializer interface {
	// Serialize encodes v into an Any envelope.
	Serialize(v interface{}) (*any.Any, error)

	// Unserialize decodes an Any envelope back into a value. The caller
	// is expected to already know the expected Go type for the stream
	// (streams are typed; see message.Message[D]).
	Unserialize(a *any.Any, out interface{}) error
}

// gobSerializer is the default Serializer: gob encodes the value and
// stamps the envelope's TypeUrl with the fixed typeURL it was built with.
// It is swappable — any type implementing Serializer may replace it, per
// spec.md §1 ("we specify only the framing and round-trip contract").
type gobSerializer struct {
	typeURL string
}

// NewGobSerializer returns the default Serializer, tagging every produced
// envelope with typeURL (informational; used for logging/debugging, not
// for dispatch — streams already carry static payload types).
func NewGobSerializer(typeURL string) Serializer {
	return &gobSerializer{typeURL: typeURL}
}

func (s *gobSerializer) Serialize(v interface{}) (*any.Any, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, xerrors.Errorf("gob-encoding payload: %w", err)
	}
	return &any.Any{TypeUrl: s.typeURL, Value: buf.Bytes()}, nil
}

func (s *gobSerializer) Unserialize(a *any.Any, out interface{}) error {
	if a == nil {
		return xerrors.Errorf("unserialize: nil envelope")
	}
	if err := gob.NewDecoder(bytes.NewReader(a.Value)).Decode(out); err != nil {
		return xerrors.Errorf("gob-decoding payload: %w", err)
	}
	return nil
}
