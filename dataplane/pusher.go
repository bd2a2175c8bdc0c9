package dataplane

import (
	"sync"

	"github.com/golang/protobuf/ptypes/any"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/codec"
	"github.com/mkungla/flowmesh/dataflow"
	"github.com/mkungla/flowmesh/errs"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/message"
)

// Pusher is the type-erased capability described in spec.md §9
// ("Type-erased heterogeneous containers"): a per-stream dispatcher that
// deserializes an inbound frame once and multicasts it to every local
// destination (spec.md §3 "Pusher<D>", §4.2). The concrete payload type D
// is known only to the pusher[D] implementation below; callers that only
// know a stream id go through this interface.
type Pusher interface {
	// StreamID names the stream this pusher serves.
	StreamID() id.StreamID

	// SendFromBytes deserializes envelope once into a shared Message[D]
	// and forwards it to every registered destination endpoint (spec.md
	// §4.2: "deserialize once ... forward a clone of the shared handle to
	// each endpoint"). A deserialization failure is reported as
	// errs.ErrSerialization and does not poison the pusher.
	SendFromBytes(envelope *any.Any) error

	// AddEndpoint registers a local SendEndpoint[D] for dest, idempotent
	// on (stream, dest) (spec.md §4.2: "append; idempotent"). ep must be a
	// SendEndpoint[D] for this pusher's D; a mismatched type is a
	// programmer error and returns an error rather than panicking.
	AddEndpoint(dest dataflow.Job, ep interface{}) error
}

type pusher[D any] struct {
	mu         sync.Mutex
	streamID   id.StreamID
	serializer codec.Serializer
	endpoints  map[dataflow.Job]SendEndpoint[D]
}

// NewPusher constructs the pusher for stream streamID, carrying payload
// type D. Created when the first local receiver for the stream is
// registered (spec.md §3 "Lifecycles").
func NewPusher[D any](streamID id.StreamID, serializer codec.Serializer) Pusher {
	return &pusher[D]{
		streamID:   streamID,
		serializer: serializer,
		endpoints:  make(map[dataflow.Job]SendEndpoint[D]),
	}
}

func (p *pusher[D]) StreamID() id.StreamID { return p.streamID }

func (p *pusher[D]) AddEndpoint(dest dataflow.Job, ep interface{}) error {
	se, ok := ep.(SendEndpoint[D])
	if !ok {
		return xerrors.Errorf("pusher %s: endpoint for %s has the wrong payload type", p.streamID, dest)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.endpoints[dest]; exists {
		return nil
	}
	p.endpoints[dest] = se
	return nil
}

func (p *pusher[D]) SendFromBytes(envelope *any.Any) error {
	var m message.Message[D]
	if err := p.serializer.Unserialize(envelope, &m); err != nil {
		return xerrors.Errorf("%w: pusher %s: %v", errs.ErrSerialization, p.streamID, err)
	}

	p.mu.Lock()
	targets := make([]SendEndpoint[D], 0, len(p.endpoints))
	for _, se := range p.endpoints {
		targets = append(targets, se)
	}
	p.mu.Unlock()

	var result error
	for _, se := range targets {
		if err := se.Send(m); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
