package dataplane

import (
	"sync"

	"github.com/mkungla/flowmesh/id"
)

// PusherRegistry is the per-Worker table "StreamId -> shared-mut PusherT"
// of spec.md §4.2. It is the only cross-task mutable structure in the data
// plane (spec.md §5 "Shared state"); every access is a short
// lock/read-or-write/unlock critical section.
type PusherRegistry struct {
	mu      sync.RWMutex
	pushers map[id.StreamID]Pusher
}

// NewPusherRegistry returns an empty registry.
func NewPusherRegistry() *PusherRegistry {
	return &PusherRegistry{pushers: make(map[id.StreamID]Pusher)}
}

// Get returns the pusher for streamID, if one has been installed.
func (r *PusherRegistry) Get(streamID id.StreamID) (Pusher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pushers[streamID]
	return p, ok
}

// GetOrCreate returns the existing pusher for streamID, or installs and
// returns the one create() builds if absent (spec.md §3 "a pusher is
// created when the first local receiver for a stream is registered").
func (r *PusherRegistry) GetOrCreate(streamID id.StreamID, create func() Pusher) Pusher {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pushers[streamID]; ok {
		return p
	}
	p := create()
	r.pushers[streamID] = p
	return p
}
