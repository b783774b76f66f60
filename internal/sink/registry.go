// Package sink holds the single registered remote endpoint for encoded
// video frames and tracks its liveness.
package sink

import (
	"log"
	"sync"

	"keyhole/internal/types"
)

// Registry holds at most one live sink. All mutation, frame forwarding,
// and the death-notification clear run under one mutex, so a racing
// Forward sees either the old sink or none, never a half-cleared state.
//
// DeathNotifier implementations must invoke the callback from their own
// goroutine without holding locks that NotifyDeath or its revoke function
// take; the registry re-enters itself through the callback.
type Registry struct {
	mu     sync.Mutex
	sink   types.Sink
	revoke func()
}

func New() *Registry {
	return &Registry{}
}

// Set installs s as the sink. A previously registered different sink has
// its death subscription revoked and is detached first. A nil s clears
// the registry.
func (r *Registry) Set(s types.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sink == s {
		return
	}
	if r.revoke != nil {
		r.revoke()
		r.revoke = nil
	}
	r.sink = s
	if s == nil {
		return
	}
	if dn, ok := s.(types.DeathNotifier); ok {
		r.revoke = dn.NotifyDeath(func() { r.dead(s) })
	}
}

// dead is the death-notification path: clear the reference iff it is
// still the registered one.
func (r *Registry) dead(s types.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sink != s {
		return
	}
	log.Printf("video sink died, clearing")
	r.sink = nil
	r.revoke = nil
}

// Forward pushes one access unit to the sink, best-effort. A failed call
// means the remote is gone: the sink is dropped without retry and frames
// are never buffered or replayed.
func (r *Registry) Forward(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sink == nil {
		return
	}
	if err := r.sink.OnVideoFrame(data); err != nil {
		log.Printf("video sink write failed, dropping sink: %v", err)
		if r.revoke != nil {
			r.revoke()
			r.revoke = nil
		}
		r.sink = nil
	}
}

// Active reports whether a sink is currently registered.
func (r *Registry) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink != nil
}

// Clear revokes and drops the current sink, if any.
func (r *Registry) Clear() {
	r.Set(nil)
}
