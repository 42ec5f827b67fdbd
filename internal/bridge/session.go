package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/zenoh-gst/bridge/internal/transport"
)

// sessionEntry is the refcounted handle spec §3's "Session handle"
// entity and §4.6 describe: sharers count plus the underlying
// session. Empty-group acquires never create an entry at all (each
// call gets its own private session), matching spec §4.6's "empty or
// unset group: each call yields an independent session".
type sessionEntry struct {
	session transport.Session
	sharers int
}

// Registry is the process-wide, mutex-guarded table mapping
// session-group name to a shared transport.Session (spec §4.6). It is
// guarded by a single mutex taken only during Acquire/Release, never
// on the data path (spec §5).
type Registry struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewRegistry returns an empty registry. A process normally has one
// Registry; tests construct their own to avoid cross-test state.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*sessionEntry)}
}

// Handle is what Acquire returns: the shared (or private) session and
// a Release that must be called exactly once, from Ready->Null.
type Handle struct {
	Session transport.Session

	registry *Registry
	group    string
	private  bool
	released bool
}

// Acquire resolves a session for group using dial to create one if
// none exists yet for that group. Per spec §4.6: if an entry for
// group already exists, its count is incremented and the existing
// session returned; otherwise dial is called once, the result
// inserted with count 1. An empty group bypasses sharing entirely.
func (r *Registry) Acquire(ctx context.Context, group string, dial transport.Dialer, configPath string) (*Handle, error) {
	if group == "" {
		sess, err := dial(ctx, configPath)
		if err != nil {
			return nil, newErr("Registry.Acquire", KindResourceInit, err)
		}
		return &Handle{Session: sess, registry: r, private: true}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[group]; ok {
		e.sharers++
		return &Handle{Session: e.session, registry: r, group: group}, nil
	}

	sess, err := dial(ctx, configPath)
	if err != nil {
		return nil, newErr("Registry.Acquire", KindResourceInit, err)
	}
	r.entries[group] = &sessionEntry{session: sess, sharers: 1}
	return &Handle{Session: sess, registry: r, group: group}, nil
}

// Release decrements the handle's sharer count; at zero the entry is
// removed and the session torn down. Calling Release more than once
// on the same Handle is a programming error and returns an error
// rather than corrupting the shared refcount.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	if h.released {
		return fmt.Errorf("session group %q: handle already released", h.group)
	}
	h.released = true
	if h.private {
		return h.Session.Close()
	}
	return h.registry.release(h.group)
}

func (r *Registry) release(group string) error {
	r.mu.Lock()
	e, ok := r.entries[group]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("session group %q: release without matching acquire", group)
	}
	e.sharers--
	if e.sharers > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, group)
	r.mu.Unlock()
	return e.session.Close()
}

// SharerCount reports the live refcount for group, or 0 if there is no
// entry (used by tests and the demo CLI to observe S5's sharing
// scenario; not part of the data path).
func (r *Registry) SharerCount(group string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[group]; ok {
		return e.sharers
	}
	return 0
}
