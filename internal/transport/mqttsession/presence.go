package mqttsession

import (
	"encoding/json"
	"sync"

	"github.com/zenoh-gst/bridge/internal/transport"
)

// presencePrefix namespaces the retained announcement topics used to
// compensate for MQTT having no native "matching subscribers"
// notification the way zenoh does. Each live subscription publishes a
// retained announcement of its own key expression; each publisher
// watches the relevant slice of that namespace and computes matches
// locally with matchKeyExpr.
const presencePrefix = "$zenoh-presence/"

type presenceAnnouncement struct {
	KeyExpr string `json:"key_expr"`
}

func announceTopic(keyExpr, subscriberID string) string {
	return presencePrefix + presenceBucket(keyExpr) + "/" + subscriberID
}

func watchTopicFilter(keyExpr string) string {
	return presencePrefix + presenceBucket(keyExpr) + "/#"
}

type presenceWatcher struct {
	keyExpr  string
	listener transport.PresenceListener
	lastHas  bool
}

// presenceTracker is the per-session bookkeeping behind the presence
// protocol: one instance shared by every publisher and subscriber
// declared on a session, fed by the session's single inbound message
// router (session.go).
type presenceTracker struct {
	mu            sync.Mutex
	announcements map[string]string // subscriberID -> keyExpr
	watchers      map[uint64]*presenceWatcher
	nextWatcher   uint64
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{
		announcements: make(map[string]string),
		watchers:      make(map[uint64]*presenceWatcher),
	}
}

// handleAnnouncement processes one retained announcement message: an
// empty payload retracts subscriberID's presence (its Close published
// a retained tombstone), a non-empty payload records or updates it.
func (t *presenceTracker) handleAnnouncement(subscriberID string, payload []byte) {
	t.mu.Lock()
	if len(payload) == 0 {
		delete(t.announcements, subscriberID)
	} else {
		var ann presenceAnnouncement
		if err := json.Unmarshal(payload, &ann); err != nil {
			t.mu.Unlock()
			return
		}
		t.announcements[subscriberID] = ann.KeyExpr
	}
	watchers := make([]*presenceWatcher, 0, len(t.watchers))
	for _, w := range t.watchers {
		watchers = append(watchers, w)
	}
	t.mu.Unlock()

	for _, w := range watchers {
		t.notify(w)
	}
}

func (t *presenceTracker) has(keyExpr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ann := range t.announcements {
		if matchKeyExpr(ann, keyExpr) {
			return true
		}
	}
	return false
}

func (t *presenceTracker) notify(w *presenceWatcher) {
	has := t.has(w.keyExpr)
	t.mu.Lock()
	changed := has != w.lastHas
	w.lastHas = has
	t.mu.Unlock()
	if changed {
		w.listener(has)
	}
}

// register installs a watcher for keyExpr and immediately evaluates it
// against whatever announcements are already known (the retained
// messages a fresh MQTT subscribe delivers), so a publisher started
// after its subscribers still observes their presence.
func (t *presenceTracker) register(keyExpr string, l transport.PresenceListener) uint64 {
	t.mu.Lock()
	id := t.nextWatcher
	t.nextWatcher++
	w := &presenceWatcher{keyExpr: keyExpr, listener: l}
	t.watchers[id] = w
	t.mu.Unlock()
	t.notify(w)
	return id
}

func (t *presenceTracker) unregister(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.watchers, id)
}
