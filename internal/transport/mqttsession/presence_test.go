package mqttsession

import (
	"encoding/json"
	"testing"
)

func TestPresenceTrackerFiresOnlyOnTransition(t *testing.T) {
	tracker := newPresenceTracker()
	var events []bool
	tracker.register("camera/1/frame", func(has bool) { events = append(events, has) })

	payload, _ := json.Marshal(presenceAnnouncement{KeyExpr: "camera/1/frame"})
	tracker.handleAnnouncement("sub-a", payload)
	tracker.handleAnnouncement("sub-b", payload) // second matching announcement: no new transition

	if len(events) != 1 || events[0] != true {
		t.Fatalf("events = %v, want exactly one true transition", events)
	}

	tracker.handleAnnouncement("sub-a", nil) // sub-a leaves, sub-b still present: no transition
	if len(events) != 1 {
		t.Fatalf("events = %v, want still one (sub-b keeps presence true)", events)
	}

	tracker.handleAnnouncement("sub-b", nil) // last one leaves
	if len(events) != 2 || events[1] != false {
		t.Fatalf("events = %v, want a false transition to follow", events)
	}
}

func TestPresenceTrackerWildcardSubscriberMatches(t *testing.T) {
	tracker := newPresenceTracker()
	var has bool
	tracker.register("camera/front", func(h bool) { has = h })

	payload, _ := json.Marshal(presenceAnnouncement{KeyExpr: "camera/**"})
	tracker.handleAnnouncement("demux-1", payload)

	if !has {
		t.Fatal("a wildcard subscriber announcement should match a concrete publisher key expression")
	}
}

func TestPresenceTrackerMalformedAnnouncementIgnored(t *testing.T) {
	tracker := newPresenceTracker()
	var called bool
	tracker.register("camera/front", func(bool) { called = true })
	tracker.handleAnnouncement("bad", []byte("not json"))
	if called {
		t.Fatal("a malformed announcement must not fire a presence transition")
	}
}
