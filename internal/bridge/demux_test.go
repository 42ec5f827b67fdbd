package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zenoh-gst/bridge/internal/framework"
)

type countingSink struct {
	mu          sync.Mutex
	addedPorts  []string
	buffersByPort map[string]int
}

func newCountingSink() *countingSink {
	return &countingSink{buffersByPort: make(map[string]int)}
}

func (s *countingSink) PushCaps(port string, caps framework.Caps) error { return nil }
func (s *countingSink) PushStreamStart(port string) error              { return nil }
func (s *countingSink) PushSegment(port string) error                  { return nil }

func (s *countingSink) PushBuffer(port string, buf *framework.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffersByPort[port]++
	return nil
}

func (s *countingSink) AddPort(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addedPorts = append(s.addedPorts, name)
	return nil
}

func (s *countingSink) snapshot() (ports []string, counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ports = append(ports, s.addedPorts...)
	counts = make(map[string]int, len(s.buffersByPort))
	for k, v := range s.buffersByPort {
		counts[k] = v
	}
	return ports, counts
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestDemuxCreatesOnePortPerResourceName(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.KeyExpr = "camera/*"
	cfg.PadNaming = PadNamingLastSegment

	sink := newCountingSink()
	registry := NewRegistry()
	demux := NewDemux(cfg, registry, fakeDialer, sink, nil)

	if err := demux.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := demux.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := demux.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	defer func() {
		_ = demux.Pause(ctx)
		_ = demux.Stop(ctx)
		_ = demux.Teardown(ctx)
	}()

	session := demux.handle.Session.(*fakeSession)
	pub1, err := session.DeclarePublisher(ctx, "camera/front", DefaultConfig().QoS)
	if err != nil {
		t.Fatalf("declare publisher 1: %v", err)
	}
	pub2, err := session.DeclarePublisher(ctx, "camera/back", DefaultConfig().QoS)
	if err != nil {
		t.Fatalf("declare publisher 2: %v", err)
	}

	if err := pub1.Put(ctx, []byte("f1"), Envelope{}.Encode()); err != nil {
		t.Fatalf("put front: %v", err)
	}
	if err := pub1.Put(ctx, []byte("f2"), Envelope{}.Encode()); err != nil {
		t.Fatalf("put front: %v", err)
	}
	if err := pub2.Put(ctx, []byte("b1"), Envelope{}.Encode()); err != nil {
		t.Fatalf("put back: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, counts := sink.snapshot()
		return counts["front"] == 2 && counts["back"] == 1
	})

	ports, _ := sink.snapshot()
	if len(ports) != 2 {
		t.Fatalf("ports created = %v, want exactly 2 (one per distinct resource name)", ports)
	}
	if got := demux.Stats.PadsCreated.Load(); got != 2 {
		t.Fatalf("PadsCreated = %d, want 2", got)
	}
}
