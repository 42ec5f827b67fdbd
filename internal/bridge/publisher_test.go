package bridge

import (
	"context"
	"testing"

	"github.com/zenoh-gst/bridge/internal/framework"
)

func newTestPublisher(t *testing.T, mutate func(*Config)) *Publisher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.KeyExpr = "camera/1/frame"
	if mutate != nil {
		mutate(&cfg)
	}
	return NewPublisher(cfg, NewRegistry(), fakeDialer, nil)
}

func lifecycleUp(t *testing.T, p *Publisher) {
	t.Helper()
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := p.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
}

func TestPublisherRenderPublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	pub := newTestPublisher(t, func(c *Config) { c.SendBufferMeta = true })
	lifecycleUp(t, pub)
	defer func() {
		_ = pub.Pause(ctx)
		_ = pub.Stop(ctx)
		_ = pub.Teardown(ctx)
	}()

	buf := &framework.Buffer{Data: []byte("hello")}
	buf.SetPTS(1234)
	if err := pub.Render(ctx, buf); err != nil {
		t.Fatalf("render: %v", err)
	}

	snap := pub.Stats.Snapshot()
	if snap.MessagesSent != 1 {
		t.Fatalf("messages sent = %d, want 1", snap.MessagesSent)
	}
	if snap.BytesSent == 0 {
		t.Fatal("bytes sent should be non-zero")
	}
}

func TestPublisherPresenceTransitions(t *testing.T) {
	ctx := context.Background()
	pub := newTestPublisher(t, nil)

	var seen []bool
	pub.OnMatchingChanged(func(has bool) { seen = append(seen, has) })

	if err := pub.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if pub.HasSubscribers() {
		t.Fatal("no subscribers declared yet")
	}

	session := pub.handle.Session.(*fakeSession)
	subSub, err := session.DeclareSubscriber(ctx, "camera/1/frame", 8)
	if err != nil {
		t.Fatalf("declare subscriber: %v", err)
	}

	if !pub.HasSubscribers() {
		t.Fatal("expected HasSubscribers to become true once a matching subscriber appears")
	}
	if len(seen) == 0 || !seen[len(seen)-1] {
		t.Fatalf("matching-changed callback did not observe true; seen=%v", seen)
	}

	if err := subSub.Close(); err != nil {
		t.Fatalf("close subscriber: %v", err)
	}
	if pub.HasSubscribers() {
		t.Fatal("expected HasSubscribers to become false once the subscriber leaves")
	}

	_ = pub.Teardown(ctx)
}

func TestPublisherCompressionFailOpen(t *testing.T) {
	ctx := context.Background()
	pub := newTestPublisher(t, func(c *Config) { c.Compression = "unknown-algo" })
	lifecycleUp(t, pub)
	defer func() { _ = pub.Teardown(ctx) }()

	buf := &framework.Buffer{Data: []byte("payload")}
	if err := pub.Render(ctx, buf); err != nil {
		t.Fatalf("render should fail open on unknown compression, got error: %v", err)
	}
	if snap := pub.Stats.Snapshot(); snap.MessagesSent != 1 {
		t.Fatalf("messages sent = %d, want 1 (published uncompressed)", snap.MessagesSent)
	}
}
