// Package localsession is an in-process transport.Session: every
// publisher and subscriber declared against it exchange samples
// directly, with no network round trip. It exists for the demo CLI's
// offline self-test and anywhere else a zenoh/MQTT broker is not
// worth standing up, mirroring the role the teacher corpus's in-memory
// fakes play in tests but exported for non-test use.
package localsession

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/zenoh-gst/bridge/internal/transport"
)

// Session is an in-process transport.Session.
type Session struct {
	mu        sync.Mutex
	closed    bool
	subs      []*subscriber
	listeners map[string][]transport.PresenceListener
}

// New constructs an empty local session. Its signature matches
// transport.Dialer so it can be used directly as one, ignoring
// configPath.
func New(context.Context, string) (transport.Session, error) {
	return &Session{listeners: make(map[string][]transport.PresenceListener)}, nil
}

func (s *Session) DeclarePublisher(ctx context.Context, keyExpr string, qos transport.QoS) (transport.Publisher, error) {
	return &publisher{session: s, keyExpr: keyExpr, qos: qos}, nil
}

func (s *Session) DeclareSubscriber(ctx context.Context, keyExpr string, capacity int) (transport.Subscriber, error) {
	if capacity <= 0 {
		capacity = 1
	}
	sub := &subscriber{session: s, keyExpr: keyExpr, ch: make(chan transport.Sample, capacity)}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	s.notifyPresence(keyExpr, true)
	return sub, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, sub := range s.subs {
		sub.closeChannel()
	}
	return nil
}

func (s *Session) removeSubscriber(target *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == target {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Session) notifyPresence(keyExpr string, has bool) {
	s.mu.Lock()
	ls := append([]transport.PresenceListener(nil), s.listeners[keyExpr]...)
	s.mu.Unlock()
	for _, l := range ls {
		l(has)
	}
}

func (s *Session) hasMatching(keyExpr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if transport.MatchKeyExpr(sub.keyExpr, keyExpr) {
			return true
		}
	}
	return false
}

type publisher struct {
	session *Session
	keyExpr string
	qos     transport.QoS
}

func (p *publisher) Put(ctx context.Context, payload, attachment []byte) error {
	p.session.mu.Lock()
	subs := append([]*subscriber(nil), p.session.subs...)
	p.session.mu.Unlock()

	sample := transport.Sample{
		Payload:    append([]byte(nil), payload...),
		Attachment: append([]byte(nil), attachment...),
		KeyExpr:    p.keyExpr,
		Timestamp:  time.Duration(time.Now().UnixNano()),
	}
	for _, sub := range subs {
		if !transport.MatchKeyExpr(sub.keyExpr, p.keyExpr) {
			continue
		}
		select {
		case sub.ch <- sample:
		default:
		}
	}
	return nil
}

func (p *publisher) HasMatchingSubscribers(ctx context.Context) (bool, error) {
	return p.session.hasMatching(p.keyExpr), nil
}

func (p *publisher) OnPresenceChange(l transport.PresenceListener) (io.Closer, error) {
	p.session.mu.Lock()
	p.session.listeners[p.keyExpr] = append(p.session.listeners[p.keyExpr], l)
	p.session.mu.Unlock()
	return noopCloser{}, nil
}

func (p *publisher) Close() error { return nil }

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

type subscriber struct {
	session *Session
	keyExpr string
	ch      chan transport.Sample
	mu      sync.Mutex
	closed  bool
}

func (s *subscriber) Samples() <-chan transport.Sample { return s.ch }

func (s *subscriber) Close() error {
	s.session.removeSubscriber(s)
	s.closeChannel()
	s.session.notifyPresence(s.keyExpr, s.session.hasMatching(s.keyExpr))
	return nil
}

func (s *subscriber) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
