package bridge

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/zenoh-gst/bridge/internal/transport"
)

// fakeSession is an in-process transport.Session: publishers delivered
// on it hand samples directly to every subscriber whose key
// expression matches, with no network round trip. It lets the
// publisher/subscriber/demux tests exercise the full envelope and
// compression path without a broker.
type fakeSession struct {
	mu        sync.Mutex
	closed    bool
	subs      []*fakeSubscriber
	listeners map[string][]transport.PresenceListener
}

func newFakeSession(context.Context, string) (transport.Session, error) {
	return &fakeSession{listeners: make(map[string][]transport.PresenceListener)}, nil
}

// fakeDialer adapts newFakeSession to transport.Dialer for callers
// that want a named value instead of the bare function.
var fakeDialer transport.Dialer = newFakeSession

func (s *fakeSession) DeclarePublisher(ctx context.Context, keyExpr string, qos transport.QoS) (transport.Publisher, error) {
	return &fakePublisher{session: s, keyExpr: keyExpr, qos: qos}, nil
}

func (s *fakeSession) DeclareSubscriber(ctx context.Context, keyExpr string, capacity int) (transport.Subscriber, error) {
	sub := &fakeSubscriber{
		session: s,
		keyExpr: keyExpr,
		ch:      make(chan transport.Sample, capacity),
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	s.notifyPresence(keyExpr, true)
	return sub, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, sub := range s.subs {
		sub.closeChannel()
	}
	return nil
}

func (s *fakeSession) removeSubscriber(sub *fakeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, other := range s.subs {
		if other == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
}

// notifyPresence fires every registered listener for keyExpr with the
// current match state, simulating a real transport's presence update.
func (s *fakeSession) notifyPresence(keyExpr string, has bool) {
	s.mu.Lock()
	ls := append([]transport.PresenceListener(nil), s.listeners[keyExpr]...)
	s.mu.Unlock()
	for _, l := range ls {
		l(has)
	}
}

func (s *fakeSession) hasMatching(keyExpr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if transport.MatchKeyExpr(sub.keyExpr, keyExpr) {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	session *fakeSession
	keyExpr string
	qos     transport.QoS
	closed  bool
}

func (p *fakePublisher) Put(ctx context.Context, payload, attachment []byte) error {
	p.session.mu.Lock()
	subs := append([]*fakeSubscriber(nil), p.session.subs...)
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

func (p *fakePublisher) HasMatchingSubscribers(ctx context.Context) (bool, error) {
	return p.session.hasMatching(p.keyExpr), nil
}

func (p *fakePublisher) OnPresenceChange(l transport.PresenceListener) (io.Closer, error) {
	p.session.mu.Lock()
	p.session.listeners[p.keyExpr] = append(p.session.listeners[p.keyExpr], l)
	p.session.mu.Unlock()
	return fakeCloser{}, nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

type fakeCloser struct{}

func (fakeCloser) Close() error { return nil }

type fakeSubscriber struct {
	session *fakeSession
	keyExpr string
	ch      chan transport.Sample
	mu      sync.Mutex
	closed  bool
}

func (s *fakeSubscriber) Samples() <-chan transport.Sample { return s.ch }

func (s *fakeSubscriber) Close() error {
	s.session.removeSubscriber(s)
	s.closeChannel()
	s.session.notifyPresence(s.keyExpr, s.session.hasMatching(s.keyExpr))
	return nil
}

// closeChannel closes the sample channel exactly once, guarded by its
// own mutex since fakeSession.Close may call it concurrently with an
// explicit Subscriber.Close.
func (s *fakeSubscriber) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
