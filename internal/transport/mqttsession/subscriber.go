package mqttsession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/zenoh-gst/bridge/internal/transport"
)

// Subscriber is the concrete transport.Subscriber binding onto MQTT.
type Subscriber struct {
	session *Session
	keyExpr string
	filter  string
	id      string
	routeID uint64
	ch      chan transport.Sample
}

// DeclareSubscriber implements transport.Session: subscribes to
// keyExpr's MQTT topic filter, publishes a retained presence
// announcement under it, and returns a Subscriber whose Samples
// channel the session's dispatch loop feeds.
func (s *Session) DeclareSubscriber(ctx context.Context, keyExpr string, capacity int) (transport.Subscriber, error) {
	filter, err := toMQTTTopic(keyExpr)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = 1
	}

	ch := make(chan transport.Sample, capacity)

	s.mu.Lock()
	routeID := s.nextID
	s.nextID++
	s.routes[routeID] = &subscriberRoute{filter: filter, ch: ch}
	s.mu.Unlock()

	if _, err := s.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 1}},
	}); err != nil {
		s.mu.Lock()
		delete(s.routes, routeID)
		s.mu.Unlock()
		return nil, fmt.Errorf("mqttsession: subscribe %s: %w", filter, err)
	}

	sub := &Subscriber{
		session: s,
		keyExpr: keyExpr,
		filter:  filter,
		id:      newSubscriberID(),
		routeID: routeID,
		ch:      ch,
	}
	sub.announce(ctx)
	return sub, nil
}

func (sub *Subscriber) announce(ctx context.Context) {
	payload, err := json.Marshal(presenceAnnouncement{KeyExpr: sub.keyExpr})
	if err != nil {
		sub.session.logger.Warn("mqttsession presence announcement marshal failed", "key_expr", sub.keyExpr, "error", err)
		return
	}
	if _, err := sub.session.cm.Publish(ctx, &paho.Publish{
		Topic:   announceTopic(sub.keyExpr, sub.id),
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		sub.session.logger.Warn("mqttsession presence announcement publish failed", "key_expr", sub.keyExpr, "error", err)
	}
}

// Samples returns the channel the session's dispatch loop feeds.
func (sub *Subscriber) Samples() <-chan transport.Sample { return sub.ch }

// Close unsubscribes, retracts the presence announcement (a retained
// empty-payload publish clears it at the broker) and removes the
// route so dispatch stops feeding the channel before it is closed.
func (sub *Subscriber) Close() error {
	// Removing the route and closing the channel happen atomically
	// under the session lock, the same lock dispatch holds while
	// sending, so a send can never race this close (see dispatch).
	sub.session.mu.Lock()
	delete(sub.session.routes, sub.routeID)
	close(sub.ch)
	sub.session.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var firstErr error
	if _, err := sub.session.cm.Publish(ctx, &paho.Publish{
		Topic:  announceTopic(sub.keyExpr, sub.id),
		Retain: true,
		QoS:    1,
	}); err != nil {
		firstErr = fmt.Errorf("mqttsession: retract presence announcement: %w", err)
	}
	if _, err := sub.session.cm.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{sub.filter},
	}); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("mqttsession: unsubscribe %s: %w", sub.filter, err)
	}

	return firstErr
}
