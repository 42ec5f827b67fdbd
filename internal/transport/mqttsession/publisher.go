package mqttsession

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/zenoh-gst/bridge/internal/transport"
)

// Publisher is the concrete transport.Publisher binding onto MQTT.
type Publisher struct {
	session *Session
	keyExpr string
	topic   string
	qos     transport.QoS
	mqttQoS byte

	watcherID uint64
}

// DeclarePublisher implements transport.Session. keyExpr is used as a
// publish topic and so should carry no wildcards; neither this method
// nor the bridge's Publisher rejects one. qos maps onto MQTT as closely as the two models allow:
// Reliable -> QoS 1, BestEffort -> QoS 0. Priority and express have no
// MQTT equivalent and are accepted but not transmitted.
func (s *Session) DeclarePublisher(ctx context.Context, keyExpr string, qos transport.QoS) (transport.Publisher, error) {
	topic, err := toMQTTTopic(keyExpr)
	if err != nil {
		return nil, err
	}
	mqttQoS := byte(0)
	if qos.Reliability == transport.Reliable {
		mqttQoS = 1
	}
	return &Publisher{
		session: s,
		keyExpr: keyExpr,
		topic:   topic,
		qos:     qos,
		mqttQoS: mqttQoS,
	}, nil
}

// Put publishes one message with its codec attachment framed in-band
// (see encodeWireMessage).
func (p *Publisher) Put(ctx context.Context, payload, attachment []byte) error {
	_, err := p.session.cm.Publish(ctx, &paho.Publish{
		Topic:   p.topic,
		Payload: encodeWireMessage(payload, attachment),
		QoS:     p.mqttQoS,
	})
	if err != nil {
		return fmt.Errorf("mqttsession: publish %s: %w", p.topic, err)
	}
	return nil
}

// HasMatchingSubscribers reports whatever the presence tracker
// currently believes, built from retained announcements it has
// received so far. Since OnPresenceChange must be installed first
// (the bridge core always does so before the initial probe), this
// simply reads the already-initialized watcher state.
func (p *Publisher) HasMatchingSubscribers(ctx context.Context) (bool, error) {
	return p.session.presence.has(p.keyExpr), nil
}

// OnPresenceChange installs l as the presence watcher for this
// publisher's resource name, fired on transitions in the locally
// computed match state against every announced subscriber key
// expression (spec §4.3's matching-subscribers notification, adapted
// to MQTT's lack of native support for it — see package doc).
func (p *Publisher) OnPresenceChange(l transport.PresenceListener) (io.Closer, error) {
	id := p.session.presence.register(p.keyExpr, l)
	p.watcherID = id

	watchCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.session.cm.Subscribe(watchCtx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: watchTopicFilter(p.keyExpr), QoS: 1}},
	}); err != nil {
		p.session.presence.unregister(id)
		return nil, fmt.Errorf("mqttsession: subscribe presence watch for %s: %w", p.keyExpr, err)
	}

	return presenceCloser{session: p.session, id: id}, nil
}

type presenceCloser struct {
	session *Session
	id      uint64
}

func (c presenceCloser) Close() error {
	c.session.presence.unregister(c.id)
	return nil
}

// Close releases this publisher. MQTT has no per-publisher handle to
// tear down beyond the shared connection, which the session owns.
func (p *Publisher) Close() error { return nil }

// newSubscriberID is the unique presence-announcement id a Subscriber
// publishes its retained announcement under.
func newSubscriberID() string { return uuid.NewString() }
