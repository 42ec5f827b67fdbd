package mqttsession

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/zenoh-gst/bridge/internal/connwatch"
	"github.com/zenoh-gst/bridge/internal/transport"
)

// Session is the concrete transport.Session binding onto MQTT. One
// Session owns one autopaho connection; every Publisher and
// Subscriber declared on it shares that connection and the session's
// presence tracker.
type Session struct {
	cm       *autopaho.ConnectionManager
	logger   *slog.Logger
	presence *presenceTracker

	mu     sync.Mutex
	routes map[uint64]*subscriberRoute
	nextID uint64
}

type subscriberRoute struct {
	filter string
	ch     chan transport.Sample
}

// Dial implements transport.Dialer: configPath is the broker URL
// (mqtt://, mqtts:// or ssl://), matching the spec's free-form
// per-element "config" property.
func Dial(ctx context.Context, configPath string) (transport.Session, error) {
	return DialWithLogger(ctx, configPath, nil)
}

// DialWithLogger is Dial with an explicit logger; Dial uses
// slog.Default().
func DialWithLogger(ctx context.Context, configPath string, logger *slog.Logger) (transport.Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	brokerURL, err := url.Parse(configPath)
	if err != nil {
		return nil, fmt.Errorf("mqttsession: parse broker url %q: %w", configPath, err)
	}

	sess := &Session{
		logger:   logger,
		presence: newPresenceTracker(),
		routes:   make(map[uint64]*subscriberRoute),
	}

	clientID := "zenoh-gst-" + uuid.NewString()[:8]
	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqttsession connected", "broker", configPath)
			sess.resubscribeAll(context.Background())
		},
		OnConnectError: func(err error) {
			logger.Warn("mqttsession connect error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}
	if brokerURL.User != nil {
		pahoCfg.ConnectUsername = brokerURL.User.Username()
		if pw, ok := brokerURL.User.Password(); ok {
			pahoCfg.ConnectPassword = []byte(pw)
		}
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("mqttsession: connect: %w", err)
	}
	sess.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		sess.dispatch(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		logger.Warn("mqttsession initial connection timed out, will retry in background", "error", err)
	}

	return sess, nil
}

// resubscribeAll re-issues every live subscription filter on
// (re-)connect, since autopaho (like the broker) does not remember
// subscriptions across a dropped session.
func (s *Session) resubscribeAll(ctx context.Context) {
	s.mu.Lock()
	filters := make(map[string]struct{}, len(s.routes))
	for _, r := range s.routes {
		filters[r.filter] = struct{}{}
	}
	s.mu.Unlock()

	s.presence.mu.Lock()
	for _, w := range s.presence.watchers {
		filters[watchTopicFilter(w.keyExpr)] = struct{}{}
	}
	s.presence.mu.Unlock()

	for filter := range filters {
		if _, err := s.cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 1}},
		}); err != nil {
			s.logger.Warn("mqttsession resubscribe failed", "filter", filter, "error", err)
		}
	}
}

func (s *Session) dispatch(topic string, payload []byte) {
	if strings.HasPrefix(topic, presencePrefix) {
		idx := strings.LastIndexByte(topic, '/')
		if idx < 0 {
			return
		}
		s.presence.handleAnnouncement(topic[idx+1:], payload)
		return
	}

	body, attachment, err := decodeWireMessage(payload)
	if err != nil {
		s.logger.Warn("mqttsession malformed wire message, dropped", "topic", topic, "error", err)
		return
	}
	sample := transport.Sample{
		Payload:    body,
		Attachment: attachment,
		KeyExpr:    topic,
		Timestamp:  time.Duration(time.Now().UnixNano()),
	}

	// Route matching and delivery happen under the session lock, the
	// same lock a Subscriber.Close holds while removing its route and
	// closing its channel — this keeps a send from ever racing a close
	// of the same channel.
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.routes {
		if !matchMQTTTopic(r.filter, topic) {
			continue
		}
		select {
		case r.ch <- sample:
		default:
			s.logger.Warn("mqttsession subscriber FIFO full, sample dropped", "topic", topic, "filter", r.filter)
		}
	}
}

// Probe reports whether the broker connection is currently usable,
// satisfying connwatch.ProbeFunc so callers can drive a
// connwatch.Watcher off a live Session without reimplementing
// backoff/polling.
func (s *Session) Probe(ctx context.Context) error {
	return s.cm.AwaitConnection(ctx)
}

// Watch registers this session's broker connection with mgr under
// name, logging connect/disconnect transitions at the backoff
// schedule connwatch defines. The returned Watcher must be Stop'd by
// the caller; it does not affect the underlying MQTT connection,
// which autopaho keeps retrying on its own regardless of watcher state.
func (s *Session) Watch(ctx context.Context, mgr *connwatch.Manager, name string) *connwatch.Watcher {
	return mgr.Watch(ctx, connwatch.WatcherConfig{
		Name:    name,
		Probe:   s.Probe,
		Backoff: connwatch.DefaultBackoffConfig(),
		Logger:  s.logger,
	})
}

// Close disconnects the underlying MQTT connection. Called by the
// bridge's session registry only once the last sharer has released
// the handle.
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.cm.Disconnect(ctx)
}

// encodeWireMessage frames a zenoh-style (payload, attachment) pair
// into the single byte string MQTT carries: a 4-byte big-endian
// attachment length, the attachment, then the payload. MQTT 5 user
// properties could carry the attachment instead, but framing it
// in-band keeps the wire format independent of broker-specific
// property support.
func encodeWireMessage(payload, attachment []byte) []byte {
	out := make([]byte, 4+len(attachment)+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(attachment)))
	copy(out[4:], attachment)
	copy(out[4+len(attachment):], payload)
	return out
}

func decodeWireMessage(raw []byte) (payload, attachment []byte, err error) {
	if len(raw) < 4 {
		return nil, nil, fmt.Errorf("mqttsession: wire message shorter than length prefix")
	}
	n := binary.BigEndian.Uint32(raw[:4])
	if uint64(4+n) > uint64(len(raw)) {
		return nil, nil, fmt.Errorf("mqttsession: attachment length %d exceeds message size", n)
	}
	attachment = raw[4 : 4+n]
	payload = raw[4+n:]
	return payload, attachment, nil
}

// matchMQTTTopic reports whether topic matches filter under MQTT's
// own wildcard rules: '+' matches exactly one level, a trailing '#'
// matches any number of remaining levels including zero.
func matchMQTTTopic(filter, topic string) bool {
	fSegs := strings.Split(filter, "/")
	tSegs := strings.Split(topic, "/")

	i := 0
	for ; i < len(fSegs); i++ {
		if fSegs[i] == "#" {
			return true
		}
		if i >= len(tSegs) {
			return false
		}
		if fSegs[i] != "+" && fSegs[i] != tSegs[i] {
			return false
		}
	}
	return i == len(tSegs)
}
