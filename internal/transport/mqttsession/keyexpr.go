// Package mqttsession is the concrete transport.Session binding used
// when no zenoh client is available: it speaks MQTT 5 via
// github.com/eclipse/paho.golang's autopaho connection manager and
// maps the zenoh-style key-expression surface onto MQTT topics.
//
// Wildcard translation: a zenoh key expression is a '/'-separated
// sequence of chunks where '*' matches exactly one chunk and '**'
// (only ever the final chunk in this binding) matches any number of
// trailing chunks. MQTT's own wildcards map onto this directly: '*'
// becomes '+', a trailing '**' becomes '#'. Star patterns embedded
// inside a larger chunk (zenoh allows e.g. "a*b") are not supported by
// this binding and are rejected at declaration time, since MQTT has no
// equivalent.
package mqttsession

import (
	"fmt"
	"strings"

	"github.com/zenoh-gst/bridge/internal/transport"
)

// toMQTTTopic converts a zenoh-style key expression to the MQTT topic
// filter used for paho Subscribe calls, or the topic name used for
// Publish when keyExpr carries no wildcards.
func toMQTTTopic(keyExpr string) (string, error) {
	segments := strings.Split(keyExpr, "/")
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		switch seg {
		case "**":
			if i != len(segments)-1 {
				return "", fmt.Errorf("mqttsession: %q: '**' is only supported as the final segment", keyExpr)
			}
			out = append(out, "#")
		case "*":
			out = append(out, "+")
		default:
			if strings.ContainsAny(seg, "*+#") {
				return "", fmt.Errorf("mqttsession: %q: embedded wildcard in segment %q is not supported", keyExpr, seg)
			}
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/"), nil
}

// presenceBucket returns the first path segment of keyExpr, or "_" if
// that segment is itself a wildcard. Publishers and subscribers both
// bucket their presence announcements/watches on this value so a
// publisher only has to subscribe to its own top-level namespace
// rather than the whole presence topic tree. A subscription wildcarded
// at the top level ("*/temp") is bucketed under "_" and will not be
// seen by a publisher outside that bucket — a known limitation of this
// MQTT stand-in, since MQTT retained publishes cannot themselves carry
// wildcards the way a real zenoh router's matching table can.
func presenceBucket(keyExpr string) string {
	segments := strings.Split(keyExpr, "/")
	if segments[0] == "*" || segments[0] == "**" {
		return "_"
	}
	return segments[0]
}

// matchKeyExpr reports whether candidate (always concrete: a
// publisher's own resource name) is matched by pattern (a subscriber's
// possibly-wildcarded key expression). It defers to
// transport.MatchKeyExpr, the single implementation every Session
// binding shares, so the zenoh matching rules never drift between
// bindings.
func matchKeyExpr(pattern, candidate string) bool {
	return transport.MatchKeyExpr(pattern, candidate)
}
