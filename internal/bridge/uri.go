package bridge

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/zenoh-gst/bridge/internal/transport"
)

// URIScheme is the scheme recognised on publisher and subscriber
// elements (spec §6): zenoh:<resource-name>[?k=v(&k=v)*].
const URIScheme = "zenoh"

// ParseURI parses a zenoh: URI into a Config, applying the recognised
// query keys on top of base (base supplies anything the URI omits).
// Recognised keys mirror the configuration surface in spec §6:
// config, priority, reliability, congestion-control, session-group,
// express, send-caps, caps-interval, send-buffer-meta, compression,
// compression-level, receive-timeout-ms, apply-buffer-meta,
// pad-naming.
func ParseURI(raw string, base Config) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse zenoh URI %q: %w", raw, err)
	}
	if u.Scheme != URIScheme {
		return Config{}, fmt.Errorf("zenoh URI %q: unsupported scheme %q", raw, u.Scheme)
	}

	cfg := base
	// url.Parse puts everything after "zenoh:" and before '?' into
	// Opaque (no "//" authority in this scheme).
	cfg.KeyExpr = u.Opaque
	if cfg.KeyExpr == "" {
		cfg.KeyExpr = strings.TrimPrefix(u.Path, "/")
	}

	q := u.Query()
	for key, values := range q {
		if len(values) == 0 {
			continue
		}
		v := values[0]
		if err := applyURIKey(&cfg, key, v); err != nil {
			return Config{}, fmt.Errorf("zenoh URI %q: %w", raw, err)
		}
	}
	return cfg, nil
}

func applyURIKey(cfg *Config, key, v string) error {
	switch key {
	case "config":
		cfg.TransportConfig = v
	case "priority":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("priority: %w", err)
		}
		cfg.QoS.Priority = n
	case "reliability":
		switch v {
		case "reliable":
			cfg.QoS.Reliability = transport.Reliable
		case "best-effort":
			cfg.QoS.Reliability = transport.BestEffort
		default:
			return fmt.Errorf("reliability: unknown value %q", v)
		}
	case "congestion-control":
		switch v {
		case "block":
			cfg.QoS.CongestionControl = transport.CongestionBlock
		case "drop":
			cfg.QoS.CongestionControl = transport.CongestionDrop
		default:
			return fmt.Errorf("congestion-control: unknown value %q", v)
		}
	case "session-group":
		cfg.SessionGroup = v
	case "express":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("express: %w", err)
		}
		cfg.QoS.Express = b
	case "send-caps":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("send-caps: %w", err)
		}
		cfg.SendCaps = b
	case "caps-interval":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("caps-interval: %w", err)
		}
		cfg.CapsIntervalSec = n
	case "send-buffer-meta":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("send-buffer-meta: %w", err)
		}
		cfg.SendBufferMeta = b
	case "apply-buffer-meta":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("apply-buffer-meta: %w", err)
		}
		cfg.ApplyBufferMeta = b
	case "compression":
		cfg.Compression = v
	case "compression-level":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("compression-level: %w", err)
		}
		cfg.CompressionLevel = n
	case "receive-timeout-ms":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("receive-timeout-ms: %w", err)
		}
		cfg.ReceiveTimeoutMS = n
	case "pad-naming":
		strategy, ok := ParsePadNamingStrategy(v)
		if !ok {
			return fmt.Errorf("pad-naming: unknown value %q", v)
		}
		cfg.PadNaming = strategy
	default:
		// Unknown query keys are ignored; the URI surface is meant to
		// be a convenience mirror of the property surface, not a
		// strict grammar.
	}
	return nil
}
