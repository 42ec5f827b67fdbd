package bridge

import (
	"testing"

	"github.com/zenoh-gst/bridge/internal/transport"
)

func TestParseURIBasic(t *testing.T) {
	cfg, err := ParseURI("zenoh:camera/1/frame", DefaultConfig())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.KeyExpr != "camera/1/frame" {
		t.Fatalf("key-expr = %q, want camera/1/frame", cfg.KeyExpr)
	}
}

func TestParseURIQueryKeys(t *testing.T) {
	raw := "zenoh:camera/1/frame?priority=2&reliability=reliable&congestion-control=drop" +
		"&session-group=cams&express=true&send-caps=true&caps-interval=5" +
		"&send-buffer-meta=true&apply-buffer-meta=true&compression=zstd" +
		"&compression-level=9&receive-timeout-ms=250&pad-naming=hash"
	cfg, err := ParseURI(raw, DefaultConfig())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	switch {
	case cfg.QoS.Priority != 2:
		t.Errorf("priority = %d, want 2", cfg.QoS.Priority)
	case cfg.QoS.Reliability != transport.Reliable:
		t.Errorf("reliability = %v, want reliable", cfg.QoS.Reliability)
	case cfg.QoS.CongestionControl != transport.CongestionDrop:
		t.Errorf("congestion-control = %v, want drop", cfg.QoS.CongestionControl)
	case cfg.SessionGroup != "cams":
		t.Errorf("session-group = %q, want cams", cfg.SessionGroup)
	case !cfg.QoS.Express:
		t.Error("express = false, want true")
	case !cfg.SendCaps:
		t.Error("send-caps = false, want true")
	case cfg.CapsIntervalSec != 5:
		t.Errorf("caps-interval = %d, want 5", cfg.CapsIntervalSec)
	case !cfg.SendBufferMeta:
		t.Error("send-buffer-meta = false, want true")
	case !cfg.ApplyBufferMeta:
		t.Error("apply-buffer-meta = false, want true")
	case cfg.Compression != "zstd":
		t.Errorf("compression = %q, want zstd", cfg.Compression)
	case cfg.CompressionLevel != 9:
		t.Errorf("compression-level = %d, want 9", cfg.CompressionLevel)
	case cfg.ReceiveTimeoutMS != 250:
		t.Errorf("receive-timeout-ms = %d, want 250", cfg.ReceiveTimeoutMS)
	case cfg.PadNaming != PadNamingHash:
		t.Errorf("pad-naming = %v, want hash", cfg.PadNaming)
	}
}

func TestParseURIRejectsWrongScheme(t *testing.T) {
	if _, err := ParseURI("mqtt:camera/1/frame", DefaultConfig()); err == nil {
		t.Fatal("expected an error for a non-zenoh scheme")
	}
}

func TestParseURIRejectsBadEnumValue(t *testing.T) {
	if _, err := ParseURI("zenoh:topic?reliability=sometimes", DefaultConfig()); err == nil {
		t.Fatal("expected an error for an unrecognised reliability value")
	}
}
