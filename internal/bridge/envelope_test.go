package bridge

import (
	"testing"

	"github.com/zenoh-gst/bridge/internal/framework"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	pts := int64(1_000_000)
	dur := int64(500_000)
	env := Envelope{
		Caps:        "video/x-raw",
		HasCaps:     true,
		PTS:         &pts,
		Duration:    &dur,
		Flags:       framework.FlagLive | framework.FlagDiscont,
		HasFlags:    true,
		Compression: "zstd",
		KeyExpr:     "camera/1/frame",
		User:        map[string]string{"source": "unit-test"},
	}

	decoded, err := DecodeEnvelope(env.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Legacy {
		t.Fatal("decoded envelope should not be legacy")
	}
	if decoded.Caps != env.Caps || !decoded.HasCaps {
		t.Fatalf("caps = %+v, want %q", decoded, env.Caps)
	}
	if decoded.PTS == nil || *decoded.PTS != pts {
		t.Fatalf("pts = %v, want %d", decoded.PTS, pts)
	}
	if decoded.Duration == nil || *decoded.Duration != dur {
		t.Fatalf("duration = %v, want %d", decoded.Duration, dur)
	}
	if decoded.Flags != env.Flags || !decoded.HasFlags {
		t.Fatalf("flags = %v, want %v", decoded.Flags, env.Flags)
	}
	if decoded.Compression != "zstd" {
		t.Fatalf("compression = %q, want zstd", decoded.Compression)
	}
	if decoded.KeyExpr != "camera/1/frame" {
		t.Fatalf("key-expr = %q, want camera/1/frame", decoded.KeyExpr)
	}
	if decoded.User["source"] != "unit-test" {
		t.Fatalf("user.source = %q, want unit-test", decoded.User["source"])
	}
}

func TestDecodeEnvelopeMissingVersionIsLegacy(t *testing.T) {
	decoded, err := DecodeEnvelope([]byte("gst.caps=video/x-raw\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Legacy {
		t.Fatal("envelope with no gst.version should decode as legacy")
	}
	if decoded.HasCaps {
		t.Fatal("legacy envelope must not populate other fields")
	}
}

func TestDecodeEnvelopeIncompatibleMajorIsLegacy(t *testing.T) {
	decoded, err := DecodeEnvelope([]byte("gst.version=2.0\ngst.caps=video/x-raw\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Legacy {
		t.Fatal("envelope with incompatible major version should decode as legacy")
	}
}

func TestDecodeEnvelopeIgnoresUnknownKeys(t *testing.T) {
	decoded, err := DecodeEnvelope([]byte("gst.version=1.0\ngst.future-field=surprise\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Legacy {
		t.Fatal("unknown keys alone should not force legacy decoding")
	}
}

func TestDecodeEnvelopeMalformedLineIgnored(t *testing.T) {
	decoded, err := DecodeEnvelope([]byte("gst.version=1.0\nnotakeyvaluepair\ngst.compression=lz4\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Compression != "lz4" {
		t.Fatalf("compression = %q, want lz4 despite a malformed line before it", decoded.Compression)
	}
}
