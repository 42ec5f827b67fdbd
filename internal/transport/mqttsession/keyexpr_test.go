package mqttsession

import "testing"

func TestToMQTTTopic(t *testing.T) {
	cases := map[string]string{
		"camera/1/frame": "camera/1/frame",
		"camera/*/frame": "camera/+/frame",
		"camera/**":       "camera/#",
	}
	for in, want := range cases {
		got, err := toMQTTTopic(in)
		if err != nil {
			t.Fatalf("toMQTTTopic(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("toMQTTTopic(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToMQTTTopicRejectsNonTrailingDoubleStar(t *testing.T) {
	if _, err := toMQTTTopic("camera/**/frame"); err == nil {
		t.Fatal("expected an error for '**' not in the final segment")
	}
}

func TestToMQTTTopicRejectsEmbeddedWildcard(t *testing.T) {
	if _, err := toMQTTTopic("camera/a*b/frame"); err == nil {
		t.Fatal("expected an error for a wildcard embedded in a larger segment")
	}
}

func TestMatchKeyExpr(t *testing.T) {
	cases := []struct {
		pattern, candidate string
		want               bool
	}{
		{"camera/*/frame", "camera/1/frame", true},
		{"camera/*/frame", "camera/1/2/frame", false},
		{"camera/**", "camera/1/frame", true},
		{"camera/**", "camera", true},
		{"camera/1/frame", "camera/1/frame", true},
		{"camera/1/frame", "camera/2/frame", false},
	}
	for _, c := range cases {
		if got := matchKeyExpr(c.pattern, c.candidate); got != c.want {
			t.Errorf("matchKeyExpr(%q, %q) = %v, want %v", c.pattern, c.candidate, got, c.want)
		}
	}
}

func TestMatchMQTTTopic(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"camera/+/frame", "camera/1/frame", true},
		{"camera/#", "camera/1/frame", true},
		{"camera/#", "camera", true},
		{"camera/1/frame", "camera/2/frame", false},
	}
	for _, c := range cases {
		if got := matchMQTTTopic(c.filter, c.topic); got != c.want {
			t.Errorf("matchMQTTTopic(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
		}
	}
}

func TestPresenceBucket(t *testing.T) {
	cases := map[string]string{
		"camera/1/frame": "camera",
		"camera/**":       "camera",
		"*/temp":          "_",
	}
	for in, want := range cases {
		if got := presenceBucket(in); got != want {
			t.Errorf("presenceBucket(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWireMessageRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	attachment := []byte("gst.version=1.0\ngst.caps=video/x-raw\n")

	framed := encodeWireMessage(payload, attachment)
	gotPayload, gotAttachment, err := decodeWireMessage(framed)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(gotPayload) != string(payload) {
		t.Fatalf("payload = %q, want %q", gotPayload, payload)
	}
	if string(gotAttachment) != string(attachment) {
		t.Fatalf("attachment = %q, want %q", gotAttachment, attachment)
	}
}

func TestDecodeWireMessageRejectsTruncated(t *testing.T) {
	if _, _, err := decodeWireMessage([]byte{0, 0}); err == nil {
		t.Fatal("expected an error for a message shorter than the length prefix")
	}
}
