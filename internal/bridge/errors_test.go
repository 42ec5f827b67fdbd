package bridge

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsKindMatchesWrappedError(t *testing.T) {
	base := newErr("Op", KindPublish, errors.New("broker unreachable"))
	wrapped := fmt.Errorf("context: %w", base)
	if !IsKind(wrapped, KindPublish) {
		t.Fatal("IsKind should see through fmt.Errorf wrapping")
	}
	if IsKind(wrapped, KindReceive) {
		t.Fatal("IsKind should not match a different kind")
	}
}

func TestIsKindFalseForPlainError(t *testing.T) {
	if IsKind(errors.New("plain"), KindPublish) {
		t.Fatal("a plain error should never match any Kind")
	}
}

func TestErrorMessageIncludesOpKindAndCause(t *testing.T) {
	err := newErr("Subscriber.Create", KindStreamCorrupt, errors.New("bad envelope"))
	msg := err.Error()
	for _, want := range []string{"Subscriber.Create", "stream_corrupt", "bad envelope"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
