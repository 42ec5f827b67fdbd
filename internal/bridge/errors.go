package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge error independent of any transport
// library's own error vocabulary, per spec §7.
type Kind string

const (
	// KindResourceInit is raised when session open or publisher/
	// subscriber declaration failed at Null->Ready.
	KindResourceInit Kind = "resource_init"
	// KindResourceName is raised for an empty or syntactically
	// invalid resource name at the start of a state transition.
	KindResourceName Kind = "resource_name"
	// KindPublish is raised when the transport's put failed.
	KindPublish Kind = "publish"
	// KindReceive is raised on non-timeout transport receive failure.
	KindReceive Kind = "receive"
	// KindStreamCorrupt is raised on envelope parse or decompression
	// failure for a tag this build understands.
	KindStreamCorrupt Kind = "stream_corrupt"
	// KindFeatureMissing is raised when the envelope names a
	// compression tag this build does not have compiled in.
	KindFeatureMissing Kind = "feature_missing"
	// KindStateConflict is raised by a concurrent or invalid state
	// transition request.
	KindStateConflict Kind = "state_conflict"
)

// errNotStarted is the cause wrapped into KindResourceInit when
// Demux.Play finds no subscription declared by Start.
var errNotStarted = errors.New("element not started")

// Error wraps an underlying cause with the Kind classification from
// spec §7 and the operation that raised it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newErr builds an *Error, wrapping err if non-nil.
func newErr(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err (or any error it wraps) is a *Error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Kind == kind
}
