// Package framework is the seam between the bridge core and the host
// multimedia-pipeline framework. It declares the minimal contract the
// real framework (buffers, caps, ports, scheduler) must offer; it is
// not itself a binding to any particular framework's C API. Spec-wise
// this stands in for the "external collaborator" noted out of scope:
// a real plugin shim translates the host's native buffer/pad/property
// types to and from the structs here.
package framework

import "time"

// BufferFlags mirrors the fixed symbolic flag set the envelope codec
// carries across the wire (see bridge/envelope.go).
type BufferFlags uint8

const (
	FlagLive BufferFlags = 1 << iota
	FlagDiscont
	FlagDelta
	FlagHeader
	FlagGap
	FlagDroppable
	FlagMarker
)

// Buffer is a timed chunk of media data as the host framework
// represents it. Whether a timing or offset field is set is tracked by
// the HasX accessors, not by the field's value, since zero is a valid
// PTS.
type Buffer struct {
	Data     []byte
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration
	Offset   uint64
	OffsetEnd uint64
	Flags    BufferFlags

	hasPTS, hasDTS, hasDuration, hasOffset, hasOffsetEnd bool
}

// NoTime indicates an absent timestamp; use the HasX accessors rather
// than comparing against a sentinel duration.
const NoTime time.Duration = -1

// SetPTS, SetDTS and SetDuration record a present timing field;
// omitting them leaves the corresponding Has* accessor false so the
// envelope codec can distinguish "zero" from "absent".
func (b *Buffer) SetPTS(d time.Duration)      { b.PTS = d; b.hasPTS = true }
func (b *Buffer) SetDTS(d time.Duration)      { b.DTS = d; b.hasDTS = true }
func (b *Buffer) SetDuration(d time.Duration) { b.Duration = d; b.hasDuration = true }
func (b *Buffer) SetOffset(o uint64)          { b.Offset = o; b.hasOffset = true }
func (b *Buffer) SetOffsetEnd(o uint64)       { b.OffsetEnd = o; b.hasOffsetEnd = true }

func (b *Buffer) HasPTS() bool       { return b.hasPTS }
func (b *Buffer) HasDTS() bool       { return b.hasDTS }
func (b *Buffer) HasDuration() bool  { return b.hasDuration }
func (b *Buffer) HasOffset() bool    { return b.hasOffset }
func (b *Buffer) HasOffsetEnd() bool { return b.hasOffsetEnd }

// Caps is an opaque, serialised negotiated-media-capabilities string
// (format owned by the host framework; the core never parses it).
type Caps string

// Port represents an element pad created at runtime, as in the
// demultiplexer's one-port-per-resource-name behaviour.
type Port struct {
	Name string
}

// Sink is what a subscriber/demux element pushes reconstructed buffers
// (and caps, stream-start and segment events) out to; the publisher
// does not use it.
// The real shim implements this against the host framework's pad/push
// API; tests use an in-memory recorder.
type Sink interface {
	// PushCaps is called before the first buffer of a caps change.
	PushCaps(port string, caps Caps) error
	// PushStreamStart and PushSegment are emitted once before the
	// first buffer on a newly created demux port.
	PushStreamStart(port string) error
	PushSegment(port string) error
	// PushBuffer delivers a reconstructed buffer on the named port
	// ("" for single-output elements).
	PushBuffer(port string, buf *Buffer) error
	// AddPort is called the first time the demultiplexer observes an
	// unseen concrete resource name; it must be safe to call from the
	// transport's delivery thread.
	AddPort(name string) error
}
