package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zenoh-gst/bridge/internal/framework"
)

// EnvelopeVersion is the format version this build writes and the
// major component it requires on receive (spec §4.2: "receivers must
// accept values whose major component matches what they understand
// and ignore unknown minor upgrades").
const EnvelopeVersion = "1.0"

const envelopeMajor = 1

// Envelope is the strongly-typed record the wire's line-based
// key=value attachment decodes into (spec §9: "represent the envelope
// as a strongly-typed record with optional fields; parse by iterating
// lines; ignore unknown keys").
type Envelope struct {
	// Legacy is true when the attachment carried no gst.version key
	// (or one whose major component this build does not understand).
	// No other field is populated when Legacy is true.
	Legacy bool

	Caps        framework.Caps
	HasCaps     bool
	PTS         *int64 // nanoseconds
	DTS         *int64
	Duration    *int64
	Offset      *int64
	OffsetEnd   *int64
	Flags       framework.BufferFlags
	HasFlags    bool
	Compression string // "" means no compression tag present
	KeyExpr     string // zenoh.key-expr, set only for demux routing
	User        map[string]string
}

var flagNames = []struct {
	flag framework.BufferFlags
	name string
}{
	{framework.FlagLive, "live"},
	{framework.FlagDiscont, "discont"},
	{framework.FlagDelta, "delta"},
	{framework.FlagHeader, "header"},
	{framework.FlagGap, "gap"},
	{framework.FlagDroppable, "droppable"},
	{framework.FlagMarker, "marker"},
}

func formatFlags(f framework.BufferFlags) string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

func parseFlags(s string) framework.BufferFlags {
	var f framework.BufferFlags
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		for _, fn := range flagNames {
			if fn.name == tok {
				f |= fn.flag
			}
		}
	}
	return f
}

// Encode renders e as the line-based key=value attachment described
// in spec §4.2. Values are written verbatim: a newline inside a value
// is not escaped and splits it across two lines.
func (e Envelope) Encode() []byte {
	var b strings.Builder
	writeLine := func(k, v string) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}

	writeLine("gst.version", EnvelopeVersion)
	if e.HasCaps {
		writeLine("gst.caps", string(e.Caps))
	}
	if e.PTS != nil {
		writeLine("gst.pts", strconv.FormatInt(*e.PTS, 10))
	}
	if e.DTS != nil {
		writeLine("gst.dts", strconv.FormatInt(*e.DTS, 10))
	}
	if e.Duration != nil {
		writeLine("gst.duration", strconv.FormatInt(*e.Duration, 10))
	}
	if e.Offset != nil {
		writeLine("gst.offset", strconv.FormatInt(*e.Offset, 10))
	}
	if e.OffsetEnd != nil {
		writeLine("gst.offset-end", strconv.FormatInt(*e.OffsetEnd, 10))
	}
	if e.HasFlags {
		writeLine("gst.flags", formatFlags(e.Flags))
	}
	if e.Compression != "" {
		writeLine("gst.compression", e.Compression)
	}
	if e.KeyExpr != "" {
		writeLine("zenoh.key-expr", e.KeyExpr)
	}
	for k, v := range e.User {
		writeLine("user."+k, v)
	}
	return []byte(b.String())
}

// DecodeEnvelope parses a wire attachment. A missing or
// major-incompatible gst.version yields Envelope{Legacy: true} with no
// other field applied, per spec §4.2 and the boundary behavior in
// spec §8.7.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	lines := strings.Split(string(raw), "\n")

	kv := make(map[string][]string, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue // malformed line; ignore rather than fail the whole envelope
		}
		key, val := line[:idx], line[idx+1:]
		if _, ok := kv[key]; !ok {
			order = append(order, key)
		}
		kv[key] = append(kv[key], val)
	}

	version, ok := kv["gst.version"]
	if !ok || len(version) == 0 {
		return Envelope{Legacy: true}, nil
	}
	major, _, err := splitVersion(version[0])
	if err != nil || major != envelopeMajor {
		return Envelope{Legacy: true}, nil
	}

	e := Envelope{User: map[string]string{}}
	for _, key := range order {
		v := kv[key][0]
		switch {
		case key == "gst.caps":
			e.Caps = framework.Caps(v)
			e.HasCaps = true
		case key == "gst.pts":
			n, err := strconv.ParseInt(v, 10, 64)
			if err == nil {
				e.PTS = &n
			}
		case key == "gst.dts":
			n, err := strconv.ParseInt(v, 10, 64)
			if err == nil {
				e.DTS = &n
			}
		case key == "gst.duration":
			n, err := strconv.ParseInt(v, 10, 64)
			if err == nil {
				e.Duration = &n
			}
		case key == "gst.offset":
			n, err := strconv.ParseInt(v, 10, 64)
			if err == nil {
				e.Offset = &n
			}
		case key == "gst.offset-end":
			n, err := strconv.ParseInt(v, 10, 64)
			if err == nil {
				e.OffsetEnd = &n
			}
		case key == "gst.flags":
			e.Flags = parseFlags(v)
			e.HasFlags = true
		case key == "gst.compression":
			e.Compression = v
		case key == "zenoh.key-expr":
			e.KeyExpr = v
		case strings.HasPrefix(key, "user."):
			e.User[strings.TrimPrefix(key, "user.")] = v
		}
		// Unknown keys are ignored; the core has no forwarding path
		// that would need to preserve them (spec §4.2).
	}
	return e, nil
}

func splitVersion(s string) (major, minor int, err error) {
	parts := strings.SplitN(s, ".", 2)
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid version %q: %w", s, err)
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor, nil
}
