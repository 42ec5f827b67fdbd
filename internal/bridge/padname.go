package bridge

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// PadNamingStrategy selects how the demultiplexer turns a concrete
// resource name into an output port name (spec §4.5).
type PadNamingStrategy int

const (
	PadNamingFullPath PadNamingStrategy = iota
	PadNamingLastSegment
	PadNamingHash
)

func (s PadNamingStrategy) String() string {
	switch s {
	case PadNamingFullPath:
		return "full-path"
	case PadNamingLastSegment:
		return "last-segment"
	case PadNamingHash:
		return "hash"
	default:
		return "unknown"
	}
}

// ParsePadNamingStrategy parses the configuration surface's
// pad-naming string (spec §6).
func ParsePadNamingStrategy(s string) (PadNamingStrategy, bool) {
	switch s {
	case "full-path":
		return PadNamingFullPath, true
	case "last-segment":
		return PadNamingLastSegment, true
	case "hash":
		return PadNamingHash, true
	default:
		return 0, false
	}
}

// PortName computes the output port name for resourceName under
// strategy, per spec §4.5:
//   - full-path: replace all '/' with '_', substitute "wildcard" for
//     any '*'.
//   - last-segment: the final segment after the last '/'.
//   - hash: a stable short hex digest of resourceName.
func PortName(strategy PadNamingStrategy, resourceName string) string {
	switch strategy {
	case PadNamingLastSegment:
		if idx := strings.LastIndexByte(resourceName, '/'); idx >= 0 {
			return resourceName[idx+1:]
		}
		return resourceName
	case PadNamingHash:
		sum := xxhash.Sum64String(resourceName)
		return strconv.FormatUint(sum, 16)
	case PadNamingFullPath:
		fallthrough
	default:
		replaced := strings.ReplaceAll(resourceName, "/", "_")
		replaced = strings.ReplaceAll(replaced, "*", "wildcard")
		return replaced
	}
}
