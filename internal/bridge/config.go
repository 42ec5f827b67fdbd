package bridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zenoh-gst/bridge/internal/transport"
)

// Config holds the element configuration surface from spec §6. Fields
// are grouped by the locking rule in spec §4.1: declaration fields
// feed publisher/subscriber declaration and lock once the owning
// element reaches Ready or above; per-buffer fields may change in any
// state.
type Config struct {
	// --- declaration fields: locked at Ready and above ---

	KeyExpr           string
	TransportConfig   string
	QoS               transport.QoS
	SessionGroup      string

	// --- per-buffer fields: mutable in any state ---

	SendCaps         bool
	CapsIntervalSec  int
	SendBufferMeta   bool
	ApplyBufferMeta  bool
	Compression      string
	CompressionLevel int
	ReceiveTimeoutMS int

	// PadNaming selects the demultiplexer's port-name strategy.
	PadNaming PadNamingStrategy
}

// DefaultConfig returns a Config with the spec's documented defaults:
// best-effort reliability, block congestion control, priority 4 (the
// unweighted midpoint), a 1s receive timeout and full-path pad naming.
func DefaultConfig() Config {
	return Config{
		QoS: transport.QoS{
			Priority:          4,
			Reliability:       transport.BestEffort,
			CongestionControl: transport.CongestionBlock,
		},
		ReceiveTimeoutMS: 1000,
		CompressionLevel: 3,
		PadNaming:        PadNamingFullPath,
	}
}

// Validate checks the declaration fields that are syntactically
// checkable independent of any transport. Resource-name validity per
// spec §7's KindResourceName is checked here: empty names are
// rejected, as are names containing a blank path segment.
func (c Config) Validate() error {
	if c.KeyExpr == "" {
		return newErr("Config.Validate", KindResourceName, fmt.Errorf("key-expr must not be empty"))
	}
	for _, seg := range strings.Split(c.KeyExpr, "/") {
		if seg == "" {
			return newErr("Config.Validate", KindResourceName,
				fmt.Errorf("key-expr %q contains an empty path segment", c.KeyExpr))
		}
	}
	if c.QoS.Priority < 1 || c.QoS.Priority > 7 {
		return fmt.Errorf("priority must be in 1..7, got %d", c.QoS.Priority)
	}
	return nil
}

// LockedConfig guards the declaration fields of a Config behind a
// mutex and enforces spec §4.1's rule that they may only be mutated
// while the owning element is below Ready. Per-buffer fields are
// exposed directly via the embedded Config's copy returned by
// Snapshot and may be updated with SetMutable regardless of state.
type LockedConfig struct {
	mu     sync.RWMutex
	cfg    Config
	sm     *StateMachine
}

// NewLockedConfig wraps cfg, checked against sm's state on every
// mutation of a declaration field.
func NewLockedConfig(cfg Config, sm *StateMachine) *LockedConfig {
	return &LockedConfig{cfg: cfg, sm: sm}
}

// Snapshot returns a copy of the current configuration. Safe to call
// from the data path; never holds the lock across a transport call.
func (l *LockedConfig) Snapshot() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// SetDeclaration updates a declaration field via mutate. It fails if
// the owning element is at Ready or above, per spec §4.1.
func (l *LockedConfig) SetDeclaration(mutate func(*Config)) error {
	if phase := l.sm.State(); phase != StateNull {
		return newErr("Config.SetDeclaration", KindStateConflict,
			fmt.Errorf("declaration fields are locked once the element reaches %s", phase))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	mutate(&l.cfg)
	return l.cfg.Validate()
}

// SetMutable updates a per-buffer field. Legal in any state.
func (l *LockedConfig) SetMutable(mutate func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mutate(&l.cfg)
}
