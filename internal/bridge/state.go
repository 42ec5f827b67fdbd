package bridge

import (
	"fmt"
	"sync"
)

// State is one of the five element states the host framework drives
// per spec §4.1. StateStarting and StateStopping are transient and
// only ever observed via CurrentPhase while a transition's action is
// running; they are never a StateMachine's resting state.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
	StateStarting
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateStarting:
		return "starting"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateMachine drives the common four-phase lifecycle shared by the
// publisher, subscriber and demultiplexer elements (spec §4.1). It is
// a closed variant over the five resting states; Starting/Stopping
// exist only as the transient guard that makes transitions total and
// rejects reentrant requests with KindStateConflict.
type StateMachine struct {
	mu    sync.Mutex
	state State
	busy  bool
	up    bool // direction of the in-flight transition, valid iff busy
}

// NewStateMachine returns a machine resting in StateNull.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateNull}
}

// State returns the current resting state. While a transition's
// action is running this still reports the state being left, not the
// transient phase; use CurrentPhase for that.
func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// CurrentPhase reports StateStarting/StateStopping while a transition
// is in flight, or the resting state otherwise.
func (sm *StateMachine) CurrentPhase() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.busy {
		return sm.state
	}
	if sm.up {
		return StateStarting
	}
	return StateStopping
}

// Transition runs action and, on success, moves the machine to
// target. Repeating a request for the state the machine is already
// resting in is a no-op success (idempotent). A transition already in
// flight causes a concurrent request to fail immediately with
// KindStateConflict rather than queue or block — the caller is
// expected to retry once its own transition (or the racing one)
// completes.
func (sm *StateMachine) Transition(op string, target State, action func() error) error {
	sm.mu.Lock()
	if sm.state == target {
		sm.mu.Unlock()
		return nil
	}
	if sm.busy {
		sm.mu.Unlock()
		return newErr(op, KindStateConflict, fmt.Errorf("transition to %s already in flight", target))
	}
	sm.busy = true
	sm.up = target > sm.state
	from := sm.state
	sm.mu.Unlock()

	err := action()

	sm.mu.Lock()
	sm.busy = false
	if err == nil {
		sm.state = target
	}
	sm.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%s: %s -> %s: %w", op, from, target, err)
	}
	return nil
}
