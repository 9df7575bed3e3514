package boot

import "sync/atomic"

// State is a step of the session state machine. The machine is linear:
// each state is entered only from its predecessor, and StateFailed can be
// entered from any non-terminal state.
type State uint32

const (
	StateInit State = iota
	StateAwaitReady
	StateAwaitTrigger
	StateSendLength
	StateAwaitAck
	StateSendBody
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateAwaitReady:
		return "AwaitReady"
	case StateAwaitTrigger:
		return "AwaitTrigger"
	case StateSendLength:
		return "SendLength"
	case StateAwaitAck:
		return "AwaitAck"
	case StateSendBody:
		return "SendBody"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// StateHandler is called after the session moved from prev to next.
type StateHandler func(prev State, next State)

// AtomicState holds a State that can be read from other goroutines while
// the session runs.
type AtomicState struct {
	state atomic.Uint32
}

func (st *AtomicState) String() string {
	return st.Get().String()
}

// Get returns the current state.
func (st *AtomicState) Get() State {
	return State(st.state.Load())
}

// Advance moves from the current state to its direct successor.
// It returns false if the current state is terminal.
func (st *AtomicState) Advance() (prev State, next State, ok bool) {
	prev = st.Get()
	if prev.IsTerminal() {
		return prev, prev, false
	}
	next = prev + 1

	return prev, next, st.state.CompareAndSwap(uint32(prev), uint32(next))
}

// Fail moves any non-terminal state to StateFailed.
func (st *AtomicState) Fail() (prev State, ok bool) {
	prev = st.Get()
	if prev.IsTerminal() {
		return prev, false
	}

	return prev, st.state.CompareAndSwap(uint32(prev), uint32(StateFailed))
}

func (st *AtomicState) IsDone() bool {
	return st.Get() == StateDone
}

func (st *AtomicState) IsFailed() bool {
	return st.Get() == StateFailed
}
