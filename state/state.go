package state

import (
	"errors"
	"sync"
)

// Lifecycle 会话生命周期状态
type Lifecycle int

const (
	Connecting Lifecycle = iota
	Joined
	Closed
)

func (l Lifecycle) String() string {
	switch l {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// ErrTransitionNotAllowed is returned when a lifecycle transition is not allowed.
var ErrTransitionNotAllowed = errors.New("lifecycle transition not allowed")

// Machine enforces the session lifecycle: Connecting → Joined → Closed,
// with Closed terminal and reachable from either earlier state. Close and
// error signals can fire redundantly on the same session; the machine
// guarantees the transition into Closed succeeds exactly once.
type Machine struct {
	current Lifecycle
	mutex   sync.Mutex
}

func NewMachine() *Machine {
	return &Machine{current: Connecting}
}

func (m *Machine) Current() Lifecycle {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.current
}

func (m *Machine) Advance(to Lifecycle) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !allowed(m.current, to) {
		return ErrTransitionNotAllowed
	}
	m.current = to
	return nil
}

func allowed(from, to Lifecycle) bool {
	switch from {
	case Connecting:
		return to == Joined || to == Closed
	case Joined:
		return to == Closed
	}
	return false
}
