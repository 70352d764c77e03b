package network

import "sync"

// State is the lifecycle shared by Host and Client.
//
//	Idle -> Starting -> Running -> Stopping -> Idle
//
// A failed start goes from Starting straight back to Idle.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Lifecycle guards a State with a mutex and only allows the documented transitions.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// Get returns the current state.
func (l *Lifecycle) Get() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Transition moves from one state to another and reports whether it happened.
func (l *Lifecycle) Transition(from, to State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from || !allowed(from, to) {
		return false
	}
	l.state = to
	return true
}

// BeginStop moves Starting or Running to Stopping and returns the previous state.
// ok is false when there is nothing to stop.
func (l *Lifecycle) BeginStop() (prev State, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev = l.state
	if prev != StateStarting && prev != StateRunning {
		return prev, false
	}
	l.state = StateStopping
	return prev, true
}

func allowed(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateStarting
	case StateStarting:
		return to == StateRunning || to == StateIdle || to == StateStopping
	case StateRunning:
		return to == StateStopping
	case StateStopping:
		return to == StateIdle
	}
	return false
}
