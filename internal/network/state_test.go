package network

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleHappyPath(t *testing.T) {
	var l Lifecycle
	assert.Equal(t, StateIdle, l.Get())

	assert.True(t, l.Transition(StateIdle, StateStarting))
	assert.False(t, l.Transition(StateIdle, StateStarting))
	assert.True(t, l.Transition(StateStarting, StateRunning))

	prev, ok := l.BeginStop()
	assert.True(t, ok)
	assert.Equal(t, StateRunning, prev)
	assert.Equal(t, StateStopping, l.Get())

	_, ok = l.BeginStop()
	assert.False(t, ok)

	assert.True(t, l.Transition(StateStopping, StateIdle))
	assert.Equal(t, "idle", l.Get().String())
}

func TestLifecycleRejectsShortcuts(t *testing.T) {
	var l Lifecycle
	assert.False(t, l.Transition(StateIdle, StateRunning))
	assert.False(t, l.Transition(StateIdle, StateStopping))

	_, ok := l.BeginStop()
	assert.False(t, ok)

	l.Transition(StateIdle, StateStarting)
	assert.True(t, l.Transition(StateStarting, StateIdle))

	l.Transition(StateIdle, StateStarting)
	prev, ok := l.BeginStop()
	assert.True(t, ok)
	assert.Equal(t, StateStarting, prev)
	assert.False(t, l.Transition(StateStopping, StateRunning))
}

func TestErrorsUnwrap(t *testing.T) {
	assert.ErrorIs(t, &BindError{Port: 80, Err: io.ErrUnexpectedEOF}, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, &ConnectError{Addr: "x:1", Err: io.ErrUnexpectedEOF}, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, &IOError{Op: "read", Peer: "x", Err: io.EOF}, io.EOF)

	var stateErr *StateError
	wrapped := &BindError{Port: 1, Err: &StateError{Op: "start", State: StateRunning}}
	assert.True(t, errors.As(wrapped, &stateErr))
	assert.Equal(t, "start: invalid in state running", stateErr.Error())
}

func TestEmitterDropsWithoutChannel(t *testing.T) {
	var e *Emitter
	e.Status("", "nobody listens")
	NewEmitter(nil).Message("", "still nobody")

	ch := make(chan Event, 1)
	NewEmitter(ch).Error("10.0.0.1", "boom", io.EOF)
	ev := <-ch
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "10.0.0.1", ev.Peer)
	assert.ErrorIs(t, ev.Err, io.EOF)
	assert.False(t, ev.Time.IsZero())
}
