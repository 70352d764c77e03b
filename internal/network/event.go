package network

import "time"

// EventKind classifies a notification emitted by a Host or Client.
type EventKind int

const (
	// EventStatus is a lifecycle line such as "Server started on port 4000".
	EventStatus EventKind = iota
	// EventMessage is a chat line, either relayed or typed by the owner.
	EventMessage
	// EventError is a failure converted into a notification. Err is set.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one human-readable notification for the owner of a Host or Client.
type Event struct {
	Kind EventKind
	Text string
	// Peer is the remote address the event relates to, if any.
	Peer string
	Err  error
	Time time.Time
}

// Emitter delivers events to an owner-supplied channel.
// A nil Emitter or nil channel drops events.
type Emitter struct {
	ch chan<- Event
}

// NewEmitter wraps ch. The owner must keep draining ch while the component runs.
func NewEmitter(ch chan<- Event) *Emitter {
	return &Emitter{ch: ch}
}

// Emit sends one event, blocking until the owner receives it.
func (e *Emitter) Emit(kind EventKind, peer, text string, err error) {
	if e == nil || e.ch == nil {
		return
	}
	e.ch <- Event{Kind: kind, Text: text, Peer: peer, Err: err, Time: time.Now().UTC()}
}

// Status emits an EventStatus.
func (e *Emitter) Status(peer, text string) {
	e.Emit(EventStatus, peer, text, nil)
}

// Message emits an EventMessage.
func (e *Emitter) Message(peer, text string) {
	e.Emit(EventMessage, peer, text, nil)
}

// Error emits an EventError.
func (e *Emitter) Error(peer, text string, err error) {
	e.Emit(EventError, peer, text, err)
}
