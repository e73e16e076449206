package vto

import (
	"sync"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/engine"
)

type eventKind int

const (
	evRequest eventKind = iota
	evSettled
	evLoaded
	evPolled
	evAcquired
	evReady
	evReadySettled
	evEngineError
	evLoadingStart
	evLoadingEnd
)

var eventNames = [...]string{
	evRequest:      "request",
	evSettled:      "settled",
	evLoaded:       "loaded",
	evPolled:       "polled",
	evAcquired:     "acquired",
	evReady:        "ready",
	evReadySettled: "ready_settled",
	evEngineError:  "engine_error",
	evLoadingStart: "loading_start",
	evLoadingEnd:   "loading_end",
}

func (k eventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// event is one message for the controller loop. gen is the boot attempt
// the event belongs to; requests are not tied to an attempt.
type event struct {
	kind eventKind
	gen  uint64

	handle *engine.Handle
	stream *camera.Stream
	ok     bool
	label  string
	err    error

	op    string
	fn    func() bool
	reply chan bool
}

// mailbox is an unbounded queue feeding the loop. push never blocks, so
// engine callbacks may post even when invoked from the loop itself.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// push enqueues ev. It returns false once the mailbox is closed.
func (m *mailbox) push(ev event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

// close rejects further pushes and returns anything still queued.
func (m *mailbox) close() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	q := m.queue
	m.queue = nil
	return q
}
