package psync

import (
	"sync"
	"time"
)

// eventState is the rebuildable inner object of an Event.
type eventState struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newEventState() *eventState {
	return &eventState{ch: make(chan struct{})}
}

// Event is a process-aware manual-reset event.
type Event struct {
	base[eventState]
}

// NewEvent returns a cleared Event owned by the current process.
func NewEvent() *Event {
	return NewEventWithPID(nil)
}

// NewEventWithPID returns an Event using a custom pid source.
func NewEventWithPID(pid PIDSource) *Event {
	e := &Event{}
	e.base = newBase(pid, newEventState)
	return e
}

// Set wakes all current and future waiters until Clear is called.
func (e *Event) Set() {
	st := e.get()
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.set {
		st.set = true
		close(st.ch)
	}
}

// Clear resets the event. Clearing a never-built event is a no-op.
func (e *Event) Clear() {
	if e.peek() == nil {
		return
	}
	st := e.get()
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.set {
		st.set = false
		st.ch = make(chan struct{})
	}
}

// IsSet reports whether the event is set.
func (e *Event) IsSet() bool {
	st := e.get()
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.set
}

// Wait blocks until the event is set or timeout elapses. A timeout <= 0
// blocks indefinitely. Reports whether the event was set.
func (e *Event) Wait(timeout time.Duration) bool {
	st := e.get()
	st.mu.Lock()
	ch := st.ch
	if st.set {
		st.mu.Unlock()
		return true
	}
	st.mu.Unlock()

	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
