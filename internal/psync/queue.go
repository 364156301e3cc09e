package psync

import (
	"sync"
	"time"
)

// queueState is the rebuildable inner object of a Queue: an unbounded FIFO
// with a wait channel that is closed and replaced on every state change so
// any number of blocked getters re-check.
type queueState struct {
	mu     sync.Mutex
	items  []any
	wake   chan struct{}
	closed bool
}

func newQueueState() *queueState {
	return &queueState{wake: make(chan struct{})}
}

func (q *queueState) signal() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Queue is a process-aware unbounded FIFO queue.
type Queue struct {
	base[queueState]
}

// NewQueue returns an empty Queue owned by the current process.
func NewQueue() *Queue {
	return NewQueueWithPID(nil)
}

// NewQueueWithPID returns a Queue using a custom pid source.
func NewQueueWithPID(pid PIDSource) *Queue {
	q := &Queue{}
	q.base = newBase(pid, newQueueState)
	return q
}

// Put appends v. Puts to a closed queue are dropped.
func (q *Queue) Put(v any) {
	st := q.get()
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.items = append(st.items, v)
	st.signal()
}

// Get removes and returns the oldest item, waiting up to timeout for one to
// arrive. A timeout <= 0 blocks indefinitely. ok is false if the wait timed
// out or the queue was closed and drained.
func (q *Queue) Get(timeout time.Duration) (v any, ok bool) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	st := q.get()
	for {
		st.mu.Lock()
		if len(st.items) > 0 {
			v = st.items[0]
			st.items = st.items[1:]
			st.mu.Unlock()
			return v, true
		}
		if st.closed {
			st.mu.Unlock()
			return nil, false
		}
		wake := st.wake
		st.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return nil, false
		}
	}
}

// TryGet removes and returns the oldest item without blocking.
func (q *Queue) TryGet() (v any, ok bool) {
	st := q.get()
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.items) == 0 {
		return nil, false
	}
	v = st.items[0]
	st.items = st.items[1:]
	return v, true
}

// Empty reports whether the queue holds no items. A never-built queue is
// empty.
func (q *Queue) Empty() bool {
	if q.peek() == nil {
		return true
	}
	st := q.get()
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.items) == 0
}

// Full always reports false; the queue is unbounded. Kept so the queue can
// stand in for bounded-queue interfaces.
func (q *Queue) Full() bool {
	return false
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	if q.peek() == nil {
		return 0
	}
	st := q.get()
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.items)
}

// Close marks the queue closed. Blocked getters drain remaining items and
// then return ok=false. Closing a never-built queue is a no-op.
func (q *Queue) Close() {
	if q.peek() == nil {
		return
	}
	st := q.get()
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.closed {
		st.closed = true
		st.signal()
	}
}
