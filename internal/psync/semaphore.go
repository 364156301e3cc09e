package psync

import "time"

// Semaphore is a process-aware counting semaphore.
type Semaphore struct {
	base[chan struct{}]
	permits int
}

// NewSemaphore returns a semaphore with the given number of permits.
func NewSemaphore(permits int) *Semaphore {
	return NewSemaphoreWithPID(permits, nil)
}

// NewSemaphoreWithPID returns a semaphore using a custom pid source.
func NewSemaphoreWithPID(permits int, pid PIDSource) *Semaphore {
	if permits < 1 {
		permits = 1
	}
	s := &Semaphore{permits: permits}
	s.base = newBase(pid, func() *chan struct{} {
		ch := make(chan struct{}, permits)
		for i := 0; i < permits; i++ {
			ch <- struct{}{}
		}
		return &ch
	})
	return s
}

// Acquire takes a permit, waiting up to timeout. A timeout <= 0 blocks
// until a permit is available. Reports whether a permit was taken.
func (s *Semaphore) Acquire(timeout time.Duration) bool {
	ch := *s.get()
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

// Release returns a permit. Releasing beyond the initial count is dropped
// silently rather than growing the semaphore.
func (s *Semaphore) Release() {
	if s.peek() == nil {
		return
	}
	select {
	case *s.get() <- struct{}{}:
	default:
	}
}

// Value reports the number of currently available permits.
func (s *Semaphore) Value() int {
	return len(*s.get())
}
