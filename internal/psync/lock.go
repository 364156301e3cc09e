package psync

import "sync"

// Lock is a process-aware mutual exclusion lock. It is not reentrant:
// acquiring it twice from the same goroutine deadlocks, as with sync.Mutex.
type Lock struct {
	base[sync.Mutex]
}

// NewLock returns a Lock owned by the current process.
func NewLock() *Lock {
	return NewLockWithPID(nil)
}

// NewLockWithPID returns a Lock using a custom pid source.
func NewLockWithPID(pid PIDSource) *Lock {
	l := &Lock{}
	l.base = newBase(pid, func() *sync.Mutex { return &sync.Mutex{} })
	return l
}

// Acquire blocks until the lock is held.
func (l *Lock) Acquire() {
	l.get().Lock()
}

// TryAcquire takes the lock if it is free and reports whether it did.
func (l *Lock) TryAcquire() bool {
	return l.get().TryLock()
}

// Release unlocks. Releasing a lock that was never built is a no-op, so a
// deferred Release stays safe across a process change.
func (l *Lock) Release() {
	if l.peek() == nil {
		return
	}
	l.get().Unlock()
}
