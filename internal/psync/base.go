package psync

import (
	"os"
	"sync/atomic"
	"time"
)

// guardTimeout bounds how long a rebuild waits for the package guard.
// If the guard cannot be taken in that window we assume a stale holder and
// proceed best-effort rather than deadlock.
const guardTimeout = 90 * time.Second

// guard serializes inner-object rebuilds across all primitives in the
// process. A channel semaphore keeps both acquire-with-timeout and
// release-without-acquire tolerant.
var guard = make(chan struct{}, 1)

func guardAcquire() {
	select {
	case guard <- struct{}{}:
	case <-time.After(guardTimeout):
	}
}

func guardRelease() {
	select {
	case <-guard:
	default:
	}
}

// PIDSource reports the owning process id. The default is os.Getpid.
type PIDSource func() int

// base carries the rebuild machinery shared by every primitive.
// The inner object and owner pid are stored atomically so the fast path
// needs no lock. Order matters on rebuild: the inner object is published
// before the owner pid, so a racing reader can at worst rebuild again, it
// can never observe a stale inner object under the new pid.
type base[T any] struct {
	pid     PIDSource
	factory func() *T
	inner   atomic.Pointer[T]
	owner   atomic.Int64
	rebuilt atomic.Uint64
}

func newBase[T any](pid PIDSource, factory func() *T) base[T] {
	if pid == nil {
		pid = os.Getpid
	}
	return base[T]{pid: pid, factory: factory}
}

// get returns the inner object for the current process, rebuilding it if
// this is the first touch or the process id changed.
func (b *base[T]) get() *T {
	cur := b.inner.Load()
	if cur != nil && b.owner.Load() == int64(b.pid()) {
		return cur
	}
	guardAcquire()
	defer guardRelease()
	cur = b.inner.Load()
	if cur == nil || b.owner.Load() != int64(b.pid()) {
		cur = b.factory()
		b.inner.Store(cur)
		b.owner.Store(int64(b.pid()))
		b.rebuilt.Add(1)
	}
	return cur
}

// peek returns the inner object without triggering a rebuild, or nil if it
// was never built in any process generation.
func (b *base[T]) peek() *T {
	return b.inner.Load()
}

// Rebuilds reports how many times the inner object has been (re)built.
// Intended for tests asserting that a pid change replaced the primitive.
func (b *base[T]) Rebuilds() uint64 {
	return b.rebuilt.Load()
}
