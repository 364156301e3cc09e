// Package callpool provides a per-process background call pool: one worker
// goroutine per process draining fire-and-forget calls in FIFO order.
// Callers use it to move blocking work (queue flushes, uploads) off their
// own goroutine without ever being exposed to a callee failure.
package callpool

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AH-Merii/clearml/internal/psync"
)

// pollInterval is how often the idle worker re-checks its queue, mirroring
// the bounded get the drain loop relies on during close.
const pollInterval = time.Second

// Pool runs queued calls on a single dedicated worker goroutine. Calls are
// executed in enqueue order; a panicking call is recovered and dropped so
// the worker survives any caller failure.
type Pool struct {
	queue  *psync.Queue
	done   chan struct{}
	closed atomic.Bool
	logger *slog.Logger
}

// New starts a pool with a running worker.
func New(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:  psync.NewQueue(),
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.worker()
	return p
}

// IsAlive reports whether the worker is still running.
func (p *Pool) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return !p.closed.Load()
	}
}

// ApplyAsync enqueues fn for execution on the worker. Returns false when fn
// is nil or the pool is closed.
func (p *Pool) ApplyAsync(fn func()) bool {
	if fn == nil || p.closed.Load() {
		return false
	}
	p.queue.Put(fn)
	return true
}

// Close sends the stop sentinel and waits up to timeout for the worker to
// drain. The wait is advisory: a stuck call is abandoned, not aborted.
func (p *Pool) Close(timeout time.Duration) {
	if p.closed.Swap(true) {
		return
	}
	p.queue.Put(nil)
	select {
	case <-p.done:
	case <-time.After(timeout):
		p.logger.Warn("call pool worker did not drain in time", "timeout", timeout)
	}
}

// Pending reports the number of calls waiting for the worker.
func (p *Pool) Pending() int {
	return p.queue.Len()
}

func (p *Pool) worker() {
	defer close(p.done)
	for {
		v, ok := p.queue.Get(pollInterval)
		if !ok {
			continue
		}
		if v == nil {
			return
		}
		fn, ok := v.(func())
		if !ok {
			continue
		}
		p.run(fn)
	}
}

func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("queued call panicked", "panic", r)
		}
	}()
	fn()
}
