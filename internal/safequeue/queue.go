// Package safequeue implements the many-writer/single-reader report queue
// shared between a task process and its companion. Writes are serialized,
// counted in a per-process pending ledger, and flushed asynchronously by
// the process's call pool; reads are relayed off the pipe by a dedicated
// goroutine so consumers block on a cheap in-process queue instead of the
// transport.
package safequeue

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AH-Merii/clearml/internal/callpool"
	"github.com/AH-Merii/clearml/internal/psync"
)

// ErrTimeout is returned by Get when no item arrived in time.
var ErrTimeout = errors.New("safequeue: get timed out")

// ErrClosed is returned by Get once the transport reached EOF and the relay
// drained.
var ErrClosed = errors.New("safequeue: queue closed")

// closePollInterval paces the drain barrier in Close.
const closePollInterval = 100 * time.Millisecond

// Transport is the framed pipe the queue rides on.
type Transport interface {
	WriteFrame([]byte) error
	ReadFrame() ([]byte, error)
	Readable() bool
}

// Waker is signaled on each drain-barrier iteration, typically to wake a
// monitor loop that performs the flushing.
type Waker interface {
	Set()
}

// Options configures a Queue.
type Options struct {
	Codec     Codec
	Transport Transport
	Pool      *callpool.Registry
	// AtExit reports whether the process is shutting down; puts then flush
	// synchronously instead of racing teardown against the pool worker.
	AtExit func() bool
	PID    psync.PIDSource
	Logger *slog.Logger
	// OnFlush is invoked after every successful transport write (metrics).
	OnFlush func()
	// OnDrop is invoked when a transport write fails (metrics).
	OnDrop func()
}

// Queue is a multi-writer/single-reader interprocess queue.
type Queue struct {
	codec   Codec
	tr      Transport
	pool    *callpool.Registry
	atExit  func() bool
	pid     psync.PIDSource
	logger  *slog.Logger
	onFlush func()
	onDrop  func()

	pending *ledger

	relayMu      sync.Mutex
	relay        *psync.Queue
	relayStarted bool
	relayEOF     atomic.Bool
}

// New builds a queue. Transport is required; everything else has defaults.
func New(opts Options) *Queue {
	if opts.Codec == nil {
		opts.Codec = GobCodec{}
	}
	if opts.PID == nil {
		opts.PID = os.Getpid
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Pool == nil {
		opts.Pool = callpool.NewRegistry(opts.PID, opts.Logger)
	}
	if opts.AtExit == nil {
		opts.AtExit = func() bool { return false }
	}
	return &Queue{
		codec:   opts.Codec,
		tr:      opts.Transport,
		pool:    opts.Pool,
		atExit:  opts.AtExit,
		pid:     opts.PID,
		logger:  opts.Logger,
		onFlush: opts.OnFlush,
		onDrop:  opts.OnDrop,
		pending: newLedger(),
	}
}

// Put serializes v and hands the transport write to the call pool. It never
// fails the caller on the asynchronous path; the only surfaced error is a
// write failure on the synchronous at-exit path, which the shutdown
// sequence needs to see.
func (q *Queue) Put(v any) error {
	pid := q.pid()
	q.pending.inc(pid)

	data, err := q.codec.Encode(v)
	if err != nil {
		q.pending.dec(pid)
		q.logger.Debug("queue put dropped: encode failed", "error", err)
		return nil
	}

	if q.atExit() {
		return q.write(data, true)
	}

	flush := func() { q.write(data, false) } //nolint:errcheck
	if !q.pool.Get().ApplyAsync(flush) {
		q.pending.dec(pid)
	}
	return nil
}

// write performs the transport write, settling the ledger. On failure the
// whole per-process ledger is cleared: after a primitive failure the
// attribution of outstanding writes cannot be recovered.
func (q *Queue) write(data []byte, allowErr bool) error {
	if err := q.tr.WriteFrame(data); err != nil {
		q.pending.clear()
		if q.onDrop != nil {
			q.onDrop()
		}
		if allowErr {
			return err
		}
		q.logger.Debug("queue write failed, pending ledger cleared", "error", err)
		return nil
	}
	q.pending.dec(q.pid())
	if q.onFlush != nil {
		q.onFlush()
	}
	return nil
}

// Get blocks for the next item, up to timeout (<= 0 blocks indefinitely).
func (q *Queue) Get(timeout time.Duration) (any, error) {
	q.ensureRelay()
	frame, ok := q.relay.Get(timeout)
	if !ok {
		if q.relayEOF.Load() && q.relay.Empty() {
			return nil, ErrClosed
		}
		return nil, ErrTimeout
	}
	return q.codec.Decode(frame.([]byte))
}

// BatchGet drains up to maxItems currently-available entries. It blocks up
// to timeout for the first item; after that, between empty polls it sleeps
// throttle, and once cumulative empty time exceeds timeout it returns
// whatever was collected.
func (q *Queue) BatchGet(maxItems int, timeout, throttle time.Duration) []any {
	if maxItems <= 0 {
		return nil
	}
	if throttle <= 0 {
		throttle = 100 * time.Millisecond
	}
	q.ensureRelay()

	// The relay republishes transport frames asynchronously, so frames
	// already flushed to the pipe may not have landed on the relay queue
	// yet. Block for the first item instead of polling for it.
	var buffer []any
	first, ok := q.relay.Get(timeout)
	if !ok {
		return buffer
	}
	if v, err := q.codec.Decode(first.([]byte)); err != nil {
		q.logger.Debug("batch get dropped undecodable frame", "error", err)
	} else {
		buffer = append(buffer, v)
	}

	timeoutCount := int(timeout / throttle)
	emptyCount := 0
	for len(buffer) < maxItems {
		for !q.Empty() && len(buffer) < maxItems {
			frame, ok := q.relay.TryGet()
			if !ok {
				break
			}
			v, err := q.codec.Decode(frame.([]byte))
			if err != nil {
				q.logger.Debug("batch get dropped undecodable frame", "error", err)
				continue
			}
			buffer = append(buffer, v)
			emptyCount = 0
		}
		emptyCount++
		if emptyCount > timeoutCount || len(buffer) >= maxItems {
			break
		}
		time.Sleep(throttle)
	}
	return buffer
}

// Empty reports whether both the transport and the relay queue are empty.
func (q *Queue) Empty() bool {
	if q.tr.Readable() {
		return false
	}
	q.relayMu.Lock()
	relay := q.relay
	q.relayMu.Unlock()
	return relay == nil || relay.Empty()
}

// IsPending reports whether this process still has dispatched writes that
// the pool has not flushed.
func (q *Queue) IsPending() bool {
	return q.PendingCount() > 0
}

// PendingCount returns this process's outstanding write count.
func (q *Queue) PendingCount() int {
	return q.pending.count(q.pid())
}

// Close is a best-effort drain barrier: it polls the pending ledger until
// it empties, the pool dies, or no progress is observed for timeout
// (progress resets the deadline). A timeout <= 0 aborts on the first poll
// that shows no progress. event, when non-nil, is signaled every iteration
// so a flushing monitor loop keeps waking. Pending writes are abandoned,
// never aborted.
func (q *Queue) Close(event Waker, timeout time.Duration) {
	tic := time.Now()
	pid := q.pid()
	prev := q.pending.count(pid)
	for q.IsPending() {
		if event != nil {
			event.Set()
		}
		if !q.pool.IsActive() {
			break
		}
		time.Sleep(closePollInterval)
		if time.Since(tic) > timeout {
			cur := q.pending.count(pid)
			if cur == prev {
				break
			}
			prev = cur
			tic = time.Now()
		}
	}
}

// ensureRelay starts, once, the goroutine that republishes transport frames
// onto the in-process relay queue.
func (q *Queue) ensureRelay() {
	q.relayMu.Lock()
	defer q.relayMu.Unlock()
	if q.relayStarted {
		return
	}
	q.relay = psync.NewQueueWithPID(q.pid)
	q.relayStarted = true
	go q.relayLoop(q.relay)
}

func (q *Queue) relayLoop(relay *psync.Queue) {
	for {
		frame, err := q.tr.ReadFrame()
		if err != nil {
			q.relayEOF.Store(true)
			relay.Close()
			return
		}
		relay.Put(frame)
	}
}
