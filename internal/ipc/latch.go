package ipc

import (
	"os"
	"sync"
	"time"
)

// Latch is a one-shot cross-process event backed by a pipe. Either process
// may Set it once; waiters in the other process observe it. Unlike an
// in-process event it cannot be cleared after a companion holds the other
// end, so it is reserved for single-transition signals ("companion
// started").
type Latch struct {
	mu   sync.Mutex
	r    *os.File
	w    *os.File
	set  bool
	sent bool
}

// NewLatch creates an unset latch.
func NewLatch() (*Latch, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &Latch{r: r, w: w}, nil
}

// LatchFromFiles rebuilds a latch around inherited descriptors. Either file
// may be nil when the process only holds one end.
func LatchFromFiles(r, w *os.File) *Latch {
	return &Latch{r: r, w: w}
}

// ReadFile returns the read end for ExtraFiles inheritance.
func (l *Latch) ReadFile() *os.File { return l.r }

// WriteFile returns the write end for ExtraFiles inheritance.
func (l *Latch) WriteFile() *os.File { return l.w }

// Set marks the latch. Write failures are swallowed: a reader that
// disappeared no longer needs the signal.
func (l *Latch) Set() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set = true
	if l.sent || l.w == nil {
		return
	}
	l.sent = true
	l.w.Write([]byte{1}) //nolint:errcheck
}

// IsSet reports whether the latch was set locally or by the other process.
func (l *Latch) IsSet() bool {
	l.mu.Lock()
	if l.set {
		l.mu.Unlock()
		return true
	}
	l.mu.Unlock()
	return l.Wait(time.Millisecond)
}

// Wait blocks until the latch is set or timeout elapses. A timeout <= 0
// blocks indefinitely. Reports whether the latch is set.
func (l *Latch) Wait(timeout time.Duration) bool {
	l.mu.Lock()
	if l.set {
		l.mu.Unlock()
		return true
	}
	r := l.r
	l.mu.Unlock()
	if r == nil {
		return false
	}

	if timeout > 0 {
		if err := r.SetReadDeadline(absDeadline(timeout)); err != nil {
			return false
		}
		defer r.SetReadDeadline(time.Time{}) //nolint:errcheck
	}
	var b [1]byte
	if _, err := r.Read(b[:]); err != nil {
		return false
	}
	l.mu.Lock()
	l.set = true
	l.mu.Unlock()
	return true
}

// Close releases both pipe ends.
func (l *Latch) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.r != nil {
		l.r.Close() //nolint:errcheck
	}
	if l.w != nil {
		l.w.Close() //nolint:errcheck
	}
}
