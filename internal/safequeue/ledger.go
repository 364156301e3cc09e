package safequeue

import "sync"

// ledger counts writes dispatched but not yet flushed, keyed by process
// id: increment before dispatch, decrement on completion, clear everything
// when the write primitive fails and attribution is lost.
type ledger struct {
	mu     sync.Mutex
	counts map[int]int
}

func newLedger() *ledger {
	return &ledger{counts: make(map[int]int)}
}

func (l *ledger) inc(pid int) {
	l.mu.Lock()
	l.counts[pid]++
	l.mu.Unlock()
}

func (l *ledger) dec(pid int) {
	l.mu.Lock()
	if l.counts[pid] > 0 {
		l.counts[pid]--
	}
	if l.counts[pid] == 0 {
		delete(l.counts, pid)
	}
	l.mu.Unlock()
}

func (l *ledger) count(pid int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[pid]
}

func (l *ledger) clear() {
	l.mu.Lock()
	l.counts = make(map[int]int)
	l.mu.Unlock()
}
