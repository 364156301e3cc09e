package callpool

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AH-Merii/clearml/internal/psync"
)

// Registry hands out the process's call pool. A pool created before a
// process-id change (by the parent of a companion process) carries a dead
// worker handle; Get detects the changed pid and builds a fresh pool
// instead of returning the inherited one.
type Registry struct {
	mu     sync.Mutex
	pool   *Pool
	pid    int
	pidFn  psync.PIDSource
	logger *slog.Logger
}

// NewRegistry returns an empty registry. A nil pid source defaults to
// os.Getpid.
func NewRegistry(pid psync.PIDSource, logger *slog.Logger) *Registry {
	if pid == nil {
		pid = os.Getpid
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{pidFn: pid, logger: logger}
}

// Get returns the pool for the current process, creating one on first use
// or after a process-id change.
func (r *Registry) Get() *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pid := r.pidFn(); r.pool == nil || r.pid != pid {
		r.pool = New(r.logger)
		r.pid = pid
	}
	return r.pool
}

// IsActive reports whether a pool exists for the current process and its
// worker is alive.
func (r *Registry) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool != nil && r.pid == r.pidFn() && r.pool.IsAlive()
}

// Clear closes the current pool (bounded wait) and forgets it.
func (r *Registry) Clear() {
	r.mu.Lock()
	pool := r.pool
	r.pool = nil
	r.pid = 0
	r.mu.Unlock()
	if pool != nil {
		pool.Close(5 * time.Second)
	}
}
