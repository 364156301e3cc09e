// Package monitor implements the background-monitor lifecycle: periodic
// step loops attached to a task, runnable as goroutines in the current
// process or bundled into one shared companion process per task, with
// parent-death detection and drain-aware teardown. All shared state lives
// on an explicit Runtime, one per process.
package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AH-Merii/clearml/internal/psync"
)

type mode int32

const (
	modeUnstarted mode = iota
	modeThread
	modePending
	modeCompanion
)

func (m mode) String() string {
	switch m {
	case modeThread:
		return "thread"
	case modePending:
		return "pending-companion"
	case modeCompanion:
		return "companion"
	default:
		return "unstarted"
	}
}

// StepFunc is one monitor iteration. Panics are recovered and dropped; a
// failing step never kills the loop.
type StepFunc func()

// Monitor runs a StepFunc every Period until stopped.
type Monitor struct {
	rt       *Runtime
	taskID   string
	name     string
	period   time.Duration
	step     StepFunc
	eligible bool // may be bundled into the companion

	stopEv    Event
	startedEv Event
	doneEv    Event

	mode    atomic.Int32
	running atomic.Bool

	mu        sync.Mutex
	joined    chan struct{}
	threadPID int
}

// New creates a monitor attached to task. name must match the factory name
// registered for companion hosting; forModel monitors never leave the
// current process, mirroring model-attached reporting.
func New(rt *Runtime, task Task, name string, period time.Duration, step StepFunc, forModel bool) *Monitor {
	m := &Monitor{
		rt:        rt,
		taskID:    task.ID(),
		name:      name,
		period:    period,
		step:      step,
		eligible:  !forModel && task.IsMainTask(),
		stopEv:    psync.NewEventWithPID(rt.pid),
		startedEv: psync.NewEventWithPID(rt.pid),
		doneEv:    psync.NewEventWithPID(rt.pid),
	}
	return m
}

// Name returns the monitor's factory name.
func (m *Monitor) Name() string { return m.name }

// TaskID returns the owning task id.
func (m *Monitor) TaskID() string { return m.taskID }

// Period returns the step interval.
func (m *Monitor) Period() time.Duration { return m.period }

// Mode describes the monitor's current execution mode.
func (m *Monitor) Mode() string { return mode(m.mode.Load()).String() }

// Start begins execution. Companion-eligible monitors are only registered
// here and wait for the task's StartAll to elect thread or companion mode;
// everything else starts its loop immediately.
func (m *Monitor) Start() {
	m.stopEv.Clear()
	m.doneEv.Clear()
	if !m.eligible {
		m.startThread()
		return
	}
	m.mode.CompareAndSwap(int32(modeUnstarted), int32(modePending))
	m.rt.register(m)
}

// startThread launches the step loop in this process. Idempotent per
// process generation.
func (m *Monitor) startThread() {
	m.mu.Lock()
	if m.running.Load() && m.threadPID == m.rt.pid() {
		m.mu.Unlock()
		return
	}
	m.threadPID = m.rt.pid()
	m.joined = make(chan struct{})
	m.running.Store(true)
	m.mu.Unlock()

	if cur := mode(m.mode.Load()); cur != modeCompanion {
		m.mode.Store(int32(modeThread))
	}

	// give ambient pools a chance to exist before the loop needs them
	if m.rt.beforeThreadStart != nil {
		m.rt.beforeThreadStart()
	}

	m.mu.Lock()
	joined := m.joined
	m.mu.Unlock()
	go m.loop(joined)
}

func (m *Monitor) loop(joined chan struct{}) {
	m.startedEv.Set()
	m.rt.monitorStarted(m)
	defer func() {
		m.doneEv.Set()
		m.running.Store(false)
		m.rt.monitorStopped(m)
		close(joined)
	}()

	for {
		if m.stopEv.Wait(m.period) {
			return
		}
		m.runStep()
	}
}

func (m *Monitor) runStep() {
	defer func() {
		if r := recover(); r != nil {
			m.rt.logger.Debug("monitor step panicked", "monitor", m.name, "panic", r)
		}
	}()
	if m.step != nil {
		m.step()
	}
	if m.rt.metrics != nil {
		m.rt.metrics.MonitorSteps.WithLabelValues(m.name).Inc()
	}
}

// Stop signals the loop and, in thread mode, joins it and deregisters.
// In companion mode only the parent process may request a stop, and the
// signal is suppressed when the companion is already gone.
func (m *Monitor) Stop() {
	if !m.companionModeAndNotParent() &&
		(!m.companionMode() || m.rt.IsCompanionAlive(nil)) {
		m.stopEv.Set()
	}

	if mode(m.mode.Load()) == modeThread {
		m.waitJoined(0)
		m.rt.deregister(m)
	}
}

// Wait blocks until the monitor's loop has completed. Waiting from a
// non-parent process on a companion monitor is meaningless and returns
// immediately.
func (m *Monitor) Wait(timeout time.Duration) {
	if m.companionModeAndNotParent() {
		return
	}
	m.doneEv.Wait(timeout)
}

// waitJoined waits for the loop goroutine to exit. timeout <= 0 blocks.
func (m *Monitor) waitJoined(timeout time.Duration) bool {
	m.mu.Lock()
	joined := m.joined
	m.mu.Unlock()
	if joined == nil {
		return true
	}
	if timeout <= 0 {
		<-joined
		return true
	}
	select {
	case <-joined:
		return true
	case <-time.After(timeout):
		return false
	}
}

// IsAlive reports monitor liveness. Thread mode reflects the loop
// goroutine; companion mode is the conjunction of companion liveness,
// confirmed start and not-yet-done (collapsing to companion liveness alone
// during process teardown).
func (m *Monitor) IsAlive() bool {
	if !m.companionMode() {
		return m.running.Load()
	}
	if m.rt.AtExitState() {
		return m.rt.IsCompanionAlive(nil)
	}
	return m.rt.IsCompanionAlive(nil) && m.startedEv.IsSet() && !m.doneEv.IsSet()
}

// enterCompanionMode rebinds the monitor's events for cross-process
// coordination: stop becomes a guarded sender on the control link;
// started/done become the local mirrors the parent demux sets.
func (m *Monitor) enterCompanionMode(link *controlLink) {
	m.mode.Store(int32(modeCompanion))
	name := m.name
	m.stopEv = &guardedEvent{
		inner: psync.NewEventWithPID(m.rt.pid),
		rt:    m.rt,
		onSet: func() { link.send(message{Kind: msgStop, Monitor: name}) },
	}
}

func (m *Monitor) companionMode() bool {
	return mode(m.mode.Load()) == modeCompanion &&
		m.rt.companionEnabled(nil) && m.taskID == m.rt.companionTask()
}

func (m *Monitor) companionModeAndNotParent() bool {
	return m.companionMode() && m.rt.parentPIDValue() != m.rt.pid()
}
