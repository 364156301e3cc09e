package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AH-Merii/clearml/internal/callpool"
	"github.com/AH-Merii/clearml/internal/events"
	"github.com/AH-Merii/clearml/internal/ipc"
	"github.com/AH-Merii/clearml/internal/metrics"
	"github.com/AH-Merii/clearml/internal/proc"
	"github.com/AH-Merii/clearml/internal/psync"
)

// waitPollInterval paces liveness polling during drain and teardown.
const waitPollInterval = 30 * time.Millisecond

// startLatchTimeout bounds how long StartAll blocks for the companion's
// started signal before proceeding anyway.
const startLatchTimeout = 30 * time.Second

// Options configures a Runtime. Zero-value fields get working defaults;
// Bus and Metrics stay nil when unset and the runtime skips publishing.
type Options struct {
	PID     psync.PIDSource
	Pools   *callpool.Registry
	Bus     *events.Bus
	Metrics *metrics.Set
	Logger  *slog.Logger

	// BeforeThreadStart runs once before each monitor loop launches,
	// letting the caller warm ambient state (call pools) first.
	BeforeThreadStart func()

	// ReportFiles are extra pipe ends handed to the companion as
	// descriptor slots after the control channel; report queues are
	// rebuilt around them on the other side.
	ReportFiles []*os.File

	// Spawn overrides companion launching, for tests.
	Spawn func(proc.SpawnOptions) (*proc.Companion, error)
}

// companionHandle is the part of proc.Companion the runtime reads; an
// interface so tests can stand in a handle without spawning a process.
type companionHandle interface {
	PID() int
	Alive() bool
	Done() <-chan struct{}
	ExitCode() int
}

// Runtime owns every monitor in the process and the single shared
// companion handle. One Runtime exists per process; monitors register on
// Start and the task's StartAll elects thread or companion execution for
// all of them at once.
type Runtime struct {
	pid     psync.PIDSource
	pools   *callpool.Registry
	bus     *events.Bus
	metrics *metrics.Set
	logger  *slog.Logger

	beforeThreadStart func()
	reportFiles       []*os.File
	spawn             func(proc.SpawnOptions) (*proc.Companion, error)

	mu          sync.Mutex
	instances   map[string][]*Monitor
	companion   companionHandle
	companionID string
	parentPID   int
	latch       *ipc.Latch
	link        *controlLink

	// hostMode marks the runtime living inside the companion itself:
	// companion liveness questions then answer for the current process.
	hostMode bool

	atExit atomic.Bool
}

// NewRuntime builds a parent-side runtime.
func NewRuntime(opts Options) *Runtime {
	pid := opts.PID
	if pid == nil {
		pid = os.Getpid
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pools := opts.Pools
	if pools == nil {
		pools = callpool.NewRegistry(pid, logger)
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = proc.Spawn
	}
	return &Runtime{
		pid:               pid,
		pools:             pools,
		bus:               opts.Bus,
		metrics:           opts.Metrics,
		logger:            logger,
		beforeThreadStart: opts.BeforeThreadStart,
		reportFiles:       opts.ReportFiles,
		spawn:             spawn,
		instances:         make(map[string][]*Monitor),
	}
}

// Pools returns the runtime's call-pool registry.
func (rt *Runtime) Pools() *callpool.Registry { return rt.pools }

// Instances returns a snapshot of the monitors registered for taskID.
func (rt *Runtime) Instances(taskID string) []*Monitor {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*Monitor, len(rt.instances[taskID]))
	copy(out, rt.instances[taskID])
	return out
}

func (rt *Runtime) register(m *Monitor) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, have := range rt.instances[m.taskID] {
		if have == m {
			return
		}
	}
	rt.instances[m.taskID] = append(rt.instances[m.taskID], m)
}

func (rt *Runtime) deregister(m *Monitor) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	list := rt.instances[m.taskID]
	for i, have := range list {
		if have == m {
			rt.instances[m.taskID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// StartAll launches every registered monitor of task. Without companion
// reporting each monitor gets its own loop here; with it, one companion
// process is spawned hosting all of them, and waitForStart blocks (bounded)
// until the companion confirms its loops are up.
func (rt *Runtime) StartAll(task Task, waitForStart bool) error {
	rt.mu.Lock()
	rt.parentPID = rt.pid()
	pending := make([]*Monitor, len(rt.instances[task.ID()]))
	copy(pending, rt.instances[task.ID()])
	alreadyUp := rt.companion != nil
	companionID := rt.companionID
	rt.mu.Unlock()

	if !task.ReportSubprocessEnabled() {
		for _, m := range pending {
			m.startThread()
		}
		return nil
	}
	// One shared companion per process. A live companion owned by another
	// task blocks re-election until ClearMainProcess tears it down.
	if alreadyUp {
		if companionID != task.ID() {
			rt.logger.Warn("companion already elected by another task",
				"task", task.ID(), "owner", companionID)
		}
		return nil
	}

	if err := rt.spawnCompanion(task, pending); err != nil {
		return err
	}
	if waitForStart {
		rt.mu.Lock()
		latch := rt.latch
		rt.mu.Unlock()
		if !latch.Wait(startLatchTimeout) {
			rt.logger.Warn("companion start confirmation timed out",
				"task", task.ID(), "timeout", startLatchTimeout)
		}
	}
	return nil
}

// spawnCompanion re-executes the binary as the shared companion and wires
// the descriptor channel to it. Slot layout, in ExtraFiles order: setup
// manifest (read), control down (read), control up (write), started latch
// (write), then one slot per report pipe.
func (rt *Runtime) spawnCompanion(task Task, pending []*Monitor) error {
	setupR, setupW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create setup pipe: %w", err)
	}
	downR, downW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create control pipe: %w", err)
	}
	upR, upW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create control pipe: %w", err)
	}
	latch, err := ipc.NewLatch()
	if err != nil {
		return fmt.Errorf("create start latch: %w", err)
	}

	extra := []*os.File{setupR, downR, upW, latch.WriteFile()}
	extra = append(extra, rt.reportFiles...)

	companion, err := rt.spawn(proc.SpawnOptions{
		Args:       []string{hostArg},
		Env:        []string{HostEnv + "=1"},
		ExtraFiles: extra,
		Logger:     rt.logger,
	})
	// the child holds its own copies now (or never will)
	setupR.Close() //nolint:errcheck
	downR.Close()  //nolint:errcheck
	upW.Close()    //nolint:errcheck
	if err != nil {
		setupW.Close() //nolint:errcheck
		downW.Close()  //nolint:errcheck
		upR.Close()    //nolint:errcheck
		latch.Close()
		return err
	}

	man := manifest{
		TaskID:      task.ID(),
		ParentPID:   rt.pid(),
		ReportSlots: len(rt.reportFiles),
	}
	for _, m := range pending {
		man.Monitors = append(man.Monitors, manifestEntry{Name: m.name, Period: m.period})
	}
	if err := writeManifest(setupW, man); err != nil {
		rt.logger.Error("failed to hand manifest to companion", "error", err)
	}
	setupW.Close() //nolint:errcheck

	link := newControlLink(upR, downW)

	rt.mu.Lock()
	rt.companion = companion
	rt.companionID = task.ID()
	rt.latch = latch
	rt.link = link
	rt.mu.Unlock()

	for _, m := range pending {
		m.enterCompanionMode(link)
	}

	if rt.metrics != nil {
		rt.metrics.CompanionUp.Set(1)
	}
	rt.publish(events.CompanionSpawnedEvent{TaskID: task.ID(), PID: companion.PID()})

	go rt.demux(task.ID(), link)
	go rt.watchCompanion(task.ID(), companion)
	return nil
}

// demux relays the companion's per-monitor confirmations into the local
// mirror events until the control link closes.
func (rt *Runtime) demux(taskID string, link *controlLink) {
	for {
		msg, err := link.recv()
		if err != nil {
			return
		}
		m := rt.find(taskID, msg.Monitor)
		if m == nil {
			continue
		}
		switch msg.Kind {
		case msgStarted:
			m.startedEv.Set()
			rt.publish(events.MonitorStartedEvent{
				TaskID: taskID, Monitor: m.name, Mode: m.Mode(),
			})
		case msgDone:
			m.doneEv.Set()
			rt.publish(events.MonitorStoppedEvent{TaskID: taskID, Monitor: m.name})
		}
	}
}

func (rt *Runtime) watchCompanion(taskID string, companion companionHandle) {
	<-companion.Done()
	if rt.metrics != nil {
		rt.metrics.CompanionUp.Set(0)
	}
	rt.publish(events.CompanionExitedEvent{
		TaskID: taskID, PID: companion.PID(), ExitCode: companion.ExitCode(),
	})
}

func (rt *Runtime) find(taskID, name string) *Monitor {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, m := range rt.instances[taskID] {
		if m.name == name {
			return m
		}
	}
	return nil
}

// companionEnabled reports whether companion reporting is active for task
// (nil means any task).
func (rt *Runtime) companionEnabled(t Task) bool {
	if rt.hostMode {
		return true
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.companion == nil {
		return false
	}
	return t == nil || t.ID() == rt.companionID
}

// IsCompanionAlive reports whether the shared companion process for task
// is running. Inside the companion itself the answer is about the current
// process and therefore true.
func (rt *Runtime) IsCompanionAlive(t Task) bool {
	if rt.hostMode {
		return true
	}
	if !rt.companionEnabled(t) {
		return false
	}
	rt.mu.Lock()
	companion := rt.companion
	rt.mu.Unlock()
	return companion != nil && companion.Alive()
}

// CompanionPID returns the shared companion's process id, 0 when none.
func (rt *Runtime) CompanionPID() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.companion == nil {
		return 0
	}
	return rt.companion.PID()
}

func (rt *Runtime) companionTask() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.companionID
}

func (rt *Runtime) parentPIDValue() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.parentPID
}

func (rt *Runtime) monitorStarted(m *Monitor) {
	if rt.metrics != nil {
		rt.metrics.MonitorsRunning.Inc()
	}
	if !rt.hostMode {
		rt.publish(events.MonitorStartedEvent{
			TaskID: m.taskID, Monitor: m.name, Mode: m.Mode(),
		})
	}
}

func (rt *Runtime) monitorStopped(m *Monitor) {
	if rt.metrics != nil {
		rt.metrics.MonitorsRunning.Dec()
	}
	if !rt.hostMode {
		rt.publish(events.MonitorStoppedEvent{TaskID: m.taskID, Monitor: m.name})
	}
}

func (rt *Runtime) publish(ev events.Event) {
	if rt.bus != nil {
		rt.bus.Publish(ev)
	}
}

// WaitForCompanion stops task's monitors and polls until the companion has
// exited or timeout elapses. A timeout <= 0 waits indefinitely. No-op when
// companion reporting is not active for task.
func (rt *Runtime) WaitForCompanion(t Task, timeout time.Duration) {
	if rt.hostMode || !rt.companionEnabled(t) {
		return
	}
	for _, m := range rt.Instances(t.ID()) {
		m.Stop()
	}
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for rt.IsCompanionAlive(t) {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return
		}
		time.Sleep(waitPollInterval)
	}
}

// ClearMainProcess tears down task's monitoring: waits for the companion
// to drain and exit, then forgets the handle, latch, link and instances so
// a later task can start fresh.
func (rt *Runtime) ClearMainProcess(t Task) {
	rt.WaitForCompanion(t, 0)

	rt.mu.Lock()
	if rt.latch != nil {
		rt.latch.Close()
	}
	if rt.link != nil {
		rt.link.close()
	}
	rt.companion = nil
	rt.companionID = ""
	rt.parentPID = 0
	rt.latch = nil
	rt.link = nil
	delete(rt.instances, t.ID())
	rt.mu.Unlock()

	rt.pools.Clear()
}

// SetAtExitState marks the process as inside at-exit teardown; monitor
// liveness collapses to companion liveness from then on.
func (rt *Runtime) SetAtExitState(v bool) { rt.atExit.Store(v) }

// AtExitState reports whether at-exit teardown has begun.
func (rt *Runtime) AtExitState() bool { return rt.atExit.Load() }

// Terminate runs the given hooks and exits the process with code. A
// panicking hook is swallowed so the exit still happens; there is no
// normal return from here.
func (rt *Runtime) Terminate(code int, hooks ...func()) {
	rt.SetAtExitState(true)
	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					rt.logger.Debug("exit hook panicked", "panic", r)
				}
			}()
			h()
		}()
	}
	os.Exit(code)
}
