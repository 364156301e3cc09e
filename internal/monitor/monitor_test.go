package monitor

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AH-Merii/clearml/internal/proc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime() *Runtime {
	return NewRuntime(Options{Logger: testLogger()})
}

// waitFor polls cond until true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestMonitorRunsSteps(t *testing.T) {
	rt := newTestRuntime()
	task := NewLocalTask(false)

	var steps atomic.Int64
	m := New(rt, task, "counter", 10*time.Millisecond, func() {
		steps.Add(1)
	}, true)

	m.Start()
	if !waitFor(t, time.Second, func() bool { return steps.Load() >= 3 }) {
		t.Fatalf("expected at least 3 steps, got %d", steps.Load())
	}
	if !m.IsAlive() {
		t.Fatal("monitor should be alive while looping")
	}

	m.Stop()
	if m.IsAlive() {
		t.Fatal("monitor should not be alive after Stop")
	}

	final := steps.Load()
	time.Sleep(50 * time.Millisecond)
	if steps.Load() != final {
		t.Fatal("steps continued after Stop")
	}
}

func TestMonitorWaitReturnsAfterStop(t *testing.T) {
	rt := newTestRuntime()
	task := NewLocalTask(false)
	m := New(rt, task, "waiter", 5*time.Millisecond, func() {}, true)
	m.Start()

	done := make(chan struct{})
	go func() {
		m.Wait(2 * time.Second)
		close(done)
	}()

	m.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}

func TestStepPanicDoesNotKillLoop(t *testing.T) {
	rt := newTestRuntime()
	task := NewLocalTask(false)

	var steps atomic.Int64
	m := New(rt, task, "panicky", 5*time.Millisecond, func() {
		steps.Add(1)
		panic("step failure")
	}, true)

	m.Start()
	defer m.Stop()
	if !waitFor(t, time.Second, func() bool { return steps.Load() >= 2 }) {
		t.Fatalf("loop died after a panicking step, got %d steps", steps.Load())
	}
}

func TestStartAllThreadMode(t *testing.T) {
	rt := newTestRuntime()
	task := NewLocalTask(false) // companion reporting off

	var steps atomic.Int64
	m := New(rt, task, "deferred", 5*time.Millisecond, func() {
		steps.Add(1)
	}, false)

	m.Start()
	if got := len(rt.Instances(task.ID())); got != 1 {
		t.Fatalf("expected 1 registered instance, got %d", got)
	}
	if steps.Load() != 0 {
		t.Fatal("eligible monitor ran before StartAll")
	}
	if m.Mode() != "pending-companion" {
		t.Fatalf("unexpected mode before StartAll: %s", m.Mode())
	}

	if err := rt.StartAll(task, false); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if !waitFor(t, time.Second, func() bool { return steps.Load() >= 2 }) {
		t.Fatal("monitor did not run after StartAll")
	}
	if m.Mode() != "thread" {
		t.Fatalf("unexpected mode after StartAll: %s", m.Mode())
	}

	m.Stop()
	if got := len(rt.Instances(task.ID())); got != 0 {
		t.Fatalf("Stop should deregister, still have %d instances", got)
	}
}

func TestStartAllIdempotentRegistration(t *testing.T) {
	rt := newTestRuntime()
	task := NewLocalTask(false)
	m := New(rt, task, "dup", time.Second, func() {}, false)
	m.Start()
	m.Start()
	if got := len(rt.Instances(task.ID())); got != 1 {
		t.Fatalf("double Start registered %d instances", got)
	}
	rt.deregister(m)
}

func TestControlLinkRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	link := newControlLink(r, w)
	defer link.close()

	want := message{Kind: msgStarted, Monitor: "resources"}
	link.send(want)

	got, err := link.recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	want := manifest{
		TaskID:      "task-1",
		ParentPID:   4242,
		ReportSlots: 2,
		Monitors: []manifestEntry{
			{Name: "resources", Period: 5 * time.Second},
			{Name: "logs", Period: time.Second},
		},
	}
	if err := writeManifest(w, want); err != nil {
		t.Fatalf("writeManifest: %v", err)
	}
	w.Close()

	got, err := readManifest(r)
	if err != nil {
		t.Fatalf("readManifest: %v", err)
	}
	if got.TaskID != want.TaskID || got.ParentPID != want.ParentPID ||
		got.ReportSlots != want.ReportSlots || len(got.Monitors) != 2 {
		t.Fatalf("manifest mismatch: got %+v", got)
	}
	if got.Monitors[0] != want.Monitors[0] || got.Monitors[1] != want.Monitors[1] {
		t.Fatalf("monitor entries mismatch: got %+v", got.Monitors)
	}
}

func TestFactoryRegistry(t *testing.T) {
	RegisterFactory("test-factory", func(hc *HostContext) StepFunc {
		return func() {}
	})
	if lookupFactory("test-factory") == nil {
		t.Fatal("registered factory not found")
	}
	if lookupFactory("never-registered") != nil {
		t.Fatal("unknown factory should be nil")
	}
}

func TestHostContextReportFileBounds(t *testing.T) {
	hc := &HostContext{reportSlots: 1}
	if hc.ReportFile(-1) != nil {
		t.Fatal("negative slot should be nil")
	}
	if hc.ReportFile(1) != nil {
		t.Fatal("out-of-range slot should be nil")
	}
}

func TestTeeEventForwardsSet(t *testing.T) {
	rt := newTestRuntime()
	var forwarded atomic.Bool
	base := New(rt, NewLocalTask(false), "tee", time.Second, func() {}, true)
	ev := &teeEvent{Event: base.doneEv, onSet: func() { forwarded.Store(true) }}

	ev.Set()
	if !ev.IsSet() {
		t.Fatal("tee should set the underlying event")
	}
	if !forwarded.Load() {
		t.Fatal("tee should invoke the side effect")
	}
}

func TestGuardedEventPassThroughWithoutCompanion(t *testing.T) {
	rt := newTestRuntime()
	var side atomic.Bool
	base := New(rt, NewLocalTask(false), "guard", time.Second, func() {}, true)
	ev := &guardedEvent{inner: base.stopEv, rt: rt, onSet: func() { side.Store(true) }}

	// no companion exists, so Set must not be suppressed
	ev.Set()
	if !ev.IsSet() || !side.Load() {
		t.Fatal("guarded Set should pass through when no companion is active")
	}
	ev.Clear()
	if ev.IsSet() {
		t.Fatal("Clear should delegate")
	}
}

// fakeCompanion stands in for a spawned companion process.
type fakeCompanion struct {
	pid   int
	alive atomic.Bool
	done  chan struct{}
}

func (f *fakeCompanion) PID() int              { return f.pid }
func (f *fakeCompanion) Alive() bool           { return f.alive.Load() }
func (f *fakeCompanion) Done() <-chan struct{} { return f.done }
func (f *fakeCompanion) ExitCode() int         { return 0 }

func (rt *Runtime) installCompanion(t *testing.T, taskID string) *fakeCompanion {
	t.Helper()
	fake := &fakeCompanion{pid: 99999, done: make(chan struct{})}
	fake.alive.Store(true)
	rt.mu.Lock()
	rt.companion = fake
	rt.companionID = taskID
	rt.mu.Unlock()
	return fake
}

func TestGuardedEventSuppressedWhenCompanionDead(t *testing.T) {
	rt := newTestRuntime()
	task := NewLocalTask(true)
	fake := rt.installCompanion(t, task.ID())
	fake.alive.Store(false)

	var side atomic.Bool
	base := New(rt, task, "guard", time.Second, func() {}, true)
	ev := &guardedEvent{inner: base.stopEv, rt: rt, onSet: func() { side.Store(true) }}

	ev.Set()
	if ev.IsSet() || side.Load() {
		t.Fatal("Set should be a no-op once the companion is gone")
	}

	// a live companion lifts the suppression
	fake.alive.Store(true)
	ev.Set()
	if !ev.IsSet() || !side.Load() {
		t.Fatal("Set should pass through while the companion is alive")
	}
}

func TestStartAllRefusesSecondCompanion(t *testing.T) {
	rt := newTestRuntime()
	first := NewLocalTask(true)
	fake := rt.installCompanion(t, first.ID())

	var spawns atomic.Int32
	rt.spawn = func(proc.SpawnOptions) (*proc.Companion, error) {
		spawns.Add(1)
		return nil, errors.New("unexpected spawn")
	}

	second := NewLocalTask(true)
	New(rt, second, "late", time.Second, func() {}, false).Start()
	if err := rt.StartAll(second, false); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	if got := spawns.Load(); got != 0 {
		t.Fatalf("spawned %d companions while one is alive", got)
	}
	rt.mu.Lock()
	owner, handle := rt.companionID, rt.companion
	rt.mu.Unlock()
	if owner != first.ID() || handle != fake {
		t.Fatal("live companion was replaced")
	}
	if !rt.IsCompanionAlive(first) {
		t.Fatal("first task lost its companion")
	}
}

func TestAtExitState(t *testing.T) {
	rt := newTestRuntime()
	if rt.AtExitState() {
		t.Fatal("fresh runtime should not be in at-exit state")
	}
	rt.SetAtExitState(true)
	if !rt.AtExitState() {
		t.Fatal("at-exit state not recorded")
	}
}
