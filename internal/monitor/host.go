package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/AH-Merii/clearml/internal/ipc"
	"github.com/AH-Merii/clearml/internal/proc"
)

// HostEnv marks a process as the re-executed companion host. The parent
// sets it on spawn; main checks it before any flag parsing.
const HostEnv = "CLEARML_MONITOR_HOST"

// hostArg labels the companion in process listings; the env marker is
// what actually routes execution.
const hostArg = "monitor-host"

// parentCheckInterval paces host-side checks that the spawning process is
// still alive.
const parentCheckInterval = 1 * time.Second

// hostJoinInterval paces the host's wait for its monitor loops.
const hostJoinInterval = 50 * time.Millisecond

// IsHostProcess reports whether this process was spawned as a companion.
func IsHostProcess() bool {
	return os.Getenv(HostEnv) == "1"
}

// HostContext is what a monitor factory gets to rebuild its state inside
// the companion process.
type HostContext struct {
	TaskID    string
	ParentPID int
	Logger    *slog.Logger

	reportSlots int
}

// ReportFile reopens report-pipe slot n inherited from the parent, or nil
// when the slot was not exported.
func (hc *HostContext) ReportFile(slot int) *os.File {
	if slot < 0 || slot >= hc.reportSlots {
		return nil
	}
	// slots 0..3 carry the control channel
	return ipc.InheritedFile(4+slot, fmt.Sprintf("report-%d", slot))
}

// Factory rebuilds a monitor's step callback inside the companion. The
// parent cannot ship closures across exec, so monitors are reconstructed
// by name.
type Factory func(hc *HostContext) StepFunc

var (
	factoryMu sync.Mutex
	factories = make(map[string]Factory)
)

// RegisterFactory makes a monitor constructible inside the companion under
// name. Call from package init or early main, before StartAll, in both the
// parent and the re-executed binary.
func RegisterFactory(name string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = f
}

func lookupFactory(name string) Factory {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	return factories[name]
}

// RunHost is the companion process body: read the manifest off the
// inherited setup pipe, rebuild the named monitors, run their loops, and
// exit when they finish or the parent dies. Blocks until done.
func RunHost(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	setup := ipc.InheritedFile(0, "setup")
	man, err := readManifest(setup)
	setup.Close() //nolint:errcheck
	if err != nil {
		return fmt.Errorf("read companion manifest: %w", err)
	}
	logger.Info("companion host starting",
		"task", man.TaskID, "parent_pid", man.ParentPID, "monitors", len(man.Monitors))

	link := newControlLink(
		ipc.InheritedFile(1, "ctrl-down"),
		ipc.InheritedFile(2, "ctrl-up"),
	)
	latch := ipc.LatchFromFiles(nil, ipc.InheritedFile(3, "latch"))

	rt := NewRuntime(Options{Logger: logger})
	rt.hostMode = true
	rt.mu.Lock()
	rt.parentPID = man.ParentPID
	rt.mu.Unlock()

	hc := &HostContext{
		TaskID:      man.TaskID,
		ParentPID:   man.ParentPID,
		Logger:      logger,
		reportSlots: man.ReportSlots,
	}
	task := &LocalTask{TaskID: man.TaskID, Main: true}

	var monitors []*Monitor
	for _, entry := range man.Monitors {
		factory := lookupFactory(entry.Name)
		if factory == nil {
			logger.Warn("no factory registered for monitor", "monitor", entry.Name)
			continue
		}
		m := New(rt, task, entry.Name, entry.Period, factory(hc), true)
		name := entry.Name
		m.startedEv = &teeEvent{Event: m.startedEv, onSet: func() {
			link.send(message{Kind: msgStarted, Monitor: name})
		}}
		m.doneEv = &teeEvent{Event: m.doneEv, onSet: func() {
			link.send(message{Kind: msgDone, Monitor: name})
		}}
		monitors = append(monitors, m)
		m.Start()
	}

	stopAll := func() {
		for _, m := range monitors {
			m.stopEv.Set()
		}
	}

	// parent stop requests arrive on the down link; EOF means the parent
	// closed its end and liveness polling takes over
	go func() {
		for {
			msg, err := link.recv()
			if err != nil {
				return
			}
			if msg.Kind != msgStop {
				continue
			}
			for _, m := range monitors {
				if m.name == msg.Monitor {
					m.stopEv.Set()
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("companion received signal, stopping monitors", "signal", sig)
		stopAll()
	}()

	latch.Set()

	lastParentCheck := time.Now()
	for anyAlive(monitors) {
		time.Sleep(hostJoinInterval)
		if time.Since(lastParentCheck) < parentCheckInterval {
			continue
		}
		lastParentCheck = time.Now()
		if !proc.ParentAlive(man.ParentPID) {
			// nobody is left to consume reports; loops are abandoned
			// rather than drained
			logger.Info("parent process gone, companion exiting", "parent_pid", man.ParentPID)
			rt.Terminate(0)
		}
	}

	logger.Info("companion host done", "task", man.TaskID)
	link.close()
	return nil
}

func anyAlive(monitors []*Monitor) bool {
	for _, m := range monitors {
		if m.running.Load() {
			return true
		}
	}
	return false
}
