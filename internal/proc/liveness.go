package proc

import (
	"errors"
	"os"
	"syscall"

	"github.com/prometheus/procfs"
)

// PIDAlive reports whether pid refers to a live, non-zombie process. The
// probe is signal 0 for existence plus a procfs stat read for the zombie
// state: a reaped-but-unwaited companion must count as dead so callers do
// not try to signal it. When the state cannot be determined the process is
// reported dead; not signaling a possibly-dead process is the safe side.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := p.Signal(syscall.Signal(0)); err != nil {
		// EPERM still proves existence, but such a process cannot be
		// ours; anything else means gone
		return errors.Is(err, syscall.EPERM)
	}
	return !isZombie(pid)
}

func isZombie(pid int) bool {
	fp, err := procfs.NewProc(pid)
	if err != nil {
		// /proc entry vanished between the signal probe and now
		return true
	}
	stat, err := fp.Stat()
	if err != nil {
		return true
	}
	return stat.State == "Z"
}

// ParentAlive reports whether the process that spawned us is still running.
// Reparenting away from the original parent is the reliable signal on
// Linux; the pid probe
// covers hosts where the original parent pid is tracked explicitly.
func ParentAlive(parentPID int) bool {
	if os.Getppid() != parentPID {
		return false
	}
	return PIDAlive(parentPID)
}
