package monitor

import "github.com/google/uuid"

// Task is the downward interface the runtime consumes. The real task
// object lives with the caller; the runtime only needs identity, main-task
// status and whether reporting was elected to run in a companion process.
type Task interface {
	ID() string
	IsMainTask() bool
	ReportSubprocessEnabled() bool
}

// LocalTask is a minimal Task used by the daemon and tests.
type LocalTask struct {
	TaskID       string
	Main         bool
	UseCompanion bool
}

// NewLocalTask returns a main task with a fresh uuid.
func NewLocalTask(useCompanion bool) *LocalTask {
	return &LocalTask{TaskID: uuid.NewString(), Main: true, UseCompanion: useCompanion}
}

// ID returns the task identifier.
func (t *LocalTask) ID() string { return t.TaskID }

// IsMainTask reports whether this is the process's main task.
func (t *LocalTask) IsMainTask() bool { return t.Main }

// ReportSubprocessEnabled reports whether monitors should be bundled into
// the shared companion process.
func (t *LocalTask) ReportSubprocessEnabled() bool { return t.UseCompanion }
