package events

// Event type constants for kelindar/event.
const (
	TypeMonitorStarted uint32 = iota + 1
	TypeMonitorStopped
	TypeCompanionSpawned
	TypeCompanionExited
	TypeQueueDrained
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// MonitorStartedEvent fires when a monitor's step loop begins running,
// whether in-process or inside the companion.
type MonitorStartedEvent struct {
	TaskID  string `json:"task_id"`
	Monitor string `json:"monitor"`
	Mode    string `json:"mode"`
}

// Type returns the event type identifier for MonitorStartedEvent.
func (e MonitorStartedEvent) Type() uint32 { return TypeMonitorStarted }

// MonitorStoppedEvent fires once a monitor's step loop has fully exited.
type MonitorStoppedEvent struct {
	TaskID  string `json:"task_id"`
	Monitor string `json:"monitor"`
}

// Type returns the event type identifier for MonitorStoppedEvent.
func (e MonitorStoppedEvent) Type() uint32 { return TypeMonitorStopped }

// CompanionSpawnedEvent fires in the parent after the shared companion
// process started.
type CompanionSpawnedEvent struct {
	TaskID string `json:"task_id"`
	PID    int    `json:"pid"`
}

// Type returns the event type identifier for CompanionSpawnedEvent.
func (e CompanionSpawnedEvent) Type() uint32 { return TypeCompanionSpawned }

// CompanionExitedEvent fires in the parent once the companion has exited
// and been reaped.
type CompanionExitedEvent struct {
	TaskID   string `json:"task_id"`
	PID      int    `json:"pid"`
	ExitCode int    `json:"exit_code"`
}

// Type returns the event type identifier for CompanionExitedEvent.
func (e CompanionExitedEvent) Type() uint32 { return TypeCompanionExited }

// QueueDrainedEvent fires when a drain barrier completes.
type QueueDrainedEvent struct {
	TaskID  string `json:"task_id"`
	Pending int    `json:"pending"`
}

// Type returns the event type identifier for QueueDrainedEvent.
func (e QueueDrainedEvent) Type() uint32 { return TypeQueueDrained }
