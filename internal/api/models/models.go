// Package models holds the status API request and response bodies.
package models

import "github.com/AH-Merii/clearml/internal/logging"

// Health models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"daemon is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" doc:"Git commit hash"`
	BuildDate string `json:"build_date" doc:"Build timestamp"`
	GoVersion string `json:"go_version" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Monitor models
type MonitorInfo struct {
	Name          string  `json:"name" example:"resources" doc:"Monitor name"`
	TaskID        string  `json:"task_id" doc:"Owning task identifier"`
	Mode          string  `json:"mode" example:"thread" doc:"Execution mode: thread, pending-companion or companion"`
	Alive         bool    `json:"alive" doc:"Whether the step loop is currently running"`
	PeriodSeconds float64 `json:"period_seconds" example:"5" doc:"Step interval in seconds"`
}

type MonitorListData struct {
	Monitors []MonitorInfo `json:"monitors" doc:"Registered monitors"`
	Count    int           `json:"count" example:"2" doc:"Number of monitors"`
}

type MonitorListResponse struct {
	Body MonitorListData
}

// Queue models
type QueueData struct {
	Pending        int  `json:"pending" doc:"Writes dispatched but not yet flushed by this process"`
	CompanionAlive bool `json:"companion_alive" doc:"Whether the shared companion process is running"`
	CompanionPID   int  `json:"companion_pid,omitempty" doc:"Companion process id, 0 when none"`
}

type QueueResponse struct {
	Body QueueData
}

// Log models
type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Recent log entries, oldest first"`
	Count   int                `json:"count" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}
