package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/AH-Merii/clearml/internal/api/models"
	"github.com/AH-Merii/clearml/internal/logging"
)

// registerStatusRoutes wires the monitor and queue status endpoints.
func (s *Server) registerStatusRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-monitors",
		Method:      http.MethodGet,
		Path:        "/api/monitors",
		Summary:     "Monitors",
		Description: "List registered background monitors with their execution mode and liveness",
		Tags:        []string{"monitors"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.MonitorListResponse, error) {
		var monitors []models.MonitorInfo
		if s.options.Status != nil {
			monitors = s.options.Status.MonitorStatus()
		}
		return &models.MonitorListResponse{
			Body: models.MonitorListData{Monitors: monitors, Count: len(monitors)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "queue-status",
		Method:      http.MethodGet,
		Path:        "/api/queue",
		Summary:     "Queue",
		Description: "Report queue pending counts and companion process state",
		Tags:        []string{"queue"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.QueueResponse, error) {
		var data models.QueueData
		if s.options.Status != nil {
			data = s.options.Status.QueueStatus()
		}
		return &models.QueueResponse{Body: data}, nil
	})
}

// registerLogRoutes wires the recent-logs endpoint backed by the ring
// buffer.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Logs",
		Description: "Recent daemon log entries, oldest first",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum entries to return"`
	}) (*models.LogsResponse, error) {
		entries := logging.Buffer().ReadAll()
		if input.Limit > 0 && len(entries) > input.Limit {
			entries = entries[len(entries)-input.Limit:]
		}
		return &models.LogsResponse{
			Body: models.LogsData{Entries: entries, Count: len(entries)},
		}, nil
	})
}
