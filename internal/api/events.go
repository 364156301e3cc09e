package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/AH-Merii/clearml/internal/events"
)

// registerEventRoutes wires the lifecycle SSE stream: monitor and
// companion transitions plus drain completions, as they happen.
func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events/stream",
		Summary:     "Event Stream",
		Description: "Real-time lifecycle events via Server-Sent Events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"monitor_started":   events.MonitorStartedEvent{},
		"monitor_stopped":   events.MonitorStoppedEvent{},
		"companion_spawned": events.CompanionSpawnedEvent{},
		"companion_exited":  events.CompanionExitedEvent{},
		"queue_drained":     events.QueueDrainedEvent{},
	}, func(ctx context.Context, input *struct{}, send sse.Sender) {
		if s.options.EventBus == nil {
			return
		}
		eventCh := make(chan any, 10)

		unsubs := []func(){
			events.SubscribeToChannel[events.MonitorStartedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.MonitorStoppedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.CompanionSpawnedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.CompanionExitedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.QueueDrainedEvent](s.options.EventBus, eventCh),
		}
		defer func() {
			for _, u := range unsubs {
				u()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
