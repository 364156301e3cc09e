// Package api serves the daemon's status API over huma v2: health,
// version, monitor and queue status, recent logs, a lifecycle event
// stream, and Prometheus metrics.
package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/AH-Merii/clearml/internal/api/models"
	"github.com/AH-Merii/clearml/internal/events"
	"github.com/AH-Merii/clearml/internal/logging"
	"github.com/AH-Merii/clearml/internal/version"
)

// StatusSource supplies live monitor and queue state to the API without
// coupling it to the runtime types.
type StatusSource interface {
	MonitorStatus() []models.MonitorInfo
	QueueStatus() models.QueueData
}

// Options configures the status API server.
type Options struct {
	AuthUsername string
	AuthPassword string

	Status   StatusSource
	EventBus *events.Bus

	// PrometheusHandler serves GET /metrics when set.
	PrometheusHandler http.Handler
}

// Server is the huma v2 status API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger
}

// NewServer creates the API server with all routes registered.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("ClearML Daemon API", version.String())
	config.Info.Description = "Status and introspection API for the background monitor daemon"
	// relative paths work with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {Type: "http", Scheme: "basic"},
	}

	server := &Server{
		api:     humago.New(mux, config),
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	server.api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		server.api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// GetAPI returns the huma API instance, for tests.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves the API on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting status API server", "addr", addr)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down immediately.
func (s *Server) Stop() error {
	s.logger.Info("stopping status API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// withAuth marks an operation as requiring basic auth when configured.
func withAuth() []map[string][]string {
	return []map[string][]string{{"basicAuth": {}}}
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{Status: "ok", Message: "daemon is healthy"},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerStatusRoutes()
	s.registerLogRoutes()
	s.registerEventRoutes()
}

// basicAuthMiddleware enforces HTTP basic auth on operations that declare
// a security requirement.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		header := ctx.Header("Authorization")
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="ClearML Daemon API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "authentication required")
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
		if err != nil {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="ClearML Daemon API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "invalid credentials format", err)
			return
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 || parts[0] != username || parts[1] != password {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="ClearML Daemon API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next(ctx)
	}
}
