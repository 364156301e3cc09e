// Package logging provides structured logging with per-module log levels.
//
// The daemon logs through Go's slog package with automatic output routing:
// systemd journal when journald is reachable, stdout when connected to a
// terminal, pipe or file, and always an in-memory ring buffer that the
// status API serves under /api/logs.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"monitor": "debug",
//			"queue":   "warn",
//		},
//	})
//
// Then fetch module loggers anywhere:
//
//	logger := logging.GetLogger("queue")
//	logger.Info("flushed batch", "count", n)
//
// Module levels are backed by slog.LevelVar, so SetModuleLevel applied by
// the config watcher takes effect on already-created loggers.
//
// When running under systemd:
//
//	journalctl -t clearmld -f
//	journalctl -t clearmld MODULE=monitor
package logging
