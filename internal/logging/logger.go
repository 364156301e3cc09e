package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// bufferSize is the ring buffer capacity backing the logs API.
const bufferSize = 1000

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mu            sync.RWMutex
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevels  = make(map[string]*slog.LevelVar)
	globalLevel   = &slog.LevelVar{}
	globalConfig  Config
	initialized   bool
	buffer        = NewRingBuffer(bufferSize)
)

// Initialize sets up the logging system and the process default logger.
// Loggers created before Initialize keep working; their levels and
// handlers are updated in place.
func Initialize(config Config) {
	mu.Lock()
	defer mu.Unlock()

	globalConfig = config
	initialized = true

	level := parseLevel(config.Level)
	if level == nil {
		info := slog.LevelInfo
		level = &info
	}
	globalLevel.Set(*level)

	for module, lv := range moduleLevels {
		moduleLevel := *level
		if s, ok := config.Modules[module]; ok {
			if parsed := parseLevel(s); parsed != nil {
				moduleLevel = *parsed
			}
		}
		lv.Set(moduleLevel)
		moduleLoggers[module] = slog.New(newHandler(config.Format, lv)).With("module", module)
	}

	slog.SetDefault(slog.New(newHandler(config.Format, globalLevel)))
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	if logger, ok := moduleLoggers[module]; ok {
		mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	lv.Set(moduleLevel(module))

	format := "text"
	if initialized {
		format = globalConfig.Format
	}
	logger := slog.New(newHandler(format, lv)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevels[module] = lv
	return logger
}

// SetModuleLevel changes a module's level at runtime; the config watcher
// calls this on reload. Unknown level strings are ignored.
func SetModuleLevel(module, level string) {
	parsed := parseLevel(level)
	if parsed == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if lv, ok := moduleLevels[module]; ok {
		lv.Set(*parsed)
		return
	}
	lv := &slog.LevelVar{}
	lv.Set(*parsed)
	moduleLevels[module] = lv
}

// Buffer returns the ring buffer of recent log entries.
func Buffer() *RingBuffer {
	return buffer
}

// moduleLevel resolves the initial level for module from the current
// config. Callers hold mu.
func moduleLevel(module string) slog.Level {
	level := slog.LevelInfo
	if !initialized {
		return level
	}
	if parsed := parseLevel(globalConfig.Level); parsed != nil {
		level = *parsed
	}
	if s, ok := globalConfig.Modules[module]; ok {
		if parsed := parseLevel(s); parsed != nil {
			level = *parsed
		}
	}
	return level
}

// newHandler builds the output chain for one logger: stdout (text or
// json), journald when reachable, and always the ring buffer.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if stdoutUsable() {
		if format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stdout, opts))
		}
	}
	if JournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(buffer, level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// stdoutUsable reports whether stdout goes anywhere worth writing:
// terminal, pipe, socket or regular file, but not /dev/null.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 ||
		(mode&os.ModeSocket) != 0 || mode.IsRegular()
}

func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
