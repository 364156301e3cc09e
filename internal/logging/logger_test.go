package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func resetState() {
	mu.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevels = make(map[string]*slog.LevelVar)
	globalConfig = Config{}
	initialized = false
	mu.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()
	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"monitor": "debug",
			"queue":   "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"monitor", true, true, true},
		{"queue", false, false, true},
		{"other", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			h := GetLogger(tt.module).Handler()
			if got := h.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := h.Enabled(context.Background(), slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := h.Enabled(context.Background(), slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState()

	before := GetLogger("monitor")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("pre-Initialize logger should default to info")
	}

	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"monitor": "debug"},
	})

	after := GetLogger("monitor")
	if before != after {
		t.Error("logger should be cached across Initialize")
	}
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Initialize should raise the cached logger's level via its LevelVar")
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info", Format: "text"})

	logger := GetLogger("queue")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("queue should start at info")
	}

	SetModuleLevel("queue", "debug")
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("SetModuleLevel should take effect on the existing logger")
	}

	// unknown strings must not change anything
	SetModuleLevel("queue", "chatty")
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("invalid level string should be ignored")
	}
}

func TestRingBufferWrap(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Write(LogEntry{Message: string(rune('a' + i)), Timestamp: time.Now()})
	}
	if rb.Count() != 3 {
		t.Fatalf("count = %d, want 3", rb.Count())
	}
	got := rb.ReadAll()
	want := []string{"c", "d", "e"}
	for i, entry := range got {
		if entry.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, entry.Message, want[i])
		}
	}
}

func TestBufferHandlerCapturesModuleAndAttrs(t *testing.T) {
	rb := NewRingBuffer(10)
	lv := &slog.LevelVar{}
	logger := slog.New(NewBufferHandler(rb, lv)).With("module", "queue")

	logger.Info("flushed", "count", 7)

	entries := rb.ReadAll()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Module != "queue" || e.Message != "flushed" || e.Level != "info" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Attributes["count"] != int64(7) {
		t.Errorf("count attribute = %v", e.Attributes["count"])
	}
}

func TestMultiHandlerSingleDelivery(t *testing.T) {
	rbDebug := NewRingBuffer(10)
	rbInfo := NewRingBuffer(10)
	debugVar := &slog.LevelVar{}
	debugVar.Set(slog.LevelDebug)
	infoVar := &slog.LevelVar{}

	multi := NewMultiHandler(
		NewBufferHandler(rbDebug, debugVar),
		NewBufferHandler(rbInfo, infoVar),
	)
	logger := slog.New(multi)

	logger.Debug("debug only")
	if rbDebug.Count() != 1 {
		t.Errorf("debug handler got %d entries, want 1", rbDebug.Count())
	}
	if rbInfo.Count() != 0 {
		t.Errorf("info handler got %d entries, want 0", rbInfo.Count())
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got := parseLevel(tt.input)
		if tt.isNil {
			if got != nil {
				t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
			}
			continue
		}
		if got == nil || *got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
