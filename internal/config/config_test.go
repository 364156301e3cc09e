package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

type daemonOpts struct {
	Config       string
	Port         int      `toml:"api.port" env:"PORT"`
	QueueBatch   int      `toml:"queue.batch" env:"QUEUE_BATCH"`
	LoggingLevel string   `toml:"logging.level" env:"LOGGING_LEVEL"`
	Monitors     []string `toml:"monitor.enabled" env:"MONITORS"`
	UseCompanion bool     `toml:"monitor.use_companion" env:"USE_COMPANION"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clearmld.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
[api]
port = 9090

[queue]
batch = 50

[logging]
level = "debug"

[monitor]
enabled = ["resources", "logs"]
use_companion = true
`)

	opts := daemonOpts{Config: path, Port: 8080}
	if err := Load(&opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.Port != 9090 {
		t.Errorf("port = %d, want 9090", opts.Port)
	}
	if opts.QueueBatch != 50 {
		t.Errorf("queue batch = %d, want 50", opts.QueueBatch)
	}
	if opts.LoggingLevel != "debug" {
		t.Errorf("logging level = %q, want debug", opts.LoggingLevel)
	}
	if len(opts.Monitors) != 2 || opts.Monitors[0] != "resources" {
		t.Errorf("monitors = %v", opts.Monitors)
	}
	if !opts.UseCompanion {
		t.Error("use_companion not applied")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[api]\nport = 9090\n")

	t.Setenv("CLEARML_PORT", "7070")
	t.Setenv("CLEARML_MONITORS", "resources, logs")
	t.Setenv("CLEARML_USE_COMPANION", "true")

	opts := daemonOpts{Config: path}
	if err := Load(&opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.Port != 7070 {
		t.Errorf("env should override file: port = %d, want 7070", opts.Port)
	}
	if len(opts.Monitors) != 2 || opts.Monitors[1] != "logs" {
		t.Errorf("comma-separated env slice not parsed: %v", opts.Monitors)
	}
	if !opts.UseCompanion {
		t.Error("bool env not parsed")
	}
}

func TestChangedFlagsOverrideFileAndEnv(t *testing.T) {
	path := writeConfig(t, "[api]\nport = 9090\n\n[logging]\nlevel = \"debug\"\n")
	t.Setenv("CLEARML_PORT", "7070")

	cmd := &cobra.Command{Use: "clearmld"}
	cmd.Flags().Int("port", 8080, "")
	cmd.Flags().String("logging-level", "info", "")
	if err := cmd.Flags().Set("port", "6060"); err != nil {
		t.Fatal(err)
	}

	// the flag the user set on the command line must survive both layers
	opts := daemonOpts{Config: path, Port: 6060, LoggingLevel: "info"}
	if err := Load(&opts, cmd); err != nil {
		t.Fatal(err)
	}
	if opts.Port != 6060 {
		t.Errorf("explicit flag overridden: port = %d, want 6060", opts.Port)
	}
	if opts.LoggingLevel != "debug" {
		t.Errorf("untouched flag should still yield to the file: level = %q", opts.LoggingLevel)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	opts := daemonOpts{Config: "/nonexistent/clearmld.toml", Port: 8080}
	if err := Load(&opts, nil); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if opts.Port != 8080 {
		t.Errorf("defaults should survive: port = %d", opts.Port)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "not [valid toml")
	opts := daemonOpts{Config: path}
	if err := Load(&opts, nil); err == nil {
		t.Error("malformed file should error")
	}
}

func TestLoadLogging(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "warn"
format = "json"
monitor = "debug"
queue = "error"
`)

	cfg := LoadLogging(path)
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("got level=%q format=%q", cfg.Level, cfg.Format)
	}
	if cfg.Modules["monitor"] != "debug" || cfg.Modules["queue"] != "error" {
		t.Errorf("module levels = %v", cfg.Modules)
	}
}

func TestLoadLoggingDefaults(t *testing.T) {
	cfg := LoadLogging("")
	if cfg.Level != "info" || cfg.Format != "text" {
		t.Errorf("defaults wrong: %+v", cfg)
	}
	cfg = LoadLogging("/nonexistent/clearmld.toml")
	if cfg.Level != "info" {
		t.Errorf("missing file should fall back to defaults: %+v", cfg)
	}
}

func TestFlagName(t *testing.T) {
	tests := map[string]string{
		"Port":         "port",
		"QueueBatch":   "queue-batch",
		"LoggingLevel": "logging-level",
		"LoggingAPI":   "logging-api",
		"APIPort":      "api-port",
	}
	for in, want := range tests {
		if got := flagName(in); got != want {
			t.Errorf("flagName(%q) = %q, want %q", in, got, want)
		}
	}
}
