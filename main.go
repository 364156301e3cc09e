package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/AH-Merii/clearml/cmd"
	"github.com/AH-Merii/clearml/internal/api"
	"github.com/AH-Merii/clearml/internal/api/models"
	"github.com/AH-Merii/clearml/internal/callpool"
	"github.com/AH-Merii/clearml/internal/config"
	"github.com/AH-Merii/clearml/internal/events"
	"github.com/AH-Merii/clearml/internal/ipc"
	"github.com/AH-Merii/clearml/internal/logging"
	"github.com/AH-Merii/clearml/internal/metrics"
	"github.com/AH-Merii/clearml/internal/monitor"
	"github.com/AH-Merii/clearml/internal/safequeue"
)

// Options for the CLI - flat structure with toml and env mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"clearmld.toml"`

	// Server settings
	Port string `help:"Status API listen address" short:"p" default:":8060" toml:"api.port" env:"API_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Monitor settings
	UseCompanion   bool   `help:"Run monitors in a shared companion process" default:"false" toml:"monitor.use_companion" env:"MONITOR_USE_COMPANION"`
	ResourcePeriod string `help:"Resource monitor step interval" default:"5s" toml:"monitor.resource_period" env:"MONITOR_RESOURCE_PERIOD"`

	// Queue settings
	QueueBatchSize int `help:"Max reports drained per reporter pass" default:"100" toml:"queue.batch_size" env:"QUEUE_BATCH_SIZE"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingMonitor string `help:"Monitor logging level" default:"info" toml:"logging.monitor" env:"LOGGING_MONITOR"`
	LoggingQueue   string `help:"Queue logging level" default:"info" toml:"logging.queue" env:"LOGGING_QUEUE"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	registerMonitorFactories()

	// a companion host is this same binary re-executed; route before any
	// flag parsing
	if monitor.IsHostProcess() {
		runCompanionHost()
		return
	}

	// the root command is captured so Load can tell explicitly-set flags
	// from defaults; humacli runs this callback after flag parsing
	var root *cobra.Command
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if err := config.Load(opts, root); err != nil {
			slog.Warn("failed to load config", "error", err)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"monitor": opts.LoggingMonitor,
				"queue":   opts.LoggingQueue,
				"api":     opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		bus := events.New()
		met := metrics.New()
		pools := callpool.NewRegistry(nil, logging.GetLogger("callpool"))

		// the report pipe backs the safe queue; both ends are exported to
		// the companion so report writers there reach the same reader
		pipe, err := ipc.NewPipe()
		if err != nil {
			logger.Error("failed to create report pipe", "error", err)
			os.Exit(1)
		}

		rt := monitor.NewRuntime(monitor.Options{
			Pools:   pools,
			Bus:     bus,
			Metrics: met,
			Logger:  logging.GetLogger("monitor"),
			ReportFiles: []*os.File{
				pipe.FramedReader.File(),
				pipe.FramedWriter.File(),
			},
		})

		queue := safequeue.New(safequeue.Options{
			Transport: pipe,
			Pool:      pools,
			AtExit:    rt.AtExitState,
			Logger:    logging.GetLogger("queue"),
			OnFlush:   met.QueueFlushes.Inc,
			OnDrop:    met.QueueDrops.Inc,
		})

		task := monitor.NewLocalTask(opts.UseCompanion)

		period, err := time.ParseDuration(opts.ResourcePeriod)
		if err != nil || period <= 0 {
			period = 5 * time.Second
		}
		resources := monitor.New(rt, task, resourceMonitorName, period,
			resourceStep(queue, met), false)

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Status:            &statusSource{rt: rt, task: task, queue: queue},
			EventBus:          bus,
			PrometheusHandler: met.Handler(),
		})

		// apply logging-level edits from the config file without restart
		watcher := config.NewWatcher(opts.Config,
			func(path string) (logging.Config, error) {
				return config.LoadLogging(path), nil
			}, logging.GetLogger("config"))
		watcher.OnReload(func(cfg logging.Config) {
			logging.Initialize(cfg)
		})

		reporterCtx, stopReporter := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			resources.Start()
			if err := rt.StartAll(task, true); err != nil {
				logger.Error("failed to start monitors", "error", err)
				os.Exit(1)
			}
			go runReporter(reporterCtx, queue, met, logging.GetLogger("queue"), opts.QueueBatchSize)

			if err := watcher.Start(); err != nil {
				logger.Warn("config watcher unavailable", "error", err)
			}

			logger.Info("starting status API", "addr", opts.Port,
				"task", task.ID(), "companion", opts.UseCompanion)
			if err := server.Start(opts.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("failed to start status API", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")
			rt.SetAtExitState(true)

			if err := server.Stop(); err != nil {
				logger.Error("error stopping status API", "error", err)
			}
			if err := watcher.Stop(); err != nil {
				logger.Warn("error stopping config watcher", "error", err)
			}

			// drain outstanding report writes before tearing monitors down
			queue.Close(nil, 5*time.Second)
			bus.Publish(events.QueueDrainedEvent{
				TaskID: task.ID(), Pending: queue.PendingCount(),
			})

			resources.Stop()
			rt.ClearMainProcess(task)
			stopReporter()
		})
	})

	root = cli.Root()
	root.Use = "clearmld"
	root.AddCommand(cmd.CreateVersionCmd())
	cli.Run()
}

// runCompanionHost is the hidden entrypoint for the re-executed binary.
func runCompanionHost() {
	logging.Initialize(config.LoadLogging(os.Getenv("CLEARML_CONFIG")))
	logger := logging.GetLogger("companion")
	if err := monitor.RunHost(logger); err != nil {
		logger.Error("companion host failed", "error", err)
		os.Exit(1)
	}
}

// statusSource adapts the runtime and queue to the API's status contract.
type statusSource struct {
	rt    *monitor.Runtime
	task  monitor.Task
	queue *safequeue.Queue
}

func (s *statusSource) MonitorStatus() []models.MonitorInfo {
	instances := s.rt.Instances(s.task.ID())
	out := make([]models.MonitorInfo, 0, len(instances))
	for _, m := range instances {
		out = append(out, models.MonitorInfo{
			Name:          m.Name(),
			TaskID:        m.TaskID(),
			Mode:          m.Mode(),
			Alive:         m.IsAlive(),
			PeriodSeconds: m.Period().Seconds(),
		})
	}
	return out
}

func (s *statusSource) QueueStatus() models.QueueData {
	return models.QueueData{
		Pending:        s.queue.PendingCount(),
		CompanionAlive: s.rt.IsCompanionAlive(s.task),
		CompanionPID:   s.rt.CompanionPID(),
	}
}
