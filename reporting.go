package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/procfs"

	"github.com/AH-Merii/clearml/internal/ipc"
	"github.com/AH-Merii/clearml/internal/metrics"
	"github.com/AH-Merii/clearml/internal/monitor"
	"github.com/AH-Merii/clearml/internal/safequeue"
)

// resourceMonitorName identifies the resource-usage monitor in the factory
// registry and in metrics labels.
const resourceMonitorName = "resources"

// resourceReport is one sample of the daemon's own resource usage, shipped
// through the report queue.
type resourceReport struct {
	PID        int
	CPUSeconds float64
	RSSBytes   int
	At         time.Time
}

func init() {
	safequeue.Register(resourceReport{})
}

// registerMonitorFactories makes every monitor reconstructible inside a
// companion process. Runs in both the daemon and the re-executed host.
func registerMonitorFactories() {
	monitor.RegisterFactory(resourceMonitorName, func(hc *monitor.HostContext) monitor.StepFunc {
		// both report-pipe ends are inherited; writes from here land at
		// the parent's reader
		pipe := ipc.PipeFromFiles(hc.ReportFile(0), hc.ReportFile(1))
		queue := safequeue.New(safequeue.Options{
			Transport: pipe,
			Logger:    hc.Logger,
		})
		return resourceStep(queue, nil)
	})
}

// resourceStep samples this process's CPU and memory usage from procfs and
// puts a report on the queue. met is nil inside the companion.
func resourceStep(queue *safequeue.Queue, met *metrics.Set) monitor.StepFunc {
	return func() {
		p, err := procfs.Self()
		if err != nil {
			return
		}
		stat, err := p.Stat()
		if err != nil {
			return
		}
		report := resourceReport{
			PID:        stat.PID,
			CPUSeconds: stat.CPUTime(),
			RSSBytes:   stat.ResidentMemory(),
			At:         time.Now(),
		}
		if queue.Put(report) == nil && met != nil {
			met.QueuePuts.Inc()
		}
	}
}

// runReporter drains the report queue in batches until ctx is canceled,
// surfacing samples as debug logs and keeping the pending gauge current.
func runReporter(ctx context.Context, queue *safequeue.Queue, met *metrics.Set, logger *slog.Logger, batchSize int) {
	if batchSize <= 0 {
		batchSize = 100
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		items := queue.BatchGet(batchSize, time.Second, 100*time.Millisecond)
		for _, item := range items {
			report, ok := item.(resourceReport)
			if !ok {
				logger.Debug("unexpected report type", "item", item)
				continue
			}
			logger.Debug("resource report",
				"pid", report.PID,
				"cpu_seconds", report.CPUSeconds,
				"rss_bytes", report.RSSBytes,
				"sampled_at", report.At)
		}
		met.QueuePending.Set(float64(queue.PendingCount()))
	}
}
