package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"dumpkeep/internal/errors"
	"dumpkeep/internal/logging"
)

// cronSchedule is the fixed cycle period
const cronSchedule = "@hourly"

// Daemon runs the scheduler on an hourly cron schedule until SIGINT or
// SIGTERM arrives. The first cycle starts immediately; a signal lets the
// cycle in flight finish before the process exits.
type Daemon struct {
	scheduler *Scheduler
	logger    *logging.Logger

	cycleMu  sync.Mutex
	stopping atomic.Bool
}

// NewDaemon wraps a scheduler in daemon mode
func NewDaemon(scheduler *Scheduler, logger *logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Daemon{
		scheduler: scheduler,
		logger:    logger,
	}
}

// Run blocks until a termination signal has been handled. The shutdown
// sequence stops the schedule, waits for the running cycle, then logs the
// final metrics.
func (d *Daemon) Run(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cron.PrintfLogger(cronPrintf{d.logger})))
	if _, err := c.AddFunc(cronSchedule, func() {
		d.runCycle(context.Background())
	}); err != nil {
		return err
	}

	handler := errors.NewGracefulShutdownHandler()
	handler.RegisterShutdownFunc(func() error {
		d.logFinalMetrics()
		return nil
	})
	handler.RegisterShutdownFunc(func() error {
		d.logger.Info("Shutdown requested, waiting for the running cycle to finish")
		d.stopping.Store(true)
		<-c.Stop().Done()
		d.cycleMu.Lock()
		d.cycleMu.Unlock()
		return nil
	})
	handler.Start()
	defer handler.Stop()

	d.logger.Infof("Cycle daemon started on an %s schedule", cronSchedule)
	d.runCycle(ctx)
	if !d.stopping.Load() {
		c.Start()
	}

	handler.WaitForShutdown()
	d.logger.Info("Cycle daemon stopped")
	return nil
}

// runCycle serializes cycles: an interval that fires while the previous
// cycle is still running is skipped, not queued.
func (d *Daemon) runCycle(ctx context.Context) {
	if !d.cycleMu.TryLock() {
		d.logger.Warn("Previous cycle still running, skipping this interval")
		return
	}
	defer d.cycleMu.Unlock()

	if d.stopping.Load() {
		return
	}
	d.scheduler.RunCycle(ctx)
}

func (d *Daemon) logFinalMetrics() {
	m := d.scheduler.Metrics().Snapshot()
	d.logger.WithFields(map[string]interface{}{
		"cycles":               m.CyclesCompleted,
		"backups_succeeded":    m.BackupsSucceeded,
		"backups_failed":       m.BackupsFailed,
		"bytes_stored":         m.BytesStored,
		"artifacts_pruned":     m.ArtifactsPruned,
		"artifacts_promoted":   m.ArtifactsPromoted,
		"verifications_run":    m.VerificationsRun,
		"verifications_failed": m.VerificationsFailed,
		"uptime":               m.LastUpdate.Sub(m.StartTime).String(),
	}).Info("Final cycle metrics")
}

// cronPrintf adapts the structured logger to cron's Printf-style interface
type cronPrintf struct {
	logger *logging.Logger
}

func (c cronPrintf) Printf(format string, args ...interface{}) {
	c.logger.Debugf(format, args...)
}
