// Package app assembles the configured services into one operations facade.
// Every dumpkeep operation is a method returning a structured result or a
// typed error; parsing flags and rendering results belongs to cmd/ and
// internal/display.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dumpkeep/internal/backup"
	"dumpkeep/internal/config"
	"dumpkeep/internal/database"
	"dumpkeep/internal/dump"
	"dumpkeep/internal/logging"
	"dumpkeep/internal/restore"
	"dumpkeep/internal/scheduler"
	"dumpkeep/internal/uploader"
)

// App owns the wired service graph for one process run. Configuration is
// read once at construction; nothing here mutates it afterwards.
type App struct {
	config    *config.Config
	logger    *logging.Logger
	producer  *dump.Producer
	pipeline  *backup.Pipeline
	restorer  *restore.Engine
	retention backup.RetentionManager
	checker   *backup.Checker
	metrics   *backup.MetricsCollector
	notifier  *backup.Notifier
	ops       *OperationLog
}

// New wires the service graph from a validated configuration
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	up, err := uploader.New(ctx, cfg.Replication, logger)
	if err != nil {
		return nil, fmt.Errorf("replication setup failed: %w", err)
	}

	ops, err := NewOperationLog(logger, cfg.Logging.AuditFile)
	if err != nil {
		return nil, err
	}

	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		locator := t.Locator
		if locator == "" && t.LocatorEnv != "" {
			locator = os.Getenv(t.LocatorEnv)
		}
		logger.WithFields(map[string]interface{}{
			"target":  t.Name,
			"engine":  t.Engine,
			"locator": logging.SanitizeLocator(locator),
		}).Debug("Configured backup target")
	}

	connector := database.NewConnector(logger)
	return &App{
		config:    cfg,
		logger:    logger,
		producer:  dump.NewProducer(connector, nil, logger),
		pipeline:  backup.NewPipeline(cfg.BackupRoot, cfg.ScratchRoot, up, logger),
		restorer:  restore.NewEngine(connector, logger),
		retention: backup.NewRetentionManager(cfg.BackupRoot, cfg.PromotionHour, logger),
		checker:   backup.NewChecker(cfg.BackupRoot, logger),
		metrics:   backup.NewMetricsCollector(),
		notifier:  backup.NewNotifier(cfg.Notifications, logger),
		ops:       ops,
	}, nil
}

// Logger returns the application logger
func (a *App) Logger() *logging.Logger {
	return a.logger
}

// Metrics returns the counters the operations record into
func (a *App) Metrics() *backup.MetricsCollector {
	return a.metrics
}

// TargetNames lists the configured target names in configuration order
func (a *App) TargetNames() []string {
	names := make([]string, 0, len(a.config.Targets))
	for i := range a.config.Targets {
		names = append(names, a.config.Targets[i].Name)
	}
	return names
}

// ProduceResult pairs a dump outcome with the artifact it became
type ProduceResult struct {
	Dump     *dump.DumpResult `json:"dump"`
	Artifact *backup.Artifact `json:"artifact"`
}

// ProduceNow dumps one target and commits the result into the given tier.
// Unlike a scheduled cycle it never promotes and never prunes.
func (a *App) ProduceNow(ctx context.Context, targetName string, tier backup.Tier) (result *ProduceResult, err error) {
	finish := a.ops.Begin("produce-now", map[string]interface{}{"target": targetName, "tier": string(tier)})
	defer func() { finish(err) }()

	if !tier.Valid() {
		return nil, backup.NewValidationError(fmt.Sprintf("unknown tier %q", tier), nil)
	}
	target, err := a.config.Target(targetName)
	if err != nil {
		return nil, err
	}

	scratch, err := backup.NewScratch(a.config.ScratchRoot, a.logger)
	if err != nil {
		return nil, err
	}
	defer scratch.Release()

	rawPath := scratch.Path(target.Name + ".sql")
	dumpResult, err := a.producer.Produce(ctx, target, rawPath)
	if err != nil {
		a.metrics.RecordBackup(false, 0)
		return nil, err
	}

	artifact, err := a.pipeline.Commit(ctx, rawPath, target, tier, dumpResult.ToolVersion, dumpResult.Strategy)
	if err != nil {
		a.metrics.RecordBackup(false, 0)
		return nil, err
	}

	a.metrics.RecordBackup(true, artifact.SizeBytes)
	return &ProduceResult{Dump: dumpResult, Artifact: artifact}, nil
}

// VerifyRestore restores an artifact into an ephemeral database and drops
// it again. An empty artifact reference selects the target's newest hourly
// artifact.
func (a *App) VerifyRestore(ctx context.Context, targetName, artifactRef string) (result *restore.Result, err error) {
	finish := a.ops.Begin("verify-restore", map[string]interface{}{"target": targetName})
	defer func() { finish(err) }()

	target, err := a.config.Target(targetName)
	if err != nil {
		return nil, err
	}
	artifactPath, err := a.resolveArtifact(target, artifactRef)
	if err != nil {
		return nil, err
	}

	result, err = a.restorer.Verify(ctx, target, artifactPath)
	a.metrics.RecordVerification(err == nil)
	return result, err
}

// DestructiveRestore drops and recreates the target's database (or an
// explicit override) and replays the artifact into it. Confirmation is the
// caller's responsibility; by the time this runs the decision is final.
func (a *App) DestructiveRestore(ctx context.Context, targetName, artifactRef, databaseOverride string) (result *restore.Result, err error) {
	finish := a.ops.Begin("destructive-restore", map[string]interface{}{"target": targetName, "database": databaseOverride})
	defer func() { finish(err) }()

	target, err := a.config.Target(targetName)
	if err != nil {
		return nil, err
	}
	artifactPath, err := a.resolveArtifact(target, artifactRef)
	if err != nil {
		return nil, err
	}

	return a.restorer.Destructive(ctx, target, artifactPath, databaseOverride)
}

// RestoreTable replaces a single table in the target's database with the
// copy held in the artifact.
func (a *App) RestoreTable(ctx context.Context, targetName, artifactRef, table string) (result *restore.Result, err error) {
	finish := a.ops.Begin("restore-table", map[string]interface{}{"target": targetName, "table": table})
	defer func() { finish(err) }()

	target, err := a.config.Target(targetName)
	if err != nil {
		return nil, err
	}
	artifactPath, err := a.resolveArtifact(target, artifactRef)
	if err != nil {
		return nil, err
	}

	return a.restorer.RestoreTable(ctx, target, artifactPath, table)
}

// TableList names the artifact inspected and the tables its dump defines
type TableList struct {
	Artifact string   `json:"artifact"`
	Tables   []string `json:"tables"`
}

// ListTables reports the tables defined in an artifact's dump, without
// touching any database.
func (a *App) ListTables(targetName, artifactRef string) (list *TableList, err error) {
	finish := a.ops.Begin("list-tables", map[string]interface{}{"target": targetName})
	defer func() { finish(err) }()

	target, err := a.config.Target(targetName)
	if err != nil {
		return nil, err
	}
	artifactPath, err := a.resolveArtifact(target, artifactRef)
	if err != nil {
		return nil, err
	}

	tables, err := a.restorer.ListTables(target, artifactPath)
	if err != nil {
		return nil, err
	}
	return &TableList{Artifact: filepath.Base(artifactPath), Tables: tables}, nil
}

// RunCycleOnce executes one full backup cycle over every configured target
func (a *App) RunCycleOnce(ctx context.Context) (report *scheduler.CycleReport, err error) {
	finish := a.ops.Begin("run-cycle-once", nil)
	defer func() { finish(err) }()

	sched, err := a.newScheduler()
	if err != nil {
		return nil, err
	}
	return sched.RunCycle(ctx), nil
}

// RunCycleDaemon runs hourly cycles until the context is cancelled or a
// termination signal arrives. The cycle in flight always finishes first.
func (a *App) RunCycleDaemon(ctx context.Context) (err error) {
	finish := a.ops.Begin("run-cycle-daemon", nil)
	defer func() { finish(err) }()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	return scheduler.NewDaemon(sched, a.logger).Run(ctx)
}

// CheckArtifacts re-verifies stored artifacts against their metadata
// sidecars, for one target or for all of them when targetName is empty.
func (a *App) CheckArtifacts(ctx context.Context, targetName string) (report *backup.CheckReport, err error) {
	finish := a.ops.Begin("check-artifacts", map[string]interface{}{"target": targetName})
	defer func() { finish(err) }()

	if targetName == "" {
		return a.checker.CheckAll(ctx)
	}
	if _, err := a.config.Target(targetName); err != nil {
		return nil, err
	}
	return a.checker.CheckTarget(ctx, targetName)
}

// newScheduler materializes the targets and assembles a scheduler around
// the shared services.
func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	targets, err := a.config.BackupTargets()
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Options{
		Targets:     targets,
		Producer:    a.producer,
		Pipeline:    a.pipeline,
		Restorer:    a.restorer,
		Retention:   a.retention,
		Metrics:     a.metrics,
		Notifier:    a.notifier,
		ScratchRoot: a.config.ScratchRoot,
		BackupRoot:  a.config.BackupRoot,
		DiskFloorMB: a.config.DiskFloorMB,
		Logger:      a.logger,
	}), nil
}

// resolveArtifact turns an artifact reference into an absolute path. An
// empty reference selects the target's newest hourly artifact, a bare
// filename is searched across the target's tiers, and anything containing
// a path separator is used as given.
func (a *App) resolveArtifact(target *backup.Target, ref string) (string, error) {
	if strings.ContainsAny(ref, `/\`) {
		if _, err := os.Stat(ref); err != nil {
			return "", backup.NewStorageError(fmt.Sprintf("artifact %s is not readable", ref), err).
				WithContext("target", target.Name)
		}
		return ref, nil
	}

	if ref == "" {
		artifacts, err := a.retention.ListArtifacts(target.Name, backup.TierHourly)
		if err != nil {
			return "", err
		}
		if len(artifacts) == 0 {
			return "", backup.NewStorageError(fmt.Sprintf("target %s has no hourly artifacts", target.Name), nil)
		}
		return artifacts[0].Path, nil
	}

	for _, tier := range backup.AllTiers {
		candidate := filepath.Join(backup.TierDir(a.config.BackupRoot, target.Name, tier), ref)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", backup.NewStorageError(fmt.Sprintf("artifact %s not found for target %s", ref, target.Name), nil).
		WithContext("target", target.Name)
}
