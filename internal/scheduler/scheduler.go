// Package scheduler drives backup cycles across the configured targets and
// hosts the hourly daemon. A cycle walks the targets strictly in order:
// produce a fresh hourly artifact, verify it when the target's verification
// hour matches, promote it into longer tiers when due, then prune. A
// failing target never stops the rest of the cycle.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dumpkeep/internal/backup"
	"dumpkeep/internal/dump"
	"dumpkeep/internal/logging"
	"dumpkeep/internal/restore"
)

// DumpRunner produces a raw SQL dump for one target
type DumpRunner interface {
	Produce(ctx context.Context, target *backup.Target, outputPath string) (*dump.DumpResult, error)
}

// Committer runs a raw dump through the artifact pipeline into a tier
type Committer interface {
	Commit(ctx context.Context, rawPath string, target *backup.Target, tier backup.Tier, toolVersion, strategy string) (*backup.Artifact, error)
}

// Verifier runs a verification restore against a stored artifact
type Verifier interface {
	Verify(ctx context.Context, target *backup.Target, artifactPath string) (*restore.Result, error)
}

// TargetOutcome records what one cycle did for one target
type TargetOutcome struct {
	Target    string        `json:"target"`
	Artifact  string        `json:"artifact,omitempty"`
	Strategy  string        `json:"strategy,omitempty"`
	SizeBytes int64         `json:"size_bytes,omitempty"`
	Verified  *bool         `json:"verified,omitempty"`
	Promoted  []string      `json:"promoted,omitempty"`
	Pruned    int           `json:"pruned"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Failed reports whether the target's backup failed. Verification,
// promotion and prune problems are recorded but do not fail the target.
func (o *TargetOutcome) Failed() bool {
	return o.Error != ""
}

// CycleReport summarizes one full cycle over every configured target
type CycleReport struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Targets   []TargetOutcome `json:"targets"`
}

// Failures counts targets whose backup failed this cycle
func (r *CycleReport) Failures() int {
	failures := 0
	for i := range r.Targets {
		if r.Targets[i].Failed() {
			failures++
		}
	}
	return failures
}

// Options wires the scheduler's collaborators
type Options struct {
	Targets     []*backup.Target
	Producer    DumpRunner
	Pipeline    Committer
	Restorer    Verifier
	Retention   backup.RetentionManager
	Metrics     *backup.MetricsCollector
	Notifier    *backup.Notifier
	ScratchRoot string
	BackupRoot  string
	DiskFloorMB int64
	Logger      *logging.Logger

	// Now overrides the clock, for tests
	Now func() time.Time
}

// Scheduler runs backup cycles sequentially over the configured targets
type Scheduler struct {
	targets     []*backup.Target
	producer    DumpRunner
	pipeline    Committer
	restorer    Verifier
	retention   backup.RetentionManager
	metrics     *backup.MetricsCollector
	notifier    *backup.Notifier
	scratchRoot string
	backupRoot  string
	diskFloorMB int64
	logger      *logging.Logger
	now         func() time.Time
}

// New creates a scheduler from its options
func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = backup.NewMetricsCollector()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		targets:     opts.Targets,
		producer:    opts.Producer,
		pipeline:    opts.Pipeline,
		restorer:    opts.Restorer,
		retention:   opts.Retention,
		metrics:     opts.Metrics,
		notifier:    opts.Notifier,
		scratchRoot: opts.ScratchRoot,
		backupRoot:  opts.BackupRoot,
		diskFloorMB: opts.DiskFloorMB,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// Metrics returns the collector the scheduler records into
func (s *Scheduler) Metrics() *backup.MetricsCollector {
	return s.metrics
}

// RunCycle executes one full cycle and reports per-target outcomes. The
// report never carries an error: failures are logged, counted and recorded
// in the outcomes, and the next scheduled cycle is the retry.
func (s *Scheduler) RunCycle(ctx context.Context) *CycleReport {
	startedAt := s.now()
	report := &CycleReport{
		ID:        uuid.New().String(),
		StartedAt: startedAt,
	}

	s.logger.WithFields(map[string]interface{}{
		"cycle":   report.ID,
		"targets": len(s.targets),
	}).Info("Backup cycle started")

	s.warnOnLowHeadroom()

	for _, target := range s.targets {
		outcome := s.processTarget(ctx, target, startedAt)
		report.Targets = append(report.Targets, outcome)
	}

	s.metrics.RecordCycle(startedAt, len(s.targets))
	report.Duration = time.Since(startedAt)

	failures := report.Failures()
	s.logger.WithFields(map[string]interface{}{
		"cycle":    report.ID,
		"targets":  len(report.Targets),
		"failures": failures,
		"duration": report.Duration.String(),
	}).Info("Backup cycle finished")

	s.notifyCycleCompleted(ctx, report)
	return report
}

// processTarget runs the full per-target sequence. Only the backup itself
// (dump + commit) fails the target; verification, promotion and prune
// problems are logged and carried in the outcome.
func (s *Scheduler) processTarget(ctx context.Context, target *backup.Target, cycleStart time.Time) TargetOutcome {
	outcome := TargetOutcome{Target: target.Name}
	targetStart := time.Now()
	defer func() {
		outcome.Duration = time.Since(targetStart)
	}()

	scratch, err := backup.NewScratch(s.scratchRoot, s.logger)
	if err != nil {
		s.failTarget(ctx, &outcome, target, err)
		return outcome
	}
	defer scratch.Release()

	rawPath := scratch.Path(target.Name + ".sql")
	dumpResult, err := s.producer.Produce(ctx, target, rawPath)
	if err != nil {
		s.failTarget(ctx, &outcome, target, err)
		return outcome
	}

	artifact, err := s.pipeline.Commit(ctx, rawPath, target, backup.TierHourly, dumpResult.ToolVersion, dumpResult.Strategy)
	if err != nil {
		s.failTarget(ctx, &outcome, target, err)
		return outcome
	}

	s.metrics.RecordBackup(true, artifact.SizeBytes)
	outcome.Artifact = artifact.Filename
	outcome.Strategy = dumpResult.Strategy
	outcome.SizeBytes = artifact.SizeBytes

	if target.VerifyHour != nil && *target.VerifyHour == cycleStart.Hour() {
		s.verifyArtifact(ctx, &outcome, target, artifact)
	}

	s.promote(ctx, &outcome, target, cycleStart)
	s.prune(ctx, &outcome, target)
	return outcome
}

// failTarget records a failed backup and emits the failure notification
func (s *Scheduler) failTarget(ctx context.Context, outcome *TargetOutcome, target *backup.Target, err error) {
	s.logger.WithFields(map[string]interface{}{
		"target": target.Name,
		"error":  err.Error(),
	}).Error("Backup failed, continuing with the remaining targets")

	s.metrics.RecordBackup(false, 0)
	outcome.Error = err.Error()
	s.notify(ctx, backup.CycleEvent{
		Kind:     backup.EventBackupFailed,
		Target:   target.Name,
		Message:  fmt.Sprintf("backup of %s failed: %v", target.Name, err),
		Severity: backup.SeverityCritical,
	})
}

func (s *Scheduler) verifyArtifact(ctx context.Context, outcome *TargetOutcome, target *backup.Target, artifact *backup.Artifact) {
	_, err := s.restorer.Verify(ctx, target, artifact.Path)
	s.metrics.RecordVerification(err == nil)

	verified := err == nil
	outcome.Verified = &verified
	if err == nil {
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"target":   target.Name,
		"artifact": artifact.Filename,
		"error":    err.Error(),
	}).Error("Verification restore failed")
	s.notify(ctx, backup.CycleEvent{
		Kind:     backup.EventVerificationFailed,
		Target:   target.Name,
		Message:  fmt.Sprintf("verification restore of %s failed: %v", artifact.Filename, err),
		Severity: backup.SeverityCritical,
	})
}

func (s *Scheduler) promote(ctx context.Context, outcome *TargetOutcome, target *backup.Target, cycleStart time.Time) {
	promoted, err := s.retention.PromoteDue(ctx, target, cycleStart)
	if err != nil {
		s.logger.Warnf("Promotion for target %s failed: %v", target.Name, err)
		return
	}
	s.metrics.RecordPromotion(len(promoted))
	for _, artifact := range promoted {
		outcome.Promoted = append(outcome.Promoted, string(artifact.Tier))
	}
}

func (s *Scheduler) prune(ctx context.Context, outcome *TargetOutcome, target *backup.Target) {
	result, err := s.retention.PruneTarget(ctx, target, false)
	if err != nil {
		s.logger.Warnf("Prune for target %s failed: %v", target.Name, err)
		return
	}
	s.metrics.RecordPrune(result.ArtifactsPruned)
	outcome.Pruned = result.ArtifactsPruned
}

// warnOnLowHeadroom logs when free space under the backup root is below the
// configured floor. It never blocks the cycle.
func (s *Scheduler) warnOnLowHeadroom() {
	if s.diskFloorMB <= 0 {
		return
	}
	available := backup.AvailableBytes(s.backupRoot)
	floor := s.diskFloorMB * 1024 * 1024
	if available > 0 && available < floor {
		s.logger.Warnf("Free space under %s is down to %d MB (floor %d MB)",
			s.backupRoot, available/(1024*1024), s.diskFloorMB)
	}
}

func (s *Scheduler) notifyCycleCompleted(ctx context.Context, report *CycleReport) {
	severity := backup.SeverityInfo
	message := fmt.Sprintf("cycle %s completed: %d targets backed up", report.ID, len(report.Targets))
	if failures := report.Failures(); failures > 0 {
		severity = backup.SeverityWarning
		message = fmt.Sprintf("cycle %s completed with %d of %d targets failed", report.ID, failures, len(report.Targets))
	}

	metrics := s.metrics.Snapshot()
	s.notify(ctx, backup.CycleEvent{
		Kind:     backup.EventCycleCompleted,
		Message:  message,
		Severity: severity,
		Metrics:  &metrics,
	})
}

func (s *Scheduler) notify(ctx context.Context, event backup.CycleEvent) {
	if s.notifier == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.notifier.Broadcast(ctx, event)
}
