// Package backup turns raw SQL dumps into durable, verifiable artifacts and
// manages their lifecycle on disk.
//
// An artifact starts as the output of a dump producer and passes through a
// fixed pipeline: validate that the payload looks like SQL, compress, verify
// the compressed payload decompresses back byte for byte, encrypt when
// configured, checksum, move into its tier directory, and write a metadata
// sidecar next to it. Every stored artifact is self-describing: the sidecar
// carries enough to find, verify and decode it without the configuration
// that produced it.
//
// Core pieces:
//
//   - Pipeline: the staged transformation from scratch file to placed artifact
//   - Artifact: a stored file plus the sidecar fields that describe it
//   - RetentionManager: tier promotion and keep-count pruning
//   - Checker: offline verification of the artifact tree against sidecars
//   - MetricsCollector: process-wide counters the operations record into
//   - Notifier: cycle outcome fan-out to webhook and file channels
//
// Tiers form a fixed hierarchy (hourly, daily, weekly, monthly, yearly).
// Cycles write into hourly; promotion copies the newest hourly artifact into
// the longer tiers when their calendar boundaries are crossed; pruning trims
// each tier to its keep-count, oldest first. A keep-count of zero or less
// disables pruning for that tier, never retention of it.
//
// Example usage:
//
//	pipeline := backup.NewPipeline(cfg.BackupRoot, cfg.ScratchRoot, uploader, logger)
//	artifact, err := pipeline.Commit(ctx, rawPath, target, backup.TierHourly, dump.ToolVersion, dump.Strategy)
//	if err != nil {
//		return fmt.Errorf("commit failed: %w", err)
//	}
package backup
