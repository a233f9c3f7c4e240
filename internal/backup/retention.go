package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dumpkeep/internal/logging"
)

// RetentionManager prunes stored artifacts down to their per-tier
// keep-counts and promotes fresh artifacts into longer-period tiers.
type RetentionManager interface {
	// PruneTier removes the oldest artifacts in one tier beyond the
	// target's keep-count for it. A keep-count of zero or less leaves the
	// tier untouched.
	PruneTier(ctx context.Context, target *Target, tier Tier, dryRun bool) (*PruneResult, error)

	// PruneTarget prunes every tier for one target. Per-tier failures are
	// collected in the result rather than aborting the remaining tiers.
	PruneTarget(ctx context.Context, target *Target, dryRun bool) (*PruneResult, error)

	// PromoteDue copies the newest hourly artifact into whichever
	// longer-period tiers are owed one at the given time.
	PromoteDue(ctx context.Context, target *Target, now time.Time) ([]*Artifact, error)

	// ListArtifacts loads the artifacts stored for one target and tier,
	// newest first.
	ListArtifacts(target string, tier Tier) ([]*Artifact, error)
}

// PruneResult represents the outcome of a prune pass
type PruneResult struct {
	Target          string        `json:"target"`
	Tier            Tier          `json:"tier,omitempty"`
	ArtifactsSeen   int           `json:"artifacts_seen"`
	ArtifactsPruned int           `json:"artifacts_pruned"`
	ArtifactsKept   int           `json:"artifacts_kept"`
	PrunedFiles     []string      `json:"pruned_files,omitempty"`
	BytesReclaimed  int64         `json:"bytes_reclaimed"`
	Errors          []string      `json:"errors,omitempty"`
	ProcessingTime  time.Duration `json:"processing_time"`
	DryRun          bool          `json:"dry_run"`
}

// retentionManager implements the RetentionManager interface
type retentionManager struct {
	backupRoot    string
	promotionHour int
	logger        *logging.Logger
}

// NewRetentionManager creates a new retention manager. promotionHour is the
// wall-clock hour at which daily and longer tiers receive their copies.
func NewRetentionManager(backupRoot string, promotionHour int, logger *logging.Logger) RetentionManager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &retentionManager{
		backupRoot:    backupRoot,
		promotionHour: promotionHour,
		logger:        logger,
	}
}

// storedFile is one artifact file on disk, identified for prune ordering by
// its modification time.
type storedFile struct {
	path    string
	modTime time.Time
	size    int64
}

// PruneTier removes the oldest artifacts beyond the tier's keep-count
func (rm *retentionManager) PruneTier(ctx context.Context, target *Target, tier Tier, dryRun bool) (*PruneResult, error) {
	startTime := time.Now()
	result := &PruneResult{Target: target.Name, Tier: tier, DryRun: dryRun}

	files, err := rm.listTierFiles(TierDir(rm.backupRoot, target.Name, tier))
	if err != nil {
		return nil, err
	}
	result.ArtifactsSeen = len(files)

	keep := target.Retention.Keep(tier)
	if keep <= 0 || len(files) <= keep {
		result.ArtifactsKept = len(files)
		result.ProcessingTime = time.Since(startTime)
		return result, nil
	}

	// Newest first; everything past the keep-count goes, sidecar included.
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	for _, file := range files[keep:] {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.PrunedFiles = append(result.PrunedFiles, filepath.Base(file.path))
		if dryRun {
			result.ArtifactsPruned++
			result.BytesReclaimed += file.size
			continue
		}

		if err := os.Remove(file.path); err != nil {
			errorMsg := fmt.Sprintf("failed to remove %s: %v", file.path, err)
			result.Errors = append(result.Errors, errorMsg)
			rm.logger.Error(errorMsg)
			continue
		}
		if err := os.Remove(file.path + SidecarSuffix); err != nil && !os.IsNotExist(err) {
			errorMsg := fmt.Sprintf("failed to remove sidecar for %s: %v", file.path, err)
			result.Errors = append(result.Errors, errorMsg)
			rm.logger.Error(errorMsg)
		}
		result.ArtifactsPruned++
		result.BytesReclaimed += file.size
	}

	result.ArtifactsKept = result.ArtifactsSeen - result.ArtifactsPruned
	result.ProcessingTime = time.Since(startTime)

	if dryRun {
		rm.logger.Debugf("Prune dry run for %s/%s: %d of %d artifacts would be removed",
			target.Name, tier, result.ArtifactsPruned, result.ArtifactsSeen)
	} else {
		rm.logger.LogPruneSummary(target.Name, string(tier), result.ArtifactsPruned, result.ArtifactsKept)
	}

	return result, nil
}

// PruneTarget prunes every tier for one target
func (rm *retentionManager) PruneTarget(ctx context.Context, target *Target, dryRun bool) (*PruneResult, error) {
	startTime := time.Now()
	combined := &PruneResult{Target: target.Name, DryRun: dryRun}

	for _, tier := range AllTiers {
		if err := ctx.Err(); err != nil {
			return combined, err
		}

		result, err := rm.PruneTier(ctx, target, tier, dryRun)
		if err != nil {
			errorMsg := fmt.Sprintf("prune failed for tier %s: %v", tier, err)
			combined.Errors = append(combined.Errors, errorMsg)
			rm.logger.Error(errorMsg)
			continue
		}
		combined.ArtifactsSeen += result.ArtifactsSeen
		combined.ArtifactsPruned += result.ArtifactsPruned
		combined.ArtifactsKept += result.ArtifactsKept
		combined.PrunedFiles = append(combined.PrunedFiles, result.PrunedFiles...)
		combined.BytesReclaimed += result.BytesReclaimed
		combined.Errors = append(combined.Errors, result.Errors...)
	}

	combined.ProcessingTime = time.Since(startTime)
	return combined, nil
}

// PromoteDue copies the newest hourly artifact into the tiers owed one
func (rm *retentionManager) PromoteDue(ctx context.Context, target *Target, now time.Time) ([]*Artifact, error) {
	dueTiers := promotionTiersAt(now, rm.promotionHour)
	if len(dueTiers) == 0 {
		return nil, nil
	}

	source, err := rm.newestArtifact(target.Name, TierHourly)
	if err != nil {
		return nil, err
	}
	if source == nil {
		rm.logger.Debugf("No hourly artifact to promote for %s", target.Name)
		return nil, nil
	}

	var promoted []*Artifact
	for _, tier := range dueTiers {
		if err := ctx.Err(); err != nil {
			return promoted, err
		}
		artifact, err := rm.promote(source, target.Name, tier)
		if err != nil {
			rm.logger.Errorf("Promotion of %s to %s failed: %v", source.Filename, tier, err)
			continue
		}
		if artifact != nil {
			promoted = append(promoted, artifact)
		}
	}
	return promoted, nil
}

// ListArtifacts loads the artifacts stored for one target and tier
func (rm *retentionManager) ListArtifacts(target string, tier Tier) ([]*Artifact, error) {
	files, err := rm.listTierFiles(TierDir(rm.backupRoot, target, tier))
	if err != nil {
		return nil, err
	}

	artifacts := make([]*Artifact, 0, len(files))
	for _, file := range files {
		artifact, err := ReadSidecar(file.path)
		if err != nil {
			rm.logger.Warnf("Skipping %s: %v", file.path, err)
			continue
		}
		artifacts = append(artifacts, artifact)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// promotionTiersAt returns the longer-period tiers owed a copy at the given
// time: daily at the promotion hour, weekly additionally on Sundays, monthly
// on the first of the month, and yearly on January 1st.
func promotionTiersAt(now time.Time, promotionHour int) []Tier {
	if now.Hour() != promotionHour {
		return nil
	}
	tiers := []Tier{TierDaily}
	if now.Weekday() == time.Sunday {
		tiers = append(tiers, TierWeekly)
	}
	if now.Day() == 1 {
		tiers = append(tiers, TierMonthly)
		if now.Month() == time.January {
			tiers = append(tiers, TierYearly)
		}
	}
	return tiers
}

func (rm *retentionManager) listTierFiles(dir string) ([]storedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewStorageError(fmt.Sprintf("failed to read tier directory %s", dir), err)
	}

	var files []storedFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if IsSidecar(name) || strings.HasSuffix(name, ".partial") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, storedFile{
			path:    filepath.Join(dir, name),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}
	return files, nil
}

// newestArtifact returns the most recent artifact in a tier that has a
// readable sidecar, or nil when the tier holds none.
func (rm *retentionManager) newestArtifact(target string, tier Tier) (*Artifact, error) {
	files, err := rm.listTierFiles(TierDir(rm.backupRoot, target, tier))
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	for _, file := range files {
		artifact, err := ReadSidecar(file.path)
		if err != nil {
			rm.logger.Warnf("Skipping %s during promotion: %v", file.path, err)
			continue
		}
		return artifact, nil
	}
	return nil, nil
}

// promote copies one artifact and its sidecar into another tier. Promoting
// the same artifact twice is a no-op.
func (rm *retentionManager) promote(source *Artifact, target string, tier Tier) (*Artifact, error) {
	destDir := TierDir(rm.backupRoot, target, tier)
	destPath := filepath.Join(destDir, source.Filename)
	if _, err := os.Stat(destPath); err == nil {
		return nil, nil
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, NewStorageError("failed to create tier directory", err)
	}
	if err := copyFile(source.Path, destPath); err != nil {
		return nil, err
	}

	promoted := *source
	promoted.Tier = tier
	promoted.Path = destPath
	if err := promoted.WriteSidecar(); err != nil {
		os.Remove(destPath)
		return nil, err
	}

	rm.logger.Infof("Promoted %s into %s tier for %s", source.Filename, tier, target)
	return &promoted, nil
}

// copyFile copies src to dst through a synced partial file so a crash
// cannot leave a half-written artifact under the tier directory.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return NewStorageError("failed to open source artifact", err)
	}
	defer in.Close()

	partial := dst + ".partial"
	out, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return NewStorageError("failed to create partial copy", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(partial)
		return NewStorageError("failed to copy artifact", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(partial)
		return NewStorageError("failed to sync copied artifact", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return NewStorageError("failed to close copied artifact", err)
	}
	if err := os.Rename(partial, dst); err != nil {
		os.Remove(partial)
		return NewStorageError("failed to move copied artifact into place", err)
	}
	return nil
}
