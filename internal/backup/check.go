package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dumpkeep/internal/logging"
)

// Check problem kinds
const (
	ProblemMissingSidecar    = "missing_sidecar"
	ProblemOrphanSidecar     = "orphan_sidecar"
	ProblemUnreadableSidecar = "unreadable_sidecar"
	ProblemChecksumMismatch  = "checksum_mismatch"
	ProblemSizeMismatch      = "size_mismatch"
)

// CheckProblem describes one defect found during an artifact scan
type CheckProblem struct {
	Target string `json:"target"`
	Tier   Tier   `json:"tier"`
	File   string `json:"file"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// CheckReport summarizes an artifact integrity scan
type CheckReport struct {
	ArtifactsChecked int              `json:"artifacts_checked"`
	TotalBytes       int64            `json:"total_bytes"`
	BytesByTarget    map[string]int64 `json:"bytes_by_target"`
	Problems         []CheckProblem   `json:"problems,omitempty"`
	ProcessingTime   time.Duration    `json:"processing_time"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Healthy reports whether the scan found no problems
func (r *CheckReport) Healthy() bool {
	return len(r.Problems) == 0
}

// Checker verifies stored artifacts against their metadata sidecars: every
// artifact must have a readable sidecar whose checksum and size match the
// bytes on disk, and every sidecar must belong to an artifact.
type Checker struct {
	backupRoot string
	logger     *logging.Logger
}

// NewChecker creates a Checker over one backup root
func NewChecker(backupRoot string, logger *logging.Logger) *Checker {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Checker{backupRoot: backupRoot, logger: logger}
}

// CheckAll scans every target directory under the backup root
func (c *Checker) CheckAll(ctx context.Context) (*CheckReport, error) {
	startTime := time.Now()
	report := newCheckReport()

	entries, err := os.ReadDir(c.backupRoot)
	if err != nil {
		if os.IsNotExist(err) {
			report.ProcessingTime = time.Since(startTime)
			return report, nil
		}
		return nil, NewStorageError("failed to read backup root", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// Dot directories hold scratch space, never artifacts.
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := c.checkTargetInto(ctx, entry.Name(), report); err != nil {
			return nil, err
		}
	}

	report.ProcessingTime = time.Since(startTime)
	c.logScan(report)
	return report, nil
}

// CheckTarget scans a single target's artifacts
func (c *Checker) CheckTarget(ctx context.Context, target string) (*CheckReport, error) {
	startTime := time.Now()
	report := newCheckReport()

	if err := c.checkTargetInto(ctx, target, report); err != nil {
		return nil, err
	}

	report.ProcessingTime = time.Since(startTime)
	c.logScan(report)
	return report, nil
}

func newCheckReport() *CheckReport {
	return &CheckReport{
		BytesByTarget: make(map[string]int64),
		GeneratedAt:   time.Now(),
	}
}

func (c *Checker) checkTargetInto(ctx context.Context, target string, report *CheckReport) error {
	for _, tier := range AllTiers {
		dir := TierDir(c.backupRoot, target, tier)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return NewStorageError(fmt.Sprintf("failed to read tier directory %s", dir), err)
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			path := filepath.Join(dir, name)

			if IsSidecar(name) {
				artifactPath := strings.TrimSuffix(path, SidecarSuffix)
				if _, err := os.Stat(artifactPath); os.IsNotExist(err) {
					report.addProblem(target, tier, name, ProblemOrphanSidecar,
						"sidecar has no matching artifact file")
				}
				continue
			}
			if strings.HasSuffix(name, ".partial") {
				continue
			}

			c.checkArtifact(target, tier, path, report)
		}
	}
	return nil
}

func (c *Checker) checkArtifact(target string, tier Tier, path string, report *CheckReport) {
	name := filepath.Base(path)
	report.ArtifactsChecked++

	if info, err := os.Stat(path); err == nil {
		report.TotalBytes += info.Size()
		report.BytesByTarget[target] += info.Size()
	}

	artifact, err := ReadSidecar(path)
	if err != nil {
		if _, statErr := os.Stat(path + SidecarSuffix); os.IsNotExist(statErr) {
			report.addProblem(target, tier, name, ProblemMissingSidecar,
				"artifact has no metadata sidecar")
		} else {
			report.addProblem(target, tier, name, ProblemUnreadableSidecar, err.Error())
		}
		return
	}

	sum, size, err := checksumFile(path)
	if err != nil {
		report.addProblem(target, tier, name, ProblemChecksumMismatch,
			fmt.Sprintf("failed to read artifact: %v", err))
		return
	}
	if size != artifact.SizeBytes {
		report.addProblem(target, tier, name, ProblemSizeMismatch,
			fmt.Sprintf("sidecar records %d bytes but file holds %d", artifact.SizeBytes, size))
	}
	if sum != artifact.Checksum {
		report.addProblem(target, tier, name, ProblemChecksumMismatch,
			"stored bytes do not match the recorded checksum")
	}
}

func (r *CheckReport) addProblem(target string, tier Tier, file, kind, detail string) {
	r.Problems = append(r.Problems, CheckProblem{
		Target: target,
		Tier:   tier,
		File:   file,
		Kind:   kind,
		Detail: detail,
	})
}

func (c *Checker) logScan(report *CheckReport) {
	if report.Healthy() {
		c.logger.Infof("Artifact check passed: %d artifacts, %d bytes", report.ArtifactsChecked, report.TotalBytes)
		return
	}
	for _, problem := range report.Problems {
		c.logger.Errorf("Artifact check: %s/%s %s: %s (%s)",
			problem.Target, problem.Tier, problem.File, problem.Kind, problem.Detail)
	}
	c.logger.Errorf("Artifact check found %d problems across %d artifacts",
		len(report.Problems), report.ArtifactsChecked)
}
