package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumpkeep/internal/database"
)

// seedArtifact stores a fake artifact plus sidecar and pins its mtime so
// prune ordering is deterministic.
func seedArtifact(t *testing.T, backupRoot, target string, tier Tier, createdAt time.Time) *Artifact {
	t.Helper()

	dir := TierDir(backupRoot, target, tier)
	require.NoError(t, os.MkdirAll(dir, 0755))

	artifact := &Artifact{
		Target:    target,
		Engine:    "postgres",
		Tier:      tier,
		Filename:  ArtifactFilename(target, createdAt, CompressionTypeNone, false),
		CreatedAt: createdAt,
		SizeBytes: 64,
		Checksum:  fmt.Sprintf("sum-%d", createdAt.Unix()),
	}
	artifact.Path = filepath.Join(dir, artifact.Filename)

	content := make([]byte, 64)
	require.NoError(t, os.WriteFile(artifact.Path, content, 0644))
	require.NoError(t, artifact.WriteSidecar())
	require.NoError(t, os.Chtimes(artifact.Path, createdAt, createdAt))
	return artifact
}

func testTarget(name string, retention RetentionPolicy) *Target {
	return &Target{Name: name, Engine: database.EnginePostgres, Retention: retention}
}

func TestRetentionManager_PruneTier_KeepsNewest(t *testing.T) {
	backupRoot := t.TempDir()
	rm := NewRetentionManager(backupRoot, 3, nil)

	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	var artifacts []*Artifact
	for i := 0; i < 5; i++ {
		artifacts = append(artifacts, seedArtifact(t, backupRoot, "orders", TierHourly, base.Add(time.Duration(i)*time.Hour)))
	}

	target := testTarget("orders", RetentionPolicy{Hourly: 2})
	result, err := rm.PruneTier(context.Background(), target, TierHourly, false)
	require.NoError(t, err)

	assert.Equal(t, 5, result.ArtifactsSeen)
	assert.Equal(t, 3, result.ArtifactsPruned)
	assert.Equal(t, 2, result.ArtifactsKept)
	assert.Equal(t, int64(3*64), result.BytesReclaimed)
	assert.Empty(t, result.Errors)
	assert.False(t, result.DryRun)

	// The two newest survive with their sidecars, the rest are gone.
	for _, artifact := range artifacts[3:] {
		assert.FileExists(t, artifact.Path)
		assert.FileExists(t, artifact.SidecarPath())
	}
	for _, artifact := range artifacts[:3] {
		assert.NoFileExists(t, artifact.Path)
		assert.NoFileExists(t, artifact.SidecarPath())
	}
}

func TestRetentionManager_PruneTier_ZeroKeepDisablesPruning(t *testing.T) {
	backupRoot := t.TempDir()
	rm := NewRetentionManager(backupRoot, 3, nil)

	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		seedArtifact(t, backupRoot, "orders", TierYearly, base.AddDate(0, 0, i))
	}

	target := testTarget("orders", RetentionPolicy{Yearly: 0})
	result, err := rm.PruneTier(context.Background(), target, TierYearly, false)
	require.NoError(t, err)

	assert.Equal(t, 4, result.ArtifactsSeen)
	assert.Zero(t, result.ArtifactsPruned)
	assert.Equal(t, 4, result.ArtifactsKept)
}

func TestRetentionManager_PruneTier_UnderKeepCount(t *testing.T) {
	backupRoot := t.TempDir()
	rm := NewRetentionManager(backupRoot, 3, nil)

	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	seedArtifact(t, backupRoot, "orders", TierDaily, base)
	seedArtifact(t, backupRoot, "orders", TierDaily, base.AddDate(0, 0, 1))

	target := testTarget("orders", RetentionPolicy{Daily: 7})
	result, err := rm.PruneTier(context.Background(), target, TierDaily, false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.ArtifactsSeen)
	assert.Zero(t, result.ArtifactsPruned)
}

func TestRetentionManager_PruneTier_DryRun(t *testing.T) {
	backupRoot := t.TempDir()
	rm := NewRetentionManager(backupRoot, 3, nil)

	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	var artifacts []*Artifact
	for i := 0; i < 3; i++ {
		artifacts = append(artifacts, seedArtifact(t, backupRoot, "orders", TierHourly, base.Add(time.Duration(i)*time.Hour)))
	}

	target := testTarget("orders", RetentionPolicy{Hourly: 1})
	result, err := rm.PruneTier(context.Background(), target, TierHourly, true)
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.ArtifactsPruned)
	assert.Len(t, result.PrunedFiles, 2)

	// Nothing was actually removed.
	for _, artifact := range artifacts {
		assert.FileExists(t, artifact.Path)
	}
}

func TestRetentionManager_PruneTier_EmptyTier(t *testing.T) {
	rm := NewRetentionManager(t.TempDir(), 3, nil)

	target := testTarget("orders", RetentionPolicy{Hourly: 2})
	result, err := rm.PruneTier(context.Background(), target, TierHourly, false)
	require.NoError(t, err)
	assert.Zero(t, result.ArtifactsSeen)
	assert.Zero(t, result.ArtifactsPruned)
}

func TestRetentionManager_PruneTarget(t *testing.T) {
	backupRoot := t.TempDir()
	rm := NewRetentionManager(backupRoot, 3, nil)

	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedArtifact(t, backupRoot, "orders", TierHourly, base.Add(time.Duration(i)*time.Hour))
	}
	for i := 0; i < 3; i++ {
		seedArtifact(t, backupRoot, "orders", TierDaily, base.AddDate(0, 0, i))
	}

	target := testTarget("orders", RetentionPolicy{Hourly: 1, Daily: 2})
	result, err := rm.PruneTarget(context.Background(), target, false)
	require.NoError(t, err)

	assert.Equal(t, 6, result.ArtifactsSeen)
	assert.Equal(t, 3, result.ArtifactsPruned)
	assert.Equal(t, 3, result.ArtifactsKept)
	assert.Empty(t, result.Errors)
}

func TestPromotionTiersAt(t *testing.T) {
	const promotionHour = 3

	tests := []struct {
		name     string
		now      time.Time
		expected []Tier
	}{
		{
			"Off hour",
			time.Date(2024, 3, 13, 14, 0, 0, 0, time.UTC),
			nil,
		},
		{
			"Plain weekday",
			time.Date(2024, 3, 13, 3, 0, 0, 0, time.UTC), // Wednesday
			[]Tier{TierDaily},
		},
		{
			"Sunday",
			time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC),
			[]Tier{TierDaily, TierWeekly},
		},
		{
			"First of month",
			time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC), // Friday
			[]Tier{TierDaily, TierMonthly},
		},
		{
			"First of month on a Sunday",
			time.Date(2024, 9, 1, 3, 0, 0, 0, time.UTC),
			[]Tier{TierDaily, TierWeekly, TierMonthly},
		},
		{
			"New year",
			time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), // Monday
			[]Tier{TierDaily, TierMonthly, TierYearly},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, promotionTiersAt(tt.now, promotionHour))
		})
	}
}

func TestRetentionManager_PromoteDue(t *testing.T) {
	backupRoot := t.TempDir()
	rm := NewRetentionManager(backupRoot, 3, nil)

	createdAt := time.Date(2024, 3, 13, 2, 0, 0, 0, time.UTC)
	source := seedArtifact(t, backupRoot, "orders", TierHourly, createdAt)

	now := time.Date(2024, 3, 13, 3, 0, 0, 0, time.UTC)
	target := testTarget("orders", DefaultRetentionPolicy)

	promoted, err := rm.PromoteDue(context.Background(), target, now)
	require.NoError(t, err)
	require.Len(t, promoted, 1)

	daily := promoted[0]
	assert.Equal(t, TierDaily, daily.Tier)
	assert.Equal(t, source.Filename, daily.Filename)
	assert.Equal(t, source.Checksum, daily.Checksum)
	assert.FileExists(t, daily.Path)
	assert.FileExists(t, daily.SidecarPath())

	// The hourly original stays where it was.
	assert.FileExists(t, source.Path)

	t.Run("Second run is a no-op", func(t *testing.T) {
		again, err := rm.PromoteDue(context.Background(), target, now)
		require.NoError(t, err)
		assert.Empty(t, again)
	})
}

func TestRetentionManager_PromoteDue_OffHour(t *testing.T) {
	backupRoot := t.TempDir()
	rm := NewRetentionManager(backupRoot, 3, nil)
	seedArtifact(t, backupRoot, "orders", TierHourly, time.Date(2024, 3, 13, 2, 0, 0, 0, time.UTC))

	now := time.Date(2024, 3, 13, 15, 0, 0, 0, time.UTC)
	promoted, err := rm.PromoteDue(context.Background(), testTarget("orders", DefaultRetentionPolicy), now)
	require.NoError(t, err)
	assert.Empty(t, promoted)
	assert.NoDirExists(t, TierDir(backupRoot, "orders", TierDaily))
}

func TestRetentionManager_PromoteDue_NothingToPromote(t *testing.T) {
	rm := NewRetentionManager(t.TempDir(), 3, nil)

	now := time.Date(2024, 3, 13, 3, 0, 0, 0, time.UTC)
	promoted, err := rm.PromoteDue(context.Background(), testTarget("orders", DefaultRetentionPolicy), now)
	require.NoError(t, err)
	assert.Empty(t, promoted)
}

func TestRetentionManager_ListArtifacts(t *testing.T) {
	backupRoot := t.TempDir()
	rm := NewRetentionManager(backupRoot, 3, nil)

	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	oldest := seedArtifact(t, backupRoot, "orders", TierHourly, base)
	middle := seedArtifact(t, backupRoot, "orders", TierHourly, base.Add(time.Hour))
	newest := seedArtifact(t, backupRoot, "orders", TierHourly, base.Add(2*time.Hour))

	artifacts, err := rm.ListArtifacts("orders", TierHourly)
	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	assert.Equal(t, newest.Filename, artifacts[0].Filename)
	assert.Equal(t, middle.Filename, artifacts[1].Filename)
	assert.Equal(t, oldest.Filename, artifacts[2].Filename)
}

func TestRetentionManager_ListArtifacts_SkipsOrphans(t *testing.T) {
	backupRoot := t.TempDir()
	rm := NewRetentionManager(backupRoot, 3, nil)

	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	kept := seedArtifact(t, backupRoot, "orders", TierHourly, base)

	// An artifact file without a sidecar is invisible to listing.
	orphan := filepath.Join(TierDir(backupRoot, "orders", TierHourly), "orders_20240315T010000Z.sql")
	require.NoError(t, os.WriteFile(orphan, []byte("data"), 0644))

	artifacts, err := rm.ListArtifacts("orders", TierHourly)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, kept.Filename, artifacts[0].Filename)
}
