package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierValid(t *testing.T) {
	for _, tier := range AllTiers {
		assert.True(t, tier.Valid(), "tier %s should be valid", tier)
	}
	assert.False(t, Tier("biweekly").Valid())
	assert.False(t, Tier("").Valid())
}

func TestRetentionPolicyKeep(t *testing.T) {
	policy := RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12, Yearly: 0}

	tests := []struct {
		tier     Tier
		expected int
	}{
		{TierHourly, 24},
		{TierDaily, 7},
		{TierWeekly, 4},
		{TierMonthly, 12},
		{TierYearly, 0},
		{Tier("unknown"), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.Keep(tt.tier))
		})
	}
}

func TestArtifactFilename(t *testing.T) {
	createdAt := time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		target      string
		compression CompressionType
		encrypted   bool
		expected    string
	}{
		{"Plain", "orders", CompressionTypeNone, false, "orders_20240315T030000Z.sql"},
		{"Gzip", "orders", CompressionTypeGzip, false, "orders_20240315T030000Z.sql.gz"},
		{"Zstd encrypted", "orders", CompressionTypeZstd, true, "orders_20240315T030000Z.sql.zst.enc"},
		{"Plain encrypted", "orders", CompressionTypeNone, true, "orders_20240315T030000Z.sql.enc"},
		{"LZ4", "inventory", CompressionTypeLZ4, false, "inventory_20240315T030000Z.sql.lz4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ArtifactFilename(tt.target, createdAt, tt.compression, tt.encrypted)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestArtifactFilename_TimestampIsUTC(t *testing.T) {
	local := time.Date(2024, 3, 15, 3, 0, 0, 0, time.FixedZone("UTC-4", -4*60*60))
	got := ArtifactFilename("orders", local, CompressionTypeNone, false)
	assert.Equal(t, "orders_20240315T070000Z.sql", got)
}

func TestSidecarRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	artifactPath := filepath.Join(tempDir, "orders_20240315T030000Z.sql.gz")
	require.NoError(t, os.WriteFile(artifactPath, []byte("fake artifact"), 0644))

	artifact := &Artifact{
		Target:      "orders",
		Engine:      "postgres",
		Tier:        TierHourly,
		Filename:    "orders_20240315T030000Z.sql.gz",
		CreatedAt:   time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC),
		SizeBytes:   13,
		Compressed:  true,
		Compression: CompressionTypeGzip,
		Checksum:    "abc123",
		ToolVersion: "pg_dump 16.2",
		Strategy:    "tool",
		Path:        artifactPath,
	}

	require.NoError(t, artifact.WriteSidecar())

	sidecarPath := artifact.SidecarPath()
	assert.Equal(t, artifactPath+SidecarSuffix, sidecarPath)
	assert.FileExists(t, sidecarPath)

	loaded, err := ReadSidecar(artifactPath)
	require.NoError(t, err)
	assert.Equal(t, artifact.Target, loaded.Target)
	assert.Equal(t, artifact.Tier, loaded.Tier)
	assert.Equal(t, artifact.Filename, loaded.Filename)
	assert.True(t, artifact.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, artifact.Checksum, loaded.Checksum)
	assert.Equal(t, artifact.Compression, loaded.Compression)
	assert.Equal(t, artifact.ToolVersion, loaded.ToolVersion)

	// Path is derived from where the sidecar was read, never serialized.
	assert.Equal(t, artifactPath, loaded.Path)
}

func TestReadSidecar_Missing(t *testing.T) {
	_, err := ReadSidecar(filepath.Join(t.TempDir(), "nope.sql"))
	assert.Error(t, err)
	assert.True(t, IsKind(err, BackupErrorTypeStorage))
}

func TestIsSidecar(t *testing.T) {
	assert.True(t, IsSidecar("orders_20240315T030000Z.sql.meta.json"))
	assert.False(t, IsSidecar("orders_20240315T030000Z.sql"))
	assert.False(t, IsSidecar("orders_20240315T030000Z.sql.gz"))
}
