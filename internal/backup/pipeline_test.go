package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumpkeep/internal/database"
)

const sampleDump = `-- dump of orders
CREATE TABLE orders (
    id INT PRIMARY KEY,
    status VARCHAR(32) NOT NULL
);
INSERT INTO orders VALUES (1, 'pending');
INSERT INTO orders VALUES (2, 'shipped');
`

type captureUploader struct {
	artifacts []*Artifact
	err       error
}

func (u *captureUploader) Name() string { return "capture" }

func (u *captureUploader) Upload(ctx context.Context, artifact *Artifact) error {
	u.artifacts = append(u.artifacts, artifact)
	return u.err
}

func writeRawDump(t *testing.T, content string) string {
	t.Helper()
	rawPath := filepath.Join(t.TempDir(), "raw.sql")
	require.NoError(t, os.WriteFile(rawPath, []byte(content), 0600))
	return rawPath
}

func TestTierDir(t *testing.T) {
	got := TierDir("/var/backups", "orders", TierDaily)
	assert.Equal(t, filepath.Join("/var/backups", "orders", "daily"), got)
}

func TestPipeline_Commit_Plain(t *testing.T) {
	backupRoot := t.TempDir()
	pipeline := NewPipeline(backupRoot, t.TempDir(), nil, nil)
	rawPath := writeRawDump(t, sampleDump)

	target := &Target{Name: "orders", Engine: database.EnginePostgres}
	artifact, err := pipeline.Commit(context.Background(), rawPath, target, TierHourly, "pg_dump 16.2", "tool")
	require.NoError(t, err)

	assert.Equal(t, "orders", artifact.Target)
	assert.Equal(t, TierHourly, artifact.Tier)
	assert.False(t, artifact.Compressed)
	assert.False(t, artifact.Encrypted)
	assert.Equal(t, "pg_dump 16.2", artifact.ToolVersion)
	assert.Equal(t, "tool", artifact.Strategy)
	assert.True(t, strings.HasSuffix(artifact.Filename, ".sql"))
	assert.Equal(t, filepath.Join(backupRoot, "orders", "hourly", artifact.Filename), artifact.Path)

	// Stored bytes are the dump itself, the raw file was consumed.
	stored, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, sampleDump, string(stored))
	assert.NoFileExists(t, rawPath)

	// Sidecar round-trips and the checksum holds.
	loaded, err := ReadSidecar(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, artifact.Checksum, loaded.Checksum)
	assert.NoError(t, loaded.VerifyChecksum())
}

func TestPipeline_Commit_Compressed(t *testing.T) {
	for _, algorithm := range []CompressionType{CompressionTypeGzip, CompressionTypeZstd, CompressionTypeLZ4} {
		t.Run(string(algorithm), func(t *testing.T) {
			backupRoot := t.TempDir()
			pipeline := NewPipeline(backupRoot, t.TempDir(), nil, nil)
			rawPath := writeRawDump(t, strings.Repeat(sampleDump, 50))

			target := &Target{Name: "orders", Engine: database.EngineMySQL, Compression: algorithm}
			artifact, err := pipeline.Commit(context.Background(), rawPath, target, TierHourly, "", "driver")
			require.NoError(t, err)

			assert.True(t, artifact.Compressed)
			assert.Equal(t, algorithm, artifact.Compression)
			assert.True(t, strings.HasSuffix(artifact.Filename, ".sql"+algorithm.Extension()))
			assert.NoFileExists(t, rawPath)

			// Decompressing the stored artifact recovers the dump.
			stored, err := os.Open(artifact.Path)
			require.NoError(t, err)
			defer stored.Close()

			compressor, err := NewCompressor(algorithm)
			require.NoError(t, err)
			var recovered bytes.Buffer
			require.NoError(t, compressor.Decompress(&recovered, stored))
			assert.Equal(t, strings.Repeat(sampleDump, 50), recovered.String())
		})
	}
}

func TestPipeline_Commit_Encrypted(t *testing.T) {
	backupRoot := t.TempDir()
	keyDir := t.TempDir()

	key, err := GenerateRecipientKey()
	require.NoError(t, err)
	keyPath := filepath.Join(keyDir, "ops.key")
	require.NoError(t, WriteRecipientKeyFile(key, keyPath))

	encryption := &EncryptionConfig{
		Enabled:    true,
		Recipients: []Recipient{{Name: "ops", KeyFile: keyPath}},
	}
	pipeline := NewPipeline(backupRoot, t.TempDir(), nil, nil)
	rawPath := writeRawDump(t, strings.Repeat(sampleDump, 20))

	target := &Target{
		Name:        "orders",
		Engine:      database.EnginePostgres,
		Compression: CompressionTypeGzip,
		Encryption:  encryption,
	}
	artifact, err := pipeline.Commit(context.Background(), rawPath, target, TierHourly, "pg_dump 16.2", "tool")
	require.NoError(t, err)

	assert.True(t, artifact.Encrypted)
	assert.Equal(t, []string{"ops"}, artifact.Recipients)
	assert.True(t, strings.HasSuffix(artifact.Filename, ".sql.gz.enc"))

	// Stored bytes are an envelope, not SQL and not a bare gzip stream.
	stored, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.True(t, IsEncryptedPayload(stored))

	// Decrypt then decompress to recover the dump.
	decryptor := NewEncryptor(encryption, nil)
	sealed, err := decryptor.Decrypt(stored)
	require.NoError(t, err)

	compressor, err := NewCompressor(CompressionTypeGzip)
	require.NoError(t, err)
	var recovered bytes.Buffer
	require.NoError(t, compressor.Decompress(&recovered, bytes.NewReader(sealed)))
	assert.Equal(t, strings.Repeat(sampleDump, 20), recovered.String())
}

func TestPipeline_Commit_RejectsNonSQL(t *testing.T) {
	backupRoot := t.TempDir()
	pipeline := NewPipeline(backupRoot, t.TempDir(), nil, nil)
	rawPath := writeRawDump(t, "this file has nothing resembling a database dump in it\n")

	target := &Target{Name: "orders", Engine: database.EnginePostgres}
	_, err := pipeline.Commit(context.Background(), rawPath, target, TierHourly, "", "tool")
	require.Error(t, err)
	assert.True(t, IsKind(err, BackupErrorTypeValidation))

	// The raw file stays for inspection and nothing reached the backup root.
	assert.FileExists(t, rawPath)
	assert.NoDirExists(t, filepath.Join(backupRoot, "orders"))
}

func TestPipeline_Commit_MissingRawFile(t *testing.T) {
	pipeline := NewPipeline(t.TempDir(), t.TempDir(), nil, nil)
	target := &Target{Name: "orders", Engine: database.EnginePostgres}

	_, err := pipeline.Commit(context.Background(), filepath.Join(t.TempDir(), "absent.sql"), target, TierHourly, "", "tool")
	require.Error(t, err)
	assert.True(t, IsKind(err, BackupErrorTypeStorage))
}

func TestPipeline_Commit_UploaderReceivesArtifact(t *testing.T) {
	uploader := &captureUploader{}
	pipeline := NewPipeline(t.TempDir(), t.TempDir(), uploader, nil)
	rawPath := writeRawDump(t, sampleDump)

	target := &Target{Name: "orders", Engine: database.EnginePostgres}
	artifact, err := pipeline.Commit(context.Background(), rawPath, target, TierHourly, "", "tool")
	require.NoError(t, err)

	require.Len(t, uploader.artifacts, 1)
	assert.Equal(t, artifact.Filename, uploader.artifacts[0].Filename)
}

func TestPipeline_Commit_UploadFailureIsNotFatal(t *testing.T) {
	uploader := &captureUploader{err: errors.New("bucket unreachable")}
	pipeline := NewPipeline(t.TempDir(), t.TempDir(), uploader, nil)
	rawPath := writeRawDump(t, sampleDump)

	target := &Target{Name: "orders", Engine: database.EnginePostgres}
	artifact, err := pipeline.Commit(context.Background(), rawPath, target, TierHourly, "", "tool")
	require.NoError(t, err)
	assert.FileExists(t, artifact.Path)
	assert.FileExists(t, artifact.SidecarPath())
}

func TestArtifact_VerifyChecksum_Mismatch(t *testing.T) {
	pipeline := NewPipeline(t.TempDir(), t.TempDir(), nil, nil)
	rawPath := writeRawDump(t, sampleDump)

	target := &Target{Name: "orders", Engine: database.EnginePostgres}
	artifact, err := pipeline.Commit(context.Background(), rawPath, target, TierHourly, "", "tool")
	require.NoError(t, err)
	require.NoError(t, artifact.VerifyChecksum())

	// Appending a byte invalidates the recorded checksum.
	f, err := os.OpenFile(artifact.Path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("x")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = artifact.VerifyChecksum()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestScratch_ReleaseRemovesEverything(t *testing.T) {
	root := t.TempDir()
	scratch, err := NewScratch(root, nil)
	require.NoError(t, err)

	staged := scratch.Path("staged.gz")
	require.NoError(t, os.WriteFile(staged, []byte("data"), 0600))
	assert.FileExists(t, staged)

	dir := scratch.Dir()
	scratch.Release()
	assert.NoDirExists(t, dir)
}

func TestPipeline_RepeatedCommits_PruneKeepsNewest(t *testing.T) {
	backupRoot := t.TempDir()
	pipeline := NewPipeline(backupRoot, t.TempDir(), nil, nil)

	target := &Target{
		Name:        "inventory",
		Engine:      database.EngineMySQL,
		Retention:   RetentionPolicy{Hourly: 2},
		Compression: CompressionTypeGzip,
	}

	// Three hourly commits through the full pipeline, each with distinct
	// content. Mtimes are pinned to the commit times so prune ordering is
	// deterministic.
	base := time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC)
	var artifacts []*Artifact
	for i := 0; i < 3; i++ {
		content := sampleDump + strings.Repeat("INSERT INTO orders VALUES (3, 'delivered');\n", i+1)
		rawPath := writeRawDump(t, content)

		createdAt := base.Add(time.Duration(i) * time.Hour)
		artifact, err := pipeline.commit(context.Background(), rawPath, target, TierHourly, "mysqldump 8.0.36", "tool", createdAt)
		require.NoError(t, err)
		require.NoError(t, os.Chtimes(artifact.Path, createdAt, createdAt))
		artifacts = append(artifacts, artifact)
	}

	for _, artifact := range artifacts {
		assert.FileExists(t, artifact.Path)
		assert.FileExists(t, artifact.SidecarPath())
	}

	rm := NewRetentionManager(backupRoot, 3, nil)
	result, err := rm.PruneTarget(context.Background(), target, false)
	require.NoError(t, err)

	assert.Equal(t, 3, result.ArtifactsSeen)
	assert.Equal(t, 1, result.ArtifactsPruned)
	assert.Equal(t, 2, result.ArtifactsKept)
	assert.Equal(t, []string{artifacts[0].Filename}, result.PrunedFiles)
	assert.Empty(t, result.Errors)

	assert.NoFileExists(t, artifacts[0].Path)
	assert.NoFileExists(t, artifacts[0].SidecarPath())
	for _, artifact := range artifacts[1:] {
		assert.FileExists(t, artifact.Path)
		assert.FileExists(t, artifact.SidecarPath())
	}

	// The survivors come back newest first with their recorded metadata,
	// and the freshest one still checks out byte for byte.
	remaining, err := rm.ListArtifacts("inventory", TierHourly)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, artifacts[2].Filename, remaining[0].Filename)
	assert.Equal(t, artifacts[1].Filename, remaining[1].Filename)
	assert.Equal(t, artifacts[2].Checksum, remaining[0].Checksum)
	require.NoError(t, remaining[0].VerifyChecksum())
}
