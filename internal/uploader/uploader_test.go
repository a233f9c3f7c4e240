package uploader

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumpkeep/internal/backup"
)

func testArtifact(t *testing.T, dir string, content string) *backup.Artifact {
	t.Helper()
	artifact := &backup.Artifact{
		Target:      "orders",
		Engine:      "mysql",
		Tier:        backup.TierHourly,
		Filename:    "orders_20240315T030000Z.sql.gz",
		CreatedAt:   time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC),
		SizeBytes:   int64(len(content)),
		Compressed:  true,
		Compression: backup.CompressionTypeGzip,
		Checksum:    "deadbeef",
	}
	artifact.Path = filepath.Join(dir, artifact.Filename)
	require.NoError(t, os.WriteFile(artifact.Path, []byte(content), 0644))
	return artifact
}

func TestArtifactKey(t *testing.T) {
	artifact := &backup.Artifact{
		Target:   "orders",
		Tier:     backup.TierDaily,
		Filename: "orders_20240315T030000Z.sql",
	}

	tests := []struct {
		name     string
		prefix   string
		expected string
	}{
		{name: "no prefix", prefix: "", expected: "orders/daily/orders_20240315T030000Z.sql"},
		{name: "plain prefix", prefix: "backups", expected: "backups/orders/daily/orders_20240315T030000Z.sql"},
		{name: "trailing slash trimmed", prefix: "backups/", expected: "backups/orders/daily/orders_20240315T030000Z.sql"},
		{name: "nested prefix", prefix: "prod/db", expected: "prod/db/orders/daily/orders_20240315T030000Z.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, artifactKey(tt.prefix, artifact))
		})
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("s3 missing region", func(t *testing.T) {
		c := &S3Config{Bucket: "b", AccessKey: "a", SecretKey: "s"}
		assert.EqualError(t, c.Validate(), "S3 region is required")
	})

	t.Run("s3 missing bucket", func(t *testing.T) {
		c := &S3Config{Region: "eu-west-1", AccessKey: "a", SecretKey: "s"}
		assert.EqualError(t, c.Validate(), "S3 bucket is required")
	})

	t.Run("s3 missing credentials", func(t *testing.T) {
		c := &S3Config{Region: "eu-west-1", Bucket: "b"}
		assert.EqualError(t, c.Validate(), "S3 credentials are required")
	})

	t.Run("s3 valid", func(t *testing.T) {
		c := &S3Config{Region: "eu-west-1", Bucket: "b", AccessKey: "a", SecretKey: "s"}
		assert.NoError(t, c.Validate())
	})

	t.Run("gcs missing bucket", func(t *testing.T) {
		c := &GCSConfig{}
		assert.EqualError(t, c.Validate(), "GCS bucket is required")
	})

	t.Run("azure missing account", func(t *testing.T) {
		c := &AzureConfig{ContainerName: "backups"}
		assert.EqualError(t, c.Validate(), "Azure account credentials are required")
	})

	t.Run("azure missing container", func(t *testing.T) {
		c := &AzureConfig{AccountName: "acct", AccountKey: "key"}
		assert.EqualError(t, c.Validate(), "Azure container name is required")
	})
}

func TestNewS3Uploader(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		_, err := NewS3Uploader(&S3Config{}, "")
		require.Error(t, err)
		assert.True(t, backup.IsKind(err, backup.BackupErrorTypeValidation))
	})

	t.Run("valid config", func(t *testing.T) {
		u, err := NewS3Uploader(&S3Config{
			Region:    "eu-west-1",
			Bucket:    "db-backups",
			AccessKey: "AKIAEXAMPLE",
			SecretKey: "secret",
		}, "prod")
		require.NoError(t, err)
		assert.Equal(t, "s3:db-backups", u.Name())
	})
}

func TestNewAzureUploader(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		_, err := NewAzureUploader(&AzureConfig{}, "")
		require.Error(t, err)
		assert.True(t, backup.IsKind(err, backup.BackupErrorTypeValidation))
	})

	t.Run("valid config", func(t *testing.T) {
		u, err := NewAzureUploader(&AzureConfig{
			AccountName:   "acct",
			AccountKey:    base64.StdEncoding.EncodeToString([]byte("account key")),
			ContainerName: "backups",
		}, "")
		require.NoError(t, err)
		assert.Equal(t, "azure:backups", u.Name())
	})
}

func TestMirrorUploader(t *testing.T) {
	srcDir := t.TempDir()
	mirrorDir := t.TempDir()
	artifact := testArtifact(t, srcDir, "-- MySQL dump\nCREATE TABLE t (id INT);\n")

	u, err := NewMirrorUploader(&MirrorConfig{Path: mirrorDir}, "offsite")
	require.NoError(t, err)
	assert.Equal(t, "mirror:"+mirrorDir, u.Name())

	require.NoError(t, u.Upload(context.Background(), artifact))

	mirrored := filepath.Join(mirrorDir, "offsite", "orders", "hourly", artifact.Filename)
	data, err := os.ReadFile(mirrored)
	require.NoError(t, err)
	assert.Equal(t, "-- MySQL dump\nCREATE TABLE t (id INT);\n", string(data))

	loaded, err := backup.ReadSidecar(mirrored)
	require.NoError(t, err)
	assert.Equal(t, artifact.Checksum, loaded.Checksum)
	assert.Equal(t, artifact.Target, loaded.Target)

	assert.NoFileExists(t, mirrored+".partial")
}

func TestMirrorUploader_MissingPath(t *testing.T) {
	_, err := NewMirrorUploader(&MirrorConfig{}, "")
	require.Error(t, err)
	assert.True(t, backup.IsKind(err, backup.BackupErrorTypeValidation))
}

func TestMirrorUploader_MissingSource(t *testing.T) {
	mirrorDir := t.TempDir()
	u, err := NewMirrorUploader(&MirrorConfig{Path: mirrorDir}, "")
	require.NoError(t, err)

	artifact := &backup.Artifact{
		Target:   "orders",
		Tier:     backup.TierHourly,
		Filename: "missing.sql",
		Path:     filepath.Join(t.TempDir(), "missing.sql"),
	}
	err = u.Upload(context.Background(), artifact)
	require.Error(t, err)
	assert.True(t, backup.IsKind(err, backup.BackupErrorTypeStorage))
}

func TestMirrorUploader_HealthCheck(t *testing.T) {
	t.Run("healthy directory", func(t *testing.T) {
		u, err := NewMirrorUploader(&MirrorConfig{Path: t.TempDir()}, "")
		require.NoError(t, err)
		assert.NoError(t, u.HealthCheck(context.Background()))
	})

	t.Run("missing directory", func(t *testing.T) {
		u, err := NewMirrorUploader(&MirrorConfig{Path: filepath.Join(t.TempDir(), "absent")}, "")
		require.NoError(t, err)
		assert.Error(t, u.HealthCheck(context.Background()))
	})

	t.Run("path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		u, err := NewMirrorUploader(&MirrorConfig{Path: file}, "")
		require.NoError(t, err)
		assert.Error(t, u.HealthCheck(context.Background()))
	})
}

type fakeUploader struct {
	name string
	err  error
	got  []*backup.Artifact
}

func (f *fakeUploader) Name() string { return f.name }

func (f *fakeUploader) Upload(ctx context.Context, artifact *backup.Artifact) error {
	f.got = append(f.got, artifact)
	return f.err
}

func TestMultiUploader(t *testing.T) {
	artifact := &backup.Artifact{Target: "orders", Tier: backup.TierHourly, Filename: "a.sql"}

	t.Run("name lists backends", func(t *testing.T) {
		m := NewMultiUploader([]backup.Uploader{
			&fakeUploader{name: "s3:b"},
			&fakeUploader{name: "mirror:/mnt"},
		}, nil)
		assert.Equal(t, "multi(s3:b,mirror:/mnt)", m.Name())
	})

	t.Run("partial failure succeeds", func(t *testing.T) {
		ok := &fakeUploader{name: "ok"}
		bad := &fakeUploader{name: "bad", err: backup.NewStorageError("unreachable", nil)}
		m := NewMultiUploader([]backup.Uploader{bad, ok}, nil)

		require.NoError(t, m.Upload(context.Background(), artifact))
		assert.Len(t, ok.got, 1)
		assert.Len(t, bad.got, 1)
	})

	t.Run("total failure reported", func(t *testing.T) {
		bad1 := &fakeUploader{name: "bad1", err: backup.NewStorageError("unreachable", nil)}
		bad2 := &fakeUploader{name: "bad2", err: backup.NewStorageError("forbidden", nil)}
		m := NewMultiUploader([]backup.Uploader{bad1, bad2}, nil)

		err := m.Upload(context.Background(), artifact)
		require.Error(t, err)
		assert.True(t, backup.IsKind(err, backup.BackupErrorTypeStorage))
		assert.Contains(t, err.Error(), "all upload backends failed")
	})
}

func TestNew(t *testing.T) {
	t.Run("no backends disables replication", func(t *testing.T) {
		u, err := New(context.Background(), Config{}, nil)
		require.NoError(t, err)
		assert.Nil(t, u)
	})

	t.Run("single backend returned directly", func(t *testing.T) {
		u, err := New(context.Background(), Config{
			Mirror: &MirrorConfig{Path: t.TempDir()},
		}, nil)
		require.NoError(t, err)
		require.NotNil(t, u)
		_, isMirror := u.(*MirrorUploader)
		assert.True(t, isMirror)
	})

	t.Run("multiple backends fan out", func(t *testing.T) {
		u, err := New(context.Background(), Config{
			Mirror: &MirrorConfig{Path: t.TempDir()},
			S3: &S3Config{
				Region:    "eu-west-1",
				Bucket:    "db-backups",
				AccessKey: "AKIAEXAMPLE",
				SecretKey: "secret",
			},
		}, nil)
		require.NoError(t, err)
		require.NotNil(t, u)
		_, isMulti := u.(*MultiUploader)
		assert.True(t, isMulti)
	})

	t.Run("invalid backend config fails", func(t *testing.T) {
		_, err := New(context.Background(), Config{S3: &S3Config{}}, nil)
		require.Error(t, err)
		assert.True(t, backup.IsKind(err, backup.BackupErrorTypeValidation))
	})
}
