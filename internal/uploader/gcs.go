package uploader

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"dumpkeep/internal/backup"
)

// GCSUploader replicates artifacts to a Google Cloud Storage bucket
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader creates a GCS-backed uploader. When no credentials path is
// configured the client falls back to application default credentials.
func NewGCSUploader(ctx context.Context, config *GCSConfig, prefix string) (*GCSUploader, error) {
	if err := config.Validate(); err != nil {
		return nil, backup.NewValidationError(err.Error(), nil)
	}

	var client *storage.Client
	var err error
	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, backup.NewStorageError("failed to create GCS client", err)
	}

	return &GCSUploader{
		client: client,
		bucket: config.Bucket,
		prefix: prefix,
	}, nil
}

// Name identifies the backend
func (u *GCSUploader) Name() string {
	return "gcs:" + u.bucket
}

// Upload stores the artifact and its metadata sidecar in the bucket
func (u *GCSUploader) Upload(ctx context.Context, artifact *backup.Artifact) error {
	file, err := os.Open(artifact.Path)
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to open artifact %s", artifact.Filename), err)
	}
	defer file.Close()

	key := artifactKey(u.prefix, artifact)
	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = objectMetadata(artifact)
	if _, err := io.Copy(w, file); err != nil {
		w.Close()
		return backup.NewStorageError(fmt.Sprintf("failed to upload %s to GCS", artifact.Filename), err)
	}
	if err := w.Close(); err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to finalize %s on GCS", artifact.Filename), err)
	}

	sidecar, err := sidecarPayload(artifact)
	if err != nil {
		return err
	}
	sw := u.client.Bucket(u.bucket).Object(key + backup.SidecarSuffix).NewWriter(ctx)
	sw.ContentType = "application/json"
	if _, err := sw.Write(sidecar); err != nil {
		sw.Close()
		return backup.NewStorageError(fmt.Sprintf("failed to upload sidecar for %s to GCS", artifact.Filename), err)
	}
	if err := sw.Close(); err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to finalize sidecar for %s on GCS", artifact.Filename), err)
	}

	return nil
}

// HealthCheck verifies the bucket is reachable
func (u *GCSUploader) HealthCheck(ctx context.Context) error {
	_, err := u.client.Bucket(u.bucket).Attrs(ctx)
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("GCS bucket %s is not accessible", u.bucket), err)
	}
	return nil
}

// Close releases the underlying client
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
