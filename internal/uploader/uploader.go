// Package uploader replicates committed artifacts to remote object storage.
// Local placement under the backup root is the source of truth; uploaders
// are best-effort mirrors driven by the pipeline after each commit.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"dumpkeep/internal/backup"
	"dumpkeep/internal/logging"
)

// Provider identifies a remote storage backend
type Provider string

const (
	ProviderMirror Provider = "mirror"
	ProviderS3     Provider = "s3"
	ProviderGCS    Provider = "gcs"
	ProviderAzure  Provider = "azure"
)

// Config selects and configures the upload targets. Every non-nil backend
// section receives a copy of each committed artifact.
type Config struct {
	Prefix string        `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	Mirror *MirrorConfig `mapstructure:"mirror" yaml:"mirror,omitempty" json:"mirror,omitempty"`
	S3     *S3Config     `mapstructure:"s3" yaml:"s3,omitempty" json:"s3,omitempty"`
	GCS    *GCSConfig    `mapstructure:"gcs" yaml:"gcs,omitempty" json:"gcs,omitempty"`
	Azure  *AzureConfig  `mapstructure:"azure" yaml:"azure,omitempty" json:"azure,omitempty"`
}

// MirrorConfig replicates artifacts into a second local directory, typically
// a mounted network share.
type MirrorConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// S3Config for Amazon S3 object storage
type S3Config struct {
	Region    string `mapstructure:"region" yaml:"region" json:"region"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" json:"secret_key"`
}

// Validate checks the S3 configuration
func (c *S3Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("S3 region is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("S3 bucket is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("S3 credentials are required")
	}
	return nil
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path" json:"credentials_path"`
}

// Validate checks the GCS configuration
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("GCS bucket is required")
	}
	return nil
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name" json:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key" json:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name" json:"container_name"`
}

// Validate checks the Azure configuration
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" || c.AccountKey == "" {
		return fmt.Errorf("Azure account credentials are required")
	}
	if c.ContainerName == "" {
		return fmt.Errorf("Azure container name is required")
	}
	return nil
}

// New builds an uploader from the configuration. When more than one backend
// is configured the returned uploader fans out to all of them. A
// configuration with no backends returns nil, which disables replication.
func New(ctx context.Context, config Config, logger *logging.Logger) (backup.Uploader, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	var uploaders []backup.Uploader
	if config.Mirror != nil {
		u, err := NewMirrorUploader(config.Mirror, config.Prefix)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}
	if config.S3 != nil {
		u, err := NewS3Uploader(config.S3, config.Prefix)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}
	if config.GCS != nil {
		u, err := NewGCSUploader(ctx, config.GCS, config.Prefix)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}
	if config.Azure != nil {
		u, err := NewAzureUploader(config.Azure, config.Prefix)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}

	switch len(uploaders) {
	case 0:
		return nil, nil
	case 1:
		return uploaders[0], nil
	default:
		return NewMultiUploader(uploaders, logger), nil
	}
}

// artifactKey builds the remote object key for an artifact, mirroring the
// local tier layout under the configured prefix.
func artifactKey(prefix string, artifact *backup.Artifact) string {
	key := path.Join(artifact.Target, string(artifact.Tier), artifact.Filename)
	if prefix != "" {
		key = strings.TrimSuffix(prefix, "/") + "/" + key
	}
	return key
}

// sidecarPayload serializes the artifact descriptor, matching the local
// sidecar byte for byte.
func sidecarPayload(artifact *backup.Artifact) ([]byte, error) {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, backup.NewStorageError("failed to serialize artifact metadata", err)
	}
	return data, nil
}

// objectMetadata returns the descriptive key-value pairs attached to every
// uploaded artifact object.
func objectMetadata(artifact *backup.Artifact) map[string]string {
	return map[string]string{
		"target":      artifact.Target,
		"tier":        string(artifact.Tier),
		"engine":      artifact.Engine,
		"compression": string(artifact.Compression),
		"checksum":    artifact.Checksum,
	}
}

// MultiUploader fans one artifact out to several backends. Each backend
// failure is logged; the upload as a whole fails only when every backend
// rejected the artifact.
type MultiUploader struct {
	uploaders []backup.Uploader
	logger    *logging.Logger
}

// NewMultiUploader wraps a set of uploaders
func NewMultiUploader(uploaders []backup.Uploader, logger *logging.Logger) *MultiUploader {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &MultiUploader{uploaders: uploaders, logger: logger}
}

// Name identifies the composite uploader
func (m *MultiUploader) Name() string {
	names := make([]string, len(m.uploaders))
	for i, u := range m.uploaders {
		names[i] = u.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// Upload sends the artifact to every backend
func (m *MultiUploader) Upload(ctx context.Context, artifact *backup.Artifact) error {
	succeeded := 0
	var lastErr error
	for _, u := range m.uploaders {
		if err := u.Upload(ctx, artifact); err != nil {
			m.logger.Errorf("Upload of %s to %s failed: %v", artifact.Filename, u.Name(), err)
			lastErr = err
			continue
		}
		succeeded++
	}
	if succeeded == 0 && lastErr != nil {
		return backup.NewStorageError("all upload backends failed", lastErr)
	}
	return nil
}
