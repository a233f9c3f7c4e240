package uploader

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"dumpkeep/internal/backup"
)

// S3Uploader replicates artifacts to an Amazon S3 bucket
type S3Uploader struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3Uploader creates an S3-backed uploader
func NewS3Uploader(config *S3Config, prefix string) (*S3Uploader, error) {
	if err := config.Validate(); err != nil {
		return nil, backup.NewValidationError(err.Error(), nil)
	}

	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(config.Region),
		Credentials: credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
	})
	if err != nil {
		return nil, backup.NewStorageError("failed to create S3 session", err)
	}

	return &S3Uploader{
		client: s3.New(sess),
		bucket: config.Bucket,
		prefix: prefix,
	}, nil
}

// Name identifies the backend
func (u *S3Uploader) Name() string {
	return "s3:" + u.bucket
}

// Upload stores the artifact and its metadata sidecar in the bucket
func (u *S3Uploader) Upload(ctx context.Context, artifact *backup.Artifact) error {
	file, err := os.Open(artifact.Path)
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to open artifact %s", artifact.Filename), err)
	}
	defer file.Close()

	key := artifactKey(u.prefix, artifact)
	metadata := make(map[string]*string)
	for k, v := range objectMetadata(artifact) {
		metadata[k] = aws.String(v)
	}

	_, err = u.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/octet-stream"),
		Metadata:    metadata,
	})
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to upload %s to S3", artifact.Filename), err)
	}

	sidecar, err := sidecarPayload(artifact)
	if err != nil {
		return err
	}
	_, err = u.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key + backup.SidecarSuffix),
		Body:        bytes.NewReader(sidecar),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to upload sidecar for %s to S3", artifact.Filename), err)
	}

	return nil
}

// HealthCheck verifies the bucket is reachable
func (u *S3Uploader) HealthCheck(ctx context.Context) error {
	_, err := u.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(u.bucket),
	})
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("S3 bucket %s is not accessible", u.bucket), err)
	}
	return nil
}
