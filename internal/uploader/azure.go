package uploader

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"dumpkeep/internal/backup"
)

// AzureUploader replicates artifacts to an Azure Blob Storage container
type AzureUploader struct {
	container azblob.ContainerURL
	account   string
	name      string
	prefix    string
}

// NewAzureUploader creates an Azure-backed uploader
func NewAzureUploader(config *AzureConfig, prefix string) (*AzureUploader, error) {
	if err := config.Validate(); err != nil {
		return nil, backup.NewValidationError(err.Error(), nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, backup.NewStorageError("failed to create Azure credential", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, backup.NewStorageError("failed to build Azure service URL", err)
	}

	container := azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName)
	return &AzureUploader{
		container: container,
		account:   config.AccountName,
		name:      config.ContainerName,
		prefix:    prefix,
	}, nil
}

// Name identifies the backend
func (u *AzureUploader) Name() string {
	return "azure:" + u.name
}

// Upload stores the artifact and its metadata sidecar in the container
func (u *AzureUploader) Upload(ctx context.Context, artifact *backup.Artifact) error {
	file, err := os.Open(artifact.Path)
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to open artifact %s", artifact.Filename), err)
	}
	defer file.Close()

	key := artifactKey(u.prefix, artifact)
	blobURL := u.container.NewBlockBlobURL(key)
	_, err = azblob.UploadFileToBlockBlob(ctx, file, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		Metadata:    objectMetadata(artifact),
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to upload %s to Azure", artifact.Filename), err)
	}

	sidecar, err := sidecarPayload(artifact)
	if err != nil {
		return err
	}
	sidecarURL := u.container.NewBlockBlobURL(key + backup.SidecarSuffix)
	_, err = azblob.UploadBufferToBlockBlob(ctx, sidecar, sidecarURL, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/json",
		},
	})
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to upload sidecar for %s to Azure", artifact.Filename), err)
	}

	return nil
}

// HealthCheck verifies the container is reachable
func (u *AzureUploader) HealthCheck(ctx context.Context) error {
	_, err := u.container.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("Azure container %s is not accessible", u.name), err)
	}
	return nil
}
