package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dumpkeep/internal/backup"
)

// MirrorUploader copies artifacts into a second local directory tree, laid
// out identically to the backup root. The target is typically a mounted
// remote share, so writes go through a partial file and a rename.
type MirrorUploader struct {
	root   string
	prefix string
}

// NewMirrorUploader creates a directory-mirroring uploader
func NewMirrorUploader(config *MirrorConfig, prefix string) (*MirrorUploader, error) {
	if config.Path == "" {
		return nil, backup.NewValidationError("mirror path is required", nil)
	}
	return &MirrorUploader{root: config.Path, prefix: prefix}, nil
}

// Name identifies the backend
func (u *MirrorUploader) Name() string {
	return "mirror:" + u.root
}

// Upload copies the artifact and its metadata sidecar into the mirror tree
func (u *MirrorUploader) Upload(ctx context.Context, artifact *backup.Artifact) error {
	key := artifactKey(u.prefix, artifact)
	destPath := filepath.Join(u.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return backup.NewStorageError("failed to create mirror directory", err)
	}

	if err := copyFile(artifact.Path, destPath); err != nil {
		return err
	}

	sidecar, err := sidecarPayload(artifact)
	if err != nil {
		return err
	}
	if err := os.WriteFile(destPath+backup.SidecarSuffix, sidecar, 0644); err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to mirror sidecar for %s", artifact.Filename), err)
	}
	return nil
}

// HealthCheck verifies the mirror root is a writable directory
func (u *MirrorUploader) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(u.root)
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("mirror path %s is not accessible", u.root), err)
	}
	if !info.IsDir() {
		return backup.NewStorageError(fmt.Sprintf("mirror path %s is not a directory", u.root), nil)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return backup.NewStorageError(fmt.Sprintf("failed to open %s", src), err)
	}
	defer in.Close()

	partial := dst + ".partial"
	out, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return backup.NewStorageError("failed to create mirror file", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(partial)
		return backup.NewStorageError("failed to copy into mirror", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return backup.NewStorageError("failed to close mirror file", err)
	}
	if err := os.Rename(partial, dst); err != nil {
		os.Remove(partial)
		return backup.NewStorageError("failed to place mirror file", err)
	}
	return nil
}
