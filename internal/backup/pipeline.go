package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"dumpkeep/internal/logging"
	"dumpkeep/internal/sqltext"
)

// TierDir returns the directory holding one target's artifacts for a tier
func TierDir(backupRoot, target string, tier Tier) string {
	return filepath.Join(backupRoot, target, string(tier))
}

// Uploader replicates a committed artifact and its sidecar to remote
// storage. Local placement is the source of truth, so upload failures are
// reported to the pipeline's logger and never fail the commit.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, artifact *Artifact) error
}

// Pipeline turns raw dump files into stored artifacts under the backup
// root. Stages run in order: validate the dump text, compress, verify the
// compressed copy round-trips, encrypt, checksum, place atomically, then
// write the metadata sidecar.
type Pipeline struct {
	backupRoot  string
	scratchRoot string
	uploader    Uploader
	logger      *logging.Logger
}

// NewPipeline creates a Pipeline. A nil uploader disables remote
// replication; an empty scratchRoot stages under the system temp directory.
func NewPipeline(backupRoot, scratchRoot string, uploader Uploader, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Pipeline{
		backupRoot:  backupRoot,
		scratchRoot: scratchRoot,
		uploader:    uploader,
		logger:      logger,
	}
}

// Commit runs the full pipeline over a raw dump file and returns the stored
// artifact. The raw file is consumed on success. On failure nothing appears
// under the backup root and the raw file is left in place for inspection.
func (p *Pipeline) Commit(ctx context.Context, rawPath string, target *Target, tier Tier, toolVersion, strategy string) (*Artifact, error) {
	createdAt := time.Now().UTC()
	finish := p.logger.LogOperationStart("artifact_commit", map[string]interface{}{
		"target": target.Name,
		"tier":   string(tier),
	})

	artifact, err := p.commit(ctx, rawPath, target, tier, toolVersion, strategy, createdAt)
	finish(err)
	return artifact, err
}

func (p *Pipeline) commit(ctx context.Context, rawPath string, target *Target, tier Tier, toolVersion, strategy string, createdAt time.Time) (*Artifact, error) {
	rawInfo, err := os.Stat(rawPath)
	if err != nil {
		return nil, NewStorageError("failed to stat raw dump file", err)
	}
	rawSize := rawInfo.Size()

	if err := p.validateDump(rawPath); err != nil {
		return nil, err
	}
	p.warnOnLowDiskSpace(rawSize)

	scratch, err := NewScratch(p.scratchRoot, p.logger)
	if err != nil {
		return nil, err
	}
	defer scratch.Release()

	// An unset compression on the target means none.
	compression := target.Compression
	if compression == "" {
		compression = CompressionTypeNone
	}

	stagedPath := rawPath
	compressed := compression != CompressionTypeNone
	if compressed {
		compressedPath := scratch.Path("staged" + compression.Extension())
		if err := p.compressDump(rawPath, compressedPath, compression); err != nil {
			return nil, err
		}
		if err := p.verifyCompressed(compressedPath, compression); err != nil {
			return nil, err
		}
		stagedPath = compressedPath
	}

	encryptor := NewEncryptor(target.Encryption, p.logger)
	encrypted := encryptor.Enabled()
	if encrypted {
		encryptedPath := scratch.Path("staged.enc")
		if err := p.encryptStaged(stagedPath, encryptedPath, encryptor); err != nil {
			return nil, err
		}
		stagedPath = encryptedPath
	}

	checksum, storedSize, err := checksumFile(stagedPath)
	if err != nil {
		return nil, err
	}

	var recipients []string
	if encrypted {
		recipients = encryptor.RecipientNames()
	}
	artifact := &Artifact{
		Target:      target.Name,
		Engine:      target.Engine.String(),
		Tier:        tier,
		Filename:    ArtifactFilename(target.Name, createdAt, compression, encrypted),
		CreatedAt:   createdAt,
		SizeBytes:   storedSize,
		Compressed:  compressed,
		Compression: compression,
		Encrypted:   encrypted,
		Recipients:  recipients,
		Checksum:    checksum,
		ToolVersion: toolVersion,
		Strategy:    strategy,
	}
	artifact.Path = filepath.Join(TierDir(p.backupRoot, target.Name, tier), artifact.Filename)

	if err := p.place(stagedPath, artifact.Path); err != nil {
		return nil, err
	}
	if stagedPath != rawPath {
		if err := os.Remove(rawPath); err != nil && !os.IsNotExist(err) {
			p.logger.Warn(fmt.Sprintf("Failed to remove raw dump file %s: %v", rawPath, err))
		}
	}

	if err := artifact.WriteSidecar(); err != nil {
		// An artifact without a sidecar is invisible to retention and
		// verification, so take the stored file back out.
		if removeErr := os.Remove(artifact.Path); removeErr != nil {
			p.logger.Error(fmt.Sprintf("Failed to remove artifact after sidecar failure: %v", removeErr))
		}
		return nil, err
	}

	p.logger.LogArtifactStored(target.Name, string(tier), artifact.Filename, storedSize, checksum)
	if compressed {
		p.logger.Debugf("Compressed %s from %d to %d bytes (ratio %.2f)",
			target.Name, rawSize, storedSize, CalculateCompressionRatio(rawSize, storedSize))
	}

	p.upload(ctx, artifact)

	return artifact, nil
}

// validateDump rejects dump files with no recognizable SQL content before
// any compression or storage work happens.
func (p *Pipeline) validateDump(rawPath string) error {
	f, err := os.Open(rawPath)
	if err != nil {
		return NewStorageError("failed to open raw dump file", err)
	}
	defer f.Close()

	found, err := sqltext.HasSQLMarkersReader(f)
	if err != nil {
		return NewValidationError("failed to scan dump for SQL markers", err)
	}
	if !found {
		return NewValidationError("dump contains no recognizable SQL statements", nil)
	}
	return nil
}

func (p *Pipeline) compressDump(rawPath, compressedPath string, algorithm CompressionType) error {
	compressor, err := NewCompressor(algorithm)
	if err != nil {
		return err
	}

	src, err := os.Open(rawPath)
	if err != nil {
		return NewStorageError("failed to open raw dump file", err)
	}
	defer src.Close()

	dst, err := os.Create(compressedPath)
	if err != nil {
		return NewStorageError("failed to create compressed scratch file", err)
	}
	if err := compressor.Compress(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return NewCompressionError("failed to finalize compressed scratch file", err)
	}
	return nil
}

// verifyCompressed decompresses the staged copy end to end and confirms the
// recovered text still carries SQL markers. A truncated or corrupted
// compressed file fails here instead of at restore time.
func (p *Pipeline) verifyCompressed(compressedPath string, algorithm CompressionType) error {
	compressor, err := NewCompressor(algorithm)
	if err != nil {
		return err
	}

	src, err := os.Open(compressedPath)
	if err != nil {
		return NewStorageError("failed to reopen compressed scratch file", err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := compressor.Decompress(pw, src)
		pw.CloseWithError(err)
		done <- err
	}()

	found, scanErr := sqltext.HasSQLMarkersReader(pr)
	// Drain so decompression runs to the end of the stream even after an
	// early marker hit.
	_, drainErr := io.Copy(io.Discard, pr)
	decompressErr := <-done

	if decompressErr != nil {
		return NewCompressionError("compressed dump failed round-trip verification", decompressErr)
	}
	if scanErr != nil {
		return NewCompressionError("failed to scan decompressed dump", scanErr)
	}
	if drainErr != nil {
		return NewCompressionError("failed to read decompressed dump", drainErr)
	}
	if !found {
		return NewCompressionError("decompressed dump lost its SQL markers", nil)
	}
	return nil
}

func (p *Pipeline) encryptStaged(stagedPath, encryptedPath string, encryptor *Encryptor) error {
	plaintext, err := os.ReadFile(stagedPath)
	if err != nil {
		return NewStorageError("failed to read staged artifact for encryption", err)
	}
	sealed, err := encryptor.Encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(encryptedPath, sealed, 0600); err != nil {
		return NewStorageError("failed to write encrypted scratch file", err)
	}
	return nil
}

// place moves the staged file to its final location. Rename keeps placement
// atomic when scratch and backup root share a filesystem; otherwise the
// bytes go through a synced partial file that is renamed into place.
func (p *Pipeline) place(stagedPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return NewStorageError("failed to create tier directory", err)
	}
	if err := os.Rename(stagedPath, finalPath); err == nil {
		return nil
	}

	src, err := os.Open(stagedPath)
	if err != nil {
		return NewStorageError("failed to open staged artifact", err)
	}
	defer src.Close()

	partialPath := finalPath + ".partial"
	dst, err := os.OpenFile(partialPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return NewStorageError("failed to create partial artifact file", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(partialPath)
		return NewStorageError("failed to copy staged artifact", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(partialPath)
		return NewStorageError("failed to sync partial artifact file", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(partialPath)
		return NewStorageError("failed to close partial artifact file", err)
	}
	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return NewStorageError("failed to move artifact into place", err)
	}
	return nil
}

func (p *Pipeline) warnOnLowDiskSpace(rawSize int64) {
	available := AvailableBytes(p.backupRoot)
	if available > 0 && available < rawSize*2 {
		p.logger.Warnf("Low disk space under %s: %d bytes available for a %d byte dump",
			p.backupRoot, available, rawSize)
	}
}

func (p *Pipeline) upload(ctx context.Context, artifact *Artifact) {
	if p.uploader == nil {
		return
	}
	if err := p.uploader.Upload(ctx, artifact); err != nil {
		p.logger.Errorf("Upload of %s to %s failed: %v", artifact.Filename, p.uploader.Name(), err)
	}
}

// checksumFile computes the SHA-256 of the exact bytes stored on disk
func checksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, NewStorageError("failed to open file for checksum", err)
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, NewStorageError("failed to read file for checksum", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// VerifyChecksum recomputes the artifact's checksum from disk and compares
// it to the recorded value.
func (a *Artifact) VerifyChecksum() error {
	sum, _, err := checksumFile(a.Path)
	if err != nil {
		return err
	}
	if sum != a.Checksum {
		return NewStorageError(fmt.Sprintf("checksum mismatch for %s", a.Filename), nil)
	}
	return nil
}
