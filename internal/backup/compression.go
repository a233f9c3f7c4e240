package backup

import (
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType identifies a compression algorithm by its configured name
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeZstd CompressionType = "zstd"
	CompressionTypeLZ4  CompressionType = "lz4"
)

// Extension returns the artifact filename extension for the algorithm
func (c CompressionType) Extension() string {
	switch c {
	case CompressionTypeGzip:
		return ".gz"
	case CompressionTypeZstd:
		return ".zst"
	case CompressionTypeLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ParseCompressionType resolves a configured algorithm name. The empty
// string means no compression.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionTypeNone, nil
	case "gzip", "gz":
		return CompressionTypeGzip, nil
	case "zstd", "zst":
		return CompressionTypeZstd, nil
	case "lz4":
		return CompressionTypeLZ4, nil
	default:
		return CompressionTypeNone, fmt.Errorf("unsupported compression algorithm: %s", s)
	}
}

// CompressionFromFilename infers the algorithm from an artifact filename,
// ignoring a trailing encryption suffix.
func CompressionFromFilename(name string) CompressionType {
	name = strings.TrimSuffix(name, EncryptedSuffix)
	switch filepath.Ext(name) {
	case ".gz":
		return CompressionTypeGzip
	case ".zst":
		return CompressionTypeZstd
	case ".lz4":
		return CompressionTypeLZ4
	default:
		return CompressionTypeNone
	}
}

// Compressor provides streaming compression for one algorithm. Dumps can be
// large, so both directions copy between reader and writer instead of
// holding whole payloads in memory.
type Compressor interface {
	Algorithm() CompressionType
	Compress(dst io.Writer, src io.Reader) error
	Decompress(dst io.Writer, src io.Reader) error
}

// NewCompressor returns the Compressor for an algorithm. CompressionTypeNone
// has no Compressor; callers skip the compression stage entirely for it.
func NewCompressor(algorithm CompressionType) (Compressor, error) {
	switch algorithm {
	case CompressionTypeGzip:
		return &GzipCompressor{}, nil
	case CompressionTypeZstd:
		return &ZstdCompressor{}, nil
	case CompressionTypeLZ4:
		return &LZ4Compressor{}, nil
	default:
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
}

// CalculateCompressionRatio calculates the compressed-to-original size ratio
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) Algorithm() CompressionType {
	return CompressionTypeGzip
}

func (gc *GzipCompressor) Compress(dst io.Writer, src io.Reader) error {
	writer := gzip.NewWriter(dst)
	if _, err := io.Copy(writer, src); err != nil {
		writer.Close()
		return NewCompressionError("failed to write data to gzip writer", err)
	}
	if err := writer.Close(); err != nil {
		return NewCompressionError("failed to close gzip writer", err)
	}
	return nil
}

func (gc *GzipCompressor) Decompress(dst io.Writer, src io.Reader) error {
	reader, err := gzip.NewReader(src)
	if err != nil {
		return NewCompressionError("failed to create gzip reader", err)
	}
	defer reader.Close()

	if _, err := io.Copy(dst, reader); err != nil {
		return NewCompressionError("failed to decompress gzip data", err)
	}
	return nil
}

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) Algorithm() CompressionType {
	return CompressionTypeZstd
}

func (zc *ZstdCompressor) Compress(dst io.Writer, src io.Reader) error {
	encoder, err := zstd.NewWriter(dst)
	if err != nil {
		return NewCompressionError("failed to create zstd encoder", err)
	}
	if _, err := io.Copy(encoder, src); err != nil {
		encoder.Close()
		return NewCompressionError("failed to write data to zstd encoder", err)
	}
	if err := encoder.Close(); err != nil {
		return NewCompressionError("failed to close zstd encoder", err)
	}
	return nil
}

func (zc *ZstdCompressor) Decompress(dst io.Writer, src io.Reader) error {
	decoder, err := zstd.NewReader(src)
	if err != nil {
		return NewCompressionError("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	if _, err := io.Copy(dst, decoder); err != nil {
		return NewCompressionError("failed to decompress zstd data", err)
	}
	return nil
}

// LZ4Compressor implements LZ4 frame compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) Algorithm() CompressionType {
	return CompressionTypeLZ4
}

func (lc *LZ4Compressor) Compress(dst io.Writer, src io.Reader) error {
	writer := lz4.NewWriter(dst)
	if _, err := io.Copy(writer, src); err != nil {
		writer.Close()
		return NewCompressionError("failed to write data to LZ4 writer", err)
	}
	if err := writer.Close(); err != nil {
		return NewCompressionError("failed to close LZ4 writer", err)
	}
	return nil
}

func (lc *LZ4Compressor) Decompress(dst io.Writer, src io.Reader) error {
	reader := lz4.NewReader(src)
	if _, err := io.Copy(dst, reader); err != nil {
		return NewCompressionError("failed to decompress LZ4 data", err)
	}
	return nil
}
