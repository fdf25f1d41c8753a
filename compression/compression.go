// Package compression compresses files with zstd before they are uploaded.
package compression

import (
	"fmt"
	"io"
	"os"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
)

// ContentType is the content type of a compressed file.
const ContentType = "application/zstd"

// Extension is appended to the object name of a compressed file.
const Extension = ".zst"

// DefaultLevel is used when level is 0.
const DefaultLevel = 3

// Compressor ...
type Compressor struct {
	logger log.Logger
}

// NewCompressor ...
func NewCompressor(logger log.Logger) *Compressor {
	return &Compressor{logger: logger}
}

// CompressFile writes the zstd compressed content of src to dst.
// level follows the zstd command line levels (1-19).
func (c *Compressor) CompressFile(src, dst string, level int) error {
	if level == 0 {
		level = DefaultLevel
	}
	if level < 1 || level > 19 {
		return fmt.Errorf("compression level should be between 1 and 19, got %d", level)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if err := in.Close(); err != nil {
			c.logger.Warnf("close %s: %s", src, err)
		}
	}()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	encoder, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("create encoder: %w", err)
	}

	written, err := io.Copy(encoder, in)
	if err != nil {
		_ = encoder.Close()
		_ = out.Close()
		return fmt.Errorf("compress: %w", err)
	}
	if err := encoder.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("flush encoder: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}

	c.logger.Debugf("Compressed %d bytes from %s to %s", written, src, dst)
	return nil
}

// DecompressFile writes the decompressed content of the zstd file src to dst.
func (c *Compressor) DecompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close() //nolint:errcheck

	decoder, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	defer decoder.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, decoder); err != nil {
		_ = out.Close()
		return fmt.Errorf("decompress: %w", err)
	}
	return out.Close()
}
