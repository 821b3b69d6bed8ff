package assets

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/elmpack/internal/buildplan"
)

// compressor writes precompressed siblings of matching outputs.
type compressor struct {
	algorithm string
	test      *regexp.Regexp
}

func newCompressor(plugin buildplan.Plugin) (*compressor, error) {
	algorithm, _ := plugin.Options["algorithm"].(string)
	if algorithm == "" {
		algorithm = "gzip"
	}
	if algorithm != "gzip" && algorithm != "zstd" {
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}

	pattern, _ := plugin.Options["test"].(string)
	if pattern == "" {
		pattern = `.*`
	}
	test, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid compression test pattern: %w", err)
	}

	return &compressor{algorithm: algorithm, test: test}, nil
}

func (c *compressor) extension() string {
	if c.algorithm == "zstd" {
		return ".zst"
	}
	return ".gz"
}

// compress writes path plus the algorithm extension and returns the new path,
// or "" when path does not match.
func (c *compressor) compress(path string) (string, error) {
	if !c.test.MatchString(path) {
		return "", nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open output: %w", err)
	}
	defer src.Close()

	dstPath := path + c.extension()
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create compressed output: %w", err)
	}
	defer dst.Close()

	var enc io.WriteCloser
	switch c.algorithm {
	case "zstd":
		enc, err = zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	default:
		enc, err = gzip.NewWriterLevel(dst, gzip.BestCompression)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create encoder: %w", err)
	}

	if _, err := io.Copy(enc, src); err != nil {
		if closeErr := enc.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close encoder during error cleanup")
		}
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to compress: %w", err)
	}

	if err := enc.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to flush encoder: %w", err)
	}

	return dstPath, nil
}
