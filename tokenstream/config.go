// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"github.com/danjacques/gocapture/support/logging"

	"github.com/pkg/errors"
)

const (
	// DefaultChunkSize is the package chunk size used when none is configured.
	DefaultChunkSize = 1 << 20

	// MaxChunkLimit is the absolute limit on the uncompressed size of a single
	// chunk or sub-chunk. Larger writes are split into LARGE_STANDALONE
	// envelopes.
	MaxChunkLimit = 256 << 20

	// DefaultChunkCacheSize is the number of decoded chunks retained for
	// random access reads.
	DefaultChunkCacheSize = 8

	// rawBufferSize is the buffer size used for raw (unframed) bodies.
	rawBufferSize = 4 * 1024 * 1024
)

// Config is the configuration for output and input streams.
//
// The zero value is a valid uncompressed configuration.
type Config struct {
	// Compression is the compression type to write. It is ignored when
	// reading, since the stream header records it.
	Compression Compression

	// CompressionLevel is the compression level, from MinCompressionLevel to
	// MaxCompressionLevel. Zero selects DefaultCompressionLevel.
	CompressionLevel int

	// ChunkSize is the size at which pending small writes are packaged into a
	// chunk. Writes at least this large become standalone chunks. Zero
	// selects DefaultChunkSize.
	ChunkSize int

	// MaxStandaloneSize is the largest payload written as a single
	// STANDALONE chunk, and the size of each LARGE_STANDALONE sub-chunk. Zero
	// or values above MaxChunkLimit select MaxChunkLimit.
	MaxStandaloneSize int

	// HighIntegrity, if true, flushes raw streams to the operating system
	// after every write.
	HighIntegrity bool

	// MinFreeBytes is the free space that must remain on the destination
	// volume after each chunk is written.
	MinFreeBytes uint64

	// ChunkCacheSize is the number of decoded chunks retained for
	// ReadWithOffset. Zero selects DefaultChunkCacheSize; a negative value
	// disables caching.
	ChunkCacheSize int

	// Version, if not zero, is the version written to the header of new
	// streams. Versions that predate compression framing write a raw body.
	Version Version

	// Logger, if not nil, is the logger to use.
	Logger logging.L
}

func (cfg *Config) normalize() error {
	if !cfg.Compression.IsValid() {
		return errors.Errorf("unknown compression type %d", cfg.Compression)
	}
	cfg.CompressionLevel = clampLevel(cfg.CompressionLevel)

	switch {
	case cfg.ChunkSize < 0:
		return errors.Errorf("invalid chunk size %d", cfg.ChunkSize)
	case cfg.ChunkSize == 0:
		cfg.ChunkSize = DefaultChunkSize
	case cfg.ChunkSize > MaxChunkLimit:
		cfg.ChunkSize = MaxChunkLimit
	}

	if cfg.MaxStandaloneSize <= 0 || cfg.MaxStandaloneSize > MaxChunkLimit {
		cfg.MaxStandaloneSize = MaxChunkLimit
	}
	if cfg.MaxStandaloneSize < cfg.ChunkSize {
		return errors.Errorf("max standalone size (%d) is smaller than the chunk size (%d)",
			cfg.MaxStandaloneSize, cfg.ChunkSize)
	}

	if cfg.ChunkCacheSize == 0 {
		cfg.ChunkCacheSize = DefaultChunkCacheSize
	}
	if cfg.Version.IsZero() {
		cfg.Version = CurrentVersion
	}
	cfg.Logger = logging.Must(cfg.Logger)
	return nil
}

// LargeSubChunkSizes returns the sizes of the sub-chunks that a payload of
// size bytes is split into when it is larger than maxStandalone.
func LargeSubChunkSizes(size, maxStandalone int64) []int64 {
	if size <= 0 || maxStandalone <= 0 {
		return nil
	}
	count := (size + maxStandalone - 1) / maxStandalone
	sizes := make([]int64, count)
	for i := range sizes {
		sizes[i] = maxStandalone
	}
	sizes[count-1] = size - (count-1)*maxStandalone
	return sizes
}
