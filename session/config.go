// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package session

import (
	"bytes"
	"io/ioutil"

	"github.com/danjacques/gocapture/scheduler"
	"github.com/danjacques/gocapture/support/logging"
	"github.com/danjacques/gocapture/tokenstream"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is a capture and replay session configuration. It is usually loaded
// from a YAML file.
type Config struct {
	// Compression is the name of the compression to capture with (see
	// tokenstream.ParseCompression).
	Compression string `yaml:"compression"`
	// CompressionLevel is the compression level to capture with.
	CompressionLevel int `yaml:"compression_level"`
	// ChunkSize is the chunk size to capture with.
	ChunkSize int `yaml:"chunk_size"`
	// MaxStandaloneSize is the largest payload captured as a single chunk.
	MaxStandaloneSize int `yaml:"max_standalone_size,omitempty"`

	// BurstTokens is the number of tokens per scheduler batch.
	BurstTokens int `yaml:"burst_tokens"`
	// BurstCost is the token cost per scheduler batch.
	BurstCost int64 `yaml:"burst_cost"`
	// QueueCost bounds the cost of batches waiting between the scheduler's
	// goroutines.
	QueueCost int64 `yaml:"queue_cost"`

	// HighIntegrity captures synchronously, flushing after every batch.
	HighIntegrity bool `yaml:"high_integrity"`
	// MinFreeBytes is the free space that must remain after every write.
	MinFreeBytes uint64 `yaml:"min_free_bytes"`
	// ChunkCacheSize is the number of decoded chunks cached during replay.
	ChunkCacheSize int `yaml:"chunk_cache_size"`

	// Resources enables the resource store.
	Resources bool `yaml:"resources"`

	// Version, if not empty, overrides the stream version written by
	// capture.
	Version string `yaml:"version,omitempty"`
}

// Default returns the default session configuration.
func Default() Config {
	return Config{
		Compression:      tokenstream.CompressionLZ4.String(),
		CompressionLevel: tokenstream.DefaultCompressionLevel,
		ChunkSize:        tokenstream.DefaultChunkSize,
		BurstTokens:      scheduler.DefaultBurstTokens,
		BurstCost:        scheduler.DefaultBurstCost,
		QueueCost:        scheduler.DefaultQueueCost,
		ChunkCacheSize:   tokenstream.DefaultChunkCacheSize,
		Resources:        true,
	}
}

// LoadFile loads a Config from the YAML file at path. Fields that the file
// does not set keep their Default values.
func LoadFile(path string) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config")
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %q", path)
	}
	return cfg, nil
}

// Validate checks that cfg is usable.
func (cfg *Config) Validate() error {
	if _, err := tokenstream.ParseCompression(cfg.Compression); err != nil {
		return err
	}
	if cfg.CompressionLevel != 0 &&
		(cfg.CompressionLevel < tokenstream.MinCompressionLevel || cfg.CompressionLevel > tokenstream.MaxCompressionLevel) {
		return errors.Errorf("compression level %d is outside of [%d, %d]",
			cfg.CompressionLevel, tokenstream.MinCompressionLevel, tokenstream.MaxCompressionLevel)
	}
	if cfg.ChunkSize < 0 || cfg.ChunkSize > tokenstream.MaxChunkLimit {
		return errors.Errorf("chunk size %d is outside of [0, %d]", cfg.ChunkSize, tokenstream.MaxChunkLimit)
	}
	if cfg.MaxStandaloneSize < 0 {
		return errors.Errorf("invalid max standalone size %d", cfg.MaxStandaloneSize)
	}
	if cfg.BurstTokens < 0 || cfg.BurstCost < 0 || cfg.QueueCost < 0 {
		return errors.New("scheduler limits must not be negative")
	}
	if cfg.Version != "" {
		if _, err := tokenstream.ParseVersion(cfg.Version); err != nil {
			return err
		}
	}
	return nil
}

// StreamConfig returns the tokenstream configuration described by cfg.
func (cfg *Config) StreamConfig(logger logging.L) (tokenstream.Config, error) {
	comp, err := tokenstream.ParseCompression(cfg.Compression)
	if err != nil {
		return tokenstream.Config{}, err
	}

	var v tokenstream.Version
	if cfg.Version != "" {
		if v, err = tokenstream.ParseVersion(cfg.Version); err != nil {
			return tokenstream.Config{}, err
		}
	}

	return tokenstream.Config{
		Compression:       comp,
		CompressionLevel:  cfg.CompressionLevel,
		ChunkSize:         cfg.ChunkSize,
		MaxStandaloneSize: cfg.MaxStandaloneSize,
		HighIntegrity:     cfg.HighIntegrity,
		MinFreeBytes:      cfg.MinFreeBytes,
		ChunkCacheSize:    cfg.ChunkCacheSize,
		Version:           v,
		Logger:            logger,
	}, nil
}

// SchedulerConfig returns the scheduler configuration described by cfg.
func (cfg *Config) SchedulerConfig(logger logging.L, onFatal func(error)) scheduler.Config {
	return scheduler.Config{
		BurstTokens:   cfg.BurstTokens,
		BurstCost:     cfg.BurstCost,
		QueueCost:     cfg.QueueCost,
		HighIntegrity: cfg.HighIntegrity,
		Logger:        logger,
		OnFatal:       onFatal,
	}
}
