// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package scheduler

import (
	"os"

	"github.com/danjacques/gocapture/support/logging"
)

const (
	// DefaultBurstTokens is the default maximum number of tokens in a batch.
	DefaultBurstTokens = 4096
	// DefaultBurstCost is the default maximum cost of a batch.
	DefaultBurstCost = 4 * 1024 * 1024
	// DefaultQueueCost is the default maximum cost of the batches held in a
	// pipe.
	DefaultQueueCost = 64 * 1024 * 1024
)

// Config configures capture and replay schedulers.
type Config struct {
	// BurstTokens is the number of tokens at which a batch is handed off.
	BurstTokens int
	// BurstCost is the token cost at which a batch is handed off.
	BurstCost int64
	// QueueCost is the maximum total cost of batches waiting in a pipe. A
	// single batch above this cost is admitted when the pipe is empty.
	QueueCost int64

	// HighIntegrity, if true, makes capture serialize and flush each batch on
	// the registering goroutine instead of handing it off.
	HighIntegrity bool

	// Logger, if not nil, is the logger to use.
	Logger logging.L

	// OnFatal is called when a background goroutine fails. If nil, the error
	// is logged and the process exits with status 2.
	OnFatal func(error)
}

func (cfg Config) withDefaults() Config {
	if cfg.BurstTokens <= 0 {
		cfg.BurstTokens = DefaultBurstTokens
	}
	if cfg.BurstCost <= 0 {
		cfg.BurstCost = DefaultBurstCost
	}
	if cfg.QueueCost <= 0 {
		cfg.QueueCost = DefaultQueueCost
	}
	cfg.Logger = logging.Must(cfg.Logger)
	if cfg.OnFatal == nil {
		logger := cfg.Logger
		cfg.OnFatal = func(err error) {
			logger.Errorf("Unrecoverable error in scheduler: %s", err)
			os.Exit(2)
		}
	}
	return cfg
}
