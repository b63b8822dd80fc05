// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	tokensRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_scheduler_tokens_registered",
		Help: "Count of tokens registered for capture.",
	})

	batchesFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_scheduler_batches_flushed",
		Help: "Count of capture batches handed off for writing.",
	})

	tokensWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_scheduler_tokens_written",
		Help: "Count of tokens serialized to streams.",
	})

	tokensLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_scheduler_tokens_loaded",
		Help: "Count of tokens deserialized from streams.",
	})

	batchesLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_scheduler_batches_loaded",
		Help: "Count of replay batches loaded.",
	})

	batchesShredded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_scheduler_batches_shredded",
		Help: "Count of consumed batches purged by the shredder.",
	})

	pipeCost = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gocapture_scheduler_pipe_cost",
		Help: "Outstanding token cost held in scheduler pipes.",
	}, []string{"pipe"})

	fatalErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_scheduler_fatal_errors",
		Help: "Count of unrecoverable background errors.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Capture
		tokensRegistered,
		batchesFlushed,
		tokensWritten,

		// Replay
		tokensLoaded,
		batchesLoaded,

		// Common
		batchesShredded,
		pipeCost,
		fatalErrors,
	)
}
