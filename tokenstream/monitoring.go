// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	chunksWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gocapture_stream_chunks_written",
		Help: "Count of chunks written, by write type.",
	}, []string{"type"})

	rawBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_stream_raw_bytes_written",
		Help: "Count of uncompressed bytes written to streams.",
	})

	compressedBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_stream_compressed_bytes_written",
		Help: "Count of bytes written to stream files after compression and framing.",
	})

	lowDiskSpaceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_stream_low_disk_space",
		Help: "Count of writes refused because of low disk space.",
	})

	chunksRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gocapture_stream_chunks_read",
		Help: "Count of chunks decoded, by write type.",
	}, []string{"type"})

	chunkCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_stream_chunk_cache_hits",
		Help: "Count of random access reads served from the decoded chunk cache.",
	})

	corruptionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_stream_corruption_errors",
		Help: "Count of corrupt chunks encountered while reading.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Writing
		chunksWritten,
		rawBytesWritten,
		compressedBytesWritten,
		lowDiskSpaceErrors,

		// Reading
		chunksRead,
		chunkCacheHits,
		corruptionErrors,
	)
}
