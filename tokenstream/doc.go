// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package tokenstream defines the on-disk container used to record and
// replay captured API token streams.
//
// A stream file begins with a version header. Streams written by engines that
// predate compression framing have nothing else in their header, and their
// body is a raw byte stream. Newer streams follow the version with a
// compression type and the configured chunk size.
//
// When compression is enabled, the body is a sequence of framed chunks, each
// of which can be decoded on its own:
//
//	- PACKAGE chunks batch many small writes together before compressing.
//	- STANDALONE chunks hold a single write at or above the chunk size.
//	- LARGE_STANDALONE chunks hold a single write larger than the maximum
//	  standalone size, split into consecutively numbered sub-chunks.
//
// Every frame records its uncompressed size before its payload, so a reader
// can seek to any recorded chunk offset and resume decoding from there. This
// is what allows large resource blobs to be fetched without scanning the
// whole stream.
//
// Compression algorithms:
//
//	- LZ4 is fast, with a decent compression ratio.
//	- ZSTD is more CPU intensive but achieves a better ratio.
//	- SNAPPY is very fast, with a lower ratio.
//	- NONE disables framing altogether. This may be useful when the
//	  underlying filesystem offers compression.
package tokenstream
