// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package scheduler moves tokens between the capturing or replaying
// application and a token stream.
//
// During capture, tokens are registered in call order and accumulated into
// batches. Full batches are handed to a writer goroutine, which serializes
// them to the stream. During replay, a loader goroutine deserializes bursts of
// tokens into batches, which the replaying goroutine consumes in order.
//
// Batches move between goroutines through bounded pipes. A pipe blocks its
// producer while the total cost of the batches it holds exceeds its limit, so
// a fast producer cannot outrun its consumer by more than that limit. Order is
// preserved end to end.
//
// Consumed batches are handed to a shredder goroutine, which purges their
// tokens off the hot path and recycles them.
package scheduler
