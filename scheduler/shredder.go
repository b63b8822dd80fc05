// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package scheduler

import (
	"github.com/danjacques/gocapture/token"
)

// shredder purges consumed batches on its own goroutine and returns them to
// a pool.
type shredder struct {
	pool *token.BatchPool
	in   *pipe
	done chan struct{}
}

func startShredder(pool *token.BatchPool, onPanic func(error)) *shredder {
	s := shredder{
		pool: pool,
		in:   newPipe(0, nil),
		done: make(chan struct{}),
	}
	goBackground("shredder", s.done, onPanic, s.run)
	return &s
}

func (s *shredder) run() {
	for {
		b, ok := s.in.consume()
		if !ok {
			return
		}
		s.pool.Put(b)
		batchesShredded.Inc()
	}
}

// shred hands b to the shredder. If the shredder has stopped, b is purged
// immediately.
func (s *shredder) shred(b *token.Batch) {
	if b == nil {
		return
	}
	if !s.in.produce(b) {
		s.pool.Put(b)
	}
}

// close stops the shredder after it has purged every batch handed to it.
func (s *shredder) close() {
	s.in.breakPipe()
	<-s.done
}
