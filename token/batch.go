// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package token

import (
	"sync"
)

// Batch is an ordered list of tokens. The order of a Batch is the order in
// which its tokens were captured, and the order in which they are replayed.
//
// A Batch is owned by one goroutine at a time.
type Batch struct {
	tokens []Token
	cost   int64
}

// Add appends tok to the batch.
func (b *Batch) Add(tok Token) {
	b.tokens = append(b.tokens, tok)
	b.cost += int64(tok.Size())
}

// Len returns the number of tokens in the batch.
func (b *Batch) Len() int { return len(b.tokens) }

// Cost returns the sum of the batch's token sizes.
func (b *Batch) Cost() int64 { return b.cost }

// At returns the token at index i.
func (b *Batch) At(i int) Token { return b.tokens[i] }

// Tokens returns the batch's tokens. The returned slice is only valid until
// the batch is purged.
func (b *Batch) Tokens() []Token { return b.tokens }

// Purge releases every token in the batch and empties it, retaining its
// storage.
func (b *Batch) Purge() {
	for i, tok := range b.tokens {
		if r, ok := tok.(Releaser); ok {
			r.Release()
		}
		b.tokens[i] = nil
	}
	b.tokens = b.tokens[:0]
	b.cost = 0
}

// BatchPool recycles Batches.
type BatchPool struct {
	base sync.Pool
}

// Get returns an empty Batch.
func (bp *BatchPool) Get() *Batch {
	if b, ok := bp.base.Get().(*Batch); ok {
		return b
	}
	return &Batch{}
}

// Put purges b and returns it to the pool.
func (bp *BatchPool) Put(b *Batch) {
	if b == nil {
		return
	}
	b.Purge()
	bp.base.Put(b)
}
