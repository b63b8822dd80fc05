// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool maintains pools of reusable byte buffers for chunk
// compression and decompression.
package bufferpool

import (
	"sync"
	"sync/atomic"
)

// Pool maintains a pool of buffers. Buffers are sized on demand: Get returns
// a buffer with at least the requested capacity, reallocating a pooled buffer
// that is too small.
//
// Buffers larger than MaxRetainedSize are dropped on release instead of
// being pooled, so that one oversized chunk does not pin its memory forever.
type Pool struct {
	// MaxRetainedSize, if >0, is the largest buffer capacity that will be
	// returned to the pool.
	MaxRetainedSize int

	base sync.Pool
}

// Get returns a buffer of length size, allocating one if one is not
// available. The returned buffer has a reference count of 1.
//
// The caller should return the buffer to the pool by calling its Release
// method when done with it.
func (bp *Pool) Get(size int) *Buffer {
	b, ok := bp.base.Get().(*Buffer)
	if !ok {
		b = &Buffer{}
	}

	if cap(b.bytes) < size {
		b.bytes = make([]byte, size)
	}

	b.bytes = b.bytes[:size]
	b.pool = bp
	b.refcount = 1
	return b
}

func (bp *Pool) releaseNode(b *Buffer) {
	if bp.MaxRetainedSize > 0 && cap(b.bytes) > bp.MaxRetainedSize {
		return
	}
	bp.base.Put(b)
}

// Buffer contains a byte buffer that can be released into a Pool for reuse.
//
// Buffer is reference counted, and can be retained and released
// appropriately. Failure to release Buffer will not cause a memory leak, but
// will prevent the reuse of the Buffer.
type Buffer struct {
	refcount int64

	bytes []byte
	pool  *Pool
}

// Bytes returns this buffer's byte slice.
func (b *Buffer) Bytes() []byte { return b.bytes }

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int { return len(b.bytes) }

// Resize sets the number of bytes returned by Bytes to size. Growing the
// buffer preserves its existing contents.
func (b *Buffer) Resize(size int) {
	if size <= len(b.bytes) {
		b.bytes = b.bytes[:size]
		return
	}
	b.bytes = append(b.bytes, make([]byte, size-len(b.bytes))...)
}

// Release returns the buffer to its buffer pool.
//
// Release is safe for concurrent use. A nil Buffer may be released.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	if atomic.AddInt64(&b.refcount, -1) != 0 {
		return
	}

	var pool *Pool
	pool, b.pool = b.pool, nil
	if pool != nil {
		pool.releaseNode(b)
	}
}

// Retain increases the Buffer's reference count. It should be accompanied by
// a Release call to reuse the buffer when it's finished.
func (b *Buffer) Retain() { atomic.AddInt64(&b.refcount, 1) }
