// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package scheduler

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danjacques/gocapture/token"

	"github.com/pkg/errors"
)

// Writer is the destination of a capture. It is satisfied by
// tokenstream.OutputStream.
type Writer interface {
	io.Writer

	// Flush commits buffered data.
	Flush() error
}

// CaptureState is the state of a Capture.
type CaptureState int

const (
	// Accumulating means tokens are being added to the current batch.
	Accumulating CaptureState = iota
	// Flushing means the current batch is being handed off or written.
	Flushing
	// Closed means the capture no longer accepts tokens.
	Closed
)

var errClosed = errors.New("scheduler is closed")

// Capture accumulates registered tokens into batches and writes them to a
// Writer in registration order.
//
// Register, Flush, Close, and Abort may be called from any goroutine, but
// tokens are only ordered relative to each other if they are registered by
// one goroutine, or if the registering goroutines synchronize.
type Capture struct {
	cfg Config
	w   Writer

	ctx    context.Context
	cancel context.CancelFunc

	pool     token.BatchPool
	out      *pipe
	shredder *shredder
	done     chan struct{}
	err      errLatch

	// state is the capture's CaptureState. It is written while holding mu.
	state int32

	// mu protects the current batch.
	mu    sync.Mutex
	batch *token.Batch
	// seq is the number of batches handed to the writer.
	seq uint64

	// progressMu protects the writer's progress.
	progressMu   sync.Mutex
	progressCond sync.Cond
	// flushed is the sequence number of the last flush marker processed.
	flushed uint64
	// exited is true once the writer has stopped.
	exited bool
}

// NewCapture starts a capture scheduler writing to w.
//
// Background writing stops when ctx is cancelled.
func NewCapture(ctx context.Context, w Writer, cfg Config) *Capture {
	c := Capture{
		cfg:  cfg.withDefaults(),
		w:    w,
		done: make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.progressCond.L = &c.progressMu
	c.batch = c.pool.Get()
	c.out = newPipe(c.cfg.QueueCost, pipeCost.WithLabelValues("capture"))
	c.shredder = startShredder(&c.pool, c.fatal)

	if c.cfg.HighIntegrity {
		close(c.done)
		c.exited = true
	} else {
		goBackground("capture writer", c.done, c.fatal, c.writer)
	}
	return &c
}

// State returns the capture's current state.
func (c *Capture) State() CaptureState { return CaptureState(atomic.LoadInt32(&c.state)) }

func (c *Capture) setState(s CaptureState) { atomic.StoreInt32(&c.state, int32(s)) }

// Err returns the error that stopped the capture, if any.
func (c *Capture) Err() error { return c.err.get() }

// Register adds tok to the capture. The scheduler owns tok from this point
// on.
//
// When the current batch reaches the configured burst size, it is handed to
// the writer (or, in high integrity mode, written immediately).
func (c *Capture) Register(tok token.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == Closed {
		return errClosed
	}
	if err := c.err.get(); err != nil {
		return err
	}

	c.batch.Add(tok)
	tokensRegistered.Inc()
	if c.batch.Len() >= c.cfg.BurstTokens || c.batch.Cost() >= c.cfg.BurstCost {
		return c.flushLocked()
	}
	return nil
}

// flushLocked hands off the current batch. c.mu must be held.
func (c *Capture) flushLocked() error {
	if c.batch.Len() == 0 {
		return nil
	}

	c.setState(Flushing)
	defer c.setState(Accumulating)

	b := c.batch
	c.batch = c.pool.Get()
	batchesFlushed.Inc()

	if c.cfg.HighIntegrity {
		defer c.pool.Put(b)
		if err := c.writeBatch(b); err != nil {
			c.err.set(err)
			return err
		}
		if err := c.w.Flush(); err != nil {
			err = errors.Wrap(err, "flushing stream")
			c.err.set(err)
			return err
		}
		return nil
	}
	return c.handoff(b)
}

// handoff passes b to the writer goroutine. c.mu must be held.
func (c *Capture) handoff(b *token.Batch) error {
	if !c.out.produce(b) {
		c.pool.Put(b)
		if err := c.err.get(); err != nil {
			return err
		}
		return errClosed
	}
	c.seq++
	return nil
}

// Flush hands off the current batch, and blocks until every token registered
// so far has been written and the Writer has been flushed.
func (c *Capture) Flush() error {
	c.mu.Lock()
	if c.State() == Closed {
		c.mu.Unlock()
		return errClosed
	}
	if err := c.flushLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.cfg.HighIntegrity {
		c.mu.Unlock()
		return nil
	}

	// An empty batch asks the writer to flush.
	if err := c.handoff(c.pool.Get()); err != nil {
		c.mu.Unlock()
		return err
	}
	marker := c.seq
	c.mu.Unlock()

	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	for c.flushed < marker && !c.exited {
		c.progressCond.Wait()
	}
	if c.flushed < marker {
		if err := c.err.get(); err != nil {
			return err
		}
		return errClosed
	}
	return nil
}

// Close writes every registered token, flushes the Writer, and stops the
// capture. It does not close the Writer.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.State() == Closed {
		c.mu.Unlock()
		return c.err.get()
	}
	flushErr := c.flushLocked()
	c.setState(Closed)
	c.mu.Unlock()

	// The writer finishes everything in the pipe before exiting. If it failed,
	// whatever it left behind is discarded.
	c.out.breakPipe()
	<-c.done
	c.cancel()
	for _, b := range c.out.drain() {
		c.shredder.shred(b)
	}
	c.shredder.close()

	if c.cfg.HighIntegrity && flushErr == nil {
		flushErr = c.w.Flush()
	}
	if err := c.err.get(); err != nil {
		return err
	}
	return flushErr
}

// Abort discards every token that has not yet been written, and stops the
// capture.
func (c *Capture) Abort() {
	c.mu.Lock()
	if c.State() == Closed {
		c.mu.Unlock()
		return
	}
	c.setState(Closed)
	c.pool.Put(c.batch)
	c.batch = c.pool.Get()
	c.mu.Unlock()

	c.cancel()
	c.out.breakPipe()
	for _, b := range c.out.drain() {
		c.shredder.shred(b)
	}
	<-c.done
	c.shredder.close()
}

func (c *Capture) writer() {
	defer func() {
		c.progressMu.Lock()
		c.exited = true
		c.progressCond.Broadcast()
		c.progressMu.Unlock()
	}()

	var seq uint64
	for {
		b, ok := c.out.consume()
		if !ok {
			break
		}
		seq++

		var err error
		marker := b.Len() == 0
		if marker {
			err = errors.Wrap(c.w.Flush(), "flushing stream")
		} else {
			err = c.writeBatch(b)
		}
		c.shredder.shred(b)
		if err != nil {
			c.backgroundError(err)
			return
		}

		if marker {
			c.progressMu.Lock()
			c.flushed = seq
			c.progressCond.Broadcast()
			c.progressMu.Unlock()
		}
	}

	if err := c.w.Flush(); err != nil {
		c.backgroundError(errors.Wrap(err, "flushing stream"))
	}
}

// writeBatch serializes every token in b, checking for cancellation between
// tokens.
func (c *Capture) writeBatch(b *token.Batch) error {
	for _, tok := range b.Tokens() {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		if _, err := token.Serialize(c.w, tok); err != nil {
			return err
		}
		tokensWritten.Inc()
	}
	return nil
}

// backgroundError records an error raised by the writer. Cancellation stops
// the capture; anything else is fatal.
func (c *Capture) backgroundError(err error) {
	if errors.Cause(err) == context.Canceled || errors.Cause(err) == context.DeadlineExceeded {
		c.err.set(err)
		c.out.breakPipe()
		return
	}
	c.fatal(err)
}

func (c *Capture) fatal(err error) {
	if !c.err.set(err) {
		return
	}
	fatalErrors.Inc()
	c.out.breakPipe()
	c.cfg.OnFatal(errors.Wrap(err, "capture"))
}
