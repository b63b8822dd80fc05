// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/danjacques/gocapture/token"

	"github.com/pkg/errors"
)

// ReplayState is the state of a Replay.
type ReplayState int

const (
	// Loading means no batch has been consumed yet.
	Loading ReplayState = iota
	// Playing means tokens are being consumed.
	Playing
	// Exhausted means every token has been consumed, or replay stopped.
	Exhausted
)

// Yield is the reason Run returned.
type Yield int

const (
	// Finished means the stream has no more tokens.
	Finished Yield = iota
	// YieldFrameEnd means a FrameEnd token was run.
	YieldFrameEnd
	// YieldStateRestored means a StateRestoreEnd token was run.
	YieldStateRestored
)

func (y Yield) String() string {
	switch y {
	case Finished:
		return "Finished"
	case YieldFrameEnd:
		return "FrameEnd"
	case YieldStateRestored:
		return "StateRestored"
	default:
		return fmt.Sprintf("Yield(%d)", int(y))
	}
}

// Action runs a single replayed token.
type Action func(token.Token) error

// Replay loads tokens from a stream on a background goroutine, and returns
// them in stream order.
//
// Token and Run must be called from a single goroutine.
type Replay struct {
	cfg Config
	r   io.Reader
	reg *token.Registry

	ctx    context.Context
	cancel context.CancelFunc

	pool     token.BatchPool
	in       *pipe
	shredder *shredder
	done     chan struct{}
	err      errLatch

	state  int32
	closed bool

	cur *token.Batch
	idx int
}

// NewReplay starts a replay scheduler reading tokens from r, constructing them
// with reg.
//
// Background loading stops when ctx is cancelled.
func NewReplay(ctx context.Context, r io.Reader, reg *token.Registry, cfg Config) *Replay {
	rp := Replay{
		cfg:  cfg.withDefaults(),
		r:    r,
		reg:  reg,
		done: make(chan struct{}),
	}
	rp.ctx, rp.cancel = context.WithCancel(ctx)
	rp.in = newPipe(rp.cfg.QueueCost, pipeCost.WithLabelValues("replay"))
	rp.shredder = startShredder(&rp.pool, rp.fatal)
	goBackground("replay loader", rp.done, rp.fatal, rp.loader)
	return &rp
}

// State returns the replay's current state.
func (rp *Replay) State() ReplayState { return ReplayState(atomic.LoadInt32(&rp.state)) }

func (rp *Replay) setState(s ReplayState) { atomic.StoreInt32(&rp.state, int32(s)) }

// Err returns the error that stopped the replay, if any.
func (rp *Replay) Err() error { return rp.err.get() }

// Token returns the next token in the stream, blocking until it has been
// loaded.
//
// The returned token is owned by the scheduler. It remains valid until Token
// is called again after the rest of its batch has been consumed.
//
// When the stream is exhausted, Token returns io.EOF. If loading failed, the
// loader's error is returned instead.
func (rp *Replay) Token() (token.Token, error) {
	if rp.cur == nil || rp.idx >= rp.cur.Len() {
		rp.shredder.shred(rp.cur)
		rp.cur = nil

		if rp.closed {
			return nil, errClosed
		}
		b, ok := rp.in.consume()
		if !ok {
			rp.setState(Exhausted)
			if err := rp.err.get(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		rp.cur, rp.idx = b, 0
		rp.setState(Playing)
	}

	tok := rp.cur.At(rp.idx)
	rp.idx++
	return tok, nil
}

// Run calls action for each token in stream order. It returns after running a
// FrameEnd or StateRestoreEnd token, or when the stream is exhausted.
//
// If action returns an error, Run stops and returns it.
func (rp *Replay) Run(action Action) (Yield, error) {
	for {
		tok, err := rp.Token()
		switch {
		case err == io.EOF:
			return Finished, nil
		case err != nil:
			return Finished, err
		}

		if err := action(tok); err != nil {
			return Finished, errors.Wrapf(err, "running token %s", tok.ID())
		}

		switch tok.ID() {
		case token.FrameEndID:
			return YieldFrameEnd, nil
		case token.StateRestoreEndID:
			return YieldStateRestored, nil
		}
	}
}

// Close stops the replay, discarding every token that has not been consumed.
func (rp *Replay) Close() error {
	if rp.closed {
		return nil
	}
	rp.closed = true
	rp.setState(Exhausted)

	rp.cancel()
	rp.in.breakPipe()
	<-rp.done
	for _, b := range rp.in.drain() {
		rp.shredder.shred(b)
	}
	rp.shredder.shred(rp.cur)
	rp.cur = nil
	rp.shredder.close()

	if err := rp.err.get(); err != nil && errors.Cause(err) != context.Canceled {
		return err
	}
	return nil
}

func (rp *Replay) loader() {
	defer rp.in.breakPipe()

	for {
		b := rp.pool.Get()
		var loadErr error
		eof := false
		for b.Len() < rp.cfg.BurstTokens && b.Cost() < rp.cfg.BurstCost {
			if err := rp.ctx.Err(); err != nil {
				rp.err.set(err)
				rp.pool.Put(b)
				return
			}

			tok, err := token.Deserialize(rp.r, rp.reg)
			if err != nil {
				if err == io.EOF {
					eof = true
				} else {
					loadErr = errors.Wrap(err, "loading token")
				}
				break
			}
			b.Add(tok)
			tokensLoaded.Inc()
		}

		// Tokens loaded ahead of a failure are still delivered.
		if b.Len() > 0 {
			if !rp.in.produce(b) {
				rp.pool.Put(b)
				return
			}
			batchesLoaded.Inc()
		} else {
			rp.pool.Put(b)
		}

		switch {
		case loadErr != nil:
			rp.fatal(loadErr)
			return
		case eof:
			return
		}
	}
}

func (rp *Replay) fatal(err error) {
	if !rp.err.set(err) {
		return
	}
	fatalErrors.Inc()
	rp.in.breakPipe()
	rp.cfg.OnFatal(errors.Wrap(err, "replay"))
}
