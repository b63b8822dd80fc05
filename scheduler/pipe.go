// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package scheduler

import (
	"sync"

	"github.com/danjacques/gocapture/token"

	"github.com/prometheus/client_golang/prometheus"
)

// pipe is a FIFO of batches between one producer and one consumer.
//
// A pipe holds at most maxCost worth of batches. If maxCost is <= 0, the pipe
// is unbounded.
type pipe struct {
	mu   sync.Mutex
	cond sync.Cond

	queue   []*token.Batch
	cost    int64
	maxCost int64
	broken  bool

	// costGauge, if not nil, tracks the pipe's outstanding cost.
	costGauge prometheus.Gauge
}

func newPipe(maxCost int64, costGauge prometheus.Gauge) *pipe {
	p := pipe{
		maxCost:   maxCost,
		costGauge: costGauge,
	}
	p.cond.L = &p.mu
	return &p
}

// produce adds b to the pipe, blocking while the pipe is too full to hold it.
//
// produce returns false if the pipe is broken. In that case, ownership of b
// remains with the caller.
func (p *pipe) produce(b *token.Batch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.broken && p.maxCost > 0 && len(p.queue) > 0 && p.cost+b.Cost() > p.maxCost {
		p.cond.Wait()
	}
	if p.broken {
		return false
	}

	p.queue = append(p.queue, b)
	p.addCost(b.Cost())
	p.cond.Broadcast()
	return true
}

// consume removes the next batch from the pipe, blocking until one is
// available.
//
// Batches that were produced before the pipe was broken are still returned.
// consume returns false once the pipe is broken and empty.
func (p *pipe) consume() (*token.Batch, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.broken {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}

	b := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.addCost(-b.Cost())
	p.cond.Broadcast()
	return b, true
}

// breakPipe breaks the pipe, waking any blocked producer or consumer. It is
// safe to call more than once.
func (p *pipe) breakPipe() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.broken = true
	p.cond.Broadcast()
}

// drain removes and returns every batch in the pipe.
func (p *pipe) drain() []*token.Batch {
	p.mu.Lock()
	defer p.mu.Unlock()

	q := p.queue
	p.queue = nil
	p.addCost(-p.cost)
	p.cond.Broadcast()
	return q
}

// len returns the number of batches in the pipe.
func (p *pipe) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *pipe) addCost(v int64) {
	p.cost += v
	if p.costGauge != nil {
		p.costGauge.Add(float64(v))
	}
}
