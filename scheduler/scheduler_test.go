// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package scheduler

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/danjacques/gocapture/token"
	"github.com/danjacques/gocapture/token/tokentest"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// memWriter is a Writer backed by memory.
type memWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
	err     error

	// gate, if not nil, blocks each Write until it receives a value.
	gate chan struct{}
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.gate != nil {
		<-w.gate
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	return w.buf.Write(p)
}

func (w *memWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
	return nil
}

func (w *memWriter) snapshot() ([]byte, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...), w.flushes
}

func batchOf(vs ...uint32) *token.Batch {
	var b token.Batch
	for _, v := range vs {
		b.Add(&tokentest.Int{V: v})
	}
	return &b
}

func decodeInts(data []byte) []uint32 {
	reg := tokentest.Registry()
	r := bytes.NewReader(data)

	var vs []uint32
	for {
		tok, err := token.Deserialize(r, reg)
		if err == io.EOF {
			return vs
		}
		Expect(err).ToNot(HaveOccurred())
		vs = append(vs, tok.(*tokentest.Int).V)
	}
}

// fatalRecorder records fatal errors instead of exiting.
type fatalRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (fr *fatalRecorder) onFatal(err error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.errs = append(fr.errs, err)
}

func (fr *fatalRecorder) count() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.errs)
}

var _ = Describe("pipe", func() {
	It("is first-in, first-out", func() {
		p := newPipe(0, nil)
		for i := uint32(0); i < 5; i++ {
			Expect(p.produce(batchOf(i))).To(BeTrue())
		}
		p.breakPipe()
		p.breakPipe()

		for i := uint32(0); i < 5; i++ {
			b, ok := p.consume()
			Expect(ok).To(BeTrue())
			Expect(b.At(0).(*tokentest.Int).V).To(Equal(i))
		}
		_, ok := p.consume()
		Expect(ok).To(BeFalse())
		Expect(p.produce(batchOf(1))).To(BeFalse())
	})

	It("blocks producers while over its cost limit, preserving order", func() {
		// Each batch costs 4; the pipe holds at most two.
		p := newPipe(8, nil)

		const count = 100
		go func() {
			defer GinkgoRecover()
			for i := uint32(0); i < count; i++ {
				Expect(p.produce(batchOf(i))).To(BeTrue())
				Expect(p.len()).To(BeNumerically("<=", 2))
			}
			p.breakPipe()
		}()

		var got []uint32
		for {
			b, ok := p.consume()
			if !ok {
				break
			}
			got = append(got, b.At(0).(*tokentest.Int).V)
			time.Sleep(time.Millisecond)
		}
		Expect(got).To(HaveLen(count))
		for i, v := range got {
			Expect(v).To(BeEquivalentTo(i))
		}
	})

	It("admits an oversized batch when empty", func() {
		p := newPipe(4, nil)
		Expect(p.produce(batchOf(1, 2, 3))).To(BeTrue())
		Expect(p.len()).To(Equal(1))
	})

	It("wakes blocked consumers when broken", func() {
		p := newPipe(0, nil)
		done := make(chan bool)
		go func() {
			_, ok := p.consume()
			done <- ok
		}()

		Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
		p.breakPipe()
		Eventually(done).Should(Receive(BeFalse()))
	})

	It("drains queued batches", func() {
		p := newPipe(0, nil)
		p.produce(batchOf(1))
		p.produce(batchOf(2))
		Expect(p.drain()).To(HaveLen(2))
		Expect(p.len()).To(BeZero())
		Expect(p.cost).To(BeZero())
	})
})

var _ = Describe("Capture", func() {
	var (
		w   *memWriter
		fr  *fatalRecorder
		cfg Config
	)
	BeforeEach(func() {
		w = &memWriter{}
		fr = &fatalRecorder{}
		cfg = Config{
			BurstTokens: 4,
			QueueCost:   8,
			OnFatal:     fr.onFatal,
		}
	})

	It("writes every token in registration order", func() {
		c := NewCapture(context.Background(), w, cfg)
		for i := uint32(0); i < 1000; i++ {
			Expect(c.Register(&tokentest.Int{V: i})).To(Succeed())
		}
		Expect(c.Close()).To(Succeed())
		Expect(c.State()).To(Equal(Closed))

		data, flushes := w.snapshot()
		vs := decodeInts(data)
		Expect(vs).To(HaveLen(1000))
		for i, v := range vs {
			Expect(v).To(BeEquivalentTo(i))
		}
		Expect(flushes).To(BeNumerically(">=", 1))
		Expect(fr.count()).To(BeZero())
	})

	It("waits for registered tokens on Flush", func() {
		c := NewCapture(context.Background(), w, cfg)
		defer c.Close()

		Expect(c.Register(&tokentest.Int{V: 1})).To(Succeed())
		Expect(c.Register(&tokentest.Int{V: 2})).To(Succeed())
		data, _ := w.snapshot()
		Expect(data).To(BeEmpty(), "below the burst size")

		Expect(c.Flush()).To(Succeed())
		data, flushes := w.snapshot()
		Expect(decodeInts(data)).To(Equal([]uint32{1, 2}))
		Expect(flushes).To(Equal(1))
		Expect(c.State()).To(Equal(Accumulating))
	})

	It("writes synchronously in high integrity mode", func() {
		cfg.HighIntegrity = true
		c := NewCapture(context.Background(), w, cfg)

		for i := uint32(0); i < 4; i++ {
			Expect(c.Register(&tokentest.Int{V: i})).To(Succeed())
		}
		data, flushes := w.snapshot()
		Expect(decodeInts(data)).To(Equal([]uint32{0, 1, 2, 3}))
		Expect(flushes).To(Equal(1))

		Expect(c.Register(&tokentest.Int{V: 4})).To(Succeed())
		Expect(c.Close()).To(Succeed())
		data, _ = w.snapshot()
		Expect(decodeInts(data)).To(HaveLen(5))
	})

	It("discards pending tokens on Abort", func() {
		w.gate = make(chan struct{})
		c := NewCapture(context.Background(), w, cfg)

		blob := &tokentest.Blob{Data: []byte("pending")}
		Expect(c.Register(blob)).To(Succeed())
		c.Abort()
		c.Abort()

		Expect(blob.Released).To(BeTrue())
		Expect(c.Register(&tokentest.Int{})).To(Equal(errClosed))
		data, _ := w.snapshot()
		Expect(data).To(BeEmpty())
	})

	It("reports writer failures as fatal", func() {
		w.err = errors.New("disk on fire")
		c := NewCapture(context.Background(), w, cfg)

		for i := uint32(0); i < 4; i++ {
			Expect(c.Register(&tokentest.Int{V: i})).To(Succeed())
		}
		Eventually(fr.count).Should(Equal(1))
		Eventually(c.Err).Should(MatchError(ContainSubstring("disk on fire")))
		Expect(c.Register(&tokentest.Int{})).To(MatchError(ContainSubstring("disk on fire")))
		Expect(c.Close()).To(MatchError(ContainSubstring("disk on fire")))
	})

	It("refuses to serialize a token twice", func() {
		cfg.HighIntegrity = true
		c := NewCapture(context.Background(), w, cfg)
		tok := &tokentest.Int{V: 1}
		Expect(c.Register(tok)).To(Succeed())
		Expect(c.Flush()).To(Succeed())

		Expect(c.Register(tok)).To(Succeed())
		err := c.Flush()
		Expect(errors.Cause(err)).To(Equal(token.ErrAlreadySerialized))
	})
})

var _ = Describe("Replay", func() {
	var (
		fr  *fatalRecorder
		reg *token.Registry
		cfg Config
	)
	BeforeEach(func() {
		fr = &fatalRecorder{}
		reg = tokentest.Registry()
		cfg = Config{
			BurstTokens: 3,
			QueueCost:   16,
			OnFatal:     fr.onFatal,
		}
	})

	serialize := func(toks ...token.Token) *bytes.Reader {
		var buf bytes.Buffer
		for _, tok := range toks {
			_, err := token.Serialize(&buf, tok)
			Expect(err).ToNot(HaveOccurred())
		}
		return bytes.NewReader(buf.Bytes())
	}

	It("returns tokens in stream order, then EOF", func() {
		rp := NewReplay(context.Background(),
			serialize(&tokentest.Int{V: 42}, &tokentest.String{S: "hello"}), reg, cfg)
		defer rp.Close()
		Expect(rp.State()).To(Equal(Loading))

		tok, err := rp.Token()
		Expect(err).ToNot(HaveOccurred())
		Expect(tok.ID()).To(Equal(token.ID{Family: 1, Opcode: 5}))
		Expect(tok.(*tokentest.Int).V).To(BeEquivalentTo(42))
		Expect(rp.State()).To(Equal(Playing))

		tok, err = rp.Token()
		Expect(err).ToNot(HaveOccurred())
		Expect(tok.ID()).To(Equal(token.ID{Family: 1, Opcode: 6}))
		Expect(tok.(*tokentest.String).S).To(Equal("hello"))

		tok, err = rp.Token()
		Expect(tok).To(BeNil())
		Expect(err).To(Equal(io.EOF))
		Expect(rp.State()).To(Equal(Exhausted))
	})

	It("preserves order across many bursts under backpressure", func() {
		toks := make([]token.Token, 1000)
		for i := range toks {
			toks[i] = &tokentest.Int{V: uint32(i)}
		}
		rp := NewReplay(context.Background(), serialize(toks...), reg, cfg)
		defer rp.Close()

		for i := range toks {
			tok, err := rp.Token()
			Expect(err).ToNot(HaveOccurred())
			Expect(tok.(*tokentest.Int).V).To(BeEquivalentTo(i))
		}
		_, err := rp.Token()
		Expect(err).To(Equal(io.EOF))
	})

	It("yields at frame and state restore boundaries", func() {
		rp := NewReplay(context.Background(), serialize(
			&tokentest.Int{V: 1},
			&token.StateRestoreEnd{},
			&tokentest.Int{V: 2},
			&tokentest.Int{V: 3},
			&token.FrameEnd{Frame: 0},
			&tokentest.Int{V: 4},
		), reg, cfg)
		defer rp.Close()

		var ran []token.ID
		action := func(tok token.Token) error {
			ran = append(ran, tok.ID())
			return nil
		}

		y, err := rp.Run(action)
		Expect(err).ToNot(HaveOccurred())
		Expect(y).To(Equal(YieldStateRestored))
		Expect(ran).To(HaveLen(2))

		y, err = rp.Run(action)
		Expect(err).ToNot(HaveOccurred())
		Expect(y).To(Equal(YieldFrameEnd))
		Expect(ran).To(HaveLen(5))

		y, err = rp.Run(action)
		Expect(err).ToNot(HaveOccurred())
		Expect(y).To(Equal(Finished))
		Expect(ran).To(HaveLen(6))
	})

	It("stops when an action fails", func() {
		rp := NewReplay(context.Background(), serialize(&tokentest.Int{V: 1}), reg, cfg)
		defer rp.Close()

		_, err := rp.Run(func(token.Token) error { return errors.New("boom") })
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})

	It("delivers tokens before a corruption, then fails", func() {
		data, _ := io.ReadAll(serialize(&tokentest.Int{V: 1}, &tokentest.Int{V: 2}))
		data = append(data, 1, 5)

		rp := NewReplay(context.Background(), bytes.NewReader(data), reg, cfg)
		defer rp.Close()

		for i := 0; i < 2; i++ {
			_, err := rp.Token()
			Expect(err).ToNot(HaveOccurred())
		}
		_, err := rp.Token()
		Expect(errors.Cause(err)).To(Equal(token.ErrCorrupt))
		Eventually(fr.count).Should(Equal(1))
	})

	It("purges unconsumed tokens on Close", func() {
		blob := &tokentest.Blob{Data: []byte("x")}
		var buf bytes.Buffer
		_, _ = token.Serialize(&buf, blob)

		rp := NewReplay(context.Background(), &buf, reg, cfg)
		tok, err := rp.Token()
		Expect(err).ToNot(HaveOccurred())
		Expect(rp.Close()).To(Succeed())
		Expect(tok.(*tokentest.Blob).Released).To(BeTrue())

		_, err = rp.Token()
		Expect(err).To(Equal(errClosed))
	})
})

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing scheduler")
}
