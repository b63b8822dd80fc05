// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package session

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danjacques/gocapture/mapping"
	"github.com/danjacques/gocapture/scheduler"
	"github.com/danjacques/gocapture/token"
	"github.com/danjacques/gocapture/token/tokentest"
	"github.com/danjacques/gocapture/tokenstream"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	gm "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(errors.Wrap(err, "could not get working directory"))
	}

	var tdir string
	BeforeEach(func() {
		var err error
		tdir, err = ioutil.TempDir(cwd, "session_test_data")
		gm.Expect(err).ToNot(gm.HaveOccurred())
	})

	AfterEach(func() {
		if tdir != "" {
			_ = os.RemoveAll(tdir)
			tdir = ""
		}
	})

	writeConfig := func(content string) string {
		path := filepath.Join(tdir, "config.yaml")
		gm.Expect(ioutil.WriteFile(path, []byte(content), 0644)).To(gm.Succeed())
		return path
	}

	It("has a valid default", func() {
		cfg := Default()
		gm.Expect(cfg.Validate()).To(gm.Succeed())
	})

	It("loads a file over the defaults", func() {
		cfg, err := LoadFile(writeConfig(`
compression: zstd
compression_level: 5
high_integrity: true
resources: false
`))
		gm.Expect(err).ToNot(gm.HaveOccurred())
		gm.Expect(cfg.Compression).To(gm.Equal("zstd"))
		gm.Expect(cfg.CompressionLevel).To(gm.Equal(5))
		gm.Expect(cfg.HighIntegrity).To(gm.BeTrue())
		gm.Expect(cfg.Resources).To(gm.BeFalse())
		gm.Expect(cfg.ChunkSize).To(gm.Equal(tokenstream.DefaultChunkSize))

		scfg, err := cfg.StreamConfig(nil)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		gm.Expect(scfg.Compression).To(gm.Equal(tokenstream.CompressionZSTD))
	})

	It("rejects unknown fields", func() {
		_, err := LoadFile(writeConfig("compresion: lz4\n"))
		gm.Expect(err).To(gm.HaveOccurred())
	})

	DescribeTable("rejects invalid settings",
		func(mod func(*Config)) {
			cfg := Default()
			mod(&cfg)
			gm.Expect(cfg.Validate()).ToNot(gm.Succeed())
		},
		Entry("compression", func(c *Config) { c.Compression = "gzip" }),
		Entry("level", func(c *Config) { c.CompressionLevel = 11 }),
		Entry("chunk size", func(c *Config) { c.ChunkSize = tokenstream.MaxChunkLimit + 1 }),
		Entry("burst", func(c *Config) { c.BurstTokens = -1 }),
		Entry("version", func(c *Config) { c.Version = "one" }),
	)
})

var _ = Describe("Sessions", func() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(errors.Wrap(err, "could not get working directory"))
	}

	var (
		tdir, path string
		opts       Options
		cfg        Config
		fatals     []error
	)
	BeforeEach(func() {
		var err error
		tdir, err = ioutil.TempDir(cwd, "session_test_data")
		gm.Expect(err).ToNot(gm.HaveOccurred())
		path = filepath.Join(tdir, "capture.stream")

		fatals = nil
		opts = Options{
			Registry: tokentest.Registry(),
			OnFatal:  func(err error) { fatals = append(fatals, err) },
			Now:      func() time.Time { return time.Unix(1500000000, 0) },
		}
		cfg = Default()
		cfg.ChunkSize = 1024
		cfg.BurstTokens = 16
	})

	AfterEach(func() {
		if tdir != "" {
			_ = os.RemoveAll(tdir)
			tdir = ""
		}
	})

	DescribeTable("replays the captured tokens, then ends",
		func(compression string, highIntegrity bool) {
			cfg.Compression = compression
			cfg.HighIntegrity = highIntegrity

			c, err := NewCapture(context.Background(), path, cfg, opts)
			gm.Expect(err).ToNot(gm.HaveOccurred())
			gm.Expect(c.Register(&tokentest.Int{V: 42})).To(gm.Succeed())
			gm.Expect(c.Register(&tokentest.String{S: "hello"})).To(gm.Succeed())
			gm.Expect(c.Close()).To(gm.Succeed())

			rp, err := NewReplay(context.Background(), path, cfg, opts)
			gm.Expect(err).ToNot(gm.HaveOccurred())
			defer rp.Close()

			tok, err := rp.Token()
			gm.Expect(err).ToNot(gm.HaveOccurred())
			gm.Expect(tok.ID()).To(gm.Equal(token.ID{Family: 1, Opcode: 5}))
			gm.Expect(tok.(*tokentest.Int).V).To(gm.BeEquivalentTo(42))

			tok, err = rp.Token()
			gm.Expect(err).ToNot(gm.HaveOccurred())
			gm.Expect(tok.ID()).To(gm.Equal(token.ID{Family: 1, Opcode: 6}))
			gm.Expect(tok.(*tokentest.String).S).To(gm.Equal("hello"))

			_, err = rp.Token()
			gm.Expect(err).To(gm.Equal(io.EOF))
			gm.Expect(fatals).To(gm.BeEmpty())
		},
		Entry("uncompressed", "NONE", false),
		Entry("LZ4", "LZ4", false),
		Entry("ZSTD", "ZSTD", false),
		Entry("Snappy", "SNAPPY", false),
		Entry("LZ4, high integrity", "LZ4", true),
	)

	It("records metadata", func() {
		c, err := NewCapture(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		for i := 0; i < 10; i++ {
			gm.Expect(c.Register(&tokentest.Int{V: uint32(i)})).To(gm.Succeed())
			gm.Expect(c.Register(&token.FrameEnd{Frame: uint64(i)})).To(gm.Succeed())
		}
		gm.Expect(c.Close()).To(gm.Succeed())

		rp, err := NewReplay(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		defer rp.Close()

		md := rp.Metadata()
		gm.Expect(md).ToNot(gm.BeNil())
		gm.Expect(md.Name).To(gm.Equal(path))
		gm.Expect(md.NumTokens).To(gm.BeEquivalentTo(20))
		gm.Expect(md.NumFrames).To(gm.BeEquivalentTo(10))
		gm.Expect(md.FamilyTokens).To(gm.Equal(map[string]int64{"test": 10, "control": 10}))
		gm.Expect(md.NumBytes).To(gm.BeNumerically(">", 0))
		gm.Expect(md.Compression).To(gm.Equal(tokenstream.CompressionLZ4))

		frames := 0
		for {
			y, err := rp.Run(func(token.Token) error { return nil })
			gm.Expect(err).ToNot(gm.HaveOccurred())
			if y == scheduler.Finished {
				break
			}
			frames++
		}
		gm.Expect(frames).To(gm.Equal(10))
	})

	It("refuses unregistered tokens", func() {
		c, err := NewCapture(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		defer c.Abort()

		err = c.Register(&tokentest.Int{V: 1})
		gm.Expect(err).ToNot(gm.HaveOccurred())

		opts.Registry = token.NewRegistry()
		other, err := NewCapture(context.Background(), filepath.Join(tdir, "other.stream"), cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		defer other.Abort()
		gm.Expect(errors.Cause(other.Register(&tokentest.Int{V: 1}))).To(gm.Equal(token.ErrUnknownToken))
	})

	It("stores and retrieves resources", func() {
		c, err := NewCapture(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())

		payload := make([]byte, 3000)
		for i := range payload {
			payload[i] = byte(i % 7)
		}
		h, err := c.PutResource(payload)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		gm.Expect(c.Register(&tokentest.Handle{Handle: h})).To(gm.Succeed())
		gm.Expect(c.Close()).To(gm.Succeed())

		rp, err := NewReplay(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		defer rp.Close()

		tok, err := rp.Token()
		gm.Expect(err).ToNot(gm.HaveOccurred())
		data, err := rp.Resource(tok.(*tokentest.Handle).Handle)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		gm.Expect(data).To(gm.Equal(payload))
	})

	It("runs without a resource store", func() {
		cfg.Resources = false
		c, err := NewCapture(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		_, err = c.PutResource([]byte("x"))
		gm.Expect(err).To(gm.Equal(ErrNoResources))
		gm.Expect(c.Close()).To(gm.Succeed())

		rp, err := NewReplay(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		defer rp.Close()
		_, err = rp.Resource(1)
		gm.Expect(err).To(gm.Equal(ErrNoResources))
	})

	It("maps handles strictly during replay and passes them through during capture", func() {
		c, err := NewCapture(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())

		ct := c.Tables().Family(tokentest.Family)
		gm.Expect(ct.Mode()).To(gm.Equal(mapping.Passthrough))
		v, err := ct.Get(0xDEAD)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		gm.Expect(v).To(gm.BeEquivalentTo(0xDEAD))
		gm.Expect(c.Tables().Family(token.ControlFamily)).To(gm.BeNil())
		gm.Expect(c.Close()).To(gm.Succeed())

		rp, err := NewReplay(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		defer rp.Close()

		rt := rp.Tables().Family(tokentest.Family)
		gm.Expect(rt.Mode()).To(gm.Equal(mapping.Strict))
		gm.Expect(rt.Dense()).To(gm.BeTrue())
		_, err = rt.Get(0xDEAD)
		gm.Expect(errors.Cause(err)).To(gm.Equal(mapping.ErrNotMapped))

		rt.Add(0xDEAD, 7)
		gm.Expect(rt.Get(0xDEAD)).To(gm.BeEquivalentTo(7))
	})

	It("uses sparse tables for streams that predate dense mapping", func() {
		cfg.Version = tokenstream.VersionCompressionFraming.String()
		c, err := NewCapture(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		gm.Expect(c.Register(&tokentest.Int{V: 42})).To(gm.Succeed())
		gm.Expect(c.Close()).To(gm.Succeed())

		rp, err := NewReplay(context.Background(), path, Default(), opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())
		defer rp.Close()

		gm.Expect(rp.Header().Version).To(gm.Equal(tokenstream.VersionCompressionFraming))
		gm.Expect(rp.Tables().Family(tokentest.Family).Dense()).To(gm.BeFalse())

		tok, err := rp.Token()
		gm.Expect(err).ToNot(gm.HaveOccurred())
		gm.Expect(tok.(*tokentest.Int).V).To(gm.BeEquivalentTo(42))
	})

	It("discards tokens on Abort", func() {
		c, err := NewCapture(context.Background(), path, cfg, opts)
		gm.Expect(err).ToNot(gm.HaveOccurred())

		blob := &tokentest.Blob{Data: []byte("discarded")}
		gm.Expect(c.Register(blob)).To(gm.Succeed())
		c.Abort()
		gm.Expect(blob.Released).To(gm.BeTrue())
		gm.Expect(tokenstream.MetadataPath(path)).ToNot(gm.BeAnExistingFile())
	})
})

func TestSession(t *testing.T) {
	gm.RegisterFailHandler(Fail)
	RunSpecs(t, "Testing session")
}
