// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"bytes"
	"math/rand"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

// testPayload returns size bytes of deterministic, partially compressible
// data.
func testPayload(seed int64, size int) []byte {
	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, size)
	for i := range buf {
		if i%4 == 0 {
			buf[i] = byte(rng.Intn(256))
		} else {
			buf[i] = byte(i / 64)
		}
	}
	return buf
}

var allCompressions = []Compression{CompressionNone, CompressionLZ4, CompressionZSTD, CompressionSnappy}

var _ = Describe("Compressor", func() {
	const chunk = 64 * 1024

	for _, comp := range allCompressions {
		comp := comp

		DescribeTable(comp.String()+" round trip", func(level, size int) {
			c, err := NewCompressor(comp, level)
			Expect(err).ToNot(HaveOccurred())
			Expect(c.Compression()).To(Equal(comp))

			src := testPayload(int64(size), size)
			compressed, err := c.Compress(src)
			Expect(err).ToNot(HaveOccurred())
			Expect(len(compressed)).To(BeNumerically("<=", c.MaxCompressedSize(size)))
			if size == 0 {
				Expect(compressed).To(BeEmpty())
			}

			out, err := c.Decompress(compressed, size)
			Expect(err).ToNot(HaveOccurred())
			Expect(bytes.Equal(out, src)).To(BeTrue())
		},
			Entry("empty", 1, 0),
			Entry("one byte", 1, 1),
			Entry("one chunk", 1, chunk),
			Entry("one chunk plus one", 1, chunk+1),
			Entry("one chunk at maximum level", MaxCompressionLevel, chunk),
			Entry("one chunk plus one at level 5", 5, chunk+1),
		)
	}

	It("honors its bound with incompressible data", func() {
		rng := rand.New(rand.NewSource(1337))
		src := make([]byte, chunk)
		_, _ = rng.Read(src)

		for _, comp := range allCompressions {
			c, err := NewCompressor(comp, MaxCompressionLevel)
			Expect(err).ToNot(HaveOccurred())

			dst := make([]byte, c.MaxCompressedSize(len(src)))
			n, err := c.CompressTo(dst, src)
			Expect(err).ToNot(HaveOccurred(), "%s", comp)
			Expect(n).To(BeNumerically("<=", len(dst)))
		}
	})

	It("refuses output buffers smaller than the bound", func() {
		c, err := NewCompressor(CompressionLZ4, 1)
		Expect(err).ToNot(HaveOccurred())

		_, err = c.CompressTo(make([]byte, 4), testPayload(0, 1024))
		Expect(err).To(HaveOccurred())
	})

	It("reports a decompressed size mismatch as corruption", func() {
		for _, comp := range allCompressions {
			c, err := NewCompressor(comp, 0)
			Expect(err).ToNot(HaveOccurred())

			compressed, err := c.Compress(testPayload(0, 1024))
			Expect(err).ToNot(HaveOccurred())

			_, err = c.Decompress(compressed, 1000)
			Expect(IsCorrupt(err)).To(BeTrue(), "%s: %v", comp, err)
		}
	})

	It("clamps compression levels", func() {
		for _, tc := range []struct{ in, out int }{
			{0, DefaultCompressionLevel},
			{-4, MinCompressionLevel},
			{3, 3},
			{99, MaxCompressionLevel},
		} {
			c, err := NewCompressor(CompressionZSTD, tc.in)
			Expect(err).ToNot(HaveOccurred())
			Expect(c.Level()).To(Equal(tc.out))
		}
	})

	It("rejects unknown compression types", func() {
		_, err := NewCompressor(Compression(42), 1)
		Expect(err).To(HaveOccurred())
	})

	It("parses compression names", func() {
		c, err := ParseCompression("zstd")
		Expect(err).ToNot(HaveOccurred())
		Expect(c).To(Equal(CompressionZSTD))

		_, err = ParseCompression("gzip")
		Expect(err).To(HaveOccurred())

		var cf CompressionFlag
		Expect(cf.Set("LZ4")).To(Succeed())
		Expect(cf.Value()).To(Equal(CompressionLZ4))
		Expect(cf.String()).To(Equal("LZ4"))
		Expect(CompressionFlagValues()).To(Equal("NONE, LZ4, ZSTD, SNAPPY"))
	})
})
