// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Compression is the compression algorithm used by a stream. Its value is
// persisted in the stream header.
type Compression uint8

const (
	// CompressionNone disables compression and chunk framing.
	CompressionNone Compression = 0
	// CompressionLZ4 compresses chunks with LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZSTD compresses chunks with Zstandard.
	CompressionZSTD Compression = 2
	// CompressionSnappy compresses chunks with Snappy block compression.
	CompressionSnappy Compression = 3
)

const (
	// MinCompressionLevel is the fastest compression level.
	MinCompressionLevel = 1
	// MaxCompressionLevel is the slowest, most compact compression level.
	MaxCompressionLevel = 10
	// DefaultCompressionLevel is used when no level is configured.
	DefaultCompressionLevel = MinCompressionLevel
)

var compressionNames = map[Compression]string{
	CompressionNone:   "NONE",
	CompressionLZ4:    "LZ4",
	CompressionZSTD:   "ZSTD",
	CompressionSnappy: "SNAPPY",
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsValid returns true if c is a known compression type.
func (c Compression) IsValid() bool {
	_, ok := compressionNames[c]
	return ok
}

// ParseCompression returns the Compression named by v. Matching is
// case-insensitive.
func ParseCompression(v string) (Compression, error) {
	v = strings.ToUpper(v)
	for c, name := range compressionNames {
		if name == v {
			return c, nil
		}
	}
	return 0, errors.Errorf("unknown compression %q (options are %s)", v, CompressionFlagValues())
}

// blockCodec is a single compression algorithm. Implementations are not safe
// for concurrent use; Compressor serializes calls.
type blockCodec interface {
	maxCompressedSize(n int) int
	compress(dst, src []byte) (int, error)
	decompress(dst, src []byte) error
}

// Compressor compresses and decompresses individual chunks.
//
// Compressor is safe for concurrent use. Calls that use internal encoder
// state are serialized.
type Compressor struct {
	compression Compression
	level       int

	mu    sync.Mutex
	codec blockCodec
}

// NewCompressor returns a Compressor for the specified algorithm. The level is
// clamped to [MinCompressionLevel, MaxCompressionLevel]; a level of zero
// selects DefaultCompressionLevel.
func NewCompressor(c Compression, level int) (*Compressor, error) {
	level = clampLevel(level)

	var (
		codec blockCodec
		err   error
	)
	switch c {
	case CompressionNone:
		codec = noneCodec{}
	case CompressionLZ4:
		codec = newLZ4Codec(level)
	case CompressionZSTD:
		codec, err = newZSTDCodec(level)
	case CompressionSnappy:
		codec = snappyCodec{}
	default:
		return nil, errors.Errorf("unknown compression type %d", c)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s compressor", c)
	}

	return &Compressor{
		compression: c,
		level:       level,
		codec:       codec,
	}, nil
}

func clampLevel(level int) int {
	switch {
	case level == 0:
		return DefaultCompressionLevel
	case level < MinCompressionLevel:
		return MinCompressionLevel
	case level > MaxCompressionLevel:
		return MaxCompressionLevel
	default:
		return level
	}
}

// Compression returns the compression algorithm used by c.
func (c *Compressor) Compression() Compression { return c.compression }

// Level returns the clamped compression level used by c.
func (c *Compressor) Level() int { return c.level }

// MaxCompressedSize returns the largest number of bytes that compressing n
// bytes can produce. Output buffers sized with it never need to grow.
func (c *Compressor) MaxCompressedSize(n int) int {
	if n == 0 {
		return 0
	}
	return c.codec.maxCompressedSize(n)
}

// CompressTo compresses src into dst, returning the number of bytes written.
// dst must be at least MaxCompressedSize(len(src)) bytes long.
func (c *Compressor) CompressTo(dst, src []byte) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	if bound := c.codec.maxCompressedSize(len(src)); len(dst) < bound {
		return 0, errors.Errorf("output buffer (%d) is smaller than the compression bound (%d)", len(dst), bound)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.codec.compress(dst, src)
	if err != nil {
		return 0, errors.Wrapf(err, "compressing %d bytes with %s", len(src), c.compression)
	}
	return n, nil
}

// Compress compresses src into a newly allocated buffer.
func (c *Compressor) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, c.MaxCompressedSize(len(src)))
	n, err := c.CompressTo(dst, src)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// DecompressTo decompresses src into dst. The decompressed size must be
// exactly len(dst); any other size is reported as ErrCorrupt.
func (c *Compressor) DecompressTo(dst, src []byte) error {
	if len(src) == 0 {
		if len(dst) == 0 {
			return nil
		}
		return errors.Wrapf(ErrCorrupt, "empty payload, expected %d bytes", len(dst))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.codec.decompress(dst, src); err != nil {
		if errors.Cause(err) == ErrCorrupt {
			return err
		}
		return errors.Wrapf(ErrCorrupt, "%s: %s", c.compression, err)
	}
	return nil
}

// Decompress decompresses src, which must expand to exactly size bytes.
func (c *Compressor) Decompress(src []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	if err := c.DecompressTo(dst, src); err != nil {
		return nil, err
	}
	return dst, nil
}

type noneCodec struct{}

func (noneCodec) maxCompressedSize(n int) int { return n }

func (noneCodec) compress(dst, src []byte) (int, error) { return copy(dst, src), nil }

func (noneCodec) decompress(dst, src []byte) error {
	if len(src) != len(dst) {
		return errors.Wrapf(ErrCorrupt, "stored size %d, expected %d", len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

var lz4HCLevels = []lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

type lz4Codec struct {
	hc   bool
	fast lz4.Compressor
	high lz4.CompressorHC
}

func newLZ4Codec(level int) *lz4Codec {
	if level <= MinCompressionLevel {
		return &lz4Codec{}
	}
	return &lz4Codec{
		hc:   true,
		high: lz4.CompressorHC{Level: lz4HCLevels[level-2]},
	}
}

func (*lz4Codec) maxCompressedSize(n int) int { return lz4.CompressBlockBound(n) }

func (c *lz4Codec) compress(dst, src []byte) (n int, err error) {
	if c.hc {
		n, err = c.high.CompressBlock(src, dst)
	} else {
		n, err = c.fast.CompressBlock(src, dst)
	}
	if err == nil && n == 0 {
		// The block compressors only report incompressible data when dst is
		// smaller than the bound, which CompressTo rules out.
		err = errors.New("block reported as incompressible")
	}
	return
}

func (*lz4Codec) decompress(dst, src []byte) error {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return errors.Wrapf(ErrCorrupt, "lz4: decoded %d bytes, expected %d", n, len(dst))
	}
	return nil
}

// zstdDecoderMaxMemory bounds the memory a single (possibly corrupt) frame
// may ask the decoder to allocate.
const zstdDecoderMaxMemory = 2 * MaxChunkLimit

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZSTDCodec(level int) (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(2*level-5)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "creating encoder")
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(zstdDecoderMaxMemory))
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "creating decoder")
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

// maxCompressedSize is zstd's compress bound, plus room for the frame header
// and checksum.
func (*zstdCodec) maxCompressedSize(n int) int {
	bound := n + (n >> 8)
	if n < 128<<10 {
		bound += ((128 << 10) - n) >> 11
	}
	return bound + 64
}

func (c *zstdCodec) compress(dst, src []byte) (int, error) {
	out := c.enc.EncodeAll(src, dst[:0])
	if len(out) > len(dst) {
		return 0, errors.Errorf("zstd: %d compressed bytes exceed bound %d", len(out), len(dst))
	}
	return copy(dst, out), nil
}

func (c *zstdCodec) decompress(dst, src []byte) error {
	out, err := c.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return err
	}
	if len(out) != len(dst) {
		return errors.Wrapf(ErrCorrupt, "zstd: decoded %d bytes, expected %d", len(out), len(dst))
	}
	copy(dst, out)
	return nil
}

type snappyCodec struct{}

func (snappyCodec) maxCompressedSize(n int) int { return snappy.MaxEncodedLen(n) }

func (snappyCodec) compress(dst, src []byte) (int, error) {
	return len(snappy.Encode(dst, src)), nil
}

func (snappyCodec) decompress(dst, src []byte) error {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return errors.Wrapf(ErrCorrupt, "snappy: payload encodes %d bytes, expected %d", n, len(dst))
	}
	_, err = snappy.Decode(dst, src)
	return err
}
