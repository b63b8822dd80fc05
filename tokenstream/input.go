// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"bufio"
	"io"
	"os"

	"github.com/danjacques/gocapture/support/bufferpool"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// maxLargeSize is the largest LARGE_STANDALONE payload a reader will accept.
const maxLargeSize = 1 << 40

// cachedChunk is a decoded chunk held in the random access cache.
type cachedChunk struct {
	buf *bufferpool.Buffer
	// end is the file offset immediately after the chunk's frame.
	end int64
}

// InputStream reads a stream file.
//
// InputStream is not safe for concurrent use.
type InputStream struct {
	cfg    Config
	path   string
	header Header

	fd *os.File
	br *bufio.Reader
	// comp decompresses framed chunks. It is nil for raw streams.
	comp *Compressor

	// pos is the file offset of the next byte br will return.
	pos int64
	// next is the file offset of the next frame to decode. It differs from
	// pos when the current chunk came from the cache.
	next int64

	// chunk is the decoded payload of the current chunk, and cursor is the
	// offset of the next byte to return from it.
	chunk  *bufferpool.Buffer
	cursor int

	cache *lru.Cache
	pool  bufferpool.Pool
}

// Open opens the stream file at path and reads its header.
//
// If the stream was written by a newer engine, a warning is logged and reading
// proceeds.
func Open(path string, cfg Config) (*InputStream, error) {
	if err := cfg.normalize(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	fd, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening input file")
	}

	is := InputStream{
		cfg:  cfg,
		path: path,
		fd:   fd,
		br:   bufio.NewReaderSize(fd, rawBufferSize),
	}
	if err := is.init(); err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "opening stream %q", path)
	}
	return &is, nil
}

func (is *InputStream) init() error {
	h, err := readHeader(is.br)
	if err != nil {
		switch errors.Cause(err) {
		case io.EOF, io.ErrUnexpectedEOF:
			return errors.Wrap(ErrCorrupt, "truncated header")
		default:
			return err
		}
	}
	is.header = h
	is.pos = h.size()
	is.next = is.pos

	if h.Version.Compare(CurrentVersion) > 0 {
		is.cfg.Logger.Warnf("Stream %q was written by a newer engine (%s > %s); attempting to read it anyway.",
			is.path, h.Version, CurrentVersion)
	}

	if !h.Framed() {
		return nil
	}

	if is.comp, err = NewCompressor(h.Compression, 0); err != nil {
		return err
	}
	is.pool.MaxRetainedSize = int(h.ChunkSize) * 2
	if is.cfg.ChunkCacheSize > 0 {
		is.cache, err = lru.NewWithEvict(is.cfg.ChunkCacheSize, func(_, v interface{}) {
			v.(*cachedChunk).buf.Release()
		})
		if err != nil {
			return errors.Wrap(err, "creating chunk cache")
		}
	}
	return nil
}

// Path returns the path of the stream file.
func (is *InputStream) Path() string { return is.path }

// Header returns the stream's header.
func (is *InputStream) Header() Header { return is.header }

// Close closes the stream, releasing its resources.
func (is *InputStream) Close() error {
	is.dropChunk()
	if is.cache != nil {
		is.cache.Purge()
	}
	return is.fd.Close()
}

// Reset rewinds the stream to its first byte after the header.
func (is *InputStream) Reset() error {
	is.dropChunk()
	is.next = is.header.size()
	return is.seek(is.next)
}

// Read reads exactly len(p) bytes into p, decoding chunks as needed.
//
// If the stream ends before any byte is read, Read returns io.EOF. If it ends
// partway through p, Read returns io.ErrUnexpectedEOF.
func (is *InputStream) Read(p []byte) (int, error) {
	if is.comp == nil {
		if err := is.seek(is.next); err != nil {
			return 0, err
		}
		n, err := io.ReadFull(is.br, p)
		is.pos += int64(n)
		is.next = is.pos
		return n, err
	}

	total := 0
	for total < len(p) {
		if is.chunk != nil {
			if rem := is.chunk.Bytes()[is.cursor:]; len(rem) > 0 {
				n := copy(p[total:], rem)
				is.cursor += n
				total += n
				continue
			}
			is.dropChunk()
		}

		n, err := is.decodeNext(p[total:])
		switch {
		case err == io.EOF && total == 0:
			return 0, io.EOF
		case err == io.EOF:
			return total, io.ErrUnexpectedEOF
		case err != nil:
			return total, err
		}
		total += n
	}
	return total, nil
}

// ReadWithOffset reads exactly len(p) bytes starting at off, which was
// returned by OutputStream.WriteAndGetOffset.
func (is *InputStream) ReadWithOffset(p []byte, off Offset) error {
	if off.File < is.header.size() || off.Chunk < 0 {
		return errors.Errorf("invalid offset %+v", off)
	}

	is.dropChunk()
	if is.comp == nil {
		is.next = off.File + off.Chunk
		_, err := is.Read(p)
		return err
	}

	is.next = off.File
	if off.Chunk != 0 {
		if err := is.loadChunkAt(off.File); err != nil {
			return err
		}
		if off.Chunk > int64(is.chunk.Len()) {
			return errors.Wrapf(ErrCorrupt, "offset %d is outside of %d-byte chunk @%d",
				off.Chunk, is.chunk.Len(), off.File)
		}
		is.cursor = int(off.Chunk)
	}

	if _, err := is.Read(p); err != nil {
		return errors.Wrapf(err, "reading %d bytes at %+v", len(p), off)
	}
	return nil
}

// loadChunkAt makes the chunk whose frame begins at offset the current chunk,
// consulting the chunk cache.
func (is *InputStream) loadChunkAt(offset int64) error {
	if is.cache != nil {
		if v, ok := is.cache.Get(offset); ok {
			cc := v.(*cachedChunk)
			cc.buf.Retain()
			is.setChunk(cc.buf)
			is.next = cc.end
			chunkCacheHits.Inc()
			return nil
		}
	}

	if _, err := is.decodeNext(nil); err != nil {
		if err == io.EOF {
			return errors.Wrapf(ErrCorrupt, "no chunk at offset %d", offset)
		}
		return err
	}

	if is.cache != nil {
		is.chunk.Retain()
		is.cache.Add(offset, &cachedChunk{buf: is.chunk, end: is.next})
	}
	return nil
}

func (is *InputStream) setChunk(buf *bufferpool.Buffer) {
	is.dropChunk()
	is.chunk = buf
	is.cursor = 0
}

func (is *InputStream) dropChunk() {
	is.chunk.Release()
	is.chunk = nil
	is.cursor = 0
}

// seek positions the file reader at offset, if it is not there already.
func (is *InputStream) seek(offset int64) error {
	if offset == is.pos {
		return nil
	}
	if _, err := is.fd.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrapf(err, "seeking to %d", offset)
	}
	is.br.Reset(is.fd)
	is.pos = offset
	is.next = offset
	return nil
}

func (is *InputStream) readFull(b []byte) error {
	n, err := io.ReadFull(is.br, b)
	is.pos += int64(n)
	return err
}

// readField reads a fixed-size frame field. Running out of data inside a
// frame is always an unexpected EOF.
func (is *InputStream) readField(size int, v interface{}) error {
	err := readStruct(is.br, size, v)
	if err == nil {
		is.pos += int64(size)
		return nil
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// decodeNext decodes the frame at is.next.
//
// If the frame is a LARGE_STANDALONE frame whose payload fits in direct, the
// payload is decoded straight into direct and its size is returned. Otherwise,
// the payload becomes the current chunk and decodeNext returns 0.
//
// decodeNext returns io.EOF if there are no more frames.
func (is *InputStream) decodeNext(direct []byte) (int, error) {
	if err := is.seek(is.next); err != nil {
		return 0, err
	}
	start := is.pos

	n, err := is.decodeFrame(start, direct)
	is.next = is.pos
	switch {
	case err == nil, err == io.EOF:
		return n, err
	case err == io.ErrUnexpectedEOF:
		return 0, errors.Wrapf(err, "truncated chunk @%d", start)
	default:
		if IsCorrupt(err) {
			corruptionErrors.Inc()
		}
		return 0, errors.Wrapf(err, "decoding chunk @%d", start)
	}
}

func (is *InputStream) decodeFrame(start int64, direct []byte) (int, error) {
	var fh frameHeader
	switch err := readStruct(is.br, frameHeaderSize, &fh); err {
	case nil:
		is.pos += frameHeaderSize
	case io.EOF, io.ErrUnexpectedEOF:
		return 0, err
	default:
		return 0, errors.Wrap(err, "reading frame header")
	}

	wt := WriteType(fh.WriteType)
	switch wt {
	case WriteStandalone, WritePackage:
		limit := uint64(MaxChunkLimit)
		if wt == WritePackage {
			limit = is.header.ChunkSize
		}
		if fh.Size > limit {
			return 0, errors.Wrapf(ErrCorrupt, "%s size %d exceeds limit %d", wt, fh.Size, limit)
		}

		var cs lengthField
		if err := is.readField(lengthFieldSize, &cs); err != nil {
			return 0, err
		}

		buf := is.pool.Get(int(fh.Size))
		if err := is.readPayload(buf.Bytes(), cs.Value); err != nil {
			buf.Release()
			return 0, err
		}
		is.setChunk(buf)
		chunksRead.WithLabelValues(wt.String()).Inc()
		return 0, nil

	case WriteLargeStandalone:
		var count lengthField
		if err := is.readField(lengthFieldSize, &count); err != nil {
			return 0, err
		}
		if fh.Size > maxLargeSize {
			return 0, errors.Wrapf(ErrCorrupt, "%s size %d exceeds limit %d", wt, fh.Size, uint64(maxLargeSize))
		}
		if count.Value == 0 || count.Value > fh.Size {
			return 0, errors.Wrapf(ErrCorrupt, "invalid sub-chunk count %d for %d bytes", count.Value, fh.Size)
		}
		if (fh.Size-1)/count.Value >= MaxChunkLimit {
			return 0, errors.Wrapf(ErrCorrupt, "%d sub-chunks cannot hold %d bytes", count.Value, fh.Size)
		}

		// The payload buffer grows as sub-chunks are validated, so a corrupt
		// declared size cannot force a large allocation.
		var buf *bufferpool.Buffer
		useDirect := uint64(len(direct)) >= fh.Size
		if !useDirect {
			buf = is.pool.Get(0)
		}

		var filled uint64
		for i := uint64(0); i < count.Value; i++ {
			var sh subChunkHeader
			err := is.readField(subChunkHeaderSize, &sh)
			if err == nil {
				switch {
				case sh.Size == 0, sh.Size > MaxChunkLimit:
					err = errors.Wrapf(ErrCorrupt, "invalid sub-chunk size %d", sh.Size)
				case sh.Size > fh.Size-filled:
					err = errors.Wrapf(ErrCorrupt, "sub-chunks exceed declared size %d", fh.Size)
				default:
					end := filled + sh.Size
					var dst []byte
					if useDirect {
						dst = direct[filled:end]
					} else {
						buf.Resize(int(end))
						dst = buf.Bytes()[filled:end]
					}
					err = is.readPayload(dst, sh.CompressedSize)
				}
			}
			if err != nil {
				buf.Release()
				if err == io.ErrUnexpectedEOF {
					return 0, err
				}
				return 0, errors.Wrapf(err, "sub-chunk %d of %d", i, count.Value)
			}
			filled += sh.Size
		}
		if filled != fh.Size {
			buf.Release()
			return 0, errors.Wrapf(ErrCorrupt, "sub-chunks hold %d bytes, declared %d", filled, fh.Size)
		}
		chunksRead.WithLabelValues(wt.String()).Inc()

		if useDirect {
			return int(fh.Size), nil
		}
		is.setChunk(buf)
		return 0, nil

	default:
		return 0, errors.Wrapf(ErrCorrupt, "unknown write type %d", fh.WriteType)
	}
}

// readPayload reads a compressed payload of compressedSize bytes and
// decompresses it into dst.
func (is *InputStream) readPayload(dst []byte, compressedSize uint64) error {
	if bound := uint64(is.comp.MaxCompressedSize(MaxChunkLimit)); compressedSize > bound {
		return errors.Wrapf(ErrCorrupt, "compressed size %d exceeds bound %d", compressedSize, bound)
	}

	src := is.pool.Get(int(compressedSize))
	defer src.Release()
	if err := is.readFull(src.Bytes()); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return is.comp.DecompressTo(dst, src.Bytes())
}
