// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"bufio"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/danjacques/gocapture/support/bufferpool"

	"github.com/pkg/errors"
)

// Offset locates a write within a stream.
type Offset struct {
	// File is the file offset of the chunk holding the write. For raw
	// streams, it is the offset of the write itself.
	File int64
	// Chunk is the offset of the write within its chunk's decompressed
	// payload. It is zero for standalone chunks and raw streams.
	Chunk int64
}

// OutputStream writes a stream file.
//
// OutputStream is not safe for concurrent use.
type OutputStream struct {
	cfg    Config
	path   string
	dir    string
	header Header

	fd *os.File
	// bw buffers raw bodies. It is nil for framed streams.
	bw *bufio.Writer
	// comp compresses framed chunks. It is nil for raw streams.
	comp *Compressor

	// pos is the logical size of the file, including bytes buffered in bw but
	// excluding the pending package.
	pos int64
	// pending accumulates small writes until they are packaged into a chunk.
	pending []byte

	pool bufferpool.Pool

	// rawBytes is updated atomically, and may be read concurrently with
	// writes.
	rawBytes int64
	closed   bool
}

// Create creates a new stream file at path, writing its header.
//
// If a file already exists at path, it will be truncated.
func Create(path string, cfg Config) (*OutputStream, error) {
	if err := cfg.normalize(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	ow := OutputStream{
		cfg:  cfg,
		path: path,
		dir:  filepath.Dir(path),
		header: Header{
			Version: cfg.Version,
		},
		pool: bufferpool.Pool{
			MaxRetainedSize: cfg.ChunkSize * 2,
		},
	}
	if cfg.Version.HasCompressionFraming() {
		ow.header.Compression = cfg.Compression
		ow.header.ChunkSize = uint64(cfg.ChunkSize)
	} else if cfg.Compression != CompressionNone {
		cfg.Logger.Warnf("Stream version %s predates compression; writing %q uncompressed.", cfg.Version, path)
	}

	if ow.header.Framed() {
		comp, err := NewCompressor(cfg.Compression, cfg.CompressionLevel)
		if err != nil {
			return nil, err
		}
		ow.comp = comp
		ow.pending = make([]byte, 0, cfg.ChunkSize)
	}

	if err := ow.checkSpace(ow.header.size()); err != nil {
		return nil, err
	}

	if err := ow.open(); err != nil {
		return nil, err
	}
	return &ow, nil
}

func (ow *OutputStream) open() error {
	fd, err := os.Create(ow.path)
	if err != nil {
		return errors.Wrap(err, "creating output file")
	}

	bw := bufio.NewWriterSize(fd, rawBufferSize)
	if err := ow.header.write(bw); err != nil {
		_ = fd.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = fd.Close()
		return ow.writeFailed(err)
	}

	ow.fd = fd
	ow.pos = ow.header.size()
	if !ow.header.Framed() {
		ow.bw = bw
	}
	return nil
}

// Path returns the path of the stream file.
func (ow *OutputStream) Path() string { return ow.path }

// Header returns the stream's header.
func (ow *OutputStream) Header() Header { return ow.header }

// Size returns the number of bytes in the stream so far, including buffered
// bytes but excluding writes that have not yet been packaged into a chunk.
func (ow *OutputStream) Size() int64 { return ow.pos }

// RawBytes returns the number of uncompressed payload bytes written.
func (ow *OutputStream) RawBytes() int64 { return atomic.LoadInt64(&ow.rawBytes) }

// Write implements io.Writer.
func (ow *OutputStream) Write(p []byte) (int, error) {
	if _, err := ow.WriteAndGetOffset(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteAndGetOffset writes p to the stream and returns the location of p,
// which can later be passed to InputStream.ReadWithOffset.
func (ow *OutputStream) WriteAndGetOffset(p []byte) (Offset, error) {
	if ow.closed {
		return Offset{}, errors.New("stream is closed")
	}
	atomic.AddInt64(&ow.rawBytes, int64(len(p)))
	rawBytesWritten.Add(float64(len(p)))

	if ow.comp == nil {
		return ow.writeRaw(p)
	}

	// Small writes join the pending package.
	if len(p) < ow.cfg.ChunkSize {
		if len(ow.pending)+len(p) > ow.cfg.ChunkSize {
			if err := ow.flushPending(); err != nil {
				return Offset{}, err
			}
		}
		off := Offset{File: ow.pos, Chunk: int64(len(ow.pending))}
		ow.pending = append(ow.pending, p...)
		return off, nil
	}

	if err := ow.flushPending(); err != nil {
		return Offset{}, err
	}
	off := Offset{File: ow.pos}
	if len(p) > ow.cfg.MaxStandaloneSize {
		return off, ow.writeLarge(p)
	}
	return off, ow.writeChunk(WriteStandalone, p)
}

func (ow *OutputStream) writeRaw(p []byte) (Offset, error) {
	off := Offset{File: ow.pos}

	// Check for space whenever data will actually reach the file.
	if ow.cfg.HighIntegrity || ow.bw.Buffered()+len(p) > ow.bw.Size() {
		if err := ow.checkSpace(int64(ow.bw.Buffered() + len(p))); err != nil {
			return off, err
		}
	}

	n, err := ow.bw.Write(p)
	ow.pos += int64(n)
	if err != nil {
		return off, ow.writeFailed(err)
	}

	if ow.cfg.HighIntegrity {
		if err := ow.bw.Flush(); err != nil {
			return off, ow.writeFailed(err)
		}
	}
	compressedBytesWritten.Add(float64(n))
	return off, nil
}

func (ow *OutputStream) flushPending() error {
	if len(ow.pending) == 0 {
		return nil
	}
	if err := ow.writeChunk(WritePackage, ow.pending); err != nil {
		return err
	}
	ow.pending = ow.pending[:0]
	return nil
}

// writeChunk writes a STANDALONE or PACKAGE chunk containing data.
func (ow *OutputStream) writeChunk(wt WriteType, data []byte) error {
	const headerSize = frameHeaderSize + lengthFieldSize

	bound := ow.comp.MaxCompressedSize(len(data))
	buf := ow.pool.Get(headerSize + bound)
	defer buf.Release()
	b := buf.Bytes()

	n, err := ow.comp.CompressTo(b[headerSize:], data)
	if err != nil {
		return err
	}

	fh := frameHeader{Size: uint64(len(data)), WriteType: uint8(wt)}
	if err := packStruct(b[:frameHeaderSize], &fh); err != nil {
		return errors.Wrap(err, "packing frame header")
	}
	if err := packStruct(b[frameHeaderSize:headerSize], &lengthField{Value: uint64(n)}); err != nil {
		return errors.Wrap(err, "packing compressed size")
	}

	if err := ow.writeFile(b[:headerSize+n]); err != nil {
		return err
	}
	chunksWritten.WithLabelValues(wt.String()).Inc()
	return nil
}

// writeLarge writes data as a LARGE_STANDALONE envelope of sub-chunks, each
// at most MaxStandaloneSize bytes.
func (ow *OutputStream) writeLarge(data []byte) error {
	sizes := LargeSubChunkSizes(int64(len(data)), int64(ow.cfg.MaxStandaloneSize))

	var hdr [frameHeaderSize + lengthFieldSize]byte
	fh := frameHeader{Size: uint64(len(data)), WriteType: uint8(WriteLargeStandalone)}
	if err := packStruct(hdr[:frameHeaderSize], &fh); err != nil {
		return errors.Wrap(err, "packing frame header")
	}
	if err := packStruct(hdr[frameHeaderSize:], &lengthField{Value: uint64(len(sizes))}); err != nil {
		return errors.Wrap(err, "packing sub-chunk count")
	}
	if err := ow.writeFile(hdr[:]); err != nil {
		return err
	}

	for i, size := range sizes {
		sub := data[:size]
		data = data[size:]

		buf := ow.pool.Get(subChunkHeaderSize + ow.comp.MaxCompressedSize(len(sub)))
		b := buf.Bytes()
		n, err := ow.comp.CompressTo(b[subChunkHeaderSize:], sub)
		if err == nil {
			sh := subChunkHeader{Size: uint64(len(sub)), CompressedSize: uint64(n)}
			err = packStruct(b[:subChunkHeaderSize], &sh)
		}
		if err == nil {
			err = ow.writeFile(b[:subChunkHeaderSize+n])
		}
		buf.Release()
		if err != nil {
			return errors.Wrapf(err, "writing sub-chunk %d of %d", i, len(sizes))
		}
	}

	chunksWritten.WithLabelValues(WriteLargeStandalone.String()).Inc()
	return nil
}

// writeFile writes a complete frame (or sub-frame) to the file.
func (ow *OutputStream) writeFile(b []byte) error {
	if err := ow.checkSpace(int64(len(b))); err != nil {
		return err
	}

	n, err := ow.fd.Write(b)
	ow.pos += int64(n)
	compressedBytesWritten.Add(float64(n))
	if err != nil {
		return ow.writeFailed(err)
	}
	return nil
}

func (ow *OutputStream) checkSpace(size int64) error {
	free, err := freeDiskSpace(ow.dir)
	if err != nil {
		return errors.Wrapf(err, "checking free space in %q", ow.dir)
	}
	if need := uint64(size) + ow.cfg.MinFreeBytes; free < need {
		lowDiskSpaceErrors.Inc()
		return errors.Wrapf(ErrLowDiskSpace, "%d bytes free in %q, need %d", free, ow.dir, need)
	}
	return nil
}

func (ow *OutputStream) writeFailed(err error) error {
	free, ferr := freeDiskSpace(ow.dir)
	if ferr != nil {
		return errors.Wrapf(err, "writing %q", ow.path)
	}
	return errors.Wrapf(err, "writing %q (%d bytes free)", ow.path, free)
}

// Flush writes any pending package as a chunk, and flushes buffered raw data to
// the file.
func (ow *OutputStream) Flush() error {
	if ow.closed {
		return nil
	}
	if ow.bw != nil {
		if err := ow.bw.Flush(); err != nil {
			return ow.writeFailed(err)
		}
		return nil
	}
	return ow.flushPending()
}

// Sync flushes the stream and commits the file to stable storage.
func (ow *OutputStream) Sync() error {
	if err := ow.Flush(); err != nil {
		return err
	}
	if ow.closed {
		return nil
	}
	return errors.Wrap(ow.fd.Sync(), "syncing output file")
}

// Close flushes the stream and closes the underlying file.
//
// Close is idempotent.
func (ow *OutputStream) Close() error {
	if ow.closed {
		return nil
	}

	flushErr := ow.Flush()
	ow.closed = true
	ow.pending = nil
	if err := ow.fd.Close(); err != nil && flushErr == nil {
		return errors.Wrap(err, "closing output file")
	}
	return flushErr
}
