// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"io"

	"github.com/pkg/errors"
)

// ChunkInfo describes a single chunk frame.
type ChunkInfo struct {
	// Offset is the file offset of the chunk's frame.
	Offset int64
	// Type is the chunk's write type.
	Type WriteType
	// Size is the chunk's uncompressed payload size.
	Size uint64
	// CompressedSize is the total size of the chunk's compressed payload.
	CompressedSize uint64
	// SubChunks is the number of sub-chunks in a LARGE_STANDALONE chunk.
	SubChunks int
}

// Scan walks every chunk frame in the stream, calling fn for each without
// decompressing payloads. If fn returns an error, scanning stops and the error
// is returned.
//
// Scan rewinds the stream before and after walking it. It returns ErrNotFramed
// for raw streams.
func (is *InputStream) Scan(fn func(*ChunkInfo) error) error {
	if is.comp == nil {
		return ErrNotFramed
	}
	if err := is.Reset(); err != nil {
		return err
	}
	defer func() { _ = is.Reset() }()

	for {
		ci := ChunkInfo{Offset: is.pos}
		var fh frameHeader
		switch err := readStruct(is.br, frameHeaderSize, &fh); err {
		case nil:
			is.pos += frameHeaderSize
		case io.EOF:
			return nil
		default:
			return errors.Wrapf(err, "reading frame header @%d", ci.Offset)
		}
		ci.Type = WriteType(fh.WriteType)
		ci.Size = fh.Size

		var err error
		switch ci.Type {
		case WriteStandalone, WritePackage:
			ci.CompressedSize, err = is.skipPayload()

		case WriteLargeStandalone:
			var count lengthField
			if err = is.readField(lengthFieldSize, &count); err != nil {
				break
			}
			ci.SubChunks = int(count.Value)
			for i := uint64(0); i < count.Value && err == nil; i++ {
				var sh subChunkHeader
				if err = is.readField(subChunkHeaderSize, &sh); err == nil {
					err = is.discard(sh.CompressedSize)
					ci.CompressedSize += sh.CompressedSize
				}
			}

		default:
			err = errors.Wrapf(ErrCorrupt, "unknown write type %d", fh.WriteType)
		}
		if err != nil {
			return errors.Wrapf(err, "scanning chunk @%d", ci.Offset)
		}
		is.next = is.pos

		if err := fn(&ci); err != nil {
			return err
		}
	}
}

func (is *InputStream) skipPayload() (uint64, error) {
	var cs lengthField
	if err := is.readField(lengthFieldSize, &cs); err != nil {
		return 0, err
	}
	return cs.Value, is.discard(cs.Value)
}

func (is *InputStream) discard(n uint64) error {
	if n > uint64(is.comp.MaxCompressedSize(MaxChunkLimit)) {
		return errors.Wrapf(ErrCorrupt, "compressed size %d exceeds bound", n)
	}
	d, err := is.br.Discard(int(n))
	is.pos += int64(d)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}
