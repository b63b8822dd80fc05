// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package resource

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/danjacques/gocapture/tokenstream"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// IndexExt is the extension of a store's index file.
const IndexExt = ".idx"

const (
	indexMagic = 0x58444952 // "RIDX"

	// indexLayout is the only supported index layout.
	indexLayout = 2
)

// ErrUnsupportedIndex is returned when an index was written with a layout
// that this package does not read.
var ErrUnsupportedIndex = errors.New("unsupported resource index layout")

// IndexPath returns the index path for the store at path.
func IndexPath(path string) string { return path + IndexExt }

const (
	indexHeaderSize = 16
	indexRecordSize = 40
)

type indexHeader struct {
	Magic  uint32 `struc:"uint32,little"`
	Layout uint32 `struc:"uint32,little"`
	Count  uint64 `struc:"uint64,little"`
}

type indexRecord struct {
	Hash      uint64 `struc:"uint64,little"`
	FileOff   int64  `struc:"int64,little"`
	ChunkOff  int64  `struc:"int64,little"`
	Size      uint64 `struc:"uint64,little"`
	Reserved0 uint64 `struc:"uint64,little"`
}

// entry locates a single resource.
type entry struct {
	offset tokenstream.Offset
	size   int64
}

func writeIndex(path string, idx map[uint64]entry) error {
	hashes := make([]uint64, 0, len(idx))
	for h := range idx {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	tmp := path + ".tmp"
	fd, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "creating index file")
	}
	defer func() {
		if fd != nil {
			_ = fd.Close()
			_ = os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(fd)
	hdr := indexHeader{Magic: indexMagic, Layout: indexLayout, Count: uint64(len(hashes))}
	if err := struc.Pack(bw, &hdr); err != nil {
		return errors.Wrap(err, "writing index header")
	}
	for _, h := range hashes {
		e := idx[h]
		rec := indexRecord{
			Hash:     h,
			FileOff:  e.offset.File,
			ChunkOff: e.offset.Chunk,
			Size:     uint64(e.size),
		}
		if err := struc.Pack(bw, &rec); err != nil {
			return errors.Wrapf(err, "writing index record for %016x", h)
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing index")
	}

	err, fd = fd.Close(), nil
	if err != nil {
		return errors.Wrap(err, "closing index file")
	}
	return errors.Wrap(os.Rename(tmp, path), "installing index file")
}

func readIndex(path string) (map[uint64]entry, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening index file")
	}
	defer fd.Close()

	br := bufio.NewReader(fd)
	var hdr indexHeader
	if err := unpackFixed(br, indexHeaderSize, &hdr); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = errors.Wrap(tokenstream.ErrCorrupt, "index header truncated")
		}
		return nil, errors.Wrap(err, "reading index header")
	}
	switch {
	case hdr.Magic != indexMagic:
		return nil, errors.Wrapf(tokenstream.ErrCorrupt, "bad index magic %08x", hdr.Magic)
	case hdr.Layout != indexLayout:
		return nil, errors.Wrapf(ErrUnsupportedIndex, "layout %d", hdr.Layout)
	}

	idx := make(map[uint64]entry, int(minUint64(hdr.Count, 1<<20)))
	for i := uint64(0); i < hdr.Count; i++ {
		var rec indexRecord
		if err := unpackFixed(br, indexRecordSize, &rec); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = errors.Wrapf(tokenstream.ErrCorrupt, "index truncated at record %d of %d", i, hdr.Count)
			}
			return nil, err
		}
		switch {
		case rec.Size > MaxSize:
			return nil, errors.Wrapf(tokenstream.ErrCorrupt, "record %016x size %d exceeds limit", rec.Hash, rec.Size)
		case rec.FileOff <= 0:
			return nil, errors.Wrapf(tokenstream.ErrCorrupt, "record %016x has invalid file offset %d", rec.Hash, rec.FileOff)
		case rec.ChunkOff < 0 || rec.ChunkOff > tokenstream.MaxChunkLimit:
			return nil, errors.Wrapf(tokenstream.ErrCorrupt, "record %016x has invalid chunk offset %d", rec.Hash, rec.ChunkOff)
		}
		idx[rec.Hash] = entry{
			offset: tokenstream.Offset{File: rec.FileOff, Chunk: rec.ChunkOff},
			size:   int64(rec.Size),
		}
	}
	return idx, nil
}

// unpackFixed reads exactly size bytes from r and unpacks them into v.
func unpackFixed(r io.Reader, size int, v interface{}) error {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return struc.Unpack(bytes.NewReader(buf), v)
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
