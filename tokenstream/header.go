// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// WriteType identifies how a chunk's payload is laid out.
type WriteType uint8

const (
	// WriteStandalone is a single write stored in its own chunk.
	WriteStandalone WriteType = 0
	// WritePackage is a batch of small writes stored in one chunk.
	WritePackage WriteType = 1
	// WriteLargeStandalone is a single write split into sub-chunks.
	WriteLargeStandalone WriteType = 2
)

func (wt WriteType) String() string {
	switch wt {
	case WriteStandalone:
		return "STANDALONE"
	case WritePackage:
		return "PACKAGE"
	case WriteLargeStandalone:
		return "LARGE_STANDALONE"
	default:
		return fmt.Sprintf("WriteType(%d)", uint8(wt))
	}
}

const (
	versionHeaderSize  = 8
	framingHeaderSize  = 9
	frameHeaderSize    = 9
	lengthFieldSize    = 8
	subChunkHeaderSize = 16
)

type versionHeader struct {
	Major uint16 `struc:",little"`
	Minor uint16 `struc:",little"`
	Patch uint16 `struc:",little"`
	Build uint16 `struc:",little"`
}

type framingHeader struct {
	Compression uint8
	ChunkSize   uint64 `struc:",little"`
}

type frameHeader struct {
	Size      uint64 `struc:",little"`
	WriteType uint8
}

type lengthField struct {
	Value uint64 `struc:",little"`
}

type subChunkHeader struct {
	Size           uint64 `struc:",little"`
	CompressedSize uint64 `struc:",little"`
}

// Header is the header at the start of every stream.
type Header struct {
	// Version is the version of the engine that wrote the stream.
	Version Version
	// Compression is the stream's compression type. It is always
	// CompressionNone for streams that predate compression framing.
	Compression Compression
	// ChunkSize is the writer's package chunk size. It is zero for streams
	// that predate compression framing.
	ChunkSize uint64
}

// Framed returns true if the stream body is made of compressed chunk frames.
func (h *Header) Framed() bool {
	return h.Version.HasCompressionFraming() && h.Compression != CompressionNone
}

func (h *Header) size() int64 {
	if h.Version.HasCompressionFraming() {
		return versionHeaderSize + framingHeaderSize
	}
	return versionHeaderSize
}

func (h *Header) write(w io.Writer) error {
	vh := versionHeader{
		Major: h.Version.Major,
		Minor: h.Version.Minor,
		Patch: h.Version.Patch,
		Build: h.Version.Build,
	}
	if err := struc.Pack(w, &vh); err != nil {
		return errors.Wrap(err, "writing version")
	}
	if !h.Version.HasCompressionFraming() {
		return nil
	}

	fh := framingHeader{
		Compression: uint8(h.Compression),
		ChunkSize:   h.ChunkSize,
	}
	if err := struc.Pack(w, &fh); err != nil {
		return errors.Wrap(err, "writing compression header")
	}
	return nil
}

func readHeader(r io.Reader) (Header, error) {
	var h Header

	var vh versionHeader
	if err := readStruct(r, versionHeaderSize, &vh); err != nil {
		return h, errors.Wrap(err, "reading version")
	}
	h.Version = Version{Major: vh.Major, Minor: vh.Minor, Patch: vh.Patch, Build: vh.Build}
	if !h.Version.HasCompressionFraming() {
		return h, nil
	}

	var fh framingHeader
	if err := readStruct(r, framingHeaderSize, &fh); err != nil {
		return h, errors.Wrap(err, "reading compression header")
	}
	h.Compression = Compression(fh.Compression)
	h.ChunkSize = fh.ChunkSize

	if !h.Compression.IsValid() {
		return h, errors.Wrapf(ErrCorrupt, "unknown compression type %d", fh.Compression)
	}
	if h.Compression != CompressionNone && (h.ChunkSize == 0 || h.ChunkSize > MaxChunkLimit) {
		return h, errors.Wrapf(ErrCorrupt, "invalid chunk size %d", h.ChunkSize)
	}
	return h, nil
}

// packStruct packs v, a fixed-size struc structure, into buf.
func packStruct(buf []byte, v interface{}) error {
	var b bytes.Buffer
	if err := struc.Pack(&b, v); err != nil {
		return err
	}
	if b.Len() != len(buf) {
		return errors.Errorf("packed %d bytes, expected %d", b.Len(), len(buf))
	}
	copy(buf, b.Bytes())
	return nil
}

// readStruct reads exactly size bytes from r and unpacks them into v.
//
// If no bytes could be read, readStruct returns io.EOF. If some but not all
// bytes could be read, it returns io.ErrUnexpectedEOF.
func readStruct(r io.Reader, size int, v interface{}) error {
	var scratch [subChunkHeaderSize]byte
	buf := scratch[:size]
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return struc.Unpack(bytes.NewReader(buf), v)
}
