// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package token

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// MaxDataSize is the largest length-prefixed byte slice or string that can be
// encoded or decoded.
const MaxDataSize = 1 << 30

// Encoder encodes little-endian token payloads into a byte buffer.
//
// If a value cannot be encoded, it is skipped and Error returns the first
// such error.
type Encoder struct {
	buf []byte
	err error
}

// Reset clears the encoder's buffer and error, retaining its storage.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
	e.err = nil
}

// Error returns the first error encountered while encoding, or nil.
func (e *Encoder) Error() error { return e.err }

func (e *Encoder) checkSize(size int) bool {
	if size <= MaxDataSize {
		return true
	}
	if e.err == nil {
		e.err = errors.Errorf("data size %d exceeds limit %d", size, MaxDataSize)
	}
	return false
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int { return len(e.buf) }

// Bool encodes a boolean as a single byte.
func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
	} else {
		e.Uint8(0)
	}
}

// Uint8 encodes an unsigned 8-bit integer.
func (e *Encoder) Uint8(v uint8) { e.buf = append(e.buf, v) }

// Uint16 encodes an unsigned 16-bit integer.
func (e *Encoder) Uint16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }

// Uint32 encodes an unsigned 32-bit integer.
func (e *Encoder) Uint32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }

// Uint64 encodes an unsigned 64-bit integer.
func (e *Encoder) Uint64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

// Int32 encodes a signed 32-bit integer.
func (e *Encoder) Int32(v int32) { e.Uint32(uint32(v)) }

// Int64 encodes a signed 64-bit integer.
func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) }

// Float32 encodes a 32-bit floating-point value.
func (e *Encoder) Float32(v float32) { e.Uint32(math.Float32bits(v)) }

// Float64 encodes a 64-bit floating-point value.
func (e *Encoder) Float64(v float64) { e.Uint64(math.Float64bits(v)) }

// Data encodes a length-prefixed byte slice.
func (e *Encoder) Data(v []byte) {
	if !e.checkSize(len(v)) {
		return
	}
	e.Uint32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

// String encodes a length-prefixed string.
func (e *Encoder) String(v string) {
	if !e.checkSize(len(v)) {
		return
	}
	e.Uint32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

// Decoder decodes little-endian token payloads from a reader.
//
// If there is an error reading any input, all further reads return the zero
// value of the type read, and Error returns the error that stopped reading.
type Decoder struct {
	r   io.Reader
	err error
	tmp [8]byte
}

// NewDecoder returns a Decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

// Reset points the decoder at r and clears its error.
func (d *Decoder) Reset(r io.Reader) {
	d.r = r
	d.err = nil
}

// Error returns the error that stopped decoding, or nil.
func (d *Decoder) Error() error { return d.err }

// SetError sets the error state and stops decoding. It does not replace an
// existing error.
func (d *Decoder) SetError(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) read(n int) []byte {
	b := d.tmp[:n]
	if d.err != nil {
		for i := range b {
			b[i] = 0
		}
		return b
	}
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.fail(err)
		for i := range b {
			b[i] = 0
		}
	}
	return b
}

func (d *Decoder) fail(err error) {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	d.SetError(err)
}

// Bool decodes a boolean.
func (d *Decoder) Bool() bool { return d.Uint8() != 0 }

// Uint8 decodes an unsigned 8-bit integer.
func (d *Decoder) Uint8() uint8 { return d.read(1)[0] }

// Uint16 decodes an unsigned 16-bit integer.
func (d *Decoder) Uint16() uint16 { return binary.LittleEndian.Uint16(d.read(2)) }

// Uint32 decodes an unsigned 32-bit integer.
func (d *Decoder) Uint32() uint32 { return binary.LittleEndian.Uint32(d.read(4)) }

// Uint64 decodes an unsigned 64-bit integer.
func (d *Decoder) Uint64() uint64 { return binary.LittleEndian.Uint64(d.read(8)) }

// Int32 decodes a signed 32-bit integer.
func (d *Decoder) Int32() int32 { return int32(d.Uint32()) }

// Int64 decodes a signed 64-bit integer.
func (d *Decoder) Int64() int64 { return int64(d.Uint64()) }

// Float32 decodes a 32-bit floating-point value.
func (d *Decoder) Float32() float32 { return math.Float32frombits(d.Uint32()) }

// Float64 decodes a 64-bit floating-point value.
func (d *Decoder) Float64() float64 { return math.Float64frombits(d.Uint64()) }

// Data decodes a length-prefixed byte slice.
func (d *Decoder) Data() []byte {
	size := d.Uint32()
	if d.err != nil {
		return nil
	}
	if size > MaxDataSize {
		d.SetError(errors.Errorf("data size %d exceeds limit %d", size, MaxDataSize))
		return nil
	}

	v := make([]byte, size)
	if _, err := io.ReadFull(d.r, v); err != nil {
		d.fail(err)
		return nil
	}
	return v
}

// String decodes a length-prefixed string.
func (d *Decoder) String() string { return string(d.Data()) }
