// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package token

import (
	"fmt"

	"github.com/pkg/errors"
)

// IDSize is the size, in bytes, of a serialized ID.
const IDSize = 3

var (
	// ErrUnknownToken is the cause of errors raised when a stream names a
	// token identifier that is not registered.
	ErrUnknownToken = errors.New("unknown token")

	// ErrAlreadySerialized is returned when a token that has already been
	// serialized is serialized again.
	ErrAlreadySerialized = errors.New("token already serialized")

	// ErrCorrupt is the cause of errors raised when a token's serialized form
	// is truncated or malformed.
	ErrCorrupt = errors.New("corrupt token")
)

// ID identifies a token type. It is made of an API family and an opcode within
// that family.
type ID struct {
	Family uint8
	Opcode uint16
}

func (id ID) String() string { return fmt.Sprintf("(%d,%d)", id.Family, id.Opcode) }

func (id ID) put(b []byte) {
	b[0] = id.Family
	b[1] = byte(id.Opcode)
	b[2] = byte(id.Opcode >> 8)
}

func parseID(b []byte) ID {
	return ID{
		Family: b[0],
		Opcode: uint16(b[1]) | uint16(b[2])<<8,
	}
}

// Token is a single captured API call or control event.
//
// Implementations must embed Base.
type Token interface {
	// ID returns the token's identifier.
	ID() ID

	// Encode writes the token's payload.
	Encode(e *Encoder)
	// Decode reads the token's payload, which was written by Encode.
	Decode(d *Decoder)

	// Size returns an estimate of the token's in-memory cost, used to bound
	// the amount of buffered data.
	Size() int

	base() *Base
}

// Base provides state common to all tokens. It must be embedded in every Token
// implementation.
type Base struct {
	serialized bool
}

func (b *Base) base() *Base { return b }

// Serialized returns true if the token has been serialized.
func (b *Base) Serialized() bool { return b.serialized }

// IsSerialized returns true if tok has been serialized.
func IsSerialized(tok Token) bool { return tok.base().serialized }

// Releaser is implemented by tokens that hold resources that must be released
// when the token is purged.
type Releaser interface {
	Release()
}
