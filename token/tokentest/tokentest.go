// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package tokentest provides simple token types for tests.
package tokentest

import (
	"github.com/danjacques/gocapture/token"
)

// Family is the family used by this package's tokens.
const Family uint8 = 1

var (
	// IntID identifies Int tokens.
	IntID = token.ID{Family: Family, Opcode: 5}
	// StringID identifies String tokens.
	StringID = token.ID{Family: Family, Opcode: 6}
	// HandleID identifies Handle tokens.
	HandleID = token.ID{Family: Family, Opcode: 7}
	// BlobID identifies Blob tokens.
	BlobID = token.ID{Family: Family, Opcode: 8}
)

// Register registers this package's family and tokens with r.
func Register(r *token.Registry) error {
	if err := r.RegisterFamily(Family, "test"); err != nil {
		return err
	}
	for _, e := range []struct {
		id   token.ID
		name string
		ctor token.Constructor
	}{
		{IntID, "Int", func() token.Token { return &Int{} }},
		{StringID, "String", func() token.Token { return &String{} }},
		{HandleID, "Handle", func() token.Token { return &Handle{} }},
		{BlobID, "Blob", func() token.Token { return &Blob{} }},
	} {
		if err := r.Register(e.id, e.name, e.ctor); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns a new Registry with this package's tokens registered.
func Registry() *token.Registry {
	r := token.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}

// Int carries a single integer.
type Int struct {
	token.Base
	V uint32
}

// ID implements token.Token.
func (*Int) ID() token.ID { return IntID }

// Encode implements token.Token.
func (t *Int) Encode(e *token.Encoder) { e.Uint32(t.V) }

// Decode implements token.Token.
func (t *Int) Decode(d *token.Decoder) { t.V = d.Uint32() }

// Size implements token.Token.
func (*Int) Size() int { return 4 }

// String carries a string.
type String struct {
	token.Base
	S string
}

// ID implements token.Token.
func (*String) ID() token.ID { return StringID }

// Encode implements token.Token.
func (t *String) Encode(e *token.Encoder) { e.String(t.S) }

// Decode implements token.Token.
func (t *String) Decode(d *token.Decoder) { t.S = d.String() }

// Size implements token.Token.
func (t *String) Size() int { return 4 + len(t.S) }

// Handle records the creation of an object handle.
type Handle struct {
	token.Base
	Handle uint64
}

// ID implements token.Token.
func (*Handle) ID() token.ID { return HandleID }

// Encode implements token.Token.
func (t *Handle) Encode(e *token.Encoder) { e.Uint64(t.Handle) }

// Decode implements token.Token.
func (t *Handle) Decode(d *token.Decoder) { t.Handle = d.Uint64() }

// Size implements token.Token.
func (*Handle) Size() int { return 8 }

// Blob carries a byte payload and records its release.
type Blob struct {
	token.Base
	Data     []byte
	Released bool
}

// ID implements token.Token.
func (*Blob) ID() token.ID { return BlobID }

// Encode implements token.Token.
func (t *Blob) Encode(e *token.Encoder) { e.Data(t.Data) }

// Decode implements token.Token.
func (t *Blob) Decode(d *token.Decoder) { t.Data = d.Data() }

// Size implements token.Token.
func (t *Blob) Size() int { return 4 + len(t.Data) }

// Release implements token.Releaser.
func (t *Blob) Release() {
	t.Data = nil
	t.Released = true
}
