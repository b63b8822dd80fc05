// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package token

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

var encoderPool = sync.Pool{
	New: func() interface{} { return &Encoder{buf: make([]byte, 0, 256)} },
}

// Serialize writes tok's identifier and payload to w in a single Write call,
// and marks tok as serialized. It returns the number of bytes written.
//
// Serializing a token twice returns ErrAlreadySerialized.
func Serialize(w io.Writer, tok Token) (int, error) {
	b := tok.base()
	if b.serialized {
		return 0, errors.Wrapf(ErrAlreadySerialized, "token %s", tok.ID())
	}

	e := encoderPool.Get().(*Encoder)
	defer encoderPool.Put(e)

	e.Reset()
	e.buf = append(e.buf, 0, 0, 0)
	tok.ID().put(e.buf)
	tok.Encode(e)
	if err := e.Error(); err != nil {
		return 0, errors.Wrapf(err, "encoding token %s", tok.ID())
	}

	n, err := w.Write(e.buf)
	if err != nil {
		return n, errors.Wrapf(err, "writing token %s", tok.ID())
	}
	b.serialized = true
	return n, nil
}

// Deserialize reads a single token from r, constructing it with reg.
//
// If r ends cleanly before the token's identifier, Deserialize returns
// (nil, io.EOF). A token that is only partially present is an error whose
// cause is ErrCorrupt.
func Deserialize(r io.Reader, reg *Registry) (Token, error) {
	var idBuf [IDSize]byte
	switch _, err := io.ReadFull(r, idBuf[:]); err {
	case nil:
	case io.EOF:
		return nil, io.EOF
	case io.ErrUnexpectedEOF:
		return nil, errors.Wrap(ErrCorrupt, "truncated token identifier")
	default:
		return nil, errors.Wrap(err, "reading token identifier")
	}

	id := parseID(idBuf[:])
	tok, err := reg.Create(id)
	if err != nil {
		return nil, err
	}

	d := Decoder{r: r}
	tok.Decode(&d)
	if err := d.Error(); err != nil {
		if errors.Cause(err) == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ErrCorrupt, "truncated payload for token %s (%s)", id, reg.Name(id))
		}
		return nil, errors.Wrapf(err, "decoding token %s (%s)", id, reg.Name(id))
	}
	return tok, nil
}
