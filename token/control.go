// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package token

import (
	"time"
)

// ControlFamily is the family of tokens generated by the capture engine
// itself, rather than by an intercepted API.
const ControlFamily uint8 = 0

var (
	// FrameEndID marks the end of a frame.
	FrameEndID = ID{ControlFamily, 1}
	// StateRestoreEndID marks the end of the initial state restore sequence.
	StateRestoreEndID = ID{ControlFamily, 2}
	// ThreadSwitchID records that subsequent tokens came from another thread.
	ThreadSwitchID = ID{ControlFamily, 3}
	// MarkerID is a labelled, timestamped marker.
	MarkerID = ID{ControlFamily, 4}
)

func registerControl(r *Registry) {
	if err := r.RegisterFamily(ControlFamily, "control"); err != nil {
		panic(err)
	}
	r.MustRegister(FrameEndID, "FrameEnd", func() Token { return &FrameEnd{} })
	r.MustRegister(StateRestoreEndID, "StateRestoreEnd", func() Token { return &StateRestoreEnd{} })
	r.MustRegister(ThreadSwitchID, "ThreadSwitch", func() Token { return &ThreadSwitch{} })
	r.MustRegister(MarkerID, "Marker", func() Token { return &Marker{} })
}

// FrameEnd marks the end of a frame. Replay yields after running it.
type FrameEnd struct {
	Base

	// Frame is the zero-based index of the frame that ended.
	Frame uint64
}

// ID implements Token.
func (*FrameEnd) ID() ID { return FrameEndID }

// Encode implements Token.
func (t *FrameEnd) Encode(e *Encoder) { e.Uint64(t.Frame) }

// Decode implements Token.
func (t *FrameEnd) Decode(d *Decoder) { t.Frame = d.Uint64() }

// Size implements Token.
func (*FrameEnd) Size() int { return 8 }

// StateRestoreEnd marks the end of state restoration. Replay yields after
// running it.
type StateRestoreEnd struct {
	Base
}

// ID implements Token.
func (*StateRestoreEnd) ID() ID { return StateRestoreEndID }

// Encode implements Token.
func (*StateRestoreEnd) Encode(*Encoder) {}

// Decode implements Token.
func (*StateRestoreEnd) Decode(*Decoder) {}

// Size implements Token.
func (*StateRestoreEnd) Size() int { return 1 }

// ThreadSwitch records a change of the capturing thread.
type ThreadSwitch struct {
	Base

	ThreadID uint64
}

// ID implements Token.
func (*ThreadSwitch) ID() ID { return ThreadSwitchID }

// Encode implements Token.
func (t *ThreadSwitch) Encode(e *Encoder) { e.Uint64(t.ThreadID) }

// Decode implements Token.
func (t *ThreadSwitch) Decode(d *Decoder) { t.ThreadID = d.Uint64() }

// Size implements Token.
func (*ThreadSwitch) Size() int { return 8 }

// Marker is a labelled point in the stream, stamped with its capture time.
type Marker struct {
	Base

	Time  time.Time
	Label string
}

// ID implements Token.
func (*Marker) ID() ID { return MarkerID }

// Encode implements Token.
func (t *Marker) Encode(e *Encoder) {
	e.Int64(t.Time.UnixNano())
	e.String(t.Label)
}

// Decode implements Token.
func (t *Marker) Decode(d *Decoder) {
	t.Time = time.Unix(0, d.Int64())
	t.Label = d.String()
}

// Size implements Token.
func (t *Marker) Size() int { return 12 + len(t.Label) }
