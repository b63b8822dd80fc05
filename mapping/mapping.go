// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package mapping translates object handles recorded during capture into the
// handles created during replay.
//
// Tables are owned by a single goroutine, and are not safe for concurrent
// use.
package mapping

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotMapped is the cause of errors returned by strict lookups of handles
// that have no mapping.
var ErrNotMapped = errors.New("couldn't map")

// DefaultCapacity is the initial capacity of dense tables.
const DefaultCapacity = 100000

// Handle is an object handle type.
type Handle interface {
	~uint32 | ~uint64
}

// Mode controls how a table responds to lookups of unmapped handles.
type Mode int

const (
	// Strict lookups of unmapped handles fail with ErrNotMapped.
	Strict Mode = iota
	// Passthrough lookups of unmapped handles return the handle itself.
	Passthrough
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Passthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Options configures a new Table.
type Options struct {
	// Name is a human-readable name for the table, used in errors.
	Name string
	// Mode is the table's miss behavior.
	Mode Mode
	// Dense selects the vector-backed representation, indexed directly by
	// recorded handle. Otherwise, a hash map is used.
	Dense bool
	// Capacity is the initial capacity of a dense table. Zero selects
	// DefaultCapacity.
	Capacity int
}

// store is a handle map representation.
type store[H Handle] interface {
	add(k, v H)
	remove(k H)
	lookup(k H) (H, bool)
	len() int
}

// Table maps recorded handles to replay handles.
type Table[H Handle] struct {
	name  string
	mode  Mode
	dense bool
	store store[H]
}

// New creates a new Table.
func New[H Handle](opts Options) *Table[H] {
	t := Table[H]{
		name:  opts.Name,
		mode:  opts.Mode,
		dense: opts.Dense,
	}
	if opts.Dense {
		capacity := opts.Capacity
		if capacity <= 0 {
			capacity = DefaultCapacity
		}
		t.store = newDense[H](capacity)
	} else {
		t.store = newSparse[H]()
	}
	return &t
}

// Sentinel is the reserved handle value that marks an unmapped entry. Mapping
// a handle to Sentinel removes its mapping.
func Sentinel[H Handle]() H { return ^H(0) }

// Name returns the table's name.
func (t *Table[H]) Name() string { return t.name }

// Mode returns the table's miss behavior.
func (t *Table[H]) Mode() Mode { return t.mode }

// Dense returns true if the table is vector-backed.
func (t *Table[H]) Dense() bool { return t.dense }

// Add maps k to v, replacing any existing mapping. Mapping k to Sentinel
// removes its mapping.
func (t *Table[H]) Add(k, v H) {
	if v == Sentinel[H]() {
		t.store.remove(k)
		return
	}
	t.store.add(k, v)
}

// Remove deletes the mapping for k, if one exists.
func (t *Table[H]) Remove(k H) { t.store.remove(k) }

// Lookup returns the mapping for k, and true if one exists. It never fails,
// regardless of the table's mode.
func (t *Table[H]) Lookup(k H) (H, bool) { return t.store.lookup(k) }

// Check returns true if k has a mapping.
func (t *Table[H]) Check(k H) bool {
	_, ok := t.store.lookup(k)
	return ok
}

// Get returns the mapping for k.
//
// If k is not mapped, a Strict table returns an error whose cause is
// ErrNotMapped, and a Passthrough table returns k.
func (t *Table[H]) Get(k H) (H, error) {
	if v, ok := t.store.lookup(k); ok {
		return v, nil
	}
	if t.mode == Passthrough {
		return k, nil
	}
	return 0, errors.Wrapf(ErrNotMapped, "%s handle 0x%x", t.name, uint64(k))
}

// Len returns the number of mapped handles.
func (t *Table[H]) Len() int { return t.store.len() }
