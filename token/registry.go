// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package token

import (
	"sort"

	"github.com/pkg/errors"
)

// Constructor returns a new, empty token of a registered type.
type Constructor func() Token

type registryEntry struct {
	ctor Constructor
	name string
}

// Registry maps token identifiers to constructors.
//
// A Registry must be fully populated before it is shared between goroutines.
// After that, it is read-only, and safe for concurrent use.
type Registry struct {
	families map[uint8]string
	entries  map[ID]*registryEntry
}

// NewRegistry returns a Registry with the control family registered.
func NewRegistry() *Registry {
	r := Registry{
		families: make(map[uint8]string),
		entries:  make(map[ID]*registryEntry),
	}
	registerControl(&r)
	return &r
}

// RegisterFamily registers an API family.
func (r *Registry) RegisterFamily(family uint8, name string) error {
	if existing, ok := r.families[family]; ok {
		return errors.Errorf("family %d is already registered as %q", family, existing)
	}
	for f, n := range r.families {
		if n == name {
			return errors.Errorf("family name %q is already used by family %d", name, f)
		}
	}
	r.families[family] = name
	return nil
}

// Register registers the constructor for tokens with the specified ID. The
// token's family must already be registered.
func (r *Registry) Register(id ID, name string, ctor Constructor) error {
	if _, ok := r.families[id.Family]; !ok {
		return errors.Errorf("token %s (%s): family %d is not registered", id, name, id.Family)
	}
	if existing, ok := r.entries[id]; ok {
		return errors.Errorf("token %s is already registered as %q", id, existing.name)
	}
	if ctor == nil {
		return errors.Errorf("token %s (%s) has no constructor", id, name)
	}
	r.entries[id] = &registryEntry{ctor: ctor, name: name}
	return nil
}

// MustRegister is Register, but panics on error.
func (r *Registry) MustRegister(id ID, name string, ctor Constructor) {
	if err := r.Register(id, name, ctor); err != nil {
		panic(err)
	}
}

// Create constructs an empty token with the specified ID.
//
// If no token is registered for id, Create returns an error whose cause is
// ErrUnknownToken.
func (r *Registry) Create(id ID) (Token, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownToken, "no token registered for %s", id)
	}

	tok := e.ctor()
	if tok.ID() != id {
		return nil, errors.Errorf("constructor for %s (%s) returned token %s", id, e.name, tok.ID())
	}
	return tok, nil
}

// Name returns the registered name of the token with the specified ID, or an
// empty string if it is not registered.
func (r *Registry) Name(id ID) string {
	if e, ok := r.entries[id]; ok {
		return e.name
	}
	return ""
}

// FamilyName returns the registered name of family, or an empty string if it
// is not registered.
func (r *Registry) FamilyName(family uint8) string { return r.families[family] }

// Families returns the registered families, in ascending order.
func (r *Registry) Families() []uint8 {
	families := make([]uint8, 0, len(r.families))
	for f := range r.families {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}
