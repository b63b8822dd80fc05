// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package session binds a stream file, a resource store, handle mapping
// tables, and a scheduler into a single capture or replay context.
//
// Each session owns its state explicitly. Any number of sessions may exist in
// one process.
package session

import (
	"os"
	"time"

	"github.com/danjacques/gocapture/mapping"
	"github.com/danjacques/gocapture/support/logging"
	"github.com/danjacques/gocapture/token"

	"github.com/pkg/errors"
)

// ResourceExt is appended to a stream path to name its resource store.
const ResourceExt = ".res"

// ResourcePath returns the path of the resource store for the stream at
// streamPath.
func ResourcePath(streamPath string) string { return streamPath + ResourceExt }

// ErrNoResources is returned when a session has no resource store.
var ErrNoResources = errors.New("session has no resource store")

// Options are the runtime parameters of a session that are not part of its
// Config.
type Options struct {
	// Registry constructs tokens by identifier. It is required.
	Registry *token.Registry

	// Logger, if not nil, is the logger to use.
	Logger logging.L

	// OnFatal, if not nil, is called when a background goroutine fails. See
	// scheduler.Config.
	OnFatal func(error)

	// Name is recorded in capture metadata. If empty, the stream path is
	// used.
	Name string

	// Now, if not nil, is used instead of time.Now.
	Now func() time.Time
}

func (o *Options) validate() error {
	if o.Registry == nil {
		return errors.New("a token registry is required")
	}
	o.Logger = logging.Must(o.Logger)
	return nil
}

// Tables holds one handle mapping table per token family.
type Tables struct {
	tables map[uint8]*mapping.Table[uint64]
}

func newTables(reg *token.Registry, mode mapping.Mode, dense bool) *Tables {
	t := Tables{
		tables: make(map[uint8]*mapping.Table[uint64]),
	}
	for _, f := range reg.Families() {
		if f == token.ControlFamily {
			continue
		}
		t.tables[f] = mapping.New[uint64](mapping.Options{
			Name:  reg.FamilyName(f),
			Mode:  mode,
			Dense: dense,
		})
	}
	return &t
}

// Family returns the table for family, or nil if family has no table.
func (t *Tables) Family(family uint8) *mapping.Table[uint64] { return t.tables[family] }

func fileExists(path string) (bool, error) {
	switch _, err := os.Stat(path); {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}
