// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package session

import (
	"context"
	"os"

	"github.com/danjacques/gocapture/mapping"
	"github.com/danjacques/gocapture/resource"
	"github.com/danjacques/gocapture/scheduler"
	"github.com/danjacques/gocapture/support/logging"
	"github.com/danjacques/gocapture/token"
	"github.com/danjacques/gocapture/tokenstream"

	"github.com/pkg/errors"
)

// Replay is a replay session. It loads tokens from a stream file in the
// order they were captured.
//
// Replay's methods must be called from a single goroutine.
type Replay struct {
	path   string
	logger logging.L

	in     *tokenstream.InputStream
	res    *resource.Store
	sched  *scheduler.Replay
	meta   *tokenstream.Metadata
	tables *Tables

	closed bool
}

// NewReplay opens the stream at path and starts loading tokens from it.
//
// The stream's own header determines its compression and mapping layout.
// The resource store and metadata file are used if present.
func NewReplay(ctx context.Context, path string, cfg Config, opts Options) (*Replay, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	scfg, err := cfg.StreamConfig(opts.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	rp := Replay{
		path:   path,
		logger: opts.Logger,
	}

	if rp.in, err = tokenstream.Open(path, scfg); err != nil {
		return nil, errors.Wrap(err, "opening stream")
	}

	switch md, err := tokenstream.LoadMetadata(path); {
	case err == nil:
		rp.meta = md
	case os.IsNotExist(errors.Cause(err)):
		rp.logger.Debugf("Stream %q has no metadata.", path)
	default:
		rp.logger.Warnf("Ignoring unreadable metadata for %q: %s", path, err)
	}

	resPath := ResourcePath(path)
	switch ok, err := fileExists(resource.IndexPath(resPath)); {
	case err != nil:
		_ = rp.in.Close()
		return nil, errors.Wrap(err, "checking for resource store")
	case ok:
		if rp.res, err = resource.Open(resPath, scfg); err != nil {
			_ = rp.in.Close()
			return nil, errors.Wrap(err, "opening resource store")
		}
	}

	h := rp.in.Header()
	rp.tables = newTables(opts.Registry, mapping.Strict, h.Version.DenseMapping())
	rp.sched = scheduler.NewReplay(ctx, rp.in, opts.Registry, cfg.SchedulerConfig(opts.Logger, opts.OnFatal))

	rp.logger.Infof("Replaying %q (version %s, compression %s).", path, h.Version, h.Compression)
	return &rp, nil
}

// Path returns the path of the stream being replayed.
func (rp *Replay) Path() string { return rp.path }

// Header returns the header of the stream being replayed.
func (rp *Replay) Header() tokenstream.Header { return rp.in.Header() }

// Metadata returns the stream's metadata, or nil if it has none.
func (rp *Replay) Metadata() *tokenstream.Metadata { return rp.meta }

// Tables returns the session's handle mapping tables. Replay tables are
// strict.
func (rp *Replay) Tables() *Tables { return rp.tables }

// Resource returns the content of the resource with hash h.
func (rp *Replay) Resource(h uint64) ([]byte, error) {
	if rp.res == nil {
		return nil, ErrNoResources
	}
	return rp.res.Get(h)
}

// Token returns the next token in the stream. See scheduler.Replay.Token.
func (rp *Replay) Token() (token.Token, error) { return rp.sched.Token() }

// Run runs tokens until the next yield point. See scheduler.Replay.Run.
func (rp *Replay) Run(action scheduler.Action) (scheduler.Yield, error) { return rp.sched.Run(action) }

// Close stops the replay and releases its files.
func (rp *Replay) Close() error {
	if rp.closed {
		return nil
	}
	rp.closed = true

	err := rp.sched.Close()
	if cerr := rp.in.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if rp.res != nil {
		if cerr := rp.res.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
