// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package session

import (
	"context"

	"github.com/danjacques/gocapture/mapping"
	"github.com/danjacques/gocapture/resource"
	"github.com/danjacques/gocapture/scheduler"
	"github.com/danjacques/gocapture/support/logging"
	"github.com/danjacques/gocapture/token"
	"github.com/danjacques/gocapture/tokenstream"

	"github.com/pkg/errors"
)

// Capture is a capture session. It writes registered tokens to a stream
// file, and records metadata about them.
type Capture struct {
	path   string
	reg    *token.Registry
	logger logging.L

	out    *tokenstream.OutputStream
	res    *resource.Store
	sched  *scheduler.Capture
	meta   *tokenstream.MetadataBuilder
	tables *Tables

	closed bool
}

// NewCapture creates a stream at path and starts capturing to it.
func NewCapture(ctx context.Context, path string, cfg Config, opts Options) (*Capture, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	scfg, err := cfg.StreamConfig(opts.Logger)
	if err != nil {
		return nil, err
	}

	c := Capture{
		path:   path,
		reg:    opts.Registry,
		logger: opts.Logger,
	}

	if c.out, err = tokenstream.Create(path, scfg); err != nil {
		return nil, errors.Wrap(err, "creating stream")
	}
	if cfg.Resources {
		if c.res, err = resource.Create(ResourcePath(path), scfg); err != nil {
			_ = c.out.Close()
			return nil, errors.Wrap(err, "creating resource store")
		}
	}

	h := c.out.Header()
	name := opts.Name
	if name == "" {
		name = path
	}
	c.meta = tokenstream.NewMetadataBuilder(name, h, opts.Now)
	c.tables = newTables(c.reg, mapping.Passthrough, h.Version.DenseMapping())
	c.sched = scheduler.NewCapture(ctx, c.out, cfg.SchedulerConfig(opts.Logger, opts.OnFatal))

	c.logger.Infof("Capturing to %q (version %s, compression %s).", path, h.Version, h.Compression)
	return &c, nil
}

// Path returns the path of the stream being captured.
func (c *Capture) Path() string { return c.path }

// Header returns the header of the stream being captured.
func (c *Capture) Header() tokenstream.Header { return c.out.Header() }

// Tables returns the session's handle mapping tables. Capture tables pass
// unmapped handles through.
func (c *Capture) Tables() *Tables { return c.tables }

// Register adds tok to the capture. The session owns tok from this point on.
func (c *Capture) Register(tok token.Token) error {
	id := tok.ID()
	if c.reg.Name(id) == "" {
		return errors.Wrapf(token.ErrUnknownToken, "registering %s", id)
	}

	if err := c.sched.Register(tok); err != nil {
		return err
	}
	c.meta.RecordToken(c.reg.FamilyName(id.Family))
	if id == token.FrameEndID {
		c.meta.RecordFrame()
	}
	return nil
}

// PutResource adds data to the session's resource store, returning its hash.
func (c *Capture) PutResource(data []byte) (uint64, error) {
	if c.res == nil {
		return 0, ErrNoResources
	}
	return c.res.Put(data)
}

// Metadata returns a snapshot of the capture's metadata.
func (c *Capture) Metadata() *tokenstream.Metadata {
	c.meta.SetBytes(c.out.RawBytes())
	return c.meta.Metadata()
}

// Flush blocks until every registered token has been written.
func (c *Capture) Flush() error { return c.sched.Flush() }

// Err returns the error that stopped the capture, if any.
func (c *Capture) Err() error { return c.sched.Err() }

// Close writes every registered token, closes the stream and resource store,
// and writes the metadata file.
func (c *Capture) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	err := errors.Wrap(c.sched.Close(), "closing scheduler")
	if cerr := c.out.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "closing stream")
	}
	if c.res != nil {
		if cerr := c.res.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing resource store")
		}
	}
	if err != nil {
		return err
	}

	c.meta.SetBytes(c.out.RawBytes())
	if err := c.meta.Write(c.path); err != nil {
		return err
	}
	c.logger.Infof("Captured %d token(s) to %q.", c.meta.NumTokens(), c.path)
	return nil
}

// Abort stops the capture, discarding unwritten tokens. The partial stream is
// closed, and no metadata is written.
func (c *Capture) Abort() {
	if c.closed {
		return
	}
	c.closed = true

	c.sched.Abort()
	if err := c.out.Close(); err != nil {
		c.logger.Warnf("Failed to close aborted stream %q: %s", c.path, err)
	}
	if c.res != nil {
		if err := c.res.Close(); err != nil {
			c.logger.Warnf("Failed to close aborted resource store: %s", err)
		}
	}
}
