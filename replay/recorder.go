// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package replay

import (
	"sync"
	"time"

	"github.com/danjacques/gocapture/session"
	"github.com/danjacques/gocapture/token"

	"github.com/pkg/errors"
)

// RecorderStatus is a snapshot of the current recorder status.
type RecorderStatus struct {
	Path     string
	Error    error
	Tokens   int64
	Bytes    int64
	Frames   int64
	Duration time.Duration
}

// A Recorder records tokens into a capture session.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex
	// cs is the currently-active capture session.
	cs *session.Capture
	// recErr is an error that occurred while recording a token.
	recErr error
}

// Start starts recording into cs.
//
// The recording will continue until the Stop method is called.
//
// Start will take ownership of cs and close it on completion (Stop).
func (r *Recorder) Start(cs *session.Capture) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cs != nil {
		panic("already started")
	}

	r.cs = cs
	recorderRecordingGauge.Inc()
}

// Stop stops the Recorder, finalizing its session and releasing its
// resources.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cs == nil {
		return nil
	}

	// After a recording error, the partial stream is kept without metadata.
	var err error
	if r.recErr != nil {
		r.cs.Abort()
		err = r.recErr
	} else {
		err = r.cs.Close()
	}
	r.cs = nil
	r.recErr = nil

	recorderRecordingGauge.Dec()
	return err
}

// Status returns a snapshot of the current Recorder status.
//
// If the Recorder is not currently recording, Status will return nil.
func (r *Recorder) Status() *RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cs == nil {
		return nil
	}

	md := r.cs.Metadata()
	return &RecorderStatus{
		Path:     r.cs.Path(),
		Error:    r.recErr,
		Tokens:   md.NumTokens,
		Bytes:    md.NumBytes,
		Frames:   md.NumFrames,
		Duration: md.Duration,
	}
}

// Record adds tok to the recording.
//
// Once recording fails, the Recorder stops accepting tokens and Record
// returns the original error.
func (r *Recorder) Record(tok token.Token) error {
	recorderTokens.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	// If we've been stopped, do nothing.
	if r.cs == nil {
		return nil
	}
	if r.recErr != nil {
		return r.recErr
	}

	switch err := r.cs.Register(tok); errors.Cause(err) {
	case nil:
		return nil

	case token.ErrUnknownToken:
		// The token can't be replayed; drop it, but keep recording.
		recorderErrors.WithLabelValues("unknown_token").Inc()
		return err

	default:
		recorderErrors.WithLabelValues("unknown").Inc()
		r.recErr = err
		return err
	}
}
