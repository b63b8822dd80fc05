// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package replay

import (
	"context"
	"sync"
	"time"

	"github.com/danjacques/gocapture/scheduler"
	"github.com/danjacques/gocapture/session"
	"github.com/danjacques/gocapture/support/logging"
	"github.com/danjacques/gocapture/token"

	"github.com/pkg/errors"
)

// Player plays a replay session, running each of its tokens.
//
// A Player is not safe for concurrent use. Its exported fields must not be
// changed after playback has begun.
type Player struct {
	// RunToken runs each replayed token. It must not be nil.
	//
	// RunToken calls will be made synchronously, in stream order.
	RunToken func(tok token.Token) error

	// OnYield, if not nil, is called after each frame or state restore
	// boundary. Returning an error stops playback.
	OnYield func(y scheduler.Yield) error

	// Logger is the logger instance to use. If nil, no logging will be
	// performed.
	Logger logging.L

	cancelFunc context.CancelFunc

	playback *playerPlayback
}

// Play clears any current playback and begins playback of rp.
//
// Play takes ownership of rp, and will close it when playback finishes.
func (p *Player) Play(c context.Context, rp *session.Replay) {
	// Stop any current playback.
	_ = p.Stop()

	// We will cancel the Context ourselves on Stop.
	c, p.cancelFunc = context.WithCancel(c)

	p.playback = &playerPlayback{
		player:    p,
		rp:        rp,
		logger:    logging.Must(p.Logger),
		commandC:  make(chan *playerCommand, 1),
		finishedC: make(chan struct{}),
	}
	go p.playback.playUntilFinished(c)
}

// Status returns the current player status.
//
// If the player is not playing, Status will return nil.
func (p *Player) Status() *PlayerStatus {
	if p.playback == nil {
		return nil
	}
	return p.playback.getStatus()
}

// Pause pauses playback. It takes effect at the next yield point. If nothing
// is playing, or if playback is already paused, Pause will do nothing.
func (p *Player) Pause() {
	p.playback.sendCommand(&playerCommand{pause: true})
}

// Resume resumes paused playback. If nothing is playing, or if playback is
// not paused, Resume will do nothing.
func (p *Player) Resume() {
	p.playback.sendCommand(&playerCommand{resume: true})
}

// Wait blocks until playback finishes, and returns its error.
func (p *Player) Wait() error {
	if p.playback == nil {
		return nil
	}
	<-p.playback.finishedC
	return p.playback.err
}

// Stop stops playback and clears player resources. It returns the playback
// error, if any. Stopping playback is not an error.
func (p *Player) Stop() error {
	if p.playback == nil {
		return nil
	}

	p.cancelFunc()
	<-p.playback.finishedC
	err := p.playback.err

	// Clean up any remaining resources.
	close(p.playback.commandC)
	p.playback = nil
	return err
}

// PlayerStatus describes the player's current status.
type PlayerStatus struct {
	Path          string
	Tokens        int64
	Frames        int64
	Yields        int64
	TotalPlaytime time.Duration
	Paused        bool
	Finished      bool
	Error         error
}

// playerCommand is a command sent to the player's goroutine.
type playerCommand struct {
	pause  bool
	resume bool
}

type playerPlayback struct {
	player *Player

	rp     *session.Replay
	logger logging.L

	commandC  chan *playerCommand
	finishedC chan struct{}

	// err is the playback error. It is written before finishedC is closed.
	err error

	// mu protects the status fields below.
	mu sync.Mutex
	// startTime is the time when playback started.
	startTime time.Time
	// pausedTime is the total amount of time spent paused, excluding the
	// current pause.
	pausedTime time.Duration
	// pausedStart, if not zero, is when the current pause began.
	pausedStart time.Time
	// endTime, if not zero, is when playback finished.
	endTime time.Time

	tokens int64
	frames int64
	yields int64
}

// sendCommand issues a command to the playerPlayback.
//
// For convenience, if pp is nil, the command will be dropped. This helps avoid
// the need to check for nil for every command issuance point.
func (pp *playerPlayback) sendCommand(cmd *playerCommand) {
	if pp == nil {
		return
	}

	select {
	case pp.commandC <- cmd:
	case <-pp.finishedC:
	}
}

// playUntilFinished is run in its own goroutine. It plays the replay session
// until it is exhausted or its Context is cancelled.
func (pp *playerPlayback) playUntilFinished(c context.Context) {
	defer func() {
		if err := pp.rp.Close(); err != nil {
			pp.logger.Warnf("Failed to close replay of %q: %s", pp.rp.Path(), err)
			if pp.err == nil {
				pp.err = err
			}
		}

		pp.mu.Lock()
		pp.endTime = time.Now()
		pp.mu.Unlock()

		// Signal that we've finished.
		close(pp.finishedC)

		// Consume any superfluous commands.
		//
		// Since finishedC is closed, no new commands will be sent.
		for range pp.commandC {
		}
	}()

	playerPlayingGauge.Set(1)
	playerPausedGauge.Set(0)
	defer func() {
		playerPlayingGauge.Set(0)
		playerPausedGauge.Set(0)
	}()

	pp.mu.Lock()
	pp.startTime = time.Now()
	pp.mu.Unlock()

	pp.logger.Infof("Starting playback of %q...", pp.rp.Path())
	err := pp.play(c)
	switch errors.Cause(err) {
	case nil:
		pp.logger.Infof("Finished playback of %q.", pp.rp.Path())
	case context.Canceled:
		pp.logger.Infof("Playback of %q was stopped.", pp.rp.Path())
	default:
		pp.logger.Warnf("Error during playback: %s", err)
		playerErrors.Inc()
		pp.err = err
	}
}

func (pp *playerPlayback) play(c context.Context) error {
	runToken := func(tok token.Token) error {
		if err := c.Err(); err != nil {
			return err
		}
		if err := pp.player.RunToken(tok); err != nil {
			return err
		}
		playerTokens.Inc()

		pp.mu.Lock()
		pp.tokens++
		if tok.ID() == token.FrameEndID {
			pp.frames++
		}
		pp.mu.Unlock()
		return nil
	}

	for {
		if err := pp.waitForCommands(c); err != nil {
			return err
		}

		y, err := pp.rp.Run(runToken)
		if err != nil {
			return err
		}
		playerYields.WithLabelValues(y.String()).Inc()
		if y == scheduler.Finished {
			return nil
		}

		pp.mu.Lock()
		pp.yields++
		pp.mu.Unlock()

		if pp.player.OnYield != nil {
			if err := pp.player.OnYield(y); err != nil {
				return errors.Wrapf(err, "yield after %s", y)
			}
		}
	}
}

// waitForCommands processes pending commands. While playback is paused, it
// blocks until it is resumed or c is cancelled.
func (pp *playerPlayback) waitForCommands(c context.Context) error {
	for {
		paused := pp.isPaused()

		if !paused {
			// Quick pass to see if there's a command ready.
			select {
			case cmd := <-pp.commandC:
				pp.processCommand(cmd)
				continue
			case <-c.Done():
				return c.Err()
			default:
				return nil
			}
		}

		select {
		case cmd := <-pp.commandC:
			pp.processCommand(cmd)
		case <-c.Done():
			return c.Err()
		}
	}
}

func (pp *playerPlayback) processCommand(cmd *playerCommand) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	switch {
	case cmd.pause:
		if pp.pausedStart.IsZero() {
			pp.logger.Info("Player is paused.")
			pp.pausedStart = time.Now()
			playerPausedGauge.Set(1)
		}

	case cmd.resume:
		if !pp.pausedStart.IsZero() {
			pp.logger.Info("Player is resuming.")
			pp.pausedTime += time.Since(pp.pausedStart)
			pp.pausedStart = time.Time{}
			playerPausedGauge.Set(0)
		}
	}
}

func (pp *playerPlayback) isPaused() bool {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return !pp.pausedStart.IsZero()
}

func (pp *playerPlayback) getStatus() *PlayerStatus {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	ps := PlayerStatus{
		Path:   pp.rp.Path(),
		Tokens: pp.tokens,
		Frames: pp.frames,
		Yields: pp.yields,
		Paused: !pp.pausedStart.IsZero(),
	}

	// Don't count time spent paused.
	now := pp.endTime
	if now.IsZero() {
		now = time.Now()
	} else {
		ps.Finished = true
	}
	if !pp.startTime.IsZero() {
		ps.TotalPlaytime = now.Sub(pp.startTime) - pp.pausedTime
		if !pp.pausedStart.IsZero() {
			ps.TotalPlaytime -= now.Sub(pp.pausedStart)
		}
	}

	select {
	case <-pp.finishedC:
		ps.Error = pp.err
	default:
	}
	return &ps
}
