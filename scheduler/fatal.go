// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package scheduler

import (
	"sync"

	"github.com/pkg/errors"
)

// errLatch records the first error raised by a scheduler.
type errLatch struct {
	mu  sync.Mutex
	err error
}

// set records err if no error has been recorded yet. It returns true if err
// was recorded.
func (l *errLatch) set(err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return false
	}
	l.err = err
	return true
}

func (l *errLatch) get() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// goBackground runs fn in a new goroutine. If fn panics, the panic is
// recovered and passed to onPanic as an error. done is closed when the
// goroutine exits.
func goBackground(name string, done chan<- struct{}, onPanic func(error), fn func()) {
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				onPanic(errors.Errorf("panic in %s: %v", name, r))
			}
		}()
		fn()
	}()
}
