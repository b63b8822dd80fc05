// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"github.com/pkg/errors"
)

var (
	// ErrCorrupt is the cause of errors raised when stream data is
	// inconsistent with its framing.
	ErrCorrupt = errors.New("corrupt stream")

	// ErrLowDiskSpace is the cause of errors raised when the destination
	// volume does not have enough free space to hold more stream data.
	ErrLowDiskSpace = errors.New("insufficient free disk space")

	// ErrNotFramed is returned by operations that require a chunk-framed
	// stream when the stream is raw.
	ErrNotFramed = errors.New("stream is not chunk framed")
)

// IsCorrupt returns true if err was caused by stream corruption.
func IsCorrupt(err error) bool { return errors.Cause(err) == ErrCorrupt }
