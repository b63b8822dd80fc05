// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package token defines captured API tokens and their wire framing.
//
// A serialized token is its three-byte identifier (family, then opcode
// little-endian) followed immediately by its payload. There is no length
// prefix: a token's Decode method must consume exactly the bytes its Encode
// method produced.
//
// Tokens are constructed during replay by a Registry, which maps identifiers
// to constructors. A Registry is built once, before any capture or replay
// goroutine starts, and is read-only afterwards.
package token
