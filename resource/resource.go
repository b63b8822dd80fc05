// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package resource implements a content-addressed store of large blobs kept
// alongside a token stream.
//
// Blobs are written to their own stream file and are identified by the
// xxhash64 of their content, so a blob that is stored more than once occupies
// space only once. The store's index is written next to the stream when the
// store is closed.
package resource

import (
	"sort"

	"github.com/danjacques/gocapture/tokenstream"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// MaxSize is the size of the largest resource a store will hold.
const MaxSize = 1 << 32

// ErrNotFound is returned by Get when no resource has the requested hash.
var ErrNotFound = errors.New("resource not found")

var (
	resourcesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_resource_stored",
		Help: "Count of distinct resources written to resource stores.",
	})

	resourcesDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gocapture_resource_deduplicated",
		Help: "Count of resource writes satisfied by an existing resource.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		resourcesStored,
		resourcesDeduplicated,
	)
}

// Hash returns the identifier of a resource containing data.
func Hash(data []byte) uint64 { return xxhash.Sum64(data) }

// Store is a resource store, opened either for writing (Create) or for
// reading (Open).
//
// Store is not safe for concurrent use.
type Store struct {
	path string
	out  *tokenstream.OutputStream
	in   *tokenstream.InputStream

	index  map[uint64]entry
	closed bool
}

// Create creates a new, empty store at path.
func Create(path string, cfg tokenstream.Config) (*Store, error) {
	out, err := tokenstream.Create(path, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating resource stream")
	}
	return &Store{
		path:  path,
		out:   out,
		index: make(map[uint64]entry),
	}, nil
}

// Open opens the store at path for reading. Its index must be present.
func Open(path string, cfg tokenstream.Config) (*Store, error) {
	idx, err := readIndex(IndexPath(path))
	if err != nil {
		return nil, errors.Wrapf(err, "loading index for %q", path)
	}

	in, err := tokenstream.Open(path, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "opening resource stream")
	}
	return &Store{
		path:  path,
		in:    in,
		index: idx,
	}, nil
}

// Path returns the path of the store's stream file.
func (s *Store) Path() string { return s.path }

// Len returns the number of distinct resources in the store.
func (s *Store) Len() int { return len(s.index) }

// Hashes returns the hashes of every resource in the store, in ascending
// order.
func (s *Store) Hashes() []uint64 {
	hashes := make([]uint64, 0, len(s.index))
	for h := range s.index {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return hashes
}

// Has returns true if the store holds a resource with hash h.
func (s *Store) Has(h uint64) bool {
	_, ok := s.index[h]
	return ok
}

// Put adds data to the store, returning its hash. If the store already holds
// identical content, nothing is written.
func (s *Store) Put(data []byte) (uint64, error) {
	if s.out == nil || s.closed {
		return 0, errors.New("store is not writable")
	}

	if int64(len(data)) > MaxSize {
		return 0, errors.Errorf("%d-byte resource exceeds limit %d", len(data), int64(MaxSize))
	}

	h := Hash(data)
	if _, ok := s.index[h]; ok {
		resourcesDeduplicated.Inc()
		return h, nil
	}

	off, err := s.out.WriteAndGetOffset(data)
	if err != nil {
		return 0, errors.Wrapf(err, "writing %d-byte resource", len(data))
	}
	s.index[h] = entry{offset: off, size: int64(len(data))}
	resourcesStored.Inc()
	return h, nil
}

// Get returns the content of the resource with hash h.
func (s *Store) Get(h uint64) ([]byte, error) {
	if s.in == nil || s.closed {
		return nil, errors.New("store is not readable")
	}

	e, ok := s.index[h]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%016x", h)
	}

	data := make([]byte, e.size)
	if err := s.in.ReadWithOffset(data, e.offset); err != nil {
		return nil, errors.Wrapf(err, "reading resource %016x", h)
	}
	if Hash(data) != h {
		return nil, errors.Wrapf(tokenstream.ErrCorrupt, "resource %016x content mismatch", h)
	}
	return data, nil
}

// Close closes the store. A writable store flushes its stream and writes its
// index.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.in != nil {
		return s.in.Close()
	}
	if err := s.out.Close(); err != nil {
		return errors.Wrap(err, "closing resource stream")
	}
	return writeIndex(IndexPath(s.path), s.index)
}
