// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package mapping

type sparse[H Handle] struct {
	m map[H]H
}

func newSparse[H Handle]() *sparse[H] { return &sparse[H]{m: make(map[H]H)} }

func (s *sparse[H]) add(k, v H) { s.m[k] = v }

func (s *sparse[H]) remove(k H) { delete(s.m, k) }

func (s *sparse[H]) lookup(k H) (H, bool) {
	v, ok := s.m[k]
	return v, ok
}

func (s *sparse[H]) len() int { return len(s.m) }
