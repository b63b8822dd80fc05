// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package mapping

// maxDenseIndex is the largest handle stored in the vector. Larger handles are
// held in an overflow map.
const maxDenseIndex = 1 << 26

// dense is indexed directly by recorded handle. Unmapped slots hold the
// sentinel.
type dense[H Handle] struct {
	v        []H
	count    int
	overflow *sparse[H]
}

func newDense[H Handle](capacity int) *dense[H] {
	if capacity > maxDenseIndex {
		capacity = maxDenseIndex
	}
	d := dense[H]{v: make([]H, capacity)}
	fillSentinel(d.v)
	return &d
}

func fillSentinel[H Handle](v []H) {
	s := Sentinel[H]()
	for i := range v {
		v[i] = s
	}
}

// grownCapacity returns the capacity after growing cur by 20% per step until
// it can index k.
func grownCapacity(cur int, k uint64) int {
	if cur < 5 {
		cur = 5
	}
	for uint64(cur) <= k {
		cur += cur / 5
	}
	return cur
}

func (d *dense[H]) add(k, v H) {
	if uint64(k) >= maxDenseIndex {
		if d.overflow == nil {
			d.overflow = newSparse[H]()
		}
		d.overflow.add(k, v)
		return
	}

	if uint64(k) >= uint64(len(d.v)) {
		// One allocation, however many growth steps it takes.
		grown := make([]H, grownCapacity(len(d.v), uint64(k)))
		copy(grown, d.v)
		fillSentinel(grown[len(d.v):])
		d.v = grown
	}
	if d.v[k] == Sentinel[H]() {
		d.count++
	}
	d.v[k] = v
}

func (d *dense[H]) remove(k H) {
	switch {
	case uint64(k) >= maxDenseIndex:
		if d.overflow != nil {
			d.overflow.remove(k)
		}
	case uint64(k) >= uint64(len(d.v)), d.v[k] == Sentinel[H]():
	default:
		d.v[k] = Sentinel[H]()
		d.count--
	}
}

func (d *dense[H]) lookup(k H) (H, bool) {
	switch {
	case uint64(k) >= maxDenseIndex:
		if d.overflow == nil {
			return 0, false
		}
		return d.overflow.lookup(k)
	case uint64(k) >= uint64(len(d.v)):
		return 0, false
	}

	v := d.v[k]
	if v == Sentinel[H]() {
		return 0, false
	}
	return v, true
}

func (d *dense[H]) len() int {
	if d.overflow != nil {
		return d.count + d.overflow.len()
	}
	return d.count
}

// capacity returns the number of handles the vector can index.
func (d *dense[H]) capacity() int { return len(d.v) }
