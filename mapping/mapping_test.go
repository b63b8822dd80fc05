// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package mapping

import (
	"testing"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

type bufferHandle uint64

var _ = Describe("Table", func() {
	DescribeTable("shared semantics", func(dense bool) {
		strict := New[bufferHandle](Options{Name: "buffer", Mode: Strict, Dense: dense, Capacity: 16})
		pass := New[bufferHandle](Options{Name: "buffer", Mode: Passthrough, Dense: dense, Capacity: 16})
		Expect(strict.Dense()).To(Equal(dense))

		// Misses.
		_, err := strict.Get(0xDEAD)
		Expect(errors.Cause(err)).To(Equal(ErrNotMapped))
		Expect(err.Error()).To(ContainSubstring("couldn't map"))
		v, err := pass.Get(0xDEAD)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(bufferHandle(0xDEAD)))
		_, ok := strict.Lookup(0xDEAD)
		Expect(ok).To(BeFalse())
		Expect(strict.Check(0xDEAD)).To(BeFalse())

		for _, t := range []*Table[bufferHandle]{strict, pass} {
			// Insert, then replace.
			t.Add(3, 30)
			t.Add(3, 31)
			t.Add(7, 70)
			Expect(t.Len()).To(Equal(2))

			v, err := t.Get(3)
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal(bufferHandle(31)))
			Expect(t.Check(7)).To(BeTrue())

			// Mapping to the sentinel removes.
			t.Add(7, Sentinel[bufferHandle]())
			Expect(t.Check(7)).To(BeFalse())
			Expect(t.Len()).To(Equal(1))

			t.Remove(3)
			t.Remove(3)
			t.Remove(12345)
			Expect(t.Len()).To(BeZero())

			// Handles far beyond any vector are still mapped.
			t.Add(1<<40, 5)
			v, ok := t.Lookup(1 << 40)
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(bufferHandle(5)))
			Expect(t.Len()).To(Equal(1))
			t.Remove(1 << 40)
			Expect(t.Len()).To(BeZero())
		}
	},
		Entry("sparse", false),
		Entry("dense", true),
	)

	It("grows dense tables by 20% steps in one allocation", func() {
		t := New[uint32](Options{Mode: Strict, Dense: true})
		d := t.store.(*dense[uint32])
		Expect(d.capacity()).To(Equal(DefaultCapacity))

		// Lookups beyond capacity do not grow.
		Expect(t.Check(1000000)).To(BeFalse())
		_, err := t.Get(1000000)
		Expect(errors.Cause(err)).To(Equal(ErrNotMapped))
		Expect(d.capacity()).To(Equal(DefaultCapacity))

		t.Add(1000000, 1)
		Expect(d.capacity()).To(BeNumerically(">", 1000000))
		Expect(d.capacity()).To(Equal(grownCapacity(DefaultCapacity, 1000000)))

		// The new region is unmapped.
		Expect(t.Check(999999)).To(BeFalse())
		Expect(t.Check(DefaultCapacity)).To(BeFalse())
		v, err := t.Get(1000000)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(BeEquivalentTo(1))
	})

	It("computes growth steps", func() {
		Expect(grownCapacity(100, 99)).To(Equal(100))
		Expect(grownCapacity(100, 100)).To(Equal(120))
		Expect(grownCapacity(100, 130)).To(Equal(144))
		Expect(grownCapacity(0, 0)).To(Equal(5))

		c := grownCapacity(DefaultCapacity, 1000000)
		Expect(c).To(BeNumerically(">", 1000000))
		Expect(c * 5 / 6).To(BeNumerically("<=", 1000000))
	})

	It("names modes", func() {
		Expect(Strict.String()).To(Equal("strict"))
		Expect(Passthrough.String()).To(Equal("passthrough"))
	})
})

func TestMapping(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing mapping")
}
