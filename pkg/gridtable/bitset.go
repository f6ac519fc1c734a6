package gridtable

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// ImmutableBitSet is a set of column indexes. Every operation returns a new
// set; the receiver is never modified, so sets may be shared freely between
// GTInfo, requests and scanners.
type ImmutableBitSet struct {
	bm *roaring.Bitmap
	// trueBits caches the set indexes in ascending order.
	trueBits []int
}

func newBitSetFrom(bm *roaring.Bitmap) ImmutableBitSet {
	arr := bm.ToArray()
	bits := make([]int, len(arr))
	for i, v := range arr {
		bits[i] = int(v)
	}
	return ImmutableBitSet{bm: bm, trueBits: bits}
}

// NewBitSet returns the set holding the given indexes.
func NewBitSet(indexes ...int) ImmutableBitSet {
	bm := roaring.NewBitmap()
	for _, i := range indexes {
		if i < 0 {
			panic(fmt.Sprintf("negative bit index %d", i))
		}
		bm.Add(uint32(i))
	}
	return newBitSetFrom(bm)
}

// BitSetRange returns the set [from, to).
func BitSetRange(from, to int) ImmutableBitSet {
	bm := roaring.NewBitmap()
	for i := from; i < to; i++ {
		bm.Add(uint32(i))
	}
	return newBitSetFrom(bm)
}

func (s ImmutableBitSet) bitmap() *roaring.Bitmap {
	if s.bm == nil {
		return roaring.NewBitmap()
	}
	return s.bm
}

// Get reports whether index i is set.
func (s ImmutableBitSet) Get(i int) bool {
	return i >= 0 && s.bm != nil && s.bm.Contains(uint32(i))
}

// Set returns a copy with index i set.
func (s ImmutableBitSet) Set(i int) ImmutableBitSet {
	if s.Get(i) {
		return s
	}
	bm := s.bitmap().Clone()
	bm.Add(uint32(i))
	return newBitSetFrom(bm)
}

// Clear returns a copy with index i cleared.
func (s ImmutableBitSet) Clear(i int) ImmutableBitSet {
	if !s.Get(i) {
		return s
	}
	bm := s.bm.Clone()
	bm.Remove(uint32(i))
	return newBitSetFrom(bm)
}

func (s ImmutableBitSet) Or(o ImmutableBitSet) ImmutableBitSet {
	return newBitSetFrom(roaring.Or(s.bitmap(), o.bitmap()))
}

func (s ImmutableBitSet) And(o ImmutableBitSet) ImmutableBitSet {
	return newBitSetFrom(roaring.And(s.bitmap(), o.bitmap()))
}

func (s ImmutableBitSet) AndNot(o ImmutableBitSet) ImmutableBitSet {
	return newBitSetFrom(roaring.AndNot(s.bitmap(), o.bitmap()))
}

// Intersects reports whether the two sets share an index.
func (s ImmutableBitSet) Intersects(o ImmutableBitSet) bool {
	return !s.And(o).IsEmpty()
}

// Contains reports whether every index of o is in s.
func (s ImmutableBitSet) Contains(o ImmutableBitSet) bool {
	return o.AndNot(s).IsEmpty()
}

func (s ImmutableBitSet) Cardinality() int { return len(s.trueBits) }
func (s ImmutableBitSet) IsEmpty() bool    { return len(s.trueBits) == 0 }

// TrueBitAt returns the n-th set index in ascending order.
func (s ImmutableBitSet) TrueBitAt(n int) int { return s.trueBits[n] }

// IndexOf returns the position of index i among the set bits, or -1.
func (s ImmutableBitSet) IndexOf(i int) int {
	for n, b := range s.trueBits {
		if b == i {
			return n
		}
	}
	return -1
}

// Indexes returns the set indexes in ascending order. The slice is shared
// and must not be modified.
func (s ImmutableBitSet) Indexes() []int { return s.trueBits }

func (s ImmutableBitSet) Equals(o ImmutableBitSet) bool {
	if s.Cardinality() != o.Cardinality() {
		return false
	}
	for i, b := range s.trueBits {
		if o.trueBits[i] != b {
			return false
		}
	}
	return true
}

func (s ImmutableBitSet) String() string {
	parts := make([]string, len(s.trueBits))
	for i, b := range s.trueBits {
		parts[i] = fmt.Sprint(b)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
