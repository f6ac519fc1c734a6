package gridtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImmutableBitSet(t *testing.T) {
	s := NewBitSet(5, 1, 3)
	assert.Equal(t, []int{1, 3, 5}, s.Indexes())
	assert.Equal(t, 3, s.Cardinality())
	assert.Equal(t, 3, s.TrueBitAt(1))
	assert.Equal(t, 2, s.IndexOf(5))
	assert.Equal(t, -1, s.IndexOf(2))

	withTwo := s.Set(2)
	assert.Equal(t, "{1,2,3,5}", withTwo.String())
	assert.Equal(t, "{1,3,5}", s.String(), "receiver must not change")
	assert.Equal(t, "{1,5}", s.Clear(3).String())

	o := NewBitSet(3, 4)
	assert.Equal(t, "{1,3,4,5}", s.Or(o).String())
	assert.Equal(t, "{3}", s.And(o).String())
	assert.Equal(t, "{1,5}", s.AndNot(o).String())
	assert.True(t, s.Intersects(o))
	assert.False(t, s.Intersects(NewBitSet(0)))
	assert.True(t, withTwo.Contains(s))
	assert.False(t, s.Contains(withTwo))
	assert.True(t, BitSetRange(1, 4).Equals(NewBitSet(1, 2, 3)))

	var zero ImmutableBitSet
	assert.True(t, zero.IsEmpty())
	assert.False(t, zero.Get(0))
	assert.Equal(t, "{3,4}", zero.Or(o).String())
	assert.Equal(t, "{}", zero.String())
	assert.True(t, s.Contains(zero))
}
