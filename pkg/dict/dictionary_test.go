package dict

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedDictionary(t *testing.T) {
	d := NewSortedDictionary([]string{"b2", "a1", "", "b2", "c1"})
	assert.Equal(t, 3, d.Size())
	assert.Equal(t, 1, d.SizeOfID())

	for i, v := range []string{"a1", "b2", "c1"} {
		id, err := d.IDOf(v)
		require.NoError(t, err)
		assert.Equal(t, i, id)
		back, err := d.ValueOf(id)
		require.NoError(t, err)
		assert.Equal(t, v, back)
	}

	id, err := d.IDOf("")
	require.NoError(t, err)
	assert.Equal(t, NullID, id)
	null, err := d.ValueOf(NullID)
	require.NoError(t, err)
	assert.Equal(t, "", null)

	_, err = d.IDOf("zz")
	assert.ErrorContains(t, err, "not in dictionary")
	_, err = d.ValueOf(3)
	assert.Error(t, err)
}

func TestIDWidth(t *testing.T) {
	assert.Equal(t, 1, idWidth(0))
	assert.Equal(t, 1, idWidth(255))
	assert.Equal(t, 2, idWidth(256))
	assert.Equal(t, 2, idWidth(65535))
	assert.Equal(t, 3, idWidth(65536))
}

func TestEncodingPreservesOrder(t *testing.T) {
	values := make([]string, 300)
	for i := range values {
		values[i] = fmt.Sprintf("v%04d", i)
	}
	d := NewSortedDictionary(values)
	require.Equal(t, 2, d.SizeOfID())

	var prev []byte
	for _, v := range values {
		id, err := d.IDOf(v)
		require.NoError(t, err)
		enc := EncodeID(d, id, nil)
		require.Len(t, enc, 2)
		assert.Equal(t, id, DecodeID(enc))
		if prev != nil {
			assert.Equal(t, -1, bytes.Compare(prev, enc))
		}
		prev = enc
	}

	null := EncodeID(d, NullID, nil)
	assert.Equal(t, []byte{0xFF, 0xFF}, null)
	assert.Equal(t, NullID, DecodeID(null))
	assert.Equal(t, 1, bytes.Compare(null, prev))
}

func TestBuilder(t *testing.T) {
	b := NewBuilder()
	for _, v := range []string{"x", "", "y", "x"} {
		b.Add(v)
	}
	d := b.Build()
	assert.Equal(t, 2, d.Size())
	id, err := d.IDOf("y")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}
