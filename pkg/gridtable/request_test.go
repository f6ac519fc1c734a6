package gridtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/measure"
)

func TestScanRequestValidation(t *testing.T) {
	info := newTestInfo(t)
	sum := []string{measure.FuncSum}

	tests := []struct {
		name string
		opts []ScanOption
	}{
		{"overlapping group by and metrics", []ScanOption{WithAggregation(NewBitSet(0, 3), NewBitSet(3), sum)}},
		{"function count mismatch", []ScanOption{WithAggregation(NewBitSet(0), NewBitSet(3), []string{"SUM", "MAX"})}},
		{"metric outside table", []ScanOption{WithAggregation(NewBitSet(0), NewBitSet(9), sum)}},
		{"columns outside table", []ScanOption{WithColumns(NewBitSet(0, 4))}},
		{"filter outside table", []ScanOption{WithFilter(&UnevaluableFilter{Name: "x", Cols: NewBitSet(7)})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScanRequest(info, tt.opts...)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "got %v", err)
		})
	}
}

func TestScanRequestColumns(t *testing.T) {
	info := newTestInfo(t)

	req, err := NewScanRequest(info)
	require.NoError(t, err)
	assert.True(t, req.Columns().Equals(info.AllColumns()))
	assert.False(t, req.HasAggregation())

	req, err = NewScanRequest(info, WithAggregation(NewBitSet(1), NewBitSet(3), []string{measure.FuncSum}))
	require.NoError(t, err)
	assert.Equal(t, "{1,3}", req.Columns().String())
	assert.Equal(t, "{1}", req.Dimensions().String())

	req, err = NewScanRequest(info,
		WithColumns(NewBitSet(0)),
		WithAggregation(NewBitSet(1), NewBitSet(3), []string{measure.FuncSum}))
	require.NoError(t, err)
	assert.Equal(t, "{0,1,3}", req.Columns().String())
	assert.Equal(t, "{0,1}", req.Dimensions().String())
}

func TestScanRequestUnevaluableFilter(t *testing.T) {
	info := newTestInfo(t)
	eq, err := NewCompareFilter(info, 0, OpEQ, "a1")
	require.NoError(t, err)
	like := &UnevaluableFilter{Name: "C LIKE 'c%'", Cols: NewBitSet(2)}

	req, err := NewScanRequest(info,
		WithFilter(And(eq, like)),
		WithAggregation(NewBitSet(1), NewBitSet(3), []string{measure.FuncSum}))
	require.NoError(t, err)

	assert.Same(t, eq, req.Filter())
	assert.Equal(t, "{0,1,2,3}", req.Columns().String())
	// Only the column of the removed predicate joins the group by.
	assert.Equal(t, "{1,2}", req.AggrGroupBy().String())

	req, err = NewScanRequest(info, WithFilter(like))
	require.NoError(t, err)
	assert.Nil(t, req.Filter())
	assert.False(t, req.HasFilter())
}
