package gridtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qhzhou/Kylin/pkg/errors"
)

func TestCompareFilter(t *testing.T) {
	info := newTestInfo(t)
	rec := NewRecord(info)
	require.NoError(t, rec.SetValues("a2", nil, "c1", int64(1)))

	tests := []struct {
		name   string
		col    int
		op     CompareOp
		values []interface{}
		want   bool
	}{
		{"eq", 0, OpEQ, []interface{}{"a2"}, true},
		{"ne", 0, OpNE, []interface{}{"a2"}, false},
		{"lt", 0, OpLT, []interface{}{"a3"}, true},
		{"le", 0, OpLE, []interface{}{"a2"}, true},
		{"gt", 0, OpGT, []interface{}{"a2"}, false},
		{"ge", 0, OpGE, []interface{}{"a1"}, true},
		{"in", 0, OpIn, []interface{}{"a1", "a2"}, true},
		{"not in", 0, OpIn, []interface{}{"a1", "a3"}, false},
		{"null never equals", 1, OpEQ, []interface{}{"b1"}, false},
		{"null never differs", 1, OpNE, []interface{}{"b1"}, false},
		{"is null", 1, OpIsNull, nil, true},
		{"is not null", 0, OpIsNotNull, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewCompareFilter(info, tt.col, tt.op, tt.values...)
			require.NoError(t, err)
			got, err := f.Evaluate(rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NewCompareFilter(info, 9, OpEQ, "x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	_, err = NewCompareFilter(info, 0, OpEQ)
	assert.Error(t, err)
	_, err = NewCompareFilter(info, 0, OpIsNull, "x")
	assert.Error(t, err)
	_, err = NewCompareFilter(info, 0, OpEQ, "too long")
	assert.Error(t, err)
}

func TestLogicalFilter(t *testing.T) {
	info := newTestInfo(t)
	rec := NewRecord(info)
	require.NoError(t, rec.SetValues("a1", "b2", "c1", int64(1)))

	a1, err := NewCompareFilter(info, 0, OpEQ, "a1")
	require.NoError(t, err)
	b1, err := NewCompareFilter(info, 1, OpEQ, "b1")
	require.NoError(t, err)

	for _, tt := range []struct {
		f    Filter
		want bool
	}{
		{And(a1, b1), false},
		{Or(a1, b1), true},
		{Not(b1), true},
		{And(a1, Not(b1)), true},
		{True, true},
		{False, false},
	} {
		got, err := tt.f.Evaluate(rec)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.f.String())
	}
	assert.Equal(t, "{0,1}", And(a1, b1).Columns().String())
}

func TestConvertUnevaluable(t *testing.T) {
	info := newTestInfo(t)
	a1, err := NewCompareFilter(info, 0, OpEQ, "a1")
	require.NoError(t, err)
	b1, err := NewCompareFilter(info, 1, OpEQ, "b1")
	require.NoError(t, err)
	like := &UnevaluableFilter{Name: "LIKE", Cols: NewBitSet(2)}

	_, err = like.Evaluate(NewRecord(info))
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupported))

	tests := []struct {
		name string
		in   Filter
		want Filter
		cols string
	}{
		{"leaf", like, True, "{2}"},
		{"evaluable untouched", a1, a1, "{}"},
		{"and drops residual", And(a1, like, b1), And(a1, b1), "{2}"},
		{"and with single survivor", And(a1, like), a1, "{2}"},
		{"or accepts everything", Or(a1, like), True, "{2}"},
		{"not removed whole", And(b1, Not(Or(a1, like))), b1, "{2}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cols := ConvertUnevaluable(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.cols, cols.String())
			assert.True(t, IsEvaluableRecursively(got))
		})
	}
}
