package measure

import (
	"fmt"
	"testing"

	"github.com/retailnext/hllpp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in   string
		want DataType
		kind Kind
	}{
		{"bigint", DataType{Name: "bigint"}, KindLong},
		{"INT", DataType{Name: "int"}, KindLong},
		{"double", DataType{Name: "double"}, KindDouble},
		{"real", DataType{Name: "real"}, KindDouble},
		{"decimal", DataType{Name: "decimal", Precision: 19, Scale: 4}, KindDecimal},
		{"decimal(10, 2)", DataType{Name: "decimal", Precision: 10, Scale: 2}, KindDecimal},
		{"hllc", DataType{Name: "hllc", Precision: DefaultHLLPrecision}, KindHLLC},
		{"hllc(10)", DataType{Name: "hllc", Precision: 10}, KindHLLC},
		{"varchar(256)", DataType{Name: "varchar", Precision: 256}, KindString},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDataType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.kind, got.Kind())
		})
	}

	for _, bad := range []string{"", "decimal(a,2)", "hllc(2)", "decimal(1,2,3)", "decimal(10"} {
		_, err := ParseDataType(bad)
		assert.Error(t, err, bad)
	}
}

func TestSumAggregators(t *testing.T) {
	long, err := New(FuncSum, MustParseDataType("bigint"))
	require.NoError(t, err)
	assert.Nil(t, long.State())
	for _, v := range []interface{}{int64(10), nil, int64(5), int64(7)} {
		require.NoError(t, long.Aggregate(v))
	}
	assert.Equal(t, int64(22), long.State())
	assert.Error(t, long.Aggregate(1.5))
	long.Reset()
	assert.Nil(t, long.State())

	dbl, err := New(FuncSum, MustParseDataType("double"))
	require.NoError(t, err)
	require.NoError(t, dbl.Aggregate(1.25))
	require.NoError(t, dbl.Aggregate(2.5))
	assert.Equal(t, 3.75, dbl.State())

	dec, err := New(FuncSum, MustParseDataType("decimal(19,4)"))
	require.NoError(t, err)
	require.NoError(t, dec.Aggregate(decimal.RequireFromString("0.1")))
	require.NoError(t, dec.Aggregate(decimal.RequireFromString("0.2")))
	assert.True(t, decimal.RequireFromString("0.3").Equal(dec.State().(decimal.Decimal)))

	count, err := New(FuncCount, MustParseDataType("bigint"))
	require.NoError(t, err)
	assert.IsType(t, &LongSum{}, count)
}

func TestMinMaxAggregators(t *testing.T) {
	tests := []struct {
		fn     string
		dt     string
		values []interface{}
		want   interface{}
	}{
		{FuncMin, "bigint", []interface{}{int64(5), int64(-3), nil, int64(9)}, int64(-3)},
		{FuncMax, "bigint", []interface{}{int64(5), int64(-3), int64(9)}, int64(9)},
		{FuncMin, "double", []interface{}{2.5, 0.5, 1.0}, 0.5},
		{FuncMax, "double", []interface{}{2.5, 0.5, 1.0}, 2.5},
		{FuncMax, "bigint", []interface{}{nil, nil}, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.fn, tt.dt), func(t *testing.T) {
			a, err := New(tt.fn, MustParseDataType(tt.dt))
			require.NoError(t, err)
			for _, v := range tt.values {
				require.NoError(t, a.Aggregate(v))
			}
			assert.Equal(t, tt.want, a.State())
		})
	}

	dmin, err := New(FuncMin, MustParseDataType("decimal"))
	require.NoError(t, err)
	require.NoError(t, dmin.Aggregate(decimal.RequireFromString("3.5")))
	require.NoError(t, dmin.Aggregate(decimal.RequireFromString("-1.25")))
	assert.Equal(t, "-1.25", dmin.State().(decimal.Decimal).String())
}

func TestNewRejectsUnsupported(t *testing.T) {
	_, err := New("MEDIAN", MustParseDataType("bigint"))
	assert.ErrorContains(t, err, "unknown aggregation function")

	_, err = New(FuncCountDistinct, MustParseDataType("bigint"))
	assert.ErrorContains(t, err, "does not support")

	_, err = New(FuncSum, MustParseDataType("varchar(10)"))
	assert.Error(t, err)

	total, err := NewTotal(FuncCountDistinct, MustParseDataType("hllc(10)"))
	require.NoError(t, err)
	assert.Nil(t, total)
}

func TestHLLCAggregator(t *testing.T) {
	dt := MustParseDataType("hllc(12)")
	ser, err := NewSerializer(dt)
	require.NoError(t, err)
	aggr, err := New(FuncCountDistinct, dt)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		v, err := ser.Parse(fmt.Sprintf("user-%d", i%200))
		require.NoError(t, err)
		require.NoError(t, aggr.Aggregate(v))
	}

	sketch := aggr.State().(*hllpp.HLLPP)
	assert.InDelta(t, 200, float64(sketch.Count()), 10)

	encoded, err := ser.Encode(sketch, nil)
	require.NoError(t, err)
	decoded, err := ser.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, sketch.Count(), decoded.(*hllpp.HLLPP).Count())
	assert.Greater(t, aggr.MemBytesEstimate(), 1<<12)
}

func TestSerializers(t *testing.T) {
	tests := []struct {
		dt    string
		field string
		want  interface{}
	}{
		{"bigint", "-42", int64(-42)},
		{"bigint", "7.9", int64(7)},
		{"double", "3.25", 3.25},
		{"decimal(19,4)", "1234.5678", decimal.RequireFromString("1234.5678")},
	}
	for _, tt := range tests {
		t.Run(tt.dt, func(t *testing.T) {
			ser, err := NewSerializer(MustParseDataType(tt.dt))
			require.NoError(t, err)

			v, err := ser.Parse(tt.field)
			require.NoError(t, err)

			b, err := ser.Encode(v, nil)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(b), ser.MaxLength())

			back, err := ser.Decode(b)
			require.NoError(t, err)
			if d, ok := tt.want.(decimal.Decimal); ok {
				assert.True(t, d.Equal(back.(decimal.Decimal)))
			} else {
				assert.Equal(t, tt.want, back)
			}

			null, err := ser.Parse("")
			require.NoError(t, err)
			assert.Nil(t, null)
			empty, err := ser.Encode(nil, nil)
			require.NoError(t, err)
			assert.Empty(t, empty)
			decodedNull, err := ser.Decode(nil)
			require.NoError(t, err)
			assert.Nil(t, decodedNull)
		})
	}

	_, err := NewSerializer(MustParseDataType("varchar"))
	assert.Error(t, err)
}
