package cube

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qhzhou/Kylin/pkg/dict"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/measure"
)

const salesYAML = `
name: sales
dimensions:
  - name: REGION
  - name: CATEGORY
  - name: YEAR
    column: SALE_YEAR
mandatory_dimensions: [YEAR]
measures:
  - name: ROW_COUNT
    function:
      expression: count
      parameters: [{type: constant, value: "1"}]
      return_type: bigint
  - name: AMOUNT
    function:
      expression: SUM
      parameters: [{type: column, value: PRICE}]
      return_type: decimal(19,4)
`

func newDesc(dims ...string) *Desc {
	d := &Desc{Name: "test"}
	for _, name := range dims {
		d.Dimensions = append(d.Dimensions, DimensionDesc{Name: name})
	}
	d.Measures = []MeasureDesc{{
		Name: "M",
		Function: FunctionDesc{
			Expression: measure.FuncSum,
			Parameters: []ParameterDesc{{Type: ParamColumn, Value: "M"}},
			ReturnType: "bigint",
		},
	}}
	if err := d.Validate(); err != nil {
		panic(err)
	}
	return d
}

func TestLoadDesc(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.yaml")
	require.NoError(t, os.WriteFile(path, []byte(salesYAML), 0o644))

	d, err := LoadDesc(path)
	require.NoError(t, err)
	assert.Equal(t, "sales", d.Name)
	assert.Equal(t, "REGION", d.Dimensions[0].Column)
	assert.Equal(t, "SALE_YEAR", d.Dimensions[2].Column)
	assert.Equal(t, []string{measure.FuncCount, measure.FuncSum}, d.MeasureFuncs())
	assert.Equal(t, int64(7), d.BaseCuboidID())
	assert.Equal(t, int64(1), d.MandatoryMask())
	assert.Equal(t, []string{"REGION", "YEAR", "ROW_COUNT", "AMOUNT"}, d.ColumnNames(5))

	flat := NewFlatTableDesc(d)
	assert.Equal(t, []string{"REGION", "CATEGORY", "SALE_YEAR", "PRICE"}, flat.Columns)
	require.NoError(t, flat.Validate(d))
	assert.Error(t, NewFlatTableDescFromColumns([]string{"region", "category"}).Validate(d))

	_, err = LoadDesc(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestDescValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Desc)
	}{
		{"no name", func(d *Desc) { d.Name = "" }},
		{"no dimensions", func(d *Desc) { d.Dimensions = nil }},
		{"duplicate", func(d *Desc) { d.Dimensions = append(d.Dimensions, DimensionDesc{Name: "A"}) }},
		{"bad mandatory", func(d *Desc) { d.MandatoryDimensions = []string{"Z"} }},
		{"bad function", func(d *Desc) { d.Measures[0].Function.Expression = "MEDIAN" }},
		{"bad return type", func(d *Desc) { d.Measures[0].Function.ReturnType = "hllc(99)" }},
		{"bad parameter", func(d *Desc) { d.Measures[0].Function.Parameters[0].Type = "expr" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDesc("A", "B")
			tt.mutate(d)
			err := d.Validate()
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "got %v", err)
		})
	}
}

func TestSchedulerLattice(t *testing.T) {
	d := newDesc("A", "B", "C", "D")
	s := NewScheduler(d)
	assert.Equal(t, int64(15), s.BaseCuboidID())
	assert.Equal(t, 15, s.CuboidCount())

	all := s.AllCuboidIDs()
	want := make([]int64, 0, 15)
	for id := int64(1); id <= 15; id++ {
		want = append(want, id)
	}
	assert.Equal(t, want, all)

	// Every cuboid but the base has exactly one parent, which spans it.
	seen := map[int64]int{}
	for _, id := range all {
		for _, child := range s.Spanning(id) {
			seen[child]++
			parent, ok := s.Parent(child)
			require.True(t, ok)
			assert.Equal(t, id, parent)
			assert.Zero(t, child&^id)
		}
	}
	assert.Len(t, seen, 14)
	for id, n := range seen {
		assert.Equal(t, 1, n, "cuboid %d", id)
	}
	_, ok := s.Parent(15)
	assert.False(t, ok)

	assert.Equal(t, []int64{7, 11, 13, 14}, s.Spanning(15))
	assert.Equal(t, []int64{9, 10}, s.Spanning(11))
	assert.Empty(t, s.Spanning(1))
}

func TestSchedulerMandatory(t *testing.T) {
	d := newDesc("A", "B", "C")
	d.MandatoryDimensions = []string{"A"}
	require.NoError(t, d.Validate())
	s := NewScheduler(d)

	assert.Equal(t, 4, s.CuboidCount())
	ids := s.AllCuboidIDs()
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))
	assert.Equal(t, []int64{4, 5, 6, 7}, ids)
	for _, id := range ids {
		assert.NotZero(t, id&4)
	}
	assert.False(t, s.IsValid(3))
	assert.Nil(t, s.Spanning(3))
}

func TestNewGTInfoAndCodeSystem(t *testing.T) {
	d := newDesc("A", "B", "C")
	dicts := map[string]dict.Dictionary{
		"A": dict.NewSortedDictionary([]string{"a1", "a2"}),
		"B": dict.NewSortedDictionary([]string{"b1"}),
		"C": dict.NewSortedDictionary([]string{"c1", "c2", "c3"}),
	}

	info, err := NewGTInfo(d, 5, dicts, 16)
	require.NoError(t, err)
	assert.Equal(t, 3, info.ColumnCount())
	assert.Equal(t, "{0,1}", info.PrimaryKey().String())
	assert.Equal(t, "{2}", MetricColumns(info).String())
	assert.Equal(t, 16, info.RowBlockSize())

	rec := gridtable.NewRecord(info)
	require.NoError(t, rec.SetValues("a2", nil, int64(9)))
	assert.Equal(t, []byte{1}, rec.Get(0))
	assert.Equal(t, []byte{0xFF}, rec.Get(1))
	vals, err := rec.Values(info.AllColumns())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a2", nil, int64(9)}, vals)

	assert.Error(t, rec.SetValues("zz", "c1", int64(1)))

	_, err = NewGTInfo(d, 7, map[string]dict.Dictionary{"A": dicts["A"]}, 16)
	assert.Error(t, err)
	_, err = NewGTInfo(d, 0, dicts, 16)
	assert.Error(t, err)
}

func TestChildColumns(t *testing.T) {
	d := newDesc("A", "B", "C", "D")
	cols, err := ChildColumns(d, 0b1011, 0b0011)
	require.NoError(t, err)
	// Parent columns are A C D M; the child keeps C and D.
	assert.Equal(t, []int{1, 2, 3}, cols)

	_, err = ChildColumns(d, 0b0011, 0b0100)
	assert.Error(t, err)
}
