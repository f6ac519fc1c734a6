// Package cube holds the cube model the builder works from: the descriptor
// of dimensions and measures, the cuboid scheduler that spans the lattice,
// and the dictionary backed code system of cuboid grid tables.
package cube

import (
	"fmt"
	"strings"

	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/measure"
)

// MaxDimensions is the most dimensions a cuboid id can address.
const MaxDimensions = 63

// Parameter types of a measure function.
const (
	ParamColumn   = "column"
	ParamConstant = "constant"
)

// Desc describes a cube.
type Desc struct {
	Name       string          `yaml:"name" json:"name"`
	Dimensions []DimensionDesc `yaml:"dimensions" json:"dimensions"`
	Measures   []MeasureDesc   `yaml:"measures" json:"measures"`
	// MandatoryDimensions appear in every cuboid.
	MandatoryDimensions []string `yaml:"mandatory_dimensions" json:"mandatory_dimensions"`
}

// DimensionDesc names a dimension and the flat table column it reads.
type DimensionDesc struct {
	Name   string `yaml:"name" json:"name"`
	Column string `yaml:"column" json:"column"`
}

// MeasureDesc names a measure and its aggregation.
type MeasureDesc struct {
	Name     string       `yaml:"name" json:"name"`
	Function FunctionDesc `yaml:"function" json:"function"`
}

// FunctionDesc is an aggregation such as SUM(price) returning decimal(19,4).
type FunctionDesc struct {
	Expression string          `yaml:"expression" json:"expression"`
	Parameters []ParameterDesc `yaml:"parameters" json:"parameters"`
	ReturnType string          `yaml:"return_type" json:"return_type"`
}

// ParameterDesc is a flat table column or a constant.
type ParameterDesc struct {
	Type  string `yaml:"type" json:"type"`
	Value string `yaml:"value" json:"value"`
}

// IsCount reports a COUNT over a constant, which counts rows.
func (f FunctionDesc) IsCount() bool {
	return strings.EqualFold(f.Expression, measure.FuncCount)
}

// LoadDesc reads and validates a YAML cube descriptor.
func LoadDesc(path string) (*Desc, error) {
	var d Desc
	if err := config.Load(path, &d); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load cube descriptor "+path)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the descriptor and fills defaults: a dimension column
// defaults to its name, and expressions are upper cased.
func (d *Desc) Validate() error {
	if d.Name == "" {
		return errors.New(errors.ErrorTypeValidation, "cube name is required")
	}
	if len(d.Dimensions) == 0 || len(d.Dimensions) > MaxDimensions {
		return errors.Newf(errors.ErrorTypeValidation, "cube %s: %d dimensions, want 1 to %d", d.Name, len(d.Dimensions), MaxDimensions)
	}
	if len(d.Measures) == 0 {
		return errors.Newf(errors.ErrorTypeValidation, "cube %s: at least one measure is required", d.Name)
	}

	names := make(map[string]bool)
	for i := range d.Dimensions {
		dim := &d.Dimensions[i]
		if dim.Name == "" {
			return errors.Newf(errors.ErrorTypeValidation, "cube %s: dimension %d has no name", d.Name, i)
		}
		if names[dim.Name] {
			return errors.Newf(errors.ErrorTypeValidation, "cube %s: duplicate name %s", d.Name, dim.Name)
		}
		names[dim.Name] = true
		if dim.Column == "" {
			dim.Column = dim.Name
		}
	}

	for i := range d.Measures {
		m := &d.Measures[i]
		if err := d.validateMeasure(m); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("cube %s: measure %d", d.Name, i))
		}
		if names[m.Name] {
			return errors.Newf(errors.ErrorTypeValidation, "cube %s: duplicate name %s", d.Name, m.Name)
		}
		names[m.Name] = true
	}

	for _, name := range d.MandatoryDimensions {
		if d.DimensionIndex(name) < 0 {
			return errors.Newf(errors.ErrorTypeValidation, "cube %s: mandatory dimension %s is not a dimension", d.Name, name)
		}
	}
	return nil
}

func (d *Desc) validateMeasure(m *MeasureDesc) error {
	if m.Name == "" {
		return fmt.Errorf("measure has no name")
	}
	m.Function.Expression = strings.ToUpper(m.Function.Expression)
	dt, err := measure.ParseDataType(m.Function.ReturnType)
	if err != nil {
		return err
	}
	if _, err := measure.New(m.Function.Expression, dt); err != nil {
		return err
	}
	if len(m.Function.Parameters) == 0 {
		return fmt.Errorf("%s has no parameters", m.Name)
	}
	for _, p := range m.Function.Parameters {
		switch strings.ToLower(p.Type) {
		case ParamColumn, ParamConstant:
		default:
			return fmt.Errorf("%s: parameter type %q is not column or constant", m.Name, p.Type)
		}
		if p.Value == "" {
			return fmt.Errorf("%s: empty parameter", m.Name)
		}
	}
	return nil
}

// DimensionCount is the number of dimensions.
func (d *Desc) DimensionCount() int { return len(d.Dimensions) }

// MeasureCount is the number of measures.
func (d *Desc) MeasureCount() int { return len(d.Measures) }

// BaseCuboidID has one bit per dimension. Dimension i maps to bit n-1-i so
// the first dimension is the most significant.
func (d *Desc) BaseCuboidID() int64 {
	return int64(1)<<len(d.Dimensions) - 1
}

// DimensionBit returns the cuboid id bit of dimension i.
func (d *Desc) DimensionBit(i int) int64 {
	return int64(1) << (len(d.Dimensions) - 1 - i)
}

// DimensionIndex returns the position of the named dimension, or -1.
func (d *Desc) DimensionIndex(name string) int {
	for i, dim := range d.Dimensions {
		if dim.Name == name {
			return i
		}
	}
	return -1
}

// MandatoryMask is the cuboid id bits every cuboid must keep.
func (d *Desc) MandatoryMask() int64 {
	var mask int64
	for _, name := range d.MandatoryDimensions {
		if i := d.DimensionIndex(name); i >= 0 {
			mask |= d.DimensionBit(i)
		}
	}
	return mask
}

// MeasureTypes returns the return type of every measure.
func (d *Desc) MeasureTypes() []measure.DataType {
	types := make([]measure.DataType, len(d.Measures))
	for i, m := range d.Measures {
		types[i] = measure.MustParseDataType(m.Function.ReturnType)
	}
	return types
}

// MeasureFuncs returns the aggregation function of every measure.
func (d *Desc) MeasureFuncs() []string {
	funcs := make([]string, len(d.Measures))
	for i, m := range d.Measures {
		funcs[i] = m.Function.Expression
	}
	return funcs
}

// CuboidDimensions returns the indexes of the dimensions kept by cuboidID,
// in dimension order.
func (d *Desc) CuboidDimensions(cuboidID int64) []int {
	var dims []int
	for i := range d.Dimensions {
		if cuboidID&d.DimensionBit(i) != 0 {
			dims = append(dims, i)
		}
	}
	return dims
}

// ColumnNames returns the column names of a cuboid grid table: its
// dimensions, then every measure.
func (d *Desc) ColumnNames(cuboidID int64) []string {
	dims := d.CuboidDimensions(cuboidID)
	names := make([]string, 0, len(dims)+len(d.Measures))
	for _, i := range dims {
		names = append(names, d.Dimensions[i].Name)
	}
	for _, m := range d.Measures {
		names = append(names, m.Name)
	}
	return names
}
