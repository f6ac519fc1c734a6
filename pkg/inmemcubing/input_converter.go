package inmemcubing

import (
	"context"
	"io"
	"strings"

	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/measure"
)

// metricInput says how one measure reads its value from a flat row.
type metricInput struct {
	ser      measure.Serializer
	count    bool
	constant interface{}
	columns  []int
}

// inputConverter turns flat rows into base cuboid records. It is the
// scanner feeding the base cuboid aggregation.
type inputConverter struct {
	ctx    context.Context
	info   *gridtable.GTInfo
	source RowSource

	dimColumns []int
	metrics    []metricInput
	values     []interface{}
	fields     []string
	rec        *gridtable.GTRecord
	rows       int64
	err        error
	done       bool
}

func newInputConverter(ctx context.Context, desc *cube.Desc, flat *cube.FlatTableDesc, info *gridtable.GTInfo, source RowSource) (*inputConverter, error) {
	if err := flat.Validate(desc); err != nil {
		return nil, err
	}
	c := &inputConverter{
		ctx:    ctx,
		info:   info,
		source: source,
		values: make([]interface{}, info.ColumnCount()),
		rec:    gridtable.NewRecord(info),
	}
	for _, d := range desc.Dimensions {
		c.dimColumns = append(c.dimColumns, flat.IndexOf(d.Column))
	}
	for i, m := range desc.Measures {
		ser, err := measure.NewSerializer(desc.MeasureTypes()[i])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "measure "+m.Name)
		}
		in := metricInput{ser: ser, count: m.Function.IsCount()}
		for _, p := range m.Function.Parameters {
			if strings.EqualFold(p.Type, cube.ParamConstant) {
				if in.count {
					in.constant, err = ser.Parse("1")
				} else {
					in.constant, err = ser.Parse(p.Value)
				}
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeValidation, "constant of measure "+m.Name)
				}
				break
			}
			in.columns = append(in.columns, flat.IndexOf(p.Value))
		}
		c.metrics = append(c.metrics, in)
	}
	return c, nil
}

func (c *inputConverter) Info() *gridtable.GTInfo     { return c.info }
func (c *inputConverter) Record() *gridtable.GTRecord { return c.rec }
func (c *inputConverter) Err() error                  { return c.err }
func (c *inputConverter) ScannedRowCount() int64      { return c.rows }
func (c *inputConverter) Close() error                { return nil }

func (c *inputConverter) Next() bool {
	if c.done {
		return false
	}
	row, err := c.source.Take(c.ctx)
	if err == io.EOF {
		c.done = true
		return false
	}
	if err != nil {
		c.fail(err)
		return false
	}
	if err := c.convert(row); err != nil {
		c.fail(errors.Wrap(err, errors.ErrorTypeValidation, "convert flat row").WithDetail("row", c.rows))
		return false
	}
	c.rows++
	return true
}

func (c *inputConverter) fail(err error) {
	c.err = err
	c.done = true
}

func (c *inputConverter) convert(row []string) error {
	n := 0
	for _, col := range c.dimColumns {
		if col >= len(row) {
			return errors.Newf(errors.ErrorTypeValidation, "row has %d fields, column %d is missing", len(row), col)
		}
		if v := row[col]; v != "" {
			c.values[n] = v
		} else {
			c.values[n] = nil
		}
		n++
	}
	for _, m := range c.metrics {
		v, err := m.value(row, &c.fields)
		if err != nil {
			return err
		}
		c.values[n] = v
		n++
	}
	return c.rec.SetValues(c.values...)
}

func (m *metricInput) value(row []string, scratch *[]string) (interface{}, error) {
	if len(m.columns) == 0 {
		return m.constant, nil
	}
	fields := (*scratch)[:0]
	for _, col := range m.columns {
		if col >= len(row) {
			return nil, errors.Newf(errors.ErrorTypeValidation, "row has %d fields, column %d is missing", len(row), col)
		}
		fields = append(fields, row[col])
	}
	*scratch = fields

	field := fields[0]
	if len(fields) > 1 {
		field = strings.Join(fields, "")
	}
	if m.count {
		if field == "" {
			return nil, nil
		}
		return m.ser.Parse("1")
	}
	return m.ser.Parse(field)
}
