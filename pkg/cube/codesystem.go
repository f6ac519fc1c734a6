package cube

import (
	"fmt"

	"github.com/qhzhou/Kylin/pkg/dict"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/measure"
)

// CodeSystem encodes cuboid dimensions as fixed-width dictionary ids and
// metrics with the measure serializers. Each grid table gets its own
// instance, bound by GTInfo construction.
type CodeSystem struct {
	dicts       []dict.Dictionary
	serializers []measure.Serializer
	info        *gridtable.GTInfo
}

// NewCodeSystem creates a code system whose first len(dicts) columns are
// dimensions and whose remaining columns are metrics.
func NewCodeSystem(dicts []dict.Dictionary) *CodeSystem {
	return &CodeSystem{dicts: dicts}
}

func (cs *CodeSystem) Init(info *gridtable.GTInfo) error {
	cs.info = info
	cs.serializers = make([]measure.Serializer, info.ColumnCount())
	for col := len(cs.dicts); col < info.ColumnCount(); col++ {
		ser, err := measure.NewSerializer(info.ColumnType(col))
		if err != nil {
			return fmt.Errorf("column %d: %w", col, err)
		}
		cs.serializers[col] = ser
	}
	return nil
}

func (cs *CodeSystem) isDimension(col int) bool { return col < len(cs.dicts) }

func (cs *CodeSystem) MaxCodeLength(col int) int {
	if cs.isDimension(col) {
		return cs.dicts[col].SizeOfID()
	}
	return cs.serializers[col].MaxLength()
}

// EncodeColumnValue accepts, for a dimension, a string looked up in the
// dictionary, an int id, or nil for null.
func (cs *CodeSystem) EncodeColumnValue(col int, value interface{}, dst []byte) ([]byte, error) {
	if !cs.isDimension(col) {
		return cs.serializers[col].Encode(value, dst)
	}
	d := cs.dicts[col]
	switch v := value.(type) {
	case nil:
		return dict.EncodeID(d, dict.NullID, dst), nil
	case string:
		id, err := d.IDOf(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("dimension column %d", col))
		}
		return dict.EncodeID(d, id, dst), nil
	case int:
		return dict.EncodeID(d, v, dst), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "dimension column %d: cannot encode %T", col, value)
	}
}

// DecodeColumnValue returns a dimension's dictionary value, or nil for null.
func (cs *CodeSystem) DecodeColumnValue(col int, b []byte) (interface{}, error) {
	if !cs.isDimension(col) {
		return cs.serializers[col].Decode(b)
	}
	id := dict.DecodeID(b)
	if id == dict.NullID {
		return nil, nil
	}
	return cs.dicts[col].ValueOf(id)
}

func (cs *CodeSystem) NewMetricsAggregator(fn string, col int) (measure.Aggregator, error) {
	return measure.New(fn, cs.info.ColumnType(col))
}
