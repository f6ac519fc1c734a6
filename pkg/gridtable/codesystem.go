package gridtable

import (
	"bytes"
	"fmt"

	"github.com/qhzhou/Kylin/pkg/measure"
)

// CodeSystem encodes and decodes cell values. Dimension cells must encode to
// exactly MaxCodeLength bytes so that they can be compared bytewise; metric
// cells may be shorter.
type CodeSystem interface {
	// Init binds the code system to its schema. It is called once by
	// InfoBuilder.Build.
	Init(info *GTInfo) error
	MaxCodeLength(col int) int
	// EncodeColumnValue appends the encoding of value to dst.
	EncodeColumnValue(col int, value interface{}, dst []byte) ([]byte, error)
	DecodeColumnValue(col int, b []byte) (interface{}, error)
	NewMetricsAggregator(fn string, col int) (measure.Aggregator, error)
}

// SimpleCodeSystem encodes string columns as zero padded fixed-width bytes
// and numeric columns with the measure serializers. It needs no
// dictionaries, which makes it handy for ad hoc tables.
type SimpleCodeSystem struct {
	info        *GTInfo
	serializers []measure.Serializer
}

// NewSimpleCodeSystem creates an unbound SimpleCodeSystem.
func NewSimpleCodeSystem() *SimpleCodeSystem {
	return &SimpleCodeSystem{}
}

func (cs *SimpleCodeSystem) Init(info *GTInfo) error {
	cs.info = info
	cs.serializers = make([]measure.Serializer, info.ColumnCount())
	for i := 0; i < info.ColumnCount(); i++ {
		dt := info.ColumnType(i)
		if dt.Kind() == measure.KindString {
			if dt.Precision <= 0 {
				return fmt.Errorf("column %d: %s needs a length", i, dt)
			}
			continue
		}
		ser, err := measure.NewSerializer(dt)
		if err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
		cs.serializers[i] = ser
	}
	return nil
}

func (cs *SimpleCodeSystem) MaxCodeLength(col int) int {
	if ser := cs.serializers[col]; ser != nil {
		return ser.MaxLength()
	}
	return cs.info.ColumnType(col).Precision
}

func (cs *SimpleCodeSystem) EncodeColumnValue(col int, value interface{}, dst []byte) ([]byte, error) {
	if ser := cs.serializers[col]; ser != nil {
		return ser.Encode(value, dst)
	}
	width := cs.info.ColumnType(col).Precision
	var s string
	switch v := value.(type) {
	case nil:
		for i := 0; i < width; i++ {
			dst = append(dst, 0xFF)
		}
		return dst, nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return nil, fmt.Errorf("column %d: cannot encode %T as string", col, value)
	}
	if len(s) > width {
		return nil, fmt.Errorf("column %d: %q longer than %d bytes", col, s, width)
	}
	dst = append(dst, s...)
	for i := len(s); i < width; i++ {
		dst = append(dst, 0)
	}
	return dst, nil
}

func (cs *SimpleCodeSystem) DecodeColumnValue(col int, b []byte) (interface{}, error) {
	if ser := cs.serializers[col]; ser != nil {
		return ser.Decode(b)
	}
	if len(b) > 0 && bytes.Count(b, []byte{0xFF}) == len(b) {
		return nil, nil
	}
	return string(bytes.TrimRight(b, "\x00")), nil
}

func (cs *SimpleCodeSystem) NewMetricsAggregator(fn string, col int) (measure.Aggregator, error) {
	return measure.New(fn, cs.info.ColumnType(col))
}
