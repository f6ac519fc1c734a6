package measure

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/retailnext/hllpp"
	"github.com/shopspring/decimal"
)

// Serializer converts metric values between their decoded form, their
// cell bytes and the text found in flat table rows. An empty cell is null.
type Serializer interface {
	// Encode appends the encoding of value to dst.
	Encode(value interface{}, dst []byte) ([]byte, error)
	Decode(b []byte) (interface{}, error)
	// Parse converts a flat table field. An empty field is null.
	Parse(field string) (interface{}, error)
	MaxLength() int
}

// NewSerializer returns the serializer for a measure return type.
func NewSerializer(dt DataType) (Serializer, error) {
	switch dt.Kind() {
	case KindLong:
		return longSerializer{}, nil
	case KindDouble:
		return doubleSerializer{}, nil
	case KindDecimal:
		return decimalSerializer{precision: dt.Precision}, nil
	case KindHLLC:
		return hllcSerializer{precision: uint8(dt.Precision)}, nil
	default:
		return nil, fmt.Errorf("no metric serializer for type %s", dt)
	}
}

type longSerializer struct{}

func (longSerializer) Encode(value interface{}, dst []byte) ([]byte, error) {
	if value == nil {
		return dst, nil
	}
	v, ok := value.(int64)
	if !ok {
		return nil, fmt.Errorf("long serializer: unexpected %T", value)
	}
	return binary.AppendVarint(dst, v), nil
}

func (longSerializer) Decode(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	v, n := binary.Varint(b)
	if n <= 0 {
		return nil, fmt.Errorf("long serializer: corrupt varint")
	}
	return v, nil
}

func (longSerializer) Parse(field string) (interface{}, error) {
	if field == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil {
		// Integral measures over decimal-looking input truncate like a SQL cast.
		f, ferr := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if ferr != nil {
			return nil, err
		}
		return int64(f), nil
	}
	return v, nil
}

func (longSerializer) MaxLength() int { return binary.MaxVarintLen64 }

type doubleSerializer struct{}

func (doubleSerializer) Encode(value interface{}, dst []byte) ([]byte, error) {
	if value == nil {
		return dst, nil
	}
	v, ok := value.(float64)
	if !ok {
		return nil, fmt.Errorf("double serializer: unexpected %T", value)
	}
	return binary.BigEndian.AppendUint64(dst, math.Float64bits(v)), nil
}

func (doubleSerializer) Decode(b []byte) (interface{}, error) {
	switch len(b) {
	case 0:
		return nil, nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return nil, fmt.Errorf("double serializer: %d bytes", len(b))
	}
}

func (doubleSerializer) Parse(field string) (interface{}, error) {
	if field == "" {
		return nil, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(field), 64)
}

func (doubleSerializer) MaxLength() int { return 8 }

type decimalSerializer struct {
	precision int
}

func (decimalSerializer) Encode(value interface{}, dst []byte) ([]byte, error) {
	if value == nil {
		return dst, nil
	}
	v, ok := value.(decimal.Decimal)
	if !ok {
		return nil, fmt.Errorf("decimal serializer: unexpected %T", value)
	}
	b, err := v.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(dst, b...), nil
}

func (decimalSerializer) Decode(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return d, nil
}

func (decimalSerializer) Parse(field string) (interface{}, error) {
	if field == "" {
		return nil, nil
	}
	return decimal.NewFromString(strings.TrimSpace(field))
}

// MaxLength covers a 4 byte exponent plus the gob form of the coefficient.
func (s decimalSerializer) MaxLength() int { return 6 + s.precision/2 }

type hllcSerializer struct {
	precision uint8
}

func (hllcSerializer) Encode(value interface{}, dst []byte) ([]byte, error) {
	if value == nil {
		return dst, nil
	}
	v, ok := value.(*hllpp.HLLPP)
	if !ok {
		return nil, fmt.Errorf("hllc serializer: unexpected %T", value)
	}
	return append(dst, v.Marshal()...), nil
}

func (hllcSerializer) Decode(b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	owned := make([]byte, len(b))
	copy(owned, b)
	return hllpp.Unmarshal(owned)
}

// Parse starts a sketch holding the single field value.
func (s hllcSerializer) Parse(field string) (interface{}, error) {
	if field == "" {
		return nil, nil
	}
	h, err := NewHLL(s.precision)
	if err != nil {
		return nil, err
	}
	h.Add([]byte(field))
	return h, nil
}

func (s hllcSerializer) MaxLength() int { return 1<<s.precision + 16 }
