// Package measure implements the metric side of a cube: data types, the
// per-metric aggregators used by group-by aggregation, and the serializers
// that turn aggregator states into cell bytes and back.
package measure

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the value family of a DataType.
type Kind int

const (
	KindString Kind = iota
	KindLong
	KindDouble
	KindDecimal
	KindHLLC
)

func (k Kind) String() string {
	switch k {
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindDecimal:
		return "decimal"
	case KindHLLC:
		return "hllc"
	default:
		return "string"
	}
}

// DefaultHLLPrecision is used for a bare "hllc" return type.
const DefaultHLLPrecision = 14

// DataType is a parsed column or measure type such as "bigint",
// "decimal(19,4)" or "hllc(12)".
type DataType struct {
	Name      string
	Precision int
	Scale     int
}

var longNames = map[string]bool{"bigint": true, "int": true, "integer": true, "long": true, "smallint": true, "tinyint": true}
var doubleNames = map[string]bool{"double": true, "float": true, "real": true}

// ParseDataType parses a type declaration.
func ParseDataType(s string) (DataType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DataType{}, fmt.Errorf("empty data type")
	}

	name, args := s, ""
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return DataType{}, fmt.Errorf("malformed data type %q", s)
		}
		name, args = strings.TrimSpace(s[:open]), s[open+1:len(s)-1]
	}

	dt := DataType{Name: name}
	if args != "" {
		parts := strings.Split(args, ",")
		if len(parts) > 2 {
			return DataType{}, fmt.Errorf("malformed data type %q", s)
		}
		p, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return DataType{}, fmt.Errorf("malformed precision in %q: %w", s, err)
		}
		dt.Precision = p
		if len(parts) == 2 {
			sc, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return DataType{}, fmt.Errorf("malformed scale in %q: %w", s, err)
			}
			dt.Scale = sc
		}
	}

	switch {
	case name == "decimal" || name == "numeric":
		dt.Name = "decimal"
		if dt.Precision == 0 {
			dt.Precision, dt.Scale = 19, 4
		}
	case name == "hllc":
		if dt.Precision == 0 {
			dt.Precision = DefaultHLLPrecision
		}
		if dt.Precision < 4 || dt.Precision > 18 {
			return DataType{}, fmt.Errorf("hllc precision %d out of range [4,18]", dt.Precision)
		}
	}
	return dt, nil
}

// MustParseDataType is ParseDataType for literals known to be valid.
func MustParseDataType(s string) DataType {
	dt, err := ParseDataType(s)
	if err != nil {
		panic(err)
	}
	return dt
}

// Kind returns the value family of the type.
func (d DataType) Kind() Kind {
	switch {
	case longNames[d.Name]:
		return KindLong
	case doubleNames[d.Name]:
		return KindDouble
	case d.Name == "decimal":
		return KindDecimal
	case d.Name == "hllc":
		return KindHLLC
	default:
		return KindString
	}
}

// IsNumber reports whether values of the type can be summed.
func (d DataType) IsNumber() bool {
	switch d.Kind() {
	case KindLong, KindDouble, KindDecimal:
		return true
	}
	return false
}

func (d DataType) String() string {
	switch {
	case d.Precision > 0 && d.Name == "decimal":
		return fmt.Sprintf("%s(%d,%d)", d.Name, d.Precision, d.Scale)
	case d.Precision > 0:
		return fmt.Sprintf("%s(%d)", d.Name, d.Precision)
	default:
		return d.Name
	}
}
