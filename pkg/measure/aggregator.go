package measure

import (
	"fmt"
	"strings"

	"github.com/retailnext/hllpp"
	"github.com/shopspring/decimal"
)

// Aggregation function names as they appear in cube descriptors.
const (
	FuncSum           = "SUM"
	FuncCount         = "COUNT"
	FuncMin           = "MIN"
	FuncMax           = "MAX"
	FuncCountDistinct = "COUNT_DISTINCT"
)

// Aggregator folds a stream of decoded metric values into one state.
// A nil value is a SQL null and leaves the state unchanged.
type Aggregator interface {
	Aggregate(value interface{}) error
	// State returns the current result. It is nil until a non-null value
	// has been aggregated.
	State() interface{}
	Reset()
	// MemBytesEstimate is the approximate heap held by the aggregator.
	MemBytesEstimate() int
}

// Memory guesses per aggregator, including object headers.
const (
	longAggrMemBytes    = 44
	doubleAggrMemBytes  = 44
	decimalAggrMemBytes = 116
)

// New creates the aggregator for a function over values of the given type.
// COUNT is a sum of per-row ones, so it shares the SUM implementations.
func New(fn string, dt DataType) (Aggregator, error) {
	fn = strings.ToUpper(fn)
	switch fn {
	case FuncSum, FuncCount:
		switch dt.Kind() {
		case KindLong:
			return &LongSum{}, nil
		case KindDouble:
			return &DoubleSum{}, nil
		case KindDecimal:
			return &DecimalSum{}, nil
		}
	case FuncMin, FuncMax:
		isMax := fn == FuncMax
		switch dt.Kind() {
		case KindLong:
			return &LongMinMax{max: isMax}, nil
		case KindDouble:
			return &DoubleMinMax{max: isMax}, nil
		case KindDecimal:
			return &DecimalMinMax{max: isMax}, nil
		}
	case FuncCountDistinct:
		if dt.Kind() == KindHLLC {
			return &HLLCAggregator{precision: uint8(dt.Precision)}, nil
		}
	default:
		return nil, fmt.Errorf("unknown aggregation function %q", fn)
	}
	return nil, fmt.Errorf("function %s does not support return type %s", fn, dt)
}

// NewTotal creates the aggregator that folds per-row results of fn into a
// cube-wide total, or nil for functions without a comparable total.
func NewTotal(fn string, dt DataType) (Aggregator, error) {
	switch strings.ToUpper(fn) {
	case FuncCountDistinct:
		return nil, nil
	default:
		return New(fn, dt)
	}
}

// LongSum sums int64 values.
type LongSum struct {
	sum   int64
	valid bool
}

func (a *LongSum) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := value.(int64)
	if !ok {
		return fmt.Errorf("long sum: unexpected %T", value)
	}
	a.sum += v
	a.valid = true
	return nil
}

func (a *LongSum) State() interface{} {
	if !a.valid {
		return nil
	}
	return a.sum
}

func (a *LongSum) Reset()                { *a = LongSum{} }
func (a *LongSum) MemBytesEstimate() int { return longAggrMemBytes }

// DoubleSum sums float64 values.
type DoubleSum struct {
	sum   float64
	valid bool
}

func (a *DoubleSum) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := value.(float64)
	if !ok {
		return fmt.Errorf("double sum: unexpected %T", value)
	}
	a.sum += v
	a.valid = true
	return nil
}

func (a *DoubleSum) State() interface{} {
	if !a.valid {
		return nil
	}
	return a.sum
}

func (a *DoubleSum) Reset()                { *a = DoubleSum{} }
func (a *DoubleSum) MemBytesEstimate() int { return doubleAggrMemBytes }

// DecimalSum sums decimal values exactly.
type DecimalSum struct {
	sum   decimal.Decimal
	valid bool
}

func (a *DecimalSum) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := value.(decimal.Decimal)
	if !ok {
		return fmt.Errorf("decimal sum: unexpected %T", value)
	}
	if !a.valid {
		a.sum, a.valid = v, true
		return nil
	}
	a.sum = a.sum.Add(v)
	return nil
}

func (a *DecimalSum) State() interface{} {
	if !a.valid {
		return nil
	}
	return a.sum
}

func (a *DecimalSum) Reset()                { *a = DecimalSum{} }
func (a *DecimalSum) MemBytesEstimate() int { return decimalAggrMemBytes }

// LongMinMax keeps the smallest or largest int64.
type LongMinMax struct {
	max   bool
	cur   int64
	valid bool
}

func (a *LongMinMax) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := value.(int64)
	if !ok {
		return fmt.Errorf("long min/max: unexpected %T", value)
	}
	if !a.valid || (a.max && v > a.cur) || (!a.max && v < a.cur) {
		a.cur, a.valid = v, true
	}
	return nil
}

func (a *LongMinMax) State() interface{} {
	if !a.valid {
		return nil
	}
	return a.cur
}

func (a *LongMinMax) Reset()                { *a = LongMinMax{max: a.max} }
func (a *LongMinMax) MemBytesEstimate() int { return longAggrMemBytes }

// DoubleMinMax keeps the smallest or largest float64.
type DoubleMinMax struct {
	max   bool
	cur   float64
	valid bool
}

func (a *DoubleMinMax) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := value.(float64)
	if !ok {
		return fmt.Errorf("double min/max: unexpected %T", value)
	}
	if !a.valid || (a.max && v > a.cur) || (!a.max && v < a.cur) {
		a.cur, a.valid = v, true
	}
	return nil
}

func (a *DoubleMinMax) State() interface{} {
	if !a.valid {
		return nil
	}
	return a.cur
}

func (a *DoubleMinMax) Reset()                { *a = DoubleMinMax{max: a.max} }
func (a *DoubleMinMax) MemBytesEstimate() int { return doubleAggrMemBytes }

// DecimalMinMax keeps the smallest or largest decimal.
type DecimalMinMax struct {
	max   bool
	cur   decimal.Decimal
	valid bool
}

func (a *DecimalMinMax) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := value.(decimal.Decimal)
	if !ok {
		return fmt.Errorf("decimal min/max: unexpected %T", value)
	}
	if !a.valid {
		a.cur, a.valid = v, true
		return nil
	}
	if c := v.Cmp(a.cur); (a.max && c > 0) || (!a.max && c < 0) {
		a.cur = v
	}
	return nil
}

func (a *DecimalMinMax) State() interface{} {
	if !a.valid {
		return nil
	}
	return a.cur
}

func (a *DecimalMinMax) Reset()                { *a = DecimalMinMax{max: a.max} }
func (a *DecimalMinMax) MemBytesEstimate() int { return decimalAggrMemBytes }

// HLLCAggregator merges HyperLogLog++ sketches for approximate
// distinct counts.
type HLLCAggregator struct {
	precision uint8
	sketch    *hllpp.HLLPP
}

// NewHLL creates an empty sketch with the given precision.
func NewHLL(precision uint8) (*hllpp.HLLPP, error) {
	return hllpp.NewWithConfig(hllpp.Config{Precision: precision, SparsePrecision: 25})
}

func (a *HLLCAggregator) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := value.(*hllpp.HLLPP)
	if !ok {
		return fmt.Errorf("hllc: unexpected %T", value)
	}
	if a.sketch == nil {
		s, err := NewHLL(a.precision)
		if err != nil {
			return err
		}
		a.sketch = s
	}
	return a.sketch.Merge(v)
}

func (a *HLLCAggregator) State() interface{} {
	if a.sketch == nil {
		return nil
	}
	return a.sketch
}

func (a *HLLCAggregator) Reset() { a.sketch = nil }

// MemBytesEstimate assumes the dense representation, one byte per register.
func (a *HLLCAggregator) MemBytesEstimate() int {
	return 1<<a.precision + 64
}
