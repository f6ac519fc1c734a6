package gridtable

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// Filter is a predicate pushed down to a scan. It is evaluated over the
// encoded cells of a record.
type Filter interface {
	Evaluate(rec *GTRecord) (bool, error)
	// Columns returns every column the filter references.
	Columns() ImmutableBitSet
	// IsEvaluable reports whether this node can be evaluated on encoded
	// cells. Logical nodes report true; see IsEvaluableRecursively.
	IsEvaluable() bool
	String() string
}

// CompareOp is the operator of a CompareFilter.
type CompareOp int

const (
	OpEQ CompareOp = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpIn
	OpIsNull
	OpIsNotNull
)

var compareOpNames = [...]string{"=", "<>", "<", "<=", ">", ">=", "IN", "IS NULL", "IS NOT NULL"}

func (op CompareOp) String() string {
	if int(op) < len(compareOpNames) {
		return compareOpNames[op]
	}
	return fmt.Sprintf("CompareOp(%d)", int(op))
}

// CompareFilter compares one column with constants using the bytewise
// order of their encodings, which the code system keeps order preserving
// for dimensions. A null cell matches only IS NULL.
type CompareFilter struct {
	col    int
	op     CompareOp
	values [][]byte
}

// NewCompareFilter encodes values with the table's code system.
func NewCompareFilter(info *GTInfo, col int, op CompareOp, values ...interface{}) (*CompareFilter, error) {
	if !info.validColumn(col) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "filter column %d outside table of %d columns", col, info.ColumnCount())
	}
	switch op {
	case OpIsNull, OpIsNotNull:
		if len(values) != 0 {
			return nil, errors.Newf(errors.ErrorTypeValidation, "%s takes no values", op)
		}
	case OpIn:
		if len(values) == 0 {
			return nil, errors.New(errors.ErrorTypeValidation, "IN needs at least one value")
		}
	default:
		if len(values) != 1 {
			return nil, errors.Newf(errors.ErrorTypeValidation, "%s takes exactly one value, got %d", op, len(values))
		}
	}

	f := &CompareFilter{col: col, op: op, values: make([][]byte, len(values))}
	for i, v := range values {
		b, err := info.CodeSystem().EncodeColumnValue(col, v, nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("encode filter value %v", v))
		}
		f.values[i] = b
	}
	return f, nil
}

func (f *CompareFilter) Columns() ImmutableBitSet { return NewBitSet(f.col) }
func (f *CompareFilter) IsEvaluable() bool        { return true }

func (f *CompareFilter) Evaluate(rec *GTRecord) (bool, error) {
	cell := rec.Get(f.col)
	null := isNullCell(cell)
	switch f.op {
	case OpIsNull:
		return null, nil
	case OpIsNotNull:
		return !null, nil
	}
	if null {
		return false, nil
	}

	switch f.op {
	case OpIn:
		for _, v := range f.values {
			if bytes.Equal(cell, v) {
				return true, nil
			}
		}
		return false, nil
	case OpEQ:
		return bytes.Equal(cell, f.values[0]), nil
	case OpNE:
		return !bytes.Equal(cell, f.values[0]), nil
	}

	cmp := bytes.Compare(cell, f.values[0])
	switch f.op {
	case OpLT:
		return cmp < 0, nil
	case OpLE:
		return cmp <= 0, nil
	case OpGT:
		return cmp > 0, nil
	case OpGE:
		return cmp >= 0, nil
	default:
		return false, errors.Newf(errors.ErrorTypeUnsupported, "unknown compare operator %s", f.op)
	}
}

func (f *CompareFilter) String() string {
	return fmt.Sprintf("col%d %s %x", f.col, f.op, f.values)
}

// isNullCell reports an empty cell or one made only of 0xFF bytes.
func isNullCell(b []byte) bool {
	for _, c := range b {
		if c != 0xFF {
			return false
		}
	}
	return true
}

// LogicalOp is the operator of a LogicalFilter.
type LogicalOp int

const (
	OpAnd LogicalOp = iota
	OpOr
	OpNot
)

func (op LogicalOp) String() string {
	switch op {
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	default:
		return "NOT"
	}
}

// LogicalFilter combines child filters.
type LogicalFilter struct {
	op       LogicalOp
	children []Filter
}

func And(children ...Filter) *LogicalFilter { return &LogicalFilter{op: OpAnd, children: children} }
func Or(children ...Filter) *LogicalFilter  { return &LogicalFilter{op: OpOr, children: children} }
func Not(child Filter) *LogicalFilter       { return &LogicalFilter{op: OpNot, children: []Filter{child}} }

func (f *LogicalFilter) Op() LogicalOp      { return f.op }
func (f *LogicalFilter) Children() []Filter { return f.children }
func (f *LogicalFilter) IsEvaluable() bool  { return true }

func (f *LogicalFilter) Columns() ImmutableBitSet {
	var cols ImmutableBitSet
	for _, c := range f.children {
		cols = cols.Or(c.Columns())
	}
	return cols
}

func (f *LogicalFilter) Evaluate(rec *GTRecord) (bool, error) {
	switch f.op {
	case OpNot:
		ok, err := f.children[0].Evaluate(rec)
		return !ok, err
	case OpAnd:
		for _, c := range f.children {
			ok, err := c.Evaluate(rec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	default:
		for _, c := range f.children {
			ok, err := c.Evaluate(rec)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
}

func (f *LogicalFilter) String() string {
	parts := make([]string, len(f.children))
	for i, c := range f.children {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s(%s)", f.op, strings.Join(parts, ", "))
}

// ConstantFilter always returns the same answer.
type ConstantFilter bool

const (
	True  ConstantFilter = true
	False ConstantFilter = false
)

func (f ConstantFilter) Evaluate(*GTRecord) (bool, error) { return bool(f), nil }
func (f ConstantFilter) Columns() ImmutableBitSet         { return ImmutableBitSet{} }
func (f ConstantFilter) IsEvaluable() bool                { return true }
func (f ConstantFilter) String() string                   { return strings.ToUpper(fmt.Sprint(bool(f))) }

// UnevaluableFilter stands for a predicate that cannot be decided on
// encoded cells, such as a LIKE over dictionary ids. It must be converted
// away before a scan; an upper layer re-applies it to the decoded output.
type UnevaluableFilter struct {
	Name string
	Cols ImmutableBitSet
}

func (f *UnevaluableFilter) Columns() ImmutableBitSet { return f.Cols }
func (f *UnevaluableFilter) IsEvaluable() bool        { return false }
func (f *UnevaluableFilter) String() string           { return f.Name }

func (f *UnevaluableFilter) Evaluate(*GTRecord) (bool, error) {
	return false, errors.Newf(errors.ErrorTypeUnsupported, "filter %s cannot be evaluated on encoded cells", f.Name)
}

// IsEvaluableRecursively reports whether every node of f is evaluable.
func IsEvaluableRecursively(f Filter) bool {
	if !f.IsEvaluable() {
		return false
	}
	if lf, ok := f.(*LogicalFilter); ok {
		for _, c := range lf.children {
			if !IsEvaluableRecursively(c) {
				return false
			}
		}
	}
	return true
}

// ConvertUnevaluable replaces the unevaluable parts of f by TRUE, so the
// result accepts a superset of the rows f accepts. It also returns the
// columns the removed parts referenced.
func ConvertUnevaluable(f Filter) (Filter, ImmutableBitSet) {
	var cols ImmutableBitSet
	converted := convertUnevaluable(f, &cols)
	return converted, cols
}

func convertUnevaluable(f Filter, cols *ImmutableBitSet) Filter {
	if !f.IsEvaluable() {
		*cols = cols.Or(f.Columns())
		return True
	}
	lf, ok := f.(*LogicalFilter)
	if !ok {
		return f
	}

	switch lf.op {
	case OpNot:
		// TRUE under a NOT would reject rows, so the whole negation goes.
		if !IsEvaluableRecursively(lf.children[0]) {
			*cols = cols.Or(unevaluableColumns(lf.children[0]))
			return True
		}
		return lf
	case OpAnd:
		kept := make([]Filter, 0, len(lf.children))
		for _, c := range lf.children {
			cc := convertUnevaluable(c, cols)
			if cc == True {
				continue
			}
			if cc == False {
				return False
			}
			kept = append(kept, cc)
		}
		return simplify(OpAnd, kept, True)
	default:
		kept := make([]Filter, 0, len(lf.children))
		accept := false
		for _, c := range lf.children {
			cc := convertUnevaluable(c, cols)
			if cc == True {
				accept = true
				continue
			}
			if cc == False {
				continue
			}
			kept = append(kept, cc)
		}
		if accept {
			return True
		}
		return simplify(OpOr, kept, False)
	}
}

func simplify(op LogicalOp, kept []Filter, empty Filter) Filter {
	switch len(kept) {
	case 0:
		return empty
	case 1:
		return kept[0]
	default:
		return &LogicalFilter{op: op, children: kept}
	}
}

func unevaluableColumns(f Filter) ImmutableBitSet {
	if !f.IsEvaluable() {
		return f.Columns()
	}
	var cols ImmutableBitSet
	if lf, ok := f.(*LogicalFilter); ok {
		for _, c := range lf.children {
			cols = cols.Or(unevaluableColumns(c))
		}
	}
	return cols
}
