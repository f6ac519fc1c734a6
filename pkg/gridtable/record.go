package gridtable

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// GTRecord is a row view: one byte slice per column, referencing either
// the record's own buffer or a row block owned by a scanner.
//
// A record obtained from Scanner.Record is only valid until the next call
// to Next on that scanner; its cells are overwritten in place. Call Copy
// to keep a row.
type GTRecord struct {
	info *GTInfo
	cols [][]byte
	buf  []byte
}

// NewRecord creates a record with all columns empty.
func NewRecord(info *GTInfo) *GTRecord {
	return &GTRecord{info: info, cols: make([][]byte, info.ColumnCount())}
}

func (r *GTRecord) Info() *GTInfo { return r.info }

// Get returns the encoded cell of col. The slice aliases the record.
func (r *GTRecord) Get(col int) []byte { return r.cols[col] }

// Set points col at b without copying.
func (r *GTRecord) Set(col int, b []byte) { r.cols[col] = b }

// SetValues encodes one value per column, in column order.
func (r *GTRecord) SetValues(values ...interface{}) error {
	if len(values) != len(r.cols) {
		return errors.Newf(errors.ErrorTypeValidation, "%d values for %d columns", len(values), len(r.cols))
	}
	return r.SetColumnValues(r.info.AllColumns(), values...)
}

// SetColumnValues encodes values into the given columns, in ascending
// column order. Other columns are left untouched.
func (r *GTRecord) SetColumnValues(cols ImmutableBitSet, values ...interface{}) error {
	if cols.Cardinality() != len(values) {
		return errors.Newf(errors.ErrorTypeValidation, "%d values for %d columns", len(values), cols.Cardinality())
	}
	cs := r.info.CodeSystem()
	buf := r.buf[:0]
	ends := make([]int, len(values))
	for i, v := range values {
		var err error
		buf, err = cs.EncodeColumnValue(cols.TrueBitAt(i), v, buf)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("encode column %d", cols.TrueBitAt(i)))
		}
		ends[i] = len(buf)
	}
	// Slice only after every append so no cell points into a stale array.
	start := 0
	for i, end := range ends {
		r.cols[cols.TrueBitAt(i)] = buf[start:end:end]
		start = end
	}
	r.buf = buf
	return nil
}

// Value decodes the cell of col.
func (r *GTRecord) Value(col int) (interface{}, error) {
	return r.info.CodeSystem().DecodeColumnValue(col, r.cols[col])
}

// Values decodes the given columns in ascending order.
func (r *GTRecord) Values(cols ImmutableBitSet) ([]interface{}, error) {
	out := make([]interface{}, cols.Cardinality())
	for i, c := range cols.Indexes() {
		v, err := r.Value(c)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("decode column %d", c))
		}
		out[i] = v
	}
	return out, nil
}

// Copy returns a deep copy that owns its cells.
func (r *GTRecord) Copy() *GTRecord {
	n := 0
	for _, c := range r.cols {
		n += len(c)
	}
	cp := &GTRecord{info: r.info, cols: make([][]byte, len(r.cols)), buf: make([]byte, 0, n)}
	for i, c := range r.cols {
		if c == nil {
			continue
		}
		start := len(cp.buf)
		cp.buf = append(cp.buf, c...)
		cp.cols[i] = cp.buf[start:len(cp.buf):len(cp.buf)]
	}
	return cp
}

// CompareKey compares two records bytewise on cols, in column order.
func (r *GTRecord) CompareKey(o *GTRecord, cols ImmutableBitSet) int {
	for _, c := range cols.Indexes() {
		if cmp := bytes.Compare(r.cols[c], o.cols[c]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

// compareBound compares r with a range bound on cols, ignoring the columns
// the bound leaves nil.
func (r *GTRecord) compareBound(bound *GTRecord, cols ImmutableBitSet) int {
	for _, c := range cols.Indexes() {
		if bound.cols[c] == nil {
			continue
		}
		if cmp := bytes.Compare(r.cols[c], bound.cols[c]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func (r *GTRecord) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := range r.cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		v, err := r.Value(i)
		if err != nil {
			fmt.Fprintf(&sb, "%x", r.cols[i])
			continue
		}
		fmt.Fprint(&sb, v)
	}
	sb.WriteByte(']')
	return sb.String()
}
