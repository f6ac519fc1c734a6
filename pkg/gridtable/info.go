// Package gridtable implements the grid table: a schema-described,
// row-block oriented table with pluggable single-writer / multi-reader
// storage, lazy scanners, filter push-down and group-by aggregation over
// byte-encoded keys.
//
// A table is described by an immutable GTInfo built with InfoBuilder. Rows
// travel as GTRecord views, are batched into GTRowBlock values and are
// persisted by a Store. GridTable ties the pieces together:
//
//	tbl := gridtable.New(info, gridtable.NewMemStore(info))
//	b, _ := tbl.Rebuild()
//	b.Write(rec)
//	b.Close()
//
//	sc, _ := tbl.Scan(ctx, req)
//	defer sc.Close()
//	for sc.Next() {
//	    use(sc.Record())
//	}
package gridtable

import (
	"fmt"

	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/measure"
)

// DefaultRowBlockSize is the number of rows per block when none is set.
const DefaultRowBlockSize = 1024

// GTInfo is the immutable schema of a grid table.
type GTInfo struct {
	tableName    string
	codeSystem   CodeSystem
	colTypes     []measure.DataType
	colAll       ImmutableBitSet
	primaryKey   ImmutableBitSet
	colBlocks    []ImmutableBitSet
	rowBlockSize int
}

func (info *GTInfo) TableName() string                    { return info.tableName }
func (info *GTInfo) CodeSystem() CodeSystem               { return info.codeSystem }
func (info *GTInfo) ColumnCount() int                     { return len(info.colTypes) }
func (info *GTInfo) ColumnType(col int) measure.DataType  { return info.colTypes[col] }
func (info *GTInfo) AllColumns() ImmutableBitSet          { return info.colAll }
func (info *GTInfo) PrimaryKey() ImmutableBitSet          { return info.primaryKey }
func (info *GTInfo) ColumnBlocks() []ImmutableBitSet      { return info.colBlocks }
func (info *GTInfo) RowBlockSize() int                    { return info.rowBlockSize }
func (info *GTInfo) MaxCodeLength(col int) int            { return info.codeSystem.MaxCodeLength(col) }
func (info *GTInfo) ColumnBlock(n int) ImmutableBitSet    { return info.colBlocks[n] }
func (info *GTInfo) IsPrimaryKeyColumn(col int) bool      { return info.primaryKey.Get(col) }
func (info *GTInfo) String() string                       { return "GTInfo " + info.tableName }
func (info *GTInfo) validColumn(col int) bool             { return col >= 0 && col < len(info.colTypes) }
func (info *GTInfo) hasColumns(cols ImmutableBitSet) bool { return info.colAll.Contains(cols) }

// MaxColumnLength sums the maximum encoded length of the given columns.
func (info *GTInfo) MaxColumnLength(cols ImmutableBitSet) int {
	n := 0
	for _, c := range cols.Indexes() {
		n += info.codeSystem.MaxCodeLength(c)
	}
	return n
}

// InfoBuilder assembles a GTInfo.
type InfoBuilder struct {
	info GTInfo
}

// NewInfoBuilder returns a builder with the default row block size.
func NewInfoBuilder() *InfoBuilder {
	return &InfoBuilder{info: GTInfo{rowBlockSize: DefaultRowBlockSize}}
}

func (b *InfoBuilder) SetTableName(name string) *InfoBuilder {
	b.info.tableName = name
	return b
}

func (b *InfoBuilder) SetCodeSystem(cs CodeSystem) *InfoBuilder {
	b.info.codeSystem = cs
	return b
}

func (b *InfoBuilder) SetColumns(types ...measure.DataType) *InfoBuilder {
	b.info.colTypes = types
	return b
}

func (b *InfoBuilder) SetPrimaryKey(pk ImmutableBitSet) *InfoBuilder {
	b.info.primaryKey = pk
	return b
}

// SetColumnBlocks sets the column groups stored together in a row block.
// By default the primary key forms one block and the other columns another.
func (b *InfoBuilder) SetColumnBlocks(blocks ...ImmutableBitSet) *InfoBuilder {
	b.info.colBlocks = blocks
	return b
}

func (b *InfoBuilder) SetRowBlockSize(n int) *InfoBuilder {
	b.info.rowBlockSize = n
	return b
}

// Build validates the schema and binds the code system to it.
func (b *InfoBuilder) Build() (*GTInfo, error) {
	info := b.info
	if info.codeSystem == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "grid table info needs a code system")
	}
	if len(info.colTypes) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "grid table info needs at least one column")
	}
	if info.rowBlockSize <= 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "row block size must be positive, got %d", info.rowBlockSize)
	}
	info.colAll = BitSetRange(0, len(info.colTypes))
	if !info.colAll.Contains(info.primaryKey) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "primary key %s outside columns %s", info.primaryKey, info.colAll)
	}

	if len(info.colBlocks) == 0 {
		info.colBlocks = defaultColumnBlocks(info.primaryKey, info.colAll)
	}
	if err := validateColumnBlocks(info.colBlocks, info.colAll); err != nil {
		return nil, err
	}

	if err := info.codeSystem.Init(&info); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "init code system")
	}
	return &info, nil
}

func defaultColumnBlocks(pk, all ImmutableBitSet) []ImmutableBitSet {
	rest := all.AndNot(pk)
	switch {
	case pk.IsEmpty():
		return []ImmutableBitSet{all}
	case rest.IsEmpty():
		return []ImmutableBitSet{pk}
	default:
		return []ImmutableBitSet{pk, rest}
	}
}

func validateColumnBlocks(blocks []ImmutableBitSet, all ImmutableBitSet) error {
	var seen ImmutableBitSet
	for i, blk := range blocks {
		if blk.IsEmpty() {
			return errors.Newf(errors.ErrorTypeValidation, "column block %d is empty", i)
		}
		if seen.Intersects(blk) {
			return errors.Newf(errors.ErrorTypeValidation, "column block %d overlaps an earlier block", i)
		}
		seen = seen.Or(blk)
	}
	if !seen.Equals(all) {
		return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("column blocks %s do not cover columns %s", seen, all))
	}
	return nil
}
