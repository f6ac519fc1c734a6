package gridtable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qhzhou/Kylin/pkg/measure"
)

// newTestInfo returns the table (A varchar(4), B varchar(4), C varchar(4),
// M bigint) keyed on A, B, C with two rows per block.
func newTestInfo(t *testing.T) *GTInfo {
	t.Helper()
	info, err := NewInfoBuilder().
		SetTableName("test").
		SetCodeSystem(NewSimpleCodeSystem()).
		SetColumns(
			measure.MustParseDataType("varchar(4)"),
			measure.MustParseDataType("varchar(4)"),
			measure.MustParseDataType("varchar(4)"),
			measure.MustParseDataType("bigint"),
		).
		SetPrimaryKey(NewBitSet(0, 1, 2)).
		SetRowBlockSize(2).
		Build()
	require.NoError(t, err)
	return info
}

func writeRows(t *testing.T, tbl *GridTable, rows [][]interface{}) {
	t.Helper()
	b, err := tbl.Rebuild()
	require.NoError(t, err)
	rec := NewRecord(tbl.Info())
	for _, row := range rows {
		require.NoError(t, rec.SetValues(row...))
		require.NoError(t, b.Write(rec))
	}
	require.NoError(t, b.Close())
	require.Equal(t, int64(len(rows)), b.WrittenRowCount())
}

// scanValues drains a scanner, decoding cols of every record.
func scanValues(t *testing.T, sc Scanner, cols ImmutableBitSet) [][]interface{} {
	t.Helper()
	var out [][]interface{}
	for sc.Next() {
		vals, err := sc.Record().Values(cols)
		require.NoError(t, err)
		out = append(out, vals)
	}
	require.NoError(t, sc.Err())
	require.NoError(t, sc.Close())
	return out
}

func scanTable(t *testing.T, tbl *GridTable, req *ScanRequest, cols ImmutableBitSet) [][]interface{} {
	t.Helper()
	sc, err := tbl.Scan(context.Background(), req)
	require.NoError(t, err)
	return scanValues(t, sc, cols)
}

var baseRows = [][]interface{}{
	{"a1", "b1", "c1", int64(10)},
	{"a1", "b1", "c1", int64(5)},
	{"a1", "b2", "c1", int64(7)},
}
