package inmemcubing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/dict"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/measure"
	"github.com/qhzhou/Kylin/pkg/testutil"
)

// newTestDesc returns a cube over dims with SUM(M) and COUNT(1).
func newTestDesc(t *testing.T, dims ...string) *cube.Desc {
	t.Helper()
	d := &cube.Desc{Name: "test"}
	for _, name := range dims {
		d.Dimensions = append(d.Dimensions, cube.DimensionDesc{Name: name})
	}
	d.Measures = []cube.MeasureDesc{
		{
			Name: "M_SUM",
			Function: cube.FunctionDesc{
				Expression: measure.FuncSum,
				Parameters: []cube.ParameterDesc{{Type: cube.ParamColumn, Value: "M"}},
				ReturnType: "bigint",
			},
		},
		{
			Name: "CNT",
			Function: cube.FunctionDesc{
				Expression: measure.FuncCount,
				Parameters: []cube.ParameterDesc{{Type: cube.ParamConstant, Value: "1"}},
				ReturnType: "bigint",
			},
		},
	}
	require.NoError(t, d.Validate())
	return d
}

// buildDicts builds one sorted dictionary per dimension from rows laid out
// as the dimensions followed by other columns.
func buildDicts(desc *cube.Desc, rows [][]string) map[string]dict.Dictionary {
	dicts := make(map[string]dict.Dictionary, desc.DimensionCount())
	for i, d := range desc.Dimensions {
		b := dict.NewBuilder()
		for _, row := range rows {
			b.Add(row[i])
		}
		dicts[d.Name] = b.Build()
	}
	return dicts
}

func newTestConfig(t *testing.T, backend string) *config.CubingConfig {
	t.Helper()
	cfg := config.NewCubingConfig("test")
	cfg.Build.Workers = 2
	cfg.Build.GCPause = 0
	cfg.Build.TaskPollInterval = 50 * time.Millisecond
	cfg.Build.MinBaseAggrCacheMB = 1
	cfg.Storage.Backend = backend
	cfg.Storage.SpillDir = t.TempDir()
	cfg.Storage.RowBlockSize = 2
	cfg.Reliability.RetryDelay = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestBuilder(t *testing.T, desc *cube.Desc, rows [][]string, cfg *config.CubingConfig, opts ...BuilderOption) *InMemCubeBuilder {
	t.Helper()
	b, err := NewInMemCubeBuilder(desc, buildDicts(desc, rows), cfg, testutil.TestLogger(t), opts...)
	require.NoError(t, err)
	return b
}

// scenarioRows are the flat rows A, B, C, M.
var scenarioRows = [][]string{
	{"a1", "b1", "c1", "10"},
	{"a1", "b1", "c1", "5"},
	{"a1", "b2", "c1", "7"},
}

// latticeRows spreads 200 rows over four dimensions.
func latticeRows() [][]string {
	rows := make([][]string, 0, 200)
	for i := 0; i < 200; i++ {
		rows = append(rows, []string{
			fmt.Sprintf("a%d", i%3),
			fmt.Sprintf("b%d", i%5),
			fmt.Sprintf("c%d", i%7),
			fmt.Sprintf("d%d", i%2),
			fmt.Sprint(i),
		})
	}
	return rows
}

// collectWriter decodes every written record.
type collectWriter struct {
	mu     sync.Mutex
	rows   map[int64][][]interface{}
	order  []int64
	writes int
}

func newCollectWriter() *collectWriter {
	return &collectWriter{rows: make(map[int64][][]interface{})}
}

func (w *collectWriter) Write(cuboidID int64, rec *gridtable.GTRecord) error {
	vals, err := rec.Values(rec.Info().AllColumns())
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.rows[cuboidID]; !ok {
		w.order = append(w.order, cuboidID)
	}
	w.rows[cuboidID] = append(w.rows[cuboidID], vals)
	w.writes++
	return nil
}

// tableValues scans every row of a result table.
func tableValues(t *testing.T, r *CuboidResult) [][]interface{} {
	t.Helper()
	sc, err := r.Table.Scan(testutil.TestContext(t), nil)
	require.NoError(t, err)
	var out [][]interface{}
	for sc.Next() {
		vals, err := sc.Record().Values(r.Table.Info().AllColumns())
		require.NoError(t, err)
		out = append(out, vals)
	}
	require.NoError(t, sc.Err())
	require.NoError(t, sc.Close())
	return out
}
