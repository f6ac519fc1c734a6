package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/measure"
	"github.com/qhzhou/Kylin/pkg/sink"
	"github.com/qhzhou/Kylin/pkg/testutil"
)

var flatHeader = []string{"REGION", "PRODUCT", "AMOUNT"}

var flatRows = [][]string{
	{"east", "apple", "3"},
	{"east", "pear", "4"},
	{"west", "apple", "5"},
	{"west", "apple", "6"},
	{"", "pear", "1"},
}

func newDesc(t *testing.T) *cube.Desc {
	t.Helper()
	d := &cube.Desc{
		Name: "sales",
		Dimensions: []cube.DimensionDesc{
			{Name: "REGION"},
			{Name: "PRODUCT"},
		},
		Measures: []cube.MeasureDesc{
			{Name: "AMOUNT_SUM", Function: cube.FunctionDesc{
				Expression: measure.FuncSum,
				Parameters: []cube.ParameterDesc{{Type: cube.ParamColumn, Value: "AMOUNT"}},
				ReturnType: "bigint",
			}},
		},
	}
	require.NoError(t, d.Validate())
	return d
}

func newJob(t *testing.T, input string) *config.JobConfig {
	t.Helper()
	job := config.NewJobConfig("sales")
	job.CubeDescPath = "sales.yaml"
	job.Input.Path = input
	job.Input.QueueSize = 2
	job.Output.Path = filepath.Join(t.TempDir(), "out")
	job.Build.Workers = 2
	job.Build.GCPause = 0
	job.Build.MinBaseAggrCacheMB = 1
	job.Storage.SpillDir = t.TempDir()
	job.ReportInterval = 0
	require.NoError(t, job.Validate())
	return job
}

func TestBuildDictionaries(t *testing.T) {
	path := testutil.WriteFlatTable(t, "flat.csv", flatHeader, flatRows)
	dicts, flat, err := BuildDictionaries(testutil.TestContext(t), newDesc(t), newJob(t, path).Input)
	require.NoError(t, err)

	assert.Equal(t, 2, flat.IndexOf("amount"))
	assert.Equal(t, 2, dicts["REGION"].Size())
	assert.Equal(t, 2, dicts["PRODUCT"].Size())
	id, err := dicts["PRODUCT"].IDOf("pear")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestBuildDictionariesMissingColumn(t *testing.T) {
	path := testutil.WriteFlatTable(t, "flat.csv", []string{"REGION", "AMOUNT"}, [][]string{{"east", "1"}})
	_, _, err := BuildDictionaries(testutil.TestContext(t), newDesc(t), newJob(t, path).Input)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "got %v", err)
}

func TestCubingPipelineRun(t *testing.T) {
	path := testutil.WriteFlatTable(t, "flat.csv", flatHeader, flatRows)
	job := newJob(t, path)
	job.ReportInterval = time.Millisecond

	mem := sink.NewMemorySink()
	p := NewCubingPipeline(job, newDesc(t), testutil.TestLogger(t))
	p.newSink = func() (sink.Sink, error) { return mem, nil }

	stats, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.RowsRead)
	assert.Equal(t, 3, stats.Cuboids)
	assert.NotZero(t, stats.Checksum)

	// REGION=2, PRODUCT=1; a null region sorts last.
	assert.Equal(t, [][]interface{}{
		{"east", int64(7)},
		{"west", int64(11)},
		{nil, int64(1)},
	}, mem.Rows(2))
	assert.Equal(t, [][]interface{}{
		{"apple", int64(14)},
		{"pear", int64(5)},
	}, mem.Rows(1))
}

func TestCubingPipelineFormats(t *testing.T) {
	path := testutil.WriteFlatTable(t, "flat.csv", flatHeader, flatRows)
	var checksums []uint64
	for _, format := range []string{config.FormatCSV, config.FormatJSON, config.FormatArrow, config.FormatAvro} {
		t.Run(format, func(t *testing.T) {
			job := newJob(t, path)
			job.Output.Format = format
			stats, err := NewCubingPipeline(job, newDesc(t), testutil.TestLogger(t)).Run(testutil.TestContext(t))
			require.NoError(t, err)
			checksums = append(checksums, stats.Checksum)

			entries, err := os.ReadDir(job.Output.Path)
			require.NoError(t, err)
			assert.NotEmpty(t, entries)
		})
	}
	require.Len(t, checksums, 4)
	for _, c := range checksums[1:] {
		assert.Equal(t, checksums[0], c)
	}
}

func TestCubingPipelineWithoutHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.csv")
	require.NoError(t, os.WriteFile(path, []byte("east|apple|3\nwest|pear|4\n"), 0o644))
	job := newJob(t, path)
	job.Input.HasHeader = false
	job.Input.Delimiter = "|"

	mem := sink.NewMemorySink()
	p := NewCubingPipeline(job, newDesc(t), testutil.TestLogger(t))
	p.newSink = func() (sink.Sink, error) { return mem, nil }
	stats, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.RowsRead)
	assert.Equal(t, [][]interface{}{{"east", "apple", int64(3)}, {"west", "pear", int64(4)}}, mem.Rows(3))
}

func TestCubingPipelineBadMetric(t *testing.T) {
	path := testutil.WriteFlatTable(t, "flat.csv", flatHeader, append([][]string{{"east", "apple", "lots"}}, flatRows...))
	_, err := NewCubingPipeline(newJob(t, path), newDesc(t), testutil.TestLogger(t)).Run(testutil.TestContext(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "got %v", err)
}

func TestCubingPipelineMissingInput(t *testing.T) {
	job := newJob(t, filepath.Join(t.TempDir(), "missing.csv"))
	_, err := NewCubingPipeline(job, newDesc(t), testutil.TestLogger(t)).Run(testutil.TestContext(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage), "got %v", err)
}

func TestCubingPipelineCancelled(t *testing.T) {
	path := testutil.WriteFlatTable(t, "flat.csv", flatHeader, flatRows)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCubingPipeline(newJob(t, path), newDesc(t), testutil.TestLogger(t)).Run(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled), "got %v", err)
}

func TestCubingPipelineAbortWhileOpeningSink(t *testing.T) {
	path := testutil.WriteFlatTable(t, "flat.csv", flatHeader, flatRows)
	p := NewCubingPipeline(newJob(t, path), newDesc(t), testutil.TestLogger(t))
	mem := sink.NewMemorySink()
	p.newSink = func() (sink.Sink, error) {
		p.Abort()
		return mem, nil
	}

	_, err := p.Run(testutil.TestContext(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled), "got %v", err)
	assert.Empty(t, mem.CuboidIDs())
}

func TestCubingPipelineAbortIdle(t *testing.T) {
	path := testutil.WriteFlatTable(t, "flat.csv", flatHeader, flatRows)
	p := NewCubingPipeline(newJob(t, path), newDesc(t), testutil.TestLogger(t))
	p.Abort()

	mem := sink.NewMemorySink()
	p.newSink = func() (sink.Sink, error) { return mem, nil }
	stats, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(len(flatRows)), stats.RowsRead)
}

func TestCubingPipelineLogsCubeOnce(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	path := testutil.WriteFlatTable(t, "flat.csv", flatHeader, flatRows)
	p := NewCubingPipeline(newJob(t, path), newDesc(t), zap.New(core))
	p.newSink = func() (sink.Sink, error) { return sink.NewMemorySink(), nil }
	_, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)

	require.Positive(t, logs.Len())
	for _, entry := range logs.All() {
		n := 0
		for _, f := range entry.Context {
			if f.Key == "cube" {
				n++
			}
		}
		assert.Equal(t, 1, n, "%q carries the cube %d times", entry.Message, n)
	}
}
