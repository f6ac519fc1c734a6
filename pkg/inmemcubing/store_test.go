package inmemcubing

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qhzhou/Kylin/pkg/compression"
	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/testutil"
)

var storeRows = [][]interface{}{
	{"a1", "b1", "c1", int64(10), int64(1)},
	{"a1", "b2", "c1", int64(7), int64(1)},
	{"a2", "b1", nil, int64(-3), int64(2)},
	{"a2", "b2", "c1", nil, int64(1)},
	{nil, nil, nil, int64(0), int64(4)},
}

func newStoreInfo(t *testing.T) *gridtable.GTInfo {
	t.Helper()
	desc := newTestDesc(t, "A", "B", "C")
	rows := [][]string{{"a1", "b1", "c1"}, {"a2", "b2", "c1"}}
	info, err := cube.NewGTInfo(desc, desc.BaseCuboidID(), buildDicts(desc, rows), 2)
	require.NoError(t, err)
	return info
}

func writeStoreRows(t *testing.T, table *gridtable.GridTable) {
	t.Helper()
	b, err := table.Rebuild()
	require.NoError(t, err)
	rec := gridtable.NewRecord(table.Info())
	for _, row := range storeRows {
		require.NoError(t, rec.SetValues(row...))
		require.NoError(t, b.Write(rec))
	}
	require.NoError(t, b.Close())
}

func readStoreRows(t *testing.T, table *gridtable.GridTable) [][]interface{} {
	t.Helper()
	sc, err := table.Scan(testutil.TestContext(t), nil)
	require.NoError(t, err)
	var out [][]interface{}
	for sc.Next() {
		vals, err := sc.Record().Values(table.Info().AllColumns())
		require.NoError(t, err)
		out = append(out, vals)
	}
	require.NoError(t, sc.Err())
	require.NoError(t, sc.Close())
	return out
}

func TestDiskStoreRoundTrip(t *testing.T) {
	algorithms := []compression.Algorithm{
		compression.None, compression.Gzip, compression.Snappy,
		compression.LZ4, compression.Zstd, compression.S2,
	}
	for _, algo := range algorithms {
		t.Run(string(algo), func(t *testing.T) {
			comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo, Level: compression.Default})
			require.NoError(t, err)

			info := newStoreInfo(t)
			store, err := NewConcurrentDiskStore(info, t.TempDir(),
				WithCompressor(comp), WithBufferSize(64), WithLogger(testutil.TestLogger(t)))
			require.NoError(t, err)
			table := gridtable.New(info, store)

			writeStoreRows(t, table)
			assert.Positive(t, store.SizeInBytes())
			assert.Equal(t, storeRows, readStoreRows(t, table))

			// Rebuild replaces the content.
			b, err := table.Rebuild()
			require.NoError(t, err)
			rec := gridtable.NewRecord(info)
			require.NoError(t, rec.SetValues(storeRows[0]...))
			require.NoError(t, b.Write(rec))
			require.NoError(t, b.Close())
			assert.Equal(t, storeRows[:1], readStoreRows(t, table))

			require.NoError(t, table.Close())
			_, err = os.Stat(store.Path())
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestDiskStoreStateTransitions(t *testing.T) {
	info := newStoreInfo(t)
	store, err := NewConcurrentDiskStore(info, t.TempDir())
	require.NoError(t, err)

	state, _ := store.State()
	assert.Equal(t, gridtable.StateIdle, state)

	w, err := store.Rebuild()
	require.NoError(t, err)
	state, _ = store.State()
	assert.Equal(t, gridtable.StateWriting, state)

	_, err = store.Rebuild()
	assert.True(t, errors.IsType(err, errors.ErrorTypeContract), "second writer: %v", err)
	_, err = store.Scan()
	assert.True(t, errors.IsType(err, errors.ErrorTypeContract), "reader during write: %v", err)
	assert.True(t, errors.IsType(store.Close(), errors.ErrorTypeContract))

	block := gridtable.NewRowBlock(info)
	rec := gridtable.NewRecord(info)
	require.NoError(t, rec.SetValues(storeRows[0]...))
	block.Append(rec)
	require.NoError(t, w.WriteBlock(block))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.True(t, errors.IsType(w.WriteBlock(block), errors.ErrorTypeContract))

	_, err = store.Append()
	assert.True(t, errors.IsType(err, errors.ErrorTypeContract))

	r1, err := store.Scan()
	require.NoError(t, err)
	r2, err := store.Scan()
	require.NoError(t, err)
	state, readers := store.State()
	assert.Equal(t, gridtable.StateReading, state)
	assert.Equal(t, 2, readers)

	_, err = store.Rebuild()
	assert.True(t, errors.IsType(err, errors.ErrorTypeContract), "writer during read: %v", err)

	// Each reader has its own cursor over the shared file.
	got := gridtable.NewRowBlock(info)
	require.NoError(t, r1.ReadBlock(got))
	assert.Equal(t, 1, got.NumRows())
	assert.Equal(t, io.EOF, r1.ReadBlock(got))
	require.NoError(t, r2.ReadBlock(got))
	assert.Equal(t, 1, got.NumRows())

	require.NoError(t, r1.Close())
	state, readers = store.State()
	assert.Equal(t, gridtable.StateReading, state)
	assert.Equal(t, 1, readers)
	require.NoError(t, r2.Close())
	require.NoError(t, r2.Close())
	state, _ = store.State()
	assert.Equal(t, gridtable.StateIdle, state)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	state, _ = store.State()
	assert.Equal(t, gridtable.StateClosed, state)
	_, err = store.Scan()
	assert.True(t, errors.IsType(err, errors.ErrorTypeContract))
}

func TestDiskStoreRacingScanAndRebuild(t *testing.T) {
	info := newStoreInfo(t)
	dir := t.TempDir()
	for i := 0; i < 50; i++ {
		store, err := NewConcurrentDiskStore(info, dir)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			start     = make(chan struct{})
			reader    gridtable.BlockReader
			writer    gridtable.BlockWriter
			readErr   error
			writerErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			reader, readErr = store.Scan()
		}()
		go func() {
			defer wg.Done()
			<-start
			writer, writerErr = store.Rebuild()
		}()
		close(start)
		wg.Wait()

		winners := 0
		if readErr == nil {
			winners++
			require.NoError(t, reader.Close())
		} else {
			assert.True(t, errors.IsType(readErr, errors.ErrorTypeContract), "reader: %v", readErr)
		}
		if writerErr == nil {
			winners++
			require.NoError(t, writer.Close())
		} else {
			assert.True(t, errors.IsType(writerErr, errors.ErrorTypeContract), "writer: %v", writerErr)
		}
		assert.Equal(t, 1, winners)
		require.NoError(t, store.Close())
	}
}

func TestDiskStoreWithFile(t *testing.T) {
	info := newStoreInfo(t)
	path := filepath.Join(t.TempDir(), "cuboid.gt")
	store, err := NewConcurrentDiskStore(info, "", WithFile(path))
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	table := gridtable.New(info, store)
	writeStoreRows(t, table)
	assert.Equal(t, storeRows, readStoreRows(t, table))
	require.NoError(t, table.Close())

	// The caller owns the file.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestHybridStoreSpill(t *testing.T) {
	info := newStoreInfo(t)
	dir := t.TempDir()
	newDisk := func(info *gridtable.GTInfo) (*ConcurrentDiskStore, error) {
		return NewConcurrentDiskStore(info, dir)
	}

	store := NewHybridStore(info, newDisk, testutil.TestLogger(t))
	table := gridtable.New(info, store)
	writeStoreRows(t, table)
	assert.False(t, store.Spilled())

	// A table being read cannot move.
	r, err := store.Scan()
	require.NoError(t, err)
	assert.True(t, errors.IsType(store.Spill(), errors.ErrorTypeContract))
	require.NoError(t, r.Close())

	require.NoError(t, store.Spill())
	assert.True(t, store.Spilled())
	require.NoError(t, store.Spill())
	assert.Equal(t, storeRows, readStoreRows(t, table))

	state, _ := store.State()
	assert.Equal(t, gridtable.StateIdle, state)
	require.NoError(t, table.Close())
	state, _ = store.State()
	assert.Equal(t, gridtable.StateClosed, state)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewStoreFactory(t *testing.T) {
	info := newStoreInfo(t)
	tests := []struct {
		backend string
		check   func(t *testing.T, s gridtable.Store)
	}{
		{config.BackendMemory, func(t *testing.T, s gridtable.Store) { assert.IsType(t, &gridtable.MemStore{}, s) }},
		{config.BackendDisk, func(t *testing.T, s gridtable.Store) { assert.IsType(t, &ConcurrentDiskStore{}, s) }},
		{config.BackendHybrid, func(t *testing.T, s gridtable.Store) { assert.IsType(t, &HybridStore{}, s) }},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := newTestConfig(t, tt.backend)
			cfg.Storage.Compression = "zstd"
			factory, err := NewStoreFactory(cfg.Storage, testutil.TestLogger(t))
			require.NoError(t, err)
			store, err := factory(info)
			require.NoError(t, err)
			tt.check(t, store)

			table := gridtable.New(info, store)
			writeStoreRows(t, table)
			assert.Equal(t, storeRows, readStoreRows(t, table))
			require.NoError(t, table.Close())
		})
	}

	cfg := newTestConfig(t, config.BackendDisk)
	cfg.Storage.Backend = "tape"
	_, err := NewStoreFactory(cfg.Storage, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg.Storage.Backend = config.BackendDisk
	cfg.Storage.Compression = "brotli"
	_, err = NewStoreFactory(cfg.Storage, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
