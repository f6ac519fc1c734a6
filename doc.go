// Package kylin builds OLAP cubes in memory. Given a cube descriptor and a
// stream of flat fact rows, it computes every cuboid of the cube in one
// pass: the base cuboid is aggregated from the rows, and every other cuboid
// is rolled up from its smallest already computed parent.
//
// # Architecture
//
// The builder is organized bottom-up:
//
// 1. Grid tables (pkg/gridtable): column-blocked, dictionary-encoded tables
// with a pluggable store, scan requests with filters, and a group-by
// aggregating scanner guarded by a memory limit.
//
// 2. Stores (pkg/inmemcubing): an in-memory store, a concurrent disk store
// with one writer or many readers over a shared file, and a hybrid store
// that spills to disk under memory pressure.
//
// 3. Cube building (pkg/inmemcubing): a pool of workers pulling cuboid
// tasks from a queue, a memory budget shared by all of them, retries on
// out of memory or timeout, and an ordered flush of finished cuboids.
//
// 4. Jobs (internal/pipeline, cmd/kylin-cubing): dictionary building from a
// flat table CSV, the reader feeding the builder, and the output sinks.
//
// # Quick Start
//
//	desc, _ := cube.LoadDesc("sales.yaml")
//	cfg := config.NewCubingConfig(desc.Name)
//
//	b, err := inmemcubing.NewInMemCubeBuilder(desc, dicts, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	out := sink.NewMemorySink()
//	err = b.Build(ctx, inmemcubing.NewSliceSource(rows), out)
//
// Or from the command line:
//
//	kylin-cubing build --cube sales.yaml --input flat.csv --output out --format arrow
//
// # Key Packages
//
//   - pkg/gridtable: GTInfo, GTRecord, GridTable, GTScanRequest, AggregateScanner
//   - pkg/inmemcubing: InMemCubeBuilder, ConcurrentDiskStore, HybridStore
//   - pkg/cube: cube descriptors, cuboid scheduling, per-cuboid schemas
//   - pkg/measure: data types, aggregators and cell serializers
//   - pkg/memory: the memory budget controller
//   - pkg/sink: CSV, JSON, Arrow and checksum outputs
//
// # Configuration
//
// Builds are configured with config.CubingConfig, or config.JobConfig for
// whole CLI jobs, both loadable from YAML:
//
//	name: sales
//	build:
//	  workers: 8
//	  memory_budget_mb: 2048
//	storage:
//	  backend: hybrid
//	  compression: zstd
package kylin
