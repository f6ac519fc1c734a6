// Package inmemcubing computes every cuboid of a cube in process memory.
//
// The builder aggregates the flat input rows into the base cuboid, sizes a
// memory budget from it, and then lets a pool of workers derive each
// remaining cuboid from its parent in the scheduler's spanning tree. Each
// cuboid is a grid table held by a memory, disk or hybrid store. Finished
// cuboids are written to a CuboidWriter in ascending id order, or as soon as
// all of their children are computed when eager flushing is enabled.
//
//	b, err := inmemcubing.NewInMemCubeBuilder(desc, dicts, cfg, log)
//	if err != nil {
//	    return err
//	}
//	err = b.Build(ctx, queue, sink)
package inmemcubing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/dict"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/logger"
	"github.com/qhzhou/Kylin/pkg/memory"
	"github.com/qhzhou/Kylin/pkg/metrics"
)

const tracerName = "github.com/qhzhou/Kylin/pkg/inmemcubing"

// baseCacheHeapFactor inflates the heap growth measured while building the
// base cuboid.
const baseCacheHeapFactor = 1.1

// CuboidWriter receives the rows of computed cuboids. rec is only valid
// for the duration of the call.
type CuboidWriter interface {
	Write(cuboidID int64, rec *gridtable.GTRecord) error
}

// InMemCubeBuilder builds all cuboids of one cube. A builder may run
// several builds one after another; each build owns its budget, queue and
// stores.
type InMemCubeBuilder struct {
	desc      *cube.Desc
	dicts     map[string]dict.Dictionary
	cfg       *config.CubingConfig
	logger    *zap.Logger
	scheduler cube.Scheduler
	flat      *cube.FlatTableDesc
	newStore  StoreFactory

	mu     sync.Mutex
	cancel context.CancelFunc
}

// BuilderOption configures an InMemCubeBuilder.
type BuilderOption func(*InMemCubeBuilder)

// WithFlatTable sets the column layout of the input rows. The default is
// cube.NewFlatTableDesc of the descriptor.
func WithFlatTable(flat *cube.FlatTableDesc) BuilderOption {
	return func(b *InMemCubeBuilder) { b.flat = flat }
}

// WithScheduler replaces the default cuboid scheduler.
func WithScheduler(s cube.Scheduler) BuilderOption {
	return func(b *InMemCubeBuilder) { b.scheduler = s }
}

// WithStoreFactory replaces the store factory selected by the storage
// configuration.
func WithStoreFactory(f StoreFactory) BuilderOption {
	return func(b *InMemCubeBuilder) { b.newStore = f }
}

// NewInMemCubeBuilder creates a builder for desc. dicts maps every
// dimension name to its dictionary.
func NewInMemCubeBuilder(desc *cube.Desc, dicts map[string]dict.Dictionary, cfg *config.CubingConfig, log *zap.Logger, opts ...BuilderOption) (*InMemCubeBuilder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid cubing config")
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	for _, d := range desc.Dimensions {
		if _, ok := dicts[d.Name]; !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "no dictionary for dimension %s", d.Name)
		}
	}

	b := &InMemCubeBuilder{
		desc:   desc,
		dicts:  dicts,
		cfg:    cfg,
		logger: logger.OrDefault(log).With(zap.String("cube", desc.Name)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.scheduler == nil {
		b.scheduler = cube.NewScheduler(desc)
	}
	if b.flat == nil {
		b.flat = cube.NewFlatTableDesc(desc)
	}
	if b.newStore == nil {
		f, err := NewStoreFactory(cfg.Storage, b.logger)
		if err != nil {
			return nil, err
		}
		b.newStore = f
	}
	return b, nil
}

// Scheduler returns the cuboid scheduler of the builder.
func (b *InMemCubeBuilder) Scheduler() cube.Scheduler { return b.scheduler }

// Build computes every cuboid from input and writes them to output. An
// empty input builds nothing. Rows already written are not taken back when
// the build fails.
func (b *InMemCubeBuilder) Build(ctx context.Context, input RowSource, output CuboidWriter) error {
	_, err := b.run(ctx, input, output)
	return err
}

// BuildResults computes every cuboid from input and returns them in
// ascending id order without writing them anywhere. The caller owns the
// result tables and must close them, see CloseResults.
func (b *InMemCubeBuilder) BuildResults(ctx context.Context, input RowSource) ([]*CuboidResult, error) {
	return b.run(ctx, input, nil)
}

// Abort cancels the running build. The build returns a cancelled error.
func (b *InMemCubeBuilder) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// CloseResults closes the tables of results.
func CloseResults(results []*CuboidResult) error {
	var err error
	for _, r := range results {
		err = multierr.Append(err, r.Table.Close())
	}
	return err
}

func (b *InMemCubeBuilder) run(ctx context.Context, input RowSource, output CuboidWriter) ([]*CuboidResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.cancel = nil
		b.mu.Unlock()
	}()

	buildID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.BuildIDKey, buildID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "inmemcubing.Build",
		trace.WithAttributes(
			attribute.String("cube", b.desc.Name),
			attribute.Int("cuboids", b.scheduler.CuboidCount()),
			attribute.Int("workers", b.cfg.Build.Workers),
		))
	defer span.End()

	bd := &build{
		InMemCubeBuilder: b,
		log:              logger.FromContext(ctx, b.logger),
		input:            input,
		output:           output,
		queue:            newTaskQueue(b.desc.Name),
		arena:            make(map[int64]*CuboidResult),
		pending:          make(map[int64]int),
		flushed:          make(map[int64]bool),
		total:            int64(b.scheduler.CuboidCount()),
	}
	bd.retry = newRetryPolicy(b.cfg.Reliability, bd.log)

	results, err := bd.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		bd.closeAll()
		return nil, err
	}
	return results, nil
}

// build is the state of one Build call.
type build struct {
	*InMemCubeBuilder
	log    *zap.Logger
	input  RowSource
	output CuboidWriter
	queue  *taskQueue
	budget *memory.BudgetController
	retry  retryPolicy
	base   *CuboidResult
	total  int64

	completed atomic.Int64

	mu      sync.Mutex
	arena   map[int64]*CuboidResult
	pending map[int64]int // children not yet computed
	flushed map[int64]bool

	flushMu sync.Mutex
}

func (bd *build) execute(ctx context.Context) ([]*CuboidResult, error) {
	start := time.Now()
	base, err := bd.buildBase(ctx)
	if err != nil {
		return nil, err
	}
	if base == nil {
		bd.log.Info("input is empty, no cuboid built")
		return nil, nil
	}
	bd.base = base

	budgetMB, err := bd.budgetMB(ctx)
	if err != nil {
		return nil, err
	}
	bd.budget = memory.NewBudgetController(bd.desc.Name, budgetMB, bd.log)
	bd.retry.onOutOfMemory = bd.relieveMemory

	if err := bd.complete(ctx, base); err != nil {
		return nil, err
	}
	if err := bd.runWorkers(ctx); err != nil {
		return nil, err
	}

	bd.log.Info("all cuboids computed",
		zap.Int64("cuboids", bd.completed.Load()),
		zap.Duration("elapsed", time.Since(start)))

	if bd.output != nil {
		return nil, bd.flushAll(ctx)
	}
	return bd.sortedResults(), nil
}

// buildBase aggregates the input into the base cuboid. It returns nil when
// the input has no rows.
func (bd *build) buildBase(ctx context.Context) (*CuboidResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "inmemcubing.BuildBaseCuboid")
	defer span.End()

	start := time.Now()
	heapBefore := memory.HeapInUseMB()
	baseID := bd.scheduler.BaseCuboidID()

	info, err := cube.NewGTInfo(bd.desc, baseID, bd.dicts, bd.cfg.Storage.RowBlockSize)
	if err != nil {
		return nil, err
	}
	conv, err := newInputConverter(ctx, bd.desc, bd.flat, info, bd.input)
	if err != nil {
		return nil, err
	}
	req, err := gridtable.NewScanRequest(info,
		gridtable.WithAggregation(info.PrimaryKey(), cube.MetricColumns(info), bd.desc.MeasureFuncs()))
	if err != nil {
		return nil, err
	}
	agg := gridtable.NewAggregateScanner(ctx, req, conv)
	defer agg.Close()

	result, err := bd.writeCuboid(baseID, 0, info, agg, nil)
	metrics.RowsIngested.WithLabelValues(bd.desc.Name).Add(float64(conv.ScannedRowCount()))
	if err != nil {
		return nil, err
	}
	if result.NRows == 0 {
		return nil, result.Table.Close()
	}

	heapDelta := memory.HeapInUseMB() - heapBefore
	result.AggrCacheMB = max(
		int(float64(heapDelta)*baseCacheHeapFactor),
		ceilMB(agg.EstimateSizeOfAggrCache()),
		bd.cfg.Build.MinBaseAggrCacheMB,
		1)
	result.TimeSpent = time.Since(start)
	bd.observe(result, metrics.StatusSuccess)

	span.SetAttributes(attribute.Int64("rows", result.NRows), attribute.Int64("input_rows", conv.ScannedRowCount()))
	bd.log.Info("base cuboid built",
		zap.Int64("cuboid_id", baseID),
		zap.Int64("input_rows", conv.ScannedRowCount()),
		zap.Int64("rows", result.NRows),
		zap.String("aggr_cache", humanize.IBytes(uint64(result.AggrCacheMB)<<20)),
		zap.Duration("elapsed", result.TimeSpent))
	return result, nil
}

// budgetMB sizes the memory budget once the base cuboid is known. The
// budget never drops below the base cuboid's cache, so any child of the
// base can always be aggregated.
func (bd *build) budgetMB(ctx context.Context) (int, error) {
	if bd.cfg.Build.MemoryBudgetMB > 0 {
		budget := max(bd.cfg.Build.MemoryBudgetMB, bd.base.AggrCacheMB)
		if budget != bd.cfg.Build.MemoryBudgetMB {
			bd.log.Warn("configured memory budget raised to the base cuboid cache",
				zap.Int("configured_mb", bd.cfg.Build.MemoryBudgetMB),
				zap.Int("budget_mb", budget))
		}
		return budget, nil
	}
	if err := memory.ForceGC(ctx, bd.cfg.Build.GCPause); err != nil {
		return 0, err
	}
	avail, err := memory.SystemAvailMB()
	if err != nil {
		bd.log.Warn("cannot read available memory, budget falls back to the base cuboid", zap.Error(err))
		avail = 0
	}
	budget := memory.Budget(avail, bd.cfg.Build.ReserveMemoryMB, bd.base.AggrCacheMB)
	bd.log.Info("memory budget sized",
		zap.String("available", humanize.IBytes(uint64(avail)<<20)),
		zap.String("reserve", humanize.IBytes(uint64(bd.cfg.Build.ReserveMemoryMB)<<20)),
		zap.String("budget", humanize.IBytes(uint64(budget)<<20)))
	return budget, nil
}

func (bd *build) runWorkers(ctx context.Context) error {
	if bd.completed.Load() == bd.total {
		return nil
	}
	workers := bd.cfg.Build.Workers
	errs := make([]error, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			errs[i] = bd.worker(gctx, i)
			return errs[i]
		})
	}
	_ = g.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	switch len(failed) {
	case 0:
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "in-mem cube build aborted")
		}
		if done := bd.completed.Load(); done != bd.total {
			return errors.Newf(errors.ErrorTypeInternal, "workers stopped after %d of %d cuboids", done, bd.total)
		}
		return nil
	case 1:
		return typedFailure(failed[0])
	default:
		for _, err := range failed {
			bd.log.Error("cube build worker failed", zap.Error(err))
		}
		first := failed[0]
		return errors.Wrap(first, errorType(first), fmt.Sprintf("%d errors during in-mem cube build", len(failed))).
			WithDetail("workers", workers).
			WithDetail("errors", multierr.Combine(failed...).Error())
	}
}

// worker takes tasks until every cuboid is computed. It stops quietly when
// another worker failed or the build was aborted.
func (bd *build) worker(ctx context.Context, n int) error {
	log := bd.log.With(zap.Int("worker", n))
	for !bd.queue.isFinished() {
		task, ok, err := bd.queue.poll(ctx, bd.cfg.Build.TaskPollInterval)
		if err != nil {
			return nil
		}
		if !ok {
			continue
		}
		result, err := bd.computeCuboid(ctx, task)
		if err != nil {
			if ctx.Err() != nil && errors.IsType(err, errors.ErrorTypeCancelled) {
				return nil
			}
			metrics.CuboidsBuilt.WithLabelValues(bd.desc.Name, metrics.StatusFailure).Inc()
			log.Error("cuboid failed", zap.Int64("cuboid_id", task.childID), zap.Error(err))
			return err
		}
		bd.observe(result, metrics.StatusSuccess)
		log.Debug("cuboid built",
			zap.Int64("cuboid_id", result.CuboidID),
			zap.Int64("parent_id", result.ParentID),
			zap.Int64("rows", result.NRows),
			zap.Int("aggr_cache_mb", result.AggrCacheMB),
			zap.Duration("elapsed", result.TimeSpent))
		if err := bd.complete(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// computeCuboid aggregates task.childID from its parent under a budget
// reservation, retrying resource failures.
func (bd *build) computeCuboid(ctx context.Context, task cuboidTask) (*CuboidResult, error) {
	ctx = context.WithValue(ctx, logger.CuboidKey, task.childID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "inmemcubing.BuildCuboid",
		trace.WithAttributes(
			attribute.Int64("cuboid_id", task.childID),
			attribute.Int64("parent_id", task.parent.CuboidID),
		))
	defer span.End()

	consumer := memory.NamedConsumer(fmt.Sprintf("AggrCache@Cuboid %d", task.childID))
	var result *CuboidResult
	err := bd.retry.run(ctx, task.childID, func(ctx context.Context, attempt int) error {
		if err := bd.budget.ReserveInsist(ctx, consumer, task.parent.AggrCacheMB*(attempt+1)); err != nil {
			return err
		}
		defer bd.budget.Release(consumer)

		r, err := bd.aggregateChild(ctx, task.parent, task.childID, bd.budget.Booking(consumer))
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := bd.sanityCheck(result); err != nil {
		span.RecordError(err)
		return nil, multierr.Append(err, result.Table.Close())
	}
	span.SetAttributes(attribute.Int64("rows", result.NRows))
	return result, nil
}

// aggregateChild scans the parent grouping by the child's dimensions. The
// aggregation fails with an out of memory error beyond limitMB.
func (bd *build) aggregateChild(ctx context.Context, parent *CuboidResult, childID int64, limitMB int) (*CuboidResult, error) {
	start := time.Now()
	info, err := cube.NewGTInfo(bd.desc, childID, bd.dicts, bd.cfg.Storage.RowBlockSize)
	if err != nil {
		return nil, err
	}
	mapping, err := cube.ChildColumns(bd.desc, parent.CuboidID, childID)
	if err != nil {
		return nil, err
	}
	parentInfo := parent.Table.Info()
	nDims := len(mapping) - bd.desc.MeasureCount()

	req, err := gridtable.NewScanRequest(parentInfo,
		gridtable.WithAggregation(gridtable.NewBitSet(mapping[:nDims]...), cube.MetricColumns(parentInfo), bd.desc.MeasureFuncs()),
		gridtable.WithAggrCacheLimit(int64(limitMB)<<20))
	if err != nil {
		return nil, err
	}
	sc, err := parent.Table.Scan(ctx, req)
	if err != nil {
		return nil, err
	}
	agg, ok := sc.(*gridtable.AggregateScanner)
	if !ok {
		_ = sc.Close()
		return nil, errors.Newf(errors.ErrorTypeInternal, "scan of cuboid %d did not aggregate", parent.CuboidID)
	}
	defer agg.Close()

	result, err := bd.writeCuboid(childID, parent.CuboidID, info, agg, mapping)
	if err != nil {
		return nil, err
	}
	result.TimeSpent = time.Since(start)
	extrapolated := int(math.Ceil(float64(result.NRows) / float64(bd.base.NRows) * float64(bd.base.AggrCacheMB)))
	result.AggrCacheMB = max(ceilMB(agg.EstimateSizeOfAggrCache()), extrapolated, 1)
	return result, nil
}

// writeCuboid stores the output of agg in a new grid table. mapping
// projects the scanned columns onto the table columns; nil keeps them.
func (bd *build) writeCuboid(cuboidID, parentID int64, info *gridtable.GTInfo, agg *gridtable.AggregateScanner, mapping []int) (*CuboidResult, error) {
	store, err := bd.newStore(info)
	if err != nil {
		return nil, err
	}
	table := gridtable.New(info, store)
	w, err := table.Rebuild()
	if err != nil {
		return nil, multierr.Append(err, table.Close())
	}

	out := gridtable.NewRecord(info)
	for agg.Next() {
		rec := agg.Record()
		if mapping != nil {
			for i, col := range mapping {
				out.Set(i, rec.Get(col))
			}
			rec = out
		}
		if err = w.Write(rec); err != nil {
			break
		}
	}
	if err == nil {
		err = agg.Err()
	}
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, multierr.Append(err, table.Close())
	}

	result := &CuboidResult{
		CuboidID: cuboidID,
		ParentID: parentID,
		Table:    table,
		NRows:    w.WrittenRowCount(),
	}
	if bd.cfg.Build.SanityCheck {
		if result.Totals, err = agg.TotalSumForSanityCheck(); err != nil {
			return nil, multierr.Append(err, table.Close())
		}
	}
	return result, nil
}

// complete records result, queues its children and flushes whatever became
// ready under eager flushing.
func (bd *build) complete(ctx context.Context, result *CuboidResult) error {
	children := bd.scheduler.Spanning(result.CuboidID)

	bd.mu.Lock()
	bd.arena[result.CuboidID] = result
	bd.pending[result.CuboidID] = len(children)
	var ready []*CuboidResult
	if len(children) == 0 {
		ready = append(ready, result)
	}
	if parent, ok := bd.arena[result.ParentID]; ok && result.ParentID != 0 {
		bd.pending[parent.CuboidID]--
		if bd.pending[parent.CuboidID] == 0 {
			ready = append(ready, parent)
		}
	}
	bd.mu.Unlock()

	tasks := make([]cuboidTask, 0, len(children))
	for _, id := range children {
		tasks = append(tasks, cuboidTask{parent: result, childID: id})
	}
	bd.queue.push(tasks...)
	if bd.completed.Add(1) == bd.total {
		bd.queue.finish()
	}

	if bd.output == nil || !bd.cfg.Build.EagerFlush {
		return nil
	}
	for _, r := range ready {
		if err := bd.flush(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (bd *build) flushAll(ctx context.Context) error {
	for _, r := range bd.sortedResults() {
		bd.mu.Lock()
		done := bd.flushed[r.CuboidID]
		bd.mu.Unlock()
		if done {
			continue
		}
		if err := bd.flush(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// flush writes every row of r to the output and closes its table.
func (bd *build) flush(ctx context.Context, r *CuboidResult) error {
	bd.flushMu.Lock()
	defer bd.flushMu.Unlock()

	sc, err := r.Table.Scan(ctx, nil)
	if err != nil {
		return err
	}
	for sc.Next() {
		if err := bd.output.Write(r.CuboidID, sc.Record()); err != nil {
			_ = sc.Close()
			return typedFailure(err)
		}
	}
	if err := multierr.Combine(sc.Err(), sc.Close()); err != nil {
		return err
	}

	bd.mu.Lock()
	bd.flushed[r.CuboidID] = true
	bd.mu.Unlock()
	return r.Table.Close()
}

// relieveMemory runs before retrying an aggregation that ran out of memory:
// it collects garbage and spills the largest idle cuboid table to disk.
// Tables being scanned, including the parent of the retried cuboid, are
// not idle and stay where they are.
func (bd *build) relieveMemory(ctx context.Context) {
	if err := memory.ForceGC(ctx, bd.cfg.Build.GCPause); err != nil {
		return
	}
	bd.mu.Lock()
	candidates := make([]*CuboidResult, 0, len(bd.arena))
	for _, r := range bd.arena {
		if !bd.flushed[r.CuboidID] {
			candidates = append(candidates, r)
		}
	}
	bd.mu.Unlock()

	// Largest tables first.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].NRows > candidates[j].NRows })
	for _, r := range candidates {
		s, ok := r.Table.Store().(Spillable)
		if !ok || s.Spilled() {
			continue
		}
		if err := s.Spill(); err != nil {
			bd.log.Debug("cuboid not spilled", zap.Int64("cuboid_id", r.CuboidID), zap.Error(err))
			continue
		}
		bd.log.Info("cuboid spilled to relieve memory", zap.Int64("cuboid_id", r.CuboidID))
		return
	}
}

func (bd *build) sanityCheck(r *CuboidResult) error {
	if !bd.cfg.Build.SanityCheck {
		return nil
	}
	if !totalsEqual(bd.base.Totals, r.Totals) {
		return errors.Newf(errors.ErrorTypeConsistency, "cuboid %d totals %v differ from base cuboid totals %v",
			r.CuboidID, r.Totals, bd.base.Totals).
			WithDetail("cuboid_id", r.CuboidID).
			WithDetail("parent_id", r.ParentID)
	}
	return nil
}

func (bd *build) observe(r *CuboidResult, status string) {
	metrics.CuboidsBuilt.WithLabelValues(bd.desc.Name, status).Inc()
	metrics.CuboidBuildLatency.WithLabelValues(bd.desc.Name).Observe(r.TimeSpent.Seconds())
	metrics.CuboidRows.WithLabelValues(bd.desc.Name).Observe(float64(r.NRows))
}

func (bd *build) sortedResults() []*CuboidResult {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	results := make([]*CuboidResult, 0, len(bd.arena))
	for _, r := range bd.arena {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CuboidID < results[j].CuboidID })
	return results
}

// closeAll closes every table not yet closed after a failed build.
func (bd *build) closeAll() {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	for id, r := range bd.arena {
		if bd.flushed[id] {
			continue
		}
		if err := r.Table.Close(); err != nil {
			bd.log.Warn("cannot close cuboid table", zap.Int64("cuboid_id", id), zap.Error(err))
		}
	}
}

func ceilMB(bytes int64) int {
	return int((bytes + 1<<20 - 1) >> 20)
}

// typedFailure keeps typed errors and reports anything else as a storage
// failure.
func typedFailure(err error) error {
	var e *errors.Error
	if errors.As(err, &e) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeStorage, "in-mem cube build failed")
}

func errorType(err error) errors.ErrorType {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Type
	}
	return errors.ErrorTypeStorage
}

// totalsEqual compares metric totals with doubles rounded to integers.
func totalsEqual(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if normalizeTotal(a[i]) != normalizeTotal(b[i]) {
			return false
		}
	}
	return true
}

func normalizeTotal(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		return math.Round(x)
	case decimal.Decimal:
		return x.String()
	default:
		return v
	}
}
