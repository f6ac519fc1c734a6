// Package pipeline runs a complete cube build job: it reads a flat table
// CSV, builds the dimension dictionaries, streams rows through a bounded
// queue into the in-memory cube builder and writes every cuboid to a sink.
//
// # Execution
//
// A job runs in two passes over the flat table:
//   - Dictionary pass: one sorted dictionary per dimension
//   - Build pass: a reader goroutine feeds a RowQueue while the builder
//     consumes it, both under one errgroup so either side's failure
//     stops the other
//
// # Basic Usage
//
//	job := config.NewJobConfig("sales")
//	job.Input.Path = "flat.csv"
//	job.Output.Path = "out"
//
//	p := pipeline.NewCubingPipeline(job, desc, logger)
//	stats, err := p.Run(ctx)
package pipeline

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/dict"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/inmemcubing"
	"github.com/qhzhou/Kylin/pkg/logger"
	"github.com/qhzhou/Kylin/pkg/metrics"
	"github.com/qhzhou/Kylin/pkg/observability"
	"github.com/qhzhou/Kylin/pkg/sink"
)

const tracerName = "github.com/qhzhou/Kylin/internal/pipeline"

// Stats summarizes a finished job.
type Stats struct {
	RowsRead      int64
	Cuboids       int
	Duration      time.Duration
	RowsPerSecond float64
	// Checksum folds the encoded rows of every cuboid; equal inputs give
	// equal checksums.
	Checksum uint64
}

// CubingPipeline runs one build job.
type CubingPipeline struct {
	job  *config.JobConfig
	desc *cube.Desc
	// base is handed to the builder, which adds the cube itself
	base   *zap.Logger
	logger *zap.Logger

	// newSink opens the output; tests replace it
	newSink func() (sink.Sink, error)

	rowsRead int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCubingPipeline creates a pipeline for job over desc. The job must
// already be validated.
func NewCubingPipeline(job *config.JobConfig, desc *cube.Desc, log *zap.Logger) *CubingPipeline {
	base := logger.OrDefault(log)
	log = base.With(zap.String("cube", desc.Name))
	p := &CubingPipeline{job: job, desc: desc, base: base, logger: log}
	p.newSink = func() (sink.Sink, error) {
		return sink.New(job.Output.Format, job.Output.Path, desc, log)
	}
	return p
}

// Run executes the job and blocks until every cuboid is written or the
// job fails.
func (p *CubingPipeline) Run(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
	}()

	if p.job.Timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, p.job.Timeout)
		defer stop()
	}
	tracer := observability.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "cubing-job")
	defer span.End()
	log := observability.LoggerWithTrace(ctx, p.logger)

	start := time.Now()
	log.Info("starting cubing job",
		zap.String("input", p.job.Input.Path),
		zap.String("output", p.job.Output.Path),
		zap.String("format", p.job.Output.Format),
		zap.Int("workers", p.job.Build.Workers))

	dicts, flat, err := p.dictionaries(ctx, tracer)
	if err != nil {
		return nil, p.timeout(ctx, err)
	}

	b, err := inmemcubing.NewInMemCubeBuilder(p.desc, dicts, &p.job.CubingConfig,
		observability.LoggerWithTrace(ctx, p.base), inmemcubing.WithFlatTable(flat))
	if err != nil {
		return nil, err
	}
	out, err := p.newSink()
	if err != nil {
		return nil, err
	}
	checksums := sink.NewChecksumSink(out)

	tracker := metrics.NewThroughputTracker(p.desc.Name)
	err = p.build(ctx, tracer, b, checksums, tracker)
	if cerr := checksums.Close(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if err != nil {
		return nil, p.timeout(ctx, err)
	}

	elapsed := time.Since(start)
	stats := &Stats{
		RowsRead: atomic.LoadInt64(&p.rowsRead),
		Cuboids:  len(checksums.Sums()),
		Duration: elapsed,
		Checksum: checksums.Digest(),
	}
	if elapsed > 0 {
		stats.RowsPerSecond = float64(stats.RowsRead) / elapsed.Seconds()
	}
	log.Info("cubing job finished",
		zap.String("rows", humanize.Comma(stats.RowsRead)),
		zap.Int("cuboids", stats.Cuboids),
		zap.Duration("duration", stats.Duration),
		zap.Float64("rows_per_second", stats.RowsPerSecond),
		zap.Uint64("checksum", stats.Checksum))
	return stats, nil
}

// Abort stops a running job at whatever stage it is in; Run returns a
// cancelled error. It does nothing when no job is running.
func (p *CubingPipeline) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *CubingPipeline) dictionaries(ctx context.Context, tracer trace.Tracer) (map[string]dict.Dictionary, *cube.FlatTableDesc, error) {
	var (
		dicts map[string]dict.Dictionary
		flat  *cube.FlatTableDesc
	)
	err := observability.TraceStage(ctx, tracer, "build-dictionaries", func(ctx context.Context) (int64, error) {
		var err error
		dicts, flat, err = BuildDictionaries(ctx, p.desc, p.job.Input)
		return int64(len(dicts)), err
	})
	return dicts, flat, err
}

// build feeds the flat table through a bounded RowQueue into the builder.
func (p *CubingPipeline) build(ctx context.Context, tracer trace.Tracer, b *inmemcubing.InMemCubeBuilder, out sink.Sink, tracker *metrics.ThroughputTracker) error {
	queue := inmemcubing.NewRowQueue(p.job.Input.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	readDone := make(chan struct{})
	g.Go(func() error {
		defer close(readDone)
		defer queue.Close()
		return observability.TraceStage(gctx, tracer, "read-flat-table", func(ctx context.Context) (int64, error) {
			return p.produce(ctx, queue, tracker)
		})
	})
	g.Go(func() error {
		return observability.TraceStage(gctx, tracer, "build-cube", func(ctx context.Context) (int64, error) {
			return 0, b.Build(ctx, queue, out)
		})
	})
	if p.job.ReportInterval > 0 {
		g.Go(func() error {
			p.report(gctx, readDone, tracker)
			return nil
		})
	}
	return g.Wait()
}

func (p *CubingPipeline) produce(ctx context.Context, queue *inmemcubing.RowQueue, tracker *metrics.ThroughputTracker) (int64, error) {
	ft, err := openFlatTable(p.job.Input)
	if err != nil {
		return 0, err
	}
	defer ft.Close()

	var n int64
	for {
		row, err := ft.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		// An empty row ends a RowQueue; skip blank lines instead.
		if len(row) == 0 {
			continue
		}
		if err := queue.Put(ctx, row); err != nil {
			return n, err
		}
		n++
		atomic.AddInt64(&p.rowsRead, 1)
		tracker.Increment(1)
	}
}

// report logs ingest throughput until reading finishes.
func (p *CubingPipeline) report(ctx context.Context, done <-chan struct{}, tracker *metrics.ThroughputTracker) {
	ticker := time.NewTicker(p.job.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			tracker.GetAndReset()
			return
		case <-ticker.C:
			p.logger.Info("ingest progress",
				zap.String("rows", humanize.Comma(tracker.Total())),
				zap.Float64("rows_per_second", tracker.GetAndReset()))
		}
	}
}

// timeout retypes failures caused by the job deadline.
func (p *CubingPipeline) timeout(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "cubing job timed out").WithDetail("timeout", p.job.Timeout.String())
	}
	return err
}
