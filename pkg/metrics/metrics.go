// Package metrics provides Prometheus collectors for in-memory cube builds.
//
// # Overview
//
// The metrics package provides:
//   - Pre-defined metrics for cuboid computation, stores and the memory budget
//   - Throughput tracking of ingested flat table rows
//   - A Timer helper for latency observations
//
// # Basic Usage
//
//	timer := metrics.NewTimer("cuboid")
//	result, err := build(task)
//	metrics.CuboidBuildLatency.WithLabelValues(cube).Observe(timer.Stop().Seconds())
//	metrics.CuboidsBuilt.WithLabelValues(cube, metrics.StatusSuccess).Inc()
//
//	tracker := metrics.NewThroughputTracker(cube)
//	for row := range rows {
//	    tracker.Increment(1)
//	}
//	rowsPerSec := tracker.GetAndReset()
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	// CuboidsBuilt counts computed cuboids.
	// Labels: cube, status (success/failure)
	CuboidsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cube_cuboids_built_total",
			Help: "Total number of cuboids computed",
		},
		[]string{"cube", "status"},
	)

	// CuboidBuildLatency tracks the time spent aggregating one cuboid from its parent.
	CuboidBuildLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cube_cuboid_build_duration_seconds",
			Help:    "Time spent computing a single cuboid",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"cube"},
	)

	// CuboidRows tracks the row count distribution of computed cuboids.
	CuboidRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cube_cuboid_rows",
			Help:    "Number of rows in computed cuboids",
			Buckets: prometheus.ExponentialBuckets(1, 10, 9),
		},
		[]string{"cube"},
	)

	// RowsIngested counts flat table rows consumed by the base cuboid.
	RowsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cube_rows_ingested_total",
			Help: "Total number of flat table rows consumed",
		},
		[]string{"cube"},
	)

	// BudgetReservedMB tracks the memory currently reserved from the build budget.
	BudgetReservedMB = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cube_memory_budget_reserved_megabytes",
			Help: "Memory reserved by running aggregations",
		},
		[]string{"budget"},
	)

	// BudgetTotalMB tracks the size of the build budget.
	BudgetTotalMB = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cube_memory_budget_total_megabytes",
			Help: "Memory budget of the build",
		},
		[]string{"budget"},
	)

	// TaskQueueDepth tracks pending cuboid tasks.
	TaskQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cube_task_queue_depth",
			Help: "Number of cuboid tasks waiting for a worker",
		},
		[]string{"cube"},
	)

	// StoreBytes counts bytes moved by disk stores.
	// Labels: direction (write/read)
	StoreBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cube_store_bytes_total",
			Help: "Bytes written to and read from disk stores",
		},
		[]string{"direction"},
	)

	// Spills counts grid tables moved from memory to disk.
	Spills = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cube_store_spills_total",
			Help: "Number of grid tables spilled to disk",
		},
	)

	// Retries counts retried cuboid attempts.
	// Labels: reason (out_of_memory/timeout)
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cube_cuboid_retries_total",
			Help: "Number of retried cuboid computations",
		},
		[]string{"reason"},
	)

	// Throughput tracks ingested rows per second.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cube_ingest_rows_per_second",
			Help: "Current ingest throughput in rows per second",
		},
		[]string{"cube"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times, each returning the total elapsed time.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks throughput (rows per second) over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64     // Rows since last reset
	total     int64     // Rows since creation
	lastReset time.Time // Time of last reset
	cube      string
}

// NewThroughputTracker creates a throughput tracker labelled with the cube name.
func NewThroughputTracker(cube string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		cube:      cube,
	}
}

// Increment adds n to the row count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
	t.total += n
}

// Total returns the rows counted since creation.
func (t *ThroughputTracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// GetAndReset calculates the current throughput (rows/second),
// updates the Prometheus metric, resets the window counter, and returns
// the calculated throughput. Safe for concurrent use.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.cube).Set(throughput)

	return throughput
}
