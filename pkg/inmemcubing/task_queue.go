package inmemcubing

import (
	"context"
	"sync"
	"time"

	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/metrics"
)

// CuboidResult is a computed cuboid. Its table stays open until the cuboid
// has been flushed and all of its children have been computed.
type CuboidResult struct {
	CuboidID int64
	// ParentID is the cuboid this one was aggregated from, or 0 for the
	// base cuboid.
	ParentID    int64
	Table       *gridtable.GridTable
	NRows       int64
	TimeSpent   time.Duration
	AggrCacheMB int
	// Totals are the per-metric totals used by the sanity check.
	Totals []interface{}
}

// cuboidTask asks a worker to compute childID from parent.
type cuboidTask struct {
	parent  *CuboidResult
	childID int64
}

// taskQueue is the FIFO shared by the workers of one build.
type taskQueue struct {
	cube string

	mu     sync.Mutex
	tasks  []cuboidTask
	signal chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

func newTaskQueue(cube string) *taskQueue {
	return &taskQueue{
		cube:   cube,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *taskQueue) push(tasks ...cuboidTask) {
	if len(tasks) == 0 {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, tasks...)
	depth := len(q.tasks)
	q.mu.Unlock()
	metrics.TaskQueueDepth.WithLabelValues(q.cube).Set(float64(depth))
	q.wake()
}

func (q *taskQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// poll waits up to timeout for a task. It returns false when the wait times
// out or the queue is finished.
func (q *taskQueue) poll(ctx context.Context, timeout time.Duration) (cuboidTask, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if n := len(q.tasks); n > 0 {
			t := q.tasks[0]
			q.tasks[0] = cuboidTask{}
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			metrics.TaskQueueDepth.WithLabelValues(q.cube).Set(float64(n - 1))
			if n > 1 {
				q.wake()
			}
			return t, true, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.done:
			return cuboidTask{}, false, nil
		case <-timer.C:
			return cuboidTask{}, false, nil
		case <-ctx.Done():
			return cuboidTask{}, false, errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "waiting for cuboid task")
		}
	}
}

// finish releases every poller.
func (q *taskQueue) finish() {
	q.doneOnce.Do(func() { close(q.done) })
}

func (q *taskQueue) isFinished() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
