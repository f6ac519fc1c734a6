package inmemcubing

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/testutil"
)

func TestRowQueue(t *testing.T) {
	ctx := testutil.TestContext(t)
	q := NewRowQueue(4)
	require.NoError(t, q.Put(ctx, []string{"a"}))
	require.NoError(t, q.Put(ctx, []string{"b"}))
	assert.Equal(t, 2, q.Len())
	q.Close()
	q.Close()

	row, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, row)
	row, err = q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, row)
	_, err = q.Take(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestRowQueueEmptyRowEndsStream(t *testing.T) {
	ctx := testutil.TestContext(t)
	q := NewRowQueue(2)
	require.NoError(t, q.Put(ctx, []string{}))
	_, err := q.Take(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestRowQueueCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewRowQueue(0)
	_, err := q.Take(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	assert.True(t, errors.IsType(q.Put(ctx, []string{"a"}), errors.ErrorTypeCancelled))
}

func TestSliceSource(t *testing.T) {
	ctx := testutil.TestContext(t)
	src := NewSliceSource([][]string{{"a"}, {"b"}, nil, {"c"}})
	row, err := src.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, row)
	_, err = src.Take(ctx)
	require.NoError(t, err)
	_, err = src.Take(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestTaskQueuePoll(t *testing.T) {
	ctx := testutil.TestContext(t)
	q := newTaskQueue("test")

	_, ok, err := q.poll(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "empty queue times out")

	parent := &CuboidResult{CuboidID: 7}
	q.push(cuboidTask{parent: parent, childID: 3}, cuboidTask{parent: parent, childID: 5})
	task, ok, err := q.poll(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), task.childID)
	task, ok, err = q.poll(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), task.childID)

	// A waiting poller wakes up on push.
	got := make(chan int64, 1)
	go func() {
		task, ok, _ := q.poll(ctx, 5*time.Second)
		if ok {
			got <- task.childID
		}
	}()
	time.Sleep(20 * time.Millisecond)
	q.push(cuboidTask{parent: parent, childID: 6})
	select {
	case id := <-got:
		assert.Equal(t, int64(6), id)
	case <-time.After(2 * time.Second):
		t.Fatal("poller was not woken")
	}

	q.finish()
	start := time.Now()
	_, ok, err = q.poll(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, q.isFinished())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = newTaskQueue("test").poll(cctx, time.Second)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
}

func TestRetryPolicy(t *testing.T) {
	oom := errors.New(errors.ErrorTypeOutOfMemory, "cache full")

	t.Run("out of memory then success", func(t *testing.T) {
		p := retryPolicy{attempts: 3, logger: testutil.TestLogger(t)}
		relieved := 0
		p.onOutOfMemory = func(context.Context) { relieved++ }
		var attempts []int
		err := p.run(testutil.TestContext(t), 3, func(_ context.Context, attempt int) error {
			attempts = append(attempts, attempt)
			if attempt == 0 {
				return oom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, attempts)
		assert.Equal(t, 1, relieved)
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		p := retryPolicy{attempts: 3, logger: testutil.TestLogger(t)}
		relieved := 0
		p.onOutOfMemory = func(context.Context) { relieved++ }
		calls := 0
		err := p.run(testutil.TestContext(t), 3, func(context.Context, int) error {
			calls++
			return errors.New(errors.ErrorTypeOutOfMemory, "cache full")
		})
		assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfMemory))
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, relieved)
	})

	t.Run("contract errors are not retried", func(t *testing.T) {
		p := retryPolicy{attempts: 3, logger: testutil.TestLogger(t)}
		calls := 0
		err := p.run(testutil.TestContext(t), 3, func(context.Context, int) error {
			calls++
			return errors.New(errors.ErrorTypeContract, "writer already open")
		})
		assert.True(t, errors.IsType(err, errors.ErrorTypeContract))
		assert.Equal(t, 1, calls)
	})

	t.Run("timeouts grow", func(t *testing.T) {
		p := retryPolicy{
			attempts:  2,
			timeout:   10 * time.Millisecond,
			increment: 500 * time.Millisecond,
			logger:    testutil.TestLogger(t),
		}
		var budgets []time.Duration
		err := p.run(testutil.TestContext(t), 3, func(ctx context.Context, attempt int) error {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			budgets = append(budgets, time.Until(deadline))
			if attempt == 0 {
				<-ctx.Done()
				return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "aggregation interrupted")
			}
			return nil
		})
		require.NoError(t, err)
		require.Len(t, budgets, 2)
		assert.Greater(t, budgets[1], 100*time.Millisecond)
	})

	t.Run("timeout reported", func(t *testing.T) {
		p := retryPolicy{attempts: 2, timeout: 5 * time.Millisecond, logger: testutil.TestLogger(t)}
		err := p.run(testutil.TestContext(t), 3, func(ctx context.Context, _ int) error {
			<-ctx.Done()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "aggregation interrupted")
		})
		assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout), "got %v", err)
	})
}
