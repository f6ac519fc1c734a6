package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("tracker_test")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				tracker.Increment(1)
			}
		}()
	}
	wg.Wait()

	time.Sleep(5 * time.Millisecond)
	rate := tracker.GetAndReset()
	assert.Greater(t, rate, 0.0)
	assert.Equal(t, int64(1000), tracker.Total())
	assert.InDelta(t, rate, testutil.ToFloat64(Throughput.WithLabelValues("tracker_test")), 1e-9)
}

func TestTimer(t *testing.T) {
	timer := NewTimer("cuboid")
	time.Sleep(2 * time.Millisecond)
	first := timer.Stop()
	assert.GreaterOrEqual(t, first, 2*time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), first)
	assert.Equal(t, "cuboid", timer.Name())
}

func TestCuboidCounters(t *testing.T) {
	before := testutil.ToFloat64(CuboidsBuilt.WithLabelValues("counter_test", StatusSuccess))
	CuboidsBuilt.WithLabelValues("counter_test", StatusSuccess).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CuboidsBuilt.WithLabelValues("counter_test", StatusSuccess)))
}
