package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/qhzhou/Kylin/pkg/errors"
)

const bytesPerMB = 1 << 20

// SystemAvailMB returns the memory this process can still use: the host's
// available memory, capped by the headroom below the Go memory limit when
// one is set.
func SystemAvailMB() (int, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeInternal, "read virtual memory")
	}
	avail := int64(vm.Available / bytesPerMB)

	if limit := debug.SetMemoryLimit(-1); limit < math.MaxInt64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		headroom := (limit - int64(ms.Sys)) / bytesPerMB
		if headroom < 0 {
			headroom = 0
		}
		if headroom < avail {
			avail = headroom
		}
	}
	return int(avail), nil
}

// HeapInUseMB returns the heap currently in use.
func HeapInUseMB() int {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int(ms.HeapInuse / bytesPerMB)
}

// ForceGC collects garbage, returns freed pages to the OS and then waits
// for pause so that memory readings settle.
func ForceGC(ctx context.Context, pause time.Duration) error {
	runtime.GC()
	debug.FreeOSMemory()
	if pause <= 0 {
		return nil
	}
	t := time.NewTimer(pause)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "interrupted after forced GC")
	}
}

// Budget computes the memory budget of a build from the free memory and
// the base cuboid's aggregation cache: everything available except the
// reserve, which is at least a third of the base cache, but never less
// than one base cache.
func Budget(availMB, reserveMB, baseCacheMB int) int {
	reserve := reserveMB
	if third := baseCacheMB / 3; third > reserve {
		reserve = third
	}
	budget := availMB - reserve
	if budget < baseCacheMB {
		budget = baseCacheMB
	}
	return budget
}
