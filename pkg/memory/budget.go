// Package memory provides the reservation based memory budget shared by the
// workers of a cube build, and readings of process and system memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/logger"
	"github.com/qhzhou/Kylin/pkg/metrics"
)

// DefaultInsistWait bounds each blocking wait of ReserveInsist before it
// asks other consumers to free memory again.
const DefaultInsistWait = 200 * time.Millisecond

// Consumer holds a reservation. FreeUp asks it to give back up to mb by
// lowering its own reservation; it returns how much it released.
type Consumer interface {
	FreeUp(mb int) int
	String() string
}

// BudgetController hands out megabytes of a fixed budget to consumers. A
// consumer's reservation is a single booking that can be raised or lowered.
type BudgetController struct {
	name       string
	total      int
	sem        *semaphore.Weighted
	logger     *zap.Logger
	insistWait time.Duration

	mu       sync.Mutex
	booking  map[Consumer]int
	reserved int
}

// NewBudgetController creates a controller over totalMB megabytes.
func NewBudgetController(name string, totalMB int, log *zap.Logger) *BudgetController {
	if totalMB < 0 {
		totalMB = 0
	}
	b := &BudgetController{
		name:       name,
		total:      totalMB,
		sem:        semaphore.NewWeighted(int64(totalMB)),
		logger:     logger.OrDefault(log).With(zap.String("budget", name)),
		insistWait: DefaultInsistWait,
		booking:    make(map[Consumer]int),
	}
	metrics.BudgetTotalMB.WithLabelValues(name).Set(float64(totalMB))
	metrics.BudgetReservedMB.WithLabelValues(name).Set(0)
	b.logger.Info("memory budget created", zap.String("total", humanize.IBytes(uint64(totalMB)<<20)))
	return b
}

func (b *BudgetController) Total() int { return b.total }

func (b *BudgetController) Reserved() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reserved
}

func (b *BudgetController) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total - b.reserved
}

// Booking returns the current reservation of c.
func (b *BudgetController) Booking(c Consumer) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.booking[c]
}

// Reserve sets the reservation of c to mb without waiting. Lowering always
// succeeds; raising fails when the budget lacks the difference.
func (b *BudgetController) Reserve(c Consumer, mb int) bool {
	if mb < 0 {
		mb = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	delta := mb - b.booking[c]
	switch {
	case delta > 0:
		if !b.sem.TryAcquire(int64(delta)) {
			return false
		}
	case delta < 0:
		b.sem.Release(int64(-delta))
	}
	b.book(c, delta)
	return true
}

// book applies delta to c's reservation. Callers hold b.mu.
func (b *BudgetController) book(c Consumer, delta int) {
	if cur := b.booking[c] + delta; cur > 0 {
		b.booking[c] = cur
	} else {
		delete(b.booking, c)
	}
	b.reserved += delta
	metrics.BudgetReservedMB.WithLabelValues(b.name).Set(float64(b.reserved))
}

// Release drops the reservation of c.
func (b *BudgetController) Release(c Consumer) {
	b.Reserve(c, 0)
}

// ReserveInsist sets the reservation of c to mb, waiting until enough of the
// budget is free. While waiting it asks the other consumers to free memory.
// A request above the total is capped at the total.
func (b *BudgetController) ReserveInsist(ctx context.Context, c Consumer, mb int) error {
	if mb > b.total {
		b.logger.Warn("reservation capped at budget total",
			zap.Stringer("consumer", c), zap.Int("requested_mb", mb), zap.Int("total_mb", b.total))
		mb = b.total
	}

	start := time.Now()
	for round := 0; ; round++ {
		if b.Reserve(c, mb) {
			if round > 0 {
				b.logger.Debug("reservation granted after waiting",
					zap.Stringer("consumer", c), zap.Int("mb", mb), zap.Duration("waited", time.Since(start)))
			}
			return nil
		}

		b.freeUpOthers(c, mb-b.Booking(c))

		need := mb - b.Booking(c)
		waitCtx, cancel := context.WithTimeout(ctx, b.insistWait)
		err := b.sem.Acquire(waitCtx, int64(need))
		cancel()
		if err == nil {
			b.mu.Lock()
			b.book(c, need)
			b.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "waiting for memory budget").
				WithDetail("consumer", c.String()).
				WithDetail("mb", mb)
		}
		if round%25 == 24 {
			b.logger.Info("still waiting for memory budget",
				zap.Stringer("consumer", c), zap.Int("mb", mb), zap.Int("remaining_mb", b.Remaining()),
				zap.Duration("waited", time.Since(start)))
		}
	}
}

// freeUpOthers asks every other consumer to give back memory. Consumers
// call back into Reserve, so the lock is not held.
func (b *BudgetController) freeUpOthers(self Consumer, mb int) {
	b.mu.Lock()
	others := make([]Consumer, 0, len(b.booking))
	for c := range b.booking {
		if c != self {
			others = append(others, c)
		}
	}
	b.mu.Unlock()

	freed := 0
	for _, c := range others {
		if freed >= mb {
			break
		}
		freed += c.FreeUp(mb - freed)
	}
	if freed > 0 {
		b.logger.Debug("consumers freed memory", zap.Stringer("for", self), zap.Int("freed_mb", freed))
	}
}

// NamedConsumer is a Consumer that cannot free anything.
type NamedConsumer string

func (n NamedConsumer) FreeUp(int) int { return 0 }
func (n NamedConsumer) String() string { return string(n) }
