package inmemcubing

import (
	"context"
	"io"
	"sync"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// RowSource supplies flat table rows to a build. Take blocks until a row is
// available and returns io.EOF at the end of the stream.
type RowSource interface {
	Take(ctx context.Context) ([]string, error)
}

// RowQueue is a bounded queue between one producer and a build. The
// producer calls Close after its last Put; an empty row also ends the
// stream.
type RowQueue struct {
	ch        chan []string
	closeOnce sync.Once
}

// NewRowQueue creates a queue holding up to capacity rows.
func NewRowQueue(capacity int) *RowQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &RowQueue{ch: make(chan []string, capacity)}
}

// Put blocks until the queue accepts row. It must not be called after Close.
func (q *RowQueue) Put(ctx context.Context, row []string) error {
	select {
	case q.ch <- row:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "put row")
	}
}

// Close marks the end of the stream. Rows already queued are still taken.
func (q *RowQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

func (q *RowQueue) Take(ctx context.Context) ([]string, error) {
	select {
	case row, ok := <-q.ch:
		if !ok || len(row) == 0 {
			return nil, io.EOF
		}
		return row, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "take row")
	}
}

// Len is the number of queued rows.
func (q *RowQueue) Len() int { return len(q.ch) }

// SliceSource replays rows held in memory.
type SliceSource struct {
	rows [][]string
	next int
}

// NewSliceSource creates a source over rows.
func NewSliceSource(rows [][]string) *SliceSource {
	return &SliceSource{rows: rows}
}

func (s *SliceSource) Take(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "take row")
	}
	if s.next >= len(s.rows) || len(s.rows[s.next]) == 0 {
		return nil, io.EOF
	}
	row := s.rows[s.next]
	s.next++
	return row, nil
}
