package gridtable

import (
	"context"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// GridTable binds a schema to a store.
type GridTable struct {
	info  *GTInfo
	store Store
}

// New creates a grid table over store.
func New(info *GTInfo, store Store) *GridTable {
	return &GridTable{info: info, store: store}
}

func (t *GridTable) Info() *GTInfo { return t.info }
func (t *GridTable) Store() Store  { return t.store }

// Rebuild opens the single writer, replacing the table content.
func (t *GridTable) Rebuild() (*Builder, error) {
	w, err := t.store.Rebuild()
	if err != nil {
		return nil, err
	}
	return newBuilder(t.info, w), nil
}

// Append opens the single writer after the existing content.
func (t *GridTable) Append() (*Builder, error) {
	w, err := t.store.Append()
	if err != nil {
		return nil, err
	}
	return newBuilder(t.info, w), nil
}

// Scan opens a scanner for req. A nil request scans every row and column.
// The raw store scanner is wrapped by a filter scanner when the request
// has a filter and by an AggregateScanner when it aggregates.
func (t *GridTable) Scan(ctx context.Context, req *ScanRequest) (Scanner, error) {
	if req == nil {
		var err error
		if req, err = NewScanRequest(t.info); err != nil {
			return nil, err
		}
	}
	if req.Info() != t.info {
		return nil, errors.New(errors.ErrorTypeValidation, "scan request built for a different table")
	}

	reader, err := t.store.Scan()
	if err != nil {
		return nil, err
	}
	var sc Scanner = newRawScanner(ctx, t.info, reader, req.Range())
	if f := req.Filter(); f != nil {
		sc = newFilterScanner(sc, f)
	}
	if req.HasAggregation() {
		sc = NewAggregateScanner(ctx, req, sc)
	}
	return sc, nil
}

// Close closes the store.
func (t *GridTable) Close() error {
	return t.store.Close()
}

// Builder writes records into a grid table, one row block at a time. Rows
// are kept in the order they are written.
type Builder struct {
	info    *GTInfo
	writer  BlockWriter
	block   *GTRowBlock
	written int64
	closed  bool
}

func newBuilder(info *GTInfo, w BlockWriter) *Builder {
	return &Builder{info: info, writer: w, block: NewRowBlock(info)}
}

// Write appends rec, flushing the current block when it is full.
func (b *Builder) Write(rec *GTRecord) error {
	if b.closed {
		return errors.New(errors.ErrorTypeContract, "write to a closed grid table builder")
	}
	b.block.Append(rec)
	b.written++
	if b.block.IsFull() {
		return b.flush()
	}
	return nil
}

func (b *Builder) flush() error {
	if err := b.writer.WriteBlock(b.block); err != nil {
		return err
	}
	b.block.Clear()
	return nil
}

// Close flushes the last block and releases the writer. The writer is
// released even if the flush fails.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var flushErr error
	if !b.block.IsEmpty() {
		flushErr = b.flush()
	}
	closeErr := b.writer.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// WrittenRowCount is the number of rows written so far.
func (b *Builder) WrittenRowCount() int64 { return b.written }
