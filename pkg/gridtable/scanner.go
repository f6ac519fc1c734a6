package gridtable

import (
	"context"
	"io"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// Scanner is a lazy, finite, single-pass iterator over records.
//
//	for sc.Next() {
//	    rec := sc.Record() // valid until the next call to Next
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner interface {
	Info() *GTInfo
	Next() bool
	// Record returns the current row. The record is reused by the next
	// call to Next.
	Record() *GTRecord
	Err() error
	// Close releases the underlying store reader. It is safe to call more
	// than once.
	Close() error
	ScannedRowCount() int64
}

// ctxCheckInterval is how many rows scanners read between context checks.
const ctxCheckInterval = 1024

type rawScanner struct {
	ctx    context.Context
	info   *GTInfo
	reader BlockReader
	rng    ScanRange

	block   *GTRowBlock
	cursor  *blockCursor
	rec     *GTRecord
	scanned int64
	err     error
	done    bool
	closed  bool
}

func newRawScanner(ctx context.Context, info *GTInfo, reader BlockReader, rng ScanRange) *rawScanner {
	return &rawScanner{
		ctx:    ctx,
		info:   info,
		reader: reader,
		rng:    rng,
		block:  NewRowBlock(info),
		rec:    NewRecord(info),
	}
}

func (s *rawScanner) Info() *GTInfo          { return s.info }
func (s *rawScanner) Record() *GTRecord      { return s.rec }
func (s *rawScanner) Err() error             { return s.err }
func (s *rawScanner) ScannedRowCount() int64 { return s.scanned }

func (s *rawScanner) Next() bool {
	for !s.done {
		if s.cursor == nil {
			if err := s.reader.ReadBlock(s.block); err != nil {
				if err != io.EOF {
					s.fail(err)
				}
				s.done = true
				return false
			}
			s.cursor = s.block.cursor()
		}

		ok, err := s.cursor.next(s.rec)
		if err != nil {
			s.fail(err)
			return false
		}
		if !ok {
			s.cursor = nil
			continue
		}

		s.scanned++
		if s.scanned%ctxCheckInterval == 0 {
			if err := s.ctx.Err(); err != nil {
				s.fail(errors.Wrap(err, errors.ErrorTypeCancelled, "scan interrupted"))
				return false
			}
		}
		if s.inRange() {
			return true
		}
	}
	return false
}

func (s *rawScanner) inRange() bool {
	pk := s.info.PrimaryKey()
	if s.rng.Start != nil && s.rec.compareBound(s.rng.Start, pk) < 0 {
		return false
	}
	if s.rng.End != nil && s.rec.compareBound(s.rng.End, pk) > 0 {
		return false
	}
	return true
}

func (s *rawScanner) fail(err error) {
	s.err = err
	s.done = true
}

func (s *rawScanner) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	return s.reader.Close()
}

// filterScanner passes through the records accepted by a filter.
type filterScanner struct {
	input  Scanner
	filter Filter
	err    error
}

func newFilterScanner(input Scanner, f Filter) *filterScanner {
	return &filterScanner{input: input, filter: f}
}

func (s *filterScanner) Info() *GTInfo          { return s.input.Info() }
func (s *filterScanner) Record() *GTRecord      { return s.input.Record() }
func (s *filterScanner) ScannedRowCount() int64 { return s.input.ScannedRowCount() }
func (s *filterScanner) Close() error           { return s.input.Close() }

func (s *filterScanner) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.input.Err()
}

func (s *filterScanner) Next() bool {
	if s.err != nil {
		return false
	}
	for s.input.Next() {
		ok, err := s.filter.Evaluate(s.input.Record())
		if err != nil {
			s.err = err
			return false
		}
		if ok {
			return true
		}
	}
	return false
}
