package gridtable

import (
	"context"
	"fmt"

	"github.com/google/btree"

	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/measure"
)

const (
	aggrCacheDegree = 32
	// aggrEntryOverhead approximates the tree node share of one entry.
	aggrEntryOverhead = 64
	// guardCheckInterval is how many new keys pass between memory checks.
	guardCheckInterval = 1000
)

type aggrEntry struct {
	key   []byte
	aggrs []measure.Aggregator
}

// AggregateScanner groups the records of an input scanner and emits one
// record per distinct group in key order. The first call to Next drains
// the whole input into memory; nothing is spilled, so callers size the
// work with a memory budget beforehand.
type AggregateScanner struct {
	ctx     context.Context
	info    *GTInfo
	input   Scanner
	dims    ImmutableBitSet // dimensions to return, may be more than groupBy
	groupBy ImmutableBitSet
	metrics ImmutableBitSet
	funcs   []string
	limit   int64

	keyLength   int
	compareMask []bool

	entries   []*aggrEntry
	drained   bool
	pos       int
	out       *GTRecord
	metricBuf []byte
	err       error

	estimatedSize int64
}

// NewAggregateScanner wraps input according to req, which must have
// aggregation enabled.
func NewAggregateScanner(ctx context.Context, req *ScanRequest, input Scanner) *AggregateScanner {
	s := &AggregateScanner{
		ctx:     ctx,
		info:    input.Info(),
		input:   input,
		dims:    req.Dimensions(),
		groupBy: req.AggrGroupBy(),
		metrics: req.AggrMetrics(),
		funcs:   req.AggrMetricsFuncs(),
		limit:   req.AggrCacheLimit(),
		pos:     -1,
	}
	if !req.HasAggregation() {
		s.err = errors.New(errors.ErrorTypeValidation, "aggregate scanner needs a request with aggregation")
	}
	s.out = NewRecord(s.info)
	s.compareMask = s.createCompareMask()
	s.keyLength = len(s.compareMask)
	return s
}

func (s *AggregateScanner) createCompareMask() []bool {
	mask := make([]bool, 0, s.info.MaxColumnLength(s.dims))
	for _, c := range s.dims.Indexes() {
		m := s.groupBy.Get(c)
		for j := 0; j < s.info.MaxCodeLength(c); j++ {
			mask = append(mask, m)
		}
	}
	return mask
}

func (s *AggregateScanner) less(a, b *aggrEntry) bool {
	for i, m := range s.compareMask {
		if m && a.key[i] != b.key[i] {
			return a.key[i] < b.key[i]
		}
	}
	return false
}

func (s *AggregateScanner) Info() *GTInfo          { return s.info }
func (s *AggregateScanner) Record() *GTRecord      { return s.out }
func (s *AggregateScanner) Err() error             { return s.err }
func (s *AggregateScanner) ScannedRowCount() int64 { return s.input.ScannedRowCount() }

// Close releases the input and the aggregation cache.
func (s *AggregateScanner) Close() error {
	s.entries = nil
	return s.input.Close()
}

func (s *AggregateScanner) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.drained {
		s.drained = true
		if err := s.drain(); err != nil {
			s.err = err
			s.entries = nil
			return false
		}
	}
	s.pos++
	if s.pos >= len(s.entries) {
		return false
	}
	if err := s.fill(s.entries[s.pos]); err != nil {
		s.err = err
		return false
	}
	return true
}

func (s *AggregateScanner) drain() error {
	tree := btree.NewG[*aggrEntry](aggrCacheDegree, s.less)
	lookup := &aggrEntry{key: make([]byte, s.keyLength)}
	var entrySize int64
	newKeys := 0

	for s.input.Next() {
		rec := s.input.Record()
		if err := s.buildKey(rec, lookup.key); err != nil {
			return err
		}
		entry, found := tree.Get(lookup)
		if !found {
			aggrs, err := s.newAggregators()
			if err != nil {
				return err
			}
			entry = &aggrEntry{key: append([]byte(nil), lookup.key...), aggrs: aggrs}
			tree.ReplaceOrInsert(entry)
			newKeys++
			if entrySize == 0 {
				entrySize = estimateEntrySize(entry)
			}
			if newKeys%guardCheckInterval == 0 {
				if err := s.checkGuard(int64(tree.Len()) * entrySize); err != nil {
					return err
				}
			}
		}
		if err := s.aggregate(rec, entry); err != nil {
			return err
		}
	}
	if err := s.input.Err(); err != nil {
		return err
	}
	if err := s.ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCancelled, "aggregation interrupted")
	}

	s.entries = make([]*aggrEntry, 0, tree.Len())
	tree.Ascend(func(e *aggrEntry) bool {
		s.entries = append(s.entries, e)
		return true
	})
	if len(s.entries) > 0 {
		s.estimatedSize = estimateEntrySize(s.entries[0]) * int64(len(s.entries))
	}
	return s.checkGuard(s.estimatedSize)
}

func (s *AggregateScanner) checkGuard(size int64) error {
	if s.limit > 0 && size > s.limit {
		return errors.Newf(errors.ErrorTypeOutOfMemory, "aggregation cache of %d bytes exceeds limit of %d", size, s.limit).
			WithDetail("limit_bytes", s.limit)
	}
	if err := s.ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCancelled, "aggregation interrupted")
	}
	return nil
}

// buildKey copies every dimension cell into its fixed region of key.
func (s *AggregateScanner) buildKey(rec *GTRecord, key []byte) error {
	offset := 0
	for _, c := range s.dims.Indexes() {
		cell := rec.Get(c)
		width := s.info.MaxCodeLength(c)
		if len(cell) > width {
			return errors.Newf(errors.ErrorTypeValidation, "column %d cell of %d bytes exceeds max length %d", c, len(cell), width)
		}
		n := copy(key[offset:], cell)
		clear(key[offset+n : offset+width])
		offset += width
	}
	return nil
}

func (s *AggregateScanner) newAggregators() ([]measure.Aggregator, error) {
	aggrs := make([]measure.Aggregator, len(s.funcs))
	cs := s.info.CodeSystem()
	for i, col := range s.metrics.Indexes() {
		a, err := cs.NewMetricsAggregator(s.funcs[i], col)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("aggregator for column %d", col))
		}
		aggrs[i] = a
	}
	return aggrs, nil
}

func (s *AggregateScanner) aggregate(rec *GTRecord, entry *aggrEntry) error {
	cs := s.info.CodeSystem()
	for i, col := range s.metrics.Indexes() {
		v, err := cs.DecodeColumnValue(col, rec.Get(col))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("decode metric column %d", col))
		}
		if err := entry.aggrs[i].Aggregate(v); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("aggregate metric column %d", col))
		}
	}
	return nil
}

// fill points the output record at the entry's key regions and re-encodes
// the metrics.
func (s *AggregateScanner) fill(entry *aggrEntry) error {
	offset := 0
	for _, c := range s.dims.Indexes() {
		width := s.info.MaxCodeLength(c)
		s.out.Set(c, entry.key[offset:offset+width:offset+width])
		offset += width
	}

	cs := s.info.CodeSystem()
	buf := s.metricBuf[:0]
	ends := make([]int, len(entry.aggrs))
	for i, col := range s.metrics.Indexes() {
		var err error
		if buf, err = cs.EncodeColumnValue(col, entry.aggrs[i].State(), buf); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("encode metric column %d", col))
		}
		ends[i] = len(buf)
	}
	start := 0
	for i, col := range s.metrics.Indexes() {
		s.out.Set(col, buf[start:ends[i]:ends[i]])
		start = ends[i]
	}
	s.metricBuf = buf
	return nil
}

// EstimateSizeOfAggrCache returns the estimated heap, in bytes, of the
// aggregation cache built by the drain. It is zero before the first Next.
func (s *AggregateScanner) EstimateSizeOfAggrCache() int64 { return s.estimatedSize }

// GroupCount returns the number of distinct groups after the drain.
func (s *AggregateScanner) GroupCount() int { return len(s.entries) }

// TotalSumForSanityCheck folds every group's metric states into one total
// per metric: the sum for SUM and COUNT, the extreme for MIN and MAX, and
// nil for functions without a comparable total. It must be called after
// the drain and before Close.
func (s *AggregateScanner) TotalSumForSanityCheck() ([]interface{}, error) {
	totals := make([]measure.Aggregator, len(s.funcs))
	for i, col := range s.metrics.Indexes() {
		t, err := measure.NewTotal(s.funcs[i], s.info.ColumnType(col))
		if err != nil {
			return nil, err
		}
		totals[i] = t
	}
	for _, e := range s.entries {
		for i, t := range totals {
			if t == nil {
				continue
			}
			if err := t.Aggregate(e.aggrs[i].State()); err != nil {
				return nil, err
			}
		}
	}
	out := make([]interface{}, len(totals))
	for i, t := range totals {
		if t != nil {
			out[i] = t.State()
		}
	}
	return out, nil
}

func estimateEntrySize(e *aggrEntry) int64 {
	return estimateSizeOfBytes(len(e.key)) + estimateSizeOfAggrs(e.aggrs) + aggrEntryOverhead
}

func estimateSizeOfBytes(n int) int64 {
	return int64((n+7)/8*8 + 24)
}

func estimateSizeOfAggrs(aggrs []measure.Aggregator) int64 {
	est := int64((len(aggrs)+1)/2*16 + 24)
	for _, a := range aggrs {
		if a != nil {
			est += int64(a.MemBytesEstimate())
		}
	}
	return est
}
