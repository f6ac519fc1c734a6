package gridtable

import (
	"fmt"
	"strings"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// ScanRange bounds a scan on the primary key, both ends inclusive. A nil
// bound is open, as is any nil column of a bound record.
type ScanRange struct {
	Start *GTRecord
	End   *GTRecord
}

// ScanRequest describes a scan: range, columns, filter and aggregation.
type ScanRequest struct {
	info    *GTInfo
	rng     ScanRange
	columns ImmutableBitSet
	filter  Filter

	hasAggr          bool
	aggrGroupBy      ImmutableBitSet
	aggrMetrics      ImmutableBitSet
	aggrMetricsFuncs []string
	aggrCacheLimit   int64

	columnsSet bool
}

// ScanOption configures a ScanRequest.
type ScanOption func(*ScanRequest)

// WithRange limits the scan to primary keys in [start, end].
func WithRange(start, end *GTRecord) ScanOption {
	return func(r *ScanRequest) { r.rng = ScanRange{Start: start, End: end} }
}

// WithColumns sets the columns to return. With aggregation, the columns
// other than the metrics are the dimensions kept in the output; they may
// be more than the group-by columns.
func WithColumns(cols ImmutableBitSet) ScanOption {
	return func(r *ScanRequest) {
		r.columns = cols
		r.columnsSet = true
	}
}

// WithFilter pushes f down to the scan.
func WithFilter(f Filter) ScanOption {
	return func(r *ScanRequest) { r.filter = f }
}

// WithAggregation groups by groupBy and aggregates each metric column with
// the function at the same position of funcs.
func WithAggregation(groupBy, metrics ImmutableBitSet, funcs []string) ScanOption {
	return func(r *ScanRequest) {
		r.hasAggr = true
		r.aggrGroupBy = groupBy
		r.aggrMetrics = metrics
		r.aggrMetricsFuncs = funcs
	}
}

// WithAggrCacheLimit makes the aggregation fail with an out of memory
// error once its estimated cache exceeds limit bytes. Zero disables it.
func WithAggrCacheLimit(limit int64) ScanOption {
	return func(r *ScanRequest) { r.aggrCacheLimit = limit }
}

// NewScanRequest builds and validates a request.
func NewScanRequest(info *GTInfo, opts ...ScanOption) (*ScanRequest, error) {
	r := &ScanRequest{info: info}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ScanRequest) validate() error {
	if r.columnsSet && !r.info.hasColumns(r.columns) {
		return errors.Newf(errors.ErrorTypeValidation, "columns %s outside table columns %s", r.columns, r.info.AllColumns())
	}

	if r.hasAggr {
		if r.aggrGroupBy.Intersects(r.aggrMetrics) {
			return errors.Newf(errors.ErrorTypeValidation, "group by %s and metrics %s overlap", r.aggrGroupBy, r.aggrMetrics)
		}
		if r.aggrMetrics.Cardinality() != len(r.aggrMetricsFuncs) {
			return errors.Newf(errors.ErrorTypeValidation, "%d metrics but %d aggregation functions",
				r.aggrMetrics.Cardinality(), len(r.aggrMetricsFuncs))
		}
		if !r.info.hasColumns(r.aggrGroupBy.Or(r.aggrMetrics)) {
			return errors.New(errors.ErrorTypeValidation, "aggregation references columns outside the table")
		}
		r.columns = r.columns.Or(r.aggrGroupBy).Or(r.aggrMetrics)
	} else if !r.columnsSet {
		r.columns = r.info.AllColumns()
	}

	if r.filter != nil {
		return r.validateFilter()
	}
	return nil
}

func (r *ScanRequest) validateFilter() error {
	filterCols := r.filter.Columns()
	if !r.info.hasColumns(filterCols) {
		return errors.Newf(errors.ErrorTypeValidation, "filter columns %s outside table columns %s", filterCols, r.info.AllColumns())
	}
	// Filter columns are returned so an upper layer can evaluate again.
	r.columns = r.columns.Or(filterCols)

	if !IsEvaluableRecursively(r.filter) {
		var unevaluable ImmutableBitSet
		r.filter, unevaluable = ConvertUnevaluable(r.filter)
		// Keep those columns unaggregated so the residual can be applied later.
		if r.hasAggr {
			r.aggrGroupBy = r.aggrGroupBy.Or(unevaluable.AndNot(r.aggrMetrics))
		}
	}
	if r.filter == True {
		r.filter = nil
	}
	return nil
}

func (r *ScanRequest) Info() *GTInfo                { return r.info }
func (r *ScanRequest) Range() ScanRange             { return r.rng }
func (r *ScanRequest) Columns() ImmutableBitSet     { return r.columns }
func (r *ScanRequest) Filter() Filter               { return r.filter }
func (r *ScanRequest) HasAggregation() bool         { return r.hasAggr }
func (r *ScanRequest) AggrGroupBy() ImmutableBitSet { return r.aggrGroupBy }
func (r *ScanRequest) AggrMetrics() ImmutableBitSet { return r.aggrMetrics }
func (r *ScanRequest) AggrMetricsFuncs() []string   { return r.aggrMetricsFuncs }
func (r *ScanRequest) AggrCacheLimit() int64        { return r.aggrCacheLimit }
func (r *ScanRequest) Dimensions() ImmutableBitSet  { return r.columns.AndNot(r.aggrMetrics) }
func (r *ScanRequest) HasFilter() bool              { return r.filter != nil }

func (r *ScanRequest) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ScanRequest[columns=%s", r.columns)
	if r.filter != nil {
		fmt.Fprintf(&sb, ", filter=%s", r.filter)
	}
	if r.hasAggr {
		fmt.Fprintf(&sb, ", groupBy=%s, metrics=%s, funcs=%v", r.aggrGroupBy, r.aggrMetrics, r.aggrMetricsFuncs)
	}
	sb.WriteByte(']')
	return sb.String()
}
