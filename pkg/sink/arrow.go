package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/logger"
	"github.com/qhzhou/Kylin/pkg/measure"
)

// DefaultArrowBatchSize is the number of rows per Arrow record batch.
const DefaultArrowBatchSize = 4096

// ArrowSink writes one Arrow IPC file per cuboid.
type ArrowSink struct {
	dir       string
	desc      *cube.Desc
	batchSize int
	pool      memory.Allocator
	logger    *zap.Logger

	mu     sync.Mutex
	files  map[int64]*arrowFile
	closed bool
}

type arrowFile struct {
	f       *os.File
	schema  *arrow.Schema
	fw      *ipc.FileWriter
	builder *array.RecordBuilder
	pending int
	rows    int64
}

// ArrowOption configures an ArrowSink.
type ArrowOption func(*ArrowSink)

// WithBatchSize sets the rows per record batch.
func WithBatchSize(n int) ArrowOption {
	return func(s *ArrowSink) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewArrowSink creates dir if needed.
func NewArrowSink(dir string, desc *cube.Desc, log *zap.Logger, opts ...ArrowOption) (*ArrowSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create output directory")
	}
	s := &ArrowSink{
		dir:       dir,
		desc:      desc,
		batchSize: DefaultArrowBatchSize,
		pool:      memory.NewGoAllocator(),
		logger:    logger.OrDefault(log).With(zap.String("sink", "arrow")),
		files:     make(map[int64]*arrowFile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// arrowType maps a grid table column type to its Arrow field type.
// Decimals travel as text and HLL counters as their estimate.
func arrowType(dt measure.DataType) arrow.DataType {
	switch dt.Kind() {
	case measure.KindLong:
		return arrow.PrimitiveTypes.Int64
	case measure.KindDouble:
		return arrow.PrimitiveTypes.Float64
	case measure.KindHLLC:
		return arrow.PrimitiveTypes.Uint64
	default:
		return arrow.BinaryTypes.String
	}
}

// ArrowSchema returns the schema of a cuboid file.
func ArrowSchema(desc *cube.Desc, cuboidID int64, info *gridtable.GTInfo) *arrow.Schema {
	names := desc.ColumnNames(cuboidID)
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrowType(info.ColumnType(i)), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func (s *ArrowSink) Write(cuboidID int64, rec *gridtable.GTRecord) error {
	vals, err := decode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrorTypeContract, "arrow sink is closed")
	}
	af, err := s.open(cuboidID, rec.Info())
	if err != nil {
		return err
	}
	for i, v := range vals {
		if err := appendValue(af.builder.Field(i), v); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "append arrow value").
				WithDetail("cuboid", cuboidID).
				WithDetail("field", af.schema.Field(i).Name)
		}
	}
	af.pending++
	af.rows++
	if af.pending >= s.batchSize {
		return af.flush()
	}
	return nil
}

func (s *ArrowSink) open(cuboidID int64, info *gridtable.GTInfo) (*arrowFile, error) {
	if af, ok := s.files[cuboidID]; ok {
		return af, nil
	}
	path := filepath.Join(s.dir, cuboidFileName(s.desc, cuboidID, "arrow"))
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create cuboid file").WithDetail("path", path)
	}
	schema := ArrowSchema(s.desc, cuboidID, info)
	fw, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(s.pool))
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create arrow writer").WithDetail("path", path)
	}
	af := &arrowFile{
		f:       f,
		schema:  schema,
		fw:      fw,
		builder: array.NewRecordBuilder(s.pool, schema),
	}
	s.files[cuboidID] = af
	return af, nil
}

func appendValue(b array.Builder, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch fb := b.(type) {
	case *array.StringBuilder:
		x, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		fb.Append(x)
	case *array.Int64Builder:
		x, ok := v.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", v)
		}
		fb.Append(x)
	case *array.Float64Builder:
		x, ok := v.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", v)
		}
		fb.Append(x)
	case *array.Uint64Builder:
		x, ok := v.(uint64)
		if !ok {
			return fmt.Errorf("expected uint64, got %T", v)
		}
		fb.Append(x)
	default:
		return fmt.Errorf("unsupported arrow builder %T", b)
	}
	return nil
}

func (af *arrowFile) flush() error {
	if af.pending == 0 {
		return nil
	}
	rec := af.builder.NewRecord()
	defer rec.Release()
	af.pending = 0
	if err := af.fw.Write(rec); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "write arrow batch").WithDetail("path", af.f.Name())
	}
	return nil
}

// Close writes pending batches and the file footers.
func (s *ArrowSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	for id, af := range s.files {
		err = multierr.Append(err, af.flush())
		err = multierr.Append(err, af.fw.Close())
		err = multierr.Append(err, af.f.Close())
		af.builder.Release()
		s.logger.Debug("cuboid file written",
			zap.Int64("cuboid", id),
			zap.Int64("rows", af.rows),
			zap.String("path", af.f.Name()))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "close arrow sink")
	}
	return nil
}

// ReadArrowRows reads a cuboid file written by ArrowSink back into rows.
func ReadArrowRows(path string) ([][]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open arrow file")
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open arrow reader")
	}
	defer r.Close()

	var rows [][]interface{}
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "read arrow batch")
		}
		for k := 0; k < int(rec.NumRows()); k++ {
			row := make([]interface{}, rec.NumCols())
			for j := range row {
				row[j] = arrowValue(rec.Column(j), k)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func arrowValue(col arrow.Array, k int) interface{} {
	if col.IsNull(k) {
		return nil
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(k)
	case *array.Int64:
		return c.Value(k)
	case *array.Float64:
		return c.Value(k)
	case *array.Uint64:
		return c.Value(k)
	default:
		return c.ValueStr(k)
	}
}
