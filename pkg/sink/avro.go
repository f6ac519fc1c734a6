package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/logger"
	"github.com/qhzhou/Kylin/pkg/measure"
)

// DefaultAvroBlockSize is the number of rows per Avro container block.
const DefaultAvroBlockSize = 1024

var invalidAvroName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// AvroSink writes one snappy-compressed Avro object container file per
// cuboid. Every field is a union with null.
type AvroSink struct {
	dir    string
	desc   *cube.Desc
	logger *zap.Logger

	mu     sync.Mutex
	files  map[int64]*avroFile
	closed bool
}

type avroFile struct {
	f       *os.File
	w       *goavro.OCFWriter
	fields  []avroField
	pending []interface{}
	rows    int64
}

type avroField struct {
	name string
	typ  string
}

// NewAvroSink creates dir if needed.
func NewAvroSink(dir string, desc *cube.Desc, log *zap.Logger) (*AvroSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create output directory")
	}
	return &AvroSink{
		dir:    dir,
		desc:   desc,
		logger: logger.OrDefault(log).With(zap.String("sink", "avro")),
		files:  make(map[int64]*avroFile),
	}, nil
}

func avroType(dt measure.DataType) string {
	switch dt.Kind() {
	case measure.KindLong, measure.KindHLLC:
		return "long"
	case measure.KindDouble:
		return "double"
	default:
		return "string"
	}
}

// avroFields names the fields of a cuboid file; column names are
// sanitized into Avro names.
func avroFields(desc *cube.Desc, cuboidID int64, info *gridtable.GTInfo) []avroField {
	names := desc.ColumnNames(cuboidID)
	fields := make([]avroField, len(names))
	for i, name := range names {
		name = invalidAvroName.ReplaceAllString(name, "_")
		if name == "" || (name[0] >= '0' && name[0] <= '9') {
			name = "_" + name
		}
		fields[i] = avroField{name: name, typ: avroType(info.ColumnType(i))}
	}
	return fields
}

// AvroSchema returns the schema of a cuboid file.
func AvroSchema(desc *cube.Desc, cuboidID int64, info *gridtable.GTInfo) (string, error) {
	type field struct {
		Name    string        `json:"name"`
		Type    []interface{} `json:"type"`
		Default interface{}   `json:"default"`
	}
	schema := struct {
		Type   string  `json:"type"`
		Name   string  `json:"name"`
		Fields []field `json:"fields"`
	}{Type: "record", Name: fmt.Sprintf("cuboid_%d", cuboidID)}
	for _, f := range avroFields(desc, cuboidID, info) {
		schema.Fields = append(schema.Fields, field{Name: f.name, Type: []interface{}{"null", f.typ}})
	}
	b, err := gojson.Marshal(schema)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *AvroSink) Write(cuboidID int64, rec *gridtable.GTRecord) error {
	vals, err := decode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrorTypeContract, "avro sink is closed")
	}
	af, err := s.open(cuboidID, rec.Info())
	if err != nil {
		return err
	}
	native := make(map[string]interface{}, len(af.fields))
	for i, f := range af.fields {
		v := vals[i]
		if x, ok := v.(uint64); ok {
			v = int64(x)
		}
		if v == nil {
			native[f.name] = nil
		} else {
			native[f.name] = goavro.Union(f.typ, v)
		}
	}
	af.pending = append(af.pending, native)
	af.rows++
	if len(af.pending) >= DefaultAvroBlockSize {
		return af.flush()
	}
	return nil
}

func (s *AvroSink) open(cuboidID int64, info *gridtable.GTInfo) (*avroFile, error) {
	if af, ok := s.files[cuboidID]; ok {
		return af, nil
	}
	schema, err := AvroSchema(s.desc, cuboidID, info)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build avro schema")
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "create avro codec")
	}
	path := filepath.Join(s.dir, cuboidFileName(s.desc, cuboidID, "avro"))
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create cuboid file").WithDetail("path", path)
	}
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           codec,
		CompressionName: goavro.CompressionSnappyLabel,
	})
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create avro writer").WithDetail("path", path)
	}
	af := &avroFile{f: f, w: w, fields: avroFields(s.desc, cuboidID, info)}
	s.files[cuboidID] = af
	return af, nil
}

func (af *avroFile) flush() error {
	if len(af.pending) == 0 {
		return nil
	}
	err := af.w.Append(af.pending)
	af.pending = af.pending[:0]
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "write avro block").WithDetail("path", af.f.Name())
	}
	return nil
}

// Close writes pending blocks and closes every cuboid file.
func (s *AvroSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	for id, af := range s.files {
		err = multierr.Append(err, af.flush())
		err = multierr.Append(err, af.f.Close())
		s.logger.Debug("cuboid file written",
			zap.Int64("cuboid", id),
			zap.Int64("rows", af.rows),
			zap.String("path", af.f.Name()))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "close avro sink")
	}
	return nil
}

// ReadAvroRows reads a cuboid file written by AvroSink. Each row maps
// field names to plain values, nil for null.
func ReadAvroRows(path string) ([]map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open avro file")
	}
	defer f.Close()

	r, err := goavro.NewOCFReader(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open avro reader")
	}
	var rows []map[string]interface{}
	for r.Scan() {
		datum, err := r.Read()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "read avro row")
		}
		rec, ok := datum.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "avro row is %T", datum)
		}
		row := make(map[string]interface{}, len(rec))
		for k, v := range rec {
			// Non-null unions decode as a single-entry map keyed by type.
			if u, ok := v.(map[string]interface{}); ok {
				for _, inner := range u {
					v = inner
				}
			}
			row[k] = v
		}
		rows = append(rows, row)
	}
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "scan avro file")
	}
	return rows, nil
}
