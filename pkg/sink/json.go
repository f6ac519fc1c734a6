package sink

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"

	gojson "github.com/goccy/go-json"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/logger"
)

// CuboidRow is one line of a JSON sink.
type CuboidRow struct {
	Cuboid int64                  `json:"cuboid"`
	Values map[string]interface{} `json:"values"`
}

// JSONSink writes every cuboid row as a JSON line into one file.
type JSONSink struct {
	desc   *cube.Desc
	logger *zap.Logger

	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	enc    *gojson.Encoder
	names  map[int64][]string
	rows   int64
	closed bool
}

// NewJSONSink creates the file at path, truncating it.
func NewJSONSink(path string, desc *cube.Desc, log *zap.Logger) (*JSONSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create output directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create json output").WithDetail("path", path)
	}
	w := bufio.NewWriter(f)
	return &JSONSink{
		desc:   desc,
		logger: logger.OrDefault(log).With(zap.String("sink", "json")),
		f:      f,
		w:      w,
		enc:    gojson.NewEncoder(w),
		names:  make(map[int64][]string),
	}, nil
}

func (s *JSONSink) Write(cuboidID int64, rec *gridtable.GTRecord) error {
	vals, err := decode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrorTypeContract, "json sink is closed")
	}
	names, ok := s.names[cuboidID]
	if !ok {
		names = s.desc.ColumnNames(cuboidID)
		s.names[cuboidID] = names
	}
	row := CuboidRow{Cuboid: cuboidID, Values: make(map[string]interface{}, len(names))}
	for i, name := range names {
		row.Values[name] = vals[i]
	}
	if err := s.enc.Encode(row); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "encode json row").WithDetail("cuboid", cuboidID)
	}
	s.rows++
	return nil
}

func (s *JSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := multierr.Combine(s.w.Flush(), s.f.Close())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "close json sink")
	}
	s.logger.Debug("json output written", zap.Int64("rows", s.rows), zap.String("path", s.f.Name()))
	return nil
}

// ReadJSONRows decodes a file written by JSONSink.
func ReadJSONRows(path string) ([]CuboidRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open json output")
	}
	defer f.Close()

	var rows []CuboidRow
	dec := gojson.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var row CuboidRow
		if err := dec.Decode(&row); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "decode json row")
		}
		rows = append(rows, row)
	}
	return rows, nil
}
