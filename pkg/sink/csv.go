package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qhzhou/Kylin/pkg/cube"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/logger"
)

// CSVSink writes one headered CSV file per cuboid.
type CSVSink struct {
	dir    string
	desc   *cube.Desc
	logger *zap.Logger

	mu     sync.Mutex
	files  map[int64]*csvFile
	record []string
	closed bool
}

type csvFile struct {
	f    *os.File
	w    *csv.Writer
	rows int64
}

// NewCSVSink creates dir if needed.
func NewCSVSink(dir string, desc *cube.Desc, log *zap.Logger) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create output directory")
	}
	return &CSVSink{
		dir:    dir,
		desc:   desc,
		logger: logger.OrDefault(log).With(zap.String("sink", "csv")),
		files:  make(map[int64]*csvFile),
	}, nil
}

func (s *CSVSink) Write(cuboidID int64, rec *gridtable.GTRecord) error {
	vals, err := rec.Values(rec.Info().AllColumns())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrorTypeContract, "csv sink is closed")
	}
	cf, err := s.open(cuboidID)
	if err != nil {
		return err
	}
	s.record = s.record[:0]
	for _, v := range vals {
		s.record = append(s.record, formatValue(v))
	}
	if err := cf.w.Write(s.record); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "write csv row").WithDetail("cuboid", cuboidID)
	}
	cf.rows++
	return nil
}

func (s *CSVSink) open(cuboidID int64) (*csvFile, error) {
	if cf, ok := s.files[cuboidID]; ok {
		return cf, nil
	}
	path := filepath.Join(s.dir, cuboidFileName(s.desc, cuboidID, "csv"))
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create cuboid file").WithDetail("path", path)
	}
	cf := &csvFile{f: f, w: csv.NewWriter(f)}
	if err := cf.w.Write(s.desc.ColumnNames(cuboidID)); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "write csv header").WithDetail("path", path)
	}
	s.files[cuboidID] = cf
	return cf, nil
}

// Close flushes and closes every cuboid file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	for id, cf := range s.files {
		cf.w.Flush()
		err = multierr.Append(err, cf.w.Error())
		err = multierr.Append(err, cf.f.Close())
		s.logger.Debug("cuboid file written",
			zap.Int64("cuboid", id),
			zap.Int64("rows", cf.rows),
			zap.String("path", cf.f.Name()))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "close csv sink")
	}
	return nil
}
