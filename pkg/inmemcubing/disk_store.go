package inmemcubing

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qhzhou/Kylin/pkg/compression"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/logger"
	"github.com/qhzhou/Kylin/pkg/metrics"
	"github.com/qhzhou/Kylin/pkg/pool"
)

// DefaultBufferSize is the read and write buffer of a disk store.
const DefaultBufferSize = 8 << 10

// exportBuffers recycles the scratch space writers export blocks into.
var exportBuffers = pool.NewBufferPool()

// ConcurrentDiskStore keeps the row blocks of one grid table in a private
// file. It has a single writer at a time, or any number of concurrent
// readers that share one read-only file handle, each with its own cursor.
//
// Blocks are framed as a uvarint length followed by the exported block,
// compressed when a compressor is configured. Only full rewrites are
// supported; Append always fails.
type ConcurrentDiskStore struct {
	info       *gridtable.GTInfo
	path       string
	ownsFile   bool
	bufferSize int
	comp       compression.Compressor
	logger     *zap.Logger

	mu       sync.Mutex
	guard    gridtable.AccessGuard
	readFile *os.File
	size     int64
	removed  bool
}

// DiskStoreOption configures a ConcurrentDiskStore.
type DiskStoreOption func(*ConcurrentDiskStore)

// WithBufferSize sets the read and write buffer size.
func WithBufferSize(n int) DiskStoreOption {
	return func(s *ConcurrentDiskStore) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithCompressor compresses every block with c.
func WithCompressor(c compression.Compressor) DiskStoreOption {
	return func(s *ConcurrentDiskStore) { s.comp = c }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) DiskStoreOption {
	return func(s *ConcurrentDiskStore) { s.logger = l }
}

// WithFile stores blocks in path instead of a temporary file. The file is
// truncated but not removed on Close.
func WithFile(path string) DiskStoreOption {
	return func(s *ConcurrentDiskStore) { s.path = path }
}

// NewConcurrentDiskStore creates an empty store whose file lives in dir.
func NewConcurrentDiskStore(info *gridtable.GTInfo, dir string, opts ...DiskStoreOption) (*ConcurrentDiskStore, error) {
	s := &ConcurrentDiskStore{
		info:       info,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger).With(zap.String("table", info.TableName()))

	if s.path == "" {
		f, err := os.CreateTemp(dir, info.TableName()+"-*.gt")
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create disk store file")
		}
		s.path = f.Name()
		s.ownsFile = true
		if err := f.Close(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "create disk store file")
		}
	} else {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open disk store file")
		}
		if err := f.Close(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open disk store file")
		}
	}
	s.guard.Name = "disk store " + info.TableName()
	s.logger.Debug("disk store created", zap.String("path", s.path))
	return s, nil
}

func (s *ConcurrentDiskStore) Info() *gridtable.GTInfo { return s.info }

// Path returns the backing file.
func (s *ConcurrentDiskStore) Path() string { return s.path }

// State reports the access state and the number of open readers.
func (s *ConcurrentDiskStore) State() (gridtable.StoreState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guard.State()
}

// SizeInBytes is the length of the file content.
func (s *ConcurrentDiskStore) SizeInBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Rebuild truncates the file and opens the writer at offset 0.
func (s *ConcurrentDiskStore) Rebuild() (gridtable.BlockWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard.BeginWrite(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		_ = s.guard.EndWrite()
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open disk store for writing").
			WithDetail("path", s.path)
	}
	s.size = 0
	return &diskWriter{
		store:   s,
		file:    f,
		w:       bufio.NewWriterSize(io.NewOffsetWriter(f, 0), s.bufferSize),
		scratch: exportBuffers.Get(s.bufferSize)[:0],
	}, nil
}

// Append is not supported: a disk store is only ever written in full.
func (s *ConcurrentDiskStore) Append() (gridtable.BlockWriter, error) {
	return nil, errors.Newf(errors.ErrorTypeContract, "%s: append is not supported", s.guard.Name)
}

// Scan opens a reader at the first block. The first concurrent reader
// opens the shared file handle.
func (s *ConcurrentDiskStore) Scan() (gridtable.BlockReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first, err := s.guard.BeginRead()
	if err != nil {
		return nil, err
	}
	if first {
		f, err := os.Open(s.path)
		if err != nil {
			_, _ = s.guard.EndRead()
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open disk store for reading").
				WithDetail("path", s.path)
		}
		s.readFile = f
	}
	return &diskReader{
		store: s,
		r:     bufio.NewReaderSize(io.NewSectionReader(s.readFile, 0, s.size), s.bufferSize),
	}, nil
}

// Close removes the file if the store created it. It fails while a writer
// or reader is open.
func (s *ConcurrentDiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard.Close(); err != nil {
		return err
	}
	if s.ownsFile && !s.removed {
		s.removed = true
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.ErrorTypeStorage, "remove disk store file")
		}
		s.logger.Debug("disk store removed", zap.String("path", s.path))
	}
	return nil
}

type diskWriter struct {
	store   *ConcurrentDiskStore
	file    *os.File
	w       *bufio.Writer
	scratch []byte
	frame   [binary.MaxVarintLen64]byte
	written int64
	closed  bool
}

func (w *diskWriter) WriteBlock(block *gridtable.GTRowBlock) error {
	if w.closed {
		return errors.New(errors.ErrorTypeContract, "write to a closed block writer")
	}
	w.scratch = block.Export(w.scratch[:0])
	data := w.scratch
	if w.store.comp != nil {
		c, err := w.store.comp.Compress(data)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeStorage, "compress row block")
		}
		data = c
	}

	n := binary.PutUvarint(w.frame[:], uint64(len(data)))
	if _, err := w.w.Write(w.frame[:n]); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "write row block")
	}
	if _, err := w.w.Write(data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "write row block")
	}
	w.written += int64(n + len(data))
	return nil
}

// Close flushes the buffer and returns the store to idle.
func (w *diskWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	exportBuffers.Put(w.scratch)
	w.scratch = nil

	err := multierr.Combine(w.w.Flush(), w.file.Close())
	metrics.StoreBytes.WithLabelValues("write").Add(float64(w.written))

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if err == nil {
		w.store.size = w.written
	}
	if endErr := w.store.guard.EndWrite(); endErr != nil {
		return endErr
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "close disk store writer")
	}
	return nil
}

type diskReader struct {
	store  *ConcurrentDiskStore
	r      *bufio.Reader
	buf    []byte
	read   int64
	closed bool
}

func (r *diskReader) ReadBlock(block *gridtable.GTRowBlock) error {
	if r.closed {
		return errors.New(errors.ErrorTypeContract, "read from a closed block reader")
	}
	n, err := binary.ReadUvarint(r.r)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "read row block length")
	}
	if cap(r.buf) < int(n) {
		r.buf = make([]byte, n)
	}
	r.buf = r.buf[:n]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "read row block")
	}
	r.read += int64(n)

	data := r.buf
	if r.store.comp != nil {
		if data, err = r.store.comp.Decompress(data); err != nil {
			return errors.Wrap(err, errors.ErrorTypeStorage, "decompress row block")
		}
	}
	return block.Load(data)
}

// Close releases the reader; the last one closes the shared file.
func (r *diskReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	metrics.StoreBytes.WithLabelValues("read").Add(float64(r.read))

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	last, err := r.store.guard.EndRead()
	if err != nil {
		return err
	}
	if last && r.store.readFile != nil {
		f := r.store.readFile
		r.store.readFile = nil
		if err := f.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeStorage, "close disk store file")
		}
	}
	return nil
}
