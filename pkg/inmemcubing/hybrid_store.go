package inmemcubing

import (
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qhzhou/Kylin/pkg/compression"
	"github.com/qhzhou/Kylin/pkg/config"
	"github.com/qhzhou/Kylin/pkg/errors"
	"github.com/qhzhou/Kylin/pkg/gridtable"
	"github.com/qhzhou/Kylin/pkg/logger"
	"github.com/qhzhou/Kylin/pkg/metrics"
)

// Spillable is a store that can move its content from memory to disk.
type Spillable interface {
	// Spill moves the content to disk. It fails with a contract error
	// unless the store is idle.
	Spill() error
	Spilled() bool
}

// HybridStore keeps row blocks in memory until it is spilled, and in a
// ConcurrentDiskStore afterwards.
type HybridStore struct {
	info    *gridtable.GTInfo
	newDisk func(*gridtable.GTInfo) (*ConcurrentDiskStore, error)
	logger  *zap.Logger

	// mu is held while a writer or reader is opened so that Spill never
	// races with a new user of the memory store.
	mu   sync.Mutex
	mem  *gridtable.MemStore
	disk *ConcurrentDiskStore
}

// NewHybridStore creates a store that spills through newDisk.
func NewHybridStore(info *gridtable.GTInfo, newDisk func(*gridtable.GTInfo) (*ConcurrentDiskStore, error), log *zap.Logger) *HybridStore {
	return &HybridStore{
		info:    info,
		newDisk: newDisk,
		logger:  logger.OrDefault(log).With(zap.String("table", info.TableName())),
		mem:     gridtable.NewMemStore(info),
	}
}

func (s *HybridStore) Info() *gridtable.GTInfo { return s.info }

func (s *HybridStore) current() gridtable.Store {
	if s.disk != nil {
		return s.disk
	}
	return s.mem
}

func (s *HybridStore) Rebuild() (gridtable.BlockWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current().Rebuild()
}

func (s *HybridStore) Append() (gridtable.BlockWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current().Append()
}

func (s *HybridStore) Scan() (gridtable.BlockReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current().Scan()
}

func (s *HybridStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current().Close()
}

// Spilled reports whether the content lives on disk.
func (s *HybridStore) Spilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disk != nil
}

// State reports the access state of the active store.
func (s *HybridStore) State() (gridtable.StoreState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disk != nil {
		return s.disk.State()
	}
	return s.mem.State()
}

// Spill copies every block to a new disk store and drops the memory copy.
// Spilling twice is a no-op.
func (s *HybridStore) Spill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disk != nil {
		return nil
	}
	if state, readers := s.mem.State(); state != gridtable.StateIdle {
		return errors.Newf(errors.ErrorTypeContract, "cannot spill %s while %s with %d readers", s.info.TableName(), state, readers)
	}

	disk, err := s.newDisk(s.info)
	if err != nil {
		return err
	}
	size := s.mem.SizeInBytes()
	if err := copyBlocks(s.mem, disk); err != nil {
		return multierr.Append(err, disk.Close())
	}
	if err := s.mem.Close(); err != nil {
		return multierr.Append(err, disk.Close())
	}
	s.disk = disk
	metrics.Spills.Inc()
	s.logger.Info("grid table spilled to disk",
		zap.String("size", humanize.IBytes(uint64(size))), zap.String("path", disk.Path()))
	return nil
}

func copyBlocks(from, to gridtable.Store) (err error) {
	r, err := from.Scan()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()
	w, err := to.Rebuild()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, w.Close()) }()

	block := gridtable.NewRowBlock(from.Info())
	for {
		if err := r.ReadBlock(block); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if err := w.WriteBlock(block); err != nil {
			return err
		}
	}
}

// StoreFactory creates the store of a new cuboid grid table.
type StoreFactory func(info *gridtable.GTInfo) (gridtable.Store, error)

// NewStoreFactory returns the factory for the configured backend.
func NewStoreFactory(cfg config.StorageConfig, log *zap.Logger) (StoreFactory, error) {
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "storage.compression")
	}
	var comp compression.Compressor
	if cfg.IsCompressionEnabled() {
		if comp, err = compression.NewCompressor(&compression.Config{
			Algorithm: algo,
			Level:     compression.Level(cfg.CompressionLevel),
		}); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "storage.compression")
		}
	}

	newDisk := func(info *gridtable.GTInfo) (*ConcurrentDiskStore, error) {
		return NewConcurrentDiskStore(info, cfg.SpillDir,
			WithBufferSize(cfg.BufferSize),
			WithCompressor(comp),
			WithLogger(log))
	}

	switch cfg.Backend {
	case config.BackendMemory:
		return func(info *gridtable.GTInfo) (gridtable.Store, error) {
			return gridtable.NewMemStore(info), nil
		}, nil
	case config.BackendDisk, "":
		return func(info *gridtable.GTInfo) (gridtable.Store, error) {
			return newDisk(info)
		}, nil
	case config.BackendHybrid:
		return func(info *gridtable.GTInfo) (gridtable.Store, error) {
			return NewHybridStore(info, newDisk, log), nil
		}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown storage backend %q", cfg.Backend)
	}
}
