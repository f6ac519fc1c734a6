package gridtable

import (
	"fmt"
	"io"
	"sync"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// Store persists the row blocks of one grid table. At most one writer may
// be open, and only while no reader is; any number of readers may be open
// while no writer is. Violations fail with an ErrorTypeContract error.
type Store interface {
	Info() *GTInfo
	// Rebuild opens the writer, discarding the current content.
	Rebuild() (BlockWriter, error)
	// Append opens the writer after the current content.
	Append() (BlockWriter, error)
	// Scan opens a reader positioned at the first block.
	Scan() (BlockReader, error)
	// Close releases the store; it must have no open writer or reader.
	Close() error
}

// BlockWriter receives row blocks in order.
type BlockWriter interface {
	WriteBlock(block *GTRowBlock) error
	Close() error
}

// BlockReader streams row blocks in write order. ReadBlock returns io.EOF
// after the last block. A loaded block is valid until the next ReadBlock.
type BlockReader interface {
	ReadBlock(block *GTRowBlock) error
	Close() error
}

// StoreState is the access state of a store.
type StoreState int

const (
	StateIdle StoreState = iota
	StateWriting
	StateReading
	StateClosed
)

func (s StoreState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateReading:
		return "reading"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("StoreState(%d)", int(s))
	}
}

// AccessGuard tracks the writer and readers of a store. It does no locking
// itself; the owning store calls it while holding its own mutex so that
// state checks and resource changes happen atomically.
type AccessGuard struct {
	Name    string
	writing bool
	readers int
	closed  bool
}

// State returns the current state and the number of open readers.
func (g *AccessGuard) State() (StoreState, int) {
	switch {
	case g.closed:
		return StateClosed, 0
	case g.writing:
		return StateWriting, 0
	case g.readers > 0:
		return StateReading, g.readers
	default:
		return StateIdle, 0
	}
}

// BeginWrite moves Idle to Writing.
func (g *AccessGuard) BeginWrite() error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	if g.writing {
		return errors.Newf(errors.ErrorTypeContract, "%s: a writer is already open", g.Name)
	}
	if g.readers > 0 {
		return errors.Newf(errors.ErrorTypeContract, "%s: cannot open a writer with %d active readers", g.Name, g.readers)
	}
	g.writing = true
	return nil
}

// EndWrite moves Writing back to Idle.
func (g *AccessGuard) EndWrite() error {
	if !g.writing {
		return errors.Newf(errors.ErrorTypeContract, "%s: no writer is open", g.Name)
	}
	g.writing = false
	return nil
}

// BeginRead adds a reader and reports whether it is the first one.
func (g *AccessGuard) BeginRead() (bool, error) {
	if err := g.checkOpen(); err != nil {
		return false, err
	}
	if g.writing {
		return false, errors.Newf(errors.ErrorTypeContract, "%s: cannot open a reader while a writer is active", g.Name)
	}
	g.readers++
	return g.readers == 1, nil
}

// EndRead removes a reader and reports whether it was the last one.
func (g *AccessGuard) EndRead() (bool, error) {
	if g.readers == 0 {
		return false, errors.Newf(errors.ErrorTypeContract, "%s: no reader is open", g.Name)
	}
	g.readers--
	return g.readers == 0, nil
}

// Close moves Idle to Closed. Closing twice is a no-op.
func (g *AccessGuard) Close() error {
	if g.closed {
		return nil
	}
	if g.writing || g.readers > 0 {
		return errors.Newf(errors.ErrorTypeContract, "%s: close with writer=%v readers=%d", g.Name, g.writing, g.readers)
	}
	g.closed = true
	return nil
}

func (g *AccessGuard) checkOpen() error {
	if g.closed {
		return errors.Newf(errors.ErrorTypeContract, "%s: store is closed", g.Name)
	}
	return nil
}

// MemStore keeps exported row blocks on the heap.
type MemStore struct {
	info *GTInfo

	mu     sync.Mutex
	guard  AccessGuard
	blocks [][]byte
	bytes  int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(info *GTInfo) *MemStore {
	return &MemStore{info: info, guard: AccessGuard{Name: "mem store " + info.TableName()}}
}

func (s *MemStore) Info() *GTInfo { return s.info }

func (s *MemStore) Rebuild() (BlockWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard.BeginWrite(); err != nil {
		return nil, err
	}
	s.blocks = nil
	s.bytes = 0
	return &memWriter{store: s}, nil
}

func (s *MemStore) Append() (BlockWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard.BeginWrite(); err != nil {
		return nil, err
	}
	return &memWriter{store: s}, nil
}

func (s *MemStore) Scan() (BlockReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.guard.BeginRead(); err != nil {
		return nil, err
	}
	return &memReader{store: s, blocks: s.blocks}, nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard.Close(); err != nil {
		return err
	}
	s.blocks = nil
	return nil
}

// State reports the access state for diagnostics.
func (s *MemStore) State() (StoreState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guard.State()
}

// SizeInBytes is the total size of the stored blocks.
func (s *MemStore) SizeInBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

type memWriter struct {
	store  *MemStore
	closed bool
}

func (w *memWriter) WriteBlock(block *GTRowBlock) error {
	if w.closed {
		return errors.New(errors.ErrorTypeContract, "write to a closed block writer")
	}
	data := block.Export(make([]byte, 0, block.EncodedSize()))
	w.store.mu.Lock()
	w.store.blocks = append(w.store.blocks, data)
	w.store.bytes += int64(len(data))
	w.store.mu.Unlock()
	return nil
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	return w.store.guard.EndWrite()
}

type memReader struct {
	store  *MemStore
	blocks [][]byte
	next   int
	closed bool
}

func (r *memReader) ReadBlock(block *GTRowBlock) error {
	if r.closed {
		return errors.New(errors.ErrorTypeContract, "read from a closed block reader")
	}
	if r.next >= len(r.blocks) {
		return io.EOF
	}
	data := r.blocks[r.next]
	r.next++
	return block.Load(data)
}

func (r *memReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.guard.EndRead()
	return err
}
