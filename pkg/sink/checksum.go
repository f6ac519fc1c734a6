package sink

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/qhzhou/Kylin/pkg/gridtable"
)

// ChecksumSink hashes the encoded cells of every cuboid and passes the
// rows on to next, if any. Two builds over the same input produce the
// same checksums.
type ChecksumSink struct {
	next Sink

	mu      sync.Mutex
	digests map[int64]*xxhash.Digest
	rows    map[int64]int64
	scratch [binary.MaxVarintLen64]byte
}

// NewChecksumSink wraps next, which may be nil.
func NewChecksumSink(next Sink) *ChecksumSink {
	return &ChecksumSink{
		next:    next,
		digests: make(map[int64]*xxhash.Digest),
		rows:    make(map[int64]int64),
	}
}

func (s *ChecksumSink) Write(cuboidID int64, rec *gridtable.GTRecord) error {
	s.mu.Lock()
	d, ok := s.digests[cuboidID]
	if !ok {
		d = xxhash.New()
		s.digests[cuboidID] = d
	}
	for _, col := range rec.Info().AllColumns().Indexes() {
		cell := rec.Get(col)
		n := binary.PutUvarint(s.scratch[:], uint64(len(cell)))
		_, _ = d.Write(s.scratch[:n])
		_, _ = d.Write(cell)
	}
	s.rows[cuboidID]++
	s.mu.Unlock()

	if s.next == nil {
		return nil
	}
	return s.next.Write(cuboidID, rec)
}

// Sum returns the checksum and row count of cuboidID.
func (s *ChecksumSink) Sum(cuboidID int64) (uint64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.digests[cuboidID]
	if !ok {
		return 0, 0
	}
	return d.Sum64(), s.rows[cuboidID]
}

// Sums returns the checksum of every cuboid written.
func (s *ChecksumSink) Sums() map[int64]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]uint64, len(s.digests))
	for id, d := range s.digests {
		out[id] = d.Sum64()
	}
	return out
}

// Digest folds every cuboid checksum, in cuboid id order, into one value.
func (s *ChecksumSink) Digest() uint64 {
	sums := s.Sums()
	ids := make([]int64, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	d := xxhash.New()
	var buf [16]byte
	for _, id := range ids {
		binary.BigEndian.PutUint64(buf[:8], uint64(id))
		binary.BigEndian.PutUint64(buf[8:], sums[id])
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

func (s *ChecksumSink) Close() error {
	if s.next == nil {
		return nil
	}
	return s.next.Close()
}
