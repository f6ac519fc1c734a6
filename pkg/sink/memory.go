package sink

import (
	"sort"
	"sync"

	"github.com/qhzhou/Kylin/pkg/gridtable"
)

// MemorySink keeps decoded rows per cuboid.
type MemorySink struct {
	mu   sync.Mutex
	rows map[int64][][]interface{}
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{rows: make(map[int64][][]interface{})}
}

func (s *MemorySink) Write(cuboidID int64, rec *gridtable.GTRecord) error {
	vals, err := decode(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rows[cuboidID] = append(s.rows[cuboidID], vals)
	s.mu.Unlock()
	return nil
}

// Rows returns the rows written for cuboidID.
func (s *MemorySink) Rows(cuboidID int64) [][]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[cuboidID]
}

// CuboidIDs returns every cuboid written, ascending.
func (s *MemorySink) CuboidIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *MemorySink) Close() error { return nil }
