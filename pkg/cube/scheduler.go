package cube

import (
	"math/bits"
	"sort"
)

// Scheduler defines the cuboid lattice: which cuboids exist and the
// spanning tree along which each one is computed from a parent.
type Scheduler interface {
	BaseCuboidID() int64
	// Spanning returns the children computed from cuboidID.
	Spanning(cuboidID int64) []int64
	// Parent returns the cuboid cuboidID is computed from. The base cuboid
	// has none.
	Parent(cuboidID int64) (int64, bool)
	IsValid(cuboidID int64) bool
	CuboidCount() int
	// AllCuboidIDs lists every cuboid in ascending id order.
	AllCuboidIDs() []int64
}

// TreeScheduler spans every non-empty subset of the dimensions that keeps
// the mandatory dimensions. A cuboid's parent adds back its lowest missing
// dimension bit, so each cuboid has exactly one parent and the tree is
// balanced between wide and narrow branches.
type TreeScheduler struct {
	base      int64
	mandatory int64
	all       []int64
}

// NewScheduler creates the scheduler of desc.
func NewScheduler(desc *Desc) *TreeScheduler {
	s := &TreeScheduler{base: desc.BaseCuboidID(), mandatory: desc.MandatoryMask()}
	queue := []int64{s.base}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		s.all = append(s.all, id)
		queue = append(queue, s.Spanning(id)...)
	}
	sort.Slice(s.all, func(i, j int) bool { return s.all[i] < s.all[j] })
	return s
}

func (s *TreeScheduler) BaseCuboidID() int64 { return s.base }
func (s *TreeScheduler) CuboidCount() int    { return len(s.all) }

func (s *TreeScheduler) AllCuboidIDs() []int64 {
	return append([]int64(nil), s.all...)
}

func (s *TreeScheduler) IsValid(cuboidID int64) bool {
	return cuboidID > 0 && cuboidID&^s.base == 0 && cuboidID&s.mandatory == s.mandatory
}

// lowestZero returns the position of the lowest base bit cuboidID lacks,
// or the dimension count for the base cuboid.
func (s *TreeScheduler) lowestZero(cuboidID int64) int {
	missing := s.base &^ cuboidID
	if missing == 0 {
		return bits.Len64(uint64(s.base))
	}
	return bits.TrailingZeros64(uint64(missing))
}

func (s *TreeScheduler) Spanning(cuboidID int64) []int64 {
	if !s.IsValid(cuboidID) {
		return nil
	}
	var children []int64
	limit := s.lowestZero(cuboidID)
	for bit := limit - 1; bit >= 0; bit-- {
		mask := int64(1) << bit
		if s.mandatory&mask != 0 {
			continue
		}
		if child := cuboidID &^ mask; child != 0 {
			children = append(children, child)
		}
	}
	return children
}

func (s *TreeScheduler) Parent(cuboidID int64) (int64, bool) {
	if cuboidID == s.base || !s.IsValid(cuboidID) {
		return 0, false
	}
	return cuboidID | int64(1)<<s.lowestZero(cuboidID), true
}
