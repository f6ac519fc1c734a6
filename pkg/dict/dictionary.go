// Package dict defines the dictionaries that map dimension values to
// fixed-width, order-preserving integer ids. The cube builder only looks
// values up; dictionaries are built upstream, or by the test harness and
// CLI from the flat table itself.
package dict

import (
	"fmt"
	"sort"
)

// NullID marks a null value; its encoding is all 0xFF bytes.
const NullID = -1

// Dictionary maps values to ids in [0, Size()) preserving value order.
// The empty string is the null value.
type Dictionary interface {
	IDOf(value string) (int, error)
	ValueOf(id int) (string, error)
	// SizeOfID is the byte width of every encoded id.
	SizeOfID() int
	Size() int
}

// EncodeID appends the big-endian, SizeOfID-wide encoding of id to dst.
func EncodeID(d Dictionary, id int, dst []byte) []byte {
	n := d.SizeOfID()
	if id == NullID {
		for i := 0; i < n; i++ {
			dst = append(dst, 0xFF)
		}
		return dst
	}
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(id>>(8*i)))
	}
	return dst
}

// DecodeID reads an id written by EncodeID.
func DecodeID(b []byte) int {
	null := true
	id := 0
	for _, c := range b {
		if c != 0xFF {
			null = false
		}
		id = id<<8 | int(c)
	}
	if null {
		return NullID
	}
	return id
}

// SortedDictionary assigns ids by ascending value.
type SortedDictionary struct {
	values   []string
	ids      map[string]int
	sizeOfID int
}

// NewSortedDictionary builds a dictionary over the distinct non-empty values.
func NewSortedDictionary(values []string) *SortedDictionary {
	seen := make(map[string]struct{}, len(values))
	distinct := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		distinct = append(distinct, v)
	}
	sort.Strings(distinct)

	ids := make(map[string]int, len(distinct))
	for i, v := range distinct {
		ids[v] = i
	}
	return &SortedDictionary{values: distinct, ids: ids, sizeOfID: idWidth(len(distinct))}
}

// idWidth is the bytes needed for n ids while keeping all-0xFF free for null.
func idWidth(n int) int {
	width := 1
	for limit := 0xFF; n > limit; limit = limit<<8 | 0xFF {
		width++
	}
	return width
}

func (d *SortedDictionary) IDOf(value string) (int, error) {
	if value == "" {
		return NullID, nil
	}
	id, ok := d.ids[value]
	if !ok {
		return 0, fmt.Errorf("value %q not in dictionary", value)
	}
	return id, nil
}

func (d *SortedDictionary) ValueOf(id int) (string, error) {
	if id == NullID {
		return "", nil
	}
	if id < 0 || id >= len(d.values) {
		return "", fmt.Errorf("id %d out of range [0,%d)", id, len(d.values))
	}
	return d.values[id], nil
}

func (d *SortedDictionary) SizeOfID() int { return d.sizeOfID }
func (d *SortedDictionary) Size() int     { return len(d.values) }

// Builder collects values for a SortedDictionary.
type Builder struct {
	values map[string]struct{}
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{values: make(map[string]struct{})}
}

// Add records a value. Empty values are nulls and are not stored.
func (b *Builder) Add(value string) {
	if value != "" {
		b.values[value] = struct{}{}
	}
}

// Build returns the dictionary of every value added so far.
func (b *Builder) Build() *SortedDictionary {
	values := make([]string, 0, len(b.values))
	for v := range b.values {
		values = append(values, v)
	}
	return NewSortedDictionary(values)
}
