// Package htable implements the open-addressed hash table spec.md §8
// requires for texture/material name lookup: power-of-two capacity, linear
// probing, "empty terminates search" after tombstones, and an optional
// case-insensitive comparison mode. The probing strategy is grounded on the
// teacher's GPU light-grid hash (voxelrt/rt/gpu/manager.go's
// updateSectorGrid), which linearly probes a power-of-two-sized slot array
// with a sentinel empty value and a bounded probe count; this package
// generalizes that into a standalone, CPU-side string-keyed table.
package htable

import "strings"

const maxProbeFactor = 1 // probe the whole table; capacity always doubles before it fills

type slotState uint8

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstone
)

type slot struct {
	state slotState
	key   string
	value int
}

// Table is an open-addressed hash table from string keys to int values
// (callers storing richer values index into their own slice with the int).
type Table struct {
	slots         []slot
	count         int // occupied, excludes tombstones
	tombstones    int
	caseSensitive bool
}

// New creates a table with at least the given capacity, rounded up to the
// next power of two (minimum 16).
func New(capacityHint int, caseSensitive bool) *Table {
	cap := nextPow2(capacityHint)
	if cap < 16 {
		cap = 16
	}
	return &Table{
		slots:         make([]slot, cap),
		caseSensitive: caseSensitive,
	}
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (t *Table) normalize(key string) string {
	if t.caseSensitive {
		return key
	}
	return strings.ToLower(key)
}

// fnv1a31 is a 31-bit-folded FNV-1a hash; the top bit is masked off so the
// result is stable across platforms regardless of signedness handling.
func fnv1a31(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h & 0x7FFFFFFF
}

func (t *Table) Capacity() int { return len(t.slots) }
func (t *Table) Len() int      { return t.count }

// Find returns the slot index holding key, or (0, false) if absent.
func (t *Table) Find(key string) (int, bool) {
	key = t.normalize(key)
	mask := uint32(len(t.slots) - 1)
	idx := fnv1a31(key) & mask
	for probes := 0; probes <= len(t.slots); probes++ {
		s := &t.slots[idx]
		switch s.state {
		case slotEmpty:
			return 0, false
		case slotOccupied:
			if s.key == key {
				return int(idx), true
			}
		case slotTombstone:
			// tombstones do not terminate the search
		}
		idx = (idx + 1) & mask
	}
	return 0, false
}

// Insert inserts key->value if absent. created is false if key was already
// present, in which case index points at the existing slot and its value is
// left unmodified (callers that want upsert semantics should Remove first).
func (t *Table) Insert(key string, value int) (index int, created bool) {
	if idx, ok := t.Find(key); ok {
		return idx, false
	}
	if (t.count+t.tombstones)*2 >= len(t.slots) {
		t.grow()
	}
	nk := t.normalize(key)
	mask := uint32(len(t.slots) - 1)
	idx := fnv1a31(nk) & mask
	for {
		s := &t.slots[idx]
		if s.state != slotOccupied {
			if s.state == slotTombstone {
				t.tombstones--
			}
			s.state = slotOccupied
			s.key = nk
			s.value = value
			t.count++
			return int(idx), true
		}
		idx = (idx + 1) & mask
	}
}

// Remove deletes key if present, leaving a tombstone behind so existing
// probe chains through this slot remain intact.
func (t *Table) Remove(key string) bool {
	idx, ok := t.Find(key)
	if !ok {
		return false
	}
	t.slots[idx].state = slotTombstone
	t.slots[idx].key = ""
	t.count--
	t.tombstones++
	return true
}

// Value returns the value stored at an index returned by Find/Insert.
func (t *Table) Value(index int) int { return t.slots[index].value }

func (t *Table) grow() {
	old := t.slots
	t.slots = make([]slot, len(old)*2)
	t.count = 0
	t.tombstones = 0
	for _, s := range old {
		if s.state == slotOccupied {
			t.Insert(s.key, s.value)
		}
	}
}
