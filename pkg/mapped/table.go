package mapped

import "sync/atomic"

// slot holds the current region for one index.
//
// Slots are shared between table generations: growth copies slot pointers,
// not slot contents, so an install into an old snapshot is seen through the
// new one as well.
type slot struct {
	region atomic.Pointer[Region]
}

// regionTable is an immutable-length snapshot of slots. Readers load one
// snapshot per operation; growth publishes a longer one.
type regionTable struct {
	slots []*slot
}

const initialTableLen = 2

func newRegionTable(n int) *regionTable {
	t := &regionTable{slots: make([]*slot, n)}
	for i := range t.slots {
		t.slots[i] = &slot{}
	}

	return t
}

func (t *regionTable) len() int { return len(t.slots) }

func (t *regionTable) load(index int) *Region {
	return t.slots[index].region.Load()
}

func (t *regionTable) cas(index int, old, r *Region) bool {
	return t.slots[index].region.CompareAndSwap(old, r)
}

// grown returns a table of length max(index+1, 2*len) that shares every
// existing slot. Slots still holding an unmapped region are cleared on the
// way.
func (t *regionTable) grown(index int) *regionTable {
	n := max(index+1, 2*t.len())

	next := &regionTable{slots: make([]*slot, n)}
	copy(next.slots, t.slots)

	for i := range t.len() {
		if r := t.slots[i].region.Load(); r != nil && r.IsClosed() {
			t.slots[i].region.CompareAndSwap(r, nil)
		}
	}

	for i := t.len(); i < n; i++ {
		next.slots[i] = &slot{}
	}

	return next
}

// live counts slots holding a region that is still mapped.
func (t *regionTable) live() int {
	n := 0

	for _, s := range t.slots {
		if r := s.region.Load(); r != nil && !r.IsClosed() {
			n++
		}
	}

	return n
}
