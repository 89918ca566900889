package mapq

import (
	"fmt"

	"github.com/calvinalkan/mapq/pkg/mapped"
)

// Sequencer is the handle to a position in the log, returned when a message
// was fully read.
type Sequencer interface {
	// Position returns the logical byte offset of the next field.
	Position() int64
}

// cursor translates a logical byte offset into bytes of a pinned region.
//
// Fields never straddle regions: a field that does not fit into the rest of
// the current region starts at the next region boundary and the skipped
// tail stays unused. Readers and the writer apply the same rule, so a
// reader replaying the writer's field sequence lands on the same offsets.
type cursor struct {
	file       *mapped.File
	regionSize int64
	position   int64
	region     *mapped.Region

	// limit, when set, rejects a field ending at end before it is touched.
	limit func(end int64) error
}

func newCursor(file *mapped.File, position int64) *cursor {
	return &cursor{
		file:       file,
		regionSize: file.RegionSize(),
		position:   position,
	}
}

// Position implements [Sequencer].
func (c *cursor) Position() int64 { return c.position }

// advance returns exactly n bytes for one field and moves past them.
func (c *cursor) advance(n int) ([]byte, error) {
	if int64(n) > c.regionSize {
		return nil, fmt.Errorf("field of %d bytes exceeds region size %d: %w", n, c.regionSize, mapped.ErrOutOfBounds)
	}

	local := c.position % c.regionSize
	if local+int64(n) > c.regionSize {
		c.position += c.regionSize - local
		local = 0
	}

	return c.take(local, n)
}

// advanceUpTo returns between 1 and n bytes from the current region and
// moves past them. Byte-granular data uses it to fill regions completely,
// which is the same layout as writing one 1-byte field at a time.
func (c *cursor) advanceUpTo(n int) ([]byte, error) {
	local := c.position % c.regionSize
	k := min(int64(n), c.regionSize-local)

	return c.take(local, int(k))
}

// check applies limit to n byte-granular bytes from the current position
// without pinning anything. Byte-granular data never relocates, so the end
// is exact.
func (c *cursor) check(n int) error {
	if c.limit == nil {
		return nil
	}

	return c.limit(c.position + int64(n))
}

func (c *cursor) take(local int64, n int) ([]byte, error) {
	err := c.check(n)
	if err != nil {
		return nil, err
	}

	if c.region == nil || !c.region.Contains(c.position) {
		err = c.pin(c.position)
		if err != nil {
			return nil, err
		}
	}

	buf, err := c.region.Slice(int(local), n)
	if err != nil {
		return nil, err
	}

	c.position += int64(n)

	return buf, nil
}

// pin makes the region holding position the pinned region. The new region
// is reserved before the old one is released so a failed reservation keeps
// the cursor consistent.
func (c *cursor) pin(position int64) error {
	index := c.file.RegionIndex(position)
	if index < 0 {
		return fmt.Errorf("position %d: %w", position, mapped.ErrOutOfBounds)
	}

	next, err := c.file.Reserve(index)
	if err != nil {
		return err
	}

	prev := c.region
	c.region = next

	if prev != nil {
		return c.file.Release(prev)
	}

	return nil
}

// seek moves the cursor without touching regions. The pin is swapped
// lazily on the next field.
func (c *cursor) seek(position int64) {
	c.position = position
}

// flush msyncs the pinned region, if any.
func (c *cursor) flush() error {
	if c.region == nil {
		return nil
	}

	return c.region.Flush()
}

// close releases the pinned region. Safe to call more than once.
func (c *cursor) close() error {
	if c.region == nil {
		return nil
	}

	r := c.region
	c.region = nil

	return c.file.Release(r)
}
