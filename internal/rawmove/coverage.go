package rawmove

import "sort"

// Range is a half-open byte range [Offset, Offset+Length).
type Range struct {
	Offset int64
	Length int64
}

func (r Range) end() int64 { return r.Offset + r.Length }

// Coverage tracks which byte ranges of a file have arrived, so a receiver
// can tell when every FILE_RAW_START/PFILE_DATA/PFILE_END range for a path
// has landed regardless of arrival order, per spec.md §4.7.
type Coverage struct {
	total   int64
	ranges  []Range // sorted, non-overlapping, merged
	covered int64
}

// NewCoverage creates a Coverage tracker for a file of the given total size.
func NewCoverage(total int64) *Coverage {
	return &Coverage{total: total}
}

// Add records that [offset, offset+length) has been written, merging with
// adjacent or overlapping ranges already recorded.
func (c *Coverage) Add(offset, length int64) {
	if length <= 0 {
		return
	}
	c.ranges = append(c.ranges, Range{Offset: offset, Length: length})
	sort.Slice(c.ranges, func(i, j int) bool { return c.ranges[i].Offset < c.ranges[j].Offset })

	merged := c.ranges[:1]
	for _, r := range c.ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Offset <= last.end() {
			if r.end() > last.end() {
				last.Length = r.end() - last.Offset
			}
			continue
		}
		merged = append(merged, r)
	}
	c.ranges = merged

	c.covered = 0
	for _, r := range c.ranges {
		c.covered += r.Length
	}
}

// Complete reports whether every byte of the file has been covered.
func (c *Coverage) Complete() bool {
	return c.covered >= c.total
}

// Covered returns the number of bytes currently covered.
func (c *Coverage) Covered() int64 { return c.covered }

// Plan splits [0, size) into chunk-sized ranges, in order, for the sender to
// hand out to its worker connections.
func Plan(size int64, chunkSize int64) []Range {
	if chunkSize <= 0 || size <= 0 {
		if size <= 0 {
			return nil
		}
		chunkSize = size
	}
	var ranges []Range
	for offset := int64(0); offset < size; offset += chunkSize {
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}
		ranges = append(ranges, Range{Offset: offset, Length: length})
	}
	return ranges
}
