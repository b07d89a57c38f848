//go:build !linux && !darwin

package fsys

import "os"

// Segment describes a contiguous region of a file, tagged data or hole.
type Segment struct {
	Offset int64
	Length int64
	IsData bool
}

// DetectSparseSegments has no SEEK_DATA/SEEK_HOLE support on this platform;
// it always reports the whole file as one data segment.
func DetectSparseSegments(_ *os.File, size int64) ([]Segment, error) {
	if size == 0 {
		return nil, nil
	}
	return []Segment{{Offset: 0, Length: size, IsData: true}}, nil
}

// ZeroRunIsSparse reports whether a run of n consecutive zero bytes in an
// incoming byte stream is long enough to advance by seek instead of writing,
// per spec.md §4.6's sparse_threshold (default 64 KiB).
func ZeroRunIsSparse(n int64, threshold int64) bool {
	return n >= threshold
}
