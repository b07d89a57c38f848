//go:build linux || darwin

package fsys

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Segment describes a contiguous region of a file, tagged data or hole.
type Segment struct {
	Offset int64
	Length int64
	IsData bool
}

// DetectSparseSegments maps the sparse layout of an open file using
// SEEK_DATA/SEEK_HOLE. It returns a single data segment spanning the whole
// file when the underlying filesystem doesn't support sparse detection.
func DetectSparseSegments(f *os.File, size int64) ([]Segment, error) {
	if size == 0 {
		return nil, nil
	}

	fd := int(f.Fd()) //nolint:gosec // fd is a small positive int by construction
	var segments []Segment
	offset := int64(0)

	for offset < size {
		dataStart, err := unix.Seek(fd, offset, unix.SEEK_DATA)
		if err != nil {
			if isENXIO(err) {
				segments = append(segments, Segment{Offset: offset, Length: size - offset})
				break
			}
			if isEINVAL(err) {
				return wholeFileSegment(size), nil
			}
			return nil, err
		}

		if dataStart > offset {
			segments = append(segments, Segment{Offset: offset, Length: dataStart - offset})
		}

		holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if err != nil {
			switch {
			case isENXIO(err):
				holeStart = size
			case isEINVAL(err):
				return wholeFileSegment(size), nil
			default:
				return nil, err
			}
		}
		if holeStart > size {
			holeStart = size
		}

		segments = append(segments, Segment{Offset: dataStart, Length: holeStart - dataStart, IsData: true})
		offset = holeStart
	}

	if len(segments) == 0 {
		return wholeFileSegment(size), nil
	}
	return segments, nil
}

func wholeFileSegment(size int64) []Segment {
	return []Segment{{Offset: 0, Length: size, IsData: true}}
}

func isENXIO(err error) bool { return err == syscall.ENXIO } //nolint:errorlint // syscall errnos compare by value

func isEINVAL(err error) bool { return err == syscall.EINVAL } //nolint:errorlint // syscall errnos compare by value

// ZeroRunIsSparse reports whether a run of n consecutive zero bytes in an
// incoming byte stream is long enough to advance by seek instead of writing,
// per spec.md §4.6's sparse_threshold (default 64 KiB).
func ZeroRunIsSparse(n int64, threshold int64) bool {
	return n >= threshold
}
