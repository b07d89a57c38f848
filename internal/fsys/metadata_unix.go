//go:build !windows

package fsys

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyMetadata applies mode and timestamps to abs, matching spec.md §4.6/§4.9:
// mode and mtime are applied once the payload is fully written. A symlink's
// mode is left alone: chmod would follow the link and change its target.
func applyMetadata(abs string, entry Entry, opts MetadataOpts) error {
	if opts.Mode && entry.Kind != KindSymlink {
		if err := unix.Chmod(abs, uint32(entry.Mode.Perm())); err != nil { //nolint:gosec // POSIX perm bits fit uint32
			return fmt.Errorf("chmod %s: %w", abs, err)
		}
	}
	if opts.Times {
		atime := unix.NsecToTimespec(entry.AccTime.UnixNano())
		if entry.AccTime.IsZero() {
			atime = unix.NsecToTimespec(entry.ModTime.UnixNano())
		}
		mtime := unix.NsecToTimespec(entry.ModTime.UnixNano())
		times := []unix.Timespec{atime, mtime}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, abs, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return fmt.Errorf("utimensat %s: %w", abs, err)
		}
	}
	return nil
}

// clearReadOnly is a no-op on unix; the read-only flag is windows-specific.
// POSIX mode bits are handled through applyMetadata's Chmod call instead.
func clearReadOnly(string) error { return nil }
