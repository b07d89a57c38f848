// Package fsys is the filesystem adapter consumed by the manifest engine and
// the transfer state machines: enumerate, stat, read, write, symlink, set
// attributes, delete. It is deliberately narrow — a session never touches
// os/* directly outside this package.
package fsys

import (
	"os"
	"time"
)

// Kind classifies a manifest/filesystem entry.
type Kind byte

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Entry is the filesystem-level view of a path: the fields the manifest
// engine needs to build entries and the transfer paths need to apply
// metadata. RelPath always uses forward slashes.
type Entry struct {
	ModTime    time.Time
	AccTime    time.Time
	LinkTarget string
	RelPath    string
	Size       int64
	Kind       Kind
	Mode       os.FileMode
	ReadOnly   bool // windows read-only flag; POSIX callers derive this from Mode
}

// MetadataOpts controls which attributes SetMetadata applies. Blit mirrors
// POSIX mode bits, timestamps, and the windows read-only flag only — per
// spec.md's non-goal, ACLs/xattrs/ownership are never mirrored.
type MetadataOpts struct {
	Mode     bool
	Times    bool
	ReadOnly bool
}

// DefaultMetadataOpts applies every attribute the local platform supports.
func DefaultMetadataOpts() MetadataOpts {
	return MetadataOpts{Mode: true, Times: true, ReadOnly: true}
}

// WriteFile is a temp file created by CreateTemp: an io.Writer that also
// knows how to seek (for sparse and delta writes) and how to be committed
// via the endpoint's Rename.
type WriteFile interface {
	Write(p []byte) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
	// Name returns the path the endpoint should use to Rename this file
	// into place; it is relative to the endpoint's root.
	Name() string
}

// ReadEndpoint is the read side of the adapter: used by the manifest builder
// and by senders in the per-file/raw/delta transfer paths.
type ReadEndpoint interface {
	// Walk visits every entry under the root in an unspecified order; callers
	// needing deterministic order (the manifest engine) sort separately.
	Walk(fn func(Entry) error) error
	Stat(relPath string) (Entry, error)
	ReadDir(relPath string) ([]Entry, error)
	OpenRead(relPath string) (ReadSeekCloser, error)
	// Hash returns the full 256-bit BLAKE3 digest of the file's contents, used
	// by checksum-mode manifest diffing and by Verify's VERIFY_HASH exchange.
	Hash(relPath string) ([32]byte, error)
	Root() string
	Caps() Capabilities
	Close() error
}

// WriteEndpoint is the write side of the adapter: used by receivers in every
// transfer path and by mirror-delete.
type WriteEndpoint interface {
	MkdirAll(relPath string, perm os.FileMode) error
	CreateTemp(relPath string, perm os.FileMode) (WriteFile, error)
	Rename(oldRel, newRel string) error
	Remove(relPath string) error
	RemoveAll(relPath string) error
	Symlink(target, newRel string) error
	SetMetadata(relPath string, entry Entry, opts MetadataOpts) error
	Walk(fn func(Entry) error) error
	Stat(relPath string) (Entry, error)
	ReadDir(relPath string) ([]Entry, error)
	OpenRead(relPath string) (ReadSeekCloser, error)
	Hash(relPath string) ([32]byte, error)
	Root() string
	Caps() Capabilities
	Close() error
}

// ReadSeekCloser is the interface satisfied by an opened file used for
// hashing, delta basis reads, and raw sends.
type ReadSeekCloser interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

// Capabilities describes what the underlying storage can do, so the transfer
// engine can degrade gracefully (e.g. skip sparse detection on a filesystem
// that doesn't support SEEK_HOLE).
type Capabilities struct {
	SparseDetect bool
	Hardlinks    bool
	AtomicRename bool
	ZeroCopySend bool
	ReadOnlyFlag bool // windows FILE_ATTRIBUTE_READONLY support
}
