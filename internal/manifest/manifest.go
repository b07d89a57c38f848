// Package manifest builds the deterministic, byte-reproducible listing of a
// tree that drives blit's need-list handshake, and diffs two manifests to
// compute which paths a receiver requires.
package manifest

import (
	"sort"
	"time"

	"github.com/blitsync/blit/internal/filter"
	"github.com/blitsync/blit/internal/fsys"
)

// Kind mirrors fsys.Kind for manifest entries; kept distinct so this package
// has no compile-time dependency on fsys internals beyond the adapter
// interface it walks.
type Kind = fsys.Kind

const (
	KindFile    = fsys.KindFile
	KindDir     = fsys.KindDir
	KindSymlink = fsys.KindSymlink
)

// Entry is one manifest record, per spec.md §3: relative path, size, mtime,
// kind, mode, and symlink target when applicable.
type Entry struct {
	RelPath      string
	LinkTarget   string
	MTimeSec     int64
	MTimeNsec    uint32
	Size         uint64
	Mode         uint32
	Kind         Kind
}

// Manifest is an ordered sequence of entries built by a single depth-first
// walk, plus the aggregate counts spec.md's Manifest entity carries.
type Manifest struct {
	Entries     []Entry
	TotalCount  int
	DatasetSize uint64
}

// ByPath indexes a manifest's entries for O(1) lookup during diffing.
type ByPath map[string]Entry

// Index builds a ByPath lookup from a Manifest.
func Index(m Manifest) ByPath {
	idx := make(ByPath, len(m.Entries))
	for _, e := range m.Entries {
		idx[e.RelPath] = e
	}
	return idx
}

// BuildOptions controls what the walk includes.
type BuildOptions struct {
	Filter    *filter.Chain
	EmptyDirs bool // include directory entries even when they contain files
}

// DirReader is the minimal capability Build needs: satisfied by both
// fsys.ReadEndpoint (sender side) and fsys.WriteEndpoint (receiver building
// a manifest of its own destination subtree, per spec.md §4.9).
type DirReader interface {
	ReadDir(relPath string) ([]fsys.Entry, error)
}

// Build walks src in deterministic depth-first order — children of each
// directory sorted lexicographically by byte before recursing — emitting one
// Entry per included file, symlink, and (if EmptyDirs is set) directory.
// This determinism is what makes two Build calls over identical trees
// produce byte-identical manifests, per spec.md §4.4.
func Build(src DirReader, opts BuildOptions) (Manifest, error) {
	var m Manifest

	var walk func(relDir string) error
	walk = func(relDir string) error {
		children, err := src.ReadDir(relDir)
		if err != nil {
			return err
		}
		sort.Slice(children, func(i, j int) bool {
			return children[i].RelPath < children[j].RelPath
		})

		for _, child := range children {
			isDir := child.Kind == fsys.KindDir
			if opts.Filter != nil && !opts.Filter.Empty() {
				if !opts.Filter.Match(child.RelPath, isDir, child.Size) {
					continue // excluded directories are pruned, not descended
				}
			}

			switch child.Kind {
			case fsys.KindDir:
				if opts.EmptyDirs {
					m.Entries = append(m.Entries, entryFrom(child))
					m.TotalCount++
				}
				if err := walk(child.RelPath); err != nil {
					return err
				}
			case fsys.KindSymlink:
				m.Entries = append(m.Entries, entryFrom(child))
				m.TotalCount++
			case fsys.KindFile:
				m.Entries = append(m.Entries, entryFrom(child))
				m.TotalCount++
				m.DatasetSize += uint64(child.Size) //nolint:gosec // size is non-negative by construction
			}
		}
		return nil
	}

	if err := walk(""); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func entryFrom(e fsys.Entry) Entry {
	kind := e.Kind
	sec, nsec := splitTime(e.ModTime)
	entry := Entry{
		RelPath:   e.RelPath,
		Kind:      kind,
		Size:      uint64(e.Size), //nolint:gosec // size is non-negative by construction
		MTimeSec:  sec,
		MTimeNsec: nsec,
		Mode:      uint32(e.Mode.Perm()), //nolint:gosec // POSIX perm bits fit uint32
	}
	if kind == fsys.KindSymlink {
		entry.LinkTarget = e.LinkTarget
	}
	return entry
}

func splitTime(t time.Time) (int64, uint32) {
	if t.IsZero() {
		return 0, 0
	}
	return t.Unix(), uint32(t.Nanosecond()) //nolint:gosec // nanosecond fraction fits uint32
}
