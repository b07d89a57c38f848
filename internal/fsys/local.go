package fsys

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/blitsync/blit/internal/pathsafe"
)

var (
	_ ReadEndpoint  = (*LocalReadEndpoint)(nil)
	_ WriteEndpoint = (*LocalWriteEndpoint)(nil)
)

// LocalReadEndpoint reads from the local filesystem rooted at root.
type LocalReadEndpoint struct {
	root string
}

// NewLocalReadEndpoint creates a read endpoint rooted at root.
func NewLocalReadEndpoint(root string) *LocalReadEndpoint {
	return &LocalReadEndpoint{root: root}
}

func (e *LocalReadEndpoint) Walk(fn func(Entry) error) error {
	return filepath.WalkDir(e.root, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries silently
		}
		rel, err := filepath.Rel(e.root, path)
		if err != nil || rel == "." {
			return nil
		}
		entry, err := statAbsolute(path, pathsafe.ToWire(rel))
		if err != nil {
			return nil
		}
		return fn(entry)
	})
}

func (e *LocalReadEndpoint) Stat(relPath string) (Entry, error) {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return Entry{}, err
	}
	return statAbsolute(abs, relPath)
}

func (e *LocalReadEndpoint) ReadDir(relPath string) ([]Entry, error) {
	abs, err := resolveDir(e.root, relPath)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", abs, err)
	}
	out := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		childRel := joinRel(relPath, d.Name())
		childAbs := filepath.Join(abs, d.Name())
		entry, err := statAbsolute(childAbs, childRel)
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// resolveDir resolves relPath like pathsafe.Resolve, except the empty string
// means the endpoint's own root rather than being rejected — manifest walks
// start there, and it is never attacker-controlled wire input.
func resolveDir(root, relPath string) (string, error) {
	if relPath == "" {
		return root, nil
	}
	return pathsafe.Resolve(root, relPath)
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func (e *LocalReadEndpoint) OpenRead(relPath string) (ReadSeekCloser, error) {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (e *LocalReadEndpoint) Hash(relPath string) ([32]byte, error) {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return [32]byte{}, err
	}
	return hashLocalFile(abs)
}

func (e *LocalReadEndpoint) Root() string { return e.root }
func (*LocalReadEndpoint) Close() error   { return nil }

func (*LocalReadEndpoint) Caps() Capabilities {
	return Capabilities{
		SparseDetect: runtime.GOOS == "linux" || runtime.GOOS == "darwin",
		Hardlinks:    runtime.GOOS != "windows",
		AtomicRename: true,
		ZeroCopySend: runtime.GOOS == "linux",
		ReadOnlyFlag: runtime.GOOS == "windows",
	}
}

// AbsPath exposes the absolute path for a relative path, for callers doing
// raw fd operations (sparse detection, sendfile) that fsys itself does not
// need to expose through the interface.
func (e *LocalReadEndpoint) AbsPath(relPath string) string {
	return filepath.Join(e.root, filepath.FromSlash(relPath))
}

// LocalWriteEndpoint writes to the local filesystem rooted at root.
type LocalWriteEndpoint struct {
	root string
}

// NewLocalWriteEndpoint creates a write endpoint rooted at root.
func NewLocalWriteEndpoint(root string) *LocalWriteEndpoint {
	return &LocalWriteEndpoint{root: root}
}

func (e *LocalWriteEndpoint) MkdirAll(relPath string, perm os.FileMode) error {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, perm)
}

//nolint:ireturn // implements WriteEndpoint interface
func (e *LocalWriteEndpoint) CreateTemp(relPath string, perm os.FileMode) (WriteFile, error) {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	base := filepath.Base(abs)
	tmpName := fmt.Sprintf(".%s.%s.blit-tmp", base, uuid.New().String()[:8])
	tmpPath := filepath.Join(dir, tmpName)

	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("create temp %s: %w", tmpPath, err)
	}
	rel, err := filepath.Rel(e.root, tmpPath)
	if err != nil {
		rel = tmpPath
	}
	return &localWriteFile{File: f, relPath: pathsafe.ToWire(rel)}, nil
}

func (e *LocalWriteEndpoint) Rename(oldRel, newRel string) error {
	oldAbs, err := pathsafe.Resolve(e.root, oldRel)
	if err != nil {
		return err
	}
	newAbs, err := pathsafe.Resolve(e.root, newRel)
	if err != nil {
		return err
	}
	if err := clearReadOnly(newAbs); err != nil {
		return err
	}
	return os.Rename(oldAbs, newAbs)
}

func (e *LocalWriteEndpoint) Remove(relPath string) error {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return err
	}
	if err := clearReadOnly(abs); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if !os.IsNotExist(err) {
			// One retry on a transient access error, per spec.md §4.10.
			time.Sleep(50 * time.Millisecond)
			return os.Remove(abs)
		}
	}
	return nil
}

func (e *LocalWriteEndpoint) RemoveAll(relPath string) error {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return err
	}
	return os.RemoveAll(abs)
}

func (e *LocalWriteEndpoint) Symlink(target, newRel string) error {
	abs, err := pathsafe.Resolve(e.root, newRel)
	if err != nil {
		return err
	}
	_ = os.Remove(abs)
	return os.Symlink(target, abs)
}

func (e *LocalWriteEndpoint) SetMetadata(relPath string, entry Entry, opts MetadataOpts) error {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return err
	}
	return applyMetadata(abs, entry, opts)
}

func (e *LocalWriteEndpoint) Walk(fn func(Entry) error) error {
	return filepath.WalkDir(e.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(e.root, path)
		if err != nil || rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entry, err := fileInfoToEntry(info, pathsafe.ToWire(rel), path)
		if err != nil {
			return nil
		}
		return fn(entry)
	})
}

func (e *LocalWriteEndpoint) Stat(relPath string) (Entry, error) {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return Entry{}, err
	}
	return statAbsolute(abs, relPath)
}

func (e *LocalWriteEndpoint) ReadDir(relPath string) ([]Entry, error) {
	abs, err := resolveDir(e.root, relPath)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", abs, err)
	}
	out := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		childRel := joinRel(relPath, d.Name())
		childAbs := filepath.Join(abs, d.Name())
		entry, err := statAbsolute(childAbs, childRel)
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (e *LocalWriteEndpoint) OpenRead(relPath string) (ReadSeekCloser, error) {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (e *LocalWriteEndpoint) Hash(relPath string) ([32]byte, error) {
	abs, err := pathsafe.Resolve(e.root, relPath)
	if err != nil {
		return [32]byte{}, err
	}
	return hashLocalFile(abs)
}

func (e *LocalWriteEndpoint) Root() string { return e.root }
func (*LocalWriteEndpoint) Close() error   { return nil }

func (*LocalWriteEndpoint) Caps() Capabilities {
	return Capabilities{
		SparseDetect: runtime.GOOS == "linux" || runtime.GOOS == "darwin",
		Hardlinks:    runtime.GOOS != "windows",
		AtomicRename: true,
		ZeroCopySend: runtime.GOOS == "linux",
		ReadOnlyFlag: runtime.GOOS == "windows",
	}
}

// AbsPath exposes the absolute path for a relative path, for callers doing
// raw fd operations that fsys itself does not need to expose.
func (e *LocalWriteEndpoint) AbsPath(relPath string) string {
	return filepath.Join(e.root, filepath.FromSlash(relPath))
}

// localWriteFile wraps *os.File to implement WriteFile.
type localWriteFile struct {
	*os.File
	relPath string
}

func (f *localWriteFile) Name() string { return f.relPath }

func statAbsolute(absPath, relPath string) (Entry, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return Entry{}, err
	}
	return fileInfoToEntry(info, relPath, absPath)
}

func fileInfoToEntry(info os.FileInfo, relPath, absPath string) (Entry, error) {
	entry := Entry{
		RelPath: relPath,
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		Kind:    KindFile,
	}
	if info.IsDir() {
		entry.Kind = KindDir
	}
	if info.Mode()&os.ModeSymlink != 0 {
		entry.Kind = KindSymlink
		if target, err := os.Readlink(absPath); err == nil {
			entry.LinkTarget = target
		}
	}
	entry.ReadOnly = info.Mode()&0o200 == 0

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		entry.AccTime = time.Unix(stat.Atim.Sec, stat.Atim.Nsec) //nolint:unconvert // portable across unix stat layouts
	}
	return entry, nil
}

func hashLocalFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 256*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return [32]byte{}, fmt.Errorf("hash %s: %w", path, err)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
