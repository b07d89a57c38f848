package manifest_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "2.txt"), []byte("two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "1.txt"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644))
}

func TestBuildIsDeterministic(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root)

	re := fsys.NewLocalReadEndpoint(root)

	m1, err := manifest.Build(re, manifest.BuildOptions{})
	require.NoError(t, err)
	m2, err := manifest.Build(re, manifest.BuildOptions{})
	require.NoError(t, err)

	require.Equal(t, len(m1.Entries), len(m2.Entries))
	for i := range m1.Entries {
		assert.Equal(t, m1.Entries[i].RelPath, m2.Entries[i].RelPath)
	}

	// Lexicographic order: "a" sorts before "b" sorts before "top.txt";
	// within "a", "1.txt" sorts before "2.txt".
	var paths []string
	for _, e := range m1.Entries {
		paths = append(paths, e.RelPath)
	}
	assert.Equal(t, []string{"a/1.txt", "a/2.txt", "top.txt"}, paths)
}

func TestBuildSkipsEmptyDirsByDefault(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root)

	re := fsys.NewLocalReadEndpoint(root)
	m, err := manifest.Build(re, manifest.BuildOptions{EmptyDirs: false})
	require.NoError(t, err)

	for _, e := range m.Entries {
		assert.NotEqual(t, manifest.KindDir, e.Kind)
	}
}

func TestBuildIncludesEmptyDirsWhenRequested(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root)

	re := fsys.NewLocalReadEndpoint(root)
	m, err := manifest.Build(re, manifest.BuildOptions{EmptyDirs: true})
	require.NoError(t, err)

	var dirs []string
	for _, e := range m.Entries {
		if e.Kind == manifest.KindDir {
			dirs = append(dirs, e.RelPath)
		}
	}
	assert.Equal(t, []string{"a", "b"}, dirs)
}

func TestDiffBootstrapIncludesEverything(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root)
	re := fsys.NewLocalReadEndpoint(root)
	src, err := manifest.Build(re, manifest.BuildOptions{})
	require.NoError(t, err)

	needs, err := manifest.Diff(src, manifest.Manifest{}, manifest.DiffOptions{})
	require.NoError(t, err)
	assert.Len(t, needs, len(src.Entries))
}

func TestDiffSkipsUnchangedFiles(t *testing.T) {
	t.Parallel()

	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	writeTree(t, srcRoot)
	writeTree(t, dstRoot)

	// Ensure identical mtimes across both trees.
	mtime := time.Now().Add(-time.Hour)
	for _, root := range []string{srcRoot, dstRoot} {
		require.NoError(t, os.Chtimes(filepath.Join(root, "top.txt"), mtime, mtime))
		require.NoError(t, os.Chtimes(filepath.Join(root, "a", "1.txt"), mtime, mtime))
		require.NoError(t, os.Chtimes(filepath.Join(root, "a", "2.txt"), mtime, mtime))
	}

	src, err := manifest.Build(fsys.NewLocalReadEndpoint(srcRoot), manifest.BuildOptions{})
	require.NoError(t, err)
	dst, err := manifest.Build(fsys.NewLocalReadEndpoint(dstRoot), manifest.BuildOptions{})
	require.NoError(t, err)

	needs, err := manifest.Diff(src, dst, manifest.DiffOptions{})
	require.NoError(t, err)
	assert.Empty(t, needs)
}

func TestDiffDetectsSizeChange(t *testing.T) {
	t.Parallel()

	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	writeTree(t, srcRoot)
	writeTree(t, dstRoot)
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "top.txt"), []byte("a much longer file"), 0o644))

	src, err := manifest.Build(fsys.NewLocalReadEndpoint(srcRoot), manifest.BuildOptions{})
	require.NoError(t, err)
	dst, err := manifest.Build(fsys.NewLocalReadEndpoint(dstRoot), manifest.BuildOptions{})
	require.NoError(t, err)

	needs, err := manifest.Diff(src, dst, manifest.DiffOptions{})
	require.NoError(t, err)
	require.Len(t, needs, 1)
	assert.Equal(t, "top.txt", needs[0].Entry.RelPath)
	assert.Equal(t, manifest.ReasonSizeDiffers, needs[0].Reason)
}

func TestDiffChecksumModeComparesHashes(t *testing.T) {
	t.Parallel()

	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "f.txt"), []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "f.txt"), []byte("bbbb"), 0o644))

	// Force identical size/mtime so the fast path would wrongly skip it.
	mtime := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(srcRoot, "f.txt"), mtime, mtime))
	require.NoError(t, os.Chtimes(filepath.Join(dstRoot, "f.txt"), mtime, mtime))

	srcEP := fsys.NewLocalReadEndpoint(srcRoot)
	dstEP := fsys.NewLocalReadEndpoint(dstRoot)

	src, err := manifest.Build(srcEP, manifest.BuildOptions{})
	require.NoError(t, err)
	dst, err := manifest.Build(dstEP, manifest.BuildOptions{})
	require.NoError(t, err)

	needs, err := manifest.Diff(src, dst, manifest.DiffOptions{
		Checksum:     true,
		HashSender:   srcEP.Hash,
		HashReceiver: dstEP.Hash,
	})
	require.NoError(t, err)
	require.Len(t, needs, 1)
	assert.Equal(t, manifest.ReasonHashDiffers, needs[0].Reason)
}

func TestDiffChecksumModeSkipsHashingWhenSizeDiffers(t *testing.T) {
	t.Parallel()

	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "f.txt"), []byte("aaaaaaaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "f.txt"), []byte("bbbb"), 0o644))

	srcEP := fsys.NewLocalReadEndpoint(srcRoot)
	dstEP := fsys.NewLocalReadEndpoint(dstRoot)

	src, err := manifest.Build(srcEP, manifest.BuildOptions{})
	require.NoError(t, err)
	dst, err := manifest.Build(dstEP, manifest.BuildOptions{})
	require.NoError(t, err)

	hashed := false
	needs, err := manifest.Diff(src, dst, manifest.DiffOptions{
		Checksum: true,
		HashSender: func(relPath string) ([32]byte, error) {
			hashed = true
			return srcEP.Hash(relPath)
		},
		HashReceiver: dstEP.Hash,
	})
	require.NoError(t, err)
	require.Len(t, needs, 1)
	assert.Equal(t, manifest.ReasonSizeDiffers, needs[0].Reason)
	assert.False(t, hashed, "a size mismatch must short-circuit before any hash round trip")
}

func TestExpectedSetContains(t *testing.T) {
	t.Parallel()

	m := manifest.Manifest{Entries: []manifest.Entry{{RelPath: "a/b.txt"}}}
	set := manifest.NewExpectedSet(m)
	assert.True(t, set.Contains("a/b.txt"))
	assert.False(t, set.Contains("a/c.txt"))
}
