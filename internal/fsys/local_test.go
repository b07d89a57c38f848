package fsys_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blitsync/blit/internal/fsys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalWriteEndpointCreateTempAndRename(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	we := fsys.NewLocalWriteEndpoint(root)

	wf, err := we.CreateTemp("dst.txt", 0o644)
	require.NoError(t, err)

	_, err = wf.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	require.NoError(t, we.Rename(wf.Name(), "dst.txt"))

	got, err := os.ReadFile(filepath.Join(root, "dst.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestLocalWriteEndpointSetMetadata(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	we := fsys.NewLocalWriteEndpoint(root)

	path := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := fsys.Entry{
		RelPath: "f.txt",
		Mode:    0o600,
		ModTime: mtime,
		AccTime: mtime,
	}
	require.NoError(t, we.SetMetadata("f.txt", entry, fsys.DefaultMetadataOpts()))

	stat, err := we.Stat("f.txt")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), stat.Mode.Perm())
	assert.WithinDuration(t, mtime, stat.ModTime, time.Second)
}

func TestLocalReadEndpointHashDeterministic(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("same content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("same content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("different"), 0o644))

	re := fsys.NewLocalReadEndpoint(root)
	ha, err := re.Hash("a.txt")
	require.NoError(t, err)
	hb, err := re.Hash("b.txt")
	require.NoError(t, err)
	hc, err := re.Hash("c.txt")
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
}

func TestLocalWriteEndpointRejectsPathEscape(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	we := fsys.NewLocalWriteEndpoint(root)

	_, err := we.CreateTemp("../evil.txt", 0o644)
	require.Error(t, err)
}

func TestLocalWriteEndpointSymlink(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	we := fsys.NewLocalWriteEndpoint(root)

	require.NoError(t, we.Symlink("target.txt", "link.txt"))

	entry, err := we.Stat("link.txt")
	require.NoError(t, err)
	assert.Equal(t, fsys.KindSymlink, entry.Kind)
}
