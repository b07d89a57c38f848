//go:build linux || darwin

package fsys_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blitsync/blit/internal/fsys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectSparseSegmentsWholeFileWhenSmall(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	segs, err := fsys.DetectSparseSegments(f, 5)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].IsData)
	assert.Equal(t, int64(0), segs[0].Offset)
	assert.Equal(t, int64(5), segs[0].Length)
}

func TestZeroRunIsSparse(t *testing.T) {
	t.Parallel()

	assert.False(t, fsys.ZeroRunIsSparse(1024, 65536))
	assert.True(t, fsys.ZeroRunIsSparse(65536, 65536))
	assert.True(t, fsys.ZeroRunIsSparse(1<<20, 65536))
}
