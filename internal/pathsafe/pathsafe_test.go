package pathsafe_test

import (
	"path/filepath"
	"testing"

	"github.com/blitsync/blit/internal/pathsafe"
	"github.com/blitsync/blit/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAcceptsNestedPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	got, err := pathsafe.Resolve(root, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b", "c.txt"), got)
}

func TestResolveRejectsEscapes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cases := []string{
		"",
		"..",
		"../evil",
		"a/../../evil",
		"/etc/passwd",
		`\windows\system32`,
		"C:/evil",
		"a/./b",
		"a/../b",
		"a\x00b",
	}
	for _, rel := range cases {
		rel := rel
		t.Run(rel, func(t *testing.T) {
			t.Parallel()
			_, err := pathsafe.Resolve(root, rel)
			require.Error(t, err)
			assert.ErrorIs(t, err, wire.ErrPathViolation)
		})
	}
}

func TestResolveNormalizesSeparators(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	got, err := pathsafe.Resolve(root, `a\b\c.txt`)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b", "c.txt"), got)
}

func TestToWire(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a/b/c.txt", pathsafe.ToWire(filepath.Join("a", "b", "c.txt")))
}

func TestNormalizeSeparators(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a/b/c.txt", pathsafe.NormalizeSeparators(`a\b\c.txt`))
	assert.Equal(t, "a/b/c.txt", pathsafe.NormalizeSeparators("a/b/c.txt"))
}
