// Package pathsafe validates and resolves the relative paths carried inside
// manifest entries and frame payloads, refusing anything that could escape
// the session root.
package pathsafe

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/blitsync/blit/internal/wire"
)

// Resolve validates rel as a wire-format relative path (forward-slash
// separated, as carried on the wire regardless of local OS) and returns its
// absolute form under root. It implements the four checks of spec.md §4.3:
// reject empty/NUL/dot components, reject absolute paths and drive letters,
// normalize separators, and verify the resolved path stays under root.
func Resolve(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", wire.ErrPathViolation)
	}
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: NUL byte in path", wire.ErrPathViolation)
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: absolute path %q", wire.ErrPathViolation, rel)
	}
	if hasDriveLetter(rel) {
		return "", fmt.Errorf("%w: drive-letter path %q", wire.ErrPathViolation, rel)
	}

	normalized := NormalizeSeparators(rel)
	for _, part := range strings.Split(normalized, "/") {
		switch part {
		case "":
			continue // collapse repeated separators, same as filepath.Clean
		case ".", "..":
			return "", fmt.Errorf("%w: dot component in %q", wire.ErrPathViolation, rel)
		}
	}

	cleanRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	localRel := filepath.FromSlash(path.Clean("/" + normalized))[1:]
	joined := filepath.Join(cleanRoot, localRel)

	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes root %q", wire.ErrPathViolation, rel, root)
	}
	return joined, nil
}

// ToWire converts a local, OS-native relative path (as produced by
// filepath.Rel during a tree walk) into the forward-slash form carried on
// the wire.
func ToWire(rel string) string {
	return filepath.ToSlash(rel)
}

// NormalizeSeparators rewrites any backslash in rel to a forward slash,
// regardless of the local OS's filepath.Separator. Resolve uses this to
// accept a Windows-style path arriving over the wire from a peer on
// another OS; callers that only need normalization without the rest of
// Resolve's validation (internal/filter's pattern matching, in
// particular) can call it directly.
func NormalizeSeparators(rel string) string {
	return strings.ReplaceAll(rel, `\`, "/")
}

func hasDriveLetter(rel string) bool {
	if len(rel) < 2 || rel[1] != ':' {
		return false
	}
	c := rel[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
