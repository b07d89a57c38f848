package session

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/blitsync/blit/internal/event"
	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
)

// mirrorDelete removes destination paths absent from expected, per
// spec.md §4.10. It is grounded on
// _examples/bamsammich-beam/internal/engine/delete.go's walk-then-delete
// shape, adapted so the "does the source still have this path" check is
// a lookup against a manifest snapshot taken once at the start of the
// session rather than a live stat back into the sender's filesystem,
// which a receiver has no way to reach mid-session over one connection.
func mirrorDelete(write fsys.WriteEndpoint, expected manifest.ExpectedSet, events chan<- event.Event) (int, error) {
	var files []string
	var dirs []string

	folded := make(map[string]struct{}, len(expected))
	if runtime.GOOS == "windows" {
		for k := range expected {
			folded[foldCase(k)] = struct{}{}
		}
	}

	err := write.Walk(func(entry fsys.Entry) error {
		relPath := entry.RelPath
		if runtime.GOOS == "windows" {
			if _, ok := folded[foldCase(relPath)]; ok {
				return nil
			}
		} else if expected.Contains(relPath) {
			return nil
		}
		if entry.Kind == fsys.KindDir {
			dirs = append(dirs, relPath)
		} else {
			files = append(files, relPath)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk destination for mirror-delete: %w", err)
	}

	deleted := 0
	for _, relPath := range files {
		if err := removeWithRetry(write, relPath); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", relPath, err)
		}
		emit(events, event.Event{Type: event.DeleteFile, Timestamp: time.Now(), Path: relPath})
		deleted++
	}

	// Deepest directories first, so a parent's RemoveAll never races an
	// already-deleted child.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, relPath := range dirs {
		if err := write.RemoveAll(relPath); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("delete dir %s: %w", relPath, err)
		}
		emit(events, event.Event{Type: event.DeleteFile, Timestamp: time.Now(), Path: relPath})
		deleted++
	}

	return deleted, nil
}

// removeWithRetry clears the windows read-only attribute and retries once
// on failure, per spec.md §4.10; on other platforms it's a plain Remove.
func removeWithRetry(write fsys.WriteEndpoint, relPath string) error {
	err := write.Remove(relPath)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	if runtime.GOOS != "windows" {
		return err
	}
	clearErr := write.SetMetadata(relPath, fsys.Entry{ReadOnly: false}, fsys.MetadataOpts{ReadOnly: true})
	if clearErr != nil {
		return err
	}
	if err := write.Remove(relPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// foldCase normalizes a path for comparison against the expected-set on
// windows, where the filesystem is case-insensitive; elsewhere it's the
// identity function since ExpectedSet keys are stored as-sent.
func foldCase(relPath string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(relPath)
	}
	return relPath
}
