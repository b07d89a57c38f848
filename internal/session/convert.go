package session

import (
	"os"
	"time"

	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
)

// fsysEntryFrom rebuilds the fsys.Entry view of a manifest.Entry, needed
// wherever a sender hands an entry to code (bundle.Writer, SetMetadata)
// that speaks the fsys package's richer type.
func fsysEntryFrom(e manifest.Entry) fsys.Entry {
	return fsys.Entry{
		RelPath:    e.RelPath,
		LinkTarget: e.LinkTarget,
		Size:       int64(e.Size), //nolint:gosec // size is non-negative by construction
		Kind:       e.Kind,
		Mode:       os.FileMode(e.Mode),
		ModTime:    time.Unix(e.MTimeSec, int64(e.MTimeNsec)),
	}
}
