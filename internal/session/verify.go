package session

import (
	"runtime"

	"github.com/blitsync/blit/internal/fsys"
	"github.com/blitsync/blit/internal/manifest"
)

// VerifyReport summarizes a verify-only session: every path the need-list
// diff flagged, grouped by why, plus destination paths the source manifest
// never mentioned at all. Nothing in a verify session ever mutates the
// destination, so this is the whole result.
type VerifyReport struct {
	Missing           []string
	SizeDiffers       []string
	MTimeDiffers      []string
	HashDiffers       []string
	LinkTargetDiffers []string
	Extraneous        []string
}

// InSync reports whether the two trees matched exactly.
func (r *VerifyReport) InSync() bool {
	if r == nil {
		return true
	}
	return len(r.Missing) == 0 && len(r.SizeDiffers) == 0 && len(r.MTimeDiffers) == 0 &&
		len(r.HashDiffers) == 0 && len(r.LinkTargetDiffers) == 0 && len(r.Extraneous) == 0
}

// buildVerifyReport classifies needs by manifest.NeedReason and walks the
// destination for paths the source's manifest never mentioned, the same
// candidates mirrorDelete would otherwise remove.
func buildVerifyReport(write fsys.WriteEndpoint, srcManifest manifest.Manifest, needs []manifest.Need) (*VerifyReport, error) {
	report := &VerifyReport{}
	for _, n := range needs {
		switch n.Reason {
		case manifest.ReasonMissing:
			report.Missing = append(report.Missing, n.Entry.RelPath)
		case manifest.ReasonSizeDiffers:
			report.SizeDiffers = append(report.SizeDiffers, n.Entry.RelPath)
		case manifest.ReasonMTimeDiffers:
			report.MTimeDiffers = append(report.MTimeDiffers, n.Entry.RelPath)
		case manifest.ReasonHashDiffers:
			report.HashDiffers = append(report.HashDiffers, n.Entry.RelPath)
		case manifest.ReasonLinkTargetDiffers:
			report.LinkTargetDiffers = append(report.LinkTargetDiffers, n.Entry.RelPath)
		}
	}

	expected := manifest.NewExpectedSet(srcManifest)
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
		report.Extraneous = append(report.Extraneous, relPath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
