package manifest

import "github.com/blitsync/blit/internal/fsys"

// mtimeToleranceSec is the fast-change signal's tolerance window, per
// spec.md §4.4: mtime-seconds differing by up to this much still counts
// as unchanged.
const mtimeToleranceSec = 1

// NeedReason records why a path was included in a need-list, for logging
// and for the transfer engine's dispatch decision.
type NeedReason byte

const (
	ReasonMissing NeedReason = iota
	ReasonSizeDiffers
	ReasonMTimeDiffers
	ReasonHashDiffers
	ReasonLinkTargetDiffers
)

// Need is one entry in the receiver-computed need-list: the sender's entry,
// tagged with why it's needed.
type Need struct {
	Entry  Entry
	Reason NeedReason
}

// DiffOptions controls how the need-list is computed.
type DiffOptions struct {
	// Checksum, when true, replaces the mtime comparison for paths that
	// exist on both sides with equal sizes by a strong-hash comparison
	// (spec.md §4.4); a size mismatch still decides on its own.
	Checksum bool
	// HashSender and HashReceiver compute the 256-bit content hash of a
	// path on each side; both are required when Checksum is true.
	HashSender   func(relPath string) ([32]byte, error)
	HashReceiver func(relPath string) ([32]byte, error)
}

// Diff computes the receiver's need-list by comparing the sender's manifest
// against the receiver's own manifest of the destination subtree, per
// spec.md §4.4. If dst is empty, every sender entry is included (the
// empty-destination bootstrap rule).
func Diff(src, dst Manifest, opts DiffOptions) ([]Need, error) {
	dstIdx := Index(dst)
	bootstrap := len(dst.Entries) == 0

	var needs []Need
	for _, e := range src.Entries {
		local, exists := dstIdx[e.RelPath]
		if bootstrap || !exists {
			needs = append(needs, Need{Entry: e, Reason: ReasonMissing})
			continue
		}

		switch e.Kind {
		case fsys.KindDir:
			// dst manifest only contains entries that exist; reaching this
			// branch means the directory already exists locally.
			continue
		case fsys.KindSymlink:
			if local.Kind != fsys.KindSymlink || local.LinkTarget != e.LinkTarget {
				needs = append(needs, Need{Entry: e, Reason: ReasonLinkTargetDiffers})
			}
		case fsys.KindFile:
			need, reason, err := diffFile(e, local, opts)
			if err != nil {
				return nil, err
			}
			if need {
				needs = append(needs, Need{Entry: e, Reason: reason})
			}
		}
	}
	return needs, nil
}

func diffFile(remote, local Entry, opts DiffOptions) (bool, NeedReason, error) {
	// A size mismatch always means the path is needed, checksum mode or
	// not — spec.md §9's pinned resolution restricts checksum comparison
	// to "paths present on both sides with matching size", so hashing a
	// pair that already differs in size would only waste a full-content
	// hash round trip on an answer the size check already has.
	if remote.Size != local.Size {
		return true, ReasonSizeDiffers, nil
	}

	if opts.Checksum {
		sh, err := opts.HashSender(remote.RelPath)
		if err != nil {
			return false, 0, err
		}
		rh, err := opts.HashReceiver(local.RelPath)
		if err != nil {
			return false, 0, err
		}
		return sh != rh, ReasonHashDiffers, nil
	}

	if !mtimeEqual(remote, local) {
		return true, ReasonMTimeDiffers, nil
	}
	return false, 0, nil
}

func mtimeEqual(a, b Entry) bool {
	diff := a.MTimeSec - b.MTimeSec
	if diff < 0 {
		diff = -diff
	}
	return diff <= mtimeToleranceSec
}

// ExpectedSet is the set of relative paths the sender declared, used by the
// receiver to drive mirror-delete (spec.md §3, §4.10).
type ExpectedSet map[string]struct{}

// NewExpectedSet builds the expected-set from a sender manifest.
func NewExpectedSet(m Manifest) ExpectedSet {
	set := make(ExpectedSet, len(m.Entries))
	for _, e := range m.Entries {
		set[e.RelPath] = struct{}{}
	}
	return set
}

// Contains reports whether relPath is in the expected-set. On non-unix
// platforms callers fold case before calling this, per spec.md §4.10's
// case-insensitive comparison on windows.
func (s ExpectedSet) Contains(relPath string) bool {
	_, ok := s[relPath]
	return ok
}
