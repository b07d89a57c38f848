package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/blitsync/blit/internal/fsys"
)

// UnpackStats tallies what a Reader extracted, feeding session counters.
// Sizes reflect unpacked logical bytes, not frame bytes, per spec.md §4.5.
type UnpackStats struct {
	Files    int
	Bytes    int64
	Symlinks int
}

// Reader unpacks a tar archive fed to it incrementally via Feed, applying
// each entry directly to a fsys.WriteEndpoint as soon as its header and
// content arrive — no temp file for the archive itself, per spec.md §4.5.
//
// Feed and the extraction loop run on separate goroutines connected by an
// io.Pipe, since archive/tar.Reader is pull-based but frames arrive
// push-style off the wire.
type Reader struct {
	pw   *io.PipeWriter
	done chan unpackResult
}

type unpackResult struct {
	stats UnpackStats
	err   error
}

// NewReader starts unpacking into dst. opts controls which attributes are
// applied to each extracted entry.
func NewReader(dst fsys.WriteEndpoint, opts fsys.MetadataOpts) *Reader {
	pr, pw := io.Pipe()
	r := &Reader{pw: pw, done: make(chan unpackResult, 1)}

	go func() {
		stats, err := unpackLoop(pr, dst, opts)
		r.done <- unpackResult{stats: stats, err: err}
	}()

	return r
}

// Feed delivers one TAR_DATA frame's payload to the archive decoder.
func (r *Reader) Feed(chunk []byte) error {
	_, err := r.pw.Write(chunk)
	return err
}

// Close signals end of archive (TAR_END) and waits for unpacking to finish,
// returning what was extracted and the first error encountered, if any.
func (r *Reader) Close() (UnpackStats, error) {
	_ = r.pw.Close()
	res := <-r.done
	return res.stats, res.err
}

// Abort tears down the pipe without waiting for a clean finish, used when
// the surrounding session fails for an unrelated reason.
func (r *Reader) Abort(cause error) {
	_ = r.pw.CloseWithError(cause)
	<-r.done
}

func unpackLoop(pr *io.PipeReader, dst fsys.WriteEndpoint, opts fsys.MetadataOpts) (UnpackStats, error) {
	defer pr.Close()
	tr := tar.NewReader(pr)
	var stats UnpackStats

	for {
		hdr, err := tr.Next()
		if err == io.EOF { //nolint:errorlint // io.EOF is a sentinel by convention
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("bundle: read archive: %w", err)
		}

		entry := fsys.Entry{
			RelPath: hdr.Name,
			Size:    hdr.Size,
			Mode:    os.FileMode(hdr.Mode & 0o777), //nolint:gosec // mode bits masked to POSIX perms
			ModTime: hdr.ModTime,
		}

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			entry.Kind = fsys.KindSymlink
			entry.LinkTarget = hdr.Linkname
			if err := dst.Symlink(hdr.Linkname, hdr.Name); err != nil {
				return stats, fmt.Errorf("bundle: symlink %s: %w", hdr.Name, err)
			}
			if err := dst.SetMetadata(hdr.Name, entry, opts); err != nil {
				return stats, fmt.Errorf("bundle: set metadata %s: %w", hdr.Name, err)
			}
			stats.Symlinks++
		case tar.TypeDir:
			if err := dst.MkdirAll(hdr.Name, 0o755); err != nil {
				return stats, fmt.Errorf("bundle: mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, dst, hdr, entry, opts); err != nil {
				return stats, err
			}
			stats.Files++
			stats.Bytes += hdr.Size
		default:
			return stats, fmt.Errorf("bundle: unsupported tar entry type %v for %s", hdr.Typeflag, hdr.Name)
		}
	}
}

func extractFile(tr *tar.Reader, dst fsys.WriteEndpoint, hdr *tar.Header, entry fsys.Entry, opts fsys.MetadataOpts) error {
	// The archive doesn't always carry an explicit directory entry for a
	// file's parent (bundle batches interleave paths from anywhere in the
	// tree), so ensure it exists before creating the temp file.
	if dir := path.Dir(hdr.Name); dir != "." && dir != "/" {
		if err := dst.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("bundle: mkdir parent of %s: %w", hdr.Name, err)
		}
	}
	wf, err := dst.CreateTemp(hdr.Name, os.FileMode(hdr.Mode&0o777)) //nolint:gosec // mode bits masked to POSIX perms
	if err != nil {
		return fmt.Errorf("bundle: create temp for %s: %w", hdr.Name, err)
	}
	if _, err := io.CopyN(wf, tr, hdr.Size); err != nil {
		_ = wf.Close()
		return fmt.Errorf("bundle: write content for %s: %w", hdr.Name, err)
	}
	if err := wf.Close(); err != nil {
		return fmt.Errorf("bundle: close temp for %s: %w", hdr.Name, err)
	}
	if err := dst.Rename(wf.Name(), hdr.Name); err != nil {
		return fmt.Errorf("bundle: commit %s: %w", hdr.Name, err)
	}
	if err := dst.SetMetadata(hdr.Name, entry, opts); err != nil {
		return fmt.Errorf("bundle: set metadata %s: %w", hdr.Name, err)
	}
	return nil
}
