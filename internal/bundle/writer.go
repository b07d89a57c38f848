package bundle

import (
	"archive/tar"
	"fmt"
	"io"

	"github.com/blitsync/blit/internal/fsys"
)

// EmitFunc is called with one contiguous slice of archive bytes; the caller
// wraps it in a TAR_DATA frame. It must not retain the slice past the call.
type EmitFunc func(chunk []byte) error

// Writer packs manifest entries into a tar archive whose output bytes are
// chunked and handed to an EmitFunc as they're produced, so the archive
// never needs to be materialized as a whole file or buffer.
type Writer struct {
	tw     *tar.Writer
	sink   *chunkedWriter
	closed bool
}

// NewWriter creates a Writer that flushes ChunkSize-sized (or smaller, on
// Close) chunks to emit.
func NewWriter(chunkSize int, emit EmitFunc) *Writer {
	sink := &chunkedWriter{emit: emit, chunkSize: chunkSize}
	return &Writer{tw: tar.NewWriter(sink), sink: sink}
}

// AddFile streams one regular file's content into the archive, preserving
// its relative path, size, mode, and mtime as spec.md §4.5 requires.
func (w *Writer) AddFile(entry fsys.Entry, r io.Reader) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     entry.RelPath,
		Size:     entry.Size,
		Mode:     int64(entry.Mode.Perm()),
		ModTime:  entry.ModTime,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("bundle: write header for %s: %w", entry.RelPath, err)
	}
	if _, err := io.Copy(w.tw, r); err != nil {
		return fmt.Errorf("bundle: write content for %s: %w", entry.RelPath, err)
	}
	return nil
}

// AddSymlink stores a symlink entry in the archive.
func (w *Writer) AddSymlink(entry fsys.Entry) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeSymlink,
		Name:     entry.RelPath,
		Linkname: entry.LinkTarget,
		Mode:     int64(entry.Mode.Perm()),
		ModTime:  entry.ModTime,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("bundle: write symlink header for %s: %w", entry.RelPath, err)
	}
	return nil
}

// Close finalizes the tar archive and flushes any partial trailing chunk.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.tw.Close(); err != nil {
		return fmt.Errorf("bundle: close archive: %w", err)
	}
	return w.sink.Flush()
}

// chunkedWriter accumulates written bytes and emits fixed-size chunks.
type chunkedWriter struct {
	emit      EmitFunc
	buf       []byte
	chunkSize int
}

func (c *chunkedWriter) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	for len(c.buf) >= c.chunkSize {
		if err := c.emit(c.buf[:c.chunkSize]); err != nil {
			return 0, err
		}
		rest := len(c.buf) - c.chunkSize
		copy(c.buf, c.buf[c.chunkSize:])
		c.buf = c.buf[:rest]
	}
	return len(p), nil
}

func (c *chunkedWriter) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	if err := c.emit(c.buf); err != nil {
		return err
	}
	c.buf = nil
	return nil
}
