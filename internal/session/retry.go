package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/blitsync/blit/internal/wire"
)

// classifyIOErr sorts a local filesystem error into spec.md §7's
// IoTransient/IoPermanent split, wrapping it in the matching internal/wire
// sentinel so callers up the stack can errors.Is against it. io.EOF and
// io.ErrUnexpectedEOF pass through unwrapped: end-of-stream is a shape a
// caller already handles on its own terms, not a failure to classify.
func classifyIOErr(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %v", wire.ErrIOPermanent, err)
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOSPC, syscall.EROFS, syscall.EPERM, syscall.EACCES:
			return fmt.Errorf("%w: %v", wire.ErrIOPermanent, err)
		case syscall.EAGAIN, syscall.EINTR, syscall.EBUSY, syscall.ETIMEDOUT, syscall.ECONNRESET, syscall.EPIPE:
			return fmt.Errorf("%w: %v", wire.ErrIOTransient, err)
		}
	}

	// An OS error this codec doesn't specifically recognize is treated as
	// transient: a single free retry covers the common case (a flaky
	// removable disk, a network filesystem hiccup) without a growing list
	// of errno cases to keep in sync with every platform.
	return fmt.Errorf("%w: %v", wire.ErrIOTransient, err)
}

// retryOnce runs op, and if it fails with an error classifyIOErr judges
// transient, runs it exactly once more before giving up — spec.md §7's
// "retry once per operation, then fatal" policy for IoTransient. A
// permanent classification, or a second failure of any kind, is returned
// as classifyIOErr wraps it; io.EOF/io.ErrUnexpectedEOF pass through
// unwrapped and are never retried.
func retryOnce(op func() error) error {
	if err := op(); err != nil {
		classified := classifyIOErr(err)
		if !errors.Is(classified, wire.ErrIOTransient) {
			return classified
		}
		if err2 := op(); err2 != nil {
			return classifyIOErr(err2)
		}
	}
	return nil
}
