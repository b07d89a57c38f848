package session

import (
	"errors"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blitsync/blit/internal/wire"
)

func TestClassifyIOErrTransientErrno(t *testing.T) {
	err := classifyIOErr(syscall.EAGAIN)
	assert.ErrorIs(t, err, wire.ErrIOTransient)
}

func TestClassifyIOErrPermanentErrno(t *testing.T) {
	err := classifyIOErr(syscall.ENOSPC)
	assert.ErrorIs(t, err, wire.ErrIOPermanent)
}

func TestClassifyIOErrPassesThroughEOF(t *testing.T) {
	assert.Same(t, io.EOF, classifyIOErr(io.EOF))
	assert.Nil(t, classifyIOErr(nil))
}

func TestClassifyIOErrDefaultsUnrecognizedToTransient(t *testing.T) {
	err := classifyIOErr(errors.New("boom"))
	assert.ErrorIs(t, err, wire.ErrIOTransient)
}

func TestRetryOnceSucceedsWithoutRetryingOnSuccess(t *testing.T) {
	calls := 0
	err := retryOnce(func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnceRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := retryOnce(func() error {
		calls++
		if calls == 1 {
			return syscall.EAGAIN
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryOnceGivesUpAfterSecondFailure(t *testing.T) {
	calls := 0
	err := retryOnce(func() error {
		calls++
		return syscall.EAGAIN
	})
	assert.ErrorIs(t, err, wire.ErrIOTransient)
	assert.Equal(t, 2, calls)
}

func TestRetryOnceDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := retryOnce(func() error {
		calls++
		return syscall.ENOSPC
	})
	assert.ErrorIs(t, err, wire.ErrIOPermanent)
	assert.Equal(t, 1, calls)
}

func TestRetryOnceDoesNotRetryEOF(t *testing.T) {
	calls := 0
	err := retryOnce(func() error {
		calls++
		return io.EOF
	})
	assert.Same(t, io.EOF, err)
	assert.Equal(t, 1, calls)
}
