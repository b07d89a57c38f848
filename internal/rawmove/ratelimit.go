// Package rawmove implements the parallel large-file transfer path: chunk
// planning across auxiliary connections, a byte-coverage bitmap so the
// receiver knows when a file is complete regardless of chunk arrival order,
// and bandwidth limiting shared across a session's workers.
package rawmove

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewLimiter creates a rate.Limiter capping aggregate throughput to
// bytesPerSec, adapted from
// _examples/bamsammich-beam/internal/engine/ratelimit.go. A burst of 1 MiB
// (or the whole budget, if smaller) lets a single chunk-sized read or write
// through without blocking on sub-chunk boundaries.
func NewLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// LimitedReader wraps r so reads are throttled by limiter. A nil limiter
// disables throttling.
type LimitedReader struct {
	R       io.Reader
	Limiter *rate.Limiter
	Ctx     context.Context
}

func (lr *LimitedReader) Read(p []byte) (int, error) {
	n, err := lr.R.Read(p)
	if n > 0 && lr.Limiter != nil {
		if werr := lr.Limiter.WaitN(lr.Ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// LimitedWriter wraps w so writes are throttled by limiter. A nil limiter
// disables throttling.
type LimitedWriter struct {
	W       io.Writer
	Limiter *rate.Limiter
	Ctx     context.Context
}

func (lw *LimitedWriter) Write(p []byte) (int, error) {
	if lw.Limiter != nil {
		if err := lw.Limiter.WaitN(lw.Ctx, len(p)); err != nil {
			return 0, err
		}
	}
	return lw.W.Write(p)
}
