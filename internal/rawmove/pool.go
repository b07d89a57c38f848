package rawmove

import (
	"context"
	"sync"
)

// WorkItem is one range of one file assigned to an auxiliary connection.
type WorkItem struct {
	RelPath string
	Range   Range
	Size    int64 // total file size, for the FILE_RAW_START header
}

// ProcessFunc handles one WorkItem end to end (dial or reuse a worker
// connection, send FILE_RAW_START/PFILE_DATA/PFILE_END or receive and write
// at the declared offset).
type ProcessFunc func(ctx context.Context, item WorkItem) error

// Pool runs up to NumWorkers goroutines draining a bounded work channel,
// adapted from
// _examples/bamsammich-beam/internal/engine/worker.go's WorkerPool.Run: a
// fixed goroutine pool pulling from a channel until it's closed, forwarding
// the first error per worker to a shared error channel.
type Pool struct {
	NumWorkers int
}

// Run dispatches items to NumWorkers goroutines calling process, blocking
// until items is closed and drained; once ctx is cancelled, the remaining
// items are received but not processed. It returns the first error
// encountered, if any; all workers still drain to avoid leaking goroutines
// blocked on a full items channel.
func (p *Pool) Run(ctx context.Context, items <-chan WorkItem, process ProcessFunc) error {
	if p.NumWorkers < 1 {
		p.NumWorkers = 1
	}

	errCh := make(chan error, p.NumWorkers)
	var wg sync.WaitGroup
	for i := 0; i < p.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				select {
				case <-ctx.Done():
					continue
				default:
				}
				if err := process(ctx, item); err != nil {
					select {
					case errCh <- err:
					default:
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)

	// Return the first error, if any; spec.md §4.12 treats worker-connection
	// failure as a signal to abort the whole file and fall back, which the
	// session layer decides based on this return value.
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// NumWorkersFor clamps a configured worker count into spec.md §6's [1,32]
// range for net-workers.
func NumWorkersFor(configured int) int {
	switch {
	case configured < 1:
		return 1
	case configured > 32:
		return 32
	default:
		return configured
	}
}
