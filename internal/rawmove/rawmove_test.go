package rawmove_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/blitsync/blit/internal/rawmove"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCoversWholeFile(t *testing.T) {
	t.Parallel()

	ranges := rawmove.Plan(10*1024*1024, 4*1024*1024)
	require.Len(t, ranges, 3)
	assert.Equal(t, int64(0), ranges[0].Offset)
	assert.Equal(t, int64(4*1024*1024), ranges[0].Length)
	assert.Equal(t, int64(2*1024*1024), ranges[2].Length)
}

func TestPlanEmptyFile(t *testing.T) {
	t.Parallel()
	assert.Nil(t, rawmove.Plan(0, 1024))
}

func TestCoverageOutOfOrderRanges(t *testing.T) {
	t.Parallel()

	cov := rawmove.NewCoverage(100)
	assert.False(t, cov.Complete())

	cov.Add(50, 50)
	assert.False(t, cov.Complete())
	assert.Equal(t, int64(50), cov.Covered())

	cov.Add(0, 50)
	assert.True(t, cov.Complete())
}

func TestCoverageOverlappingRangesMerge(t *testing.T) {
	t.Parallel()

	cov := rawmove.NewCoverage(30)
	cov.Add(0, 20)
	cov.Add(10, 20) // overlaps [0,20) — should merge to [0,30)
	assert.True(t, cov.Complete())
	assert.Equal(t, int64(30), cov.Covered())
}

func TestPoolRunProcessesAllItems(t *testing.T) {
	t.Parallel()

	pool := &rawmove.Pool{NumWorkers: 4}
	items := make(chan rawmove.WorkItem, 10)
	for i := 0; i < 10; i++ {
		items <- rawmove.WorkItem{RelPath: "f.bin", Range: rawmove.Range{Offset: int64(i), Length: 1}}
	}
	close(items)

	var count int64
	var mu sync.Mutex
	seen := map[int64]bool{}

	err := pool.Run(context.Background(), items, func(_ context.Context, item rawmove.WorkItem) error {
		atomic.AddInt64(&count, 1)
		mu.Lock()
		seen[item.Range.Offset] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
	assert.Len(t, seen, 10)
}

func TestNumWorkersForClamps(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, rawmove.NumWorkersFor(0))
	assert.Equal(t, 1, rawmove.NumWorkersFor(-5))
	assert.Equal(t, 4, rawmove.NumWorkersFor(4))
	assert.Equal(t, 32, rawmove.NumWorkersFor(100))
}
