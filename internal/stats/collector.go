// Package stats aggregates the counters blit's --progress presenter prints
// while a mirror/copy/move runs: files and bytes copied so far, directories
// created, and a rolling throughput estimate derived from per-second
// samples. It is deliberately narrower than a general transfer-statistics
// package — it tracks only what cmd/blit's presenter renders, not every
// counter a copy operation could report (those live on
// internal/session.Counters, which is scoped to one wire session rather
// than the whole invocation a Collector spans).
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks copy operation statistics using lock-free atomic counters.
type Collector struct {
	filesCopied atomic.Int64
	bytesCopied atomic.Int64
	dirsCreated atomic.Int64
	bytesTotal  atomic.Int64
	filesTotal  atomic.Int64
	startTime   time.Time

	// Ring buffer, written only by presenter's Tick(), not workers.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per second
	ringIdx    int
	ringCount  int // how many samples have been written (capped at ringSize)
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records scan totals (called once when the need-list arrives).
func (c *Collector) SetTotals(files, bytes int64) {
	c.filesTotal.Store(files)
	c.bytesTotal.Store(bytes)
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesCopied int64
	BytesCopied int64
	DirsCreated int64
	BytesTotal  int64
	FilesTotal  int64
	Elapsed     time.Duration
}

func (c *Collector) AddFilesCopied(n int64) { c.filesCopied.Add(n) }
func (c *Collector) AddBytesCopied(n int64) { c.bytesCopied.Add(n) }
func (c *Collector) AddDirsCreated(n int64) { c.dirsCreated.Add(n) }

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesCopied: c.filesCopied.Load(),
		BytesCopied: c.bytesCopied.Load(),
		DirsCreated: c.dirsCreated.Load(),
		BytesTotal:  c.bytesTotal.Load(),
		FilesTotal:  c.filesTotal.Load(),
		Elapsed:     c.Elapsed(),
	}
}

// Tick snapshots the bytes-copied delta into the ring buffer. Called 1/sec
// by the presenter.
func (c *Collector) Tick() {
	currentBytes := c.bytesCopied.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	bytesDelta := currentBytes - c.lastBytes
	c.lastBytes = currentBytes

	c.throughput[c.ringIdx] = bytesDelta
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := seconds
	if count > c.ringCount {
		count = c.ringCount
	}
	if count == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < count; i++ {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"copied=%d bytes=%d dirs=%d",
		s.FilesCopied, s.BytesCopied, s.DirsCreated,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
