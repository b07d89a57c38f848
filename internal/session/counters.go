package session

import (
	"sync/atomic"
	"time"
)

// Counters is spec.md §3's "Session counters" entity: files/bytes sent and
// received, elapsed time, tallied with sync/atomic the way
// internal/stats.Collector counts a local copy — but scoped to one wire
// session rather than a whole CLI invocation, and counting each need-list
// entry exactly once regardless of which transfer path served it (spec.md
// §3: "A file listed in the need-list is counted... once regardless of
// transfer mode").
type Counters struct {
	filesSent     atomic.Int64
	filesReceived atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	start         time.Time
}

// NewCounters starts the elapsed-time clock immediately.
func NewCounters() *Counters {
	return &Counters{start: time.Now()}
}

func (c *Counters) AddFilesSent(n int64)     { c.filesSent.Add(n) }
func (c *Counters) AddFilesReceived(n int64) { c.filesReceived.Add(n) }
func (c *Counters) AddBytesSent(n int64)     { c.bytesSent.Add(n) }
func (c *Counters) AddBytesReceived(n int64) { c.bytesReceived.Add(n) }

// Snapshot is a point-in-time read of a session's counters.
type Snapshot struct {
	FilesSent     int64
	FilesReceived int64
	BytesSent     int64
	BytesReceived int64
	ElapsedMS     int64
}

// Snapshot returns the current counter values plus elapsed milliseconds
// since NewCounters, logged at session end per spec.md §3.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FilesSent:     c.filesSent.Load(),
		FilesReceived: c.filesReceived.Load(),
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
		ElapsedMS:     time.Since(c.start).Milliseconds(),
	}
}
