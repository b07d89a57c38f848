package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/blitsync/blit/internal/event"
	"github.com/blitsync/blit/internal/stats"
)

// progressPresenter prints a line per completed file plus a periodic
// throughput summary, grounded on the teacher's plainPresenter
// (internal/ui/plain.go) but trimmed to the events blit's own session loop
// actually emits (no FileStarted/FileProgress — blit streams whole-file
// payloads, not chunk-level progress events). Used when --progress is set;
// the default CLI behavior stays a single post-transfer summary line.
type progressPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	dstRoot string
}

func newProgressPresenter(w, errW io.Writer, dstRoot string) *progressPresenter {
	return &progressPresenter{w: w, errW: errW, stats: stats.NewCollector(), dstRoot: dstRoot}
}

// run drains events until the channel closes, ticking the collector once a
// second so RollingSpeed has fresh samples, and printing a progress line to
// errW every 5 seconds the way the teacher's plain mode reserves stdout for
// the per-file feed and stderr for periodic status.
func (p *progressPresenter) run(events <-chan event.Event) {
	statTicker := time.NewTicker(time.Second)
	defer statTicker.Stop()
	printTicker := time.NewTicker(5 * time.Second)
	defer printTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handleEvent(ev)
		case <-statTicker.C:
			p.stats.Tick()
		case <-printTicker.C:
			p.printProgress()
		}
	}
}

func (p *progressPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.ScanComplete:
		p.stats.SetTotals(ev.Total, ev.TotalSize)
	case event.FileCompleted:
		p.stats.AddFilesCopied(1)
		p.stats.AddBytesCopied(ev.Size)
		fmt.Fprintf(p.w, "%s  %s\n", stripRoot(p.dstRoot, ev.Path), stats.FormatBytes(ev.Size))
	case event.DirCreated:
		p.stats.AddDirsCreated(1)
	case event.DeleteFile:
		fmt.Fprintf(p.w, "delete: %s\n", stripRoot(p.dstRoot, ev.Path))
	case event.VerifyStarted:
		fmt.Fprintln(p.w, "verifying...")
	case event.VerifyFailed:
		fmt.Fprintln(p.w, "MISMATCH")
	}
}

func (p *progressPresenter) printProgress() {
	snap := p.stats.Snapshot()
	speed := p.stats.RollingSpeed(10)
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesCopied) / float64(snap.BytesTotal) * 100
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s %s files %s\n",
			pct, stats.FormatBytes(snap.BytesCopied), stats.FormatBytes(snap.BytesTotal),
			formatCount(snap.FilesCopied), formatRate(speed))
		return
	}
	fmt.Fprintf(p.errW, "progress: %s copied %s files %s\n",
		stats.FormatBytes(snap.BytesCopied), formatCount(snap.FilesCopied), formatRate(speed))
}

func stripRoot(root, path string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, root), "/")
}

func formatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return stats.FormatBytes(int64(bytesPerSec)) + "/s"
}

func formatCount(n int64) string {
	return fmt.Sprintf("%d", n)
}
