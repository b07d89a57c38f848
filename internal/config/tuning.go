package config

// Tuning holds the resolved session knobs spec.md §6 lists on the CLI
// surface: empty-dirs, no-tar, checksum, high-throughput, net-workers,
// net-chunk-mb, and large-threshold-mb. cmd/blit builds one per invocation
// by layering pflag values over DefaultsConfig over these hardcoded
// fallbacks.
type Tuning struct {
	BWLimitBytesPerSec int64
	NetWorkers         int
	NetChunkMB         int
	LargeThresholdMB   int
	EmptyDirs          bool
	NoTar              bool
	Checksum           bool
	HighThroughput     bool
}

// DefaultTuning returns the knob values used when neither a flag nor a
// config file default is set.
func DefaultTuning() Tuning {
	return Tuning{
		EmptyDirs:        false,
		NoTar:            false,
		Checksum:         false,
		HighThroughput:   false,
		NetWorkers:       4,
		NetChunkMB:       4,
		LargeThresholdMB: 16,
	}
}

// ApplyDefaults overlays a config file's DefaultsConfig onto t: every
// field whose DefaultsConfig pointer is non-nil overwrites t's value, and
// fields left nil keep t's value. It cannot tell which of t's fields came
// from a CLI flag, so callers start from DefaultTuning, apply file
// defaults, then apply flags last so flags always win.
func (t Tuning) ApplyDefaults(d DefaultsConfig) Tuning {
	if d.EmptyDirs != nil {
		t.EmptyDirs = *d.EmptyDirs
	}
	if d.NoTar != nil {
		t.NoTar = *d.NoTar
	}
	if d.Checksum != nil {
		t.Checksum = *d.Checksum
	}
	if d.HighThroughput != nil {
		t.HighThroughput = *d.HighThroughput
	}
	if d.NetWorkers != nil {
		t.NetWorkers = *d.NetWorkers
	}
	if d.NetChunkMB != nil {
		t.NetChunkMB = *d.NetChunkMB
	}
	if d.LargeThreshMB != nil {
		t.LargeThresholdMB = *d.LargeThreshMB
	}
	return t
}

// NetWorkersClamped clamps NetWorkers into spec.md §6's [1,32] range.
func (t Tuning) NetWorkersClamped() int {
	switch {
	case t.NetWorkers < 1:
		return 1
	case t.NetWorkers > 32:
		return 32
	default:
		return t.NetWorkers
	}
}

// NetChunkMBClamped clamps NetChunkMB into spec.md §6's [1,32] range.
func (t Tuning) NetChunkMBClamped() int {
	switch {
	case t.NetChunkMB < 1:
		return 1
	case t.NetChunkMB > 32:
		return 32
	default:
		return t.NetChunkMB
	}
}

// LargeThresholdBytes returns the file-size cutoff at or above which the raw
// mover replaces the per-file path, per spec.md §4.7's `large_threshold`.
// Unlike net-workers and net-chunk-mb, spec.md gives no bound on this
// knob beyond its 16 MiB default, so a non-positive configuration falls
// back to that default rather than making every file eligible for the raw
// path.
func (t Tuning) LargeThresholdBytes() int64 {
	if t.LargeThresholdMB < 1 {
		return 16 << 20
	}
	return int64(t.LargeThresholdMB) << 20
}
