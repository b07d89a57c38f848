package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blitsync/blit/internal/config"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// exitError carries one of spec.md §6's exit codes (0 full success, 1 fatal
// protocol/IO error, 2 invalid arguments, 3 partial success in verify) up
// through cobra's single Execute() return path, the same shape as the
// teacher's cmd/beam/main.go exitError.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:           "blit",
		Short:         "High-throughput directory synchronization over a binary frame protocol",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newMirrorCmd(),
		newCopyCmd(),
		newMoveCmd(),
		newVerifyCmd(),
		newDaemonCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		if exitErr, ok := err.(*exitError); ok { //nolint:errorlint // exitError is always returned unwrapped from RunE
			if exitErr.msg != "" {
				fmt.Fprintln(os.Stderr, "Error:", exitErr.msg)
			}
			return exitErr.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}
	return 0
}

// loadTuning layers config file defaults under the tuning flags a
// subcommand registered, flags always winning, per the teacher's
// applyConfigDefaults pattern.
func loadTuning(cmd *cobra.Command, flags *sessionFlags) config.Tuning {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "error", err)
	}

	t := config.DefaultTuning().ApplyDefaults(cfg.Defaults)
	if cmd.Flags().Changed("empty-dirs") {
		t.EmptyDirs = flags.emptyDirs
	}
	if cmd.Flags().Changed("no-tar") {
		t.NoTar = flags.noTar
	}
	if cmd.Flags().Changed("checksum") {
		t.Checksum = flags.checksum
	}
	if cmd.Flags().Changed("high-throughput") {
		t.HighThroughput = flags.highThroughput
	}
	if cmd.Flags().Changed("net-workers") {
		t.NetWorkers = flags.netWorkers
	}
	if cmd.Flags().Changed("net-chunk-mb") {
		t.NetChunkMB = flags.netChunkMB
	}
	if cmd.Flags().Changed("large-threshold-mb") {
		t.LargeThresholdMB = flags.largeThreshMB
	}
	// --bwlimit itself is parsed and applied by the caller after loadTuning
	// returns, since a parse failure there must produce exit code 2; here
	// we only apply the config file's fallback when no flag was given.
	if flags.bwLimitStr == "" && cfg.Defaults.BWLimit != nil {
		if n, parseErr := parseBWLimit(*cfg.Defaults.BWLimit); parseErr == nil {
			t.BWLimitBytesPerSec = n
		}
	}
	return t
}
