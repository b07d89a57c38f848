package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blitsync/blit/internal/session"
)

func newVerifyCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "verify <source> <destination>",
		Short: "Report differences between source and destination without changing anything",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, &flags, args[0], args[1])
		},
	}
	registerSessionFlags(cmd, &flags)
	return cmd
}

func runVerify(cmd *cobra.Command, flags *sessionFlags, rawSrc, rawDst string) error {
	src := parseEndpointArg(rawSrc)
	dst := parseEndpointArg(rawDst)

	chain, err := buildFilterChain(flags)
	if err != nil {
		return &exitError{code: 2, msg: err.Error()}
	}

	var report session.VerifyReport
	opts := session.Options{VerifyOnly: true, VerifyReport: &report, Tuning: loadTuning(cmd, flags)}
	if !chain.Empty() {
		opts.Filter = chain
	}
	if flags.bwLimitStr != "" {
		n, bwErr := parseBWLimit(flags.bwLimitStr)
		if bwErr != nil {
			return &exitError{code: 2, msg: "invalid --bwlimit: " + bwErr.Error()}
		}
		opts.Tuning.BWLimitBytesPerSec = n
	}

	if _, err := runTransfer(src, dst, opts, flags.fingerprint); err != nil {
		return err
	}

	if !flags.quiet {
		printVerifyReport(&report)
	}
	if !report.InSync() {
		return &exitError{code: 3}
	}
	return nil
}

func printVerifyReport(r *session.VerifyReport) {
	if r.InSync() {
		fmt.Println(color.GreenString("in sync"))
		return
	}
	printGroup("missing on destination", r.Missing)
	printGroup("size differs", r.SizeDiffers)
	printGroup("mtime differs", r.MTimeDiffers)
	printGroup("content differs", r.HashDiffers)
	printGroup("symlink target differs", r.LinkTargetDiffers)
	printGroup("extraneous on destination", r.Extraneous)
}

func printGroup(label string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Println(color.YellowString("%s (%d):", label, len(paths)))
	for _, p := range paths {
		fmt.Println("  " + p)
	}
}
