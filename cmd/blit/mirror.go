package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/blitsync/blit/internal/event"
	"github.com/blitsync/blit/internal/session"
)

func newMirrorCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "mirror <source> <destination>",
		Short: "Sync a directory tree and delete destination paths absent from the source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCopyLike(cmd, &flags, args[0], args[1], session.Options{Mirror: true})
		},
	}
	registerSessionFlags(cmd, &flags)
	return cmd
}

func newCopyCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "copy <source> <destination>",
		Short: "Sync a directory tree without deleting anything on the destination",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCopyLike(cmd, &flags, args[0], args[1], session.Options{})
		},
	}
	registerSessionFlags(cmd, &flags)
	return cmd
}

func newMoveCmd() *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "move <source> <destination>",
		Short: "Sync a directory tree, then remove the entire source tree on success",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCopyLike(cmd, &flags, args[0], args[1], session.Options{RemoveSource: true})
		},
	}
	registerSessionFlags(cmd, &flags)
	return cmd
}

func runCopyLike(cmd *cobra.Command, flags *sessionFlags, rawSrc, rawDst string, base session.Options) error {
	src := parseEndpointArg(rawSrc)
	dst := parseEndpointArg(rawDst)

	chain, err := buildFilterChain(flags)
	if err != nil {
		return &exitError{code: 2, msg: err.Error()}
	}
	if !chain.Empty() {
		base.Filter = chain
	}
	base.Tuning = loadTuning(cmd, flags)
	if flags.bwLimitStr != "" {
		n, bwErr := parseBWLimit(flags.bwLimitStr)
		if bwErr != nil {
			return &exitError{code: 2, msg: "invalid --bwlimit: " + bwErr.Error()}
		}
		base.Tuning.BWLimitBytesPerSec = n
	}

	var events chan event.Event
	var presenterDone chan struct{}
	if flags.progress {
		events = make(chan event.Event, 256)
		base.Events = events
		presenter := newProgressPresenter(os.Stdout, os.Stderr, dst.loc.Path)
		presenterDone = make(chan struct{})
		go func() {
			presenter.run(events)
			close(presenterDone)
		}()
	}

	snap, err := runTransfer(src, dst, base, flags.fingerprint)
	if events != nil {
		close(events)
		<-presenterDone
	}
	if err != nil {
		return err
	}
	printSummary(snap, flags.quiet)
	return nil
}
