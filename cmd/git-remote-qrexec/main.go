// Command git-remote-qrexec is a git remote helper: git invokes it as
// `git-remote-qrexec <remote-name> <url>` whenever a remote's URL begins
// with "qrexec://", and speaks the remote-helper line protocol with it
// over stdin/stdout. See spec.md §4 for the wire protocol and trust model.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/git-remote-qrexec/pkg/config"
	"github.com/odvcencio/git-remote-qrexec/pkg/fetch"
	"github.com/odvcencio/git-remote-qrexec/pkg/gitoracle"
	"github.com/odvcencio/git-remote-qrexec/pkg/helper"
	"github.com/odvcencio/git-remote-qrexec/pkg/remoteurl"
	"github.com/odvcencio/git-remote-qrexec/pkg/sigverify"
	"github.com/odvcencio/git-remote-qrexec/pkg/store"
	"github.com/odvcencio/git-remote-qrexec/pkg/transport"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "git-remote-qrexec:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "git-remote-qrexec <remote-name> <url>",
		Short:         "git remote helper for qrexec-isolated peers",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[1])
		},
	}
}

// run wires the full pipeline — config, remote spec, transport, signature
// verifier, local store and oracle, fetch engine — and hands stdin/stdout
// to the protocol driver. Every diagnostic goes to stderr; stdout is
// reserved entirely for the remote-helper protocol.
func run(ctx context.Context, rawURL string) error {
	gitDir := os.Getenv("GIT_DIR")
	if gitDir == "" {
		return fmt.Errorf("GIT_DIR is not set; this helper must be invoked by git")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	spec, err := remoteurl.Parse(rawURL, cfg.Keyrings)
	if err != nil {
		return fmt.Errorf("parse remote url: %w", err)
	}

	logger := helper.NewLogger(os.Stderr)

	t := transport.New(cfg)
	verifier := sigverify.New(cfg.VerifierPath, sigverify.ModeAuto)
	st := store.New(gitDir)
	oracle := gitoracle.New(gitDir)
	engine := fetch.New(spec, t, verifier, st, oracle, func(msg string) { logger.Warnf("%s", msg) })

	driver := helper.New(os.Stdin, os.Stdout, engine, logger)
	return driver.Run(ctx)
}
