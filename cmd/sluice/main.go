// Package main provides the sluice CLI entrypoint.
//
// Usage:
//
//	sluice <command> [subcommand] [options]
//
// snapshot, watch, stats session and serve run live sessions; the other
// commands only read journals and dictionaries.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/sluice/cli/cmd"
	"github.com/pithecene-io/sluice/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "sluice",
		Usage:          "Market data session toolkit",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.SnapshotCommand(),
			cmd.WatchCommand(),
			cmd.ServeCommand(),
			cmd.DumpCommand(),
			cmd.SessionsCommand(),
			cmd.StatsCommand(),
			cmd.DictCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for every error; this is a fallback.
		os.Exit(1)
	}
}

// exitErrHandler prints err and exits with the code of a cli.Exit error,
// or 1.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	msg, code := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus returns the message to print and the exit code for err.
// cli.Exit("", N) prints nothing.
func exitStatus(err error) (string, int) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return msg, code
	}
	return fmt.Sprintf("Error: %v", err), 1
}
