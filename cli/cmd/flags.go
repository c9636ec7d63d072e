// Package cmd provides CLI commands for the sluice binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (snapshot, stats, watch)",
	}

	// ConfigFlag points at a sluice.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to sluice.yaml",
		EnvVars: []string{"SLUICE_CONFIG"},
	}

	// DictionaryFlag overrides dictionary.path.
	DictionaryFlag = &cli.StringFlag{
		Name:  "dictionary",
		Usage: "Dictionary snapshot file (default: config, then builtin)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// JournalFlags select the journal dataset and filter records. Unset
// backend and path fall back to the config file.
func JournalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Journal backend: fs or s3",
		},
		&cli.StringFlag{
			Name:  "path",
			Usage: "Journal path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "s3-region",
			Usage: "AWS region for the s3 backend",
		},
		&cli.StringFlag{
			Name:  "session",
			Usage: "Only records of this session id",
		},
		&cli.StringFlag{
			Name:  "channel",
			Usage: "Only records of this channel",
		},
		&cli.StringFlag{
			Name:  "day",
			Usage: "Only records of this day (YYYY-MM-DD)",
		},
	}
}

// SessionFlags configure a live session. Flags override the config file.
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		DictionaryFlag,
		&cli.StringSliceFlag{
			Name:  "connect",
			Usage: "Channel address, repeatable (tcp host:port or ws:// url)",
		},
		&cli.StringFlag{
			Name:  "user",
			Usage: "Login user name",
		},
		&cli.StringFlag{
			Name:    "service",
			Aliases: []string{"s"},
			Usage:   "Service or service list name",
		},
		&cli.StringFlag{
			Name:  "domain",
			Usage: "Item domain",
			Value: "MarketPrice",
		},
		&cli.StringFlag{
			Name:  "metrics-listen",
			Usage: "Serve prometheus metrics on this address",
		},
	}
}
