package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/sluice/cli/config"
	"github.com/pithecene-io/sluice/cli/reader"
	"github.com/pithecene-io/sluice/cli/render"
	"github.com/pithecene-io/sluice/journal"
)

// journalReadTimeout bounds a full journal scan.
const journalReadTimeout = 60 * time.Second

// DumpCommand returns the dump command.
func DumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "List captured messages from a journal",
		Flags: append(append(ReadOnlyFlags(), JournalFlags()...),
			DictionaryFlag,
			&cli.BoolFlag{Name: "decode", Aliases: []string{"d"}, Usage: "Format field list payloads"},
			&cli.IntFlag{Name: "limit", Usage: "Show at most this many records (0 = all)"},
		),
		Action: dumpAction,
	}
}

func dumpAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for dump command", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, journalReadTimeout)
	defer cancel()

	rd, f, err := journalReader(ctx, c)
	if err != nil {
		return err
	}
	rows, err := rd.Records(ctx, f, c.Bool("decode"))
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if limit := c.Int("limit"); limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return r.Render(rows)
}

// SessionsCommand returns the sessions command.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:   "sessions",
		Usage:  "Summarize the sessions captured in a journal",
		Flags:  append(ReadOnlyFlags(), JournalFlags()...),
		Action: sessionsAction,
	}
}

func sessionsAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for sessions command", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, journalReadTimeout)
	defer cancel()

	rd, f, err := journalReader(ctx, c)
	if err != nil {
		return err
	}
	sessions, err := rd.Sessions(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	return r.Render(sessions)
}

// StatsCommand returns the stats command with subcommands.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated statistics (journal, live session)",
		Subcommands: []*cli.Command{
			statsJournalCommand(),
			statsSessionCommand(),
		},
	}
}

func statsJournalCommand() *cli.Command {
	return &cli.Command{
		Name:   "journal",
		Usage:  "Count journal records by class and domain",
		Flags:  append(ReadOnlyFlags(), JournalFlags()...),
		Action: statsJournalAction,
	}
}

func statsJournalAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, journalReadTimeout)
	defer cancel()

	rd, f, err := journalReader(ctx, c)
	if err != nil {
		return err
	}
	stats, err := rd.Stats(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if c.Bool("tui") {
		return r.RenderTUI("stats_journal", stats)
	}
	return r.Render(stats)
}

// journalReader opens the journal named by the flags, falling back to the
// config file, and builds the record filter.
func journalReader(ctx context.Context, c *cli.Context) (reader.Reader, journal.Filter, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, journal.Filter{}, err
	}
	jc := cfg.Journal
	if v := c.String("backend"); v != "" {
		jc.Backend = v
	}
	if v := c.String("path"); v != "" {
		jc.Path = v
	}
	if v := c.String("s3-region"); v != "" {
		jc.Region = v
	}
	if jc.Backend == "" || jc.Path == "" {
		return nil, journal.Filter{}, cli.Exit("both --backend and --path are required (or journal in --config)", 1)
	}
	if err := (&config.Config{Journal: jc}).Validate(); err != nil {
		return nil, journal.Filter{}, err
	}

	ds, err := journal.Open(ctx, jc.Backend, jc.Path, jc.S3Config())
	if err != nil {
		return nil, journal.Filter{}, fmt.Errorf("failed to open journal: %w", err)
	}
	dict, err := loadDictionary(ctx, cfg.Dictionary, c.String("dictionary"))
	if err != nil {
		return nil, journal.Filter{}, fmt.Errorf("dictionary: %w", err)
	}
	f := journal.Filter{
		SessionID: c.String("session"),
		Channel:   c.String("channel"),
		Day:       c.String("day"),
	}
	if f.Day != "" {
		if _, err := time.Parse(time.DateOnly, f.Day); err != nil {
			return nil, journal.Filter{}, fmt.Errorf("invalid --day %q: want YYYY-MM-DD", f.Day)
		}
	}
	return reader.NewJournalReader(ds, dict), f, nil
}
