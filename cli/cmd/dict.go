package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/sluice/cli/render"
	"github.com/pithecene-io/sluice/dictionary"
	"github.com/pithecene-io/sluice/iox"
)

// dictTimeout bounds a redis round trip.
const dictTimeout = 30 * time.Second

// FieldRow is one dictionary field as the dict show command renders it.
type FieldRow struct {
	FieldID  int16  `json:"fid" yaml:"fid"`
	Acronym  string `json:"acronym" yaml:"acronym"`
	DDE      string `json:"dde_acronym,omitempty" yaml:"dde_acronym,omitempty"`
	Type     string `json:"type" yaml:"type"`
	Length   uint16 `json:"length,omitempty" yaml:"length,omitempty"`
	RippleTo int16  `json:"ripple_to,omitempty" yaml:"ripple_to,omitempty"`
}

// DictCommand returns the dict command with subcommands.
func DictCommand() *cli.Command {
	return &cli.Command{
		Name:  "dict",
		Usage: "Show, export and share field dictionaries",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "List the fields of the resolved dictionary",
				Flags:  append(ReadOnlyFlags(), ConfigFlag, DictionaryFlag),
				Action: dictShowAction,
			},
			{
				Name:      "export",
				Usage:     "Write the resolved dictionary to a snapshot file",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{ConfigFlag, DictionaryFlag},
				Action:    dictExportAction,
			},
			{
				Name:   "push",
				Usage:  "Store the resolved dictionary in the redis cache",
				Flags:  append([]cli.Flag{ConfigFlag, DictionaryFlag}, redisFlags()...),
				Action: dictPushAction,
			},
			{
				Name:      "pull",
				Usage:     "Copy the cached dictionary from redis to a snapshot file",
				ArgsUsage: "<file>",
				Flags:     append([]cli.Flag{ConfigFlag}, redisFlags()...),
				Action:    dictPullAction,
			},
		},
	}
}

func redisFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "redis-url", Usage: "Redis URL (overrides dictionary.redis_url)"},
		&cli.StringFlag{Name: "redis-key", Usage: "Cache key (overrides dictionary.redis_key)"},
	}
}

func dictShowAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for dict show command", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	d, err := resolveDictionary(c)
	if err != nil {
		return err
	}
	defs := d.Fields()
	rows := make([]FieldRow, 0, len(defs))
	for _, def := range defs {
		rows = append(rows, FieldRow{
			FieldID:  def.FieldID,
			Acronym:  def.Acronym,
			DDE:      def.DDEAcronym,
			Type:     def.Type.String(),
			Length:   def.Length,
			RippleTo: def.RippleTo,
		})
	}
	return r.Render(rows)
}

func dictExportAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("output file is required", 1)
	}
	d, err := resolveDictionary(c)
	if err != nil {
		return err
	}
	if err := d.SaveFile(path); err != nil {
		return fmt.Errorf("failed to write dictionary: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "wrote %d fields (version %s) to %s\n", d.Len(), d.Version(), path)
	return nil
}

func dictPushAction(c *cli.Context) error {
	d, err := resolveDictionary(c)
	if err != nil {
		return err
	}
	cache, err := redisCache(c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(cache)

	ctx, cancel := context.WithTimeout(c.Context, dictTimeout)
	defer cancel()
	if err := cache.Store(ctx, d); err != nil {
		return fmt.Errorf("failed to store dictionary: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "stored %d fields (version %s)\n", d.Len(), d.Version())
	return nil
}

func dictPullAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("output file is required", 1)
	}
	cache, err := redisCache(c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(cache)

	ctx, cancel := context.WithTimeout(c.Context, dictTimeout)
	defer cancel()
	d, err := cache.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch dictionary: %w", err)
	}
	if err := d.SaveFile(path); err != nil {
		return fmt.Errorf("failed to write dictionary: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "wrote %d fields (version %s) to %s\n", d.Len(), d.Version(), path)
	return nil
}

// resolveDictionary loads the dictionary the way a session would.
func resolveDictionary(c *cli.Context) (*dictionary.Dictionary, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(c.Context, dictTimeout)
	defer cancel()
	dc := cfg.Dictionary
	// push must not read back the cache it is about to fill.
	if c.Command.Name == "push" {
		dc.RedisURL = ""
	}
	d, err := loadDictionary(ctx, dc, c.String("dictionary"))
	if err != nil {
		return nil, fmt.Errorf("dictionary: %w", err)
	}
	return d, nil
}

func redisCache(c *cli.Context) (*dictionary.RedisCache, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	dc := cfg.Dictionary
	if v := c.String("redis-url"); v != "" {
		dc.RedisURL = v
	}
	if v := c.String("redis-key"); v != "" {
		dc.RedisKey = v
	}
	if dc.RedisURL == "" {
		return nil, cli.Exit("--redis-url or dictionary.redis_url is required", 1)
	}
	if dc.RedisKey == "" {
		dc.RedisKey = dictionary.DefaultCacheKey
	}
	return dictionary.NewRedisCache(dc.RedisURL, dc.RedisKey, dc.TTL.Duration)
}
