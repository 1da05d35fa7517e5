package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/digithree/pocket-to-sqlite/pkg/config"
	"github.com/digithree/pocket-to-sqlite/pkg/export"
	"github.com/digithree/pocket-to-sqlite/pkg/karakeep"
	"github.com/digithree/pocket-to-sqlite/pkg/pocket"
	"github.com/digithree/pocket-to-sqlite/pkg/store"
)

type options struct {
	DB     string `long:"db" env:"POCKET_DB" description:"SQLite database file, overrides the config DSN"`
	Config string `short:"f" long:"config" env:"CONFIG" description:"config file (yaml)"`
	Auth   string `short:"a" long:"auth" env:"AUTH" default:"auth.json" description:"credentials file"`

	AuthCmd       AuthCommand       `command:"auth" description:"authorize with Pocket and store credentials"`
	FetchCmd      FetchCommand      `command:"fetch" description:"fetch saved items into the database"`
	ExportCmd     ExportCommand     `command:"export" description:"export stored items to Karakeep"`
	ExportFileCmd ExportFileCommand `command:"export-file" description:"dump a table to CSV or JSON"`

	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var opts options

var revision = "unknown"

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		setupLog(opts.Debug, secrets()...)
		log.Printf("[DEBUG] pocket-to-sqlite %s", revision)
		return command.Execute(args)
	}
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// AuthCommand runs the Pocket OAuth flow and stores the resulting tokens
// in the credentials file. A Karakeep token can be stored alongside.
type AuthCommand struct {
	ConsumerKey   string `short:"k" long:"consumer-key" env:"POCKET_CONSUMER_KEY" default:"87988-a6fd295a556dbdb47960ec60" description:"Pocket application consumer key"`
	KarakeepToken string `long:"karakeep-token" env:"KARAKEEP_TOKEN" description:"Karakeep API token to store"`
	KarakeepOnly  bool   `long:"karakeep-only" description:"store the Karakeep token without the Pocket flow"`
}

// Execute runs the auth command
func (c *AuthCommand) Execute(_ []string) error {
	ctx, cancel := mainCtx()
	defer cancel()

	auth, err := config.LoadAuth(opts.Auth)
	if err != nil {
		return err
	}
	if c.KarakeepToken != "" {
		auth[config.KeyKarakeepToken] = c.KarakeepToken
		log.Printf("[INFO] karakeep token stored")
	}

	if !c.KarakeepOnly {
		if err := c.pocketFlow(ctx, auth); err != nil {
			return err
		}
	}

	if err := auth.Save(opts.Auth); err != nil {
		return err
	}
	log.Printf("[INFO] credentials saved to %s", opts.Auth)
	return nil
}

func (c *AuthCommand) pocketFlow(ctx context.Context, auth config.Auth) error {
	baseURL := auth.Get(config.KeyPocketBaseURL, pocket.DefaultBaseURL)
	client := pocket.NewClient(baseURL, c.ConsumerKey, "", 30*time.Second)

	redirectURI := "https://getpocket.com/connected_accounts"
	requestToken, err := client.RequestToken(ctx, redirectURI)
	if err != nil {
		return fmt.Errorf("request token: %w", err)
	}

	fmt.Printf("Visit this page and sign in with your Pocket account:\n\n")
	fmt.Printf("    %s\n\n", client.AuthorizeURL(requestToken, redirectURI))
	fmt.Printf("Once you have signed in there, hit <enter> to continue\n")
	if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}

	accessToken, username, err := client.AccessToken(ctx, requestToken)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}

	auth[config.KeyPocketConsumerKey] = c.ConsumerKey
	auth[config.KeyPocketAccessToken] = accessToken
	log.Printf("[INFO] authorized as %s", username)
	return nil
}

// FetchCommand pulls saved items from the API into the database. By
// default it resumes after the last stored item, --all starts over.
type FetchCommand struct {
	All bool `long:"all" description:"fetch from the beginning instead of resuming"`
}

// Execute runs the fetch command
func (c *FetchCommand) Execute(_ []string) error {
	ctx, cancel := mainCtx()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	auth, err := config.LoadAuth(opts.Auth)
	if err != nil {
		return err
	}
	consumerKey, err := auth.Require(config.KeyPocketConsumerKey)
	if err != nil {
		return err
	}
	accessToken, err := auth.Require(config.KeyPocketAccessToken)
	if err != nil {
		return err
	}

	baseURL := auth.Get(config.KeyPocketBaseURL, cfg.Pocket.BaseURL)
	client := pocket.NewClient(baseURL, consumerKey, accessToken, cfg.Pocket.Timeout)

	offset := 0
	if !c.All {
		if offset, err = st.CountItems(ctx); err != nil {
			return err
		}
	}

	if stats, serr := client.FetchStats(ctx); serr != nil {
		log.Printf("[WARN] can't fetch account stats: %v", serr)
	} else {
		log.Printf("[INFO] account has %d items, starting at offset %d", stats.CountList, offset)
	}

	fetcher := pocket.NewFetcher(client, offset, cfg.Pocket.PageSize, cfg.Pocket.Sleep, cfg.Pocket.RetryDelay)
	saved, err := st.SaveItems(ctx, fetcher)
	if err != nil {
		return fmt.Errorf("fetch stopped after %d items: %w", saved, err)
	}
	log.Printf("[INFO] saved %d items", saved)

	if err := st.EnsureFTS(ctx); err != nil {
		return fmt.Errorf("enable full-text search: %w", err)
	}
	return nil
}

// ExportCommand pushes stored items to Karakeep as link bookmarks.
type ExportCommand struct {
	Status   string `long:"filter-status" choice:"unread" choice:"archived" choice:"deleted" description:"only items with this status"`
	Favorite bool   `long:"filter-favorite" description:"only favorited items"`
	Limit    int    `long:"limit" default:"-1" description:"max items to export, -1 for all"`
	Offset   int    `long:"offset" description:"skip this many filtered items"`
	DryRun   bool   `long:"dry-run" description:"resolve and report without calling the API"`
}

// Execute runs the export command
func (c *ExportCommand) Execute(_ []string) error {
	ctx, cancel := mainCtx()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	auth, err := config.LoadAuth(opts.Auth)
	if err != nil {
		return err
	}
	token := auth.Get(config.KeyKarakeepToken, "")
	if !c.DryRun {
		if token, err = auth.Require(config.KeyKarakeepToken); err != nil {
			return err
		}
	}
	baseURL := auth.Get(config.KeyKarakeepBaseURL, cfg.Karakeep.BaseURL)
	client := karakeep.NewClient(baseURL, token)

	filter := store.ItemFilter{Favorite: c.Favorite, Limit: c.Limit, Offset: c.Offset}
	if c.Status != "" {
		status := map[string]int{
			"unread":   store.StatusUnread,
			"archived": store.StatusArchived,
			"deleted":  store.StatusDeleted,
		}[c.Status]
		filter.Status = &status
	}

	pump := export.New(st, client, export.Opts{Filter: filter, DryRun: c.DryRun, RetryBase: cfg.Karakeep.RetryDelay})
	summary, err := pump.Run(ctx, reportOutcome)
	if err != nil {
		return err
	}

	log.Printf("[INFO] export done: %d exported, %d planned, %d skipped, %d failed",
		summary.Exported, summary.Planned, summary.Skipped, summary.Errors)
	if summary.Errors > 0 {
		return fmt.Errorf("%d items failed to export", summary.Errors)
	}
	return nil
}

func reportOutcome(o export.Outcome) {
	switch o.Status {
	case export.StatusSuccess:
		log.Printf("[INFO] exported item %d %q as bookmark %s", o.ItemID, o.Title, o.BookmarkID)
	case export.StatusPlanned:
		log.Printf("[INFO] would export item %d %q -> %s", o.ItemID, o.Title, o.URL)
	case export.StatusSkipped:
		log.Printf("[WARN] skipped item %d: %s", o.ItemID, o.Reason)
	case export.StatusError:
		log.Printf("[ERROR] failed item %d %q: %s", o.ItemID, o.Title, o.Message)
	}
}

// ExportFileCommand dumps a table to CSV or JSON, to stdout or a file.
type ExportFileCommand struct {
	Table  string `short:"t" long:"table" default:"items" description:"table to dump"`
	Format string `long:"format" choice:"csv" choice:"json" default:"csv" description:"output format"`
	Output string `short:"o" long:"output" description:"output file, stdout when empty"`
}

// Execute runs the export-file command
func (c *ExportFileCommand) Execute(_ []string) error {
	ctx, cancel := mainCtx()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	out := os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output) //nolint:gosec // output path comes from CLI flag
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if c.Format == "json" {
		return export.WriteJSON(ctx, st, c.Table, out)
	}
	return export.WriteCSV(ctx, st, c.Table, out)
}

func loadConfig() (*config.Config, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	return config.Load(opts.Config)
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	dsn := cfg.Database.DSN
	if opts.DB != "" {
		dsn = store.DSN(opts.DB)
	}
	return store.Open(ctx, dsn)
}

// secrets lists credential values to mask in the logs.
func secrets() (res []string) {
	auth, err := config.LoadAuth(opts.Auth)
	if err != nil {
		return nil
	}
	for _, key := range []string{config.KeyPocketConsumerKey, config.KeyPocketAccessToken, config.KeyKarakeepToken} {
		if v := auth[key]; v != "" {
			res = append(res, v)
		}
	}
	return res
}

func mainCtx() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Print("[WARN] termination signal received")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = append(logOpts, lgr.Debug)
	}

	if !opts.NoColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
