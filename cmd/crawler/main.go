// Package main is the entry point for the tender crawler CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/browser"
	"github.com/alqutdigital/tender-watch/internal/config"
	"github.com/alqutdigital/tender-watch/internal/crawler"
	"github.com/alqutdigital/tender-watch/internal/detect"
	"github.com/alqutdigital/tender-watch/internal/notify"
	"github.com/alqutdigital/tender-watch/internal/storage"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// CrawlOptions holds options for the crawl command.
type CrawlOptions struct {
	Category string
	Limit    int
	NoStore  bool
	JSON     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:     "crawler",
		Short:   "Tender announcement crawler",
		Long:    "CLI tool for crawling ecp.sgcc.com.cn procurement announcements, detecting changes and notifying DingTalk.",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.AddCommand(newCrawlCmd())
	rootCmd.AddCommand(newRenotifyCmd())
	rootCmd.AddCommand(newCategoriesCmd())
	rootCmd.AddCommand(newNotifyTestCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newStatusCmd())

	return rootCmd.ExecuteContext(ctx)
}

// newCrawlCmd creates the crawl subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &CrawlOptions{}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one announcement category",
		Long:  "Open the announcement list of a category, read every detail page and store new or changed records.",
		Example: `  # Crawl bidding announcements
  crawler crawl --category=zbgg

  # Crawl the first five procurement rows
  crawler crawl -c PROCUREMENT -l 5

  # Print parsed records without touching the database
  crawler crawl -c zbjggg --no-store --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Category, "category", "c", announcement.BiddingAnnouncement.Key(), "Category code or key (zgysgg, zbgg, cggg, tjzbhxrgs, zbjggg)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 0, "Maximum number of list rows to open (0 for all)")
	cmd.Flags().BoolVar(&opts.NoStore, "no-store", false, "Skip change detection and notification")
	cmd.Flags().BoolVarP(&opts.JSON, "json", "j", false, "Print crawled records as JSON")

	return cmd
}

// newRenotifyCmd creates the renotify subcommand.
func newRenotifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renotify",
		Short: "Send notifications for stored records not yet notified",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRenotify(cmd.Context())
		},
	}
}

// newCategoriesCmd creates the categories subcommand.
func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List supported announcement categories",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%-4s %-26s %-10s %s\n", "TAB", "CODE", "KEY", "LABEL")
			for _, c := range announcement.All() {
				fmt.Printf("%-4d %-26s %-10s %s\n", c.TabIndex(), c, c.Key(), c.Label())
			}
		},
	}
}

// newNotifyTestCmd creates the notify-test subcommand.
func newNotifyTestCmd() *cobra.Command {
	var title, body string

	cmd := &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test message to the DingTalk robot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotifyTest(cmd.Context(), title, body)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "招标监控测试", "Message title")
	cmd.Flags().StringVarP(&body, "body", "b", "", "Markdown body (defaults to a timestamped line)")

	return cmd
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the announcements schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent crawl runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), limit, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	return cmd
}

// setup loads configuration and installs the default logger.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(cfg.Log)
	log.SetDefault()
	return cfg, log, nil
}

// pipeline holds the collaborators shared by the commands that touch the
// database or the robot.
type pipeline struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *storage.PostgresDB
	repo       *storage.AnnouncementRepository
	engine     *detect.Engine
	dispatcher *notify.Dispatcher
	runs       *storage.RunStatusStore
	archive    *storage.SnapshotArchive
	closers    []func() error
}

// newPipeline connects to PostgreSQL, plus Redis and object storage when
// enabled. Optional backends that fail to connect are logged and skipped.
func newPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pipeline, error) {
	p := &pipeline{cfg: cfg, log: log}

	db, err := storage.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	p.db = db
	p.closers = append(p.closers, db.Close)

	p.repo = storage.NewAnnouncementRepository(db.DB)
	if err := p.repo.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}

	var sender notify.Sender
	if cfg.Notify.Enabled {
		sender = notify.NewDingTalk(cfg.Notify, log)
	}
	p.dispatcher = notify.NewDispatcher(sender, nil, log)
	p.engine = detect.NewEngine(p.repo, p.dispatcher, log)

	if cfg.Redis.Enabled {
		client, err := storage.NewRedisClient(ctx, cfg.Redis.RedisConfig)
		if err != nil {
			log.Warn("redis unavailable, run status will not be recorded", "error", err)
		} else {
			p.runs = storage.NewRunStatusStore(client, cfg.Redis.RunTTL)
			p.closers = append(p.closers, client.Close)
		}
	}

	if cfg.Storage.Enabled {
		archive, err := storage.NewSnapshotArchive(cfg.Storage.MinIOConfig)
		if err == nil {
			err = archive.InitBucket(ctx)
		}
		if err != nil {
			log.Warn("object storage unavailable, snapshots will not be archived", "error", err)
		} else {
			p.archive = archive
		}
	}

	return p, nil
}

// Close releases connections in reverse order of opening.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.log.Warn("failed to close connection", "error", err)
		}
	}
}

// runCrawl executes the crawl command.
func runCrawl(ctx context.Context, opts *CrawlOptions) error {
	category, err := announcement.ParseCategory(opts.Category)
	if err != nil {
		return err
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}

	log.Info("starting crawl",
		"category", category,
		"limit", opts.Limit,
		"no_store", opts.NoStore,
	)

	var (
		processor   crawler.Processor
		serviceOpts []crawler.Option
	)
	if !opts.NoStore {
		p, err := newPipeline(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer p.Close()

		processor = p.engine
		if p.runs != nil {
			serviceOpts = append(serviceOpts, crawler.WithRunRecorder(p.runs))
		}
		if p.archive != nil {
			serviceOpts = append(serviceOpts, crawler.WithSnapshotArchive(p.archive))
		}
	}

	launcher := crawler.BrowserLauncher(browser.NewLauncher(cfg.Browser, nil, log))
	service := crawler.NewService(launcher, nil, processor, cfg.Crawler, log, serviceOpts...)

	var bar *progressbar.ProgressBar
	res, err := service.RunCrawl(ctx, category, crawler.RunOptions{
		Limit:   opts.Limit,
		NoStore: opts.NoStore,
		Progress: func(pr crawler.Progress) {
			if bar == nil {
				bar = progressbar.NewOptions(pr.Total,
					progressbar.OptionSetDescription("Reading "+category.Label()),
					progressbar.OptionShowCount(),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "=",
						SaucerHead:    ">",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
			}
			_ = bar.Add(1)
		},
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	if opts.JSON {
		data, _ := json.MarshalIndent(res.Records, "", "  ")
		fmt.Println(string(data))
	}
	printStats(res)

	if res.Outcome != crawler.OutcomeCompleted {
		return fmt.Errorf("crawl ended with %s at stage %s", res.Outcome, res.FailedStage)
	}
	return nil
}

// runRenotify executes the renotify command.
func runRenotify(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.engine.Renotify(ctx)
	fmt.Printf("Pending: %d  Notified: %d  Failed: %d\n", res.Pending, res.Notified, res.Failed)
	if errors.Is(err, notify.ErrDisabled) {
		return errors.New("DingTalk notifications are disabled; set DINGTALK_ENABLED and DINGTALK_WEBHOOK")
	}
	return err
}

// runNotifyTest executes the notify-test command.
func runNotifyTest(ctx context.Context, title, body string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	if body == "" {
		body = fmt.Sprintf("#### %s\n\n发送时间: %s", title, time.Now().In(announcement.Location).Format(time.DateTime))
	}

	if err := notify.NewDingTalk(cfg.Notify, log).Send(ctx, title, body); err != nil {
		if errors.Is(err, notify.ErrDisabled) {
			return errors.New("DingTalk notifications are disabled; set DINGTALK_ENABLED and DINGTALK_WEBHOOK")
		}
		return fmt.Errorf("failed to send test message: %w", err)
	}
	fmt.Println("Test message sent.")
	return nil
}

// runMigrate executes the migrate command.
func runMigrate(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	db, err := storage.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := storage.NewAnnouncementRepository(db.DB).Migrate(ctx); err != nil {
		return err
	}
	log.Info("schema is up to date", "database", cfg.Database.Database)
	return nil
}

// runStatus executes the status command.
func runStatus(ctx context.Context, limit int, jsonOutput bool) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled {
		return errors.New("run status needs Redis; set REDIS_ENABLED=true")
	}

	client, err := storage.NewRedisClient(ctx, cfg.Redis.RedisConfig)
	if err != nil {
		return err
	}
	defer client.Close()

	runs, err := storage.NewRunStatusStore(client, cfg.Redis.RunTTL).Recent(ctx, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("=== Recent Crawl Runs ===")
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %-26s %-18s listed=%d inserted=%d updated=%d failed=%d\n",
			r.StartedAt.In(announcement.Location).Format(time.DateTime),
			r.Category, r.State, r.Listed, r.Inserted, r.Updated, r.Failed)
	}
	return nil
}

// printStats prints the summary of a run.
func printStats(res crawler.RunResult) {
	fmt.Println()
	fmt.Println("=== Crawl Statistics ===")
	fmt.Printf("Category:        %s (%s)\n", res.Category.Label(), res.Category.Key())
	fmt.Printf("Outcome:         %s\n", res.Outcome)
	fmt.Printf("Duration:        %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Second))
	fmt.Printf("Rows Listed:     %d\n", res.Listed)
	fmt.Printf("Details Read:    %d\n", res.Detailed)
	fmt.Printf("Inserted:        %d\n", res.Inserted)
	fmt.Printf("Updated:         %d\n", res.Updated)
	fmt.Printf("Unchanged:       %d\n", res.Unchanged)
	fmt.Printf("Skipped No Code: %d\n", res.SkippedNoCode)
	fmt.Printf("Failed:          %d\n", res.Failed)
	fmt.Printf("Notified:        %d\n", res.Notified)
	fmt.Println("========================")
}
