// Package scheduler runs category crawls on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/crawler"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// DefaultSpecs crawls bidding announcements every three hours on the hour.
var DefaultSpecs = map[announcement.Category]string{
	announcement.BiddingAnnouncement: "0 0 */3 * * *",
}

// Crawler runs one crawl. *crawler.Service implements it.
type Crawler interface {
	RunCrawl(ctx context.Context, category announcement.Category, opts crawler.RunOptions) (crawler.RunResult, error)
}

// Entry is a scheduled category.
type Entry struct {
	Category announcement.Category `json:"category"`
	Spec     string                `json:"spec"`
	Next     time.Time             `json:"next"`
	Prev     time.Time             `json:"prev,omitempty"`
}

// Scheduler triggers crawls. Runs of the same category never overlap; a tick
// arriving while the previous run is busy is skipped.
type Scheduler struct {
	cron    *cron.Cron
	crawler Crawler
	log     *logger.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	entries map[announcement.Category]cron.EntryID
	specs   map[announcement.Category]string
}

// New registers a job per spec. Specs use six fields, seconds first.
// timeout bounds each run; zero leaves runs unbounded.
func New(c Crawler, specs map[announcement.Category]string, loc *time.Location, timeout time.Duration, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Default()
	}
	if loc == nil {
		loc = announcement.Location
	}
	log = log.WithComponent("scheduler")
	clog := cronLogger{log: log}

	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog)),
		),
		crawler: c,
		log:     log,
		timeout: timeout,
		entries: make(map[announcement.Category]cron.EntryID),
		specs:   make(map[announcement.Category]string),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for category, spec := range specs {
		if !category.Valid() {
			return nil, fmt.Errorf("unknown category %q", category)
		}
		job := cron.NewChain(cron.SkipIfStillRunning(clog)).Then(cron.FuncJob(s.job(category)))
		id, err := s.cron.AddJob(spec, job)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", spec, category, err)
		}
		s.entries[category] = id
		s.specs[category] = spec
	}
	return s, nil
}

func (s *Scheduler) job(category announcement.Category) func() {
	return func() {
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		s.log.Info("scheduled crawl starting", "category", category)
		res, err := s.crawler.RunCrawl(ctx, category, crawler.RunOptions{})
		if err != nil {
			s.log.Error("scheduled crawl failed", "category", category, "error", err)
			return
		}
		s.log.Info("scheduled crawl done",
			"category", category,
			"outcome", res.Outcome,
			"inserted", res.Inserted,
			"updated", res.Updated,
		)
	}
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.Entries() {
		s.log.Info("crawl scheduled", "category", e.Category, "spec", e.Spec, "next", e.Next)
	}
}

// Stop cancels running crawls and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Entries lists the scheduled categories in tab order.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for category, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, Entry{Category: category, Spec: s.specs[category], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category.TabIndex() < out[j].Category.TabIndex() })
	return out
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
