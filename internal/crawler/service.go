package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/detect"
	"github.com/alqutdigital/tender-watch/internal/dom"
	"github.com/alqutdigital/tender-watch/internal/parser"
	"github.com/alqutdigital/tender-watch/internal/realtime"
	"github.com/alqutdigital/tender-watch/internal/storage"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// Outcomes of a run that returned no error.
const (
	OutcomeCompleted        = "completed"
	OutcomeNavigationFailed = "navigation_failed"
)

// Processor persists crawled records. *detect.Engine implements it.
type Processor interface {
	Process(ctx context.Context, records []*announcement.Record) detect.Result
}

// RunRecorder keeps the status of runs. *storage.RunStatusStore implements it.
type RunRecorder interface {
	Save(ctx context.Context, run storage.Run) error
}

// SnapshotArchive keeps raw detail pages. *storage.SnapshotArchive
// implements it.
type SnapshotArchive interface {
	PutSnapshot(ctx context.Context, rec *announcement.Record, markup string) (string, error)
}

// Publisher puts events on the stream. *realtime.NATSClient implements it.
type Publisher interface {
	PublishEvent(ctx context.Context, event realtime.Event) error
}

// RunOptions tunes one RunCrawl call.
type RunOptions struct {
	// Limit caps the rows opened on the list page; 0 means all.
	Limit int
	// NoStore skips change detection; records are returned only.
	NoStore bool
	// Progress is called after each detail page.
	Progress func(Progress)
}

// RunResult describes a finished run.
type RunResult struct {
	detect.Result

	RunID       string                `json:"run_id"`
	Category    announcement.Category `json:"category"`
	Outcome     string                `json:"outcome"`
	FailedStage Stage                 `json:"failed_stage,omitempty"`
	Listed      int                   `json:"listed"`
	Detailed    int                   `json:"detailed"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`

	Records []*announcement.Record `json:"-"`
}

// Service runs crawls.
type Service struct {
	launcher  Launcher
	registry  *parser.Registry
	processor Processor
	config    Config
	log       *logger.Logger

	arena     *RowArena
	pacer     *Pacer
	runs      RunRecorder
	archive   SnapshotArchive
	publisher Publisher
	now       func() time.Time
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithRunRecorder records run status.
func WithRunRecorder(r RunRecorder) Option { return func(s *Service) { s.runs = r } }

// WithSnapshotArchive archives raw detail pages.
func WithSnapshotArchive(a SnapshotArchive) Option { return func(s *Service) { s.archive = a } }

// WithPublisher publishes a crawl.completed event after each run.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithPacer replaces the randomly seeded real-time pacer.
func WithPacer(p *Pacer) Option { return func(s *Service) { s.pacer = p } }

// NewService creates a crawl service.
func NewService(launcher Launcher, registry *parser.Registry, processor Processor, cfg Config, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Default()
	}
	if registry == nil {
		registry = parser.Default()
	}
	s := &Service{
		launcher:  launcher,
		registry:  registry,
		processor: processor,
		config:    cfg,
		log:       log.WithComponent("crawler"),
		arena:     NewRowArena(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pacer == nil {
		s.pacer = NewPacer(nil, nil)
	}
	return s
}

// Categories lists the categories RunCrawl accepts.
func (s *Service) Categories() []announcement.Category {
	return s.registry.Categories()
}

// RunCrawl crawls one category end to end. Navigation failures are reported
// through the result's Outcome with a nil error; a session failure, a panic or
// cancellation returns an error.
func (s *Service) RunCrawl(ctx context.Context, category announcement.Category, opts RunOptions) (res RunResult, err error) {
	strategy, ok := s.registry.Lookup(category)
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrUnsupportedCategory, category)
	}

	res = RunResult{RunID: uuid.NewString(), Category: category, StartedAt: s.now()}
	ctx = logger.ContextWithRun(ctx, res.RunID, string(category))
	log := s.log.WithContext(ctx)
	log.Info("crawl started", "limit", opts.Limit, "no_store", opts.NoStore)
	s.record(ctx, res, nil, true)

	defer func() {
		if r := recover(); r != nil {
			log.LogPanic(r)
			err = fmt.Errorf("crawl panicked: %v", r)
		}
		res.FinishedAt = s.now()
		s.record(ctx, res, err, false)
		s.announce(ctx, res, err)
		log.Info("crawl finished",
			"outcome", res.Outcome,
			"listed", res.Listed,
			"detailed", res.Detailed,
			"inserted", res.Inserted,
			"updated", res.Updated,
			"duration", res.FinishedAt.Sub(res.StartedAt),
			"error", err,
		)
	}()

	session, err := s.launcher.Acquire(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to acquire browser session: %w", err)
	}
	defer func() {
		s.arena.Clear(session.ID())
		session.Release()
	}()

	nav := newNavigator(session, strategy, s.config, s.pacer, log)
	if err := nav.run(ctx); err != nil {
		var navErr *NavigationError
		if errors.As(err, &navErr) {
			res.Outcome = OutcomeNavigationFailed
			res.FailedStage = navErr.Stage
			return res, nil
		}
		return res, err
	}

	records := s.parseList(ctx, session, strategy, opts.Limit)
	res.Listed = len(records)
	log.Info("list parsed", "rows", len(records))

	fetcher := newDetailFetcher(session, strategy, s.arena, s.config, s.pacer, log)
	detailed, err := fetcher.fetchAll(ctx, records, func(p Progress) {
		if p.Err == nil {
			res.Detailed++
		}
		if opts.Progress != nil {
			opts.Progress(p)
		}
	})
	if err != nil {
		return res, err
	}
	res.Records = detailed

	s.archiveSnapshots(ctx, detailed)

	if !opts.NoStore && s.processor != nil {
		res.Result = s.processor.Process(ctx, detailed)
	}
	res.Outcome = OutcomeCompleted
	return res, ctx.Err()
}

// parseList reads the rows of the current list page into partial records,
// caching each row handle under its list position. Row links are resolved
// against the list address so they compare equal to the detail page URL.
func (s *Service) parseList(ctx context.Context, session Session, strategy parser.Strategy, limit int) []*announcement.Record {
	base := dom.BaseURL(ctx, session)
	rows, _ := dom.Resolve(ctx, session, strategy.ListRowQueries())
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	sid := session.ID()
	s.arena.Clear(sid)

	records := make([]*announcement.Record, 0, len(rows))
	for i, row := range rows {
		s.arena.Put(sid, i, row)
		rec := strategy.ParseListRow(ctx, row)
		if rec == nil {
			continue
		}
		rec.Row = &announcement.RowRef{SessionID: sid, Index: i}
		if rec.DetailURL == nil {
			rec.DetailURL = announcement.Str(strategy.DetailURLHint(ctx, row))
		}
		if rec.DetailURL != nil {
			rec.DetailURL = announcement.Str(dom.ResolveURL(base, *rec.DetailURL))
		}
		records = append(records, rec)
	}
	return records
}

func (s *Service) archiveSnapshots(ctx context.Context, records []*announcement.Record) {
	if s.archive == nil {
		return
	}
	for _, rec := range records {
		if rec.RawHTML == "" {
			continue
		}
		key, err := s.archive.PutSnapshot(ctx, rec, rec.RawHTML)
		if err != nil {
			s.log.WithContext(ctx).Warn("failed to archive detail page", "project_code", rec.ProjectCode, "error", err)
			continue
		}
		s.log.WithContext(ctx).Debug("detail page archived", "key", key)
	}
}

func (s *Service) record(ctx context.Context, res RunResult, runErr error, running bool) {
	if s.runs == nil {
		return
	}
	run := storage.Run{
		ID:          res.RunID,
		Category:    string(res.Category),
		FailedStage: string(res.FailedStage),
		Listed:      res.Listed,
		Detailed:    res.Detailed,
		Inserted:    res.Inserted,
		Updated:     res.Updated,
		Unchanged:   res.Unchanged,
		Skipped:     res.SkippedNoCode,
		Failed:      res.Failed,
		Notified:    res.Notified,
		StartedAt:   res.StartedAt,
	}
	switch {
	case running:
		run.State = storage.RunRunning
	case runErr != nil:
		run.State = storage.RunFailed
		run.Error = runErr.Error()
	case res.Outcome == OutcomeNavigationFailed:
		run.State = storage.RunNavigationFailed
	default:
		run.State = storage.RunCompleted
	}
	if !running {
		finished := res.FinishedAt
		run.FinishedAt = &finished
	}

	// the caller's context may already be cancelled
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.Save(saveCtx, run); err != nil {
		s.log.WithContext(ctx).Warn("failed to record run status", "state", run.State, "error", err)
	}
}

func (s *Service) announce(ctx context.Context, res RunResult, runErr error) {
	if s.publisher == nil {
		return
	}
	outcome := res.Outcome
	if runErr != nil {
		outcome = storage.RunFailed
	}
	event := realtime.NewCrawlCompletedEvent(res.Category, realtime.RunSummary{
		RunID:         res.RunID,
		Outcome:       outcome,
		FailedStage:   string(res.FailedStage),
		Listed:        res.Listed,
		Inserted:      res.Inserted,
		Updated:       res.Updated,
		Unchanged:     res.Unchanged,
		SkippedNoCode: res.SkippedNoCode,
		Failed:        res.Failed,
	})

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishEvent(pubCtx, event); err != nil {
		s.log.WithContext(ctx).Warn("failed to publish crawl event", "error", err)
	}
}
