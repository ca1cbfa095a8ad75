package crawler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/dom"
	"github.com/alqutdigital/tender-watch/internal/parser"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// Progress reports one processed row of the detail loop.
type Progress struct {
	Index  int
	Total  int
	Record *announcement.Record
	// Err is set when the row fell back to its list data.
	Err error
}

// maxBackSteps bounds the history walk back to the list. A detail page plus a
// download that navigated the tab takes two.
const maxBackSteps = 3

var clickableQueries = [][]dom.Query{
	{dom.ByCSS("a")},
	{dom.ByCSS("td:first-child"), dom.ByCSS(".cell")},
}

// detailFetcher opens each row's detail page and completes its record.
type detailFetcher struct {
	session  Session
	strategy parser.Strategy
	arena    *RowArena
	config   Config
	pacer    *Pacer
	log      *logger.Logger

	home     string
	baseline []string
	listURL  string
}

func newDetailFetcher(s Session, strategy parser.Strategy, arena *RowArena, cfg Config, pacer *Pacer, log *logger.Logger) *detailFetcher {
	return &detailFetcher{session: s, strategy: strategy, arena: arena, config: cfg, pacer: pacer, log: log}
}

// fetchAll completes records in order. A record whose detail could not be
// read is returned as its list data; the loop always continues. Every record
// ends with the original context back on the list and only the contexts that
// were open at the start still open.
func (d *detailFetcher) fetchAll(ctx context.Context, records []*announcement.Record, progress func(Progress)) ([]*announcement.Record, error) {
	d.home = d.session.Current()
	baseline, err := d.session.OpenContexts(ctx)
	if err != nil {
		return records, fmt.Errorf("failed to list contexts: %w", err)
	}
	d.baseline = baseline
	if d.listURL, err = d.session.CurrentURL(ctx); err != nil {
		return records, fmt.Errorf("failed to read list url: %w", err)
	}

	out := make([]*announcement.Record, 0, len(records))
	for i, partial := range records {
		if err := ctx.Err(); err != nil {
			return append(out, records[i:]...), err
		}

		rec, err := d.fetch(ctx, partial)
		if err != nil {
			d.log.Warn("detail fetch failed, keeping list data",
				"row", rowIndex(partial), "project_name", partial.ProjectName, "error", err)
			rec = partial
		}
		if serr := d.restore(ctx); serr != nil {
			d.log.Warn("failed to restore list page", "row", rowIndex(partial), "error", serr)
		}
		out = append(out, rec)

		if progress != nil {
			progress(Progress{Index: i, Total: len(records), Record: rec, Err: err})
		}
		if err := d.pacer.Pause(ctx, d.config.RecordGap); err != nil {
			return append(out, records[i+1:]...), err
		}
	}
	return out, nil
}

func (d *detailFetcher) fetch(ctx context.Context, partial *announcement.Record) (*announcement.Record, error) {
	if partial.Row == nil {
		return nil, errors.New("record has no row reference")
	}
	index := partial.Row.Index

	row, err := d.row(ctx, index, false)
	if err != nil {
		return nil, err
	}

	before, err := d.session.OpenContexts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}

	err = d.clickRow(ctx, row)
	if errors.Is(err, dom.ErrStaleElement) {
		d.log.Debug("row handle stale, re-resolving", "row", index)
		if row, err = d.row(ctx, index, true); err != nil {
			return nil, err
		}
		err = d.clickRow(ctx, row)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to click row %d: %w", index, err)
	}
	if err := d.pacer.Pause(ctx, d.config.ClickSettle); err != nil {
		return nil, err
	}

	after, err := d.session.OpenContexts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}

	if opened := newContext(before, after); opened != "" {
		return d.readNewContext(ctx, opened, partial)
	}
	return d.readInPlace(ctx, partial)
}

// row returns the handle of row index, re-resolving the list when the arena
// lost it or fresh is set. Rows are only ever resolved on the list page.
func (d *detailFetcher) row(ctx context.Context, index int, fresh bool) (dom.Element, error) {
	sid := d.session.ID()
	if !fresh {
		if el, ok := d.arena.Get(sid, index); ok {
			return el, nil
		}
	}

	if err := d.returnToList(ctx); err != nil {
		return nil, err
	}
	rows, _ := dom.Resolve(ctx, d.session, d.strategy.ListRowQueries())
	if index >= len(rows) {
		return nil, fmt.Errorf("row %d not found among %d rows", index, len(rows))
	}
	for i, el := range rows {
		d.arena.Put(sid, i, el)
	}
	return rows[index], nil
}

func (d *detailFetcher) clickRow(ctx context.Context, row dom.Element) error {
	target := row
	for _, qs := range clickableQueries {
		if els := dom.ResolveIn(ctx, row, qs); len(els) > 0 {
			target = els[0]
			break
		}
	}
	return clickElement(ctx, d.session, d.pacer, d.config, target)
}

func (d *detailFetcher) readNewContext(ctx context.Context, id string, partial *announcement.Record) (*announcement.Record, error) {
	if err := d.session.SwitchTo(ctx, id); err != nil {
		return nil, err
	}
	rec, parseErr := d.parse(ctx, partial)

	if err := d.session.Close(ctx, id); err != nil {
		return nil, err
	}
	if err := d.session.SwitchTo(ctx, d.home); err != nil {
		return nil, err
	}
	return rec, parseErr
}

func (d *detailFetcher) readInPlace(ctx context.Context, partial *announcement.Record) (*announcement.Record, error) {
	url, err := d.session.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	if url == d.listURL {
		d.log.Debug("click did not leave the list, keeping list data", "row", partial.Row.Index)
		return partial, nil
	}

	rec, parseErr := d.parse(ctx, partial)
	if err := d.returnToList(ctx); err != nil {
		return nil, err
	}
	return rec, parseErr
}

// returnToList steps back through the original context's history until it
// shows the list again. Parsing can navigate further, for instance when a
// download control replaces the page.
func (d *detailFetcher) returnToList(ctx context.Context) error {
	for step := 0; ; step++ {
		url, err := d.session.CurrentURL(ctx)
		if err != nil {
			return fmt.Errorf("failed to read url: %w", err)
		}
		if url == d.listURL {
			return nil
		}
		if step == maxBackSteps {
			return fmt.Errorf("still on %s after %d steps back, list not reached", url, step)
		}

		err = d.session.GoBack(ctx)
		d.arena.Clear(d.session.ID())
		if err != nil {
			return fmt.Errorf("failed to return to list: %w", err)
		}
		if err := d.pacer.Pause(ctx, d.config.BackSettle); err != nil {
			return err
		}
	}
}

// parse reads the current context as the detail view of partial.
func (d *detailFetcher) parse(ctx context.Context, partial *announcement.Record) (*announcement.Record, error) {
	url, err := d.session.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	seed := partial.Clone()
	seed.DetailURL = announcement.Str(url)

	var view dom.View = d.session
	var markup string
	if d.config.DetailSnapshot || d.config.ArchiveSnapshots {
		if markup, err = d.session.HTML(ctx); err != nil {
			return nil, err
		}
	}
	if d.config.DetailSnapshot {
		snap, err := dom.ParseSnapshot(markup)
		if err != nil {
			return nil, err
		}
		view = snap.WithURL(url)
	}

	rec := d.strategy.ParseDetail(ctx, view, seed)
	if rec.DetailURL == nil {
		rec.DetailURL = seed.DetailURL
	}
	if d.config.ArchiveSnapshots {
		rec.RawHTML = markup
	}
	rec.Row = partial.Row
	return rec, nil
}

// restore closes every context opened since the loop started, including any
// a download click opened while parsing, and returns to the list page of the
// original context.
func (d *detailFetcher) restore(ctx context.Context) error {
	open, err := d.session.OpenContexts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list contexts: %w", err)
	}
	for _, id := range open {
		if id == d.home || slices.Contains(d.baseline, id) {
			continue
		}
		d.log.Debug("closing stray context", "context", id)
		if err := d.session.Close(ctx, id); err != nil {
			d.log.Warn("failed to close context", "context", id, "error", err)
		}
	}
	if d.session.Current() != d.home {
		if err := d.session.SwitchTo(ctx, d.home); err != nil {
			return fmt.Errorf("failed to switch back: %w", err)
		}
	}
	return d.returnToList(ctx)
}

// rowIndex is the list position of rec, or -1 without a row reference.
func rowIndex(rec *announcement.Record) int {
	if rec.Row == nil {
		return -1
	}
	return rec.Row.Index
}

// newContext returns the first id of after missing from before.
func newContext(before, after []string) string {
	for _, id := range after {
		if !slices.Contains(before, id) {
			return id
		}
	}
	return ""
}
