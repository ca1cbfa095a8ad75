package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/notify"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// Store persists records keyed by fingerprint.
type Store interface {
	// FindByFingerprint returns nil, nil when no record matches.
	FindByFingerprint(ctx context.Context, fingerprint string) (*announcement.Record, error)
	// Insert stores rec and fills its ID and timestamps. It reports false,
	// nil when a record with the same fingerprint already exists.
	Insert(ctx context.Context, rec *announcement.Record) (bool, error)
	Update(ctx context.Context, rec *announcement.Record) error
	MarkNotified(ctx context.Context, id int64) error
	FindUnnotified(ctx context.Context) ([]*announcement.Record, error)
}

// Notifier announces new and updated records.
type Notifier interface {
	NotifyNew(ctx context.Context, rec *announcement.Record) error
	NotifyUpdate(ctx context.Context, rec *announcement.Record, changes []announcement.Change) error
}

// Result counts what Process did with a batch.
type Result struct {
	Inserted      int `json:"inserted"`
	Updated       int `json:"updated"`
	Unchanged     int `json:"unchanged"`
	SkippedNoCode int `json:"skipped_no_code"`
	Failed        int `json:"failed"`
	Notified      int `json:"notified"`
	NotifyFailed  int `json:"notify_failed"`
}

// Add accumulates o into r.
func (r *Result) Add(o Result) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.SkippedNoCode += o.SkippedNoCode
	r.Failed += o.Failed
	r.Notified += o.Notified
	r.NotifyFailed += o.NotifyFailed
}

// RenotifyResult counts a Renotify pass.
type RenotifyResult struct {
	Pending  int `json:"pending"`
	Notified int `json:"notified"`
	Failed   int `json:"failed"`
}

// Engine classifies incoming records against the store.
type Engine struct {
	store    Store
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

// NewEngine creates an engine. A nil notifier disables notifications.
func NewEngine(store Store, notifier Notifier, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{store: store, notifier: notifier, log: log.WithComponent("detect"), now: time.Now}
}

// Process classifies and persists records in order. Failures of one record
// are logged and counted, never returned.
func (e *Engine) Process(ctx context.Context, records []*announcement.Record) Result {
	var res Result
	log := e.log.WithContext(ctx)

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if rec == nil {
			continue
		}
		if !rec.HasCode() {
			log.Warn("skipping announcement without project code", "project_name", rec.ProjectName)
			res.SkippedNoCode++
			continue
		}
		if err := e.processOne(ctx, rec, &res); err != nil {
			log.Error("failed to process announcement", "project_code", rec.ProjectCode, "error", err)
			res.Failed++
		}
	}

	log.Info("change detection finished",
		"inserted", res.Inserted,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"skipped_no_code", res.SkippedNoCode,
		"failed", res.Failed,
	)
	return res
}

func (e *Engine) processOne(ctx context.Context, incoming *announcement.Record, res *Result) error {
	fp := incoming.ComputeFingerprint()

	existing, err := e.store.FindByFingerprint(ctx, fp)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", fp, err)
	}

	if existing == nil {
		rec := incoming.Clone()
		rec.Fingerprint = fp
		rec.Notified = false
		rec.ID = 0

		inserted, err := e.store.Insert(ctx, rec)
		if err != nil {
			return fmt.Errorf("failed to insert: %w", err)
		}
		if inserted {
			res.Inserted++
			e.log.WithContext(ctx).Info("new announcement",
				"category", rec.Category, "project_code", rec.ProjectCode, "project_name", rec.ProjectName)
			e.notifyNew(ctx, rec, res)
			return nil
		}

		// another writer stored the same fingerprint first
		if existing, err = e.store.FindByFingerprint(ctx, fp); err != nil {
			return fmt.Errorf("failed to look up %s after conflict: %w", fp, err)
		}
		if existing == nil {
			return fmt.Errorf("fingerprint %s conflicted but is not stored", fp)
		}
	}

	changes := Diff(existing, incoming)
	if len(changes) == 0 {
		res.Unchanged++
		return nil
	}

	merged := Merge(existing, incoming)
	merged.UpdatedAt = e.now()
	if err := e.store.Update(ctx, merged); err != nil {
		return fmt.Errorf("failed to update %d: %w", merged.ID, err)
	}
	res.Updated++
	e.log.WithContext(ctx).Info("announcement updated",
		"project_code", merged.ProjectCode, "changed", fieldKeys(changes))

	if e.notifier == nil {
		return nil
	}
	if err := e.notifier.NotifyUpdate(ctx, merged, changes); err != nil && !errors.Is(err, notify.ErrDisabled) {
		e.log.WithContext(ctx).Warn("update notification failed", "project_code", merged.ProjectCode, "error", err)
		res.NotifyFailed++
	}
	return nil
}

// notifyNew dispatches rec and marks it notified on success.
func (e *Engine) notifyNew(ctx context.Context, rec *announcement.Record, res *Result) {
	if e.notifier == nil {
		return
	}
	log := e.log.WithContext(ctx)

	if err := e.notifier.NotifyNew(ctx, rec); err != nil {
		if errors.Is(err, notify.ErrDisabled) {
			return
		}
		log.Warn("new announcement notification failed", "project_code", rec.ProjectCode, "error", err)
		res.NotifyFailed++
		return
	}

	if err := e.store.MarkNotified(ctx, rec.ID); err != nil {
		log.Error("failed to mark announcement notified", "id", rec.ID, "error", err)
		res.NotifyFailed++
		return
	}
	rec.Notified = true
	res.Notified++
}

// Renotify dispatches every stored record not yet notified as new.
func (e *Engine) Renotify(ctx context.Context) (RenotifyResult, error) {
	var out RenotifyResult

	pending, err := e.store.FindUnnotified(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to load unnotified announcements: %w", err)
	}
	out.Pending = len(pending)
	if e.notifier == nil {
		return out, notify.ErrDisabled
	}

	for _, rec := range pending {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		var res Result
		e.notifyNew(ctx, rec, &res)
		out.Notified += res.Notified
		out.Failed += res.NotifyFailed
		if res.Notified == 0 && res.NotifyFailed == 0 {
			return out, notify.ErrDisabled
		}
	}

	e.log.Info("renotify finished", "pending", out.Pending, "notified", out.Notified, "failed", out.Failed)
	return out, nil
}

func fieldKeys(changes []announcement.Change) []string {
	keys := make([]string, len(changes))
	for i, c := range changes {
		keys[i] = c.Field
	}
	return keys
}
