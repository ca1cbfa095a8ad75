package detect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/notify"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// memStore is an in-memory Store keyed by fingerprint.
type memStore struct {
	byFP      map[string]*announcement.Record
	nextID    int64
	updates   int
	conflicts map[string]*announcement.Record // inserted just before Insert runs
	failFind  error
}

func newMemStore() *memStore {
	return &memStore{byFP: make(map[string]*announcement.Record)}
}

func (m *memStore) FindByFingerprint(ctx context.Context, fp string) (*announcement.Record, error) {
	if m.failFind != nil {
		return nil, m.failFind
	}
	rec, ok := m.byFP[fp]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *memStore) Insert(ctx context.Context, rec *announcement.Record) (bool, error) {
	if c, ok := m.conflicts[rec.Fingerprint]; ok {
		delete(m.conflicts, rec.Fingerprint)
		m.put(c)
		return false, nil
	}
	if _, ok := m.byFP[rec.Fingerprint]; ok {
		return false, nil
	}
	m.put(rec)
	return true, nil
}

func (m *memStore) put(rec *announcement.Record) {
	m.nextID++
	rec.ID = m.nextID
	rec.CreatedAt = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec.UpdatedAt = rec.CreatedAt
	m.byFP[rec.Fingerprint] = rec.Clone()
}

func (m *memStore) Update(ctx context.Context, rec *announcement.Record) error {
	m.updates++
	m.byFP[rec.Fingerprint] = rec.Clone()
	return nil
}

func (m *memStore) MarkNotified(ctx context.Context, id int64) error {
	for _, rec := range m.byFP {
		if rec.ID == id {
			rec.Notified = true
			return nil
		}
	}
	return fmt.Errorf("no record %d", id)
}

func (m *memStore) FindUnnotified(ctx context.Context) ([]*announcement.Record, error) {
	var out []*announcement.Record
	for _, rec := range m.byFP {
		if !rec.Notified {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

type fakeNotifier struct {
	newErr    error
	updateErr error
	news      []*announcement.Record
	updates   [][]announcement.Change
}

func (f *fakeNotifier) NotifyNew(ctx context.Context, rec *announcement.Record) error {
	if f.newErr != nil {
		return f.newErr
	}
	f.news = append(f.news, rec)
	return nil
}

func (f *fakeNotifier) NotifyUpdate(ctx context.Context, rec *announcement.Record, changes []announcement.Change) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, changes)
	return nil
}

func record(code, name, status string) *announcement.Record {
	return &announcement.Record{
		Category:    announcement.BiddingAnnouncement,
		ProjectCode: code,
		ProjectName: name,
		Details:     announcement.Details{Status: announcement.Str(status)},
	}
}

func newTestEngine(store Store, n Notifier) *Engine {
	return NewEngine(store, n, logger.Nop())
}

func TestProcessInsertsAndNotifiesNewRecord(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{}
	e := newTestEngine(store, n)

	res := e.Process(context.Background(), []*announcement.Record{record("P001", "Substation", "Open")})

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Notified)
	require.Len(t, n.news, 1)

	stored, err := store.FindByFingerprint(context.Background(), announcement.Fingerprint("P001", announcement.BiddingAnnouncement, "Substation"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Notified)
}

func TestProcessIsIdempotent(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{}
	e := newTestEngine(store, n)
	batch := []*announcement.Record{record("P001", "Substation", "Open"), record("P002", "Line", "Open")}

	first := e.Process(context.Background(), batch)
	second := e.Process(context.Background(), batch)

	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, Result{Unchanged: 2}, second)
	assert.Len(t, n.news, 2)
	assert.Zero(t, store.updates)
}

func TestProcessStatusUpdate(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{}
	e := newTestEngine(store, n)
	ctx := context.Background()

	e.Process(ctx, []*announcement.Record{record("P001", "Substation", "Open")})
	res := e.Process(ctx, []*announcement.Record{record("P001", "Substation", "Closed")})

	assert.Equal(t, 1, res.Updated)
	require.Len(t, n.updates, 1)
	assert.Equal(t, []announcement.Change{{Field: "status", Label: "项目状态", Old: "Open", New: "Closed"}}, n.updates[0])

	stored, _ := store.FindByFingerprint(ctx, announcement.Fingerprint("P001", announcement.BiddingAnnouncement, "Substation"))
	assert.Equal(t, "Closed", announcement.Value(stored.Status))
}

func TestProcessSkipsRecordsWithoutCode(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, nil)

	res := e.Process(context.Background(), []*announcement.Record{record("  ", "Nameless", "Open"), nil})

	assert.Equal(t, Result{SkippedNoCode: 1}, res)
	assert.Empty(t, store.byFP)
}

func TestProcessDisabledNotifierLeavesRecordPending(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, &fakeNotifier{newErr: notify.ErrDisabled})

	res := e.Process(context.Background(), []*announcement.Record{record("P001", "Substation", "Open")})

	assert.Equal(t, Result{Inserted: 1}, res)
	pending, _ := store.FindUnnotified(context.Background())
	assert.Len(t, pending, 1)
}

func TestProcessNotifyFailureKeepsInsert(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, &fakeNotifier{newErr: errors.New("webhook down")})

	res := e.Process(context.Background(), []*announcement.Record{record("P001", "Substation", "Open")})

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.NotifyFailed)
	assert.Zero(t, res.Notified)
	pending, _ := store.FindUnnotified(context.Background())
	assert.Len(t, pending, 1)
}

func TestProcessInsertConflictFallsBackToUpdate(t *testing.T) {
	store := newMemStore()
	rival := record("P001", "Substation", "Open")
	rival.Fingerprint = rival.ComputeFingerprint()
	store.conflicts = map[string]*announcement.Record{rival.Fingerprint: rival}
	n := &fakeNotifier{}
	e := newTestEngine(store, n)

	res := e.Process(context.Background(), []*announcement.Record{record("P001", "Substation", "Closed")})

	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, n.news)
	assert.Len(t, n.updates, 1)
}

func TestProcessCountsLookupFailures(t *testing.T) {
	store := newMemStore()
	store.failFind = errors.New("connection reset")
	e := newTestEngine(store, nil)

	res := e.Process(context.Background(), []*announcement.Record{record("P001", "a", "Open"), record("P002", "b", "Open")})

	assert.Equal(t, Result{Failed: 2}, res)
}

func TestDiffIgnoresAbsentIncomingValues(t *testing.T) {
	existing := record("P001", "Substation", "Open")
	existing.Tenderer = announcement.Str("State Grid")
	incoming := record("P001", "Substation", "")

	assert.Empty(t, Diff(existing, incoming))
}

func TestDiffTimesAtSecondPrecision(t *testing.T) {
	at := time.Date(2024, 3, 5, 9, 30, 0, 0, announcement.Location)
	later := at.Add(500 * time.Millisecond)
	moved := at.Add(time.Hour)

	existing := record("P001", "Substation", "Open")
	existing.BidOpenTime = &at

	same := record("P001", "Substation", "Open")
	same.BidOpenTime = &later
	assert.Empty(t, Diff(existing, same))

	changed := record("P001", "Substation", "Open")
	changed.BidOpenTime = &moved
	changes := Diff(existing, changed)
	require.Len(t, changes, 1)
	assert.Equal(t, "bid_open_time", changes[0].Field)
	assert.Equal(t, "2024-03-05 09:30:00", changes[0].Old)
	assert.Equal(t, "2024-03-05 10:30:00", changes[0].New)
}

func TestDiffNewValueForEmptyField(t *testing.T) {
	existing := record("P001", "Substation", "Open")
	incoming := record("P001", "Substation", "Open")
	incoming.ContactPerson = announcement.Str("Li Wei")

	changes := Diff(existing, incoming)
	require.Len(t, changes, 1)
	assert.Equal(t, announcement.Change{Field: "contact_person", Label: "联系人", Old: "", New: "Li Wei"}, changes[0])
}

func TestMergeNeverErasesStoredValues(t *testing.T) {
	deadline := time.Date(2024, 3, 10, 17, 0, 0, 0, announcement.Location)
	existing := record("P001", "Substation", "Open")
	existing.ID = 7
	existing.Notified = true
	existing.Email = announcement.Str("bid@example.com")
	existing.FileDeadline = &deadline

	incoming := record("P001", "", "Closed")
	incoming.Tenderer = announcement.Str("State Grid")

	merged := Merge(existing, incoming)

	assert.Equal(t, int64(7), merged.ID)
	assert.True(t, merged.Notified)
	assert.Equal(t, "Substation", merged.ProjectName)
	assert.Equal(t, "Closed", announcement.Value(merged.Status))
	assert.Equal(t, "State Grid", announcement.Value(merged.Tenderer))
	assert.Equal(t, "bid@example.com", announcement.Value(merged.Email))
	require.NotNil(t, merged.FileDeadline)
	assert.True(t, deadline.Equal(*merged.FileDeadline))
	assert.Equal(t, "Open", announcement.Value(existing.Status), "existing must not be mutated")
}

func TestRenotify(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	newTestEngine(store, &fakeNotifier{newErr: errors.New("down")}).
		Process(ctx, []*announcement.Record{record("P001", "a", "Open"), record("P002", "b", "Open")})

	n := &fakeNotifier{}
	res, err := newTestEngine(store, n).Renotify(ctx)

	require.NoError(t, err)
	assert.Equal(t, RenotifyResult{Pending: 2, Notified: 2}, res)
	pending, _ := store.FindUnnotified(ctx)
	assert.Empty(t, pending)
}

func TestRenotifyDisabled(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	newTestEngine(store, nil).Process(ctx, []*announcement.Record{record("P001", "a", "Open")})

	res, err := newTestEngine(store, &fakeNotifier{newErr: notify.ErrDisabled}).Renotify(ctx)

	assert.ErrorIs(t, err, notify.ErrDisabled)
	assert.Equal(t, 1, res.Pending)
	assert.Zero(t, res.Notified)
}

func TestComparedFields(t *testing.T) {
	assert.Equal(t, []string{
		"status", "bid_open_time", "file_deadline", "detail_url",
		"tenderer", "contact_person", "procurement_type", "bid_open_location",
	}, ComparedFields())
}
