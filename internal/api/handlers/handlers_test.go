package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/crawler"
	"github.com/alqutdigital/tender-watch/internal/detect"
	"github.com/alqutdigital/tender-watch/internal/notify"
	"github.com/alqutdigital/tender-watch/internal/storage"
)

// ===========================
// Mock Implementations
// ===========================

type MockStore struct {
	records   []*announcement.Record
	listErr   error
	getErr    error
	gotFilter storage.ListFilter
	gotPage   storage.Page
}

func (m *MockStore) Get(ctx context.Context, id int64) (*announcement.Record, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MockStore) List(ctx context.Context, f storage.ListFilter, p storage.Page) ([]*announcement.Record, int, error) {
	m.gotFilter, m.gotPage = f, p
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	end := min(p.Offset+p.Limit, len(m.records))
	if p.Offset >= len(m.records) {
		return []*announcement.Record{}, len(m.records), nil
	}
	return m.records[p.Offset:end], len(m.records), nil
}

type MockCrawler struct {
	mu      sync.Mutex
	calls   []crawler.RunOptions
	release chan struct{}
}

func (m *MockCrawler) RunCrawl(ctx context.Context, c announcement.Category, opts crawler.RunOptions) (crawler.RunResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, opts)
	m.mu.Unlock()
	if m.release != nil {
		<-m.release
	}
	return crawler.RunResult{Category: c, Outcome: crawler.OutcomeCompleted}, nil
}

func (m *MockCrawler) Categories() []announcement.Category {
	return []announcement.Category{announcement.BiddingAnnouncement, announcement.Procurement}
}

type MockSender struct {
	err    error
	titles []string
}

func (m *MockSender) Send(ctx context.Context, title, markdown string) error {
	m.titles = append(m.titles, title)
	return m.err
}

type MockRenotifier struct {
	res detect.RenotifyResult
	err error
}

func (m *MockRenotifier) Renotify(ctx context.Context) (detect.RenotifyResult, error) {
	return m.res, m.err
}

type MockRuns struct {
	runs []storage.Run
}

func (m *MockRuns) Get(ctx context.Context, id string) (*storage.Run, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MockRuns) Latest(ctx context.Context, category string) (*storage.Run, error) {
	for _, r := range m.runs {
		if r.Category == category {
			return &r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MockRuns) Recent(ctx context.Context, n int) ([]storage.Run, error) {
	return m.runs[:min(n, len(m.runs))], nil
}

type MockHealth struct{ err error }

func (m MockHealth) Health(ctx context.Context) error { return m.err }

// ===========================
// Test Helpers
// ===========================

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func sampleRecords(n int) []*announcement.Record {
	out := make([]*announcement.Record, n)
	for i := range out {
		out[i] = &announcement.Record{
			ID:          int64(i + 1),
			Category:    announcement.BiddingAnnouncement,
			ProjectCode: "P00" + string(rune('1'+i)),
			ProjectName: "变电站改造工程",
		}
	}
	return out
}

func createTestRouter(store AnnouncementStore, crawls *CrawlHandler, sender Sender, renotifier Renotifier, runs RunStore) *chi.Mux {
	r := chi.NewRouter()
	log := testLogger()

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/announcements", ListAnnouncements(store, log))
		r.Get("/announcements/{id}", GetAnnouncement(store, log))
		r.Get("/runs", ListRuns(runs, log))
		r.Get("/runs/{id}", GetRun(runs, log))
		if crawls != nil {
			r.Get("/categories", crawls.Categories)
			r.Post("/crawl/{category}", crawls.Trigger)
		}
		r.Post("/notify/test", SendTestNotification(sender, log))
		r.Post("/notify/pending", NotifyPending(renotifier, log))
	})
	return r
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// ===========================
// Health Tests
// ===========================

func TestHealthCheck(t *testing.T) {
	rec := do(t, HealthCheck(), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode[HealthStatus](t, rec)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "tender-watch", status.Service)
}

func TestReadyCheck(t *testing.T) {
	rec := do(t, ReadyCheck(map[string]HealthChecker{
		"database": MockHealth{},
		"redis":    nil,
	}), http.MethodGet, "/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode[ReadyStatus](t, rec)
	assert.Equal(t, "healthy", status.Components["database"].Status)
	assert.Equal(t, "not configured", status.Components["redis"].Status)
}

func TestReadyCheck_Unhealthy(t *testing.T) {
	rec := do(t, ReadyCheck(map[string]HealthChecker{
		"database": MockHealth{err: errors.New("connection refused")},
	}), http.MethodGet, "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status := decode[ReadyStatus](t, rec)
	assert.Equal(t, "not ready", status.Status)
	assert.Equal(t, "unhealthy", status.Components["database"].Status)
	assert.Equal(t, "connection refused", status.Components["database"].Error)
}

// ===========================
// Announcement Tests
// ===========================

func TestListAnnouncements(t *testing.T) {
	store := &MockStore{records: sampleRecords(3)}
	router := createTestRouter(store, nil, nil, nil, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/announcements?category=zbgg&status=%E6%8B%9B%E6%A0%87%E4%B8%AD&keyword=+P00+&limit=2")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AnnouncementListResponse](t, rec)
	assert.Len(t, resp.Announcements, 2)
	assert.Equal(t, Pagination{Total: 3, Limit: 2, Offset: 0, HasMore: true}, resp.Pagination)
	assert.Equal(t, storage.ListFilter{
		Category: announcement.BiddingAnnouncement,
		Status:   "招标中",
		Keyword:  "P00",
	}, store.gotFilter)
}

func TestListAnnouncements_Bounds(t *testing.T) {
	store := &MockStore{records: sampleRecords(1)}
	router := createTestRouter(store, nil, nil, nil, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/announcements?limit=5000&offset=-3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.Page{Limit: 200, Offset: 0}, store.gotPage)
}

func TestListAnnouncements_BadCategory(t *testing.T) {
	router := createTestRouter(&MockStore{}, nil, nil, nil, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/announcements?category=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAnnouncements_StoreError(t *testing.T) {
	router := createTestRouter(&MockStore{listErr: errors.New("db down")}, nil, nil, nil, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/announcements")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListAnnouncements_NilStore(t *testing.T) {
	router := createTestRouter(nil, nil, nil, nil, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/announcements")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetAnnouncement(t *testing.T) {
	router := createTestRouter(&MockStore{records: sampleRecords(2)}, nil, nil, nil, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/announcements/2")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[announcement.Record](t, rec)
	assert.Equal(t, int64(2), got.ID)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/announcements/9").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/v1/announcements/abc").Code)
}

// ===========================
// Crawl Tests
// ===========================

func TestTriggerCrawl(t *testing.T) {
	mc := &MockCrawler{release: make(chan struct{})}
	crawls := NewCrawlHandler(context.Background(), mc, testLogger())
	router := createTestRouter(nil, crawls, nil, nil, nil)

	rec := do(t, router, http.MethodPost, "/api/v1/crawl/zbgg?limit=5")
	require.Equal(t, http.StatusAccepted, rec.Code)
	accepted := decode[CrawlAccepted](t, rec)
	assert.Equal(t, announcement.BiddingAnnouncement, accepted.Category)
	assert.Equal(t, 5, accepted.Limit)

	// same category while running
	rec = do(t, router, http.MethodPost, "/api/v1/crawl/BIDDING_ANNOUNCEMENT")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(mc.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, crawls.Wait(ctx))

	mc.mu.Lock()
	assert.Equal(t, []crawler.RunOptions{{Limit: 5}}, mc.calls)
	mc.mu.Unlock()

	// finished, so it can run again
	rec = do(t, router, http.MethodPost, "/api/v1/crawl/zbgg")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, crawls.Wait(ctx))
}

func TestTriggerCrawl_Rejects(t *testing.T) {
	crawls := NewCrawlHandler(context.Background(), &MockCrawler{}, testLogger())
	router := createTestRouter(nil, crawls, nil, nil, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/crawl/unknown").Code)
	// known category without a parser
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/crawl/zbjggg").Code)
}

func TestCategories(t *testing.T) {
	crawls := NewCrawlHandler(context.Background(), &MockCrawler{}, testLogger())
	router := createTestRouter(nil, crawls, nil, nil, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/categories")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool           `json:"success"`
		Data    []CategoryInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, CategoryInfo{
		Code:  announcement.BiddingAnnouncement,
		Key:   "zbgg",
		Label: "招标公告及投标邀请书",
		Tab:   2,
	}, resp.Data[0])
}

// ===========================
// Notify Tests
// ===========================

func TestSendTestNotification(t *testing.T) {
	sender := &MockSender{}
	router := createTestRouter(nil, nil, sender, nil, nil)

	rec := do(t, router, http.MethodPost, "/api/v1/notify/test")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"测试消息"}, sender.titles)
}

func TestSendTestNotification_Errors(t *testing.T) {
	tests := []struct {
		name   string
		sender Sender
		want   int
	}{
		{"nil sender", nil, http.StatusServiceUnavailable},
		{"disabled", &MockSender{err: notify.ErrDisabled}, http.StatusServiceUnavailable},
		{"robot error", &MockSender{err: &notify.APIError{Code: 310000, Message: "sign not match"}}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := createTestRouter(nil, nil, tt.sender, nil, nil)
			assert.Equal(t, tt.want, do(t, router, http.MethodPost, "/api/v1/notify/test").Code)
		})
	}
}

func TestNotifyPending(t *testing.T) {
	renotifier := &MockRenotifier{res: detect.RenotifyResult{Pending: 3, Notified: 2, Failed: 1}}
	router := createTestRouter(nil, nil, nil, renotifier, nil)

	rec := do(t, router, http.MethodPost, "/api/v1/notify/pending")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data detect.RenotifyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, renotifier.res, resp.Data)

	router = createTestRouter(nil, nil, nil, &MockRenotifier{err: notify.ErrDisabled}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodPost, "/api/v1/notify/pending").Code)
}

// ===========================
// Run Tests
// ===========================

func TestListRuns(t *testing.T) {
	runs := &MockRuns{runs: []storage.Run{
		{ID: "r2", Category: "PROCUREMENT", State: storage.RunCompleted},
		{ID: "r1", Category: "BIDDING_ANNOUNCEMENT", State: storage.RunNavigationFailed},
	}}
	router := createTestRouter(nil, nil, nil, nil, runs)

	var resp struct {
		Data []storage.Run `json:"data"`
	}
	rec := do(t, router, http.MethodGet, "/api/v1/runs?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "r2", resp.Data[0].ID)

	rec = do(t, router, http.MethodGet, "/api/v1/runs?category=zbgg")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "r1", resp.Data[0].ID)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/v1/runs/r1").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/runs/nope").Code)
}

func TestRespondLookupError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("wrapped: %w", storage.ErrNotFound), http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		RespondLookupError(rec, testLogger(), tt.err, "Announcement")
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

func TestRespondJSONKeepsChinese(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusOK, map[string]string{"status": "招标中<1>"})
	assert.Contains(t, rec.Body.String(), "招标中<1>")
}
