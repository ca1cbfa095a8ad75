package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/crawler"
)

// CrawlAccepted is the response to a crawl trigger.
type CrawlAccepted struct {
	Category announcement.Category `json:"category"`
	Limit    int                   `json:"limit,omitempty"`
	Status   string                `json:"status"`
}

// CategoryInfo describes a crawlable category.
type CategoryInfo struct {
	Code  announcement.Category `json:"code"`
	Key   string                `json:"key"`
	Label string                `json:"label"`
	Tab   int                   `json:"tab"`
}

// CrawlHandler starts crawls in the background, at most one per category.
type CrawlHandler struct {
	crawler Crawler
	logger  *slog.Logger

	// ctx outlives requests; cancelling it stops running crawls.
	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[announcement.Category]bool
}

// NewCrawlHandler creates a handler whose crawls run under ctx.
func NewCrawlHandler(ctx context.Context, c Crawler, logger *slog.Logger) *CrawlHandler {
	return &CrawlHandler{
		crawler: c,
		logger:  logger,
		ctx:     ctx,
		running: make(map[announcement.Category]bool),
	}
}

// Trigger starts a crawl.
// POST /api/v1/crawl/{category}?limit=N
//
// Responds 202 once the crawl has started and 409 while one of the same
// category is still running. Progress is reported through /api/v1/runs and the
// websocket feed.
func (h *CrawlHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.crawler == nil {
		RespondServiceUnavailable(w, "Crawler not available")
		return
	}

	category, err := announcement.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		RespondErrorWithDetails(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), announcement.All())
		return
	}
	if !h.supported(category) {
		RespondBadRequest(w, "Category is not crawlable: "+string(category))
		return
	}
	limit := max(parseIntQueryParam(r, "limit", 0), 0)

	if !h.claim(category) {
		RespondError(w, http.StatusConflict, ErrCodeConflict, "A crawl of this category is already running")
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.release(category)

		res, err := h.crawler.RunCrawl(h.ctx, category, crawler.RunOptions{Limit: limit})
		if err != nil {
			h.logger.Error("triggered crawl failed", "category", category, "run_id", res.RunID, "error", err)
			return
		}
		h.logger.Info("triggered crawl done", "category", category, "run_id", res.RunID, "outcome", res.Outcome)
	}()

	RespondJSON(w, http.StatusAccepted, CrawlAccepted{Category: category, Limit: limit, Status: "started"})
}

// Categories lists the crawlable categories.
// GET /api/v1/categories
func (h *CrawlHandler) Categories(w http.ResponseWriter, r *http.Request) {
	var cats []announcement.Category
	if h.crawler != nil {
		cats = h.crawler.Categories()
	}
	out := make([]CategoryInfo, 0, len(cats))
	for _, c := range cats {
		out = append(out, CategoryInfo{Code: c, Key: c.Key(), Label: c.Label(), Tab: c.TabIndex()})
	}
	RespondSuccess(w, out)
}

// Wait blocks until every started crawl has returned or ctx ends.
func (h *CrawlHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *CrawlHandler) supported(c announcement.Category) bool {
	for _, s := range h.crawler.Categories() {
		if s == c {
			return true
		}
	}
	return false
}

func (h *CrawlHandler) claim(c announcement.Category) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running[c] {
		return false
	}
	h.running[c] = true
	return true
}

func (h *CrawlHandler) release(c announcement.Category) {
	h.mu.Lock()
	delete(h.running, c)
	h.mu.Unlock()
}
