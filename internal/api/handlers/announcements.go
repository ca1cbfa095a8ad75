package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/storage"
)

// AnnouncementListResponse is one page of announcements.
type AnnouncementListResponse struct {
	Announcements []*announcement.Record `json:"announcements"`
	Pagination    Pagination             `json:"pagination"`
}

// ListAnnouncements returns a handler for listing announcements.
// GET /api/v1/announcements
//
// Query parameters:
//   - category: category code or URL key
//   - status: exact project status
//   - keyword: substring of project name or code
//   - limit: number of results (default: 50, max: 200)
//   - offset: offset for pagination (default: 0)
func ListAnnouncements(store AnnouncementStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			RespondServiceUnavailable(w, "Database service not available")
			return
		}

		q := r.URL.Query()
		filter := storage.ListFilter{
			Status:  strings.TrimSpace(q.Get("status")),
			Keyword: strings.TrimSpace(q.Get("keyword")),
		}
		if v := q.Get("category"); v != "" {
			c, err := announcement.ParseCategory(v)
			if err != nil {
				RespondErrorWithDetails(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), announcement.All())
				return
			}
			filter.Category = c
		}

		limit := parseIntQueryParam(r, "limit", 50)
		limit = min(max(limit, 1), 200)
		offset := max(parseIntQueryParam(r, "offset", 0), 0)

		records, total, err := store.List(r.Context(), filter, storage.Page{Limit: limit, Offset: offset})
		if err != nil {
			logger.Error("failed to list announcements", "error", err)
			RespondInternalError(w, "Failed to list announcements")
			return
		}

		RespondJSON(w, http.StatusOK, AnnouncementListResponse{
			Announcements: records,
			Pagination: Pagination{
				Total:   total,
				Limit:   limit,
				Offset:  offset,
				HasMore: offset+len(records) < total,
			},
		})
	}
}

// GetAnnouncement returns a handler for one announcement.
// GET /api/v1/announcements/{id}
func GetAnnouncement(store AnnouncementStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			RespondServiceUnavailable(w, "Database service not available")
			return
		}

		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			RespondBadRequest(w, "Invalid announcement ID")
			return
		}

		rec, err := store.Get(r.Context(), id)
		if err != nil {
			RespondLookupError(w, logger.With("id", id), err, "Announcement")
			return
		}

		RespondJSON(w, http.StatusOK, rec)
	}
}

func parseIntQueryParam(r *http.Request, name string, defaultValue int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}
