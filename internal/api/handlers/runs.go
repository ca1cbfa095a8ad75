package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alqutdigital/tender-watch/internal/announcement"
	"github.com/alqutdigital/tender-watch/internal/storage"
)

// ListRuns returns recent crawl runs, newest first.
// GET /api/v1/runs?limit=N&category=C
//
// With a category only its latest run is returned.
func ListRuns(runs RunStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runs == nil {
			RespondServiceUnavailable(w, "Run status not available")
			return
		}

		if v := r.URL.Query().Get("category"); v != "" {
			c, err := announcement.ParseCategory(v)
			if err != nil {
				RespondBadRequest(w, err.Error())
				return
			}
			run, err := runs.Latest(r.Context(), string(c))
			if errors.Is(err, storage.ErrNotFound) {
				RespondSuccess(w, []storage.Run{})
				return
			}
			if err != nil {
				logger.Error("failed to load latest run", "category", c, "error", err)
				RespondInternalError(w, "Failed to load runs")
				return
			}
			RespondSuccess(w, []storage.Run{*run})
			return
		}

		limit := min(max(parseIntQueryParam(r, "limit", 20), 1), 100)
		list, err := runs.Recent(r.Context(), limit)
		if err != nil {
			logger.Error("failed to list runs", "error", err)
			RespondInternalError(w, "Failed to load runs")
			return
		}
		RespondSuccess(w, list)
	}
}

// GetRun returns one crawl run.
// GET /api/v1/runs/{id}
func GetRun(runs RunStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runs == nil {
			RespondServiceUnavailable(w, "Run status not available")
			return
		}

		run, err := runs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			RespondLookupError(w, logger, err, "Run")
			return
		}
		RespondSuccess(w, run)
	}
}
