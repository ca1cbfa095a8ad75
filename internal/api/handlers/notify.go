package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alqutdigital/tender-watch/internal/notify"
)

// SendTestNotification sends a fixed message through the notifier.
// POST /api/v1/notify/test
func SendTestNotification(sender Sender, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sender == nil {
			RespondServiceUnavailable(w, "Notifications disabled")
			return
		}

		title, body := notify.TestMessage()
		err := sender.Send(r.Context(), title, body)
		if errors.Is(err, notify.ErrDisabled) {
			RespondServiceUnavailable(w, "Notifications disabled")
			return
		}
		if err != nil {
			logger.Error("test notification failed", "error", err)
			RespondBadGateway(w, "Notification failed: "+err.Error())
			return
		}

		RespondSuccess(w, map[string]string{"title": title})
	}
}

// NotifyPending retries the notification of every unnotified announcement.
// POST /api/v1/notify/pending
func NotifyPending(renotifier Renotifier, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if renotifier == nil {
			RespondServiceUnavailable(w, "Change detection not available")
			return
		}

		res, err := renotifier.Renotify(r.Context())
		if errors.Is(err, notify.ErrDisabled) {
			RespondServiceUnavailable(w, "Notifications disabled")
			return
		}
		if err != nil {
			logger.Error("renotify failed", "error", err)
			RespondInternalError(w, "Failed to notify pending announcements")
			return
		}

		RespondSuccess(w, res)
	}
}
