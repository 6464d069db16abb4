package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/ibr-resto/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/ibr-resto/internal/service"
)

// UnreadNotificationsHandler обрабатывает GET /api/notifications —
// непрочитанный «почтовый ящик» текущего пользователя.
func UnreadNotificationsHandler(log *slog.Logger, notificationService service.NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UnreadNotificationsHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		notifications, err := notificationService.Unread(r.Context(), userID)
		if err != nil {
			logger.Error("failed to list notifications", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, notifications)
	}
}

// MarkNotificationReadHandler обрабатывает POST /api/notifications/{id}/read.
// Вызывается сервисом доставки после успешной отправки push-уведомления.
func MarkNotificationReadHandler(log *slog.Logger, notificationService service.NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.MarkNotificationReadHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		if err := notificationService.MarkRead(r.Context(), id, userID); err != nil {
			logger.Warn("failed to mark notification read", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "notification marked read"})
	}
}
