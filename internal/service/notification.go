package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linemk/ibr-resto/internal/domain/models"
	"github.com/linemk/ibr-resto/internal/storage"
)

// NotificationService — читающая сторона «почтового ящика» уведомлений.
// Его потребитель — сервис доставки push-уведомлений: он забирает
// непрочитанные записи и единственный помечает их прочитанными.
type NotificationService interface {
	Unread(ctx context.Context, recipientID int64) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id string, recipientID int64) error
}

type notificationService struct {
	log       *slog.Logger
	notifRepo storage.NotificationStorage
}

func NewNotificationService(log *slog.Logger, notifRepo storage.NotificationStorage) NotificationService {
	return &notificationService{log: log, notifRepo: notifRepo}
}

func (s *notificationService) Unread(ctx context.Context, recipientID int64) ([]*models.Notification, error) {
	const op = "service.NotificationService.Unread"

	notifications, err := s.notifRepo.ListUnreadByRecipient(ctx, recipientID)
	if err != nil {
		s.log.Error("failed to list notifications", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to list notifications: %w", op, err)
	}
	return notifications, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id string, recipientID int64) error {
	const op = "service.NotificationService.MarkRead"

	if err := s.notifRepo.MarkRead(ctx, id, recipientID); err != nil {
		s.log.Error("failed to mark notification read",
			slog.String("op", op), slog.String("id", id), slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
