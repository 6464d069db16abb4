package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linemk/ibr-resto/internal/domain/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationStorage — «почтовый ящик» уведомлений.
// Запись идёт только внутри транзакции породившей её операции;
// чтение и пометка прочитанным — удел внешнего сервиса доставки.
type NotificationStorage interface {
	CreateNotificationTx(ctx context.Context, tx *sql.Tx, n *models.Notification) error
	ListUnreadByRecipient(ctx context.Context, recipientID int64) ([]*models.Notification, error)
	// MarkRead переводит is_read в true; повторный вызов — no-op.
	MarkRead(ctx context.Context, id string, recipientID int64) error
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationStorage {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateNotificationTx(ctx context.Context, tx *sql.Tx, n *models.Notification) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient_user_id, title, body, type, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.RecipientUserID, n.Title, n.Body, n.Type, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) ListUnreadByRecipient(ctx context.Context, recipientID int64) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, recipient_user_id, title, body, type, is_read, created_at
		 FROM notifications WHERE recipient_user_id = $1 AND is_read = false
		 ORDER BY created_at DESC`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		if err := rows.Scan(&n.ID, &n.RecipientUserID, &n.Title, &n.Body, &n.Type, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id string, recipientID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = true WHERE id = $1 AND recipient_user_id = $2", id, recipientID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// либо нет такой записи, либо она адресована другому получателю
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND recipient_user_id = $2 AND is_read = true)",
			id, recipientID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil // уже прочитано — идемпотентно
		}
		return ErrNotificationNotFound
	}
	return nil
}
