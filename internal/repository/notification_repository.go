package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/univops/registrar-api/internal/models"
)

// NotificationRepository stores engine-emitted notification rows for the
// external notification collaborator to consume.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create persists a notification record.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, student_id, type, payload, created_at)
        VALUES (:id, :student_id, :type, :payload, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListByStudent returns recent notifications for a student.
func (r *NotificationRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id, student_id, type, payload, created_at FROM notifications WHERE student_id = $1 ORDER BY created_at DESC LIMIT %d`, limit)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, studentID); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}
