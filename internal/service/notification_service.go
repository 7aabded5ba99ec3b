package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univops/registrar-api/internal/models"
	"github.com/univops/registrar-api/pkg/config"
	"github.com/univops/registrar-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Notification, error)
}

type promotionPayload struct {
	EnrollmentID    string `json:"enrollment_id"`
	CourseSectionID string `json:"course_section_id"`
	PromotedAt      string `json:"promoted_at"`
}

// NotificationService dispatches engine-emitted messages to the notification
// collaborator. Delivery runs on a background queue so the registration
// transaction path never blocks on it; at-least-once, no ordering guarantee.
// A full queue drops the message with a warning.
type NotificationService struct {
	repo   notificationStore
	queue  *jobs.Queue[*models.Notification]
	logger *zap.Logger
}

// NewNotificationService builds the dispatcher with its worker queue.
func NewNotificationService(repo notificationStore, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{repo: repo, logger: logger}
	s.queue = jobs.New("notifications", s.deliver, jobs.Options{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyPromotion enqueues a waitlist promotion message for the promoted
// student. Errors are logged and dropped; notification failure never affects
// the registration outcome.
func (s *NotificationService) NotifyPromotion(enrollment *models.Enrollment) {
	if enrollment == nil {
		return
	}
	payload, err := json.Marshal(promotionPayload{
		EnrollmentID:    enrollment.ID,
		CourseSectionID: enrollment.CourseSectionID,
		PromotedAt:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("failed to encode promotion payload", zap.Error(err))
		return
	}
	env := jobs.Envelope[*models.Notification]{
		ID:   uuid.NewString(),
		Kind: models.NotificationWaitlistPromoted,
		Body: &models.Notification{
			StudentID: enrollment.StudentID,
			Type:      models.NotificationWaitlistPromoted,
			Payload:   payload,
		},
	}
	if err := s.queue.Enqueue(env); err != nil {
		s.logger.Warn("promotion notification dropped",
			zap.String("enrollment_id", enrollment.ID),
			zap.Error(err),
		)
	}
}

// ListByStudent returns the most recent notifications for a student.
func (s *NotificationService) ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListByStudent(ctx, studentID, limit)
}

func (s *NotificationService) deliver(ctx context.Context, env jobs.Envelope[*models.Notification]) error {
	notification := env.Body
	if err := s.repo.Create(ctx, notification); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	s.logger.Info("notification dispatched",
		zap.String("notification_id", notification.ID),
		zap.String("student_id", notification.StudentID),
		zap.String("type", notification.Type),
	)
	return nil
}
