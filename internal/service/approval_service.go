package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/univops/registrar-api/internal/models"
	appErrors "github.com/univops/registrar-api/pkg/errors"
)

type approvalStore interface {
	FindByID(ctx context.Context, id string) (*models.EnrollmentApproval, error)
	FindDetailByID(ctx context.Context, id string) (*models.ApprovalDetail, error)
	List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalDetail, int, error)
	ExistsPending(ctx context.Context, studentID, sectionID string) (bool, error)
	Create(ctx context.Context, approval *models.EnrollmentApproval) error
	Decide(ctx context.Context, id string, status models.ApprovalStatus, notes *string, respondedAt time.Time) error
	LinkEnrollment(ctx context.Context, id, enrollmentID string) error
}

// approvalEnroller is the registration engine entry used when an approval is
// granted inside the add/drop window.
type approvalEnroller interface {
	EnrollApproved(ctx context.Context, studentID, sectionID string, actor models.Actor) (*models.Enrollment, error)
}

// RequestApprovalRequest opens an advisor approval request for a section.
type RequestApprovalRequest struct {
	StudentID       string `json:"student_id" validate:"required"`
	CourseSectionID string `json:"course_section_id" validate:"required"`
}

// DecideApprovalRequest carries the advisor's decision notes.
type DecideApprovalRequest struct {
	Notes string `json:"notes"`
}

// ApprovalDecision reports the resolved approval and, when the grant produced
// an enrollment, that enrollment. EnrollError carries a registration failure
// that occurred after the approval was recorded; the approval stands either way.
type ApprovalDecision struct {
	Approval    *models.ApprovalDetail `json:"approval"`
	Enrollment  *models.Enrollment     `json:"enrollment,omitempty"`
	EnrollError *appErrors.Error       `json:"enroll_error,omitempty"`
}

// ApprovalService manages the advisor approval workflow for students flagged
// as requiring sign-off before registration.
type ApprovalService struct {
	repo      approvalStore
	students  studentReader
	sections  sectionReader
	terms     termReader
	engine    approvalEnroller
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewApprovalService constructs the approval workflow service.
func NewApprovalService(
	repo approvalStore,
	students studentReader,
	sections sectionReader,
	terms termReader,
	engine approvalEnroller,
	validate *validator.Validate,
	logger *zap.Logger,
) *ApprovalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{
		repo:      repo,
		students:  students,
		sections:  sections,
		terms:     terms,
		engine:    engine,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns approval requests visible to the actor. Advisors see requests
// addressed to them, students their own.
func (s *ApprovalService) List(ctx context.Context, filter models.ApprovalFilter, actor models.Actor) ([]models.ApprovalDetail, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.StudentID
	case models.RoleAdvisor:
		filter.AdvisorID = actor.UserID
	}
	approvals, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approvals")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return approvals, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one approval request with ownership enforcement.
func (s *ApprovalService) Get(ctx context.Context, id string, actor models.Actor) (*models.ApprovalDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval")
	}
	switch actor.Role {
	case models.RoleStudent:
		if detail.StudentID != actor.StudentID {
			return nil, appErrors.ErrForbidden
		}
	case models.RoleAdvisor:
		if detail.AdvisorID != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	}
	return detail, nil
}

// Request opens a PENDING approval addressed to the student's assigned
// advisor. Only one pending request per student and section may exist.
func (s *ApprovalService) Request(ctx context.Context, req RequestApprovalRequest, actor models.Actor) (*models.ApprovalDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}
	if actor.Role == models.RoleStudent && req.StudentID != actor.StudentID {
		return nil, appErrors.ErrForbidden
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.RequiresAdvisorApproval {
		return nil, appErrors.ErrApprovalNotApplicable
	}
	if student.AdvisorID == nil {
		return nil, appErrors.ErrAdvisorNotAssigned
	}

	if _, err := s.sections.FindByID(ctx, req.CourseSectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSectionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	pending, err := s.repo.ExistsPending(ctx, req.StudentID, req.CourseSectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending approvals")
	}
	if pending {
		return nil, appErrors.ErrDuplicateApproval
	}

	approval := &models.EnrollmentApproval{
		StudentID:       req.StudentID,
		AdvisorID:       *student.AdvisorID,
		CourseSectionID: req.CourseSectionID,
		Status:          models.ApprovalStatusPending,
		RequestedAt:     s.now(),
	}
	if err := s.repo.Create(ctx, approval); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approval request")
	}
	s.logger.Info("approval requested",
		zap.String("approval_id", approval.ID),
		zap.String("student_id", approval.StudentID),
		zap.String("advisor_id", approval.AdvisorID),
		zap.String("section_id", approval.CourseSectionID),
	)
	return s.repo.FindDetailByID(ctx, approval.ID)
}

// Approve grants a pending request. When the add/drop window is still open
// the grant immediately runs registration; the approval is recorded as
// APPROVED even if that registration fails, and the failure is reported
// alongside so the student can act on it.
func (s *ApprovalService) Approve(ctx context.Context, id string, req DecideApprovalRequest, actor models.Actor) (*ApprovalDecision, error) {
	approval, err := s.loadForDecision(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	var notes *string
	if trimmed := strings.TrimSpace(req.Notes); trimmed != "" {
		notes = &trimmed
	}
	if err := s.repo.Decide(ctx, id, models.ApprovalStatusApproved, notes, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrApprovalNotPending
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}
	s.logger.Info("approval granted",
		zap.String("approval_id", id),
		zap.String("actor_id", actor.UserID),
	)

	decision := &ApprovalDecision{}
	enrollment, enrollErr := s.engine.EnrollApproved(ctx, approval.StudentID, approval.CourseSectionID, actor)
	if enrollErr != nil {
		decision.EnrollError = appErrors.FromError(enrollErr)
		s.logger.Warn("post-approval registration failed",
			zap.String("approval_id", id),
			zap.String("code", decision.EnrollError.Code),
		)
	} else {
		decision.Enrollment = enrollment
		if err := s.repo.LinkEnrollment(ctx, id, enrollment.ID); err != nil {
			s.logger.Error("failed to link enrollment to approval",
				zap.String("approval_id", id),
				zap.String("enrollment_id", enrollment.ID),
				zap.Error(err),
			)
		}
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval")
	}
	decision.Approval = detail
	return decision, nil
}

// Deny resolves a pending request as DENIED. A non-empty note is mandatory so
// the student always receives a reason.
func (s *ApprovalService) Deny(ctx context.Context, id string, req DecideApprovalRequest, actor models.Actor) (*models.ApprovalDetail, error) {
	if _, err := s.loadForDecision(ctx, id, actor); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(req.Notes)
	if trimmed == "" {
		return nil, appErrors.ErrDenialReasonRequired
	}
	if err := s.repo.Decide(ctx, id, models.ApprovalStatusDenied, &trimmed, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrApprovalNotPending
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}
	s.logger.Info("approval denied",
		zap.String("approval_id", id),
		zap.String("actor_id", actor.UserID),
	)
	return s.repo.FindDetailByID(ctx, id)
}

func (s *ApprovalService) loadForDecision(ctx context.Context, id string, actor models.Actor) (*models.EnrollmentApproval, error) {
	approval, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval")
	}
	if actor.Role == models.RoleAdvisor && approval.AdvisorID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if actor.Role == models.RoleStudent {
		return nil, appErrors.ErrForbidden
	}
	if approval.Status != models.ApprovalStatusPending {
		return nil, appErrors.ErrApprovalNotPending
	}
	return approval, nil
}
