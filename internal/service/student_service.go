package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/univops/registrar-api/internal/models"
	appErrors "github.com/univops/registrar-api/pkg/errors"
)

type studentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	Create(ctx context.Context, student *models.Student) error
	UpdateAdvisory(ctx context.Context, id string, requiresApproval bool, advisorID *string) error
}

// CreateStudentRequest registers a student record.
type CreateStudentRequest struct {
	StudentNumber string               `json:"student_number" validate:"required"`
	FullName      string               `json:"full_name" validate:"required"`
	Email         string               `json:"email" validate:"required,email"`
	ClassStanding models.ClassStanding `json:"class_standing" validate:"required,oneof=FRESHMAN SOPHOMORE JUNIOR SENIOR GRADUATE"`
}

// UpdateAdvisoryRequest flags a student for advisor approval. An advisor must
// be assigned whenever the flag is on.
type UpdateAdvisoryRequest struct {
	RequiresAdvisorApproval bool    `json:"requires_advisor_approval"`
	AdvisorID               *string `json:"advisor_id"`
}

// StudentService manages student records for the registrar.
type StudentService struct {
	repo      studentStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentStore, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// List returns students matching the filter.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one student, letting a student view only their own record.
func (s *StudentService) Get(ctx context.Context, id string, actor models.Actor) (*models.Student, error) {
	if actor.Role == models.RoleStudent && actor.StudentID != id {
		return nil, appErrors.ErrForbidden
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, actor models.Actor) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student := &models.Student{
		StudentNumber: req.StudentNumber,
		FullName:      req.FullName,
		Email:         req.Email,
		ClassStanding: req.ClassStanding,
		Active:        true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.logger.Info("student created",
		zap.String("student_id", student.ID),
		zap.String("student_number", student.StudentNumber),
		zap.String("actor_id", actor.UserID),
	)
	return student, nil
}

// UpdateAdvisory toggles the advisor approval flag and advisor assignment.
func (s *StudentService) UpdateAdvisory(ctx context.Context, id string, req UpdateAdvisoryRequest, actor models.Actor) (*models.Student, error) {
	if req.RequiresAdvisorApproval && req.AdvisorID == nil {
		return nil, appErrors.ErrAdvisorNotAssigned
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if err := s.repo.UpdateAdvisory(ctx, id, req.RequiresAdvisorApproval, req.AdvisorID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update advisory flag")
	}
	s.logger.Info("student advisory updated",
		zap.String("student_id", id),
		zap.Bool("requires_advisor_approval", req.RequiresAdvisorApproval),
		zap.String("actor_id", actor.UserID),
	)
	return s.repo.FindByID(ctx, id)
}
