package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/univops/registrar-api/internal/models"
	appErrors "github.com/univops/registrar-api/pkg/errors"
)

type termStore interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindCurrent(ctx context.Context) (*models.Term, error)
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	Create(ctx context.Context, term *models.Term) error
	Update(ctx context.Context, term *models.Term) error
	SetCurrent(ctx context.Context, id string) error
}

// CreateTermRequest defines a new academic term.
type CreateTermRequest struct {
	Name            string            `json:"name" validate:"required"`
	AcademicYear    string            `json:"academic_year" validate:"required"`
	Period          models.TermPeriod `json:"period" validate:"required,oneof=FALL SPRING SUMMER WINTER"`
	StartDate       time.Time         `json:"start_date" validate:"required"`
	EndDate         time.Time         `json:"end_date" validate:"required,gtfield=StartDate"`
	AddDropDeadline time.Time         `json:"add_drop_deadline" validate:"required"`
}

// UpdateTermRequest adjusts term boundaries. Moving the add/drop deadline
// later reopens registration immediately.
type UpdateTermRequest struct {
	Name            string    `json:"name" validate:"required"`
	StartDate       time.Time `json:"start_date" validate:"required"`
	EndDate         time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
	AddDropDeadline time.Time `json:"add_drop_deadline" validate:"required"`
}

// TermService manages academic terms and the current-term pointer.
type TermService struct {
	repo      termStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTermService constructs the term service.
func NewTermService(repo termStore, validate *validator.Validate, logger *zap.Logger) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, validator: validate, logger: logger}
}

// List returns terms matching the filter.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error) {
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return terms, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one term by ID.
func (s *TermService) Get(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// GetCurrent returns the term flagged as current.
func (s *TermService) GetCurrent(ctx context.Context) (*models.Term, error) {
	term, err := s.repo.FindCurrent(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no current term configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current term")
	}
	return term, nil
}

// Create registers a new term.
func (s *TermService) Create(ctx context.Context, req CreateTermRequest, actor models.Actor) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if req.AddDropDeadline.Before(req.StartDate) || req.AddDropDeadline.After(req.EndDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "add/drop deadline must fall within the term")
	}

	term := &models.Term{
		Name:            req.Name,
		AcademicYear:    req.AcademicYear,
		Period:          req.Period,
		StartDate:       req.StartDate.UTC(),
		EndDate:         req.EndDate.UTC(),
		AddDropDeadline: req.AddDropDeadline.UTC(),
	}
	if err := s.repo.Create(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	s.logger.Info("term created",
		zap.String("term_id", term.ID),
		zap.String("name", term.Name),
		zap.String("actor_id", actor.UserID),
	)
	return term, nil
}

// Update adjusts an existing term's boundaries.
func (s *TermService) Update(ctx context.Context, id string, req UpdateTermRequest, actor models.Actor) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if req.AddDropDeadline.Before(req.StartDate) || req.AddDropDeadline.After(req.EndDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "add/drop deadline must fall within the term")
	}

	term, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	term.Name = req.Name
	term.StartDate = req.StartDate.UTC()
	term.EndDate = req.EndDate.UTC()
	term.AddDropDeadline = req.AddDropDeadline.UTC()
	if err := s.repo.Update(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update term")
	}
	s.logger.Info("term updated",
		zap.String("term_id", term.ID),
		zap.String("actor_id", actor.UserID),
	)
	return term, nil
}

// SetCurrent makes this term the current one, clearing the flag elsewhere.
func (s *TermService) SetCurrent(ctx context.Context, id string, actor models.Actor) (*models.Term, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.SetCurrent(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set current term")
	}
	s.logger.Info("current term changed",
		zap.String("term_id", id),
		zap.String("actor_id", actor.UserID),
	)
	return s.Get(ctx, id)
}
