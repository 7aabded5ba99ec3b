package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/univops/registrar-api/internal/models"
	appErrors "github.com/univops/registrar-api/pkg/errors"
)

type sectionStore interface {
	FindByID(ctx context.Context, id string) (*models.CourseSection, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseSectionDetail, error)
	List(ctx context.Context, filter models.CourseSectionFilter) ([]models.CourseSectionDetail, int, error)
	Create(ctx context.Context, section *models.CourseSection) error
	UpdateStatus(ctx context.Context, id string, status models.SectionStatus) error
	Availability(ctx context.Context, id string) (*models.SectionAvailability, error)
	FindCourseByID(ctx context.Context, id string) (*models.Course, error)
}

type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateSectionRequest schedules a section of a course for a term. Capacity
// zero is legal: every registration lands on the waitlist.
type CreateSectionRequest struct {
	CourseID      string `json:"course_id" validate:"required"`
	TermID        string `json:"term_id" validate:"required"`
	SectionNumber string `json:"section_number" validate:"required"`
	Capacity      int    `json:"capacity" validate:"gte=0"`
}

// UpdateSectionStatusRequest changes a section's operational state.
type UpdateSectionStatusRequest struct {
	Status models.SectionStatus `json:"status" validate:"required,oneof=OPEN CLOSED CANCELLED"`
}

// CourseSectionService manages scheduled sections and their derived seating
// picture. Availability reads go through Redis with a short TTL because the
// catalog UI polls them heavily during registration.
type CourseSectionService struct {
	repo      sectionStore
	terms     termReader
	cache     cacheStore
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseSectionService constructs the section service. cache may be nil;
// availability then always hits the database.
func NewCourseSectionService(repo sectionStore, terms termReader, cache cacheStore, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CourseSectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Second
	}
	return &CourseSectionService{
		repo:      repo,
		terms:     terms,
		cache:     cache,
		cacheTTL:  cacheTTL,
		validator: validate,
		logger:    logger,
	}
}

// List returns sections matching the filter.
func (s *CourseSectionService) List(ctx context.Context, filter models.CourseSectionFilter) ([]models.CourseSectionDetail, *models.Pagination, error) {
	sections, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return sections, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one section with course and term context.
func (s *CourseSectionService) Get(ctx context.Context, id string) (*models.CourseSectionDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSectionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return detail, nil
}

// Create schedules a new section.
func (s *CourseSectionService) Create(ctx context.Context, req CreateSectionRequest, actor models.Actor) (*models.CourseSectionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}
	if _, err := s.repo.FindCourseByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if _, err := s.terms.FindByID(ctx, req.TermID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	section := &models.CourseSection{
		CourseID:      req.CourseID,
		TermID:        req.TermID,
		SectionNumber: req.SectionNumber,
		Capacity:      req.Capacity,
		Status:        models.SectionStatusOpen,
	}
	if err := s.repo.Create(ctx, section); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create section")
	}
	s.logger.Info("section created",
		zap.String("section_id", section.ID),
		zap.String("course_id", section.CourseID),
		zap.Int("capacity", section.Capacity),
		zap.String("actor_id", actor.UserID),
	)
	return s.Get(ctx, section.ID)
}

// UpdateStatus changes a section's operational state. Closing or cancelling a
// section does not touch its existing enrollments.
func (s *CourseSectionService) UpdateStatus(ctx context.Context, id string, req UpdateSectionStatusRequest, actor models.Actor) (*models.CourseSectionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section status payload")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, req.Status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update section status")
	}
	s.InvalidateAvailability(ctx, id)
	s.logger.Info("section status updated",
		zap.String("section_id", id),
		zap.String("status", string(req.Status)),
		zap.String("actor_id", actor.UserID),
	)
	return s.Get(ctx, id)
}

// Availability returns the derived seating picture for a section, served
// from cache when fresh.
func (s *CourseSectionService) Availability(ctx context.Context, id string) (*models.SectionAvailability, error) {
	key := availabilityCacheKey(id)
	if s.cache != nil {
		var cached models.SectionAvailability
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("availability cache read failed", zap.String("section_id", id), zap.Error(err))
		}
	}

	availability, err := s.repo.Availability(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSectionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute availability")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, availability, s.cacheTTL); err != nil {
			s.logger.Warn("availability cache write failed", zap.String("section_id", id), zap.Error(err))
		}
	}
	return availability, nil
}

// InvalidateAvailability drops the cached seating picture for a section.
// Called after any enrollment mutation touching the section.
func (s *CourseSectionService) InvalidateAvailability(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, availabilityCacheKey(id)); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.String("section_id", id), zap.Error(err))
	}
}

func availabilityCacheKey(sectionID string) string {
	return fmt.Sprintf("sections:availability:%s", sectionID)
}
