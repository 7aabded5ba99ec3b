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

type ticketStore interface {
	FindByStudentAndTerm(ctx context.Context, studentID, termID string) (*models.RegistrationTimeTicket, error)
	List(ctx context.Context, filter models.TimeTicketFilter) ([]models.RegistrationTimeTicket, int, error)
	BulkUpsert(ctx context.Context, tickets []models.RegistrationTimeTicket) error
	StudentIDsByStanding(ctx context.Context, standing models.ClassStanding) ([]string, error)
}

type currentTermReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindCurrent(ctx context.Context) (*models.Term, error)
}

// BulkAssignTicketsRequest assigns one window to an entire priority group for
// a term. Re-assignment overwrites the group's existing tickets.
type BulkAssignTicketsRequest struct {
	TermID        string               `json:"term_id" validate:"required"`
	PriorityGroup models.ClassStanding `json:"priority_group" validate:"required,oneof=FRESHMAN SOPHOMORE JUNIOR SENIOR GRADUATE"`
	StartsAt      time.Time            `json:"starts_at" validate:"required"`
	EndsAt        time.Time            `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

// BulkAssignResult reports how many students received a ticket.
type BulkAssignResult struct {
	TermID        string               `json:"term_id"`
	PriorityGroup models.ClassStanding `json:"priority_group"`
	Assigned      int                  `json:"assigned"`
}

// TimeTicketService manages registration windows. Tickets are assigned ahead
// of the registration period by priority group and consulted read-only by
// the registration engine.
type TimeTicketService struct {
	repo      ticketStore
	terms     currentTermReader
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewTimeTicketService constructs the time ticket service.
func NewTimeTicketService(repo ticketStore, terms currentTermReader, validate *validator.Validate, logger *zap.Logger) *TimeTicketService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeTicketService{
		repo:      repo,
		terms:     terms,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MyTicket returns the actor's ticket for a term with derived window flags.
// An empty termID resolves to the current term. A student with no ticket gets
// a status with every flag false rather than an error.
func (s *TimeTicketService) MyTicket(ctx context.Context, termID string, actor models.Actor) (*models.TimeTicketStatus, error) {
	if actor.StudentID == "" {
		return nil, appErrors.ErrForbidden
	}
	term, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, err
	}

	ticket, err := s.repo.FindByStudentAndTerm(ctx, actor.StudentID, term.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.TimeTicketStatus{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time ticket")
	}

	now := s.now()
	return &models.TimeTicketStatus{
		Ticket:         ticket,
		CanRegisterNow: ticket.IsOpen(now),
		IsUpcoming:     now.Before(ticket.StartsAt),
		IsExpired:      !now.Before(ticket.EndsAt),
	}, nil
}

// List returns tickets matching the filter for administrative views.
func (s *TimeTicketService) List(ctx context.Context, filter models.TimeTicketFilter) ([]models.RegistrationTimeTicket, *models.Pagination, error) {
	tickets, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list time tickets")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return tickets, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// BulkAssign gives every student in a priority group the same window for a
// term. Upsert semantics: running the assignment again moves the group's
// window instead of failing.
func (s *TimeTicketService) BulkAssign(ctx context.Context, req BulkAssignTicketsRequest, actor models.Actor) (*BulkAssignResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ticket assignment payload")
	}

	term, err := s.terms.FindByID(ctx, req.TermID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	studentIDs, err := s.repo.StudentIDsByStanding(ctx, req.PriorityGroup)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve priority group")
	}
	if len(studentIDs) == 0 {
		return &BulkAssignResult{TermID: term.ID, PriorityGroup: req.PriorityGroup}, nil
	}

	tickets := make([]models.RegistrationTimeTicket, 0, len(studentIDs))
	for _, studentID := range studentIDs {
		tickets = append(tickets, models.RegistrationTimeTicket{
			StudentID:     studentID,
			TermID:        term.ID,
			PriorityGroup: req.PriorityGroup,
			StartsAt:      req.StartsAt.UTC(),
			EndsAt:        req.EndsAt.UTC(),
		})
	}
	if err := s.repo.BulkUpsert(ctx, tickets); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign time tickets")
	}

	s.logger.Info("time tickets assigned",
		zap.String("term_id", term.ID),
		zap.String("priority_group", string(req.PriorityGroup)),
		zap.Int("count", len(tickets)),
		zap.String("actor_id", actor.UserID),
	)
	return &BulkAssignResult{TermID: term.ID, PriorityGroup: req.PriorityGroup, Assigned: len(tickets)}, nil
}

func (s *TimeTicketService) resolveTerm(ctx context.Context, termID string) (*models.Term, error) {
	var (
		term *models.Term
		err  error
	)
	if termID == "" {
		term, err = s.terms.FindCurrent(ctx)
	} else {
		term, err = s.terms.FindByID(ctx, termID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}
