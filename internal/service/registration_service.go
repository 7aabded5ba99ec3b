package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/univops/registrar-api/internal/models"
	"github.com/univops/registrar-api/internal/repository"
	appErrors "github.com/univops/registrar-api/pkg/errors"
)

type enrollmentStore interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsActive(ctx context.Context, studentID, sectionID string) (bool, error)
	Register(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error)
	Withdraw(ctx context.Context, id string) (*models.Enrollment, *models.Enrollment, error)
	Swap(ctx context.Context, fromID, toSectionID string) (*models.Enrollment, *models.Enrollment, *models.Enrollment, error)
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, withdrawnAt *time.Time) error
}

type sectionReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseSection, error)
}

type termReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type approvalReader interface {
	HasApproved(ctx context.Context, studentID, sectionID string) (bool, error)
}

type ticketReader interface {
	FindByStudentAndTerm(ctx context.Context, studentID, termID string) (*models.RegistrationTimeTicket, error)
}

// promotionNotifier receives waitlist promotion events. Dispatch is
// asynchronous; the engine never waits on delivery.
type promotionNotifier interface {
	NotifyPromotion(enrollment *models.Enrollment)
}

// registrationRecorder captures engine outcome metrics.
type registrationRecorder interface {
	RecordRegistration(status models.EnrollmentStatus)
	RecordPromotion()
	RecordSwap(waitlisted bool)
}

// EnrollRequest describes a registration request.
type EnrollRequest struct {
	StudentID       string `json:"student_id" validate:"required"`
	CourseSectionID string `json:"course_section_id" validate:"required"`
}

// SwapRequest moves a student between two sections atomically.
type SwapRequest struct {
	FromEnrollmentID  string `json:"from_enrollment_id" validate:"required"`
	ToCourseSectionID string `json:"to_course_section_id" validate:"required"`
}

// UpdateEnrollmentRequest applies an administrative status correction.
type UpdateEnrollmentRequest struct {
	Status models.EnrollmentStatus `json:"status" validate:"required,oneof=ENROLLED WAITLISTED COMPLETED WITHDRAWN"`
}

// RegistrationConfig tunes engine gating.
type RegistrationConfig struct {
	EnforceTimeTickets bool
}

// RegistrationService is the registration engine: the only component that
// creates, transitions or swaps enrollment records. It enforces deadlines,
// uniqueness, approval gating, time-ticket windows and capacity; the
// capacity decision itself runs inside the repository's locked transaction.
type RegistrationService struct {
	repo      enrollmentStore
	sections  sectionReader
	terms     termReader
	students  studentReader
	approvals approvalReader
	tickets   ticketReader
	notifier  promotionNotifier
	metrics   registrationRecorder
	cfg       RegistrationConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistrationService constructs the engine.
func NewRegistrationService(
	repo enrollmentStore,
	sections sectionReader,
	terms termReader,
	students studentReader,
	approvals approvalReader,
	tickets ticketReader,
	notifier promotionNotifier,
	metrics registrationRecorder,
	cfg RegistrationConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		repo:      repo,
		sections:  sections,
		terms:     terms,
		students:  students,
		approvals: approvals,
		tickets:   tickets,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns enrollments with pagination metadata. Students see only their
// own records; administrative and advisor roles see everything requested.
func (s *RegistrationService) List(ctx context.Context, filter models.EnrollmentFilter, actor models.Actor) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if actor.Role == models.RoleStudent {
		filter.StudentID = actor.StudentID
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one enrollment, enforcing student ownership.
func (s *RegistrationService) Get(ctx context.Context, id string, actor models.Actor) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if actor.Role == models.RoleStudent && detail.StudentID != actor.StudentID {
		return nil, appErrors.ErrForbidden
	}
	return detail, nil
}

// Enroll registers a student into a section. Preconditions run in order and
// short-circuit: deadline, duplicate, approval gate, time ticket. Capacity
// exhaustion is not a failure: the enrollment comes back WAITLISTED and the
// caller must treat that as success.
func (s *RegistrationService) Enroll(ctx context.Context, req EnrollRequest, actor models.Actor) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if actor.Role == models.RoleStudent && req.StudentID != actor.StudentID {
		return nil, appErrors.ErrForbidden
	}

	student, err := s.loadStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}

	section, term, err := s.loadSectionAndTerm(ctx, req.CourseSectionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPreconditions(ctx, student, section, term, actor); err != nil {
		return nil, err
	}

	enrollment, err := s.repo.Register(ctx, student.ID, section.ID)
	if err != nil {
		return nil, s.mapEngineError(err)
	}
	if s.metrics != nil {
		s.metrics.RecordRegistration(enrollment.Status)
	}
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("section_id", enrollment.CourseSectionID),
		zap.String("status", string(enrollment.Status)),
		zap.String("actor_id", actor.UserID),
	)

	return s.detail(ctx, enrollment.ID)
}

// Withdraw transitions an enrollment to WITHDRAWN and promotes the earliest
// waitlisted student when a seat was freed. Promotion happens inside the same
// transaction so the freed seat is immediately reflected.
func (s *RegistrationService) Withdraw(ctx context.Context, id string, actor models.Actor) (*models.EnrollmentDetail, error) {
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if actor.Role == models.RoleStudent && existing.StudentID != actor.StudentID {
		return nil, appErrors.ErrForbidden
	}

	_, term, err := s.loadSectionAndTerm(ctx, existing.CourseSectionID)
	if err != nil {
		return nil, err
	}
	if !term.AllowsRegistration(s.now()) {
		return nil, appErrors.ErrDeadlinePassed
	}

	withdrawn, promoted, err := s.repo.Withdraw(ctx, id)
	if err != nil {
		return nil, s.mapEngineError(err)
	}
	s.afterPromotion(promoted)
	s.logger.Info("enrollment withdrawn",
		zap.String("enrollment_id", withdrawn.ID),
		zap.Bool("promotion", promoted != nil),
		zap.String("actor_id", actor.UserID),
	)

	return s.detail(ctx, withdrawn.ID)
}

// Swap executes withdrawal plus re-registration as one all-or-nothing unit.
// Both terms' deadlines are validated up front; failure of the destination
// leg leaves the source enrollment untouched.
func (s *RegistrationService) Swap(ctx context.Context, req SwapRequest, actor models.Actor) (*models.SwapResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid swap payload")
	}

	source, err := s.repo.FindByID(ctx, req.FromEnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load source enrollment")
	}
	if !actor.IsAdministrative() && source.StudentID != actor.StudentID {
		return nil, appErrors.ErrSwapUnauthorized
	}
	if !source.Status.Active() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "source enrollment not active")
	}

	student, err := s.loadStudent(ctx, source.StudentID)
	if err != nil {
		return nil, err
	}

	// Deadlines are checked independently for both terms involved; a swap
	// across terms must honor each term's own add/drop cutoff.
	_, sourceTerm, err := s.loadSectionAndTerm(ctx, source.CourseSectionID)
	if err != nil {
		return nil, err
	}
	if !sourceTerm.AllowsRegistration(s.now()) {
		return nil, appErrors.ErrDeadlinePassed
	}
	destSection, destTerm, err := s.loadSectionAndTerm(ctx, req.ToCourseSectionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPreconditions(ctx, student, destSection, destTerm, actor); err != nil {
		return nil, err
	}

	from, to, promoted, err := s.repo.Swap(ctx, req.FromEnrollmentID, req.ToCourseSectionID)
	if err != nil {
		return nil, s.mapEngineError(err)
	}
	s.afterPromotion(promoted)
	waitlisted := to.Status == models.EnrollmentStatusWaitlisted
	if s.metrics != nil {
		s.metrics.RecordRegistration(to.Status)
		s.metrics.RecordSwap(waitlisted)
	}
	s.logger.Info("enrollment swapped",
		zap.String("from_enrollment_id", from.ID),
		zap.String("to_enrollment_id", to.ID),
		zap.Bool("waitlisted", waitlisted),
		zap.String("actor_id", actor.UserID),
	)

	fromDetail, err := s.detail(ctx, from.ID)
	if err != nil {
		return nil, err
	}
	toDetail, err := s.detail(ctx, to.ID)
	if err != nil {
		return nil, err
	}
	return &models.SwapResult{From: fromDetail, To: toDetail, Waitlisted: waitlisted}, nil
}

// UpdateStatus applies a manual correction, restricted to administrative
// actors by the route layer. Records are never deleted; COMPLETED is written
// by the grading collaborator at term close through this same path. A
// correction to WITHDRAWN frees the seat through the same transactional path
// as a student withdrawal, so the waitlist promotes here too.
func (s *RegistrationService) UpdateStatus(ctx context.Context, id string, req UpdateEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if req.Status == models.EnrollmentStatusWithdrawn {
		_, promoted, err := s.repo.Withdraw(ctx, id)
		if err != nil {
			return nil, s.mapEngineError(err)
		}
		s.afterPromotion(promoted)
		return s.detail(ctx, id)
	}

	if err := s.repo.UpdateStatus(ctx, id, req.Status, existing.WithdrawnAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}
	return s.detail(ctx, id)
}

// EnrollApproved registers a gated student after advisor approval. The
// approval service calls this with gating already satisfied; the remaining
// preconditions (deadline, duplicate, capacity) still apply.
func (s *RegistrationService) EnrollApproved(ctx context.Context, studentID, sectionID string, actor models.Actor) (*models.Enrollment, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}
	section, term, err := s.loadSectionAndTerm(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if section.Status != models.SectionStatusOpen {
		return nil, appErrors.ErrSectionNotOpen
	}
	if !term.AllowsRegistration(s.now()) {
		return nil, appErrors.ErrDeadlinePassed
	}
	exists, err := s.repo.ExistsActive(ctx, studentID, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.ErrDuplicateEnrollment
	}

	enrollment, err := s.repo.Register(ctx, studentID, sectionID)
	if err != nil {
		return nil, s.mapEngineError(err)
	}
	if s.metrics != nil {
		s.metrics.RecordRegistration(enrollment.Status)
	}
	return enrollment, nil
}

func (s *RegistrationService) checkPreconditions(ctx context.Context, student *models.Student, section *models.CourseSection, term *models.Term, actor models.Actor) error {
	if section.Status != models.SectionStatusOpen {
		return appErrors.ErrSectionNotOpen
	}
	if !term.AllowsRegistration(s.now()) {
		return appErrors.ErrDeadlinePassed
	}

	exists, err := s.repo.ExistsActive(ctx, student.ID, section.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return appErrors.ErrDuplicateEnrollment
	}

	if student.RequiresAdvisorApproval {
		approved, err := s.approvals.HasApproved(ctx, student.ID, section.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check approval")
		}
		if !approved {
			return appErrors.ErrApprovalRequired
		}
	}

	// Time tickets gate student-initiated requests only; administrative
	// overrides bypass the window. A missing ticket means not yet eligible.
	if s.cfg.EnforceTimeTickets && !actor.IsAdministrative() {
		ticket, err := s.tickets.FindByStudentAndTerm(ctx, student.ID, term.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrOutsideWindow
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time ticket")
		}
		if !ticket.IsOpen(s.now()) {
			return appErrors.ErrOutsideWindow
		}
	}
	return nil
}

func (s *RegistrationService) loadStudent(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *RegistrationService) loadSectionAndTerm(ctx context.Context, sectionID string) (*models.CourseSection, *models.Term, error) {
	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrSectionNotFound
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	term, err := s.terms.FindByID(ctx, section.TermID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return section, term, nil
}

func (s *RegistrationService) afterPromotion(promoted *models.Enrollment) {
	if promoted == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordPromotion()
	}
	if s.notifier != nil {
		s.notifier.NotifyPromotion(promoted)
	}
}

func (s *RegistrationService) detail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

func (s *RegistrationService) mapEngineError(err error) error {
	switch {
	case errors.Is(err, repository.ErrSectionMissing):
		return appErrors.ErrSectionNotFound
	case errors.Is(err, repository.ErrSectionClosed):
		return appErrors.ErrSectionNotOpen
	case errors.Is(err, repository.ErrEnrollmentMissing):
		return appErrors.ErrEnrollmentNotFound
	case errors.Is(err, repository.ErrAlreadyEnrolled):
		return appErrors.ErrDuplicateEnrollment
	case errors.Is(err, repository.ErrAlreadyWithdrawn):
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment already withdrawn")
	case errors.Is(err, repository.ErrEnrollmentInactive):
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment not active")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "registration engine failure")
	}
}
