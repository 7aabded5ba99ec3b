package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univops/registrar-api/internal/models"
	"github.com/univops/registrar-api/internal/repository"
	appErrors "github.com/univops/registrar-api/pkg/errors"
)

type mockEnrollmentStore struct {
	enrollments    map[string]models.Enrollment
	active         map[string]bool
	registerStatus models.EnrollmentStatus
	registerErr    error
	registered     []string
	promoted       *models.Enrollment
	swapErr        error
}

func (m *mockEnrollmentStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var list []models.EnrollmentDetail
	for _, e := range m.enrollments {
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		list = append(list, models.EnrollmentDetail{Enrollment: e})
	}
	return list, len(list), nil
}

func (m *mockEnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) ExistsActive(ctx context.Context, studentID, sectionID string) (bool, error) {
	return m.active[studentID+"|"+sectionID], nil
}

func (m *mockEnrollmentStore) Register(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	status := m.registerStatus
	if status == "" {
		status = models.EnrollmentStatusEnrolled
	}
	e := models.Enrollment{
		ID:              "enr-" + studentID + "-" + sectionID,
		StudentID:       studentID,
		CourseSectionID: sectionID,
		Status:          status,
		EnrolledAt:      time.Now().UTC(),
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	m.enrollments[e.ID] = e
	m.registered = append(m.registered, e.ID)
	return &e, nil
}

func (m *mockEnrollmentStore) Withdraw(ctx context.Context, id string) (*models.Enrollment, *models.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, nil, repository.ErrEnrollmentMissing
	}
	if e.Status == models.EnrollmentStatusWithdrawn {
		return nil, nil, repository.ErrAlreadyWithdrawn
	}
	e.Status = models.EnrollmentStatusWithdrawn
	now := time.Now().UTC()
	e.WithdrawnAt = &now
	m.enrollments[id] = e
	return &e, m.promoted, nil
}

func (m *mockEnrollmentStore) Swap(ctx context.Context, fromID, toSectionID string) (*models.Enrollment, *models.Enrollment, *models.Enrollment, error) {
	if m.swapErr != nil {
		return nil, nil, nil, m.swapErr
	}
	from, ok := m.enrollments[fromID]
	if !ok {
		return nil, nil, nil, repository.ErrEnrollmentMissing
	}
	from.Status = models.EnrollmentStatusWithdrawn
	m.enrollments[fromID] = from
	to, err := m.Register(ctx, from.StudentID, toSectionID)
	if err != nil {
		return nil, nil, nil, err
	}
	return &from, to, m.promoted, nil
}

func (m *mockEnrollmentStore) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, withdrawnAt *time.Time) error {
	if e, ok := m.enrollments[id]; ok {
		e.Status = status
		e.WithdrawnAt = withdrawnAt
		m.enrollments[id] = e
	}
	return nil
}

type mockSectionReader struct {
	sections map[string]*models.CourseSection
}

func (m *mockSectionReader) FindByID(ctx context.Context, id string) (*models.CourseSection, error) {
	if s, ok := m.sections[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockTermReader struct {
	terms map[string]*models.Term
}

func (m *mockTermReader) FindByID(ctx context.Context, id string) (*models.Term, error) {
	if t, ok := m.terms[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

type mockStudentReader struct {
	students map[string]*models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockApprovalReader struct {
	approved map[string]bool
}

func (m *mockApprovalReader) HasApproved(ctx context.Context, studentID, sectionID string) (bool, error) {
	return m.approved[studentID+"|"+sectionID], nil
}

type mockTicketReader struct {
	tickets map[string]*models.RegistrationTimeTicket
}

func (m *mockTicketReader) FindByStudentAndTerm(ctx context.Context, studentID, termID string) (*models.RegistrationTimeTicket, error) {
	if t, ok := m.tickets[studentID+"|"+termID]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

type mockNotifier struct {
	promotions []*models.Enrollment
}

func (m *mockNotifier) NotifyPromotion(enrollment *models.Enrollment) {
	m.promotions = append(m.promotions, enrollment)
}

type mockRecorder struct {
	registrations []models.EnrollmentStatus
	promotions    int
	swaps         []bool
}

func (m *mockRecorder) RecordRegistration(status models.EnrollmentStatus) {
	m.registrations = append(m.registrations, status)
}

func (m *mockRecorder) RecordPromotion() { m.promotions++ }

func (m *mockRecorder) RecordSwap(waitlisted bool) { m.swaps = append(m.swaps, waitlisted) }

type engineFixture struct {
	svc      *RegistrationService
	repo     *mockEnrollmentStore
	sections *mockSectionReader
	terms    *mockTermReader
	students *mockStudentReader
	approval *mockApprovalReader
	tickets  *mockTicketReader
	notifier *mockNotifier
	recorder *mockRecorder
}

func newEngineFixture(enforceTickets bool) *engineFixture {
	deadline := time.Now().UTC().Add(24 * time.Hour)
	f := &engineFixture{
		repo: &mockEnrollmentStore{enrollments: map[string]models.Enrollment{}, active: map[string]bool{}},
		sections: &mockSectionReader{sections: map[string]*models.CourseSection{
			"sec-1": {ID: "sec-1", TermID: "term-1", Capacity: 30, Status: models.SectionStatusOpen},
			"sec-2": {ID: "sec-2", TermID: "term-1", Capacity: 30, Status: models.SectionStatusOpen},
		}},
		terms: &mockTermReader{terms: map[string]*models.Term{
			"term-1": {ID: "term-1", AddDropDeadline: deadline},
		}},
		students: &mockStudentReader{students: map[string]*models.Student{
			"stu-1": {ID: "stu-1", Active: true},
			"stu-2": {ID: "stu-2", Active: true, RequiresAdvisorApproval: true},
		}},
		approval: &mockApprovalReader{approved: map[string]bool{}},
		tickets:  &mockTicketReader{tickets: map[string]*models.RegistrationTimeTicket{}},
		notifier: &mockNotifier{},
		recorder: &mockRecorder{},
	}
	f.svc = NewRegistrationService(
		f.repo, f.sections, f.terms, f.students, f.approval, f.tickets,
		f.notifier, f.recorder, RegistrationConfig{EnforceTimeTickets: enforceTickets}, nil, nil,
	)
	return f
}

func studentActor(studentID string) models.Actor {
	return models.Actor{UserID: "user-" + studentID, StudentID: studentID, Role: models.RoleStudent}
}

var registrarActor = models.Actor{UserID: "user-reg", Role: models.RoleRegistrar}

func TestEnrollSeatsStudentWhenCapacityAvailable(t *testing.T) {
	f := newEngineFixture(false)

	detail, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, detail.Status)
	assert.Equal(t, []models.EnrollmentStatus{models.EnrollmentStatusEnrolled}, f.recorder.registrations)
}

func TestEnrollWaitlistsOnFullSectionAsSuccess(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.registerStatus = models.EnrollmentStatusWaitlisted

	detail, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, detail.Status)
}

func TestEnrollRejectsAfterDeadline(t *testing.T) {
	f := newEngineFixture(false)
	f.terms.terms["term-1"].AddDropDeadline = time.Now().UTC().Add(-time.Hour)

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDeadlinePassed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.registered)
}

func TestEnrollRejectsDuplicateActiveEnrollment(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.active["stu-1|sec-1"] = true

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)
}

func TestEnrollRequiresAdvisorApprovalForFlaggedStudent(t *testing.T) {
	f := newEngineFixture(false)

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-2", CourseSectionID: "sec-1"}, studentActor("stu-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrApprovalRequired.Code, appErrors.FromError(err).Code)

	f.approval.approved["stu-2|sec-1"] = true
	detail, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-2", CourseSectionID: "sec-1"}, studentActor("stu-2"))
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, detail.Status)
}

func TestEnrollEnforcesTimeTicketWindow(t *testing.T) {
	f := newEngineFixture(true)
	now := time.Now().UTC()

	// No ticket at all.
	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOutsideWindow.Code, appErrors.FromError(err).Code)

	// Ticket not yet open.
	f.tickets.tickets["stu-1|term-1"] = &models.RegistrationTimeTicket{
		StudentID: "stu-1", TermID: "term-1",
		StartsAt: now.Add(time.Hour), EndsAt: now.Add(2 * time.Hour),
	}
	_, err = f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOutsideWindow.Code, appErrors.FromError(err).Code)

	// Open window succeeds.
	f.tickets.tickets["stu-1|term-1"].StartsAt = now.Add(-time.Hour)
	_, err = f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.NoError(t, err)
}

func TestEnrollAdministrativeActorBypassesTimeTicket(t *testing.T) {
	f := newEngineFixture(true)

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, registrarActor)
	require.NoError(t, err)
}

func TestEnrollStudentCannotActForAnotherStudent(t *testing.T) {
	f := newEngineFixture(false)

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-2", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEnrollRejectsClosedSection(t *testing.T) {
	f := newEngineFixture(false)
	f.sections.sections["sec-1"].Status = models.SectionStatusClosed

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSectionNotOpen.Code, appErrors.FromError(err).Code)
}

func TestWithdrawPromotesAndNotifies(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}
	promoted := &models.Enrollment{
		ID: "enr-2", StudentID: "stu-2", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}
	f.repo.promoted = promoted

	detail, err := f.svc.Withdraw(context.Background(), "enr-1", studentActor("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, detail.Status)
	require.Len(t, f.notifier.promotions, 1)
	assert.Equal(t, "enr-2", f.notifier.promotions[0].ID)
	assert.Equal(t, 1, f.recorder.promotions)
}

func TestWithdrawRejectsAlreadyWithdrawnEnrollment(t *testing.T) {
	f := newEngineFixture(false)
	now := time.Now().UTC()
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusWithdrawn, WithdrawnAt: &now,
	}

	_, err := f.svc.Withdraw(context.Background(), "enr-1", studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestWithdrawRejectsOtherStudentsEnrollment(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}

	_, err := f.svc.Withdraw(context.Background(), "enr-1", studentActor("stu-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSwapMovesStudentBetweenSections(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}

	result, err := f.svc.Swap(context.Background(), SwapRequest{FromEnrollmentID: "enr-1", ToCourseSectionID: "sec-2"}, studentActor("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, result.From.Status)
	assert.Equal(t, models.EnrollmentStatusEnrolled, result.To.Status)
	assert.False(t, result.Waitlisted)
	assert.Equal(t, []bool{false}, f.recorder.swaps)
}

func TestSwapDestinationWaitlistIsSuccess(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}
	f.repo.registerStatus = models.EnrollmentStatusWaitlisted

	result, err := f.svc.Swap(context.Background(), SwapRequest{FromEnrollmentID: "enr-1", ToCourseSectionID: "sec-2"}, studentActor("stu-1"))
	require.NoError(t, err)
	assert.True(t, result.Waitlisted)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, result.To.Status)
}

func TestSwapRejectedWhenActorDoesNotOwnSource(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}

	_, err := f.svc.Swap(context.Background(), SwapRequest{FromEnrollmentID: "enr-1", ToCourseSectionID: "sec-2"}, studentActor("stu-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSwapUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestSwapAllowedForRegistrarOnBehalfOfStudent(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}

	_, err := f.svc.Swap(context.Background(), SwapRequest{FromEnrollmentID: "enr-1", ToCourseSectionID: "sec-2"}, registrarActor)
	require.NoError(t, err)
}

func TestSwapRejectedAfterDeadline(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}
	f.terms.terms["term-1"].AddDropDeadline = time.Now().UTC().Add(-time.Hour)

	_, err := f.svc.Swap(context.Background(), SwapRequest{FromEnrollmentID: "enr-1", ToCourseSectionID: "sec-2"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDeadlinePassed.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusEnrolled, f.repo.enrollments["enr-1"].Status)
}

func TestSwapRejectsDuplicateInDestination(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}
	f.repo.active["stu-1|sec-2"] = true

	_, err := f.svc.Swap(context.Background(), SwapRequest{FromEnrollmentID: "enr-1", ToCourseSectionID: "sec-2"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)
}

func TestUpdateStatusToWithdrawnPromotesWaitlist(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}
	promoted := &models.Enrollment{
		ID: "enr-2", StudentID: "stu-2", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}
	f.repo.promoted = promoted

	detail, err := f.svc.UpdateStatus(context.Background(), "enr-1", UpdateEnrollmentRequest{Status: models.EnrollmentStatusWithdrawn})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, detail.Status)
	assert.NotNil(t, detail.WithdrawnAt)
	require.Len(t, f.notifier.promotions, 1)
	assert.Equal(t, "enr-2", f.notifier.promotions[0].ID)
	assert.Equal(t, 1, f.recorder.promotions)
}

func TestUpdateStatusToCompletedDoesNotTouchWaitlist(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1",
		Status: models.EnrollmentStatusEnrolled,
	}
	f.repo.promoted = &models.Enrollment{ID: "enr-2"}

	detail, err := f.svc.UpdateStatus(context.Background(), "enr-1", UpdateEnrollmentRequest{Status: models.EnrollmentStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, detail.Status)
	assert.Empty(t, f.notifier.promotions)
	assert.Equal(t, 0, f.recorder.promotions)
}

func TestEnrollApprovedRejectsInactiveStudent(t *testing.T) {
	f := newEngineFixture(false)
	f.students.students["stu-3"] = &models.Student{ID: "stu-3", Active: false, RequiresAdvisorApproval: true}

	_, err := f.svc.EnrollApproved(context.Background(), "stu-3", "sec-1", registrarActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.registered)
}

func TestListScopesStudentToOwnEnrollments(t *testing.T) {
	f := newEngineFixture(false)
	f.repo.enrollments["enr-1"] = models.Enrollment{ID: "enr-1", StudentID: "stu-1", CourseSectionID: "sec-1", Status: models.EnrollmentStatusEnrolled}
	f.repo.enrollments["enr-2"] = models.Enrollment{ID: "enr-2", StudentID: "stu-2", CourseSectionID: "sec-1", Status: models.EnrollmentStatusEnrolled}

	list, page, err := f.svc.List(context.Background(), models.EnrollmentFilter{}, studentActor("stu-1"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "stu-1", list[0].StudentID)
	assert.Equal(t, 1, page.TotalCount)
}
