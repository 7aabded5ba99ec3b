package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univops/registrar-api/internal/models"
	appErrors "github.com/univops/registrar-api/pkg/errors"
)

type mockApprovalStore struct {
	approvals map[string]models.EnrollmentApproval
	pending   map[string]bool
	linked    map[string]string
}

func (m *mockApprovalStore) FindByID(ctx context.Context, id string) (*models.EnrollmentApproval, error) {
	if a, ok := m.approvals[id]; ok {
		return &a, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockApprovalStore) FindDetailByID(ctx context.Context, id string) (*models.ApprovalDetail, error) {
	if a, ok := m.approvals[id]; ok {
		return &models.ApprovalDetail{EnrollmentApproval: a}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockApprovalStore) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalDetail, int, error) {
	var list []models.ApprovalDetail
	for _, a := range m.approvals {
		if filter.StudentID != "" && a.StudentID != filter.StudentID {
			continue
		}
		if filter.AdvisorID != "" && a.AdvisorID != filter.AdvisorID {
			continue
		}
		list = append(list, models.ApprovalDetail{EnrollmentApproval: a})
	}
	return list, len(list), nil
}

func (m *mockApprovalStore) ExistsPending(ctx context.Context, studentID, sectionID string) (bool, error) {
	return m.pending[studentID+"|"+sectionID], nil
}

func (m *mockApprovalStore) Create(ctx context.Context, approval *models.EnrollmentApproval) error {
	if approval.ID == "" {
		approval.ID = "apr-new"
	}
	if m.approvals == nil {
		m.approvals = make(map[string]models.EnrollmentApproval)
	}
	m.approvals[approval.ID] = *approval
	return nil
}

func (m *mockApprovalStore) Decide(ctx context.Context, id string, status models.ApprovalStatus, notes *string, respondedAt time.Time) error {
	a, ok := m.approvals[id]
	if !ok || a.Status != models.ApprovalStatusPending {
		return sql.ErrNoRows
	}
	a.Status = status
	a.Notes = notes
	a.RespondedAt = &respondedAt
	m.approvals[id] = a
	return nil
}

func (m *mockApprovalStore) LinkEnrollment(ctx context.Context, id, enrollmentID string) error {
	if m.linked == nil {
		m.linked = make(map[string]string)
	}
	m.linked[id] = enrollmentID
	if a, ok := m.approvals[id]; ok {
		a.EnrollmentID = &enrollmentID
		m.approvals[id] = a
	}
	return nil
}

type mockEnroller struct {
	enrollment *models.Enrollment
	err        error
	calls      int
}

func (m *mockEnroller) EnrollApproved(ctx context.Context, studentID, sectionID string, actor models.Actor) (*models.Enrollment, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.enrollment != nil {
		return m.enrollment, nil
	}
	return &models.Enrollment{
		ID: "enr-approved", StudentID: studentID, CourseSectionID: sectionID,
		Status: models.EnrollmentStatusEnrolled,
	}, nil
}

type approvalFixture struct {
	svc      *ApprovalService
	repo     *mockApprovalStore
	enroller *mockEnroller
	students *mockStudentReader
}

func newApprovalFixture() *approvalFixture {
	advisorID := "adv-1"
	f := &approvalFixture{
		repo:     &mockApprovalStore{approvals: map[string]models.EnrollmentApproval{}, pending: map[string]bool{}},
		enroller: &mockEnroller{},
		students: &mockStudentReader{students: map[string]*models.Student{
			"stu-1": {ID: "stu-1", Active: true, RequiresAdvisorApproval: true, AdvisorID: &advisorID},
			"stu-3": {ID: "stu-3", Active: true},
		}},
	}
	sections := &mockSectionReader{sections: map[string]*models.CourseSection{
		"sec-1": {ID: "sec-1", TermID: "term-1", Status: models.SectionStatusOpen},
	}}
	terms := &mockTermReader{terms: map[string]*models.Term{
		"term-1": {ID: "term-1", AddDropDeadline: time.Now().UTC().Add(24 * time.Hour)},
	}}
	f.svc = NewApprovalService(f.repo, f.students, sections, terms, f.enroller, nil, nil)
	return f
}

func advisorActor(id string) models.Actor {
	return models.Actor{UserID: id, Role: models.RoleAdvisor}
}

func pendingApproval(id string) models.EnrollmentApproval {
	return models.EnrollmentApproval{
		ID: id, StudentID: "stu-1", AdvisorID: "adv-1", CourseSectionID: "sec-1",
		Status: models.ApprovalStatusPending, RequestedAt: time.Now().UTC(),
	}
}

func TestRequestCreatesPendingApproval(t *testing.T) {
	f := newApprovalFixture()

	detail, err := f.svc.Request(context.Background(), RequestApprovalRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, detail.Status)
	assert.Equal(t, "adv-1", detail.AdvisorID)
}

func TestRequestRejectsDuplicatePending(t *testing.T) {
	f := newApprovalFixture()
	f.repo.pending["stu-1|sec-1"] = true

	_, err := f.svc.Request(context.Background(), RequestApprovalRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateApproval.Code, appErrors.FromError(err).Code)
}

func TestRequestRejectsUnflaggedStudent(t *testing.T) {
	f := newApprovalFixture()

	_, err := f.svc.Request(context.Background(), RequestApprovalRequest{StudentID: "stu-3", CourseSectionID: "sec-1"}, studentActor("stu-3"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrApprovalNotApplicable.Code, appErrors.FromError(err).Code)
}

func TestRequestRejectsStudentWithoutAdvisor(t *testing.T) {
	f := newApprovalFixture()
	f.students.students["stu-1"].AdvisorID = nil

	_, err := f.svc.Request(context.Background(), RequestApprovalRequest{StudentID: "stu-1", CourseSectionID: "sec-1"}, studentActor("stu-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAdvisorNotAssigned.Code, appErrors.FromError(err).Code)
}

func TestApproveRunsRegistrationAndLinksEnrollment(t *testing.T) {
	f := newApprovalFixture()
	f.repo.approvals["apr-1"] = pendingApproval("apr-1")

	decision, err := f.svc.Approve(context.Background(), "apr-1", DecideApprovalRequest{}, advisorActor("adv-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, decision.Approval.Status)
	require.NotNil(t, decision.Enrollment)
	assert.Equal(t, "enr-approved", f.repo.linked["apr-1"])
	assert.Equal(t, 1, f.enroller.calls)
}

func TestApproveStandsWhenRegistrationFails(t *testing.T) {
	f := newApprovalFixture()
	f.repo.approvals["apr-1"] = pendingApproval("apr-1")
	f.enroller.err = appErrors.ErrDeadlinePassed

	decision, err := f.svc.Approve(context.Background(), "apr-1", DecideApprovalRequest{}, advisorActor("adv-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, decision.Approval.Status)
	assert.Nil(t, decision.Enrollment)
	require.NotNil(t, decision.EnrollError)
	assert.Equal(t, appErrors.ErrDeadlinePassed.Code, decision.EnrollError.Code)
	assert.Empty(t, f.repo.linked)
}

func TestApproveRejectsResolvedRequest(t *testing.T) {
	f := newApprovalFixture()
	resolved := pendingApproval("apr-1")
	resolved.Status = models.ApprovalStatusDenied
	f.repo.approvals["apr-1"] = resolved

	_, err := f.svc.Approve(context.Background(), "apr-1", DecideApprovalRequest{}, advisorActor("adv-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrApprovalNotPending.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, f.enroller.calls)
}

func TestApproveRejectsWrongAdvisor(t *testing.T) {
	f := newApprovalFixture()
	f.repo.approvals["apr-1"] = pendingApproval("apr-1")

	_, err := f.svc.Approve(context.Background(), "apr-1", DecideApprovalRequest{}, advisorActor("adv-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDenyRequiresNonEmptyNote(t *testing.T) {
	f := newApprovalFixture()
	f.repo.approvals["apr-1"] = pendingApproval("apr-1")

	_, err := f.svc.Deny(context.Background(), "apr-1", DecideApprovalRequest{Notes: "   "}, advisorActor("adv-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDenialReasonRequired.Code, appErrors.FromError(err).Code)

	detail, err := f.svc.Deny(context.Background(), "apr-1", DecideApprovalRequest{Notes: "prerequisite missing"}, advisorActor("adv-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusDenied, detail.Status)
	require.NotNil(t, detail.Notes)
	assert.Equal(t, "prerequisite missing", *detail.Notes)
}

func TestListScopesAdvisorToOwnRequests(t *testing.T) {
	f := newApprovalFixture()
	f.repo.approvals["apr-1"] = pendingApproval("apr-1")
	other := pendingApproval("apr-2")
	other.AdvisorID = "adv-2"
	f.repo.approvals["apr-2"] = other

	list, _, err := f.svc.List(context.Background(), models.ApprovalFilter{}, advisorActor("adv-1"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "apr-1", list[0].ID)
}
