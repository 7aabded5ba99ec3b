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

type mockTermStore struct {
	terms   map[string]*models.Term
	current string
}

func (m *mockTermStore) FindByID(ctx context.Context, id string) (*models.Term, error) {
	if t, ok := m.terms[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTermStore) FindCurrent(ctx context.Context) (*models.Term, error) {
	if t, ok := m.terms[m.current]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTermStore) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	var list []models.Term
	for _, t := range m.terms {
		list = append(list, *t)
	}
	return list, len(list), nil
}

func (m *mockTermStore) Create(ctx context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = "term-new"
	}
	m.terms[term.ID] = term
	return nil
}

func (m *mockTermStore) Update(ctx context.Context, term *models.Term) error {
	m.terms[term.ID] = term
	return nil
}

func (m *mockTermStore) SetCurrent(ctx context.Context, id string) error {
	for _, t := range m.terms {
		t.IsCurrent = false
	}
	if t, ok := m.terms[id]; ok {
		t.IsCurrent = true
		m.current = id
	}
	return nil
}

func newTermFixture() (*TermService, *mockTermStore) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	repo := &mockTermStore{
		terms: map[string]*models.Term{
			"term-1": {
				ID: "term-1", Name: "Fall 2026", AcademicYear: "2026/2027", Period: models.PeriodFall,
				StartDate: start, EndDate: start.AddDate(0, 4, 0), AddDropDeadline: start.AddDate(0, 0, 14),
				IsCurrent: true,
			},
		},
		current: "term-1",
	}
	return NewTermService(repo, nil, nil), repo
}

func TestCreateTermValidatesDeadlineWithinTerm(t *testing.T) {
	svc, _ := newTermFixture()
	start := time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)

	_, err := svc.Create(context.Background(), CreateTermRequest{
		Name: "Spring 2027", AcademicYear: "2026/2027", Period: models.PeriodSpring,
		StartDate: start, EndDate: start.AddDate(0, 4, 0),
		AddDropDeadline: start.AddDate(0, 5, 0),
	}, registrarActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	term, err := svc.Create(context.Background(), CreateTermRequest{
		Name: "Spring 2027", AcademicYear: "2026/2027", Period: models.PeriodSpring,
		StartDate: start, EndDate: start.AddDate(0, 4, 0),
		AddDropDeadline: start.AddDate(0, 0, 14),
	}, registrarActor)
	require.NoError(t, err)
	assert.Equal(t, "Spring 2027", term.Name)
}

func TestSetCurrentMovesFlag(t *testing.T) {
	svc, repo := newTermFixture()
	start := time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)
	repo.terms["term-2"] = &models.Term{
		ID: "term-2", Name: "Spring 2027", Period: models.PeriodSpring,
		StartDate: start, EndDate: start.AddDate(0, 4, 0), AddDropDeadline: start.AddDate(0, 0, 14),
	}

	term, err := svc.SetCurrent(context.Background(), "term-2", registrarActor)
	require.NoError(t, err)
	assert.True(t, term.IsCurrent)
	assert.False(t, repo.terms["term-1"].IsCurrent)

	current, err := svc.GetCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "term-2", current.ID)
}

func TestUpdateTermMovesDeadline(t *testing.T) {
	svc, repo := newTermFixture()
	existing := repo.terms["term-1"]

	updated, err := svc.Update(context.Background(), "term-1", UpdateTermRequest{
		Name:            existing.Name,
		StartDate:       existing.StartDate,
		EndDate:         existing.EndDate,
		AddDropDeadline: existing.StartDate.AddDate(0, 1, 0),
	}, registrarActor)
	require.NoError(t, err)
	assert.Equal(t, existing.StartDate.AddDate(0, 1, 0), updated.AddDropDeadline)
}

func TestGetUnknownTerm(t *testing.T) {
	svc, _ := newTermFixture()

	_, err := svc.Get(context.Background(), "term-missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
