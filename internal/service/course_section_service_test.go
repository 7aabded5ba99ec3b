package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univops/registrar-api/internal/models"
	appErrors "github.com/univops/registrar-api/pkg/errors"
)

type mockSectionStore struct {
	sections     map[string]*models.CourseSection
	courses      map[string]*models.Course
	availability map[string]*models.SectionAvailability
	availCalls   int
}

func (m *mockSectionStore) FindByID(ctx context.Context, id string) (*models.CourseSection, error) {
	if s, ok := m.sections[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionStore) FindDetailByID(ctx context.Context, id string) (*models.CourseSectionDetail, error) {
	if s, ok := m.sections[id]; ok {
		return &models.CourseSectionDetail{CourseSection: *s}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionStore) List(ctx context.Context, filter models.CourseSectionFilter) ([]models.CourseSectionDetail, int, error) {
	var list []models.CourseSectionDetail
	for _, s := range m.sections {
		list = append(list, models.CourseSectionDetail{CourseSection: *s})
	}
	return list, len(list), nil
}

func (m *mockSectionStore) Create(ctx context.Context, section *models.CourseSection) error {
	if section.ID == "" {
		section.ID = "sec-new"
	}
	m.sections[section.ID] = section
	return nil
}

func (m *mockSectionStore) UpdateStatus(ctx context.Context, id string, status models.SectionStatus) error {
	if s, ok := m.sections[id]; ok {
		s.Status = status
	}
	return nil
}

func (m *mockSectionStore) Availability(ctx context.Context, id string) (*models.SectionAvailability, error) {
	m.availCalls++
	if a, ok := m.availability[id]; ok {
		return a, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionStore) FindCourseByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type mockCache struct {
	entries map[string][]byte
	deleted []string
}

func (m *mockCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.entries[key] = raw
	return nil
}

func (m *mockCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deleted = append(m.deleted, pattern)
	delete(m.entries, pattern)
	return nil
}

func newSectionFixture() (*CourseSectionService, *mockSectionStore, *mockCache) {
	repo := &mockSectionStore{
		sections: map[string]*models.CourseSection{
			"sec-1": {ID: "sec-1", CourseID: "crs-1", TermID: "term-1", Capacity: 30, Status: models.SectionStatusOpen},
		},
		courses: map[string]*models.Course{
			"crs-1": {ID: "crs-1", Code: "CS101", Title: "Intro to Computing"},
		},
		availability: map[string]*models.SectionAvailability{
			"sec-1": {SectionID: "sec-1", Capacity: 30, Enrolled: 12, Waitlisted: 2, SeatsRemaining: 18},
		},
	}
	cache := &mockCache{entries: map[string][]byte{}}
	terms := &mockTermReader{terms: map[string]*models.Term{
		"term-1": {ID: "term-1", AddDropDeadline: time.Now().UTC().Add(24 * time.Hour)},
	}}
	svc := NewCourseSectionService(repo, terms, cache, 30*time.Second, nil, nil)
	return svc, repo, cache
}

func TestAvailabilityServedFromCacheOnSecondRead(t *testing.T) {
	svc, repo, _ := newSectionFixture()

	first, err := svc.Availability(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.Equal(t, 18, first.SeatsRemaining)
	assert.Equal(t, 1, repo.availCalls)

	second, err := svc.Availability(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.availCalls)
}

func TestAvailabilityUnknownSection(t *testing.T) {
	svc, _, _ := newSectionFixture()

	_, err := svc.Availability(context.Background(), "sec-missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSectionNotFound.Code, appErrors.FromError(err).Code)
}

func TestUpdateStatusInvalidatesAvailabilityCache(t *testing.T) {
	svc, repo, cache := newSectionFixture()
	_, err := svc.Availability(context.Background(), "sec-1")
	require.NoError(t, err)

	detail, err := svc.UpdateStatus(context.Background(), "sec-1", UpdateSectionStatusRequest{Status: models.SectionStatusClosed}, registrarActor)
	require.NoError(t, err)
	assert.Equal(t, models.SectionStatusClosed, detail.Status)
	assert.Equal(t, models.SectionStatusClosed, repo.sections["sec-1"].Status)
	assert.NotEmpty(t, cache.deleted)
}

func TestCreateSectionAllowsZeroCapacity(t *testing.T) {
	svc, _, _ := newSectionFixture()

	detail, err := svc.Create(context.Background(), CreateSectionRequest{
		CourseID: "crs-1", TermID: "term-1", SectionNumber: "002", Capacity: 0,
	}, registrarActor)
	require.NoError(t, err)
	assert.Equal(t, 0, detail.Capacity)
	assert.Equal(t, models.SectionStatusOpen, detail.Status)
}

func TestCreateSectionRejectsNegativeCapacity(t *testing.T) {
	svc, _, _ := newSectionFixture()

	_, err := svc.Create(context.Background(), CreateSectionRequest{
		CourseID: "crs-1", TermID: "term-1", SectionNumber: "003", Capacity: -1,
	}, registrarActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateSectionUnknownCourse(t *testing.T) {
	svc, _, _ := newSectionFixture()

	_, err := svc.Create(context.Background(), CreateSectionRequest{
		CourseID: "crs-missing", TermID: "term-1", SectionNumber: "001", Capacity: 10,
	}, registrarActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
