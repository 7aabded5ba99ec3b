package handler

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	internalmiddleware "github.com/univops/registrar-api/internal/middleware"
	"github.com/univops/registrar-api/internal/models"
	"github.com/univops/registrar-api/internal/service"
)

type handlerTicketStore struct {
	tickets  map[string]*models.RegistrationTimeTicket
	students map[models.ClassStanding][]string
}

func (s *handlerTicketStore) FindByStudentAndTerm(_ context.Context, studentID, termID string) (*models.RegistrationTimeTicket, error) {
	ticket, ok := s.tickets[studentID+"/"+termID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return ticket, nil
}

func (s *handlerTicketStore) List(_ context.Context, filter models.TimeTicketFilter) ([]models.RegistrationTimeTicket, int, error) {
	var out []models.RegistrationTimeTicket
	for _, t := range s.tickets {
		if filter.TermID != "" && t.TermID != filter.TermID {
			continue
		}
		out = append(out, *t)
	}
	return out, len(out), nil
}

func (s *handlerTicketStore) BulkUpsert(_ context.Context, tickets []models.RegistrationTimeTicket) error {
	for i := range tickets {
		stored := tickets[i]
		s.tickets[stored.StudentID+"/"+stored.TermID] = &stored
	}
	return nil
}

func (s *handlerTicketStore) StudentIDsByStanding(_ context.Context, standing models.ClassStanding) ([]string, error) {
	return s.students[standing], nil
}

func newTicketRouter(t *testing.T) (*gin.Engine, *handlerTicketStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Now().UTC()
	store := &handlerTicketStore{
		tickets: map[string]*models.RegistrationTimeTicket{
			"stu-1/term-1": {
				ID:            "tkt-1",
				StudentID:     "stu-1",
				TermID:        "term-1",
				PriorityGroup: models.StandingSenior,
				StartsAt:      now.Add(-time.Hour),
				EndsAt:        now.Add(time.Hour),
			},
		},
		students: map[models.ClassStanding][]string{
			models.StandingSenior: {"stu-1", "stu-2", "stu-3"},
		},
	}
	terms := map[string]*models.Term{
		"term-1": {ID: "term-1", IsCurrent: true, AddDropDeadline: now.Add(24 * time.Hour)},
	}
	svc := service.NewTimeTicketService(store, &handlerCurrentTermReader{terms: terms}, nil, nil)
	h := NewTimeTicketHandler(svc)

	administrative := []models.UserRole{models.RoleAdmin, models.RoleRegistrar}

	router := gin.New()
	router.Use(testClaims())
	router.GET("/registration-time-tickets/my", internalmiddleware.RequireRoles(models.RoleStudent), h.My)
	router.GET("/registration-time-tickets", internalmiddleware.RequireRoles(administrative...), h.List)
	router.POST("/registration-time-tickets/bulk-assign", internalmiddleware.RequireRoles(administrative...), h.BulkAssign)
	return router, store
}

type handlerCurrentTermReader struct{ terms map[string]*models.Term }

func (r *handlerCurrentTermReader) FindByID(_ context.Context, id string) (*models.Term, error) {
	term, ok := r.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return term, nil
}

func (r *handlerCurrentTermReader) FindCurrent(_ context.Context) (*models.Term, error) {
	for _, term := range r.terms {
		if term.IsCurrent {
			return term, nil
		}
	}
	return nil, sql.ErrNoRows
}

func TestTimeTicketRoutesMyTicketOpenWindow(t *testing.T) {
	router, _ := newTicketRouter(t)

	req := studentRequest(http.MethodGet, "/registration-time-tickets/my", "stu-1", "")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"can_register_now":true`)
}

func TestTimeTicketRoutesMyTicketMissingIsEmptyStatus(t *testing.T) {
	router, _ := newTicketRouter(t)

	req := studentRequest(http.MethodGet, "/registration-time-tickets/my", "stu-9", "")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"can_register_now":false`)
	require.NotContains(t, resp.Body.String(), `"ticket"`)
}

func TestTimeTicketRoutesMyTicketStaffForbidden(t *testing.T) {
	router, _ := newTicketRouter(t)

	req, _ := http.NewRequest(http.MethodGet, "/registration-time-tickets/my", nil)
	req.Header.Set("X-Test-Role", string(models.RoleRegistrar))
	req.Header.Set("X-Test-User", "usr-registrar")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusForbidden, resp.Code)
}

func TestTimeTicketRoutesBulkAssignGroup(t *testing.T) {
	router, store := newTicketRouter(t)

	starts := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	ends := time.Now().UTC().Add(49 * time.Hour).Format(time.RFC3339)
	body := `{"term_id":"term-1","priority_group":"SENIOR","starts_at":"` + starts + `","ends_at":"` + ends + `"}`

	req, _ := http.NewRequest(http.MethodPost, "/registration-time-tickets/bulk-assign", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", string(models.RoleRegistrar))
	req.Header.Set("X-Test-User", "usr-registrar")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"assigned":3`)
	require.Len(t, store.tickets, 3)
}

func TestTimeTicketRoutesBulkAssignStudentForbidden(t *testing.T) {
	router, _ := newTicketRouter(t)

	req := studentRequest(http.MethodPost, "/registration-time-tickets/bulk-assign", "stu-1",
		`{"term_id":"term-1","priority_group":"SENIOR"}`)
	resp := performRequest(router, req)
	require.Equal(t, http.StatusForbidden, resp.Code)
}
