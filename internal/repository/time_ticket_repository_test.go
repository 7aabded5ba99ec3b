package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/univops/registrar-api/internal/models"
)

func newTicketRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func ticketColumnNames() []string {
	return []string{"id", "student_id", "term_id", "priority_group", "starts_at", "ends_at", "created_at"}
}

func TestTimeTicketRepositoryFindByStudentAndTerm(t *testing.T) {
	db, mock, cleanup := newTicketRepoMock(t)
	defer cleanup()

	repo := NewTimeTicketRepository(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM registration_time_tickets WHERE student_id = $1 AND term_id = $2")).
		WithArgs("stu-1", "term-1").
		WillReturnRows(sqlmock.NewRows(ticketColumnNames()).
			AddRow("tkt-1", "stu-1", "term-1", models.StandingSenior, now, now.Add(48*time.Hour), now))

	ticket, err := repo.FindByStudentAndTerm(context.Background(), "stu-1", "term-1")
	require.NoError(t, err)
	require.Equal(t, models.StandingSenior, ticket.PriorityGroup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeTicketRepositoryFindMissingReturnsNoRows(t *testing.T) {
	db, mock, cleanup := newTicketRepoMock(t)
	defer cleanup()

	repo := NewTimeTicketRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM registration_time_tickets WHERE student_id = $1 AND term_id = $2")).
		WithArgs("stu-9", "term-1").
		WillReturnRows(sqlmock.NewRows(ticketColumnNames()))

	_, err := repo.FindByStudentAndTerm(context.Background(), "stu-9", "term-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeTicketRepositoryBulkUpsertSingleTransaction(t *testing.T) {
	db, mock, cleanup := newTicketRepoMock(t)
	defer cleanup()

	repo := NewTimeTicketRepository(db)
	now := time.Now().UTC()
	tickets := []models.RegistrationTimeTicket{
		{StudentID: "stu-1", TermID: "term-1", PriorityGroup: models.StandingSenior, StartsAt: now, EndsAt: now.Add(48 * time.Hour)},
		{StudentID: "stu-2", TermID: "term-1", PriorityGroup: models.StandingSenior, StartsAt: now, EndsAt: now.Add(48 * time.Hour)},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_time_tickets")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_time_tickets")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.BulkUpsert(context.Background(), tickets))
	require.NotEmpty(t, tickets[0].ID)
	require.NotEmpty(t, tickets[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeTicketRepositoryBulkUpsertRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newTicketRepoMock(t)
	defer cleanup()

	repo := NewTimeTicketRepository(db)
	now := time.Now().UTC()
	tickets := []models.RegistrationTimeTicket{
		{StudentID: "stu-1", TermID: "term-1", PriorityGroup: models.StandingJunior, StartsAt: now, EndsAt: now.Add(time.Hour)},
		{StudentID: "stu-2", TermID: "term-1", PriorityGroup: models.StandingJunior, StartsAt: now, EndsAt: now.Add(time.Hour)},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_time_tickets")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_time_tickets")).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	require.Error(t, repo.BulkUpsert(context.Background(), tickets))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeTicketRepositoryBulkUpsertEmptyIsNoop(t *testing.T) {
	db, mock, cleanup := newTicketRepoMock(t)
	defer cleanup()

	repo := NewTimeTicketRepository(db)
	require.NoError(t, repo.BulkUpsert(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeTicketRepositoryStudentIDsByStanding(t *testing.T) {
	db, mock, cleanup := newTicketRepoMock(t)
	defer cleanup()

	repo := NewTimeTicketRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM students WHERE class_standing = $1 AND active = TRUE")).
		WithArgs(models.StandingFreshman).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("stu-4").AddRow("stu-5"))

	ids, err := repo.StudentIDsByStanding(context.Background(), models.StandingFreshman)
	require.NoError(t, err)
	require.Equal(t, []string{"stu-4", "stu-5"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeTicketRepositoryListByTerm(t *testing.T) {
	db, mock, cleanup := newTicketRepoMock(t)
	defer cleanup()

	repo := NewTimeTicketRepository(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("term_id = $1")).
		WithArgs("term-1").
		WillReturnRows(sqlmock.NewRows(ticketColumnNames()).
			AddRow("tkt-1", "stu-1", "term-1", models.StandingSenior, now, now.Add(48*time.Hour), now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("term-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	tickets, total, err := repo.List(context.Background(), models.TimeTicketFilter{TermID: "term-1"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, tickets, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
