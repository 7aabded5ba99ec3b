package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/univops/registrar-api/internal/models"
)

func newTermRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func termColumnNames() []string {
	return []string{"id", "name", "academic_year", "period", "start_date", "end_date", "add_drop_deadline", "is_current", "created_at", "updated_at"}
}

func TestTermRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newTermRepoMock(t)
	defer cleanup()

	repo := NewTermRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO terms")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	term := &models.Term{
		Name:            "Fall 2026",
		AcademicYear:    "2026-2027",
		Period:          models.PeriodFall,
		StartDate:       start,
		EndDate:         start.AddDate(0, 4, 0),
		AddDropDeadline: start.AddDate(0, 0, 14),
	}
	require.NoError(t, repo.Create(context.Background(), term))
	require.NotEmpty(t, term.ID)

	rows := sqlmock.NewRows(termColumnNames()).
		AddRow(term.ID, term.Name, term.AcademicYear, term.Period, term.StartDate, term.EndDate, term.AddDropDeadline, false, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE id = $1")).
		WithArgs(term.ID).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), term.ID)
	require.NoError(t, err)
	require.Equal(t, "Fall 2026", found.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryFindCurrent(t *testing.T) {
	db, mock, cleanup := newTermRepoMock(t)
	defer cleanup()

	repo := NewTermRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(termColumnNames()).
		AddRow("term-1", "Fall 2026", "2026-2027", models.PeriodFall, now, now.AddDate(0, 4, 0), now.AddDate(0, 0, 14), true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE is_current = TRUE")).
		WillReturnRows(rows)

	term, err := repo.FindCurrent(context.Background())
	require.NoError(t, err)
	require.True(t, term.IsCurrent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newTermRepoMock(t)
	defer cleanup()

	repo := NewTermRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(termColumnNames()).
		AddRow("term-1", "Fall 2026", "2026-2027", models.PeriodFall, now, now.AddDate(0, 4, 0), now.AddDate(0, 0, 14), true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("academic_year = $1")).
		WithArgs("2026-2027", models.PeriodFall).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("2026-2027", models.PeriodFall).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	terms, total, err := repo.List(context.Background(), models.TermFilter{
		AcademicYear: "2026-2027",
		Period:       models.PeriodFall,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, terms, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositorySetCurrentClearsOthers(t *testing.T) {
	db, mock, cleanup := newTermRepoMock(t)
	defer cleanup()

	repo := NewTermRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_current = FALSE")).
		WithArgs(sqlmock.AnyArg(), "term-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_current = TRUE")).
		WithArgs("term-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetCurrent(context.Background(), "term-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositorySetCurrentRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newTermRepoMock(t)
	defer cleanup()

	repo := NewTermRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_current = FALSE")).
		WithArgs(sqlmock.AnyArg(), "term-2").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	require.Error(t, repo.SetCurrent(context.Background(), "term-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}
