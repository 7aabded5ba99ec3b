package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/univops/registrar-api/internal/models"
)

// TimeTicketRepository handles persistence of registration time tickets.
type TimeTicketRepository struct {
	db *sqlx.DB
}

// NewTimeTicketRepository constructs the repository.
func NewTimeTicketRepository(db *sqlx.DB) *TimeTicketRepository {
	return &TimeTicketRepository{db: db}
}

const ticketColumns = `id, student_id, term_id, priority_group, starts_at, ends_at, created_at`

// FindByStudentAndTerm returns the ticket for a student within a term.
func (r *TimeTicketRepository) FindByStudentAndTerm(ctx context.Context, studentID, termID string) (*models.RegistrationTimeTicket, error) {
	query := fmt.Sprintf(`SELECT %s FROM registration_time_tickets WHERE student_id = $1 AND term_id = $2`, ticketColumns)
	var ticket models.RegistrationTimeTicket
	if err := r.db.GetContext(ctx, &ticket, query, studentID, termID); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// List returns tickets matching the filter.
func (r *TimeTicketRepository) List(ctx context.Context, filter models.TimeTicketFilter) ([]models.RegistrationTimeTicket, int, error) {
	base := `FROM registration_time_tickets`
	var conditions []string
	var args []interface{}

	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.PriorityGroup != "" {
		conditions = append(conditions, fmt.Sprintf("priority_group = $%d", len(args)+1))
		args = append(args, filter.PriorityGroup)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s ORDER BY starts_at, student_id LIMIT %d OFFSET %d`, ticketColumns, base+clause, size, offset)
	var tickets []models.RegistrationTimeTicket
	if err := r.db.SelectContext(ctx, &tickets, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list time tickets: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count time tickets: %w", err)
	}
	return tickets, total, nil
}

// BulkUpsert assigns tickets ahead of a registration period, replacing any
// existing assignment for the same student and term. Runs in one transaction
// so a partial assignment never becomes visible.
func (r *TimeTicketRepository) BulkUpsert(ctx context.Context, tickets []models.RegistrationTimeTicket) (err error) {
	if len(tickets) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ticket upsert tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO registration_time_tickets (id, student_id, term_id, priority_group, starts_at, ends_at, created_at)
        VALUES (:id, :student_id, :term_id, :priority_group, :starts_at, :ends_at, :created_at)
        ON CONFLICT (student_id, term_id)
        DO UPDATE SET priority_group = EXCLUDED.priority_group, starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at`
	now := time.Now().UTC()
	for i := range tickets {
		if tickets[i].ID == "" {
			tickets[i].ID = uuid.NewString()
		}
		if tickets[i].CreatedAt.IsZero() {
			tickets[i].CreatedAt = now
		}
		if _, err = tx.NamedExecContext(ctx, query, tickets[i]); err != nil {
			return fmt.Errorf("upsert time ticket: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ticket upsert tx: %w", err)
	}
	return nil
}

// StudentIDsByStanding returns active student IDs in a priority group, used
// for group-wide ticket assignment.
func (r *TimeTicketRepository) StudentIDsByStanding(ctx context.Context, standing models.ClassStanding) ([]string, error) {
	const query = `SELECT id FROM students WHERE class_standing = $1 AND active = TRUE`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, standing); err != nil {
		return nil, fmt.Errorf("list students by standing: %w", err)
	}
	return ids, nil
}
