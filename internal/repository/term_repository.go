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

// TermRepository handles persistence of academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository constructs the repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

const termColumns = `id, name, academic_year, period, start_date, end_date, add_drop_deadline, is_current, created_at, updated_at`

// FindByID returns a term by identifier.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM terms WHERE id = $1`, termColumns)
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindCurrent returns the term flagged as current.
func (r *TermRepository) FindCurrent(ctx context.Context) (*models.Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM terms WHERE is_current = TRUE LIMIT 1`, termColumns)
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query); err != nil {
		return nil, err
	}
	return &term, nil
}

// List returns terms matching the filter.
func (r *TermRepository) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	base := `FROM terms`
	var conditions []string
	var args []interface{}

	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Period != "" {
		conditions = append(conditions, fmt.Sprintf("period = $%d", len(args)+1))
		args = append(args, filter.Period)
	}
	if filter.IsCurrent != nil {
		conditions = append(conditions, fmt.Sprintf("is_current = $%d", len(args)+1))
		args = append(args, *filter.IsCurrent)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{"start_date": true, "name": true, "academic_year": true}
	if !allowedSorts[sortBy] {
		sortBy = "start_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`, termColumns, base+clause, sortBy, order, size, offset)
	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list terms: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count terms: %w", err)
	}
	return terms, total, nil
}

// Create persists a new term.
func (r *TermRepository) Create(ctx context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if term.CreatedAt.IsZero() {
		term.CreatedAt = now
	}
	term.UpdatedAt = now

	const query = `INSERT INTO terms (id, name, academic_year, period, start_date, end_date, add_drop_deadline, is_current, created_at, updated_at)
        VALUES (:id, :name, :academic_year, :period, :start_date, :end_date, :add_drop_deadline, :is_current, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// Update modifies an existing term.
func (r *TermRepository) Update(ctx context.Context, term *models.Term) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE terms SET name = :name, academic_year = :academic_year, period = :period, start_date = :start_date, end_date = :end_date, add_drop_deadline = :add_drop_deadline, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("update term: %w", err)
	}
	return nil
}

// SetCurrent marks the provided term as current and clears the flag on the
// rest, keeping at most one current term.
func (r *TermRepository) SetCurrent(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set current tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE terms SET is_current = FALSE, updated_at = $1 WHERE is_current = TRUE AND id <> $2`, now, id); err != nil {
		return fmt.Errorf("clear current terms: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE terms SET is_current = TRUE, updated_at = $2 WHERE id = $1`, id, now); err != nil {
		return fmt.Errorf("set current term: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set current tx: %w", err)
	}
	return nil
}
