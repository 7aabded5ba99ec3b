package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/univops/registrar-api/internal/models"
)

// ApprovalRepository handles persistence of advisor approval requests.
// Rows are immutable once terminal; only the PENDING -> APPROVED/DENIED
// transition and the enrollment linkage are ever written.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, student_id, advisor_id, course_section_id, status, notes, enrollment_id, requested_at, responded_at`

// FindByID returns an approval request by identifier.
func (r *ApprovalRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentApproval, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollment_approvals WHERE id = $1`, approvalColumns)
	var approval models.EnrollmentApproval
	if err := r.db.GetContext(ctx, &approval, query, id); err != nil {
		return nil, err
	}
	return &approval, nil
}

// FindDetailByID returns an approval with display context.
func (r *ApprovalRepository) FindDetailByID(ctx context.Context, id string) (*models.ApprovalDetail, error) {
	const query = `SELECT a.id, a.student_id, a.advisor_id, a.course_section_id, a.status, a.notes, a.enrollment_id, a.requested_at, a.responded_at,
        s.full_name AS student_name, u.full_name AS advisor_name, c.code AS course_code, c.title AS course_title
        FROM enrollment_approvals a
        LEFT JOIN students s ON s.id = a.student_id
        LEFT JOIN users u ON u.id = a.advisor_id
        LEFT JOIN course_sections cs ON cs.id = a.course_section_id
        LEFT JOIN courses c ON c.id = cs.course_id
        WHERE a.id = $1`
	var detail models.ApprovalDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns approvals matching the filter.
func (r *ApprovalRepository) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalDetail, int, error) {
	base := `FROM enrollment_approvals a
LEFT JOIN students s ON s.id = a.student_id
LEFT JOIN users u ON u.id = a.advisor_id
LEFT JOIN course_sections cs ON cs.id = a.course_section_id
LEFT JOIN courses c ON c.id = cs.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.AdvisorID != "" {
		conditions = append(conditions, fmt.Sprintf("a.advisor_id = $%d", len(args)+1))
		args = append(args, filter.AdvisorID)
	}
	if filter.CourseSectionID != "" {
		conditions = append(conditions, fmt.Sprintf("a.course_section_id = $%d", len(args)+1))
		args = append(args, filter.CourseSectionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
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
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.advisor_id, a.course_section_id, a.status, a.notes, a.enrollment_id, a.requested_at, a.responded_at,
        s.full_name AS student_name, u.full_name AS advisor_name, c.code AS course_code, c.title AS course_title
        %s ORDER BY a.requested_at DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var approvals []models.ApprovalDetail
	if err := r.db.SelectContext(ctx, &approvals, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list approvals: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count approvals: %w", err)
	}
	return approvals, total, nil
}

// ExistsPending checks the one-pending-per-pair invariant.
func (r *ApprovalRepository) ExistsPending(ctx context.Context, studentID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM enrollment_approvals WHERE student_id = $1 AND course_section_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, sectionID, models.ApprovalStatusPending); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check pending approval: %w", err)
	}
	return true, nil
}

// HasApproved reports whether an approved request exists for the pair.
func (r *ApprovalRepository) HasApproved(ctx context.Context, studentID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM enrollment_approvals WHERE student_id = $1 AND course_section_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, sectionID, models.ApprovalStatusApproved); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check approved request: %w", err)
	}
	return true, nil
}

// Create persists a new pending approval request.
func (r *ApprovalRepository) Create(ctx context.Context, approval *models.EnrollmentApproval) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if approval.RequestedAt.IsZero() {
		approval.RequestedAt = time.Now().UTC()
	}
	if approval.Status == "" {
		approval.Status = models.ApprovalStatusPending
	}
	const query = `INSERT INTO enrollment_approvals (id, student_id, advisor_id, course_section_id, status, notes, enrollment_id, requested_at, responded_at)
        VALUES (:id, :student_id, :advisor_id, :course_section_id, :status, :notes, :enrollment_id, :requested_at, :responded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, approval); err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

// Decide transitions a pending request to a terminal status. Returns
// sql.ErrNoRows when the request was not pending, keeping the transition
// race-safe without a broader lock.
func (r *ApprovalRepository) Decide(ctx context.Context, id string, status models.ApprovalStatus, notes *string, respondedAt time.Time) error {
	const query = `UPDATE enrollment_approvals SET status = $2, notes = $3, responded_at = $4 WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, status, notes, respondedAt, models.ApprovalStatusPending)
	if err != nil {
		return fmt.Errorf("decide approval: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LinkEnrollment records the enrollment produced by an approved request.
func (r *ApprovalRepository) LinkEnrollment(ctx context.Context, id, enrollmentID string) error {
	const query = `UPDATE enrollment_approvals SET enrollment_id = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, enrollmentID); err != nil {
		return fmt.Errorf("link approval enrollment: %w", err)
	}
	return nil
}
