package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/univops/registrar-api/internal/models"
)

// Sentinel errors surfaced by the transactional registration paths. The
// service layer maps these onto the user-facing taxonomy.
var (
	ErrSectionMissing     = errors.New("course section not found")
	ErrSectionClosed      = errors.New("course section not open")
	ErrEnrollmentMissing  = errors.New("enrollment not found")
	ErrAlreadyEnrolled    = errors.New("active enrollment exists for student and section")
	ErrAlreadyWithdrawn   = errors.New("enrollment already withdrawn")
	ErrEnrollmentInactive = errors.New("enrollment not active")
)

// lockedSection is the section row snapshot taken under FOR UPDATE.
type lockedSection struct {
	ID       string               `db:"id"`
	TermID   string               `db:"term_id"`
	Capacity int                  `db:"capacity"`
	Status   models.SectionStatus `db:"status"`
}

// EnrollmentRepository owns all writes to enrollment rows. Registration,
// withdrawal and swap run inside single transactions with the section row
// locked, so the capacity check-then-insert can never oversell a section
// under concurrent requests.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN course_sections cs ON cs.id = e.course_section_id
LEFT JOIN courses c ON c.id = cs.course_id
LEFT JOIN terms t ON t.id = cs.term_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseSectionID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_section_id = $%d", len(args)+1))
		args = append(args, filter.CourseSectionID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "s.full_name",
		"course_code":  "c.code",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrolled_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
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

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_section_id, e.status, e.enrolled_at, e.withdrawn_at, e.grade, e.created_at, e.updated_at,
        s.full_name AS student_name, s.student_number AS student_number, c.code AS course_code, c.title AS course_title, t.name AS term_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_section_id, status, enrolled_at, withdrawn_at, grade, created_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_section_id, e.status, e.enrolled_at, e.withdrawn_at, e.grade, e.created_at, e.updated_at,
        s.full_name AS student_name, s.student_number AS student_number, c.code AS course_code, c.title AS course_title, t.name AS term_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN course_sections cs ON cs.id = e.course_section_id
        LEFT JOIN courses c ON c.id = cs.course_id
        LEFT JOIN terms t ON t.id = cs.term_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsActive checks whether a non-withdrawn enrollment exists for the pair.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, studentID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_section_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, sectionID, models.EnrollmentStatusWithdrawn); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// Register creates an enrollment for the student in the section, seating the
// student when a seat is free and waitlisting otherwise. The section row is
// locked for the duration of the count-then-insert so concurrent requests for
// the last seat serialize.
func (r *EnrollmentRepository) Register(ctx context.Context, studentID, sectionID string) (enrollment *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin register tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	section, err := lockSection(ctx, tx, sectionID)
	if err != nil {
		return nil, err
	}
	enrollment, err = registerLocked(ctx, tx, studentID, section)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit register tx: %w", err)
	}
	return enrollment, nil
}

// Withdraw transitions the enrollment to WITHDRAWN and, when a seat was
// freed, promotes the earliest waitlisted enrollment for the same section in
// the same transaction. Returns the withdrawn record and the promoted record,
// which is nil when no promotion occurred.
func (r *EnrollmentRepository) Withdraw(ctx context.Context, id string) (withdrawn, promoted *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin withdraw tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	enrollment, err := lockEnrollment(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	// Locking the section serializes withdrawal against concurrent
	// registrations so the promotion decision sees a stable seat count.
	if _, err = lockSection(ctx, tx, enrollment.CourseSectionID); err != nil {
		return nil, nil, err
	}
	withdrawn, promoted, err = completeWithdrawal(ctx, tx, enrollment)
	if err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit withdraw tx: %w", err)
	}
	return withdrawn, promoted, nil
}

// Swap withdraws the source enrollment and registers the student into the
// destination section as one all-or-nothing unit. Any failure on the
// destination leg rolls back the withdrawal and any waitlist promotion it
// triggered, so the student keeps the original seat. Both section rows are
// locked up front in id order, so two opposed swaps cannot deadlock on each
// other's sections.
func (r *EnrollmentRepository) Swap(ctx context.Context, fromID, toSectionID string) (from, to, promoted *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin swap tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	source, err := lockEnrollment(ctx, tx, fromID)
	if err != nil {
		return nil, nil, nil, err
	}

	var destSection *lockedSection
	switch {
	case source.CourseSectionID == toSectionID:
		if destSection, err = lockSection(ctx, tx, toSectionID); err != nil {
			return nil, nil, nil, err
		}
	case source.CourseSectionID < toSectionID:
		if _, err = lockSection(ctx, tx, source.CourseSectionID); err != nil {
			return nil, nil, nil, err
		}
		if destSection, err = lockSection(ctx, tx, toSectionID); err != nil {
			return nil, nil, nil, err
		}
	default:
		if destSection, err = lockSection(ctx, tx, toSectionID); err != nil {
			return nil, nil, nil, err
		}
		if _, err = lockSection(ctx, tx, source.CourseSectionID); err != nil {
			return nil, nil, nil, err
		}
	}

	from, promoted, err = completeWithdrawal(ctx, tx, source)
	if err != nil {
		return nil, nil, nil, err
	}

	to, err = registerLocked(ctx, tx, from.StudentID, destSection)
	if err != nil {
		return nil, nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, nil, fmt.Errorf("commit swap tx: %w", err)
	}
	return from, to, promoted, nil
}

// UpdateStatus applies an administrative status correction.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, withdrawnAt *time.Time) error {
	const query = `UPDATE enrollments SET status = $2, withdrawn_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, withdrawnAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// UpdateGrade records a grade supplied by the grading collaborator.
func (r *EnrollmentRepository) UpdateGrade(ctx context.Context, id, grade string) error {
	const query = `UPDATE enrollments SET grade = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, grade, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment grade: %w", err)
	}
	return nil
}

// CountByStatus returns the number of enrollments in the given status for a
// section. Used for availability reads outside the critical section.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context, sectionID string, status models.EnrollmentStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_section_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sectionID, status); err != nil {
		return 0, fmt.Errorf("count enrollments by status: %w", err)
	}
	return count, nil
}

// ListRoster returns the section roster ordered seated-first, then waitlist
// in promotion order.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, sectionID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_section_id, e.status, e.enrolled_at, e.withdrawn_at, e.grade, e.created_at, e.updated_at,
        s.full_name AS student_name, s.student_number AS student_number, c.code AS course_code, c.title AS course_title, t.name AS term_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN course_sections cs ON cs.id = e.course_section_id
        LEFT JOIN courses c ON c.id = cs.course_id
        LEFT JOIN terms t ON t.id = cs.term_id
        WHERE e.course_section_id = $1 AND e.status IN ($2, $3)
        ORDER BY e.status = $3, e.enrolled_at, e.id`
	var roster []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &roster, query, sectionID, models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list section roster: %w", err)
	}
	return roster, nil
}

func lockSection(ctx context.Context, tx *sqlx.Tx, sectionID string) (*lockedSection, error) {
	const query = `SELECT id, term_id, capacity, status FROM course_sections WHERE id = $1 FOR UPDATE`
	var section lockedSection
	if err := tx.GetContext(ctx, &section, query, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSectionMissing
		}
		return nil, fmt.Errorf("lock course section: %w", err)
	}
	return &section, nil
}

// registerLocked inserts the enrollment against a section whose row the
// caller already holds FOR UPDATE.
func registerLocked(ctx context.Context, tx *sqlx.Tx, studentID string, section *lockedSection) (*models.Enrollment, error) {
	if section.Status != models.SectionStatusOpen {
		return nil, ErrSectionClosed
	}

	// Re-check uniqueness under the lock; the partial unique index is the
	// backstop but a sentinel error reads better than a pq violation.
	var exists int
	const dupQuery = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_section_id = $2 AND status <> $3 LIMIT 1`
	if err := tx.GetContext(ctx, &exists, dupQuery, studentID, section.ID, models.EnrollmentStatusWithdrawn); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("check duplicate enrollment: %w", err)
		}
	} else {
		return nil, ErrAlreadyEnrolled
	}

	var seated int
	const countQuery = `SELECT COUNT(*) FROM enrollments WHERE course_section_id = $1 AND status = $2`
	if err := tx.GetContext(ctx, &seated, countQuery, section.ID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("count seated enrollments: %w", err)
	}

	status := models.EnrollmentStatusEnrolled
	if seated >= section.Capacity {
		status = models.EnrollmentStatusWaitlisted
	}

	now := time.Now().UTC()
	enrollment := &models.Enrollment{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		CourseSectionID: section.ID,
		Status:          status,
		EnrolledAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	const insertQuery = `INSERT INTO enrollments (id, student_id, course_section_id, status, enrolled_at, withdrawn_at, grade, created_at, updated_at)
        VALUES (:id, :student_id, :course_section_id, :status, :enrolled_at, :withdrawn_at, :grade, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, enrollment); err != nil {
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}
	return enrollment, nil
}

// lockEnrollment takes the enrollment row FOR UPDATE and rejects records
// that cannot be withdrawn.
func lockEnrollment(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrollment, error) {
	const selectQuery = `SELECT id, student_id, course_section_id, status, enrolled_at, withdrawn_at, grade, created_at, updated_at FROM enrollments WHERE id = $1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, selectQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEnrollmentMissing
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	if enrollment.Status == models.EnrollmentStatusWithdrawn {
		return nil, ErrAlreadyWithdrawn
	}
	if !enrollment.Status.Active() {
		return nil, ErrEnrollmentInactive
	}
	return &enrollment, nil
}

// completeWithdrawal marks the locked enrollment WITHDRAWN and, when a seat
// was freed, promotes the earliest waitlisted record. The caller must hold
// both the enrollment row and its section row FOR UPDATE.
func completeWithdrawal(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) (*models.Enrollment, *models.Enrollment, error) {
	wasSeated := enrollment.Status == models.EnrollmentStatusEnrolled
	now := time.Now().UTC()
	const withdrawQuery = `UPDATE enrollments SET status = $2, withdrawn_at = $3, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, withdrawQuery, enrollment.ID, models.EnrollmentStatusWithdrawn, now); err != nil {
		return nil, nil, fmt.Errorf("withdraw enrollment: %w", err)
	}
	enrollment.Status = models.EnrollmentStatusWithdrawn
	enrollment.WithdrawnAt = &now
	enrollment.UpdatedAt = now

	if !wasSeated {
		return enrollment, nil, nil
	}

	promoted, err := promoteEarliestLocked(ctx, tx, enrollment.CourseSectionID)
	if err != nil {
		return nil, nil, err
	}
	return enrollment, promoted, nil
}

// promoteEarliestLocked seats the earliest-created waitlisted enrollment for
// the section. FIFO by enrolled_at, ties broken by id. Caller must hold the
// section lock.
func promoteEarliestLocked(ctx context.Context, tx *sqlx.Tx, sectionID string) (*models.Enrollment, error) {
	const nextQuery = `SELECT id, student_id, course_section_id, status, enrolled_at, withdrawn_at, grade, created_at, updated_at
        FROM enrollments
        WHERE course_section_id = $1 AND status = $2
        ORDER BY enrolled_at, id
        LIMIT 1
        FOR UPDATE`
	var next models.Enrollment
	if err := tx.GetContext(ctx, &next, nextQuery, sectionID, models.EnrollmentStatusWaitlisted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find next waitlisted enrollment: %w", err)
	}

	now := time.Now().UTC()
	const promoteQuery = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := tx.ExecContext(ctx, promoteQuery, next.ID, models.EnrollmentStatusEnrolled, now, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, fmt.Errorf("promote waitlisted enrollment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, nil
	}
	next.Status = models.EnrollmentStatusEnrolled
	next.UpdatedAt = now
	return &next, nil
}
