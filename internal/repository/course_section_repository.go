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

// CourseSectionRepository handles persistence of course sections. Capacity is
// read here; seat counts are always derived from enrollment rows.
type CourseSectionRepository struct {
	db *sqlx.DB
}

// NewCourseSectionRepository constructs the repository.
func NewCourseSectionRepository(db *sqlx.DB) *CourseSectionRepository {
	return &CourseSectionRepository{db: db}
}

// FindByID returns a section by its ID.
func (r *CourseSectionRepository) FindByID(ctx context.Context, id string) (*models.CourseSection, error) {
	const query = `SELECT id, course_id, term_id, section_number, capacity, status, created_at, updated_at FROM course_sections WHERE id = $1`
	var section models.CourseSection
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// FindDetailByID returns a section with course and term context.
func (r *CourseSectionRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseSectionDetail, error) {
	const query = `SELECT cs.id, cs.course_id, cs.term_id, cs.section_number, cs.capacity, cs.status, cs.created_at, cs.updated_at,
        c.code AS course_code, c.title AS course_title, t.name AS term_name
        FROM course_sections cs
        LEFT JOIN courses c ON c.id = cs.course_id
        LEFT JOIN terms t ON t.id = cs.term_id
        WHERE cs.id = $1`
	var detail models.CourseSectionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns sections filtered by the provided criteria.
func (r *CourseSectionRepository) List(ctx context.Context, filter models.CourseSectionFilter) ([]models.CourseSectionDetail, int, error) {
	base := `FROM course_sections cs
LEFT JOIN courses c ON c.id = cs.course_id
LEFT JOIN terms t ON t.id = cs.term_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("cs.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"course_code":    "c.code",
		"section_number": "cs.section_number",
		"created_at":     "cs.created_at",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "course_code"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "c.code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT cs.id, cs.course_id, cs.term_id, cs.section_number, cs.capacity, cs.status, cs.created_at, cs.updated_at,
        c.code AS course_code, c.title AS course_title, t.name AS term_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var sections []models.CourseSectionDetail
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list course sections: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count course sections: %w", err)
	}
	return sections, total, nil
}

// Create persists a new course section.
func (r *CourseSectionRepository) Create(ctx context.Context, section *models.CourseSection) error {
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if section.CreatedAt.IsZero() {
		section.CreatedAt = now
	}
	section.UpdatedAt = now
	if section.Status == "" {
		section.Status = models.SectionStatusOpen
	}
	const query = `INSERT INTO course_sections (id, course_id, term_id, section_number, capacity, status, created_at, updated_at)
        VALUES (:id, :course_id, :term_id, :section_number, :capacity, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("create course section: %w", err)
	}
	return nil
}

// UpdateStatus changes the operational status of a section.
func (r *CourseSectionRepository) UpdateStatus(ctx context.Context, id string, status models.SectionStatus) error {
	const query = `UPDATE course_sections SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update section status: %w", err)
	}
	return nil
}

// Availability derives the seating picture from enrollment rows.
func (r *CourseSectionRepository) Availability(ctx context.Context, id string) (*models.SectionAvailability, error) {
	const query = `SELECT cs.capacity,
        COUNT(*) FILTER (WHERE e.status = $2) AS enrolled,
        COUNT(*) FILTER (WHERE e.status = $3) AS waitlisted
        FROM course_sections cs
        LEFT JOIN enrollments e ON e.course_section_id = cs.id
        WHERE cs.id = $1
        GROUP BY cs.capacity`
	var row struct {
		Capacity   int `db:"capacity"`
		Enrolled   int `db:"enrolled"`
		Waitlisted int `db:"waitlisted"`
	}
	if err := r.db.GetContext(ctx, &row, query, id, models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted); err != nil {
		return nil, err
	}
	remaining := row.Capacity - row.Enrolled
	if remaining < 0 {
		remaining = 0
	}
	return &models.SectionAvailability{
		SectionID:      id,
		Capacity:       row.Capacity,
		Enrolled:       row.Enrolled,
		Waitlisted:     row.Waitlisted,
		SeatsRemaining: remaining,
	}, nil
}

// FindCourseByID returns the catalog course for display joins.
func (r *CourseSectionRepository) FindCourseByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, code, title, credits, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}
