package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment. Records are
// never deleted; withdrawal and completion are status transitions so that
// transcript and billing collaborators can reconstruct full history.
type EnrollmentStatus string

const (
	EnrollmentStatusEnrolled   EnrollmentStatus = "ENROLLED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusCompleted  EnrollmentStatus = "COMPLETED"
	EnrollmentStatusWithdrawn  EnrollmentStatus = "WITHDRAWN"
)

// Active reports whether the status still binds the student to the section.
func (s EnrollmentStatus) Active() bool {
	return s == EnrollmentStatusEnrolled || s == EnrollmentStatusWaitlisted
}

// Enrollment captures a student's registration state in a course section.
// EnrolledAt orders the waitlist: promotion is strict FIFO by this timestamp,
// ties broken by ID.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	CourseSectionID string           `db:"course_section_id" json:"course_section_id"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt      time.Time        `db:"enrolled_at" json:"enrolled_at"`
	WithdrawnAt     *time.Time       `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	Grade           *string          `db:"grade" json:"grade,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student, course and term info.
type EnrollmentDetail struct {
	Enrollment
	StudentName   string `db:"student_name" json:"student_name"`
	StudentNumber string `db:"student_number" json:"student_number"`
	CourseCode    string `db:"course_code" json:"course_code"`
	CourseTitle   string `db:"course_title" json:"course_title"`
	TermName      string `db:"term_name" json:"term_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID       string
	CourseSectionID string
	TermID          string
	Status          EnrollmentStatus
	Page            int
	PageSize        int
	SortBy          string
	SortOrder       string
}

// SwapResult reports both legs of a completed swap. Waitlisted reflects
// whether the destination leg landed on the waitlist, which is a successful
// outcome distinguishable from a full seat.
type SwapResult struct {
	From       *EnrollmentDetail `json:"from_enrollment"`
	To         *EnrollmentDetail `json:"to_enrollment"`
	Waitlisted bool              `json:"waitlisted"`
}
