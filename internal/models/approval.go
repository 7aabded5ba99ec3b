package models

import "time"

// ApprovalStatus is the state of an advisor approval request.
// PENDING may move to APPROVED or DENIED; both are terminal.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusDenied   ApprovalStatus = "DENIED"
)

// EnrollmentApproval is the pre-registration gate for students flagged as
// requiring advisor sign-off. EnrollmentID is set only after an approval
// produced an enrollment.
type EnrollmentApproval struct {
	ID              string         `db:"id" json:"id"`
	StudentID       string         `db:"student_id" json:"student_id"`
	AdvisorID       string         `db:"advisor_id" json:"advisor_id"`
	CourseSectionID string         `db:"course_section_id" json:"course_section_id"`
	Status          ApprovalStatus `db:"status" json:"status"`
	Notes           *string        `db:"notes" json:"notes,omitempty"`
	EnrollmentID    *string        `db:"enrollment_id" json:"enrollment_id,omitempty"`
	RequestedAt     time.Time      `db:"requested_at" json:"requested_at"`
	RespondedAt     *time.Time     `db:"responded_at" json:"responded_at,omitempty"`
}

// ApprovalDetail enriches an approval with display context.
type ApprovalDetail struct {
	EnrollmentApproval
	StudentName string `db:"student_name" json:"student_name"`
	AdvisorName string `db:"advisor_name" json:"advisor_name"`
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseTitle string `db:"course_title" json:"course_title"`
}

// ApprovalFilter defines list filters for approval requests.
type ApprovalFilter struct {
	StudentID       string
	AdvisorID       string
	CourseSectionID string
	Status          ApprovalStatus
	Page            int
	PageSize        int
}
