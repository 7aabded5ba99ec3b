package models

import "time"

// ClassStanding buckets students into registration priority groups.
type ClassStanding string

const (
	StandingFreshman  ClassStanding = "FRESHMAN"
	StandingSophomore ClassStanding = "SOPHOMORE"
	StandingJunior    ClassStanding = "JUNIOR"
	StandingSenior    ClassStanding = "SENIOR"
	StandingGraduate  ClassStanding = "GRADUATE"
)

// Student represents a learner known to the registrar.
type Student struct {
	ID                      string        `db:"id" json:"id"`
	StudentNumber           string        `db:"student_number" json:"student_number"`
	FullName                string        `db:"full_name" json:"full_name"`
	Email                   string        `db:"email" json:"email"`
	ClassStanding           ClassStanding `db:"class_standing" json:"class_standing"`
	RequiresAdvisorApproval bool          `db:"requires_advisor_approval" json:"requires_advisor_approval"`
	AdvisorID               *string       `db:"advisor_id" json:"advisor_id,omitempty"`
	Active                  bool          `db:"active" json:"active"`
	CreatedAt               time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time     `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search        string
	ClassStanding ClassStanding
	AdvisorID     string
	Active        *bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
