package models

import "time"

// SectionStatus is the operational state of a scheduled section.
type SectionStatus string

const (
	SectionStatusOpen      SectionStatus = "OPEN"
	SectionStatusClosed    SectionStatus = "CLOSED"
	SectionStatusCancelled SectionStatus = "CANCELLED"
)

// CourseSection is one scheduled offering of a course within a term. Capacity
// is fixed at creation; the number of seated students is always derived from
// enrollment rows, never cached on the section.
type CourseSection struct {
	ID            string        `db:"id" json:"id"`
	CourseID      string        `db:"course_id" json:"course_id"`
	TermID        string        `db:"term_id" json:"term_id"`
	SectionNumber string        `db:"section_number" json:"section_number"`
	Capacity      int           `db:"capacity" json:"capacity"`
	Status        SectionStatus `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// CourseSectionDetail enriches a section with course and term context.
type CourseSectionDetail struct {
	CourseSection
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseTitle string `db:"course_title" json:"course_title"`
	TermName    string `db:"term_name" json:"term_name"`
}

// SectionAvailability is the derived seating picture of a section.
type SectionAvailability struct {
	SectionID      string `json:"section_id"`
	Capacity       int    `json:"capacity"`
	Enrolled       int    `json:"enrolled"`
	Waitlisted     int    `json:"waitlisted"`
	SeatsRemaining int    `json:"seats_remaining"`
}

// CourseSectionFilter defines list filters for sections.
type CourseSectionFilter struct {
	CourseID  string
	TermID    string
	Status    SectionStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Course is the catalog entry sections are scheduled from.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Title     string    `db:"title" json:"title"`
	Credits   int       `db:"credits" json:"credits"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
