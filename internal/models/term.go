package models

import "time"

// TermPeriod labels the position of a term within the academic year.
type TermPeriod string

const (
	PeriodFall   TermPeriod = "FALL"
	PeriodSpring TermPeriod = "SPRING"
	PeriodSummer TermPeriod = "SUMMER"
	PeriodWinter TermPeriod = "WINTER"
)

// Term models an academic period with its registration boundaries.
type Term struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	AcademicYear    string     `db:"academic_year" json:"academic_year"`
	Period          TermPeriod `db:"period" json:"period"`
	StartDate       time.Time  `db:"start_date" json:"start_date"`
	EndDate         time.Time  `db:"end_date" json:"end_date"`
	AddDropDeadline time.Time  `db:"add_drop_deadline" json:"add_drop_deadline"`
	IsCurrent       bool       `db:"is_current" json:"is_current"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// AllowsRegistration reports whether registration changes are permitted at
// the given instant: on or before the add/drop deadline.
func (t *Term) AllowsRegistration(now time.Time) bool {
	if t == nil {
		return false
	}
	return !now.After(t.AddDropDeadline)
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	AcademicYear string
	Period       TermPeriod
	IsCurrent    *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
