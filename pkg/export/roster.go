package export

import "time"

// RosterEntry is one line of a section roster. WaitlistPosition is zero for
// seated students and 1-based in promotion order for waitlisted ones.
type RosterEntry struct {
	StudentNumber    string
	StudentName      string
	Status           string
	WaitlistPosition int
	EnrolledAt       time.Time
}

// Roster is a point-in-time snapshot of a section's enrollment, seated
// students first, then the waitlist in promotion order.
type Roster struct {
	CourseCode    string
	CourseTitle   string
	SectionNumber string
	TermName      string
	GeneratedAt   time.Time
	Entries       []RosterEntry
}

// Seated returns the number of seated entries.
func (r Roster) Seated() int {
	n := 0
	for _, e := range r.Entries {
		if e.WaitlistPosition == 0 {
			n++
		}
	}
	return n
}

// Waitlisted returns the number of waitlisted entries.
func (r Roster) Waitlisted() int {
	return len(r.Entries) - r.Seated()
}
