package models

import "time"

// RegistrationTimeTicket is a per-student, per-term window during which the
// student may initiate registration. Assigned ahead of the registration
// period by priority group; read-only to the engine afterwards.
type RegistrationTimeTicket struct {
	ID            string        `db:"id" json:"id"`
	StudentID     string        `db:"student_id" json:"student_id"`
	TermID        string        `db:"term_id" json:"term_id"`
	PriorityGroup ClassStanding `db:"priority_group" json:"priority_group"`
	StartsAt      time.Time     `db:"starts_at" json:"starts_at"`
	EndsAt        time.Time     `db:"ends_at" json:"ends_at"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// IsOpen reports whether the window covers the given instant.
func (t *RegistrationTimeTicket) IsOpen(now time.Time) bool {
	if t == nil {
		return false
	}
	return !now.Before(t.StartsAt) && now.Before(t.EndsAt)
}

// TimeTicketStatus is the student-facing view of a ticket with derived flags.
type TimeTicketStatus struct {
	Ticket         *RegistrationTimeTicket `json:"ticket,omitempty"`
	CanRegisterNow bool                    `json:"can_register_now"`
	IsUpcoming     bool                    `json:"is_upcoming"`
	IsExpired      bool                    `json:"is_expired"`
}

// TimeTicketFilter defines list filters for tickets.
type TimeTicketFilter struct {
	TermID        string
	PriorityGroup ClassStanding
	Page          int
	PageSize      int
}
