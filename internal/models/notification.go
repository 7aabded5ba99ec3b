package models

import "time"

// NotificationType labels engine-emitted notification messages.
const (
	NotificationWaitlistPromoted = "WAITLIST_PROMOTED"
)

// Notification records a message emitted by the registration engine for an
// external notification collaborator. The engine never blocks on delivery;
// rows are written asynchronously by the dispatch queue.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Type      string    `db:"type" json:"type"`
	Payload   []byte    `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
