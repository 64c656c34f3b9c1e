package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return s, true
	default:
		return "", false
	}
}

// Blocks reports whether an appointment in this status occupies its interval.
func (s Status) Blocks() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Appointment struct {
	ID          string
	BusinessID  string
	ClientID    string
	ServiceID   string
	StartTime   time.Time
	EndTime     time.Time
	Status      Status
	Notes       string
	ClientName  string
	ServiceName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
