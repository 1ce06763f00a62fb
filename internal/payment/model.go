package payment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// Payment mirrors the provider-side payment intent. It is created pending
// before its appointment is confirmed: a payment may exist without a
// confirmed appointment, never the reverse.
type Payment struct {
	ID              uuid.UUID
	AppointmentID   uuid.UUID
	PatientID       uuid.UUID
	PsychologistID  uuid.UUID
	PaymentIntentID string
	AmountCents     int64
	Status          Status
	RefundReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
