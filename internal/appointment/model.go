package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusMissed    Status = "missed"
)

// ActiveStatuses are the states that hold a slot. Appointments in any of
// them block overlapping bookings for the same psychologist.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusOngoing}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusMissed
}

type SessionFormat string

const (
	FormatVideo    SessionFormat = "video"
	FormatInPerson SessionFormat = "in_person"
	FormatPhone    SessionFormat = "phone"
)

func (f SessionFormat) Valid() bool {
	switch f {
	case FormatVideo, FormatInPerson, FormatPhone:
		return true
	}
	return false
}

// Join window around a session: participants may enter from five minutes
// before the start until fifteen minutes after the end.
const (
	JoinEarly = 5 * time.Minute
	JoinGrace = 15 * time.Minute
)

type Appointment struct {
	ID                uuid.UUID
	PsychologistID    uuid.UUID
	PatientID         uuid.UUID
	TemplateID        uuid.UUID // availability template the slot was carved from
	StartTime         time.Time
	EndTime           time.Time
	DurationMinutes   int
	SessionFormat     SessionFormat
	Status            Status
	AmountCents       int64
	Notes             string
	CancelationReason string
	CanceledAt        *time.Time
	CanceledBy        *uuid.UUID
	CompletedAt       *time.Time
	JoinedAt          *time.Time
	ExpiresAt         *time.Time // pending payment deadline
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// JoinWindow returns the interval during which the session may be entered.
func (a *Appointment) JoinWindow() (start, end time.Time) {
	return a.StartTime.Add(-JoinEarly), a.EndTime.Add(JoinGrace)
}

// Role of the actor performing an operation, extracted from the bearer
// token by the API layer.
type Role string

const (
	RolePatient      Role = "patient"
	RolePsychologist Role = "psychologist"
	RoleAdmin        Role = "admin"
)

type Actor struct {
	ID   uuid.UUID
	Role Role
}
