package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/telehealth-scheduling/internal/availability"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrStaleStatus         = errors.New("appointment status changed concurrently")
)

// ClaimResult makes the outcome of the atomic claim explicit: either this
// request won the window or a competing active appointment already holds it.
type ClaimResult int

const (
	Claimed ClaimResult = iota
	AlreadyTaken
)

// Repository contains all DB interactions needed by the allocator and the
// lifecycle manager. Status-changing updates are compare-and-swap on the
// current status so concurrent transitions cannot clobber each other.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ClaimWindow conditionally inserts a pending appointment: the insert
	// only happens when no active appointment for the same psychologist
	// overlaps [a.StartTime, a.EndTime).
	ClaimWindow(ctx context.Context, a *Appointment) (ClaimResult, *Appointment, error)

	// Pre-claim checks
	PsychologistOverlapExists(ctx context.Context, psychologistID uuid.UUID, start, end time.Time) (bool, error)
	PatientOverlapExists(ctx context.Context, patientID uuid.UUID, start, end time.Time) (bool, error)
	CountPendingByPatient(ctx context.Context, patientID uuid.UUID) (int, error)

	// CAS transitions
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	CancelFrom(ctx context.Context, id uuid.UUID, from Status, canceledBy *uuid.UUID, reason string, at time.Time) (*Appointment, error)
	CompleteFrom(ctx context.Context, id uuid.UUID, from Status, notes string, at time.Time) (*Appointment, error)
	MissFrom(ctx context.Context, id uuid.UUID, from Status) (*Appointment, error)
	JoinFrom(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error)

	// Sweeps
	FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error)
	FindElapsedConfirmedWithoutJoin(ctx context.Context, cutoff time.Time) ([]Appointment, error)
	FindElapsedOngoing(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Reads
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByPsychologist(ctx context.Context, psychologistID uuid.UUID, limit, offset int) ([]Appointment, error)

	// BookedIntervals satisfies availability.BookedIntervalSource so open
	// slots can be computed by subtraction.
	BookedIntervals(ctx context.Context, psychologistID uuid.UUID, from, to time.Time) ([]availability.Interval, error)
}
