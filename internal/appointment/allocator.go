package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mindhaven/telehealth-scheduling/internal/availability"
	redisclient "github.com/mindhaven/telehealth-scheduling/internal/redis"
)

var (
	ErrInvalidWindow  = errors.New("end must be after start")
	ErrPastWindow     = errors.New("cannot book a window in the past")
	ErrInvalidFormat  = errors.New("invalid session format")
	ErrSlotTaken      = errors.New("window conflicts with an existing appointment")
	ErrSlotContended  = errors.New("window is currently being booked, please retry")
	ErrTooManyPending = errors.New("too many unpaid pending appointments")
	ErrPatientOverlap = errors.New("patient already has an appointment in this window")
)

// A patient may hold at most this many unpaid pending appointments.
const maxPendingPerPatient = 3

// Clock lets tests pin wall-clock time.
type Clock func() time.Time

// Allocator decides whether a proposed window is bookable and claims it
// atomically. The claim runs under a per-window Redis lock and lands as a
// conditional insert, so two concurrent requests for the same window
// cannot both create a pending appointment.
type Allocator struct {
	repo       Repository
	avail      *availability.Service
	locker     redisclient.Locker
	pendingTTL time.Duration
	now        Clock
	log        zerolog.Logger
}

func NewAllocator(repo Repository, avail *availability.Service, locker redisclient.Locker, pendingTTL time.Duration, log zerolog.Logger) *Allocator {
	return &Allocator{
		repo:       repo,
		avail:      avail,
		locker:     locker,
		pendingTTL: pendingTTL,
		now:        time.Now,
		log:        log,
	}
}

// WithClock overrides the wall clock, for tests.
func (al *Allocator) WithClock(now Clock) *Allocator {
	al.now = now
	return al
}

type ReserveRequest struct {
	PsychologistID uuid.UUID
	PatientID      uuid.UUID
	Start          time.Time
	End            time.Time
	SessionFormat  SessionFormat
	AmountCents    int64
	Notes          string
}

// Reserve claims the window and creates a PENDING appointment that expires
// unless payment confirms it within the pending TTL.
func (al *Allocator) Reserve(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	tpl, err := al.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	var created *Appointment

	// The window lock serializes claims per (psychologist, start); the
	// nested patient lock serializes the self-overlap check, which spans
	// psychologists and so is not covered by the window lock. Always
	// window first, then patient.
	lockKey := redisclient.WindowLockKey(req.PsychologistID, req.Start)
	err = al.locker.WithLock(ctx, lockKey, func(lockCtx context.Context) error {
		return al.locker.WithLock(lockCtx, redisclient.PatientLockKey(req.PatientID), func(lockCtx context.Context) error {
			if err := al.checkPatient(lockCtx, req); err != nil {
				return err
			}

			expiresAt := al.now().Add(al.pendingTTL)
			result, appt, err := al.repo.ClaimWindow(lockCtx, &Appointment{
				PsychologistID:  req.PsychologistID,
				PatientID:       req.PatientID,
				TemplateID:      tpl.ID,
				StartTime:       req.Start,
				EndTime:         req.End,
				DurationMinutes: int(req.End.Sub(req.Start) / time.Minute),
				SessionFormat:   req.SessionFormat,
				AmountCents:     req.AmountCents,
				Notes:           req.Notes,
				ExpiresAt:       &expiresAt,
			})
			if err != nil {
				return fmt.Errorf("claim window: %w", err)
			}
			if result == AlreadyTaken {
				return ErrSlotTaken
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotContended
		}
		return nil, err
	}

	al.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("psychologist_id", req.PsychologistID.String()).
		Str("patient_id", req.PatientID.String()).
		Time("start", req.Start).
		Time("end", req.End).
		Msg("window reserved")

	return created, nil
}

// CheckWindow runs the booking checks read-only, for the pre-booking
// availability probe. A success here is advisory: the window can still be
// lost to a competing Reserve.
func (al *Allocator) CheckWindow(ctx context.Context, psychologistID, patientID uuid.UUID, start, end time.Time) error {
	if _, err := al.validate(ctx, ReserveRequest{
		PsychologistID: psychologistID,
		PatientID:      patientID,
		Start:          start,
		End:            end,
		SessionFormat:  FormatVideo,
	}); err != nil {
		return err
	}

	taken, err := al.repo.PsychologistOverlapExists(ctx, psychologistID, start, end)
	if err != nil {
		return fmt.Errorf("check psychologist overlap: %w", err)
	}
	if taken {
		return ErrSlotTaken
	}

	return al.checkPatient(ctx, ReserveRequest{PatientID: patientID, Start: start, End: end})
}

func (al *Allocator) validate(ctx context.Context, req ReserveRequest) (*availability.Template, error) {
	if !req.End.After(req.Start) {
		return nil, ErrInvalidWindow
	}
	if req.Start.Before(al.now()) {
		return nil, ErrPastWindow
	}
	if !req.SessionFormat.Valid() {
		return nil, ErrInvalidFormat
	}

	tpl, err := al.avail.CoveringTemplate(ctx, req.PsychologistID, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// checkPatient enforces the pending cap and the patient-global overlap
// rule. The overlap check deliberately spans all psychologists: a patient
// cannot sit in two sessions at once.
func (al *Allocator) checkPatient(ctx context.Context, req ReserveRequest) error {
	pending, err := al.repo.CountPendingByPatient(ctx, req.PatientID)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	if pending >= maxPendingPerPatient {
		return ErrTooManyPending
	}

	overlap, err := al.repo.PatientOverlapExists(ctx, req.PatientID, req.Start, req.End)
	if err != nil {
		return fmt.Errorf("check patient overlap: %w", err)
	}
	if overlap {
		return ErrPatientOverlap
	}

	return nil
}
