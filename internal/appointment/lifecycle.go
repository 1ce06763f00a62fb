package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrForbidden          = errors.New("actor may not perform this operation")
	ErrAlreadyCompleted   = errors.New("appointment is already completed")
	ErrPastAppointment    = errors.New("appointment has already started or elapsed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrOutsideJoinWindow  = errors.New("outside the join window")
	ErrPendingExpired     = errors.New("pending appointment expired before payment")
	ErrCancelOngoing      = errors.New("cannot cancel a session in progress")
)

// Reason recorded when the system cancels an unpaid pending appointment.
const expiredReason = "payment window expired"

// Lifecycle owns the appointment state machine. Every transition is a
// compare-and-swap on the current status; a CAS miss caused by a
// concurrent transition surfaces as ErrInvalidTransition after re-reading.
type Lifecycle struct {
	repo Repository
	now  Clock
	log  zerolog.Logger
}

func NewLifecycle(repo Repository, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		repo: repo,
		now:  time.Now,
		log:  log,
	}
}

// WithClock overrides the wall clock, for tests.
func (l *Lifecycle) WithClock(now Clock) *Lifecycle {
	l.now = now
	return l
}

func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, appt) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// Cancel moves a pending or confirmed appointment to CANCELED. The slot
// is released implicitly: canceled rows no longer block the overlap check.
func (l *Lifecycle) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanCancel(actor, appt) {
		return nil, ErrForbidden
	}

	switch appt.Status {
	case StatusCompleted:
		return nil, ErrAlreadyCompleted
	case StatusCanceled:
		// Repeated cancel is a no-op.
		return appt, nil
	case StatusMissed:
		return nil, ErrInvalidTransition
	case StatusOngoing:
		return nil, ErrCancelOngoing
	case StatusConfirmed:
		if appt.StartTime.Before(l.now()) {
			return nil, ErrPastAppointment
		}
	}

	actorID := actor.ID
	updated, err := l.repo.CancelFrom(ctx, id, appt.Status, &actorID, reason, l.now())
	if err != nil {
		return nil, l.casError(ctx, id, err)
	}

	l.log.Info().
		Str("appointment_id", id.String()).
		Str("canceled_by", actorID.String()).
		Str("reason", reason).
		Msg("appointment canceled")

	return updated, nil
}

// CancelBySystem cancels without actor checks, for the payment bridge and
// the expiry sweep. It is exempt from the past-start guard so a refund can
// cancel an elapsed session.
func (l *Lifecycle) CancelBySystem(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCanceled {
		return appt, nil
	}
	if appt.Status == StatusCompleted || appt.Status == StatusMissed {
		return nil, ErrInvalidTransition
	}

	updated, err := l.repo.CancelFrom(ctx, id, appt.Status, nil, reason, l.now())
	if err != nil {
		return nil, l.casError(ctx, id, err)
	}

	l.log.Info().
		Str("appointment_id", id.String()).
		Str("reason", reason).
		Msg("appointment canceled by system")

	return updated, nil
}

// CompleteResult carries the idempotency notice: AlreadyCompleted is true
// when the appointment had been completed before this call.
type CompleteResult struct {
	Appointment      *Appointment
	AlreadyCompleted bool
}

// Complete marks a session COMPLETED. Calling it again succeeds without
// touching completed_at.
func (l *Lifecycle) Complete(ctx context.Context, id uuid.UUID, actor Actor, notes string) (*CompleteResult, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanComplete(actor, appt) {
		return nil, ErrForbidden
	}

	switch appt.Status {
	case StatusCompleted:
		return &CompleteResult{Appointment: appt, AlreadyCompleted: true}, nil
	case StatusCanceled, StatusMissed, StatusPending:
		return nil, ErrInvalidTransition
	case StatusConfirmed:
		// A confirmed session that was never joined only completes after
		// it has elapsed; before that the outcome is unknown.
		if !appt.EndTime.Before(l.now()) {
			return nil, ErrInvalidTransition
		}
	}

	updated, err := l.repo.CompleteFrom(ctx, id, appt.Status, notes, l.now())
	if err != nil {
		return nil, l.casError(ctx, id, err)
	}

	l.log.Info().
		Str("appointment_id", id.String()).
		Msg("appointment completed")

	return &CompleteResult{Appointment: updated}, nil
}

// MarkNoShow marks an elapsed confirmed session MISSED. Idempotent when
// already missed.
func (l *Lifecycle) MarkNoShow(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanMarkNoShow(actor, appt) {
		return nil, ErrForbidden
	}

	switch appt.Status {
	case StatusMissed:
		return appt, nil
	case StatusCanceled, StatusCompleted, StatusPending, StatusOngoing:
		return nil, ErrInvalidTransition
	}

	// MISSED means nobody showed up: the session must have elapsed first.
	if !appt.EndTime.Before(l.now()) {
		return nil, ErrInvalidTransition
	}

	updated, err := l.repo.MissFrom(ctx, id, appt.Status)
	if err != nil {
		return nil, l.casError(ctx, id, err)
	}

	l.log.Info().
		Str("appointment_id", id.String()).
		Msg("appointment marked missed")

	return updated, nil
}

// Join puts a confirmed session in progress. Only the two participants or
// an admin may join, and only inside the join window. Joining an already
// ongoing session is a no-op.
func (l *Lifecycle) Join(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanJoin(actor, appt) {
		return nil, ErrForbidden
	}

	switch appt.Status {
	case StatusOngoing:
		return appt, nil
	case StatusCanceled, StatusCompleted, StatusMissed, StatusPending:
		return nil, ErrInvalidTransition
	}

	now := l.now()
	windowStart, windowEnd := appt.JoinWindow()
	if now.Before(windowStart) || now.After(windowEnd) {
		return nil, ErrOutsideJoinWindow
	}

	updated, err := l.repo.JoinFrom(ctx, id, now)
	if err != nil {
		return nil, l.casError(ctx, id, err)
	}

	l.log.Info().
		Str("appointment_id", id.String()).
		Str("joined_by", actor.ID.String()).
		Msg("session joined")

	return updated, nil
}

// ConfirmPayment finalizes the slot: PENDING becomes CONFIRMED. A stale
// pending appointment is lazily expired here instead of being confirmed.
func (l *Lifecycle) ConfirmPayment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	now := l.now()
	if appt.ExpiresAt != nil && appt.ExpiresAt.Before(now) {
		if _, err := l.repo.CancelFrom(ctx, id, StatusPending, nil, expiredReason, now); err != nil && !errors.Is(err, ErrStaleStatus) {
			l.log.Error().Err(err).
				Str("appointment_id", id.String()).
				Msg("failed to expire stale pending during confirm")
		}
		return nil, ErrPendingExpired
	}

	updated, err := l.repo.UpdateStatus(ctx, id, StatusPending, StatusConfirmed)
	if err != nil {
		return nil, l.casError(ctx, id, err)
	}

	l.log.Info().
		Str("appointment_id", id.String()).
		Msg("appointment confirmed")

	return updated, nil
}

// ExpireStalePending is the periodic sweep: unpaid pendings past their TTL
// are canceled, elapsed confirmed sessions without a join become MISSED,
// and elapsed ongoing sessions complete.
func (l *Lifecycle) ExpireStalePending(ctx context.Context) error {
	now := l.now()

	stale, err := l.repo.FindExpiredPending(ctx, now)
	if err != nil {
		return fmt.Errorf("find expired pending: %w", err)
	}
	for _, appt := range stale {
		if _, err := l.repo.CancelFrom(ctx, appt.ID, StatusPending, nil, expiredReason, now); err != nil {
			if !errors.Is(err, ErrStaleStatus) {
				l.log.Error().Err(err).
					Str("appointment_id", appt.ID.String()).
					Msg("failed to expire pending appointment")
			}
			continue
		}
		l.log.Info().
			Str("appointment_id", appt.ID.String()).
			Msg("pending appointment expired")
	}

	elapsed, err := l.repo.FindElapsedConfirmedWithoutJoin(ctx, now.Add(-JoinGrace))
	if err != nil {
		return fmt.Errorf("find elapsed confirmed: %w", err)
	}
	for _, appt := range elapsed {
		if _, err := l.repo.MissFrom(ctx, appt.ID, StatusConfirmed); err != nil {
			if !errors.Is(err, ErrStaleStatus) {
				l.log.Error().Err(err).
					Str("appointment_id", appt.ID.String()).
					Msg("failed to mark appointment missed")
			}
			continue
		}
		l.log.Info().
			Str("appointment_id", appt.ID.String()).
			Msg("appointment marked missed by sweep")
	}

	running, err := l.repo.FindElapsedOngoing(ctx, now)
	if err != nil {
		return fmt.Errorf("find elapsed ongoing: %w", err)
	}
	for _, appt := range running {
		if _, err := l.repo.CompleteFrom(ctx, appt.ID, StatusOngoing, "", now); err != nil {
			if !errors.Is(err, ErrStaleStatus) {
				l.log.Error().Err(err).
					Str("appointment_id", appt.ID.String()).
					Msg("failed to complete elapsed session")
			}
			continue
		}
		l.log.Info().
			Str("appointment_id", appt.ID.String()).
			Msg("elapsed session completed by sweep")
	}

	return nil
}

// ListForActor returns the actor's own appointments.
func (l *Lifecycle) ListForActor(ctx context.Context, actor Actor, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	if actor.Role == RolePsychologist {
		return l.repo.ListByPsychologist(ctx, actor.ID, limit, offset)
	}
	return l.repo.ListByPatient(ctx, actor.ID, limit, offset)
}

// casError re-reads after a CAS miss so the caller sees the transition
// that actually happened, not a bare conflict.
func (l *Lifecycle) casError(ctx context.Context, id uuid.UUID, err error) error {
	if !errors.Is(err, ErrStaleStatus) {
		return err
	}
	if _, getErr := l.repo.GetAppointmentByID(ctx, id); errors.Is(getErr, ErrAppointmentNotFound) {
		return ErrAppointmentNotFound
	}
	return ErrInvalidTransition
}
