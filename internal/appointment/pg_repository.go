package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mindhaven/telehealth-scheduling/internal/availability"
	"github.com/mindhaven/telehealth-scheduling/internal/db"
)

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

const apptColumns = `id, psychologist_id, patient_id, template_id, start_time, end_time,
	duration_minutes, session_format, status, amount_cents, notes, cancelation_reason,
	canceled_at, canceled_by, completed_at, joined_at, expires_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PsychologistID,
		&a.PatientID,
		&a.TemplateID,
		&a.StartTime,
		&a.EndTime,
		&a.DurationMinutes,
		&a.SessionFormat,
		&a.Status,
		&a.AmountCents,
		&a.Notes,
		&a.CancelationReason,
		&a.CanceledAt,
		&a.CanceledBy,
		&a.CompletedAt,
		&a.JoinedAt,
		&a.ExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// ClaimWindow inserts the pending appointment only if no active appointment
// for the psychologist overlaps the half-open window. The partial unique
// index on (psychologist_id, start_time, end_time) backs this up for
// identical windows, so a unique violation is reported as AlreadyTaken too.
func (r *PgRepository) ClaimWindow(ctx context.Context, a *Appointment) (ClaimResult, *Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, psychologist_id, patient_id, template_id, start_time, end_time,
			duration_minutes, session_format, status, amount_cents, notes, expires_at, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $10, $11, now(), now()
		WHERE NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE psychologist_id = $2
			  AND status IN ('pending', 'confirmed', 'ongoing')
			  AND start_time < $6
			  AND end_time > $5
		)
		RETURNING `+apptColumns+`
	`, id, a.PsychologistID, a.PatientID, a.TemplateID, a.StartTime, a.EndTime,
		a.DurationMinutes, a.SessionFormat, a.AmountCents, a.Notes, a.ExpiresAt)

	created, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return AlreadyTaken, nil, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return AlreadyTaken, nil, nil
		}
		return AlreadyTaken, nil, err
	}

	return Claimed, created, nil
}

func (r *PgRepository) PsychologistOverlapExists(ctx context.Context, psychologistID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE psychologist_id = $1
			  AND status IN ('pending', 'confirmed', 'ongoing')
			  AND start_time < $3
			  AND end_time > $2
		)
	`, psychologistID, start, end).Scan(&exists)
	return exists, err
}

func (r *PgRepository) PatientOverlapExists(ctx context.Context, patientID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1
			  AND status IN ('pending', 'confirmed', 'ongoing')
			  AND start_time < $3
			  AND end_time > $2
		)
	`, patientID, start, end).Scan(&exists)
	return exists, err
}

func (r *PgRepository) CountPendingByPatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE patient_id = $1
		  AND status = 'pending'
	`, patientID).Scan(&count)
	return count, err
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+apptColumns+`
	`, id, to, from)

	return casResult(scanAppointment(row))
}

func (r *PgRepository) CancelFrom(ctx context.Context, id uuid.UUID, from Status, canceledBy *uuid.UUID, reason string, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'canceled',
		    cancelation_reason = $3,
		    canceled_by = $4,
		    canceled_at = $5,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+apptColumns+`
	`, id, from, reason, canceledBy, at)

	return casResult(scanAppointment(row))
}

func (r *PgRepository) CompleteFrom(ctx context.Context, id uuid.UUID, from Status, notes string, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    completed_at = $4,
		    notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+apptColumns+`
	`, id, from, notes, at)

	return casResult(scanAppointment(row))
}

func (r *PgRepository) MissFrom(ctx context.Context, id uuid.UUID, from Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'missed',
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+apptColumns+`
	`, id, from)

	return casResult(scanAppointment(row))
}

func (r *PgRepository) JoinFrom(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'ongoing',
		    joined_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'confirmed'
		RETURNING `+apptColumns+`
	`, id, at)

	return casResult(scanAppointment(row))
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now)
}

func (r *PgRepository) FindElapsedConfirmedWithoutJoin(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND joined_at IS NULL
		  AND end_time < $1
	`, cutoff)
}

func (r *PgRepository) FindElapsedOngoing(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'ongoing'
		  AND end_time < $1
	`, cutoff)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
}

func (r *PgRepository) ListByPsychologist(ctx context.Context, psychologistID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE psychologist_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, psychologistID, limit, offset)
}

func (r *PgRepository) BookedIntervals(ctx context.Context, psychologistID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE psychologist_id = $1
		  AND status IN ('pending', 'confirmed', 'ongoing')
		  AND start_time < $3
		  AND end_time > $2
	`, psychologistID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		result = append(result, iv)
	}
	return result, rows.Err()
}

func (r *PgRepository) list(ctx context.Context, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// casResult converts the no-rows outcome of a compare-and-swap update into
// ErrStaleStatus so callers can distinguish it from a missing row.
func casResult(a *Appointment, err error) (*Appointment, error) {
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStaleStatus
	}
	return a, err
}
