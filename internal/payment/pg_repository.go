package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mindhaven/telehealth-scheduling/internal/db"
)

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

const paymentColumns = `id, appointment_id, patient_id, psychologist_id, payment_intent_id,
	amount_cents, status, refund_reason, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment

	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.PatientID,
		&p.PsychologistID,
		&p.PaymentIntentID,
		&p.AmountCents,
		&p.Status,
		&p.RefundReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) CreatePayment(ctx context.Context, p *Payment) (*Payment, error) {
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO payments (id, appointment_id, patient_id, psychologist_id, payment_intent_id,
			amount_cents, status, refund_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', '', now(), now())
		RETURNING `+paymentColumns+`
	`, id, p.AppointmentID, p.PatientID, p.PsychologistID, p.PaymentIntentID, p.AmountCents)

	created, err := scanPayment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicatePayment
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id)
	return scanPayment(row)
}

func (r *PgRepository) GetByIntentID(ctx context.Context, intentID string) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE payment_intent_id = $1
	`, intentID)
	return scanPayment(row)
}

func (r *PgRepository) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from, to Status) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+paymentColumns+`
	`, id, to, from)

	p, err := scanPayment(row)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, ErrStaleStatus
	}
	return p, err
}

func (r *PgRepository) MarkRefunded(ctx context.Context, id uuid.UUID, from Status, reason string) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payments
		SET status = 'refunded',
		    refund_reason = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+paymentColumns+`
	`, id, from, reason)

	p, err := scanPayment(row)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, ErrStaleStatus
	}
	return p, err
}
