package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mindhaven/telehealth-scheduling/internal/appointment"
)

var (
	ErrSlotNoLongerAvailable = errors.New("slot was lost before payment completed; payment refunded")
	ErrNotRefundable         = errors.New("only completed payments can be refunded")
	ErrAppointmentNotPayable = errors.New("appointment is not awaiting payment")
	ErrUnknownStatus         = errors.New("unknown payment status")
)

// LifecycleAPI is the slice of the appointment lifecycle the bridge
// drives on payment events.
type LifecycleAPI interface {
	ConfirmPayment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CancelBySystem(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
}

// AppointmentReader loads appointments for pre-intent validation.
type AppointmentReader interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

// Bridge correlates provider payment records with appointments: it
// confirms on success, cancels on failure or refund, and compensates with
// an automatic refund when the slot was lost in the race window between
// slot hold and payment completion.
type Bridge struct {
	payments Repository
	appts    AppointmentReader
	life     LifecycleAPI
	provider IntentClient
	log      zerolog.Logger
}

func NewBridge(payments Repository, appts AppointmentReader, life LifecycleAPI, provider IntentClient, log zerolog.Logger) *Bridge {
	return &Bridge{
		payments: payments,
		appts:    appts,
		life:     life,
		provider: provider,
		log:      log,
	}
}

// CreateIntent obtains a provider payment intent for a pending
// appointment and persists the pending payment row before any
// confirmation can happen.
func (b *Bridge) CreateIntent(ctx context.Context, appointmentID, patientID uuid.UUID) (*Payment, string, error) {
	appt, err := b.appts.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, "", err
	}
	if appt.Status != appointment.StatusPending {
		return nil, "", ErrAppointmentNotPayable
	}
	if appt.PatientID != patientID {
		return nil, "", appointment.ErrForbidden
	}

	intent, err := b.provider.CreateIntent(ctx, appt.AmountCents, appt.ID)
	if err != nil {
		return nil, "", fmt.Errorf("create payment intent: %w", err)
	}

	created, err := b.payments.CreatePayment(ctx, &Payment{
		AppointmentID:   appt.ID,
		PatientID:       appt.PatientID,
		PsychologistID:  appt.PsychologistID,
		PaymentIntentID: intent.ID,
		AmountCents:     appt.AmountCents,
	})
	if err != nil {
		return nil, "", err
	}

	b.log.Info().
		Str("payment_id", created.ID.String()).
		Str("appointment_id", appt.ID.String()).
		Str("intent_id", intent.ID).
		Msg("payment intent created")

	return created, intent.ClientSecret, nil
}

// HandleStatusUpdate processes a provider callback for the given intent.
func (b *Bridge) HandleStatusUpdate(ctx context.Context, intentID string, status Status) (*Payment, error) {
	if !status.Valid() {
		return nil, ErrUnknownStatus
	}

	p, err := b.payments.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	switch status {
	case StatusCompleted:
		return b.handleCompleted(ctx, p)
	case StatusFailed:
		return b.handleFailed(ctx, p)
	case StatusRefunded:
		return b.refund(ctx, p, "provider-initiated refund")
	default:
		// pending is the creation state; nothing to reconcile.
		return p, nil
	}
}

func (b *Bridge) handleCompleted(ctx context.Context, p *Payment) (*Payment, error) {
	updated, err := b.payments.UpdateStatusFrom(ctx, p.ID, StatusPending, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			// Callback replay: the payment already settled.
			return b.payments.GetByID(ctx, p.ID)
		}
		return nil, err
	}

	if _, err := b.life.ConfirmPayment(ctx, p.AppointmentID); err != nil {
		if errors.Is(err, appointment.ErrPendingExpired) ||
			errors.Is(err, appointment.ErrAppointmentNotFound) ||
			errors.Is(err, appointment.ErrInvalidTransition) {
			return b.compensate(ctx, updated, err)
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	b.log.Info().
		Str("payment_id", p.ID.String()).
		Str("appointment_id", p.AppointmentID.String()).
		Msg("payment completed, appointment confirmed")

	return updated, nil
}

// compensate refunds a completed payment whose appointment could not be
// confirmed because the slot was lost in the meantime.
func (b *Bridge) compensate(ctx context.Context, p *Payment, cause error) (*Payment, error) {
	b.log.Warn().Err(cause).
		Str("payment_id", p.ID.String()).
		Str("appointment_id", p.AppointmentID.String()).
		Msg("slot lost after payment, issuing automatic refund")

	if err := b.provider.Refund(ctx, p.PaymentIntentID, "slot no longer available"); err != nil {
		// Keep the payment completed so reconciliation can retry the refund.
		b.log.Error().Err(err).
			Str("payment_id", p.ID.String()).
			Msg("automatic refund failed, payment left completed for manual reconciliation")
		return nil, fmt.Errorf("automatic refund: %w", err)
	}

	if _, err := b.payments.MarkRefunded(ctx, p.ID, StatusCompleted, "slot no longer available"); err != nil {
		b.log.Error().Err(err).
			Str("payment_id", p.ID.String()).
			Msg("refund issued but payment row not updated")
		return nil, err
	}

	return nil, ErrSlotNoLongerAvailable
}

func (b *Bridge) handleFailed(ctx context.Context, p *Payment) (*Payment, error) {
	updated, err := b.payments.UpdateStatusFrom(ctx, p.ID, StatusPending, StatusFailed)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return b.payments.GetByID(ctx, p.ID)
		}
		return nil, err
	}

	if _, err := b.life.CancelBySystem(ctx, p.AppointmentID, "payment failed"); err != nil {
		if !errors.Is(err, appointment.ErrInvalidTransition) {
			b.log.Error().Err(err).
				Str("appointment_id", p.AppointmentID.String()).
				Msg("failed to cancel appointment after payment failure")
			return nil, err
		}
	}

	return updated, nil
}

// Refund reverses a completed payment on request and cascade-cancels the
// linked appointment.
func (b *Bridge) Refund(ctx context.Context, paymentID uuid.UUID, reason string) (*Payment, error) {
	p, err := b.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCompleted {
		return nil, ErrNotRefundable
	}
	return b.refund(ctx, p, reason)
}

func (b *Bridge) refund(ctx context.Context, p *Payment, reason string) (*Payment, error) {
	if p.Status == StatusRefunded {
		return p, nil
	}

	// Only completed payments hold captured money. For a pending or failed
	// payment the provider has nothing to return, so just record the
	// refunded state locally.
	if p.Status == StatusCompleted {
		if err := b.provider.Refund(ctx, p.PaymentIntentID, reason); err != nil {
			return nil, fmt.Errorf("provider refund: %w", err)
		}
	}

	updated, err := b.payments.MarkRefunded(ctx, p.ID, p.Status, reason)
	if err != nil {
		b.log.Error().Err(err).
			Str("payment_id", p.ID.String()).
			Msg("refund issued but payment row not updated")
		return nil, err
	}

	if _, err := b.life.CancelBySystem(ctx, p.AppointmentID, "Payment refunded: "+reason); err != nil {
		if !errors.Is(err, appointment.ErrInvalidTransition) {
			// Never dropped: the refund stands, the dangling appointment is
			// logged for manual reconciliation and the error surfaced.
			b.log.Error().Err(err).
				Str("payment_id", p.ID.String()).
				Str("appointment_id", p.AppointmentID.String()).
				Msg("refund recorded but appointment cancel failed")
			return nil, fmt.Errorf("cascade cancel: %w", err)
		}
	}

	b.log.Info().
		Str("payment_id", p.ID.String()).
		Str("appointment_id", p.AppointmentID.String()).
		Str("reason", reason).
		Msg("payment refunded")

	return updated, nil
}
