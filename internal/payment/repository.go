package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicatePayment = errors.New("appointment already has an active payment")
	ErrStaleStatus      = errors.New("payment status changed concurrently")
)

// Repository contains all DB interactions needed by the bridge. The
// per-appointment uniqueness of non-refunded payments is enforced by a
// partial unique index, surfaced as ErrDuplicatePayment.
type Repository interface {
	CreatePayment(ctx context.Context, p *Payment) (*Payment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*Payment, error)

	// UpdateStatusFrom is a compare-and-swap on the current status.
	UpdateStatusFrom(ctx context.Context, id uuid.UUID, from, to Status) (*Payment, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, from Status, reason string) (*Payment, error)
}
