package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTimeFormat   = errors.New("time must be HH:MM in 24-hour format")
	ErrInvalidTimeRange    = errors.New("start time must be before end time")
	ErrNoDaysGiven         = errors.New("at least one day of week is required")
	ErrTemplateOverlap     = errors.New("template overlaps an existing active template")
	ErrTemplateNotFound    = errors.New("availability template not found")
	ErrOutsideAvailability = errors.New("requested window is outside the psychologist's availability")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	CreateTemplate(ctx context.Context, t *Template) (*Template, error)
	DeactivateTemplate(ctx context.Context, templateID, psychologistID uuid.UUID) error
	ListActiveTemplates(ctx context.Context, psychologistID uuid.UUID) ([]Template, error)
	GetTemplateByID(ctx context.Context, id uuid.UUID) (*Template, error)
}

// BookedIntervalSource reports windows already claimed by active
// appointments. Implemented by the appointment repository; kept as an
// interface here so this package does not depend on that one.
type BookedIntervalSource interface {
	BookedIntervals(ctx context.Context, psychologistID uuid.UUID, from, to time.Time) ([]Interval, error)
}
