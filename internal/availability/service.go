package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/mindhaven/telehealth-scheduling/internal/redis"
)

// Clock lets tests pin wall-clock time.
type Clock func() time.Time

type Service struct {
	repo   Repository
	booked BookedIntervalSource
	locker redisclient.Locker
	loc    *time.Location
	now    Clock
	log    zerolog.Logger
}

func NewService(repo Repository, booked BookedIntervalSource, locker redisclient.Locker, loc *time.Location, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		booked: booked,
		locker: locker,
		loc:    loc,
		now:    time.Now,
		log:    log,
	}
}

// WithClock overrides the wall clock, for tests.
func (s *Service) WithClock(now Clock) *Service {
	s.now = now
	return s
}

// CreateTemplate adds a weekly availability rule. The overlap check and
// insert run under a per-psychologist lock so two concurrent edits cannot
// both pass the check.
func (s *Service) CreateTemplate(ctx context.Context, psychologistID uuid.UUID, days []time.Weekday, start, end string) (*Template, error) {
	if len(days) == 0 {
		return nil, ErrNoDaysGiven
	}
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return nil, fmt.Errorf("%w: day %d out of range", ErrNoDaysGiven, d)
		}
	}

	startMin, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	endMin, err := ParseClock(end)
	if err != nil {
		return nil, err
	}
	if startMin >= endMin {
		return nil, ErrInvalidTimeRange
	}

	var created *Template

	err = s.locker.WithLock(ctx, redisclient.TemplateLockKey(psychologistID), func(lockCtx context.Context) error {
		existing, err := s.repo.ListActiveTemplates(lockCtx, psychologistID)
		if err != nil {
			return fmt.Errorf("list active templates: %w", err)
		}
		for i := range existing {
			if existing[i].OverlapsWindow(days, startMin, endMin) {
				return ErrTemplateOverlap
			}
		}

		t, err := s.repo.CreateTemplate(lockCtx, &Template{
			PsychologistID: psychologistID,
			DaysOfWeek:     days,
			StartMinute:    startMin,
			EndMinute:      endMin,
		})
		if err != nil {
			return fmt.Errorf("create template: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("psychologist_id", psychologistID.String()).
		Str("template_id", created.ID.String()).
		Str("window", FormatClock(startMin)+"-"+FormatClock(endMin)).
		Msg("availability template created")

	return created, nil
}

// DeactivateTemplate soft-deletes a template. Repeated calls on an already
// deactivated template succeed.
func (s *Service) DeactivateTemplate(ctx context.Context, templateID, psychologistID uuid.UUID) error {
	if err := s.repo.DeactivateTemplate(ctx, templateID, psychologistID); err != nil {
		return err
	}
	s.log.Info().
		Str("psychologist_id", psychologistID.String()).
		Str("template_id", templateID.String()).
		Msg("availability template deactivated")
	return nil
}

func (s *Service) ListActiveTemplates(ctx context.Context, psychologistID uuid.UUID) ([]Template, error) {
	return s.repo.ListActiveTemplates(ctx, psychologistID)
}

// CoveringTemplate finds the active template whose weekly window fully
// contains [start, end] in the reference timezone. Windows that cross
// local midnight never match a single-day template.
func (s *Service) CoveringTemplate(ctx context.Context, psychologistID uuid.UUID, start, end time.Time) (*Template, error) {
	day, startMin, endMin, ok := s.localWindow(start, end)
	if !ok {
		return nil, ErrOutsideAvailability
	}

	templates, err := s.repo.ListActiveTemplates(ctx, psychologistID)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	for i := range templates {
		if templates[i].Covers(day, startMin, endMin) {
			return &templates[i], nil
		}
	}
	return nil, ErrOutsideAvailability
}

// localWindow projects [start, end] into the reference timezone as a
// weekday plus minutes-of-day pair. ok is false when the window spans
// more than one local calendar day.
func (s *Service) localWindow(start, end time.Time) (day time.Weekday, startMin, endMin int, ok bool) {
	ls := start.In(s.loc)
	le := end.In(s.loc)

	day = ls.Weekday()
	startMin = ls.Hour()*60 + ls.Minute()
	endMin = le.Hour()*60 + le.Minute()

	sy, sm, sd := ls.Date()
	ey, em, ed := le.Date()
	if sy == ey && sm == em && sd == ed {
		return day, startMin, endMin, true
	}
	// Allow a window ending exactly at local midnight of the next day.
	if endMin == 0 && le.Add(-time.Minute).In(s.loc).Day() == sd {
		return day, startMin, 24 * 60, true
	}
	return 0, 0, 0, false
}

// OpenSlots materializes concrete bookable windows between from and to by
// expanding active templates and subtracting active appointments. Slots in
// the past are dropped.
func (s *Service) OpenSlots(ctx context.Context, psychologistID uuid.UUID, from, to time.Time, slotMinutes int) ([]OpenSlot, error) {
	if slotMinutes <= 0 {
		slotMinutes = 60
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidTimeRange)
	}

	templates, err := s.repo.ListActiveTemplates(ctx, psychologistID)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	if len(templates) == 0 {
		return nil, nil
	}

	booked, err := s.booked.BookedIntervals(ctx, psychologistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load booked intervals: %w", err)
	}

	now := s.now()
	var slots []OpenSlot

	day := time.Date(from.In(s.loc).Year(), from.In(s.loc).Month(), from.In(s.loc).Day(), 0, 0, 0, 0, s.loc)
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		for i := range templates {
			t := &templates[i]
			if !t.HasDay(day.Weekday()) {
				continue
			}
			for m := t.StartMinute; m+slotMinutes <= t.EndMinute; m += slotMinutes {
				slotStart := day.Add(time.Duration(m) * time.Minute)
				slotEnd := slotStart.Add(time.Duration(slotMinutes) * time.Minute)
				if slotStart.Before(now) || slotStart.Before(from) || slotEnd.After(to) {
					continue
				}
				window := Interval{Start: slotStart, End: slotEnd}
				if overlapsAny(window, booked) {
					continue
				}
				slots = append(slots, OpenSlot{
					PsychologistID: psychologistID,
					TemplateID:     t.ID,
					Start:          slotStart.UTC(),
					End:            slotEnd.UTC(),
				})
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

func overlapsAny(w Interval, booked []Interval) bool {
	for _, b := range booked {
		if w.Overlaps(b) {
			return true
		}
	}
	return false
}
