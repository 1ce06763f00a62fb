package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	templates map[uuid.UUID]*Template
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{templates: make(map[uuid.UUID]*Template)}
}

func (f *fakeRepo) CreateTemplate(_ context.Context, t *Template) (*Template, error) {
	cp := *t
	cp.ID = uuid.New()
	cp.IsActive = true
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.templates[cp.ID] = &cp
	return &cp, nil
}

func (f *fakeRepo) DeactivateTemplate(_ context.Context, templateID, psychologistID uuid.UUID) error {
	t, ok := f.templates[templateID]
	if !ok || t.PsychologistID != psychologistID {
		return ErrTemplateNotFound
	}
	t.IsActive = false
	return nil
}

func (f *fakeRepo) ListActiveTemplates(_ context.Context, psychologistID uuid.UUID) ([]Template, error) {
	var out []Template
	for _, t := range f.templates {
		if t.IsActive && t.PsychologistID == psychologistID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetTemplateByID(_ context.Context, id uuid.UUID) (*Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

type fakeBooked struct {
	intervals []Interval
}

func (f *fakeBooked) BookedIntervals(context.Context, uuid.UUID, time.Time, time.Time) ([]Interval, error) {
	return f.intervals, nil
}

type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(repo Repository, booked BookedIntervalSource) *Service {
	return NewService(repo, booked, passLocker{}, time.UTC, zerolog.Nop())
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"9:30", 0, true},
		{"09:60", 0, true},
		{"abcde", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidTimeFormat, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestCreateTemplateValidation(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeBooked{})
	ctx := context.Background()
	psy := uuid.New()

	_, err := svc.CreateTemplate(ctx, psy, nil, "10:00", "16:00")
	assert.ErrorIs(t, err, ErrNoDaysGiven)

	_, err = svc.CreateTemplate(ctx, psy, []time.Weekday{time.Monday}, "10:00", "9am")
	assert.ErrorIs(t, err, ErrInvalidTimeFormat)

	_, err = svc.CreateTemplate(ctx, psy, []time.Weekday{time.Monday}, "16:00", "10:00")
	assert.ErrorIs(t, err, ErrInvalidTimeRange)
}

func TestCreateTemplateRejectsOverlapOnSharedDay(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeBooked{})
	ctx := context.Background()
	psy := uuid.New()

	_, err := svc.CreateTemplate(ctx, psy, []time.Weekday{time.Monday, time.Wednesday}, "10:00", "16:00")
	require.NoError(t, err)

	// Overlapping window on a shared day.
	_, err = svc.CreateTemplate(ctx, psy, []time.Weekday{time.Wednesday}, "15:00", "18:00")
	assert.ErrorIs(t, err, ErrTemplateOverlap)

	// Same window on a disjoint day is fine.
	_, err = svc.CreateTemplate(ctx, psy, []time.Weekday{time.Tuesday}, "15:00", "18:00")
	assert.NoError(t, err)

	// Adjacent window on a shared day is fine (half-open ranges).
	_, err = svc.CreateTemplate(ctx, psy, []time.Weekday{time.Monday}, "16:00", "18:00")
	assert.NoError(t, err)

	// Another psychologist is never affected.
	_, err = svc.CreateTemplate(ctx, uuid.New(), []time.Weekday{time.Monday}, "10:00", "16:00")
	assert.NoError(t, err)
}

func TestDeactivateTemplateIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeBooked{})
	ctx := context.Background()
	psy := uuid.New()

	tpl, err := svc.CreateTemplate(ctx, psy, []time.Weekday{time.Friday}, "09:00", "12:00")
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateTemplate(ctx, tpl.ID, psy))
	require.NoError(t, svc.DeactivateTemplate(ctx, tpl.ID, psy))

	assert.ErrorIs(t, svc.DeactivateTemplate(ctx, uuid.New(), psy), ErrTemplateNotFound)
	assert.ErrorIs(t, svc.DeactivateTemplate(ctx, tpl.ID, uuid.New()), ErrTemplateNotFound)

	active, err := svc.ListActiveTemplates(ctx, psy)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// mondayAt returns a concrete Monday in UTC with the given clock time.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2025, time.March, 3, hour, minute, 0, 0, time.UTC)
}

func TestCoveringTemplateContainment(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeBooked{})
	ctx := context.Background()
	psy := uuid.New()

	tpl, err := svc.CreateTemplate(ctx, psy, []time.Weekday{time.Monday}, "10:00", "16:00")
	require.NoError(t, err)

	// Fully contained window matches.
	got, err := svc.CoveringTemplate(ctx, psy, mondayAt(15, 0), mondayAt(16, 0))
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, got.ID)

	// Window running past the template edge does not.
	_, err = svc.CoveringTemplate(ctx, psy, mondayAt(15, 30), mondayAt(16, 30))
	assert.ErrorIs(t, err, ErrOutsideAvailability)

	// Right weekday for somebody else's template does not.
	_, err = svc.CoveringTemplate(ctx, uuid.New(), mondayAt(10, 0), mondayAt(11, 0))
	assert.ErrorIs(t, err, ErrOutsideAvailability)

	// Wrong weekday does not.
	tuesday := mondayAt(10, 0).AddDate(0, 0, 1)
	_, err = svc.CoveringTemplate(ctx, psy, tuesday, tuesday.Add(time.Hour))
	assert.ErrorIs(t, err, ErrOutsideAvailability)

	// A window crossing local midnight never matches.
	_, err = svc.CoveringTemplate(ctx, psy, mondayAt(23, 0), mondayAt(23, 0).Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrOutsideAvailability)
}

func TestOpenSlotsSubtractsBookings(t *testing.T) {
	repo := newFakeRepo()
	booked := &fakeBooked{}
	svc := newTestService(repo, booked)
	svc.WithClock(func() time.Time { return mondayAt(0, 0) })
	ctx := context.Background()
	psy := uuid.New()

	tpl, err := svc.CreateTemplate(ctx, psy, []time.Weekday{time.Monday}, "10:00", "13:00")
	require.NoError(t, err)

	// 11:00-12:00 is already claimed.
	booked.intervals = []Interval{{Start: mondayAt(11, 0), End: mondayAt(12, 0)}}

	slots, err := svc.OpenSlots(ctx, psy, mondayAt(0, 0), mondayAt(0, 0).AddDate(0, 0, 1), 60)
	require.NoError(t, err)

	require.Len(t, slots, 2)
	assert.Equal(t, mondayAt(10, 0), slots[0].Start)
	assert.Equal(t, mondayAt(12, 0), slots[1].Start)
	assert.Equal(t, tpl.ID, slots[0].TemplateID)
}

func TestOpenSlotsSkipsPast(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeBooked{})
	svc.WithClock(func() time.Time { return mondayAt(11, 30) })
	ctx := context.Background()
	psy := uuid.New()

	_, err := svc.CreateTemplate(ctx, psy, []time.Weekday{time.Monday}, "10:00", "13:00")
	require.NoError(t, err)

	slots, err := svc.OpenSlots(ctx, psy, mondayAt(0, 0), mondayAt(0, 0).AddDate(0, 0, 1), 60)
	require.NoError(t, err)

	require.Len(t, slots, 1)
	assert.Equal(t, mondayAt(12, 0), slots[0].Start)
}
