package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/telehealth-scheduling/internal/availability"
)

// memRepo is an in-memory Repository mirroring the SQL semantics,
// including the atomic conditional claim.
type memRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func isActive(s Status) bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusOngoing
}

func (m *memRepo) ClaimWindow(_ context.Context, a *Appointment) (ClaimResult, *Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.appts {
		if existing.PsychologistID == a.PsychologistID &&
			isActive(existing.Status) &&
			existing.StartTime.Before(a.EndTime) &&
			a.StartTime.Before(existing.EndTime) {
			return AlreadyTaken, nil, nil
		}
	}

	cp := *a
	cp.ID = uuid.New()
	cp.Status = StatusPending
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.appts[cp.ID] = &cp

	out := cp
	return Claimed, &out, nil
}

func (m *memRepo) PsychologistOverlapExists(_ context.Context, psychologistID uuid.UUID, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.PsychologistID == psychologistID && isActive(a.Status) &&
			a.StartTime.Before(end) && start.Before(a.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) PatientOverlapExists(_ context.Context, patientID uuid.UUID, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.PatientID == patientID && isActive(a.Status) &&
			a.StartTime.Before(end) && start.Before(a.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) CountPendingByPatient(_ context.Context, patientID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.PatientID == patientID && a.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrStaleStatus
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) CancelFrom(_ context.Context, id uuid.UUID, from Status, canceledBy *uuid.UUID, reason string, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrStaleStatus
	}
	a.Status = StatusCanceled
	a.CancelationReason = reason
	a.CanceledBy = canceledBy
	canceledAt := at
	a.CanceledAt = &canceledAt
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) CompleteFrom(_ context.Context, id uuid.UUID, from Status, notes string, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrStaleStatus
	}
	a.Status = StatusCompleted
	completedAt := at
	a.CompletedAt = &completedAt
	if notes != "" {
		a.Notes = notes
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) MissFrom(_ context.Context, id uuid.UUID, from Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrStaleStatus
	}
	a.Status = StatusMissed
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) JoinFrom(_ context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != StatusConfirmed {
		return nil, ErrStaleStatus
	}
	a.Status = StatusOngoing
	joinedAt := at
	a.JoinedAt = &joinedAt
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) FindExpiredPending(_ context.Context, now time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.Status == StatusPending && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) FindElapsedConfirmedWithoutJoin(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.Status == StatusConfirmed && a.JoinedAt == nil && a.EndTime.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) FindElapsedOngoing(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.Status == StatusOngoing && a.EndTime.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) ListByPsychologist(_ context.Context, psychologistID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.PsychologistID == psychologistID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) BookedIntervals(_ context.Context, psychologistID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Interval
	for _, a := range m.appts {
		if a.PsychologistID == psychologistID && isActive(a.Status) &&
			a.StartTime.Before(to) && from.Before(a.EndTime) {
			out = append(out, availability.Interval{Start: a.StartTime, End: a.EndTime})
		}
	}
	return out, nil
}
