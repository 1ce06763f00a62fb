package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/telehealth-scheduling/internal/appointment"
)

type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
	byIntent map[string]uuid.UUID
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{
		payments: make(map[uuid.UUID]*Payment),
		byIntent: make(map[string]uuid.UUID),
	}
}

func (m *memPaymentRepo) CreatePayment(_ context.Context, p *Payment) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.AppointmentID == p.AppointmentID && existing.Status != StatusRefunded {
			return nil, ErrDuplicatePayment
		}
	}
	cp := *p
	cp.ID = uuid.New()
	cp.Status = StatusPending
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.payments[cp.ID] = &cp
	m.byIntent[cp.PaymentIntentID] = cp.ID
	out := cp
	return &out, nil
}

func (m *memPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) GetByIntentID(_ context.Context, intentID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIntent[intentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *m.payments[id]
	return &cp, nil
}

func (m *memPaymentRepo) UpdateStatusFrom(_ context.Context, id uuid.UUID, from, to Status) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != from {
		return nil, ErrStaleStatus
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) MarkRefunded(_ context.Context, id uuid.UUID, from Status, reason string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != from {
		return nil, ErrStaleStatus
	}
	p.Status = StatusRefunded
	p.RefundReason = reason
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

// fakeLifecycle records the calls the bridge makes.
type fakeLifecycle struct {
	appts      map[uuid.UUID]*appointment.Appointment
	confirmErr error
	canceled   []string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{appts: make(map[uuid.UUID]*appointment.Appointment)}
}

func (f *fakeLifecycle) add(status appointment.Status, amount int64, patient uuid.UUID) *appointment.Appointment {
	a := &appointment.Appointment{
		ID:          uuid.New(),
		PatientID:   patient,
		AmountCents: amount,
		Status:      status,
	}
	f.appts[a.ID] = a
	return a
}

func (f *fakeLifecycle) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return a, nil
}

func (f *fakeLifecycle) ConfirmPayment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	a, ok := f.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status != appointment.StatusPending {
		return nil, appointment.ErrInvalidTransition
	}
	a.Status = appointment.StatusConfirmed
	return a, nil
}

func (f *fakeLifecycle) CancelBySystem(_ context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status == appointment.StatusCompleted || a.Status == appointment.StatusMissed {
		return nil, appointment.ErrInvalidTransition
	}
	a.Status = appointment.StatusCanceled
	a.CancelationReason = reason
	f.canceled = append(f.canceled, reason)
	return a, nil
}

type fakeProvider struct {
	refunds   []string
	refundErr error
}

func (f *fakeProvider) CreateIntent(_ context.Context, _ int64, appointmentID uuid.UUID) (*Intent, error) {
	id := "pi_test_" + appointmentID.String()
	return &Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (f *fakeProvider) Refund(_ context.Context, intentID, _ string) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunds = append(f.refunds, intentID)
	return nil
}

func newTestBridge() (*Bridge, *memPaymentRepo, *fakeLifecycle, *fakeProvider) {
	repo := newMemPaymentRepo()
	life := newFakeLifecycle()
	provider := &fakeProvider{}
	bridge := NewBridge(repo, life, life, provider, zerolog.Nop())
	return bridge, repo, life, provider
}

func TestCreateIntentPersistsPendingPayment(t *testing.T) {
	bridge, _, life, _ := newTestBridge()
	ctx := context.Background()
	patient := uuid.New()

	appt := life.add(appointment.StatusPending, 7500, patient)

	p, secret, err := bridge.CreateIntent(ctx, appt.ID, patient)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, int64(7500), p.AmountCents)
	assert.NotEmpty(t, secret)

	// A second active payment for the same appointment is rejected.
	_, _, err = bridge.CreateIntent(ctx, appt.ID, patient)
	assert.ErrorIs(t, err, ErrDuplicatePayment)
}

func TestCreateIntentGuards(t *testing.T) {
	bridge, _, life, _ := newTestBridge()
	ctx := context.Background()
	patient := uuid.New()

	confirmed := life.add(appointment.StatusConfirmed, 7500, patient)
	_, _, err := bridge.CreateIntent(ctx, confirmed.ID, patient)
	assert.ErrorIs(t, err, ErrAppointmentNotPayable)

	pending := life.add(appointment.StatusPending, 7500, patient)
	_, _, err = bridge.CreateIntent(ctx, pending.ID, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrForbidden)

	_, _, err = bridge.CreateIntent(ctx, uuid.New(), patient)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestCompletedPaymentConfirmsAppointment(t *testing.T) {
	bridge, _, life, _ := newTestBridge()
	ctx := context.Background()
	patient := uuid.New()

	appt := life.add(appointment.StatusPending, 7500, patient)
	p, _, err := bridge.CreateIntent(ctx, appt.ID, patient)
	require.NoError(t, err)

	updated, err := bridge.HandleStatusUpdate(ctx, p.PaymentIntentID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
	assert.Equal(t, appointment.StatusConfirmed, life.appts[appt.ID].Status)

	// Callback replay is harmless.
	replay, err := bridge.HandleStatusUpdate(ctx, p.PaymentIntentID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, replay.Status)
}

func TestCompletedPaymentForLostSlotAutoRefunds(t *testing.T) {
	bridge, repo, life, provider := newTestBridge()
	ctx := context.Background()
	patient := uuid.New()

	appt := life.add(appointment.StatusPending, 7500, patient)
	p, _, err := bridge.CreateIntent(ctx, appt.ID, patient)
	require.NoError(t, err)

	// The pending appointment expired before the payment settled.
	life.confirmErr = appointment.ErrPendingExpired

	_, err = bridge.HandleStatusUpdate(ctx, p.PaymentIntentID, StatusCompleted)
	assert.ErrorIs(t, err, ErrSlotNoLongerAvailable)

	require.Len(t, provider.refunds, 1)
	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, got.Status)
}

func TestAutoRefundFailureLeavesPaymentForReconciliation(t *testing.T) {
	bridge, repo, life, provider := newTestBridge()
	ctx := context.Background()
	patient := uuid.New()

	appt := life.add(appointment.StatusPending, 7500, patient)
	p, _, err := bridge.CreateIntent(ctx, appt.ID, patient)
	require.NoError(t, err)

	life.confirmErr = appointment.ErrPendingExpired
	provider.refundErr = errors.New("provider down")

	_, err = bridge.HandleStatusUpdate(ctx, p.PaymentIntentID, StatusCompleted)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSlotNoLongerAvailable)

	// Still completed so a retry can refund it.
	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestFailedPaymentCancelsAppointment(t *testing.T) {
	bridge, _, life, _ := newTestBridge()
	ctx := context.Background()
	patient := uuid.New()

	appt := life.add(appointment.StatusPending, 7500, patient)
	p, _, err := bridge.CreateIntent(ctx, appt.ID, patient)
	require.NoError(t, err)

	updated, err := bridge.HandleStatusUpdate(ctx, p.PaymentIntentID, StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, updated.Status)
	assert.Equal(t, appointment.StatusCanceled, life.appts[appt.ID].Status)
}

func TestRefundCascadesToAppointment(t *testing.T) {
	bridge, _, life, provider := newTestBridge()
	ctx := context.Background()
	patient := uuid.New()

	appt := life.add(appointment.StatusPending, 7500, patient)
	p, _, err := bridge.CreateIntent(ctx, appt.ID, patient)
	require.NoError(t, err)

	_, err = bridge.HandleStatusUpdate(ctx, p.PaymentIntentID, StatusCompleted)
	require.NoError(t, err)

	refunded, err := bridge.Refund(ctx, p.ID, "card dispute")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)
	require.Len(t, provider.refunds, 1)

	got := life.appts[appt.ID]
	assert.Equal(t, appointment.StatusCanceled, got.Status)
	assert.Contains(t, got.CancelationReason, "refunded")

	// Refunding an already refunded payment is rejected.
	_, err = bridge.Refund(ctx, p.ID, "again")
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestProviderRefundCallbackOnPendingPayment(t *testing.T) {
	bridge, repo, life, provider := newTestBridge()
	ctx := context.Background()
	patient := uuid.New()

	appt := life.add(appointment.StatusPending, 7500, patient)
	p, _, err := bridge.CreateIntent(ctx, appt.ID, patient)
	require.NoError(t, err)

	// The intent was never captured, so there is no money to return:
	// the row is marked refunded without a provider refund call.
	updated, err := bridge.HandleStatusUpdate(ctx, p.PaymentIntentID, StatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, updated.Status)
	assert.Empty(t, provider.refunds)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, got.Status)
	assert.Equal(t, appointment.StatusCanceled, life.appts[appt.ID].Status)
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	bridge, _, life, _ := newTestBridge()
	ctx := context.Background()
	patient := uuid.New()

	appt := life.add(appointment.StatusPending, 7500, patient)
	p, _, err := bridge.CreateIntent(ctx, appt.ID, patient)
	require.NoError(t, err)

	_, err = bridge.Refund(ctx, p.ID, "too soon")
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestHandleStatusUpdateUnknowns(t *testing.T) {
	bridge, _, _, _ := newTestBridge()
	ctx := context.Background()

	_, err := bridge.HandleStatusUpdate(ctx, "pi_missing", StatusCompleted)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = bridge.HandleStatusUpdate(ctx, "pi_missing", Status("chargeback"))
	assert.ErrorIs(t, err, ErrUnknownStatus)
}
