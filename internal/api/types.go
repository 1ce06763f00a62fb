package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/telehealth-scheduling/internal/appointment"
	"github.com/mindhaven/telehealth-scheduling/internal/availability"
	"github.com/mindhaven/telehealth-scheduling/internal/payment"
)

type CheckAvailabilityRequest struct {
	PsychologistID string    `json:"psychologist_id" validate:"required,uuid"`
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required"`
}

type CreateAppointmentRequest struct {
	PsychologistID string    `json:"psychologist_id" validate:"required,uuid"`
	PatientID      string    `json:"patient_id" validate:"omitempty,uuid"`
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required"`
	SessionFormat  string    `json:"session_format" validate:"required,oneof=video in_person phone"`
	AmountCents    int64     `json:"amount_cents" validate:"required,gt=0"`
	Notes          string    `json:"notes"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type CompleteAppointmentRequest struct {
	Notes string `json:"notes"`
}

type CreateTemplateRequest struct {
	DaysOfWeek []int  `json:"days_of_week" validate:"required,min=1,dive,min=0,max=6"`
	StartTime  string `json:"start_time" validate:"required"`
	EndTime    string `json:"end_time" validate:"required"`
}

type CreateIntentRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
}

type UpdatePaymentStatusRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
	Status          string `json:"status" validate:"required,oneof=pending completed failed refunded"`
}

type RefundRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type FlagsResponse struct {
	IsToday   bool `json:"is_today"`
	IsPast    bool `json:"is_past"`
	CanJoin   bool `json:"can_join"`
	IsOngoing bool `json:"is_ongoing"`
}

type AppointmentResponse struct {
	ID                uuid.UUID      `json:"id"`
	PsychologistID    uuid.UUID      `json:"psychologist_id"`
	PatientID         uuid.UUID      `json:"patient_id"`
	TemplateID        uuid.UUID      `json:"template_id"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	DurationMinutes   int            `json:"duration_minutes"`
	SessionFormat     string         `json:"session_format"`
	Status            string         `json:"status"`
	AmountCents       int64          `json:"amount_cents"`
	Notes             string         `json:"notes,omitempty"`
	CancelationReason string         `json:"cancelation_reason,omitempty"`
	CanceledAt        *time.Time     `json:"canceled_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	JoinedAt          *time.Time     `json:"joined_at,omitempty"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	Flags             *FlagsResponse `json:"flags,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		PsychologistID:    a.PsychologistID,
		PatientID:         a.PatientID,
		TemplateID:        a.TemplateID,
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		DurationMinutes:   a.DurationMinutes,
		SessionFormat:     string(a.SessionFormat),
		Status:            string(a.Status),
		AmountCents:       a.AmountCents,
		Notes:             a.Notes,
		CancelationReason: a.CancelationReason,
		CanceledAt:        a.CanceledAt,
		CompletedAt:       a.CompletedAt,
		JoinedAt:          a.JoinedAt,
		ExpiresAt:         a.ExpiresAt,
		CreatedAt:         a.CreatedAt,
	}
}

func toProjectedResponse(a *appointment.Appointment, now time.Time, loc *time.Location) AppointmentResponse {
	resp := toAppointmentResponse(a)
	f := appointment.Project(a, now, loc)
	resp.Flags = &FlagsResponse{
		IsToday:   f.IsToday,
		IsPast:    f.IsPast,
		CanJoin:   f.CanJoin,
		IsOngoing: f.IsOngoing,
	}
	return resp
}

type TemplateResponse struct {
	ID             uuid.UUID `json:"id"`
	PsychologistID uuid.UUID `json:"psychologist_id"`
	DaysOfWeek     []int     `json:"days_of_week"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

func toTemplateResponse(t *availability.Template) TemplateResponse {
	days := make([]int, len(t.DaysOfWeek))
	for i, d := range t.DaysOfWeek {
		days[i] = int(d)
	}
	return TemplateResponse{
		ID:             t.ID,
		PsychologistID: t.PsychologistID,
		DaysOfWeek:     days,
		StartTime:      availability.FormatClock(t.StartMinute),
		EndTime:        availability.FormatClock(t.EndMinute),
		IsActive:       t.IsActive,
		CreatedAt:      t.CreatedAt,
	}
}

type PaymentResponse struct {
	ID              uuid.UUID `json:"id"`
	AppointmentID   uuid.UUID `json:"appointment_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	AmountCents     int64     `json:"amount_cents"`
	Status          string    `json:"status"`
	RefundReason    string    `json:"refund_reason,omitempty"`
	ClientSecret    string    `json:"client_secret,omitempty"`
}

func toPaymentResponse(p *payment.Payment, clientSecret string) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		AppointmentID:   p.AppointmentID,
		PaymentIntentID: p.PaymentIntentID,
		AmountCents:     p.AmountCents,
		Status:          string(p.Status),
		RefundReason:    p.RefundReason,
		ClientSecret:    clientSecret,
	}
}
