package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mindhaven/telehealth-scheduling/internal/appointment"
	"github.com/mindhaven/telehealth-scheduling/internal/payment"
)

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req CreateIntentRequest
	if !h.decode(w, r, &req) {
		return
	}
	appointmentID, _ := uuid.Parse(req.AppointmentID)

	p, clientSecret, err := h.bridge.CreateIntent(r.Context(), appointmentID, actor.ID)
	if err != nil {
		h.handlePaymentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p, clientSecret))
}

func (h *Handler) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdatePaymentStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.bridge.HandleStatusUpdate(r.Context(), req.PaymentIntentID, payment.Status(req.Status))
	if err != nil {
		h.handlePaymentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p, ""))
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payment_id", "id must be a valid UUID")
		return
	}

	var req RefundRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.bridge.Refund(r.Context(), id, req.Reason)
	if err != nil {
		h.handlePaymentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p, ""))
}

func (h *Handler) handlePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound),
		errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, payment.ErrAppointmentNotPayable),
		errors.Is(err, payment.ErrNotRefundable),
		errors.Is(err, payment.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, "invalid_payment_request", err.Error())
	case errors.Is(err, payment.ErrDuplicatePayment):
		writeError(w, http.StatusConflict, "duplicate_payment", err.Error())
	case errors.Is(err, payment.ErrSlotNoLongerAvailable):
		writeError(w, http.StatusConflict, "slot_no_longer_available", err.Error())
	default:
		h.internalError(w, r, err)
	}
}
