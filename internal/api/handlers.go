package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mindhaven/telehealth-scheduling/internal/appointment"
	"github.com/mindhaven/telehealth-scheduling/internal/availability"
	"github.com/mindhaven/telehealth-scheduling/internal/payment"
	redisclient "github.com/mindhaven/telehealth-scheduling/internal/redis"
)

// Handler holds the services the HTTP surface fronts.
type Handler struct {
	allocator *appointment.Allocator
	lifecycle *appointment.Lifecycle
	avail     *availability.Service
	bridge    *payment.Bridge
	loc       *time.Location
	validate  *validator.Validate
	log       zerolog.Logger
}

func NewHandler(
	allocator *appointment.Allocator,
	lifecycle *appointment.Lifecycle,
	avail *availability.Service,
	bridge *payment.Bridge,
	loc *time.Location,
	log zerolog.Logger,
) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		allocator: allocator,
		lifecycle: lifecycle,
		avail:     avail,
		bridge:    bridge,
		loc:       loc,
		validate:  validator.New(),
		log:       log,
	}
}

// decode parses the JSON body into dst and runs struct validation. A false
// return means the error response has already been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func idParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req CheckAvailabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	psychologistID, _ := uuid.Parse(req.PsychologistID)

	err := h.allocator.CheckWindow(r.Context(), psychologistID, actor.ID, req.StartTime, req.EndTime)
	if err != nil {
		h.handleReserveError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"available":       true,
		"psychologist_id": psychologistID,
		"start_time":      req.StartTime,
		"end_time":        req.EndTime,
	})
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	if actor.Role == appointment.RolePsychologist {
		writeError(w, http.StatusForbidden, "forbidden", "psychologists cannot book appointments")
		return
	}

	var req CreateAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	psychologistID, _ := uuid.Parse(req.PsychologistID)

	// Patients book for themselves; admins may book on a patient's behalf.
	patientID := actor.ID
	if actor.Role == appointment.RoleAdmin && req.PatientID != "" {
		patientID, _ = uuid.Parse(req.PatientID)
	}

	appt, err := h.allocator.Reserve(r.Context(), appointment.ReserveRequest{
		PsychologistID: psychologistID,
		PatientID:      patientID,
		Start:          req.StartTime,
		End:            req.EndTime,
		SessionFormat:  appointment.SessionFormat(req.SessionFormat),
		AmountCents:    req.AmountCents,
		Notes:          req.Notes,
	})
	if err != nil {
		h.handleReserveError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	appts, err := h.lifecycle.ListForActor(r.Context(), actor, limit, offset)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	now := time.Now()
	out := make([]AppointmentResponse, len(appts))
	for i := range appts {
		out[i] = toProjectedResponse(&appts[i], now, h.loc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := h.lifecycle.Get(r.Context(), id, actor)
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectedResponse(appt, time.Now(), h.loc))
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var req CancelAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.lifecycle.Cancel(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) adminCancelAppointment(w http.ResponseWriter, r *http.Request) {
	h.cancelAppointment(w, r)
}

func (h *Handler) adminCompleteAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var req CompleteAppointmentRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}

	result, err := h.lifecycle.Complete(r.Context(), id, actor, req.Notes)
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}

	resp := toAppointmentResponse(result.Appointment)
	writeJSON(w, http.StatusOK, map[string]any{
		"appointment":       resp,
		"already_completed": result.AlreadyCompleted,
	})
}

func (h *Handler) adminNoShowAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := h.lifecycle.MarkNoShow(r.Context(), id, actor)
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) joinAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := h.lifecycle.Join(r.Context(), id, actor)
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectedResponse(appt, time.Now(), h.loc))
}

func (h *Handler) openSlots(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_psychologist_id", "id must be a valid UUID")
		return
	}

	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
		return
	}
	slotMinutes, _ := strconv.Atoi(q.Get("slot_minutes"))

	slots, err := h.avail.OpenSlots(r.Context(), id, from, to, slotMinutes)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (h *Handler) handleReserveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidWindow),
		errors.Is(err, appointment.ErrPastWindow),
		errors.Is(err, appointment.ErrInvalidFormat),
		errors.Is(err, appointment.ErrTooManyPending):
		writeError(w, http.StatusBadRequest, "invalid_booking", err.Error())
	case errors.Is(err, availability.ErrOutsideAvailability):
		writeError(w, http.StatusBadRequest, "outside_availability", err.Error())
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, appointment.ErrPatientOverlap):
		writeError(w, http.StatusConflict, "patient_overlap", err.Error())
	case errors.Is(err, appointment.ErrSlotContended),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) handleLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrAlreadyCompleted),
		errors.Is(err, appointment.ErrPastAppointment),
		errors.Is(err, appointment.ErrCancelOngoing),
		errors.Is(err, appointment.ErrOutsideJoinWindow),
		errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "invalid_transition", err.Error())
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error().Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
}
