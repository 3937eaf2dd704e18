package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clinicops/appointment-scheduling/internal/booking"
	"github.com/clinicops/appointment-scheduling/internal/clock"
	"github.com/clinicops/appointment-scheduling/internal/payment"
	redisclient "github.com/clinicops/appointment-scheduling/internal/redis"
)

// actorHeader carries the authenticated actor's id. Session handling lives in
// front of this service; ownership checks compare the header against the
// appointment's doctor or patient.
const actorHeader = "X-Actor-ID"

const maxCallbackBody = 1 << 20

var validate = validator.New()

// SchedulingService is the write surface the handlers drive.
type SchedulingService interface {
	RequestAppointment(ctx context.Context, in booking.RequestInput) (*booking.Appointment, error)
	Approve(ctx context.Context, id, actorID uuid.UUID) (*booking.Appointment, error)
	Decline(ctx context.Context, id, actorID uuid.UUID, reason string) (*booking.Appointment, error)
	Cancel(ctx context.Context, id, actorID uuid.UUID) (*booking.Appointment, error)
	Complete(ctx context.Context, id, actorID uuid.UUID) (*booking.Appointment, error)
	RegeneratePaymentLink(ctx context.Context, id, actorID uuid.UUID) (*booking.Appointment, error)
	ConfirmPayment(ctx context.Context, id uuid.UUID, ev booking.PaymentEvent) (*booking.Appointment, error)
	ListBookedSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]time.Time, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
}

// CallbackHandler is the webhook-processing surface.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, raw []byte, signature string) (*payment.Ack, error)
}

func requestAppointmentHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RequestAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", validationDetails(err))
			return
		}

		patientID, _ := uuid.Parse(req.PatientID)
		doctorID, _ := uuid.Parse(req.DoctorID)

		scheduledFor, err := parseCivilTime(req.ScheduledFor, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_for",
				"scheduled_for must be formatted as "+civilLayout)
			return
		}

		in := booking.RequestInput{
			PatientID:    patientID,
			DoctorID:     doctorID,
			ScheduledFor: scheduledFor,
			Reason:       req.Reason,
		}
		if req.Notes != "" {
			in.Notes = &req.Notes
		}
		if req.Phone != "" {
			in.Phone = &req.Phone
		}

		appt, err := svc.RequestAppointment(r.Context(), in)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt, loc))
	}
}

func approveAppointmentHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := appointmentAndActor(w, r)
		if !ok {
			return
		}

		appt, err := svc.Approve(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, loc))
	}
}

func declineAppointmentHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := appointmentAndActor(w, r)
		if !ok {
			return
		}

		var req DeclineAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", validationDetails(err))
			return
		}

		appt, err := svc.Decline(r.Context(), id, actor, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, loc))
	}
}

func cancelAppointmentHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := appointmentAndActor(w, r)
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, loc))
	}
}

func completeAppointmentHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := appointmentAndActor(w, r)
		if !ok {
			return
		}

		appt, err := svc.Complete(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, loc))
	}
}

func regeneratePaymentLinkHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := appointmentAndActor(w, r)
		if !ok {
			return
		}

		appt, err := svc.RegeneratePaymentLink(r.Context(), id, actor)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := PaymentLinkResponse{}
		if appt.PaymentLink != nil {
			resp.PaymentLink = *appt.PaymentLink
		}
		if appt.PaymentDeadline != nil {
			resp.ExpiresAt = *appt.PaymentDeadline
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// paymentCallbackHandler is invoked by the provider, authenticated only by
// signature. Business no-ops are acknowledged with 200 so the provider stops
// redelivering.
func paymentCallbackHandler(hooks CallbackHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable_body", "could not read callback body")
			return
		}
		defer r.Body.Close()

		ack, err := hooks.HandleCallback(r.Context(), raw, r.Header.Get("X-Payment-Signature"))
		if err != nil {
			if errors.Is(err, payment.ErrInvalidSignature) || errors.Is(err, payment.ErrGatewayUnconfigured) {
				writeError(w, http.StatusBadRequest, "invalid_signature", "callback signature could not be verified")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, ack)
	}
}

func listBookedSlotsHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		dateStr := r.URL.Query().Get("date")
		day, err := time.ParseInLocation("2006-01-02", dateStr, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as 2006-01-02")
			return
		}

		slots, err := svc.ListBookedSlots(r.Context(), doctorID, day)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := BookedSlotsResponse{
			DoctorID: doctorID,
			Date:     dateStr,
			Slots:    make([]string, 0, len(slots)),
		}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, s.In(loc).Format(civilLayout))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, loc))
	}
}

func listAppointmentsHandler(svc SchedulingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		var (
			appts []booking.Appointment
			err   error
		)

		switch {
		case q.Get("patient_id") != "":
			patientID, parseErr := uuid.Parse(q.Get("patient_id"))
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByPatient(r.Context(), patientID, limit, offset)
		case q.Get("doctor_id") != "":
			doctorID, parseErr := uuid.Parse(q.Get("doctor_id"))
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByDoctor(r.Context(), doctorID, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or doctor_id is required")
			return
		}

		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i], loc))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// Helpers

func appointmentAndActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, uuid.Nil, false
	}

	actor, err := uuid.Parse(r.Header.Get(actorHeader))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_actor", actorHeader+" header must be a valid UUID")
		return uuid.Nil, uuid.Nil, false
	}

	return id, actor, true
}

func parseCivilTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(civilLayout, s, loc); err == nil {
		return t, nil
	}
	// Tolerate full RFC 3339; the service pins it to the clinic calendar.
	return time.Parse(time.RFC3339, s)
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "invalid field: " + verrs[0].Field()
	}
	return err.Error()
}

func handleServiceError(w http.ResponseWriter, err error) {
	var invalid *booking.InvalidTransitionError

	switch {
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrMissingReason):
		writeError(w, http.StatusBadRequest, "missing_reason", err.Error())
	case errors.Is(err, clock.ErrSlotInPast), errors.Is(err, clock.ErrSlotTooSoon):
		writeError(w, http.StatusBadRequest, "slot_too_soon", err.Error())
	case errors.Is(err, booking.ErrDoctorUnavailable):
		writeError(w, http.StatusConflict, "doctor_unavailable", err.Error())
	case errors.Is(err, booking.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrNotAppointmentOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, booking.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, booking.ErrNotApproved):
		writeError(w, http.StatusConflict, "not_approved", err.Error())
	case errors.Is(err, booking.ErrAlreadyInState):
		writeError(w, http.StatusConflict, "already_in_state", err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrStatusChanged):
		writeError(w, http.StatusConflict, "status_changed", err.Error())
	case errors.Is(err, booking.ErrPaymentSessionFailed):
		writeError(w, http.StatusBadGateway, "payment_session_failed",
			"appointment approved but no payment link could be issued, retry regeneration")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
