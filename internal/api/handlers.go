package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medibook/booking-service/internal/booking"
	"github.com/medibook/booking-service/internal/observability/metrics"
)

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

func parsePage(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func listDoctorsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for i := range doctors {
			resp = append(resp, toDoctorResponse(&doctors[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getDoctorHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		doctor, err := svc.GetDoctor(r.Context(), doctorID)
		if err != nil {
			if errors.Is(err, booking.ErrDoctorNotFound) {
				writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponse(doctor))
	}
}

func listAvailableSlotsHandler(svc BookingService, m *metrics.BookingMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		schedule, err := svc.ListAvailableSlots(r.Context(), doctorID)
		if err != nil {
			if errors.Is(err, booking.ErrDoctorUnavailable) {
				writeError(w, http.StatusNotFound, "doctor_unavailable", "doctor not found or not available")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		m.ObserveSlotList()
		writeJSON(w, http.StatusOK, toAvailableSlotsResponse(schedule))
	}
}

func bookAppointmentHandler(svc BookingService, m *metrics.BookingMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing patient identity")
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		doctorID, _ := uuid.Parse(req.DoctorID)
		date, err := booking.ParseDate(req.SlotDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_date", "slot_date must be YYYY-MM-DD")
			return
		}
		slotTime, err := booking.ParseTimeOfDay(req.SlotTime)
		if err != nil || !slotTime.OnSlotBoundary() {
			writeError(w, http.StatusBadRequest, "invalid_slot_time", "slot_time must be HH:MM on a half-hour boundary")
			return
		}

		appt, err := svc.BookSlot(r.Context(), doctorID, patientID, date, slotTime)
		if err != nil {
			handleBookingError(w, m, err)
			return
		}

		m.ObserveBooking(metrics.OutcomeBooked)
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func handleBookingError(w http.ResponseWriter, m *metrics.BookingMetrics, err error) {
	switch {
	case errors.Is(err, booking.ErrDoctorUnavailable):
		m.ObserveBooking(metrics.OutcomeDoctorUnavailable)
		writeError(w, http.StatusConflict, "doctor_unavailable", "doctor not found or not available")
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotAlreadyBooked):
		m.ObserveBooking(metrics.OutcomeSlotConflict)
		writeError(w, http.StatusConflict, "slot_already_booked", "this slot is already booked, please select another time")
	case errors.Is(err, booking.ErrSlotBeingBooked):
		m.ObserveBooking(metrics.OutcomeSlotConflict)
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrBookingFailed):
		m.ObserveBooking(metrics.OutcomeFailed)
		writeError(w, http.StatusInternalServerError, "booking_failed", "this slot could not be booked, please try again")
	default:
		m.ObserveBooking(metrics.OutcomeFailed)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func listPatientAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing patient identity")
			return
		}

		limit, offset := parsePage(r)
		details, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func listDoctorAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing doctor identity")
			return
		}

		limit, offset := parsePage(r)
		details, err := svc.ListAppointmentsByDoctor(r.Context(), doctorID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func adminListAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := parsePage(r)
		details, err := svc.ListAllAppointments(r.Context(), limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentDetailResponse(detail))
	}
}

// transition builds the cancel/complete handlers; they differ only in
// which service call runs once the id and principal are extracted.
func transitionHandler(apply func(r *http.Request, id, principal uuid.UUID) (*booking.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
			return
		}

		id, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := apply(r, id, principal)
		if err != nil {
			handleTransitionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelPatientAppointmentHandler(svc BookingService) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id, patientID uuid.UUID) (*booking.Appointment, error) {
		return svc.CancelByPatient(r.Context(), id, patientID)
	})
}

func cancelDoctorAppointmentHandler(svc BookingService) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id, doctorID uuid.UUID) (*booking.Appointment, error) {
		return svc.CancelByDoctor(r.Context(), id, doctorID)
	})
}

func completeAppointmentHandler(svc BookingService) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id, doctorID uuid.UUID) (*booking.Appointment, error) {
		return svc.CompleteAppointment(r.Context(), id, doctorID)
	})
}

func handleTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func setDoctorAvailabilityHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := parseIDParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var req SetAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		doctor, err := svc.SetDoctorAvailability(r.Context(), doctorID, *req.Available)
		if err != nil {
			if errors.Is(err, booking.ErrDoctorNotFound) {
				writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponse(doctor))
	}
}

func toDetailResponses(details []booking.AppointmentDetail) []AppointmentDetailResponse {
	resp := make([]AppointmentDetailResponse, 0, len(details))
	for i := range details {
		resp = append(resp, toAppointmentDetailResponse(&details[i]))
	}
	return resp
}
