package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/medibook/booking-service/internal/booking"
)

var validate = validator.New()

type BookAppointmentRequest struct {
	DoctorID string `json:"doctor_id" validate:"required,uuid"`
	SlotDate string `json:"slot_date" validate:"required,datetime=2006-01-02"`
	SlotTime string `json:"slot_time" validate:"required,datetime=15:04"`
}

type SetAvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

type SlotDescriptor struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type AvailableSlotsResponse struct {
	Slots     [][]SlotDescriptor `json:"slots"`
	DoctorFee float64            `json:"doctor_fee"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	SlotDate  string    `json:"slot_date"`
	SlotTime  string    `json:"slot_time"`
	Fee       float64   `json:"fee"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	DoctorName      string  `json:"doctor_name"`
	DoctorSpecialty *string `json:"doctor_specialty,omitempty"`
	PatientName     string  `json:"patient_name"`
}

type DoctorResponse struct {
	ID          uuid.UUID `json:"id"`
	Licence     string    `json:"licence"`
	Name        string    `json:"name"`
	Specialty   *string   `json:"specialty,omitempty"`
	Fee         float64   `json:"fee"`
	IsAvailable bool      `json:"is_available"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAvailableSlotsResponse(schedule *booking.WeekSchedule) AvailableSlotsResponse {
	slots := make([][]SlotDescriptor, 0, len(schedule.Days))
	for _, day := range schedule.Days {
		bucket := make([]SlotDescriptor, 0, len(day.Times))
		for _, t := range day.Times {
			bucket = append(bucket, SlotDescriptor{
				Date: day.Date.Format(booking.DateLayout),
				Time: t.String(),
			})
		}
		slots = append(slots, bucket)
	}
	return AvailableSlotsResponse{
		Slots:     slots,
		DoctorFee: schedule.DoctorFee,
	}
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		SlotDate:  a.SlotDate.Format(booking.DateLayout),
		SlotTime:  a.SlotTime.String(),
		Fee:       a.Fee,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
	}
}

func toAppointmentDetailResponse(d *booking.AppointmentDetail) AppointmentDetailResponse {
	return AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
		DoctorName:          d.DoctorName,
		DoctorSpecialty:     d.DoctorSpecialty,
		PatientName:         d.PatientName,
	}
}

func toDoctorResponse(d *booking.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:          d.ID,
		Licence:     d.Licence,
		Name:        d.Name,
		Specialty:   d.Specialty,
		Fee:         d.Fee,
		IsAvailable: d.IsAvailable,
	}
}
