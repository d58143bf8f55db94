package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotAlreadyBooked is returned by BookSlot when the conditional
	// slot upsert finds the cell already taken.
	ErrSlotAlreadyBooked = errors.New("slot already booked")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	SetDoctorAvailability(ctx context.Context, id uuid.UUID, available bool) (*Doctor, error)

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// FindBookedSlots returns the booked cells for a doctor with
	// from <= date < to. The generator subtracts them from the grid.
	FindBookedSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error)

	// BookSlot atomically marks the slot cell booked and inserts the
	// SCHEDULED appointment. Both writes commit or neither does.
	BookSlot(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slotTime TimeOfDay, fee float64) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)

	// UpdateAppointmentStatus is a compare-and-swap: the row moves from
	// `from` to `to` or the call fails with ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// CancelAppointment CASes SCHEDULED -> CANCELED and re-opens the slot
	// cell in the same transaction.
	CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)
	ListAppointments(ctx context.Context, limit, offset int) ([]AppointmentDetail, error)

	// DeletePastSlots removes slot rows dated before the given day.
	// Used by the janitor only; appointments keep the history.
	DeletePastSlots(ctx context.Context, before time.Time) (int64, error)
}
