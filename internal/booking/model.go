package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCanceled  AppointmentStatus = "CANCELED"
)

// Terminal reports whether no further status transition is allowed.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// DateLayout is the canonical wire format for slot dates.
const DateLayout = "2006-01-02"

// TimeLayout is the canonical wire format for slot times.
const TimeLayout = "15:04"

// TimeOfDay is a clock time with minute precision, stored as minutes
// since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses a "HH:MM" 24-hour clock string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// OnSlotBoundary reports whether t falls on a half-hour boundary.
func (t TimeOfDay) OnSlotBoundary() bool {
	return int(t)%slotStepMinutes == 0
}

// DateOf truncates t to its calendar date, keeping the location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ParseDate parses a "YYYY-MM-DD" calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// Doctor is owned by the identity/profile service; the booking core
// reads it for the availability gate and the fee snapshot only.
type Doctor struct {
	ID          uuid.UUID
	Licence     string
	Name        string
	Email       string
	Specialty   *string
	Fee         float64
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is one half-hour reservation cell for one doctor. The
// (DoctorID, Date, Time) tuple is unique in the store.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      TimeOfDay
	IsBooked  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	SlotDate  time.Time
	SlotTime  TimeOfDay
	Fee       float64
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppointmentDetail is an appointment hydrated with the names the
// patient/doctor/admin listings display.
type AppointmentDetail struct {
	Appointment
	DoctorName      string
	DoctorSpecialty *string
	PatientName     string
}
