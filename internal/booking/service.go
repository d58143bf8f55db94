package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/medibook/booking-service/internal/redis"
)

var (
	// ErrDoctorUnavailable covers both a missing doctor and one whose
	// availability flag is off. Callers see a single "doctor not
	// available" rejection either way.
	ErrDoctorUnavailable = errors.New("doctor not available")

	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrBookingFailed           = errors.New("booking failed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// WeekSchedule is the listAvailableSlots result: one bucket per calendar
// day over the rolling window, plus the doctor's current fee.
type WeekSchedule struct {
	Days      []DaySlots
	DoctorFee float64
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
		now:    time.Now,
	}
}

// availableDoctor loads the doctor and applies the availability gate.
func (s *Service) availableDoctor(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, ErrDoctorUnavailable
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.IsAvailable {
		return nil, ErrDoctorUnavailable
	}
	return doctor, nil
}

// ListAvailableSlots computes the doctor's free slot grid for the next
// seven days. Pure read: the grid is recomputed from the store on every
// call so a stale in-process cache can never offer a taken slot.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID) (*WeekSchedule, error) {
	doctor, err := s.availableDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	from := DateOf(now)
	to := from.AddDate(0, 0, windowDays)

	bookedSlots, err := s.repo.FindBookedSlots(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load booked slots: %w", err)
	}

	booked := make(map[string]bool, len(bookedSlots))
	for _, slot := range bookedSlots {
		if slot.IsBooked {
			booked[slotKey(slot.Date, slot.Time)] = true
		}
	}

	return &WeekSchedule{
		Days:      GenerateWeek(now, booked),
		DoctorFee: doctor.Fee,
	}, nil
}

// BookSlot reserves one (doctor, date, time) cell for a patient. A Redis
// per-slot lock serializes concurrent attempts for the same cell; the
// conditional upsert inside the repository transaction is the invariant
// holder, so even a lost lock cannot produce a double booking.
func (s *Service) BookSlot(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slotTime TimeOfDay) (*Appointment, error) {
	doctor, err := s.availableDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *Appointment
	lockKey := doctorID.String() + ":" + slotKey(date, slotTime)

	err = s.locker.WithSlotLock(ctx, lockKey, func(lockCtx context.Context) error {
		appt, err := s.repo.BookSlot(lockCtx, doctorID, patientID, date, slotTime, doctor.Fee)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return nil, ErrSlotBeingBooked
	case errors.Is(err, ErrSlotAlreadyBooked):
		return nil, err
	default:
		s.log.Error("booking transaction failed",
			zap.String("doctor_id", doctorID.String()),
			zap.String("slot", slotKey(date, slotTime)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}

	s.log.Info("slot booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor_id", doctorID.String()),
		zap.String("slot", slotKey(date, slotTime)))

	return created, nil
}

// CompleteAppointment moves one of the doctor's SCHEDULED appointments to
// COMPLETED. Terminal states never transition again.
func (s *Service) CompleteAppointment(ctx context.Context, id, doctorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, ErrAppointmentNotFound
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race against another transition.
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.log.Info("appointment completed", zap.String("appointment_id", id.String()))
	return updated, nil
}

// CancelByPatient cancels the patient's own appointment and frees the slot.
func (s *Service) CancelByPatient(ctx context.Context, id, patientID uuid.UUID) (*Appointment, error) {
	return s.cancel(ctx, id, func(a *Appointment) bool { return a.PatientID == patientID })
}

// CancelByDoctor cancels an appointment on the doctor's own calendar.
func (s *Service) CancelByDoctor(ctx context.Context, id, doctorID uuid.UUID) (*Appointment, error) {
	return s.cancel(ctx, id, func(a *Appointment) bool { return a.DoctorID == doctorID })
}

func (s *Service) cancel(ctx context.Context, id uuid.UUID, owns func(*Appointment) bool) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !owns(appt) {
		// Same response as a missing row so ownership cannot be probed.
		return nil, ErrAppointmentNotFound
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidStatusTransition
	}

	canceled, err := s.repo.CancelAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.log.Info("appointment canceled, slot released",
		zap.String("appointment_id", id.String()),
		zap.String("slot", slotKey(canceled.SlotDate, canceled.SlotTime)))

	return canceled, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	limit, offset = clampPage(limit, offset)
	result, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return result, nil
}

func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	limit, offset = clampPage(limit, offset)
	result, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return result, nil
}

func (s *Service) ListAllAppointments(ctx context.Context, limit, offset int) ([]AppointmentDetail, error) {
	limit, offset = clampPage(limit, offset)
	result, err := s.repo.ListAppointments(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return result, nil
}

func (s *Service) GetDoctor(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctorByID(ctx, doctorID)
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

func (s *Service) SetDoctorAvailability(ctx context.Context, doctorID uuid.UUID, available bool) (*Doctor, error) {
	doctor, err := s.repo.SetDoctorAvailability(ctx, doctorID, available)
	if err != nil {
		return nil, err
	}

	s.log.Info("doctor availability changed",
		zap.String("doctor_id", doctorID.String()),
		zap.Bool("available", available))

	return doctor, nil
}
