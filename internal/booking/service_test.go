package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/medibook/booking-service/internal/redis"
)

// fakeRepo is an in-memory Repository with the same compare-and-swap
// semantics the Postgres implementation gets from its conditional writes.
type fakeRepo struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]Doctor
	patients map[uuid.UUID]Patient
	booked   map[string]bool
	appts    map[uuid.UUID]Appointment

	failBooking error // injected storage failure inside BookSlot
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		doctors:  make(map[uuid.UUID]Doctor),
		patients: make(map[uuid.UUID]Patient),
		booked:   make(map[string]bool),
		appts:    make(map[uuid.UUID]Appointment),
	}
}

func (f *fakeRepo) cellKey(doctorID uuid.UUID, date time.Time, t TimeOfDay) string {
	return doctorID.String() + ":" + slotKey(date, t)
}

func (f *fakeRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (f *fakeRepo) ListDoctors(context.Context) ([]Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Doctor
	for _, d := range f.doctors {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeRepo) SetDoctorAvailability(_ context.Context, id uuid.UUID, available bool) (*Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	d.IsAvailable = available
	f.doctors[id] = d
	return &d, nil
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (f *fakeRepo) FindBookedSlots(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Slot
	for _, a := range f.appts {
		if a.DoctorID != doctorID || a.Status == StatusCanceled {
			continue
		}
		if !f.booked[f.cellKey(a.DoctorID, a.SlotDate, a.SlotTime)] {
			continue
		}
		if a.SlotDate.Before(from) || !a.SlotDate.Before(to) {
			continue
		}
		out = append(out, Slot{
			DoctorID: a.DoctorID,
			Date:     a.SlotDate,
			Time:     a.SlotTime,
			IsBooked: true,
		})
	}
	return out, nil
}

func (f *fakeRepo) BookSlot(_ context.Context, doctorID, patientID uuid.UUID, date time.Time, slotTime TimeOfDay, fee float64) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := f.cellKey(doctorID, date, slotTime)
	if f.booked[key] {
		return nil, ErrSlotAlreadyBooked
	}
	if f.failBooking != nil {
		// Nothing is left behind, mirroring the rollback.
		return nil, f.failBooking
	}

	f.booked[key] = true
	a := Appointment{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
		SlotDate:  date,
		SlotTime:  slotTime,
		Fee:       fee,
		Status:    StatusScheduled,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.appts[a.ID] = a
	return &a, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (f *fakeRepo) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := f.GetAppointmentByID(context.Background(), id)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{Appointment: *a}, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	f.appts[id] = a
	return &a, nil
}

func (f *fakeRepo) CancelAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCanceled
	f.appts[id] = a
	delete(f.booked, f.cellKey(a.DoctorID, a.SlotDate, a.SlotTime))
	return &a, nil
}

func (f *fakeRepo) listDetails(match func(Appointment) bool) []AppointmentDetail {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range f.appts {
		if match(a) {
			out = append(out, AppointmentDetail{Appointment: a})
		}
	}
	return out
}

func (f *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]AppointmentDetail, error) {
	return f.listDetails(func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (f *fakeRepo) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, _, _ int) ([]AppointmentDetail, error) {
	return f.listDetails(func(a Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (f *fakeRepo) ListAppointments(context.Context, int, int) ([]AppointmentDetail, error) {
	return f.listDetails(func(Appointment) bool { return true }), nil
}

func (f *fakeRepo) DeletePastSlots(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// passLocker always grants the lock, so the repository's conditional
// write is the only guard, as when a lock expires mid-booking.
type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

type deniedLocker struct{}

func (deniedLocker) WithSlotLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

// Fixture

type fixture struct {
	svc       *Service
	repo      *fakeRepo
	doctorID  uuid.UUID
	patientID uuid.UUID
	otherPat  uuid.UUID
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newFakeRepo()
	doctorID := uuid.New()
	patientID := uuid.New()
	otherPat := uuid.New()

	repo.doctors[doctorID] = Doctor{ID: doctorID, Name: "Dr. Grey", Fee: 50, IsAvailable: true}
	repo.patients[patientID] = Patient{ID: patientID, Name: "Alice"}
	repo.patients[otherPat] = Patient{ID: otherPat, Name: "Bob"}

	svc := NewService(repo, passLocker{}, nil)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	return &fixture{
		svc:       svc,
		repo:      repo,
		doctorID:  doctorID,
		patientID: patientID,
		otherPat:  otherPat,
		now:       now,
	}
}

func (fx *fixture) slot(day int, hour, minute int) (time.Time, TimeOfDay) {
	return DateOf(fx.now).AddDate(0, 0, day), NewTimeOfDay(hour, minute)
}

// Tests

func TestListAvailableSlotsDoctorGate(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ListAvailableSlots(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDoctorUnavailable)

	d := fx.repo.doctors[fx.doctorID]
	d.IsAvailable = false
	fx.repo.doctors[fx.doctorID] = d

	_, err = fx.svc.ListAvailableSlots(context.Background(), fx.doctorID)
	assert.ErrorIs(t, err, ErrDoctorUnavailable)
}

func TestListAvailableSlotsFullWeek(t *testing.T) {
	fx := newFixture(t)

	schedule, err := fx.svc.ListAvailableSlots(context.Background(), fx.doctorID)
	require.NoError(t, err)

	assert.Equal(t, 50.0, schedule.DoctorFee)
	require.Len(t, schedule.Days, 7)
	assert.Len(t, schedule.Days[0].Times, 22)
}

// End to end: list at 09:00, book 10:00, relist, try to rebook.
func TestBookingScenario(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	date, slotTime := fx.slot(0, 10, 0)

	schedule, err := fx.svc.ListAvailableSlots(ctx, fx.doctorID)
	require.NoError(t, err)
	assert.Len(t, schedule.Days[0].Times, 22)
	assert.Equal(t, NewTimeOfDay(10, 0), schedule.Days[0].Times[0])

	appt, err := fx.svc.BookSlot(ctx, fx.doctorID, fx.patientID, date, slotTime)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, 50.0, appt.Fee)
	assert.Equal(t, fx.patientID, appt.PatientID)

	schedule, err = fx.svc.ListAvailableSlots(ctx, fx.doctorID)
	require.NoError(t, err)
	assert.Len(t, schedule.Days[0].Times, 21)
	assert.NotContains(t, schedule.Days[0].Times, NewTimeOfDay(10, 0))

	_, err = fx.svc.BookSlot(ctx, fx.doctorID, fx.otherPat, date, slotTime)
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
}

func TestBookSlotDoctorUnavailable(t *testing.T) {
	fx := newFixture(t)
	date, slotTime := fx.slot(1, 10, 0)

	_, err := fx.svc.BookSlot(context.Background(), uuid.New(), fx.patientID, date, slotTime)
	assert.ErrorIs(t, err, ErrDoctorUnavailable)
}

func TestBookSlotUnknownPatient(t *testing.T) {
	fx := newFixture(t)
	date, slotTime := fx.slot(1, 10, 0)

	_, err := fx.svc.BookSlot(context.Background(), fx.doctorID, uuid.New(), date, slotTime)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestBookSlotLockContention(t *testing.T) {
	fx := newFixture(t)
	fx.svc.locker = deniedLocker{}
	date, slotTime := fx.slot(1, 10, 0)

	_, err := fx.svc.BookSlot(context.Background(), fx.doctorID, fx.patientID, date, slotTime)
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestBookSlotStorageFailure(t *testing.T) {
	fx := newFixture(t)
	fx.repo.failBooking = errors.New("connection reset")
	date, slotTime := fx.slot(1, 10, 0)

	_, err := fx.svc.BookSlot(context.Background(), fx.doctorID, fx.patientID, date, slotTime)
	assert.ErrorIs(t, err, ErrBookingFailed)

	// Nothing committed: the slot is still bookable.
	fx.repo.failBooking = nil
	_, err = fx.svc.BookSlot(context.Background(), fx.doctorID, fx.patientID, date, slotTime)
	assert.NoError(t, err)
}

// Two concurrent bookings for the same cell: exactly one wins even with
// the lock out of the picture, because the store's conditional write is
// the invariant holder.
func TestBookSlotRaceSafety(t *testing.T) {
	fx := newFixture(t)
	date, slotTime := fx.slot(1, 10, 0)

	const attempts = 25
	patients := make([]uuid.UUID, attempts)
	for i := range patients {
		patients[i] = uuid.New()
		fx.repo.patients[patients[i]] = Patient{ID: patients[i]}
	}

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			_, err := fx.svc.BookSlot(context.Background(), fx.doctorID, patientID, date, slotTime)
			results <- err
		}(patients[i])
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotAlreadyBooked):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, conflicts)
}

func TestCancelByPatientFreesSlot(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	date, slotTime := fx.slot(2, 11, 30)

	appt, err := fx.svc.BookSlot(ctx, fx.doctorID, fx.patientID, date, slotTime)
	require.NoError(t, err)

	canceled, err := fx.svc.CancelByPatient(ctx, appt.ID, fx.patientID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)

	// The freed cell is bookable again, by anyone.
	rebooked, err := fx.svc.BookSlot(ctx, fx.doctorID, fx.otherPat, date, slotTime)
	require.NoError(t, err)
	assert.Equal(t, fx.otherPat, rebooked.PatientID)
}

func TestCancelByPatientOwnership(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	date, slotTime := fx.slot(2, 11, 30)

	appt, err := fx.svc.BookSlot(ctx, fx.doctorID, fx.patientID, date, slotTime)
	require.NoError(t, err)

	_, err = fx.svc.CancelByPatient(ctx, appt.ID, fx.otherPat)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestCancelTerminalStates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	date, slotTime := fx.slot(2, 11, 30)

	appt, err := fx.svc.BookSlot(ctx, fx.doctorID, fx.patientID, date, slotTime)
	require.NoError(t, err)

	_, err = fx.svc.CancelByPatient(ctx, appt.ID, fx.patientID)
	require.NoError(t, err)

	_, err = fx.svc.CancelByPatient(ctx, appt.ID, fx.patientID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCompleteAppointment(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	date, slotTime := fx.slot(3, 15, 0)

	appt, err := fx.svc.BookSlot(ctx, fx.doctorID, fx.patientID, date, slotTime)
	require.NoError(t, err)

	completed, err := fx.svc.CompleteAppointment(ctx, appt.ID, fx.doctorID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)

	// COMPLETED is terminal.
	_, err = fx.svc.CompleteAppointment(ctx, appt.ID, fx.doctorID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = fx.svc.CancelByDoctor(ctx, appt.ID, fx.doctorID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCompleteAppointmentWrongDoctor(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	date, slotTime := fx.slot(3, 15, 0)

	appt, err := fx.svc.BookSlot(ctx, fx.doctorID, fx.patientID, date, slotTime)
	require.NoError(t, err)

	_, err = fx.svc.CompleteAppointment(ctx, appt.ID, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestSetDoctorAvailability(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	doctor, err := fx.svc.SetDoctorAvailability(ctx, fx.doctorID, false)
	require.NoError(t, err)
	assert.False(t, doctor.IsAvailable)

	_, err = fx.svc.ListAvailableSlots(ctx, fx.doctorID)
	assert.ErrorIs(t, err, ErrDoctorUnavailable)
}
