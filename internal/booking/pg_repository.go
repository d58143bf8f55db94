package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// db is the subset of pgxpool.Pool the repository uses. Narrowed so tests
// can substitute a pgxmock pool.
type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool db
}

func NewPgRepository(pool db) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, doctor_id, patient_id, slot_date, to_char(slot_time, 'HH24:MI'), fee, status, created_at, updated_at`

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Licence,
		&d.Name,
		&d.Email,
		&specialty,
		&d.Fee,
		&d.IsAvailable,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var slotTime string

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&slotTime,
		&s.IsBooked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Time, err = ParseTimeOfDay(slotTime)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slotTime string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.SlotDate,
		&slotTime,
		&a.Fee,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.SlotTime, err = ParseTimeOfDay(slotTime)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var slotTime string
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.DoctorID,
		&d.PatientID,
		&d.SlotDate,
		&slotTime,
		&d.Fee,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.DoctorName,
		&specialty,
		&d.PatientName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.SlotTime, err = ParseTimeOfDay(slotTime)
	if err != nil {
		return nil, err
	}
	d.DoctorSpecialty = specialty
	return &d, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, licence, name, email, specialty, fee, is_available, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, licence, name, email, specialty, fee, is_available, created_at, updated_at
		FROM doctors
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) SetDoctorAvailability(ctx context.Context, id uuid.UUID, available bool) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET is_available = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, licence, name, email, specialty, fee, is_available, created_at, updated_at
	`, id, available)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) FindBookedSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, slot_date, to_char(slot_time, 'HH24:MI'), is_booked, created_at, updated_at
		FROM doctor_slots
		WHERE doctor_id = $1
		  AND is_booked
		  AND slot_date >= $2::date
		  AND slot_date < $3::date
		ORDER BY slot_date, slot_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// BookSlot runs the booking transaction: a conditional upsert that flips the
// slot cell to booked only if it is currently free, then the appointment
// insert. If the cell is taken the transaction aborts with
// ErrSlotAlreadyBooked; any later failure rolls both writes back.
func (r *PgRepository) BookSlot(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slotTime TimeOfDay, fee float64) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO doctor_slots (id, doctor_id, slot_date, slot_time, is_booked, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4::time, TRUE, now(), now())
		ON CONFLICT (doctor_id, slot_date, slot_time) DO UPDATE
		SET is_booked = TRUE,
		    updated_at = now()
		WHERE doctor_slots.is_booked = FALSE
	`, uuid.New(), doctorID, date, slotTime.String())
	if err != nil {
		return nil, fmt.Errorf("reserve slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrSlotAlreadyBooked
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, slot_date, slot_time, fee, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5::time, $6, 'SCHEDULED', now(), now())
		RETURNING `+appointmentColumns+`
	`, uuid.New(), doctorID, patientID, date, slotTime.String(), fee)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT a.id, a.doctor_id, a.patient_id, a.slot_date, to_char(a.slot_time, 'HH24:MI'),
		       a.fee, a.status, a.created_at, a.updated_at,
		       d.name, d.specialty, p.name
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		JOIN patients p ON p.id = a.patient_id
		WHERE a.id = $1
	`, id)
	return scanAppointmentDetail(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

// CancelAppointment cancels and frees the slot cell in one transaction, so
// the (doctor, date, time) becomes bookable again the moment the cancel
// commits.
func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, StatusCanceled, StatusScheduled)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE doctor_slots
		SET is_booked = FALSE,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND slot_date = $2::date
		  AND slot_time = $3::time
	`, appt.DoctorID, appt.SlotDate, appt.SlotTime.String())
	if err != nil {
		return nil, fmt.Errorf("release slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel tx: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) listAppointmentDetails(ctx context.Context, query string, args ...any) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const appointmentDetailSelect = `
	SELECT a.id, a.doctor_id, a.patient_id, a.slot_date, to_char(a.slot_time, 'HH24:MI'),
	       a.fee, a.status, a.created_at, a.updated_at,
	       d.name, d.specialty, p.name
	FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN patients p ON p.id = a.patient_id
`

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	return r.listAppointmentDetails(ctx, appointmentDetailSelect+`
		WHERE a.patient_id = $1
		ORDER BY a.slot_date, a.slot_time
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	return r.listAppointmentDetails(ctx, appointmentDetailSelect+`
		WHERE a.doctor_id = $1
		ORDER BY a.slot_date, a.slot_time
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
}

func (r *PgRepository) ListAppointments(ctx context.Context, limit, offset int) ([]AppointmentDetail, error) {
	return r.listAppointmentDetails(ctx, appointmentDetailSelect+`
		ORDER BY a.slot_date DESC, a.slot_time DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
}

func (r *PgRepository) DeletePastSlots(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM doctor_slots
		WHERE slot_date < $1::date
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete past slots: %w", err)
	}
	return tag.RowsAffected(), nil
}
