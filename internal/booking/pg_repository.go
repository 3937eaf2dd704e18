package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, patient_id, doctor_id, scheduled_for, status,
	payment_status, amount, currency, payment_session_id, payment_link, payment_deadline,
	reason, notes, phone, rejection_reason,
	created_at, updated_at, approved_at, confirmed_at, completed_at, cancelled_at, rejected_at`

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.ConsultationFee,
		&d.Currency,
		&d.Available,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ScheduledFor,
		&a.Status,
		&a.PaymentStatus,
		&a.Amount,
		&a.Currency,
		&a.PaymentSessionID,
		&a.PaymentLink,
		&a.PaymentDeadline,
		&a.Reason,
		&a.Notes,
		&a.Phone,
		&a.RejectionReason,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ApprovedAt,
		&a.ConfirmedAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.RejectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, consultation_fee, currency, available, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// ReserveSlot creates a PENDING appointment iff no slot-occupying appointment
// exists for the same (doctor, scheduled_for) pair. The conditional insert is
// backed by the partial unique index ux_appointments_doctor_slot, so two
// concurrent inserts that both pass the NOT EXISTS check cannot both commit.
func (r *PgRepository) ReserveSlot(ctx context.Context, params NewAppointment) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, scheduled_for, status,
			payment_status, amount, currency, reason, notes, phone,
			created_at, updated_at
		)
		SELECT $1, $2, $3, $4, 'pending', 'unpaid', $5, $6, $7, $8, $9, now(), now()
		WHERE NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $3
			  AND scheduled_for = $4
			  AND status NOT IN ('cancelled', 'declined')
		)
		RETURNING `+appointmentColumns,
		id, params.PatientID, params.DoctorID, params.ScheduledFor,
		params.Amount, params.Currency, params.Reason, params.Notes, params.Phone)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) || isUniqueViolation(err) {
			return nil, ErrSlotAlreadyBooked
		}
		return nil, err
	}

	return appt, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    payment_status = COALESCE($4, payment_status),
		    amount = COALESCE($5, amount),
		    approved_at = COALESCE($6, approved_at),
		    confirmed_at = COALESCE($7, confirmed_at),
		    completed_at = COALESCE($8, completed_at),
		    cancelled_at = COALESCE($9, cancelled_at),
		    rejected_at = COALESCE($10, rejected_at),
		    rejection_reason = COALESCE($11, rejection_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns,
		id, from, to,
		change.PaymentStatus, change.PaidAmount,
		change.ApprovedAt, change.ConfirmedAt, change.CompletedAt,
		change.CancelledAt, change.RejectedAt, change.RejectionReason)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.casFailure(ctx, id)
		}
		return nil, err
	}

	return appt, nil
}

// casFailure disambiguates a zero-row compare-and-swap: either the row is
// gone or a concurrent writer moved it to another status first.
func (r *PgRepository) casFailure(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetAppointmentByID(ctx, id); err != nil {
		return err
	}
	return ErrStatusChanged
}

func (r *PgRepository) SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID, link string, deadline time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_session_id = $2,
		    payment_link = $3,
		    payment_deadline = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'approved'
		  AND payment_status <> 'paid'
		RETURNING `+appointmentColumns,
		id, sessionID, link, deadline)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.casFailure(ctx, id)
		}
		return nil, err
	}

	return appt, nil
}

// ApplyPaymentEvent records the callback and confirms the appointment in one
// transaction. If the appointment is no longer APPROVED the whole transaction
// rolls back, so a rejected application never claims the session reference.
func (r *PgRepository) ApplyPaymentEvent(ctx context.Context, ev PaymentEvent) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply payment event: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO payment_events (session_ref, appointment_id, amount, currency, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		ON CONFLICT (session_ref) DO NOTHING
	`, ev.SessionRef, ev.AppointmentID, ev.Amount, ev.Currency, ev.Payload, nullableTime(ev.ReceivedAt))
	if err != nil {
		// A well-formed but unknown appointment reference trips the FK
		// constraint. That callback can never apply, so it must surface as
		// not-found and be acknowledged, not retried.
		if isForeignKeyViolation(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("insert payment event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDuplicatePaymentEvent
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'confirmed',
		    payment_status = 'paid',
		    amount = CASE WHEN $2 > 0 THEN $2 ELSE amount END,
		    confirmed_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'approved'
		RETURNING `+appointmentColumns,
		ev.AppointmentID, ev.Amount)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.casFailure(ctx, ev.AppointmentID)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply payment event: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) ListBookedSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_for
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_for >= $2
		  AND scheduled_for < $3
		  AND status NOT IN ('cancelled', 'declined')
		ORDER BY scheduled_for
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		slots = append(slots, t)
	}

	return slots, rows.Err()
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(ctx, `patient_id`, patientID, limit, offset)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(ctx, `doctor_id`, doctorID, limit, offset)
}

func (r *PgRepository) list(ctx context.Context, ownerColumn string, ownerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+ownerColumn+` = $1
		ORDER BY scheduled_for DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) FindPaymentOverdue(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'approved'
		  AND payment_status <> 'paid'
		  AND payment_deadline IS NOT NULL
		  AND payment_deadline < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
