package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotAlreadyBooked means a non-cancelled, non-declined appointment
	// already occupies the exact (doctor, scheduled_for) slot.
	ErrSlotAlreadyBooked = errors.New("slot already booked")

	// ErrDuplicatePaymentEvent means a callback for this session reference
	// was already fully applied.
	ErrDuplicatePaymentEvent = errors.New("payment event already applied")

	// ErrStatusChanged means a compare-and-swap update found the row in a
	// different status than expected.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// NewAppointment carries everything ReserveSlot needs to atomically create a
// PENDING appointment iff the slot is free.
type NewAppointment struct {
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	ScheduledFor time.Time
	Amount       int64
	Currency     string
	Reason       string
	Notes        *string
	Phone        *string
}

// StatusChange lists the side-effect fields a transition may set. Nil fields
// are left untouched.
type StatusChange struct {
	ApprovedAt      *time.Time
	ConfirmedAt     *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	RejectedAt      *time.Time
	RejectionReason *string
	PaymentStatus   *PaymentStatus
	PaidAmount      *int64
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ReserveSlot inserts a PENDING appointment iff no slot-occupying
	// appointment exists for the same (doctor, scheduled_for) pair. The
	// insert and the conflict check are a single atomic operation.
	ReserveSlot(ctx context.Context, params NewAppointment) (*Appointment, error)

	// UpdateStatus performs a compare-and-swap transition, applying the
	// side effects in change. Returns ErrStatusChanged when the row is no
	// longer in the expected from status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) (*Appointment, error)

	// SetPaymentSession persists a freshly issued checkout session on an
	// APPROVED, unpaid appointment.
	SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID, link string, deadline time.Time) (*Appointment, error)

	// ApplyPaymentEvent records the event and confirms the appointment in
	// one transaction. The event insert is first-writer-wins; a duplicate
	// session reference returns ErrDuplicatePaymentEvent without touching
	// the appointment.
	ApplyPaymentEvent(ctx context.Context, ev PaymentEvent) (*Appointment, error)

	ListBookedSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// FindPaymentOverdue returns APPROVED, unpaid appointments whose
	// payment deadline passed before cutoff. Used by the deadline worker.
	FindPaymentOverdue(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
