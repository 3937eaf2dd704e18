package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can leave the status.
// CANCELLED and DECLINED also release the slot for rebooking.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusCancelled:
		return true
	}
	return false
}

// OccupiesSlot reports whether an appointment in this status still counts
// against its (doctor, scheduled_for) slot.
func (s Status) OccupiesSlot() bool {
	return s != StatusCancelled && s != StatusDeclined
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialty       *string
	ConsultationFee int64 // minor currency units
	Currency        string
	Available       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is the central entity. ScheduledFor is a clinic-local civil
// timestamp at minute precision; it is never converted across timezones once
// normalized.
type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	ScheduledFor time.Time
	Status       Status

	PaymentStatus    PaymentStatus
	Amount           int64 // minor currency units, fee snapshot at booking time
	Currency         string
	PaymentSessionID *string
	PaymentLink      *string
	PaymentDeadline  *time.Time

	Reason          string
	Notes           *string
	Phone           *string
	RejectionReason *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ApprovedAt  *time.Time
	ConfirmedAt *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	RejectedAt  *time.Time
}

// PaymentEvent records an applied provider callback, keyed by the external
// session reference. Its existence means the callback was fully applied.
type PaymentEvent struct {
	SessionRef    string
	AppointmentID uuid.UUID
	Amount        int64
	Currency      string
	Payload       []byte
	ReceivedAt    time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
