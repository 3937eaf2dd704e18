package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/appointment-scheduling/internal/booking"
)

// civilLayout is the wire format for slot timestamps: clinic-local civil
// time, minute precision, no timezone designator.
const civilLayout = "2006-01-02T15:04"

type RequestAppointmentRequest struct {
	PatientID    string `json:"patient_id" validate:"required,uuid"`
	DoctorID     string `json:"doctor_id" validate:"required,uuid"`
	ScheduledFor string `json:"scheduled_for" validate:"required"`
	Reason       string `json:"reason" validate:"required"`
	Phone        string `json:"phone" validate:"omitempty,min=7,max=20"`
	Notes        string `json:"notes"`
}

type DeclineAppointmentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	ScheduledFor    string     `json:"scheduled_for"`
	Status          string     `json:"status"`
	PaymentStatus   string     `json:"payment_status"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	PaymentLink     *string    `json:"payment_link,omitempty"`
	PaymentDeadline *time.Time `json:"payment_deadline,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	Reason          string     `json:"reason"`
	Notes           *string    `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
}

type PaymentLinkResponse struct {
	PaymentLink string    `json:"payment_link"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type BookedSlotsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Slots    []string  `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment, loc *time.Location) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		ScheduledFor:    a.ScheduledFor.In(loc).Format(civilLayout),
		Status:          string(a.Status),
		PaymentStatus:   string(a.PaymentStatus),
		Amount:          a.Amount,
		Currency:        a.Currency,
		PaymentLink:     a.PaymentLink,
		PaymentDeadline: a.PaymentDeadline,
		RejectionReason: a.RejectionReason,
		Reason:          a.Reason,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		ApprovedAt:      a.ApprovedAt,
		ConfirmedAt:     a.ConfirmedAt,
		CompletedAt:     a.CompletedAt,
		CancelledAt:     a.CancelledAt,
		RejectedAt:      a.RejectedAt,
	}
}
