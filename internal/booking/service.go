package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicops/appointment-scheduling/internal/clock"
	"github.com/clinicops/appointment-scheduling/internal/config"
	"github.com/clinicops/appointment-scheduling/internal/notify"
	redisclient "github.com/clinicops/appointment-scheduling/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentApproved  = "APPOINTMENT_APPROVED"
	EventAppointmentDeclined  = "APPOINTMENT_DECLINED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventPaymentLinkReissued  = "PAYMENT_LINK_REISSUED"
	EventPaymentOverdue       = "PAYMENT_OVERDUE_CANCELLED"
)

var (
	ErrDoctorUnavailable    = errors.New("doctor is not accepting appointments")
	ErrSlotBeingBooked      = errors.New("slot is currently being booked, please retry")
	ErrNotAppointmentOwner  = errors.New("actor does not own this appointment")
	ErrMissingReason        = errors.New("reason is required")
	ErrAlreadyPaid          = errors.New("appointment is already paid")
	ErrNotApproved          = errors.New("appointment is not in approved status")
	ErrPaymentSessionFailed = errors.New("payment session could not be created")
)

// PaymentSession is the persisted outcome of issuing a checkout session.
type PaymentSession struct {
	ID       string
	Link     string
	Deadline time.Time
}

// SessionIssuer is the payment capability the service orchestrates. The
// unconfigured variant reports Configured() == false and the service then
// confirms approvals immediately instead of issuing links.
type SessionIssuer interface {
	Configured() bool
	CreateSession(ctx context.Context, appt *Appointment) (*Appointment, error)
	RegenerateSession(ctx context.Context, appt *Appointment) (*Appointment, error)
}

// RequestInput is a booking request after boundary validation.
type RequestInput struct {
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	ScheduledFor time.Time
	Reason       string
	Notes        *string
	Phone        *string
}

// Service owns every write to the appointments table. All transitions go
// through CheckTransition plus a compare-and-swap update, so two racing
// decisions can never both apply.
type Service struct {
	repo     Repository
	locker   redisclient.Locker
	sessions SessionIssuer
	notifier notify.Notifier
	clk      clock.Clock
	loc      *time.Location
	cfg      config.Config
	log      *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, sessions SessionIssuer, notifier notify.Notifier, clk clock.Clock, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		sessions: sessions,
		notifier: notifier,
		clk:      clk,
		loc:      cfg.ClinicLocation(),
		cfg:      cfg,
		log:      log,
	}
}

// RequestAppointment reserves a slot for a patient. A Redis lock serializes
// concurrent requests for the identical (doctor, timestamp) pair; the
// conditional insert underneath remains the authoritative conflict guard.
func (s *Service) RequestAppointment(ctx context.Context, in RequestInput) (*Appointment, error) {
	if in.Reason == "" {
		return nil, ErrMissingReason
	}

	doctor, err := s.repo.GetDoctorByID(ctx, in.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Available {
		return nil, ErrDoctorUnavailable
	}

	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	slot := clock.NormalizeSlot(in.ScheduledFor, s.loc)
	if err := clock.ValidateLead(s.clk.Now(), slot, s.cfg.MinLeadTime); err != nil {
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, in.DoctorID, slot, func(lockCtx context.Context) error {
		appt, err := s.repo.ReserveSlot(lockCtx, NewAppointment{
			PatientID:    in.PatientID,
			DoctorID:     in.DoctorID,
			ScheduledFor: slot,
			Amount:       doctor.ConsultationFee,
			Currency:     doctor.Currency,
			Reason:       in.Reason,
			Notes:        in.Notes,
			Phone:        in.Phone,
		})
		if err != nil {
			return err
		}

		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":     in.DoctorID.String(),
		"patient_id":    in.PatientID.String(),
		"scheduled_for": slot,
	})

	return created, nil
}

// Approve moves a PENDING appointment to APPROVED and issues a payment
// session. With an unconfigured gateway the appointment confirms immediately
// with payment_status paid, the documented no-provider fallback.
func (s *Service) Approve(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != actorID {
		return nil, ErrNotAppointmentOwner
	}
	if err := CheckTransition(appt.Status, StatusApproved); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	approved, err := s.repo.UpdateStatus(ctx, id, StatusPending, StatusApproved, StatusChange{ApprovedAt: &now})
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, s.transitionConflict(ctx, id, StatusApproved)
		}
		return nil, err
	}

	s.logEvent(ctx, id, EventAppointmentApproved, map[string]any{"approved_at": now})

	if !s.sessions.Configured() {
		s.log.Info("payment gateway unconfigured, confirming appointment on approval",
			zap.String("appointment_id", id.String()))
		confirmedAt := s.clk.Now()
		paid := PaymentPaid
		confirmed, err := s.repo.UpdateStatus(ctx, id, StatusApproved, StatusConfirmed, StatusChange{
			ConfirmedAt:   &confirmedAt,
			PaymentStatus: &paid,
		})
		if err != nil {
			return nil, err
		}
		s.logEvent(ctx, id, EventAppointmentConfirmed, map[string]any{"fallback": "no_gateway"})
		s.notify(ctx, confirmed.PatientID, notify.KindConfirmed, map[string]any{"appointment_id": id.String()})
		return confirmed, nil
	}

	withSession, err := s.sessions.CreateSession(ctx, approved)
	if err != nil {
		s.log.Error("payment session creation failed, appointment stays approved without a link",
			zap.String("appointment_id", id.String()),
			zap.Error(err))
		return approved, fmt.Errorf("%w: %v", ErrPaymentSessionFailed, err)
	}

	s.notify(ctx, withSession.PatientID, notify.KindApproved, map[string]any{
		"appointment_id": id.String(),
		"payment_link":   deref(withSession.PaymentLink),
	})

	return withSession, nil
}

// Decline rejects a PENDING appointment with a reason and releases the slot.
func (s *Service) Decline(ctx context.Context, id, actorID uuid.UUID, reason string) (*Appointment, error) {
	if reason == "" {
		return nil, ErrMissingReason
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != actorID {
		return nil, ErrNotAppointmentOwner
	}
	if err := CheckTransition(appt.Status, StatusDeclined); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	declined, err := s.repo.UpdateStatus(ctx, id, StatusPending, StatusDeclined, StatusChange{
		RejectedAt:      &now,
		RejectionReason: &reason,
	})
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, s.transitionConflict(ctx, id, StatusDeclined)
		}
		return nil, err
	}

	s.logEvent(ctx, id, EventAppointmentDeclined, map[string]any{"reason": reason})
	s.notify(ctx, declined.PatientID, notify.KindDeclined, map[string]any{
		"appointment_id": id.String(),
		"reason":         reason,
	})

	return declined, nil
}

// Cancel transitions any non-terminal appointment to CANCELLED, immediately
// releasing its slot. Cancelling an already-cancelled appointment is a no-op.
func (s *Service) Cancel(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != actorID && appt.PatientID != actorID {
		return nil, ErrNotAppointmentOwner
	}
	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if err := CheckTransition(appt.Status, StatusCancelled); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	cancelled, err := s.repo.UpdateStatus(ctx, id, appt.Status, StatusCancelled, StatusChange{CancelledAt: &now})
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			// Reconcile against a racing cancel from the other party.
			cur, getErr := s.repo.GetAppointmentByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if cur.Status == StatusCancelled {
				return cur, nil
			}
			return nil, s.transitionConflict(ctx, id, StatusCancelled)
		}
		return nil, err
	}

	s.logEvent(ctx, id, EventAppointmentCancelled, map[string]any{"from": string(appt.Status)})
	s.notify(ctx, cancelled.PatientID, notify.KindCancelled, map[string]any{"appointment_id": id.String()})

	return cancelled, nil
}

// Complete closes out a CONFIRMED appointment after the visit.
func (s *Service) Complete(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != actorID {
		return nil, ErrNotAppointmentOwner
	}
	if err := CheckTransition(appt.Status, StatusCompleted); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	completed, err := s.repo.UpdateStatus(ctx, id, StatusConfirmed, StatusCompleted, StatusChange{CompletedAt: &now})
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, s.transitionConflict(ctx, id, StatusCompleted)
		}
		return nil, err
	}

	s.logEvent(ctx, id, EventAppointmentCompleted, map[string]any{})

	return completed, nil
}

// RegeneratePaymentLink issues a fresh session and deadline for an APPROVED,
// unpaid appointment owned by the requesting patient.
func (s *Service) RegeneratePaymentLink(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != actorID {
		return nil, ErrNotAppointmentOwner
	}

	if !s.sessions.Configured() {
		// No provider to generate a link against. Guard like a regular
		// regeneration, then apply the fallback confirmation.
		if appt.PaymentStatus == PaymentPaid {
			return nil, ErrAlreadyPaid
		}
		if appt.Status != StatusApproved {
			return nil, ErrNotApproved
		}
		now := s.clk.Now()
		paid := PaymentPaid
		confirmed, err := s.repo.UpdateStatus(ctx, id, StatusApproved, StatusConfirmed, StatusChange{
			ConfirmedAt:   &now,
			PaymentStatus: &paid,
		})
		if err != nil {
			return nil, err
		}
		s.logEvent(ctx, id, EventAppointmentConfirmed, map[string]any{"fallback": "no_gateway"})
		return confirmed, nil
	}

	updated, err := s.sessions.RegenerateSession(ctx, appt)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, EventPaymentLinkReissued, map[string]any{
		"payment_deadline": deref(updated.PaymentDeadline),
	})

	return updated, nil
}

// ConfirmPayment applies a verified, first-time payment event: the event
// record and the APPROVED -> CONFIRMED transition commit atomically. A
// duplicate session reference yields ErrDuplicatePaymentEvent and no change.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, ev PaymentEvent) (*Appointment, error) {
	ev.AppointmentID = id

	appt, err := s.repo.ApplyPaymentEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, s.transitionConflict(ctx, id, StatusConfirmed)
		}
		return nil, err
	}

	s.logEvent(ctx, id, EventAppointmentConfirmed, map[string]any{
		"session_ref": ev.SessionRef,
		"amount":      ev.Amount,
	})

	return appt, nil
}

// ListBookedSlots projects the occupied slots of a doctor's clinic-local day.
func (s *Service) ListBookedSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]time.Time, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	day = day.In(s.loc)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 0, 1)

	slots, err := s.repo.ListBookedSlots(ctx, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}

	for i := range slots {
		slots[i] = slots[i].In(s.loc)
	}
	return slots, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

// CancelPaymentOverdue is called periodically by the deadline worker. It
// cancels APPROVED, unpaid appointments whose payment deadline passed more
// than the grace period ago, releasing their slots.
func (s *Service) CancelPaymentOverdue(ctx context.Context) error {
	cutoff := s.clk.Now().Add(-s.cfg.PaymentGrace)

	overdue, err := s.repo.FindPaymentOverdue(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find payment overdue appointments: %w", err)
	}

	for _, appt := range overdue {
		now := s.clk.Now()
		_, err := s.repo.UpdateStatus(ctx, appt.ID, StatusApproved, StatusCancelled, StatusChange{CancelledAt: &now})
		if err != nil {
			if errors.Is(err, ErrStatusChanged) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Error("failed to cancel overdue appointment",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err))
			continue
		}
		s.logEvent(ctx, appt.ID, EventPaymentOverdue, map[string]any{
			"payment_deadline": deref(appt.PaymentDeadline),
		})
		s.notify(ctx, appt.PatientID, notify.KindCancelled, map[string]any{
			"appointment_id": appt.ID.String(),
			"reason":         "payment deadline passed",
		})
	}

	return nil
}

func (s *Service) transitionConflict(ctx context.Context, id uuid.UUID, to Status) error {
	cur, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckTransition(cur.Status, to); err != nil {
		return err
	}
	return ErrStatusChanged
}

// notify is fire-and-forget: a notification failure never fails the
// scheduling operation that triggered it.
func (s *Service) notify(ctx context.Context, patientID uuid.UUID, kind notify.Kind, payload map[string]any) {
	if err := s.notifier.Notify(ctx, patientID, kind, payload); err != nil {
		s.log.Warn("notification delivery failed",
			zap.String("patient_id", patientID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clk.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
