package payment

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicops/appointment-scheduling/internal/billing"
	"github.com/clinicops/appointment-scheduling/internal/booking"
	"github.com/clinicops/appointment-scheduling/internal/clock"
	"github.com/clinicops/appointment-scheduling/internal/notify"
)

// Confirmer is the slice of the scheduling service the processor needs.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, id uuid.UUID, ev booking.PaymentEvent) (*booking.Appointment, error)
}

// Ack is the processor's answer to the provider. Everything that is not a
// signature failure or a storage outage gets acknowledged so the provider
// stops redelivering; Applied says whether this delivery changed state.
type Ack struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// callbackEvent is the provider's webhook payload.
type callbackEvent struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// EventProcessor consumes asynchronous payment-provider callbacks, applies
// them to the appointment exactly once, and triggers billing bookkeeping.
type EventProcessor struct {
	gateway  Gateway
	svc      Confirmer
	billing  billing.Recorder
	notifier notify.Notifier
	clk      clock.Clock
	log      *zap.Logger
}

func NewEventProcessor(gateway Gateway, svc Confirmer, recorder billing.Recorder, notifier notify.Notifier, clk clock.Clock, log *zap.Logger) *EventProcessor {
	return &EventProcessor{
		gateway:  gateway,
		svc:      svc,
		billing:  recorder,
		notifier: notifier,
		clk:      clk,
		log:      log,
	}
}

// HandleCallback verifies, deduplicates, and applies one provider callback.
// The signature is checked against the raw body before anything is parsed;
// an unverifiable callback is rejected outright and never mutates state.
func (p *EventProcessor) HandleCallback(ctx context.Context, raw []byte, signature string) (*Ack, error) {
	if err := p.gateway.VerifySignature(raw, signature); err != nil {
		p.log.Warn("rejected payment callback with bad signature", zap.Error(err))
		return nil, ErrInvalidSignature
	}

	var ev callbackEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		p.log.Warn("acknowledged unparseable payment callback", zap.Error(err))
		return &Ack{Reason: "unparseable payload"}, nil
	}

	if ev.Status != "paid" {
		p.log.Info("ignoring non-payment callback",
			zap.String("session_id", ev.ID),
			zap.String("status", ev.Status))
		return &Ack{Reason: "ignored status " + ev.Status}, nil
	}

	if ev.ID == "" {
		return &Ack{Reason: "missing session reference"}, nil
	}

	appointmentID, err := uuid.Parse(ev.Metadata["appointment_id"])
	if err != nil {
		p.log.Warn("acknowledged payment callback with unresolvable appointment reference",
			zap.String("session_id", ev.ID))
		return &Ack{Reason: "unresolvable appointment reference"}, nil
	}

	appt, err := p.svc.ConfirmPayment(ctx, appointmentID, booking.PaymentEvent{
		SessionRef: ev.ID,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
		Payload:    raw,
		ReceivedAt: p.clk.Now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrDuplicatePaymentEvent):
			return &Ack{Reason: "already applied"}, nil
		case errors.Is(err, booking.ErrAlreadyInState),
			errors.Is(err, booking.ErrAppointmentNotFound):
			p.log.Warn("acknowledged stale payment callback",
				zap.String("session_id", ev.ID),
				zap.String("appointment_id", appointmentID.String()),
				zap.Error(err))
			return &Ack{Reason: "not applicable"}, nil
		default:
			var invalid *booking.InvalidTransitionError
			if errors.As(err, &invalid) {
				p.log.Warn("acknowledged payment callback for superseded appointment state",
					zap.String("session_id", ev.ID),
					zap.String("appointment_id", appointmentID.String()),
					zap.Error(err))
				return &Ack{Reason: "not applicable"}, nil
			}
			// Storage trouble: let the provider retry.
			return nil, err
		}
	}

	// The confirmation has committed; bookkeeping failures below are logged
	// and reconciled later, never rolled back.
	if err := p.billing.CreateBillForPayment(ctx, appt.PatientID, appt.Amount, appt.Currency,
		"Consultation on "+appt.ScheduledFor.Format("2006-01-02 15:04"), ev.ID); err != nil {
		p.log.Error("billing record creation failed after confirmed payment",
			zap.String("appointment_id", appointmentID.String()),
			zap.String("session_ref", ev.ID),
			zap.Error(err))
	}

	if err := p.notifier.Notify(ctx, appt.PatientID, notify.KindConfirmed, map[string]any{
		"appointment_id": appointmentID.String(),
	}); err != nil {
		p.log.Warn("confirmation notification failed",
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}

	return &Ack{Applied: true}, nil
}
