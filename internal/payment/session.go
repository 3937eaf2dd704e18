package payment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinicops/appointment-scheduling/internal/booking"
	"github.com/clinicops/appointment-scheduling/internal/clock"
)

// SessionManager issues and reissues time-limited checkout sessions for
// APPROVED appointments and applies their payment deadlines. It implements
// booking.SessionIssuer.
type SessionManager struct {
	gateway Gateway
	repo    booking.Repository
	clk     clock.Clock
	window  time.Duration
	log     *zap.Logger
}

func NewSessionManager(gateway Gateway, repo booking.Repository, clk clock.Clock, window time.Duration, log *zap.Logger) *SessionManager {
	return &SessionManager{
		gateway: gateway,
		repo:    repo,
		clk:     clk,
		window:  window,
		log:     log,
	}
}

func (m *SessionManager) Configured() bool {
	return m.gateway.Configured()
}

// CreateSession is called exactly once per approval. It charges the quoted
// fee, ties the session to the appointment via metadata, and persists the
// session reference, link, and deadline.
func (m *SessionManager) CreateSession(ctx context.Context, appt *booking.Appointment) (*booking.Appointment, error) {
	return m.issue(ctx, appt)
}

// RegenerateSession reissues a session for an APPROVED, unpaid appointment.
// "Already paid" and "not approved" are distinct rejections; both are checked
// here even though the persistence layer re-verifies them.
func (m *SessionManager) RegenerateSession(ctx context.Context, appt *booking.Appointment) (*booking.Appointment, error) {
	if appt.PaymentStatus == booking.PaymentPaid {
		return nil, booking.ErrAlreadyPaid
	}
	if appt.Status != booking.StatusApproved {
		return nil, booking.ErrNotApproved
	}

	updated, err := m.issue(ctx, appt)
	if err != nil {
		return nil, err
	}

	m.log.Info("payment session regenerated",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("session_id", derefStr(updated.PaymentSessionID)),
		zap.Timep("payment_deadline", updated.PaymentDeadline))

	return updated, nil
}

func (m *SessionManager) issue(ctx context.Context, appt *booking.Appointment) (*booking.Appointment, error) {
	deadline := m.clk.Now().Add(m.window)
	// Deadlines only move forward: a reissued link never shortens the time
	// the patient already had.
	if appt.PaymentDeadline != nil && !deadline.After(*appt.PaymentDeadline) {
		deadline = appt.PaymentDeadline.Add(time.Minute)
	}

	session, err := m.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		Reference:   appt.ID.String(),
		Amount:      appt.Amount,
		Currency:    appt.Currency,
		Description: fmt.Sprintf("Consultation on %s", appt.ScheduledFor.Format("2006-01-02 15:04")),
		ExpiresAt:   deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	updated, err := m.repo.SetPaymentSession(ctx, appt.ID, session.ID, session.PaymentURL, deadline)
	if err != nil {
		return nil, fmt.Errorf("persist payment session: %w", err)
	}

	return updated, nil
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
