package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicops/appointment-scheduling/internal/booking"
	"github.com/clinicops/appointment-scheduling/internal/notify"
)

const goodSignature = "good"

// verifyOnlyGateway accepts exactly one signature value.
type verifyOnlyGateway struct{}

func (verifyOnlyGateway) Configured() bool { return true }

func (verifyOnlyGateway) CreateCheckoutSession(context.Context, CheckoutRequest) (*Session, error) {
	return nil, errors.New("not used")
}

func (verifyOnlyGateway) VerifySignature(_ []byte, signature string) error {
	if signature != goodSignature {
		return ErrInvalidSignature
	}
	return nil
}

type stubConfirmer struct {
	appt  *booking.Appointment
	err   error
	calls []booking.PaymentEvent
}

func (c *stubConfirmer) ConfirmPayment(_ context.Context, id uuid.UUID, ev booking.PaymentEvent) (*booking.Appointment, error) {
	c.calls = append(c.calls, ev)
	if c.err != nil {
		return nil, c.err
	}
	cp := *c.appt
	cp.ID = id
	return &cp, nil
}

type stubRecorder struct {
	err   error
	calls int
	ref   string
}

func (r *stubRecorder) CreateBillForPayment(_ context.Context, _ uuid.UUID, _ int64, _, _ string, externalRef string) error {
	r.calls++
	r.ref = externalRef
	return r.err
}

type noopNotifier struct {
	calls int
}

func (n *noopNotifier) Notify(context.Context, uuid.UUID, notify.Kind, map[string]any) error {
	n.calls++
	return nil
}

type webhookFixture struct {
	proc      *EventProcessor
	confirmer *stubConfirmer
	recorder  *stubRecorder
	notifier  *noopNotifier
	clk       fixedClock
}

func newWebhookFixture() *webhookFixture {
	confirmer := &stubConfirmer{appt: &booking.Appointment{
		PatientID:    uuid.New(),
		Status:       booking.StatusConfirmed,
		Amount:       5000,
		Currency:     "USD",
		ScheduledFor: time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
	}}
	recorder := &stubRecorder{}
	notifier := &noopNotifier{}
	clk := fixedClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}

	return &webhookFixture{
		proc:      NewEventProcessor(verifyOnlyGateway{}, confirmer, recorder, notifier, clk, zap.NewNop()),
		confirmer: confirmer,
		recorder:  recorder,
		notifier:  notifier,
		clk:       clk,
	}
}

func paidCallback(appointmentID uuid.UUID) []byte {
	return []byte(fmt.Sprintf(
		`{"id":"sess_1","type":"checkout.session","status":"paid","amount":5000,"currency":"USD","metadata":{"appointment_id":%q}}`,
		appointmentID))
}

func TestHandleCallbackApplied(t *testing.T) {
	f := newWebhookFixture()
	apptID := uuid.New()
	raw := paidCallback(apptID)

	ack, err := f.proc.HandleCallback(context.Background(), raw, goodSignature)
	require.NoError(t, err)
	assert.True(t, ack.Applied)

	require.Len(t, f.confirmer.calls, 1)
	ev := f.confirmer.calls[0]
	assert.Equal(t, "sess_1", ev.SessionRef)
	assert.Equal(t, int64(5000), ev.Amount)
	assert.Equal(t, raw, ev.Payload, "raw body archived with the event")
	assert.Equal(t, f.clk.now, ev.ReceivedAt)

	assert.Equal(t, 1, f.recorder.calls)
	assert.Equal(t, "sess_1", f.recorder.ref)
	assert.Equal(t, 1, f.notifier.calls)
}

func TestHandleCallbackBadSignature(t *testing.T) {
	f := newWebhookFixture()

	_, err := f.proc.HandleCallback(context.Background(), paidCallback(uuid.New()), "forged")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Empty(t, f.confirmer.calls, "unverified callbacks never reach the service")
}

func TestHandleCallbackAcknowledgedNoops(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unparseable payload", `{{{not json`},
		{"non-paid status", `{"id":"sess_1","status":"failed","metadata":{}}`},
		{"missing session reference", `{"id":"","status":"paid","metadata":{}}`},
		{"unresolvable appointment", `{"id":"sess_1","status":"paid","metadata":{"appointment_id":"garbage"}}`},
		{"no metadata", `{"id":"sess_1","status":"paid"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newWebhookFixture()
			ack, err := f.proc.HandleCallback(context.Background(), []byte(tc.body), goodSignature)
			require.NoError(t, err, "no-op callbacks are acknowledged, not retried")
			assert.False(t, ack.Applied)
			assert.Empty(t, f.confirmer.calls)
			assert.Zero(t, f.recorder.calls)
		})
	}
}

func TestHandleCallbackDuplicate(t *testing.T) {
	f := newWebhookFixture()
	f.confirmer.err = booking.ErrDuplicatePaymentEvent

	ack, err := f.proc.HandleCallback(context.Background(), paidCallback(uuid.New()), goodSignature)
	require.NoError(t, err)
	assert.False(t, ack.Applied)
	assert.Equal(t, "already applied", ack.Reason)
	assert.Zero(t, f.recorder.calls, "redelivery never re-bills")
}

func TestHandleCallbackSupersededState(t *testing.T) {
	cases := []error{
		&booking.InvalidTransitionError{From: booking.StatusCancelled, To: booking.StatusConfirmed},
		booking.ErrAlreadyInState,
		booking.ErrAppointmentNotFound,
	}

	for _, confirmErr := range cases {
		f := newWebhookFixture()
		f.confirmer.err = confirmErr

		ack, err := f.proc.HandleCallback(context.Background(), paidCallback(uuid.New()), goodSignature)
		require.NoError(t, err, "stale callbacks are acknowledged for %v", confirmErr)
		assert.False(t, ack.Applied)
		assert.Equal(t, "not applicable", ack.Reason)
	}
}

func TestHandleCallbackStorageFailureRetried(t *testing.T) {
	f := newWebhookFixture()
	f.confirmer.err = errors.New("connection refused")

	ack, err := f.proc.HandleCallback(context.Background(), paidCallback(uuid.New()), goodSignature)
	assert.Error(t, err, "storage trouble propagates so the provider redelivers")
	assert.Nil(t, ack)
	assert.Zero(t, f.recorder.calls)
}

func TestHandleCallbackBillingFailureNotRolledBack(t *testing.T) {
	f := newWebhookFixture()
	f.recorder.err = errors.New("billing db down")

	ack, err := f.proc.HandleCallback(context.Background(), paidCallback(uuid.New()), goodSignature)
	require.NoError(t, err)
	assert.True(t, ack.Applied, "confirmation stands even when bookkeeping fails")
}
