package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindApproved  Kind = "appointment_approved"
	KindDeclined  Kind = "appointment_declined"
	KindConfirmed Kind = "appointment_confirmed"
	KindCancelled Kind = "appointment_cancelled"
)

// Notifier is the outbound notification boundary. Callers invoke it
// fire-and-forget; a delivery failure must never fail the operation that
// triggered it.
type Notifier interface {
	Notify(ctx context.Context, patientID uuid.UUID, kind Kind, payload map[string]any) error
}

// LogNotifier is the default sink when no delivery channel is wired up.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, patientID uuid.UUID, kind Kind, payload map[string]any) error {
	n.log.Info("notification",
		zap.String("patient_id", patientID.String()),
		zap.String("kind", string(kind)),
		zap.Any("payload", payload))
	return nil
}
