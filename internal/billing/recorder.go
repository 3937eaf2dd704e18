package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder is the billing collaborator boundary. CreateBillForPayment must be
// idempotent on externalRef: called twice with the same reference it creates
// exactly one bill.
type Recorder interface {
	CreateBillForPayment(ctx context.Context, patientID uuid.UUID, amount int64, currency, description, externalRef string) error
}

type PgRecorder struct {
	pool *pgxpool.Pool
}

func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool}
}

// CreateBillForPayment writes one bill, one line item, and one payment
// history row. The external reference carries the dedup: if the bill insert
// hits the unique constraint nothing else is written.
func (r *PgRecorder) CreateBillForPayment(ctx context.Context, patientID uuid.UUID, amount int64, currency, description, externalRef string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin bill creation: %w", err)
	}
	defer tx.Rollback(ctx)

	billID := uuid.New()

	row := tx.QueryRow(ctx, `
		INSERT INTO bills (id, patient_id, total_amount, currency, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (external_ref) DO NOTHING
		RETURNING id
	`, billID, patientID, amount, currency, externalRef)

	if err := row.Scan(&billID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A bill for this reference already exists.
			return nil
		}
		return fmt.Errorf("insert bill: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bill_line_items (id, bill_id, description, amount, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, uuid.New(), billID, description, amount)
	if err != nil {
		return fmt.Errorf("insert bill line item: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_history (id, patient_id, bill_id, amount, currency, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, uuid.New(), patientID, billID, amount, currency, externalRef)
	if err != nil {
		return fmt.Errorf("insert payment history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bill creation: %w", err)
	}

	return nil
}
