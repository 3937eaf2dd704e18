package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/clinicops/appointment-scheduling/internal/db"
)

// Schema for the scheduling core. The partial unique index on
// ux_appointments_doctor_slot is load-bearing: it is what makes the
// reserve-slot conditional insert safe under concurrency.
const schema = `
CREATE TABLE IF NOT EXISTS patients (
	id          uuid PRIMARY KEY,
	name        text NOT NULL,
	email       text,
	phone       text,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS doctors (
	id               uuid PRIMARY KEY,
	name             text NOT NULL,
	specialty        text,
	consultation_fee bigint NOT NULL DEFAULT 0,
	currency         text NOT NULL DEFAULT 'USD',
	available        boolean NOT NULL DEFAULT true,
	created_at       timestamptz NOT NULL DEFAULT now(),
	updated_at       timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS appointments (
	id                 uuid PRIMARY KEY,
	patient_id         uuid NOT NULL REFERENCES patients(id),
	doctor_id          uuid NOT NULL REFERENCES doctors(id),
	scheduled_for      timestamptz NOT NULL,
	status             text NOT NULL DEFAULT 'pending',
	payment_status     text NOT NULL DEFAULT 'unpaid',
	amount             bigint NOT NULL DEFAULT 0,
	currency           text NOT NULL DEFAULT 'USD',
	payment_session_id text,
	payment_link       text,
	payment_deadline   timestamptz,
	reason             text NOT NULL,
	notes              text,
	phone              text,
	rejection_reason   text,
	created_at         timestamptz NOT NULL DEFAULT now(),
	updated_at         timestamptz NOT NULL DEFAULT now(),
	approved_at        timestamptz,
	confirmed_at       timestamptz,
	completed_at       timestamptz,
	cancelled_at       timestamptz,
	rejected_at        timestamptz
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_appointments_doctor_slot
	ON appointments (doctor_id, scheduled_for)
	WHERE status NOT IN ('cancelled', 'declined');

CREATE INDEX IF NOT EXISTS ix_appointments_patient ON appointments (patient_id);
CREATE INDEX IF NOT EXISTS ix_appointments_payment_deadline
	ON appointments (payment_deadline)
	WHERE status = 'approved' AND payment_status <> 'paid';

CREATE TABLE IF NOT EXISTS payment_events (
	session_ref    text PRIMARY KEY,
	appointment_id uuid NOT NULL REFERENCES appointments(id),
	amount         bigint NOT NULL DEFAULT 0,
	currency       text NOT NULL DEFAULT 'USD',
	payload        jsonb,
	received_at    timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS appointment_events (
	id             bigserial PRIMARY KEY,
	event_type     text NOT NULL,
	appointment_id uuid,
	payload        jsonb,
	created_at     timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bills (
	id           uuid PRIMARY KEY,
	patient_id   uuid NOT NULL REFERENCES patients(id),
	total_amount bigint NOT NULL,
	currency     text NOT NULL,
	external_ref text NOT NULL UNIQUE,
	created_at   timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bill_line_items (
	id          uuid PRIMARY KEY,
	bill_id     uuid NOT NULL REFERENCES bills(id),
	description text NOT NULL,
	amount      bigint NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_history (
	id           uuid PRIMARY KEY,
	patient_id   uuid NOT NULL REFERENCES patients(id),
	bill_id      uuid NOT NULL REFERENCES bills(id),
	amount       bigint NOT NULL,
	currency     text NOT NULL,
	external_ref text NOT NULL,
	created_at   timestamptz NOT NULL DEFAULT now()
);
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("migrate starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, schema); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	log.Println("migrate complete")
}
