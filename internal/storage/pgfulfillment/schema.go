package pgfulfillment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  order_id TEXT PRIMARY KEY,
  raw_payload JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		// Append-only. Rows are never updated or deleted; the latest row per
		// (subject_id, subject_type) defines the current status.
		`
CREATE TABLE IF NOT EXISTS status_events (
  id BIGSERIAL PRIMARY KEY,
  subject_id TEXT NOT NULL,
  subject_type TEXT NOT NULL,
  status TEXT NOT NULL,
  timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
  notes TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_status_events_subject ON status_events(subject_id, subject_type, timestamp DESC)`,
		// UNIQUE(order_id) is the idempotency guard for label creation: a
		// second concurrent pass fails the placeholder insert instead of
		// buying a duplicate label.
		`
CREATE TABLE IF NOT EXISTS shipments (
  shipment_id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(order_id),
  tracking_id TEXT NULL,
  label_url TEXT NULL,
  shipment_url TEXT NULL,
  label_path TEXT NULL,
  carrier_code TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (order_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_tracking_id ON shipments(tracking_id)`,
		`
CREATE TABLE IF NOT EXISTS api_calls (
  id BIGSERIAL PRIMARY KEY,
  service TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  related_id TEXT NOT NULL,
  request_payload TEXT NULL,
  response_body TEXT NULL,
  status_code INT NOT NULL,
  is_success BOOLEAN NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_related_id ON api_calls(related_id)`,
		`
CREATE TABLE IF NOT EXISTS process_failures (
  id BIGSERIAL PRIMARY KEY,
  related_id TEXT NOT NULL,
  process_name TEXT NOT NULL,
  details TEXT NOT NULL,
  payload TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
