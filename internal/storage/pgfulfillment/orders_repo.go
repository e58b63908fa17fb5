package pgfulfillment

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/visionvation/fulfillment/internal/models"
)

// UpsertOrders inserts new orders, skipping ones already present, and
// returns the ids that were actually inserted. The raw payload of an
// existing order is never overwritten.
func (s *Storage) UpsertOrders(ctx context.Context, orders []models.Order) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := make([]string, 0, len(orders))
	for _, o := range orders {
		rows, err := tx.Query(ctx, `
INSERT INTO orders (order_id, raw_payload)
VALUES ($1, $2)
ON CONFLICT (order_id) DO NOTHING
RETURNING order_id
`, o.OrderID, o.RawPayload)
		if err != nil {
			return nil, errors.Wrap(err, "insert order")
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "scan order id")
			}
			inserted = append(inserted, id)
		}
		rows.Close()
		if rows.Err() != nil {
			return nil, errors.Wrap(rows.Err(), "rows")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return inserted, nil
}

// OrdersWithCurrentStatus returns all orders whose latest ledger row equals
// status. This is the selection query every stage uses; once an order has
// advanced, it naturally disappears from the eligible set.
func (s *Storage) OrdersWithCurrentStatus(ctx context.Context, status string) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
WITH latest_status AS (
  SELECT
    subject_id,
    status,
    ROW_NUMBER() OVER (PARTITION BY subject_id ORDER BY timestamp DESC, id DESC) AS rn
  FROM status_events
  WHERE subject_type = 'order'
)
SELECT o.order_id, o.raw_payload, o.created_at
FROM orders o
JOIN latest_status ls ON o.order_id = ls.subject_id
WHERE ls.rn = 1 AND ls.status = $1
ORDER BY o.created_at ASC
`, status)
	if err != nil {
		return nil, errors.Wrap(err, "select orders by status")
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ShippableOrders returns accepted orders that have no shipment row yet.
// The missing shipment row is the idempotency guard against duplicate
// label purchases.
func (s *Storage) ShippableOrders(ctx context.Context) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
WITH latest_status AS (
  SELECT
    subject_id,
    status,
    ROW_NUMBER() OVER (PARTITION BY subject_id ORDER BY timestamp DESC, id DESC) AS rn
  FROM status_events
  WHERE subject_type = 'order'
)
SELECT o.order_id, o.raw_payload, o.created_at
FROM orders o
JOIN latest_status ls ON o.order_id = ls.subject_id
LEFT JOIN shipments sh ON o.order_id = sh.order_id
WHERE ls.rn = 1 AND ls.status = 'accepted' AND sh.shipment_id IS NULL
ORDER BY o.created_at ASC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select shippable orders")
	}
	defer rows.Close()

	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]*models.Order, error) {
	var out []*models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.OrderID, &o.RawPayload, &o.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, &o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
