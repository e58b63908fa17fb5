package pgfulfillment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/visionvation/fulfillment/internal/models"
)

// CreateShipmentPlaceholder inserts an empty shipment row for the order and
// returns its id. Fails on the UNIQUE(order_id) constraint when a shipment
// already exists, which is the intended behavior for a concurrent pass.
func (s *Storage) CreateShipmentPlaceholder(ctx context.Context, orderID, carrierCode string) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO shipments (order_id, carrier_code)
VALUES ($1, $2)
RETURNING shipment_id
`, orderID, carrierCode).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert shipment placeholder")
	}
	return id, nil
}

func (s *Storage) UpdateShipmentLabelInfo(ctx context.Context, shipmentID uint64, trackingID, labelURL, shipmentURL, labelPath string) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET tracking_id = $2, label_url = $3, shipment_url = $4, label_path = $5
WHERE shipment_id = $1
`, shipmentID, trackingID, labelURL, shipmentURL, labelPath)
	return errors.Wrap(err, "update shipment label info")
}

// ShipmentsAwaitingHandoff returns shipments whose order's latest ledger row
// is label_created.
func (s *Storage) ShipmentsAwaitingHandoff(ctx context.Context) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
WITH latest_status AS (
  SELECT
    subject_id,
    status,
    ROW_NUMBER() OVER (PARTITION BY subject_id ORDER BY timestamp DESC, id DESC) AS rn
  FROM status_events
  WHERE subject_type = 'order'
)
SELECT sh.shipment_id, sh.order_id, sh.tracking_id, sh.label_url, sh.shipment_url, sh.label_path, sh.carrier_code, sh.created_at
FROM shipments sh
JOIN latest_status ls ON sh.order_id = ls.subject_id
WHERE ls.rn = 1 AND ls.status = 'label_created'
ORDER BY sh.created_at ASC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments awaiting handoff")
	}
	defer rows.Close()

	return scanShipments(rows)
}

// RecentShipmentsForSweep returns shipments created within the last days
// that carry a tracking id and whose latest shipment-ledger status is not
// already cancelled or refund_requested.
func (s *Storage) RecentShipmentsForSweep(ctx context.Context, days int) ([]*models.Shipment, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
WITH latest_status AS (
  SELECT
    subject_id,
    status,
    ROW_NUMBER() OVER (PARTITION BY subject_id ORDER BY timestamp DESC, id DESC) AS rn
  FROM status_events
  WHERE subject_type = 'shipment'
)
SELECT sh.shipment_id, sh.order_id, sh.tracking_id, sh.label_url, sh.shipment_url, sh.label_path, sh.carrier_code, sh.created_at
FROM shipments sh
LEFT JOIN latest_status ls ON ls.subject_id = sh.shipment_id::text AND ls.rn = 1
WHERE sh.created_at >= now() - interval '%d days'
  AND sh.tracking_id IS NOT NULL
  AND (ls.status IS NULL OR ls.status NOT IN ('cancelled', 'refund_requested'))
ORDER BY sh.created_at ASC
`, days))
	if err != nil {
		return nil, errors.Wrap(err, "select shipments for sweep")
	}
	defer rows.Close()

	return scanShipments(rows)
}

func (s *Storage) ShipmentByID(ctx context.Context, shipmentID uint64) (*models.Shipment, error) {
	return s.oneShipment(ctx, `WHERE sh.shipment_id = $1`, shipmentID)
}

func (s *Storage) ShipmentByTrackingID(ctx context.Context, trackingID string) (*models.Shipment, error) {
	return s.oneShipment(ctx, `WHERE sh.tracking_id = $1`, trackingID)
}

func (s *Storage) ShipmentsByOrderID(ctx context.Context, orderID string) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, shipmentColumns+` WHERE sh.order_id = $1 ORDER BY sh.created_at ASC`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments by order")
	}
	defer rows.Close()

	return scanShipments(rows)
}

const shipmentColumns = `
SELECT sh.shipment_id, sh.order_id, sh.tracking_id, sh.label_url, sh.shipment_url, sh.label_path, sh.carrier_code, sh.created_at
FROM shipments sh`

func (s *Storage) oneShipment(ctx context.Context, where string, arg any) (*models.Shipment, error) {
	rows, err := s.db.Query(ctx, shipmentColumns+" "+where, arg)
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	defer rows.Close()

	out, err := scanShipments(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("shipment not found")
	}
	return out[0], nil
}

func scanShipments(rows pgx.Rows) ([]*models.Shipment, error) {
	var out []*models.Shipment
	for rows.Next() {
		var sh models.Shipment
		if err := rows.Scan(
			&sh.ShipmentID, &sh.OrderID,
			&sh.TrackingID, &sh.LabelURL, &sh.ShipmentURL, &sh.LabelPath, &sh.CarrierCode,
			&sh.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
