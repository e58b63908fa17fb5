package models

import "time"

// Order statuses written to the ledger. The happy path is
// pending_acceptance -> accepted -> label_created -> shipped; the rest are
// terminal exits for automated processing.
const (
	OrderStatusPendingAcceptance = "pending_acceptance"
	OrderStatusAccepted          = "accepted"
	OrderStatusLabelCreated      = "label_created"
	OrderStatusShipped           = "shipped"
	OrderStatusCancelled         = "cancelled"
	OrderStatusShipmentCancelled = "shipment_cancelled"
	OrderStatusRefundRequested   = "refund_requested"
	OrderStatusAcceptanceFailed  = "acceptance_failed"
	OrderStatusShippingFailed    = "shipping_failed"
	OrderStatusTrackingFailed    = "tracking_failed"
)

// Shipment statuses (ledger rows with subject_type=shipment).
const (
	ShipmentStatusCancelled          = "cancelled"
	ShipmentStatusRefundRequested    = "refund_requested"
	ShipmentStatusCancellationFailed = "cancellation_failed"
)

const (
	SubjectTypeOrder    = "order"
	SubjectTypeShipment = "shipment"
)

// Order holds the marketplace order as captured at ingestion. RawPayload is
// the original marketplace JSON and is never mutated after insert.
type Order struct {
	OrderID    string
	RawPayload []byte
	CreatedAt  time.Time
}

type StatusEvent struct {
	ID          uint64
	SubjectID   string
	SubjectType string
	Status      string
	Timestamp   time.Time
	Notes       *string
}

// Shipment is one physical package. Created as a placeholder at the start of
// label creation and filled in once the carrier call succeeds.
type Shipment struct {
	ShipmentID  uint64
	OrderID     string
	TrackingID  *string
	LabelURL    *string
	ShipmentURL *string
	LabelPath   *string
	CarrierCode *string
	CreatedAt   time.Time
}

type AuditRecord struct {
	ID             uint64
	Service        string
	Endpoint       string
	RelatedID      string
	RequestPayload *string
	ResponseBody   *string
	StatusCode     int
	IsSuccess      bool
	CreatedAt      time.Time
}
