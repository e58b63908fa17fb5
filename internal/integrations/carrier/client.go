package carrier

import (
	"context"

	"github.com/pkg/errors"
)

// ErrShipmentTransmitted is returned by VoidShipment when the carrier
// reports the shipment has already entered its network. The caller should
// fall back to a refund request instead of treating this as a failure.
var ErrShipmentTransmitted = errors.New("shipment already transmitted")

// ShipmentRequest carries everything a gateway needs to create one
// shipment. Sender data comes from configuration, destination data from the
// order's immutable payload.
type ShipmentRequest struct {
	OrderID string

	DestinationName    string
	DestinationCompany string
	AddressLine1       string
	City               string
	Province           string
	PostalCode         string
	Phone              string

	SenderName       string
	SenderCompany    string
	SenderPhone      string
	SenderAddress    string
	SenderCity       string
	SenderProvince   string
	SenderPostalCode string

	WeightKg float64
	LengthCm int
	WidthCm  int
	HeightCm int
}

// ShipmentResult echoes back what the carrier committed to, so stage-level
// content validation stays carrier-agnostic.
type ShipmentResult struct {
	TrackingID  string
	LabelURL    string
	ShipmentURL string

	DestinationName       string
	DestinationPostalCode string

	RawResponse string
}

type RefundResult struct {
	ServiceTicketID string
	RawResponse     string
}

type TrackingEvent struct {
	Code        string
	Description string
	Date        string
	Time        string
	Signatory   string
}

// Gateway is the carrier-agnostic capability interface. Implementations are
// selected by configuration.
type Gateway interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error)
	GetLabel(ctx context.Context, labelURL string) ([]byte, error)
	VoidShipment(ctx context.Context, shipmentURL string) error
	RequestRefund(ctx context.Context, shipmentURL, email string) (RefundResult, error)
	GetTrackingEvents(ctx context.Context, trackingID string) ([]TrackingEvent, error)
}
