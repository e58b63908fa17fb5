package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/visionvation/fulfillment/internal/integrations/carrier"
)

// FakeClient is a deterministic in-memory gateway for local runs and tests.
// Tracking pins and outcomes derive from an FNV hash of the order id, so the
// same order always gets the same shipment.
type FakeClient struct {
	mu        sync.Mutex
	shipments map[string]carrier.ShipmentRequest // shipment URL -> original request
	voided    map[string]bool
}

func New() *FakeClient {
	return &FakeClient{
		shipments: make(map[string]carrier.ShipmentRequest),
		voided:    make(map[string]bool),
	}
}

func hashOf(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func (f *FakeClient) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
	v := hashOf(req.OrderID)
	pin := fmt.Sprintf("%014d", uint64(v)*31)
	shipmentURL := fmt.Sprintf("fake://shipment/%d", v)

	f.mu.Lock()
	f.shipments[shipmentURL] = req
	f.mu.Unlock()

	return carrier.ShipmentResult{
		TrackingID:            pin,
		LabelURL:              fmt.Sprintf("fake://label/%d", v),
		ShipmentURL:           shipmentURL,
		DestinationName:       req.DestinationName,
		DestinationPostalCode: req.PostalCode,
		RawResponse:           "fake shipment " + pin,
	}, nil
}

// GetLabel returns a minimal well-formed PDF whose single content stream
// carries the tracking pin, so downstream content checks behave as they
// would with a real label.
func (f *FakeClient) GetLabel(ctx context.Context, labelURL string) ([]byte, error) {
	var v uint32
	_, _ = fmt.Sscanf(labelURL, "fake://label/%d", &v)
	pin := fmt.Sprintf("%014d", uint64(v)*31)

	stream := "BT /F1 12 Tf 72 720 Td (" + pin + ") Tj ET"
	body := fmt.Sprintf("%%PDF-1.4\n1 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\ntrailer\n<<>>\n%%%%EOF\n", len(stream), stream)
	return []byte(body), nil
}

// VoidShipment reports the shipment as transmitted on every third hash so
// the refund fallback path gets exercised in dev.
func (f *FakeClient) VoidShipment(ctx context.Context, shipmentURL string) error {
	if hashOf(shipmentURL)%3 == 0 {
		return carrier.ErrShipmentTransmitted
	}
	f.mu.Lock()
	f.voided[shipmentURL] = true
	f.mu.Unlock()
	return nil
}

func (f *FakeClient) RequestRefund(ctx context.Context, shipmentURL, email string) (carrier.RefundResult, error) {
	v := hashOf(shipmentURL)
	return carrier.RefundResult{
		ServiceTicketID: fmt.Sprintf("GT%08d", v%100000000),
		RawResponse:     "fake refund",
	}, nil
}

func (f *FakeClient) GetTrackingEvents(ctx context.Context, trackingID string) ([]carrier.TrackingEvent, error) {
	now := time.Now().UTC()
	v := hashOf(trackingID)

	events := []carrier.TrackingEvent{{
		Code:        "0170",
		Description: "Item processed",
		Date:        now.AddDate(0, 0, -1).Format("2006-01-02"),
		Time:        "09:00:00",
	}}
	// 20% of pins report a delay so the cancellation sweep finds work.
	if v%5 == 0 {
		events = append(events, carrier.TrackingEvent{
			Code:        "0135",
			Description: "Delivery may be delayed",
			Date:        now.Format("2006-01-02"),
			Time:        "12:00:00",
		})
	}
	return events, nil
}
