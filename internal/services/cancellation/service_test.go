package cancellation

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/visionvation/fulfillment/internal/integrations/carrier"
	"github.com/visionvation/fulfillment/internal/models"
)

type fakeRepo struct {
	recent   []*models.Shipment
	byID     map[uint64]*models.Shipment
	failures []string
}

func (f *fakeRepo) RecentShipmentsForSweep(ctx context.Context, days int) ([]*models.Shipment, error) {
	return f.recent, nil
}

func (f *fakeRepo) ShipmentByID(ctx context.Context, shipmentID uint64) (*models.Shipment, error) {
	sh, ok := f.byID[shipmentID]
	if !ok {
		return nil, errors.New("shipment not found")
	}
	return sh, nil
}

func (f *fakeRepo) ShipmentByTrackingID(ctx context.Context, trackingID string) (*models.Shipment, error) {
	for _, sh := range f.byID {
		if sh.TrackingID != nil && *sh.TrackingID == trackingID {
			return sh, nil
		}
	}
	return nil, errors.New("shipment not found")
}

func (f *fakeRepo) ShipmentsByOrderID(ctx context.Context, orderID string) ([]*models.Shipment, error) {
	var out []*models.Shipment
	for _, sh := range f.byID {
		if sh.OrderID == orderID {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (f *fakeRepo) LogProcessFailure(ctx context.Context, relatedID, processName, details, payload string) error {
	f.failures = append(f.failures, relatedID+": "+details)
	return nil
}

type appended struct {
	subjectID, subjectType, status, notes string
}

type fakeLedger struct {
	rows []appended
}

func (f *fakeLedger) Append(ctx context.Context, subjectID, subjectType, status, notes string) error {
	f.rows = append(f.rows, appended{subjectID, subjectType, status, notes})
	return nil
}

type fakeGateway struct {
	events     map[string][]carrier.TrackingEvent
	trackCalls []string
	voidErr    error
	voidCalls  []string
	refund     carrier.RefundResult
	refundErr  error
	refundURLs []string
}

func (f *fakeGateway) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
	return carrier.ShipmentResult{}, nil
}

func (f *fakeGateway) GetLabel(ctx context.Context, labelURL string) ([]byte, error) { return nil, nil }

func (f *fakeGateway) VoidShipment(ctx context.Context, shipmentURL string) error {
	f.voidCalls = append(f.voidCalls, shipmentURL)
	return f.voidErr
}

func (f *fakeGateway) RequestRefund(ctx context.Context, shipmentURL, email string) (carrier.RefundResult, error) {
	f.refundURLs = append(f.refundURLs, shipmentURL+"|"+email)
	return f.refund, f.refundErr
}

func (f *fakeGateway) GetTrackingEvents(ctx context.Context, trackingID string) ([]carrier.TrackingEvent, error) {
	f.trackCalls = append(f.trackCalls, trackingID)
	return f.events[trackingID], nil
}

type fakeRateLimiter struct {
	budget int64
	calls  int64
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	f.calls++
	return f.calls <= f.budget, f.calls, nil
}

func strPtr(s string) *string { return &s }

func sweepShipment(id uint64, orderID, pin string) *models.Shipment {
	return &models.Shipment{
		ShipmentID:  id,
		OrderID:     orderID,
		TrackingID:  strPtr(pin),
		ShipmentURL: strPtr("https://carrier.example/shipment/" + pin),
	}
}

func TestCancellable(t *testing.T) {
	ok, reason := cancellable([]carrier.TrackingEvent{
		{Code: "0170", Description: "Item processed"},
		{Code: "0135", Description: "Delivery may be DELAYED due to weather"},
	})
	require.True(t, ok)
	require.Contains(t, reason, "delay")

	ok, reason = cancellable([]carrier.TrackingEvent{
		{Code: "3000", Description: "Electronic information submitted, label created"},
	})
	require.True(t, ok)
	require.Equal(t, "No movement since label creation.", reason)

	// Two events mean the parcel moved after label creation.
	ok, _ = cancellable([]carrier.TrackingEvent{
		{Description: "Label created"},
		{Description: "Item picked up"},
	})
	require.False(t, ok)

	ok, _ = cancellable([]carrier.TrackingEvent{
		{Description: "Item processed"},
	})
	require.False(t, ok)

	ok, _ = cancellable(nil)
	require.False(t, ok)
}

func TestService_Run_VoidsDelayedShipment(t *testing.T) {
	sh := sweepShipment(7, "ORDER-1", "PIN-1")
	repo := &fakeRepo{recent: []*models.Shipment{sh}}
	led := &fakeLedger{}
	gw := &fakeGateway{events: map[string][]carrier.TrackingEvent{
		"PIN-1": {{Description: "Delivery delayed"}},
	}}

	svc := New(repo, gw, led, nil, "ops@example.com")
	require.NoError(t, svc.Run(context.Background()))

	require.Equal(t, []string{"https://carrier.example/shipment/PIN-1"}, gw.voidCalls)
	require.Len(t, led.rows, 2)
	require.Equal(t, appended{"7", models.SubjectTypeShipment, models.ShipmentStatusCancelled, "Shipment voided. Carrier reported a delay: Delivery delayed"}, led.rows[0])
	require.Equal(t, models.SubjectTypeOrder, led.rows[1].subjectType)
	require.Equal(t, models.OrderStatusShipmentCancelled, led.rows[1].status)
}

func TestService_Run_RateLimitDefersSweep(t *testing.T) {
	repo := &fakeRepo{recent: []*models.Shipment{
		sweepShipment(7, "ORDER-1", "PIN-1"),
		sweepShipment(8, "ORDER-2", "PIN-2"),
		sweepShipment(9, "ORDER-3", "PIN-3"),
	}}
	led := &fakeLedger{}
	gw := &fakeGateway{}
	rl := &fakeRateLimiter{budget: 2}

	svc := New(repo, gw, led, rl, "ops@example.com")
	require.NoError(t, svc.Run(context.Background()))

	// The third shipment waits for the next cycle.
	require.Equal(t, []string{"PIN-1", "PIN-2"}, gw.trackCalls)
	require.Empty(t, gw.voidCalls)
	require.Empty(t, led.rows)
}

func TestService_Run_SkipsMovingShipment(t *testing.T) {
	sh := sweepShipment(7, "ORDER-1", "PIN-1")
	repo := &fakeRepo{recent: []*models.Shipment{sh}}
	led := &fakeLedger{}
	gw := &fakeGateway{events: map[string][]carrier.TrackingEvent{
		"PIN-1": {{Description: "Label created"}, {Description: "In transit"}},
	}}

	svc := New(repo, gw, led, nil, "ops@example.com")
	require.NoError(t, svc.Run(context.Background()))

	require.Empty(t, gw.voidCalls)
	require.Empty(t, led.rows)
}

func TestService_Cancel_TransmittedFallsBackToRefund(t *testing.T) {
	sh := sweepShipment(7, "ORDER-1", "PIN-1")
	repo := &fakeRepo{}
	led := &fakeLedger{}
	gw := &fakeGateway{
		voidErr: carrier.ErrShipmentTransmitted,
		refund:  carrier.RefundResult{ServiceTicketID: "GT12345678"},
	}

	svc := New(repo, gw, led, nil, "ops@example.com")
	require.NoError(t, svc.Cancel(context.Background(), sh, "Requested by operator."))

	require.Equal(t, []string{"https://carrier.example/shipment/PIN-1|ops@example.com"}, gw.refundURLs)
	require.Len(t, led.rows, 2)
	require.Equal(t, models.ShipmentStatusRefundRequested, led.rows[0].status)
	require.Equal(t, "Refund requested. Service Ticket ID: GT12345678", led.rows[0].notes)
	require.Equal(t, models.OrderStatusRefundRequested, led.rows[1].status)
}

func TestService_Cancel_RefundFailure(t *testing.T) {
	sh := sweepShipment(7, "ORDER-1", "PIN-1")
	repo := &fakeRepo{}
	led := &fakeLedger{}
	gw := &fakeGateway{
		voidErr:   carrier.ErrShipmentTransmitted,
		refundErr: errors.New("canada post http 500"),
	}

	svc := New(repo, gw, led, nil, "ops@example.com")
	require.NoError(t, svc.Cancel(context.Background(), sh, "Requested by operator."))

	require.Len(t, led.rows, 1)
	require.Equal(t, models.ShipmentStatusCancellationFailed, led.rows[0].status)
	require.Len(t, repo.failures, 1)
}

func TestService_Cancel_VoidFailure(t *testing.T) {
	sh := sweepShipment(7, "ORDER-1", "PIN-1")
	repo := &fakeRepo{}
	led := &fakeLedger{}
	gw := &fakeGateway{voidErr: errors.New("canada post http 500")}

	svc := New(repo, gw, led, nil, "ops@example.com")
	require.NoError(t, svc.Cancel(context.Background(), sh, "Requested by operator."))

	require.Empty(t, gw.refundURLs)
	require.Len(t, led.rows, 1)
	require.Equal(t, models.ShipmentStatusCancellationFailed, led.rows[0].status)
	require.Contains(t, led.rows[0].notes, "Void failed")
}

func TestService_Cancel_DerivesURLFromLabel(t *testing.T) {
	sh := &models.Shipment{
		ShipmentID: 7,
		OrderID:    "ORDER-1",
		TrackingID: strPtr("PIN-1"),
		LabelURL:   strPtr("https://carrier.example/shipment/42/label"),
	}
	repo := &fakeRepo{}
	led := &fakeLedger{}
	gw := &fakeGateway{}

	svc := New(repo, gw, led, nil, "ops@example.com")
	require.NoError(t, svc.Cancel(context.Background(), sh, "Requested by operator."))
	require.Equal(t, []string{"https://carrier.example/shipment/42"}, gw.voidCalls)
}

func TestService_CancelByShipmentID(t *testing.T) {
	sh := sweepShipment(7, "ORDER-1", "PIN-1")
	repo := &fakeRepo{byID: map[uint64]*models.Shipment{7: sh}}
	led := &fakeLedger{}
	gw := &fakeGateway{}

	svc := New(repo, gw, led, nil, "ops@example.com")
	require.NoError(t, svc.CancelByShipmentID(context.Background(), 7))
	require.Len(t, gw.voidCalls, 1)
	require.Contains(t, led.rows[0].notes, "Requested by operator.")

	require.Error(t, svc.CancelByShipmentID(context.Background(), 8))
}
