package pgfulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/visionvation/fulfillment/internal/models"
)

func startStorage(t *testing.T) *Storage {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "fulfillment_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/fulfillment_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGFulfillment_RepoFlow(t *testing.T) {
	ctx := context.Background()
	st := startStorage(t)

	// Ingestion: second upsert of the same order inserts nothing.
	inserted, err := st.UpsertOrders(ctx, []models.Order{
		{OrderID: "ORDER-1", RawPayload: []byte(`{"order_id":"ORDER-1"}`)},
		{OrderID: "ORDER-2", RawPayload: []byte(`{"order_id":"ORDER-2"}`)},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ORDER-1", "ORDER-2"}, inserted)

	inserted, err = st.UpsertOrders(ctx, []models.Order{
		{OrderID: "ORDER-1", RawPayload: []byte(`{"order_id":"ORDER-1"}`)},
		{OrderID: "ORDER-3", RawPayload: []byte(`{"order_id":"ORDER-3"}`)},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"ORDER-3"}, inserted)

	// The ledger is append-only and the latest row wins.
	require.NoError(t, st.AppendStatus(ctx, "ORDER-1", models.SubjectTypeOrder, models.OrderStatusPendingAcceptance, ""))
	require.NoError(t, st.AppendStatus(ctx, "ORDER-2", models.SubjectTypeOrder, models.OrderStatusPendingAcceptance, ""))
	require.NoError(t, st.AppendStatus(ctx, "ORDER-1", models.SubjectTypeOrder, models.OrderStatusAccepted, "Validated as 'SHIPPING'."))

	cur, err := st.CurrentStatus(ctx, "ORDER-1", models.SubjectTypeOrder)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusAccepted, cur)

	cur, err = st.CurrentStatus(ctx, "ORDER-9", models.SubjectTypeOrder)
	require.NoError(t, err)
	require.Empty(t, cur)

	events, err := st.ListStatusEvents(ctx, "ORDER-1", models.SubjectTypeOrder)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, models.OrderStatusAccepted, events[0].Status)
	require.NotNil(t, events[0].Notes)

	// Eligibility queries follow the latest ledger row.
	pending, err := st.OrdersWithCurrentStatus(ctx, models.OrderStatusPendingAcceptance)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "ORDER-2", pending[0].OrderID)

	shippable, err := st.ShippableOrders(ctx)
	require.NoError(t, err)
	require.Len(t, shippable, 1)
	require.Equal(t, "ORDER-1", shippable[0].OrderID)

	// Placeholder guard: one shipment per order.
	shipmentID, err := st.CreateShipmentPlaceholder(ctx, "ORDER-1", "canada_post")
	require.NoError(t, err)
	require.NotZero(t, shipmentID)

	_, err = st.CreateShipmentPlaceholder(ctx, "ORDER-1", "canada_post")
	require.Error(t, err)

	// The placeholder alone removes the order from the shippable set.
	shippable, err = st.ShippableOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, shippable)

	require.NoError(t, st.UpdateShipmentLabelInfo(ctx, shipmentID,
		"12345678901234", "https://carrier.example/shipment/1/label",
		"https://carrier.example/shipment/1", "labels/ORDER-1.pdf"))
	require.NoError(t, st.AppendStatus(ctx, "ORDER-1", models.SubjectTypeOrder, models.OrderStatusLabelCreated, "Tracking PIN: 12345678901234"))

	awaiting, err := st.ShipmentsAwaitingHandoff(ctx)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	require.Equal(t, "ORDER-1", awaiting[0].OrderID)
	require.NotNil(t, awaiting[0].TrackingID)
	require.Equal(t, "12345678901234", *awaiting[0].TrackingID)

	require.NoError(t, st.AppendStatus(ctx, "ORDER-1", models.SubjectTypeOrder, models.OrderStatusShipped, ""))
	awaiting, err = st.ShipmentsAwaitingHandoff(ctx)
	require.NoError(t, err)
	require.Empty(t, awaiting)

	// Sweep selection: recent shipments with a tracking id, until the
	// shipment ledger says cancelled or refund_requested.
	recent, err := st.RecentShipmentsForSweep(ctx, 30)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	require.NoError(t, st.AppendStatus(ctx, "1", models.SubjectTypeShipment, models.ShipmentStatusCancelled, "Shipment voided."))
	recent, err = st.RecentShipmentsForSweep(ctx, 30)
	require.NoError(t, err)
	require.Empty(t, recent)

	// Lookups used by the cancel CLI.
	byID, err := st.ShipmentByID(ctx, shipmentID)
	require.NoError(t, err)
	require.Equal(t, "ORDER-1", byID.OrderID)

	byPin, err := st.ShipmentByTrackingID(ctx, "12345678901234")
	require.NoError(t, err)
	require.Equal(t, shipmentID, byPin.ShipmentID)

	byOrder, err := st.ShipmentsByOrderID(ctx, "ORDER-1")
	require.NoError(t, err)
	require.Len(t, byOrder, 1)

	// Audit rows.
	require.NoError(t, st.LogAPICall(ctx, "bestbuy", "/ORDER-1/accept", "ORDER-1", `{"order_lines":[]}`, "", 204, true))
	require.NoError(t, st.LogProcessFailure(ctx, "ORDER-1", "acceptance", "Validation failed after 3 attempts.", ""))

	calls, err := st.APICallsByRelatedID(ctx, "ORDER-1")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, "bestbuy", calls[0].Service)
	require.Equal(t, "/ORDER-1/accept", calls[0].Endpoint)
	require.True(t, calls[0].IsSuccess)
	require.NotNil(t, calls[0].RequestPayload)
	require.Nil(t, calls[0].ResponseBody)
	var failures int
	require.NoError(t, st.db.QueryRow(ctx, `SELECT count(*) FROM process_failures`).Scan(&failures))
	require.Equal(t, 1, failures)
}
