package canadaposthttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/visionvation/fulfillment/internal/integrations/carrier"
)

func TestClient_CreateShipment_OK(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "apiuser", user)
		require.Equal(t, "apipass", pass)

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/2004381/2004381/shipment":
			require.Equal(t, shipmentMediaType, r.Header.Get("Content-Type"))
			raw, _ := io.ReadAll(r.Body)
			body := string(raw)
			require.Contains(t, body, "<transmit-shipment>true</transmit-shipment>")
			require.Contains(t, body, "<requested-shipping-point>H2B1A0</requested-shipping-point>")
			require.Contains(t, body, "<service-code>DOM.EP</service-code>")
			require.Contains(t, body, "<customer-ref-1>ORDER-1</customer-ref-1>")
			require.Contains(t, body, "<option-code>DC</option-code>")
			require.Contains(t, body, "<contract-id>42708517</contract-id>")

			w.Header().Set("Content-Type", shipmentMediaType)
			_, _ = w.Write([]byte(`<shipment-info xmlns="http://www.canadapost.ca/ws/shipment-v8">
  <shipment-id>340531309186521749</shipment-id>
  <shipment-status>transmitted</shipment-status>
  <tracking-pin>12345678901234</tracking-pin>
  <links>
    <link rel="self" href="` + srv.URL + `/2004381/2004381/shipment/340531309186521749" media-type="application/vnd.cpc.shipment-v8+xml"/>
    <link rel="label" href="` + srv.URL + `/artifact/label/123" media-type="application/pdf"/>
  </links>
</shipment-info>`))
		case r.Method == http.MethodGet && r.URL.Path == "/2004381/2004381/shipment/340531309186521749":
			w.Header().Set("Content-Type", shipmentMediaType)
			_, _ = w.Write([]byte(`<shipment xmlns="http://www.canadapost.ca/ws/shipment-v8">
  <delivery-spec>
    <destination>
      <name>Jane Buyer</name>
      <address-details><postal-zip-code>M5V 2T6</postal-zip-code></address-details>
    </destination>
  </delivery-spec>
</shipment>`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "apiuser", "apipass", "2004381", "42708517", "2004381", nil)
	res, err := c.CreateShipment(context.Background(), carrier.ShipmentRequest{
		OrderID:          "ORDER-1",
		DestinationName:  "Jane Buyer",
		PostalCode:       "M5V 2T6",
		SenderPostalCode: "H2B 1A0",
		WeightKg:         1.8,
		LengthCm:         35,
		WidthCm:          25,
		HeightCm:         5,
	})
	require.NoError(t, err)
	require.Equal(t, "12345678901234", res.TrackingID)
	require.Equal(t, srv.URL+"/artifact/label/123", res.LabelURL)
	require.Equal(t, srv.URL+"/2004381/2004381/shipment/340531309186521749", res.ShipmentURL)
	require.Equal(t, "Jane Buyer", res.DestinationName)
	require.Equal(t, "M5V 2T6", res.DestinationPostalCode)
}

func TestClient_CreateShipment_NoLabelLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<shipment-info xmlns="http://www.canadapost.ca/ws/shipment-v8">
  <tracking-pin>12345678901234</tracking-pin>
  <links></links>
</shipment-info>`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "u", "p", "1", "", "1", nil)
	_, err := c.CreateShipment(context.Background(), carrier.ShipmentRequest{OrderID: "ORDER-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no label link")
}

func TestClient_VoidShipment_Voided(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "u", "p", "1", "", "1", nil)
	require.NoError(t, c.VoidShipment(context.Background(), srv.URL+"/shipment/1"))
}

func TestClient_VoidShipment_AlreadyTransmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`<messages xmlns="http://www.canadapost.ca/ws/messages">
  <message><code>8064</code><description>The shipment has already been transmitted.</description></message>
</messages>`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "u", "p", "1", "", "1", nil)
	err := c.VoidShipment(context.Background(), srv.URL+"/shipment/1")
	require.ErrorIs(t, err, carrier.ErrShipmentTransmitted)
}

func TestClient_VoidShipment_OtherError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<messages xmlns="http://www.canadapost.ca/ws/messages">
  <message><code>9999</code><description>Something else.</description></message>
</messages>`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "u", "p", "1", "", "1", nil)
	err := c.VoidShipment(context.Background(), srv.URL+"/shipment/1")
	require.Error(t, err)
	require.NotErrorIs(t, err, carrier.ErrShipmentTransmitted)
}

func TestClient_RequestRefund_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/shipment/1/refund", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.Contains(t, string(raw), "<email>ops@example.com</email>")

		_, _ = w.Write([]byte(`<shipment-refund-request-info xmlns="http://www.canadapost.ca/ws/shipment-v8">
  <service-ticket-date>2026-08-30</service-ticket-date>
  <service-ticket-id>GT12345678</service-ticket-id>
</shipment-refund-request-info>`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "u", "p", "1", "", "1", nil)
	res, err := c.RequestRefund(context.Background(), srv.URL+"/shipment/1", "ops@example.com")
	require.NoError(t, err)
	require.Equal(t, "GT12345678", res.ServiceTicketID)
}

func TestClient_GetTrackingEvents_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vis/track/pin/12345678901234/detail", r.URL.Path)
		require.Equal(t, trackMediaType, r.Header.Get("Accept"))

		_, _ = w.Write([]byte(`<tracking-detail xmlns="http://www.canadapost.ca/ws/track">
  <significant-events>
    <occurrence>
      <event-identifier>0170</event-identifier>
      <event-date>2026-08-28</event-date>
      <event-time>14:07:41</event-time>
      <event-description>Item processed</event-description>
      <signatory-name></signatory-name>
    </occurrence>
    <occurrence>
      <event-identifier>0135</event-identifier>
      <event-date>2026-08-29</event-date>
      <event-time>09:12:03</event-time>
      <event-description>Delivery may be delayed due to weather</event-description>
      <signatory-name></signatory-name>
    </occurrence>
  </significant-events>
</tracking-detail>`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "u", "p", "1", "", "1", nil)
	events, err := c.GetTrackingEvents(context.Background(), "12345678901234")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "0170", events[0].Code)
	require.Equal(t, "Delivery may be delayed due to weather", events[1].Description)
}

func TestClient_GetLabel_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/pdf", r.Header.Get("Accept"))
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "u", "p", "1", "", "1", nil)
	b, err := c.GetLabel(context.Background(), srv.URL+"/artifact/label/123")
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 fake", string(b))
}
