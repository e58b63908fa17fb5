package bestbuyhttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/visionvation/fulfillment/internal/integrations/marketplace"
)

func TestClient_AcceptOrder_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/ORDER-1/accept", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"order_lines":[{"accepted":true,"id":"LINE-1"},{"accepted":true,"id":"LINE-2"}]}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	err := c.AcceptOrder(context.Background(), "ORDER-1", []marketplace.OrderLineAcceptance{
		{Accepted: true, ID: "LINE-1"},
		{Accepted: true, ID: "LINE-2"},
	})
	require.NoError(t, err)
}

func TestClient_AcceptOrder_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"order already accepted"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	err := c.AcceptOrder(context.Background(), "ORDER-1", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "http 400")
}

func TestClient_GetOrderState_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ORDER-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"order_id":"ORDER-1","order_state":"SHIPPING"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	state, err := c.GetOrderState(context.Background(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, "SHIPPING", state)
}

func TestClient_GetOrderState_WrappedList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orders":[{"order_id":"ORDER-1","order_state":"CANCELLED"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	state, err := c.GetOrderState(context.Background(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, "CANCELLED", state)
}

func TestClient_UpdateTracking_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/ORDER-1/tracking", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"carrier_code":"CPCL","tracking_number":"12345678901234"}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	require.NoError(t, c.UpdateTracking(context.Background(), "ORDER-1", "CPCL", "12345678901234"))
}

func TestClient_MarkShipped_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/ORDER-1/ship", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	require.NoError(t, c.MarkShipped(context.Background(), "ORDER-1"))
}

func TestClient_ListOrders_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "WAITING_ACCEPTANCE,SHIPPING", r.URL.Query().Get("order_state_codes"))
		_, _ = w.Write([]byte(`{"orders":[
			{"order_id":"ORDER-1","order_state":"WAITING_ACCEPTANCE"},
			{"order_id":"ORDER-2","order_state":"SHIPPING"}
		],"total_count":2}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", nil)
	orders, err := c.ListOrders(context.Background(), []string{"WAITING_ACCEPTANCE", "SHIPPING"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "ORDER-1", orders[0].OrderID)
	require.Contains(t, string(orders[1].Raw), `"order_state":"SHIPPING"`)
}
