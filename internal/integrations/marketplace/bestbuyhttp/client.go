package bestbuyhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/visionvation/fulfillment/internal/integrations/marketplace"
)

// AuditLogger records every outbound call. Nil disables audit logging.
type AuditLogger interface {
	LogAPICall(ctx context.Context, service, endpoint, relatedID, requestPayload, responseBody string, statusCode int, isSuccess bool) error
}

type Client struct {
	baseURL string
	apiKey  string
	audit   AuditLogger
	httpc   *http.Client
}

func New(baseURL, apiKey string, audit AuditLogger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100/api/orders"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		audit:   audit,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type acceptPayload struct {
	OrderLines []marketplace.OrderLineAcceptance `json:"order_lines"`
}

func (c *Client) AcceptOrder(ctx context.Context, orderID string, lines []marketplace.OrderLineAcceptance) error {
	body, err := json.Marshal(acceptPayload{OrderLines: lines})
	if err != nil {
		return errors.Wrap(err, "marshal accept payload")
	}

	endpoint := fmt.Sprintf("%s/%s/accept", c.baseURL, orderID)
	_, code, err := c.do(ctx, http.MethodPut, endpoint, body)
	c.logCall(ctx, endpoint, orderID, string(body), "", code, err == nil)
	return err
}

type orderStateResp struct {
	OrderState string `json:"order_state"`
	Orders     []struct {
		OrderState string `json:"order_state"`
	} `json:"orders"`
}

func (c *Client) GetOrderState(ctx context.Context, orderID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, orderID)
	raw, code, err := c.do(ctx, http.MethodGet, endpoint, nil)
	c.logCall(ctx, endpoint, orderID, "", string(raw), code, err == nil)
	if err != nil {
		return "", err
	}

	var r orderStateResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", errors.Wrap(err, "decode order")
	}
	if r.OrderState != "" {
		return r.OrderState, nil
	}
	if len(r.Orders) > 0 {
		return r.Orders[0].OrderState, nil
	}
	return "", fmt.Errorf("no order_state for order %s", orderID)
}

type trackingPayload struct {
	CarrierCode    string `json:"carrier_code"`
	TrackingNumber string `json:"tracking_number"`
}

func (c *Client) UpdateTracking(ctx context.Context, orderID, carrierCode, trackingNumber string) error {
	body, err := json.Marshal(trackingPayload{CarrierCode: carrierCode, TrackingNumber: trackingNumber})
	if err != nil {
		return errors.Wrap(err, "marshal tracking payload")
	}

	endpoint := fmt.Sprintf("%s/%s/tracking", c.baseURL, orderID)
	_, code, err := c.do(ctx, http.MethodPut, endpoint, body)
	c.logCall(ctx, endpoint, orderID, string(body), "", code, err == nil)
	return err
}

func (c *Client) MarkShipped(ctx context.Context, orderID string) error {
	endpoint := fmt.Sprintf("%s/%s/ship", c.baseURL, orderID)
	_, code, err := c.do(ctx, http.MethodPut, endpoint, nil)
	c.logCall(ctx, endpoint, orderID, "", "", code, err == nil)
	return err
}

type listResp struct {
	Orders []json.RawMessage `json:"orders"`
}

func (c *Client) ListOrders(ctx context.Context, stateCodes []string) ([]marketplace.OrderSummary, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	q := u.Query()
	if len(stateCodes) > 0 {
		q.Set("order_state_codes", strings.Join(stateCodes, ","))
	}
	u.RawQuery = q.Encode()

	raw, code, err := c.do(ctx, http.MethodGet, u.String(), nil)
	c.logCall(ctx, u.String(), "", "", fmt.Sprintf("<%d bytes>", len(raw)), code, err == nil)
	if err != nil {
		return nil, err
	}

	var r listResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}

	out := make([]marketplace.OrderSummary, 0, len(r.Orders))
	for _, o := range r.Orders {
		var id struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(o, &id); err != nil {
			return nil, errors.Wrap(err, "decode order id")
		}
		if id.OrderID == "" {
			continue
		}
		out = append(out, marketplace.OrderSummary{OrderID: id.OrderID, Raw: o})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, 0, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "read body")
	}
	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("marketplace http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) logCall(ctx context.Context, endpoint, relatedID, reqBody, respBody string, code int, ok bool) {
	if c.audit == nil {
		return
	}
	if err := c.audit.LogAPICall(ctx, "bestbuy", endpoint, relatedID, reqBody, respBody, code, ok); err != nil {
		slog.Warn("audit log failed", "service", "bestbuy", "endpoint", endpoint, "err", err)
	}
}
