package marketplace

import (
	"context"
)

// OrderLineAcceptance marks one line of an order as accepted or refused.
type OrderLineAcceptance struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id"`
}

// OrderSummary is one order as returned by the marketplace listing endpoint,
// with the raw per-order JSON kept verbatim for storage.
type OrderSummary struct {
	OrderID string
	Raw     []byte
}

// Client covers the marketplace order API surface the pipeline needs.
// Implementations audit-log every call.
type Client interface {
	// AcceptOrder confirms all lines of the order. Not retriable: the
	// marketplace rejects a second acceptance of the same order.
	AcceptOrder(ctx context.Context, orderID string, lines []OrderLineAcceptance) error

	// GetOrderState returns the current order_state of the order.
	GetOrderState(ctx context.Context, orderID string) (string, error)

	// UpdateTracking registers the carrier and tracking number on the order.
	UpdateTracking(ctx context.Context, orderID, carrierCode, trackingNumber string) error

	// MarkShipped flips the order to shipped on the marketplace.
	MarkShipped(ctx context.Context, orderID string) error

	// ListOrders returns orders currently in any of the given states.
	ListOrders(ctx context.Context, stateCodes []string) ([]OrderSummary, error)
}
