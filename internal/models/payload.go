package models

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// OrderPayload is the subset of the marketplace order JSON the pipeline
// reads. The full payload is stored verbatim; this is only a view.
type OrderPayload struct {
	OrderID    string      `json:"order_id"`
	OrderLines []OrderLine `json:"order_lines"`
	Customer   Customer    `json:"customer"`
}

type OrderLine struct {
	OrderLineID string `json:"order_line_id"`
	OfferSKU    string `json:"offer_sku"`
	Quantity    int    `json:"quantity"`
}

type Customer struct {
	ShippingAddress ShippingAddress `json:"shipping_address"`
}

type ShippingAddress struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Street1   string `json:"street_1"`
	Street2   string `json:"street_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
	Phone     string `json:"phone"`
}

func (o *Order) Payload() (OrderPayload, error) {
	var p OrderPayload
	if err := json.Unmarshal(o.RawPayload, &p); err != nil {
		return OrderPayload{}, errors.Wrap(err, "parse order payload")
	}
	if p.OrderID == "" {
		p.OrderID = o.OrderID
	}
	return p, nil
}
