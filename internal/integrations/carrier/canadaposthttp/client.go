package canadaposthttp

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/visionvation/fulfillment/internal/integrations/carrier"
)

const (
	shipmentMediaType = "application/vnd.cpc.shipment-v8+xml"
	trackMediaType    = "application/vnd.cpc.track-v2+xml"

	shipmentNS = "http://www.canadapost.ca/ws/shipment-v8"

	// Canada Post message code for "shipment already transmitted".
	codeTransmitted = "8064"
)

// AuditLogger records every outbound call. Nil disables audit logging.
type AuditLogger interface {
	LogAPICall(ctx context.Context, service, endpoint, relatedID, requestPayload, responseBody string, statusCode int, isSuccess bool) error
}

type Client struct {
	baseURL        string
	trackingURL    string
	apiUser        string
	apiPassword    string
	customerNumber string
	contractID     string
	paidByCustomer string
	audit          AuditLogger
	httpc          *http.Client
}

func New(baseURL, trackingURL, apiUser, apiPassword, customerNumber, contractID, paidByCustomer string, audit AuditLogger) *Client {
	if baseURL == "" {
		baseURL = "https://soa-gw.canadapost.ca/rs"
	}
	if trackingURL == "" {
		trackingURL = "https://soa-gw.canadapost.ca"
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		trackingURL:    strings.TrimRight(trackingURL, "/"),
		apiUser:        apiUser,
		apiPassword:    apiPassword,
		customerNumber: customerNumber,
		contractID:     contractID,
		paidByCustomer: paidByCustomer,
		audit:          audit,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type addressDetails struct {
	AddressLine1 string `xml:"address-line-1"`
	City         string `xml:"city"`
	ProvState    string `xml:"prov-state"`
	CountryCode  string `xml:"country-code,omitempty"`
	PostalZip    string `xml:"postal-zip-code"`
}

type shipmentParty struct {
	Name           string         `xml:"name"`
	Company        string         `xml:"company,omitempty"`
	ContactPhone   string         `xml:"contact-phone,omitempty"`
	ClientVoice    string         `xml:"client-voice-number,omitempty"`
	AddressDetails addressDetails `xml:"address-details"`
}

type shipmentOption struct {
	OptionCode string `xml:"option-code"`
}

type parcelDimensions struct {
	Length int `xml:"length"`
	Width  int `xml:"width"`
	Height int `xml:"height"`
}

type parcelCharacteristics struct {
	Weight     float64          `xml:"weight"`
	Dimensions parcelDimensions `xml:"dimensions"`
}

type deliverySpec struct {
	ServiceCode string                `xml:"service-code"`
	Sender      shipmentParty         `xml:"sender"`
	Destination shipmentParty         `xml:"destination"`
	Options     []shipmentOption      `xml:"options>option"`
	Parcel      parcelCharacteristics `xml:"parcel-characteristics"`
	CustomerRef string                `xml:"references>customer-ref-1"`
	Settlement  settlementInfo        `xml:"settlement-info"`
}

type settlementInfo struct {
	PaidByCustomer string `xml:"paid-by-customer"`
	ContractID     string `xml:"contract-id"`
}

type shipmentRequest struct {
	XMLName       xml.Name     `xml:"shipment"`
	Xmlns         string       `xml:"xmlns,attr"`
	Transmit      bool         `xml:"transmit-shipment"`
	ShippingPoint string       `xml:"requested-shipping-point"`
	DeliverySpec  deliverySpec `xml:"delivery-spec"`
}

type shipmentLink struct {
	Rel       string `xml:"rel,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

type shipmentInfo struct {
	XMLName     xml.Name       `xml:"shipment-info"`
	ShipmentID  string         `xml:"shipment-id"`
	Status      string         `xml:"shipment-status"`
	TrackingPin string         `xml:"tracking-pin"`
	Links       []shipmentLink `xml:"links>link"`
}

type shipmentEcho struct {
	XMLName      xml.Name     `xml:"shipment"`
	DeliverySpec deliverySpec `xml:"delivery-spec"`
}

func (c *Client) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
	payload := shipmentRequest{
		Xmlns:         shipmentNS,
		Transmit:      true,
		ShippingPoint: stripSpaces(req.SenderPostalCode),
		DeliverySpec: deliverySpec{
			ServiceCode: "DOM.EP",
			Sender: shipmentParty{
				Name:         req.SenderName,
				Company:      req.SenderCompany,
				ContactPhone: req.SenderPhone,
				AddressDetails: addressDetails{
					AddressLine1: req.SenderAddress,
					City:         req.SenderCity,
					ProvState:    req.SenderProvince,
					PostalZip:    req.SenderPostalCode,
				},
			},
			Destination: shipmentParty{
				Name:        req.DestinationName,
				Company:     req.DestinationCompany,
				ClientVoice: req.Phone,
				AddressDetails: addressDetails{
					AddressLine1: req.AddressLine1,
					City:         req.City,
					ProvState:    req.Province,
					CountryCode:  "CA",
					PostalZip:    req.PostalCode,
				},
			},
			Options: []shipmentOption{{OptionCode: "DC"}},
			Parcel: parcelCharacteristics{
				Weight: req.WeightKg,
				Dimensions: parcelDimensions{
					Length: req.LengthCm,
					Width:  req.WidthCm,
					Height: req.HeightCm,
				},
			},
			CustomerRef: req.OrderID,
			Settlement: settlementInfo{
				PaidByCustomer: c.paidByCustomer,
				ContractID:     c.contractID,
			},
		},
	}

	body, err := xml.MarshalIndent(payload, "", "  ")
	if err != nil {
		return carrier.ShipmentResult{}, errors.Wrap(err, "marshal shipment")
	}
	reqBody := xml.Header + string(body)

	endpoint := fmt.Sprintf("%s/%s/%s/shipment", c.baseURL, c.customerNumber, c.customerNumber)
	raw, code, err := c.do(ctx, http.MethodPost, endpoint, []byte(reqBody), shipmentMediaType, shipmentMediaType)
	c.logCall(ctx, endpoint, req.OrderID, reqBody, string(raw), code, err == nil)
	if err != nil {
		return carrier.ShipmentResult{}, err
	}

	var info shipmentInfo
	if err := xml.Unmarshal(raw, &info); err != nil {
		return carrier.ShipmentResult{}, errors.Wrap(err, "decode shipment info")
	}
	if info.TrackingPin == "" {
		return carrier.ShipmentResult{}, fmt.Errorf("canada post: no tracking pin in response")
	}

	res := carrier.ShipmentResult{
		TrackingID:  info.TrackingPin,
		RawResponse: string(raw),
	}
	for _, l := range info.Links {
		switch l.Rel {
		case "label":
			res.LabelURL = l.Href
		case "self":
			res.ShipmentURL = l.Href
		}
	}
	if res.LabelURL == "" {
		return carrier.ShipmentResult{}, fmt.Errorf("canada post: no label link in response")
	}

	// The created shipment is fetched back so content validation compares
	// against what the carrier actually committed to, not our own request.
	if res.ShipmentURL != "" {
		echoRaw, echoCode, echoErr := c.do(ctx, http.MethodGet, res.ShipmentURL, nil, "", shipmentMediaType)
		c.logCall(ctx, res.ShipmentURL, req.OrderID, "", string(echoRaw), echoCode, echoErr == nil)
		if echoErr != nil {
			return carrier.ShipmentResult{}, errors.Wrap(echoErr, "fetch created shipment")
		}
		var echo shipmentEcho
		if err := xml.Unmarshal(echoRaw, &echo); err != nil {
			return carrier.ShipmentResult{}, errors.Wrap(err, "decode created shipment")
		}
		res.DestinationName = echo.DeliverySpec.Destination.Name
		res.DestinationPostalCode = echo.DeliverySpec.Destination.AddressDetails.PostalZip
	}

	return res, nil
}

func (c *Client) GetLabel(ctx context.Context, labelURL string) ([]byte, error) {
	raw, code, err := c.do(ctx, http.MethodGet, labelURL, nil, "", "application/pdf")
	c.logCall(ctx, labelURL, "", "", fmt.Sprintf("<%d bytes>", len(raw)), code, err == nil)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

type messages struct {
	XMLName  xml.Name `xml:"messages"`
	Messages []struct {
		Code        string `xml:"code"`
		Description string `xml:"description"`
	} `xml:"message"`
}

func (c *Client) VoidShipment(ctx context.Context, shipmentURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, shipmentURL, nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.SetBasicAuth(c.apiUser, c.apiPassword)
	req.Header.Set("Accept", shipmentMediaType)

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logCall(ctx, shipmentURL, "", "", err.Error(), 0, false)
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	ok := resp.StatusCode == http.StatusNoContent
	c.logCall(ctx, shipmentURL, "", "", string(raw), resp.StatusCode, ok)

	if ok {
		return nil
	}

	var msgs messages
	if err := xml.Unmarshal(raw, &msgs); err == nil {
		for _, m := range msgs.Messages {
			if m.Code == codeTransmitted {
				return carrier.ErrShipmentTransmitted
			}
		}
	}
	return fmt.Errorf("canada post void http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

type refundRequest struct {
	XMLName xml.Name `xml:"shipment-refund-request"`
	Xmlns   string   `xml:"xmlns,attr"`
	Email   string   `xml:"email"`
}

type refundInfo struct {
	XMLName         xml.Name `xml:"shipment-refund-request-info"`
	ServiceTicketID string   `xml:"service-ticket-id"`
}

func (c *Client) RequestRefund(ctx context.Context, shipmentURL, email string) (carrier.RefundResult, error) {
	body, err := xml.Marshal(refundRequest{Xmlns: shipmentNS, Email: email})
	if err != nil {
		return carrier.RefundResult{}, errors.Wrap(err, "marshal refund request")
	}
	reqBody := xml.Header + string(body)

	endpoint := shipmentURL + "/refund"
	raw, code, err := c.do(ctx, http.MethodPost, endpoint, []byte(reqBody), shipmentMediaType, shipmentMediaType)
	c.logCall(ctx, endpoint, "", reqBody, string(raw), code, err == nil)
	if err != nil {
		return carrier.RefundResult{}, err
	}

	var info refundInfo
	if err := xml.Unmarshal(raw, &info); err != nil {
		return carrier.RefundResult{}, errors.Wrap(err, "decode refund info")
	}
	if info.ServiceTicketID == "" {
		return carrier.RefundResult{}, fmt.Errorf("canada post: no service ticket id in refund response")
	}
	return carrier.RefundResult{
		ServiceTicketID: info.ServiceTicketID,
		RawResponse:     string(raw),
	}, nil
}

type trackingDetail struct {
	XMLName     xml.Name `xml:"tracking-detail"`
	Occurrences []struct {
		Identifier  string `xml:"event-identifier"`
		Date        string `xml:"event-date"`
		Time        string `xml:"event-time"`
		Description string `xml:"event-description"`
		Signatory   string `xml:"signatory-name"`
	} `xml:"significant-events>occurrence"`
}

func (c *Client) GetTrackingEvents(ctx context.Context, trackingID string) ([]carrier.TrackingEvent, error) {
	endpoint := fmt.Sprintf("%s/vis/track/pin/%s/detail", c.trackingURL, trackingID)
	raw, code, err := c.do(ctx, http.MethodGet, endpoint, nil, "", trackMediaType)
	c.logCall(ctx, endpoint, trackingID, "", string(raw), code, err == nil)
	if err != nil {
		return nil, err
	}

	var detail trackingDetail
	if err := xml.Unmarshal(raw, &detail); err != nil {
		return nil, errors.Wrap(err, "decode tracking detail")
	}

	events := make([]carrier.TrackingEvent, 0, len(detail.Occurrences))
	for _, o := range detail.Occurrences {
		events = append(events, carrier.TrackingEvent{
			Code:        o.Identifier,
			Description: o.Description,
			Date:        o.Date,
			Time:        o.Time,
			Signatory:   o.Signatory,
		})
	}
	return events, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, contentType, accept string) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, 0, errors.Wrap(err, "new request")
	}
	req.SetBasicAuth(c.apiUser, c.apiPassword)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
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
		return raw, resp.StatusCode, fmt.Errorf("canada post http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) logCall(ctx context.Context, endpoint, relatedID, reqBody, respBody string, code int, ok bool) {
	if c.audit == nil {
		return
	}
	if err := c.audit.LogAPICall(ctx, "canada_post", endpoint, relatedID, reqBody, respBody, code, ok); err != nil {
		slog.Warn("audit log failed", "service", "canada_post", "endpoint", endpoint, "err", err)
	}
}

func stripSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
