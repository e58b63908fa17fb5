package labels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/visionvation/fulfillment/internal/integrations/carrier"
	"github.com/visionvation/fulfillment/internal/models"
)

type Repository interface {
	ShippableOrders(ctx context.Context) ([]*models.Order, error)
	CreateShipmentPlaceholder(ctx context.Context, orderID, carrierCode string) (uint64, error)
	UpdateShipmentLabelInfo(ctx context.Context, shipmentID uint64, trackingID, labelURL, shipmentURL, labelPath string) error
	LogProcessFailure(ctx context.Context, relatedID, processName, details, payload string) error
}

type Ledger interface {
	Append(ctx context.Context, subjectID, subjectType, status, notes string) error
}

// Sender is the ship-from side of every label, taken from configuration.
type Sender struct {
	Name       string
	Company    string
	Phone      string
	Address    string
	City       string
	Province   string
	PostalCode string
}

// Service creates carrier shipments for accepted orders. The shipment row is
// inserted before the carrier call: its unique order_id is the guard that
// stops a crashed run from buying a second label for the same order.
type Service struct {
	repo    Repository
	gateway carrier.Gateway
	ledger  Ledger
	sender  Sender

	carrierCode string
	labelDir    string
	maxAttempts int
	pause       time.Duration

	weightKg float64
	lengthCm int
	widthCm  int
	heightCm int
}

func New(repo Repository, gateway carrier.Gateway, ledger Ledger, sender Sender, carrierCode string) *Service {
	return &Service{
		repo:        repo,
		gateway:     gateway,
		ledger:      ledger,
		sender:      sender,
		carrierCode: carrierCode,
		labelDir:    "labels",
		maxAttempts: 3,
		pause:       60 * time.Second,
		weightKg:    1.8,
		lengthCm:    35,
		widthCm:     25,
		heightCm:    5,
	}
}

func (s *Service) WithSettings(maxAttempts int, pause time.Duration, labelDir string) *Service {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if pause >= 0 {
		s.pause = pause
	}
	if labelDir != "" {
		s.labelDir = labelDir
	}
	return s
}

func (s *Service) WithParcel(weightKg float64, lengthCm, widthCm, heightCm int) *Service {
	if weightKg > 0 {
		s.weightKg = weightKg
	}
	if lengthCm > 0 && widthCm > 0 && heightCm > 0 {
		s.lengthCm = lengthCm
		s.widthCm = widthCm
		s.heightCm = heightCm
	}
	return s
}

func (s *Service) Name() string { return "labels" }

func (s *Service) Run(ctx context.Context) error {
	orders, err := s.repo.ShippableOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "list shippable orders")
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.processOne(ctx, o); err != nil {
			slog.Error("create label", "order_id", o.OrderID, "error", err.Error())
		}
	}
	return nil
}

func (s *Service) processOne(ctx context.Context, o *models.Order) error {
	payload, err := o.Payload()
	if err != nil {
		return errors.Wrap(err, "decode order payload")
	}

	shipmentID, err := s.repo.CreateShipmentPlaceholder(ctx, o.OrderID, s.carrierCode)
	if err != nil {
		notes := fmt.Sprintf("Failed to create shipment record: %s", err)
		if aerr := s.ledger.Append(ctx, o.OrderID, models.SubjectTypeOrder, models.OrderStatusShippingFailed, notes); aerr != nil {
			return aerr
		}
		s.logFailure(ctx, o.OrderID, notes)
		return nil
	}

	req := s.buildRequest(o.OrderID, payload)

	res, label, err := s.createWithRetries(ctx, req)
	if err != nil {
		notes := fmt.Sprintf("Failed to create shipping label after %d attempts. Last error: %s", s.maxAttempts, err)
		if aerr := s.ledger.Append(ctx, o.OrderID, models.SubjectTypeOrder, models.OrderStatusShippingFailed, notes); aerr != nil {
			return aerr
		}
		s.logFailure(ctx, o.OrderID, notes)
		return nil
	}

	// The failsafes below catch a carrier response that belongs to a
	// different order. Such a label must never ship, so the failure is
	// terminal and not retried.
	if verr := s.validateContent(req, res, label); verr != nil {
		notes := "Shipping label created but content validation failed. Manual review required."
		if aerr := s.ledger.Append(ctx, o.OrderID, models.SubjectTypeOrder, models.OrderStatusShippingFailed, notes); aerr != nil {
			return aerr
		}
		s.logFailure(ctx, o.OrderID, fmt.Sprintf("%s Tracking PIN %s: %s", notes, res.TrackingID, verr))
		return nil
	}

	labelPath, err := s.saveLabel(o.OrderID, label)
	if err != nil {
		notes := fmt.Sprintf("Failed to save shipping label: %s", err)
		if aerr := s.ledger.Append(ctx, o.OrderID, models.SubjectTypeOrder, models.OrderStatusShippingFailed, notes); aerr != nil {
			return aerr
		}
		s.logFailure(ctx, o.OrderID, notes)
		return nil
	}

	if err := s.repo.UpdateShipmentLabelInfo(ctx, shipmentID, res.TrackingID, res.LabelURL, res.ShipmentURL, labelPath); err != nil {
		return errors.Wrap(err, "update shipment")
	}

	return s.ledger.Append(ctx, o.OrderID, models.SubjectTypeOrder, models.OrderStatusLabelCreated,
		fmt.Sprintf("Tracking PIN: %s", res.TrackingID))
}

func (s *Service) buildRequest(orderID string, payload models.OrderPayload) carrier.ShipmentRequest {
	addr := payload.Customer.ShippingAddress

	// The destination company field doubles as the pick instruction on the
	// label: quantity and SKU of the first order line.
	company := ""
	if len(payload.OrderLines) > 0 {
		company = fmt.Sprintf("%dx %s", payload.OrderLines[0].Quantity, payload.OrderLines[0].OfferSKU)
	}

	line1 := addr.Street1
	if addr.Street2 != "" {
		line1 = addr.Street1 + " " + addr.Street2
	}

	return carrier.ShipmentRequest{
		OrderID:            orderID,
		DestinationName:    strings.TrimSpace(addr.Firstname + " " + addr.Lastname),
		DestinationCompany: company,
		AddressLine1:       line1,
		City:               addr.City,
		Province:           addr.State,
		PostalCode:         addr.ZipCode,
		Phone:              addr.Phone,

		SenderName:       s.sender.Name,
		SenderCompany:    s.sender.Company,
		SenderPhone:      s.sender.Phone,
		SenderAddress:    s.sender.Address,
		SenderCity:       s.sender.City,
		SenderProvince:   s.sender.Province,
		SenderPostalCode: s.sender.PostalCode,

		WeightKg: s.weightKg,
		LengthCm: s.lengthCm,
		WidthCm:  s.widthCm,
		HeightCm: s.heightCm,
	}
}

func (s *Service) createWithRetries(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, s.pause); err != nil {
				return carrier.ShipmentResult{}, nil, err
			}
		}

		res, err := s.gateway.CreateShipment(ctx, req)
		if err != nil {
			lastErr = err
			slog.Warn("create shipment", "order_id", req.OrderID, "attempt", attempt, "err", err)
			continue
		}

		label, err := s.gateway.GetLabel(ctx, res.LabelURL)
		if err != nil {
			lastErr = err
			slog.Warn("download label", "order_id", req.OrderID, "attempt", attempt, "err", err)
			continue
		}

		return res, label, nil
	}
	return carrier.ShipmentResult{}, nil, lastErr
}

func (s *Service) validateContent(req carrier.ShipmentRequest, res carrier.ShipmentResult, label []byte) error {
	wantPostal := normalizePostal(req.PostalCode)
	gotPostal := normalizePostal(res.DestinationPostalCode)
	if wantPostal == "" || wantPostal != gotPostal {
		return fmt.Errorf("destination postal code %q does not match order %q", res.DestinationPostalCode, req.PostalCode)
	}

	wantName := strings.ToUpper(strings.TrimSpace(req.DestinationName))
	gotName := strings.ToUpper(res.DestinationName)
	if wantName == "" || !strings.Contains(gotName, wantName) {
		return fmt.Errorf("destination name %q does not match order %q", res.DestinationName, req.DestinationName)
	}

	if !isPDF(label) {
		return errors.New("label artifact is not a PDF")
	}
	if !pdfContains(label, res.TrackingID) {
		return fmt.Errorf("label does not contain tracking PIN %s", res.TrackingID)
	}
	return nil
}

func (s *Service) saveLabel(orderID string, label []byte) (string, error) {
	if err := os.MkdirAll(s.labelDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create label dir")
	}
	path := filepath.Join(s.labelDir, orderID+".pdf")
	if err := os.WriteFile(path, label, 0o644); err != nil {
		return "", errors.Wrap(err, "write label file")
	}
	return path, nil
}

func (s *Service) logFailure(ctx context.Context, orderID, details string) {
	if err := s.repo.LogProcessFailure(ctx, orderID, "shipping", details, ""); err != nil {
		slog.Warn("log process failure", "order_id", orderID, "err", err)
	}
}

func normalizePostal(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
