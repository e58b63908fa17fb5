package cancellation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/visionvation/fulfillment/internal/integrations/carrier"
	"github.com/visionvation/fulfillment/internal/models"
)

type Repository interface {
	RecentShipmentsForSweep(ctx context.Context, days int) ([]*models.Shipment, error)
	ShipmentByID(ctx context.Context, shipmentID uint64) (*models.Shipment, error)
	ShipmentByTrackingID(ctx context.Context, trackingID string) (*models.Shipment, error)
	ShipmentsByOrderID(ctx context.Context, orderID string) ([]*models.Shipment, error)
	LogProcessFailure(ctx context.Context, relatedID, processName, details, payload string) error
}

type Ledger interface {
	Append(ctx context.Context, subjectID, subjectType, status, notes string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// errRateLimited stops a sweep when the tracking budget for the current
// minute is spent. The remaining shipments wait for the next cycle.
var errRateLimited = errors.New("tracking rate limit exhausted")

// Service cancels shipments that are stuck at the carrier. Voiding only
// works before the parcel enters the carrier network; once the carrier
// reports the shipment as transmitted, the money is recovered through a
// refund request instead.
type Service struct {
	repo    Repository
	gateway carrier.Gateway
	ledger  Ledger
	rl      RateLimiter

	refundEmail   string
	sweepDays     int
	ratePerMinute int64
}

func New(repo Repository, gateway carrier.Gateway, ledger Ledger, rl RateLimiter, refundEmail string) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		ledger:        ledger,
		rl:            rl,
		refundEmail:   refundEmail,
		sweepDays:     30,
		ratePerMinute: 60,
	}
}

func (s *Service) WithSettings(sweepDays int, ratePerMinute int64) *Service {
	if sweepDays > 0 {
		s.sweepDays = sweepDays
	}
	if ratePerMinute > 0 {
		s.ratePerMinute = ratePerMinute
	}
	return s
}

func (s *Service) Name() string { return "cancellation" }

// Run sweeps recent shipments and cancels the ones whose tracking history
// says they will not move.
func (s *Service) Run(ctx context.Context) error {
	shipments, err := s.repo.RecentShipmentsForSweep(ctx, s.sweepDays)
	if err != nil {
		return errors.Wrap(err, "list shipments for sweep")
	}

	for _, sh := range shipments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.sweepOne(ctx, sh); err != nil {
			if errors.Is(err, errRateLimited) {
				slog.Warn("tracking rate limit exhausted, deferring rest of sweep", "shipment_id", sh.ShipmentID)
				return nil
			}
			slog.Error("sweep shipment", "shipment_id", sh.ShipmentID, "error", err.Error())
		}
	}
	return nil
}

func (s *Service) sweepOne(ctx context.Context, sh *models.Shipment) error {
	if sh.TrackingID == nil || *sh.TrackingID == "" {
		return nil
	}

	if s.rl != nil && s.ratePerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:carrier:tracking:%s", time.Now().UTC().Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.ratePerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			return errors.Wrapf(errRateLimited, "%d calls this minute", n)
		}
	}

	events, err := s.gateway.GetTrackingEvents(ctx, *sh.TrackingID)
	if err != nil {
		return errors.Wrap(err, "get tracking events")
	}

	ok, reason := cancellable(events)
	if !ok {
		return nil
	}
	return s.Cancel(ctx, sh, reason)
}

// cancellable decides from the tracking history whether a shipment is worth
// cancelling: either the carrier has flagged a delay, or nothing has
// happened since label creation.
func cancellable(events []carrier.TrackingEvent) (bool, string) {
	for _, e := range events {
		if strings.Contains(strings.ToLower(e.Description), "delay") {
			return true, fmt.Sprintf("Carrier reported a delay: %s", e.Description)
		}
	}
	if len(events) == 1 {
		d := strings.ToLower(events[0].Description)
		if strings.Contains(d, "label") && strings.Contains(d, "created") {
			return true, "No movement since label creation."
		}
	}
	return false, ""
}

// Cancel voids the shipment at the carrier, falling back to a refund
// request when the shipment has already been transmitted.
func (s *Service) Cancel(ctx context.Context, sh *models.Shipment, reason string) error {
	shipmentURL, err := shipmentURLOf(sh)
	if err != nil {
		return err
	}
	subjectID := strconv.FormatUint(sh.ShipmentID, 10)

	verr := s.gateway.VoidShipment(ctx, shipmentURL)
	switch {
	case verr == nil:
		notes := fmt.Sprintf("Shipment voided. %s", reason)
		if err := s.ledger.Append(ctx, subjectID, models.SubjectTypeShipment, models.ShipmentStatusCancelled, notes); err != nil {
			return err
		}
		return s.ledger.Append(ctx, sh.OrderID, models.SubjectTypeOrder, models.OrderStatusShipmentCancelled, notes)

	case errors.Is(verr, carrier.ErrShipmentTransmitted):
		res, rerr := s.gateway.RequestRefund(ctx, shipmentURL, s.refundEmail)
		if rerr != nil {
			notes := fmt.Sprintf("Void reported shipment as transmitted and refund request failed: %s", rerr)
			if err := s.ledger.Append(ctx, subjectID, models.SubjectTypeShipment, models.ShipmentStatusCancellationFailed, notes); err != nil {
				return err
			}
			s.logFailure(ctx, sh.OrderID, notes)
			return nil
		}
		notes := fmt.Sprintf("Refund requested. Service Ticket ID: %s", res.ServiceTicketID)
		if err := s.ledger.Append(ctx, subjectID, models.SubjectTypeShipment, models.ShipmentStatusRefundRequested, notes); err != nil {
			return err
		}
		return s.ledger.Append(ctx, sh.OrderID, models.SubjectTypeOrder, models.OrderStatusRefundRequested, notes)

	default:
		notes := fmt.Sprintf("Void failed: %s", verr)
		if err := s.ledger.Append(ctx, subjectID, models.SubjectTypeShipment, models.ShipmentStatusCancellationFailed, notes); err != nil {
			return err
		}
		s.logFailure(ctx, sh.OrderID, notes)
		return nil
	}
}

// CancelByShipmentID cancels one shipment on operator request, skipping the
// tracking-history check.
func (s *Service) CancelByShipmentID(ctx context.Context, shipmentID uint64) error {
	sh, err := s.repo.ShipmentByID(ctx, shipmentID)
	if err != nil {
		return err
	}
	return s.Cancel(ctx, sh, "Requested by operator.")
}

func (s *Service) CancelByTrackingID(ctx context.Context, trackingID string) error {
	sh, err := s.repo.ShipmentByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	return s.Cancel(ctx, sh, "Requested by operator.")
}

func (s *Service) CancelByOrderID(ctx context.Context, orderID string) error {
	shipments, err := s.repo.ShipmentsByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if len(shipments) == 0 {
		return fmt.Errorf("no shipments for order %s", orderID)
	}
	for _, sh := range shipments {
		if err := s.Cancel(ctx, sh, "Requested by operator."); err != nil {
			return err
		}
	}
	return nil
}

// shipmentURLOf prefers the stored shipment URL and falls back to deriving
// it from the label URL, which hangs off the shipment resource.
func shipmentURLOf(sh *models.Shipment) (string, error) {
	if sh.ShipmentURL != nil && *sh.ShipmentURL != "" {
		return *sh.ShipmentURL, nil
	}
	if sh.LabelURL != nil && strings.Contains(*sh.LabelURL, "/label") {
		return strings.Split(*sh.LabelURL, "/label")[0], nil
	}
	return "", fmt.Errorf("shipment %d has no shipment url", sh.ShipmentID)
}

func (s *Service) logFailure(ctx context.Context, orderID, details string) {
	if err := s.repo.LogProcessFailure(ctx, orderID, "cancellation", details, ""); err != nil {
		slog.Warn("log process failure", "order_id", orderID, "err", err)
	}
}
