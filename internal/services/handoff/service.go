package handoff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/visionvation/fulfillment/internal/integrations/marketplace"
	"github.com/visionvation/fulfillment/internal/models"
)

type Repository interface {
	ShipmentsAwaitingHandoff(ctx context.Context) ([]*models.Shipment, error)
	LogProcessFailure(ctx context.Context, relatedID, processName, details, payload string) error
}

type Ledger interface {
	Append(ctx context.Context, subjectID, subjectType, status, notes string) error
}

// Service pushes tracking numbers back to the marketplace and marks orders
// shipped. Neither call is retried: both mutate marketplace state, and a
// partial success (tracking set, ship flag not) must stay visible for manual
// remediation rather than be retried blindly.
type Service struct {
	repo   Repository
	mkt    marketplace.Client
	ledger Ledger

	carrierCode string
}

func New(repo Repository, mkt marketplace.Client, ledger Ledger, carrierCode string) *Service {
	if carrierCode == "" {
		carrierCode = "CPCL"
	}
	return &Service{repo: repo, mkt: mkt, ledger: ledger, carrierCode: carrierCode}
}

func (s *Service) Name() string { return "handoff" }

func (s *Service) Run(ctx context.Context) error {
	shipments, err := s.repo.ShipmentsAwaitingHandoff(ctx)
	if err != nil {
		return errors.Wrap(err, "list shipments awaiting handoff")
	}

	for _, sh := range shipments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.processOne(ctx, sh); err != nil {
			slog.Error("hand off tracking", "order_id", sh.OrderID, "error", err.Error())
		}
	}
	return nil
}

func (s *Service) processOne(ctx context.Context, sh *models.Shipment) error {
	if sh.TrackingID == nil || *sh.TrackingID == "" {
		return errors.New("shipment has no tracking id")
	}
	pin := *sh.TrackingID

	if err := s.mkt.UpdateTracking(ctx, sh.OrderID, s.carrierCode, pin); err != nil {
		notes := fmt.Sprintf("Failed to update tracking PIN on the marketplace: %s", err)
		if aerr := s.ledger.Append(ctx, sh.OrderID, models.SubjectTypeOrder, models.OrderStatusTrackingFailed, notes); aerr != nil {
			return aerr
		}
		s.logFailure(ctx, sh.OrderID, notes)
		return nil
	}

	if err := s.mkt.MarkShipped(ctx, sh.OrderID); err != nil {
		notes := fmt.Sprintf("Succeeded in updating tracking PIN, but failed to mark order as shipped. Manual intervention required. Error: %s", err)
		if aerr := s.ledger.Append(ctx, sh.OrderID, models.SubjectTypeOrder, models.OrderStatusTrackingFailed, notes); aerr != nil {
			return aerr
		}
		s.logFailure(ctx, sh.OrderID, notes)
		return nil
	}

	return s.ledger.Append(ctx, sh.OrderID, models.SubjectTypeOrder, models.OrderStatusShipped, "")
}

func (s *Service) logFailure(ctx context.Context, orderID, details string) {
	if err := s.repo.LogProcessFailure(ctx, orderID, "tracking", details, ""); err != nil {
		slog.Warn("log process failure", "order_id", orderID, "err", err)
	}
}
