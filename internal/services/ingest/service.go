package ingest

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/visionvation/fulfillment/internal/integrations/marketplace"
	"github.com/visionvation/fulfillment/internal/models"
)

type Repository interface {
	UpsertOrders(ctx context.Context, orders []models.Order) ([]string, error)
}

type Ledger interface {
	Append(ctx context.Context, subjectID, subjectType, status, notes string) error
}

// Service imports new marketplace orders. Re-imports are no-ops: the insert
// skips existing order ids and only freshly inserted orders get a ledger
// row.
type Service struct {
	repo   Repository
	mkt    marketplace.Client
	ledger Ledger

	stateCodes []string
}

func New(repo Repository, mkt marketplace.Client, ledger Ledger, stateCodes []string) *Service {
	if len(stateCodes) == 0 {
		stateCodes = []string{"WAITING_ACCEPTANCE"}
	}
	return &Service{repo: repo, mkt: mkt, ledger: ledger, stateCodes: stateCodes}
}

func (s *Service) Name() string { return "ingest" }

func (s *Service) Run(ctx context.Context) error {
	summaries, err := s.mkt.ListOrders(ctx, s.stateCodes)
	if err != nil {
		return errors.Wrap(err, "list marketplace orders")
	}
	if len(summaries) == 0 {
		return nil
	}

	orders := make([]models.Order, 0, len(summaries))
	for _, o := range summaries {
		orders = append(orders, models.Order{OrderID: o.OrderID, RawPayload: o.Raw})
	}

	inserted, err := s.repo.UpsertOrders(ctx, orders)
	if err != nil {
		return errors.Wrap(err, "upsert orders")
	}

	for _, id := range inserted {
		if err := s.ledger.Append(ctx, id, models.SubjectTypeOrder, models.OrderStatusPendingAcceptance, "Imported from the marketplace."); err != nil {
			slog.Error("append pending status", "order_id", id, "error", err.Error())
		}
	}

	if len(inserted) > 0 {
		slog.Info("orders imported", "count", len(inserted))
	}
	return nil
}
