package acceptance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/visionvation/fulfillment/internal/integrations/marketplace"
	"github.com/visionvation/fulfillment/internal/models"
)

// Marketplace states that confirm the acceptance went through.
const (
	stateWaitingDebit = "WAITING_DEBIT_PAYMENT"
	stateShipping     = "SHIPPING"
	stateCancelled    = "CANCELLED"
)

type Repository interface {
	OrdersWithCurrentStatus(ctx context.Context, status string) ([]*models.Order, error)
	LogProcessFailure(ctx context.Context, relatedID, processName, details, payload string) error
}

type Ledger interface {
	Append(ctx context.Context, subjectID, subjectType, status, notes string) error
}

// Service accepts pending orders on the marketplace and validates that the
// acceptance actually took. The accept call itself is never retried: the
// marketplace treats a duplicate acceptance as an error, so a failed call is
// a terminal acceptance_failed.
type Service struct {
	repo   Repository
	mkt    marketplace.Client
	ledger Ledger

	maxAttempts int
	pause       time.Duration
}

func New(repo Repository, mkt marketplace.Client, ledger Ledger) *Service {
	return &Service{
		repo:        repo,
		mkt:         mkt,
		ledger:      ledger,
		maxAttempts: 3,
		pause:       60 * time.Second,
	}
}

func (s *Service) WithSettings(maxAttempts int, pause time.Duration) *Service {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if pause >= 0 {
		s.pause = pause
	}
	return s
}

func (s *Service) Name() string { return "acceptance" }

func (s *Service) Run(ctx context.Context) error {
	orders, err := s.repo.OrdersWithCurrentStatus(ctx, models.OrderStatusPendingAcceptance)
	if err != nil {
		return errors.Wrap(err, "list pending orders")
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.processOne(ctx, o); err != nil {
			slog.Error("accept order", "order_id", o.OrderID, "error", err.Error())
		}
	}
	return nil
}

func (s *Service) processOne(ctx context.Context, o *models.Order) error {
	payload, err := o.Payload()
	if err != nil {
		return errors.Wrap(err, "decode order payload")
	}

	lines := make([]marketplace.OrderLineAcceptance, 0, len(payload.OrderLines))
	for _, l := range payload.OrderLines {
		lines = append(lines, marketplace.OrderLineAcceptance{Accepted: true, ID: l.OrderLineID})
	}

	if err := s.mkt.AcceptOrder(ctx, o.OrderID, lines); err != nil {
		notes := fmt.Sprintf("Acceptance call failed: %s", err)
		if aerr := s.ledger.Append(ctx, o.OrderID, models.SubjectTypeOrder, models.OrderStatusAcceptanceFailed, notes); aerr != nil {
			return aerr
		}
		if ferr := s.repo.LogProcessFailure(ctx, o.OrderID, "acceptance", notes, ""); ferr != nil {
			slog.Warn("log process failure", "order_id", o.OrderID, "err", ferr)
		}
		return nil
	}

	return s.validate(ctx, o.OrderID)
}

// validate polls the marketplace until it reports a post-acceptance state.
// The marketplace settles asynchronously, so each poll is preceded by a
// pause.
func (s *Service) validate(ctx context.Context, orderID string) error {
	lastState := "unknown"

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := sleep(ctx, s.pause); err != nil {
			return err
		}

		state, err := s.mkt.GetOrderState(ctx, orderID)
		if err != nil {
			slog.Warn("poll order state", "order_id", orderID, "attempt", attempt, "err", err)
			continue
		}
		lastState = state

		switch state {
		case stateWaitingDebit, stateShipping:
			return s.ledger.Append(ctx, orderID, models.SubjectTypeOrder, models.OrderStatusAccepted,
				fmt.Sprintf("Validated as '%s'.", state))
		case stateCancelled:
			return s.ledger.Append(ctx, orderID, models.SubjectTypeOrder, models.OrderStatusCancelled,
				"Order was cancelled on the marketplace during validation.")
		}
	}

	notes := fmt.Sprintf("Validation failed after %d attempts. Final status was '%s'.", s.maxAttempts, lastState)
	if err := s.ledger.Append(ctx, orderID, models.SubjectTypeOrder, models.OrderStatusAcceptanceFailed, notes); err != nil {
		return err
	}
	if err := s.repo.LogProcessFailure(ctx, orderID, "acceptance", notes, ""); err != nil {
		slog.Warn("log process failure", "order_id", orderID, "err", err)
	}
	return nil
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
