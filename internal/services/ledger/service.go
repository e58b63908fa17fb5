package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/visionvation/fulfillment/internal/broker/messages"
	"github.com/visionvation/fulfillment/internal/cache"
	"github.com/visionvation/fulfillment/internal/models"
)

type Repository interface {
	AppendStatus(ctx context.Context, subjectID, subjectType, status, notes string) error
	CurrentStatus(ctx context.Context, subjectID, subjectType string) (string, error)
	ListStatusEvents(ctx context.Context, subjectID, subjectType string) ([]*models.StatusEvent, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service is the single write path into the status ledger. The ledger row is
// the source of truth; the kafka event and the redis cache refresh are
// best-effort side effects and never fail an append.
type Service struct {
	repo       Repository
	producer   Producer
	topic      string
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, producer Producer, topic string, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, producer: producer, topic: topic, cache: c, currentTTL: currentTTL}
}

func (s *Service) Append(ctx context.Context, subjectID, subjectType, status, notes string) error {
	if subjectID == "" {
		return errors.New("subjectId is required")
	}
	if status == "" {
		return errors.New("status is required")
	}

	if err := s.repo.AppendStatus(ctx, subjectID, subjectType, status, notes); err != nil {
		return errors.Wrap(err, "append status")
	}

	if s.producer != nil && s.topic != "" {
		msg := messages.StatusChanged{
			SubjectID:   subjectID,
			SubjectType: subjectType,
			Status:      status,
			Notes:       notes,
			ChangedAt:   time.Now().UTC(),
		}
		b, err := json.Marshal(msg)
		if err == nil {
			if err := s.producer.Publish(ctx, s.topic, []byte(subjectType+":"+subjectID), b); err != nil {
				slog.Warn("publish status change", "subject_id", subjectID, "status", status, "err", err)
			}
		}
	}

	if s.cache != nil && s.currentTTL > 0 {
		if err := s.cache.Set(ctx, currentKey(subjectID, subjectType), []byte(status), s.currentTTL); err != nil {
			slog.Warn("refresh status cache", "subject_id", subjectID, "err", err)
		}
	}

	return nil
}

// CurrentStatus returns the latest ledger status for the subject, or "" when
// the subject has no ledger rows yet.
func (s *Service) CurrentStatus(ctx context.Context, subjectID, subjectType string) (string, error) {
	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(subjectID, subjectType)); err == nil && ok {
			return string(b), nil
		}
	}

	status, err := s.repo.CurrentStatus(ctx, subjectID, subjectType)
	if err != nil {
		return "", err
	}
	if s.cache != nil && s.currentTTL > 0 && status != "" {
		_ = s.cache.Set(ctx, currentKey(subjectID, subjectType), []byte(status), s.currentTTL)
	}
	return status, nil
}

func (s *Service) History(ctx context.Context, subjectID, subjectType string) ([]*models.StatusEvent, error) {
	return s.repo.ListStatusEvents(ctx, subjectID, subjectType)
}

func currentKey(subjectID, subjectType string) string {
	return fmt.Sprintf("fulfillment:%s:%s:current", subjectType, subjectID)
}
