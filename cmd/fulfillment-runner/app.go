package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/visionvation/fulfillment/config"
	"github.com/visionvation/fulfillment/internal/broker/kafka"
	"github.com/visionvation/fulfillment/internal/cache"
	"github.com/visionvation/fulfillment/internal/cache/rediscache"
	"github.com/visionvation/fulfillment/internal/integrations/carrier"
	"github.com/visionvation/fulfillment/internal/integrations/carrier/canadaposthttp"
	"github.com/visionvation/fulfillment/internal/integrations/carrier/fake"
	"github.com/visionvation/fulfillment/internal/integrations/marketplace"
	"github.com/visionvation/fulfillment/internal/integrations/marketplace/bestbuyhttp"
	"github.com/visionvation/fulfillment/internal/models"
	"github.com/visionvation/fulfillment/internal/services/acceptance"
	"github.com/visionvation/fulfillment/internal/services/cancellation"
	"github.com/visionvation/fulfillment/internal/services/handoff"
	"github.com/visionvation/fulfillment/internal/services/ingest"
	"github.com/visionvation/fulfillment/internal/services/labels"
	"github.com/visionvation/fulfillment/internal/services/ledger"
	"github.com/visionvation/fulfillment/internal/services/pipeline"
	"github.com/visionvation/fulfillment/internal/storage/pgfulfillment"
)

// fulfillmentStorage is everything the stages need from postgres. The pgx
// storage satisfies it; tests swap in fakes.
type fulfillmentStorage interface {
	AppendStatus(ctx context.Context, subjectID, subjectType, status, notes string) error
	CurrentStatus(ctx context.Context, subjectID, subjectType string) (string, error)
	ListStatusEvents(ctx context.Context, subjectID, subjectType string) ([]*models.StatusEvent, error)
	UpsertOrders(ctx context.Context, orders []models.Order) ([]string, error)
	OrdersWithCurrentStatus(ctx context.Context, status string) ([]*models.Order, error)
	ShippableOrders(ctx context.Context) ([]*models.Order, error)
	CreateShipmentPlaceholder(ctx context.Context, orderID, carrierCode string) (uint64, error)
	UpdateShipmentLabelInfo(ctx context.Context, shipmentID uint64, trackingID, labelURL, shipmentURL, labelPath string) error
	ShipmentsAwaitingHandoff(ctx context.Context) ([]*models.Shipment, error)
	RecentShipmentsForSweep(ctx context.Context, days int) ([]*models.Shipment, error)
	ShipmentByID(ctx context.Context, shipmentID uint64) (*models.Shipment, error)
	ShipmentByTrackingID(ctx context.Context, trackingID string) (*models.Shipment, error)
	ShipmentsByOrderID(ctx context.Context, orderID string) ([]*models.Shipment, error)
	LogAPICall(ctx context.Context, service, endpoint, relatedID, requestPayload, responseBody string, statusCode int, isSuccess bool) error
	LogProcessFailure(ctx context.Context, relatedID, processName, details, payload string) error
}

type runnerFactories struct {
	newStorage     func(cfg *config.Config) (fulfillmentStorage, func(), error)
	newProducer    func(cfg *config.Config) ledger.Producer
	newCache       func(cfg *config.Config) cache.BytesCache
	newRateLimiter func(cfg *config.Config) cancellation.RateLimiter
	newCarrier     func(cfg *config.Config, st fulfillmentStorage) carrier.Gateway
	newMarketplace func(cfg *config.Config, st fulfillmentStorage) marketplace.Client
}

func defaultRunnerFactories() runnerFactories {
	return runnerFactories{
		newStorage: func(cfg *config.Config) (fulfillmentStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgfulfillment.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) ledger.Producer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newRateLimiter: func(cfg *config.Config) cancellation.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.NewRateLimiter(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newCarrier: func(cfg *config.Config, st fulfillmentStorage) carrier.Gateway {
			c := cfg.Fulfillment.Carrier
			if c.Code == "canada_post" && c.BaseURL != "" {
				return canadaposthttp.New(c.BaseURL, c.TrackingURL, c.APIUser, c.APIPassword,
					c.CustomerNumber, c.ContractID, c.PaidByCustomer, st)
			}
			return fake.New()
		},
		newMarketplace: func(cfg *config.Config, st fulfillmentStorage) marketplace.Client {
			m := cfg.Fulfillment.Marketplace
			return bestbuyhttp.New(m.BaseURL, m.APIKey, st)
		},
	}
}

type app struct {
	pipeline *pipeline.Pipeline
	ledger   *ledger.Service
	cancel   *cancellation.Service
	closeFn  func()
}

func buildApp(cfg *config.Config, f runnerFactories) (*app, error) {
	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, err
	}

	fc := cfg.Fulfillment

	topic := cfg.Kafka.StatusChangedTopicName
	if topic == "" {
		topic = "fulfillment.status.changed"
	}
	ttl := time.Duration(fc.CurrentStatusTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	led := ledger.New(st, f.newProducer(cfg), topic, f.newCache(cfg), ttl)
	mkt := f.newMarketplace(cfg, st)
	gw := f.newCarrier(cfg, st)

	var stateCodes []string
	if fc.IngestStateCodes != "" {
		stateCodes = strings.Split(fc.IngestStateCodes, ",")
	}

	acceptSvc := acceptance.New(st, mkt, led).
		WithSettings(fc.AcceptanceMaxAttempts, time.Duration(fc.AcceptanceValidationPauseSec)*time.Second)

	sender := labels.Sender{
		Name:       fc.Sender.Name,
		Company:    fc.Sender.Company,
		Phone:      fc.Sender.Phone,
		Address:    fc.Sender.Address,
		City:       fc.Sender.City,
		Province:   fc.Sender.Province,
		PostalCode: fc.Sender.PostalCode,
	}
	labelSvc := labels.New(st, gw, led, sender, fc.Carrier.Code).
		WithSettings(fc.LabelMaxAttempts, time.Duration(fc.LabelRetryPauseSec)*time.Second, fc.LabelDir).
		WithParcel(fc.Parcel.WeightKg, fc.Parcel.LengthCm, fc.Parcel.WidthCm, fc.Parcel.HeightCm)

	cancelSvc := cancellation.New(st, gw, led, f.newRateLimiter(cfg), fc.Carrier.RefundEmail).
		WithSettings(fc.CancelSweepDays, int64(fc.CancelRateLimitPerMinute))

	pl := pipeline.New(
		ingest.New(st, mkt, led, stateCodes),
		acceptSvc,
		labelSvc,
		handoff.New(st, mkt, led, ""),
		cancelSvc,
	)

	return &app{pipeline: pl, ledger: led, cancel: cancelSvc, closeFn: closeFn}, nil
}

func RunFulfillmentRunner(ctx context.Context, cfg *config.Config, f runnerFactories) error {
	a, err := buildApp(cfg, f)
	if err != nil {
		return err
	}
	if a.closeFn != nil {
		defer a.closeFn()
	}

	interval := cfg.Fulfillment.SchedulerIntervalMinutes
	if interval <= 0 {
		interval = 15
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %dm", interval), func() {
		a.pipeline.RunOnce(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	// First cycle runs immediately rather than waiting out the interval.
	go a.pipeline.RunOnce(ctx)

	return runRunnerHTTPServer(ctx, runnerHTTPOpts{
		httpAddr: cfg.Fulfillment.RunnerHTTPAddr,
		pipeline: a.pipeline,
		statuses: a.ledger,
		cfg:      cfg,
	})
}
