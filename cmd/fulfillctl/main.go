package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/visionvation/fulfillment/config"
	"github.com/visionvation/fulfillment/internal/broker/kafka"
	"github.com/visionvation/fulfillment/internal/cache"
	"github.com/visionvation/fulfillment/internal/cache/rediscache"
	"github.com/visionvation/fulfillment/internal/integrations/carrier"
	"github.com/visionvation/fulfillment/internal/integrations/carrier/canadaposthttp"
	"github.com/visionvation/fulfillment/internal/integrations/carrier/fake"
	"github.com/visionvation/fulfillment/internal/integrations/marketplace/bestbuyhttp"
	"github.com/visionvation/fulfillment/internal/models"
	"github.com/visionvation/fulfillment/internal/services/acceptance"
	"github.com/visionvation/fulfillment/internal/services/cancellation"
	"github.com/visionvation/fulfillment/internal/services/handoff"
	"github.com/visionvation/fulfillment/internal/services/ingest"
	"github.com/visionvation/fulfillment/internal/services/labels"
	"github.com/visionvation/fulfillment/internal/services/ledger"
	"github.com/visionvation/fulfillment/internal/storage/pgfulfillment"
)

// fulfillctl runs a single pipeline stage and exits. Per-order failures are
// recorded in the ledger, not reflected in the exit code; a non-zero exit
// means the stage itself could not run.
func main() {
	stage := flag.String("stage", "", "stage to run: ingest, accept, ship, track, cancel or status")
	orderID := flag.String("order-id", "", "order to cancel (stage cancel) or look up (stage status)")
	shipmentID := flag.Uint64("shipment-id", 0, "cancel this shipment (stage cancel)")
	trackingID := flag.String("tracking", "", "cancel the shipment with this tracking PIN (stage cancel)")
	flag.Parse()

	if *stage == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		slog.Error("load config", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runStage(ctx, cfg, *stage, *orderID, *shipmentID, *trackingID); err != nil {
		slog.Error("stage failed", "stage", *stage, "error", err.Error())
		os.Exit(1)
	}
}

func runStage(ctx context.Context, cfg *config.Config, stage, orderID string, shipmentID uint64, trackingID string) error {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st, err := pgfulfillment.New(connString)
	if err != nil {
		return err
	}
	defer st.Close()

	fc := cfg.Fulfillment

	var producer ledger.Producer
	if cfg.Kafka.Host != "" {
		producer = kafka.NewProducer([]string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)})
	}
	var bc cache.BytesCache
	var rl cancellation.RateLimiter
	if cfg.Redis.Host != "" {
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		bc = rediscache.New(redisAddr)
		rl = rediscache.NewRateLimiter(redisAddr)
	}

	topic := cfg.Kafka.StatusChangedTopicName
	if topic == "" {
		topic = "fulfillment.status.changed"
	}
	ttl := time.Duration(fc.CurrentStatusTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	led := ledger.New(st, producer, topic, bc, ttl)

	mkt := bestbuyhttp.New(fc.Marketplace.BaseURL, fc.Marketplace.APIKey, st)

	var gw carrier.Gateway
	if fc.Carrier.Code == "canada_post" && fc.Carrier.BaseURL != "" {
		c := fc.Carrier
		gw = canadaposthttp.New(c.BaseURL, c.TrackingURL, c.APIUser, c.APIPassword,
			c.CustomerNumber, c.ContractID, c.PaidByCustomer, st)
	} else {
		gw = fake.New()
	}

	switch stage {
	case "ingest":
		var stateCodes []string
		if fc.IngestStateCodes != "" {
			stateCodes = strings.Split(fc.IngestStateCodes, ",")
		}
		return ingest.New(st, mkt, led, stateCodes).Run(ctx)

	case "accept":
		return acceptance.New(st, mkt, led).
			WithSettings(fc.AcceptanceMaxAttempts, time.Duration(fc.AcceptanceValidationPauseSec)*time.Second).
			Run(ctx)

	case "ship":
		sender := labels.Sender{
			Name:       fc.Sender.Name,
			Company:    fc.Sender.Company,
			Phone:      fc.Sender.Phone,
			Address:    fc.Sender.Address,
			City:       fc.Sender.City,
			Province:   fc.Sender.Province,
			PostalCode: fc.Sender.PostalCode,
		}
		return labels.New(st, gw, led, sender, fc.Carrier.Code).
			WithSettings(fc.LabelMaxAttempts, time.Duration(fc.LabelRetryPauseSec)*time.Second, fc.LabelDir).
			WithParcel(fc.Parcel.WeightKg, fc.Parcel.LengthCm, fc.Parcel.WidthCm, fc.Parcel.HeightCm).
			Run(ctx)

	case "track":
		return handoff.New(st, mkt, led, "").Run(ctx)

	case "status":
		if orderID == "" {
			return fmt.Errorf("stage status requires -order-id")
		}
		status, err := led.CurrentStatus(ctx, orderID, models.SubjectTypeOrder)
		if err != nil {
			return err
		}
		if status == "" {
			return fmt.Errorf("order %s has no status history", orderID)
		}
		fmt.Printf("%s\t%s\n", orderID, status)
		events, err := led.History(ctx, orderID, models.SubjectTypeOrder)
		if err != nil {
			return err
		}
		for _, e := range events {
			notes := ""
			if e.Notes != nil {
				notes = *e.Notes
			}
			fmt.Printf("%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Status, notes)
		}
		calls, err := st.APICallsByRelatedID(ctx, orderID)
		if err != nil {
			return err
		}
		for _, c := range calls {
			fmt.Printf("%s\t%s %s\t%d\tsuccess=%t\n", c.CreatedAt.Format(time.RFC3339), c.Service, c.Endpoint, c.StatusCode, c.IsSuccess)
		}
		return nil

	case "cancel":
		svc := cancellation.New(st, gw, led, rl, fc.Carrier.RefundEmail).
			WithSettings(fc.CancelSweepDays, int64(fc.CancelRateLimitPerMinute))
		switch {
		case shipmentID != 0:
			return svc.CancelByShipmentID(ctx, shipmentID)
		case trackingID != "":
			return svc.CancelByTrackingID(ctx, trackingID)
		case orderID != "":
			return svc.CancelByOrderID(ctx, orderID)
		default:
			return svc.Run(ctx)
		}

	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}
