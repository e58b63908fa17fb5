package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	StatusChangedTopicName string `yaml:"status_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FulfillmentConfig struct {
	RunnerHTTPAddr           string `yaml:"runner_http_addr"`
	SchedulerIntervalMinutes int    `yaml:"scheduler_interval_minutes"`
	CurrentStatusTTLSeconds  int    `yaml:"current_status_ttl_seconds"`

	AcceptanceMaxAttempts        int    `yaml:"acceptance_max_attempts"`
	AcceptanceValidationPauseSec int    `yaml:"acceptance_validation_pause_seconds"`
	LabelMaxAttempts             int    `yaml:"label_max_attempts"`
	LabelRetryPauseSec           int    `yaml:"label_retry_pause_seconds"`
	LabelDir                     string `yaml:"label_dir"`

	Parcel ParcelConfig `yaml:"parcel"`

	CancelSweepDays          int `yaml:"cancel_sweep_days"`
	CancelRateLimitPerMinute int `yaml:"cancel_rate_limit_per_minute"`

	IngestStateCodes string `yaml:"ingest_state_codes"`

	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Carrier     CarrierConfig     `yaml:"carrier"`
	Sender      SenderConfig      `yaml:"sender"`
}

// ParcelConfig is the declared package size for every shipment. Zero values
// fall back to the stage defaults.
type ParcelConfig struct {
	WeightKg float64 `yaml:"weight_kg"`
	LengthCm int     `yaml:"length_cm"`
	WidthCm  int     `yaml:"width_cm"`
	HeightCm int     `yaml:"height_cm"`
}

type MarketplaceConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// CarrierConfig selects and configures the carrier gateway. Code is
// "canada_post" or "fake".
type CarrierConfig struct {
	Code           string `yaml:"code"`
	BaseURL        string `yaml:"base_url"`
	TrackingURL    string `yaml:"tracking_url"`
	APIUser        string `yaml:"api_user"`
	APIPassword    string `yaml:"api_password"`
	CustomerNumber string `yaml:"customer_number"`
	ContractID     string `yaml:"contract_id"`
	PaidByCustomer string `yaml:"paid_by_customer"`
	RefundEmail    string `yaml:"refund_email"`
}

// SenderConfig is the ship-from address stamped on every label. It is
// injected into the payload builder, never hardcoded in stage logic.
type SenderConfig struct {
	Name       string `yaml:"name"`
	Company    string `yaml:"company"`
	Phone      string `yaml:"phone"`
	Address    string `yaml:"address"`
	City       string `yaml:"city"`
	Province   string `yaml:"province"`
	PostalCode string `yaml:"postal_code"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
