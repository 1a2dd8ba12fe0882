// Package config provides configuration structures and validation for the
// payment reconciliation engine. It handles environment-based configuration
// for the HTTP server, databases, the banking gateway, QR issuance and the
// reconciliation poller.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all
// components. Each field represents a major subsystem's configuration and is
// validated during application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Kafka       KafkaConfig
	Gateway     GatewayConfig
	Settlement  SettlementConfig
	Payment     PaymentConfig
	QRRenderer  QRRendererConfig
	Poller      PollerConfig
	Webhook     WebhookConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Minimum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// KafkaConfig contains Kafka configuration for the notification fan-out
type KafkaConfig struct {
	Brokers           string
	PaymentEventTopic string
	NumPartitions     int // Number of partitions for topic creation
	ReplicationFactor int // Replication factor for topic creation
	WriteTimeout      time.Duration
}

// GatewayConfig contains the banking gateway API configuration. Every call
// to the gateway is bounded by Timeout and retried with exponential backoff.
type GatewayConfig struct {
	BaseURL     string
	APIToken    string
	Timeout     time.Duration
	MaxRetries  uint64
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// SettlementConfig identifies the single settlement account payments are
// collected into.
type SettlementConfig struct {
	BankBIN       string // Bank identification number used by the QR renderer
	BankName      string
	AccountNumber string
	AccountName   string
}

// PaymentConfig contains the matching and validation parameters
type PaymentConfig struct {
	QRValidity      time.Duration // Validity window of an issued QR code
	AmountTolerance int64         // Accepted deviation in minor currency units
	ClockSkew       time.Duration // Allowance for transactions timestamped before issuance
}

// QRRendererConfig contains the external QR image service configuration
type QRRendererConfig struct {
	BaseURL     string
	MaxAttempts uint64
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// PollerConfig contains the reconciliation poller configuration
type PollerConfig struct {
	Interval       time.Duration // Time between reconciliation cycles
	Lookback       time.Duration // Gateway transaction window fetched each cycle
	WorkerPoolSize int           // Concurrent match workers per cycle
}

// WebhookConfig contains the inbound webhook configuration. The secret is
// deliberately not validated at startup: an unset secret rejects every
// webhook with a 500 at request time (fail closed).
type WebhookConfig struct {
	Secret string
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.PaymentEventTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_PAYMENT_EVENT_TOPIC is required")
	}
	if c.Kafka.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "KAFKA_WRITE_TIMEOUT must be greater than 0")
	}

	// Validate Gateway config
	if c.Gateway.BaseURL == "" {
		validationErrors = append(validationErrors, "GATEWAY_BASE_URL is required")
	}
	if c.Gateway.Timeout <= 0 {
		validationErrors = append(validationErrors, "GATEWAY_TIMEOUT must be greater than 0")
	}
	if c.Gateway.MaxRetries == 0 {
		validationErrors = append(validationErrors, "GATEWAY_MAX_RETRIES must be greater than 0")
	}
	if c.Gateway.BackoffBase <= 0 {
		validationErrors = append(validationErrors, "GATEWAY_BACKOFF_BASE must be greater than 0")
	}
	if c.Gateway.BackoffCap < c.Gateway.BackoffBase {
		validationErrors = append(validationErrors, "GATEWAY_BACKOFF_CAP must be at least GATEWAY_BACKOFF_BASE")
	}

	// Validate Settlement config
	if c.Settlement.BankBIN == "" {
		validationErrors = append(validationErrors, "SETTLEMENT_BANK_BIN is required")
	}
	if c.Settlement.AccountNumber == "" {
		validationErrors = append(validationErrors, "SETTLEMENT_ACCOUNT_NUMBER is required")
	}
	if c.Settlement.AccountName == "" {
		validationErrors = append(validationErrors, "SETTLEMENT_ACCOUNT_NAME is required")
	}

	// Validate Payment config
	if c.Payment.QRValidity <= 0 {
		validationErrors = append(validationErrors, "PAYMENT_QR_VALIDITY must be greater than 0")
	}
	if c.Payment.AmountTolerance < 0 {
		validationErrors = append(validationErrors, "PAYMENT_AMOUNT_TOLERANCE must not be negative")
	}
	if c.Payment.ClockSkew < 0 {
		validationErrors = append(validationErrors, "PAYMENT_CLOCK_SKEW must not be negative")
	}

	// Validate QR renderer config
	if c.QRRenderer.BaseURL == "" {
		validationErrors = append(validationErrors, "QR_RENDERER_BASE_URL is required")
	}
	if c.QRRenderer.MaxAttempts == 0 {
		validationErrors = append(validationErrors, "QR_RENDERER_MAX_ATTEMPTS must be greater than 0")
	}
	if c.QRRenderer.BackoffBase <= 0 {
		validationErrors = append(validationErrors, "QR_RENDERER_BACKOFF_BASE must be greater than 0")
	}

	// Validate Poller config
	if c.Poller.Interval <= 0 {
		validationErrors = append(validationErrors, "POLLER_INTERVAL must be greater than 0")
	}
	if c.Poller.Lookback < c.Payment.QRValidity {
		validationErrors = append(validationErrors, "POLLER_LOOKBACK must be at least PAYMENT_QR_VALIDITY")
	}
	if c.Poller.WorkerPoolSize <= 0 {
		validationErrors = append(validationErrors, "POLLER_WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
