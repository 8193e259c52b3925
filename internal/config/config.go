// Package config reads process settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the settings shared by the api and worker binaries.
type Config struct {
	// StoreDriver selects the persister: dynamo, sqlite, postgres, mysql or memory.
	StoreDriver string
	StoreDSN    string

	OrdersTable      string
	TransitionsTable string
	// IdempotencyTable enables create-request dedupe. It defaults to
	// "idempotency" with the dynamo driver and is off otherwise.
	IdempotencyTable string
	IdempotencyTTL   time.Duration

	EventsQueueURL string
	ReceiptsTable  string // fiscal receipts written by the worker
	RedisAddr      string
	RedisChannel   string

	ArchiveBucket   string
	ArchivePrefix   string
	RetentionWindow time.Duration
	ArchiveInterval time.Duration

	MetricsNamespace string
	MetricsInterval  time.Duration // CloudWatch push interval; zero disables it

	HTTPAddr        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	RunLocal        bool
	S3PathStyle     bool
	LogLevel        string
}

// Load reads the configuration, applying defaults for unset variables.
func Load() (Config, error) {
	c := Config{
		StoreDriver:      getEnv("STORE_DRIVER", "dynamo"),
		StoreDSN:         getEnv("STORE_DSN", "orders.db"),
		OrdersTable:      getEnv("ORDERS_TABLE", "orders"),
		TransitionsTable: getEnv("TRANSITIONS_TABLE", "order_transitions"),
		IdempotencyTable: os.Getenv("IDEMPOTENCY_TABLE"),
		EventsQueueURL:   os.Getenv("EVENTS_QUEUE_URL"),
		ReceiptsTable:    getEnv("RECEIPTS_TABLE", "fiscal_receipts"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisChannel:     getEnv("REDIS_CHANNEL", "orders.events"),
		ArchiveBucket:    os.Getenv("ARCHIVE_BUCKET"),
		ArchivePrefix:    getEnv("ARCHIVE_PREFIX", "orders"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "fulfillment"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	var err error
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"IDEMPOTENCY_TTL", "48h", &c.IdempotencyTTL},
		{"RETENTION_WINDOW", "720h", &c.RetentionWindow},
		{"ARCHIVE_INTERVAL", "1h", &c.ArchiveInterval},
		{"METRICS_INTERVAL", "0s", &c.MetricsInterval},
		{"REQUEST_TIMEOUT", "5s", &c.RequestTimeout},
		{"SHUTDOWN_TIMEOUT", "15s", &c.ShutdownTimeout},
	}
	for _, d := range durations {
		if *d.dest, err = time.ParseDuration(getEnv(d.key, d.def)); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", d.key, err)
		}
	}
	if c.RunLocal, err = parseBool("RUN_LOCAL"); err != nil {
		return Config{}, err
	}
	if c.S3PathStyle, err = parseBool("S3_PATH_STYLE"); err != nil {
		return Config{}, err
	}

	switch c.StoreDriver {
	case "dynamo":
		if c.IdempotencyTable == "" {
			c.IdempotencyTable = "idempotency"
		}
	case "sqlite", "postgres", "mysql", "memory":
	default:
		return Config{}, fmt.Errorf("config: STORE_DRIVER %q is not supported", c.StoreDriver)
	}
	return c, nil
}

func parseBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
