package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/aws"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/config"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/handlers"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/idempotency"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/metrics"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/notify"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/storage/dynamo"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/storage/memory"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/storage/s3archive"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/storage/sqlstore"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/store"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/tracker"
)

type dependencies struct {
	persister   store.Persister
	notifier    *notify.Notifier
	archive     tracker.ArchiveSink
	idempotency handlers.IdempotencyStore
	// cloudwatch is nil unless AWS clients were loaded
	cloudwatch func(metrics.SnapshotFunc) *metrics.CloudWatchPublisher
	closers    []func() error
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg config.Config) bool {
	return cfg.StoreDriver == "dynamo" ||
		cfg.IdempotencyTable != "" ||
		cfg.EventsQueueURL != "" ||
		cfg.ArchiveBucket != "" ||
		cfg.MetricsInterval > 0
}

func wire(ctx context.Context, cfg config.Config, log *slog.Logger) (*dependencies, error) {
	d := &dependencies{}

	var clients *aws.AWSClients
	if needsAWS(cfg) {
		var err error
		if clients, err = aws.NewAWSClients(ctx, cfg.S3PathStyle); err != nil {
			return nil, fmt.Errorf("failed to init aws clients: %w", err)
		}
		d.cloudwatch = func(source metrics.SnapshotFunc) *metrics.CloudWatchPublisher {
			return metrics.NewCloudWatchPublisher(clients.CloudWatch, cfg.MetricsNamespace, source)
		}
	}

	switch cfg.StoreDriver {
	case "dynamo":
		d.persister = dynamo.New(clients.DynamoDB, cfg.OrdersTable, cfg.TransitionsTable)
	case "sqlite", "postgres", "mysql":
		p, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return nil, err
		}
		d.persister = p
		d.closers = append(d.closers, p.Close)
	case "memory":
		d.persister = memory.New()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	if cfg.IdempotencyTable != "" {
		d.idempotency = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	}
	if cfg.ArchiveBucket != "" {
		d.archive = s3archive.New(clients.S3, cfg.ArchiveBucket, cfg.ArchivePrefix)
	}

	d.notifier = notify.New(notify.Options{Logger: log})
	if err := d.notifier.Subscribe("log", notify.LogSink{Logger: log}); err != nil {
		return nil, err
	}
	if cfg.EventsQueueURL != "" {
		// downstream sync only cares about orders leaving the kitchen for good
		sink := notify.NewQueueSink(aws.NewPublisher(clients.SQS, cfg.EventsQueueURL))
		if err := d.notifier.Subscribe("sqs", sink, orders.StatusDelivered, orders.StatusCancelled); err != nil {
			return nil, err
		}
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		d.closers = append(d.closers, rdb.Close)
		if err := d.notifier.Subscribe("redis", notify.NewRedisSink(rdb, cfg.RedisChannel)); err != nil {
			return nil, err
		}
	}
	return d, nil
}
