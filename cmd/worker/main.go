package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/aws"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/config"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/idempotency"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.Init(cfg.LogLevel)

	clients, err := aws.NewAWSClients(context.Background(), cfg.S3PathStyle)
	if err != nil {
		log.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}
	ledgerTable := cfg.IdempotencyTable
	if ledgerTable == "" {
		ledgerTable = "idempotency"
	}
	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, ledgerTable, cfg.IdempotencyTTL),
		NewReceiptStore(clients.DynamoDB, cfg.ReceiptsTable),
		log,
	)

	// If RUN_LOCAL=true, simulate a single SQS message for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"kind":"status_changed","order_id":"local-order-1","old_status":"READY","new_status":"DELIVERED","total":"25.50","version":4,"timestamp":"2026-01-01T12:00:00Z"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, _ := p.Handle(context.Background(), event)
		if len(resp.BatchItemFailures) > 0 {
			log.Error("local handler failed", "failures", len(resp.BatchItemFailures))
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
