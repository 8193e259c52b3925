package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/aws"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/notify"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// Receipt kinds recorded for the fiscal system.
const (
	ReceiptSale = "SALE"
	ReceiptVoid = "VOID"
)

// Receipt is one fiscal entry, keyed by the change that produced it.
type Receipt struct {
	ReceiptID  string    `dynamodbav:"receipt_id" json:"receipt_id"` // order_id#version
	OrderID    string    `dynamodbav:"order_id" json:"order_id"`
	Kind       string    `dynamodbav:"kind" json:"kind"`
	Amount     string    `dynamodbav:"amount" json:"amount"` // decimal string
	Actor      string    `dynamodbav:"actor,omitempty" json:"actor,omitempty"`
	ChangedAt  time.Time `dynamodbav:"changed_at" json:"changed_at"`
	RecordedAt time.Time `dynamodbav:"recorded_at" json:"recorded_at"`
}

// receiptFor maps a terminal status change to a receipt. Other events have none.
func receiptFor(e notify.Event, now time.Time) (Receipt, bool) {
	if e.Kind != notify.EventStatusChanged {
		return Receipt{}, false
	}
	r := Receipt{
		ReceiptID:  fmt.Sprintf("%s#%d", e.OrderID, e.Version),
		OrderID:    e.OrderID,
		Actor:      e.Actor,
		ChangedAt:  e.Timestamp,
		RecordedAt: now,
	}
	switch e.NewStatus {
	case orders.StatusDelivered:
		r.Kind, r.Amount = ReceiptSale, e.Total.StringFixed(2)
	case orders.StatusCancelled:
		r.Kind, r.Amount = ReceiptVoid, "0.00"
	default:
		return Receipt{}, false
	}
	return r, true
}

// ReceiptStore writes receipts to DynamoDB, at most once per receipt ID.
type ReceiptStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewReceiptStore(client aws.DynamoDBAPI, tableName string) *ReceiptStore {
	return &ReceiptStore{client: client, tableName: tableName}
}

// Record returns false without error when the receipt already exists.
func (s *ReceiptStore) Record(ctx context.Context, r Receipt) (bool, error) {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return false, fmt.Errorf("marshal receipt: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(receipt_id)"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put receipt %s: %w", r.ReceiptID, err)
	}
	return true, nil
}

func awsString(s string) *string { return &s }
