// Package dynamo persists orders and their audit records in DynamoDB.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/aws"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// Persister encapsulates operations on the orders and transitions tables.
type Persister struct {
	client           aws.DynamoDBAPI
	ordersTable      string
	transitionsTable string
}

// New returns a Persister. transitionsTable may be empty, in which case audit
// records are not persisted and History reports none.
func New(client aws.DynamoDBAPI, ordersTable, transitionsTable string) *Persister {
	return &Persister{
		client:           client,
		ordersTable:      ordersTable,
		transitionsTable: transitionsTable,
	}
}

// orderItem is the shape stored in the orders table. Money is kept as a
// decimal string so no precision is lost to DynamoDB numbers.
type orderItem struct {
	OrderID         string     `dynamodbav:"order_id"` // PK
	Status          string     `dynamodbav:"status"`
	CustomerID      string     `dynamodbav:"customer_id"`
	CustomerName    string     `dynamodbav:"customer_name,omitempty"`
	LineItems       []lineItem `dynamodbav:"line_items"`
	Total           string     `dynamodbav:"total"`
	PaymentMethod   string     `dynamodbav:"payment_method,omitempty"`
	DeliveryAddress string     `dynamodbav:"delivery_address,omitempty"`
	CreatedAt       time.Time  `dynamodbav:"created_at"`
	UpdatedAt       time.Time  `dynamodbav:"updated_at"`
	Version         int64      `dynamodbav:"version"`
	ArchivedAt      *time.Time `dynamodbav:"archived_at,omitempty"`
}

type lineItem struct {
	ItemRef   string `dynamodbav:"item_ref"`
	Quantity  int    `dynamodbav:"quantity"`
	UnitPrice string `dynamodbav:"unit_price"`
}

type transitionItem struct {
	OrderID string    `dynamodbav:"order_id"` // PK
	Version int64     `dynamodbav:"version"`  // SK: order version the transition produced
	From    string    `dynamodbav:"from_status"`
	To      string    `dynamodbav:"to_status"`
	At      time.Time `dynamodbav:"at"`
	Actor   string    `dynamodbav:"actor"`
}

func toItem(o *orders.Order) orderItem {
	it := orderItem{
		OrderID:         o.ID,
		Status:          string(o.Status),
		CustomerID:      o.Customer.ID,
		CustomerName:    o.Customer.DisplayName,
		Total:           o.Total.String(),
		PaymentMethod:   o.PaymentMethod,
		DeliveryAddress: o.DeliveryAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Version:         o.Version,
		ArchivedAt:      o.ArchivedAt,
	}
	for _, li := range o.LineItems {
		it.LineItems = append(it.LineItems, lineItem{
			ItemRef:   li.ItemRef,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice.String(),
		})
	}
	return it
}

func fromItem(it orderItem) (*orders.Order, error) {
	o := &orders.Order{
		ID:              it.OrderID,
		Status:          orders.Status(it.Status),
		Customer:        orders.Customer{ID: it.CustomerID, DisplayName: it.CustomerName},
		PaymentMethod:   it.PaymentMethod,
		DeliveryAddress: it.DeliveryAddress,
		CreatedAt:       it.CreatedAt,
		UpdatedAt:       it.UpdatedAt,
		Version:         it.Version,
		ArchivedAt:      it.ArchivedAt,
	}
	for _, li := range it.LineItems {
		price, err := decimal.NewFromString(li.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("order %s: unit price %q: %w", it.OrderID, li.UnitPrice, err)
		}
		o.LineItems = append(o.LineItems, orders.LineItem{ItemRef: li.ItemRef, Quantity: li.Quantity, UnitPrice: price})
	}
	o.Total = orders.ComputeTotal(o.LineItems)
	return o, nil
}

// Load fetches an order by order_id. Returns (nil, nil) if not found.
func (p *Persister) Load(ctx context.Context, id string) (*orders.Order, error) {
	out, err := p.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &p.ordersTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it orderItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return fromItem(it)
}

// Save writes o if the stored version is exactly o.Version-1.
func (p *Persister) Save(ctx context.Context, o *orders.Order) error {
	put, err := p.orderPut(o)
	if err != nil {
		return err
	}
	_, err = p.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 put.TableName,
		Item:                      put.Item,
		ConditionExpression:       put.ConditionExpression,
		ExpressionAttributeValues: put.ExpressionAttributeValues,
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return fmt.Errorf("order %s version %d: %w", o.ID, o.Version, orders.ErrConcurrentModification)
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// SaveWithTransition writes the order and its audit record in one transaction.
func (p *Persister) SaveWithTransition(ctx context.Context, o *orders.Order, t orders.StatusTransition) error {
	if p.transitionsTable == "" {
		return p.Save(ctx, o)
	}
	put, err := p.orderPut(o)
	if err != nil {
		return err
	}
	rec, err := attributevalue.MarshalMap(transitionItem{
		OrderID: t.OrderID,
		Version: o.Version,
		From:    string(t.From),
		To:      string(t.To),
		At:      t.At,
		Actor:   t.Actor,
	})
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	_, err = p.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: put},
			{Put: &types.Put{
				TableName:           &p.transitionsTable,
				Item:                rec,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && conditionFailed(tce) {
			return fmt.Errorf("order %s version %d: %w", o.ID, o.Version, orders.ErrConcurrentModification)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// ScanAll reads every order, following pagination.
func (p *Persister) ScanAll(ctx context.Context) ([]*orders.Order, error) {
	var out []*orders.Order
	pager := dyn.NewScanPaginator(p.client, &dyn.ScanInput{
		TableName:      &p.ordersTable,
		ConsistentRead: awsBool(true),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		var items []orderItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		for _, it := range items {
			o, err := fromItem(it)
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// History reads the audit records of one order in version order, following
// pagination.
func (p *Persister) History(ctx context.Context, id string) ([]orders.StatusTransition, error) {
	out := []orders.StatusTransition{}
	if p.transitionsTable == "" {
		return out, nil
	}
	pager := dyn.NewQueryPaginator(p.client, &dyn.QueryInput{
		TableName:              &p.transitionsTable,
		KeyConditionExpression: awsString("order_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: awsBool(true),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query transitions: %w", err)
		}
		var items []transitionItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal transitions: %w", err)
		}
		for _, it := range items {
			out = append(out, orders.StatusTransition{
				OrderID: it.OrderID,
				From:    orders.Status(it.From),
				To:      orders.Status(it.To),
				At:      it.At,
				Actor:   it.Actor,
			})
		}
	}
	return out, nil
}

// orderPut builds the conditional put shared by Save and SaveWithTransition.
func (p *Persister) orderPut(o *orders.Order) (*types.Put, error) {
	item, err := attributevalue.MarshalMap(toItem(o))
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	put := &types.Put{
		TableName: &p.ordersTable,
		Item:      item,
	}
	if o.Version <= 1 {
		put.ConditionExpression = awsString("attribute_not_exists(order_id)")
	} else {
		put.ConditionExpression = awsString("version = :prev")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(o.Version-1, 10)},
		}
	}
	return put, nil
}

func conditionFailed(tce *types.TransactionCanceledException) bool {
	for _, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
