package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Attribute keys with a meaning on FIFO queues.
const (
	AttrGroupKey = "order_id"  // becomes MessageGroupId
	AttrDedupKey = "event_key" // becomes MessageDeduplicationId
)

// Publisher sends order events to one SQS queue. On a FIFO queue (URL ending
// in ".fifo") messages are grouped by order so a consumer sees each order's
// changes in commit order, and redundant sends within the dedup window collapse.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	fifo     bool
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Send sends messageBody with attributes as String message attributes. Empty
// values are skipped.
func (p *Publisher) Send(ctx context.Context, messageBody string, attributes map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	for k, v := range attributes {
		if v == "" {
			continue
		}
		if input.MessageAttributes == nil {
			input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{}
		}
		input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}
	if p.fifo {
		group := attributes[AttrGroupKey]
		if group == "" {
			return fmt.Errorf("send message: fifo queue needs a %s attribute", AttrGroupKey)
		}
		input.MessageGroupId = awsString(group)
		if dedup := attributes[AttrDedupKey]; dedup != "" {
			input.MessageDeduplicationId = awsString(dedup)
		}
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message to %s: %w", p.QueueURL, err)
	}
	return nil
}

func awsString(s string) *string { return &s }
