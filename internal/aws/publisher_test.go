package aws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type mockSQS struct {
	mu   sync.Mutex
	sent []*sqs.SendMessageInput
	err  error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.sent = append(m.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisher_Send(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.local/queue")

	err := p.Send(context.Background(), `{"order_id":"o1"}`, map[string]string{
		"order_id":       "o1",
		"correlation_id": "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.sent))
	}
	in := mock.sent[0]
	if *in.QueueUrl != "https://sqs.local/queue" || *in.MessageBody != `{"order_id":"o1"}` {
		t.Fatalf("unexpected input: %+v", in)
	}
	if v := in.MessageAttributes["order_id"]; v.StringValue == nil || *v.StringValue != "o1" {
		t.Fatalf("order_id attribute missing: %+v", in.MessageAttributes)
	}
	if _, ok := in.MessageAttributes["correlation_id"]; ok {
		t.Fatalf("empty attribute should be skipped")
	}
}

func TestPublisher_SendError(t *testing.T) {
	mock := &mockSQS{err: errors.New("throttled")}
	p := NewPublisher(mock, "q")
	if err := p.Send(context.Background(), "{}", nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPublisher_FifoQueueGroupsByOrder(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.local/000000000000/orders.fifo")

	err := p.Send(context.Background(), "{}", map[string]string{
		AttrGroupKey: "o1",
		AttrDedupKey: "o1:3",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := mock.sent[0]
	if in.MessageGroupId == nil || *in.MessageGroupId != "o1" {
		t.Fatalf("expected group o1, got %v", in.MessageGroupId)
	}
	if in.MessageDeduplicationId == nil || *in.MessageDeduplicationId != "o1:3" {
		t.Fatalf("expected dedup id o1:3, got %v", in.MessageDeduplicationId)
	}

	if err := p.Send(context.Background(), "{}", nil); err == nil {
		t.Fatalf("fifo send without order_id should fail")
	}
	if len(mock.sent) != 1 {
		t.Fatalf("invalid fifo send reached the queue")
	}
}

func TestPublisher_StandardQueueHasNoGroup(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.local/000000000000/orders")
	if err := p.Send(context.Background(), "{}", map[string]string{AttrGroupKey: "o1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.sent[0].MessageGroupId != nil {
		t.Fatalf("standard queues reject MessageGroupId")
	}
}
