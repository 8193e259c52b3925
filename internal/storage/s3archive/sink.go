// Package s3archive writes a JSON copy of each archived order to S3.
package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/aws"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// Sink stores archived orders under prefix/<order_id>.json.
type Sink struct {
	client aws.S3API
	bucket string
	prefix string
}

// New returns a Sink bound to bucket. prefix may be empty.
func New(client aws.S3API, bucket, prefix string) *Sink {
	return &Sink{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key used for order id.
func (s *Sink) Key(id string) string {
	return path.Join(s.prefix, id+".json")
}

// Put uploads o. Re-archiving the same order overwrites the previous copy.
func (s *Sink) Put(ctx context.Context, o *orders.Order) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", o.ID, err)
	}
	key := s.Key(o.ID)
	contentType := "application/json"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
		Metadata: map[string]string{
			"status":  string(o.Status),
			"version": fmt.Sprintf("%d", o.Version),
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
