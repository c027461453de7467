package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/compliance-gate/internal/domain"
)

// S3API is the subset of the S3 client used by S3Sink.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives each entry as one JSON object under
// <prefix>/YYYY/MM/DD/<id>.json.
type S3Sink struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Sink creates an S3 archive sink.
func NewS3Sink(client S3API, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

// ObjectKey returns the archive key for an entry.
func (s *S3Sink) ObjectKey(e domain.AuditEntry) string {
	return path.Join(s.prefix, e.CreatedAt.UTC().Format("2006/01/02"), e.ID+".json")
}

// Archive uploads the entry.
func (s *S3Sink) Archive(ctx context.Context, e domain.AuditEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.ObjectKey(e)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting audit entry to S3: %w", err)
	}
	return nil
}

// DynamoAPI is the subset of the DynamoDB client used by DynamoSink.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoItem is the stored shape of an archived entry.
type DynamoItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Action    string `dynamodbav:"Action"`
	Actor     string `dynamodbav:"Actor,omitempty"`
	Data      string `dynamodbav:"Data"`
	Timestamp string `dynamodbav:"Timestamp"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
}

// DynamoSink archives entries keyed by entity, with a TTL.
type DynamoSink struct {
	client    DynamoAPI
	tableName string
	retention time.Duration
}

// NewDynamoSink creates a DynamoDB archive sink. A zero retention stores
// items without a TTL.
func NewDynamoSink(client DynamoAPI, tableName string, retention time.Duration) *DynamoSink {
	return &DynamoSink{client: client, tableName: tableName, retention: retention}
}

// Item converts an entry to its stored form.
func (s *DynamoSink) Item(e domain.AuditEntry) (DynamoItem, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return DynamoItem{}, fmt.Errorf("marshaling audit entry: %w", err)
	}
	item := DynamoItem{
		PK:        fmt.Sprintf("%s#%s", e.EntityType, e.EntityID),
		SK:        e.CreatedAt.UTC().Format(time.RFC3339Nano) + "#" + e.ID,
		Action:    e.ActionType,
		Actor:     e.ActorModule,
		Data:      string(data),
		Timestamp: e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.retention > 0 {
		item.TTL = e.CreatedAt.Add(s.retention).Unix()
	}
	return item, nil
}

// Archive writes the entry.
func (s *DynamoSink) Archive(ctx context.Context, e domain.AuditEntry) error {
	item, err := s.Item(e)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting audit entry to DynamoDB: %w", err)
	}
	return nil
}
