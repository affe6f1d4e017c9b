package handover

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the slice of the DynamoDB client this store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps payloads in a DynamoDB table with the token as hash
// key. The table's TTL attribute handles garbage collection.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore wraps an existing DynamoDB client.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// dynamoRecord is the wire shape. expires_at is epoch seconds because
// that is what DynamoDB TTL expects.
type dynamoRecord struct {
	Token          string `dynamodbav:"token"`
	ConversationID string `dynamodbav:"conversation_id"`
	CallerPhone    string `dynamodbav:"caller_phone"`
	CreatedAt      string `dynamodbav:"created_at"`
	ExpiresAt      int64  `dynamodbav:"expires_at"`
	ContactID      string `dynamodbav:"hubspot_contact_id,omitempty"`
	TicketID       string `dynamodbav:"hubspot_ticket_id,omitempty"`
	Summary        string `dynamodbav:"conversation_summary"`
	Intent         string `dynamodbav:"user_intent"`
	Priority       string `dynamodbav:"priority"`
	Reason         string `dynamodbav:"escalation_reason"`
}

func (s *DynamoStore) Put(ctx context.Context, p Payload) error {
	rec := dynamoRecord{
		Token:          p.Token,
		ConversationID: p.ConversationID,
		CallerPhone:    p.CallerPhone,
		CreatedAt:      p.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:      p.ExpiresAt.Unix(),
		ContactID:      p.ContactID,
		TicketID:       p.TicketID,
		Summary:        p.Summary,
		Intent:         p.Intent,
		Priority:       p.Priority,
		Reason:         p.Reason,
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal handover record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put handover record: %w", err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, token string) (Payload, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"token": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		return Payload{}, fmt.Errorf("get handover record: %w", err)
	}
	if len(out.Item) == 0 {
		return Payload{}, ErrNotFound
	}

	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return Payload{}, fmt.Errorf("unmarshal handover record: %w", err)
	}

	expires := time.Unix(rec.ExpiresAt, 0)
	if !time.Now().Before(expires) {
		return Payload{}, ErrNotFound
	}

	created, _ := time.Parse(time.RFC3339, rec.CreatedAt)
	return Payload{
		Token:          rec.Token,
		ConversationID: rec.ConversationID,
		CallerPhone:    rec.CallerPhone,
		CreatedAt:      created,
		ExpiresAt:      expires,
		ContactID:      rec.ContactID,
		TicketID:       rec.TicketID,
		Summary:        rec.Summary,
		Intent:         rec.Intent,
		Priority:       rec.Priority,
		Reason:         rec.Reason,
	}, nil
}

func (s *DynamoStore) Delete(ctx context.Context, token string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"token": &types.AttributeValueMemberS{Value: token},
		},
	}); err != nil {
		return fmt.Errorf("delete handover record: %w", err)
	}
	return nil
}
