package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the slice of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Dynamo persists records in a table keyed (invocation_id, asset).
// Conditional expressions give the create-if-absent and compare-and-set
// guarantees the orchestrator needs under concurrent duplicate deliveries.
type Dynamo struct {
	client DynamoAPI
	table  string
}

// NewDynamo wraps a DynamoDB client and target table name.
func NewDynamo(client DynamoAPI, table string) *Dynamo {
	return &Dynamo{client: client, table: table}
}

func dynamoKey(invocationID, asset string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"invocation_id": &types.AttributeValueMemberS{Value: invocationID},
		"asset":         &types.AttributeValueMemberS{Value: asset},
	}
}

// Get returns the record for (invocationID, asset), or nil when absent.
func (d *Dynamo) Get(ctx context.Context, invocationID, asset string) (*Record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            dynamoKey(invocationID, asset),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get item: %v", ErrUnavailable, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode item: %v", ErrUnavailable, err)
	}
	return &rec, nil
}

// Create writes rec only when no item exists for its key.
func (d *Dynamo) Create(ctx context.Context, rec Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("records: encode item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(invocation_id)"),
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return ErrExists
		}
		return fmt.Errorf("%w: put item: %v", ErrUnavailable, err)
	}
	return nil
}

// Update replaces the item while its stored status still equals from.
func (d *Dynamo) Update(ctx context.Context, rec Record, from Status) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("records: encode item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(invocation_id) AND #st = :from"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: string(from)},
		},
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return ErrStale
		}
		return fmt.Errorf("%w: put item: %v", ErrUnavailable, err)
	}
	return nil
}
