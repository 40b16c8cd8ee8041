package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "RUN#"
	skMeta   = "META"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoRunStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoRunStore implements RunStore using AWS DynamoDB.
type DynamoRunStore struct {
	client    DynamoAPI
	tableName string
}

// Compile-time interface check.
var _ RunStore = (*DynamoRunStore)(nil)

// NewDynamoRunStore creates a DynamoRunStore for the given table.
func NewDynamoRunStore(client DynamoAPI, tableName string) *DynamoRunStore {
	return &DynamoRunStore{
		client:    client,
		tableName: tableName,
	}
}

// runPK returns the partition key for a run.
func runPK(runID string) string {
	return pkPrefix + runID
}

// expiresAt returns the Unix epoch timestamp for record expiration (now + RunTTL).
func expiresAt() int64 {
	return time.Now().Add(RunTTL).Unix()
}

func key(runID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: runPK(runID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// PutRun creates or replaces a run record.
func (s *DynamoRunStore) PutRun(ctx context.Context, run *RunRecord) error {
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().Unix()
	}
	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	// Key and TTL attributes overwrite any conflicting keys from the record.
	item["PK"] = &types.AttributeValueMemberS{Value: runPK(run.RunID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s: %w", runPK(run.RunID), err)
	}
	log.Debug().Str("runId", run.RunID).Str("status", run.Status).Msg("Run record saved")
	return nil
}

// GetRun reads a run record. Returns nil, nil if not found.
func (s *DynamoRunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       key(runID),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s: %w", runPK(runID), err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var run RunRecord
	if err := attributevalue.UnmarshalMap(result.Item, &run); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s: %w", runPK(runID), err)
	}
	run.RunID = runID
	return &run, nil
}

// SetRunError marks a run failed and records the error message.
func (s *DynamoRunStore) SetRunError(ctx context.Context, runID, errMsg string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              key(runID),
		UpdateExpression: aws.String("SET #status = :status, #error = :error, finishedAt = :finishedAt"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
			"#error":  "error",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: StatusFailed},
			":error":      &types.AttributeValueMemberS{Value: errMsg},
			":finishedAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem PK=%s: %w", runPK(runID), err)
	}
	return nil
}
