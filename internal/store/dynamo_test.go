package store

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/go-cmp/cmp"
)

// fakeDynamo keeps items in memory keyed by PK.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func pkOf(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[pkOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

// UpdateItem applies SET updates for the attributes SetRunError writes.
func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	item, ok := f.items[pkOf(in.Key)]
	if !ok {
		item = map[string]types.AttributeValue{"PK": in.Key["PK"], "SK": in.Key["SK"]}
		f.items[pkOf(in.Key)] = item
	}
	item[in.ExpressionAttributeNames["#status"]] = in.ExpressionAttributeValues[":status"]
	item[in.ExpressionAttributeNames["#error"]] = in.ExpressionAttributeValues[":error"]
	item["finishedAt"] = in.ExpressionAttributeValues[":finishedAt"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func TestDynamoRunStore_PutGet(t *testing.T) {
	db := newFakeDynamo()
	s := NewDynamoRunStore(db, "runs")
	ctx := context.Background()

	run := &RunRecord{
		RunID:          "run-1",
		TaskID:         7,
		WorkspaceID:    3,
		Source:         "directory:/exports/proj/",
		Status:         StatusSucceeded,
		Succeeded:      []string{"proj"},
		FailureReasons: map[string][]string{"project has no usable items": {"empty"}},
		StartedAt:      1700000000,
		FinishedAt:     1700000060,
	}
	if err := s.PutRun(ctx, run); err != nil {
		t.Fatalf("PutRun: %v", err)
	}

	item := db.items["RUN#run-1"]
	if item == nil {
		t.Fatal("item not stored under RUN#run-1")
	}
	if _, ok := item["expiresAt"]; !ok {
		t.Error("TTL attribute missing")
	}
	if sk := item["SK"].(*types.AttributeValueMemberS).Value; sk != "META" {
		t.Errorf("SK = %q, want META", sk)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}
}

func TestDynamoRunStore_GetMissing(t *testing.T) {
	s := NewDynamoRunStore(newFakeDynamo(), "runs")
	got, err := s.GetRun(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("GetRun(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestDynamoRunStore_SetRunError(t *testing.T) {
	db := newFakeDynamo()
	s := NewDynamoRunStore(db, "runs")
	ctx := context.Background()

	if err := s.PutRun(ctx, &RunRecord{RunID: "run-2", TaskID: 9, Status: StatusRunning}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRunError(ctx, "run-2", "download failed"); err != nil {
		t.Fatalf("SetRunError: %v", err)
	}
	got, err := s.GetRun(ctx, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.Error != "download failed" || got.TaskID != 9 {
		t.Errorf("run = %+v", got)
	}
	if got.FinishedAt == 0 || got.StartedAt == 0 {
		t.Errorf("timestamps not set: %+v", got)
	}
}
