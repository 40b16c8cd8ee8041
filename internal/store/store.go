// Package store persists import run records so that the outcome of every
// import task can be looked up after the task has exited.
//
// Records live in a single DynamoDB table. The partition key is
// RUN#{runId}; the sort key is META for the run record itself. A TTL
// attribute (expiresAt) deletes records after RunTTL.
package store

import (
	"context"
	"time"
)

// RunTTL is the time-to-live of a run record.
const RunTTL = 30 * 24 * time.Hour

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunRecord is the persisted outcome of one import task.
type RunRecord struct {
	RunID          string              `dynamodbav:"-" json:"runId"`
	TaskID         int                 `dynamodbav:"taskId" json:"taskId"`
	WorkspaceID    int                 `dynamodbav:"workspaceId" json:"workspaceId"`
	Source         string              `dynamodbav:"source" json:"source"`
	Status         string              `dynamodbav:"status" json:"status"`
	Succeeded      []string            `dynamodbav:"succeeded,omitempty" json:"succeeded,omitempty"`
	ImagesOnly     []string            `dynamodbav:"imagesOnly,omitempty" json:"imagesOnly,omitempty"`
	Failed         []string            `dynamodbav:"failed,omitempty" json:"failed,omitempty"`
	FailureReasons map[string][]string `dynamodbav:"failureReasons,omitempty" json:"failureReasons,omitempty"`
	Unsupported    map[string]int      `dynamodbav:"unsupported,omitempty" json:"unsupported,omitempty"`
	Error          string              `dynamodbav:"error,omitempty" json:"error,omitempty"`
	StartedAt      int64               `dynamodbav:"startedAt" json:"startedAt"`
	FinishedAt     int64               `dynamodbav:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}

// RunStore persists run records.
//
// GetRun returns (nil, nil) when the record does not exist. PutRun replaces
// the whole record.
type RunStore interface {
	PutRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	// SetRunError marks a run failed without touching its other fields.
	SetRunError(ctx context.Context, runID, errMsg string) error
}
