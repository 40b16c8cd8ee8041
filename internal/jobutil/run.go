package jobutil

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/image-project-importer/internal/config"
	"github.com/fpang/image-project-importer/internal/pipeline"
	"github.com/fpang/image-project-importer/internal/store"
)

// StartRun persists a running record for req. rs may be nil.
func StartRun(ctx context.Context, rs store.RunStore, runID string, req *config.Request) *store.RunRecord {
	rec := &store.RunRecord{
		RunID:       runID,
		TaskID:      req.TaskID,
		WorkspaceID: req.WorkspaceID,
		Source:      req.Input.Kind.String(),
		Status:      store.StatusRunning,
		StartedAt:   time.Now().Unix(),
	}
	if rs == nil {
		return rec
	}
	if err := rs.PutRun(ctx, rec); err != nil {
		log.Warn().Err(err).Str("runId", runID).Msg("Failed to persist run record")
	}
	return rec
}

// FinishRun copies the outcome of a run into rec and persists it. A failed
// run is also logged through SetRunError.
func FinishRun(ctx context.Context, rs store.RunStore, rec *store.RunRecord, s *pipeline.Summary, runErr error) {
	if s != nil {
		rec.Succeeded = s.Succeeded
		rec.ImagesOnly = s.ImagesOnly
		rec.Failed = s.Failed
		rec.FailureReasons = s.FailureReasons
		rec.Unsupported = s.Unsupported
	}
	rec.FinishedAt = time.Now().Unix()
	rec.Status = store.StatusSucceeded
	if runErr != nil {
		rec.Status = store.StatusFailed
		rec.Error = runErr.Error()
		if err := SetRunError(ctx, rec.RunID, runErr, nil); err != nil {
			log.Warn().Err(err).Str("runId", rec.RunID).Msg("Failed to record run error")
		}
	}
	if rs == nil {
		return
	}
	if err := rs.PutRun(ctx, rec); err != nil {
		log.Warn().Err(err).Str("runId", rec.RunID).Msg("Failed to persist run record")
	}
}

// FailRun records a run that failed before FinishRun could be reached. rs may
// be nil, in which case the failure is only logged.
func FailRun(ctx context.Context, rs store.RunStore, runID string, runErr error) {
	var write ErrorWriter
	if rs != nil {
		write = rs.SetRunError
	}
	if err := SetRunError(ctx, runID, runErr, write); err != nil {
		log.Warn().Err(err).Str("runId", runID).Msg("Failed to record run error")
	}
}
