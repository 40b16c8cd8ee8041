// Package main provides the Lambda entry point for project imports.
//
// Each invocation runs one import task. The event carries the request fields;
// anything it leaves out comes from IMPORT_* environment variables of the
// function. The handler returns the run summary.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-project-importer/internal/config"
	"github.com/fpang/image-project-importer/internal/jobs"
	"github.com/fpang/image-project-importer/internal/jobutil"
	"github.com/fpang/image-project-importer/internal/lambdaboot"
	"github.com/fpang/image-project-importer/internal/logging"
	"github.com/fpang/image-project-importer/internal/metrics"
	"github.com/fpang/image-project-importer/internal/pipeline"
	"github.com/fpang/image-project-importer/internal/progress"
)

var coldStart = true

func init() {
	logging.InitJSON()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event ImportEvent) (*ImportResult, error) {
	initStart := time.Now()
	if coldStart {
		coldStart = false
		log.Info().Str("function", "import-lambda").Msg("Cold start")
	}

	runID := event.RunID
	if !jobs.IsRunID(runID) {
		runID = jobs.NewRunID()
	}
	log.Info().Str("runId", runID).Int("taskId", event.TaskID).Msg("Import Lambda invoked")

	v := config.New()
	event.apply(v)
	req, err := config.Load(v)
	if err != nil {
		jobutil.FailRun(ctx, nil, runID, err)
		return nil, err
	}

	rt, err := lambdaboot.Init(ctx, req, progress.LogSink{})
	if err != nil {
		jobutil.FailRun(ctx, nil, runID, err)
		return nil, err
	}
	lambdaboot.StartupLog("import-lambda", req, initStart).Log()

	rec := jobutil.StartRun(ctx, rt.RunStore, runID, req)
	start := time.Now()
	summary, runErr := pipeline.Run(ctx, req, rt.Deps)
	jobutil.FinishRun(context.WithoutCancel(ctx), rt.RunStore, rec, summary, runErr)

	if err := metrics.RecordRun(metrics.New(metrics.Namespace), req.Input.Kind.String(), summary, runErr, time.Since(start)).
		Property("runId", runID).
		Flush(); err != nil {
		log.Warn().Err(err).Msg("Failed to emit metrics")
	}

	if runErr != nil {
		return nil, runErr
	}
	return &ImportResult{RunID: runID, Summary: summary}, nil
}

// ImportResult is returned to the invoker.
type ImportResult struct {
	RunID string `json:"runId"`
	*pipeline.Summary
}
