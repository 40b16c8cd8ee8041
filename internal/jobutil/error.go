// Package jobutil provides helpers for the lifecycle of an import run.
package jobutil

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fpang/image-project-importer/internal/apperr"
)

// ErrorWriter persists a run failure. store.RunStore.SetRunError satisfies it.
type ErrorWriter func(ctx context.Context, runID, errMsg string) error

// SetRunError logs a failed run and delegates persistence to write.
// A nil writer only logs.
func SetRunError(ctx context.Context, runID string, err error, write ErrorWriter) error {
	evt := log.Error().Str("runId", runID).Err(err)
	for _, kind := range []apperr.Kind{apperr.KindConfig, apperr.KindTransfer, apperr.KindStructure, apperr.KindUpload} {
		if apperr.IsKind(err, kind) {
			evt = evt.Str("kind", string(kind))
			break
		}
	}
	evt.Msg("Import run failed")
	if write == nil {
		return nil
	}
	return write(ctx, runID, err.Error())
}
