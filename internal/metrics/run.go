package metrics

import (
	"time"

	"github.com/fpang/image-project-importer/internal/pipeline"
)

// RecordRun adds the outcome of an import run to r.
func RecordRun(r *Recorder, source string, s *pipeline.Summary, runErr error, d time.Duration) *Recorder {
	r.Dimension("Source", source)
	r.Metric("RunDuration", float64(d.Milliseconds()), UnitMilliseconds)
	if runErr != nil {
		r.Count("RunFailed", 1)
		r.Property("error", runErr.Error())
	} else {
		r.Count("RunFailed", 0)
	}
	if s == nil {
		return r
	}
	r.Count("ProjectsSucceeded", len(s.Succeeded))
	r.Count("ProjectsImagesOnly", len(s.ImagesOnly))
	r.Count("ProjectsFailed", len(s.Failed))
	unsupported := 0
	for _, n := range s.Unsupported {
		unsupported += n
	}
	r.Count("ProjectsUnsupported", unsupported)
	return r
}
