// Package pipeline runs one import task end to end: resolve the input,
// download it, find projects, repair and upload them, and fall back to an
// images-only import where a project cannot be uploaded as is.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/config"
	"github.com/fpang/image-project-importer/internal/discover"
	"github.com/fpang/image-project-importer/internal/fallback"
	"github.com/fpang/image-project-importer/internal/materialize"
	"github.com/fpang/image-project-importer/internal/normalize"
	"github.com/fpang/image-project-importer/internal/platform"
	"github.com/fpang/image-project-importer/internal/progress"
	"github.com/fpang/image-project-importer/internal/remote"
	"github.com/fpang/image-project-importer/internal/repair"
)

// ErrNothingImported is returned when a run uploads no project at all.
var ErrNothingImported = errors.New("nothing was imported")

// reasonNoItems is the failure reason for a project whose repair left nothing.
const reasonNoItems = "project has no usable items"

// Platform is the part of the platform API a run uses.
type Platform interface {
	fallback.Uploader
	UploadProject(ctx context.Context, fs afero.Fs, dir string, workspaceID int, name string, sink progress.Sink) (*platform.Project, error)
}

// Deps are the collaborators of a run.
type Deps struct {
	Store    remote.Store
	Fetcher  materialize.Fetcher
	Fs       afero.Fs
	Platform Platform
	Sink     progress.Sink
}

// Run executes the import described by req.
//
// Configuration and transfer errors are returned as is. Problems with single
// projects are recovered by the images-only import and reported in the
// summary. A run that imports nothing returns the summary together with
// ErrNothingImported.
func Run(ctx context.Context, req *config.Request, deps Deps) (*Summary, error) {
	start := time.Now()
	summary := newSummary()

	spec, err := normalize.Resolve(ctx, deps.Store, req.Input)
	if err != nil {
		return summary, err
	}
	log.Info().Str("kind", spec.Kind.String()).Str("path", spec.Path).Msg("Input resolved")

	m := &materialize.Materializer{
		Store:         deps.Store,
		Fetcher:       deps.Fetcher,
		Fs:            deps.Fs,
		StorageDir:    req.StorageDir,
		Sink:          deps.Sink,
		SingleProject: req.SingleProject(),
	}
	dir, err := m.Materialize(ctx, spec)
	if err != nil {
		return summary, err
	}
	defer func() {
		if err := deps.Fs.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to clean up local tree")
		}
	}()

	found, err := discover.Scan(deps.Fs, dir)
	if err != nil {
		return summary, apperr.Structure("scan input", err)
	}
	summary.Unsupported = found.Unsupported

	r := &runner{req: req, deps: deps, summary: summary}
	switch {
	case len(found.ProjectRoots) > 0:
		for _, root := range found.ProjectRoots {
			r.importProject(ctx, root)
		}
	case len(found.ImageDirs) > 0:
		r.importImages(ctx, found.ImageDirs)
	default:
		log.Warn().Str("dir", dir).Msg("No projects or images found in input")
	}

	log.Info().
		Int("succeeded", len(summary.Succeeded)).
		Int("imagesOnly", len(summary.ImagesOnly)).
		Int("failed", len(summary.Failed)).
		Int("unsupported", found.UnsupportedTotal()).
		Dur("duration", time.Since(start)).
		Msg("Import finished")

	if summary.Imported() == 0 {
		return summary, fmt.Errorf("%w: %d projects failed", ErrNothingImported, len(summary.Failed))
	}
	return summary, nil
}

type runner struct {
	req     *config.Request
	deps    Deps
	summary *Summary
}

func (r *runner) projectName(root string) string {
	if r.req.ProjectName != "" {
		return r.req.ProjectName
	}
	return filepath.Base(root)
}

// importProject repairs and uploads one project, falling back to an
// images-only import of its datasets when that fails.
func (r *runner) importProject(ctx context.Context, root string) {
	name := r.projectName(root)
	defer r.remove(root)

	report, err := repair.Project(r.deps.Fs, root)
	if err == nil {
		log.Info().
			Str("project", name).
			Strs("datasets", report.DatasetNames()).
			Int("items", report.Items()).
			Msg("Project repaired")
		if report.Items() == 0 {
			err = errors.New(reasonNoItems)
		}
	}
	if err == nil {
		project, upErr := r.deps.Platform.UploadProject(ctx, r.deps.Fs, root, r.req.WorkspaceID, name, r.deps.Sink)
		if upErr == nil {
			r.summary.succeeded(project.Name)
			return
		}
		err = upErr
	}

	log.Warn().Err(err).Str("project", name).Msg("Project cannot be imported with annotations, importing images only")
	res, fbErr := r.fallback(ctx, name, datasetSources(r.deps.Fs, root))
	switch {
	case fbErr != nil:
		r.summary.failed(name, fbErr.Error())
	case res.Project == nil:
		r.summary.failed(name, err.Error())
	default:
		r.summary.imagesOnly(res.Project.Name, err.Error())
	}
}

// importImages imports loose image folders as one images-only project.
func (r *runner) importImages(ctx context.Context, dirs []string) {
	name := r.req.ProjectName
	if name == "" {
		name = fallback.DefaultProjectName
	}
	sources := make([]fallback.Source, 0, len(dirs))
	for _, d := range dirs {
		sources = append(sources, fallback.Source{Dir: d})
	}
	res, err := r.fallback(ctx, name, sources)
	switch {
	case err != nil:
		r.summary.failed(name, err.Error())
	case res.Project == nil:
		r.summary.failed(name, "no images found")
	default:
		r.summary.ImagesOnly = append(r.summary.ImagesOnly, res.Project.Name)
	}
}

func (r *runner) fallback(ctx context.Context, name string, sources []fallback.Source) (*fallback.Result, error) {
	im := &fallback.Importer{
		Client:    r.deps.Platform,
		Fs:        r.deps.Fs,
		Sink:      r.deps.Sink,
		Recursive: r.req.Recursive,
	}
	return im.Import(ctx, r.req.WorkspaceID, name, sources)
}

func (r *runner) remove(dir string) {
	if err := r.deps.Fs.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove imported project")
	}
}

// datasetSources returns the img folder of every dataset under root.
func datasetSources(fs afero.Fs, root string) []fallback.Source {
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return nil
	}
	var sources []fallback.Source
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sources = append(sources, fallback.Source{
			Dir:         filepath.Join(root, e.Name(), repair.ImgDir),
			DatasetName: e.Name(),
		})
	}
	return sources
}
