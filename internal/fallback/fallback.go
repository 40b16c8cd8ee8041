// Package fallback imports loose image folders as an images-only project,
// one dataset per folder and no annotations.
package fallback

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/filehandler"
	"github.com/fpang/image-project-importer/internal/platform"
	"github.com/fpang/image-project-importer/internal/progress"
	"github.com/fpang/image-project-importer/internal/repair"
)

// DefaultProjectName names a fallback project when no name was requested.
const DefaultProjectName = "Images project"

// Uploader is the part of the platform API the fallback import needs.
type Uploader interface {
	CreateProject(ctx context.Context, workspaceID int, name string) (*platform.Project, error)
	CreateDataset(ctx context.Context, projectID int, name string) (*platform.Dataset, error)
	UploadImages(ctx context.Context, fs afero.Fs, datasetID int, paths []string, done func(n int)) ([]platform.Image, error)
	RemoveProject(ctx context.Context, projectID int) error
}

// Source is one folder of loose images.
type Source struct {
	Dir string
	// DatasetName overrides the folder-derived dataset name.
	DatasetName string
}

// Name returns the dataset name for the source. An img folder is named
// after its dataset.
func (s Source) Name() string {
	if s.DatasetName != "" {
		return s.DatasetName
	}
	name := filepath.Base(s.Dir)
	if name == repair.ImgDir {
		name = filepath.Base(filepath.Dir(s.Dir))
	}
	return name
}

// Result is the outcome of a fallback import.
type Result struct {
	// Project is nil when no images were found.
	Project  *platform.Project
	Datasets int
	Images   int
}

// Importer uploads loose image folders.
type Importer struct {
	Client    Uploader
	Fs        afero.Fs
	Sink      progress.Sink
	Recursive bool
}

// Import creates one project holding a dataset per source. Sources that no
// longer exist or hold no images are skipped, and uploaded images are
// deleted. When nothing was uploaded the empty project is removed and the
// result has no project.
func (im *Importer) Import(ctx context.Context, workspaceID int, name string, sources []Source) (*Result, error) {
	if name == "" {
		name = DefaultProjectName
	}
	project, err := im.Client.CreateProject(ctx, workspaceID, name)
	if err != nil {
		return nil, apperr.Upload(fmt.Sprintf("create images project %q", name), err)
	}

	res, err := im.upload(ctx, project, sources)
	if err != nil || res.Images == 0 {
		if rmErr := im.Client.RemoveProject(ctx, project.ID); rmErr != nil {
			log.Error().Err(rmErr).Int("projectId", project.ID).Msg("Failed to remove images project")
		}
	}
	if err != nil {
		return nil, apperr.Upload(fmt.Sprintf("images project %q", name), err)
	}
	if res.Images == 0 {
		log.Warn().Str("project", name).Msg("No images found, no project created")
		return &Result{}, nil
	}

	res.Project = project
	log.Info().
		Str("project", project.Name).
		Int("datasets", res.Datasets).
		Int("images", res.Images).
		Msg("Images project imported")
	return res, nil
}

func (im *Importer) upload(ctx context.Context, project *platform.Project, sources []Source) (*Result, error) {
	res := &Result{}
	for _, src := range sources {
		if ok, _ := afero.DirExists(im.Fs, src.Dir); !ok {
			log.Debug().Str("dir", src.Dir).Msg("Source folder already consumed, skipping")
			continue
		}
		images, err := filehandler.ListImages(im.Fs, src.Dir, filehandler.ScanOptions{Recursive: im.Recursive})
		if err != nil {
			return nil, err
		}
		if len(images) == 0 {
			log.Debug().Str("dir", src.Dir).Msg("No images in folder, skipping")
			continue
		}

		ds, err := im.Client.CreateDataset(ctx, project.ID, src.Name())
		if err != nil {
			return nil, err
		}
		tracker := progress.NewTracker(ctx, im.Sink, fmt.Sprintf("Uploading dataset %s", ds.Name), int64(len(images)), false, 0)
		uploaded, err := im.Client.UploadImages(ctx, im.Fs, ds.ID, images, func(n int) { tracker.Add(int64(n)) })
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
		}
		tracker.Finish()

		res.Datasets++
		res.Images += len(uploaded)
		im.consume(src.Dir, images)
	}
	return res, nil
}

// consume deletes what was uploaded from dir. A recursive upload took the
// whole subtree. Otherwise only the listed images go, and subfolders stay
// for their own source; dir itself is removed once it has none.
func (im *Importer) consume(dir string, uploaded []string) {
	if !im.Recursive {
		for _, p := range uploaded {
			if err := im.Fs.Remove(p); err != nil {
				log.Warn().Err(err).Str("path", p).Msg("Failed to remove uploaded image")
			}
		}
		entries, err := afero.ReadDir(im.Fs, dir)
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to read uploaded folder")
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				return
			}
		}
	}
	if err := im.Fs.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove uploaded folder")
	}
}
