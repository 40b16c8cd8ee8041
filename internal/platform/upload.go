package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/annotation"
	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/filehandler"
	"github.com/fpang/image-project-importer/internal/progress"
	"github.com/fpang/image-project-importer/internal/repair"
)

// TaskSink reports progress to a running platform task.
type TaskSink struct {
	Client *Client
	TaskID int
}

// Report forwards u to the task progress endpoint.
func (s TaskSink) Report(ctx context.Context, u progress.Update) error {
	return s.Client.ReportProgress(ctx, s.TaskID, u.Message, u.Current, u.Total, u.IsSize)
}

// UploadProject uploads the repaired project at dir as a new project named
// name. Every dataset directory must hold an img/ folder and one
// ann/<image>.json per image.
//
// On any failure the partially created remote project is removed and an
// upload error naming the project is returned.
func (c *Client) UploadProject(ctx context.Context, fs afero.Fs, dir string, workspaceID int, name string, sink progress.Sink) (*Project, error) {
	start := time.Now()
	meta, err := annotation.LoadMeta(fs, filepath.Join(dir, annotation.MetaFileName))
	if err != nil {
		return nil, apperr.Upload(fmt.Sprintf("upload project %q", name), err)
	}
	datasets, total, err := localDatasets(fs, dir)
	if err != nil {
		return nil, apperr.Upload(fmt.Sprintf("upload project %q", name), err)
	}

	project, err := c.CreateProject(ctx, workspaceID, name)
	if err != nil {
		return nil, apperr.Upload(fmt.Sprintf("upload project %q", name), err)
	}

	tracker := progress.NewTracker(ctx, sink, fmt.Sprintf("Uploading project %s", project.Name), int64(total), false, 0)
	if err := c.uploadContents(ctx, fs, project, meta, datasets, tracker); err != nil {
		if rmErr := c.RemoveProject(ctx, project.ID); rmErr != nil {
			log.Error().Err(rmErr).Int("projectId", project.ID).Msg("Failed to remove incomplete project")
		}
		return nil, apperr.Upload(fmt.Sprintf("upload project %q", name), err)
	}
	tracker.Finish()

	log.Info().
		Int("projectId", project.ID).
		Str("name", project.Name).
		Int("datasets", len(datasets)).
		Int("images", total).
		Dur("duration", time.Since(start)).
		Msg("Project uploaded")
	return project, nil
}

type localDataset struct {
	name   string
	dir    string
	images []string
}

func localDatasets(fs afero.Fs, dir string) ([]localDataset, int, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read project dir: %w", err)
	}
	var datasets []localDataset
	total := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dsDir := filepath.Join(dir, e.Name())
		imgDir := filepath.Join(dsDir, repair.ImgDir)
		if ok, _ := afero.DirExists(fs, imgDir); !ok {
			continue
		}
		images, err := filehandler.ListImages(fs, imgDir, filehandler.ScanOptions{})
		if err != nil {
			return nil, 0, fmt.Errorf("list dataset %s: %w", e.Name(), err)
		}
		if len(images) == 0 {
			continue
		}
		datasets = append(datasets, localDataset{name: e.Name(), dir: dsDir, images: images})
		total += len(images)
	}
	return datasets, total, nil
}

func (c *Client) uploadContents(ctx context.Context, fs afero.Fs, project *Project, meta *annotation.ProjectMeta, datasets []localDataset, tracker *progress.Tracker) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := c.UpdateProjectMeta(ctx, project.ID, metaJSON); err != nil {
		return err
	}

	for _, ds := range datasets {
		remote, err := c.CreateDataset(ctx, project.ID, ds.name)
		if err != nil {
			return err
		}
		images, err := c.UploadImages(ctx, fs, remote.ID, ds.images, func(n int) { tracker.Add(int64(n)) })
		if err != nil {
			return fmt.Errorf("dataset %s: %w", ds.name, err)
		}

		entries := make([]AnnotationEntry, 0, len(images))
		for i, img := range images {
			annPath := filepath.Join(ds.dir, repair.AnnDir, filepath.Base(ds.images[i])+annotation.Ext)
			data, err := afero.ReadFile(fs, annPath)
			if err != nil {
				return fmt.Errorf("dataset %s: read annotation: %w", ds.name, err)
			}
			entries = append(entries, AnnotationEntry{ImageID: img.ID, Annotation: data})
		}
		if err := c.UploadAnnotations(ctx, remote.ID, entries); err != nil {
			return fmt.Errorf("dataset %s: %w", ds.name, err)
		}
		log.Debug().Str("dataset", ds.name).Int("images", len(images)).Msg("Dataset uploaded")
	}

	info, err := c.GetProject(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("verify project: %w", err)
	}
	if want := int(tracker.Current()); info.ItemsCount != want {
		return fmt.Errorf("project holds %d items after upload, want %d", info.ItemsCount, want)
	}
	project.ItemsCount = info.ItemsCount
	return nil
}
