// Package materialize copies a resolved import input to local storage and
// unpacks it, producing the local tree that discovery runs on.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/annotation"
	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/archive"
	"github.com/fpang/image-project-importer/internal/fetch"
	"github.com/fpang/image-project-importer/internal/normalize"
	"github.com/fpang/image-project-importer/internal/progress"
	"github.com/fpang/image-project-importer/internal/remote"
)

// URLProjectName names the folder an archive downloaded from a URL is unpacked into.
const URLProjectName = "my_project"

// rootDirName replaces an empty base name when the whole store root is imported.
const rootDirName = "team_files"

var (
	// ErrMultipleProjects is returned when an archive holds several projects
	// but a single target project name was requested.
	ErrMultipleProjects = errors.New("archive contains multiple projects")
	// ErrUnsupportedFile is returned for a file input that is not an archive.
	ErrUnsupportedFile = errors.New("unsupported file type, expected .zip, .tar or .tar.gz")
)

// Fetcher downloads a URL to a local file.
type Fetcher interface {
	Download(ctx context.Context, rawURL, dest string, progress fetch.ProgressFunc) (int64, error)
}

// Materializer turns an InputSpec into a local tree under StorageDir.
type Materializer struct {
	Store      remote.Store
	Fetcher    Fetcher
	Fs         afero.Fs
	StorageDir string
	Sink       progress.Sink
	// SingleProject rejects archives holding more than one project.
	SingleProject bool
}

// Materialize downloads spec and returns the local directory holding its content.
func (m *Materializer) Materialize(ctx context.Context, spec normalize.InputSpec) (string, error) {
	start := time.Now()
	var (
		dir string
		err error
	)
	switch spec.Kind {
	case normalize.KindDirectory:
		dir, err = m.directory(ctx, spec.Path)
	case normalize.KindFile:
		dir, err = m.file(ctx, spec.Path)
	case normalize.KindURL:
		dir, err = m.url(ctx, spec.Path)
	default:
		err = apperr.Config(fmt.Sprintf("unknown input kind %s", spec.Kind), nil)
	}
	if err != nil {
		return "", err
	}

	junk, err := archive.RemoveJunk(m.Fs, dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove junk files")
	}
	log.Info().
		Str("kind", spec.Kind.String()).
		Str("source", spec.Path).
		Str("local", dir).
		Int("junkRemoved", junk).
		Dur("duration", time.Since(start)).
		Msg("Input materialized")
	return dir, nil
}

func (m *Materializer) directory(ctx context.Context, remoteDir string) (string, error) {
	name := path.Base(remote.Clean(remoteDir))
	if name == "/" {
		name = rootDirName
	}
	local := filepath.Join(m.StorageDir, name)

	size, err := m.Store.DirSize(ctx, remoteDir)
	if err != nil {
		return "", apperr.Transfer(fmt.Sprintf("size of %s", remoteDir), err)
	}
	tracker := progress.NewTracker(ctx, m.Sink, fmt.Sprintf("Downloading %s", name), size, true, 0)
	if err := m.Store.FetchDirectory(ctx, remoteDir, local, tracker.Add); err != nil {
		m.cleanup(local)
		return "", apperr.Transfer(fmt.Sprintf("download %s", remoteDir), err)
	}
	tracker.Finish()
	return local, nil
}

func (m *Materializer) file(ctx context.Context, remotePath string) (string, error) {
	name := path.Base(remotePath)
	if !archive.IsArchive(name) {
		return "", apperr.Config(name, ErrUnsupportedFile)
	}
	archivePath := filepath.Join(m.StorageDir, name)

	size, err := m.Store.FileSize(ctx, remotePath)
	if err != nil {
		return "", apperr.Transfer(fmt.Sprintf("size of %s", remotePath), err)
	}
	tracker := progress.NewTracker(ctx, m.Sink, fmt.Sprintf("Downloading %s", name), size, true, 0)
	if err := m.Store.FetchFile(ctx, remotePath, archivePath, tracker.Add); err != nil {
		m.cleanup(archivePath)
		return "", apperr.Transfer(fmt.Sprintf("download %s", remotePath), err)
	}
	tracker.Finish()

	dest := filepath.Join(m.StorageDir, archive.TrimExt(name))
	if err := m.unpack(archivePath, dest); err != nil {
		return "", err
	}
	if m.SingleProject {
		if err := expectSingleProject(m.Fs, dest); err != nil {
			m.cleanup(dest)
			return "", err
		}
	}
	return dest, nil
}

func (m *Materializer) url(ctx context.Context, rawURL string) (string, error) {
	dest := filepath.Join(m.StorageDir, URLProjectName)
	archivePath := filepath.Join(dest, URLProjectName+".tar")

	tracker := progress.NewTracker(ctx, m.Sink, "Downloading archive", 0, true, 0)
	if _, err := m.Fetcher.Download(ctx, rawURL, archivePath, tracker.Add); err != nil {
		return "", err
	}
	tracker.Finish()

	if err := m.unpack(archivePath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// unpack extracts the archive and deletes it.
func (m *Materializer) unpack(archivePath, dest string) error {
	err := archive.Unpack(m.Fs, archivePath, dest)
	if rmErr := m.Fs.Remove(archivePath); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Warn().Err(rmErr).Str("path", archivePath).Msg("Failed to remove archive")
	}
	if err != nil {
		m.cleanup(dest)
		return apperr.Transfer(fmt.Sprintf("unpack %s", filepath.Base(archivePath)), err)
	}
	return nil
}

func (m *Materializer) cleanup(p string) {
	if err := m.Fs.RemoveAll(p); err != nil {
		log.Warn().Err(err).Str("path", p).Msg("Failed to remove partial download")
	}
}

// expectSingleProject fails when dir is not itself a project and more than
// one of its top-level directories is.
func expectSingleProject(fs afero.Fs, dir string) error {
	if ok, _ := afero.Exists(fs, filepath.Join(dir, annotation.MetaFileName)); ok {
		return nil
	}
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return apperr.Transfer("read unpacked archive", err)
	}
	var projects []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ok, _ := afero.Exists(fs, filepath.Join(dir, e.Name(), annotation.MetaFileName)); ok {
			projects = append(projects, e.Name())
		}
	}
	if len(projects) > 1 {
		return apperr.Config(fmt.Sprintf("found projects %v", projects), ErrMultipleProjects)
	}
	return nil
}
