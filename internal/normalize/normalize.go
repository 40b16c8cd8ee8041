// Package normalize resolves the raw input reference of an import task to the
// level that should be downloaded.
//
// Users often point at the wrong place: inside a dataset, at a single file of a
// project, or at a folder holding one uploaded archive. Resolve walks such
// references back to the project root, or switches to file mode for a lone
// archive.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/image-project-importer/internal/annotation"
	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/archive"
	"github.com/fpang/image-project-importer/internal/filehandler"
	"github.com/fpang/image-project-importer/internal/remote"
)

// Kind is the kind of input reference.
type Kind int

const (
	KindDirectory Kind = iota + 1
	KindFile
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	case KindURL:
		return "url"
	default:
		return "unknown"
	}
}

// InputSpec is a resolved input reference. Directory paths end with "/".
type InputSpec struct {
	Kind Kind
	Path string
}

// Directory returns a directory spec for p.
func Directory(p string) InputSpec { return InputSpec{Kind: KindDirectory, Path: remote.DirRef(p)} }

// File returns a file spec for p.
func File(p string) InputSpec { return InputSpec{Kind: KindFile, Path: remote.Clean(p)} }

// URL returns an external archive URL spec.
func URL(u string) InputSpec { return InputSpec{Kind: KindURL, Path: u} }

// ErrMultipleArchives is returned when a folder holds more than one archive.
var ErrMultipleArchives = errors.New("multiple archives in one folder are not supported")

// reservedNames are the directory names inside a project that never name a project root.
var reservedNames = map[string]bool{"img": true, "ann": true, "meta": true}

// Lister lists remote directories.
type Lister interface {
	List(ctx context.Context, dir string) ([]remote.Entry, error)
}

// Resolve rewrites spec until it points at the right level for download.
// URL specs are returned unchanged. A folder with more than one archive is a
// configuration error and nothing is downloaded.
func Resolve(ctx context.Context, lister Lister, spec InputSpec) (InputSpec, error) {
	switch spec.Kind {
	case KindURL:
		return spec, nil
	case KindFile:
		return resolveFile(ctx, lister, remote.Clean(spec.Path))
	case KindDirectory:
		return resolveDir(ctx, lister, remote.Clean(spec.Path))
	default:
		return spec, apperr.Config(fmt.Sprintf("unknown input kind %d", spec.Kind), nil)
	}
}

func resolveFile(ctx context.Context, lister Lister, p string) (InputSpec, error) {
	name := path.Base(p)
	if archive.IsArchive(name) {
		return File(p), nil
	}
	ext := strings.ToLower(path.Ext(name))
	if name == annotation.MetaFileName || ext == annotation.Ext || filehandler.IsImage(ext) {
		log.Info().Str("file", p).Msg("File points inside a project, switching to folder mode")
		return resolveDir(ctx, lister, path.Dir(p))
	}
	return File(p), nil
}

func resolveDir(ctx context.Context, lister Lister, dir string) (InputSpec, error) {
	for {
		entries, err := lister.List(ctx, dir)
		if err != nil {
			return InputSpec{}, apperr.Config(fmt.Sprintf("cannot list input folder %s", dir), err)
		}

		var archives []remote.Entry
		var subdirs []string
		for _, e := range entries {
			if e.IsDir {
				subdirs = append(subdirs, e.Name)
				continue
			}
			if archive.IsArchive(e.Name) {
				archives = append(archives, e)
			}
		}
		if len(archives) > 1 {
			return InputSpec{}, apperr.Config(fmt.Sprintf("folder %s holds %d archives", dir, len(archives)), ErrMultipleArchives)
		}
		if len(entries) == 1 && len(archives) == 1 {
			log.Info().Str("archive", archives[0].Path).Msg("Folder mode selected but folder holds one archive, switching to file mode")
			return File(archives[0].Path), nil
		}

		if dir == "/" {
			return Directory(dir), nil
		}
		parent := path.Dir(dir)

		if len(subdirs) > 0 && allReserved(subdirs) {
			log.Info().Str("dir", dir).Msg("Folder is a dataset, moving up to its project")
			dir = parent
			continue
		}
		if reservedNames[path.Base(dir)] {
			log.Info().Str("dir", dir).Msg("Folder is inside a dataset, moving up")
			dir = parent
			continue
		}
		if hasMeta(ctx, lister, parent) {
			log.Info().Str("dir", dir).Str("project", parent).Msg("Parent folder holds meta.json, moving up")
			dir = parent
			continue
		}
		return Directory(dir), nil
	}
}

func allReserved(names []string) bool {
	for _, n := range names {
		if !reservedNames[n] {
			return false
		}
	}
	return true
}

func hasMeta(ctx context.Context, lister Lister, dir string) bool {
	entries, err := lister.List(ctx, dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir && e.Name == annotation.MetaFileName {
			return true
		}
	}
	return false
}
