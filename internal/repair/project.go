package repair

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/annotation"
	"github.com/fpang/image-project-importer/internal/apperr"
)

// Report describes the outcome of repairing one project.
type Report struct {
	Root string
	// Datasets maps each surviving dataset name to its item count.
	Datasets map[string]int
	// Dropped lists datasets removed because they held no usable items.
	Dropped []string
	// RemovedClasses lists classes dropped from meta.json for unsupported geometry.
	RemovedClasses []string
}

// Items returns the total number of usable items across all datasets.
func (r *Report) Items() int {
	total := 0
	for _, n := range r.Datasets {
		total += n
	}
	return total
}

// DatasetNames returns the surviving dataset names in sorted order.
func (r *Report) DatasetNames() []string {
	names := make([]string, 0, len(r.Datasets))
	for name := range r.Datasets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Project repairs every dataset of the project rooted at root.
//
// Classes with unsupported geometry are removed from meta.json once, before
// any dataset is checked, and their labels are stripped from every annotation.
// Datasets without images, or whose repair leaves zero items, are deleted.
// A returned error is a structure error; the project should then be routed to
// the images-only import.
func Project(fs afero.Fs, root string) (*Report, error) {
	metaPath := filepath.Join(root, annotation.MetaFileName)
	meta, err := annotation.LoadMeta(fs, metaPath)
	if err != nil {
		return nil, apperr.Structure(fmt.Sprintf("project %s has no usable meta", filepath.Base(root)), err)
	}

	trimmed, removedClasses := meta.TrimUnsupported()
	removed := make(map[string]bool, len(removedClasses))
	if len(removedClasses) > 0 {
		for _, title := range removedClasses {
			removed[title] = true
		}
		if err := annotation.WriteMeta(fs, metaPath, trimmed); err != nil {
			return nil, apperr.Structure("rewrite project meta", err)
		}
		log.Warn().
			Str("project", filepath.Base(root)).
			Strs("classes", removedClasses).
			Msg("Removed classes with unsupported geometry from project meta; their labels will be stripped")
	}

	report := &Report{
		Root:           root,
		Datasets:       make(map[string]int),
		RemovedClasses: removedClasses,
	}

	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return nil, apperr.Structure("list project", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dsDir := filepath.Join(root, e.Name())
		imgDir := filepath.Join(dsDir, ImgDir)

		count := 0
		if isDir(fs, imgDir) {
			count, err = Dataset(fs, imgDir, filepath.Join(dsDir, AnnDir), trimmed, removed)
			if err != nil {
				return nil, apperr.Structure(fmt.Sprintf("repair dataset %s", e.Name()), err)
			}
		}

		if count == 0 {
			log.Warn().Str("project", filepath.Base(root)).Str("dataset", e.Name()).Msg("Dataset has no usable items, removing it")
			if err := fs.RemoveAll(dsDir); err != nil {
				return nil, apperr.Structure(fmt.Sprintf("remove dataset %s", e.Name()), err)
			}
			report.Dropped = append(report.Dropped, e.Name())
			continue
		}
		report.Datasets[e.Name()] = count
	}

	log.Info().
		Str("project", filepath.Base(root)).
		Int("datasets", len(report.Datasets)).
		Int("items", report.Items()).
		Strs("dropped", report.Dropped).
		Msg("Project repaired")
	return report, nil
}

func isDir(fs afero.Fs, p string) bool {
	ok, err := afero.IsDir(fs, p)
	return err == nil && ok
}
