// Package repair reconciles the images of each dataset with its annotation
// files so that a project can be uploaded without per-item failures.
//
// Every image ends up with exactly one annotation named <image>.json in the
// dataset's ann/ directory. Broken or missing annotations are replaced with
// empty ones, and annotation files that belong to no image are deleted.
package repair

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/annotation"
	"github.com/fpang/image-project-importer/internal/filehandler"
)

// Dataset directory names.
const (
	ImgDir = "img"
	AnnDir = "ann"
)

// failureGroup collects the images that failed for the same reason.
type failureGroup struct {
	cause  string
	images []string
}

// Dataset repairs one dataset and returns the number of usable
// (image, annotation) pairs. A result of zero means the caller must drop the
// dataset.
//
// meta must already be trimmed; labels whose class is in removed are stripped
// from otherwise valid annotations.
func Dataset(fs afero.Fs, imgDir, annDir string, meta *annotation.ProjectMeta, removed map[string]bool) (int, error) {
	images, err := filehandler.ListImages(fs, imgDir, filehandler.ScanOptions{})
	if err != nil {
		return 0, fmt.Errorf("list images in %s: %w", imgDir, err)
	}
	if err := fs.MkdirAll(annDir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", annDir, err)
	}

	claimed := make(map[string]bool, len(images))
	consumed := make(map[string]bool, len(images))
	groups := make(map[string]*failureGroup)
	var groupOrder []string
	items := 0

	for _, imgPath := range images {
		imgName := filepath.Base(imgPath)
		target := imgName + annotation.Ext

		annName := effectiveAnnName(fs, annDir, imgName, consumed)
		var verr *annotation.ValidationError
		if annName == "" {
			verr = annotation.MissingFileError()
		} else {
			consumed[annName] = true
			verr = checkAnnotation(fs, filepath.Join(annDir, annName), filepath.Join(annDir, target), meta, removed)
		}

		if verr == nil {
			if annName != target {
				if err := fs.Rename(filepath.Join(annDir, annName), filepath.Join(annDir, target)); err != nil {
					return items, fmt.Errorf("rename %s: %w", annName, err)
				}
			}
			claimed[target] = true
			items++
			continue
		}

		width, height, sizeErr := filehandler.ImageSize(fs, imgPath)
		if sizeErr != nil {
			log.Warn().Err(sizeErr).Str("image", imgPath).Msg("Image is unreadable, removing it from the dataset")
			if err := fs.Remove(imgPath); err != nil {
				return items, fmt.Errorf("remove unreadable image %s: %w", imgPath, err)
			}
			continue
		}
		if err := annotation.Write(fs, filepath.Join(annDir, target), annotation.NewEmpty(width, height)); err != nil {
			return items, err
		}
		claimed[target] = true
		items++

		key := verr.GroupKey()
		group, ok := groups[key]
		if !ok {
			group = &failureGroup{cause: verr.Error()}
			groups[key] = group
			groupOrder = append(groupOrder, key)
		}
		group.images = append(group.images, imgName)
	}

	datasetName := filepath.Base(filepath.Dir(imgDir))
	for _, key := range groupOrder {
		group := groups[key]
		log.Warn().
			Str("dataset", datasetName).
			Str("cause", group.cause).
			Int("count", len(group.images)).
			Strs("images", group.images).
			Msg("Annotations replaced with empty ones")
	}

	if err := removeOrphans(fs, annDir, claimed, datasetName); err != nil {
		return items, err
	}
	return items, nil
}

// effectiveAnnName returns the annotation file name that belongs to the
// image: <image>.json if present, else <stem>.json if present and not already
// consumed by another image, else "".
func effectiveAnnName(fs afero.Fs, annDir, imgName string, consumed map[string]bool) string {
	full := imgName + annotation.Ext
	if isFile(fs, filepath.Join(annDir, full)) {
		return full
	}
	stem := strings.TrimSuffix(imgName, path.Ext(imgName)) + annotation.Ext
	if stem != full && !consumed[stem] && isFile(fs, filepath.Join(annDir, stem)) {
		return stem
	}
	return ""
}

// checkAnnotation loads and validates one annotation. Labels of removed
// classes are stripped and the result written to dest.
func checkAnnotation(fs afero.Fs, src, dest string, meta *annotation.ProjectMeta, removed map[string]bool) *annotation.ValidationError {
	doc, err := annotation.Load(fs, src)
	if err != nil {
		return asValidation(err)
	}
	needsFilter, err := doc.Validate(meta, removed)
	if err != nil {
		return asValidation(err)
	}
	if !needsFilter {
		return nil
	}

	dropped := doc.FilterLabels(func(class string) bool { return !removed[class] })
	if err := annotation.Write(fs, src, doc); err != nil {
		log.Warn().Err(err).Str("annotation", src).Msg("Failed to rewrite annotation")
		return asValidation(err)
	}
	log.Debug().Str("annotation", dest).Int("labels", dropped).Msg("Stripped labels of removed classes")
	return nil
}

func asValidation(err error) *annotation.ValidationError {
	var verr *annotation.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return &annotation.ValidationError{Kind: annotation.ParseFailure, Detail: err.Error()}
}

// removeOrphans deletes every file in annDir that no image claimed.
func removeOrphans(fs afero.Fs, annDir string, claimed map[string]bool, datasetName string) error {
	entries, err := afero.ReadDir(fs, annDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", annDir, err)
	}
	var orphans []string
	for _, e := range entries {
		if claimed[e.Name()] {
			continue
		}
		if err := fs.RemoveAll(filepath.Join(annDir, e.Name())); err != nil {
			return fmt.Errorf("remove orphan %s: %w", e.Name(), err)
		}
		orphans = append(orphans, e.Name())
	}
	if len(orphans) > 0 {
		slices.Sort(orphans)
		log.Warn().
			Str("dataset", datasetName).
			Strs("files", orphans).
			Msg("Removed annotations without a matching image")
	}
	return nil
}

func isFile(fs afero.Fs, p string) bool {
	info, err := fs.Stat(p)
	return err == nil && !info.IsDir()
}
