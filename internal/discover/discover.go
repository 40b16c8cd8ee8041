// Package discover locates project roots and loose image folders inside a
// materialized input tree.
//
// Discovery runs in two phases. Classify walks the tree once and builds an
// immutable Result without touching the filesystem; Apply then deletes the
// directories the Result marks for pruning.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/annotation"
	"github.com/fpang/image-project-importer/internal/filehandler"
	"github.com/fpang/image-project-importer/internal/repair"
)

// Result is the classification of a tree.
type Result struct {
	Root string
	// ProjectRoots holds directories with a valid images meta.json and at
	// least one usable dataset.
	ProjectRoots []string
	// ImageDirs holds directories with loose images. It is only populated
	// when ProjectRoots is empty.
	ImageDirs []string
	// Unsupported counts meta.json files of non-image projects by type.
	Unsupported map[string]int
	// UnsupportedPaths holds the roots of those projects.
	UnsupportedPaths []string
	// Pruned holds directories that are empty or are datasets without images.
	Pruned []string
}

// UnsupportedTotal returns the number of non-image projects found.
func (r *Result) UnsupportedTotal() int {
	total := 0
	for _, n := range r.Unsupported {
		total += n
	}
	return total
}

type dirInfo struct {
	subdirs  []string
	images   int
	hasFiles bool
	hasMeta  bool
	meta     *annotation.ProjectMeta
	metaErr  error
}

// Scan classifies the tree at root and prunes it.
func Scan(fs afero.Fs, root string) (*Result, error) {
	res, err := Classify(fs, root)
	if err != nil {
		return nil, err
	}
	if err := Apply(fs, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Classify walks the tree at root and decides what every directory is.
// The filesystem is not modified.
func Classify(fs afero.Fs, root string) (*Result, error) {
	root = filepath.Clean(root)
	if ok, err := afero.IsDir(fs, root); err != nil || !ok {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}
	dirs := make(map[string]*dirInfo)
	var order []string

	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirs[p] = &dirInfo{}
			order = append(order, p)
			if p != root {
				dirs[filepath.Dir(p)].subdirs = append(dirs[filepath.Dir(p)].subdirs, p)
			}
			return nil
		}

		parent := dirs[filepath.Dir(p)]
		if info.Name() == annotation.MetaFileName {
			parent.hasMeta = true
			parent.meta, parent.metaErr = annotation.LoadMeta(fs, p)
		}
		if filehandler.HasImageExt(info.Name()) {
			parent.images++
		}
		for dir := filepath.Dir(p); ; dir = filepath.Dir(dir) {
			dirs[dir].hasFiles = true
			if dir == root {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	res := &Result{Root: root, Unsupported: make(map[string]int)}
	var claimed []string

	for _, p := range order {
		d := dirs[p]
		if !d.hasMeta || within(p, claimed) {
			continue
		}
		if d.metaErr != nil {
			log.Warn().Err(d.metaErr).Str("dir", p).Msg("Ignoring directory with invalid meta.json")
			continue
		}
		if !d.meta.IsImages() {
			res.Unsupported[d.meta.ProjectType]++
			res.UnsupportedPaths = append(res.UnsupportedPaths, p)
			claimed = append(claimed, p)
			continue
		}

		var datasets, empty []string
		for _, sub := range d.subdirs {
			img, ok := dirs[filepath.Join(sub, repair.ImgDir)]
			if ok && img.images > 0 {
				datasets = append(datasets, sub)
				continue
			}
			empty = append(empty, sub)
		}
		if len(datasets) == 0 {
			continue
		}
		res.ProjectRoots = append(res.ProjectRoots, p)
		res.Pruned = append(res.Pruned, empty...)
		claimed = append(claimed, p)
	}

	for _, p := range order {
		if p == root || dirs[p].hasFiles || within(p, res.Pruned) {
			continue
		}
		res.Pruned = append(res.Pruned, p)
	}

	if len(res.ProjectRoots) == 0 {
		for _, p := range order {
			if dirs[p].images == 0 || within(p, res.UnsupportedPaths) {
				continue
			}
			res.ImageDirs = append(res.ImageDirs, p)
		}
	}

	if n := res.UnsupportedTotal(); n > 0 {
		evt := log.Warn().Int("count", n)
		for projectType, count := range res.Unsupported {
			evt = evt.Int(projectType, count)
		}
		evt.Msg("Found projects of unsupported type; they will not be imported")
	}
	log.Info().
		Int("projects", len(res.ProjectRoots)).
		Int("imageDirs", len(res.ImageDirs)).
		Int("pruned", len(res.Pruned)).
		Msg("Input tree classified")
	return res, nil
}

// Apply deletes the directories res marks for pruning.
func Apply(fs afero.Fs, res *Result) error {
	for _, p := range res.Pruned {
		log.Debug().Str("dir", p).Msg("Pruning directory")
		if err := fs.RemoveAll(p); err != nil {
			return fmt.Errorf("prune %s: %w", p, err)
		}
	}
	return nil
}

// within reports whether p equals or is nested under any of dirs.
func within(p string, dirs []string) bool {
	for _, d := range dirs {
		if p == d || strings.HasPrefix(p, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
