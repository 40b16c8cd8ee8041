package filehandler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// ScanOptions configures image listing.
type ScanOptions struct {
	// Recursive descends into subdirectories. When false only files directly
	// inside the directory are returned.
	Recursive bool
}

// ListImages returns the paths of image files in dirPath, sorted by path.
// Entries that cannot be read are logged and skipped.
func ListImages(fs afero.Fs, dirPath string, opts ScanOptions) ([]string, error) {
	info, err := fs.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", dirPath)
		}
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dirPath)
	}

	var images []string
	if !opts.Recursive {
		entries, err := afero.ReadDir(fs, dirPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !HasImageExt(entry.Name()) {
				continue
			}
			images = append(images, filepath.Join(dirPath, entry.Name()))
		}
		sort.Strings(images)
		return images, nil
	}

	err = afero.Walk(fs, dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Error accessing path, skipping")
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if HasImageExt(info.Name()) {
			images = append(images, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(images)
	return images, nil
}
