package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ValidateAndResolveDirectory checks that the path exists on fs and is a
// directory, then returns the absolute path.
func ValidateAndResolveDirectory(fs afero.Fs, dirPath string) (string, error) {
	info, err := fs.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory not found: %s", dirPath)
		}
		return "", fmt.Errorf("access directory %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", dirPath)
	}

	absPath, err := filepath.Abs(dirPath)
	if err == nil {
		dirPath = absPath
	}

	return dirPath, nil
}

// SplitLocalFolder turns a picked folder into a local store root and the
// folder name inside it.
func SplitLocalFolder(absPath string) (root, folder string) {
	absPath = filepath.Clean(absPath)
	return filepath.Dir(absPath), filepath.Base(absPath)
}
