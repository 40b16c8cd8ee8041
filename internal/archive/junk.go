package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var junkFiles = map[string]bool{
	".DS_Store":   true,
	"Thumbs.db":   true,
	"desktop.ini": true,
}

var junkDirs = map[string]bool{
	"__MACOSX": true,
}

func isJunk(info os.FileInfo) bool {
	if info.IsDir() {
		return junkDirs[info.Name()]
	}
	return junkFiles[info.Name()] || strings.HasPrefix(info.Name(), "._")
}

// RemoveJunk deletes OS metadata files and folders under dir and returns how
// many entries were removed.
func RemoveJunk(fs afero.Fs, dir string) (int, error) {
	var junk []string
	err := afero.Walk(fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p != dir && isJunk(info) {
			junk = append(junk, p)
			if info.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	for _, p := range junk {
		if err := fs.RemoveAll(p); err != nil {
			return 0, fmt.Errorf("remove %s: %w", p, err)
		}
	}
	if len(junk) > 0 {
		log.Debug().Str("dir", dir).Int("removed", len(junk)).Msg("Removed junk files")
	}
	return len(junk), nil
}
