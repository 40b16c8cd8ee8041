package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// LocalStore serves team files from a directory on a filesystem, such as
// storage mounted on the agent that runs the import.
type LocalStore struct {
	src   afero.Fs
	root  string
	local afero.Fs
}

// NewLocalStore creates a store rooted at root on src. Downloaded files are
// written to local.
func NewLocalStore(src afero.Fs, root string, local afero.Fs) *LocalStore {
	return &LocalStore{src: src, root: filepath.Clean(root), local: local}
}

func (s *LocalStore) abs(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(Clean(p), "/")))
}

// List returns the direct children of dir.
func (s *LocalStore) List(_ context.Context, dir string) ([]Entry, error) {
	infos, err := afero.ReadDir(s.src, s.abs(dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", dir, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	base := Clean(dir)
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		e := Entry{Path: path.Join(base, info.Name()), Name: info.Name(), IsDir: info.IsDir()}
		if !info.IsDir() {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return entries, nil
}

// DirSize sums the sizes of all files under dir.
func (s *LocalStore) DirSize(_ context.Context, dir string) (int64, error) {
	var total int64
	err := afero.Walk(s.src, s.abs(dir), func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("size of %s: %w", dir, err)
	}
	return total, nil
}

// FileSize returns the size of one file.
func (s *LocalStore) FileSize(_ context.Context, p string) (int64, error) {
	info, err := s.src.Stat(s.abs(p))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.Size(), nil
}

// FetchDirectory copies the subtree at remoteDir into localDir.
func (s *LocalStore) FetchDirectory(ctx context.Context, remoteDir, localDir string, progress ProgressFunc) error {
	srcRoot := s.abs(remoteDir)
	return afero.Walk(s.src, srcRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcRoot, p)
		if err != nil {
			return err
		}
		dest := filepath.Join(localDir, rel)
		if info.IsDir() {
			return s.local.MkdirAll(dest, 0o755)
		}
		return s.copy(p, dest, progress)
	})
}

// FetchFile copies one file to localPath.
func (s *LocalStore) FetchFile(_ context.Context, remotePath, localPath string, progress ProgressFunc) error {
	return s.copy(s.abs(remotePath), localPath, progress)
}

func (s *LocalStore) copy(src, dest string, progress ProgressFunc) error {
	in, err := s.src.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := s.local.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	out, err := s.local.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(&progressWriter{w: out, progress: progress}, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}
