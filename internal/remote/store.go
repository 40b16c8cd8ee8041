// Package remote provides read access to the team file storage that import
// inputs are uploaded to, and copies files and folders from it to local disk.
//
// Remote paths are slash-separated and rooted at "/". A directory path may or
// may not end with "/".
package remote

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when a remote path does not exist.
var ErrNotFound = errors.New("remote path not found")

// ProgressFunc receives the number of bytes transferred since the last call.
type ProgressFunc func(n int64)

// Entry is one item of a directory listing.
type Entry struct {
	Path  string
	Name  string
	IsDir bool
	Size  int64
}

// Store is a remote file storage.
type Store interface {
	// List returns the direct children of dir.
	List(ctx context.Context, dir string) ([]Entry, error)
	// DirSize returns the total size of all files under dir.
	DirSize(ctx context.Context, dir string) (int64, error)
	// FileSize returns the size of one file.
	FileSize(ctx context.Context, p string) (int64, error)
	// FetchDirectory copies the subtree at remoteDir into localDir.
	FetchDirectory(ctx context.Context, remoteDir, localDir string, progress ProgressFunc) error
	// FetchFile copies one file to localPath.
	FetchFile(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error
}

// Clean normalizes a remote path to a rooted, slash-separated form without a trailing slash.
func Clean(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

// DirRef returns p with exactly one trailing slash.
func DirRef(p string) string {
	c := Clean(p)
	if c == "/" {
		return c
	}
	return c + "/"
}

// progressWriter reports every write to a ProgressFunc.
type progressWriter struct {
	w        io.Writer
	progress ProgressFunc
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 && pw.progress != nil {
		pw.progress(int64(n))
	}
	return n, err
}
