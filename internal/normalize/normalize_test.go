package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/remote"
	"github.com/fpang/image-project-importer/internal/testutil"
)

func teamFiles(t *testing.T, files ...string) *remote.LocalStore {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		testutil.WriteFile(t, fs, "/team"+f, []byte("x"))
	}
	return remote.NewLocalStore(fs, "/team", afero.NewMemMapFs())
}

func TestResolve(t *testing.T) {
	store := teamFiles(t,
		"/exports/proj/meta.json",
		"/exports/proj/ds1/img/a.jpg",
		"/exports/proj/ds1/ann/a.jpg.json",
		"/uploads/single/project.tar.gz",
		"/uploads/loose/a.png",
		"/uploads/loose/b.png",
		"/uploads/notes.txt",
	)

	tests := []struct {
		name string
		in   InputSpec
		want InputSpec
	}{
		{"project root", Directory("/exports/proj"), Directory("/exports/proj")},
		{"dataset folder", Directory("/exports/proj/ds1"), Directory("/exports/proj")},
		{"img folder", Directory("/exports/proj/ds1/img/"), Directory("/exports/proj")},
		{"single archive", Directory("/uploads/single"), File("/uploads/single/project.tar.gz")},
		{"loose images", Directory("/uploads/loose"), Directory("/uploads/loose")},
		{"meta file", File("/exports/proj/meta.json"), Directory("/exports/proj")},
		{"image file", File("/exports/proj/ds1/img/a.jpg"), Directory("/exports/proj")},
		{"annotation file", File("/exports/proj/ds1/ann/a.jpg.json"), Directory("/exports/proj")},
		{"archive file", File("/uploads/single/project.tar.gz"), File("/uploads/single/project.tar.gz")},
		{"other file", File("/uploads/notes.txt"), File("/uploads/notes.txt")},
		{"url", URL("https://example.com/p.zip"), URL("https://example.com/p.zip")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(context.Background(), store, tt.in)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

// listOnly fails the test on anything but List.
type listOnly struct {
	remote.Store
	t     *testing.T
	lists int
}

func (l *listOnly) List(ctx context.Context, dir string) ([]remote.Entry, error) {
	l.lists++
	return l.Store.List(ctx, dir)
}

func (l *listOnly) FetchFile(context.Context, string, string, remote.ProgressFunc) error {
	l.t.Fatal("FetchFile must not be called")
	return nil
}

func TestResolve_MultipleArchivesIsConfigError(t *testing.T) {
	store := &listOnly{Store: teamFiles(t, "/uploads/a.zip", "/uploads/b.tar"), t: t}

	_, err := Resolve(context.Background(), store, Directory("/uploads"))
	if !errors.Is(err, ErrMultipleArchives) {
		t.Fatalf("Resolve() error = %v, want ErrMultipleArchives", err)
	}
	if !apperr.IsKind(err, apperr.KindConfig) {
		t.Errorf("error kind should be config: %v", err)
	}
	if store.lists != 1 {
		t.Errorf("listed %d times, want 1", store.lists)
	}
}

func TestResolve_MissingFolder(t *testing.T) {
	store := teamFiles(t, "/a.txt")
	_, err := Resolve(context.Background(), store, Directory("/missing"))
	if !apperr.IsKind(err, apperr.KindConfig) {
		t.Errorf("Resolve() error = %v, want config error", err)
	}
}

func TestResolve_RootIsNotWalkedPast(t *testing.T) {
	store := teamFiles(t, "/img/a.jpg", "/img/b.jpg")
	got, err := Resolve(context.Background(), store, Directory("/img"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != Directory("/") {
		t.Errorf("Resolve() = %+v, want root", got)
	}
}
