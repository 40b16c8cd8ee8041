package materialize

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/fetch"
	"github.com/fpang/image-project-importer/internal/normalize"
	"github.com/fpang/image-project-importer/internal/remote"
	"github.com/fpang/image-project-importer/internal/testutil"
)

func tarBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// archiveFetcher writes a fixed archive to the destination instead of downloading.
type archiveFetcher struct {
	fs   afero.Fs
	data []byte
	urls []string
}

func (f *archiveFetcher) Download(_ context.Context, rawURL, dest string, progress fetch.ProgressFunc) (int64, error) {
	f.urls = append(f.urls, rawURL)
	if err := f.fs.MkdirAll("/work/"+URLProjectName, 0o755); err != nil {
		return 0, err
	}
	if err := afero.WriteFile(f.fs, dest, f.data, 0o644); err != nil {
		return 0, err
	}
	if progress != nil {
		progress(int64(len(f.data)))
	}
	return int64(len(f.data)), nil
}

func newMaterializer(t *testing.T, team map[string][]byte) (*Materializer, afero.Fs) {
	t.Helper()
	src := afero.NewMemMapFs()
	for p, data := range team {
		testutil.WriteFile(t, src, "/team"+p, data)
	}
	local := afero.NewMemMapFs()
	return &Materializer{
		Store:      remote.NewLocalStore(src, "/team", local),
		Fs:         local,
		StorageDir: "/work",
	}, local
}

func TestMaterialize_Directory(t *testing.T) {
	m, local := newMaterializer(t, map[string][]byte{
		"/exports/proj/meta.json":       []byte("{}"),
		"/exports/proj/ds1/img/a.jpg":   []byte("jpeg"),
		"/exports/proj/ds1/img/._a.jpg": []byte("apple"),
		"/exports/proj/.DS_Store":       []byte("junk"),
	})

	dir, err := m.Materialize(context.Background(), normalize.Directory("/exports/proj"))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if dir != "/work/proj" {
		t.Errorf("dir = %q, want /work/proj", dir)
	}
	if !testutil.Exists(t, local, "/work/proj/ds1/img/a.jpg") || !testutil.Exists(t, local, "/work/proj/meta.json") {
		t.Error("project files missing")
	}
	for _, junk := range []string{"/work/proj/.DS_Store", "/work/proj/ds1/img/._a.jpg"} {
		if testutil.Exists(t, local, junk) {
			t.Errorf("junk file %s not removed", junk)
		}
	}
}

func TestMaterialize_ArchiveFile(t *testing.T) {
	m, local := newMaterializer(t, map[string][]byte{
		"/uploads/proj.tar": tarBytes(t, map[string]string{
			"proj/meta.json":     "{}",
			"proj/ds1/img/a.jpg": "jpeg",
		}),
	})

	dir, err := m.Materialize(context.Background(), normalize.File("/uploads/proj.tar"))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if dir != "/work/proj" {
		t.Errorf("dir = %q, want /work/proj", dir)
	}
	if !testutil.Exists(t, local, "/work/proj/proj/ds1/img/a.jpg") {
		t.Error("archive content missing")
	}
	if testutil.Exists(t, local, "/work/proj.tar") {
		t.Error("archive not removed after unpacking")
	}
}

func TestMaterialize_UnsupportedFile(t *testing.T) {
	m, local := newMaterializer(t, map[string][]byte{"/uploads/notes.txt": []byte("hi")})

	_, err := m.Materialize(context.Background(), normalize.File("/uploads/notes.txt"))
	if !errors.Is(err, ErrUnsupportedFile) || !apperr.IsKind(err, apperr.KindConfig) {
		t.Fatalf("expected unsupported file config error, got %v", err)
	}
	if testutil.Exists(t, local, "/work/notes.txt") {
		t.Error("unsupported file was downloaded")
	}
}

func TestMaterialize_MultipleProjects(t *testing.T) {
	m, _ := newMaterializer(t, map[string][]byte{
		"/uploads/two.tar": tarBytes(t, map[string]string{
			"a/meta.json": "{}",
			"b/meta.json": "{}",
		}),
	})

	m.SingleProject = true
	_, err := m.Materialize(context.Background(), normalize.File("/uploads/two.tar"))
	if !errors.Is(err, ErrMultipleProjects) {
		t.Fatalf("expected ErrMultipleProjects, got %v", err)
	}
	if !apperr.IsFatal(err) {
		t.Error("multiple projects must be fatal")
	}

	m.SingleProject = false
	if _, err := m.Materialize(context.Background(), normalize.File("/uploads/two.tar")); err != nil {
		t.Errorf("without a single-project requirement: %v", err)
	}
}

func TestMaterialize_URL(t *testing.T) {
	m, local := newMaterializer(t, nil)
	fetcher := &archiveFetcher{fs: local, data: tarBytes(t, map[string]string{
		"meta.json":     "{}",
		"ds/img/x.png":  "png",
		"ds/ann/x.json": "{}",
	})}
	m.Fetcher = fetcher

	dir, err := m.Materialize(context.Background(), normalize.URL("https://example.com/p.tar"))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if dir != "/work/my_project" {
		t.Errorf("dir = %q, want /work/my_project", dir)
	}
	if !testutil.Exists(t, local, "/work/my_project/ds/img/x.png") {
		t.Error("archive content missing")
	}
	if testutil.Exists(t, local, "/work/my_project/my_project.tar") {
		t.Error("downloaded archive not removed")
	}
	if len(fetcher.urls) != 1 || fetcher.urls[0] != "https://example.com/p.tar" {
		t.Errorf("fetched %v", fetcher.urls)
	}
}

func TestMaterialize_CorruptArchive(t *testing.T) {
	m, local := newMaterializer(t, map[string][]byte{"/uploads/bad.zip": []byte("not an archive at all")})

	_, err := m.Materialize(context.Background(), normalize.File("/uploads/bad.zip"))
	if !apperr.IsKind(err, apperr.KindTransfer) {
		t.Fatalf("expected transfer error, got %v", err)
	}
	if testutil.Exists(t, local, "/work/bad.zip") || testutil.Exists(t, local, "/work/bad") {
		t.Error("partial artifacts left behind")
	}
}
