package filehandler

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/testutil"
)

func TestImageSize(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteImage(t, fs, "/data/a.png", 12, 7)

	w, h, err := ImageSize(fs, "/data/a.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 12 || h != 7 {
		t.Errorf("ImageSize() = (%d, %d), want (12, 7)", w, h)
	}
}

func TestImageSize_SniffsFormatNotExtension(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteImage(t, fs, "/data/a.jpg", 3, 4)

	w, h, err := ImageSize(fs, "/data/a.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 3 || h != 4 {
		t.Errorf("ImageSize() = (%d, %d), want (3, 4)", w, h)
	}
}

func TestImageSize_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFile(t, fs, "/data/broken.jpg", []byte("not an image"))

	if _, _, err := ImageSize(fs, "/data/broken.jpg"); err == nil {
		t.Error("expected error for unreadable image")
	}
	if _, _, err := ImageSize(fs, "/data/missing.jpg"); err == nil {
		t.Error("expected error for missing image")
	}
}

func TestListImages(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteImage(t, fs, "/src/b.png", 1, 1)
	testutil.WriteImage(t, fs, "/src/a.JPG", 1, 1)
	testutil.WriteFile(t, fs, "/src/notes.txt", []byte("x"))
	testutil.WriteImage(t, fs, "/src/nested/c.jpeg", 1, 1)

	flat, err := ListImages(fs, "/src", ScanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flat) != 2 || flat[0] != "/src/a.JPG" || flat[1] != "/src/b.png" {
		t.Errorf("flat listing = %v", flat)
	}

	deep, err := ListImages(fs, "/src", ScanOptions{Recursive: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deep) != 3 {
		t.Errorf("recursive listing = %v, want 3 files", deep)
	}

	if _, err := ListImages(fs, "/missing", ScanOptions{}); err == nil {
		t.Error("expected error for missing directory")
	}
}
