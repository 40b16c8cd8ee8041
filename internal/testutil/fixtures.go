// Package testutil provides shared fixtures for building project trees in tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

// PNG returns the bytes of a solid w×h PNG image.
func PNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// WriteImage writes a w×h PNG at path, creating parent directories.
// The extension of path is irrelevant to decoders, which sniff the header.
func WriteImage(t *testing.T, fs afero.Fs, path string, w, h int) {
	t.Helper()
	WriteFile(t, fs, path, PNG(t, w, h))
}

// WriteFile writes raw bytes at path, creating parent directories.
func WriteFile(t *testing.T, fs afero.Fs, path string, data []byte) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteJSON marshals v and writes it at path.
func WriteJSON(t *testing.T, fs afero.Fs, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	WriteFile(t, fs, path, data)
}

// Meta returns a minimal images-project meta document with the given
// class title → shape pairs.
func Meta(classes map[string]string) map[string]any {
	list := make([]map[string]any, 0, len(classes))
	for title, shape := range classes {
		list = append(list, map[string]any{"title": title, "shape": shape, "color": "#FF0000"})
	}
	return map[string]any{"classes": list, "tags": []any{}, "projectType": "images"}
}

// Rectangle returns a label object for a rectangle of the given class.
func Rectangle(class string) map[string]any {
	return map[string]any{
		"classTitle":   class,
		"geometryType": "rectangle",
		"points": map[string]any{
			"exterior": [][]int{{1, 1}, {5, 5}},
			"interior": []any{},
		},
		"tags": []any{},
	}
}

// Annotation returns an annotation document with the given labels.
func Annotation(w, h int, labels ...map[string]any) map[string]any {
	if labels == nil {
		labels = []map[string]any{}
	}
	return map[string]any{
		"description": "",
		"tags":        []any{},
		"size":        map[string]int{"width": w, "height": h},
		"objects":     labels,
	}
}

// Exists reports whether path exists on fs.
func Exists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return ok
}
