package discover

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/testutil"
)

func imagesMeta() map[string]any {
	return testutil.Meta(map[string]string{"car": "rectangle"})
}

func TestScan_FindsNestedProject(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteJSON(t, fs, "/in/export/proj/meta.json", imagesMeta())
	testutil.WriteImage(t, fs, "/in/export/proj/ds1/img/a.jpg", 2, 2)
	testutil.WriteImage(t, fs, "/in/export/proj/ds2/img/b.jpg", 2, 2)
	if err := fs.MkdirAll("/in/export/proj/ds3/img", 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteImage(t, fs, "/in/export/proj/notes/loose.png", 2, 2)
	if err := fs.MkdirAll("/in/empty/deeper", 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := Scan(fs, "/in")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if diff := cmp.Diff([]string{"/in/export/proj"}, res.ProjectRoots); diff != "" {
		t.Errorf("project roots mismatch (-want +got):\n%s", diff)
	}
	if len(res.ImageDirs) != 0 {
		t.Errorf("image dirs should be empty when a project exists, got %v", res.ImageDirs)
	}
	wantPruned := []string{"/in/empty", "/in/export/proj/ds3", "/in/export/proj/notes"}
	if diff := cmp.Diff(wantPruned, res.Pruned, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("pruned mismatch (-want +got):\n%s", diff)
	}
	for _, p := range wantPruned {
		if testutil.Exists(t, fs, p) {
			t.Errorf("%s should have been deleted", p)
		}
	}
	if !testutil.Exists(t, fs, "/in/export/proj/ds1/img/a.jpg") {
		t.Error("valid dataset was deleted")
	}
}

func TestScan_ImageDirsOnlyWithoutProjects(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		testutil.WriteImage(t, fs, "/in/loose/"+name, 2, 2)
	}
	testutil.WriteFile(t, fs, "/in/docs/readme.txt", []byte("hi"))

	res, err := Scan(fs, "/in")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.ProjectRoots) != 0 {
		t.Errorf("unexpected project roots: %v", res.ProjectRoots)
	}
	if diff := cmp.Diff([]string{"/in/loose"}, res.ImageDirs); diff != "" {
		t.Errorf("image dirs mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify_UnsupportedProjectsAreTallied(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteJSON(t, fs, "/in/videos/meta.json", map[string]any{"classes": []any{}, "tags": []any{}, "projectType": "videos"})
	testutil.WriteImage(t, fs, "/in/videos/ds/img/frame.jpg", 2, 2)
	testutil.WriteJSON(t, fs, "/in/cloud/meta.json", map[string]any{"classes": []any{}, "tags": []any{}, "projectType": "point_clouds"})
	testutil.WriteImage(t, fs, "/in/cloud/ds/related/preview.png", 2, 2)

	res, err := Classify(fs, "/in")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := map[string]int{"videos": 1, "point_clouds": 1}
	if diff := cmp.Diff(want, res.Unsupported); diff != "" {
		t.Errorf("unsupported mismatch (-want +got):\n%s", diff)
	}
	if len(res.ProjectRoots) != 0 || len(res.ImageDirs) != 0 {
		t.Errorf("non-image projects must not become candidates: roots=%v images=%v", res.ProjectRoots, res.ImageDirs)
	}
}

func TestClassify_DoesNotTouchFilesystem(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/in/empty", 0o755); err != nil {
		t.Fatal(err)
	}
	res, err := Classify(fs, "/in")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if diff := cmp.Diff([]string{"/in/empty"}, res.Pruned); diff != "" {
		t.Errorf("pruned mismatch (-want +got):\n%s", diff)
	}
	if !testutil.Exists(t, fs, "/in/empty") {
		t.Error("Classify must not delete anything")
	}
}

func TestClassify_MetaWithoutDatasetsIsNotARoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteJSON(t, fs, "/in/meta.json", imagesMeta())
	testutil.WriteImage(t, fs, "/in/a.jpg", 2, 2)

	res, err := Classify(fs, "/in")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(res.ProjectRoots) != 0 {
		t.Errorf("unexpected project roots: %v", res.ProjectRoots)
	}
	if diff := cmp.Diff([]string{"/in"}, res.ImageDirs); diff != "" {
		t.Errorf("image dirs mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify_InvalidMetaIsIgnored(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFile(t, fs, "/in/proj/meta.json", []byte("{broken"))
	testutil.WriteImage(t, fs, "/in/proj/ds/img/a.jpg", 2, 2)

	res, err := Classify(fs, "/in")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(res.ProjectRoots) != 0 {
		t.Errorf("invalid meta must not make a project root: %v", res.ProjectRoots)
	}
	if diff := cmp.Diff([]string{"/in/proj/ds/img"}, res.ImageDirs); diff != "" {
		t.Errorf("image dirs mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify_NotADirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteFile(t, fs, "/in.zip", []byte("x"))
	if _, err := Classify(fs, "/in.zip"); err == nil {
		t.Error("expected error for file root")
	}
}
