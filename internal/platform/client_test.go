package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/platform/platformtest"
	"github.com/fpang/image-project-importer/internal/progress"
	"github.com/fpang/image-project-importer/internal/testutil"
)

// newTestClient creates a Client pointing at a test HTTP server.
func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient: server.Client(),
		token:      platformtest.Token,
		baseURL:    server.URL,
	}
}

func TestCreateProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/projects.add" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != platformtest.Token {
			t.Errorf("missing token header")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "cars" || body["type"] != "images" || body["changeName"] != true {
			t.Errorf("unexpected body: %v", body)
		}
		json.NewEncoder(w).Encode(Project{ID: 7, Name: "cars_1", WorkspaceID: 3})
	}))
	defer server.Close()

	client := newTestClient(server)
	p, err := client.CreateProject(context.Background(), 3, "cars")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != 7 || p.Name != "cars_1" {
		t.Errorf("unexpected project: %+v", p)
	}
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"workspace is read-only","details":"ws 3"}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.CreateDataset(context.Background(), 1, "ds1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "workspace is read-only" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestAPIError_NonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 500), http.StatusBadGateway)
	}))
	defer server.Close()

	err := newTestClient(server).RemoveProject(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !strings.HasSuffix(apiErr.Message, "...") || len(apiErr.Message) != 203 {
		t.Errorf("body should be truncated, got %d chars", len(apiErr.Message))
	}
}

func TestUploadImages_Batches(t *testing.T) {
	srv := platformtest.NewServer()
	defer srv.Close()
	client := newTestClient(srv.Server)
	ctx := context.Background()

	fs := afero.NewMemMapFs()
	var paths []string
	for i := 0; i < UploadBatchSize+3; i++ {
		p := "/imgs/" + strings.Repeat("a", i+1) + ".png"
		testutil.WriteImage(t, fs, p, 2, 2)
		paths = append(paths, p)
	}

	p, err := client.CreateProject(ctx, 1, "batches")
	if err != nil {
		t.Fatal(err)
	}
	ds, err := client.CreateDataset(ctx, p.ID, "ds")
	if err != nil {
		t.Fatal(err)
	}
	var batches []int
	images, err := client.UploadImages(ctx, fs, ds.ID, paths, func(n int) { batches = append(batches, n) })
	if err != nil {
		t.Fatalf("UploadImages: %v", err)
	}
	if len(images) != len(paths) {
		t.Errorf("uploaded %d images, want %d", len(images), len(paths))
	}
	if diff := cmp.Diff([]int{UploadBatchSize, 3}, batches); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
	if images[0].Name != "a.png" {
		t.Errorf("first image name = %q, want a.png", images[0].Name)
	}
	if got := srv.Project("batches").Datasets[0].Images[0].ContentType; got != "image/png" {
		t.Errorf("part content type = %q, want image/png", got)
	}
}

func TestGetProject(t *testing.T) {
	srv := platformtest.NewServer()
	defer srv.Close()
	client := newTestClient(srv.Server)

	created, err := client.CreateProject(context.Background(), 4, "info")
	if err != nil {
		t.Fatal(err)
	}
	got, err := client.GetProject(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if diff := cmp.Diff(&Project{ID: created.ID, Name: "info", WorkspaceID: 4}, got); diff != "" {
		t.Errorf("project mismatch (-want +got):\n%s", diff)
	}
}

func writeProject(t *testing.T, fs afero.Fs) {
	t.Helper()
	testutil.WriteJSON(t, fs, "/proj/meta.json", testutil.Meta(map[string]string{"car": "rectangle"}))
	testutil.WriteImage(t, fs, "/proj/ds1/img/a.jpg", 8, 6)
	testutil.WriteImage(t, fs, "/proj/ds1/img/b.jpg", 8, 6)
	testutil.WriteJSON(t, fs, "/proj/ds1/ann/a.jpg.json", testutil.Annotation(8, 6, testutil.Rectangle("car")))
	testutil.WriteJSON(t, fs, "/proj/ds1/ann/b.jpg.json", testutil.Annotation(8, 6))
	testutil.WriteImage(t, fs, "/proj/ds2/img/c.png", 4, 4)
	testutil.WriteJSON(t, fs, "/proj/ds2/ann/c.png.json", testutil.Annotation(4, 4))
}

func TestUploadProject(t *testing.T) {
	srv := platformtest.NewServer()
	defer srv.Close()
	client := newTestClient(srv.Server)

	fs := afero.NewMemMapFs()
	writeProject(t, fs)

	sink := TaskSink{Client: client, TaskID: 42}
	p, err := client.UploadProject(context.Background(), fs, "/proj", 1, "proj", sink)
	if err != nil {
		t.Fatalf("UploadProject: %v", err)
	}

	if p.ItemsCount != 3 {
		t.Errorf("ItemsCount = %d, want 3", p.ItemsCount)
	}
	remote := srv.Project(p.Name)
	if remote == nil {
		t.Fatalf("project %q not on server", p.Name)
	}
	if len(remote.Meta) == 0 {
		t.Error("meta was not uploaded")
	}
	if len(remote.Datasets) != 2 {
		t.Fatalf("datasets = %d, want 2", len(remote.Datasets))
	}
	if diff := cmp.Diff([]string{"a.jpg", "b.jpg"}, remote.Datasets[0].ImageNames()); diff != "" {
		t.Errorf("ds1 images mismatch (-want +got):\n%s", diff)
	}
	for _, ds := range remote.Datasets {
		for _, img := range ds.Images {
			if len(img.Annotation) == 0 {
				t.Errorf("image %s/%s has no annotation", ds.Name, img.Name)
			}
		}
	}

	reports := srv.Progress()
	if len(reports) == 0 {
		t.Fatal("no progress reported")
	}
	last := reports[len(reports)-1]
	if last.TaskID != 42 || last.Current != 3 || last.Total != 3 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestUploadProject_RemovesProjectOnFailure(t *testing.T) {
	srv := platformtest.NewServer()
	defer srv.Close()
	srv.FailImageUpload = true
	client := newTestClient(srv.Server)

	fs := afero.NewMemMapFs()
	writeProject(t, fs)

	_, err := client.UploadProject(context.Background(), fs, "/proj", 1, "proj", progress.LogSink{})
	if !apperr.IsKind(err, apperr.KindUpload) {
		t.Fatalf("expected upload error, got %v", err)
	}
	if !strings.Contains(err.Error(), `"proj"`) {
		t.Errorf("error should name the project: %v", err)
	}
	if len(srv.Projects()) != 0 {
		t.Errorf("incomplete project left on server: %d projects", len(srv.Projects()))
	}
	if diff := cmp.Diff([]string{"proj"}, srv.Removed()); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadProject_ItemCountMismatch(t *testing.T) {
	srv := platformtest.NewServer()
	defer srv.Close()
	srv.UndercountItems = true
	client := newTestClient(srv.Server)

	fs := afero.NewMemMapFs()
	writeProject(t, fs)

	_, err := client.UploadProject(context.Background(), fs, "/proj", 1, "proj", nil)
	if !apperr.IsKind(err, apperr.KindUpload) {
		t.Fatalf("expected upload error, got %v", err)
	}
	if !strings.Contains(err.Error(), "holds 2 items") {
		t.Errorf("error should report the item count: %v", err)
	}
	if diff := cmp.Diff([]string{"proj"}, srv.Removed()); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
}
