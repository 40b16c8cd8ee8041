package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/normalize"
)

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("IMPORT_WORKSPACE_ID", "12")
	t.Setenv("IMPORT_TASK_ID", "99")
	t.Setenv("IMPORT_FOLDER", "/exports/proj")
	t.Setenv("IMPORT_STORE_BUCKET", "team-files")
	t.Setenv("IMPORT_PLATFORM_TOKEN", "secret")
	t.Setenv("IMPORT_PLATFORM_URL", "https://platform.test/api/")
	t.Setenv("IMPORT_STORAGE_DIR", "/data")

	req, err := Load(New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := &Request{
		WorkspaceID: 12,
		TaskID:      99,
		Input:       normalize.Directory("/exports/proj"),
		StorageDir:  "/data",
		Store:       StoreConfig{Kind: StoreS3, Bucket: "team-files"},
		Platform:    PlatformConfig{URL: "https://platform.test/api", Token: "secret"},
	}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_InputPriority(t *testing.T) {
	tests := []struct {
		name   string
		folder string
		file   string
		url    string
		want   normalize.InputSpec
	}{
		{"folder wins", "/a", "/b.zip", "https://x/c.zip", normalize.Directory("/a")},
		{"file over url", "", "/b.zip", "https://x/c.zip", normalize.File("/b.zip")},
		{"url alone", "", "", "https://x/c.zip", normalize.URL("https://x/c.zip")},
		{"bad url ignored when folder set", "/a", "", "ftp://x", normalize.Directory("/a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(KeyWorkspaceID, 1)
			v.Set(KeyStoreBucket, "b")
			v.Set(KeyPlatformToken, "t")
			v.Set(KeyFolder, tt.folder)
			v.Set(KeyFile, tt.file)
			v.Set(KeyArchiveURL, tt.url)
			req, err := Load(v)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if req.Input != tt.want {
				t.Errorf("Input = %+v, want %+v", req.Input, tt.want)
			}
		})
	}
}

func TestLoad_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
	}{
		{"no input", map[string]any{}},
		{"url scheme", map[string]any{KeyArchiveURL: "ftp://host/p.zip"}},
		{"missing workspace", map[string]any{KeyFolder: "/a", KeyWorkspaceID: 0}},
		{"missing token", map[string]any{KeyFolder: "/a", KeyPlatformToken: ""}},
		{"missing bucket", map[string]any{KeyFolder: "/a", KeyStoreBucket: ""}},
		{"local store without root", map[string]any{KeyFolder: "/a", KeyStoreKind: StoreLocal}},
		{"unknown store", map[string]any{KeyFolder: "/a", KeyStoreKind: "ftp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(KeyWorkspaceID, 1)
			v.Set(KeyStoreBucket, "b")
			v.Set(KeyPlatformToken, "t")
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			if !apperr.IsKind(err, apperr.KindConfig) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestLoad_TokenFromSSMParam(t *testing.T) {
	v := New()
	v.Set(KeyWorkspaceID, 1)
	v.Set(KeyArchiveURL, "https://example.com/p.tar")
	v.Set(KeyTokenParam, "/importer/platform-token")
	req, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if req.Platform.TokenSSMParam != "/importer/platform-token" || req.Platform.Token != "" {
		t.Errorf("platform = %+v", req.Platform)
	}
}
