package annotation

import (
	"encoding/json"
	"testing"
)

func TestParseMeta(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  bool
		wantType string
	}{
		{"default type", `{"classes": [{"title": "car", "shape": "rectangle"}], "tags": []}`, false, ProjectTypeImages},
		{"video project", `{"classes": [], "tags": [], "projectType": "videos"}`, false, ProjectTypeVideos},
		{"empty object", `{}`, false, ProjectTypeImages},
		{"not json", `{"classes": `, true, ""},
		{"array document", `[]`, true, ""},
		{"class without shape", `{"classes": [{"title": "car"}]}`, true, ""},
		{"unknown shape", `{"classes": [{"title": "car", "shape": "blob"}]}`, true, ""},
		{"duplicate class", `{"classes": [{"title": "car", "shape": "point"}, {"title": "car", "shape": "line"}]}`, true, ""},
		{"tags wrong type", `{"tags": {}}`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := ParseMeta([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if meta.ProjectType != tt.wantType {
				t.Errorf("ProjectType = %q, want %q", meta.ProjectType, tt.wantType)
			}
		})
	}
}

func TestTrimUnsupported_RewritesClasses(t *testing.T) {
	meta, err := ParseMeta([]byte(`{
		"classes": [
			{"title": "car", "shape": "rectangle"},
			{"title": "cube", "shape": "cuboid_3d"},
			{"title": "cloud", "shape": "pointcloud"}
		],
		"tags": [{"name": "day"}]
	}`))
	if err != nil {
		t.Fatalf("ParseMeta: %v", err)
	}

	trimmed, removed := meta.TrimUnsupported()
	if len(removed) != 2 || removed[0] != "cloud" || removed[1] != "cube" {
		t.Errorf("removed = %v, want [cloud cube]", removed)
	}

	out, err := json.Marshal(trimmed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	again, err := ParseMeta(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(again.Classes) != 1 || again.Classes[0].Title != "car" {
		t.Errorf("classes after trim = %+v", again.Classes)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["tags"]) != `[{"name":"day"}]` {
		t.Errorf("tags not preserved: %s", raw["tags"])
	}
}
