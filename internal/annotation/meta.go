// Package annotation models project meta and per-image annotation documents
// in the exported project format, and validates one against the other.
//
// Documents are kept as raw JSON maps so that fields the importer does not
// interpret (descriptions, custom keys, label tags) survive a rewrite.
package annotation

import (
	"encoding/json"
	"fmt"
	"slices"
)

// MetaFileName is the project meta file at the root of every project.
const MetaFileName = "meta.json"

// Project types declared in meta.json.
const (
	ProjectTypeImages             = "images"
	ProjectTypeVideos             = "videos"
	ProjectTypeVolumes            = "volumes"
	ProjectTypePointClouds        = "point_clouds"
	ProjectTypePointCloudEpisodes = "point_cloud_episodes"
)

// supportedGeometries maps each geometry usable in an image project to the
// label key that carries its payload.
var supportedGeometries = map[string]string{
	"rectangle":     "points",
	"polygon":       "points",
	"line":          "points",
	"point":         "points",
	"cuboid":        "points",
	"oriented_bbox": "points",
	"bitmap":        "bitmap",
	"alpha_mask":    "bitmap",
	"graph":         "nodes",
	"any":           "",
}

// unsupportedGeometries are valid shapes in the format that image projects cannot hold.
var unsupportedGeometries = map[string]bool{
	"cuboid_3d":  true,
	"point_3d":   true,
	"pointcloud": true,
	"mask_3d":    true,
}

// IsSupportedGeometry reports whether an image project can hold labels of the shape.
func IsSupportedGeometry(shape string) bool {
	_, ok := supportedGeometries[shape]
	return ok
}

// ObjClass is one declared object class.
type ObjClass struct {
	Title string
	Shape string
	raw   map[string]json.RawMessage
}

// ProjectMeta is the parsed content of meta.json.
type ProjectMeta struct {
	Classes     []ObjClass
	ProjectType string
	raw         map[string]json.RawMessage
}

// ParseMeta decodes and validates a meta.json document. A missing projectType
// means an images project.
func ParseMeta(data []byte) (*ProjectMeta, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode meta: document is not an object")
	}

	meta := &ProjectMeta{ProjectType: ProjectTypeImages, raw: raw}

	if rawType, ok := raw["projectType"]; ok {
		var projectType string
		if err := json.Unmarshal(rawType, &projectType); err != nil {
			return nil, fmt.Errorf("decode meta projectType: %w", err)
		}
		if projectType != "" {
			meta.ProjectType = projectType
		}
	}

	if rawTags, ok := raw["tags"]; ok {
		var tags []json.RawMessage
		if err := json.Unmarshal(rawTags, &tags); err != nil {
			return nil, fmt.Errorf("decode meta tags: %w", err)
		}
	}

	var rawClasses []map[string]json.RawMessage
	if classesJSON, ok := raw["classes"]; ok {
		if err := json.Unmarshal(classesJSON, &rawClasses); err != nil {
			return nil, fmt.Errorf("decode meta classes: %w", err)
		}
	}

	seen := make(map[string]bool, len(rawClasses))
	for i, rc := range rawClasses {
		var cls ObjClass
		cls.raw = rc
		if err := json.Unmarshal(rc["title"], &cls.Title); err != nil || cls.Title == "" {
			return nil, fmt.Errorf("class %d: missing title", i)
		}
		if err := json.Unmarshal(rc["shape"], &cls.Shape); err != nil || cls.Shape == "" {
			return nil, fmt.Errorf("class '%s': missing shape", cls.Title)
		}
		if !IsSupportedGeometry(cls.Shape) && !unsupportedGeometries[cls.Shape] {
			return nil, fmt.Errorf("class '%s': unknown shape '%s'", cls.Title, cls.Shape)
		}
		if seen[cls.Title] {
			return nil, fmt.Errorf("class '%s' declared twice", cls.Title)
		}
		seen[cls.Title] = true
		meta.Classes = append(meta.Classes, cls)
	}

	return meta, nil
}

// Class returns the class with the given title.
func (m *ProjectMeta) Class(title string) (ObjClass, bool) {
	for _, cls := range m.Classes {
		if cls.Title == title {
			return cls, true
		}
	}
	return ObjClass{}, false
}

// IsImages reports whether the meta belongs to an images project.
func (m *ProjectMeta) IsImages() bool {
	return m.ProjectType == ProjectTypeImages
}

// TrimUnsupported returns a copy of the meta without classes whose shape image
// projects cannot hold, together with the titles of the removed classes.
func (m *ProjectMeta) TrimUnsupported() (*ProjectMeta, []string) {
	trimmed := &ProjectMeta{ProjectType: m.ProjectType, raw: m.raw}
	var removed []string
	for _, cls := range m.Classes {
		if IsSupportedGeometry(cls.Shape) {
			trimmed.Classes = append(trimmed.Classes, cls)
			continue
		}
		removed = append(removed, cls.Title)
	}
	slices.Sort(removed)
	return trimmed, removed
}

// MarshalJSON writes the meta back, preserving fields it does not interpret.
func (m *ProjectMeta) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.raw)+1)
	for k, v := range m.raw {
		out[k] = v
	}
	classes := make([]map[string]json.RawMessage, 0, len(m.Classes))
	for _, cls := range m.Classes {
		classes = append(classes, cls.raw)
	}
	encoded, err := json.Marshal(classes)
	if err != nil {
		return nil, err
	}
	out["classes"] = encoded
	return json.Marshal(out)
}
