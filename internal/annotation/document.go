package annotation

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// Required top-level keys of an annotation document.
const (
	FieldLabels  = "objects"
	FieldImgSize = "size"
	FieldImgTags = "tags"
)

// RequiredFields lists the keys every annotation document must carry.
var RequiredFields = []string{FieldLabels, FieldImgSize, FieldImgTags}

// Ext is the extension of annotation files.
const Ext = ".json"

// ImageSize is the image-size descriptor of a document.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Label is one annotated object.
type Label struct {
	Class    string
	Geometry string
	raw      map[string]json.RawMessage
}

// Document is a parsed annotation file.
type Document struct {
	Size   ImageSize
	Labels []Label
	raw    map[string]json.RawMessage
}

// NewEmpty returns a document for an image of the given size with no labels and no tags.
func NewEmpty(width, height int) *Document {
	size, _ := json.Marshal(ImageSize{Width: width, Height: height})
	return &Document{
		Size: ImageSize{Width: width, Height: height},
		raw: map[string]json.RawMessage{
			"description": json.RawMessage(`""`),
			FieldImgTags:  json.RawMessage(`[]`),
			FieldImgSize:  size,
			FieldLabels:   json.RawMessage(`[]`),
		},
	}
}

// Parse decodes an annotation document and checks its structure. It does not
// look at the project meta; see Validate.
//
// The returned error, when non-nil, is always a *ValidationError.
func Parse(data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, parseFailure(err)
	}
	if raw == nil {
		return nil, parseFailure(fmt.Errorf("document is not an object"))
	}

	for _, field := range RequiredFields {
		if _, ok := raw[field]; !ok {
			return nil, missingField(field)
		}
	}

	doc := &Document{raw: raw}
	if err := json.Unmarshal(raw[FieldImgSize], &doc.Size); err != nil {
		return nil, parseFailure(fmt.Errorf("%s: %w", FieldImgSize, err))
	}
	var tags []json.RawMessage
	if err := json.Unmarshal(raw[FieldImgTags], &tags); err != nil {
		return nil, parseFailure(fmt.Errorf("%s: %w", FieldImgTags, err))
	}

	var rawLabels []map[string]json.RawMessage
	if err := json.Unmarshal(raw[FieldLabels], &rawLabels); err != nil {
		return nil, parseFailure(fmt.Errorf("%s: %w", FieldLabels, err))
	}
	for _, rl := range rawLabels {
		label := Label{raw: rl}
		if rl == nil {
			return nil, parseFailure(fmt.Errorf("%s: label is not an object", FieldLabels))
		}
		if err := json.Unmarshal(rl["classTitle"], &label.Class); err != nil || label.Class == "" {
			return nil, missingField("classTitle")
		}
		if geom, ok := rl["geometryType"]; ok {
			if err := json.Unmarshal(geom, &label.Geometry); err != nil {
				return nil, parseFailure(fmt.Errorf("geometryType: %w", err))
			}
		}
		doc.Labels = append(doc.Labels, label)
	}

	return doc, nil
}

// Validate checks every label against the project meta. Labels whose class is
// in removed are skipped; the returned flag reports whether any were found, in
// which case the caller should drop them with FilterLabels.
//
// The returned error, when non-nil, is always a *ValidationError.
func (d *Document) Validate(meta *ProjectMeta, removed map[string]bool) (needsFilter bool, err error) {
	for _, label := range d.Labels {
		if removed[label.Class] {
			needsFilter = true
			continue
		}
		cls, ok := meta.Class(label.Class)
		if !ok {
			return false, unknownClass(label.Class, "class is not declared in project meta")
		}

		geometry := cls.Shape
		if label.Geometry != "" && label.Geometry != cls.Shape {
			if cls.Shape != "any" {
				return false, unknownClass(label.Class,
					fmt.Sprintf("label geometry '%s' does not match class shape '%s'", label.Geometry, cls.Shape))
			}
			geometry = label.Geometry
		}
		if geometry == "any" {
			return false, unknownClass(label.Class, "label of an 'any' class has no geometryType")
		}

		payloadKey, ok := supportedGeometries[geometry]
		if !ok {
			return false, unknownClass(label.Class, fmt.Sprintf("geometry '%s' is not supported", geometry))
		}
		if _, ok := label.raw[payloadKey]; !ok {
			return false, missingField(payloadKey)
		}
	}
	return needsFilter, nil
}

// FilterLabels keeps only the labels whose class passes keep.
// It returns the number of labels removed.
func (d *Document) FilterLabels(keep func(class string) bool) int {
	kept := d.Labels[:0]
	removed := 0
	for _, label := range d.Labels {
		if keep(label.Class) {
			kept = append(kept, label)
			continue
		}
		removed++
	}
	d.Labels = kept
	return removed
}

// MarshalJSON writes the document back, preserving fields it does not interpret.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.raw))
	for k, v := range d.raw {
		out[k] = v
	}
	labels := make([]map[string]json.RawMessage, 0, len(d.Labels))
	for _, label := range d.Labels {
		labels = append(labels, label.raw)
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return nil, err
	}
	out[FieldLabels] = encoded
	return json.Marshal(out)
}

// Load reads and parses the annotation file at path.
// The returned error, when non-nil, is always a *ValidationError.
func Load(fs afero.Fs, path string) (*Document, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, missingFile()
		}
		return nil, parseFailure(err)
	}
	return Parse(data)
}

// Write serializes doc to path.
func Write(fs afero.Fs, path string, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write annotation %s: %w", path, err)
	}
	return nil
}

// LoadMeta reads and parses the meta.json file at path.
func LoadMeta(fs afero.Fs, path string) (*ProjectMeta, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	return ParseMeta(data)
}

// WriteMeta serializes meta to path.
func WriteMeta(fs afero.Fs, path string, meta *ProjectMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write meta %s: %w", path, err)
	}
	return nil
}

// MissingFileError is returned by callers that found no annotation file for an image.
func MissingFileError() *ValidationError {
	return missingFile()
}
