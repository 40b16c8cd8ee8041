// Package filehandler recognizes image files and reads the little image
// metadata the importer needs (pixel dimensions).
//
// Dimensions come from two providers:
//   - Decoders registered with the standard image package plus golang.org/x/image
//     (JPEG, PNG, GIF, BMP, TIFF, WebP) via image.DecodeConfig
//   - EXIF dimensions via evanoberholster/imagemeta for containers the decoders
//     cannot read (HEIC, HEIF, AVIF, MPO variants)
package filehandler

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SupportedImageExtensions defines the file extensions accepted as images.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jfif": "image/jpeg",
	".mpo":  "image/mpo",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".avif": "image/avif",
	".heic": "image/heic",
	".heif": "image/heif",
}

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(ext)]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsImage returns true if the file extension corresponds to a supported image.
// The comparison is case-insensitive.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// HasImageExt reports whether the file name carries a supported image extension.
func HasImageExt(name string) bool {
	return IsImage(filepath.Ext(name))
}
