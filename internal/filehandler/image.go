package filehandler

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageSize returns the pixel width and height of the image at path.
//
// The header is decoded with image.DecodeConfig first; only the header bytes
// are read. When no registered decoder recognizes the format the EXIF block is
// consulted instead.
func ImageSize(fs afero.Fs, path string) (width, height int, err error) {
	file, err := fs.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	cfg, format, decodeErr := image.DecodeConfig(file)
	if decodeErr == nil && cfg.Width > 0 && cfg.Height > 0 {
		log.Trace().Str("path", path).Str("format", format).Int("width", cfg.Width).Int("height", cfg.Height).Msg("Image size from header")
		return cfg.Width, cfg.Height, nil
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("failed to rewind image: %w", err)
	}

	exifData, exifErr := imagemeta.Decode(file)
	if exifErr != nil {
		return 0, 0, fmt.Errorf("unreadable image %s: %v; exif: %w", path, decodeErr, exifErr)
	}

	width, height = int(exifData.ImageWidth), int(exifData.ImageHeight)
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("unreadable image %s: no dimensions in EXIF", path)
	}
	log.Trace().Str("path", path).Int("width", width).Int("height", height).Msg("Image size from EXIF")
	return width, height, nil
}
