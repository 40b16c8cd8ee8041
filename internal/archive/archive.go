// Package archive unpacks the archive formats accepted as import input
// (.zip, .tar, .tar.gz) and removes OS junk from unpacked trees.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

// ErrUnknownFormat is returned when a file is none of the supported archive formats.
var ErrUnknownFormat = errors.New("unsupported archive format")

// ErrUnsafePath is returned for entries that would be written outside the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// IsArchive reports whether name has one of the accepted archive extensions.
func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".zip") ||
		strings.HasSuffix(lower, ".tar") ||
		strings.HasSuffix(lower, ".tar.gz")
}

// TrimExt returns name without its archive extension.
func TrimExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".zip", ".tar"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

type format int

const (
	formatUnknown format = iota
	formatZip
	formatGzip
	formatTar
)

// sniff detects the archive format from the file header.
func sniff(header []byte) format {
	switch {
	case bytes.HasPrefix(header, []byte("PK\x03\x04")), bytes.HasPrefix(header, []byte("PK\x05\x06")):
		return formatZip
	case bytes.HasPrefix(header, []byte{0x1f, 0x8b}):
		return formatGzip
	case len(header) >= 262 && string(header[257:262]) == "ustar":
		return formatTar
	default:
		return formatUnknown
	}
}

// Unpack extracts the archive at archivePath into destDir. The format is
// detected from the content, not the file name.
func Unpack(fs afero.Fs, archivePath, destDir string) error {
	f, err := fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read archive header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind archive: %w", err)
	}

	if err := fs.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}

	switch sniff(header[:n]) {
	case formatZip:
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat archive: %w", err)
		}
		if err := unzip(fs, f, info.Size(), destDir); err != nil {
			return err
		}
	case formatGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		if err := untar(fs, gz, destDir); err != nil {
			return err
		}
	case formatTar:
		if err := untar(fs, f, destDir); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%s: %w", filepath.Base(archivePath), ErrUnknownFormat)
	}

	log.Debug().Str("archive", archivePath).Str("dest", destDir).Msg("Archive unpacked")
	return nil
}

func unzip(fs afero.Fs, r io.ReaderAt, size int64, destDir string) error {
	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
	zr.RegisterDecompressor(zipMethodZstd, func(r io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return dec.IOReadCloser()
	})

	for _, entry := range zr.File {
		dest, err := SafeJoin(destDir, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := fs.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dest, err)
			}
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", entry.Name, err)
		}
		err = writeFile(fs, dest, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func untar(fs afero.Fs, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		dest, err := SafeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dest, err)
			}
		case tar.TypeReg:
			if err := writeFile(fs, dest, tr); err != nil {
				return err
			}
		default:
			log.Debug().Str("entry", hdr.Name).Msg("Skipping non-regular tar entry")
		}
	}
}

func writeFile(fs afero.Fs, dest string, r io.Reader) error {
	if err := fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}
	out, err := fs.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("extract %s: %w", dest, err)
	}
	return nil
}

// SafeJoin joins a relative entry name onto destDir, rejecting names that
// escape it with ErrUnsafePath.
func SafeJoin(destDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}
	return filepath.Join(destDir, clean), nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
