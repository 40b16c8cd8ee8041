package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/apperr"
)

// ProgressFunc receives the number of bytes written since the last call.
type ProgressFunc func(n int64)

// Downloader fetches a URL to a local file, resuming with Range requests
// after interruptions.
type Downloader struct {
	Client *http.Client
	Fs     afero.Fs
	Policy Policy
}

// NewDownloader returns a downloader writing to fs with the default policy.
func NewDownloader(fs afero.Fs) *Downloader {
	return &Downloader{Client: &http.Client{}, Fs: fs, Policy: DefaultPolicy()}
}

// DirectLink rewrites share links that serve an HTML preview by default so
// they serve the file itself.
func DirectLink(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !strings.HasSuffix(u.Hostname(), "dropbox.com") {
		return raw
	}
	q := u.Query()
	q.Set("dl", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// Download writes the resource at rawURL to dest and returns its size.
//
// The declared size comes from a HEAD request, or from the first full
// response when HEAD is not answered. Any terminal failure removes dest; a
// final size different from the declared one is ErrSizeMismatch.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string, progress ProgressFunc) (int64, error) {
	link := DirectLink(rawURL)
	if err := d.Fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, apperr.Transfer("create download dir", err)
	}
	f, err := d.Fs.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, apperr.Transfer("create download file", err)
	}

	t := &transfer{
		d:        d,
		url:      link,
		file:     f,
		declared: d.head(ctx, link),
		progress: progress,
	}
	start := time.Now()
	err = Retry(ctx, d.Policy, t.attempt)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = Permanent(closeErr)
	}
	if err == nil && t.declared >= 0 && t.offset != t.declared {
		err = fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, t.offset, t.declared)
	}
	if err != nil {
		if rmErr := d.Fs.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", dest).Msg("Failed to remove partial download")
		}
		return 0, apperr.Transfer(fmt.Sprintf("download %s", rawURL), err)
	}

	log.Info().
		Str("url", rawURL).
		Int64("bytes", t.offset).
		Dur("elapsed", time.Since(start)).
		Msg("Archive downloaded")
	return t.offset, nil
}

// head returns the declared content length, or -1 if unknown.
func (d *Downloader) head(ctx context.Context, link string) int64 {
	ctx, cancel := context.WithTimeout(ctx, d.Policy.Delay(1))
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return -1
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("HEAD request failed, size unknown until download")
		return -1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return -1
	}
	return resp.ContentLength
}

// transfer is the state of one download across attempts.
type transfer struct {
	d        *Downloader
	url      string
	file     afero.File
	offset   int64
	declared int64
	// high is the largest offset reached by any attempt.
	high     int64
	progress ProgressFunc
}

func (t *transfer) attempt(ctx context.Context, failures int) (bool, error) {
	// The idle timeout grows with the retry schedule.
	timeout := t.d.Policy.Delay(failures + 1)
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	timer := time.AfterFunc(timeout, cancel)
	defer timer.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.url, nil)
	if err != nil {
		return false, Permanent(err)
	}
	if t.offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", t.offset))
	}

	resp, err := t.d.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if t.offset > 0 {
			log.Debug().Int64("offset", t.offset).Msg("Server ignored Range, restarting download")
			if err := t.restart(); err != nil {
				return false, err
			}
		}
		if t.declared < 0 && resp.ContentLength >= 0 {
			t.declared = resp.ContentLength
		}
	case http.StatusPartialContent:
		if total := rangeTotal(resp.Header.Get("Content-Range")); t.declared < 0 && total >= 0 {
			t.declared = total
		}
	case http.StatusRequestedRangeNotSatisfiable:
		if t.declared >= 0 && t.offset == t.declared {
			return false, nil
		}
		return false, &StatusError{Code: resp.StatusCode, URL: t.url}
	default:
		return false, &StatusError{Code: resp.StatusCode, URL: t.url}
	}

	body := &idleReader{r: resp.Body, timer: timer, timeout: timeout}
	n, err := io.Copy(&countingWriter{w: t.file, progress: t.progress}, body)
	t.offset += n
	progressed := t.offset > t.high
	if progressed {
		t.high = t.offset
	}
	if err != nil {
		var werr *writeError
		if errors.As(err, &werr) {
			return progressed, Permanent(werr.err)
		}
		return progressed, fmt.Errorf("read body at offset %d: %w", t.offset, err)
	}
	if t.declared >= 0 && t.offset < t.declared {
		return progressed, fmt.Errorf("read body at offset %d: %w", t.offset, io.ErrUnexpectedEOF)
	}
	return progressed, nil
}

func (t *transfer) restart() error {
	if err := t.file.Truncate(0); err != nil {
		return Permanent(err)
	}
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		return Permanent(err)
	}
	t.offset = 0
	return nil
}

// rangeTotal parses the total size from a "bytes a-b/total" header, or -1.
func rangeTotal(header string) int64 {
	i := strings.LastIndex(header, "/")
	if i < 0 {
		return -1
	}
	total, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return total
}

// idleReader pushes back the request deadline on every read.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

type writeError struct{ err error }

func (e *writeError) Error() string { return "write: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// countingWriter reports writes and tags local write failures.
type countingWriter struct {
	w        io.Writer
	progress ProgressFunc
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 && c.progress != nil {
		c.progress(int64(n))
	}
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}
