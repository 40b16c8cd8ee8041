// Package platform is a client for the project-management API that imported
// projects are uploaded to.
//
// All calls are JSON over HTTPS authenticated with an API token, except image
// upload, which sends multipart batches. Task progress is reported through
// the same API so it shows up next to the running import task.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/filehandler"
)

const (
	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 5 * time.Minute

	// UploadBatchSize is the number of images sent per upload request.
	UploadBatchSize = 50

	// ProjectTypeImages is the only project type the importer creates.
	ProjectTypeImages = "images"
)

// Client calls the platform API.
type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		token:      token,
		baseURL:    baseURL,
	}
}

// Project is a remote project.
type Project struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	WorkspaceID int    `json:"workspaceId"`
	ItemsCount  int    `json:"itemsCount"`
}

// Dataset is a remote dataset.
type Dataset struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ProjectID int    `json:"projectId"`
}

// Image is an uploaded image.
type Image struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// AnnotationEntry binds an annotation document to an uploaded image.
type AnnotationEntry struct {
	ImageID    int             `json:"imageId"`
	Annotation json.RawMessage `json:"annotation"`
}

// APIError is an error reported by the API.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("platform API error %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("platform API error %d: %s", e.StatusCode, e.Message)
}

// CreateProject creates an images project. The server picks a free name if
// name is taken; the returned project carries the final name.
func (c *Client) CreateProject(ctx context.Context, workspaceID int, name string) (*Project, error) {
	var p Project
	err := c.postJSON(ctx, "/projects.add", map[string]any{
		"workspaceId": workspaceID,
		"name":        name,
		"type":        ProjectTypeImages,
		"changeName":  true,
	}, &p)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	log.Info().Int("projectId", p.ID).Str("name", p.Name).Msg("Project created")
	return &p, nil
}

// UpdateProjectMeta replaces the project meta.
func (c *Client) UpdateProjectMeta(ctx context.Context, projectID int, meta json.RawMessage) error {
	if err := c.postJSON(ctx, "/projects.meta.update", map[string]any{"id": projectID, "meta": meta}, nil); err != nil {
		return fmt.Errorf("update project meta: %w", err)
	}
	return nil
}

// GetProject returns project info.
func (c *Client) GetProject(ctx context.Context, projectID int) (*Project, error) {
	var p Project
	if err := c.getJSON(ctx, "/projects.info", url.Values{"id": {strconv.Itoa(projectID)}}, &p); err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// RemoveProject deletes a project and everything in it.
func (c *Client) RemoveProject(ctx context.Context, projectID int) error {
	if err := c.postJSON(ctx, "/projects.remove", map[string]any{"id": projectID}, nil); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}
	log.Info().Int("projectId", projectID).Msg("Project removed")
	return nil
}

// CreateDataset creates a dataset. The server picks a free name if name is taken.
func (c *Client) CreateDataset(ctx context.Context, projectID int, name string) (*Dataset, error) {
	var d Dataset
	err := c.postJSON(ctx, "/datasets.add", map[string]any{
		"projectId":  projectID,
		"name":       name,
		"changeName": true,
	}, &d)
	if err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}
	return &d, nil
}

// UploadImages uploads local image files to a dataset in batches of
// UploadBatchSize. Images keep their file names. done is called with the
// size of each finished batch.
func (c *Client) UploadImages(ctx context.Context, fs afero.Fs, datasetID int, paths []string, done func(n int)) ([]Image, error) {
	uploaded := make([]Image, 0, len(paths))
	for start := 0; start < len(paths); start += UploadBatchSize {
		end := min(start+UploadBatchSize, len(paths))
		batch, err := c.uploadBatch(ctx, fs, datasetID, paths[start:end])
		if err != nil {
			return uploaded, fmt.Errorf("upload images %d-%d: %w", start, end, err)
		}
		uploaded = append(uploaded, batch...)
		if done != nil {
			done(end - start)
		}
	}
	return uploaded, nil
}

func (c *Client) uploadBatch(ctx context.Context, fs afero.Fs, datasetID int, paths []string) ([]Image, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("datasetId", strconv.Itoa(datasetID)); err != nil {
		return nil, err
	}
	for _, p := range paths {
		part, err := createImagePart(mw, filepath.Base(p))
		if err != nil {
			return nil, err
		}
		f, err := fs.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images.bulk.upload", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var images []Image
	if err := c.do(req, &images); err != nil {
		return nil, err
	}
	if len(images) != len(paths) {
		return nil, fmt.Errorf("uploaded %d images, server acknowledged %d", len(paths), len(images))
	}
	return images, nil
}

// createImagePart is mime/multipart's CreateFormFile with the image MIME type
// instead of application/octet-stream.
func createImagePart(mw *multipart.Writer, name string) (io.Writer, error) {
	contentType, err := filehandler.GetMIMEType(filepath.Ext(name))
	if err != nil {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	return mw.CreatePart(h)
}

// UploadAnnotations attaches annotation documents to uploaded images.
func (c *Client) UploadAnnotations(ctx context.Context, datasetID int, entries []AnnotationEntry) error {
	for start := 0; start < len(entries); start += UploadBatchSize {
		end := min(start+UploadBatchSize, len(entries))
		err := c.postJSON(ctx, "/annotations.bulk.add", map[string]any{
			"datasetId": datasetID,
			"entries":   entries[start:end],
		}, nil)
		if err != nil {
			return fmt.Errorf("upload annotations %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// ReportProgress updates the progress bar of a running task.
func (c *Client) ReportProgress(ctx context.Context, taskID int, message string, current, total int64, isSize bool) error {
	return c.postJSON(ctx, "/tasks.progress", map[string]any{
		"taskId":  taskID,
		"message": message,
		"current": current,
		"total":   total,
		"isSize":  isSize,
	}, nil)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	startTime := time.Now()
	req.Header.Set("x-api-key", c.token)

	log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("Platform API request")
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Platform API response")
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	log.Debug().Int("statusCode", resp.StatusCode).Dur("duration", duration).Msg("Platform API response")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = truncate(string(body), 200)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(body), 200))
	}
	return nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
