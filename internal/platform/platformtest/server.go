// Package platformtest provides an in-memory platform API server for tests.
package platformtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
)

// Token is the API token the server accepts.
const Token = "test-token"

// Project is a project held by the server.
type Project struct {
	ID          int
	Name        string
	WorkspaceID int
	Meta        json.RawMessage
	Datasets    []*Dataset
}

// ImageCount returns the number of images across all datasets.
func (p *Project) ImageCount() int {
	n := 0
	for _, ds := range p.Datasets {
		n += len(ds.Images)
	}
	return n
}

// Dataset is a dataset held by the server.
type Dataset struct {
	ID     int
	Name   string
	Images []*Image
}

// ImageNames returns the image names in upload order.
func (d *Dataset) ImageNames() []string {
	names := make([]string, 0, len(d.Images))
	for _, img := range d.Images {
		names = append(names, img.Name)
	}
	return names
}

// Image is an uploaded image and its annotation, if one was attached.
type Image struct {
	ID          int
	Name        string
	Size        int64
	ContentType string
	Annotation  json.RawMessage
}

// ProgressReport is one call to the task progress endpoint.
type ProgressReport struct {
	TaskID  int    `json:"taskId"`
	Message string `json:"message"`
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
	IsSize  bool   `json:"isSize"`
}

// Server is a fake platform API.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	projects []*Project
	datasets map[int]*Dataset
	images   map[int]*Image
	progress []ProgressReport
	removed  []string

	// FailImageUpload makes every image upload fail with a 500.
	FailImageUpload bool
	// FailMetaUpdate makes every project meta update fail with a 400.
	FailMetaUpdate bool
	// UndercountItems makes projects.info report one item fewer than stored.
	UndercountItems bool
	// FailDatasets names datasets whose creation is rejected.
	FailDatasets map[string]bool
}

// NewServer starts a fake server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		datasets:     map[int]*Dataset{},
		images:       map[int]*Image{},
		FailDatasets: map[string]bool{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /projects.add", s.addProject)
	mux.HandleFunc("POST /projects.meta.update", s.updateMeta)
	mux.HandleFunc("GET /projects.info", s.projectInfo)
	mux.HandleFunc("POST /projects.remove", s.removeProject)
	mux.HandleFunc("POST /datasets.add", s.addDataset)
	mux.HandleFunc("POST /images.bulk.upload", s.uploadImages)
	mux.HandleFunc("POST /annotations.bulk.add", s.addAnnotations)
	mux.HandleFunc("POST /tasks.progress", s.reportProgress)
	s.Server = httptest.NewServer(s.auth(mux))
	return s
}

// Projects returns the projects that exist on the server.
func (s *Server) Projects() []*Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.projects)
}

// Project returns the live project with the given name, or nil.
func (s *Server) Project(name string) *Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(name)
}

// Removed returns the names of removed projects in removal order.
func (s *Server) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.removed)
}

// Progress returns all progress reports received.
func (s *Server) Progress() []ProgressReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.progress)
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != Token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) id() int {
	s.nextID++
	return s.nextID
}

func (s *Server) find(name string) *Project {
	for _, p := range s.projects {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (s *Server) project(id int) *Project {
	for _, p := range s.projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Server) addProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkspaceID int    `json:"workspaceId"`
		Name        string `json:"name"`
		Type        string `json:"type"`
		ChangeName  bool   `json:"changeName"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := req.Name
	for i := 1; s.find(name) != nil; i++ {
		if !req.ChangeName {
			writeError(w, http.StatusConflict, "project name already exists")
			return
		}
		name = fmt.Sprintf("%s_%d", req.Name, i)
	}
	p := &Project{ID: s.id(), Name: name, WorkspaceID: req.WorkspaceID}
	s.projects = append(s.projects, p)
	writeJSON(w, map[string]any{"id": p.ID, "name": p.Name, "workspaceId": p.WorkspaceID})
}

func (s *Server) updateMeta(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   int             `json:"id"`
		Meta json.RawMessage `json:"meta"`
	}
	if !decode(w, r, &req) {
		return
	}
	if s.FailMetaUpdate {
		writeError(w, http.StatusBadRequest, "invalid project meta")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(req.ID)
	if p == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	p.Meta = req.Meta
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) projectInfo(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.URL.Query().Get("id"))
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(id)
	if p == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	items := p.ImageCount()
	if s.UndercountItems {
		items--
	}
	writeJSON(w, map[string]any{"id": p.ID, "name": p.Name, "workspaceId": p.WorkspaceID, "itemsCount": items})
}

func (s *Server) removeProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.projects, func(p *Project) bool { return p.ID == req.ID })
	if i < 0 {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	s.removed = append(s.removed, s.projects[i].Name)
	s.projects = slices.Delete(s.projects, i, i+1)
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) addDataset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID  int    `json:"projectId"`
		Name       string `json:"name"`
		ChangeName bool   `json:"changeName"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project(req.ProjectID)
	if p == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if s.FailDatasets[req.Name] {
		writeError(w, http.StatusBadRequest, "dataset rejected")
		return
	}
	taken := func(name string) bool {
		return slices.ContainsFunc(p.Datasets, func(d *Dataset) bool { return d.Name == name })
	}
	name := req.Name
	for i := 1; taken(name); i++ {
		name = fmt.Sprintf("%s_%d", req.Name, i)
	}
	ds := &Dataset{ID: s.id(), Name: name}
	p.Datasets = append(p.Datasets, ds)
	s.datasets[ds.ID] = ds
	writeJSON(w, map[string]any{"id": ds.ID, "name": ds.Name, "projectId": p.ID})
}

func (s *Server) uploadImages(w http.ResponseWriter, r *http.Request) {
	if s.FailImageUpload {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dsID, _ := strconv.Atoi(r.FormValue("datasetId"))

	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.datasets[dsID]
	if ds == nil {
		writeError(w, http.StatusNotFound, "dataset not found")
		return
	}
	var out []map[string]any
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		n, _ := io.Copy(io.Discard, f)
		f.Close()
		img := &Image{ID: s.id(), Name: fh.Filename, Size: n, ContentType: fh.Header.Get("Content-Type")}
		ds.Images = append(ds.Images, img)
		s.images[img.ID] = img
		out = append(out, map[string]any{"id": img.ID, "name": img.Name})
	}
	writeJSON(w, out)
}

func (s *Server) addAnnotations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DatasetID int `json:"datasetId"`
		Entries   []struct {
			ImageID    int             `json:"imageId"`
			Annotation json.RawMessage `json:"annotation"`
		} `json:"entries"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range req.Entries {
		img := s.images[e.ImageID]
		if img == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("image %d not found", e.ImageID))
			return
		}
		img.Annotation = e.Annotation
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) reportProgress(w http.ResponseWriter, r *http.Request) {
	var req ProgressReport
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	s.progress = append(s.progress, req)
	s.mu.Unlock()
	writeJSON(w, map[string]any{"success": true})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
