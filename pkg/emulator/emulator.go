// Package emulator serves an in-memory, eventually consistent imitation of
// the remote file API.
//
// Uploaded objects start in PROCESSING and only become ACTIVE (or FAILED)
// after a configurable number of metadata reads, which is enough to drive
// the activation poller through real state transitions without a network.
// It backs the `filecast emulate` command and the end-to-end tests.
package emulator

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/3leaps/filecast/pkg/store"
)

// Options configures the emulator.
type Options struct {
	// APIKey, when set, must be presented in the x-goog-api-key header.
	APIKey string

	// ActivateAfter is the number of metadata reads an uploaded object
	// stays in PROCESSING. Zero activates on upload; negative never
	// activates.
	ActivateAfter int

	// FailPattern is a doublestar pattern matched against display names.
	// Matching objects end in FAILED instead of ACTIVE.
	FailPattern string

	// MaxPageSize caps list pages. Default: 100
	MaxPageSize int

	// Generate overrides the generateContent answer. It returns the HTTP
	// status and a JSON-serializable body.
	Generate func(req store.GenerateRequest) (int, any)
}

// Server is the emulator state plus its HTTP routes.
type Server struct {
	opts   Options
	router chi.Router

	mu      sync.Mutex
	objects map[string]*entry
	order   []string
	calls   map[string]int
}

type entry struct {
	obj   store.RemoteObject
	data  []byte
	reads int
}

// Call names counted by Calls.
const (
	CallList     = "list"
	CallGet      = "get"
	CallDelete   = "delete"
	CallUpload   = "upload"
	CallGenerate = "generate"
)

// New creates an emulator.
func New(opts Options) *Server {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	s := &Server{
		opts:    opts,
		objects: make(map[string]*entry),
		calls:   make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)
	r.Get("/v1beta/files", s.handleList)
	r.Get("/v1beta/files/{id}", s.handleGet)
	r.Delete("/v1beta/files/{id}", s.handleDelete)
	r.Post("/upload/v1beta/files", s.handleUpload)
	r.Post("/v1beta/models/{modelAction}", s.handleGenerate)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path)
	})
	s.router = r

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Seed inserts objects as-is, bypassing upload. Seeded objects keep their
// state unless it is PROCESSING, in which case the usual read counting
// applies.
func (s *Server) Seed(objs ...store.RemoteObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range objs {
		if _, exists := s.objects[obj.ID]; !exists {
			s.order = append(s.order, obj.ID)
		}
		s.objects[obj.ID] = &entry{obj: obj}
	}
}

// Remove drops an object without a delete call, as if it expired.
func (s *Server) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// Objects returns the current objects in list order.
func (s *Server) Objects() []store.RemoteObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.RemoteObject, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.objects[id].obj)
	}
	return out
}

// Data returns the uploaded bytes of an object.
func (s *Server) Data(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// Calls returns how many requests of the given kind were served.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *Server) count(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" && r.Header.Get("x-goog-api-key") != s.opts.APIKey {
			writeError(w, http.StatusForbidden, "PERMISSION_DENIED", "API key not valid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.count(CallList)

	pageSize := s.opts.MaxPageSize
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid pageSize")
			return
		}
		if n > 0 && n < pageSize {
			pageSize = n
		}
	}

	offset := 0
	if token := r.URL.Query().Get("pageToken"); token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid pageToken")
			return
		}
		offset = n
	}

	s.mu.Lock()
	end := offset + pageSize
	if end > len(s.order) {
		end = len(s.order)
	}
	files := []store.RemoteObject{}
	for i := offset; i < end; i++ {
		files = append(files, s.objects[s.order[i]].obj)
	}
	next := ""
	if end < len(s.order) {
		next = strconv.Itoa(end)
	}
	s.mu.Unlock()

	resp := map[string]any{"files": files}
	if next != "" {
		resp["nextPageToken"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.count(CallGet)
	id := store.IDPrefix + chi.URLParam(r, "id")

	s.mu.Lock()
	e, ok := s.objects[id]
	if ok {
		s.advanceLocked(e)
	}
	var obj store.RemoteObject
	if ok {
		obj = e.obj
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("File %s not found.", id))
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.count(CallDelete)
	id := store.IDPrefix + chi.URLParam(r, "id")

	s.mu.Lock()
	_, ok := s.objects[id]
	if ok {
		s.removeLocked(id)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("File %s not found.", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.count(CallUpload)

	if r.Header.Get("X-Goog-Upload-Protocol") != "multipart" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "only multipart uploads are supported")
		return
	}
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" || params["boundary"] == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "expected multipart/related body")
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "missing metadata part")
		return
	}
	var meta struct {
		File struct {
			DisplayName string `json:"display_name"`
		} `json:"file"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid metadata part")
		return
	}

	dataPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "missing media part")
		return
	}
	data, err := io.ReadAll(dataPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "unreadable media part")
		return
	}
	mimeType := dataPart.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	id := store.IDPrefix + token
	now := time.Now().UTC().Format(time.RFC3339Nano)
	obj := store.RemoteObject{
		ID:             id,
		DisplayName:    meta.File.DisplayName,
		MIMEType:       mimeType,
		URI:            fmt.Sprintf("http://%s/v1beta/%s", r.Host, id),
		State:          store.StateProcessing,
		SizeBytes:      strconv.Itoa(len(data)),
		CreateTime:     now,
		UpdateTime:     now,
		ExpirationTime: time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339Nano),
	}

	s.mu.Lock()
	e := &entry{obj: obj, data: data}
	if s.opts.ActivateAfter == 0 {
		s.settleLocked(e)
	}
	s.objects[id] = e
	s.order = append(s.order, id)
	obj = e.obj
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"file": obj})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	s.count(CallGenerate)

	model, action, ok := strings.Cut(chi.URLParam(r, "modelAction"), ":")
	if !ok || action != "generateContent" || model == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown model action")
		return
	}

	var req store.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON payload")
		return
	}

	var prompt []string
	files := 0
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.Text != "" {
				prompt = append(prompt, p.Text)
			}
			if p.FileData == nil {
				continue
			}
			if !s.isActiveURI(p.FileData.FileURI) {
				writeError(w, http.StatusBadRequest, "FAILED_PRECONDITION",
					fmt.Sprintf("File %s is not in an ACTIVE state and usage is not allowed.", p.FileData.FileURI))
				return
			}
			files++
		}
	}

	if s.opts.Generate != nil {
		status, body := s.opts.Generate(req)
		writeJSON(w, status, body)
		return
	}

	text := fmt.Sprintf("[%s] %d file(s) referenced. Prompt: %s", model, files, strings.Join(prompt, " "))
	writeJSON(w, http.StatusOK, store.GenerateResponse{
		Candidates: []store.Candidate{{
			Content:      &store.Content{Role: "model", Parts: []store.Part{{Text: text}}},
			FinishReason: store.FinishReasonStop,
		}},
	})
}

func (s *Server) isActiveURI(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.objects {
		if e.obj.URI == uri {
			return e.obj.State == store.StateActive
		}
	}
	return false
}

// advanceLocked counts a metadata read and settles the object once enough
// reads were observed.
func (s *Server) advanceLocked(e *entry) {
	if e.obj.State != store.StateProcessing || s.opts.ActivateAfter < 0 {
		return
	}
	e.reads++
	if e.reads >= s.opts.ActivateAfter {
		s.settleLocked(e)
	}
}

func (s *Server) settleLocked(e *entry) {
	if s.opts.FailPattern != "" {
		if ok, _ := doublestar.Match(s.opts.FailPattern, e.obj.DisplayName); ok {
			e.obj.State = store.StateFailed
			e.obj.Error = &store.Status{Code: 400, Message: "file processing failed", Status: "INVALID_ARGUMENT"}
			return
		}
	}
	e.obj.State = store.StateActive
}

func (s *Server) removeLocked(id string) {
	delete(s.objects, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, httpStatus int, status, message string) {
	writeJSON(w, httpStatus, map[string]any{
		"error": store.Status{Code: httpStatus, Message: message, Status: status},
	})
}
