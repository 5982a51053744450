// Package enginetest provides an in-memory search engine served over
// httptest for exercising the client, uploader and lifecycle code.
package enginetest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine"
)

// Payload is one document ingestion request as received.
type Payload struct {
	Index      string
	PrimaryKey string
	Body       []byte
}

type failure struct {
	method string
	prefix string
	status int
	code   string
}

// Server is a fake engine. Indexes, documents and tasks live in memory; every
// mutating call enqueues a task that succeeds on its first poll unless a
// status script was registered with ScriptTask.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	indexes   map[string]*engine.Index
	settings  map[string]map[string]any
	documents map[string]map[string]json.RawMessage
	payloads  []Payload
	tasks     map[int64]*engine.Task
	scripts   map[int64][]engine.Status
	polls     map[int64]int
	nextTask  int64
	failures  []failure
	requests  []string
}

// NewServer starts a fake engine that is closed with the test.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		indexes:   make(map[string]*engine.Index),
		settings:  make(map[string]map[string]any),
		documents: make(map[string]map[string]json.RawMessage),
		tasks:     make(map[int64]*engine.Task),
		scripts:   make(map[int64][]engine.Status),
		polls:     make(map[int64]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddIndex registers an existing index.
func (s *Server) AddIndex(uid, primaryKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[uid] = &engine.Index{UID: uid, PrimaryKey: primaryKey, CreatedAt: time.Now().UTC()}
	s.settings[uid] = make(map[string]any)
}

// ScriptTask sets the statuses successive polls of task uid return. The last
// status repeats.
func (s *Server) ScriptTask(uid int64, statuses ...engine.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[uid] = statuses
	if _, ok := s.tasks[uid]; !ok {
		s.tasks[uid] = &engine.Task{UID: uid, Status: engine.StatusEnqueued, Type: "documentAdditionOrUpdate", EnqueuedAt: time.Now().UTC()}
	}
}

// FailRequests makes requests matching method and path prefix answer with
// status and error code.
func (s *Server) FailRequests(method, pathPrefix string, status int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{method: method, prefix: pathPrefix, status: status, code: code})
}

// Payloads returns every document payload received so far.
func (s *Server) Payloads() []Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payload(nil), s.payloads...)
}

// Documents returns the stored documents of index keyed by primary key.
func (s *Server) Documents(index string) map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(s.documents[index]))
	for k, v := range s.documents[index] {
		out[k] = v
	}
	return out
}

// HasIndex reports whether uid exists.
func (s *Server) HasIndex(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indexes[uid]
	return ok
}

// Settings returns the stored settings of uid.
func (s *Server) Settings(uid string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[uid]
}

// Requests returns "METHOD path" for every request served.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Count returns how many served requests match method and path prefix.
func (s *Server) Count(method, pathPrefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, method+" "+pathPrefix) {
			n++
		}
	}
	return n
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)

	for _, f := range s.failures {
		if f.method == r.Method && strings.HasPrefix(r.URL.Path, f.prefix) {
			writeError(w, f.status, f.code, "injected failure")
			return
		}
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/health":
		writeJSON(w, http.StatusOK, map[string]string{"status": "available"})
	case parts[0] == "tasks" && len(parts) == 2 && r.Method == http.MethodGet:
		s.getTask(w, parts[1])
	case parts[0] == "indexes" && len(parts) == 1 && r.Method == http.MethodPost:
		s.createIndex(w, r)
	case parts[0] == "indexes" && len(parts) == 2:
		s.index(w, r, parts[1])
	case parts[0] == "indexes" && len(parts) == 3 && parts[2] == "settings":
		s.indexSettings(w, r, parts[1])
	case parts[0] == "indexes" && len(parts) == 3 && parts[2] == "documents" && r.Method == http.MethodPost:
		s.addDocuments(w, r, parts[1])
	case parts[0] == "indexes" && len(parts) == 4 && parts[3] == "delete-batch":
		s.deleteDocuments(w, r, parts[1])
	default:
		writeError(w, http.StatusNotFound, "not_found", "no route "+r.URL.Path)
	}
}

func (s *Server) getTask(w http.ResponseWriter, id string) {
	uid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_task_uid", err.Error())
		return
	}
	task, ok := s.tasks[uid]
	if !ok {
		writeError(w, http.StatusNotFound, "task_not_found", fmt.Sprintf("Task `%d` not found.", uid))
		return
	}
	if script, ok := s.scripts[uid]; ok && len(script) > 0 {
		i := min(s.polls[uid], len(script)-1)
		task.Status = script[i]
	} else {
		task.Status = engine.StatusSucceeded
	}
	s.polls[uid]++
	if task.Status == engine.StatusFailed && task.Error == nil {
		task.Error = &engine.TaskError{Message: "task failed", Code: "internal", Type: "internal"}
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) enqueue(index, kind string) map[string]any {
	s.nextTask++
	task := &engine.Task{UID: s.nextTask, IndexUID: index, Status: engine.StatusEnqueued, Type: kind, EnqueuedAt: time.Now().UTC()}
	s.tasks[task.UID] = task
	return map[string]any{
		"taskUid":    task.UID,
		"indexUid":   index,
		"status":     task.Status,
		"type":       kind,
		"enqueuedAt": task.EnqueuedAt,
	}
}

func (s *Server) createIndex(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UID        string `json:"uid"`
		PrimaryKey string `json:"primaryKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing uid")
		return
	}
	if _, ok := s.indexes[body.UID]; ok {
		// The engine accepts the request and fails the task.
		resp := s.enqueue(body.UID, "indexCreation")
		uid := resp["taskUid"].(int64)
		s.scripts[uid] = []engine.Status{engine.StatusFailed}
		s.tasks[uid].Error = &engine.TaskError{
			Message: fmt.Sprintf("Index `%s` already exists.", body.UID),
			Code:    "index_already_exists",
			Type:    "invalid_request",
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	s.indexes[body.UID] = &engine.Index{UID: body.UID, PrimaryKey: body.PrimaryKey, CreatedAt: time.Now().UTC()}
	s.settings[body.UID] = make(map[string]any)
	writeJSON(w, http.StatusAccepted, s.enqueue(body.UID, "indexCreation"))
}

func (s *Server) index(w http.ResponseWriter, r *http.Request, uid string) {
	idx, ok := s.indexes[uid]
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found", fmt.Sprintf("Index `%s` not found.", uid))
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, idx)
	case http.MethodDelete:
		delete(s.indexes, uid)
		delete(s.settings, uid)
		delete(s.documents, uid)
		writeJSON(w, http.StatusAccepted, s.enqueue(uid, "indexDeletion"))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) indexSettings(w http.ResponseWriter, r *http.Request, uid string) {
	if _, ok := s.indexes[uid]; !ok {
		writeError(w, http.StatusNotFound, "index_not_found", fmt.Sprintf("Index `%s` not found.", uid))
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings[uid])
	case http.MethodPatch:
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		for k, v := range patch {
			s.settings[uid][k] = v
		}
		writeJSON(w, http.StatusAccepted, s.enqueue(uid, "settingsUpdate"))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) addDocuments(w http.ResponseWriter, r *http.Request, uid string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	pk := r.URL.Query().Get("primaryKey")
	s.payloads = append(s.payloads, Payload{Index: uid, PrimaryKey: pk, Body: body})

	idx, ok := s.indexes[uid]
	if !ok {
		idx = &engine.Index{UID: uid, PrimaryKey: pk, CreatedAt: time.Now().UTC()}
		s.indexes[uid] = idx
		s.settings[uid] = make(map[string]any)
	}
	if idx.PrimaryKey == "" {
		idx.PrimaryKey = pk
	}
	if s.documents[uid] == nil {
		s.documents[uid] = make(map[string]json.RawMessage)
	}

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(line, &doc); err != nil {
			writeError(w, http.StatusBadRequest, "malformed_payload", err.Error())
			return
		}
		key, ok := doc[idx.PrimaryKey]
		if !ok || key == nil {
			writeError(w, http.StatusBadRequest, "missing_document_id", "document has no primary key")
			return
		}
		s.documents[uid][fmt.Sprint(key)] = append(json.RawMessage(nil), line...)
	}
	writeJSON(w, http.StatusAccepted, s.enqueue(uid, "documentAdditionOrUpdate"))
}

func (s *Server) deleteDocuments(w http.ResponseWriter, r *http.Request, uid string) {
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	for _, id := range ids {
		delete(s.documents[uid], id)
	}
	writeJSON(w, http.StatusAccepted, s.enqueue(uid, "documentDeletion"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"message": message, "code": code, "type": "invalid_request"})
}
