package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yaxxsin/taskhub/internal/taskhub"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

// Server is the HTTP surface of the replica that owns its data: entity
// routes for clients, plus the shared snapshot, propagate receiver and
// websocket live channel used by collaborating replicas.
type Server struct {
	store       *taskhub.Store
	hub         *Hub
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(store *taskhub.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store *taskhub.Store, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:       store,
		hub:         NewHub(store),
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

// LiveHub exposes the websocket hub so the owner process can wire it in as
// the store's broadcaster.
func (s *Server) LiveHub() *Hub {
	return s.hub
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}
	if r.URL.Path == "/healthz" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var requiredScope string
	var route string
	switch {
	case len(parts) == 2 && parts[1] == "channel" && r.Method == http.MethodGet:
		requiredScope = "tasks:read"
		route = "channel"
	case len(parts) == 2 && parts[1] == "tasks" && r.Method == http.MethodGet:
		requiredScope = "tasks:read"
		route = "tasks_list"
	case len(parts) == 2 && parts[1] == "tasks" && r.Method == http.MethodPost:
		requiredScope = "tasks:write"
		route = "task_create"
	case len(parts) == 3 && parts[1] == "tasks" && r.Method == http.MethodGet:
		requiredScope = "tasks:read"
		route = "task_get"
	case len(parts) == 3 && parts[1] == "tasks" && r.Method == http.MethodPatch:
		requiredScope = "tasks:write"
		route = "task_patch"
	case len(parts) == 3 && parts[1] == "tasks" && r.Method == http.MethodDelete:
		requiredScope = "tasks:write"
		route = "task_delete"
	case len(parts) == 4 && parts[1] == "tasks" && parts[3] == "duplicate" && r.Method == http.MethodPost:
		requiredScope = "tasks:write"
		route = "task_duplicate"
	case len(parts) == 2 && parts[1] == "spaces" && r.Method == http.MethodGet:
		requiredScope = "tasks:read"
		route = "spaces_list"
	case len(parts) == 2 && parts[1] == "spaces" && r.Method == http.MethodPost:
		requiredScope = "tasks:write"
		route = "space_create"
	case len(parts) == 3 && parts[1] == "spaces" && r.Method == http.MethodDelete:
		requiredScope = "tasks:write"
		route = "space_delete"
	case len(parts) == 2 && parts[1] == "lists" && r.Method == http.MethodGet:
		requiredScope = "tasks:read"
		route = "lists_list"
	case len(parts) == 2 && parts[1] == "lists" && r.Method == http.MethodPost:
		requiredScope = "tasks:write"
		route = "list_create"
	case len(parts) == 3 && parts[1] == "lists" && r.Method == http.MethodDelete:
		requiredScope = "tasks:write"
		route = "list_delete"
	case len(parts) == 2 && parts[1] == "folders" && r.Method == http.MethodGet:
		requiredScope = "tasks:read"
		route = "folders_list"
	case len(parts) == 2 && parts[1] == "folders" && r.Method == http.MethodPost:
		requiredScope = "tasks:write"
		route = "folder_create"
	case len(parts) == 3 && parts[1] == "folders" && r.Method == http.MethodDelete:
		requiredScope = "tasks:write"
		route = "folder_delete"
	case len(parts) == 2 && parts[1] == "shared" && r.Method == http.MethodGet:
		requiredScope = "sync:read"
		route = "shared"
	case len(parts) == 2 && parts[1] == "propagate" && r.Method == http.MethodPost:
		requiredScope = "sync:push"
		route = "propagate"
	case len(parts) == 2 && parts[1] == "agents" && r.Method == http.MethodGet:
		requiredScope = "tasks:read"
		route = "agents_list"
	case len(parts) == 2 && parts[1] == "agents" && r.Method == http.MethodPost:
		requiredScope = "tasks:write"
		route = "agent_create"
	case len(parts) == 3 && parts[1] == "agents" && r.Method == http.MethodPatch:
		requiredScope = "tasks:write"
		route = "agent_patch"
	case len(parts) == 3 && parts[1] == "agents" && r.Method == http.MethodDelete:
		requiredScope = "tasks:write"
		route = "agent_delete"
	case len(parts) == 3 && parts[1] == "backend" && parts[2] == "status" && r.Method == http.MethodGet:
		requiredScope = "admin:read"
		route = "backend_status"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(claims.UserID, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch route {
	case "channel":
		s.hub.Handle(w, r, claims)
	case "tasks_list":
		s.handleTasksList(w, r)
	case "task_create":
		s.handleTaskCreate(w, r, correlationID)
	case "task_get":
		s.handleTaskGet(w, parts[2], correlationID)
	case "task_patch":
		s.handleTaskPatch(w, r, parts[2], correlationID)
	case "task_delete":
		s.handleTaskDelete(w, parts[2], correlationID)
	case "task_duplicate":
		s.handleTaskDuplicate(w, parts[2], correlationID)
	case "spaces_list":
		writeJSON(w, http.StatusOK, s.store.Spaces())
	case "space_create":
		s.handleSpaceCreate(w, r, correlationID)
	case "space_delete":
		s.handleSpaceDelete(w, parts[2], correlationID)
	case "lists_list":
		writeJSON(w, http.StatusOK, s.store.Lists())
	case "list_create":
		s.handleListCreate(w, r, correlationID)
	case "list_delete":
		s.handleListDelete(w, parts[2], correlationID)
	case "folders_list":
		writeJSON(w, http.StatusOK, s.store.Folders())
	case "folder_create":
		s.handleFolderCreate(w, r, correlationID)
	case "folder_delete":
		s.handleFolderDelete(w, parts[2], correlationID)
	case "shared":
		writeJSON(w, http.StatusOK, s.store.SharedSnapshotFor())
	case "propagate":
		s.handlePropagate(w, r, correlationID)
	case "agents_list":
		writeJSON(w, http.StatusOK, s.store.Agents())
	case "agent_create":
		s.handleAgentCreate(w, r, correlationID)
	case "agent_patch":
		s.handleAgentPatch(w, r, parts[2], correlationID)
	case "agent_delete":
		s.handleAgentDelete(w, parts[2], correlationID)
	case "backend_status":
		writeJSON(w, http.StatusOK, s.store.GetBackendStatus())
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	if listID := strings.TrimSpace(r.URL.Query().Get("listId")); listID != "" {
		writeJSON(w, http.StatusOK, s.store.TasksForList(listID))
		return
	}
	if spaceID := strings.TrimSpace(r.URL.Query().Get("spaceId")); spaceID != "" {
		writeJSON(w, http.StatusOK, s.store.TasksForSpace(spaceID))
		return
	}
	writeJSON(w, http.StatusOK, s.store.Tasks())
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var t taskhub.Task
	if !s.decodeJSONBody(w, r, correlationID, &t) {
		return
	}
	if strings.TrimSpace(t.Name) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "task name is required", correlationID)
		return
	}
	id := s.store.AddTask(t)
	created, _ := s.store.Task(id)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, id, correlationID string) {
	t, ok := s.store.Task(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskPatch(w http.ResponseWriter, r *http.Request, id, correlationID string) {
	if _, ok := s.store.Task(id); !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found", correlationID)
		return
	}
	var patch taskhub.TaskPatch
	if !s.decodeJSONBody(w, r, correlationID, &patch) {
		return
	}
	s.store.UpdateTask(id, patch)
	updated, _ := s.store.Task(id)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, id, correlationID string) {
	if err := s.store.DeleteTask(id); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleTaskDuplicate(w http.ResponseWriter, id, correlationID string) {
	copyID, err := s.store.DuplicateTask(id)
	if err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	created, _ := s.store.Task(copyID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSpaceCreate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var sp taskhub.Space
	if !s.decodeJSONBody(w, r, correlationID, &sp) {
		return
	}
	if strings.TrimSpace(sp.Name) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "space name is required", correlationID)
		return
	}
	id := s.store.AddSpace(sp)
	created, _ := s.store.Space(id)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSpaceDelete(w http.ResponseWriter, id, correlationID string) {
	if err := s.store.DeleteSpace(id); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleListCreate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var l taskhub.List
	if !s.decodeJSONBody(w, r, correlationID, &l) {
		return
	}
	if strings.TrimSpace(l.Name) == "" || strings.TrimSpace(l.SpaceID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "list name and spaceId are required", correlationID)
		return
	}
	id := s.store.AddList(l)
	created, _ := s.store.List(id)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListDelete(w http.ResponseWriter, id, correlationID string) {
	if err := s.store.DeleteList(id); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleFolderCreate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var f taskhub.Folder
	if !s.decodeJSONBody(w, r, correlationID, &f) {
		return
	}
	if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.SpaceID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "folder name and spaceId are required", correlationID)
		return
	}
	id := s.store.AddFolder(f)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleFolderDelete(w http.ResponseWriter, id, correlationID string) {
	if err := s.store.DeleteFolder(id); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handlePropagate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req taskhub.PropagateRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if err := s.store.ApplyPropagated(req); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
}

func (s *Server) handleAgentCreate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var a taskhub.Agent
	if !s.decodeJSONBody(w, r, correlationID, &a) {
		return
	}
	if strings.TrimSpace(a.Name) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "agent name is required", correlationID)
		return
	}
	id := s.store.AddAgent(a)
	created, _ := s.store.Agent(id)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleAgentPatch(w http.ResponseWriter, r *http.Request, id, correlationID string) {
	if _, ok := s.store.Agent(id); !ok {
		writeError(w, http.StatusNotFound, "not_found", "agent not found", correlationID)
		return
	}
	var patch taskhub.AgentPatch
	if !s.decodeJSONBody(w, r, correlationID, &patch) {
		return
	}
	s.store.UpdateAgent(id, patch)
	updated, _ := s.store.Agent(id)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAgentDelete(w http.ResponseWriter, id, correlationID string) {
	if err := s.store.DeleteAgent(id); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, taskhub.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, taskhub.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, taskhub.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
