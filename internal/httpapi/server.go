package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/browsercloud/internal/config"
	"github.com/antoniostano/browsercloud/internal/endpoint"
	"github.com/antoniostano/browsercloud/internal/observability"
	"github.com/antoniostano/browsercloud/internal/session"
	"github.com/antoniostano/browsercloud/internal/stream"
	"github.com/antoniostano/browsercloud/internal/taskruntime"
	"github.com/antoniostano/browsercloud/internal/tasks"
)

// Modes reports which collaborators were selected at startup.
type Modes struct {
	Engine  string `json:"engine"`
	Archive string `json:"archive"`
}

type Server struct {
	cfg         config.Config
	pool        *endpoint.Pool
	sessions    *session.Manager
	taskService *taskruntime.Service
	metrics     *observability.Metrics
	modes       Modes
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, pool *endpoint.Pool, sessions *session.Manager, taskService *taskruntime.Service, metrics *observability.Metrics, modes Modes) *Server {
	if cfg.StreamHeartbeat <= 0 {
		cfg.StreamHeartbeat = 15 * time.Second
	}
	return &Server{
		cfg:         cfg,
		pool:        pool,
		sessions:    sessions,
		taskService: taskService,
		metrics:     metrics,
		modes:       modes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v2", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Patch("/sessions/{id}", s.handleUpdateSession)

		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Get("/tasks/{id}/stream", s.handleTaskStream)
		r.Get("/tasks/{id}/ws", s.handleTaskWS)

		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"endpoints": s.pool.Len(),
		"modes":     s.modes,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.pool.Len() == 0 {
		respondError(w, http.StatusServiceUnavailable, "no_endpoints", "no browser endpoints configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"endpoints": s.pool.List(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, tasks.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
	case errors.Is(err, stream.ErrNotFound):
		respondError(w, http.StatusNotFound, "stream_not_found", err.Error())
	case errors.Is(err, endpoint.ErrUnknownEndpoint):
		respondError(w, http.StatusBadRequest, "unknown_endpoint", err.Error())
	case errors.Is(err, tasks.ErrEmptyDescription),
		errors.Is(err, tasks.ErrInvalidTaskState),
		errors.Is(err, taskruntime.ErrInvalidMaxSteps):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, endpoint.ErrNoEndpoints):
		respondError(w, http.StatusInternalServerError, "no_endpoints", err.Error())
	case errors.Is(err, taskruntime.ErrShuttingDown):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
