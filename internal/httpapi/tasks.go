package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/browsercloud/internal/tasks"
)

// createTaskRequest accepts "task" as a legacy alias for "description".
type createTaskRequest struct {
	Description string `json:"description"`
	Task        string `json:"task"`
	SessionID   string `json:"sessionId"`
	MaxSteps    int    `json:"maxSteps"`
}

type createTaskResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = strings.TrimSpace(req.Task)
	}

	task, _, err := s.taskService.CreateTask(r.Context(), tasks.CreateRequest{
		Description: description,
		SessionID:   strings.TrimSpace(req.SessionID),
		MaxSteps:    req.MaxSteps,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, createTaskResponse{ID: task.ID, SessionID: task.SessionID})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskService.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task.View())
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list := s.taskService.ListTasks(r.URL.Query().Get("sessionId"))
	out := make([]tasks.View, 0, len(list))
	for _, task := range list {
		out = append(out, task.View())
	}
	respondJSON(w, http.StatusOK, out)
}

// handleTaskStream relays the task's events as server-sent events until the
// task's stream closes, the client leaves or the idle timeout passes.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames, err := s.taskService.Subscribe(ctx, taskID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.StreamSubscribers.Inc()
	defer s.metrics.StreamSubscribers.Dec()

	heartbeat := time.NewTicker(s.cfg.StreamHeartbeat)
	defer heartbeat.Stop()
	idle, resetIdle := idleTimer(s.cfg.StreamIdleTimeout)
	defer resetIdle(false)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()
			resetIdle(true)
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-idle:
			log.Printf("httpapi: closing idle stream for task %s", taskID)
			return
		}
	}
}

// handleTaskWS relays the same events over a websocket, one text message per
// event, and finishes with a normal close frame.
func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames, err := s.taskService.Subscribe(ctx, taskID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.StreamSubscribers.Inc()
	defer s.metrics.StreamSubscribers.Dec()

	// Clients only send control frames; a read error means they left.
	go func() {
		defer cancel()
		conn.SetReadLimit(4 << 10)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(s.cfg.StreamHeartbeat)
	defer heartbeat.Stop()
	idle, resetIdle := idleTimer(s.cfg.StreamIdleTimeout)
	defer resetIdle(false)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"),
					time.Now().Add(5*time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			resetIdle(true)
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-idle:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "idle timeout"),
				time.Now().Add(5*time.Second))
			return
		}
	}
}

// idleTimer returns a channel that fires after d without a reset. A zero d
// never fires. reset(false) stops the timer.
func idleTimer(d time.Duration) (<-chan time.Time, func(bool)) {
	if d <= 0 {
		return nil, func(bool) {}
	}
	t := time.NewTimer(d)
	return t.C, func(restart bool) {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		if restart {
			t.Reset(d)
		}
	}
}
