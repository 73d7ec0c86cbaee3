package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/browsercloud/internal/session"
)

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	all := s.sessions.List()
	out := make([]session.View, 0, len(all))
	for _, sess := range all {
		out = append(out, sess.View())
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	preferred := strings.TrimSpace(req.EndpointID)
	if preferred == "" {
		preferred = strings.TrimSpace(req.BrowserID)
	}

	sess, err := s.sessions.Create(preferred)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	s.metrics.ObserveAllocation(sess.EndpointID)
	s.metrics.ObserveSessionEvent("created")
	respondJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	var req session.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// Unknown and stopped sessions are 404 whatever the action.
	if _, err := s.sessions.Get(id); err != nil {
		respondServiceError(w, err)
		return
	}
	if action := strings.ToLower(strings.TrimSpace(req.Action)); action != session.ActionStop {
		respondError(w, http.StatusBadRequest, "unsupported_action", "unsupported action "+strconv.Quote(req.Action)+"; only \"stop\" is allowed")
		return
	}

	sess, err := s.sessions.Stop(id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	s.metrics.ObserveSessionEvent("stopped")
	respondJSON(w, http.StatusOK, sess.View())
}
