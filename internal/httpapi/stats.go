package httpapi

import (
	"net/http"

	"github.com/antoniostano/browsercloud/internal/observability"
)

type statsResponse struct {
	ActiveSessions int                            `json:"activeSessions"`
	RunningTasks   int                            `json:"runningTasks"`
	Runs           observability.RunStageSnapshot `json:"runs"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, statsResponse{
		ActiveSessions: s.sessions.ActiveCount(),
		RunningTasks:   s.taskService.RunningCount(),
		Runs:           s.metrics.RunSnapshot(),
	})
}
