package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Model == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := map[string]any{
		"model":       s.deps.Model.Describe(),
		"queue_depth": s.deps.Orchestrator.QueueDepth(),
		"jobs":        s.deps.Orchestrator.JobCount(),
	}
	if s.deps.Stats != nil {
		resp["stats"] = s.deps.Stats.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}
