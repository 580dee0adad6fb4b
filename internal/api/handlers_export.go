package api

import (
	"errors"
	"net/http"

	"github.com/dgallion1/docenrich/internal/pathstore"
	"github.com/go-chi/chi/v5"
)

// handleExportedChunks reads a job's chunks back from the export target.
// It works after the job itself has expired from memory.
func (s *Server) handleExportedChunks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exports == nil {
		jsonError(w, "export is not configured", http.StatusNotFound)
		return
	}
	jobID := chi.URLParam(r, "jobID")
	records, err := s.deps.Exports.ExportedChunks(r.Context(), jobID)
	if errors.Is(err, pathstore.ErrNotExported) {
		jsonError(w, "job not exported", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("read export", "job_id", jobID, "error", err)
		jsonError(w, "failed to read export: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"total":  len(records),
		"chunks": records,
	})
}

// handleDeleteExport removes a job's exported chunks.
func (s *Server) handleDeleteExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exports == nil {
		jsonError(w, "export is not configured", http.StatusNotFound)
		return
	}
	jobID := chi.URLParam(r, "jobID")
	if err := s.deps.Exports.DeleteJob(r.Context(), jobID); err != nil {
		s.log.Error("delete export", "job_id", jobID, "error", err)
		jsonError(w, "failed to delete export: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
