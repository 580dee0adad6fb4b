package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgallion1/docenrich/internal/schema"
)

type renderRequest struct {
	documentRequest
	Mode string `json:"mode"`
}

// handleRender previews how a document would be presented to a model or an
// embedder without running a pipeline.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := schema.ParseMode(req.Mode)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc, err := s.newDocument(req.documentRequest)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	block, err := schema.MetadataBlock(doc, mode)
	if err == nil {
		var rendered string
		rendered, err = schema.Render(doc, mode)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"mode":           mode,
				"metadata_block": block,
				"rendered":       rendered,
			})
			return
		}
	}
	code := http.StatusInternalServerError
	if errors.Is(err, schema.ErrTemplate) {
		code = http.StatusBadRequest
	}
	jsonError(w, err.Error(), code)
}
