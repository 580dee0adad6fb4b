package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dgallion1/docenrich/internal/config"
	"github.com/dgallion1/docenrich/internal/parser"
	"github.com/dgallion1/docenrich/internal/pipeline"
	"github.com/dgallion1/docenrich/internal/schema"
	"github.com/go-chi/chi/v5"
)

// documentRequest describes one input document in a JSON request.
type documentRequest struct {
	Text     string              `json:"text"`
	Metadata *schema.Metadata    `json:"metadata"`
	Exclude  map[string][]string `json:"exclude"`
	Template schema.Template     `json:"template"`
}

type runRequest struct {
	Documents []documentRequest `json:"documents"`
	Stages    []string          `json:"stages"`
	InPlace   bool              `json:"in_place"`
}

type chunkResponse struct {
	ID          string           `json:"id"`
	SourceID    string           `json:"source_id"`
	Sequence    int              `json:"sequence"`
	StartOffset int              `json:"start_offset"`
	EndOffset   int              `json:"end_offset"`
	Text        string           `json:"text"`
	Metadata    *schema.Metadata `json:"metadata"`
	Rendered    string           `json:"rendered"`
}

// newDocument builds a document with server defaults first, then the
// request's own template fields and exclusions on top.
func (s *Server) newDocument(req documentRequest) (*schema.Document, error) {
	doc := schema.NewDocument(req.Text, req.Metadata)
	if err := s.deps.Defaults.ApplyTo(doc); err != nil {
		return nil, err
	}
	own := config.DocumentDefaults{Template: req.Template, Exclude: req.Exclude}
	if err := own.ApplyTo(doc); err != nil {
		return nil, err
	}
	if err := doc.Template.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Documents) == 0 {
		jsonError(w, "at least one document is required", http.StatusBadRequest)
		return
	}

	docs := make([]*schema.Document, len(req.Documents))
	sources := make([]string, len(req.Documents))
	for i, d := range req.Documents {
		doc, err := s.newDocument(d)
		if err != nil {
			jsonError(w, fmt.Sprintf("document %d: %v", i, err), http.StatusBadRequest)
			return
		}
		docs[i] = doc
		sources[i] = doc.ID
		if name, ok := doc.Metadata.Get(parser.KeyFileName); ok {
			sources[i] = schema.FormatValue(name)
		}
	}

	s.submit(w, pipeline.NewJob(docs, sources, req.InPlace), req.Stages)
}

func (s *Server) handleUploadRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := slices.Concat(r.MultipartForm.File["files"], r.MultipartForm.File["file"])
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	opts := parser.Options{PDFFallbackPdftotext: s.cfg.PDFFallbackPdftotext}
	docs := make([]*schema.Document, 0, len(files))
	sources := make([]string, 0, len(files))
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)
		if !parser.IsSupportedExtension(filename) {
			jsonError(w, fmt.Sprintf("%s: unsupported file type: %s", filename, filepath.Ext(filename)), http.StatusBadRequest)
			return
		}

		f, err := fh.Open()
		if err != nil {
			jsonError(w, filename+": failed to open file", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		f.Close()
		if err != nil {
			jsonError(w, filename+": failed to read file", http.StatusInternalServerError)
			return
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			jsonError(w, fmt.Sprintf("%s: file exceeds max size (%d bytes)", filename, s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}

		doc, err := parser.Parse(bytes.NewReader(data), filename, opts)
		if err != nil {
			jsonError(w, filename+": "+err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if err := s.deps.Defaults.ApplyTo(doc); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		docs = append(docs, doc)
		sources = append(sources, filename)
	}

	inPlace := r.FormValue("in_place") == "true"
	s.submit(w, pipeline.NewJob(docs, sources, inPlace), splitList(r.MultipartForm.Value["stages"]))
}

func (s *Server) submit(w http.ResponseWriter, job *pipeline.Job, stages []string) {
	if err := s.deps.Orchestrator.Submit(job, stages); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrStopped) {
			code = http.StatusServiceUnavailable
		}
		jsonError(w, err.Error(), code)
		return
	}

	snap := job.Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   snap.ID,
		"sources":  snap.Sources,
		"status":   snap.Status,
		"poll_url": "/api/runs/" + snap.ID,
	})
}

func (s *Server) job(w http.ResponseWriter, r *http.Request) *pipeline.Job {
	job := s.deps.Orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
	}
	return job
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if job := s.job(w, r); job != nil {
		writeJSON(w, http.StatusOK, job.Snapshot())
	}
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	job.Cancel()
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// handleRunChunks lists a finished run's chunks rendered in the requested
// metadata mode. offset and limit page through the result.
func (s *Server) handleRunChunks(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	q := r.URL.Query()
	mode, err := schema.ParseMode(q.Get("mode"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		jsonError(w, "invalid offset", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(q.Get("limit"), 0)
	if err != nil {
		jsonError(w, "invalid limit", http.StatusBadRequest)
		return
	}

	snap := job.Snapshot()
	if snap.Status != pipeline.StatusCompleted && snap.Status != pipeline.StatusPartial {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "run has no chunks",
			"status": snap.Status,
		})
		return
	}

	chunks := job.Chunks()
	total := len(chunks)
	chunks = chunks[min(offset, total):]
	if limit > 0 && limit < len(chunks) {
		chunks = chunks[:limit]
	}

	out := make([]chunkResponse, len(chunks))
	for i, c := range chunks {
		rendered, err := schema.Render(c, mode)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out[i] = chunkResponse{
			ID:          c.ID,
			SourceID:    c.SourceID,
			Sequence:    c.SequenceIndex,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			Text:        c.Text,
			Metadata:    c.Metadata,
			Rendered:    rendered,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": snap.ID,
		"mode":   mode,
		"total":  total,
		"chunks": out,
	})
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid value %q", v)
	}
	return n, nil
}

// splitList flattens repeated and comma separated form values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
