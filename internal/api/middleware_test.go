package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logRouter(buf *bytes.Buffer) http.Handler {
	log := slog.New(slog.NewJSONHandler(buf, nil))
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Get("/api/runs/{jobID}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/api/broken", func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, "boom", http.StatusBadGateway)
	})
	return r
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), buf.String())
	buf.Reset()
	return line
}

func TestRequestLogger_RunRoute(t *testing.T) {
	var buf bytes.Buffer
	h := logRouter(&buf)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/job-42", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	line := decodeLogLine(t, &buf)
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "job-42", line["job_id"])
	assert.Equal(t, "/api/runs/{jobID}", line["route"])
	assert.EqualValues(t, len(`{"ok":true}`), line["bytes"])
	assert.NotEmpty(t, line["request_id"])
}

func TestRequestLogger_ErrorLevels(t *testing.T) {
	var buf bytes.Buffer
	h := logRouter(&buf)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/broken", nil))
	line := decodeLogLine(t, &buf)
	assert.Equal(t, "ERROR", line["level"])
	assert.EqualValues(t, http.StatusBadGateway, line["status"])
	assert.NotContains(t, line, "job_id")

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	line = decodeLogLine(t, &buf)
	assert.Equal(t, "WARN", line["level"])
	assert.EqualValues(t, http.StatusNotFound, line["status"])
}
