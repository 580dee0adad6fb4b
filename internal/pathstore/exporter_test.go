package pathstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/docenrich/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory pathstore.
type fakeStore struct {
	mu     sync.Mutex
	nodes  map[string]json.RawMessage
	links  []LinkRequest
	auth   []string
	failOn string
}

func newFakeStore(t *testing.T) (*fakeStore, *Client) {
	t.Helper()
	fs := &fakeStore{nodes: map[string]json.RawMessage{}}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL+"/", "secret")
	t.Cleanup(client.Close)
	return fs, client
}

func (fs *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.auth = append(fs.auth, r.Header.Get("Authorization"))

	if fs.failOn != "" && strings.Contains(r.URL.Path, fs.failOn) {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	if r.URL.Path == "/links" && r.Method == http.MethodPut {
		var link LinkRequest
		if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.links = append(fs.links, link)
		w.WriteHeader(http.StatusCreated)
		return
	}

	key, ok := strings.CutPrefix(r.URL.Path, "/kv/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req struct {
			Value json.RawMessage `json:"value"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.nodes[key] = req.Value
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		if prefix, scan := strings.CutSuffix(key, "/*"); scan {
			var nodes []NodeResponse
			for k, v := range fs.nodes {
				if strings.HasPrefix(k, prefix+"/") {
					nodes = append(nodes, NodeResponse{Key: k, Value: v})
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
			return
		}
		v, found := fs.nodes[key]
		if !found {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(NodeResponse{Key: key, Value: v})
	case http.MethodDelete:
		for k := range fs.nodes {
			if k == key || (r.URL.Query().Get("children") == "true" && strings.HasPrefix(k, key+"/")) {
				delete(fs.nodes, k)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testChunks(t *testing.T) []*schema.Chunk {
	t.Helper()
	a := schema.NewDocument("alpha beta gamma", schema.NewMetadata(
		schema.Entry{Key: "file_name", Value: "a.txt"},
		schema.Entry{Key: "secret", Value: "x"},
	))
	a.Exclude(schema.ModeEmbedding, "secret")
	b := schema.NewDocument("delta", nil)
	return []*schema.Chunk{
		schema.NewChunk(a, "alpha beta", 0, 0, 10),
		schema.NewChunk(a, "gamma", 1, 11, 16),
		schema.NewChunk(b, "delta", 0, 0, 5),
	}
}

func TestExportChunks_RoundTrip(t *testing.T) {
	fs, client := newFakeStore(t)
	exp := NewExporter(client, 2, nil)
	chunks := testChunks(t)

	require.NoError(t, exp.ExportChunks(context.Background(), "job1", chunks))

	records, err := exp.ExportedChunks(context.Background(), "job1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, chunks[i].ID, rec.ID)
		assert.Equal(t, chunks[i].Text, rec.Text)
		assert.Equal(t, chunks[i].SourceID, rec.SourceID)
	}
	assert.Equal(t, "file_name: a.txt\nsecret: x\n\nalpha beta", records[0].ModelText)
	assert.Equal(t, "file_name: a.txt\n\nalpha beta", records[0].EmbeddingText)
	assert.Equal(t, "delta", records[2].EmbeddingText)

	v, ok := records[0].Metadata.Get("file_name")
	require.True(t, ok)
	assert.Equal(t, "a.txt", v)

	// Only the two chunks of the first document are linked.
	require.Len(t, fs.links, 1)
	assert.Equal(t, "docenrich/jobs/job1/chunks/000000", fs.links[0].From)
	assert.Equal(t, "docenrich/jobs/job1/chunks/000001", fs.links[0].To)
	assert.Equal(t, "next", fs.links[0].Summary)

	for _, h := range fs.auth {
		assert.Equal(t, "Bearer secret", h)
	}
}

func TestExportChunks_PutFailure(t *testing.T) {
	fs, client := newFakeStore(t)
	fs.failOn = "/chunks/000001"
	exp := NewExporter(client, 1, nil)

	err := exp.ExportChunks(context.Background(), "job1", testChunks(t))
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)

	_, ok := fs.nodes["docenrich/jobs/job1"]
	assert.False(t, ok, "summary must not be written after a failed export")
}

func TestExportChunks_TemplateError(t *testing.T) {
	_, client := newFakeStore(t)
	exp := NewExporter(client, 1, nil)
	chunks := testChunks(t)
	chunks[0].Template.ContentTemplate = "{nope}"

	err := exp.ExportChunks(context.Background(), "job1", chunks)
	require.ErrorIs(t, err, schema.ErrTemplate)
}

func TestExportedChunks_NotExported(t *testing.T) {
	_, client := newFakeStore(t)
	exp := NewExporter(client, 1, nil)

	_, err := exp.ExportedChunks(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotExported)
}

func TestDeleteJob(t *testing.T) {
	fs, client := newFakeStore(t)
	exp := NewExporter(client, 4, nil)
	ctx := context.Background()

	require.NoError(t, exp.ExportChunks(ctx, "job1", testChunks(t)))
	require.NoError(t, exp.ExportChunks(ctx, "job2", testChunks(t)[:1]))
	require.NoError(t, exp.DeleteJob(ctx, "job1"))

	for k := range fs.nodes {
		assert.False(t, strings.HasPrefix(k, "docenrich/jobs/job1"), "leftover node %s", k)
	}
	_, err := exp.ExportedChunks(ctx, "job2")
	assert.NoError(t, err)
	_, err = exp.ExportedChunks(ctx, "job1")
	assert.ErrorIs(t, err, ErrNotExported)
}
