package pathstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgallion1/docenrich/internal/schema"
	"golang.org/x/sync/errgroup"
)

// DefaultPrefix is the path under which job output is written.
const DefaultPrefix = "docenrich/jobs"

// ErrNotExported is returned when a job has no stored output.
var ErrNotExported = errors.New("job not exported")

// ChunkRecord is the value stored for each exported chunk.
type ChunkRecord struct {
	ID            string           `json:"id"`
	SourceID      string           `json:"source_id"`
	Sequence      int              `json:"sequence"`
	StartOffset   int              `json:"start_offset"`
	EndOffset     int              `json:"end_offset"`
	Text          string           `json:"text"`
	Metadata      *schema.Metadata `json:"metadata"`
	ModelText     string           `json:"model_text"`
	EmbeddingText string           `json:"embedding_text"`
}

// Exporter writes finished chunks to pathstore, one node per chunk, with a
// "next" link between neighbours from the same document.
type Exporter struct {
	client      *Client
	prefix      string
	concurrency int
	log         *slog.Logger
}

func NewExporter(client *Client, concurrency int, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Exporter{
		client:      client,
		prefix:      DefaultPrefix,
		concurrency: max(concurrency, 1),
		log:         log,
	}
}

// JobKey is the root path of a job's output.
func (e *Exporter) JobKey(jobID string) string {
	return e.prefix + "/" + jobID
}

func (e *Exporter) chunkKey(jobID string, i int) string {
	return fmt.Sprintf("%s/chunks/%06d", e.JobKey(jobID), i)
}

// NewChunkRecord renders c for storage.
func NewChunkRecord(c *schema.Chunk) (ChunkRecord, error) {
	modelText, err := schema.Render(c, schema.ModeModel)
	if err != nil {
		return ChunkRecord{}, err
	}
	embedText, err := schema.Render(c, schema.ModeEmbedding)
	if err != nil {
		return ChunkRecord{}, err
	}
	return ChunkRecord{
		ID:            c.ID,
		SourceID:      c.SourceID,
		Sequence:      c.SequenceIndex,
		StartOffset:   c.StartOffset,
		EndOffset:     c.EndOffset,
		Text:          c.Text,
		Metadata:      c.Metadata,
		ModelText:     modelText,
		EmbeddingText: embedText,
	}, nil
}

// ExportChunks stores chunks under the job's path and links consecutive
// chunks of each document.
func (e *Exporter) ExportChunks(ctx context.Context, jobID string, chunks []*schema.Chunk) error {
	records := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		rec, err := NewChunkRecord(c)
		if err != nil {
			return fmt.Errorf("render chunk %d: %w", i, err)
		}
		records[i] = rec
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, rec := range records {
		g.Go(func() error {
			return e.client.PutNode(gctx, e.chunkKey(jobID, i), NodeRequest{
				Value:  rec,
				Source: rec.SourceID,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("export chunks: %w", err)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	links := 0
	for i := 1; i < len(records); i++ {
		if records[i].SourceID != records[i-1].SourceID {
			continue
		}
		links++
		g.Go(func() error {
			return e.client.PutLink(gctx, LinkRequest{
				From:    e.chunkKey(jobID, i-1),
				To:      e.chunkKey(jobID, i),
				Weight:  1,
				Summary: "next",
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("link chunks: %w", err)
	}

	err := e.client.PutNode(ctx, e.JobKey(jobID), NodeRequest{
		Value: map[string]any{
			"chunk_count": len(records),
			"exported_at": time.Now().UTC().Format(time.RFC3339),
		},
		MergeMode: "replace",
	})
	if err != nil {
		return fmt.Errorf("export job summary: %w", err)
	}

	e.log.Info("chunks exported", "job_id", jobID, "chunks", len(records), "links", links,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// ExportedChunks reads a job's stored chunks back in sequence order.
func (e *Exporter) ExportedChunks(ctx context.Context, jobID string) ([]ChunkRecord, error) {
	summary, err := e.client.GetNode(ctx, e.JobKey(jobID))
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, ErrNotExported
	}

	nodes, err := e.client.ListChildren(ctx, e.JobKey(jobID)+"/chunks", 0)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(nodes, func(a, b NodeResponse) int { return strings.Compare(a.Key, b.Key) })

	records := make([]ChunkRecord, 0, len(nodes))
	for _, n := range nodes {
		var rec ChunkRecord
		if err := json.Unmarshal(n.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode chunk %s: %w", n.Key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteJob removes everything exported for a job.
func (e *Exporter) DeleteJob(ctx context.Context, jobID string) error {
	return e.client.DeleteNode(ctx, e.JobKey(jobID), true)
}
