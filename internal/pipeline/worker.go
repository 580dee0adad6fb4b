package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgallion1/docenrich/internal/schema"
)

// Exporter ships the chunks of a completed job somewhere durable.
type Exporter interface {
	ExportChunks(ctx context.Context, jobID string, chunks []*schema.Chunk) error
}

// Worker processes a single pipeline job.
type Worker struct {
	chunkStage ChunkStage
	exporter   Exporter
	log        *slog.Logger

	concurrencyLimit int
	failFast         bool
}

func NewWorker(chunkStage ChunkStage, exporter Exporter, log *slog.Logger, concurrencyLimit int, failFast bool) *Worker {
	return &Worker{
		chunkStage:       chunkStage,
		exporter:         exporter,
		log:              log,
		concurrencyLimit: concurrencyLimit,
		failFast:         failFast,
	}
}

// Process runs the pipeline for a job and records the outcome on it.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	job.setCancel(cancel)
	defer job.setCancel(nil)

	if job.Snapshot().Status == StatusCancelled {
		log.Info("job cancelled before start")
		return
	}

	start := time.Now()
	res, err := Run(ctx, job.Documents(), w.chunkStage, job.Stages(), Options{
		InPlace:          job.InPlace,
		ConcurrencyLimit: w.concurrencyLimit,
		FailFast:         w.failFast,
		Progress:         job.SetStageProgress,
		Logger:           log,
	})
	job.AddChunkErrors(res.Errors)

	switch res.State {
	case StateCancelled:
		log.Info("job cancelled", "error", err)
		job.SetStatus(StatusCancelled, "cancelled")
		return
	case StateFailed:
		log.Error("pipeline failed", "stage", res.FailedStage, "error", err)
		job.AddError(err.Error())
		job.SetFailedStage(res.FailedStage)
		job.SetStatus(StatusFailed, "failed")
		return
	}

	job.SetChunks(res.Chunks)
	log.Info("pipeline complete", "chunks", len(res.Chunks), "chunk_errors", len(res.Errors),
		"duration_ms", time.Since(start).Milliseconds())

	if w.exporter != nil {
		job.SetStatus(StatusExporting, "exporting")
		if err := w.exporter.ExportChunks(ctx, job.ID, res.Chunks); err != nil {
			log.Error("export failed", "error", err)
			job.AddError("export: " + err.Error())
			job.SetStatus(StatusPartial, "done")
			return
		}
	}

	if len(res.Errors) > 0 {
		job.SetStatus(StatusPartial, "done")
		return
	}
	job.SetStatus(StatusCompleted, "done")
}
