// Package pipeline threads documents through a chunking stage and an ordered
// list of enrichment stages, and runs those pipelines as background jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgallion1/docenrich/internal/schema"
)

// ErrPipelineInvariant is wrapped by every InvariantError.
var ErrPipelineInvariant = errors.New("pipeline invariant violated")

// ChunkStage turns documents into chunks. It is always the first stage.
type ChunkStage interface {
	Name() string
	Chunk(ctx context.Context, docs []*schema.Document) ([]*schema.Chunk, error)
}

// EnrichStage adds metadata to chunks. The returned slice must hold the
// same chunks in the same order. Per-chunk failures the stage recovered
// from are returned as ChunkErrors; a non-nil error aborts the run.
type EnrichStage interface {
	Name() string
	Apply(ctx context.Context, chunks []*schema.Chunk, opts StageOptions) ([]*schema.Chunk, []*ChunkError, error)
}

// StageOptions is what the runner hands each enrichment stage.
type StageOptions struct {
	ConcurrencyLimit int
	FailFast         bool
	// Progress is called serially after each chunk.
	Progress func(completed, total int)
	Logger   *slog.Logger
}

// ProgressFunc reports advisory progress. Stage index 0 is the chunking stage.
type ProgressFunc func(stageIndex int, stageName string, completed, total int)

// Options configures one Run.
type Options struct {
	// InPlace skips cloning chunks before the first enrichment stage.
	InPlace          bool
	ConcurrencyLimit int
	FailFast         bool
	Progress         ProgressFunc
	Logger           *slog.Logger
}

// State is a run's position in the state machine.
type State string

const (
	StatePending   State = "pending"
	StateChunking  State = "chunking"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// ChunkError records a recoverable per-chunk failure.
type ChunkError struct {
	Stage   string `json:"stage"`
	Index   int    `json:"index"`
	ChunkID string `json:"chunk_id"`
	Err     error  `json:"-"`
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("stage %s chunk %d (%s): %v", e.Stage, e.Index, e.ChunkID, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// StageError names the stage that aborted a run.
type StageError struct {
	Index int
	Name  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// InvariantError reports a stage that changed the chunk sequence.
type InvariantError struct {
	Stage  string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: stage %s %s", ErrPipelineInvariant, e.Stage, e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return ErrPipelineInvariant
}

// Result is the outcome of a Run. Chunks is set only when State is Done.
type Result struct {
	State       State
	Chunks      []*schema.Chunk
	Errors      []*ChunkError
	FailedStage int
}

// Run executes chunkStage and then each of stages in order. Stage i+1
// starts only after stage i returned its full output. The returned error
// is nil exactly when the result state is Done.
func Run(ctx context.Context, docs []*schema.Document, chunkStage ChunkStage, stages []EnrichStage, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	limit := max(opts.ConcurrencyLimit, 1)
	res := &Result{State: StatePending, FailedStage: -1}

	if chunkStage == nil {
		return fail(res, 0, "", errors.New("no chunking stage"))
	}
	if err := ctx.Err(); err != nil {
		return cancel(res, err)
	}

	res.State = StateChunking
	chunks, err := chunkStage.Chunk(ctx, docs)
	if err != nil {
		if ctx.Err() != nil {
			return cancel(res, ctx.Err())
		}
		return fail(res, 0, chunkStage.Name(), err)
	}
	log.Info("chunked documents", "documents", len(docs), "chunks", len(chunks))
	if opts.Progress != nil {
		opts.Progress(0, chunkStage.Name(), len(chunks), len(chunks))
	}

	if !opts.InPlace {
		for i, c := range chunks {
			chunks[i] = c.Clone()
		}
	}

	res.State = StateRunning
	for i, stage := range stages {
		idx := i + 1
		if err := ctx.Err(); err != nil {
			return cancel(res, err)
		}

		stageOpts := StageOptions{
			ConcurrencyLimit: limit,
			FailFast:         opts.FailFast,
			Logger:           log.With("stage", stage.Name(), "stage_index", idx),
		}
		if opts.Progress != nil {
			var mu sync.Mutex
			name := stage.Name()
			stageOpts.Progress = func(completed, total int) {
				mu.Lock()
				defer mu.Unlock()
				opts.Progress(idx, name, completed, total)
			}
		}

		out, chunkErrs, err := stage.Apply(ctx, chunks, stageOpts)
		if err != nil {
			if ctx.Err() != nil {
				return cancel(res, ctx.Err())
			}
			return fail(res, idx, stage.Name(), err)
		}
		if err := checkSequence(stage.Name(), chunks, out); err != nil {
			return fail(res, idx, stage.Name(), err)
		}
		res.Errors = append(res.Errors, chunkErrs...)
		if len(chunkErrs) > 0 {
			log.Warn("stage finished with chunk errors", "stage", stage.Name(), "errors", len(chunkErrs))
		}
		chunks = out
	}

	res.State = StateDone
	res.Chunks = chunks
	return res, nil
}

// checkSequence compares chunk identity position by position.
func checkSequence(stage string, in, out []*schema.Chunk) error {
	if len(in) != len(out) {
		return &InvariantError{Stage: stage, Reason: fmt.Sprintf("returned %d chunks for %d inputs", len(out), len(in))}
	}
	for i := range in {
		if out[i] == nil {
			return &InvariantError{Stage: stage, Reason: fmt.Sprintf("returned nil chunk at index %d", i)}
		}
		if out[i].ID != in[i].ID {
			return &InvariantError{Stage: stage, Reason: fmt.Sprintf("chunk at index %d is %s, want %s", i, out[i].ID, in[i].ID)}
		}
	}
	return nil
}

func fail(res *Result, idx int, name string, err error) (*Result, error) {
	res.State = StateFailed
	res.FailedStage = idx
	return res, &StageError{Index: idx, Name: name, Err: err}
}

func cancel(res *Result, err error) (*Result, error) {
	res.State = StateCancelled
	return res, err
}
