// Package extract derives chunk metadata by prompting a language model.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docenrich/internal/llm"
	"github.com/dgallion1/docenrich/internal/pipeline"
	"github.com/dgallion1/docenrich/internal/schema"
)

// Metadata keys written by the built-in extractors.
const (
	TitlesKey    = "documentTitles"
	QuestionsKey = "possibleQuestions"
)

// Extractor is an enrichment stage that asks the model for a list of
// strings per chunk and stores it under Key.
type Extractor struct {
	name       string
	key        string
	prompt     PromptTemplate
	count      int
	model      llm.Model
	genOpts    llm.Options
	maxRetries int
	hideEmbed  bool
}

var _ pipeline.EnrichStage = (*Extractor)(nil)

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxRetries retries retryable generation errors up to n times with
// jittered backoff. The default is no retries.
func WithMaxRetries(n int) Option {
	return func(e *Extractor) { e.maxRetries = max(n, 0) }
}

// WithGenerationOptions sets the options passed to every model call.
func WithGenerationOptions(o llm.Options) Option {
	return func(e *Extractor) { e.genOpts = o }
}

// WithPrompt replaces the instruction template.
func WithPrompt(p PromptTemplate) Option {
	return func(e *Extractor) {
		if p != "" {
			e.prompt = p
		}
	}
}

// HideFromEmbedding excludes the extractor's key from the EMBEDDING view of
// every chunk it processes.
func HideFromEmbedding() Option {
	return func(e *Extractor) { e.hideEmbed = true }
}

// New creates a generic extractor.
func New(name, key string, prompt PromptTemplate, model llm.Model, count int, opts ...Option) (*Extractor, error) {
	if model == nil {
		return nil, fmt.Errorf("extractor %s: model is required", name)
	}
	if key == "" {
		return nil, fmt.Errorf("extractor %s: metadata key is required", name)
	}
	if count <= 0 {
		return nil, fmt.Errorf("extractor %s: count must be > 0, got %d", name, count)
	}
	e := &Extractor{
		name:   name,
		key:    key,
		prompt: prompt,
		count:  count,
		model:  model,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewTitleExtractor proposes up to n titles per chunk under "documentTitles".
func NewTitleExtractor(model llm.Model, n int, opts ...Option) (*Extractor, error) {
	return New("titles", TitlesKey, TitlePrompt, model, n, opts...)
}

// NewQuestionExtractor proposes up to n questions per chunk under "possibleQuestions".
func NewQuestionExtractor(model llm.Model, n int, opts ...Option) (*Extractor, error) {
	return New("questions", QuestionsKey, QuestionPrompt, model, n, opts...)
}

func (e *Extractor) Name() string { return e.name }

// Key is the metadata key the extractor writes.
func (e *Extractor) Key() string { return e.key }

// Apply runs one model call per chunk with at most opts.ConcurrencyLimit in
// flight. Metadata is written only after every call has finished, so an
// aborted stage leaves the chunks untouched.
func (e *Extractor) Apply(ctx context.Context, chunks []*schema.Chunk, opts pipeline.StageOptions) ([]*schema.Chunk, []*pipeline.ChunkError, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	results := make([][]string, len(chunks))
	failures := make([]error, len(chunks))

	var (
		progressMu sync.Mutex
		completed  int
	)
	done := func() {
		if opts.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		completed++
		opts.Progress(completed, len(chunks))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.ConcurrencyLimit, 1))

	for i, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			items, err := e.extractOne(gctx, log, i, c)
			switch {
			case err == nil:
				results[i] = items
			case gctx.Err() != nil:
				return gctx.Err()
			case errors.Is(err, schema.ErrTemplate), opts.FailFast:
				return fmt.Errorf("chunk %d (%s): %w", i, c.ID, err)
			default:
				log.Error("extraction failed", "chunk", i, "chunk_id", c.ID, "error", err)
				failures[i] = err
			}
			done()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Prefer the caller's cancellation over the derived group error.
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var chunkErrs []*pipeline.ChunkError
	for i, c := range chunks {
		if failures[i] != nil {
			chunkErrs = append(chunkErrs, &pipeline.ChunkError{Stage: e.name, Index: i, ChunkID: c.ID, Err: failures[i]})
			continue
		}
		if len(results[i]) == 0 {
			log.Debug("no usable candidates", "chunk", i, "chunk_id", c.ID)
			continue
		}
		if c.Metadata == nil {
			c.Metadata = schema.NewMetadata()
		}
		c.Metadata.Set(e.key, results[i])
		if e.hideEmbed {
			c.Exclude(schema.ModeEmbedding, e.key)
		}
	}
	log.Info("stage complete", "chunks", len(chunks), "errors", len(chunkErrs))
	return chunks, chunkErrs, nil
}

func (e *Extractor) extractOne(ctx context.Context, log *slog.Logger, idx int, c *schema.Chunk) ([]string, error) {
	passage, err := schema.Render(c, schema.ModeRaw)
	if err != nil {
		return nil, err
	}
	prompt := e.prompt.Build(e.count, passage)

	var lastErr error
	for attempt := range e.maxRetries + 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := e.model.Complete(ctx, prompt, e.genOpts)
		if err == nil {
			return ParseList(out, e.count), nil
		}
		lastErr = err
		if attempt == e.maxRetries || !llm.IsRetryable(err) {
			break
		}
		log.Warn("retryable generation error", "chunk", idx, "attempt", attempt, "error", err)
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
