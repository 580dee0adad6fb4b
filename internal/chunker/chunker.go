package chunker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docenrich/internal/schema"
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid chunker config")

// ConfigError describes a rejected chunker configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Config controls chunking behavior. Sizes are in characters (runes).
type Config struct {
	ChunkSize int    // Maximum chunk length.
	Overlap   int    // Characters shared by consecutive chunks.
	Separator string // Preferred break string; empty means hard cuts only.
	Slack     int    // How far back from the desired end to look for Separator.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 1024,
		Overlap:   200,
		Separator: " ",
	}
}

// Validate rejects sizes the splitter cannot make progress with.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return &ConfigError{Field: "chunk_size", Reason: fmt.Sprintf("must be > 0, got %d", c.ChunkSize)}
	}
	if c.Overlap < 0 {
		return &ConfigError{Field: "overlap", Reason: fmt.Sprintf("must be >= 0, got %d", c.Overlap)}
	}
	if c.Overlap >= c.ChunkSize {
		return &ConfigError{Field: "overlap", Reason: fmt.Sprintf("%d must be smaller than chunk_size %d", c.Overlap, c.ChunkSize)}
	}
	if c.Slack < 0 {
		return &ConfigError{Field: "slack", Reason: fmt.Sprintf("must be >= 0, got %d", c.Slack)}
	}
	return nil
}

func (c Config) slack() int {
	if c.Slack > 0 {
		return c.Slack
	}
	return max(c.ChunkSize/4, 1)
}

// Span is a half-open rune range [Start, End) of the source text.
type Span struct {
	Start int
	End   int
}

// Split cuts doc into overlapping chunks. The budget is taken from the
// document's EMBEDDING rendering: metadata that an embedding model will see
// on every chunk reduces the room left for text. When that metadata leaves
// no more room than the overlap, the plain ChunkSize is used instead. Chunk
// text is the raw slice of doc.Text, never the rendered form.
func Split(doc *schema.Document, cfg Config) ([]*schema.Chunk, error) {
	chunks, _, err := split(doc, cfg)
	return chunks, err
}

// split reports whether the metadata-aware budget could be honored.
func split(doc *schema.Document, cfg Config) ([]*schema.Chunk, bool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	rendered, err := schema.Render(doc, schema.ModeEmbedding)
	if err != nil {
		return nil, false, fmt.Errorf("render document %s: %w", doc.ID, err)
	}

	effective := cfg
	effective.ChunkSize -= utf8.RuneCountInString(rendered) - utf8.RuneCountInString(doc.Text)
	fits := effective.ChunkSize > cfg.Overlap
	if !fits {
		effective.ChunkSize = cfg.ChunkSize
	}

	text := []rune(doc.Text)
	offsets := byteOffsets(doc.Text, len(text))
	spans := Spans(text, effective)
	chunks := make([]*schema.Chunk, len(spans))
	for i, sp := range spans {
		raw := doc.Text[offsets[sp.Start]:offsets[sp.End]]
		chunks[i] = schema.NewChunk(doc, raw, i, sp.Start, sp.End)
	}
	return chunks, fits, nil
}

// byteOffsets maps rune index i of s to its byte offset, with one extra entry
// for len(s). An invalid byte counts as one rune, matching []rune(s).
func byteOffsets(s string, runes int) []int {
	offsets := make([]int, 0, runes+1)
	for i := 0; i < len(s); {
		offsets = append(offsets, i)
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return append(offsets, len(s))
}

// Spans computes chunk boundaries over text. cfg must already be valid.
// Start offsets strictly increase and the spans cover the whole text; empty
// text yields a single empty span.
func Spans(text []rune, cfg Config) []Span {
	n := len(text)
	if n == 0 {
		return []Span{{}}
	}

	var spans []Span
	start := 0
	for {
		desiredEnd := min(start+cfg.ChunkSize, n)
		end := desiredEnd
		if desiredEnd < n {
			end = breakPoint(text, start, desiredEnd, cfg.Separator, cfg.slack())
		}
		spans = append(spans, Span{Start: start, End: end})
		if end >= n {
			break
		}

		next := end - cfg.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return spans
}

// breakPoint returns the position just after the last separator that lies
// entirely inside [desiredEnd-slack, desiredEnd], or desiredEnd if none does.
// The window never reaches back to start, so a chunk is never empty.
func breakPoint(text []rune, start, desiredEnd int, sep string, slack int) int {
	if sep == "" {
		return desiredEnd
	}
	lo := max(desiredEnd-slack, start+1)
	if lo >= desiredEnd {
		return desiredEnd
	}
	window := string(text[lo:desiredEnd])
	idx := strings.LastIndex(window, sep)
	if idx < 0 {
		return desiredEnd
	}
	return lo + utf8.RuneCountInString(window[:idx]) + utf8.RuneCountInString(sep)
}

// Stage adapts Split into the pipeline's document-to-chunk stage.
type Stage struct {
	Config Config
	// Logger receives per-document split details. Nil discards.
	Logger *slog.Logger
}

// NewStage validates cfg up front so a bad config fails before any work.
func NewStage(cfg Config) (*Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Stage{Config: cfg}, nil
}

// Name returns the stage name.
func (s *Stage) Name() string {
	return "chunker"
}

// Chunk splits every document in order, checking ctx between documents.
func (s *Stage) Chunk(ctx context.Context, docs []*schema.Document) ([]*schema.Chunk, error) {
	log := s.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	var out []*schema.Chunk
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, fits, err := split(doc, s.Config)
		if err != nil {
			return nil, err
		}
		if !fits {
			log.Warn("embedding metadata exceeds chunk budget, using plain chunk size",
				"doc_id", doc.ID, "chunk_size", s.Config.ChunkSize, "overlap", s.Config.Overlap)
		}
		log.Debug("document split", "doc_id", doc.ID, "chunks", len(chunks),
			"est_tokens", EstimateTokens(doc.Text))
		out = append(out, chunks...)
	}
	return out, nil
}
