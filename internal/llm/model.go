// Package llm defines the generative model capability the extractors consume
// and the backends that provide it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrGeneration is wrapped by every GenerationError.
var ErrGeneration = errors.New("generation failed")

// Options tune a single generation call. Zero values defer to the backend.
type Options struct {
	MaxTokens   int
	Temperature *float64
}

// Temperature returns a pointer for Options.Temperature.
func Temperature(v float64) *float64 {
	return &v
}

// ModelInfo identifies a backend.
type ModelInfo struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// Model is the capability every backend provides. Implementations must be
// safe for concurrent use and must not retry internally.
type Model interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	// StreamComplete returns fragments whose concatenation equals one
	// Complete result.
	StreamComplete(ctx context.Context, prompt string, opts Options) (Stream, error)
	Describe() ModelInfo
}

// Stream is a lazy, finite, non-restartable sequence of text fragments.
// Recv returns io.EOF after the last fragment.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Collect drains a stream and closes it.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var sb strings.Builder
	for {
		frag, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
	}
}

// GenerationError reports a backend failure for one call.
type GenerationError struct {
	Model      string
	Op         string
	StatusCode int
	// Retryable marks transient failures (rate limits, 5xx). Retrying is
	// left to the caller.
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Model, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGeneration}
	}
	return []error{ErrGeneration, e.Err}
}

// IsRetryable reports whether err is a transient GenerationError.
func IsRetryable(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Retryable
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
