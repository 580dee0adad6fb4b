package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client openai.Client
	model  string
}

var _ Model = (*OpenAI)(nil)

// NewOpenAI creates a chat completions client. An empty baseURL uses the
// public API. The SDK's own retries are disabled; retrying is the caller's call.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *OpenAI) Describe() ModelInfo {
	return ModelInfo{Name: "openai", Identifier: o.model}
}

func (o *OpenAI) params(prompt string, opts Options) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		p.Temperature = openai.Float(*opts.Temperature)
	}
	return p
}

func (o *OpenAI) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(prompt, opts))
	if err != nil {
		return "", o.fail("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", o.fail("complete", errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) StreamComplete(ctx context.Context, prompt string, opts Options) (Stream, error) {
	s := o.client.Chat.Completions.NewStreaming(ctx, o.params(prompt, opts))
	// The SDK defers request errors to the first Next call.
	if err := s.Err(); err != nil {
		s.Close()
		return nil, o.fail("stream", err)
	}
	return &openAIStream{owner: o, s: s}, nil
}

func (o *OpenAI) fail(op string, err error) *GenerationError {
	genErr := &GenerationError{Model: o.model, Op: op, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		genErr.StatusCode = apiErr.StatusCode
		genErr.Retryable = apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return genErr
}

type openAIStream struct {
	owner *OpenAI
	s     *ssestream.Stream[openai.ChatCompletionChunk]
	done  bool
}

func (st *openAIStream) Recv() (string, error) {
	for !st.done {
		if !st.s.Next() {
			st.done = true
			break
		}
		chunk := st.s.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
	if err := st.s.Err(); err != nil {
		return "", st.owner.fail("stream", fmt.Errorf("read stream: %w", err))
	}
	return "", io.EOF
}

func (st *openAIStream) Close() error {
	st.done = true
	return st.s.Close()
}
