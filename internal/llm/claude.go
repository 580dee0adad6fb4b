package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultClaudeURL       = "https://api.anthropic.com"
	defaultClaudeMaxTokens = 1024
)

// Claude calls the Anthropic Messages API.
type Claude struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

var _ Model = (*Claude)(nil)

// NewClaude creates a Messages API client. An empty baseURL uses the public API.
func NewClaude(apiKey, model, baseURL string) *Claude {
	if baseURL == "" {
		baseURL = defaultClaudeURL
	}
	return &Claude{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *anthropicError `json:"error"`
}

// streamEvent covers the SSE payloads we care about.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error"`
}

// Describe identifies the backend.
func (c *Claude) Describe() ModelInfo {
	return ModelInfo{Name: "claude", Identifier: c.model}
}

// Complete sends a single-turn prompt and returns the concatenated text blocks.
func (c *Claude) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	resp, err := c.send(ctx, "complete", prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", c.fail("complete", 0, fmt.Errorf("read response: %w", err))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", c.fail("complete", 0, fmt.Errorf("decode response: %w", err))
	}
	if apiResp.Error != nil {
		return "", c.fail("complete", 0, fmt.Errorf("%s: %s", apiResp.Error.Type, apiResp.Error.Message))
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", c.fail("complete", 0, errors.New("empty response"))
	}
	return sb.String(), nil
}

// StreamComplete opens a streaming request; text arrives as content_block_delta events.
func (c *Claude) StreamComplete(ctx context.Context, prompt string, opts Options) (Stream, error) {
	resp, err := c.send(ctx, "stream", prompt, opts, true)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &claudeStream{client: c, body: resp.Body, scanner: scanner}, nil
}

func (c *Claude) send(ctx context.Context, op, prompt string, opts Options, stream bool) (*http.Response, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	body, err := json.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		Stream:      stream,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, c.fail(op, 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(op, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.fail(op, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, c.fail(op, resp.StatusCode, errors.New(truncate(string(msg), 200)))
	}
	return resp, nil
}

func (c *Claude) fail(op string, status int, err error) *GenerationError {
	return &GenerationError{
		Model:      c.model,
		Op:         op,
		StatusCode: status,
		Retryable:  status == http.StatusTooManyRequests || status >= 500,
		Err:        err,
	}
}

// Close releases idle connections.
func (c *Claude) Close() {
	c.httpClient.CloseIdleConnections()
}

type claudeStream struct {
	client  *Claude
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
	sent    bool // at least one text fragment was returned
}

func (s *claudeStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			s.done = true
			return "", s.client.fail("stream", 0, fmt.Errorf("decode event: %w", err))
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				s.sent = true
				return ev.Delta.Text, nil
			}
		case "message_stop":
			s.done = true
			if !s.sent {
				return "", s.client.fail("stream", 0, errors.New("empty response"))
			}
			return "", io.EOF
		case "error":
			s.done = true
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			return "", s.client.fail("stream", 0, errors.New(msg))
		}
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", s.client.fail("stream", 0, err)
	}
	return "", s.client.fail("stream", 0, errors.New("stream ended before message_stop"))
}

func (s *claudeStream) Close() error {
	s.done = true
	return s.body.Close()
}
