package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
)

// Echo is an offline backend. Its reply is a pure function of the prompt,
// which makes it useful for tests and for running the service without keys.
type Echo struct {
	// Reply overrides the default reply builder.
	Reply func(prompt string) string
}

var _ Model = (*Echo)(nil)

// NewEcho returns an Echo with the default reply builder.
func NewEcho() *Echo {
	return &Echo{}
}

func (e *Echo) Describe() ModelInfo {
	return ModelInfo{Name: "echo", Identifier: "echo-1"}
}

func (e *Echo) Complete(ctx context.Context, prompt string, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.reply(prompt), nil
}

// StreamComplete yields the Complete reply split after each space.
func (e *Echo) StreamComplete(ctx context.Context, prompt string, _ Options) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := e.reply(prompt)
	var parts []string
	if reply != "" {
		parts = strings.SplitAfter(reply, " ")
	}
	return &sliceStream{ctx: ctx, parts: parts}, nil
}

func (e *Echo) reply(prompt string) string {
	if e.Reply != nil {
		return e.Reply(prompt)
	}
	// The first non-empty line after the instruction block stands in for a
	// summary of the passage.
	body := prompt
	if i := strings.LastIndex(prompt, "\n---\n"); i >= 0 {
		body = prompt[i+len("\n---\n"):]
	}
	var first string
	for _, l := range strings.Split(body, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			first = l
			break
		}
	}
	h := fnv.New32a()
	h.Write([]byte(prompt))
	words := strings.Fields(first)
	if len(words) > 6 {
		words = words[:6]
	}
	return fmt.Sprintf("1. %s\n2. Passage %08x", strings.Join(words, " "), h.Sum32())
}

type sliceStream struct {
	ctx   context.Context
	parts []string
	pos   int
}

func (s *sliceStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.parts) {
		return "", io.EOF
	}
	p := s.parts[s.pos]
	s.pos++
	return p, nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.parts)
	return nil
}

// Func adapts a plain function to Model. StreamComplete yields the whole
// reply as one fragment.
type Func func(ctx context.Context, prompt string, opts Options) (string, error)

var _ Model = Func(nil)

func (f Func) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

func (f Func) StreamComplete(ctx context.Context, prompt string, opts Options) (Stream, error) {
	out, err := f(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	return &sliceStream{ctx: ctx, parts: []string{out}}, nil
}

func (f Func) Describe() ModelInfo {
	return ModelInfo{Name: "func", Identifier: "func"}
}
