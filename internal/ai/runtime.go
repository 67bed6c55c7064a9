package ai

import (
	"context"
	"strings"
)

// Runtime is implemented by chat-completion backends: the OpenAI-compatible
// client (OpenAI, OpenRouter) and the local Ollama client.
type Runtime interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// StreamRuntime is an optional extension that supports streaming output.
// Implementors invoke onDelta with each partial content chunk.
type StreamRuntime interface {
	GenerateStream(ctx context.Context, req GenerateRequest, onDelta func(string)) error
}

// Provider identifiers used for runtime selection.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

// CompletionRequest is a single-turn request: one prompt, one answer.
type CompletionRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

func (r CompletionRequest) generate() GenerateRequest {
	return GenerateRequest{
		Model:       r.Model,
		Messages:    []Message{{Role: "user", Content: r.Prompt}},
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

// Complete sends req to rt and returns the content of the first choice.
// The text is returned as the model produced it apart from surrounding
// whitespace.
func Complete(ctx context.Context, rt Runtime, req CompletionRequest) (string, error) {
	resp, err := rt.Generate(ctx, req.generate())
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// CompleteStream is Complete with incremental output when rt can stream.
// Runtimes without streaming deliver the whole answer as one delta.
func CompleteStream(ctx context.Context, rt Runtime, req CompletionRequest, onDelta func(string)) (string, error) {
	sr, ok := rt.(StreamRuntime)
	if !ok {
		text, err := Complete(ctx, rt, req)
		if err != nil {
			return "", err
		}
		onDelta(text)
		return text, nil
	}
	var b strings.Builder
	err := sr.GenerateStream(ctx, req.generate(), func(d string) {
		b.WriteString(d)
		onDelta(d)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
