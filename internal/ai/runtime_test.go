package ai

import (
	"context"
	"errors"
	"testing"
)

type stubRuntime struct {
	resp *GenerateResponse
	err  error
	got  GenerateRequest
}

func (s *stubRuntime) Generate(_ context.Context, req GenerateRequest) (*GenerateResponse, error) {
	s.got = req
	return s.resp, s.err
}

func TestCompleteSingleTurn(t *testing.T) {
	rt := &stubRuntime{resp: &GenerateResponse{Choices: []Choice{{Message: Message{Content: "  df | count\n"}}}}}
	text, err := Complete(context.Background(), rt, CompletionRequest{Model: "gpt-3.5-turbo", Prompt: "q", Temperature: 0.2})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "df | count" {
		t.Fatalf("unexpected text %q", text)
	}
	if len(rt.got.Messages) != 1 || rt.got.Messages[0].Role != "user" || rt.got.Messages[0].Content != "q" || rt.got.Temperature != 0.2 {
		t.Fatalf("unexpected request %+v", rt.got)
	}
}

func TestCompleteErrors(t *testing.T) {
	if _, err := Complete(context.Background(), &stubRuntime{resp: &GenerateResponse{}}, CompletionRequest{Model: "m"}); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
	boom := &AuthError{APIError: &APIError{StatusCode: 401}}
	if _, err := Complete(context.Background(), &stubRuntime{err: boom}, CompletionRequest{Model: "m"}); !errors.Is(err, boom) {
		t.Fatalf("expected runtime error to pass through, got %v", err)
	}
}

func TestCompleteStreamFallback(t *testing.T) {
	rt := &stubRuntime{resp: &GenerateResponse{Choices: []Choice{{Message: Message{Content: "answer"}}}}}
	var deltas []string
	text, err := CompleteStream(context.Background(), rt, CompletionRequest{Model: "m", Prompt: "q"}, func(d string) { deltas = append(deltas, d) })
	if err != nil || text != "answer" || len(deltas) != 1 {
		t.Fatalf("unexpected fallback result %q %v %v", text, deltas, err)
	}
}

func TestNewRuntime(t *testing.T) {
	for _, p := range []string{ProviderOpenAI, ProviderOpenRouter, ProviderOllama} {
		if _, err := NewRuntime(p, RuntimeConfig{}); err != nil {
			t.Fatalf("NewRuntime(%s): %v", p, err)
		}
	}
	if _, err := NewRuntime("nope", RuntimeConfig{}); err == nil {
		t.Fatalf("expected unknown provider error")
	}
	rt, _ := NewRuntime(ProviderOpenRouter, RuntimeConfig{APIKey: "k"})
	if c, ok := rt.(*Client); !ok || c.Provider() != ProviderOpenRouter {
		t.Fatalf("expected an OpenRouter client, got %T", rt)
	}
}
