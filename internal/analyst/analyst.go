package analyst

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
	"github.com/KaramelBytes/csv-analyst/internal/observability"
	"github.com/KaramelBytes/csv-analyst/internal/query"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// Answer modes.
const (
	ModeQuery  = "query"
	ModeDirect = "direct"
)

// Analyst answers questions about a table with a language model. Every
// model call is single-shot; retries, if any, belong to the Runtime.
type Analyst struct {
	Runtime     ai.Runtime
	Model       string
	Temperature float64
	MaxTokens   int

	SampleRows       int
	SummaryRows      int
	SummaryMaxTokens int

	Logger *slog.Logger
}

// New returns an Analyst with the default sampling and summary sizes.
func New(rt ai.Runtime, model string) *Analyst {
	return &Analyst{
		Runtime:          rt,
		Model:            model,
		Temperature:      0.2,
		SampleRows:       DefaultSampleRows,
		SummaryRows:      20,
		SummaryMaxTokens: 1000,
		Logger:           observability.Discard(),
	}
}

func (a *Analyst) logger() *slog.Logger {
	if a.Logger == nil {
		return observability.Discard()
	}
	return a.Logger
}

func (a *Analyst) complete(ctx context.Context, stage, prompt string) (string, error) {
	return a.completeStream(ctx, stage, prompt, nil)
}

// completeStream forwards partial output to onDelta when it is non-nil.
func (a *Analyst) completeStream(ctx context.Context, stage, prompt string, onDelta func(string)) (string, error) {
	if a.Runtime == nil {
		return "", errors.New("no completion runtime configured")
	}
	req := ai.CompletionRequest{
		Model:       a.Model,
		Prompt:      prompt,
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
	}
	start := time.Now()
	var (
		text string
		err  error
	)
	if onDelta != nil {
		text, err = ai.CompleteStream(ctx, a.Runtime, req, onDelta)
	} else {
		text, err = ai.Complete(ctx, a.Runtime, req)
	}
	observability.ObserveCompletion(stage, time.Since(start), err)
	return text, err
}

// Ask runs one question cycle in query mode: the model writes a query, the
// query is evaluated against t, and the model summarises the result. Ask
// always returns a Cycle; failures are recorded on it. t is never modified.
func (a *Analyst) Ask(ctx context.Context, t *table.Table, question string) *Cycle {
	c := newCycle(uuid.NewString(), question)
	log := a.logger().With(
		slog.String("cycle_id", c.ID),
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
	)
	defer func() {
		observability.ObserveCycle(ModeQuery, c.Outcome())
		log.Info("question cycle finished",
			slog.String("outcome", c.Outcome()),
			slog.String("expression", c.Expression),
			slog.String("elapsed", c.Elapsed.String()),
		)
	}()

	c.advance(StateSynthesizing)
	raw, err := a.complete(ctx, "synthesis", BuildExpressionPrompt(t, question, a.SampleRows))
	if err != nil {
		c.Err = &Failure{Kind: TransportFailure, Err: err}
		c.advance(StateSynthesisFailed)
		log.Warn("synthesis failed", slog.Any("error", err))
		return c
	}
	c.Raw = raw
	c.Expression = query.Clean(raw)

	c.advance(StateEvaluating)
	res, err := query.Evaluate(ctx, t, raw)
	if err != nil {
		c.Err = Classify(err)
		c.advance(StateEvaluationFailed)
		log.Warn("evaluation failed", slog.String("kind", string(c.Err.Kind)), slog.Any("error", err))
		return c
	}
	c.Result = res
	c.Expression = res.Expression
	c.advance(StateEvaluated)

	c.advance(StateSummarizing)
	summary, err := a.complete(ctx, "summary", BuildSummaryPrompt(res.Expression, res, a.SummaryRows, a.SummaryMaxTokens))
	if err != nil {
		c.SummaryErr = &Failure{Kind: TransportFailure, Err: err}
		log.Warn("summary failed", slog.Any("error", err))
	} else {
		c.Summary = summary
	}
	c.advance(StateDone)
	return c
}

// Answer asks the model directly, showing it only the first SampleRows
// rows of t.
func (a *Analyst) Answer(ctx context.Context, t *table.Table, question string) (string, error) {
	return a.AnswerStream(ctx, t, question, nil)
}

// AnswerStream is Answer with the model's output passed to onDelta as it
// arrives. The full answer is still returned.
func (a *Analyst) AnswerStream(ctx context.Context, t *table.Table, question string, onDelta func(string)) (string, error) {
	outcome := "done"
	defer func() { observability.ObserveCycle(ModeDirect, outcome) }()

	text, err := a.completeStream(ctx, "direct", BuildDirectPrompt(t, question, a.SampleRows), onDelta)
	if err != nil {
		outcome = "transport_failed"
		return "", &Failure{Kind: TransportFailure, Err: err}
	}
	return text, nil
}

// ParseMode maps user input onto ModeQuery or ModeDirect.
func ParseMode(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ModeQuery, "code", "analysis":
		return ModeQuery, true
	case ModeDirect, "insight", "sample":
		return ModeDirect, true
	}
	return "", false
}
