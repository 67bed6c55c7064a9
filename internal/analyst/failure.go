package analyst

import (
	"context"
	"errors"
	"fmt"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
	"github.com/KaramelBytes/csv-analyst/internal/query"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// FailureKind names where in the flow something went wrong.
type FailureKind string

const (
	// ParseFailure is a malformed upload.
	ParseFailure FailureKind = "parse"
	// TransportFailure is a completion call that could not be made or was
	// refused.
	TransportFailure FailureKind = "transport"
	// SyntaxFailure is a model response that is not a query after cleanup.
	SyntaxFailure FailureKind = "syntax"
	// EvaluationFailure is a query that parsed but could not run.
	EvaluationFailure FailureKind = "evaluation"
)

// Failure is an error tagged with its FailureKind. None of them are fatal;
// each is shown to the user, who may resubmit.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string { return fmt.Sprintf("%s failure: %v", f.Kind, f.Err) }

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether resubmitting unchanged may succeed.
func (f *Failure) Retryable() bool {
	return f.Kind == TransportFailure && ai.Retryable(f.Err)
}

// Message is the text shown to the user.
func (f *Failure) Message() string {
	switch f.Kind {
	case ParseFailure:
		return fmt.Sprintf("Could not read the uploaded file: %v", f.Err)
	case TransportFailure:
		var auth *ai.AuthError
		if errors.As(f.Err, &auth) || errors.Is(f.Err, ai.ErrMissingAPIKey) {
			return fmt.Sprintf("The language model rejected the request; check the API key. (%v)", f.Err)
		}
		return fmt.Sprintf("The language model could not be reached: %v", f.Err)
	case SyntaxFailure:
		return fmt.Sprintf("The generated code is not a valid query: %v", f.Err)
	case EvaluationFailure:
		var ee *query.EvalError
		if errors.As(f.Err, &ee) && ee.Disallowed {
			return fmt.Sprintf("The generated code was refused: %v", f.Err)
		}
		return fmt.Sprintf("Error evaluating generated code: %v", f.Err)
	}
	return f.Err.Error()
}

// Classify tags err with the kind of failure it represents. Errors from
// the completion client, including cancellation, are transport failures;
// anything unrecognised is treated as an evaluation failure. Classify(nil)
// is nil.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var pe *table.ParseError
	if errors.As(err, &pe) {
		return &Failure{Kind: ParseFailure, Err: err}
	}
	var se *query.SyntaxError
	if errors.As(err, &se) {
		return &Failure{Kind: SyntaxFailure, Err: err}
	}
	var ee *query.EvalError
	if errors.As(err, &ee) {
		return &Failure{Kind: EvaluationFailure, Err: err}
	}
	if isTransport(err) {
		return &Failure{Kind: TransportFailure, Err: err}
	}
	return &Failure{Kind: EvaluationFailure, Err: err}
}

func isTransport(err error) bool {
	if errors.Is(err, ai.ErrMissingAPIKey) || errors.Is(err, ai.ErrEmptyCompletion) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var (
		apiErr *ai.APIError
		auth   *ai.AuthError
		rl     *ai.RateLimitError
		mnf    *ai.ModelNotFoundError
		bad    *ai.BadRequestError
		quota  *ai.QuotaExceededError
		server *ai.ServerError
		unr    *ai.UnreachableError
	)
	return errors.As(err, &apiErr) || errors.As(err, &auth) || errors.As(err, &rl) ||
		errors.As(err, &mnf) || errors.As(err, &bad) || errors.As(err, &quota) ||
		errors.As(err, &server) || errors.As(err, &unr)
}
