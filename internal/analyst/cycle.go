package analyst

import (
	"time"

	"github.com/KaramelBytes/csv-analyst/internal/query"
)

// State is a step of one question cycle.
type State string

const (
	StateIdle             State = "idle"
	StateSynthesizing     State = "synthesizing"
	StateSynthesisFailed  State = "synthesis_failed"
	StateEvaluating       State = "evaluating"
	StateEvaluationFailed State = "evaluation_failed"
	StateEvaluated        State = "evaluated"
	StateSummarizing      State = "summarizing"
	StateDone             State = "done"
)

var nextStates = map[State][]State{
	StateIdle:         {StateSynthesizing},
	StateSynthesizing: {StateEvaluating, StateSynthesisFailed},
	StateEvaluating:   {StateEvaluated, StateEvaluationFailed},
	StateEvaluated:    {StateSummarizing},
	StateSummarizing:  {StateDone},
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool { return len(nextStates[s]) == 0 }

// Transition records when a cycle entered a state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Cycle is the record of one question. Fields are filled as the cycle
// progresses; a summary failure leaves Result in place.
type Cycle struct {
	ID       string
	Question string
	State    State
	History  []Transition

	// Raw is the model response as received; Expression is what was
	// evaluated after cleanup.
	Raw        string
	Expression string
	Result     *query.Result
	Summary    string

	Err        *Failure
	SummaryErr *Failure

	Started time.Time
	Elapsed time.Duration
}

func newCycle(id, question string) *Cycle {
	now := time.Now()
	return &Cycle{
		ID:       id,
		Question: question,
		State:    StateIdle,
		History:  []Transition{{State: StateIdle, At: now}},
		Started:  now,
	}
}

// advance moves the cycle to s. Moves the state machine does not allow
// are ignored and reported as false.
func (c *Cycle) advance(s State) bool {
	for _, n := range nextStates[c.State] {
		if n == s {
			c.State = s
			c.History = append(c.History, Transition{State: s, At: time.Now()})
			if s.Terminal() {
				c.Elapsed = time.Since(c.Started)
			}
			return true
		}
	}
	return false
}

// States lists the visited states in order.
func (c *Cycle) States() []State {
	out := make([]State, len(c.History))
	for i, t := range c.History {
		out[i] = t.State
	}
	return out
}

// Outcome names the cycle's end state for logs and metrics: done,
// summary_failed, synthesis_failed or evaluation_failed.
func (c *Cycle) Outcome() string {
	if c.State == StateDone && c.SummaryErr != nil {
		return "summary_failed"
	}
	return string(c.State)
}
