package web

import (
	"math"

	"github.com/KaramelBytes/csv-analyst/internal/analyst"
	"github.com/KaramelBytes/csv-analyst/internal/chart"
	"github.com/KaramelBytes/csv-analyst/internal/query"
	"github.com/KaramelBytes/csv-analyst/internal/session"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

type columnView struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// tableView is a table cut to a display size.
type tableView struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	TotalRows int      `json:"total_rows"`
	Truncated bool     `json:"truncated"`
}

func newTableView(t *table.Table, maxRows int) tableView {
	n := t.NumRows()
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	v := tableView{Columns: t.ColumnNames(), Rows: make([][]any, n), TotalRows: t.NumRows(), Truncated: n < t.NumRows()}
	for r := 0; r < n; r++ {
		row := t.Row(r)
		cells := make([]any, len(row))
		for c, val := range row {
			cells[c] = cellJSON(val)
		}
		v.Rows[r] = cells
	}
	return v
}

// cellJSON maps a cell onto a JSON-safe value: null, number or string.
func cellJSON(v table.Value) any {
	switch v.Type {
	case table.Number:
		if math.IsInf(v.Num, 0) {
			return v.String()
		}
		return v.Num
	case table.String:
		return v.Str
	}
	return nil
}

type previewView struct {
	Name     string       `json:"name"`
	Rows     int          `json:"rows"`
	Cols     int          `json:"cols"`
	Columns  []columnView `json:"columns"`
	Head     tableView    `json:"head"`
	Warnings []string     `json:"warnings,omitempty"`
}

const previewRows = 5

func newPreviewView(t *table.Table) previewView {
	cols := make([]columnView, 0, t.NumCols())
	for _, c := range t.Columns() {
		cols = append(cols, columnView{Name: c.Name, Kind: string(c.Kind)})
	}
	return previewView{
		Name:     t.Name(),
		Rows:     t.NumRows(),
		Cols:     t.NumCols(),
		Columns:  cols,
		Head:     newTableView(t.Head(previewRows), 0),
		Warnings: t.Warnings(),
	}
}

type resultView struct {
	Kind   string        `json:"kind"`
	Table  *tableView    `json:"table,omitempty"`
	Scalar any           `json:"scalar,omitempty"`
	Label  string        `json:"label,omitempty"`
	Text   string        `json:"text,omitempty"`
	Figure *chart.Figure `json:"figure,omitempty"`
	SVG    string        `json:"svg,omitempty"`
}

func newResultView(res *query.Result, maxRows int) *resultView {
	if res == nil {
		return nil
	}
	v := &resultView{Kind: string(res.Kind), Label: res.Label}
	switch res.Kind {
	case query.KindTable:
		if res.Table != nil {
			tv := newTableView(res.Table, maxRows)
			v.Table = &tv
		}
	case query.KindScalar:
		v.Scalar = cellJSON(res.Scalar)
		if res.Scalar.IsNull() {
			v.Text = "NaN"
		}
	default:
		v.Text = res.Text
	}
	// shapes without a dedicated view fall back to text
	if v.Table == nil && v.Scalar == nil && v.Text == "" {
		v.Text = res.Render(maxRows)
	}
	if res.Figure != nil {
		v.Figure = res.Figure
		v.SVG = chart.SVG(res.Figure)
	}
	return v
}

type errorView struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func newErrorView(f *analyst.Failure) *errorView {
	if f == nil {
		return nil
	}
	return &errorView{ErrorCode: failureCode(f), Message: f.Message(), Retryable: f.Retryable()}
}

func failureCode(f *analyst.Failure) string {
	switch f.Kind {
	case analyst.ParseFailure:
		return "PARSE_FAILURE"
	case analyst.TransportFailure:
		return "TRANSPORT_FAILURE"
	case analyst.SyntaxFailure:
		return "SYNTAX_FAILURE"
	}
	return "EVALUATION_FAILURE"
}

// answerView is what the answer region shows, in order: expression,
// result, summary or error.
type answerView struct {
	ID           string               `json:"id,omitempty"`
	Mode         string               `json:"mode"`
	Question     string               `json:"question"`
	State        string               `json:"state"`
	History      []analyst.Transition `json:"history,omitempty"`
	Expression   string               `json:"expression,omitempty"`
	Result       *resultView          `json:"result,omitempty"`
	Summary      string               `json:"summary,omitempty"`
	Answer       string               `json:"answer,omitempty"`
	Error        *errorView           `json:"error,omitempty"`
	SummaryError *errorView           `json:"summary_error,omitempty"`
	ElapsedMs    int64                `json:"elapsed_ms"`
}

func newCycleView(c *analyst.Cycle, maxRows int) *answerView {
	return &answerView{
		ID:           c.ID,
		Mode:         analyst.ModeQuery,
		Question:     c.Question,
		State:        string(c.State),
		History:      c.History,
		Expression:   c.Expression,
		Result:       newResultView(c.Result, maxRows),
		Summary:      c.Summary,
		Error:        newErrorView(c.Err),
		SummaryError: newErrorView(c.SummaryErr),
		ElapsedMs:    c.Elapsed.Milliseconds(),
	}
}

func newDirectView(d *session.Direct) *answerView {
	v := &answerView{Mode: analyst.ModeDirect, Question: d.Question, Answer: d.Text, State: string(analyst.StateDone)}
	if d.Err != nil {
		v.State = "failed"
		v.Error = newErrorView(d.Err)
	}
	return v
}
