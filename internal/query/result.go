package query

import (
	"github.com/KaramelBytes/csv-analyst/internal/chart"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// Kind is the shape of an evaluation result.
type Kind string

const (
	KindTable  Kind = "table"
	KindScalar Kind = "scalar"
	KindText   Kind = "text"
)

// Result is the outcome of evaluating one expression. Exactly one of Table,
// Scalar or Text is meaningful, per Kind. Figure is set when the expression
// drew a chart.
type Result struct {
	Expression string
	Kind       Kind
	Table      *table.Table
	Scalar     table.Value
	Label      string // what Scalar measures, e.g. "mean(amount)"
	Text       string
	Figure     *chart.Figure
}

// Render formats the result as text. Tables show at most maxRows rows
// (0 means all).
func (r *Result) Render(maxRows int) string {
	switch r.Kind {
	case KindTable:
		if r.Table == nil {
			return ""
		}
		return r.Table.Render(maxRows)
	case KindScalar:
		if r.Scalar.IsNull() {
			return "NaN"
		}
		return r.Scalar.String()
	}
	return r.Text
}

// Rows reports the number of rows a table result holds, or 1 otherwise.
func (r *Result) Rows() int {
	if r.Kind == KindTable && r.Table != nil {
		return r.Table.NumRows()
	}
	return 1
}
