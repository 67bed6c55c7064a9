package analyst

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/csv-analyst/internal/query"
	"github.com/KaramelBytes/csv-analyst/internal/table"
	"github.com/KaramelBytes/csv-analyst/internal/utils"
)

// DefaultSampleRows is how many leading rows prompts show the model.
const DefaultSampleRows = 5

const queryLanguage = `Write a query over df in this language:
  df | where <cond> | select a, b | sort col desc | head 5
  df | group by col | agg sum(x) as total, count(*)
  df | mean(col)
  df | value_counts col
  df | distinct col
  df | describe
  df | corr
  df | columns
  df | shape
  df | plot line|bar|scatter x, y
  df | hist col
Conditions: == != < <= > >= and or not, col is null, col in ("a", "b"), col contains "text".
Aggregates: count sum mean min max median std nunique first last.
Quote column names that contain spaces with backticks, e.g. ` + "`unit price`" + `.`

// BuildExpressionPrompt asks the model for a single query answering
// question over t.
func BuildExpressionPrompt(t *table.Table, question string, sampleRows int) string {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	var sb strings.Builder
	sb.WriteString("You are a professional data analyst. You answer questions about a table named df by writing a query.\n\n")
	fmt.Fprintf(&sb, "The table has %d rows and %d columns:\n", t.NumRows(), t.NumCols())
	for _, c := range t.Columns() {
		fmt.Fprintf(&sb, "- %s (%s)\n", c.Name, c.Kind)
	}
	fmt.Fprintf(&sb, "\nFirst %d rows:\n", min(sampleRows, t.NumRows()))
	sb.WriteString(t.Head(sampleRows).Render(0))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\n")
	sb.WriteString(queryLanguage)
	sb.WriteString("\n\nReturn exactly one line of code and nothing else.\n")
	return sb.String()
}

// BuildDirectPrompt asks the model to answer from the sample rows alone.
func BuildDirectPrompt(t *table.Table, question string, sampleRows int) string {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	return "You are a professional data analyst. You are analyzing the following dataset:\n\n" +
		t.Head(sampleRows).Render(0) +
		"\n\nUser question: " + strings.TrimSpace(question) +
		"\nPlease provide your answer using only the information shown above.\n"
}

// BuildSummaryPrompt asks for a short business-facing summary of res. The
// rendered result is cut to maxRows rows and then to maxTokens tokens.
func BuildSummaryPrompt(expression string, res *query.Result, maxRows, maxTokens int) string {
	rendered, truncated := RenderResult(res, maxRows, maxTokens)
	var sb strings.Builder
	sb.WriteString("You are a professional data analyst. The query below was run against the user's table.\n\n")
	sb.WriteString("Query:\n")
	sb.WriteString(expression)
	sb.WriteString("\n\nResult:\n")
	sb.WriteString(rendered)
	if truncated {
		sb.WriteString("\n(result truncated)")
	}
	sb.WriteString("\n\nSummarize what this result shows in one or two sentences for a business audience. Do not repeat the query.\n")
	return sb.String()
}

// RenderResult formats res for a prompt and reports whether it was cut.
// Tables keep at most maxRows rows and text at most maxRows lines; the
// whole is then capped at maxTokens. Scalars carry their label, e.g.
// "mean(amount) = 15".
func RenderResult(res *query.Result, maxRows, maxTokens int) (string, bool) {
	if res == nil {
		return "", false
	}
	var text string
	cut := false
	switch res.Kind {
	case query.KindScalar:
		text = res.Render(0)
		if res.Label != "" {
			text = res.Label + " = " + text
		}
	case query.KindTable:
		text = res.Render(maxRows)
		cut = maxRows > 0 && res.Rows() > maxRows
	default:
		text, cut = utils.TruncateLines(res.Text, maxRows)
	}
	if res.Figure != nil {
		text += "\n[chart] " + res.Figure.Describe()
	}
	if maxTokens > 0 {
		short := utils.TruncateToTokenLimit(text, maxTokens)
		cut = cut || len(short) < len(text)
		text = short
	}
	return text, cut
}
