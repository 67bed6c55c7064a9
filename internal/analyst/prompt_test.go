package analyst

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/csv-analyst/internal/query"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

const smallCSV = "name,amount\na,10\nb,20\n"

func loadCSV(t *testing.T, src string) *table.Table {
	t.Helper()
	tbl, err := table.LoadCSV(strings.NewReader(src), "data.csv", table.DefaultLoadOptions())
	require.NoError(t, err)
	return tbl
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestBuildExpressionPromptGolden(t *testing.T) {
	tbl := loadCSV(t, smallCSV)
	got := BuildExpressionPrompt(tbl, "  What is the average amount? ", 5)
	golden(t).Assert(t, "expression_prompt", []byte(got))
}

func TestBuildDirectPromptGolden(t *testing.T) {
	tbl := loadCSV(t, smallCSV)
	got := BuildDirectPrompt(tbl, "Which name has the larger amount?", 0)
	golden(t).Assert(t, "direct_prompt", []byte(got))
}

func TestBuildSummaryPromptGolden(t *testing.T) {
	res := &query.Result{Kind: query.KindScalar, Scalar: table.Num(15), Label: "mean(amount)"}
	got := BuildSummaryPrompt("df | mean(amount)", res, 20, 1000)
	golden(t).Assert(t, "summary_prompt", []byte(got))
}

func TestExpressionPromptSamplesLeadingRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,score\n")
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&b, "%d,%d\n", i, i*10)
	}
	tbl := loadCSV(t, b.String())

	got := BuildExpressionPrompt(tbl, "q", 3)
	assert.Contains(t, got, "The table has 12 rows and 2 columns:")
	assert.Contains(t, got, "First 3 rows:")
	assert.Contains(t, got, " 3     30")
	assert.NotContains(t, got, " 4     40")
	assert.True(t, strings.HasSuffix(got, "Return exactly one line of code and nothing else.\n"))
}

func TestRenderResultTruncatesRowsThenTokens(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,score\n")
	for i := 1; i <= 30; i++ {
		fmt.Fprintf(&b, "%d,%d\n", i, i)
	}
	res := &query.Result{Kind: query.KindTable, Table: loadCSV(t, b.String())}

	text, cut := RenderResult(res, 20, 0)
	assert.True(t, cut)
	assert.Contains(t, text, "... (10 more rows)")
	assert.Equal(t, 22, strings.Count(text, "\n")+1, "header, 20 rows and the trailer")

	short, cut := RenderResult(res, 0, 10)
	assert.True(t, cut)
	assert.LessOrEqual(t, len(short), 40)

	full, cut := RenderResult(res, 100, 0)
	assert.False(t, cut)
	assert.NotContains(t, full, "more rows")
}

func TestSummaryPromptMarksTruncation(t *testing.T) {
	res := &query.Result{Kind: query.KindText, Text: "a\nb\nc\nd"}
	got := BuildSummaryPrompt("df | columns", res, 2, 1000)
	assert.Contains(t, got, "Result:\na\nb\n(result truncated)")
}

func TestRenderResultNil(t *testing.T) {
	text, cut := RenderResult(nil, 10, 10)
	assert.Empty(t, text)
	assert.False(t, cut)
}
