package query

import (
	"github.com/KaramelBytes/csv-analyst/internal/chart"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// Pipeline is a parsed expression: the source table "df" followed by stages
// applied left to right.
//
// Both accepted surface syntaxes lower to this form:
//
//	df | where amount > 10 | group by region | agg sum(amount)
//	df[df["amount"] > 10].groupby("region")["amount"].sum()
type Pipeline struct {
	Stages []Stage
}

// Stage is one step of a pipeline.
//
// This is a sealed interface - only types in this package implement it, so
// the interpreter's type switch is exhaustive.
type Stage interface {
	stageNode()
}

// Cond is a row predicate used by Where.
//
// Sealed like Stage.
type Cond interface {
	condNode()
}

// Operand is one side of a comparison.
//
// Sealed like Stage.
type Operand interface {
	operandNode()
}

// Where keeps rows for which Cond holds.
type Where struct{ Cond Cond }

// Select keeps the named columns, in the given order.
type Select struct{ Cols []string }

// Drop removes the named columns.
type Drop struct{ Cols []string }

// SortKey orders rows by one column. An empty Col sorts by the last column.
type SortKey struct {
	Col  string
	Desc bool
}

// Sort orders rows by Keys. Nulls always sort last. The sort is stable.
type Sort struct{ Keys []SortKey }

// Head keeps the first N rows.
type Head struct{ N int }

// Tail keeps the last N rows.
type Tail struct{ N int }

// DropNA removes rows with a null in any of Cols (all columns when empty).
type DropNA struct{ Cols []string }

// Distinct keeps the first occurrence of each distinct row over Cols (all
// columns when empty).
type Distinct struct{ Cols []string }

// ValueCounts counts occurrences of each non-null value of Col (the only
// column when empty), most frequent first.
type ValueCounts struct{ Col string }

// AggSpec is one aggregate.
//
// Col "*" means "rows" and is only valid for count. All applies Fn to every
// eligible non-key column.
type AggSpec struct {
	Fn    string
	Col   string
	All   bool
	Alias string
}

// Aggregate computes Aggs, per group of Keys when Keys is not empty. A
// single aggregate over one column without keys yields a scalar.
type Aggregate struct {
	Keys []string
	Aggs []AggSpec
}

// Describe summarises columns with count, mean, std, min, quartiles and max.
type Describe struct{}

// ColumnsInfo lists column names with their kinds.
type ColumnsInfo struct{}

// Shape reports rows and columns. Dim selects one of them: 0 both, 1 rows,
// 2 columns.
type Shape struct{ Dim int }

// Corr computes the pairwise correlation of numeric columns.
type Corr struct{}

// Round rounds numeric cells, or a scalar, to Digits decimals.
type Round struct{ Digits int }

// Plot draws a series chart on the evaluation canvas; the table passes
// through unchanged.
type Plot struct {
	Kind chart.Kind
	X, Y string
}

// Hist draws a histogram of Col (the only column when empty).
type Hist struct {
	Col  string
	Bins int
}

// Unsupported marks a recognised but unavailable operation, such as an
// unknown method in a method chain. Evaluating it fails.
type Unsupported struct{ Name string }

func (Where) stageNode()       {}
func (Select) stageNode()      {}
func (Drop) stageNode()        {}
func (Sort) stageNode()        {}
func (Head) stageNode()        {}
func (Tail) stageNode()        {}
func (DropNA) stageNode()      {}
func (Distinct) stageNode()    {}
func (ValueCounts) stageNode() {}
func (Aggregate) stageNode()   {}
func (Describe) stageNode()    {}
func (ColumnsInfo) stageNode() {}
func (Shape) stageNode()       {}
func (Corr) stageNode()        {}
func (Round) stageNode()       {}
func (Plot) stageNode()        {}
func (Hist) stageNode()        {}
func (Unsupported) stageNode() {}

// Or holds when either side holds.
type Or struct{ L, R Cond }

// And holds when both sides hold.
type And struct{ L, R Cond }

// Not negates X.
type Not struct{ X Cond }

// Compare applies Op (==, !=, <, <=, >, >=) to two operands. Comparisons
// involving null are false, except != which is true.
type Compare struct {
	Op   string
	L, R Operand
}

// IsNull tests a column for null.
type IsNull struct {
	Col    string
	Negate bool
}

// In tests membership of a column's value in Values.
type In struct {
	Col    string
	Values []table.Value
	Negate bool
}

// Match is a text predicate: contains, startswith or endswith. Fold makes
// it case-insensitive.
type Match struct {
	Col     string
	Op      string
	Pattern string
	Fold    bool
	Negate  bool
}

func (Or) condNode()      {}
func (And) condNode()     {}
func (Not) condNode()     {}
func (Compare) condNode() {}
func (IsNull) condNode()  {}
func (In) condNode()      {}
func (Match) condNode()   {}

// ColRef reads a column of the row under test.
type ColRef struct{ Name string }

// Lit is a constant.
type Lit struct{ Value table.Value }

// AggRef is an aggregate computed over the stage's input table, e.g. the
// right side of "where amount == max(amount)".
type AggRef struct{ Spec AggSpec }

// SubQuery is a nested pipeline over the source table that must produce a
// scalar, e.g. df["amount"].max() inside a filter.
type SubQuery struct{ Pipeline *Pipeline }

func (ColRef) operandNode()   {}
func (Lit) operandNode()      {}
func (AggRef) operandNode()   {}
func (SubQuery) operandNode() {}
