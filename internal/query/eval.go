package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/KaramelBytes/csv-analyst/internal/chart"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// Evaluate cleans a raw model response, parses it and runs it against t.
//
// Evaluation is side-effect free: t is never modified, and the only names
// in scope are df (bound to t) and the query operations. A chart drawn by
// the expression is returned on the Result; the canvas it was drawn on is
// private to this call.
func Evaluate(ctx context.Context, t *table.Table, raw string) (*Result, error) {
	lines := cleanLines(raw)
	if len(lines) == 0 {
		return nil, syntaxErr(raw, -1, "no expression found in response")
	}
	for _, line := range lines {
		if err := scanCapabilities(line, t); err != nil {
			return nil, err
		}
	}
	if len(lines) > 1 {
		return nil, syntaxErr(strings.Join(lines, "\n"), -1, "response has %d lines; expected a single expression", len(lines))
	}
	expr := lines[0]
	if len(expr) > MaxExprLen {
		return nil, syntaxErr(expr, -1, "expression is longer than %d characters", MaxExprLen)
	}
	pl, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	canvas := chart.NewCanvas()
	defer canvas.Release()

	res, err := Run(ctx, t, pl, canvas)
	if err != nil {
		return nil, err
	}
	res.Expression = expr
	return res, nil
}

// Run executes a parsed pipeline against t. Charts are drawn on canvas,
// which may be nil when plotting is not wanted.
func Run(ctx context.Context, t *table.Table, pl *Pipeline, canvas *chart.Canvas) (*Result, error) {
	in := &interp{ctx: ctx, src: t, canvas: canvas}
	v, err := in.run(pl)
	if err != nil {
		return nil, err
	}
	res := &Result{Kind: v.kind, Table: v.t, Scalar: v.scalar, Label: v.label, Text: v.text}
	if canvas != nil {
		res.Figure = canvas.Take()
	}
	return res, nil
}

type interp struct {
	ctx    context.Context
	src    *table.Table
	canvas *chart.Canvas
	depth  int
}

// value is the intermediate state flowing between stages.
type value struct {
	kind   Kind
	t      *table.Table
	scalar table.Value
	label  string
	text   string
}

func (in *interp) run(pl *Pipeline) (value, error) {
	cur := value{kind: KindTable, t: in.src}
	for _, s := range pl.Stages {
		if err := in.ctx.Err(); err != nil {
			return value{}, &EvalError{Stage: stageName(s), Msg: "cancelled", Err: err}
		}
		next, err := in.apply(cur, s)
		if err != nil {
			return value{}, err
		}
		cur = next
	}
	return cur, nil
}

func tableValue(t *table.Table) value { return value{kind: KindTable, t: t} }

func (in *interp) apply(cur value, s Stage) (value, error) {
	name := stageName(s)
	if cur.kind != KindTable {
		if r, ok := s.(Round); ok && cur.kind == KindScalar {
			cur.scalar = roundValue(cur.scalar, r.Digits)
			return cur, nil
		}
		return value{}, evalErr(name, "cannot follow a %s result", cur.kind)
	}
	t := cur.t
	switch s := s.(type) {
	case Where:
		pred, err := in.bindCond(s.Cond, t)
		if err != nil {
			return value{}, err
		}
		var keep []int
		for r := 0; r < t.NumRows(); r++ {
			if pred(r) {
				keep = append(keep, r)
			}
		}
		return tableValue(t.Take(keep)), nil
	case Select:
		idx, err := resolveAll(t, s.Cols, name)
		if err != nil {
			return value{}, err
		}
		return project(t, idx)
	case Drop:
		idx, err := resolveAll(t, s.Cols, name)
		if err != nil {
			return value{}, err
		}
		gone := map[int]bool{}
		for _, i := range idx {
			gone[i] = true
		}
		var keep []int
		for c := 0; c < t.NumCols(); c++ {
			if !gone[c] {
				keep = append(keep, c)
			}
		}
		return project(t, keep)
	case Sort:
		return in.sortRows(t, s)
	case Head:
		return tableValue(t.Head(max(s.N, 0))), nil
	case Tail:
		return tableValue(t.Tail(max(s.N, 0))), nil
	case DropNA:
		cols, err := colsOrAll(t, s.Cols, name)
		if err != nil {
			return value{}, err
		}
		var keep []int
	rows:
		for r := 0; r < t.NumRows(); r++ {
			for _, c := range cols {
				if t.Cell(r, c).IsNull() {
					continue rows
				}
			}
			keep = append(keep, r)
		}
		return tableValue(t.Take(keep)), nil
	case Distinct:
		cols, err := colsOrAll(t, s.Cols, name)
		if err != nil {
			return value{}, err
		}
		seen := map[string]bool{}
		var keep []int
		for r := 0; r < t.NumRows(); r++ {
			k := rowKey(t, cols, r)
			if !seen[k] {
				seen[k] = true
				keep = append(keep, r)
			}
		}
		return tableValue(t.Take(keep)), nil
	case ValueCounts:
		return valueCounts(t, s)
	case Aggregate:
		return aggregateStage(t, s)
	case Describe:
		return describeTable(t)
	case ColumnsInfo:
		var b strings.Builder
		for i, c := range t.Columns() {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s (%s)", c.Name, c.Kind)
		}
		return value{kind: KindText, text: b.String()}, nil
	case Shape:
		switch s.Dim {
		case 1:
			return value{kind: KindScalar, scalar: table.Num(float64(t.NumRows())), label: "rows"}, nil
		case 2:
			return value{kind: KindScalar, scalar: table.Num(float64(t.NumCols())), label: "columns"}, nil
		}
		return value{kind: KindText, text: fmt.Sprintf("(%d, %d)", t.NumRows(), t.NumCols())}, nil
	case Corr:
		return corrTable(t)
	case Round:
		cols := t.Columns()
		data := make([][]table.Value, len(cols))
		for c := range cols {
			data[c] = t.Values(c)
			for r, v := range data[c] {
				data[c][r] = roundValue(v, s.Digits)
			}
		}
		return newTable(t.Name(), cols, data, name)
	case Plot:
		return in.plot(t, s)
	case Hist:
		return in.hist(t, s)
	case Unsupported:
		return value{}, evalErr(s.Name, "operation is not supported")
	}
	return value{}, evalErr(name, "unknown stage %T", s)
}

func stageName(s Stage) string {
	switch s := s.(type) {
	case Where:
		return "where"
	case Select:
		return "select"
	case Drop:
		return "drop"
	case Sort:
		return "sort"
	case Head:
		return "head"
	case Tail:
		return "tail"
	case DropNA:
		return "dropna"
	case Distinct:
		return "distinct"
	case ValueCounts:
		return "value_counts"
	case Aggregate:
		if len(s.Keys) > 0 {
			return "group by"
		}
		return "agg"
	case Describe:
		return "describe"
	case ColumnsInfo:
		return "columns"
	case Shape:
		return "shape"
	case Corr:
		return "corr"
	case Round:
		return "round"
	case Plot:
		return "plot"
	case Hist:
		return "hist"
	case Unsupported:
		return s.Name
	}
	return fmt.Sprintf("%T", s)
}

func resolve(t *table.Table, name, stage string) (int, error) {
	if i, ok := t.ColumnIndex(name); ok {
		return i, nil
	}
	return -1, evalErr(stage, "unknown column %q (columns: %s)", name, strings.Join(t.ColumnNames(), ", "))
}

func resolveAll(t *table.Table, names []string, stage string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		c, err := resolve(t, n, stage)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func colsOrAll(t *table.Table, names []string, stage string) ([]int, error) {
	if len(names) > 0 {
		return resolveAll(t, names, stage)
	}
	out := make([]int, t.NumCols())
	for i := range out {
		out[i] = i
	}
	return out, nil
}

func newTable(name string, cols []table.Column, data [][]table.Value, stage string) (value, error) {
	t, err := table.New(name, cols, data)
	if err != nil {
		return value{}, &EvalError{Stage: stage, Msg: "building result", Err: err}
	}
	return tableValue(t), nil
}

func project(t *table.Table, idx []int) (value, error) {
	cols := make([]table.Column, len(idx))
	data := make([][]table.Value, len(idx))
	for i, c := range idx {
		cols[i] = t.Column(c)
		data[i] = t.Values(c)
	}
	return newTable(t.Name(), cols, data, "select")
}

func (in *interp) sortRows(t *table.Table, s Sort) (value, error) {
	type key struct {
		col  int
		desc bool
	}
	keys := make([]key, len(s.Keys))
	for i, k := range s.Keys {
		if k.Col == "" {
			if t.NumCols() == 0 {
				return value{}, evalErr("sort", "nothing to sort")
			}
			keys[i] = key{t.NumCols() - 1, k.Desc}
			continue
		}
		c, err := resolve(t, k.Col, "sort")
		if err != nil {
			return value{}, err
		}
		keys[i] = key{c, k.Desc}
	}
	order := make([]int, t.NumRows())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		for _, k := range keys {
			a, b := t.Cell(order[i], k.col), t.Cell(order[j], k.col)
			c := table.Compare(a, b)
			if c == 0 {
				continue
			}
			if k.desc && !a.IsNull() && !b.IsNull() {
				c = -c
			}
			return c < 0
		}
		return false
	})
	return tableValue(t.Take(order)), nil
}

func valueCounts(t *table.Table, s ValueCounts) (value, error) {
	var cols []int
	if s.Col != "" {
		c, err := resolve(t, s.Col, "value_counts")
		if err != nil {
			return value{}, err
		}
		cols = []int{c}
	} else {
		cols, _ = colsOrAll(t, nil, "value_counts")
	}
	if len(cols) == 0 {
		return value{}, evalErr("value_counts", "no columns to count")
	}
	type entry struct {
		row   int
		count int
	}
	index := map[string]int{}
	var entries []entry
rows:
	for r := 0; r < t.NumRows(); r++ {
		for _, c := range cols {
			if t.Cell(r, c).IsNull() {
				continue rows
			}
		}
		k := rowKey(t, cols, r)
		if i, ok := index[k]; ok {
			entries[i].count++
			continue
		}
		index[k] = len(entries)
		entries = append(entries, entry{row: r, count: 1})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].count > entries[j].count })

	outCols := make([]table.Column, 0, len(cols)+1)
	data := make([][]table.Value, len(cols)+1)
	for i, c := range cols {
		outCols = append(outCols, t.Column(c))
		data[i] = make([]table.Value, len(entries))
		for j, e := range entries {
			data[i][j] = t.Cell(e.row, c)
		}
	}
	countName := "count"
	if _, taken := t.ColumnIndex(countName); taken {
		countName = "count_2"
	}
	outCols = append(outCols, table.Column{Name: countName, Kind: table.KindNumeric})
	data[len(cols)] = make([]table.Value, len(entries))
	for j, e := range entries {
		data[len(cols)][j] = table.Num(float64(e.count))
	}
	return newTable(t.Name(), outCols, data, "value_counts")
}

func aggregateStage(t *table.Table, s Aggregate) (value, error) {
	stage := stageName(s)
	keys, err := resolveAll(t, s.Keys, stage)
	if err != nil {
		return value{}, err
	}
	plans, err := planAggs(t, s.Aggs, keys)
	if err != nil {
		return value{}, err
	}
	if len(keys) == 0 {
		all := make([]int, t.NumRows())
		for i := range all {
			all[i] = i
		}
		if len(plans) == 1 {
			v, err := plans[0].apply(t, all)
			if err != nil {
				return value{}, err
			}
			return value{kind: KindScalar, scalar: v, label: plans[0].label}, nil
		}
		cols := make([]table.Column, len(plans))
		data := make([][]table.Value, len(plans))
		for i, pl := range plans {
			v, err := pl.apply(t, all)
			if err != nil {
				return value{}, err
			}
			cols[i] = table.Column{Name: pl.name, Kind: pl.kind}
			data[i] = []table.Value{v}
		}
		return newTable(t.Name(), cols, data, stage)
	}

	type group struct {
		first int
		rows  []int
	}
	index := map[string]int{}
	var groups []group
rows:
	for r := 0; r < t.NumRows(); r++ {
		for _, k := range keys {
			if t.Cell(r, k).IsNull() {
				continue rows
			}
		}
		k := rowKey(t, keys, r)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{first: r})
		}
		groups[i].rows = append(groups[i].rows, r)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		for _, k := range keys {
			if c := table.Compare(t.Cell(groups[i].first, k), t.Cell(groups[j].first, k)); c != 0 {
				return c < 0
			}
		}
		return false
	})

	cols := make([]table.Column, 0, len(keys)+len(plans))
	data := make([][]table.Value, 0, len(keys)+len(plans))
	for _, k := range keys {
		col := make([]table.Value, len(groups))
		for g := range groups {
			col[g] = t.Cell(groups[g].first, k)
		}
		cols = append(cols, t.Column(k))
		data = append(data, col)
	}
	for _, pl := range plans {
		col := make([]table.Value, len(groups))
		for g := range groups {
			v, err := pl.apply(t, groups[g].rows)
			if err != nil {
				return value{}, err
			}
			col[g] = v
		}
		cols = append(cols, table.Column{Name: pl.name, Kind: pl.kind})
		data = append(data, col)
	}
	return newTable(t.Name(), cols, data, stage)
}

func describeTable(t *table.Table) (value, error) {
	var numeric []int
	for c := 0; c < t.NumCols(); c++ {
		if t.Column(c).Kind == table.KindNumeric {
			numeric = append(numeric, c)
		}
	}
	statCol := table.Column{Name: "stat", Kind: table.KindText}
	if len(numeric) > 0 {
		stats := []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"}
		cols := []table.Column{statCol}
		data := [][]table.Value{make([]table.Value, len(stats))}
		for i, s := range stats {
			data[0][i] = table.Str(s)
		}
		for _, c := range numeric {
			var xs []float64
			for r := 0; r < t.NumRows(); r++ {
				if x, ok := t.Cell(r, c).Float(); ok {
					xs = append(xs, x)
				}
			}
			sort.Float64s(xs)
			col := make([]table.Value, len(stats))
			col[0] = table.Num(float64(len(xs)))
			if len(xs) > 0 {
				var sum float64
				for _, x := range xs {
					sum += x
				}
				col[1] = table.Num(sum / float64(len(xs)))
				if len(xs) > 1 {
					col[2] = table.Num(stddev(xs))
				}
				col[3] = table.Num(xs[0])
				col[4] = table.Num(table.Quantile(xs, 0.25))
				col[5] = table.Num(table.Quantile(xs, 0.5))
				col[6] = table.Num(table.Quantile(xs, 0.75))
				col[7] = table.Num(xs[len(xs)-1])
			}
			cols = append(cols, table.Column{Name: t.Column(c).Name, Kind: table.KindNumeric})
			data = append(data, col)
		}
		return newTable(t.Name(), cols, data, "describe")
	}

	stats := []string{"count", "unique", "top", "freq"}
	cols := []table.Column{statCol}
	data := [][]table.Value{make([]table.Value, len(stats))}
	for i, s := range stats {
		data[0][i] = table.Str(s)
	}
	for c := 0; c < t.NumCols(); c++ {
		counts := map[string]int{}
		var order []table.Value
		n := 0
		for r := 0; r < t.NumRows(); r++ {
			v := t.Cell(r, c)
			if v.IsNull() {
				continue
			}
			n++
			k := valueKey(v)
			if counts[k] == 0 {
				order = append(order, v)
			}
			counts[k]++
		}
		col := make([]table.Value, len(stats))
		col[0] = table.Num(float64(n))
		col[1] = table.Num(float64(len(order)))
		best := -1
		for i, v := range order {
			if best < 0 || counts[valueKey(v)] > counts[valueKey(order[best])] {
				best = i
			}
		}
		if best >= 0 {
			col[2] = order[best]
			col[3] = table.Num(float64(counts[valueKey(order[best])]))
		}
		cols = append(cols, table.Column{Name: t.Column(c).Name, Kind: table.KindText})
		data = append(data, col)
	}
	return newTable(t.Name(), cols, data, "describe")
}

func corrTable(t *table.Table) (value, error) {
	m := table.Correlations(t)
	if m == nil {
		var numeric []string
		for _, c := range t.Columns() {
			if c.Kind == table.KindNumeric {
				numeric = append(numeric, c.Name)
			}
		}
		if len(numeric) == 0 {
			return value{}, evalErr("corr", "no numeric columns")
		}
		m = &table.CorrMatrix{Columns: numeric, Values: [][]float64{{1}}}
	}
	n := len(m.Columns)
	cols := []table.Column{{Name: "column", Kind: table.KindCategorical}}
	data := [][]table.Value{make([]table.Value, n)}
	for i, name := range m.Columns {
		data[0][i] = table.Str(name)
	}
	for j, name := range m.Columns {
		col := make([]table.Value, n)
		for i := 0; i < n; i++ {
			col[i] = table.Num(m.Values[i][j])
		}
		cols = append(cols, table.Column{Name: name, Kind: table.KindNumeric})
		data = append(data, col)
	}
	return newTable(t.Name(), cols, data, "corr")
}

func roundValue(v table.Value, digits int) table.Value {
	x, ok := v.Float()
	if !ok {
		return v
	}
	// float64 carries about 15 significant decimal digits
	if digits > 15 {
		return v
	}
	if digits < -308 {
		digits = -308
	}
	p := math.Pow(10, float64(digits))
	r := math.Round(x*p) / p
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return v
	}
	return table.Num(r)
}

func (in *interp) plot(t *table.Table, s Plot) (value, error) {
	if in.canvas == nil {
		return value{}, evalErr("plot", "charts cannot be drawn here")
	}
	x, y := s.X, s.Y
	names := t.ColumnNames()
	if y == "" {
		if len(names) < 2 {
			return value{}, evalErr("plot", "plot needs an x and a y column")
		}
		y = names[len(names)-1]
	}
	if x == "" {
		yi, _ := t.ColumnIndex(y)
		for i, n := range names {
			if i != yi {
				x = n
				break
			}
		}
		if x == "" {
			return value{}, evalErr("plot", "plot needs an x and a y column")
		}
	}
	fig, err := chart.Series(t, s.Kind, x, y)
	if err != nil {
		return value{}, &EvalError{Stage: "plot", Msg: "cannot draw chart", Err: err}
	}
	if err := in.canvas.Draw(fig); err != nil {
		return value{}, &EvalError{Stage: "plot", Msg: "cannot draw chart", Err: err}
	}
	return tableValue(t), nil
}

func (in *interp) hist(t *table.Table, s Hist) (value, error) {
	if in.canvas == nil {
		return value{}, evalErr("hist", "charts cannot be drawn here")
	}
	col := s.Col
	if col == "" {
		for _, c := range t.Columns() {
			if c.Kind == table.KindNumeric {
				col = c.Name
				break
			}
		}
		if col == "" {
			return value{}, evalErr("hist", "no numeric column to plot")
		}
	}
	fig, err := chart.Histogram(t, col, s.Bins)
	if err != nil {
		return value{}, &EvalError{Stage: "hist", Msg: "cannot draw chart", Err: err}
	}
	if err := in.canvas.Draw(fig); err != nil {
		return value{}, &EvalError{Stage: "hist", Msg: "cannot draw chart", Err: err}
	}
	return tableValue(t), nil
}
