// Package chart builds chart figures from tables. A Figure is plain data;
// rendering to SVG lives in svg.go so the web UI and CLI can share it.
package chart

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// Kind enumerates supported figure types.
type Kind string

const (
	KindLine    Kind = "line"
	KindBar     Kind = "bar"
	KindScatter Kind = "scatter"
	KindHist    Kind = "hist"
	KindHeatmap Kind = "heatmap"
)

// ParseKind maps user-facing names ("Line Chart", "bar", ...) to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "line", "Line", "Line Chart":
		return KindLine, true
	case "bar", "Bar", "Bar Chart":
		return KindBar, true
	case "scatter", "Scatter", "Scatter Plot":
		return KindScatter, true
	case "hist", "histogram", "Histogram":
		return KindHist, true
	case "heatmap", "Heatmap":
		return KindHeatmap, true
	}
	return "", false
}

var (
	ErrNoNumericColumns = errors.New("no numeric columns found for heatmap")
	ErrNoData           = errors.New("no plottable rows after dropping missing values")
)

// ColumnError reports a missing or unsuitable column.
type ColumnError struct {
	Column string
	Reason string
}

func (e *ColumnError) Error() string { return fmt.Sprintf("column %q: %s", e.Column, e.Reason) }

// Figure is a renderable chart.
type Figure struct {
	Kind   Kind   `json:"kind"`
	Title  string `json:"title"`
	XLabel string `json:"x_label,omitempty"`
	YLabel string `json:"y_label,omitempty"`
	// Labels are the x positions as text; X holds their numeric value when
	// the x column is numeric.
	Labels []string  `json:"labels,omitempty"`
	X      []float64 `json:"x,omitempty"`
	Y      []float64 `json:"y,omitempty"`
	// Heatmap cells, row-major over Labels x Labels.
	Matrix [][]float64 `json:"matrix,omitempty"`
}

// Points returns the number of plotted points or cells.
func (f *Figure) Points() int {
	if f.Kind == KindHeatmap {
		return len(f.Matrix) * len(f.Matrix)
	}
	return len(f.Y)
}

// Describe summarises the figure in one line for text surfaces.
func (f *Figure) Describe() string {
	switch f.Kind {
	case KindHeatmap:
		return fmt.Sprintf("heatmap: %s (%dx%d)", f.Title, len(f.Labels), len(f.Labels))
	case KindHist:
		return fmt.Sprintf("histogram: %s (%d bins)", f.Title, len(f.Y))
	}
	return fmt.Sprintf("%s chart: %s (%d points)", f.Kind, f.Title, len(f.Y))
}

// Series builds a line, bar or scatter figure of y against x. Rows where
// either value is missing, or y is not numeric, are dropped and the rest are
// sorted by x.
func Series(t *table.Table, kind Kind, x, y string) (*Figure, error) {
	switch kind {
	case KindLine, KindBar, KindScatter:
	default:
		return nil, fmt.Errorf("unsupported series chart %q", kind)
	}
	xi, ok := t.ColumnIndex(x)
	if !ok {
		return nil, &ColumnError{Column: x, Reason: "not found"}
	}
	yi, ok := t.ColumnIndex(y)
	if !ok {
		return nil, &ColumnError{Column: y, Reason: "not found"}
	}
	type point struct {
		x table.Value
		y float64
	}
	var pts []point
	for r := 0; r < t.NumRows(); r++ {
		xv := t.Cell(r, xi)
		yv, ok := t.Cell(r, yi).Float()
		if xv.IsNull() || !ok {
			continue
		}
		pts = append(pts, point{xv, yv})
	}
	if len(pts) == 0 {
		if t.Column(yi).Kind != table.KindNumeric {
			return nil, &ColumnError{Column: t.Column(yi).Name, Reason: "is not numeric"}
		}
		return nil, ErrNoData
	}
	sort.SliceStable(pts, func(i, j int) bool { return table.Compare(pts[i].x, pts[j].x) < 0 })

	xName, yName := t.Column(xi).Name, t.Column(yi).Name
	fig := &Figure{
		Kind:   kind,
		Title:  fmt.Sprintf("%s by %s", yName, xName),
		XLabel: xName,
		YLabel: yName,
		Labels: make([]string, len(pts)),
		Y:      make([]float64, len(pts)),
	}
	numericX := true
	for _, p := range pts {
		if !p.x.IsNumber() {
			numericX = false
			break
		}
	}
	if numericX {
		fig.X = make([]float64, len(pts))
	}
	for i, p := range pts {
		fig.Labels[i] = p.x.String()
		fig.Y[i] = p.y
		if numericX {
			fig.X[i] = p.x.Num
		}
	}
	return fig, nil
}

// Histogram bins the numeric values of col into equal-width bins.
func Histogram(t *table.Table, col string, bins int) (*Figure, error) {
	ci, ok := t.ColumnIndex(col)
	if !ok {
		return nil, &ColumnError{Column: col, Reason: "not found"}
	}
	if bins <= 0 {
		bins = 10
	}
	var xs []float64
	for r := 0; r < t.NumRows(); r++ {
		if v, ok := t.Cell(r, ci).Float(); ok {
			xs = append(xs, v)
		}
	}
	name := t.Column(ci).Name
	if len(xs) == 0 {
		return nil, &ColumnError{Column: name, Reason: "has no numeric values"}
	}
	lo, hi := xs[0], xs[0]
	for _, v := range xs {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		bins = 1
	}
	width := (hi - lo) / float64(bins)
	counts := make([]float64, bins)
	for _, v := range xs {
		b := bins - 1
		if width > 0 {
			b = int((v - lo) / width)
			if b >= bins {
				b = bins - 1
			}
		}
		counts[b]++
	}
	fig := &Figure{Kind: KindHist, Title: name, XLabel: name, YLabel: "count", Y: counts, Labels: make([]string, bins), X: make([]float64, bins)}
	for i := range counts {
		start := lo + float64(i)*width
		fig.X[i] = start
		fig.Labels[i] = table.FormatNumber(math.Round(start*1000) / 1000)
	}
	return fig, nil
}

// Heatmap builds a correlation heatmap over the numeric columns of t.
func Heatmap(t *table.Table) (*Figure, error) {
	m := table.Correlations(t)
	if m == nil {
		var numeric []string
		for _, c := range t.Columns() {
			if c.Kind == table.KindNumeric {
				numeric = append(numeric, c.Name)
			}
		}
		if len(numeric) == 0 {
			return nil, ErrNoNumericColumns
		}
		m = &table.CorrMatrix{Columns: numeric, Values: [][]float64{{1}}}
	}
	return &Figure{Kind: KindHeatmap, Title: "Correlation", Labels: m.Columns, Matrix: m.Values}, nil
}
