package query

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// numericFuncs only accept numeric values.
var numericFuncs = map[string]bool{"sum": true, "mean": true, "median": true, "std": true}

// aggPlan is an AggSpec bound to a concrete column of the input table.
type aggPlan struct {
	fn    string
	col   int // -1 counts rows
	name  string
	label string
	kind  table.Kind
}

// planAggs binds specs to columns, expanding All over every eligible
// column that is not a group key.
func planAggs(t *table.Table, specs []AggSpec, keys []int) ([]aggPlan, error) {
	isKey := map[int]bool{}
	for _, k := range keys {
		isKey[k] = true
	}
	allCount := 0
	for _, s := range specs {
		if s.All {
			allCount++
		}
	}
	var plans []aggPlan
	for _, s := range specs {
		switch {
		case s.Col == "*":
			name := s.Alias
			if name == "" {
				name = "count"
			}
			plans = append(plans, aggPlan{fn: "count", col: -1, name: name, label: "count", kind: table.KindNumeric})
		case s.All:
			var cands []int
			for c := 0; c < t.NumCols(); c++ {
				if !isKey[c] {
					cands = append(cands, c)
				}
			}
			eligible := cands
			if numericFuncs[s.Fn] {
				eligible = nil
				for _, c := range cands {
					if t.Column(c).Kind == table.KindNumeric {
						eligible = append(eligible, c)
					}
				}
			}
			if len(eligible) == 0 {
				if len(cands) == 1 {
					return nil, evalErr(s.Fn, "%s needs numeric values; column %q is %s", s.Fn, t.Column(cands[0]).Name, t.Column(cands[0]).Kind)
				}
				return nil, evalErr(s.Fn, "no columns to aggregate")
			}
			for _, c := range eligible {
				name := t.Column(c).Name
				if allCount > 1 {
					name = s.Fn + "_" + name
				}
				plans = append(plans, newPlan(t, s.Fn, c, name))
			}
		default:
			c, err := resolve(t, s.Col, s.Fn)
			if err != nil {
				return nil, err
			}
			name := s.Alias
			if name == "" {
				name = s.Fn + "_" + t.Column(c).Name
			}
			plans = append(plans, newPlan(t, s.Fn, c, name))
		}
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[t.Column(k).Name] = true
	}
	for i := range plans {
		base := plans[i].name
		name := base
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[name] = true
		plans[i].name = name
	}
	return plans, nil
}

func newPlan(t *table.Table, fn string, c int, name string) aggPlan {
	col := t.Column(c)
	kind := table.KindNumeric
	switch fn {
	case "min", "max", "first", "last":
		kind = col.Kind
	}
	return aggPlan{fn: fn, col: c, name: name, label: fmt.Sprintf("%s(%s)", fn, col.Name), kind: kind}
}

// apply computes the plan over the given rows of t.
func (pl aggPlan) apply(t *table.Table, rows []int) (table.Value, error) {
	if pl.col < 0 {
		return table.Num(float64(len(rows))), nil
	}
	vals := make([]table.Value, len(rows))
	for i, r := range rows {
		vals[i] = t.Cell(r, pl.col)
	}
	v, err := aggregateValues(pl.fn, vals)
	if err != nil {
		return table.Value{}, evalErr(pl.fn, "column %q: %v", t.Column(pl.col).Name, err)
	}
	return v, nil
}

func aggregateValues(fn string, vals []table.Value) (table.Value, error) {
	var nums []float64
	var texts []string
	nonNull := 0
	for _, v := range vals {
		switch {
		case v.IsNull():
			continue
		case v.IsNumber():
			nums = append(nums, v.Num)
		default:
			texts = append(texts, v.Str)
		}
		nonNull++
	}
	if numericFuncs[fn] && len(nums) == 0 && len(texts) > 0 {
		return table.Value{}, fmt.Errorf("%s needs numeric values", fn)
	}
	switch fn {
	case "count":
		return table.Num(float64(nonNull)), nil
	case "nunique":
		seen := map[string]bool{}
		for _, v := range vals {
			if !v.IsNull() {
				seen[valueKey(v)] = true
			}
		}
		return table.Num(float64(len(seen))), nil
	case "first", "last":
		if fn == "first" {
			for _, v := range vals {
				if !v.IsNull() {
					return v, nil
				}
			}
		} else {
			for i := len(vals) - 1; i >= 0; i-- {
				if !vals[i].IsNull() {
					return vals[i], nil
				}
			}
		}
		return table.NullValue(), nil
	case "min", "max":
		if len(nums) > 0 {
			best := nums[0]
			for _, x := range nums[1:] {
				if fn == "min" && x < best || fn == "max" && x > best {
					best = x
				}
			}
			return table.Num(best), nil
		}
		if len(texts) == 0 {
			return table.NullValue(), nil
		}
		best := texts[0]
		for _, s := range texts[1:] {
			c := strings.Compare(s, best)
			if fn == "min" && c < 0 || fn == "max" && c > 0 {
				best = s
			}
		}
		return table.Str(best), nil
	case "sum":
		var s float64
		for _, x := range nums {
			s += x
		}
		return table.Num(s), nil
	case "mean":
		if len(nums) == 0 {
			return table.NullValue(), nil
		}
		var s float64
		for _, x := range nums {
			s += x
		}
		return table.Num(s / float64(len(nums))), nil
	case "median":
		if len(nums) == 0 {
			return table.NullValue(), nil
		}
		sorted := append([]float64(nil), nums...)
		sort.Float64s(sorted)
		return table.Num(table.Quantile(sorted, 0.5)), nil
	case "std":
		if len(nums) < 2 {
			return table.NullValue(), nil
		}
		return table.Num(stddev(nums)), nil
	}
	return table.Value{}, fmt.Errorf("unknown aggregate %q", fn)
}

func stddev(xs []float64) float64 {
	var mean, m2 float64
	for i, x := range xs {
		d := x - mean
		mean += d / float64(i+1)
		m2 += d * (x - mean)
	}
	return math.Sqrt(m2 / float64(len(xs)-1))
}

// valueKey identifies a value for grouping and de-duplication.
func valueKey(v table.Value) string {
	switch v.Type {
	case table.Number:
		return "n:" + strconv.FormatFloat(v.Num, 'g', -1, 64)
	case table.String:
		return "s:" + v.Str
	}
	return "null"
}

func rowKey(t *table.Table, cols []int, r int) string {
	var b strings.Builder
	for _, c := range cols {
		b.WriteString(valueKey(t.Cell(r, c)))
		b.WriteByte(0)
	}
	return b.String()
}
