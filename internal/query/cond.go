package query

import (
	"strings"

	"github.com/KaramelBytes/csv-analyst/internal/table"
)

type predicate func(row int) bool

type operandFunc func(row int) table.Value

// bindCond resolves column references and nested values once and returns a
// per-row predicate over t.
func (in *interp) bindCond(c Cond, t *table.Table) (predicate, error) {
	switch c := c.(type) {
	case Or:
		l, err := in.bindCond(c.L, t)
		if err != nil {
			return nil, err
		}
		r, err := in.bindCond(c.R, t)
		if err != nil {
			return nil, err
		}
		return func(i int) bool { return l(i) || r(i) }, nil
	case And:
		l, err := in.bindCond(c.L, t)
		if err != nil {
			return nil, err
		}
		r, err := in.bindCond(c.R, t)
		if err != nil {
			return nil, err
		}
		return func(i int) bool { return l(i) && r(i) }, nil
	case Not:
		x, err := in.bindCond(c.X, t)
		if err != nil {
			return nil, err
		}
		return func(i int) bool { return !x(i) }, nil
	case Compare:
		l, err := in.bindOperand(c.L, t)
		if err != nil {
			return nil, err
		}
		r, err := in.bindOperand(c.R, t)
		if err != nil {
			return nil, err
		}
		op := c.Op
		return func(i int) bool { return compareValues(op, l(i), r(i)) }, nil
	case IsNull:
		col, err := resolve(t, c.Col, "where")
		if err != nil {
			return nil, err
		}
		neg := c.Negate
		return func(i int) bool { return t.Cell(i, col).IsNull() != neg }, nil
	case In:
		col, err := resolve(t, c.Col, "where")
		if err != nil {
			return nil, err
		}
		vals, neg := c.Values, c.Negate
		return func(i int) bool {
			v := t.Cell(i, col)
			found := false
			for _, w := range vals {
				if compareValues("==", v, w) {
					found = true
					break
				}
			}
			return found != neg
		}, nil
	case Match:
		col, err := resolve(t, c.Col, "where")
		if err != nil {
			return nil, err
		}
		pat := c.Pattern
		if c.Fold {
			pat = strings.ToLower(pat)
		}
		test := map[string]func(string, string) bool{
			"contains":   strings.Contains,
			"startswith": strings.HasPrefix,
			"endswith":   strings.HasSuffix,
		}[c.Op]
		if test == nil {
			return nil, evalErr("where", "unknown text test %q", c.Op)
		}
		fold, neg := c.Fold, c.Negate
		return func(i int) bool {
			v := t.Cell(i, col)
			if v.IsNull() {
				return neg
			}
			s := v.String()
			if fold {
				s = strings.ToLower(s)
			}
			return test(s, pat) != neg
		}, nil
	}
	return nil, evalErr("where", "unsupported condition %T", c)
}

func (in *interp) bindOperand(o Operand, t *table.Table) (operandFunc, error) {
	switch o := o.(type) {
	case ColRef:
		col, err := resolve(t, o.Name, "where")
		if err != nil {
			return nil, err
		}
		return func(i int) table.Value { return t.Cell(i, col) }, nil
	case Lit:
		v := o.Value
		return func(int) table.Value { return v }, nil
	case AggRef:
		plans, err := planAggs(t, []AggSpec{o.Spec}, nil)
		if err != nil {
			return nil, err
		}
		all := make([]int, t.NumRows())
		for i := range all {
			all[i] = i
		}
		v, err := plans[0].apply(t, all)
		if err != nil {
			return nil, err
		}
		return func(int) table.Value { return v }, nil
	case SubQuery:
		if in.depth >= maxDepth {
			return nil, evalErr("where", "expression nested too deeply")
		}
		sub := &interp{ctx: in.ctx, src: in.src, depth: in.depth + 1}
		res, err := sub.run(o.Pipeline)
		if err != nil {
			return nil, err
		}
		if res.kind != KindScalar {
			return nil, evalErr("where", "nested expression must produce a single value, got a %s", res.kind)
		}
		v := res.scalar
		return func(int) table.Value { return v }, nil
	}
	return nil, evalErr("where", "unsupported operand %T", o)
}

// compareValues applies op. Null compares unequal to everything. Text that
// parses as a number is compared numerically against numbers; otherwise
// mixed comparisons are false (true for !=).
func compareValues(op string, a, b table.Value) bool {
	if a.IsNull() || b.IsNull() {
		return op == "!="
	}
	var c int
	switch {
	case a.IsNumber() && b.IsNumber():
		c = cmpFloat(a.Num, b.Num)
	case !a.IsNumber() && !b.IsNumber():
		c = strings.Compare(a.Str, b.Str)
	default:
		x, ok1 := asNumber(a)
		y, ok2 := asNumber(b)
		if !ok1 || !ok2 {
			return op == "!="
		}
		c = cmpFloat(x, y)
	}
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func asNumber(v table.Value) (float64, bool) {
	if x, ok := v.Float(); ok {
		return x, true
	}
	return table.ParseNumber(v.Str)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
