package query

import (
	"strings"

	"github.com/KaramelBytes/csv-analyst/internal/chart"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// chainProperties are attribute names that are not column references.
var chainProperties = map[string]bool{
	"shape": true, "columns": true, "str": true, "plot": true, "loc": true,
	"iloc": true, "t": true, "index": true, "values": true, "dtypes": true,
	"size": true, "empty": true,
}

// passthrough methods only change presentation in the method-chain dialect.
var passthrough = map[string]bool{
	"reset_index": true, "to_frame": true, "copy": true, "to_string": true,
	"to_list": true, "tolist": true, "to_markdown": true, "infer_objects": true,
}

// parseChain parses method-chain postfixes after "df": indexing with
// [...], attribute access and method calls.
func (p *parser) parseChain(pl *Pipeline) error {
	var groupKeys, groupCols []string
	grouping := false
	for {
		switch p.peek().kind {
		case tokLBrack:
			open := p.next()
			if grouping {
				cols, err := p.parseIndexCols()
				if err != nil {
					return err
				}
				if cols == nil {
					return p.errAt(open, "expected column names after groupby")
				}
				groupCols = cols
				continue
			}
			if cols, err := p.parseIndexCols(); err != nil {
				return err
			} else if cols != nil {
				if err := add(pl, p, Select{Cols: cols}); err != nil {
					return err
				}
				continue
			}
			cond, err := p.parseBracketCond()
			if err != nil {
				return err
			}
			if _, err := p.expect(tokRBrack); err != nil {
				return err
			}
			if err := add(pl, p, Where{Cond: cond}); err != nil {
				return err
			}
		case tokDot:
			p.next()
			nameTok, err := p.expect(tokIdent)
			if err != nil {
				return err
			}
			name := strings.ToLower(nameTok.text)
			if p.peek().kind != tokLParen {
				stages, err := p.parseProperty(nameTok)
				if err != nil {
					return err
				}
				if grouping {
					var sel Select
					ok := len(stages) == 1
					if ok {
						sel, ok = stages[0].(Select)
					}
					if !ok {
						return p.errAt(nameTok, "unsupported groupby attribute %q", nameTok.text)
					}
					groupCols = sel.Cols
					continue
				}
				if err := add(pl, p, stages...); err != nil {
					return err
				}
				continue
			}
			args, err := p.parseArgs()
			if err != nil {
				return err
			}
			if name == "groupby" {
				keys, ok := args.strings(0, "by")
				if !ok {
					return p.errAt(nameTok, "groupby needs column names")
				}
				grouping, groupKeys, groupCols = true, keys, nil
				continue
			}
			if grouping {
				aggs, err := p.groupAggs(nameTok, args, groupCols)
				if err != nil {
					return err
				}
				grouping = false
				if err := add(pl, p, Aggregate{Keys: groupKeys, Aggs: aggs}); err != nil {
					return err
				}
				continue
			}
			stages, err := p.methodStages(nameTok, args)
			if err != nil {
				return err
			}
			if err := add(pl, p, stages...); err != nil {
				return err
			}
		default:
			if grouping {
				return add(pl, p, Unsupported{Name: "groupby without an aggregation"})
			}
			return nil
		}
	}
}

// parseIndexCols parses ["a"] or [["a", "b"]] after the opening bracket has
// been consumed. It returns nil without consuming input when the bracket
// holds something else.
func (p *parser) parseIndexCols() ([]string, error) {
	if p.peek().kind == tokString && p.peekAt(1).kind == tokRBrack {
		col := p.next().text
		p.next()
		return []string{col}, nil
	}
	if p.peek().kind != tokLBrack {
		return nil, nil
	}
	p.next()
	var cols []string
	for p.peek().kind != tokRBrack {
		tok, err := p.expect(tokString)
		if err != nil {
			return nil, err
		}
		cols = append(cols, tok.text)
		if !p.accept(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRBrack); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrack); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, p.errAt(p.peek(), "empty column list")
	}
	return cols, nil
}

func (p *parser) parseBracketCond() (Cond, error) {
	saved := p.bracket
	p.bracket = true
	defer func() { p.bracket = saved }()
	return p.parseCond()
}

// parseProperty maps attribute access without a call.
func (p *parser) parseProperty(tok token) ([]Stage, error) {
	switch strings.ToLower(tok.text) {
	case "shape":
		if p.peek().kind == tokLBrack {
			p.next()
			n, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBrack); err != nil {
				return nil, err
			}
			if n < 0 || n > 1 {
				return nil, p.errAt(tok, "shape index must be 0 or 1")
			}
			return []Stage{Shape{Dim: n + 1}}, nil
		}
		return []Stage{Shape{}}, nil
	case "columns":
		return []Stage{ColumnsInfo{}}, nil
	case "loc":
		return p.parseLoc()
	case "plot":
		if _, err := p.expect(tokDot); err != nil {
			return nil, err
		}
		kt, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		kind, ok := chart.ParseKind(strings.ToLower(kt.text))
		if !ok || kind == chart.KindHeatmap {
			return []Stage{Unsupported{Name: "plot." + kt.text}}, nil
		}
		return plotStage(kind, args), nil
	case "iloc", "t", "index", "values", "dtypes", "size", "empty", "str":
		if err := p.skipIndex(); err != nil {
			return nil, err
		}
		return []Stage{Unsupported{Name: tok.text}}, nil
	}
	return []Stage{Select{Cols: []string{tok.text}}}, nil
}

// skipIndex consumes a balanced [...] following an unsupported attribute.
func (p *parser) skipIndex() error {
	if p.peek().kind != tokLBrack {
		return nil
	}
	depth := 0
	for {
		tok := p.next()
		switch tok.kind {
		case tokLBrack:
			depth++
		case tokRBrack:
			depth--
			if depth == 0 {
				return nil
			}
		case tokEOF:
			return p.errAt(tok, "unterminated [")
		}
	}
}

// parseLoc parses .loc[cond], .loc[cond, cols] and .loc[:, cols].
func (p *parser) parseLoc() ([]Stage, error) {
	if _, err := p.expect(tokLBrack); err != nil {
		return nil, err
	}
	var stages []Stage
	if !p.accept(tokColon) {
		cond, err := p.parseBracketCond()
		if err != nil {
			return nil, err
		}
		stages = append(stages, Where{Cond: cond})
	}
	if p.accept(tokComma) {
		var cols []string
		switch p.peek().kind {
		case tokString:
			cols = []string{p.next().text}
		case tokLBrack:
			p.next()
			for p.peek().kind != tokRBrack {
				tok, err := p.expect(tokString)
				if err != nil {
					return nil, err
				}
				cols = append(cols, tok.text)
				if !p.accept(tokComma) {
					break
				}
			}
			if _, err := p.expect(tokRBrack); err != nil {
				return nil, err
			}
		default:
			return nil, p.errAt(p.peek(), "expected column names in loc")
		}
		stages = append(stages, Select{Cols: cols})
	}
	if _, err := p.expect(tokRBrack); err != nil {
		return nil, err
	}
	return stages, nil
}

// groupAggs maps the call that follows groupby(...)[cols] to aggregates.
func (p *parser) groupAggs(tok token, args callArgs, cols []string) ([]AggSpec, error) {
	name := strings.ToLower(tok.text)
	var fns []string
	switch name {
	case "size":
		return []AggSpec{{Fn: "count", Col: "*", Alias: "size"}}, nil
	case "agg", "aggregate":
		if fs, ok := args.strings(0, "func"); ok {
			fns = fs
		} else {
			return nil, p.errAt(tok, "agg needs a function name or a list of names")
		}
	default:
		fns = []string{name}
	}
	var out []AggSpec
	for _, f := range fns {
		fn, ok := aggFuncs[strings.ToLower(f)]
		if !ok {
			return nil, p.errAt(tok, "unsupported aggregation %q", f)
		}
		if len(cols) == 0 {
			out = append(out, AggSpec{Fn: fn, All: true})
			continue
		}
		for _, c := range cols {
			spec := AggSpec{Fn: fn, Col: c}
			if len(fns) == 1 {
				spec.Alias = c
			}
			out = append(out, spec)
		}
	}
	return out, nil
}

// methodStages maps a method call in the chain to stages.
func (p *parser) methodStages(tok token, args callArgs) ([]Stage, error) {
	name := strings.ToLower(tok.text)
	if passthrough[name] {
		return nil, nil
	}
	if fn, ok := aggFuncs[name]; ok && name != "size" {
		return []Stage{Aggregate{Aggs: []AggSpec{{Fn: fn, All: true}}}}, nil
	}
	switch name {
	case "head", "tail":
		n := args.integer(0, "n", 5)
		if name == "tail" {
			return []Stage{Tail{N: n}}, nil
		}
		return []Stage{Head{N: n}}, nil
	case "sort_values":
		by, _ := args.strings(0, "by")
		asc := args.booleans(1, "ascending")
		if len(by) == 0 {
			desc := len(asc) > 0 && !asc[0]
			return []Stage{Sort{Keys: []SortKey{{Desc: desc}}}}, nil
		}
		keys := make([]SortKey, len(by))
		for i, c := range by {
			keys[i] = SortKey{Col: c}
			switch {
			case len(asc) == 1:
				keys[i].Desc = !asc[0]
			case i < len(asc):
				keys[i].Desc = !asc[i]
			}
		}
		return []Stage{Sort{Keys: keys}}, nil
	case "nlargest", "nsmallest":
		n := args.integer(0, "n", 5)
		col, _ := args.str(1, "columns")
		return []Stage{Sort{Keys: []SortKey{{Col: col, Desc: name == "nlargest"}}}, Head{N: n}}, nil
	case "agg", "aggregate":
		fns, ok := args.strings(0, "func")
		if !ok {
			return nil, p.errAt(tok, "agg needs a function name or a list of names")
		}
		var aggs []AggSpec
		for _, f := range fns {
			fn, ok := aggFuncs[strings.ToLower(f)]
			if !ok {
				return nil, p.errAt(tok, "unsupported aggregation %q", f)
			}
			aggs = append(aggs, AggSpec{Fn: fn, All: true})
		}
		return []Stage{Aggregate{Aggs: aggs}}, nil
	case "value_counts":
		col, _ := args.str(0, "subset")
		return []Stage{ValueCounts{Col: col}}, nil
	case "unique", "drop_duplicates":
		cols, _ := args.strings(0, "subset")
		return []Stage{Distinct{Cols: cols}}, nil
	case "dropna":
		cols, _ := args.strings(-1, "subset")
		return []Stage{DropNA{Cols: cols}}, nil
	case "describe":
		return []Stage{Describe{}}, nil
	case "corr":
		return []Stage{Corr{}}, nil
	case "round":
		return []Stage{Round{Digits: args.integer(0, "decimals", 0)}}, nil
	case "query":
		src, ok := args.str(0, "expr")
		if !ok {
			return nil, p.errAt(tok, "query needs a condition string")
		}
		cond, err := parseQueryString(src)
		if err != nil {
			return nil, err
		}
		return []Stage{Where{Cond: cond}}, nil
	case "plot":
		kindName, _ := args.str(-1, "kind")
		kind := chart.KindLine
		if kindName != "" {
			k, ok := chart.ParseKind(strings.ToLower(kindName))
			if !ok || k == chart.KindHeatmap {
				return []Stage{Unsupported{Name: "plot kind " + kindName}}, nil
			}
			kind = k
		}
		return plotStage(kind, args), nil
	case "hist":
		col, _ := args.str(-1, "column")
		return []Stage{Hist{Col: col, Bins: args.integer(-1, "bins", 0)}}, nil
	}
	return []Stage{Unsupported{Name: tok.text}}, nil
}

func plotStage(kind chart.Kind, args callArgs) []Stage {
	if kind == chart.KindHist {
		col, _ := args.str(-1, "column")
		return []Stage{Hist{Col: col, Bins: args.integer(-1, "bins", 0)}}
	}
	x, _ := args.str(-1, "x")
	y, _ := args.str(-1, "y")
	return []Stage{Plot{Kind: kind, X: x, Y: y}}
}

// parseQueryString parses the condition string of df.query(...), where bare
// names are columns.
func parseQueryString(src string) (Cond, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	qp := &parser{expr: src, toks: toks, bracket: true}
	cond, err := qp.parseCond()
	if err != nil {
		return nil, err
	}
	if tok := qp.peek(); tok.kind != tokEOF {
		return nil, qp.errAt(tok, "unexpected %s in query string", describe(tok))
	}
	return cond, nil
}

// argValue is one call argument.
type argValue struct {
	str    string
	num    float64
	isStr  bool
	isNum  bool
	isBool bool
	isNull bool
	b      bool
	list   []argValue
	isList bool
}

type callArgs struct {
	pos []argValue
	kw  map[string]argValue
}

// get returns the keyword argument name, or positional argument i when i
// is not negative.
func (a callArgs) get(i int, name string) (argValue, bool) {
	if v, ok := a.kw[name]; ok {
		return v, true
	}
	if i >= 0 && i < len(a.pos) {
		return a.pos[i], true
	}
	return argValue{}, false
}

func (a callArgs) str(i int, name string) (string, bool) {
	v, ok := a.get(i, name)
	if !ok || !v.isStr {
		return "", false
	}
	return v.str, true
}

func (a callArgs) strings(i int, name string) ([]string, bool) {
	v, ok := a.get(i, name)
	if !ok {
		return nil, false
	}
	if v.isStr {
		return []string{v.str}, true
	}
	if !v.isList {
		return nil, false
	}
	var out []string
	for _, e := range v.list {
		if !e.isStr {
			return nil, false
		}
		out = append(out, e.str)
	}
	return out, len(out) > 0
}

func (a callArgs) integer(i int, name string, def int) int {
	v, ok := a.get(i, name)
	if !ok || !v.isNum {
		return def
	}
	return int(v.num)
}

func (a callArgs) boolean(i int, name string) (bool, bool) {
	v, ok := a.get(i, name)
	if !ok || !v.isBool {
		return false, false
	}
	return v.b, true
}

func (a callArgs) booleans(i int, name string) []bool {
	v, ok := a.get(i, name)
	if !ok {
		return nil
	}
	if v.isBool {
		return []bool{v.b}
	}
	var out []bool
	for _, e := range v.list {
		if e.isBool {
			out = append(out, e.b)
		}
	}
	return out
}

func (v argValue) value() (table.Value, bool) {
	switch {
	case v.isNum:
		return table.Num(v.num), true
	case v.isStr:
		return table.Str(v.str), true
	case v.isNull:
		return table.NullValue(), true
	}
	return table.Value{}, false
}

func (a callArgs) value(i int, name string) (table.Value, bool) {
	v, ok := a.get(i, name)
	if !ok {
		return table.Value{}, false
	}
	return v.value()
}

func (a callArgs) values(i int, name string) ([]table.Value, bool) {
	v, ok := a.get(i, name)
	if !ok || !v.isList {
		return nil, false
	}
	out := make([]table.Value, 0, len(v.list))
	for _, e := range v.list {
		val, ok := e.value()
		if !ok {
			return nil, false
		}
		out = append(out, val)
	}
	return out, true
}

// parseArgs parses "(" [arg {"," arg}] ")" where arg is [name "="] value.
func (p *parser) parseArgs() (callArgs, error) {
	args := callArgs{kw: map[string]argValue{}}
	if _, err := p.expect(tokLParen); err != nil {
		return args, err
	}
	for p.peek().kind != tokRParen {
		name := ""
		if p.peek().kind == tokIdent && p.peekAt(1).kind == tokOp && p.peekAt(1).text == "=" {
			name = p.next().text
			p.next()
		}
		v, err := p.parseArgValue()
		if err != nil {
			return args, err
		}
		if name != "" {
			args.kw[name] = v
		} else {
			args.pos = append(args.pos, v)
		}
		if !p.accept(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return args, err
	}
	return args, nil
}

func (p *parser) parseArgValue() (argValue, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return argValue{str: tok.text, isStr: true}, nil
	case tokNumber:
		f, ok := parseNumberLit(tok.text)
		if !ok {
			return argValue{}, p.errAt(tok, "invalid number %s", describe(tok))
		}
		return argValue{num: f, isNum: true}, nil
	case tokMinus:
		nt, err := p.expect(tokNumber)
		if err != nil {
			return argValue{}, err
		}
		f, ok := parseNumberLit(nt.text)
		if !ok {
			return argValue{}, p.errAt(nt, "invalid number %s", describe(nt))
		}
		return argValue{num: -f, isNum: true}, nil
	case tokIdent:
		switch tok.text {
		case "True", "true":
			return argValue{isBool: true, b: true}, nil
		case "False", "false":
			return argValue{isBool: true}, nil
		case "None", "null":
			return argValue{isNull: true}, nil
		}
	case tokLBrack, tokLParen:
		closeKind := tokRBrack
		if tok.kind == tokLParen {
			closeKind = tokRParen
		}
		v := argValue{isList: true}
		for p.peek().kind != closeKind {
			e, err := p.parseArgValue()
			if err != nil {
				return argValue{}, err
			}
			v.list = append(v.list, e)
			if !p.accept(tokComma) {
				break
			}
		}
		if _, err := p.expect(closeKind); err != nil {
			return argValue{}, err
		}
		return v, nil
	}
	return argValue{}, p.errAt(tok, "unsupported argument %s", describe(tok))
}
