package query

import (
	"strconv"
	"strings"

	"github.com/KaramelBytes/csv-analyst/internal/chart"
	"github.com/KaramelBytes/csv-analyst/internal/table"
)

const (
	// MaxExprLen bounds the accepted expression length in bytes.
	MaxExprLen = 2000
	// MaxStages bounds the stages of any one pipeline.
	MaxStages = 32
	maxDepth  = 32
)

// aggFuncs maps accepted aggregate names to their canonical form.
var aggFuncs = map[string]string{
	"count": "count", "size": "count", "sum": "sum", "mean": "mean", "avg": "mean",
	"average": "mean", "min": "min", "max": "max", "median": "median", "std": "std",
	"nunique": "nunique", "first": "first", "last": "last",
}

// Parse parses a single cleaned expression into a Pipeline.
func Parse(expr string) (*Pipeline, error) {
	if len(expr) > MaxExprLen {
		return nil, syntaxErr(expr, -1, "expression is longer than %d characters", MaxExprLen)
	}
	if strings.TrimSpace(expr) == "" {
		return nil, syntaxErr(expr, -1, "empty expression")
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, toks: toks}
	pl, err := p.parseRoot()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errAt(tok, "unexpected %s after expression", describe(tok))
	}
	return pl, nil
}

type parser struct {
	expr  string
	toks  []token
	i     int
	depth int
	// bracket is set while parsing a condition inside [...] or a query
	// string, where | & ~ are boolean operators.
	bracket bool
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	tok := p.toks[p.i]
	if tok.kind != tokEOF {
		p.i++
	}
	return tok
}

func (p *parser) accept(kind tokenKind) bool {
	if p.peek().kind == kind {
		p.i++
		return true
	}
	return false
}

func (p *parser) isKeyword(words ...string) bool {
	tok := p.peek()
	if tok.kind != tokIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(tok.text, w) {
			return true
		}
	}
	return false
}

func (p *parser) acceptKeyword(words ...string) bool {
	if p.isKeyword(words...) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, p.errAt(tok, "expected %s, found %s", kind, describe(tok))
	}
	return tok, nil
}

func (p *parser) errAt(tok token, format string, args ...any) *SyntaxError {
	return syntaxErr(p.expr, tok.pos, format, args...)
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.errAt(p.peek(), "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func describe(tok token) string {
	switch tok.kind {
	case tokEOF:
		return "end of expression"
	case tokIdent, tokNumber, tokOp:
		return strconv.Quote(tok.text)
	case tokString:
		return "string " + strconv.Quote(tok.text)
	}
	return tok.kind.String()
}

func add(pl *Pipeline, p *parser, stages ...Stage) error {
	pl.Stages = append(pl.Stages, stages...)
	if len(pl.Stages) > MaxStages {
		return p.errAt(p.peek(), "pipeline has more than %d stages", MaxStages)
	}
	return nil
}

// parseRoot parses "df" followed by method-chain postfixes and "|" stages,
// or len(<expression>).
func (p *parser) parseRoot() (*Pipeline, error) {
	tok := p.peek()
	if tok.kind == tokIdent && tok.text == "len" && p.peekAt(1).kind == tokLParen {
		p.i += 2
		pl, err := p.parseRoot()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return pl, add(pl, p, Shape{Dim: 1})
	}
	if tok.kind != tokIdent || tok.text != "df" {
		return nil, p.errAt(tok, "expression must start with df, found %s", describe(tok))
	}
	p.next()
	pl := &Pipeline{}
	if err := p.parseChain(pl); err != nil {
		return nil, err
	}
	for p.accept(tokPipe) {
		stages, err := p.parseStage()
		if err != nil {
			return nil, err
		}
		if err := add(pl, p, stages...); err != nil {
			return nil, err
		}
	}
	return pl, nil
}

// parseStage parses one "| stage" of the pipeline form.
func (p *parser) parseStage() ([]Stage, error) {
	kw := p.next()
	if kw.kind != tokIdent {
		return nil, p.errAt(kw, "expected a stage name, found %s", describe(kw))
	}
	name := strings.ToLower(kw.text)
	switch name {
	case "where", "filter":
		cond, err := p.parseCond()
		if err != nil {
			return nil, err
		}
		return []Stage{Where{Cond: cond}}, nil
	case "select":
		cols, err := p.parseColList()
		if err != nil {
			return nil, err
		}
		return []Stage{Select{Cols: cols}}, nil
	case "drop":
		cols, err := p.parseColList()
		if err != nil {
			return nil, err
		}
		return []Stage{Drop{Cols: cols}}, nil
	case "dropna":
		cols, err := p.parseOptionalColList()
		if err != nil {
			return nil, err
		}
		return []Stage{DropNA{Cols: cols}}, nil
	case "sort", "order":
		p.acceptKeyword("by")
		var keys []SortKey
		for {
			col, err := p.parseCol()
			if err != nil {
				return nil, err
			}
			key := SortKey{Col: col}
			if p.acceptKeyword("desc", "descending") {
				key.Desc = true
			} else {
				p.acceptKeyword("asc", "ascending")
			}
			keys = append(keys, key)
			if !p.accept(tokComma) {
				break
			}
		}
		return []Stage{Sort{Keys: keys}}, nil
	case "head", "tail", "limit":
		n := 5
		if p.peek().kind == tokNumber || name == "limit" {
			v, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			n = v
		}
		if name == "tail" {
			return []Stage{Tail{N: n}}, nil
		}
		return []Stage{Head{N: n}}, nil
	case "group":
		if !p.acceptKeyword("by") {
			return nil, p.errAt(p.peek(), "expected \"by\" after group")
		}
		keys, err := p.parseColList()
		if err != nil {
			return nil, err
		}
		p.accept(tokPipe)
		aggs, err := p.parseAggStage()
		if err != nil {
			return nil, err
		}
		return []Stage{Aggregate{Keys: keys, Aggs: aggs}}, nil
	case "agg", "aggregate":
		aggs, err := p.parseAggList()
		if err != nil {
			return nil, err
		}
		return []Stage{Aggregate{Aggs: aggs}}, nil
	case "distinct", "unique":
		cols, err := p.parseOptionalColList()
		if err != nil {
			return nil, err
		}
		if len(cols) > 0 {
			return []Stage{Select{Cols: cols}, Distinct{}}, nil
		}
		return []Stage{Distinct{}}, nil
	case "value_counts":
		cols, err := p.parseOptionalColList()
		if err != nil {
			return nil, err
		}
		if len(cols) > 1 {
			return nil, p.errAt(kw, "value_counts takes one column")
		}
		vc := ValueCounts{}
		if len(cols) == 1 {
			vc.Col = cols[0]
		}
		return []Stage{vc}, nil
	case "describe":
		return []Stage{Describe{}}, nil
	case "columns":
		return []Stage{ColumnsInfo{}}, nil
	case "shape":
		return []Stage{Shape{}}, nil
	case "corr":
		return []Stage{Corr{}}, nil
	case "round":
		n := 0
		if k := p.peek().kind; k == tokNumber || k == tokMinus {
			v, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			n = v
		}
		return []Stage{Round{Digits: n}}, nil
	case "plot":
		kt := p.next()
		kind, ok := chart.ParseKind(strings.ToLower(kt.text))
		if kt.kind != tokIdent || !ok || kind == chart.KindHist || kind == chart.KindHeatmap {
			return nil, p.errAt(kt, "expected line, bar or scatter after plot")
		}
		x, err := p.parseCol()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma); err != nil {
			return nil, err
		}
		y, err := p.parseCol()
		if err != nil {
			return nil, err
		}
		return []Stage{Plot{Kind: kind, X: x, Y: y}}, nil
	case "hist", "histogram":
		col, err := p.parseCol()
		if err != nil {
			return nil, err
		}
		h := Hist{Col: col}
		if p.peek().kind == tokNumber {
			if h.Bins, err = p.parseInt(); err != nil {
				return nil, err
			}
		}
		return []Stage{h}, nil
	}
	if _, ok := aggFuncs[name]; ok {
		p.i--
		aggs, err := p.parseAggStage()
		if err != nil {
			return nil, err
		}
		return []Stage{Aggregate{Aggs: aggs}}, nil
	}
	return nil, p.errAt(kw, "unknown stage %q", kw.text)
}

// parseAggStage parses what may follow "group by": "agg" list, a bare
// "count", or a single aggregate call.
func (p *parser) parseAggStage() ([]AggSpec, error) {
	if p.acceptKeyword("agg", "aggregate") {
		return p.parseAggList()
	}
	if p.isKeyword("count", "size") && p.peekAt(1).kind != tokLParen {
		p.next()
		return []AggSpec{{Fn: "count", Col: "*"}}, nil
	}
	spec, err := p.parseAgg()
	if err != nil {
		return nil, err
	}
	return []AggSpec{spec}, nil
}

func (p *parser) parseAggList() ([]AggSpec, error) {
	var out []AggSpec
	for {
		spec, err := p.parseAgg()
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
		if !p.accept(tokComma) {
			return out, nil
		}
	}
}

// parseAgg parses FN "(" col|"*" ")" ["as" name].
func (p *parser) parseAgg() (AggSpec, error) {
	tok := p.next()
	fn, ok := aggFuncs[strings.ToLower(tok.text)]
	if tok.kind != tokIdent || !ok {
		return AggSpec{}, p.errAt(tok, "expected an aggregate function, found %s", describe(tok))
	}
	if _, err := p.expect(tokLParen); err != nil {
		return AggSpec{}, err
	}
	spec := AggSpec{Fn: fn}
	switch {
	case p.accept(tokStar):
		spec.Col = "*"
	case p.peek().kind == tokRParen && fn == "count":
		spec.Col = "*"
	default:
		col, err := p.parseCol()
		if err != nil {
			return AggSpec{}, err
		}
		spec.Col = col
	}
	if spec.Col == "*" && fn != "count" {
		return AggSpec{}, p.errAt(tok, "%s(*) is not defined; name a column", fn)
	}
	if _, err := p.expect(tokRParen); err != nil {
		return AggSpec{}, err
	}
	if p.acceptKeyword("as") {
		name, err := p.parseCol()
		if err != nil {
			return AggSpec{}, err
		}
		spec.Alias = name
	}
	return spec, nil
}

func (p *parser) parseColList() ([]string, error) {
	var cols []string
	for {
		col, err := p.parseCol()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if !p.accept(tokComma) {
			return cols, nil
		}
	}
}

func (p *parser) parseOptionalColList() ([]string, error) {
	switch p.peek().kind {
	case tokIdent, tokQuoted, tokString:
		return p.parseColList()
	}
	return nil, nil
}

// parseCol parses a column reference: name, `quoted name`, "string",
// df["name"] or df.name.
func (p *parser) parseCol() (string, error) {
	tok := p.next()
	switch tok.kind {
	case tokQuoted, tokString:
		return tok.text, nil
	case tokIdent:
		if tok.text == "df" {
			if p.accept(tokLBrack) {
				s, err := p.expect(tokString)
				if err != nil {
					return "", err
				}
				if _, err := p.expect(tokRBrack); err != nil {
					return "", err
				}
				return s.text, nil
			}
			if p.accept(tokDot) {
				s, err := p.expect(tokIdent)
				if err != nil {
					return "", err
				}
				return s.text, nil
			}
		}
		return tok.text, nil
	}
	return "", p.errAt(tok, "expected a column name, found %s", describe(tok))
}

func (p *parser) parseInt() (int, error) {
	neg := p.accept(tokMinus)
	tok, err := p.expect(tokNumber)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(strings.ReplaceAll(tok.text, "_", ""))
	if convErr != nil {
		return 0, p.errAt(tok, "expected an integer, found %s", describe(tok))
	}
	if neg {
		n = -n
	}
	return n, nil
}

func parseNumberLit(text string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
	return f, err == nil
}

// parseCond parses a boolean condition.
//
//	cond   := and { ("or" | "||" | "|"*) and }      (* inside brackets)
//	and    := not { ("and" | "&&" | "&") not }
//	not    := ("not" | "~") not | "(" cond ")" | predicate
func (p *parser) parseCond() (Cond, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("or") || p.accept(tokOrOr) || p.bracket && p.accept(tokPipe) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Cond, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("and") || p.accept(tokAndAnd) || p.accept(tokAmp) {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = And{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Cond, error) {
	if p.acceptKeyword("not") || p.accept(tokTilde) {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	if p.accept(tokLParen) {
		c, err := p.parseCond()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return c, nil
	}
	return p.parsePredicate()
}

// parsePredicate parses a comparison or a column test.
func (p *parser) parsePredicate() (Cond, error) {
	start := p.peek()
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	col, isCol := left.(ColRef)

	if isCol && p.peek().kind == tokDot {
		return p.parseSeriesPredicate(col.Name)
	}
	if isCol && p.isKeyword("is") {
		p.next()
		neg := p.acceptKeyword("not")
		if !p.acceptKeyword("null", "none", "na", "nan") {
			return nil, p.errAt(p.peek(), "expected null after is")
		}
		return IsNull{Col: col.Name, Negate: neg}, nil
	}
	if isCol && (p.isKeyword("in") || p.isKeyword("not") && strings.EqualFold(p.peekAt(1).text, "in")) {
		neg := p.acceptKeyword("not")
		p.next()
		vals, err := p.parseLitList()
		if err != nil {
			return nil, err
		}
		return In{Col: col.Name, Values: vals, Negate: neg}, nil
	}
	if isCol && p.isKeyword("contains", "startswith", "endswith") {
		op := strings.ToLower(p.next().text)
		pat, err := p.expect(tokString)
		if err != nil {
			return nil, err
		}
		return Match{Col: col.Name, Op: op, Pattern: pat.text}, nil
	}
	opTok := p.peek()
	if opTok.kind != tokOp {
		return nil, p.errAt(opTok, "expected a comparison after %s, found %s", describe(start), describe(opTok))
	}
	p.next()
	op := opTok.text
	if op == "=" {
		op = "=="
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return Compare{Op: op, L: left, R: right}, nil
}

// parseSeriesPredicate parses method-style column tests such as
// .isin([...]), .isna(), .between(a, b) and .str.contains("x").
func (p *parser) parseSeriesPredicate(col string) (Cond, error) {
	p.next() // '.'
	m, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(m.text)
	if name == "str" {
		if _, err := p.expect(tokDot); err != nil {
			return nil, err
		}
		if m, err = p.expect(tokIdent); err != nil {
			return nil, err
		}
		name = strings.ToLower(m.text)
		switch name {
		case "contains", "startswith", "endswith":
		default:
			return nil, p.errAt(m, "unsupported string test %q", m.text)
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		pat, ok := args.str(0, "pat")
		if !ok {
			return nil, p.errAt(m, "%s needs a string pattern", name)
		}
		fold := false
		if b, ok := args.boolean(-1, "case"); ok {
			fold = !b
		}
		return Match{Col: col, Op: name, Pattern: pat, Fold: fold}, nil
	}
	args, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	switch name {
	case "isin":
		vals, ok := args.values(0, "values")
		if !ok {
			return nil, p.errAt(m, "isin needs a list of values")
		}
		return In{Col: col, Values: vals}, nil
	case "isna", "isnull":
		return IsNull{Col: col}, nil
	case "notna", "notnull":
		return IsNull{Col: col, Negate: true}, nil
	case "between":
		lo, ok1 := args.value(0, "left")
		hi, ok2 := args.value(1, "right")
		if !ok1 || !ok2 {
			return nil, p.errAt(m, "between needs two bounds")
		}
		return And{
			L: Compare{Op: ">=", L: ColRef{Name: col}, R: Lit{Value: lo}},
			R: Compare{Op: "<=", L: ColRef{Name: col}, R: Lit{Value: hi}},
		}, nil
	}
	return nil, p.errAt(m, "unsupported column test %q", m.text)
}

// seriesTests are the methods parseSeriesPredicate handles; an operand
// followed by one of them stays a column reference.
var seriesTests = map[string]bool{
	"isin": true, "isna": true, "isnull": true, "notna": true, "notnull": true,
	"between": true, "str": true,
}

// parseOperand parses a literal, a column reference, an aggregate call or a
// nested df expression.
func (p *parser) parseOperand() (Operand, error) {
	tok := p.peek()
	switch tok.kind {
	case tokNumber:
		p.next()
		f, ok := parseNumberLit(tok.text)
		if !ok {
			return nil, p.errAt(tok, "invalid number %s", describe(tok))
		}
		return Lit{Value: table.Num(f)}, nil
	case tokMinus:
		p.next()
		nt, err := p.expect(tokNumber)
		if err != nil {
			return nil, err
		}
		f, ok := parseNumberLit(nt.text)
		if !ok {
			return nil, p.errAt(nt, "invalid number %s", describe(nt))
		}
		return Lit{Value: table.Num(-f)}, nil
	case tokString:
		p.next()
		return Lit{Value: table.Str(tok.text)}, nil
	case tokQuoted:
		p.next()
		return ColRef{Name: tok.text}, nil
	case tokIdent:
		if tok.text == "df" {
			return p.parseDFOperand()
		}
		lower := strings.ToLower(tok.text)
		if lower == "null" || lower == "none" || lower == "nan" {
			p.next()
			return Lit{Value: table.NullValue()}, nil
		}
		if _, ok := aggFuncs[lower]; ok && p.peekAt(1).kind == tokLParen {
			spec, err := p.parseAgg()
			if err != nil {
				return nil, err
			}
			return AggRef{Spec: spec}, nil
		}
		p.next()
		return ColRef{Name: tok.text}, nil
	}
	return nil, p.errAt(tok, "expected a value or column, found %s", describe(tok))
}

// parseDFOperand handles df["x"] / df.x column references and nested
// expressions such as df["x"].max().
func (p *parser) parseDFOperand() (Operand, error) {
	start := p.i
	p.next() // df
	col := ""
	switch {
	case p.peek().kind == tokLBrack && p.peekAt(1).kind == tokString && p.peekAt(2).kind == tokRBrack:
		col = p.peekAt(1).text
		p.i += 3
	case p.peek().kind == tokDot && p.peekAt(1).kind == tokIdent && p.peekAt(2).kind != tokLParen && !chainProperties[strings.ToLower(p.peekAt(1).text)]:
		col = p.peekAt(1).text
		p.i += 2
	}
	if col != "" {
		nxt := p.peek()
		isTest := nxt.kind == tokDot && seriesTests[strings.ToLower(p.peekAt(1).text)]
		if !isTest && nxt.kind != tokDot && nxt.kind != tokLBrack {
			return ColRef{Name: col}, nil
		}
		if isTest {
			return ColRef{Name: col}, nil
		}
	}
	// nested expression over the source table
	p.i = start + 1
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	saved := p.bracket
	p.bracket = false
	sub := &Pipeline{}
	err := p.parseChain(sub)
	p.bracket = saved
	if err != nil {
		return nil, err
	}
	return SubQuery{Pipeline: sub}, nil
}

func (p *parser) parseLitList() ([]table.Value, error) {
	open := p.next()
	closeKind := tokRParen
	switch open.kind {
	case tokLParen:
	case tokLBrack:
		closeKind = tokRBrack
	default:
		return nil, p.errAt(open, "expected ( or [ after in")
	}
	var vals []table.Value
	for p.peek().kind != closeKind {
		op, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		lit, ok := op.(Lit)
		if !ok {
			return nil, p.errAt(p.peek(), "in lists may only hold literals")
		}
		vals = append(vals, lit.Value)
		if !p.accept(tokComma) {
			break
		}
	}
	if _, err := p.expect(closeKind); err != nil {
		return nil, err
	}
	return vals, nil
}
