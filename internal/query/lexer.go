package query

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuoted // `back quoted` column name
	tokNumber
	tokString
	tokOp // == = != < <= > >=
	tokPipe
	tokOrOr
	tokAmp
	tokAndAnd
	tokTilde
	tokComma
	tokDot
	tokStar
	tokMinus
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokColon
)

var tokenNames = map[tokenKind]string{
	tokEOF:    "end of expression",
	tokIdent:  "identifier",
	tokQuoted: "quoted name",
	tokNumber: "number",
	tokString: "string",
	tokOp:     "operator",
	tokPipe:   "'|'",
	tokOrOr:   "'||'",
	tokAmp:    "'&'",
	tokAndAnd: "'&&'",
	tokTilde:  "'~'",
	tokComma:  "','",
	tokDot:    "'.'",
	tokStar:   "'*'",
	tokMinus:  "'-'",
	tokLParen: "'('",
	tokRParen: "')'",
	tokLBrack: "'['",
	tokRBrack: "']'",
	tokColon:  "':'",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	text string // identifier, operator, or decoded string/number text
	pos  int
}

// lex splits expr into tokens. Unknown characters and unterminated strings
// are syntax errors.
func lex(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		r, w := utf8.DecodeRuneInString(expr[i:])
		switch {
		case unicode.IsSpace(r):
			i += w
			continue
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(expr) {
				r, w = utf8.DecodeRuneInString(expr[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += w
			}
			toks = append(toks, token{tokIdent, expr[start:i], start})
			continue
		case r >= '0' && r <= '9' || r == '.' && i+1 < len(expr) && isDigit(expr[i+1]):
			start := i
			i = scanNumber(expr, i)
			toks = append(toks, token{tokNumber, expr[start:i], start})
			continue
		case r == '"' || r == '\'':
			s, next, ok := scanString(expr, i)
			if !ok {
				return nil, syntaxErr(expr, i, "unterminated string")
			}
			toks = append(toks, token{tokString, s, i})
			i = next
			continue
		case r == '`':
			end := strings.IndexByte(expr[i+1:], '`')
			if end < 0 {
				return nil, syntaxErr(expr, i, "unterminated quoted name")
			}
			toks = append(toks, token{tokQuoted, expr[i+1 : i+1+end], i})
			i += end + 2
			continue
		}

		two := ""
		if i+1 < len(expr) {
			two = expr[i : i+2]
		}
		switch two {
		case "==", "!=", "<=", ">=":
			toks = append(toks, token{tokOp, two, i})
			i += 2
			continue
		case "||":
			toks = append(toks, token{tokOrOr, two, i})
			i += 2
			continue
		case "&&":
			toks = append(toks, token{tokAndAnd, two, i})
			i += 2
			continue
		}
		kind, ok := map[rune]tokenKind{
			'=': tokOp, '<': tokOp, '>': tokOp,
			'|': tokPipe, '&': tokAmp, '~': tokTilde,
			',': tokComma, '.': tokDot, '*': tokStar, '-': tokMinus,
			'(': tokLParen, ')': tokRParen, '[': tokLBrack, ']': tokRBrack,
			':': tokColon,
		}[r]
		if !ok {
			return nil, syntaxErr(expr, i, "unexpected character %q", r)
		}
		toks = append(toks, token{kind, string(r), i})
		i += w
	}
	toks = append(toks, token{tokEOF, "", len(expr)})
	return toks, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func scanNumber(s string, i int) int {
	for i < len(s) && (isDigit(s[i]) || s[i] == '.' || s[i] == '_') {
		i++
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			i = j
			for i < len(s) && isDigit(s[i]) {
				i++
			}
		}
	}
	return i
}

// scanString decodes a single- or double-quoted string starting at i.
func scanString(s string, i int) (string, int, bool) {
	quote := s[i]
	var b strings.Builder
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '\\' && j+1 < len(s):
			j++
			switch s[j] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[j])
			}
		case c == quote:
			return b.String(), j + 1, true
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, false
}
