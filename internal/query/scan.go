package query

import (
	"regexp"
	"strings"

	"github.com/KaramelBytes/csv-analyst/internal/table"
)

// disallowed names capabilities the evaluation namespace never offers:
// imports, code execution, file and process access, and I/O methods.
var disallowed = map[string]bool{
	"import": true, "__import__": true, "exec": true, "eval": true, "compile": true,
	"open": true, "os": true, "sys": true, "subprocess": true, "shutil": true,
	"socket": true, "requests": true, "urllib": true, "pickle": true, "builtins": true,
	"globals": true, "locals": true, "getattr": true, "setattr": true, "delattr": true,
	"lambda": true, "apply": true, "applymap": true, "pipe": true, "input": true,
	"read_csv": true, "read_excel": true, "read_json": true, "read_sql": true, "read_pickle": true,
	"to_csv": true, "to_excel": true, "to_json": true, "to_sql": true, "to_pickle": true,
	"to_parquet": true, "to_clipboard": true, "system": true, "popen": true, "remove": true,
}

// codeStart matches text that opens like a statement or call rather than prose.
var codeStart = regexp.MustCompile(`^\s*(df\b|import\b|from\s+\w+\s+import\b|[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*\s*[(\[]|[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_])`)

// scanCapabilities rejects code that names a disallowed capability before
// anything is parsed or run. Names that are columns of t, and text inside
// string literals, are ignored. Prose is left to the parser.
func scanCapabilities(expr string, t *table.Table) error {
	if !codeStart.MatchString(expr) {
		return nil
	}
	toks, err := lex(expr)
	if err != nil {
		// leave lexical problems to the parser; still check bare words
		return scanWords(expr, t)
	}
	for _, tok := range toks {
		if tok.kind != tokIdent {
			continue
		}
		if err := checkName(tok.text, t); err != nil {
			return err
		}
	}
	return nil
}

func scanWords(expr string, t *table.Table) error {
	words := strings.FieldsFunc(expr, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	for _, w := range words {
		if err := checkName(w, t); err != nil {
			return err
		}
	}
	return nil
}

func checkName(name string, t *table.Table) error {
	lower := strings.ToLower(name)
	if !disallowed[lower] && !strings.HasPrefix(name, "__") {
		return nil
	}
	if t != nil {
		if _, ok := t.ColumnIndex(name); ok {
			return nil
		}
	}
	return &EvalError{Msg: "name " + quote(name) + " is not available; only df and its query operations can be used", Disallowed: true}
}

func quote(s string) string { return "\"" + s + "\"" }
