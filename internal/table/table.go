package table

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Kind is the inferred type of a column.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindDatetime    Kind = "datetime"
	KindCategorical Kind = "categorical"
	KindText        Kind = "text"
	KindUnknown     Kind = "unknown"
)

// Column describes a column. Cell data lives in the Table.
type Column struct {
	Name string
	Kind Kind
	Unit string // parsed from the header, e.g. "Mass [mg/L]" -> "mg/L"
}

// Table is an immutable, column-major, in-memory table. There are no
// exported mutators; every transformation builds a new Table.
type Table struct {
	name     string
	cols     []Column
	data     [][]Value // data[col][row]
	rows     int
	warnings []string
}

// New builds a table from column metadata and column-major data. New takes
// ownership of data; callers must not modify it afterwards.
func New(name string, cols []Column, data [][]Value) (*Table, error) {
	if len(cols) != len(data) {
		return nil, fmt.Errorf("table %q: %d columns but %d data vectors", name, len(cols), len(data))
	}
	rows := 0
	for i, d := range data {
		if i == 0 {
			rows = len(d)
			continue
		}
		if len(d) != rows {
			return nil, fmt.Errorf("table %q: column %q has %d rows, want %d", name, cols[i].Name, len(d), rows)
		}
	}
	cc := make([]Column, len(cols))
	copy(cc, cols)
	return &Table{name: name, cols: cc, data: data, rows: rows}, nil
}

// FromRows builds a table from row-major values. Short rows are padded with nulls.
func FromRows(name string, cols []Column, rows [][]Value) (*Table, error) {
	data := make([][]Value, len(cols))
	for c := range cols {
		data[c] = make([]Value, len(rows))
		for r, row := range rows {
			if c < len(row) {
				data[c][r] = row[c]
			}
		}
	}
	return New(name, cols, data)
}

func (t *Table) Name() string { return t.name }
func (t *Table) NumRows() int { return t.rows }
func (t *Table) NumCols() int { return len(t.cols) }

// Warnings lists non-fatal notes from loading (e.g. row truncation).
func (t *Table) Warnings() []string {
	out := make([]string, len(t.warnings))
	copy(out, t.warnings)
	return out
}

// Columns returns a copy of the column metadata.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.cols))
	copy(out, t.cols)
	return out
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

func (t *Table) Column(i int) Column { return t.cols[i] }

// Cell returns the value at row r, column c.
func (t *Table) Cell(r, c int) Value { return t.data[c][r] }

// Values returns a copy of column c.
func (t *Table) Values(c int) []Value {
	out := make([]Value, t.rows)
	copy(out, t.data[c])
	return out
}

// Row returns a copy of row r.
func (t *Table) Row(r int) []Value {
	out := make([]Value, len(t.cols))
	for c := range t.cols {
		out[c] = t.data[c][r]
	}
	return out
}

// ColumnIndex resolves a column by exact name, then by a case- and
// whitespace-insensitive match, then by the header with its unit removed.
func (t *Table) ColumnIndex(name string) (int, bool) {
	n := norm.NFC.String(strings.TrimSpace(name))
	for i, c := range t.cols {
		if c.Name == n {
			return i, true
		}
	}
	key := foldName(n)
	for i, c := range t.cols {
		if foldName(c.Name) == key {
			return i, true
		}
	}
	for i, c := range t.cols {
		if base, unit := splitUnits(c.Name); unit != "" && foldName(base) == key {
			return i, true
		}
	}
	return -1, false
}

func foldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}

// Head returns the first n rows as a new table.
func (t *Table) Head(n int) *Table { return t.Slice(0, n) }

// Tail returns the last n rows as a new table.
func (t *Table) Tail(n int) *Table {
	if n < 0 {
		n = 0
	}
	return t.Slice(t.rows-n, t.rows)
}

// Slice returns rows [from, to) as a new table, clamping bounds.
func (t *Table) Slice(from, to int) *Table {
	if from < 0 {
		from = 0
	}
	if from > t.rows {
		from = t.rows
	}
	if to > t.rows {
		to = t.rows
	}
	if to < from {
		to = from
	}
	data := make([][]Value, len(t.cols))
	for c := range t.cols {
		data[c] = make([]Value, to-from)
		copy(data[c], t.data[c][from:to])
	}
	out, _ := New(t.name, t.cols, data)
	return out
}

// Take returns the given rows, in order, as a new table.
func (t *Table) Take(rows []int) *Table {
	data := make([][]Value, len(t.cols))
	for c := range t.cols {
		data[c] = make([]Value, len(rows))
		for i, r := range rows {
			data[c][i] = t.data[c][r]
		}
	}
	out, _ := New(t.name, t.cols, data)
	return out
}

// Equal reports whether both tables hold the same columns and cells.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.rows != o.rows || len(t.cols) != len(o.cols) {
		return false
	}
	for c := range t.cols {
		if t.cols[c] != o.cols[c] {
			return false
		}
		for r := 0; r < t.rows; r++ {
			if !t.data[c][r].Same(o.data[c][r]) {
				return false
			}
		}
	}
	return true
}

// Render formats the table as aligned text without a row index. At most
// maxRows rows are printed (0 means all); a trailer notes the remainder.
func (t *Table) Render(maxRows int) string {
	if len(t.cols) == 0 {
		return "(empty table)"
	}
	n := t.rows
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	widths := make([]int, len(t.cols))
	cells := make([][]string, n)
	for c, col := range t.cols {
		widths[c] = utf8.RuneCountInString(col.Name)
	}
	for r := 0; r < n; r++ {
		cells[r] = make([]string, len(t.cols))
		for c := range t.cols {
			s := displayCell(t.data[c][r])
			cells[r][c] = s
			if w := utf8.RuneCountInString(s); w > widths[c] {
				widths[c] = w
			}
		}
	}
	var b strings.Builder
	writeLine := func(vals []string) {
		for c, v := range vals {
			if c > 0 {
				b.WriteString("  ")
			}
			b.WriteString(strings.Repeat(" ", widths[c]-utf8.RuneCountInString(v)))
			b.WriteString(v)
		}
		b.WriteString("\n")
	}
	writeLine(t.ColumnNames())
	for _, row := range cells {
		writeLine(row)
	}
	if n < t.rows {
		fmt.Fprintf(&b, "... (%d more rows)\n", t.rows-n)
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayCell(v Value) string {
	if v.IsNull() {
		return "NaN"
	}
	s := strings.ReplaceAll(v.String(), "\n", " ")
	if utf8.RuneCountInString(s) > 80 {
		r := []rune(s)
		s = string(r[:77]) + "..."
	}
	return s
}
