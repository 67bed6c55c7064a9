package table

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

const salesCSV = `Region,Product,Amount (USD),Units,Date
North,Widget,10,1,2024-01-05
South,Gadget,20,2,2024-01-06
North,Gadget,n/a,3,2024-01-07
East,Widget,"1,250",4,2024-01-08
South,Widget,15.5,,2024-01-09
`

func mustLoad(t *testing.T, name, body string) *Table {
	t.Helper()
	tbl, err := Load(strings.NewReader(body), name, DefaultLoadOptions())
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return tbl
}

func TestLoadCSVInfersKinds(t *testing.T) {
	tbl := mustLoad(t, "sales.csv", salesCSV)
	if tbl.NumRows() != 5 || tbl.NumCols() != 5 {
		t.Fatalf("shape = %dx%d, want 5x5", tbl.NumRows(), tbl.NumCols())
	}
	want := map[string]Kind{
		"Region":       KindCategorical,
		"Product":      KindCategorical,
		"Amount (USD)": KindNumeric,
		"Units":        KindNumeric,
		"Date":         KindDatetime,
	}
	for _, c := range tbl.Columns() {
		if want[c.Name] != c.Kind {
			t.Errorf("column %q kind = %s, want %s", c.Name, c.Kind, want[c.Name])
		}
	}
	if u := tbl.Column(2).Unit; u != "USD" {
		t.Errorf("unit = %q, want USD", u)
	}
	if !tbl.Cell(2, 2).IsNull() {
		t.Errorf("n/a should load as null, got %v", tbl.Cell(2, 2))
	}
	if x, _ := tbl.Cell(3, 2).Float(); x != 1250 {
		t.Errorf("thousands separator: got %v, want 1250", x)
	}
	if !tbl.Cell(4, 3).IsNull() {
		t.Errorf("empty cell should be null")
	}
}

func TestLoadCSVSemicolonDecimalComma(t *testing.T) {
	body := "Group;Concentration (g/L);Score\nA;0,5;10,0\nB;0,75;9,5\n"
	tbl := mustLoad(t, "lab.csv", body)
	idx, ok := tbl.ColumnIndex("concentration")
	if !ok {
		t.Fatalf("unit-stripped lookup failed; columns %v", tbl.ColumnNames())
	}
	if x, _ := tbl.Cell(1, idx).Float(); x != 0.75 {
		t.Fatalf("decimal comma: got %v, want 0.75", x)
	}
}

func TestLoadCSVErrors(t *testing.T) {
	_, err := Load(strings.NewReader(""), "empty.csv", DefaultLoadOptions())
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("want ErrEmpty, got %v", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Name != "empty.csv" {
		t.Fatalf("want ParseError for empty.csv, got %#v", err)
	}

	_, err = Load(strings.NewReader("a,b\n\"unterminated,1\n"), "bad.csv", DefaultLoadOptions())
	if !errors.As(err, &pe) {
		t.Fatalf("want ParseError for malformed quotes, got %v", err)
	}
}

func TestLoadRejectsTooManyRows(t *testing.T) {
	opt := DefaultLoadOptions()
	opt.MaxRows = 2
	_, err := Load(strings.NewReader(salesCSV), "sales.csv", opt)
	var pe *ParseError
	if !errors.As(err, &pe) || !errors.Is(err, ErrTooManyRows) {
		t.Fatalf("want ParseError wrapping ErrTooManyRows, got %v", err)
	}
	if pe.Line != 4 {
		t.Fatalf("line = %d, want 4", pe.Line)
	}

	opt.MaxRows = 5
	tbl, err := Load(strings.NewReader(salesCSV), "sales.csv", opt)
	if err != nil {
		t.Fatalf("exactly MaxRows rows should load: %v", err)
	}
	if tbl.NumRows() != 5 {
		t.Fatalf("rows = %d, want 5", tbl.NumRows())
	}
}

func TestCleanHeader(t *testing.T) {
	got := cleanHeader([]string{" a ", "", "a", "b", "  "})
	want := []string{"a", "Column_2", "a_2", "b"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("cleanHeader = %v, want %v", got, want)
	}
}

func TestParseNumber(t *testing.T) {
	cases := map[string]float64{
		"42":       42,
		"-3.5":     -3.5,
		"1,234":    1234,
		"0,5":      0.5,
		"1.000,25": 1000.25,
		"1,000.25": 1000.25,
		"12%":      12,
		"1 000":    1000,
	}
	for in, want := range cases {
		got, ok := ParseNumber(in)
		if !ok || math.Abs(got-want) > 1e-9 {
			t.Errorf("ParseNumber(%q) = %v,%v want %v", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "abc", "inf", "NaN", "2024-01-05"} {
		if _, ok := ParseNumber(in); ok {
			t.Errorf("ParseNumber(%q) should fail", in)
		}
	}
}

func TestSliceDoesNotAlias(t *testing.T) {
	tbl := mustLoad(t, "sales.csv", salesCSV)
	head := tbl.Head(2)
	head.data[0][0] = Str("changed")
	if tbl.Cell(0, 0).Str != "North" {
		t.Fatalf("Head aliased the source table")
	}
	if tail := tbl.Tail(2); tail.Cell(0, 0).Str != "East" {
		t.Fatalf("Tail(2) first region = %v", tail.Cell(0, 0))
	}
	if got := tbl.Slice(10, 20).NumRows(); got != 0 {
		t.Fatalf("out of range slice rows = %d", got)
	}
}

func TestSliceClampsBounds(t *testing.T) {
	tbl, err := FromRows("t", []Column{{Name: "n"}}, [][]Value{{Num(1)}, {Num(2)}})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct{ from, to, want int }{
		{5, 9, 0},
		{3, 1, 0},
		{-4, 1, 1},
		{1, 10, 1},
		{0, 2, 2},
	}
	for _, tc := range cases {
		if got := tbl.Slice(tc.from, tc.to).NumRows(); got != tc.want {
			t.Errorf("Slice(%d, %d) rows = %d, want %d", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRender(t *testing.T) {
	tbl, err := FromRows("t", []Column{{Name: "name"}, {Name: "n"}}, [][]Value{
		{Str("a"), Num(1)},
		{Str("bbb"), NullValue()},
		{Str("c"), Num(2.5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "name    n\n   a    1\n bbb  NaN\n   c  2.5"
	if got := tbl.Render(0); got != want {
		t.Fatalf("Render:\n%s\nwant:\n%s", got, want)
	}
	if got := tbl.Render(1); !strings.HasSuffix(got, "... (2 more rows)") {
		t.Fatalf("truncated render missing trailer:\n%s", got)
	}
}

func TestValueSemantics(t *testing.T) {
	if NullValue().Equal(NullValue()) {
		t.Error("nulls must not be Equal")
	}
	if !NullValue().Same(NullValue()) {
		t.Error("nulls must be Same")
	}
	if !Str("10").Equal(Num(10)) {
		t.Error("text 10 should equal number 10")
	}
	if Compare(Num(1), Str("a")) >= 0 || Compare(NullValue(), Num(1)) <= 0 {
		t.Error("ordering: numbers < text < null")
	}
	if !Num(math.NaN()).IsNull() {
		t.Error("NaN should be stored as null")
	}
	if FormatNumber(3) != "3" || FormatNumber(2.5) != "2.5" {
		t.Errorf("FormatNumber: %s %s", FormatNumber(3), FormatNumber(2.5))
	}
}

func TestProfileMarkdown(t *testing.T) {
	tbl := mustLoad(t, "sales.csv", salesCSV)
	opt := DefaultProfileOptions()
	opt.GroupBy = []string{"Region"}
	opt.Correlations = true
	rep := Profile(tbl, opt)
	if rep.Rows != 5 || len(rep.Cols) != 5 {
		t.Fatalf("report shape rows=%d cols=%d", rep.Rows, len(rep.Cols))
	}
	amt := rep.Cols[2]
	if amt.NonNull != 4 || amt.Missing != 1 {
		t.Fatalf("amount counts nonnull=%d missing=%d", amt.NonNull, amt.Missing)
	}
	if amt.Min != 10 || amt.Max != 1250 {
		t.Fatalf("amount min/max = %v/%v", amt.Min, amt.Max)
	}
	if rep.Corr == nil || len(rep.Corr.Columns) != 2 {
		t.Fatalf("expected 2x2 correlation matrix, got %+v", rep.Corr)
	}
	md := rep.Markdown()
	for _, s := range []string{"[DATASET SUMMARY]", "Rows: 5", "[SCHEMA]", "[GROUP-BY SUMMARY]", "Region=North", "[CORRELATIONS]", "[HEAD AND SAMPLE ROWS]"} {
		if !strings.Contains(md, s) {
			t.Errorf("markdown missing %q\n%s", s, md)
		}
	}
}

func TestCorrelationsPerfect(t *testing.T) {
	tbl, _ := FromRows("c", []Column{{Name: "x", Kind: KindNumeric}, {Name: "y", Kind: KindNumeric}}, [][]Value{
		{Num(1), Num(2)}, {Num(2), Num(4)}, {Num(3), Num(6)}, {Num(4), NullValue()},
	})
	m := Correlations(tbl)
	if m == nil || math.Abs(m.Values[0][1]-1) > 1e-9 {
		t.Fatalf("want r=1, got %+v", m)
	}
}

func TestLoadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_ = f.SetSheetRow("Sheet1", "A1", &[]interface{}{"city", "temp"})
	_ = f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Oslo", 4})
	_ = f.SetSheetRow("Sheet1", "A3", &[]interface{}{"Rome", 18.5})
	if _, err := f.NewSheet("Other"); err != nil {
		t.Fatal(err)
	}
	_ = f.SetSheetRow("Other", "A1", &[]interface{}{"k"})
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	tbl, err := Load(bytes.NewReader(raw), "cities.xlsx", DefaultLoadOptions())
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NumRows() != 2 || tbl.Column(1).Kind != KindNumeric {
		t.Fatalf("xlsx: rows=%d kind=%s", tbl.NumRows(), tbl.Column(1).Kind)
	}
	if x, _ := tbl.Cell(1, 1).Float(); x != 18.5 {
		t.Fatalf("temp = %v", x)
	}

	opt := DefaultLoadOptions()
	opt.Sheet = "missing"
	if _, err := Load(bytes.NewReader(raw), "cities.xlsx", opt); err == nil || !strings.Contains(err.Error(), "available sheets") {
		t.Fatalf("want sheet-not-found error, got %v", err)
	}
	opt = DefaultLoadOptions()
	opt.SheetIndex = 2
	other, err := Load(bytes.NewReader(raw), "cities.xlsx", opt)
	if err != nil || other.ColumnNames()[0] != "k" {
		t.Fatalf("sheet index 2: %v %v", other, err)
	}
}
