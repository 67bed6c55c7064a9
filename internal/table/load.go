package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

// ErrEmpty is returned when an upload has no header row.
var ErrEmpty = errors.New("no header row")

// ErrTooManyRows means the input has more data rows than LoadOptions.MaxRows.
var ErrTooManyRows = errors.New("too many rows")

// ParseError reports malformed upload input.
type ParseError struct {
	Name string
	Line int // 0 when unknown
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s: line %d: %v", e.Name, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LoadOptions controls how uploads are turned into tables.
type LoadOptions struct {
	// MaxRows limits rows loaded; 0 means unlimited.
	MaxRows int
	// Delimiter for CSV. If 0, sniffs among ',', ';', '\t'.
	Delimiter rune
	// Numeric parsing locale. If DecimalSeparator is 0, auto-detect per value.
	DecimalSeparator   rune
	ThousandsSeparator rune
	// XLSX sheet selection; SheetIndex is 1-based and used when Sheet is empty.
	Sheet      string
	SheetIndex int
}

// DefaultLoadOptions returns reasonable defaults for uploads.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{MaxRows: 100000, SheetIndex: 1}
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string, opt LoadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f, filepath.Base(path), opt)
}

// Load reads an upload, choosing the XLSX or delimited-text reader by the
// file name's extension.
func Load(r io.Reader, name string, opt LoadOptions) (*Table, error) {
	if strings.HasSuffix(strings.ToLower(name), ".xlsx") {
		return LoadXLSX(r, name, opt)
	}
	return LoadCSV(r, name, opt)
}

// LoadCSV parses delimited text with a header row.
func LoadCSV(r io.Reader, name string, opt LoadOptions) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Name: name, Err: fmt.Errorf("read: %w", err)}
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	delim := opt.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(name, raw)
	}
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comma = delim

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Name: name, Err: ErrEmpty}
		}
		return nil, csvParseError(name, err)
	}
	var records [][]string
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, csvParseError(name, err)
		}
		if opt.MaxRows > 0 && len(records) >= opt.MaxRows {
			line, _ := cr.FieldPos(0)
			return nil, tooManyRows(name, line, opt.MaxRows)
		}
		records = append(records, rec)
	}
	return fromRecords(name, header, records, opt)
}

func tooManyRows(name string, line, limit int) error {
	return &ParseError{Name: name, Line: line, Err: fmt.Errorf("%w: the limit is %d data rows", ErrTooManyRows, limit)}
}

func csvParseError(name string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Name: name, Line: pe.Line, Err: pe.Err}
	}
	return &ParseError{Name: name, Err: err}
}

// LoadXLSX reads one worksheet of an XLSX workbook. The first row is the header.
func LoadXLSX(r io.Reader, name string, opt LoadOptions) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Name: name, Err: fmt.Errorf("open workbook: %w", err)}
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Name: name, Err: errors.New("workbook has no sheets")}
	}
	sheet := ""
	if opt.Sheet != "" {
		for _, s := range sheets {
			if strings.EqualFold(s, opt.Sheet) {
				sheet = s
				break
			}
		}
		if sheet == "" {
			return nil, &ParseError{Name: name, Err: fmt.Errorf("sheet %q not found; available sheets: %s", opt.Sheet, strings.Join(sheets, ", "))}
		}
	} else {
		idx := opt.SheetIndex
		if idx <= 0 {
			idx = 1
		}
		if idx > len(sheets) {
			return nil, &ParseError{Name: name, Err: fmt.Errorf("sheet index %d out of range (workbook has %d sheets)", idx, len(sheets))}
		}
		sheet = sheets[idx-1]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, &ParseError{Name: name, Err: fmt.Errorf("read sheet %q: %w", sheet, err)}
	}
	if len(rows) == 0 {
		return nil, &ParseError{Name: name, Err: ErrEmpty}
	}
	records := rows[1:]
	if opt.MaxRows > 0 && len(records) > opt.MaxRows {
		return nil, tooManyRows(name, opt.MaxRows+2, opt.MaxRows)
	}
	return fromRecords(name, rows[0], records, opt)
}

func fromRecords(name string, header []string, records [][]string, opt LoadOptions) (*Table, error) {
	names := cleanHeader(header)
	if len(names) == 0 {
		return nil, &ParseError{Name: name, Err: ErrEmpty}
	}
	ncol := len(names)
	cols := make([]Column, ncol)
	data := make([][]Value, ncol)
	for c := 0; c < ncol; c++ {
		_, unit := splitUnits(names[c])
		raw := make([]string, len(records))
		for r, rec := range records {
			if c < len(rec) {
				raw[r] = strings.TrimSpace(rec[c])
			}
		}
		kind, vals := inferColumn(raw, opt)
		cols[c] = Column{Name: names[c], Kind: kind, Unit: unit}
		data[c] = vals
	}
	return New(name, cols, data)
}

// cleanHeader trims and NFC-normalises names, fills blanks and
// de-duplicates repeats.
func cleanHeader(header []string) []string {
	// drop trailing blank header cells
	end := len(header)
	for end > 0 && strings.TrimSpace(header[end-1]) == "" {
		end--
	}
	out := make([]string, end)
	seen := map[string]int{}
	for i := 0; i < end; i++ {
		h := norm.NFC.String(strings.TrimSpace(header[i]))
		if h == "" {
			h = fmt.Sprintf("Column_%d", i+1)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s_%d", h, n+1)
		}
		seen[h]++
		out[i] = h
	}
	return out
}

// inferColumn decides a column kind by the predominant parsed type and
// converts cells accordingly. Cells that do not parse as the column kind
// are kept as text.
func inferColumn(raw []string, opt LoadOptions) (Kind, []Value) {
	var numCnt, dtCnt, txtCnt int
	cats := map[string]int{}
	nums := make([]float64, len(raw))
	isNum := make([]bool, len(raw))
	for i, v := range raw {
		if isMissing(v) {
			continue
		}
		if x, ok := parseNumeric(v, opt); ok {
			numCnt++
			nums[i] = x
			isNum[i] = true
			continue
		}
		if _, ok := parseTimeMaybe(v); ok {
			dtCnt++
			continue
		}
		txtCnt++
		if len(cats) <= 10000 && len(v) <= 64 {
			cats[v]++
		}
	}
	kind := KindUnknown
	switch {
	case numCnt >= dtCnt && numCnt >= txtCnt && numCnt > 0:
		kind = KindNumeric
	case dtCnt >= txtCnt && dtCnt > 0:
		kind = KindDatetime
	case len(cats) > 0:
		kind = KindCategorical
	case txtCnt > 0:
		kind = KindText
	}
	vals := make([]Value, len(raw))
	for i, v := range raw {
		switch {
		case isMissing(v):
			vals[i] = NullValue()
		case kind == KindNumeric && isNum[i]:
			vals[i] = Num(nums[i])
		default:
			vals[i] = Str(v)
		}
	}
	return kind, vals
}

func isMissing(v string) bool {
	switch strings.ToLower(v) {
	case "", "na", "n/a", "nan", "null", "none", "#n/a":
		return true
	}
	return false
}

func sniffDelimiter(name string, raw []byte) rune {
	if strings.HasSuffix(strings.ToLower(name), ".tsv") {
		return '\t'
	}
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	best, bestN := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func parseTimeMaybe(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006",
		"2006-01-02 15:04", "2006-01-02 15:04:05", "1/2/2006 15:04", "1/2/2006 15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseNumber parses s as a number using auto-detected separators.
func ParseNumber(s string) (float64, bool) { return parseNumeric(s, LoadOptions{}) }

func parseNumeric(s string, opt LoadOptions) (float64, bool) {
	raw := strings.TrimSpace(s)
	raw = strings.ReplaceAll(raw, "\u00A0", " ")
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "%"))
	if raw == "" {
		return 0, false
	}
	dec := opt.DecimalSeparator
	thou := opt.ThousandsSeparator
	if dec == 0 {
		cpos := strings.LastIndex(raw, ",")
		dpos := strings.LastIndex(raw, ".")
		if cpos >= 0 && dpos >= 0 {
			if cpos > dpos {
				dec = ','
				thou = '.'
			} else {
				dec = '.'
				thou = ','
			}
		} else if cpos >= 0 {
			// a lone comma followed by exactly three digits is a thousands separator
			if len(raw)-cpos-1 == 3 && !strings.HasPrefix(raw, "0,") && !strings.HasPrefix(raw, "-0,") {
				dec = '.'
				thou = ','
			} else {
				dec = ','
			}
		} else {
			dec = '.'
		}
	}
	if thou == 0 {
		for _, sep := range []rune{',', '.', ' '} {
			if sep != dec {
				raw = strings.ReplaceAll(raw, string(sep), "")
			}
		}
	} else if thou != dec {
		raw = strings.ReplaceAll(raw, string(thou), "")
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

var unitPatterns = []struct {
	re   *regexp.Regexp
	pick int
}{
	{regexp.MustCompile(`^(.*)\s*\(([^)]+)\)\s*$`), 2},  // e.g., Alpha (%)
	{regexp.MustCompile(`^(.*)\s*\[([^\]]+)\]\s*$`), 2}, // e.g., Mass [mg/L]
	{regexp.MustCompile(`^(.*?)[_\s-]+(mg/L|g/L|ug/L|°[CF]|Brix|%|ppm|ppb|USD|EUR|kg|km)$`), 2},
}

func splitUnits(name string) (clean string, unit string) {
	s := strings.TrimSpace(name)
	for _, p := range unitPatterns {
		if m := p.re.FindStringSubmatch(s); len(m) >= 3 {
			base := strings.TrimSpace(m[1])
			u := strings.TrimSpace(m[p.pick])
			if base != "" && u != "" {
				return base, u
			}
		}
	}
	return s, ""
}
