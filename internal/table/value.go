package table

import (
	"math"
	"strconv"
	"strings"
)

// ValueType distinguishes the representations a cell can take.
type ValueType uint8

const (
	Null ValueType = iota
	Number
	String
)

// Value is a single cell. The zero Value is null.
type Value struct {
	Type ValueType
	Num  float64
	Str  string
}

// Num returns a numeric value. NaN is stored as null.
func Num(f float64) Value {
	if math.IsNaN(f) {
		return Value{}
	}
	return Value{Type: Number, Num: f}
}

// Str returns a text value.
func Str(s string) Value { return Value{Type: String, Str: s} }

// NullValue returns the null value.
func NullValue() Value { return Value{} }

func (v Value) IsNull() bool   { return v.Type == Null }
func (v Value) IsNumber() bool { return v.Type == Number }

// Float reports the numeric value of v, if any.
func (v Value) Float() (float64, bool) {
	if v.Type != Number {
		return 0, false
	}
	return v.Num, true
}

func (v Value) String() string {
	switch v.Type {
	case Number:
		return FormatNumber(v.Num)
	case String:
		return v.Str
	default:
		return ""
	}
}

// FormatNumber renders integral values without a fractional part and
// everything else with up to 12 significant digits.
func FormatNumber(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'g', 12, 64)
}

// Equal compares by type and content. Nulls are never equal to anything,
// including other nulls.
func (v Value) Equal(o Value) bool {
	if v.Type == Null || o.Type == Null {
		return false
	}
	if v.Type == Number && o.Type == Number {
		return v.Num == o.Num
	}
	if v.Type == String && o.Type == String {
		return v.Str == o.Str
	}
	// number vs text: compare the text form so "10" matches 10
	return v.String() == o.String()
}

// Same is like Equal but treats two nulls as identical. Used for grouping
// and table comparison.
func (v Value) Same(o Value) bool {
	if v.Type == Null && o.Type == Null {
		return true
	}
	return v.Equal(o)
}

// Compare orders values: numbers before text, nulls last.
func Compare(a, b Value) int {
	if a.Type == Null || b.Type == Null {
		switch {
		case a.Type == Null && b.Type == Null:
			return 0
		case a.Type == Null:
			return 1
		default:
			return -1
		}
	}
	if a.Type == Number && b.Type == Number {
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	}
	if a.Type == Number {
		return -1
	}
	if b.Type == Number {
		return 1
	}
	return strings.Compare(a.Str, b.Str)
}
