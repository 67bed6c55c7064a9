package utils_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/csv-analyst/internal/utils"
)

func TestCountTokens(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"short", "hi", 1},
		{"simple", "hello world", 2},
		{"long", strings.Repeat("a", 4000), 1000},
	}
	for _, c := range cases {
		if got := utils.CountTokens(c.in); got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, got, c.want)
		}
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	text := strings.Repeat("row 1234567\n", 500)
	trunc := utils.TruncateToTokenLimit(text, 300)
	if n := utils.CountTokens(trunc); n > 300 || n == 0 {
		t.Fatalf("tokens=%d outside (0, 300]", n)
	}
	if !strings.HasSuffix(trunc, "row 1234567") {
		t.Fatalf("expected a cut on a line boundary, got tail %q", trunc[len(trunc)-12:])
	}
	if utils.TruncateToTokenLimit("short", 10) != "short" {
		t.Fatalf("short text must be unchanged")
	}
}

func TestTruncateLines(t *testing.T) {
	out, cut := utils.TruncateLines("a\nb\nc", 2)
	if out != "a\nb" || !cut {
		t.Fatalf("got %q %v", out, cut)
	}
	out, cut = utils.TruncateLines("a\nb", 2)
	if out != "a\nb" || cut {
		t.Fatalf("got %q %v", out, cut)
	}
}

func TestSafeWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := utils.SafeWriteFile(path, []byte("a: 1\n"), 0o600); err != nil {
		t.Fatalf("SafeWriteFile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "a: 1\n" {
		t.Fatalf("unexpected content %q %v", b, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}
