package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
)

const salesCSV = "region,amount\nnorth,10\nsouth,20\nnorth,30\n"

// resetFlags restores every flag to its default so state does not leak
// between invocations of the shared root command.
func resetFlags(c *cobra.Command) {
	reset := func(fl *pflag.Flag) {
		if sv, ok := fl.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = fl.Value.Set(fl.DefValue)
		}
		fl.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCmd executes the root command with args and returns its output.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// isolate points HOME at a temp dir and clears provider credentials.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("CSVANALYST_BASE_URL", "")
	t.Setenv("CSVANALYST_DEFAULT_PROVIDER", "")
	return home
}

// fakeModel serves /chat/completions with the given replies in order.
func fakeModel(t *testing.T, replies ...string) *[]string {
	t.Helper()
	var (
		mu      sync.Mutex
		prompts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ai.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		defer mu.Unlock()
		if len(req.Messages) > 0 {
			prompts = append(prompts, req.Messages[0].Content)
		}
		if len(replies) == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		text := replies[0]
		replies = replies[1:]
		_ = json.NewEncoder(w).Encode(ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Role: "assistant", Content: text}}}})
	}))
	t.Cleanup(srv.Close)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CSVANALYST_BASE_URL", srv.URL)
	return &prompts
}

func writeCSV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sales.csv")
	if err := os.WriteFile(path, []byte(salesCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLI_AskQueryMode(t *testing.T) {
	home := isolate(t)
	prompts := fakeModel(t, "```python\ndf.groupby(\"region\")[\"amount\"].sum()\n```", "North sold 40 in total.")
	path := writeCSV(t, home)

	out, err := runCmd(t, "ask", path, "Total", "amount", "per", "region?")
	if err != nil {
		t.Fatalf("ask failed: %v\n%s", err, out)
	}
	for _, want := range []string{"✓ Loaded sales.csv (3 rows, 2 columns)", "Query: df.groupby(\"region\")", "north", "40", "Summary:\nNorth sold 40 in total."} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if len(*prompts) != 2 {
		t.Fatalf("expected synthesis and summary calls, got %d", len(*prompts))
	}
	if !strings.Contains((*prompts)[0], "Question: Total amount per region?") {
		t.Fatalf("question not in prompt:\n%s", (*prompts)[0])
	}
}

func TestCLI_AskEvaluationFailure(t *testing.T) {
	home := isolate(t)
	fakeModel(t, "df['missing'].sum()")
	path := writeCSV(t, home)

	out, err := runCmd(t, "ask", path, "Sum of missing?")
	if err == nil {
		t.Fatalf("expected failure, got output:\n%s", out)
	}
	if !strings.Contains(err.Error(), "Error evaluating generated code") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Query: df['missing'].sum()") {
		t.Fatalf("generated query should still be shown:\n%s", out)
	}
}

func TestCLI_AskDirectMode(t *testing.T) {
	home := isolate(t)
	prompts := fakeModel(t, "South has the single largest sale.")
	path := writeCSV(t, home)

	out, err := runCmd(t, "ask", path, "Which region stands out?", "--mode", "direct")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if !strings.Contains(out, "South has the single largest sale.") || strings.Contains(out, "Query:") {
		t.Fatalf("unexpected direct output:\n%s", out)
	}
	if len(*prompts) != 1 {
		t.Fatalf("direct mode makes one call, got %d", len(*prompts))
	}
}

func TestCLI_AskWritesChart(t *testing.T) {
	home := isolate(t)
	fakeModel(t, `df.groupby("region")["amount"].sum().plot(kind="bar")`, "Bars drawn.")
	path := writeCSV(t, home)
	svgPath := filepath.Join(home, "charts", "chart.svg")

	out, err := runCmd(t, "ask", path, "Plot amount by region", "--chart-out", svgPath)
	if err != nil {
		t.Fatalf("ask failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[chart] ") {
		t.Fatalf("chart not described:\n%s", out)
	}
	b, err := os.ReadFile(svgPath)
	if err != nil {
		t.Fatalf("chart not written: %v", err)
	}
	if !strings.HasPrefix(string(b), "<svg") {
		t.Fatalf("unexpected chart content: %.60s", b)
	}
}

func TestCLI_AskWithoutKey(t *testing.T) {
	home := isolate(t)
	path := writeCSV(t, home)

	_, err := runCmd(t, "ask", path, "anything")
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestCLI_AskDryRunMakesNoCall(t *testing.T) {
	home := isolate(t)
	path := writeCSV(t, home)

	out, err := runCmd(t, "ask", path, "Average amount?", "--dry-run")
	if err != nil {
		t.Fatalf("dry run should not need a key: %v", err)
	}
	for _, want := range []string{"Model: gpt-3.5-turbo (openai), mode: query", "Tokens: prompt≈", "Estimated max cost", "Question: Average amount?"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_AskRejectsUnknownMode(t *testing.T) {
	home := isolate(t)
	fakeModel(t)
	path := writeCSV(t, home)

	if _, err := runCmd(t, "ask", path, "q", "--mode", "magic"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestCLI_AnalyzeWritesProfile(t *testing.T) {
	home := isolate(t)
	path := writeCSV(t, home)
	outPath := filepath.Join(home, "profile.md")

	out, err := runCmd(t, "analyze", path, "-o", outPath, "--group-by", "region")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if !strings.Contains(out, "✓ Wrote analysis") {
		t.Fatalf("unexpected output: %s", out)
	}
	b, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "amount") || !strings.Contains(string(b), "north") {
		t.Fatalf("profile missing column details:\n%s", b)
	}
}

func TestCLI_ConfigSetAndShow(t *testing.T) {
	home := isolate(t)

	if _, err := runCmd(t, "config", "set", "sample_rows", "7"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".csvanalyst", "config.yaml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := runCmd(t, "config", "set", "api_key", "sk-abcdef123456"); err != nil {
		t.Fatalf("config set api_key: %v", err)
	}

	out, err := runCmd(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "sample_rows: 7") {
		t.Fatalf("saved value not shown:\n%s", out)
	}
	if strings.Contains(out, "sk-abcdef123456") || !strings.Contains(out, "api_key: sk-****456") {
		t.Fatalf("api key should be masked:\n%s", out)
	}
}

func TestCLI_ConfigSetRejectsBadValues(t *testing.T) {
	isolate(t)
	for _, args := range [][]string{
		{"config", "set", "no_such_key", "1"},
		{"config", "set", "sample_rows", "many"},
		{"config", "set", "sample_rows", "0"},
		{"config", "set", "default_provider", "acme"},
	} {
		if _, err := runCmd(t, args...); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestCLI_ProviderFlagSelectsModel(t *testing.T) {
	isolate(t)

	if _, err := runCmd(t, "--provider", "ollama", "config", "show"); err != nil {
		t.Fatal(err)
	}
	if cfg == nil || cfg.DefaultProvider != ai.ProviderOllama || cfg.DefaultModel != "llama3.1:8b" {
		t.Fatalf("unexpected provider/model: %+v", cfg)
	}
}

func TestCLI_ModelsRecommendAndPreset(t *testing.T) {
	home := isolate(t)

	out, err := runCmd(t, "models", "recommend", "--tier", "code")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "gpt-4o" {
		t.Fatalf("unexpected recommendation %q", out)
	}

	out, err = runCmd(t, "models", "fetch", "--preset", "ollama", "--merge", "--save")
	if err != nil {
		t.Fatalf("fetch preset: %v", err)
	}
	if !strings.Contains(out, "✓ Saved catalog") {
		t.Fatalf("unexpected output: %s", out)
	}
	m, err := ai.LoadCatalogFromJSON(filepath.Join(home, ".csvanalyst", "models.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m["qwen2.5-coder:7b"]; !ok {
		t.Fatalf("saved catalog missing preset models")
	}
}
