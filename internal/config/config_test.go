package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points HOME at a temp dir and clears key variables so the
// developer's environment cannot leak into the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"OPENAI_API_KEY", "OPENROUTER_API_KEY", "CSVANALYST_API_KEY", "CSVANALYST_DEFAULT_PROVIDER", "CSVANALYST_SAMPLE_ROWS"} {
		t.Setenv(k, "")
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(home); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DefaultProvider != "openai" || c.DefaultModel != "gpt-3.5-turbo" {
		t.Fatalf("unexpected provider/model: %s %s", c.DefaultProvider, c.DefaultModel)
	}
	if c.Temperature != 0.2 || c.SampleRows != 5 || c.SummaryMaxTokens != 1000 || c.RetryMaxAttempts != 1 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.MaxUploadBytes() != 10<<20 || c.SessionTTL() != time.Hour {
		t.Fatalf("unexpected derived limits")
	}
}

func TestCredentialPrecedence(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "cfg.yaml")
	if err := os.WriteFile(path, []byte("api_key: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if key, src := c.Credentials(); key != "from-file" || src != "api_key" {
		t.Fatalf("got %q from %q", key, src)
	}

	t.Setenv("OPENROUTER_API_KEY", "or-key")
	c, _ = Load(path)
	if key, src := c.Credentials(); key != "or-key" || src != "OPENROUTER_API_KEY" {
		t.Fatalf("got %q from %q", key, src)
	}
	if c.DefaultProvider != "openrouter" || c.DefaultModel != "openai/gpt-3.5-turbo" {
		t.Fatalf("OpenRouter key should select OpenRouter, got %s %s", c.DefaultProvider, c.DefaultModel)
	}

	t.Setenv("OPENAI_API_KEY", "oa-key")
	c, _ = Load(path)
	if key, _ := c.Credentials(); key != "oa-key" {
		t.Fatalf("OPENAI_API_KEY should win, got %q", key)
	}
	if rc := c.RuntimeConfig(); rc.APIKey != "oa-key" || rc.RetryMax != 1 {
		t.Fatalf("unexpected runtime config %+v", rc)
	}
}

func TestDotEnvAndEnvOverride(t *testing.T) {
	home := isolate(t)
	if err := os.WriteFile(filepath.Join(home, ".env"), []byte("OPENAI_API_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// t.Setenv("X", "") leaves X set, so godotenv must not replace it
	os.Unsetenv("OPENAI_API_KEY")
	t.Cleanup(func() { os.Unsetenv("OPENAI_API_KEY") })
	t.Setenv("CSVANALYST_SAMPLE_ROWS", "8")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if key, src := c.Credentials(); key != "from-dotenv" || src != "OPENAI_API_KEY" {
		t.Fatalf("got %q from %q", key, src)
	}
	if c.SampleRows != 8 {
		t.Fatalf("env override ignored: sample_rows=%d", c.SampleRows)
	}
}

func TestValidateAndSave(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "bad.yaml")
	if err := os.WriteFile(path, []byte("temperature: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected temperature validation error")
	}

	c, err := Load(filepath.Join(home, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing explicit file should fall back to defaults: %v", err)
	}
	c.DefaultModel = "gpt-4o-mini"
	out := filepath.Join(home, "saved", "config.yaml")
	if err := Save(c, out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := Load(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if back.DefaultModel != "gpt-4o-mini" {
		t.Fatalf("saved model lost: %s", back.DefaultModel)
	}
}
