package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
	"github.com/KaramelBytes/csv-analyst/internal/analyst"
	cfgpkg "github.com/KaramelBytes/csv-analyst/internal/config"
	"github.com/KaramelBytes/csv-analyst/internal/observability"
	"github.com/KaramelBytes/csv-analyst/internal/table"
	"github.com/KaramelBytes/csv-analyst/internal/utils"
)

var (
	cfgFile string
	debug   bool
	// Retry/HTTP flags (override config if set)
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int
	// Model selection (override config if set)
	flagProvider string
	flagModel    string

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "csvanalyst",
	Short: "CSV Analyst: ask questions about a table in plain language",
	Long: `CSV Analyst loads a CSV/TSV/XLSX table and answers questions about it with a language model.
In query mode the model writes a one-line query that is run against the table and the result is summarised;
in direct mode the model answers from a few sample rows. Run "csvanalyst serve" for the browser UI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called by main.main(). Interrupts cancel the
// command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.csvanalyst/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max attempts per model call on 429/5xx (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "model provider: openai | openrouter | ollama (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "model name (overrides config)")
}

func loadConfig() {
	cfg = nil
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c

	// Apply CLI overrides if provided
	f := rootCmd.PersistentFlags()
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
		cfg.OllamaTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
	if f.Changed("provider") && flagProvider != "" {
		cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(flagProvider))
		if !f.Changed("model") {
			// the configured model belongs to the configured provider
			cfg.DefaultModel = ""
		}
	}
	if f.Changed("model") && flagModel != "" {
		cfg.DefaultModel = flagModel
	}
	if cfg.DefaultModel == "" {
		if m, ok := ai.RecommendModel(cfg.DefaultProvider, "balanced"); ok {
			cfg.DefaultModel = m
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: invalid flags: %v\n", err)
		cfg = nil
		return
	}

	if err := applyCatalogFile(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: model catalog not applied: %v\n", err)
	}
}

// applyCatalogFile merges models_catalog, or ~/.csvanalyst/models.json when
// it exists, into the in-memory catalog.
func applyCatalogFile() error {
	path := utils.ExpandHome(cfg.ModelsCatalog)
	if path == "" {
		dir, err := cfgpkg.Dir()
		if err != nil {
			return nil
		}
		path = filepath.Join(dir, "models.json")
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	m, err := ai.LoadCatalogFromJSON(path)
	if err != nil {
		return err
	}
	ai.MergeCatalog(m)
	return nil
}

func requireConfig() (*cfgpkg.Global, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded (see the warning above)")
	}
	return cfg, nil
}

func newLogger(c *cfgpkg.Global) *slog.Logger {
	level := c.LogLevel
	if debug {
		level = "debug"
	}
	return observability.NewLogger(level, c.LogJSON, os.Stderr)
}

// newAnalyst builds the analyst for the configured provider and model. A
// hosted provider without an API key is an error here rather than on the
// first question.
func newAnalyst(c *cfgpkg.Global, logger *slog.Logger) (*analyst.Analyst, error) {
	if c.DefaultProvider != ai.ProviderOllama {
		if key, _ := c.Credentials(); key == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY (or OPENROUTER_API_KEY), or run 'csvanalyst config set api_key <key>'", ai.ErrMissingAPIKey)
		}
	}
	rt, err := ai.NewRuntime(c.DefaultProvider, c.RuntimeConfig())
	if err != nil {
		return nil, err
	}
	a := analyst.New(rt, c.DefaultModel)
	a.Temperature = c.Temperature
	a.MaxTokens = c.MaxTokens
	a.SampleRows = c.SampleRows
	a.SummaryRows = c.SummaryRows
	a.SummaryMaxTokens = c.SummaryMaxTokens
	if logger != nil {
		a.Logger = logger
	}
	return a, nil
}

var (
	loadDelimiter string
	loadSheetName string
	loadSheetIdx  int
)

// addLoadFlags registers the table loading flags shared by file commands.
func addLoadFlags(c *cobra.Command) {
	c.Flags().StringVar(&loadDelimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' (sniffed if omitted)")
	c.Flags().StringVar(&loadSheetName, "sheet-name", "", "XLSX: sheet name to load")
	c.Flags().IntVar(&loadSheetIdx, "sheet-index", 1, "XLSX: 1-based sheet index (used if --sheet-name not provided)")
}

func loadTable(c *cfgpkg.Global, path string) (*table.Table, error) {
	opt := table.DefaultLoadOptions()
	if c != nil {
		opt.MaxRows = c.MaxRows
	}
	switch loadDelimiter {
	case "":
	case ",":
		opt.Delimiter = ','
	case ";":
		opt.Delimiter = ';'
	case "\t", "tab":
		opt.Delimiter = '\t'
	default:
		return nil, fmt.Errorf("unsupported --delimiter: %s", loadDelimiter)
	}
	opt.Sheet = loadSheetName
	if loadSheetIdx > 0 {
		opt.SheetIndex = loadSheetIdx
	}
	return table.LoadFile(utils.ExpandHome(path), opt)
}
