package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
	cfgpkg "github.com/KaramelBytes/csv-analyst/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set CSV Analyst configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if cfg == nil {
			fmt.Fprintln(out, "No config loaded")
			return nil
		}
		key, src := cfg.Credentials()
		if src != "" && src != "api_key" {
			fmt.Fprintf(out, "api_key: %s (from %s)\n", mask(key), src)
		} else {
			fmt.Fprintf(out, "api_key: %s\n", mask(key))
		}
		fmt.Fprintf(out, "default_provider: %s\n", cfg.DefaultProvider)
		fmt.Fprintf(out, "default_model: %s\n", cfg.DefaultModel)
		if cfg.BaseURL != "" {
			fmt.Fprintf(out, "base_url: %s\n", cfg.BaseURL)
		}
		fmt.Fprintf(out, "temperature: %.3f\n", cfg.Temperature)
		fmt.Fprintf(out, "max_tokens: %d\n", cfg.MaxTokens)
		fmt.Fprintf(out, "sample_rows: %d\n", cfg.SampleRows)
		fmt.Fprintf(out, "summary_rows: %d\n", cfg.SummaryRows)
		fmt.Fprintf(out, "summary_max_tokens: %d\n", cfg.SummaryMaxTokens)
		fmt.Fprintf(out, "display_max_rows: %d\n", cfg.DisplayMaxRows)
		fmt.Fprintf(out, "max_upload_mb: %d\n", cfg.MaxUploadMB)
		fmt.Fprintf(out, "max_rows: %d\n", cfg.MaxRows)
		fmt.Fprintf(out, "http_addr: %s\n", cfg.HTTPAddr)
		fmt.Fprintf(out, "session_ttl_min: %d\n", cfg.SessionTTLMin)
		fmt.Fprintf(out, "ask_rate_per_min: %d\n", cfg.AskRatePerMin)
		fmt.Fprintf(out, "ask_burst: %d\n", cfg.AskBurst)
		fmt.Fprintf(out, "log_level: %s\n", cfg.LogLevel)
		fmt.Fprintf(out, "log_json: %t\n", cfg.LogJSON)
		if cfg.ModelsCatalog != "" {
			fmt.Fprintf(out, "models_catalog: %s\n", cfg.ModelsCatalog)
		}
		fmt.Fprintf(out, "http_timeout_sec: %d\n", cfg.HTTPTimeoutSec)
		fmt.Fprintf(out, "retry_max_attempts: %d\n", cfg.RetryMaxAttempts)
		fmt.Fprintf(out, "retry_base_delay_ms: %d\n", cfg.RetryBaseDelayMs)
		fmt.Fprintf(out, "retry_max_delay_ms: %d\n", cfg.RetryMaxDelayMs)
		if cfg.DefaultProvider == ai.ProviderOllama {
			fmt.Fprintf(out, "ollama_host: %s\n", cfg.OllamaHost)
			fmt.Fprintf(out, "ollama_timeout_sec: %d\n", cfg.OllamaTimeoutSec)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		if err := setConfigValue(cfg, key, val); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func setConfigValue(c *cfgpkg.Global, key, val string) error {
	intVal := func() (int, error) {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("invalid int for %s: %v", key, val)
		}
		return i, nil
	}
	var err error
	switch key {
	case "api_key":
		c.APIKey = val
	case "default_provider":
		switch strings.ToLower(val) {
		case "openai":
			c.DefaultProvider = ai.ProviderOpenAI
		case "openrouter":
			c.DefaultProvider = ai.ProviderOpenRouter
		case "ollama", "local":
			c.DefaultProvider = ai.ProviderOllama
		default:
			return fmt.Errorf("invalid default_provider: %s (use openai, openrouter or ollama)", val)
		}
	case "default_model":
		c.DefaultModel = val
	case "base_url":
		c.BaseURL = val
	case "models_catalog":
		c.ModelsCatalog = val
	case "http_addr":
		c.HTTPAddr = val
	case "log_level":
		c.LogLevel = val
	case "ollama_host":
		c.OllamaHost = val
	case "log_json":
		b, perr := strconv.ParseBool(val)
		if perr != nil {
			return fmt.Errorf("invalid bool for log_json: %v", val)
		}
		c.LogJSON = b
	case "temperature":
		f, perr := strconv.ParseFloat(val, 64)
		if perr != nil {
			return fmt.Errorf("invalid float for temperature: %w", perr)
		}
		c.Temperature = f
	case "max_tokens":
		c.MaxTokens, err = intVal()
	case "sample_rows":
		c.SampleRows, err = intVal()
	case "summary_rows":
		c.SummaryRows, err = intVal()
	case "summary_max_tokens":
		c.SummaryMaxTokens, err = intVal()
	case "display_max_rows":
		c.DisplayMaxRows, err = intVal()
	case "max_upload_mb":
		c.MaxUploadMB, err = intVal()
	case "max_rows":
		c.MaxRows, err = intVal()
	case "session_ttl_min":
		c.SessionTTLMin, err = intVal()
	case "ask_rate_per_min":
		c.AskRatePerMin, err = intVal()
	case "ask_burst":
		c.AskBurst, err = intVal()
	case "http_timeout_sec":
		c.HTTPTimeoutSec, err = intVal()
	case "retry_max_attempts":
		c.RetryMaxAttempts, err = intVal()
	case "retry_base_delay_ms":
		c.RetryBaseDelayMs, err = intVal()
	case "retry_max_delay_ms":
		c.RetryMaxDelayMs, err = intVal()
	case "ollama_timeout_sec":
		c.OllamaTimeoutSec, err = intVal()
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return err
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
