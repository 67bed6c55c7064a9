package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
	"github.com/KaramelBytes/csv-analyst/internal/utils"
)

// DirName is the per-user configuration directory under $HOME.
const DirName = ".csvanalyst"

// Environment variables consulted for the API key, in order, before the
// api_key setting.
var apiKeyEnv = []string{"OPENAI_API_KEY", "OPENROUTER_API_KEY"}

// Global configuration structure.
type Global struct {
	APIKey          string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	DefaultProvider string  `mapstructure:"default_provider" yaml:"default_provider,omitempty"`
	DefaultModel    string  `mapstructure:"default_model" yaml:"default_model,omitempty"`
	BaseURL         string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`

	// Prompt and display sizing
	SampleRows       int `mapstructure:"sample_rows" yaml:"sample_rows"`
	SummaryRows      int `mapstructure:"summary_rows" yaml:"summary_rows"`
	SummaryMaxTokens int `mapstructure:"summary_max_tokens" yaml:"summary_max_tokens"`
	DisplayMaxRows   int `mapstructure:"display_max_rows" yaml:"display_max_rows"`

	// Loading limits
	MaxUploadMB int `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	MaxRows     int `mapstructure:"max_rows" yaml:"max_rows"`

	// Web server
	HTTPAddr      string `mapstructure:"http_addr" yaml:"http_addr"`
	SessionTTLMin int    `mapstructure:"session_ttl_min" yaml:"session_ttl_min"`
	AskRatePerMin int    `mapstructure:"ask_rate_per_min" yaml:"ask_rate_per_min"`
	AskBurst      int    `mapstructure:"ask_burst" yaml:"ask_burst"`

	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" yaml:"log_json"`

	// Model catalog override file (JSON or YAML)
	ModelsCatalog string `mapstructure:"models_catalog" yaml:"models_catalog,omitempty"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Local runtimes (Ollama)
	OllamaHost       string `mapstructure:"ollama_host" yaml:"ollama_host"`
	OllamaTimeoutSec int    `mapstructure:"ollama_timeout_sec" yaml:"ollama_timeout_sec"`
}

// Dir returns ~/.csvanalyst.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("temperature", 0.2)
	v.SetDefault("max_tokens", 0)
	v.SetDefault("sample_rows", 5)
	v.SetDefault("summary_rows", 20)
	v.SetDefault("summary_max_tokens", 1000)
	v.SetDefault("display_max_rows", 200)
	v.SetDefault("max_upload_mb", 10)
	v.SetDefault("max_rows", 100000)
	v.SetDefault("http_addr", "127.0.0.1:8501")
	v.SetDefault("session_ttl_min", 60)
	v.SetDefault("ask_rate_per_min", 30)
	v.SetDefault("ask_burst", 5)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 1)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("ollama_host", ai.DefaultOllamaHost)
	v.SetDefault("ollama_timeout_sec", 120)
}

// Load reads configuration. Precedence: env (CSVANALYST_*) > config file >
// defaults; command flags are applied by the caller. A .env file in the
// working directory is loaded first and never overrides variables that are
// already set.
func Load(cfgFile string) (*Global, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CSVANALYST")
	v.AutomaticEnv()
	setDefaults(v)
	// keys without defaults are invisible to Unmarshal unless bound
	for _, k := range []string{"api_key", "default_provider", "default_model", "base_url", "models_catalog"} {
		_ = v.BindEnv(k)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.resolveProvider()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolveProvider fills provider and model defaults. A key supplied only
// through OPENROUTER_API_KEY selects OpenRouter.
func (c *Global) resolveProvider() {
	if c.DefaultProvider == "" {
		c.DefaultProvider = ai.ProviderOpenAI
		if _, src := c.Credentials(); src == "OPENROUTER_API_KEY" {
			c.DefaultProvider = ai.ProviderOpenRouter
		}
	}
	if c.DefaultModel == "" {
		switch c.DefaultProvider {
		case ai.ProviderOpenRouter:
			c.DefaultModel = "openai/gpt-3.5-turbo"
		case ai.ProviderOllama:
			c.DefaultModel = "llama3.1:8b"
		default:
			c.DefaultModel = "gpt-3.5-turbo"
		}
	}
}

// Validate checks value ranges.
func (c *Global) Validate() error {
	switch c.DefaultProvider {
	case ai.ProviderOpenAI, ai.ProviderOpenRouter, ai.ProviderOllama:
	default:
		return fmt.Errorf("invalid default_provider %q (use openai, openrouter or ollama)", c.DefaultProvider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	}
	for name, n := range map[string]int{
		"sample_rows":        c.SampleRows,
		"summary_rows":       c.SummaryRows,
		"summary_max_tokens": c.SummaryMaxTokens,
		"display_max_rows":   c.DisplayMaxRows,
		"max_upload_mb":      c.MaxUploadMB,
		"max_rows":           c.MaxRows,
		"retry_max_attempts": c.RetryMaxAttempts,
	} {
		if n < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, n)
		}
	}
	return nil
}

// Credentials returns the API key and where it came from: OPENAI_API_KEY,
// then OPENROUTER_API_KEY, then the api_key setting.
func (c *Global) Credentials() (key, source string) {
	for _, name := range apiKeyEnv {
		if v := os.Getenv(name); v != "" {
			return v, name
		}
	}
	if c.APIKey != "" {
		return c.APIKey, "api_key"
	}
	return "", ""
}

// RuntimeConfig maps the settings onto ai.RuntimeConfig for the default
// provider.
func (c *Global) RuntimeConfig() ai.RuntimeConfig {
	key, _ := c.Credentials()
	rc := ai.RuntimeConfig{
		APIKey:      key,
		BaseURL:     c.BaseURL,
		HTTPTimeout: time.Duration(c.HTTPTimeoutSec) * time.Second,
		RetryMax:    c.RetryMaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
		Host:        c.OllamaHost,
	}
	if c.DefaultProvider == ai.ProviderOllama {
		rc.HTTPTimeout = time.Duration(c.OllamaTimeoutSec) * time.Second
	}
	return rc
}

// SessionTTL returns the idle expiry for web sessions.
func (c *Global) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMin) * time.Minute
}

// MaxUploadBytes returns the upload size limit.
func (c *Global) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

// Save writes c as YAML to cfgFile, or to ~/.csvanalyst/config.yaml.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
