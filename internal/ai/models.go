package ai

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/csv-analyst/internal/utils"
)

// ModelInfo carries the context window and pricing used for prompt sizing
// and cost hints. Prices are USD per 1K tokens and are indicative only.
type ModelInfo struct {
	Name          string  `json:"name" yaml:"name"`
	ContextTokens int     `json:"context_tokens" yaml:"context_tokens"`
	InputPerK     float64 `json:"input_per_k" yaml:"input_per_k"`
	OutputPerK    float64 `json:"output_per_k" yaml:"output_per_k"`
}

var (
	catalogMu sync.RWMutex
	models    = defaultCatalog()
)

func defaultCatalog() map[string]ModelInfo {
	out := map[string]ModelInfo{}
	for _, p := range []string{ProviderOpenAI, ProviderOpenRouter, ProviderOllama} {
		preset, _ := PresetCatalog(p)
		for k, v := range preset {
			out[k] = v
		}
	}
	return out
}

// LookupModel returns the catalog entry for name.
func LookupModel(name string) (ModelInfo, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	mi, ok := models[name]
	return mi, ok
}

// ContextWindow returns the model's context size, or def when unknown.
func ContextWindow(model string, def int) int {
	if mi, ok := LookupModel(model); ok && mi.ContextTokens > 0 {
		return mi.ContextTokens
	}
	return def
}

// EstimateCostUSD estimates the cost of a call. Unknown models report
// ok=false.
func EstimateCostUSD(model string, promptTokens, completionTokens int) (float64, bool) {
	mi, ok := LookupModel(model)
	if !ok {
		return 0, false
	}
	in := float64(promptTokens) / 1000 * mi.InputPerK
	out := float64(completionTokens) / 1000 * mi.OutputPerK
	return in + out, true
}

// LoadCatalogFromJSON loads a map of model name to ModelInfo, e.g.
//
//	{"gpt-4o-mini": {"name": "gpt-4o-mini", "context_tokens": 128000, "input_per_k": 0.00015, "output_per_k": 0.0006}}
//
// Files ending in .yaml or .yml are read as YAML with the same keys.
func LoadCatalogFromJSON(path string) (map[string]ModelInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]ModelInfo
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	default:
		err = json.Unmarshal(b, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for k, v := range m {
		if v.Name == "" {
			v.Name = k
			m[k] = v
		}
	}
	return m, nil
}

// SaveCatalog writes the current catalog as indented JSON.
func SaveCatalog(path string) error {
	data, err := utils.PrettyJSON(Catalog())
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(path, data, 0o644)
}

// OverrideCatalog replaces the in-memory catalog entirely.
func OverrideCatalog(m map[string]ModelInfo) {
	if m == nil {
		return
	}
	catalogMu.Lock()
	defer catalogMu.Unlock()
	models = make(map[string]ModelInfo, len(m))
	for k, v := range m {
		models[k] = v
	}
}

// MergeCatalog adds or replaces entries in the in-memory catalog.
func MergeCatalog(m map[string]ModelInfo) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	for k, v := range m {
		models[k] = v
	}
}

// Catalog returns a copy of the current model catalog.
func Catalog() map[string]ModelInfo {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	out := make(map[string]ModelInfo, len(models))
	for k, v := range models {
		out[k] = v
	}
	return out
}
