package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
	cfgpkg "github.com/KaramelBytes/csv-analyst/internal/config"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect or update the model catalog (context windows and pricing)",
	Example: `  csvanalyst models show
  csvanalyst models recommend --provider ollama --tier code
  csvanalyst models fetch --preset openrouter --merge
  csvanalyst models sync --file ./models.json --merge --save
  csvanalyst models fetch --url https://example.com/models.json --save`,
}

var modelsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := ai.Catalog()
		keys := make([]string, 0, len(cat))
		for k := range cat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-36s %10s %10s %10s\n", "MODEL", "CONTEXT", "IN/1K", "OUT/1K")
		for _, k := range keys {
			mi := cat[k]
			fmt.Fprintf(out, "%-36s %10d %10.5f %10.5f\n", k, mi.ContextTokens, mi.InputPerK, mi.OutputPerK)
		}
		return nil
	},
}

var recTier string

var modelsRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Suggest a model for a provider and tier (cheap | balanced | code)",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := ""
		if cfg != nil {
			provider = cfg.DefaultProvider
		}
		name, ok := ai.RecommendModel(provider, recTier)
		if !ok {
			return fmt.Errorf("no recommendation for provider %q tier %q", provider, recTier)
		}
		fmt.Fprintln(cmd.OutOrStdout(), name)
		return nil
	},
}

var (
	syncPath  string
	syncMerge bool
	syncSave  bool
)

var modelsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load model catalog/pricing from a JSON or YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncPath == "" {
			return fmt.Errorf("--file is required")
		}
		m, err := ai.LoadCatalogFromJSON(syncPath)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		return applyCatalog(cmd, m, syncMerge, syncSave)
	},
}

var (
	fetchURL    string
	fetchMerge  bool
	fetchSave   bool
	fetchPreset string
)

var modelsFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch model catalog JSON from a URL, or apply a built-in provider preset",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fetchURL == "" && fetchPreset != "" {
			preset, ok := ai.PresetCatalog(fetchPreset)
			if !ok {
				return fmt.Errorf("unknown --preset: %s (try %v)", fetchPreset, ai.Providers())
			}
			return applyCatalog(cmd, preset, fetchMerge, fetchSave)
		}
		if fetchURL == "" {
			return fmt.Errorf("--url is required (or specify --preset with a known provider)")
		}
		m, err := fetchCatalog(fetchURL)
		if err != nil {
			return err
		}
		return applyCatalog(cmd, m, fetchMerge, fetchSave)
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsShowCmd)
	modelsCmd.AddCommand(modelsRecommendCmd)
	modelsCmd.AddCommand(modelsSyncCmd)
	modelsCmd.AddCommand(modelsFetchCmd)

	modelsRecommendCmd.Flags().StringVar(&recTier, "tier", "balanced", "cheap | balanced | code")

	modelsSyncCmd.Flags().StringVar(&syncPath, "file", "", "path to JSON or YAML catalog file")
	modelsSyncCmd.Flags().BoolVar(&syncMerge, "merge", false, "merge into existing catalog instead of replacing")
	modelsSyncCmd.Flags().BoolVar(&syncSave, "save", false, "persist the resulting catalog to ~/.csvanalyst/models.json")

	modelsFetchCmd.Flags().StringVar(&fetchURL, "url", "", "URL to JSON catalog file")
	modelsFetchCmd.Flags().BoolVar(&fetchMerge, "merge", false, "merge into existing catalog instead of replacing")
	modelsFetchCmd.Flags().BoolVar(&fetchSave, "save", false, "persist the resulting catalog to ~/.csvanalyst/models.json")
	modelsFetchCmd.Flags().StringVar(&fetchPreset, "preset", "", "built-in provider preset to apply when --url is not set")
}

// fetchCatalog downloads a JSON catalog.
func fetchCatalog(url string) (map[string]ai.ModelInfo, error) {
	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("fetch: unexpected status %s: %s", resp.Status, string(b))
	}
	var m map[string]ai.ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return m, nil
}

func applyCatalog(cmd *cobra.Command, m map[string]ai.ModelInfo, merge, save bool) error {
	out := cmd.OutOrStdout()
	if merge {
		ai.MergeCatalog(m)
		fmt.Fprintf(out, "✓ Merged %d models into catalog\n", len(m))
	} else {
		ai.OverrideCatalog(m)
		fmt.Fprintf(out, "✓ Replaced catalog with %d models\n", len(m))
	}
	if !save {
		return nil
	}
	dir, err := cfgpkg.Dir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "models.json")
	if err := ai.SaveCatalog(path); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	fmt.Fprintf(out, "✓ Saved catalog to %s\n", path)
	return nil
}
