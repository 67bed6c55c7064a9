package ai

// PresetCatalog returns a curated built-in catalog for a known provider.
func PresetCatalog(provider string) (map[string]ModelInfo, bool) {
	switch provider {
	case ProviderOpenAI:
		return map[string]ModelInfo{
			"gpt-3.5-turbo": {Name: "gpt-3.5-turbo", ContextTokens: 16385, InputPerK: 0.0005, OutputPerK: 0.0015},
			"gpt-4o-mini":   {Name: "gpt-4o-mini", ContextTokens: 128000, InputPerK: 0.00015, OutputPerK: 0.0006},
			"gpt-4o":        {Name: "gpt-4o", ContextTokens: 128000, InputPerK: 0.0025, OutputPerK: 0.01},
			"gpt-4.1-mini":  {Name: "gpt-4.1-mini", ContextTokens: 1047576, InputPerK: 0.0004, OutputPerK: 0.0016},
		}, true
	case ProviderOpenRouter:
		return map[string]ModelInfo{
			"openai/gpt-3.5-turbo":             {Name: "openai/gpt-3.5-turbo", ContextTokens: 16385, InputPerK: 0.0005, OutputPerK: 0.0015},
			"openai/gpt-4o-mini":               {Name: "openai/gpt-4o-mini", ContextTokens: 128000, InputPerK: 0.00015, OutputPerK: 0.0006},
			"anthropic/claude-3.5-sonnet":      {Name: "anthropic/claude-3.5-sonnet", ContextTokens: 200000, InputPerK: 0.003, OutputPerK: 0.015},
			"meta-llama/llama-3.1-8b-instruct": {Name: "meta-llama/llama-3.1-8b-instruct", ContextTokens: 131072},
			"deepseek/deepseek-r1:free":        {Name: "deepseek/deepseek-r1:free", ContextTokens: 128000},
		}, true
	case ProviderOllama:
		return map[string]ModelInfo{
			"llama3.1:8b":        {Name: "llama3.1:8b", ContextTokens: 8192},
			"qwen2.5-coder:7b":   {Name: "qwen2.5-coder:7b", ContextTokens: 32768},
			"mistral:7b":         {Name: "mistral:7b", ContextTokens: 8192},
			"phi3:mini-4k":       {Name: "phi3:mini-4k", ContextTokens: 4096},
			"codellama:7b-instr": {Name: "codellama:7b-instr", ContextTokens: 16384},
		}, true
	}
	return nil, false
}

// RecommendModel returns a suggested model for a provider and tier
// (cheap, balanced or code). An empty provider means openai.
func RecommendModel(provider, tier string) (string, bool) {
	if provider == "" {
		provider = ProviderOpenAI
	}
	picks := map[string]map[string]string{
		ProviderOpenAI: {
			"cheap":    "gpt-3.5-turbo",
			"balanced": "gpt-4o-mini",
			"code":     "gpt-4o",
		},
		ProviderOpenRouter: {
			"cheap":    "deepseek/deepseek-r1:free",
			"balanced": "openai/gpt-4o-mini",
			"code":     "anthropic/claude-3.5-sonnet",
		},
		ProviderOllama: {
			"cheap":    "phi3:mini-4k",
			"balanced": "llama3.1:8b",
			"code":     "qwen2.5-coder:7b",
		},
	}
	name, ok := picks[provider][tier]
	return name, ok
}
