package llm

// ModelInfo describes a single model offered by a provider.
type ModelInfo struct {
	ID            string `json:"id"`
	DisplayName   string `json:"name"`
	Description   string `json:"description,omitempty"`
	ContextLength int    `json:"context_length"`
}

// ProviderInfo describes a supported LLM provider and its models.
type ProviderInfo struct {
	ID                 string      `json:"id"`
	DisplayName        string      `json:"name"`
	RequiresCredential bool        `json:"requires_api_key"`
	Models             []ModelInfo `json:"models"`
}

// catalog is the static list of supported providers. Immutable at runtime.
var catalog = []ProviderInfo{
	{
		ID:                 "openai",
		DisplayName:        "OpenAI",
		RequiresCredential: true,
		Models: []ModelInfo{
			{ID: "gpt-4o", DisplayName: "GPT-4o", Description: "Most capable model, great for complex tasks", ContextLength: 128000},
			{ID: "gpt-4o-mini", DisplayName: "GPT-4o Mini", Description: "Fast and efficient for most tasks", ContextLength: 128000},
			{ID: "gpt-3.5-turbo", DisplayName: "GPT-3.5 Turbo", Description: "Fast and cost-effective", ContextLength: 16385},
		},
	},
	{
		ID:                 "anthropic",
		DisplayName:        "Anthropic",
		RequiresCredential: true,
		Models: []ModelInfo{
			{ID: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet", Description: "Most intelligent model", ContextLength: 200000},
			{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku", Description: "Fastest model", ContextLength: 200000},
		},
	},
	{
		ID:                 "google",
		DisplayName:        "Google",
		RequiresCredential: true,
		Models: []ModelInfo{
			{ID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash", Description: "Latest and fastest Gemini model", ContextLength: 1000000},
			{ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro", Description: "Most capable Gemini model", ContextLength: 2000000},
		},
	},
}

// Providers returns the static provider catalog.
func Providers() []ProviderInfo {
	return catalog
}

// Provider looks up a provider by id.
func Provider(id string) (ProviderInfo, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

// Model looks up a model within a provider.
func Model(providerID, modelID string) (ModelInfo, bool) {
	p, ok := Provider(providerID)
	if !ok {
		return ModelInfo{}, false
	}
	for _, m := range p.Models {
		if m.ID == modelID {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// defaultMaxTokens is the global ceiling fallback.
const defaultMaxTokens = 4096

// optimalMaxTokens maps (provider, model) to the output-token ceiling used on
// every call. The empty model key is the per-provider default. Callers never
// supply their own ceiling; oversized user-requested ceilings only waste
// quota.
var optimalMaxTokens = map[string]map[string]int{
	"openai": {
		"gpt-4o":        4096,
		"gpt-4o-mini":   4096,
		"gpt-3.5-turbo": 2048,
		"":              4096,
	},
	"google": {
		"gemini-2.0-flash": 8192,
		"gemini-1.5-pro":   8192,
		"":                 8192,
	},
	"anthropic": {
		"claude-3-5-sonnet-20241022": 4096,
		"claude-3-5-haiku-20241022":  4096,
		"":                           4096,
	},
}

// OptimalMaxTokens returns the output-token ceiling for a (provider, model)
// pair, falling back to the provider default and then to 4096.
func OptimalMaxTokens(providerID, modelID string) int {
	models, ok := optimalMaxTokens[providerID]
	if !ok {
		return defaultMaxTokens
	}
	if n, ok := models[modelID]; ok {
		return n
	}
	if n, ok := models[""]; ok {
		return n
	}
	return defaultMaxTokens
}

// ContextLength returns the model's context window, or 0 when unknown.
func ContextLength(providerID, modelID string) int {
	m, ok := Model(providerID, modelID)
	if !ok {
		return 0
	}
	return m.ContextLength
}
